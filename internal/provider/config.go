package provider

import (
	"fmt"
	"math"
	"strings"
)

// ParseConfig validates an expert's raw provider config and converts it to a
// ChatConfig. The map usually comes from JSON or YAML, so numbers may arrive as
// float64 or int. Both snake_case and camelCase keys are accepted.
func ParseConfig(raw map[string]any) (ChatConfig, error) {
	var cfg ChatConfig

	model, ok := lookup(raw, "model")
	if !ok || model == nil {
		return cfg, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	name, ok := model.(string)
	if !ok {
		return cfg, fmt.Errorf("%w: model must be a string, got %T", ErrInvalidConfig, model)
	}
	if strings.TrimSpace(name) == "" {
		return cfg, fmt.Errorf("%w: model cannot be empty", ErrInvalidConfig)
	}
	cfg.Model = name

	if v, ok := lookup(raw, "temperature"); ok && v != nil {
		f, err := toFloat("temperature", v)
		if err != nil {
			return cfg, err
		}
		if f < 0 || f > 2 {
			return cfg, fmt.Errorf("%w: temperature must be between 0 and 2, got %v", ErrInvalidConfig, f)
		}
		cfg.Temperature = &f
	}

	if v, ok := lookup(raw, "top_p", "topP"); ok && v != nil {
		f, err := toFloat("top_p", v)
		if err != nil {
			return cfg, err
		}
		if f <= 0 || f > 1 {
			return cfg, fmt.Errorf("%w: top_p must be in (0, 1], got %v", ErrInvalidConfig, f)
		}
		cfg.TopP = &f
	}

	if v, ok := lookup(raw, "max_tokens", "maxTokens"); ok && v != nil {
		f, err := toFloat("max_tokens", v)
		if err != nil {
			return cfg, err
		}
		if f != math.Trunc(f) || f < 1 {
			return cfg, fmt.Errorf("%w: max_tokens must be a positive integer, got %v", ErrInvalidConfig, v)
		}
		n := int(f)
		cfg.MaxTokens = &n
	}

	if v, ok := lookup(raw, "stop", "stop_sequences", "stopSequences"); ok && v != nil {
		stop, err := toStrings("stop", v)
		if err != nil {
			return cfg, err
		}
		cfg.Stop = stop
	}

	return cfg, nil
}

func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func toFloat(field string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidConfig, field, v)
	}
}

func toStrings(field string, v any) ([]string, error) {
	switch s := v.(type) {
	case string:
		return []string{s}, nil
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string, got %T", ErrInvalidConfig, field, i, item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a string or a list of strings, got %T", ErrInvalidConfig, field, v)
	}
}

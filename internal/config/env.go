package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/redis/go-redis/v9"
)

// Provider modes selected by COUNCIL_MODE.
const (
	ModeLive = "live"
	ModeMock = "mock"
)

// instanceNamePattern keeps instance names usable as one segment of a Redis key
// and as a DNS label: lowercase letters, digits and inner hyphens.
var instanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,61}[a-z0-9])?$`)

// Env is the process configuration read from environment variables.
type Env struct {
	InstanceName    string        `env:"COUNCIL_INSTANCE_NAME" envDefault:"default"`
	RedisURL        string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DatabaseURL     string        `env:"DATABASE_URL"` // Selects the Postgres store when set
	HTTPAddr        string        `env:"COUNCIL_HTTP_ADDR" envDefault:":8080"`
	ConfigPath      string        `env:"COUNCIL_CONFIG" envDefault:"council.yml"`
	Mode            string        `env:"COUNCIL_MODE" envDefault:"live"`
	APIToken        string        `env:"COUNCIL_API_TOKEN"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	AnthropicURL    string        `env:"ANTHROPIC_BASE_URL"`
	ProviderTimeout time.Duration `env:"COUNCIL_PROVIDER_TIMEOUT" envDefault:"60s"`
}

// LoadEnv parses and validates the process environment.
func LoadEnv() (*Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks values and combinations the tags cannot express.
func (e *Env) Validate() error {
	if e.InstanceName == "" {
		return fmt.Errorf("COUNCIL_INSTANCE_NAME cannot be empty")
	}
	if !instanceNamePattern.MatchString(e.InstanceName) {
		return fmt.Errorf("invalid COUNCIL_INSTANCE_NAME: %q (use up to 63 lowercase letters, digits and hyphens, not starting or ending with a hyphen)", e.InstanceName)
	}

	if e.Mode != ModeLive && e.Mode != ModeMock {
		return fmt.Errorf("invalid COUNCIL_MODE: %s (must be '%s' or '%s')", e.Mode, ModeLive, ModeMock)
	}

	if _, err := redis.ParseURL(e.RedisURL); err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	if e.ProviderTimeout <= 0 {
		return fmt.Errorf("COUNCIL_PROVIDER_TIMEOUT must be positive, got %s", e.ProviderTimeout)
	}

	return nil
}

// MockMode reports whether every provider is replaced by the scripted mock.
func (e *Env) MockMode() bool {
	return e.Mode == ModeMock
}

// RedisOptions parses REDIS_URL.
func (e *Env) RedisOptions() (*redis.Options, error) {
	return redis.ParseURL(e.RedisURL)
}

// Credentials returns the provider endpoints and keys.
func (e *Env) Credentials() provider.Credentials {
	return provider.Credentials{
		OpenAIAPIKey:     e.OpenAIAPIKey,
		OpenAIBaseURL:    e.OpenAIBaseURL,
		AnthropicAPIKey:  e.AnthropicAPIKey,
		AnthropicBaseURL: e.AnthropicURL,
		Timeout:          e.ProviderTimeout,
	}
}

package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like the
// roster or an expert's provider config are JSON-encoded into single hash
// fields; booleans and integers are written as their decimal text.

// SessionToHash converts a Session to a Redis hash. The resolved roster
// (Experts) is not stored; only the ordered ExpertIDs are.
func SessionToHash(s *Session) (map[string]interface{}, error) {
	roster := s.ExpertIDs
	if roster == nil {
		roster = []string{}
	}
	rosterJSON, err := json.Marshal(roster)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expert ids: %w", err)
	}

	return map[string]interface{}{
		"id":                s.ID,
		"problem_statement": s.ProblemStatement,
		"expert_ids":        string(rosterJSON),
		"status":            string(s.Status),
		"max_messages":      strconv.Itoa(s.MaxMessages),
		"consensus_reached": strconv.FormatBool(s.ConsensusReached),
		"created_at_ms":     strconv.FormatInt(s.CreatedAtMs, 10),
		"updated_at_ms":     strconv.FormatInt(s.UpdatedAtMs, 10),
	}, nil
}

// HashToSession converts a Redis hash back to a Session (without resolved experts).
func HashToSession(hash map[string]string) (*Session, error) {
	maxMessages, err := strconv.Atoi(hash["max_messages"])
	if err != nil {
		return nil, fmt.Errorf("invalid max_messages field: %w", err)
	}

	var roster []string
	if rosterJSON := hash["expert_ids"]; rosterJSON != "" {
		if err := json.Unmarshal([]byte(rosterJSON), &roster); err != nil {
			return nil, fmt.Errorf("failed to unmarshal expert_ids: %w", err)
		}
	}
	if roster == nil {
		roster = []string{}
	}

	consensus, err := parseBoolField(hash, "consensus_reached")
	if err != nil {
		return nil, err
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &Session{
		ID:               hash["id"],
		ProblemStatement: hash["problem_statement"],
		ExpertIDs:        roster,
		Status:           SessionStatus(hash["status"]),
		MaxMessages:      maxMessages,
		ConsensusReached: consensus,
		CreatedAtMs:      createdAtMs,
		UpdatedAtMs:      updatedAtMs,
	}, nil
}

// ExpertToHash converts an Expert to a Redis hash. Config is JSON-encoded.
func ExpertToHash(e *Expert) (map[string]interface{}, error) {
	cfg := e.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expert config: %w", err)
	}

	return map[string]interface{}{
		"id":            e.ID,
		"name":          e.Name,
		"specialty":     e.Specialty,
		"system_prompt": e.SystemPrompt,
		"provider":      e.Provider,
		"config":        string(cfgJSON),
		"created_at_ms": strconv.FormatInt(e.CreatedAtMs, 10),
	}, nil
}

// HashToExpert converts a Redis hash back to an Expert.
// Numbers inside Config decode as float64, as with any JSON document.
func HashToExpert(hash map[string]string) (*Expert, error) {
	cfg := map[string]any{}
	if cfgJSON := hash["config"]; cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Expert{
		ID:           hash["id"],
		Name:         hash["name"],
		Specialty:    hash["specialty"],
		SystemPrompt: hash["system_prompt"],
		Provider:     hash["provider"],
		Config:       cfg,
		CreatedAtMs:  createdAtMs,
	}, nil
}

// MessageToHash converts a Message to a Redis hash.
func MessageToHash(m *Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              m.ID,
		"session_id":      m.SessionID,
		"expert_id":       m.ExpertID,
		"content":         m.Content,
		"role":            string(m.Role),
		"is_intervention": strconv.FormatBool(m.IsIntervention),
		"submitted_by":    m.SubmittedBy,
		"sequence":        strconv.FormatInt(m.Sequence, 10),
		"created_at_ms":   strconv.FormatInt(m.CreatedAtMs, 10),
	}
}

// HashToMessage converts a Redis hash back to a Message.
func HashToMessage(hash map[string]string) (*Message, error) {
	sequence, err := strconv.ParseInt(hash["sequence"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sequence field: %w", err)
	}

	isIntervention, err := parseBoolField(hash, "is_intervention")
	if err != nil {
		return nil, err
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Message{
		ID:             hash["id"],
		SessionID:      hash["session_id"],
		ExpertID:       hash["expert_id"],
		Content:        hash["content"],
		Role:           Role(hash["role"]),
		IsIntervention: isIntervention,
		SubmittedBy:    hash["submitted_by"],
		Sequence:       sequence,
		CreatedAtMs:    createdAtMs,
	}, nil
}

// parseBoolField reads an optional boolean hash field; missing means false.
func parseBoolField(hash map[string]string, field string) (bool, error) {
	raw, ok := hash[field]
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return v, nil
}

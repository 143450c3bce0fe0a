package blackboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one problem statement together with the ordered roster of experts
// discussing it. Roster order is join order, which is also turn order.
type Session struct {
	ID               string        `json:"id"`                // UUID
	ProblemStatement string        `json:"problem_statement"` // Free text the council is asked to solve
	ExpertIDs        []string      `json:"expert_ids"`        // Roster in join order
	Experts          []*Expert     `json:"experts,omitempty"` // Roster resolved by LoadSession, same order as ExpertIDs
	Status           SessionStatus `json:"status"`
	MaxMessages      int           `json:"max_messages"` // Hard cap on persisted messages
	ConsensusReached bool          `json:"consensus_reached"`
	CreatedAtMs      int64         `json:"created_at_ms"`
	UpdatedAtMs      int64         `json:"updated_at_ms"`
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// SessionStatusPending is a created session whose discussion has not started
	SessionStatusPending SessionStatus = "PENDING"

	// SessionStatusActive is a session with a running discussion loop
	SessionStatusActive SessionStatus = "ACTIVE"

	// SessionStatusCompleted is a discussion that ended on consensus or on the message cap
	SessionStatusCompleted SessionStatus = "COMPLETED"

	// SessionStatusCancelled is a discussion aborted by a fatal error, or a pending session cancelled before start
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// Expert is a configured persona bound to one LLM provider and model.
// Experts are read-only while a discussion runs.
type Expert struct {
	ID           string         `json:"id"`            // Handle, e.g. "ada"
	Name         string         `json:"name"`          // Display name used in prompts and transcripts
	Specialty    string         `json:"specialty"`     // Short description shown to the other experts
	SystemPrompt string         `json:"system_prompt"` // Persona prompt, sent verbatim
	Provider     string         `json:"provider"`      // Provider identifier (openai, anthropic, mock)
	Config       map[string]any `json:"config"`        // Provider-specific settings; "model" is required
	CreatedAtMs  int64          `json:"created_at_ms"`
}

// Message is one entry of a discussion transcript. Messages are append-only and
// totally ordered within their session by Sequence.
type Message struct {
	ID             string `json:"id"`                     // UUID
	SessionID      string `json:"session_id"`             // Owning session
	ExpertID       string `json:"expert_id,omitempty"`    // Empty for user or system messages
	Content        string `json:"content"`                // Message text
	Role           Role   `json:"role"`                   // USER, ASSISTANT or SYSTEM
	IsIntervention bool   `json:"is_intervention"`        // True for user interventions drained into the transcript
	SubmittedBy    string `json:"submitted_by,omitempty"` // Submitter of an intervention, if known
	Sequence       int64  `json:"sequence"`               // Assigned by the store on creation, starts at 1
	CreatedAtMs    int64  `json:"created_at_ms"`
}

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks messages submitted by a human, including interventions
	RoleUser Role = "USER"

	// RoleAssistant marks messages produced by an expert
	RoleAssistant Role = "ASSISTANT"

	// RoleSystem marks messages injected by the system
	RoleSystem Role = "SYSTEM"
)

// Intervention is a user-submitted message waiting to be drained into a session
// between two expert turns. It is never stored as its own record.
type Intervention struct {
	Content       string `json:"content"`
	SubmitterID   string `json:"submitter_id,omitempty"`
	SubmittedAtMs int64  `json:"submitted_at_ms"`
}

// NewSession builds a PENDING session with a fresh id.
func NewSession(problemStatement string, expertIDs []string, maxMessages int) *Session {
	now := time.Now().UnixMilli()
	roster := make([]string, len(expertIDs))
	copy(roster, expertIDs)

	return &Session{
		ID:               uuid.New().String(),
		ProblemStatement: problemStatement,
		ExpertIDs:        roster,
		Status:           SessionStatusPending,
		MaxMessages:      maxMessages,
		CreatedAtMs:      now,
		UpdatedAtMs:      now,
	}
}

// NewExpertMessage builds an ASSISTANT message authored by an expert.
func NewExpertMessage(sessionID, expertID, content string) *Message {
	return &Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		ExpertID:    expertID,
		Content:     content,
		Role:        RoleAssistant,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// NewInterventionMessage builds the USER message an intervention is drained into.
func NewInterventionMessage(sessionID string, in Intervention) *Message {
	return &Message{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		Content:        in.Content,
		Role:           RoleUser,
		IsIntervention: true,
		SubmittedBy:    in.SubmitterID,
		CreatedAtMs:    time.Now().UnixMilli(),
	}
}

// ExpertByID returns the roster member with the given id, or nil.
func (s *Session) ExpertByID(id string) *Expert {
	for _, e := range s.Experts {
		if e != nil && e.ID == id {
			return e
		}
	}
	return nil
}

// Validate checks if the Session has valid field values.
func (s *Session) Validate() error {
	if !isValidUUID(s.ID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}

	if strings.TrimSpace(s.ProblemStatement) == "" {
		return fmt.Errorf("problem statement cannot be empty")
	}

	if err := s.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if s.MaxMessages < 1 {
		return fmt.Errorf("invalid max_messages: must be >= 1, got %d", s.MaxMessages)
	}

	seen := make(map[string]bool, len(s.ExpertIDs))
	for i, id := range s.ExpertIDs {
		if err := validateExpertID(id); err != nil {
			return fmt.Errorf("invalid expert at index %d: %w", i, err)
		}
		if seen[id] {
			return fmt.Errorf("expert %q appears twice in the roster", id)
		}
		seen[id] = true
	}

	return nil
}

// Validate checks if the SessionStatus is a valid enum value.
func (st SessionStatus) Validate() error {
	switch st {
	case SessionStatusPending, SessionStatusActive, SessionStatusCompleted, SessionStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown session status: %q", st)
	}
}

// IsTerminal reports whether no further transitions are possible.
func (st SessionStatus) IsTerminal() bool {
	return st == SessionStatusCompleted || st == SessionStatusCancelled
}

// CanTransition reports whether a session may move from one status to another.
//
//	PENDING -> ACTIVE | CANCELLED
//	ACTIVE  -> COMPLETED | CANCELLED
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case SessionStatusPending:
		return to == SessionStatusActive || to == SessionStatusCancelled
	case SessionStatusActive:
		return to == SessionStatusCompleted || to == SessionStatusCancelled
	default:
		return false
	}
}

// Validate checks if the Expert has valid field values.
func (e *Expert) Validate() error {
	if err := validateExpertID(e.ID); err != nil {
		return err
	}

	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("expert name cannot be empty")
	}

	if strings.TrimSpace(e.Provider) == "" {
		return fmt.Errorf("expert provider cannot be empty")
	}

	return nil
}

// Validate checks if the Message has valid field values.
func (m *Message) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid message ID: not a valid UUID")
	}

	if !isValidUUID(m.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}

	if err := m.Role.Validate(); err != nil {
		return fmt.Errorf("invalid role: %w", err)
	}

	if m.Role == RoleAssistant && m.ExpertID == "" {
		return fmt.Errorf("assistant message must name its expert")
	}

	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("message content cannot be empty")
	}

	return nil
}

// Validate checks if the Role is a valid enum value.
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return fmt.Errorf("unknown role: %q", r)
	}
}

// validateExpertID rejects ids that cannot be embedded in a Redis key.
func validateExpertID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("expert ID cannot be empty")
	}
	if strings.ContainsAny(id, ": \t\n") {
		return fmt.Errorf("invalid expert ID %q: must not contain ':' or whitespace", id)
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

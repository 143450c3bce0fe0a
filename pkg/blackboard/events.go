package blackboard

import "time"

// EventType discriminates the variants of a discussion Event.
type EventType string

const (
	// EventMessageCreated is emitted after a message has been persisted
	EventMessageCreated EventType = "message_created"

	// EventExpertTurnStart is emitted before an expert is asked for a reply
	EventExpertTurnStart EventType = "expert_turn_start"

	// EventConsensusReached is emitted when a reply contains an agreement phrase
	EventConsensusReached EventType = "consensus_reached"

	// EventSessionEnded is always the last event of a run
	EventSessionEnded EventType = "session_ended"

	// EventError reports a failed turn or an aborted run
	EventError EventType = "error"
)

// EndReason says why a discussion run stopped.
type EndReason string

const (
	EndReasonConsensus   EndReason = "consensus"
	EndReasonMaxMessages EndReason = "max_messages"
	EndReasonCancelled   EndReason = "cancelled"
)

// Event is one progress notification of a discussion run. Exactly one of the
// payload fields is set, selected by Type. Events are transient: they travel on
// the session's event channel and are never stored.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"session_id"`
	TimestampMs int64     `json:"timestamp_ms"`

	Message   *Message    `json:"message,omitempty"`    // MessageCreated; final message for ConsensusReached
	TurnStart *TurnStart  `json:"turn_start,omitempty"` // ExpertTurnStart
	Ended     *SessionEnd `json:"ended,omitempty"`      // SessionEnded
	Failure   *Failure    `json:"error,omitempty"`      // Error
}

// TurnStart is the payload of EventExpertTurnStart.
type TurnStart struct {
	ExpertID   string `json:"expert_id"`
	ExpertName string `json:"expert_name"`
	TurnNumber int    `json:"turn_number"` // 1-based
}

// SessionEnd is the payload of EventSessionEnded.
type SessionEnd struct {
	Reason           EndReason `json:"reason"`
	ConsensusReached bool      `json:"consensus_reached"`
	MessageCount     int       `json:"message_count"`
}

// Failure is the payload of EventError.
type Failure struct {
	Message  string `json:"message"`
	ExpertID string `json:"expert_id,omitempty"`
}

func newEvent(t EventType, sessionID string) Event {
	return Event{Type: t, SessionID: sessionID, TimestampMs: time.Now().UnixMilli()}
}

// NewMessageCreatedEvent announces a persisted message.
func NewMessageCreatedEvent(msg *Message) Event {
	ev := newEvent(EventMessageCreated, msg.SessionID)
	ev.Message = msg
	return ev
}

// NewExpertTurnStartEvent announces the expert about to speak.
func NewExpertTurnStartEvent(sessionID string, expert *Expert, turnNumber int) Event {
	ev := newEvent(EventExpertTurnStart, sessionID)
	ev.TurnStart = &TurnStart{ExpertID: expert.ID, ExpertName: expert.Name, TurnNumber: turnNumber}
	return ev
}

// NewConsensusReachedEvent carries the message that reached consensus.
func NewConsensusReachedEvent(final *Message) Event {
	ev := newEvent(EventConsensusReached, final.SessionID)
	ev.Message = final
	return ev
}

// NewSessionEndedEvent closes a run.
func NewSessionEndedEvent(sessionID string, reason EndReason, consensusReached bool, messageCount int) Event {
	ev := newEvent(EventSessionEnded, sessionID)
	ev.Ended = &SessionEnd{Reason: reason, ConsensusReached: consensusReached, MessageCount: messageCount}
	return ev
}

// NewErrorEvent reports a failure, optionally scoped to one expert.
func NewErrorEvent(sessionID, message, expertID string) Event {
	ev := newEvent(EventError, sessionID)
	ev.Failure = &Failure{Message: message, ExpertID: expertID}
	return ev
}

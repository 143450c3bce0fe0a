// Package transcript renders sessions and their discussions for the CLI:
// session tables, single-session detail and filtered transcripts as text,
// JSONL or Markdown.
package transcript

import (
	"context"
	"fmt"
	"io"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// Reader is the part of blackboard.Store the renderers need.
type Reader interface {
	LoadSession(ctx context.Context, sessionID string) (*blackboard.Session, error)
	ListSessions(ctx context.Context) ([]*blackboard.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]*blackboard.Message, error)
}

// SessionNotFoundError distinguishes a missing session from other failures.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session with ID '%s' not found", e.SessionID)
}

// IsNotFound returns true if the error is a SessionNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*SessionNotFoundError)
	return ok
}

// ListSessions writes every session, newest first, optionally restricted to
// one status. Markdown is not supported for lists.
func ListSessions(ctx context.Context, store Reader, instanceName string, status blackboard.SessionStatus, format OutputFormat, w io.Writer) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if status != "" {
		kept := sessions[:0]
		for _, s := range sessions {
			if s.Status == status {
				kept = append(kept, s)
			}
		}
		sessions = kept
	}

	switch format {
	case FormatText:
		FormatSessionTable(w, sessions, instanceName)
		return nil
	case FormatJSONL:
		return WriteJSONL(w, sessions)
	default:
		return fmt.Errorf("output format %s is not supported for session lists", format)
	}
}

// ShowSession writes one session, roster resolved, as indented JSON.
func ShowSession(ctx context.Context, store Reader, sessionID string, w io.Writer) error {
	session, err := loadSession(ctx, store, sessionID)
	if err != nil {
		return err
	}
	return FormatSingleJSON(w, session)
}

// WriteTranscript writes the messages of a session that pass the filter.
func WriteTranscript(ctx context.Context, store Reader, sessionID string, filter *Filter, format OutputFormat, w io.Writer) error {
	session, err := loadSession(ctx, store, sessionID)
	if err != nil {
		return err
	}

	messages, err := store.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	messages = filter.Apply(messages)

	switch format {
	case FormatText:
		FormatTranscriptText(w, session, messages)
		return nil
	case FormatJSONL:
		return WriteJSONL(w, messages)
	case FormatMarkdown:
		FormatTranscriptMarkdown(w, session, messages)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func loadSession(ctx context.Context, store Reader, sessionID string) (*blackboard.Session, error) {
	session, err := store.LoadSession(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return nil, &SessionNotFoundError{SessionID: sessionID}
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	return session, nil
}

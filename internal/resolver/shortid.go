// Package resolver expands the short session ids accepted by the CLI.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/google/uuid"
)

// MinShortIDLength is the shortest prefix accepted.
const MinShortIDLength = 6

// maxListed caps the matches printed for an ambiguous prefix.
const maxListed = 10

// SessionLister is the part of blackboard.Store the resolver reads.
type SessionLister interface {
	LoadSession(ctx context.Context, sessionID string) (*blackboard.Session, error)
	ListSessions(ctx context.Context) ([]*blackboard.Session, error)
}

// ResolveSessionID expands a short id prefix to a full session id. A full
// UUID is checked for existence and returned unchanged.
func ResolveSessionID(ctx context.Context, store SessionLister, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))

	if _, err := uuid.Parse(shortID); err == nil && len(shortID) == 36 {
		if _, err := store.LoadSession(ctx, shortID); err != nil {
			if blackboard.IsNotFound(err) {
				return "", &NotFoundError{ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify session: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for session: %w", err)
	}

	var matches []string
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, shortID) {
			matches = append(matches, s.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no session matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no session found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several sessions matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d sessions", e.ShortID, len(e.Matches))
}

// Describe lists the matching ids, up to ten, for display under an error title.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prefix '%s' matches %d sessions:\n", e.ShortID, len(e.Matches))

	shown := min(len(e.Matches), maxListed)
	for _, id := range e.Matches[:shown] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(e.Matches) > shown {
		fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-shown)
	}
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}

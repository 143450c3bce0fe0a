package blackboard

import "context"

// Store is the persistence surface shared by the discussion engine, the HTTP
// service and the CLI. The Redis Client implements it; so does the Postgres
// store in internal/pgstore.
//
// Implementations report failures with the package's error taxonomy:
// ErrNotFound, ErrInvalidState, ErrConflict and ErrUnavailable.
type Store interface {
	// PutExpert creates or replaces an expert.
	PutExpert(ctx context.Context, e *Expert) error
	GetExpert(ctx context.Context, expertID string) (*Expert, error)
	ListExperts(ctx context.Context) ([]*Expert, error)

	// CreateSession stores a new session. Every roster id must name an existing expert.
	CreateSession(ctx context.Context, s *Session) error
	// LoadSession returns the session with its roster resolved in join order.
	LoadSession(ctx context.Context, sessionID string) (*Session, error)
	// ListSessions returns all sessions, newest first, without resolved rosters.
	ListSessions(ctx context.Context) ([]*Session, error)
	// TransitionSessionStatus moves a session from one status to another
	// atomically. It fails with ErrInvalidState unless the stored status is
	// from. A nil consensusReached leaves the stored flag untouched.
	TransitionSessionStatus(ctx context.Context, sessionID string, from, to SessionStatus, consensusReached *bool) error

	// CreateMessage appends a message and assigns its Sequence.
	CreateMessage(ctx context.Context, m *Message) error
	CountMessages(ctx context.Context, sessionID string) (int, error)
	// LatestMessages returns up to n most recent messages, oldest first.
	LatestMessages(ctx context.Context, sessionID string, n int) ([]*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	Ping(ctx context.Context) error
	Close() error
}

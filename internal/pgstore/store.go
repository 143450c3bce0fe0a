// Package pgstore is a Postgres implementation of blackboard.Store. It keeps
// sessions, experts and transcripts in tables instead of Redis hashes; events
// and interventions still travel over Redis Pub/Sub.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const initTimeout = 15 * time.Second

// Store reads and writes one instance's records. Rows of other instances
// sharing the database are invisible to it.
type Store struct {
	pool         *pgxpool.Pool
	instanceName string
}

var _ blackboard.Store = (*Store)(nil)

// New wraps an existing pool.
func New(pool *pgxpool.Pool, instanceName string) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Store{pool: pool, instanceName: instanceName}, nil
}

// Open connects to databaseURL, verifies the connection and migrates the schema.
func Open(ctx context.Context, databaseURL, instanceName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}

	store, err := New(pool, instanceName)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping database", s.pool.Ping(ctx))
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const expertColumns = `id, name, specialty, system_prompt, provider, config, created_at_ms`

func scanExpert(row pgx.Row) (*blackboard.Expert, error) {
	var e blackboard.Expert
	if err := row.Scan(&e.ID, &e.Name, &e.Specialty, &e.SystemPrompt, &e.Provider, &e.Config, &e.CreatedAtMs); err != nil {
		return nil, err
	}
	if e.Config == nil {
		e.Config = map[string]any{}
	}
	return &e, nil
}

// PutExpert creates or replaces an expert.
func (s *Store) PutExpert(ctx context.Context, e *blackboard.Expert) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid expert: %w", err)
	}
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = time.Now().UnixMilli()
	}
	config := e.Config
	if config == nil {
		config = map[string]any{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO experts (instance, id, name, specialty, system_prompt, provider, config, created_at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (instance, id) DO UPDATE SET
		   name = EXCLUDED.name,
		   specialty = EXCLUDED.specialty,
		   system_prompt = EXCLUDED.system_prompt,
		   provider = EXCLUDED.provider,
		   config = EXCLUDED.config`,
		s.instanceName, e.ID, e.Name, e.Specialty, e.SystemPrompt, e.Provider, config, e.CreatedAtMs)
	return mapError("write expert", err)
}

// GetExpert retrieves an expert by id.
func (s *Store) GetExpert(ctx context.Context, expertID string) (*blackboard.Expert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+expertColumns+` FROM experts WHERE instance = $1 AND id = $2`,
		s.instanceName, expertID)
	e, err := scanExpert(row)
	if err != nil {
		return nil, mapError("read expert "+expertID, err)
	}
	return e, nil
}

// ListExperts returns every expert sorted by id.
func (s *Store) ListExperts(ctx context.Context) ([]*blackboard.Expert, error) {
	return s.queryExperts(ctx,
		`SELECT `+expertColumns+` FROM experts WHERE instance = $1 ORDER BY id`,
		s.instanceName)
}

func (s *Store) queryExperts(ctx context.Context, sql string, args ...any) ([]*blackboard.Expert, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("list experts", err)
	}
	defer rows.Close()

	experts := []*blackboard.Expert{}
	for rows.Next() {
		e, err := scanExpert(rows)
		if err != nil {
			return nil, mapError("read expert", err)
		}
		experts = append(experts, e)
	}
	return experts, mapError("list experts", rows.Err())
}

// fetchExperts loads experts in roster order and reports ids that do not exist.
func (s *Store) fetchExperts(ctx context.Context, ids []string) ([]*blackboard.Expert, []string, error) {
	if len(ids) == 0 {
		return []*blackboard.Expert{}, nil, nil
	}

	found, err := s.queryExperts(ctx,
		`SELECT `+expertColumns+` FROM experts WHERE instance = $1 AND id = ANY($2)`,
		s.instanceName, ids)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*blackboard.Expert, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}

	experts := make([]*blackboard.Expert, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			experts = append(experts, e)
		} else {
			missing = append(missing, id)
		}
	}
	return experts, missing, nil
}

const sessionColumns = `id, problem_statement, expert_ids, status, max_messages, consensus_reached, created_at_ms, updated_at_ms`

func scanSession(row pgx.Row) (*blackboard.Session, error) {
	var sess blackboard.Session
	var status string
	if err := row.Scan(&sess.ID, &sess.ProblemStatement, &sess.ExpertIDs, &status, &sess.MaxMessages,
		&sess.ConsensusReached, &sess.CreatedAtMs, &sess.UpdatedAtMs); err != nil {
		return nil, err
	}
	sess.Status = blackboard.SessionStatus(status)
	if sess.ExpertIDs == nil {
		sess.ExpertIDs = []string{}
	}
	return &sess, nil
}

// CreateSession stores a new session. Returns ErrConflict if the id is taken
// and ErrNotFound if a roster id names no expert.
func (s *Store) CreateSession(ctx context.Context, sess *blackboard.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	_, missing, err := s.fetchExperts(ctx, sess.ExpertIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("roster references unknown expert %s: %w", missing[0], blackboard.ErrNotFound)
	}

	roster := sess.ExpertIDs
	if roster == nil {
		roster = []string{}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, instance, problem_statement, expert_ids, status, max_messages, consensus_reached, created_at_ms, updated_at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, s.instanceName, sess.ProblemStatement, roster, string(sess.Status), sess.MaxMessages,
		sess.ConsensusReached, sess.CreatedAtMs, sess.UpdatedAtMs)
	return mapError("write session "+sess.ID, err)
}

func (s *Store) getSession(ctx context.Context, sessionID string) (*blackboard.Session, error) {
	if !isUUID(sessionID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, blackboard.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE instance = $1 AND id = $2`,
		s.instanceName, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, mapError("read session "+sessionID, err)
	}
	return sess, nil
}

// LoadSession retrieves a session and resolves its roster in join order.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*blackboard.Session, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	experts, missing, err := s.fetchExperts(ctx, sess.ExpertIDs)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("session %s roster references unknown expert %s: %w", sessionID, missing[0], blackboard.ErrNotFound)
	}
	sess.Experts = experts
	return sess, nil
}

// ListSessions returns all sessions of this instance, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*blackboard.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE instance = $1 ORDER BY created_at_ms DESC, id`,
		s.instanceName)
	if err != nil {
		return nil, mapError("list sessions", err)
	}
	defer rows.Close()

	sessions := []*blackboard.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, mapError("read session", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, mapError("list sessions", rows.Err())
}

// TransitionSessionStatus moves a session from one status to another. The
// UPDATE only matches a row still in status from, so of two concurrent callers
// moving a session out of PENDING exactly one succeeds.
func (s *Store) TransitionSessionStatus(ctx context.Context, sessionID string, from, to blackboard.SessionStatus, consensusReached *bool) error {
	if err := to.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if !blackboard.CanTransition(from, to) {
		return fmt.Errorf("session %s cannot move from %s to %s: %w", sessionID, from, to, blackboard.ErrInvalidState)
	}

	if !isUUID(sessionID) {
		return fmt.Errorf("session %s: %w", sessionID, blackboard.ErrNotFound)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = $3,
		     updated_at_ms = $4,
		     consensus_reached = COALESCE($5, consensus_reached)
		 WHERE instance = $1 AND id = $2 AND status = $6`,
		s.instanceName, sessionID, string(to), time.Now().UnixMilli(), consensusReached, string(from))
	if err != nil {
		return mapError("update session status", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return fmt.Errorf("session %s is %s, expected %s: %w", sessionID, current.Status, from, blackboard.ErrInvalidState)
}

const messageColumns = `id, session_id, expert_id, content, role, is_intervention, submitted_by, sequence, created_at_ms`

func scanMessage(row pgx.Row) (*blackboard.Message, error) {
	var m blackboard.Message
	var role string
	if err := row.Scan(&m.ID, &m.SessionID, &m.ExpertID, &m.Content, &role, &m.IsIntervention,
		&m.SubmittedBy, &m.Sequence, &m.CreatedAtMs); err != nil {
		return nil, err
	}
	m.Role = blackboard.Role(role)
	return &m, nil
}

// CreateMessage appends a message and assigns the next per-session sequence
// number. The session row is locked while the sequence is allocated.
func (s *Store) CreateMessage(ctx context.Context, m *blackboard.Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if m.CreatedAtMs == 0 {
		m.CreatedAtMs = time.Now().UnixMilli()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx,
			`SELECT id::text FROM sessions WHERE instance = $1 AND id = $2 FOR UPDATE`,
			s.instanceName, m.SessionID).Scan(&locked); err != nil {
			return mapError("read session "+m.SessionID, err)
		}

		var seq int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE session_id = $1`,
			m.SessionID).Scan(&seq); err != nil {
			return mapError("allocate message sequence", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, session_id, expert_id, content, role, is_intervention, submitted_by, sequence, created_at_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, m.SessionID, m.ExpertID, m.Content, string(m.Role), m.IsIntervention, m.SubmittedBy, seq, m.CreatedAtMs); err != nil {
			return mapError("write message "+m.ID, err)
		}

		m.Sequence = seq
		return nil
	})
	if err != nil {
		m.Sequence = 0
		if isMapped(err) {
			return err
		}
		return mapError("write message", err)
	}
	return nil
}

// CountMessages returns the number of persisted messages in a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	if !isUUID(sessionID) {
		return 0, nil
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, mapError("count messages", err)
	}
	return n, nil
}

// LatestMessages returns up to n most recent messages, oldest first.
func (s *Store) LatestMessages(ctx context.Context, sessionID string, n int) ([]*blackboard.Message, error) {
	if n <= 0 || !isUUID(sessionID) {
		return []*blackboard.Message{}, nil
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM (
		   SELECT `+messageColumns+` FROM messages WHERE session_id = $1 ORDER BY sequence DESC LIMIT $2
		 ) latest ORDER BY sequence ASC`,
		sessionID, n)
}

// ListMessages returns the full transcript of a session in order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*blackboard.Message, error) {
	if !isUUID(sessionID) {
		return []*blackboard.Message{}, nil
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = $1 ORDER BY sequence ASC`,
		sessionID)
}

func (s *Store) queryMessages(ctx context.Context, sql string, args ...any) ([]*blackboard.Message, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("read messages", err)
	}
	defer rows.Close()

	messages := []*blackboard.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapError("read message", err)
		}
		messages = append(messages, m)
	}
	return messages, mapError("read messages", rows.Err())
}

package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS experts (
		instance TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		specialty TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		config JSONB NOT NULL DEFAULT '{}',
		created_at_ms BIGINT NOT NULL,
		PRIMARY KEY (instance, id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		instance TEXT NOT NULL,
		problem_statement TEXT NOT NULL,
		expert_ids JSONB NOT NULL DEFAULT '[]',
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'ACTIVE', 'COMPLETED', 'CANCELLED')),
		max_messages INTEGER NOT NULL CHECK (max_messages >= 1),
		consensus_reached BOOLEAN NOT NULL DEFAULT FALSE,
		created_at_ms BIGINT NOT NULL,
		updated_at_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_instance_created ON sessions (instance, created_at_ms DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		expert_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		role TEXT NOT NULL,
		is_intervention BOOLEAN NOT NULL DEFAULT FALSE,
		submitted_by TEXT NOT NULL DEFAULT '',
		sequence BIGINT NOT NULL,
		created_at_ms BIGINT NOT NULL,
		UNIQUE (session_id, sequence)
	)`,
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i+1, err)
		}
	}
	return nil
}

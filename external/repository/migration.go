package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresMigrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE session_status AS ENUM ('running', 'completed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		languages TEXT[] NOT NULL DEFAULT '{}',
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status session_status NOT NULL DEFAULT 'running',
		stop_reason TEXT NOT NULL DEFAULT '',
		segment_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_running ON sessions (status) WHERE status = 'running'`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_conversation ON sessions (conversation_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq BIGINT NOT NULL,
		content TEXT NOT NULL,
		corrected_content TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		offset_ms BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (session_id, seq)
	)`,
}

var sqliteMigrationStatements = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		languages TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed')),
		stop_reason TEXT NOT NULL DEFAULT '',
		segment_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_conversation ON sessions (conversation_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		corrected_content TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		offset_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
}

func RunPostgresMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range postgresMigrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func RunSQLiteMigration(ctx context.Context, db *sql.DB) error {
	for _, s := range sqliteMigrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

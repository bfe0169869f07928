package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/repository"
	_ "modernc.org/sqlite"
)

// SQLiteRepository stores timestamps as unix milliseconds and languages as a
// comma separated list.
type SQLiteRepository struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writers; one connection also keeps an
	// in-memory database alive for the life of the pool.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunSQLiteMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, conversation_id, languages, started_at, status) VALUES (?, ?, ?, ?, 'running')`,
		input.ID, input.ConversationID, strings.Join(input.Languages, ","), input.StartedAt.UnixMilli()); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return r.GetSession(ctx, input.ID)
}

func (r *SQLiteRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = ?, stop_reason = ?, segment_count = ? WHERE id = ?`,
		input.EndedAt.UnixMilli(), input.StopReason, input.SegmentCount, input.SessionID)
	return err
}

func (r *SQLiteRepository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, languages, started_at, ended_at, status, stop_reason, segment_count
		 FROM sessions WHERE id = ?`,
		sessionID)

	var (
		s         repository.Session
		languages string
		startedAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.ConversationID, &languages, &startedAt, &endedAt, &s.Status, &s.StopReason, &s.SegmentCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if languages != "" {
		s.Languages = strings.Split(languages, ",")
	}
	s.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		s.EndedAt = &t
	}
	return &s, nil
}

func (r *SQLiteRepository) CloseOrphanSessions(ctx context.Context, endedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = ?, stop_reason = 'orphaned' WHERE status = 'running'`,
		endedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transcript_segments (session_id, seq, content, language, offset_ms, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		input.SessionID, input.Seq, input.Content, input.Language, input.Offset.Milliseconds(), input.Duration.Milliseconds(), time.Now().UnixMilli())
	return err
}

func (r *SQLiteRepository) UpdateSegmentCorrection(ctx context.Context, input repository.UpdateSegmentCorrectionInput) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transcript_segments SET corrected_content = ? WHERE session_id = ? AND seq = ?`,
		input.CorrectedContent, input.SessionID, input.Seq)
	return err
}

func (r *SQLiteRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, seq, content, corrected_content, language, offset_ms, duration_ms, created_at
		 FROM transcript_segments WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var list []repository.TranscriptSegment
	for rows.Next() {
		var (
			seg                             repository.TranscriptSegment
			offsetMS, durationMS, createdAt int64
		)
		if err := rows.Scan(&seg.SessionID, &seg.Seq, &seg.Content, &seg.CorrectedContent, &seg.Language, &offsetMS, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Offset = time.Duration(offsetMS) * time.Millisecond
		seg.Duration = time.Duration(durationMS) * time.Millisecond
		seg.CreatedAt = time.UnixMilli(createdAt)
		list = append(list, seg)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

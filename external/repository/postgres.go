package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	languages := input.Languages
	if languages == nil {
		languages = []string{}
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, conversation_id, languages, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING id, conversation_id, languages, started_at, ended_at, status, stop_reason, segment_count`,
		input.ID, input.ConversationID, languages, input.StartedAt)
	return scanPostgresSession(row)
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = $2, stop_reason = $3, segment_count = $4 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.StopReason, input.SegmentCount)
	return err
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, conversation_id, languages, started_at, ended_at, status, stop_reason, segment_count
		 FROM sessions WHERE id = $1`,
		sessionID)
	s, err := scanPostgresSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrSessionNotFound
	}
	return s, err
}

func (r *PostgresRepository) CloseOrphanSessions(ctx context.Context, endedAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = $1, stop_reason = 'orphaned' WHERE status = 'running'`,
		endedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPostgresSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	if err := row.Scan(&s.ID, &s.ConversationID, &s.Languages, &s.StartedAt, &endedAt, &s.Status, &s.StopReason, &s.SegmentCount); err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, seq, content, language, offset_ms, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		input.SessionID, input.Seq, input.Content, input.Language, input.Offset.Milliseconds(), input.Duration.Milliseconds())
	return err
}

func (r *PostgresRepository) UpdateSegmentCorrection(ctx context.Context, input repository.UpdateSegmentCorrectionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE transcript_segments SET corrected_content = $3 WHERE session_id = $1 AND seq = $2`,
		input.SessionID, input.Seq, input.CorrectedContent)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, seq, content, corrected_content, language, offset_ms, duration_ms, created_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		var offsetMS, durationMS int64
		if err := rows.Scan(&seg.SessionID, &seg.Seq, &seg.Content, &seg.CorrectedContent, &seg.Language, &offsetMS, &durationMS, &seg.CreatedAt); err != nil {
			return nil, err
		}
		seg.Offset = time.Duration(offsetMS) * time.Millisecond
		seg.Duration = time.Duration(durationMS) * time.Millisecond
		list = append(list, seg)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

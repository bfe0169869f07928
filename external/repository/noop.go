package repository

import (
	"context"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/repository"
)

// NoopRepository is used when no archive is configured.
type NoopRepository struct{}

func (NoopRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	return &repository.Session{
		ID:             input.ID,
		ConversationID: input.ConversationID,
		Languages:      input.Languages,
		StartedAt:      input.StartedAt,
		Status:         repository.SessionStatusRunning,
	}, nil
}

func (NoopRepository) CompleteSession(context.Context, repository.CompleteSessionInput) error {
	return nil
}

func (NoopRepository) GetSession(context.Context, string) (*repository.Session, error) {
	return nil, repository.ErrSessionNotFound
}

func (NoopRepository) CloseOrphanSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (NoopRepository) InsertSegment(context.Context, repository.InsertSegmentInput) error {
	return nil
}

func (NoopRepository) UpdateSegmentCorrection(context.Context, repository.UpdateSegmentCorrectionInput) error {
	return nil
}

func (NoopRepository) ListSegmentsBySessionID(context.Context, string) ([]repository.TranscriptSegment, error) {
	return nil, nil
}

func (NoopRepository) Close() error {
	return nil
}

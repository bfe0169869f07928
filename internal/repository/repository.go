package repository

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type CreateSessionInput struct {
	ID             string
	ConversationID string
	Languages      []string
	StartedAt      time.Time
}

type CompleteSessionInput struct {
	SessionID    string
	EndedAt      time.Time
	StopReason   string
	SegmentCount int
}

type InsertSegmentInput struct {
	SessionID string
	Seq       int64
	Content   string
	Language  string
	Offset    time.Duration
	Duration  time.Duration
}

type UpdateSegmentCorrectionInput struct {
	SessionID        string
	Seq              int64
	CorrectedContent string
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// CloseOrphanSessions marks sessions left running by a previous process as
	// completed and returns how many were closed.
	CloseOrphanSessions(ctx context.Context, endedAt time.Time) (int64, error)
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	UpdateSegmentCorrection(ctx context.Context, input UpdateSegmentCorrectionInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
	Close() error
}

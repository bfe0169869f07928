package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

type Session struct {
	ID             string
	ConversationID string
	Languages      []string
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         SessionStatus
	StopReason     string
	SegmentCount   int
}

// TranscriptSegment is one final utterance as delivered to the client.
// CorrectedContent is empty unless a differing correction was sent.
type TranscriptSegment struct {
	SessionID        string
	Seq              int64
	Content          string
	CorrectedContent string
	Language         string
	Offset           time.Duration
	Duration         time.Duration
	CreatedAt        time.Time
}

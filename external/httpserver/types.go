package httpserver

import (
	"time"

	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/summary"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// UtteranceResponse carries offset and duration in milliseconds.
type UtteranceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Offset   int64  `json:"offset"`
	Duration int64  `json:"duration"`
}

type TranscribeResponse struct {
	Utterances []UtteranceResponse `json:"utterances"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

type AppendTranscriptRequest struct {
	Text string `json:"text"`
}

type AppendTranscriptResponse struct {
	ConversationID string `json:"conversation_id"`
	Added          int    `json:"added"`
}

type OutlineResponse struct {
	ConversationID string          `json:"conversation_id"`
	Sections       summary.Outline `json:"sections"`
	Error          string          `json:"error,omitempty"`
}

type NextTopicRequest struct {
	RecentTranscript    string `json:"recent_transcript"`
	PresentationOutline string `json:"presentation_outline,omitempty"`
}

// SegmentResponse carries offset and duration in milliseconds.
type SegmentResponse struct {
	Seq              int64     `json:"seq"`
	Content          string    `json:"content"`
	CorrectedContent string    `json:"corrected_content,omitempty"`
	Language         string    `json:"language"`
	OffsetMS         int64     `json:"offset_ms"`
	DurationMS       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

type SessionResponse struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Languages      []string          `json:"languages"`
	Status         string            `json:"status"`
	StopReason     string            `json:"stop_reason,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
	SegmentCount   int               `json:"segment_count"`
	Segments       []SegmentResponse `json:"segments"`
}

func newSessionResponse(sess *repository.Session, segments []repository.TranscriptSegment) SessionResponse {
	resp := SessionResponse{
		ID:             sess.ID,
		ConversationID: sess.ConversationID,
		Languages:      sess.Languages,
		Status:         string(sess.Status),
		StopReason:     sess.StopReason,
		StartedAt:      sess.StartedAt,
		EndedAt:        sess.EndedAt,
		SegmentCount:   sess.SegmentCount,
		Segments:       make([]SegmentResponse, 0, len(segments)),
	}
	for _, seg := range segments {
		resp.Segments = append(resp.Segments, SegmentResponse{
			Seq:              seg.Seq,
			Content:          seg.Content,
			CorrectedContent: seg.CorrectedContent,
			Language:         seg.Language,
			OffsetMS:         seg.Offset.Milliseconds(),
			DurationMS:       seg.Duration.Milliseconds(),
			CreatedAt:        seg.CreatedAt,
		})
	}
	return resp
}

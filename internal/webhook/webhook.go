package webhook

import "context"

const TranscriptWebhookSchemaVersion = "2026-10-19"

type TranscriptWebhookSegment struct {
	Seq            int64  `json:"seq"`
	OffsetMillis   int64  `json:"offset_ms"`
	DurationMillis int64  `json:"duration_ms"`
	Language       string `json:"language,omitempty"`
	Transcript     string `json:"transcript"`
	CorrectedText  string `json:"corrected_transcript,omitempty"`
}

type TranscriptWebhookPayload struct {
	SchemaVersion      string                     `json:"schema_version"`
	SessionID          string                     `json:"session_id"`
	ConversationID     string                     `json:"conversation_id,omitempty"`
	Languages          []string                   `json:"languages"`
	StartAt            string                     `json:"start_at"`
	EndAt              string                     `json:"end_at"`
	Timezone           string                     `json:"timezone"`
	DurationSeconds    int64                      `json:"duration_seconds"`
	StopReason         string                     `json:"stop_reason"`
	SegmentCount       int                        `json:"segment_count"`
	TranscriptSegments []TranscriptWebhookSegment `json:"transcript_segments"`
	Transcript         string                     `json:"transcript"`
	TranscriptText     string                     `json:"transcript_text"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}

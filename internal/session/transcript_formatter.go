package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

type transcriptMetadata struct {
	SessionID      string
	ConversationID string
	Languages      []string
	StopReason     string
}

// buildTranscriptText renders one line per final utterance, prefixed with the
// elapsed time of the utterance within the session. Corrected text wins.
func buildTranscriptText(meta transcriptMetadata, startedAt, endedAt time.Time, timezone string, loc *time.Location, entries []TranscriptEntry) []byte {
	loc = safeLocation(loc)
	lines := []string{
		fmt.Sprintf("Session: %s", meta.SessionID),
	}
	if meta.ConversationID != "" {
		lines = append(lines, fmt.Sprintf("Conversation: %s", meta.ConversationID))
	}
	lines = append(lines,
		fmt.Sprintf("Period: %s ~ %s (%s)", startedAt.In(loc).Format(transcriptTimeLayout), endedAt.In(loc).Format(transcriptTimeLayout), timezone),
		fmt.Sprintf("Languages: %s", strings.Join(meta.Languages, ", ")),
		"",
	)
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(e.Utterance.Offset), entryText(e)))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildTranscriptWebhookPayload(meta transcriptMetadata, startedAt, endedAt time.Time, timezone string, loc *time.Location, entries []TranscriptEntry) webhook.TranscriptWebhookPayload {
	loc = safeLocation(loc)
	segments := make([]webhook.TranscriptWebhookSegment, 0, len(entries))
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		segments = append(segments, webhook.TranscriptWebhookSegment{
			Seq:            e.Utterance.Seq,
			OffsetMillis:   e.Utterance.Offset.Milliseconds(),
			DurationMillis: e.Utterance.Duration.Milliseconds(),
			Language:       e.Utterance.Language,
			Transcript:     e.Utterance.Text,
			CorrectedText:  e.Corrected,
		})
		lines = append(lines, entryText(e))
	}

	durationSeconds := int64(endedAt.Sub(startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	languages := meta.Languages
	if languages == nil {
		languages = []string{}
	}

	return webhook.TranscriptWebhookPayload{
		SchemaVersion:      webhook.TranscriptWebhookSchemaVersion,
		SessionID:          meta.SessionID,
		ConversationID:     meta.ConversationID,
		Languages:          languages,
		StartAt:            startedAt.In(loc).Format(time.RFC3339),
		EndAt:              endedAt.In(loc).Format(time.RFC3339),
		Timezone:           timezone,
		DurationSeconds:    durationSeconds,
		StopReason:         meta.StopReason,
		SegmentCount:       len(entries),
		TranscriptSegments: segments,
		Transcript:         strings.Join(lines, "\n"),
		TranscriptText:     string(buildTranscriptText(meta, startedAt, endedAt, timezone, loc, entries)),
	}
}

func entryText(e TranscriptEntry) string {
	if e.Corrected != "" {
		return e.Corrected
	}
	return e.Utterance.Text
}

func formatElapsedHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

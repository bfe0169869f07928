package transcriber

import (
	"context"
	"time"
)

type CancelReason string

const (
	CancelReasonError       CancelReason = "error"
	CancelReasonEndOfStream CancelReason = "end_of_stream"
)

type FinalResult struct {
	Text     string
	Language string
	Offset   time.Duration
	Duration time.Duration
}

// Events is invoked by the engine from goroutines this system does not own.
// Implementations must not block.
type Events interface {
	OnInterim(text string)
	OnFinal(result FinalResult)
	OnCanceled(reason CancelReason, detail string)
}

// Recognition is one running streaming recognition. Write pushes raw PCM into
// the engine's audio sink; CloseAudio releases the sink; Stop ends recognition
// and waits for pending results up to ctx.
type Recognition interface {
	Write(pcm []byte) error
	CloseAudio() error
	Stop(ctx context.Context) error
}

type Transcriber interface {
	StartStreaming(ctx context.Context, sessionID string, languages []string, events Events) (Recognition, error)
}

type Utterance struct {
	Text     string
	Language string
	Offset   time.Duration
	Duration time.Duration
}

// FileTranscriber recognizes a complete audio file in one request.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, audio []byte, languages []string) ([]Utterance, error)
}

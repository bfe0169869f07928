package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/transcriber"
)

var ErrStreamClosed = errors.New("recognition bridge is closed")

// Bridge turns recognition engine callbacks into outbound messages. Callbacks
// arrive on engine-owned goroutines and never block.
type Bridge struct {
	sessionID         string
	outbox            *Outbox
	finals            *finalQueue
	correctionEnabled bool

	mu         sync.Mutex
	sink       transcriber.Recognition
	closed     bool
	nextSeq    int64
	lastOffset time.Duration
}

func NewBridge(sessionID string, outbox *Outbox, finals *finalQueue, correctionEnabled bool) *Bridge {
	return &Bridge{
		sessionID:         sessionID,
		outbox:            outbox,
		finals:            finals,
		correctionEnabled: correctionEnabled,
	}
}

// Attach binds the engine's audio sink. It must be called once, before Submit.
func (b *Bridge) Attach(sink transcriber.Recognition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

func (b *Bridge) Submit(pcm []byte) error {
	b.mu.Lock()
	if b.closed || b.sink == nil {
		b.mu.Unlock()
		return ErrStreamClosed
	}
	sink := b.sink
	b.mu.Unlock()
	return sink.Write(pcm)
}

// Close releases the audio sink once. Later calls are no-ops.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sink := b.sink
	b.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.CloseAudio()
}

func (b *Bridge) OnInterim(text string) {
	if text == "" {
		return
	}
	b.outbox.Push(InterimMessage(text))
}

func (b *Bridge) OnFinal(result transcriber.FinalResult) {
	if result.Text == "" {
		return
	}
	b.mu.Lock()
	b.nextSeq++
	offset := result.Offset
	if offset < b.lastOffset {
		offset = b.lastOffset
	}
	b.lastOffset = offset
	u := Utterance{
		Seq:      b.nextSeq,
		Text:     result.Text,
		Language: result.Language,
		Offset:   offset,
		Duration: result.Duration,
	}
	// Push under mu so seq order equals outbox order across engine goroutines.
	if b.correctionEnabled {
		b.outbox.Push(FinalOriginalMessage(u))
	} else {
		b.outbox.Push(FinalMessage(u))
	}
	b.mu.Unlock()

	if !b.finals.Push(u) {
		slog.Debug("final utterance arrived after session wind-down", "session_id", b.sessionID, "seq", u.Seq)
	}
}

func (b *Bridge) OnCanceled(reason transcriber.CancelReason, detail string) {
	if reason != transcriber.CancelReasonError {
		slog.Info("recognition canceled", "session_id", b.sessionID, "reason", string(reason), "detail", detail)
		return
	}
	slog.Error("recognition error", "session_id", b.sessionID, "detail", detail)
	b.outbox.Push(ErrorMessage("Recognition error: " + detail))
}

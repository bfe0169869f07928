package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/foxseedlab/kaigiroku/internal/correction"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
)

type Corrector interface {
	Correct(ctx context.Context, text string) string
}

// correctionTracker runs one detached correction per final utterance, keyed
// by Seq. After Close no task may enqueue a message.
type correctionTracker struct {
	sessionID string
	corrector Corrector
	outbox    *Outbox
	metrics   *telemetry.Metrics
	onApplied func(u Utterance, corrected string)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight map[int64]context.CancelFunc
	wg       sync.WaitGroup
}

func newCorrectionTracker(sessionID string, corrector Corrector, outbox *Outbox, metrics *telemetry.Metrics, onApplied func(Utterance, string)) *correctionTracker {
	ctx, cancel := context.WithCancel(context.Background())
	if onApplied == nil {
		onApplied = func(Utterance, string) {}
	}
	return &correctionTracker{
		sessionID: sessionID,
		corrector: corrector,
		outbox:    outbox,
		metrics:   metrics,
		onApplied: onApplied,
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[int64]context.CancelFunc),
	}
}

// Schedule starts correcting u and reports whether a task was started.
func (t *correctionTracker) Schedule(u Utterance) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.inflight[u.Seq] = cancel
	t.wg.Add(1)
	go t.run(ctx, u)
	return true
}

func (t *correctionTracker) run(ctx context.Context, u Utterance) {
	defer t.wg.Done()
	corrected := t.corrector.Correct(ctx, u.Text)

	t.mu.Lock()
	stale := t.closed || ctx.Err() != nil
	if cancel, ok := t.inflight[u.Seq]; ok {
		cancel()
		delete(t.inflight, u.Seq)
	}
	if stale {
		t.mu.Unlock()
		t.metrics.Correction("canceled")
		return
	}
	if !correction.Changed(u.Text, corrected) {
		t.mu.Unlock()
		t.metrics.Correction("unchanged")
		return
	}
	t.outbox.Push(FinalCorrectedMessage(u, corrected))
	t.mu.Unlock()

	t.metrics.Correction("changed")
	t.onApplied(u, corrected)
	slog.Debug("final corrected", "session_id", t.sessionID, "seq", u.Seq)
}

// Close cancels every in-flight correction and waits for them to return.
func (t *correctionTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := len(t.inflight)
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	if pending > 0 {
		slog.Info("in-flight corrections canceled", "session_id", t.sessionID, "count", pending)
	}
}

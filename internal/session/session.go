package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/audio"
	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"golang.org/x/sync/errgroup"
)

const repositoryWriteTimeout = 5 * time.Second

type State int32

const (
	StateIdle State = iota
	StateListening
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	StopReasonStopSignal   = "stop_signal"
	StopReasonClientClosed = "client_closed"
	StopReasonReadError    = "read_error"
	StopReasonWriteFailure = "write_failure"
	StopReasonCanceled     = "canceled"
	StopReasonStartFailed  = "start_failed"
)

// TranscriptSink receives finalized text for a conversation's summary.
type TranscriptSink interface {
	Append(conversationID, text string) int
}

type Options struct {
	ID             string
	ConversationID string
	Languages      []string
	ReadTimeout    time.Duration
	PollInterval   time.Duration
	DrainTimeout   time.Duration
	OutboxCapacity int
}

// Deps are the collaborators of a session. Corrector, Transcripts,
// Repository and Metrics are optional; a nil Corrector disables correction.
type Deps struct {
	Transcriber transcriber.Transcriber
	Corrector   Corrector
	Transcripts TranscriptSink
	Repository  repository.Repository
	Metrics     *telemetry.Metrics
}

// TranscriptEntry is one final utterance and its correction, if any was sent.
type TranscriptEntry struct {
	Utterance Utterance
	Corrected string
}

// Session is one client connection streaming audio for recognition.
type Session struct {
	id   string
	opts Options
	deps Deps
	conn Conn

	outbox      *Outbox
	finals      *finalQueue
	bridge      *Bridge
	dispatcher  *Dispatcher
	corrections *correctionTracker
	recognition transcriber.Recognition

	state     atomic.Int32
	listening atomic.Bool

	runCancel      context.CancelFunc
	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}
	group          errgroup.Group

	teardownOnce sync.Once
	teardownErr  error

	mu         sync.Mutex
	stopReason string
	startedAt  time.Time
	endedAt    time.Time
	transcript []TranscriptEntry
}

func New(conn Conn, deps Deps, opts Options) *Session {
	s := &Session{
		id:           opts.ID,
		opts:         opts,
		deps:         deps,
		conn:         conn,
		finals:       newFinalQueue(),
		dispatchDone: make(chan struct{}),
		runCancel:    func() {},
	}
	s.outbox = NewOutbox(opts.OutboxCapacity, deps.Metrics.InterimDropped)
	s.bridge = NewBridge(s.id, s.outbox, s.finals, deps.Corrector != nil)
	s.dispatcher = NewDispatcher(s.id, s.outbox, conn, opts.PollInterval, deps.Metrics)
	if deps.Corrector != nil {
		s.corrections = newCorrectionTracker(s.id, deps.Corrector, s.outbox, deps.Metrics, s.applyCorrection)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

func (s *Session) Times() (startedAt, endedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt, s.endedAt
}

// Transcript returns the finals delivered so far, in Seq order.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Run drives the session until a stop frame, client disconnect, fatal write
// or ctx cancellation. Teardown runs exactly once on every exit path.
func (s *Session) Run(ctx context.Context) (err error) {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	defer func() {
		if terr := s.teardown(); err == nil {
			err = terr
		}
	}()

	if err := s.start(ctx); err != nil {
		s.setStopReason(StopReasonStartFailed)
		return err
	}
	return s.listen(runCtx)
}

func (s *Session) start(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	dispatchCtx, dispatchCancel := context.WithCancel(context.WithoutCancel(ctx))
	s.dispatchCancel = dispatchCancel
	s.group.Go(func() error {
		defer close(s.dispatchDone)
		err := s.dispatcher.Run(dispatchCtx)
		var fatal *FatalConnectionError
		if errors.As(err, &fatal) {
			s.setStopReason(StopReasonWriteFailure)
			s.listening.Store(false)
			s.runCancel()
			return err
		}
		return nil
	})
	// Finals keep draining after the dispatcher is abandoned; teardown ends
	// the worker by closing the queue.
	finalsCtx := context.WithoutCancel(ctx)
	s.group.Go(func() error {
		s.processFinals(finalsCtx)
		return nil
	})

	rec, err := s.deps.Transcriber.StartStreaming(context.WithoutCancel(ctx), s.id, s.opts.Languages, s.bridge)
	if err != nil {
		slog.Error("failed to start recognition", "session_id", s.id, "error", err)
		s.outbox.Push(ErrorMessage("Failed to start recognition"))
		return fmt.Errorf("start recognition: %w", err)
	}
	s.recognition = rec
	s.bridge.Attach(rec)

	s.state.Store(int32(StateListening))
	s.listening.Store(true)
	s.outbox.Push(StatusMessage(StatusStarted))
	slog.Info("session listening", "session_id", s.id, "conversation_id", s.opts.ConversationID, "languages", s.opts.Languages)
	return nil
}

func (s *Session) listen(ctx context.Context) error {
	submitFailing := false
	for s.listening.Load() {
		if ctx.Err() != nil {
			s.setStopReason(StopReasonCanceled)
			return nil
		}

		frame, err := s.conn.ReadFrame(s.opts.ReadTimeout)
		if err != nil {
			switch {
			case errors.Is(err, ErrReadTimeout):
				continue
			case errors.Is(err, ErrConnectionClosed):
				slog.Info("client disconnected", "session_id", s.id)
				s.setStopReason(StopReasonClientClosed)
				return nil
			default:
				slog.Error("failed to read from client", "session_id", s.id, "error", err)
				s.setStopReason(StopReasonReadError)
				s.outbox.Push(ErrorMessage("Connection error: " + err.Error()))
				return &FatalConnectionError{Op: "read", Err: err}
			}
		}

		if audio.IsStopSignal(frame) {
			slog.Info("stop signal received", "session_id", s.id)
			s.setStopReason(StopReasonStopSignal)
			s.state.Store(int32(StateDraining))
			return nil
		}
		if err := audio.ValidateFrame(frame); err != nil {
			slog.Warn("skipping invalid audio frame", "session_id", s.id, "frame_bytes", len(frame), "error", err)
			s.outbox.Push(ErrorMessage("Invalid audio frame: " + err.Error()))
			continue
		}
		if err := s.bridge.Submit(frame); err != nil {
			slog.Warn("failed to submit audio", "session_id", s.id, "frame_bytes", len(frame), "error", err)
			if !submitFailing {
				s.outbox.Push(ErrorMessage("Failed to process audio: " + err.Error()))
			}
			submitFailing = true
			continue
		}
		submitFailing = false
	}
	return nil
}

func (s *Session) processFinals(ctx context.Context) {
	for {
		u, ok := s.finals.Next(ctx)
		if !ok {
			return
		}
		s.mu.Lock()
		s.transcript = append(s.transcript, TranscriptEntry{Utterance: u})
		s.mu.Unlock()

		if s.corrections != nil {
			s.corrections.Schedule(u)
		}
		if s.deps.Transcripts != nil && s.opts.ConversationID != "" {
			s.deps.Transcripts.Append(s.opts.ConversationID, u.Text)
		}
		if s.deps.Repository != nil {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), repositoryWriteTimeout)
			if err := s.deps.Repository.InsertSegment(wctx, repository.InsertSegmentInput{
				SessionID: s.id,
				Seq:       u.Seq,
				Content:   u.Text,
				Language:  u.Language,
				Offset:    u.Offset,
				Duration:  u.Duration,
			}); err != nil {
				slog.Error("failed to insert transcript segment", "session_id", s.id, "seq", u.Seq, "error", err)
			}
			cancel()
		}
	}
}

func (s *Session) applyCorrection(u Utterance, corrected string) {
	s.mu.Lock()
	for i := range s.transcript {
		if s.transcript[i].Utterance.Seq == u.Seq {
			s.transcript[i].Corrected = corrected
			break
		}
	}
	s.mu.Unlock()

	if s.deps.Repository == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), repositoryWriteTimeout)
	defer cancel()
	if err := s.deps.Repository.UpdateSegmentCorrection(ctx, repository.UpdateSegmentCorrectionInput{
		SessionID:        s.id,
		Seq:              u.Seq,
		CorrectedContent: corrected,
	}); err != nil {
		slog.Error("failed to store corrected segment", "session_id", s.id, "seq", u.Seq, "error", err)
	}
}

func (s *Session) setStopReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopReason == "" {
		s.stopReason = reason
	}
}

func (s *Session) teardown() error {
	s.teardownOnce.Do(func() {
		s.listening.Store(false)
		if s.State() != StateIdle {
			s.state.Store(int32(StateDraining))
		}
		s.setStopReason(StopReasonCanceled)
		s.runCancel()

		if s.corrections != nil {
			s.corrections.Close()
		}
		if s.recognition != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
			if err := s.recognition.Stop(stopCtx); err != nil {
				slog.Warn("failed to stop recognition", "session_id", s.id, "error", err)
			}
			cancel()
		}
		if err := s.bridge.Close(); err != nil {
			slog.Warn("failed to close recognition bridge", "session_id", s.id, "error", err)
		}
		s.finals.Close()
		s.outbox.Close()

		if s.dispatchCancel != nil {
			select {
			case <-s.dispatchDone:
			case <-time.After(s.opts.DrainTimeout):
				slog.Warn("dispatcher did not drain in time; discarding queued messages", "session_id", s.id, "queued", s.outbox.Len())
				s.dispatchCancel()
			}
			s.teardownErr = s.group.Wait()
			s.dispatchCancel()
		}

		if err := s.conn.Close(); err != nil {
			slog.Debug("connection close returned error", "session_id", s.id, "error", err)
		}

		s.mu.Lock()
		s.endedAt = time.Now()
		reason := s.stopReason
		s.mu.Unlock()
		s.state.Store(int32(StateClosed))
		slog.Info("session closed", "session_id", s.id, "reason", reason)
	})
	return s.teardownErr
}

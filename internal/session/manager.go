package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/config"
	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"github.com/foxseedlab/kaigiroku/internal/webhook"
	"github.com/rs/xid"
)

const finalizeTimeout = 30 * time.Second

type ServeParams struct {
	ConversationID string
	Languages      []string
}

// Manager creates, tracks and finalizes streaming sessions.
type Manager struct {
	cfg         *config.Config
	repo        repository.Repository
	transcriber transcriber.Transcriber
	corrector   Corrector
	transcripts TranscriptSink
	webhook     webhook.Sender
	metrics     *telemetry.Metrics
	newID       func() string

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	closed   bool

	running    sync.WaitGroup
	finalizers sync.WaitGroup
}

// NewManager builds a manager. A nil corrector disables correction.
func NewManager(cfg *config.Config, repo repository.Repository, stt transcriber.Transcriber, corrector Corrector, transcripts TranscriptSink, wh webhook.Sender, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		cfg:         cfg,
		repo:        repo,
		transcriber: stt,
		corrector:   corrector,
		transcripts: transcripts,
		webhook:     wh,
		metrics:     metrics,
		newID:       func() string { return xid.New().String() },
		sessions:    make(map[string]context.CancelFunc),
	}
}

// Serve runs one streaming session on conn and returns when it has been torn
// down. Archive and webhook delivery continue in the background.
func (m *Manager) Serve(ctx context.Context, conn Conn, params ServeParams) error {
	languages := params.Languages
	if len(languages) == 0 {
		languages = m.cfg.RecognitionLanguages
	}
	id := m.newID()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !m.register(id, cancel) {
		_ = conn.Close()
		return fmt.Errorf("session manager is shutting down")
	}
	defer m.unregister(id)

	if _, err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		ID:             id,
		ConversationID: params.ConversationID,
		Languages:      languages,
		StartedAt:      time.Now(),
	}); err != nil {
		slog.Error("failed to create session in repository", "session_id", id, "error", err)
	}

	sess := New(conn, Deps{
		Transcriber: m.transcriber,
		Corrector:   m.corrector,
		Transcripts: m.transcripts,
		Repository:  m.repo,
		Metrics:     m.metrics,
	}, Options{
		ID:             id,
		ConversationID: params.ConversationID,
		Languages:      languages,
		ReadTimeout:    m.cfg.SessionReadTimeout,
		PollInterval:   m.cfg.DispatchPollInterval,
		DrainTimeout:   m.cfg.SessionDrainTimeout,
		OutboxCapacity: m.cfg.OutboxCapacity,
	})

	slog.Info("session started", "session_id", id, "conversation_id", params.ConversationID)
	m.metrics.SessionStarted()
	err := sess.Run(ctx)
	m.metrics.SessionEnded(sess.StopReason())

	m.finalizers.Add(1)
	go func() {
		defer m.finalizers.Done()
		m.finalizeSession(sess, params.ConversationID, languages)
	}()
	return err
}

func (m *Manager) register(id string, cancel context.CancelFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.sessions[id] = cancel
	m.running.Add(1)
	return true
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.running.Done()
}

func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) finalizeSession(sess *Session, conversationID string, languages []string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	startedAt, endedAt := sess.Times()
	entries := sess.Transcript()
	reason := sess.StopReason()
	if err := m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:    sess.ID(),
		EndedAt:      endedAt,
		StopReason:   reason,
		SegmentCount: len(entries),
	}); err != nil {
		slog.Error("failed to complete session", "session_id", sess.ID(), "error", err)
	}

	if len(entries) == 0 {
		slog.Info("session ended without transcript; skipping webhook", "session_id", sess.ID(), "reason", reason)
		return
	}
	payload := buildTranscriptWebhookPayload(transcriptMetadata{
		SessionID:      sess.ID(),
		ConversationID: conversationID,
		Languages:      languages,
		StopReason:     reason,
	}, startedAt, endedAt, m.cfg.TranscriptTimezone, m.cfg.Location(), entries)
	if err := m.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send webhook transcript", "session_id", sess.ID(), "error", err)
		return
	}
	slog.Info("session finalized", "session_id", sess.ID(), "segments", len(entries), "reason", reason)
}

// Shutdown cancels every running session and waits for sessions and their
// finalization to complete, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.sessions {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		m.finalizers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for sessions: %w", ctx.Err())
	}
}

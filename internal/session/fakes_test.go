package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"github.com/foxseedlab/kaigiroku/internal/webhook"
)

// readStep scripts one ReadFrame result. Returning ErrReadTimeout keeps the
// step pending so it is retried on the next read.
type readStep func(c *mockConn) ([]byte, error)

type mockConn struct {
	mu         sync.Mutex
	steps      []readStep
	written    []OutboundMessage
	raw        [][]byte
	writeErrs  []error
	writeDelay time.Duration
	closeCount int
}

func newMockConn(steps ...readStep) *mockConn {
	return &mockConn{steps: steps}
}

func (c *mockConn) ReadFrame(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if len(c.steps) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, ErrReadTimeout
	}
	step := c.steps[0]
	c.mu.Unlock()

	frame, err := step(c)
	if errors.Is(err, ErrReadTimeout) {
		time.Sleep(time.Millisecond)
		return nil, err
	}
	c.mu.Lock()
	c.steps = c.steps[1:]
	c.mu.Unlock()
	if errors.Is(err, errSkipStep) {
		return nil, ErrReadTimeout
	}
	return frame, err
}

func (c *mockConn) WriteJSON(v any) error {
	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writeErrs) > 0 {
		err := c.writeErrs[0]
		c.writeErrs = c.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	msg, ok := v.(OutboundMessage)
	if !ok {
		return errors.New("unexpected message value")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.written = append(c.written, msg)
	c.raw = append(c.raw, b)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	return nil
}

func (c *mockConn) messages() []OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OutboundMessage, len(c.written))
	copy(out, c.written)
	return out
}

func (c *mockConn) hasType(t MessageType) bool {
	for _, m := range c.messages() {
		if m.Type == t {
			return true
		}
	}
	return false
}

func frameStep(frame []byte) readStep {
	return func(*mockConn) ([]byte, error) { return frame, nil }
}

func errStep(err error) readStep {
	return func(*mockConn) ([]byte, error) { return nil, err }
}

func funcStep(fn func()) readStep {
	return func(*mockConn) ([]byte, error) {
		fn()
		return nil, errSkipStep
	}
}

// waitStep holds the read loop until the client has seen a message of type t.
func waitStep(t MessageType) readStep {
	return func(c *mockConn) ([]byte, error) {
		if c.hasType(t) {
			return nil, errSkipStep
		}
		return nil, ErrReadTimeout
	}
}

// errSkipStep advances the script without delivering a frame.
var errSkipStep = errors.New("skip")

type mockRecognition struct {
	mu              sync.Mutex
	writes          [][]byte
	writeErr        error
	closeAudioCount int
	stopCount       int
}

func (r *mockRecognition) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.writes = append(r.writes, pcm)
	return nil
}

func (r *mockRecognition) CloseAudio() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeAudioCount++
	return nil
}

func (r *mockRecognition) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCount++
	return nil
}

func (r *mockRecognition) counts() (stops, closes, writes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCount, r.closeAudioCount, len(r.writes)
}

type mockTranscriber struct {
	mu        sync.Mutex
	rec       *mockRecognition
	events    transcriber.Events
	languages []string
	startErr  error
}

func newMockTranscriber() *mockTranscriber {
	return &mockTranscriber{rec: &mockRecognition{}}
}

func (m *mockTranscriber) StartStreaming(_ context.Context, _ string, languages []string, events transcriber.Events) (transcriber.Recognition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.events = events
	m.languages = languages
	return m.rec, nil
}

func (m *mockTranscriber) emit() transcriber.Events {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

type mockCorrector struct {
	fn func(ctx context.Context, text string) string
}

func (m *mockCorrector) Correct(ctx context.Context, text string) string {
	return m.fn(ctx, text)
}

type mockSink struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (m *mockSink) Append(conversationID, text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lines == nil {
		m.lines = make(map[string][]string)
	}
	m.lines[conversationID] = append(m.lines[conversationID], text)
	return 1
}

type mockRepository struct {
	mu          sync.Mutex
	created     []repository.CreateSessionInput
	completed   []repository.CompleteSessionInput
	segments    []repository.InsertSegmentInput
	corrections []repository.UpdateSegmentCorrectionInput
	insertDelay time.Duration
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, input)
	return &repository.Session{ID: input.ID, ConversationID: input.ConversationID, StartedAt: input.StartedAt, Status: repository.SessionStatusRunning}, nil
}

func (m *mockRepository) CompleteSession(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	return nil
}

func (m *mockRepository) GetSession(_ context.Context, _ string) (*repository.Session, error) {
	return nil, repository.ErrSessionNotFound
}

func (m *mockRepository) CloseOrphanSessions(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *mockRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	if m.insertDelay > 0 {
		time.Sleep(m.insertDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = append(m.segments, input)
	return nil
}

func (m *mockRepository) UpdateSegmentCorrection(_ context.Context, input repository.UpdateSegmentCorrectionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, input)
	return nil
}

func (m *mockRepository) ListSegmentsBySessionID(_ context.Context, _ string) ([]repository.TranscriptSegment, error) {
	return nil, nil
}

func (m *mockRepository) Close() error { return nil }

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptWebhookPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptWebhookPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func testOptions() Options {
	return Options{
		ID:             "session-1",
		ConversationID: "room-1",
		Languages:      []string{"en-US", "zh-CN"},
		ReadTimeout:    10 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		DrainTimeout:   time.Second,
		OutboxCapacity: 16,
	}
}

func runSession(t *testing.T, sess *Session) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func messageTypes(msgs []OutboundMessage) []MessageType {
	out := make([]MessageType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

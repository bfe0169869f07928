package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/llm"
	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/session"
	"github.com/foxseedlab/kaigiroku/internal/summary"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSessions struct {
	mu     sync.Mutex
	params []session.ServeParams
}

func (f *fakeSessions) Serve(_ context.Context, conn session.Conn, params session.ServeParams) error {
	f.mu.Lock()
	f.params = append(f.params, params)
	f.mu.Unlock()
	if err := conn.WriteJSON(session.StatusMessage(session.StatusStarted)); err != nil {
		return err
	}
	return conn.Close()
}

func (f *fakeSessions) served() []session.ServeParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.ServeParams(nil), f.params...)
}

type fakeFiles struct {
	utterances []transcriber.Utterance
	err        error
	languages  []string
	bytes      int
}

func (f *fakeFiles) TranscribeFile(_ context.Context, data []byte, languages []string) ([]transcriber.Utterance, error) {
	f.languages = languages
	f.bytes = len(data)
	return f.utterances, f.err
}

type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.response, f.err
}

type fakeArchive struct {
	sessions map[string]*repository.Session
	segments map[string][]repository.TranscriptSegment
	err      error
}

func (f *fakeArchive) GetSession(_ context.Context, sessionID string) (*repository.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return sess, nil
}

func (f *fakeArchive) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	return f.segments[sessionID], nil
}

type testEnv struct {
	mux      *http.ServeMux
	sessions *fakeSessions
	archive  *fakeArchive
	files    *fakeFiles
	llm      *fakeLLM
	outlines *summary.Registry
}

func newTestEnv() *testEnv {
	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	env := &testEnv{
		mux:      http.NewServeMux(),
		sessions: &fakeSessions{},
		archive:  &fakeArchive{},
		files:    &fakeFiles{},
		llm:      &fakeLLM{},
	}
	env.outlines = summary.NewRegistry(env.llm, summary.Config{Model: "outline-model", RecentLines: 20}, metrics)
	NewHandler(Deps{
		Sessions:     env.sessions,
		Archive:      env.archive,
		Files:        env.files,
		LLM:          env.llm,
		Outlines:     env.outlines,
		Gatherer:     reg,
		Languages:    []string{"en-US", "zh-CN"},
		Model:        "fast-model",
		OutlineModel: "outline-model",
	}).RegisterRoutes(env.mux)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRoot(t *testing.T) {
	env := newTestEnv()
	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[MessageResponse](t, rec); got.Message != "kaigiroku is running" {
		t.Fatalf("unexpected message: %q", got.Message)
	}
}

func TestTranscribeFile_RequiresAudioContentType(t *testing.T) {
	env := newTestEnv()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("not audio"))
	req.Header.Set("Content-Type", "text/plain")
	rec := env.do(req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestTranscribeFile_ReturnsUtterancesInMilliseconds(t *testing.T) {
	env := newTestEnv()
	env.files.utterances = []transcriber.Utterance{
		{Text: "hello", Language: "en-US", Offset: 1500 * time.Millisecond, Duration: 700 * time.Millisecond},
	}
	req := httptest.NewRequest(http.MethodPost, "/transcribe?language=ja-JP", strings.NewReader("RIFFdata"))
	req.Header.Set("Content-Type", "audio/wav")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[TranscribeResponse](t, rec)
	if len(got.Utterances) != 1 {
		t.Fatalf("expected 1 utterance, got %+v", got)
	}
	if u := got.Utterances[0]; u.Text != "hello" || u.Offset != 1500 || u.Duration != 700 {
		t.Fatalf("unexpected utterance: %+v", u)
	}
	if len(env.files.languages) != 1 || env.files.languages[0] != "ja-JP" {
		t.Fatalf("unexpected languages: %v", env.files.languages)
	}
	if env.files.bytes != len("RIFFdata") {
		t.Fatalf("unexpected audio size: %d", env.files.bytes)
	}
}

func TestTranscribeFile_NoSpeech(t *testing.T) {
	env := newTestEnv()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("RIFFdata"))
	req.Header.Set("Content-Type", "audio/wav")
	rec := env.do(req)
	if got := decode[ErrorResponse](t, rec); got.Error != noSpeechMessage {
		t.Fatalf("unexpected response: %+v", got)
	}
	if len(env.files.languages) != 2 {
		t.Fatalf("expected default languages, got %v", env.files.languages)
	}
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestSummarize(t *testing.T) {
	env := newTestEnv()
	env.llm.response = "  - Topic: budget  "
	rec := env.do(postForm("/summarize", url.Values{"text": {"we discussed the budget"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[SummaryResponse](t, rec); got.Summary != "- Topic: budget" {
		t.Fatalf("unexpected summary: %q", got.Summary)
	}
	if env.llm.requests[0].Model != "fast-model" {
		t.Fatalf("unexpected model: %q", env.llm.requests[0].Model)
	}
}

func TestSummarize_EmptyText(t *testing.T) {
	env := newTestEnv()
	rec := env.do(postForm("/summarize", url.Values{"text": {"   "}}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSummarize_LLMUnavailable(t *testing.T) {
	env := newTestEnv()
	env.llm.err = llm.ErrUnavailable
	rec := env.do(postForm("/summarize", url.Values{"text": {"hello"}}))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOutline_UnknownConversation(t *testing.T) {
	env := newTestEnv()
	rec := env.do(httptest.NewRequest(http.MethodGet, "/conversations/missing/outline", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConversationOutlineFlow(t *testing.T) {
	env := newTestEnv()

	rec := env.do(httptest.NewRequest(http.MethodPost, "/conversations/c1/transcript", strings.NewReader(`{"text":"welcome everyone\nfirst agenda item"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[AppendTranscriptResponse](t, rec); got.Added != 2 || got.ConversationID != "c1" {
		t.Fatalf("unexpected append response: %+v", got)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/conversations/c1/outline", nil))
	if got := decode[OutlineResponse](t, rec); len(got.Sections) != 0 {
		t.Fatalf("expected empty outline before reconcile, got %+v", got)
	}

	env.llm.response = `[{"id":"1","title":"Agenda","content":"first item"}]`
	rec = env.do(httptest.NewRequest(http.MethodPost, "/conversations/c1/reconcile", nil))
	got := decode[OutlineResponse](t, rec)
	if got.Error != "" || len(got.Sections) != 1 || got.Sections[0].Title != "Agenda" {
		t.Fatalf("unexpected reconcile response: %+v", got)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/conversations/c1/outline", nil))
	if got := decode[OutlineResponse](t, rec); len(got.Sections) != 1 {
		t.Fatalf("expected reconciled outline, got %+v", got)
	}
}

func TestReconcile_FailureKeepsPreviousOutline(t *testing.T) {
	env := newTestEnv()
	env.outlines.Append("c1", "hello")
	env.llm.response = "not json"

	rec := env.do(httptest.NewRequest(http.MethodPost, "/conversations/c1/reconcile", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[OutlineResponse](t, rec)
	if got.Error == "" {
		t.Fatal("expected reconcile error to be reported")
	}
	if got.Sections == nil || len(got.Sections) != 0 {
		t.Fatalf("expected empty previous outline, got %+v", got.Sections)
	}
}

func TestReconcile_UnknownConversation(t *testing.T) {
	env := newTestEnv()
	rec := env.do(httptest.NewRequest(http.MethodPost, "/conversations/missing/reconcile", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/conversations/missing/outline", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected outline to stay 404 after reconcile, got %d", rec.Code)
	}
	if len(env.llm.requests) != 0 {
		t.Fatalf("expected no model calls, got %d", len(env.llm.requests))
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ended := started.Add(10 * time.Minute)
	env.archive.sessions = map[string]*repository.Session{
		"s1": {
			ID:             "s1",
			ConversationID: "room-1",
			Languages:      []string{"en-US"},
			StartedAt:      started,
			EndedAt:        &ended,
			Status:         repository.SessionStatusCompleted,
			StopReason:     "client_stop",
			SegmentCount:   2,
		},
	}
	env.archive.segments = map[string][]repository.TranscriptSegment{
		"s1": {
			{SessionID: "s1", Seq: 1, Content: "hello every one", CorrectedContent: "hello everyone", Language: "en-US", Offset: 1500 * time.Millisecond, Duration: 2 * time.Second},
			{SessionID: "s1", Seq: 2, Content: "let's begin", Language: "en-US", Offset: 4 * time.Second, Duration: time.Second},
		},
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[SessionResponse](t, rec)
	if got.ID != "s1" || got.ConversationID != "room-1" || got.Status != "completed" || got.StopReason != "client_stop" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("unexpected ended_at: %v", got.EndedAt)
	}
	if len(got.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %+v", got.Segments)
	}
	first := got.Segments[0]
	if first.CorrectedContent != "hello everyone" || first.Content != "hello every one" {
		t.Fatalf("unexpected first segment: %+v", first)
	}
	if first.OffsetMS != 1500 || first.DurationMS != 2000 {
		t.Fatalf("unexpected timing: %+v", first)
	}
	if got.Segments[1].CorrectedContent != "" {
		t.Fatalf("expected no correction on second segment, got %q", got.Segments[1].CorrectedContent)
	}
	if !strings.Contains(rec.Body.String(), `"corrected_content":"hello everyone"`) {
		t.Fatalf("expected corrected_content in body: %s", rec.Body.String())
	}
}

func TestGetSession_NotFound(t *testing.T) {
	env := newTestEnv()
	rec := env.do(httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetSession_ArchiveFailure(t *testing.T) {
	env := newTestEnv()
	env.archive.err = errors.New("connection refused")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestNextTopic(t *testing.T) {
	env := newTestEnv()
	env.llm.response = "* cover the roadmap"

	rec := env.do(httptest.NewRequest(http.MethodPost, "/conversations/c1/next-topic", strings.NewReader(`{"recent_transcript":"we just talked about hiring"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[summary.NextTopic](t, rec)
	if got.Markdown != "* cover the roadmap" || got.Confidence != 0.3 {
		t.Fatalf("unexpected next topic: %+v", got)
	}
	if env.llm.requests[0].Model != "outline-model" {
		t.Fatalf("unexpected model: %q", env.llm.requests[0].Model)
	}
}

func TestNextTopic_InvalidBody(t *testing.T) {
	env := newTestEnv()
	rec := env.do(httptest.NewRequest(http.MethodPost, "/conversations/c1/next-topic", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLLMErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: llm.ErrUnavailable, want: http.StatusServiceUnavailable},
		{err: &llm.StatusError{StatusCode: http.StatusTooManyRequests}, want: http.StatusTooManyRequests},
		{err: &llm.StatusError{StatusCode: http.StatusInternalServerError}, want: http.StatusBadGateway},
		{err: errors.New("boom"), want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := llmErrorStatus(tc.err); got != tc.want {
			t.Fatalf("llmErrorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv()
	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kaigiroku_sessions_active") {
		t.Fatalf("expected session gauge in exposition, got %s", rec.Body.String())
	}
}

func TestStreamTranscribe(t *testing.T) {
	env := newTestEnv()
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe?conversation=c1&language=ja-JP,en-US"
	client, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), `"status"`) {
		t.Fatalf("unexpected first message: %s", data)
	}

	params := env.sessions.served()
	if len(params) != 1 {
		t.Fatalf("expected one session, got %d", len(params))
	}
	if params[0].ConversationID != "c1" || len(params[0].Languages) != 2 || params[0].Languages[0] != "ja-JP" {
		t.Fatalf("unexpected params: %+v", params[0])
	}
}

package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/webhook"
)

func testPayload() webhook.TranscriptWebhookPayload {
	return webhook.TranscriptWebhookPayload{
		SchemaVersion: webhook.TranscriptWebhookSchemaVersion,
		SessionID:     "s1",
		Languages:     []string{"en-US"},
		StopReason:    "client_closed",
		SegmentCount:  1,
		TranscriptSegments: []webhook.TranscriptWebhookSegment{
			{Seq: 1, OffsetMillis: 1500, DurationMillis: 800, Transcript: "hello world"},
		},
		Transcript: "hello world",
	}
}

func TestSendTranscript_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendTranscript_Success(t *testing.T) {
	var got webhook.TranscriptWebhookPayload
	var gotVersion string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		gotVersion = r.Header.Get("X-Kaigiroku-Schema-Version")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotVersion != webhook.TranscriptWebhookSchemaVersion {
		t.Fatalf("unexpected schema version header: %q", gotVersion)
	}
	if got.SessionID != "s1" || got.Transcript != "hello world" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.TranscriptSegments) != 1 || got.TranscriptSegments[0].OffsetMillis != 1500 {
		t.Fatalf("unexpected segments: %+v", got.TranscriptSegments)
	}
}

func newTestSender(url string) *HTTPSender {
	s := NewHTTPSender(url).(*HTTPSender)
	s.backoff = time.Millisecond
	return s
}

func TestSendTranscript_Non2xxIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	err := newTestSender(server.URL).SendTranscript(context.Background(), testPayload())
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "bad payload") {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendTranscript_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTestSender(server.URL).SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendTranscript_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := newTestSender(server.URL).SendTranscript(context.Background(), testPayload()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != defaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", defaultMaxAttempts, calls.Load())
	}
}

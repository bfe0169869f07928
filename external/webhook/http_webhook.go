package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/webhook"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultMaxAttempts    = 3
	defaultRetryBackoff   = time.Second
	maxErrorBodyBytes     = 512
)

type HTTPSender struct {
	webhookURL  string
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
}

func NewHTTPSender(webhookURL string) webhook.Sender {
	return &HTTPSender{
		webhookURL:  strings.TrimSpace(webhookURL),
		client:      &http.Client{Timeout: defaultRequestTimeout},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
	}
}

// statusError is a non-2xx answer. Only 5xx and 429 are retried.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

func (e *statusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptWebhookPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = s.post(ctx, payload.SchemaVersion, b)
		if err == nil || attempt >= s.maxAttempts || !isRetryable(err) {
			return err
		}
		slog.Warn("webhook delivery failed; retrying", "session_id", payload.SessionID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook retry aborted: %w", ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
}

func (s *HTTPSender) post(ctx context.Context, schemaVersion string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kaigiroku-Schema-Version", schemaVersion)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

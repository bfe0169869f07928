package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

type Request struct {
	Model          string
	System         string
	Prompt         string
	Temperature    float64
	ResponseFormat ResponseFormat
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

var (
	ErrEmptyResponse = errors.New("language model returned an empty response")
	ErrUnavailable   = errors.New("language model is temporarily unavailable")
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("language model returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// TransportError wraps network failures talking to the service.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("language model transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

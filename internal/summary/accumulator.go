package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/llm"
)

var ErrReconcileInProgress = errors.New("reconcile already in progress for this conversation")

type ReconcileErrorKind string

const (
	ReconcileErrorTransport ReconcileErrorKind = "transport"
	ReconcileErrorParse     ReconcileErrorKind = "parse"
)

// ReconcileError is returned together with the previous outline when the
// model could not be reached or its answer was unusable.
type ReconcileError struct {
	Kind ReconcileErrorKind
	Err  error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("outline reconciliation failed (%s): %v", e.Kind, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

type Config struct {
	Model       string
	RecentLines int
	// IdleTTL drops a conversation from the registry once it has received no
	// new lines for this long. Zero keeps conversations forever.
	IdleTTL time.Duration
}

// Accumulator owns one conversation's memory and outline. AppendTranscript is
// safe for concurrent use; Reconcile admits a single caller at a time.
type Accumulator struct {
	client llm.Client
	cfg    Config

	reconcileMu sync.Mutex

	mu         sync.Mutex
	memory     []string
	outline    Outline
	reconciled int
}

func NewAccumulator(client llm.Client, cfg Config, previous Outline) *Accumulator {
	return &Accumulator{
		client:  client,
		cfg:     cfg,
		outline: previous.Clone(),
	}
}

// AppendTranscript adds each non-empty trimmed line of text to memory unless
// it repeats the most recent line. It reports how many lines were added.
func (a *Accumulator) AppendTranscript(text string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n := len(a.memory); n > 0 && a.memory[n-1] == line {
			continue
		}
		a.memory = append(a.memory, line)
		added++
	}
	return added
}

func (a *Accumulator) Memory() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.memory))
	copy(out, a.memory)
	return out
}

func (a *Accumulator) Outline() Outline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outline.Clone()
}

// Dirty reports whether memory has lines the outline has not seen yet.
func (a *Accumulator) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.memory) > a.reconciled
}

// Reconcile folds new memory lines into the outline. On failure it returns the
// previous outline unchanged together with a *ReconcileError.
func (a *Accumulator) Reconcile(ctx context.Context) (Outline, error) {
	if !a.reconcileMu.TryLock() {
		return a.Outline(), ErrReconcileInProgress
	}
	defer a.reconcileMu.Unlock()

	a.mu.Lock()
	memory := make([]string, len(a.memory))
	copy(memory, a.memory)
	previous := a.outline.Clone()
	reconciled := a.reconciled
	a.mu.Unlock()

	if len(memory) == reconciled {
		return previous, nil
	}

	prompt, err := buildReconcilePrompt(memory, previous, a.cfg.RecentLines)
	if err != nil {
		return previous, &ReconcileError{Kind: ReconcileErrorParse, Err: err}
	}
	raw, err := a.client.Complete(ctx, llm.Request{
		Model:          a.cfg.Model,
		System:         reconcileSystemPrompt,
		Prompt:         prompt,
		Temperature:    0,
		ResponseFormat: llm.ResponseFormatJSON,
	})
	if err != nil {
		return previous, &ReconcileError{Kind: ReconcileErrorTransport, Err: err}
	}
	next, err := ParseOutline(raw)
	if err != nil {
		slog.Warn("discarding malformed outline response", "error", err, "response_bytes", len(raw))
		return previous, &ReconcileError{Kind: ReconcileErrorParse, Err: err}
	}
	merged := mergeOutline(previous, next)

	a.mu.Lock()
	a.outline = merged
	a.reconciled = len(memory)
	a.mu.Unlock()
	return merged.Clone(), nil
}

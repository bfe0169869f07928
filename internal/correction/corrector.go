package correction

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/llm"
)

const systemPrompt = `You correct speech recognition output from a live meeting.
Fix obvious recognition mistakes, punctuation and casing only.
Keep the original language, wording and meaning. Do not summarize, translate or add content.
Reply with the corrected sentence and nothing else.`

type Config struct {
	Model   string
	Timeout time.Duration
}

// Corrector never fails: any error, timeout or empty answer yields the input.
type Corrector struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

func NewCorrector(client llm.Client, cfg Config) *Corrector {
	return &Corrector{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

func (c *Corrector) Correct(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.client.Complete(ctx, llm.Request{
		Model:          c.model,
		System:         systemPrompt,
		Prompt:         text,
		Temperature:    0,
		ResponseFormat: llm.ResponseFormatText,
	})
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			slog.Debug("correction canceled", "error", err)
		case errors.Is(err, context.DeadlineExceeded):
			slog.Warn("correction timed out; keeping original", "timeout", c.timeout.String())
		default:
			slog.Warn("correction failed; keeping original", "error", err)
		}
		return text
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return text
	}
	return out
}

// Changed reports whether corrected differs from original once both are trimmed.
func Changed(original, corrected string) bool {
	return strings.TrimSpace(original) != strings.TrimSpace(corrected)
}

package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foxseedlab/kaigiroku/internal/llm"
)

var ErrEmptyText = errors.New("text to summarize is empty")

// Summarize produces a one-shot meeting summary of text. It does not touch any
// conversation state.
func Summarize(ctx context.Context, client llm.Client, model, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	out, err := client.Complete(ctx, llm.Request{
		Model:          model,
		Prompt:         fmt.Sprintf(summarizePrompt, text),
		ResponseFormat: llm.ResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

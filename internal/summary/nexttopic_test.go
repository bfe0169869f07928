package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/foxseedlab/kaigiroku/internal/llm"
)

func TestSuggestNextTopic_UnfinishedSection(t *testing.T) {
	client := &mockLLM{responses: []string{"* cover hiring plan\n* assign owners"}}
	outline := Outline{
		{ID: "1", Title: "Budget review", Content: "Q3 numbers"},
		{ID: "2", Title: "Hiring plan", Content: "Two engineers"},
		{ID: "3", Title: "Roadmap", Content: "H2"},
		{ID: "4", Title: "Retro", Content: "Sprint 12"},
	}

	got, err := SuggestNextTopic(context.Background(), client, "gpt-4o", NextTopicRequest{
		Outline:          outline,
		RecentTranscript: "We just finished the BUDGET REVIEW for this quarter.",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.SectionTitle != "Hiring plan" || got.Confidence != 1.0 {
		t.Fatalf("unexpected suggestion: %+v", got)
	}
	if got.Markdown != "* cover hiring plan\n* assign owners" {
		t.Fatalf("unexpected markdown: %q", got.Markdown)
	}
	prompt := client.requests[0].Prompt
	if !strings.Contains(prompt, "### Hiring plan") || !strings.Contains(prompt, "### Roadmap") || strings.Contains(prompt, "### Retro") {
		t.Fatalf("expected the first two unfinished sections in prompt: %s", prompt)
	}
}

func TestSuggestNextTopic_NoOutline(t *testing.T) {
	client := &mockLLM{responses: []string{"* wrap up"}}
	got, err := SuggestNextTopic(context.Background(), client, "gpt-4o", NextTopicRequest{RecentTranscript: "hello"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.SectionTitle != "" || got.Confidence != 0.3 {
		t.Fatalf("unexpected suggestion: %+v", got)
	}
	if !strings.Contains(client.requests[0].Prompt, "free-flow speech") {
		t.Fatal("expected free-flow placeholder in prompt")
	}
	if client.requests[0].ResponseFormat != llm.ResponseFormatText {
		t.Fatalf("expected text response format, got %q", client.requests[0].ResponseFormat)
	}
}

func TestSuggestNextTopic_ModelError(t *testing.T) {
	_, err := SuggestNextTopic(context.Background(), &mockLLM{err: errors.New("down")}, "m", NextTopicRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSummarize(t *testing.T) {
	client := &mockLLM{responses: []string{"  - Topics: launch  "}}
	got, err := Summarize(context.Background(), client, "gpt-4o-mini", "we discussed the launch")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "- Topics: launch" {
		t.Fatalf("unexpected summary: %q", got)
	}
	if !strings.Contains(client.requests[0].Prompt, "we discussed the launch") {
		t.Fatal("expected text in prompt")
	}
	if _, err := Summarize(context.Background(), client, "m", "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected empty text error, got %v", err)
	}
}

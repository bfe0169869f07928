package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/foxseedlab/kaigiroku/internal/llm"
)

const (
	unfinishedTitlePrefix  = 25
	maxUnfinishedSections  = 2
	maxRecentTranscriptLen = 1200
	nextTopicTemperature   = 0.3
)

type NextTopicRequest struct {
	Outline             Outline
	RecentTranscript    string
	PresentationOutline string
}

type NextTopic struct {
	Markdown     string  `json:"markdown"`
	SectionTitle string  `json:"section_title,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// SuggestNextTopic asks the model what the speaker should cover next, focusing
// on outline sections whose titles have not come up in the recent transcript.
func SuggestNextTopic(ctx context.Context, client llm.Client, model string, req NextTopicRequest) (NextTopic, error) {
	unfinished := unfinishedSections(req.Outline, req.RecentTranscript)
	out, err := client.Complete(ctx, llm.Request{
		Model:          model,
		Prompt:         buildNextTopicPrompt(unfinished, req.PresentationOutline, req.RecentTranscript),
		Temperature:    nextTopicTemperature,
		ResponseFormat: llm.ResponseFormatText,
	})
	if err != nil {
		return NextTopic{}, fmt.Errorf("suggest next topic: %w", err)
	}

	res := NextTopic{Markdown: strings.TrimSpace(out), Confidence: 0.3}
	if len(unfinished) > 0 {
		res.SectionTitle = unfinished[0].Title
		res.Confidence = 1.0
	}
	return res, nil
}

func unfinishedSections(outline Outline, transcript string) []Section {
	tx := strings.ToLower(transcript)
	var out []Section
	for _, s := range outline {
		key := []rune(strings.ToLower(s.Title))
		if len(key) > unfinishedTitlePrefix {
			key = key[:unfinishedTitlePrefix]
		}
		if strings.Contains(tx, string(key)) {
			continue
		}
		out = append(out, s)
		if len(out) == maxUnfinishedSections {
			break
		}
	}
	return out
}

func buildNextTopicPrompt(unfinished []Section, presentationOutline, transcript string) string {
	var b strings.Builder
	b.WriteString("You are an expert speech coach.\n\nStructured summary (upcoming sections):\n")
	if len(unfinished) == 0 {
		b.WriteString("(No structured summary, free-flow speech)")
	}
	for i, s := range unfinished {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s", s.Title, s.Content)
	}
	if presentationOutline != "" {
		fmt.Fprintf(&b, "\n\n---\nPresentation outline (full):\n%s", presentationOutline)
	}

	recent := []rune(transcript)
	if len(recent) > maxRecentTranscriptLen {
		recent = recent[len(recent)-maxRecentTranscriptLen:]
	}
	fmt.Fprintf(&b, "\n\nRecent transcript (speaker just said):\n\"\"\"%s\"\"\"\n\n", string(recent))
	b.WriteString("Write what the speaker should cover next as 3-6 concise bullet points (max 15 words each).\n")
	b.WriteString("Output strictly a Markdown bullet list, like:\n\n* point one\n* point two\n")
	return b.String()
}

package summary

import (
	"encoding/json"
	"fmt"
	"strings"
)

const reconcileSystemPrompt = `You maintain a hierarchical structured summary of a live meeting.
Return JSON only: an object {"sections":[{"id":"1","title":"...","content":"..."}]}.
Section ids are dotted numbers (1, 1.1, 1.2, 1.2.1); a parent always precedes its children.
Rules:
- Return every existing section. Leave sections the latest lines do not affect exactly as they are.
- Add or amend sections only where the latest lines introduce materially new content.
- Ignore filler, greetings and small talk. Never invent a section for them.
- Keep hierarchical id ordering.`

const summarizePrompt = `You are a meeting assistant. Extract a structured summary of the meeting below.

%s

Output:
- Topics:
- Key points:
- Action items (task, owner, due date):`

func buildReconcilePrompt(memory []string, previous Outline, recentLines int) (string, error) {
	prev := previous
	if prev == nil {
		prev = Outline{}
	}
	prevJSON, err := json.Marshal(prev)
	if err != nil {
		return "", fmt.Errorf("encode previous outline: %w", err)
	}

	recent := memory
	if recentLines > 0 && len(recent) > recentLines {
		recent = recent[len(recent)-recentLines:]
	}

	var b strings.Builder
	b.WriteString("Meeting history:\n")
	b.WriteString(strings.Join(memory, "\n"))
	b.WriteString("\n\nCurrent outline:\n")
	b.Write(prevJSON)
	b.WriteString("\n\nLatest lines:\n")
	b.WriteString(strings.Join(recent, "\n"))
	b.WriteString("\n\nReturn the updated outline.")
	return b.String(), nil
}

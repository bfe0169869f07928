package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrEmptySectionID   = errors.New("section id is empty")
	ErrEmptyTitle       = errors.New("section title is empty")
	ErrDuplicateSection = errors.New("duplicate section id")
	ErrMalformedID      = errors.New("malformed section id")
	ErrOrphanSection    = errors.New("section appears before its parent")
)

// Section is one numbered node of an outline. IDs are dotted positive
// integers ("1", "1.2", "1.2.3").
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Outline []Section

func (o Outline) Clone() Outline {
	if o == nil {
		return nil
	}
	out := make(Outline, len(o))
	copy(out, o)
	return out
}

func (o Outline) Validate() error {
	seen := make(map[string]struct{}, len(o))
	for i, s := range o {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("section %d: %w", i, ErrEmptySectionID)
		}
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("section %q: %w", s.ID, ErrEmptyTitle)
		}
		if _, ok := parseSectionID(s.ID); !ok {
			return fmt.Errorf("section %q: %w", s.ID, ErrMalformedID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("section %q: %w", s.ID, ErrDuplicateSection)
		}
		if parent := parentID(s.ID); parent != "" {
			if _, ok := seen[parent]; !ok {
				return fmt.Errorf("section %q: %w", s.ID, ErrOrphanSection)
			}
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func (o Outline) index(id string) int {
	for i, s := range o {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func parseSectionID(id string) ([]int, bool) {
	parts := strings.Split(id, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || p != strconv.Itoa(n) {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func parentID(id string) string {
	i := strings.LastIndex(id, ".")
	if i < 0 {
		return ""
	}
	return id[:i]
}

// compareSectionIDs orders IDs numerically per level; a parent sorts before
// its children.
func compareSectionIDs(a, b string) int {
	pa, _ := parseSectionID(a)
	pb, _ := parseSectionID(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	default:
		return 0
	}
}

// mergeOutline keeps every section of next and re-inserts any previous section
// the model left out, so reconciliation never loses prior work.
func mergeOutline(previous, next Outline) Outline {
	merged := next.Clone()
	for _, s := range previous {
		if merged.index(s.ID) >= 0 {
			continue
		}
		start := 0
		if parent := parentID(s.ID); parent != "" {
			start = merged.index(parent) + 1
		}
		pos := len(merged)
		for i := start; i < len(merged); i++ {
			if compareSectionIDs(merged[i].ID, s.ID) > 0 {
				pos = i
				break
			}
		}
		merged = append(merged, Section{})
		copy(merged[pos+1:], merged[pos:])
		merged[pos] = s
	}
	return merged
}

type outlineEnvelope struct {
	Sections []Section `json:"sections"`
	Summary  []Section `json:"summary"`
}

// ParseOutline accepts either a bare JSON array of sections or an object
// wrapping it under "sections" or "summary". Markdown code fences are ignored.
// Sections are returned in hierarchical ID order whatever order the model used.
func ParseOutline(raw string) (Outline, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, errors.New("empty outline response")
	}

	var sections []Section
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &sections); err != nil {
			return nil, fmt.Errorf("decode outline array: %w", err)
		}
	} else {
		var env outlineEnvelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return nil, fmt.Errorf("decode outline object: %w", err)
		}
		switch {
		case env.Sections != nil:
			sections = env.Sections
		case env.Summary != nil:
			sections = env.Summary
		default:
			return nil, errors.New("outline object has no sections")
		}
	}

	out := make(Outline, 0, len(sections))
	for _, s := range sections {
		out = append(out, Section{
			ID:      strings.TrimSpace(s.ID),
			Title:   strings.TrimSpace(s.Title),
			Content: strings.TrimSpace(s.Content),
		})
	}
	slices.SortStableFunc(out, func(a, b Section) int {
		return compareSectionIDs(a.ID, b.ID)
	})
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

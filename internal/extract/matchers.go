package extract

import (
	"regexp"
	"strings"
)

// Candidate is one step occurrence found in a phase note, in note order.
type Candidate struct {
	Index       string
	Description string
}

// Matcher recognizes one way the upstream source encodes steps in prose.
type Matcher interface {
	Name() string
	// TryMatch returns every occurrence in the note, or nil when the note
	// does not use this encoding.
	TryMatch(note string) []Candidate
}

type patternMatcher struct {
	name string
	re   *regexp.Regexp
}

func (m patternMatcher) Name() string { return m.name }

func (m patternMatcher) TryMatch(note string) []Candidate {
	matches := m.re.FindAllStringSubmatch(note, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(matches))
	for _, groups := range matches {
		c := Candidate{Index: strings.TrimSpace(groups[1])}
		if len(groups) > 2 {
			c.Description = strings.TrimSpace(groups[2])
		}
		out = append(out, c)
	}
	return out
}

// Matchers returns the ordered cascade, most specific first. The first
// matcher producing a non-empty set wins for a given note; matchers are
// never combined across types for the same note, which avoids extracting
// the same fragment twice.
func Matchers() []Matcher {
	return []Matcher{
		patternMatcher{
			name: "label_index",
			re:   regexp.MustCompile(`(?im)StepTaskOutput\s*(\d+\.\d+[a-z]*)\s*[-:.]?\s*([^;\n]*)`),
		},
		patternMatcher{
			name: "keyword_index",
			re:   regexp.MustCompile(`(?im)(?:Step|Task)\s*(\d+(?:\.\d+)?[a-z]*)\s*[-:.]?\s*([^;\n]*)`),
		},
		patternMatcher{
			name: "leading_index",
			re:   regexp.MustCompile(`(?m)^\s*(\d+\.\d+[a-zA-Z]*)\s*-\s*([A-Za-z][^\n]*)`),
		},
		patternMatcher{
			name: "milestone_index",
			re:   regexp.MustCompile(`(?im)Milestone\s*(\d+(?:\.\d+)?[a-z]*)\s*[-:.]?\s*([^;\n]*)`),
		},
	}
}

package analyzer

import (
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/skellig/convoke/pkg/models"
)

// Lexicon maps domain-indicative keywords to capability tags. It is
// configuration, not logic: hosts swap it at runtime without recompiling.
type Lexicon struct {
	// Capabilities maps each capability tag to the keywords that imply it.
	Capabilities map[models.Capability][]string `yaml:"capabilities"`
	// Priorities orders capability tags from most to least critical.
	// The order drives sequential dispatch, hierarchical lead selection,
	// and timeout criticality.
	Priorities []models.Capability `yaml:"priorities"`
}

// DefaultLexicon returns the built-in keyword mapping.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Capabilities: map[models.Capability][]string{
			"reasoning": {
				"why", "how", "explain", "plan", "design", "architect",
				"decide", "tradeoff", "compare",
			},
			"security-scan": {
				"security", "vulnerability", "injection", "exploit",
				"cve", "risk", "credential", "secret", "sanitize",
			},
			"code-analysis": {
				"code", "function", "refactor", "bug", "review",
				"lint", "complexity", "dead code",
			},
			"testing": {
				"test", "coverage", "regression", "flaky", "assertion",
			},
			"documentation": {
				"docs", "documentation", "readme", "changelog", "comment",
			},
		},
		Priorities: []models.Capability{
			"reasoning", "security-scan", "code-analysis", "testing", "documentation",
		},
	}
}

// Validate checks the lexicon for internal consistency.
func (l *Lexicon) Validate() error {
	if len(l.Capabilities) == 0 {
		return fmt.Errorf("lexicon defines no capabilities")
	}
	for cap, keywords := range l.Capabilities {
		if len(keywords) == 0 {
			return fmt.Errorf("capability %q has no keywords", cap)
		}
	}
	for _, cap := range l.Priorities {
		if _, ok := l.Capabilities[cap]; !ok {
			return fmt.Errorf("priority entry %q is not a defined capability", cap)
		}
	}
	return nil
}

// PriorityIndex returns the rank of a capability in the priority order.
// Capabilities missing from the priority list rank after all listed ones,
// ordered by tag for determinism.
func (l *Lexicon) PriorityIndex(cap models.Capability) int {
	for i, c := range l.Priorities {
		if c == cap {
			return i
		}
	}
	return len(l.Priorities)
}

// SortByPriority orders capability tags by priority rank, tag as tie-break.
func (l *Lexicon) SortByPriority(caps []models.Capability) {
	sort.SliceStable(caps, func(i, j int) bool {
		pi, pj := l.PriorityIndex(caps[i]), l.PriorityIndex(caps[j])
		if pi != pj {
			return pi < pj
		}
		return caps[i] < caps[j]
	})
}

// LoadLexicon reads a lexicon from a YAML file.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}

	lex := &Lexicon{}
	if err := yaml.Unmarshal(data, lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if err := lex.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lexicon %s: %w", path, err)
	}
	return lex, nil
}

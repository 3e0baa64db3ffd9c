// Package analyzer derives routing decisions from raw request text.
// It never fails: unrecognizable input yields a trivial analysis that
// signals best-effort handling with no specialist routing.
package analyzer

import (
	"strings"
	"sync/atomic"

	"github.com/skellig/convoke/pkg/models"
)

// simpleWordLimit is the word count under which a one-capability request
// still counts as simple.
const simpleWordLimit = 40

// multiStepPhrases indicate explicit multi-step language that promotes a
// request to complex regardless of capability count.
var multiStepPhrases = []string{
	"step by step",
	"first",
	"then",
	"after that",
	"finally",
	"multi-step",
}

// Analyzer infers required capabilities, complexity, and a coordination
// strategy for incoming requests.
type Analyzer struct {
	// lex is swapped atomically on hot reload; Analyze never blocks on it.
	lex atomic.Pointer[Lexicon]
	// complexStrategy is used for complex requests.
	complexStrategy models.Strategy
}

// New creates an Analyzer.
// A nil lexicon falls back to the built-in default; an invalid complex
// strategy falls back to hierarchical.
func New(lex *Lexicon, complexStrategy models.Strategy) *Analyzer {
	if lex == nil {
		lex = DefaultLexicon()
	}
	if complexStrategy != models.StrategyHierarchical && complexStrategy != models.StrategyConsensus {
		complexStrategy = models.StrategyHierarchical
	}
	a := &Analyzer{complexStrategy: complexStrategy}
	a.lex.Store(lex)
	return a
}

// Lexicon returns the currently active lexicon.
func (a *Analyzer) Lexicon() *Lexicon {
	return a.lex.Load()
}

// SetLexicon swaps the active lexicon. In-flight Analyze calls keep the
// lexicon they loaded; new calls see the replacement.
func (a *Analyzer) SetLexicon(lex *Lexicon) {
	if lex == nil {
		return
	}
	a.lex.Store(lex)
}

// Analyze inspects a request and returns the ordered capability list,
// complexity class, and coordination strategy. It never returns an error;
// empty or unparseable input produces zero capabilities and simple
// complexity.
func (a *Analyzer) Analyze(req models.TaskRequest) models.TaskAnalysis {
	lex := a.lex.Load()
	text := strings.ToLower(req.Text)

	caps := a.inferCapabilities(lex, text)
	complexity := a.estimateComplexity(text, len(caps))
	strategy := a.selectStrategy(complexity)

	return models.TaskAnalysis{
		Capabilities: caps,
		Complexity:   complexity,
		Strategy:     strategy,
	}
}

// inferCapabilities scans lowered text for lexicon keywords and returns
// the matched capabilities in priority order.
func (a *Analyzer) inferCapabilities(lex *Lexicon, text string) []models.Capability {
	if text == "" {
		return nil
	}

	var matched []models.Capability
	for cap, keywords := range lex.Capabilities {
		for _, kw := range keywords {
			if containsWord(text, strings.ToLower(kw)) {
				matched = append(matched, cap)
				break
			}
		}
	}
	lex.SortByPriority(matched)
	return matched
}

// estimateComplexity classifies the request from word count, capability
// count, and multi-step phrasing.
func (a *Analyzer) estimateComplexity(text string, capCount int) models.Complexity {
	words := len(strings.Fields(text))

	if capCount >= 4 {
		return models.ComplexityComplex
	}
	for _, phrase := range multiStepPhrases {
		// Word-boundary match, so "then" inside "authentication" does
		// not count as multi-step language.
		if containsWord(text, phrase) {
			return models.ComplexityComplex
		}
	}
	if capCount >= 2 {
		return models.ComplexityModerate
	}
	// Length only promotes requests that matched something; keyword-free
	// input stays simple no matter how long it rambles.
	if capCount >= 1 && words > simpleWordLimit {
		return models.ComplexityModerate
	}
	return models.ComplexitySimple
}

// selectStrategy maps complexity to a coordination strategy.
func (a *Analyzer) selectStrategy(c models.Complexity) models.Strategy {
	switch c {
	case models.ComplexityComplex:
		return a.complexStrategy
	case models.ComplexityModerate:
		return models.StrategyParallel
	default:
		// A simple request is a degenerate one-worker sequential dispatch.
		return models.StrategySequential
	}
}

// containsWord reports whether text contains kw on word boundaries, so
// "risk" does not match "asterisk". Multi-word keywords match as
// substrings.
func containsWord(text, kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(text, kw)
	}
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

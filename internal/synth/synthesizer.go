// Package synth merges the partial outcomes of one dispatch batch into a
// single coordination result: a merged payload, a ranked recommendation
// list, an aggregate confidence score, and full provenance.
package synth

import (
	"sort"
	"strings"
	"time"

	"github.com/skellig/convoke/pkg/models"
)

// defaultRankKeywords orders recommendations from most to least urgent.
// A recommendation is ranked by the first keyword it contains; ties keep
// first-seen order.
var defaultRankKeywords = []string{"critical", "urgent", "security", "vulnerability", "warning"}

// Synthesizer builds coordination results from worker outcomes.
type Synthesizer struct {
	rankKeywords []string
}

// New creates a Synthesizer. A nil keyword list uses the defaults.
func New(rankKeywords []string) *Synthesizer {
	if rankKeywords == nil {
		rankKeywords = defaultRankKeywords
	}
	return &Synthesizer{rankKeywords: rankKeywords}
}

// Synthesize merges a dispatch batch into one result. The outcome slice
// order does not matter; determinism comes from the ranking rules. Under
// consensus, competing answers for the same capability are reconciled by
// majority agreement before merging.
func (s *Synthesizer) Synthesize(requestID string, strategy models.Strategy, outcomes []models.WorkerOutcome) *models.CoordinationResult {
	result := &models.CoordinationResult{
		RequestID:   requestID,
		Strategy:    strategy,
		Attempted:   len(outcomes),
		CompletedAt: time.Now(),
	}

	successes := make([]models.WorkerOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Success {
			successes = append(successes, o)
		} else {
			result.Failures = append(result.Failures, o)
		}
	}

	if result.Attempted > 0 {
		result.Confidence = float64(len(successes)) / float64(result.Attempted)
	}

	// Stable contribution order: worker ID, so merge output does not
	// depend on goroutine completion order.
	sort.SliceStable(successes, func(i, j int) bool {
		return successes[i].WorkerID < successes[j].WorkerID
	})

	// Provenance always retains every successful outcome unmodified.
	// Under consensus only the majority answers feed the merged payload.
	result.Provenance = successes
	contributors := successes
	if strategy == models.StrategyConsensus {
		contributors = reconcile(successes)
	}

	result.Summary = mergeSummaries(contributors)
	result.MergedData = mergeData(contributors)
	result.Recommendations = s.mergeRecommendations(contributors)
	return result
}

// mergeSummaries joins the successful workers' summaries.
func mergeSummaries(successes []models.WorkerOutcome) string {
	var parts []string
	for _, o := range successes {
		if o.Payload.Summary != "" {
			parts = append(parts, o.Payload.Summary)
		}
	}
	return strings.Join(parts, "\n\n")
}

// mergeData combines structured payloads. The first contribution for a
// key wins; later workers never overwrite earlier ones.
func mergeData(successes []models.WorkerOutcome) map[string]any {
	var merged map[string]any
	for _, o := range successes {
		for k, v := range o.Payload.Data {
			if merged == nil {
				merged = make(map[string]any)
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}
	return merged
}

// mergeRecommendations deduplicates recommendations by exact text and
// orders them by priority keyword; ties preserve first-seen order.
func (s *Synthesizer) mergeRecommendations(successes []models.WorkerOutcome) []string {
	var recs []string
	seen := make(map[string]bool)
	for _, o := range successes {
		for _, r := range o.Payload.Recommendations {
			if r == "" || seen[r] {
				continue
			}
			seen[r] = true
			recs = append(recs, r)
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return s.rank(recs[i]) < s.rank(recs[j])
	})
	return recs
}

// rank returns the index of the first priority keyword the text contains,
// or len(rankKeywords) for generic recommendations.
func (s *Synthesizer) rank(text string) int {
	lower := strings.ToLower(text)
	for i, kw := range s.rankKeywords {
		if strings.Contains(lower, kw) {
			return i
		}
	}
	return len(s.rankKeywords)
}

// reconcile resolves consensus fan-out: outcomes are grouped by their
// capability and each group is reduced to its majority answer, votes
// counted by exact summary match with ties broken by first-seen order.
// Outcomes that span several capabilities or carry none pass through.
func reconcile(successes []models.WorkerOutcome) []models.WorkerOutcome {
	type group struct {
		cap     models.Capability
		members []models.WorkerOutcome
	}
	var groups []*group
	byCap := make(map[models.Capability]*group)
	var passthrough []models.WorkerOutcome

	for _, o := range successes {
		if len(o.Capabilities) != 1 {
			passthrough = append(passthrough, o)
			continue
		}
		cap := o.Capabilities[0]
		g, ok := byCap[cap]
		if !ok {
			g = &group{cap: cap}
			byCap[cap] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, o)
	}

	var out []models.WorkerOutcome
	for _, g := range groups {
		out = append(out, majority(g.members))
	}
	return append(out, passthrough...)
}

// majority returns the member whose summary received the most votes.
func majority(members []models.WorkerOutcome) models.WorkerOutcome {
	if len(members) == 1 {
		return members[0]
	}

	votes := make(map[string]int)
	for _, m := range members {
		votes[m.Payload.Summary]++
	}

	best := members[0]
	bestVotes := votes[best.Payload.Summary]
	for _, m := range members[1:] {
		if v := votes[m.Payload.Summary]; v > bestVotes {
			best = m
			bestVotes = v
		}
	}
	return best
}

// Package supervisor implements the routing decision (C7): a pure rule
// table maps a query plus caller hints to a retrieval strategy, with an
// optional LLM classifier consulted only when the rule table is ambiguous.
package supervisor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

var (
	outageVocabulary  = []string{"down", "outage", "status page", "latest", "current"}
	logVocabulary     = []string{"logs", "exception", "stack trace", "error rate"}
	errorVocabulary   = []string{"error", "failing", "failure", "crash"}
	identifierPattern = regexp.MustCompile(`[A-Z]{2,}-\d+`)
)

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// Decide runs the ordered rule table against query and hints. The first
// matching rule wins; rule 6 (Compression) is the unconditional default.
// The returned rationale is always <= 200 characters and names the rule
// (or the LLM) that produced the decision.
func Decide(query string, hints ragtypes.Hints) ragtypes.QueryPlan {
	if containsAny(query, outageVocabulary) {
		return ragtypes.QueryPlan{Strategy: ragtypes.StrategyWebSearch, Rationale: "rule 1: outage/status vocabulary present", Urgent: hints.ProductionIncident}
	}
	if identifierPattern.MatchString(query) {
		return ragtypes.QueryPlan{Strategy: ragtypes.StrategyBM25, Rationale: "rule 2: query contains a ticket identifier pattern", Urgent: hints.ProductionIncident}
	}
	if containsAny(query, logVocabulary) || (hints.ProductionIncident && containsAny(query, errorVocabulary)) {
		return ragtypes.QueryPlan{Strategy: ragtypes.StrategyLogSearch, Rationale: "rule 3: log vocabulary or production incident with error vocabulary", Urgent: hints.ProductionIncident}
	}
	if hints.UserCanWait {
		return ragtypes.QueryPlan{Strategy: ragtypes.StrategyEnsemble, Rationale: "rule 4: user_can_wait is true", Urgent: hints.ProductionIncident}
	}
	if hints.ProductionIncident {
		return ragtypes.QueryPlan{Strategy: ragtypes.StrategyCompression, Rationale: "rule 5: production incident, urgent default", Urgent: true}
	}
	return ragtypes.QueryPlan{Strategy: ragtypes.StrategyCompression, Rationale: "rule 6: default", Urgent: false}
}

// ruleDefaultRationale is the rationale text Decide emits when no rule
// beyond the unconditional default fired — the only case in which the
// optional LLM classifier may override the plan.
const ruleDefaultRationale = "rule 6: default"

const classifySystemPrompt = `You choose a retrieval strategy for a support query. Choices: BM25, Compression, Ensemble, WebSearch, LogSearch.
Respond with a JSON object: {"strategy": "one of the choices above", "rationale": "short reason, under 200 characters"}`

type classification struct {
	Strategy  string `json:"strategy"`
	Rationale string `json:"rationale"`
}

var validStrategies = map[string]ragtypes.StrategyName{
	"BM25":        ragtypes.StrategyBM25,
	"Compression": ragtypes.StrategyCompression,
	"Ensemble":    ragtypes.StrategyEnsemble,
	"WebSearch":   ragtypes.StrategyWebSearch,
	"LogSearch":   ragtypes.StrategyLogSearch,
}

// DecideWithClassifier runs Decide and, only when the rule table produced
// the unconditional default (no rule 1-5 fired), consults the LLM
// classifier for a second opinion. A classifier error, an unconfigured
// client, or an unrecognized strategy name leaves the rule-table decision
// untouched.
func DecideWithClassifier(ctx context.Context, query string, hints ragtypes.Hints, llmClient *llm.Client) ragtypes.QueryPlan {
	plan := Decide(query, hints)
	if plan.Rationale != ruleDefaultRationale || !llmClient.Configured() {
		return plan
	}

	var c classification
	if err := llmClient.CompleteJSON(ctx, llm.TierStrong, classifySystemPrompt, query, &c); err != nil {
		return plan
	}
	strategy, ok := validStrategies[c.Strategy]
	if !ok {
		return plan
	}
	rationale := c.Rationale
	if rationale == "" {
		rationale = fmt.Sprintf("LLM classifier chose %s", c.Strategy)
	}
	if len(rationale) > 200 {
		rationale = rationale[:200]
	}
	return ragtypes.QueryPlan{Strategy: strategy, Rationale: rationale, Urgent: plan.Urgent}
}

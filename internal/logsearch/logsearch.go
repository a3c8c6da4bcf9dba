// Package logsearch implements the LogSearch strategy (C6): an LLM plans a
// small set of exception/time-window log queries for production-incident
// requests, a narrow Provider runs them concurrently against a log store.
package logsearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

// Known exception categories the planner is steered toward. Extensible by
// config: callers can pass additional categories into New.
const (
	ExceptionCertificateExpiry  = "certificate_expiry"
	ExceptionHTTP5xx            = "http_5xx"
	ExceptionDiskSpaceExceeded  = "disk_space_exceeded"
	ExceptionDeadLetterExceeded = "dead_letter_queue_exceeded"
)

func defaultCategories() []string {
	return []string{ExceptionCertificateExpiry, ExceptionHTTP5xx, ExceptionDiskSpaceExceeded, ExceptionDeadLetterExceeded}
}

// Query is one planned log search: a free-text filter plus a time window.
type Query struct {
	Filter string
	Since  time.Time
	Until  time.Time
}

// Entry is a single log hit from a Provider.
type Entry struct {
	Service   string
	Message   string
	Timestamp time.Time
	Severity  string
}

// Provider runs one planned log query against whatever log store the
// deployment uses. No concrete log-store SDK appears in the example pack,
// so this interface stays narrow.
type Provider interface {
	Search(ctx context.Context, q Query) ([]Entry, error)
}

const planSystemPrompt = `You plan log searches for a support engineer investigating a production incident.
Known exception categories: %s.
Respond with a JSON object: {"filters": ["filter text 1", "filter text 2"]}
Produce at most 3 short log filter strings (e.g. a service name plus an exception category). Do not invent ticket IDs.`

// Strategy is the LogSearch retrieval strategy.
type Strategy struct {
	provider    Provider
	llmClient   *llm.Client
	maxSearches int
	window      time.Duration
	categories  []string
}

// New builds the LogSearch strategy. maxSearches bounds fan-out (config's
// log_max_searches, default 3); window is how far back each query looks
// (default 24h).
func New(provider Provider, llmClient *llm.Client, maxSearches int, window time.Duration, categories []string) *Strategy {
	if maxSearches <= 0 {
		maxSearches = 3
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	categories = append(defaultCategories(), categories...)
	return &Strategy{provider: provider, llmClient: llmClient, maxSearches: maxSearches, window: window, categories: categories}
}

func (s *Strategy) Name() ragtypes.StrategyName { return ragtypes.StrategyLogSearch }

type searchPlan struct {
	Filters []string `json:"filters"`
}

// Retrieve plans up to maxSearches log filters (via the LLM if configured,
// otherwise the original query verbatim) and runs them concurrently over a
// fixed trailing time window. A malformed plan falls back to a single
// search on the original query.
func (s *Strategy) Retrieve(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error) {
	now := time.Now()
	plannedFilters := s.plan(ctx, query)

	queries := make([]Query, len(plannedFilters))
	for i, f := range plannedFilters {
		queries[i] = Query{Filter: f, Since: now.Add(-s.window), Until: now}
	}

	perQuery := make([][]Entry, len(queries))
	failed := make([]bool, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			entries, err := s.provider.Search(gctx, q)
			if err != nil {
				failed[i] = true
				return nil
			}
			perQuery[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	allFailed := true
	for _, f := range failed {
		if !f {
			allFailed = false
			break
		}
	}
	if len(queries) > 0 && allFailed {
		return nil, ragtypes.RetrievalInfo{}, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("all log searches failed"))
	}

	var out []ragtypes.RetrievedContext
	for _, entries := range perQuery {
		for _, e := range entries {
			out = append(out, ragtypes.RetrievedContext{
				Content: e.Message,
				Metadata: map[string]interface{}{
					ragtypes.MetaService:   e.Service,
					ragtypes.MetaSeverity:  e.Severity,
					ragtypes.MetaTimestamp: e.Timestamp.Format(time.RFC3339),
				},
				Source: "logsearch",
				Score:  1.0,
			})
		}
	}

	if len(out) > topK {
		out = out[:topK]
	}
	info := ragtypes.RetrievalInfo{MethodsUsed: []string{"log_search"}, PerStageCounts: map[string]int{"log_search": len(out)}}
	return out, info, nil
}

func (s *Strategy) plan(ctx context.Context, query string) []string {
	if !s.llmClient.Configured() {
		return []string{query}
	}
	var plan searchPlan
	system := fmt.Sprintf(planSystemPrompt, strings.Join(s.categories, ", "))
	if err := s.llmClient.CompleteJSON(ctx, llm.TierFast, system, query, &plan); err != nil || len(plan.Filters) == 0 {
		return []string{query}
	}
	if len(plan.Filters) > s.maxSearches {
		plan.Filters = plan.Filters[:s.maxSearches]
	}
	return plan.Filters
}

// Package websearch implements the WebSearch strategy (C5): an LLM plans a
// small set of web queries for incidents with no internal ticket coverage,
// a narrow Provider runs them concurrently, and results are deduped by URL.
package websearch

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

// Result is a single hit from a web search provider.
type Result struct {
	URL     string
	Title   string
	Snippet string
}

// Provider runs one web search query. No concrete search SDK appears
// anywhere in the example pack, so this interface is deliberately narrow —
// any provider (a hosted search API, a scraping shim) can implement it.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

const planSystemPrompt = `You plan web searches for a support engineer investigating a production issue.
Respond with a JSON object: {"queries": ["query 1", "query 2", "query 3"]}
Produce at most 3 short, specific search queries. Do not invent ticket IDs.`

// Strategy is the WebSearch retrieval strategy.
type Strategy struct {
	provider    Provider
	llmClient   *llm.Client
	maxSearches int
}

// New builds the WebSearch strategy. maxSearches bounds the fan-out
// (config's web_max_searches), defaulting to 3 when <= 0.
func New(provider Provider, llmClient *llm.Client, maxSearches int) *Strategy {
	if maxSearches <= 0 {
		maxSearches = 3
	}
	return &Strategy{provider: provider, llmClient: llmClient, maxSearches: maxSearches}
}

func (s *Strategy) Name() ragtypes.StrategyName { return ragtypes.StrategyWebSearch }

type searchPlan struct {
	Queries []string `json:"queries"`
}

// Retrieve plans up to maxSearches queries (via the LLM if configured,
// otherwise just the original query) and runs them concurrently, deduping
// hits by URL. A malformed plan falls back to a single search on the
// original query rather than failing the strategy.
func (s *Strategy) Retrieve(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error) {
	queries := s.plan(ctx, query)

	perQuery := make([][]Result, len(queries))
	failed := make([]bool, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results, err := s.provider.Search(gctx, q)
			if err != nil {
				failed[i] = true
				return nil
			}
			perQuery[i] = results
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
		return nil, ragtypes.RetrievalInfo{}, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("all web searches failed"))
	}

	seen := make(map[string]struct{})
	var out []ragtypes.RetrievedContext
	for _, results := range perQuery {
		for _, r := range results {
			if r.URL == "" {
				continue
			}
			key := normalizeURL(r.URL)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, ragtypes.RetrievedContext{
				Content: r.Title + "\n" + r.Snippet,
				Metadata: map[string]interface{}{
					ragtypes.MetaURL:   r.URL,
					ragtypes.MetaTitle: r.Title,
				},
				Source: "websearch",
				Score:  1.0,
			})
		}
	}

	if len(out) > topK {
		out = out[:topK]
	}
	info := ragtypes.RetrievalInfo{MethodsUsed: []string{"web"}, PerStageCounts: map[string]int{"web": len(out)}}
	return out, info, nil
}

func (s *Strategy) plan(ctx context.Context, query string) []string {
	if !s.llmClient.Configured() {
		return []string{query}
	}
	var plan searchPlan
	if err := s.llmClient.CompleteJSON(ctx, llm.TierFast, planSystemPrompt, query, &plan); err != nil || len(plan.Queries) == 0 {
		return []string{query}
	}
	if len(plan.Queries) > s.maxSearches {
		plan.Queries = plan.Queries[:s.maxSearches]
	}
	return plan.Queries
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawQuery = ""
	return u.String()
}

package strategies

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/foohm71/cuttlefish4/internal/fusion"
	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

const ensembleExpansionSystemPrompt = `You rewrite a support query into alternate phrasings for search recall.
Respond with a JSON object: {"queries": ["alternate phrasing 1", "alternate phrasing 2"]}
Produce at most 3 alternates, each a short search-style query. Do not repeat the original query.`

// EnsembleStrategy runs four sub-retrievals concurrently, each weighted
// 0.25: multi-query expansion, contextual compression, keyword, and naive
// vector search. It is the "comprehensive" path, selected when the caller
// signals patience.
type EnsembleStrategy struct {
	bm25        *BM25Strategy
	compression *CompressionStrategy
	llmClient   *llm.Client
	maxExpand   int
}

// NewEnsembleStrategy builds the ensemble strategy. llmClient may be
// unconfigured (Configured() == false); the multi-query sub-retrieval is
// simply skipped in that case, not treated as a failure.
func NewEnsembleStrategy(bm25 *BM25Strategy, compression *CompressionStrategy, llmClient *llm.Client) *EnsembleStrategy {
	return &EnsembleStrategy{bm25: bm25, compression: compression, llmClient: llmClient, maxExpand: 3}
}

func (s *EnsembleStrategy) Name() ragtypes.StrategyName { return ragtypes.StrategyEnsemble }

type expansionPlan struct {
	Queries []string `json:"queries"`
}

// Retrieve runs the four sub-retrievals concurrently and fuses whichever
// succeeded at a fixed weight of 0.25 each. All sub-retrievals failing is
// StrategyFailed; when at least one succeeds, the failed ones are left out of
// the fusion and of MethodsUsed, and no StrategyDegraded error or message is
// produced.
func (s *EnsembleStrategy) Retrieve(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error) {
	paraphrases := s.expand(ctx, query)

	type dispatch struct {
		label string
		run   func(ctx context.Context) ([]ragtypes.RetrievedContext, error)
	}
	dispatches := []dispatch{
		{label: "keyword", run: func(ctx context.Context) ([]ragtypes.RetrievedContext, error) {
			results, _, err := s.bm25.Retrieve(ctx, query, filters, topK)
			return results, err
		}},
		{label: "compression", run: func(ctx context.Context) ([]ragtypes.RetrievedContext, error) {
			results, _, err := s.compression.Retrieve(ctx, query, filters, topK)
			return results, err
		}},
		{label: "naive", run: func(ctx context.Context) ([]ragtypes.RetrievedContext, error) {
			results, _, err := s.compression.vectorCandidates(ctx, query, filters, topK)
			return fusion.Topk(results, topK), err
		}},
	}
	if len(paraphrases) > 0 {
		dispatches = append(dispatches, dispatch{label: "multi_query", run: func(ctx context.Context) ([]ragtypes.RetrievedContext, error) {
			return s.multiQueryRetrieve(ctx, paraphrases, filters, topK)
		}})
	}

	subs := make([]subResult, len(dispatches))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range dispatches {
		i, d := i, d
		g.Go(func() error {
			results, err := d.run(gctx)
			subs[i] = subResult{source: d.label, results: results, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if !anySucceeded(subs) {
		return nil, ragtypes.RetrievalInfo{}, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("every ensemble sub-retrieval failed"))
	}

	lists := make([][]ragtypes.RetrievedContext, 0, len(subs))
	weights := make([]float64, 0, len(subs))
	methodsUsed := make([]string, 0, len(subs))
	counts := make(map[string]int, len(subs))
	for _, sr := range subs {
		if sr.err != nil {
			continue
		}
		lists = append(lists, sr.results)
		weights = append(weights, 0.25)
		methodsUsed = append(methodsUsed, sr.source)
		counts[sr.source] = len(sr.results)
	}

	fused := fusion.Fuse(lists, weights)
	info := ragtypes.RetrievalInfo{MethodsUsed: methodsUsed, PerStageCounts: counts}
	return fusion.Topk(fused, topK), info, nil
}

// multiQueryRetrieve runs a naive (unreranked) vector search per paraphrase
// concurrently and unions the results, deduplicating by content.
func (s *EnsembleStrategy) multiQueryRetrieve(ctx context.Context, paraphrases []string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, error) {
	subs := make([]subResult, len(paraphrases))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range paraphrases {
		i, q := i, q
		g.Go(func() error {
			results, _, err := s.compression.vectorCandidates(gctx, q, filters, topK)
			subs[i] = subResult{source: q, results: results, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if !anySucceeded(subs) {
		return nil, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("multi-query expansion failed for every paraphrase"))
	}

	seen := make(map[string]struct{})
	var union []ragtypes.RetrievedContext
	for _, sr := range subs {
		if sr.err != nil {
			continue
		}
		for _, r := range sr.results {
			if _, ok := seen[r.Content]; ok {
				continue
			}
			seen[r.Content] = struct{}{}
			union = append(union, r)
		}
	}
	return fusion.Topk(union, topK), nil
}

// expand asks the LLM for up to maxExpand paraphrases of query. Returns nil
// if the LLM is unconfigured or the plan is malformed; a missing multi-query
// sub-retrieval is not a failure.
func (s *EnsembleStrategy) expand(ctx context.Context, query string) []string {
	if !s.llmClient.Configured() {
		return nil
	}
	var plan expansionPlan
	if err := s.llmClient.CompleteJSON(ctx, llm.TierFast, ensembleExpansionSystemPrompt, query, &plan); err != nil {
		return nil
	}
	if len(plan.Queries) > s.maxExpand {
		plan.Queries = plan.Queries[:s.maxExpand]
	}
	return plan.Queries
}

var _ Strategy = (*EnsembleStrategy)(nil)

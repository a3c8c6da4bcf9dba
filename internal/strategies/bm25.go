package strategies

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/foohm71/cuttlefish4/internal/fusion"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
	"github.com/foohm71/cuttlefish4/internal/ticketstore"
)

// BM25Strategy runs lexical keyword search across both ticket collections
// and fuses the two result lists with equal weight. It is the fast path:
// no embedding call, no LLM call.
type BM25Strategy struct {
	store ticketstore.Store
}

// NewBM25Strategy builds the keyword-search strategy.
func NewBM25Strategy(store ticketstore.Store) *BM25Strategy {
	return &BM25Strategy{store: store}
}

func (s *BM25Strategy) Name() ragtypes.StrategyName { return ragtypes.StrategyBM25 }

// Retrieve fans out KeywordSearch across bugs and releases concurrently.
// If one collection's search fails, the other's results are returned and
// the failure is not reported; if both fail, it returns StrategyFailed.
func (s *BM25Strategy) Retrieve(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error) {
	collections := ragtypes.AllCollections()
	subs := make([]subResult, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range collections {
		i, collection := i, collection
		g.Go(func() error {
			results, err := s.store.KeywordSearch(gctx, collection, query, topK, filters)
			subs[i] = subResult{source: string(collection), results: results, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if !anySucceeded(subs) {
		return nil, ragtypes.RetrievalInfo{}, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("keyword search failed on every collection"))
	}

	lists := collectResults(subs)
	weights := make([]float64, len(lists))
	for i := range weights {
		weights[i] = 1.0 / float64(len(lists))
	}
	fused := fusion.Fuse(lists, weights)
	counts := make(map[string]int, len(subs))
	for _, s := range subs {
		if s.err == nil {
			counts[s.source] = len(s.results)
		}
	}
	info := ragtypes.RetrievalInfo{MethodsUsed: []string{"keyword"}, PerStageCounts: counts}
	return fusion.Topk(fused, topK), info, nil
}

var _ Strategy = (*BM25Strategy)(nil)

package strategies

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/foohm71/cuttlefish4/internal/embeddings"
	"github.com/foohm71/cuttlefish4/internal/fusion"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
	"github.com/foohm71/cuttlefish4/internal/reranker"
	"github.com/foohm71/cuttlefish4/internal/ticketstore"
)

// CompressionStrategy is the Contextual Compression path: vector search
// across both collections, fused, then compressed to the most relevant
// subset by a reranker. It is the orchestrator's fallback strategy when
// whatever was originally selected fails.
type CompressionStrategy struct {
	store     ticketstore.Store
	embedder  embeddings.Provider
	reranker  reranker.Reranker
	threshold float64
	fetchMult int // how many more candidates than topK to fetch before reranking
}

// NewCompressionStrategy builds the compression strategy. reranker may be
// nil, in which case the fused vector-search order is returned unchanged.
// threshold is the minimum cosine similarity (config's similarity_threshold)
// a vector hit must clear to survive.
func NewCompressionStrategy(store ticketstore.Store, embedder embeddings.Provider, rr reranker.Reranker, threshold float64) *CompressionStrategy {
	return &CompressionStrategy{store: store, embedder: embedder, reranker: rr, threshold: threshold, fetchMult: 4}
}

func (s *CompressionStrategy) Name() ragtypes.StrategyName { return ragtypes.StrategyCompression }

// Retrieve embeds the query once, fans out vector search across both
// collections, fuses, then reranks the top candidates down to topK.
func (s *CompressionStrategy) Retrieve(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error) {
	candidates, _, err := s.vectorCandidates(ctx, query, filters, topK)
	if err != nil {
		return nil, ragtypes.RetrievalInfo{}, err
	}

	info := ragtypes.RetrievalInfo{MethodsUsed: []string{"compression"}}

	if s.reranker == nil {
		return fusion.Topk(candidates, topK), info, nil
	}

	docs := make([]reranker.Document, len(candidates))
	for i, c := range candidates {
		docs[i] = reranker.Document{ID: fmt.Sprintf("%d", i), Content: c.Content, Score: float32(c.Score)}
	}
	scored, err := s.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		// Reranking is an enhancement, not a requirement: fall back to the
		// fused vector order rather than failing the strategy.
		return fusion.Topk(candidates, topK), info, nil
	}

	out := make([]ragtypes.RetrievedContext, 0, len(scored))
	byContent := make(map[string]ragtypes.RetrievedContext, len(candidates))
	for _, c := range candidates {
		byContent[c.Content] = c
	}
	for _, sd := range scored {
		ctxOut := byContent[sd.Content]
		ctxOut.Score = float64(sd.RerankerScore)
		out = append(out, ctxOut)
	}
	return out, info, nil
}

// vectorCandidates embeds query and fans out VectorSearch across both
// collections, fusing the results with equal weight. It is shared by
// Retrieve (which reranks the output) and by EnsembleStrategy's multi-query
// and naive-vector sub-retrievals (which use the unreranked order directly).
func (s *CompressionStrategy) vectorCandidates(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, map[string]int, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	collections := ragtypes.AllCollections()
	subs := make([]subResult, len(collections))
	fetchK := topK * s.fetchMult
	if fetchK < topK {
		fetchK = topK
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range collections {
		i, collection := i, collection
		g.Go(func() error {
			results, err := s.store.VectorSearch(gctx, collection, queryVec, fetchK, s.threshold, filters)
			subs[i] = subResult{source: string(collection), results: results, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if !anySucceeded(subs) {
		return nil, nil, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("vector search failed on every collection"))
	}

	lists := collectResults(subs)
	weights := make([]float64, len(lists))
	for i := range weights {
		weights[i] = 1.0 / float64(len(lists))
	}
	counts := make(map[string]int, len(subs))
	for _, sr := range subs {
		if sr.err == nil {
			counts[sr.source] = len(sr.results)
		}
	}
	return fusion.Topk(fusion.Fuse(lists, weights), fetchK), counts, nil
}

var _ Strategy = (*CompressionStrategy)(nil)

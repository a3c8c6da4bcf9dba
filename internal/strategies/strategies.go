// Package strategies implements the three ticket-store retrieval strategies
// (C4): BM25 keyword search, Contextual Compression (vector search + rerank),
// and Ensemble (multi-query fan-out across both, fused).
package strategies

import (
	"context"

	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

// Strategy is the common shape every retrieval strategy implements. The
// supervisor selects one by name; the orchestrator calls Retrieve and, on
// StrategyFailed, falls back to Compression once. Retrieve's RetrievalInfo
// return value reports which method tags contributed, for the response
// envelope's methods_used field.
type Strategy interface {
	Name() ragtypes.StrategyName
	Retrieve(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error)
}

// subResult is one sub-retrieval's outcome inside a strategy's fan-out, used
// to distinguish "some sub-retrievals failed" (the survivors' results are
// returned) from "all sub-retrievals failed" (StrategyFailed) — a distinction the booksage
// fusion/retriever.go reference never surfaces (it logs and swallows every
// sub-search error uniformly).
type subResult struct {
	source  string
	results []ragtypes.RetrievedContext
	err     error
}

func anySucceeded(subs []subResult) bool {
	for _, s := range subs {
		if s.err == nil {
			return true
		}
	}
	return false
}

func collectResults(subs []subResult) [][]ragtypes.RetrievedContext {
	lists := make([][]ragtypes.RetrievedContext, 0, len(subs))
	for _, s := range subs {
		if s.err == nil {
			lists = append(lists, s.results)
		}
	}
	return lists
}

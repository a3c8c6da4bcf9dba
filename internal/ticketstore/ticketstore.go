// Package ticketstore provides the ticket store client (C3): vector,
// keyword, and hybrid search over the two ticket collections (bugs,
// releases), backed by Postgres/pgvector as primary and Qdrant as fallback.
package ticketstore

import (
	"context"
	"math"
	"sort"

	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

// Backend names the selectable ticket store implementation.
type Backend string

const (
	// BackendAuto tries the primary (Postgres/pgvector) backend at
	// construction time and falls back to Qdrant if it cannot be reached.
	BackendAuto Backend = "auto"
	BackendPrimary  Backend = "primary"
	BackendFallback Backend = "fallback"
)

// Store is the ticket store contract every retrieval strategy depends on.
// Implementations must be safe for concurrent use: strategies fan out
// multiple calls to the same Store across goroutines.
type Store interface {
	// VectorSearch ranks documents in collection by cosine similarity to
	// queryVec, keeping only hits with sim >= threshold, and returns up to k
	// hits with scores already normalized to [0,1] via fusion.NormalizeVector.
	VectorSearch(ctx context.Context, collection ragtypes.Collection, queryVec []float32, k int, threshold float64, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, error)

	// KeywordSearch ranks documents in collection by lexical match against
	// queryText, returning up to k hits with scores normalized to [0,1] via
	// fusion.NormalizeKeyword (rank rescaled by the batch maximum).
	KeywordSearch(ctx context.Context, collection ragtypes.Collection, queryText string, k int, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, error)

	// HybridSearch runs vector and keyword search for up to 2k each, keeping
	// vector hits with sim >= threshold, normalizes both per fusion's rules,
	// and fuses with weights (vectorWeight, keywordWeight) before returning
	// the top k. Callers that need cross-collection or cross-strategy fusion
	// should prefer calling VectorSearch/KeywordSearch directly and fusing
	// with internal/fusion themselves.
	HybridSearch(ctx context.Context, collection ragtypes.Collection, queryText string, queryVec []float32, k int, threshold, vectorWeight, keywordWeight float64, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, error)

	// Close releases backend resources.
	Close() error
}

// vectorCandidate is a raw row a backend fetches for client-side scoring
// when its native nearest-neighbor routine is unavailable.
type vectorCandidate struct {
	content   string
	metadata  map[string]interface{}
	embedding []float32
}

// cosineSimilarity returns the cosine similarity of two equal-length
// vectors, or 0 if the lengths differ or either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clientSideVectorSearch scores candidates in-process when a backend's
// native nearest-neighbor routine is unavailable: it keeps hits with
// sim >= threshold and returns the top k ordered by similarity, descending.
// Pure Go, reusable by either backend adapter.
func clientSideVectorSearch(candidates []vectorCandidate, queryVec []float32, k int, threshold float64, sourceTag string) []ragtypes.RetrievedContext {
	type scored struct {
		ctx ragtypes.RetrievedContext
		sim float64
	}
	hits := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		sim := cosineSimilarity(queryVec, c.embedding)
		if sim < threshold {
			continue
		}
		hits = append(hits, scored{
			ctx: ragtypes.RetrievedContext{
				Content:  c.content,
				Metadata: c.metadata,
				Source:   sourceTag,
				Score:    sim,
			},
			sim: sim,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if k > len(hits) {
		k = len(hits)
	}
	out := make([]ragtypes.RetrievedContext, 0, k)
	for _, h := range hits[:k] {
		out = append(out, h.ctx)
	}
	return out
}

func toMetadata(doc ragtypes.Document) map[string]interface{} {
	return map[string]interface{}{
		ragtypes.MetaKey:     doc.Key,
		ragtypes.MetaTitle:   doc.Title,
		ragtypes.MetaProject: doc.Project,
		"priority":           doc.Priority,
		"type":               doc.Type,
		"status":             doc.Status,
		"component":          doc.Component,
	}
}

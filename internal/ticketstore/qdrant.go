package ticketstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/foohm71/cuttlefish4/internal/fusion"
	qdrantclient "github.com/foohm71/cuttlefish4/internal/qdrant"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

// QdrantStore is the fallback Store backend. It has no native tsvector
// ranking, so KeywordSearch does a client-side substring scan over the
// payload's title/description fields, per spec's documented fallback
// behavior for backends without structured-query support.
type QdrantStore struct {
	client qdrantclient.Client
}

// NewQdrantStore wraps an already-constructed qdrant client.
func NewQdrantStore(client qdrantclient.Client) *QdrantStore {
	return &QdrantStore{client: client}
}

func collectionName(collection ragtypes.Collection) string {
	return "tickets_" + string(collection)
}

func filterFor(filters ragtypes.Filters) *qdrantclient.Filter {
	if filters.IsZero() {
		return nil
	}
	var must []qdrantclient.Condition
	add := func(field, val string) {
		if val != "" {
			must = append(must, qdrantclient.Condition{Field: field, Match: val})
		}
	}
	add("project", filters.Project)
	add("type", filters.Type)
	add("status", filters.Status)
	add("priority", filters.Priority)
	if len(must) == 0 {
		return nil
	}
	return &qdrantclient.Filter{Must: must}
}

func docFromPayload(payload map[string]interface{}) ragtypes.Document {
	str := func(k string) string {
		if v, ok := payload[k].(string); ok {
			return v
		}
		return ""
	}
	return ragtypes.Document{
		Key:         str("key"),
		Project:     str("project"),
		Priority:    str("priority"),
		Type:        str("type"),
		Status:      str("status"),
		Component:   str("component"),
		Title:       str("title"),
		Description: str("description"),
		Content:     str("content"),
	}
}

// VectorSearch delegates to Qdrant's native similarity search, then drops
// hits with sim < threshold (Qdrant returns cosine similarity directly, so
// no client-side cosine computation is needed on this backend).
func (q *QdrantStore) VectorSearch(ctx context.Context, collection ragtypes.Collection, queryVec []float32, k int, threshold float64, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, error) {
	points, err := q.client.Search(ctx, collectionName(collection), queryVec, uint64(k), filterFor(filters))
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("qdrant vector search: %w", err))
	}
	sourceTag := "vector_" + string(collection)
	out := make([]ragtypes.RetrievedContext, 0, len(points))
	for _, p := range points {
		if float64(p.Score) < threshold {
			continue
		}
		doc := docFromPayload(p.Payload)
		// Qdrant returns cosine similarity directly (higher is better), so the
		// equivalent "distance" for fusion.NormalizeVector's 1-distance
		// convention is 1-score.
		out = append(out, fusion.NormalizeVector(doc.Content, p.Payload, sourceTag, float64(1-p.Score)))
	}
	return out, nil
}

// keywordScanLimit bounds how many points Scroll fetches per KeywordSearch
// call; the fallback substring scan is O(collection size), not indexed.
const keywordScanLimit = 1000

// KeywordSearch has no native lexical index on the fallback backend, so it
// scans up to keywordScanLimit points via Scroll and keeps any whose
// title+description contains queryText (case-insensitive), assigning every
// match a uniform score of 0.5 per spec's documented degraded-path behavior.
func (q *QdrantStore) KeywordSearch(ctx context.Context, collection ragtypes.Collection, queryText string, k int, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, ragerr.New(ragerr.InvalidInput, fmt.Errorf("query text cannot be empty"))
	}

	points, err := q.client.Scroll(ctx, collectionName(collection), keywordScanLimit, filterFor(filters))
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("qdrant keyword scan: %w", err))
	}

	needle := strings.ToLower(queryText)
	sourceTag := "keyword_" + string(collection)
	out := make([]ragtypes.RetrievedContext, 0, k)
	for _, p := range points {
		doc := docFromPayload(p.Payload)
		haystack := strings.ToLower(doc.Title + " " + doc.Description)
		if !strings.Contains(haystack, needle) {
			continue
		}
		out = append(out, ragtypes.RetrievedContext{
			Content:  doc.Content,
			Metadata: p.Payload,
			Source:   sourceTag,
			Score:    0.5,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// HybridSearch fuses the store's own vector and keyword results with the
// given weights, then takes the top k. The keyword half is a uniform-score
// substring scan on this backend, so its contribution ranks candidates
// without discriminating among matches.
func (q *QdrantStore) HybridSearch(ctx context.Context, collection ragtypes.Collection, queryText string, queryVec []float32, k int, threshold, vectorWeight, keywordWeight float64, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, error) {
	vecResults, err := q.VectorSearch(ctx, collection, queryVec, 2*k, threshold, filters)
	if err != nil {
		return nil, err
	}
	kwResults, err := q.KeywordSearch(ctx, collection, queryText, 2*k, filters)
	if err != nil {
		return nil, err
	}
	fused := fusion.Fuse([][]ragtypes.RetrievedContext{vecResults, kwResults}, []float64{vectorWeight, keywordWeight})
	return fusion.Topk(fused, k), nil
}

// Close releases the underlying qdrant client connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}

var _ Store = (*QdrantStore)(nil)

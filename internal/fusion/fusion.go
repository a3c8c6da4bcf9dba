// Package fusion implements the context model and result-fusion rules: mapping
// raw back-end hits into RetrievedContext, combining parallel result lists by
// weighted score, and selecting the top-k entries deterministically.
package fusion

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ContentHash returns a stable identity for a piece of content: lowercased,
// whitespace-collapsed, then SHA-256 hex-encoded. It is stable under
// whitespace changes and case differences in content, per the fusion contract.
func ContentHash(content string) string {
	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// clamp01 clamps a score into [0,1], guarding against NaN/Inf from upstream.
func clamp01(score float64) float64 {
	if score != score { // NaN
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// NormalizeVector builds a RetrievedContext from a vector-search hit. score is
// 1 - cosine_distance, clamped to [0,1].
func NormalizeVector(content string, metadata map[string]interface{}, sourceTag string, cosineDistance float64) ragtypes.RetrievedContext {
	return ragtypes.RetrievedContext{
		Content:  content,
		Metadata: metadata,
		Source:   sourceTag,
		Score:    clamp01(1 - cosineDistance),
	}
}

// NormalizeKeyword builds a RetrievedContext from a keyword-search hit. score
// is rank rescaled to [0,1] by dividing by the maximum rank within the batch;
// if the batch maximum is 0, every score in the batch is 0.
func NormalizeKeyword(content string, metadata map[string]interface{}, sourceTag string, rank, batchMaxRank float64) ragtypes.RetrievedContext {
	score := 0.0
	if batchMaxRank > 0 {
		score = clamp01(rank / batchMaxRank)
	}
	return ragtypes.RetrievedContext{
		Content:  content,
		Metadata: metadata,
		Source:   sourceTag,
		Score:    score,
	}
}

// fuseEntry accumulates per-hash fusion state while lists are scanned.
type fuseEntry struct {
	ctx         ragtypes.RetrievedContext
	fusedScore  float64
	rawMaxScore float64
	firstSeenAt int
}

// Fuse combines N parallel result lists with non-negative weights summing to
// (approximately) 1 into a single ordered list. For each distinct content
// hash, the fused score is the weighted sum of the scores of the lists that
// contain it; lists missing that hash contribute 0. Ties are broken by higher
// raw max score, then by earlier appearance across the flattened input order.
//
// Fuse is idempotent under identical inputs and commutative across the order
// of the input lists: the per-hash sum does not depend on which list index
// contributed which weight once every list/weight pair is accounted for.
func Fuse(lists [][]ragtypes.RetrievedContext, weights []float64) []ragtypes.RetrievedContext {
	if len(lists) != len(weights) {
		panic("fusion: lists and weights must have equal length")
	}

	order := make([]string, 0)
	byHash := make(map[string]*fuseEntry)
	seenAt := 0

	for i, list := range lists {
		w := weights[i]
		for _, ctx := range list {
			hash := ContentHash(ctx.Content)
			entry, ok := byHash[hash]
			if !ok {
				entry = &fuseEntry{ctx: ctx, firstSeenAt: seenAt}
				byHash[hash] = entry
				order = append(order, hash)
				seenAt++
			}
			entry.fusedScore += w * ctx.Score
			if ctx.Score > entry.rawMaxScore {
				entry.rawMaxScore = ctx.Score
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		ei, ej := byHash[order[i]], byHash[order[j]]
		if ei.fusedScore != ej.fusedScore {
			return ei.fusedScore > ej.fusedScore
		}
		if ei.rawMaxScore != ej.rawMaxScore {
			return ei.rawMaxScore > ej.rawMaxScore
		}
		return ei.firstSeenAt < ej.firstSeenAt
	})

	out := make([]ragtypes.RetrievedContext, 0, len(order))
	for _, hash := range order {
		entry := byHash[hash]
		fused := entry.ctx
		fused.Score = clamp01(entry.fusedScore)
		out = append(out, fused)
	}

	return out
}

// Topk returns a deterministic, stable selection of the k highest-scoring
// entries in list, preserving input order among equal scores. If k >= len(list)
// the same entries are returned in the same order.
func Topk(list []ragtypes.RetrievedContext, k int) []ragtypes.RetrievedContext {
	if k < 0 {
		k = 0
	}
	if k >= len(list) {
		out := make([]ragtypes.RetrievedContext, len(list))
		copy(out, list)
		return out
	}

	indexed := make([]int, len(list))
	for i := range indexed {
		indexed[i] = i
	}
	sort.SliceStable(indexed, func(i, j int) bool {
		return list[indexed[i]].Score > list[indexed[j]].Score
	})

	out := make([]ragtypes.RetrievedContext, 0, k)
	for _, idx := range indexed[:k] {
		out = append(out, list[idx])
	}
	return out
}

// DedupeByContentHash removes later duplicates of the same content, keeping
// the first occurrence encountered (by input order across concatenated lists).
func DedupeByContentHash(lists ...[]ragtypes.RetrievedContext) []ragtypes.RetrievedContext {
	seen := make(map[string]struct{})
	out := make([]ragtypes.RetrievedContext, 0)
	for _, list := range lists {
		for _, ctx := range list {
			hash := ContentHash(ctx.Content)
			if _, ok := seen[hash]; ok {
				continue
			}
			seen[hash] = struct{}{}
			out = append(out, ctx)
		}
	}
	return out
}

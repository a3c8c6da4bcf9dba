package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

func TestContentHash_StableUnderWhitespaceAndCase(t *testing.T) {
	a := ContentHash("Hello   World")
	b := ContentHash("hello world")
	c := ContentHash("hello\nworld")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestFuse_ScoresInRangeAndReorderInvariant(t *testing.T) {
	listA := []ragtypes.RetrievedContext{
		{Content: "alpha bug", Score: 0.9, Source: "bm25_bugs"},
		{Content: "beta release", Score: 0.4, Source: "bm25_bugs"},
	}
	listB := []ragtypes.RetrievedContext{
		{Content: "alpha bug", Score: 0.6, Source: "vector_bugs"},
		{Content: "gamma incident", Score: 0.8, Source: "vector_bugs"},
	}

	weights := []float64{0.3, 0.7}
	forward := Fuse([][]ragtypes.RetrievedContext{listA, listB}, weights)
	reversed := Fuse([][]ragtypes.RetrievedContext{listB, listA}, []float64{0.7, 0.3})

	require.Len(t, forward, 3)
	for _, ctx := range forward {
		assert.GreaterOrEqual(t, ctx.Score, 0.0)
		assert.LessOrEqual(t, ctx.Score, 1.0)
		assert.False(t, math.IsNaN(ctx.Score))
	}

	byHash := func(list []ragtypes.RetrievedContext) map[string]float64 {
		m := make(map[string]float64, len(list))
		for _, ctx := range list {
			m[ContentHash(ctx.Content)] = ctx.Score
		}
		return m
	}
	fwd, rev := byHash(forward), byHash(reversed)
	require.Equal(t, len(fwd), len(rev))
	for hash, score := range fwd {
		assert.InDelta(t, score, rev[hash], 1e-9)
	}
}

func TestFuse_Idempotent(t *testing.T) {
	list := []ragtypes.RetrievedContext{
		{Content: "alpha", Score: 0.5},
		{Content: "beta", Score: 0.9},
	}
	weights := []float64{1.0}
	first := Fuse([][]ragtypes.RetrievedContext{list}, weights)
	second := Fuse([][]ragtypes.RetrievedContext{list}, weights)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.InDelta(t, first[i].Score, second[i].Score, 1e-9)
	}
}

func TestFuse_MissingListContributesZero(t *testing.T) {
	listA := []ragtypes.RetrievedContext{{Content: "only in a", Score: 1.0}}
	listB := []ragtypes.RetrievedContext{}
	out := Fuse([][]ragtypes.RetrievedContext{listA, listB}, []float64{0.5, 0.5})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.5, out[0].Score, 1e-9)
}

func TestTopk_KGreaterThanLengthPreservesOrder(t *testing.T) {
	list := []ragtypes.RetrievedContext{
		{Content: "a", Score: 0.1},
		{Content: "b", Score: 0.9},
		{Content: "c", Score: 0.5},
	}
	out := Topk(list, 10)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].Content)
	assert.Equal(t, "b", out[1].Content)
	assert.Equal(t, "c", out[2].Content)
}

func TestTopk_SelectsHighestScores(t *testing.T) {
	list := []ragtypes.RetrievedContext{
		{Content: "a", Score: 0.1},
		{Content: "b", Score: 0.9},
		{Content: "c", Score: 0.5},
	}
	out := Topk(list, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Content)
	assert.Equal(t, "c", out[1].Content)
}

func TestNormalizeKeyword_ZeroBatchMaxYieldsZeroScores(t *testing.T) {
	ctx := NormalizeKeyword("content", nil, "bm25_bugs", 0, 0)
	assert.Equal(t, 0.0, ctx.Score)
}

func TestNormalizeVector_ClampsToUnitRange(t *testing.T) {
	over := NormalizeVector("c", nil, "vector_bugs", -0.5) // cosineDistance -0.5 -> score 1.5 -> clamp to 1
	under := NormalizeVector("c", nil, "vector_bugs", 1.5) // cosineDistance 1.5 -> score -0.5 -> clamp to 0
	assert.Equal(t, 1.0, over.Score)
	assert.Equal(t, 0.0, under.Score)
}

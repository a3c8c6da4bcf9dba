package websearch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

type fakeProvider struct {
	byQuery map[string][]Result
	errs    map[string]error
}

func (f *fakeProvider) Search(ctx context.Context, query string) ([]Result, error) {
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.byQuery[query], nil
}

func TestStrategy_NoLLM_UsesOriginalQueryOnly(t *testing.T) {
	provider := &fakeProvider{byQuery: map[string][]Result{
		"disk full": {{URL: "https://example.com/a", Title: "Disk full fix", Snippet: "..."}},
	}}
	strat := New(provider, llm.New(llm.Config{}), 3)
	out, _, err := strat.Retrieve(context.Background(), "disk full", ragtypes.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://example.com/a", out[0].Metadata[ragtypes.MetaURL])
}

func TestStrategy_DedupesByNormalizedURL(t *testing.T) {
	provider := &fakeProvider{byQuery: map[string][]Result{
		"disk full": {
			{URL: "https://example.com/a?utm_source=x", Title: "Disk full fix", Snippet: "..."},
			{URL: "https://example.com/a", Title: "Disk full fix (dup)", Snippet: "..."},
		},
	}}
	strat := New(provider, llm.New(llm.Config{}), 3)
	out, _, err := strat.Retrieve(context.Background(), "disk full", ragtypes.Filters{}, 5)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestStrategy_AllSearchesFail(t *testing.T) {
	provider := &fakeProvider{errs: map[string]error{"disk full": fmt.Errorf("timeout")}}
	strat := New(provider, llm.New(llm.Config{}), 3)
	_, _, err := strat.Retrieve(context.Background(), "disk full", ragtypes.Filters{}, 5)
	require.Error(t, err)
	assert.Equal(t, ragerr.StrategyFailed, ragerr.KindOf(err))
}

func TestNormalizeURL_StripsQueryAndFragment(t *testing.T) {
	assert.Equal(t, normalizeURL("https://x.com/a"), normalizeURL("https://x.com/a?q=1#frag"))
}

func TestNew_DefaultsMaxSearches(t *testing.T) {
	strat := New(&fakeProvider{}, llm.New(llm.Config{}), 0)
	assert.Equal(t, 3, strat.maxSearches)
}

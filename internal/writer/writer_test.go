package writer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

func ctx(key, title, content string, score float64) ragtypes.RetrievedContext {
	return ragtypes.RetrievedContext{
		Content:  content,
		Metadata: map[string]interface{}{ragtypes.MetaKey: key, ragtypes.MetaTitle: title},
		Source:   "keyword_bugs",
		Score:    score,
	}
}

func TestCompose_NoContexts_StatesSoAndSuggestsReformulations(t *testing.T) {
	w := New(llm.New(llm.Config{}))
	answer, refs := w.Compose(context.Background(), "disk full", ragtypes.StrategyCompression, ragtypes.Hints{}, nil)
	assert.Nil(t, refs)
	assert.Contains(t, strings.ToLower(answer), "no relevant information")
}

func TestCompose_NoLLM_TemplatedAnswerCitesEveryContextKey(t *testing.T) {
	w := New(llm.New(llm.Config{}))
	contexts := []ragtypes.RetrievedContext{
		ctx("ABC-1", "disk full on node 3", "the disk filled up on node 3 at 02:00 UTC", 0.9),
		ctx("ABC-2", "disk cleanup script", "a cleanup job removes stale logs nightly", 0.5),
	}
	answer, refs := w.Compose(context.Background(), "disk full", ragtypes.StrategyBM25, ragtypes.Hints{}, contexts)
	require.Len(t, refs, 2)
	assert.Contains(t, answer, "ABC-1")
	assert.Contains(t, answer, "ABC-2")
}

func TestCompose_ProductionIncident_LeadsWithMostActionableItem(t *testing.T) {
	w := New(llm.New(llm.Config{}))
	contexts := []ragtypes.RetrievedContext{
		ctx("ABC-1", "disk full", "restart the cleanup job immediately", 0.9),
	}
	answer, _ := w.Compose(context.Background(), "disk full", ragtypes.StrategyBM25, ragtypes.Hints{ProductionIncident: true}, contexts)
	lines := strings.SplitN(answer, "\n", 2)
	assert.Contains(t, strings.ToLower(lines[0]), "most relevant")
}

func TestCompose_DedupesReferencesByKey(t *testing.T) {
	w := New(llm.New(llm.Config{}))
	contexts := []ragtypes.RetrievedContext{
		ctx("ABC-1", "t1", "content a", 0.9),
		ctx("ABC-1", "t1", "content a duplicate chunk", 0.8),
	}
	_, refs := w.Compose(context.Background(), "q", ragtypes.StrategyBM25, ragtypes.Hints{}, contexts)
	assert.Len(t, refs, 1)
}

func TestCompose_MoreThanMaxContexts_Caps(t *testing.T) {
	w := New(llm.New(llm.Config{}))
	var contexts []ragtypes.RetrievedContext
	for i := 0; i < MaxContexts+5; i++ {
		contexts = append(contexts, ctx(string(rune('A'+i))+"-1", "t", "c", 1.0))
	}
	_, refs := w.Compose(context.Background(), "q", ragtypes.StrategyBM25, ragtypes.Hints{}, contexts)
	assert.Len(t, refs, MaxContexts)
}

func newTestWriter(t *testing.T, handler http.HandlerFunc) *Writer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(llm.New(llm.Config{APIKey: "test-key", BaseURL: server.URL}))
}

func TestCompose_WithLLM_UsesItsAnswer(t *testing.T) {
	w := newTestWriter(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"content":[{"text":"Restart the cleanup job on node 3, see ABC-1."}]}`))
	})
	contexts := []ragtypes.RetrievedContext{ctx("ABC-1", "t", "c", 0.9)}
	answer, refs := w.Compose(context.Background(), "disk full", ragtypes.StrategyBM25, ragtypes.Hints{}, contexts)
	require.Len(t, refs, 1)
	assert.Contains(t, answer, "ABC-1")
	assert.NotContains(t, answer, "[unverified]")
}

func TestCompose_WithLLM_RemovesHallucinatedKey(t *testing.T) {
	w := newTestWriter(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"content":[{"text":"See ZZZ-999 for details."}]}`))
	})
	contexts := []ragtypes.RetrievedContext{ctx("ABC-1", "t", "c", 0.9)}
	answer, _ := w.Compose(context.Background(), "disk full", ragtypes.StrategyBM25, ragtypes.Hints{}, contexts)
	assert.NotContains(t, answer, "ZZZ-999")
}

func TestCompose_WithLLM_FallsBackToTemplatedOnLLMFailure(t *testing.T) {
	w := newTestWriter(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
		rw.Write([]byte("server error"))
	})
	contexts := []ragtypes.RetrievedContext{ctx("ABC-1", "t", "content here", 0.9)}
	answer, refs := w.Compose(context.Background(), "disk full", ragtypes.StrategyBM25, ragtypes.Hints{}, contexts)
	require.Len(t, refs, 1)
	assert.Contains(t, answer, "ABC-1")
}

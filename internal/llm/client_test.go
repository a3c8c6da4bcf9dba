package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foohm71/cuttlefish4/internal/ragerr"
)

func TestClient_NotConfigured(t *testing.T) {
	c := New(Config{})
	assert.False(t, c.Configured())

	_, err := c.Complete(context.Background(), TierFast, "sys", "user", 0.2)
	require.Error(t, err)
	assert.Equal(t, ragerr.UpstreamPermanent, ragerr.KindOf(err))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL, RequestsPerMinute: 1000, Burst: 1000})
}

func TestClient_Complete_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "hello from claude"}},
		})
	})

	text, err := c.Complete(context.Background(), TierFast, "sys", "user", 0.2)
	require.NoError(t, err)
	assert.Equal(t, "hello from claude", text)
}

func TestClient_Complete_RetriesOnServerError(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "ok"}},
		})
	})

	text, err := c.Complete(context.Background(), TierFast, "sys", "user", 0.2)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, attempts)
}

func TestClient_Complete_NoRetryOnBadRequest(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "invalid_request_error", "message": "bad model"},
		})
	})

	_, err := c.Complete(context.Background(), TierFast, "sys", "user", 0.2)
	require.Error(t, err)
	assert.Equal(t, ragerr.UpstreamPermanent, ragerr.KindOf(err))
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, 1, attempts)
}

func TestClient_CompleteJSON_ParsesMarkdownFencedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "```json\n{\"strategy\":\"BM25\"}\n```"}},
		})
	})

	var out struct {
		Strategy string `json:"strategy"`
	}
	err := c.CompleteJSON(context.Background(), TierFast, "sys", "user", &out)
	require.NoError(t, err)
	assert.Equal(t, "BM25", out.Strategy)
}

func TestClient_CompleteJSON_RetriesOnceOnUnparseableThenFails(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "not json at all"}},
		})
	})

	var out struct {
		Strategy string `json:"strategy"`
	}
	err := c.CompleteJSON(context.Background(), TierFast, "sys", "user", &out)
	require.Error(t, err)
	assert.Equal(t, ragerr.UpstreamPermanent, ragerr.KindOf(err))
	assert.Equal(t, 2, attempts)
}

func TestScrubSecrets_RedactsAnthropicKey(t *testing.T) {
	in := "here is my key sk-ant-REDACTED"
	out := scrubSecrets(in)
	assert.NotContains(t, out, "abcdefghijklmnopqrstuvwxyz123456")
	assert.Contains(t, out, "[REDACTED:ANTHROPIC_KEY]")
}

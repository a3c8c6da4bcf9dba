package logprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foohm71/cuttlefish4/internal/logsearch"
)

func TestSearch_ParsesStreamValues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"result":[{"stream":{"service":"billing","severity":"error"},"values":[["1700000000000000000","disk space exceeded"]]}]}}`))
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL})
	entries, err := c.Search(context.Background(), logsearch.Query{
		Filter: "billing disk_space_exceeded",
		Since:  time.Now().Add(-24 * time.Hour),
		Until:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Service != "billing" || entries[0].Message != "disk space exceeded" {
		t.Errorf("Search() = %+v, want one billing entry", entries)
	}
}

func TestSearch_MissingEndpoint_Fails(t *testing.T) {
	c := New(Config{})
	if _, err := c.Search(context.Background(), logsearch.Query{Filter: "x"}); err == nil {
		t.Error("Search() expected error with empty endpoint")
	}
}

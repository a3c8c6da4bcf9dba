package webprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foohm71/cuttlefish4/internal/ragerr"
)

func TestSearch_ParsesOrganicResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"organic":[{"title":"t1","link":"http://a.com","snippet":"s1"}]}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	results, err := c.Search(context.Background(), "outage")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].URL != "http://a.com" {
		t.Errorf("Search() = %+v, want one result with URL http://a.com", results)
	}
}

func TestSearch_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	if _, err := c.Search(context.Background(), "outage"); ragerr.KindOf(err) != ragerr.UpstreamTransient {
		t.Errorf("Search() error = %v, want an UpstreamTransient error on HTTP 500", err)
	}
}

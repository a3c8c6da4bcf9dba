// Package webprovider implements websearch.Provider against a hosted search
// API (a Serper-compatible /search JSON endpoint).
package webprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/websearch"
)

// Config configures the hosted search client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client is a websearch.Provider backed by a hosted search API.
type Client struct {
	cfg    Config
	client *http.Client
}

// New builds a Client. An empty BaseURL defaults to Serper's public API.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://google.serper.dev/search"
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

var _ websearch.Provider = (*Client)(nil)

type searchRequest struct {
	Q string `json:"q"`
}

type searchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search runs one web search query and returns its organic results.
func (c *Client) Search(ctx context.Context, query string) ([]websearch.Result, error) {
	body, err := json.Marshal(searchRequest{Q: query})
	if err != nil {
		return nil, ragerr.New(ragerr.InvalidInput, fmt.Errorf("encoding search request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("building search request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("web search request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("web search provider returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("web search provider returned %d", resp.StatusCode))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("decoding search response: %w", err))
	}

	out := make([]websearch.Result, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		out = append(out, websearch.Result{URL: r.Link, Title: r.Title, Snippet: r.Snippet})
	}
	return out, nil
}

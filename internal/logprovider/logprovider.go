// Package logprovider implements logsearch.Provider against a hosted log
// query endpoint (a Loki-compatible range-query JSON API).
package logprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/foohm71/cuttlefish4/internal/logsearch"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
)

// Config configures the hosted log query client.
type Config struct {
	Endpoint string
	APIKey   string
}

// Client is a logsearch.Provider backed by a hosted log query API.
type Client struct {
	cfg    Config
	client *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

var _ logsearch.Provider = (*Client)(nil)

type queryResponse struct {
	Data struct {
		Result []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"` // [unixNanoTimestamp, line]
		} `json:"result"`
	} `json:"data"`
}

// Search runs one planned log query over its time window.
func (c *Client) Search(ctx context.Context, q logsearch.Query) ([]logsearch.Entry, error) {
	if c.cfg.Endpoint == "" {
		return nil, ragerr.New(ragerr.Fatal, fmt.Errorf("log provider endpoint not configured"))
	}

	params := url.Values{}
	params.Set("query", q.Filter)
	params.Set("start", strconv.FormatInt(q.Since.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(q.Until.UnixNano(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("building log query request: %w", err))
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("log query request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("log provider returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("log provider returned %d", resp.StatusCode))
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("decoding log query response: %w", err))
	}

	var out []logsearch.Entry
	for _, stream := range parsed.Data.Result {
		service := stream.Stream["service"]
		severity := stream.Stream["severity"]
		for _, v := range stream.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			out = append(out, logsearch.Entry{
				Service:   service,
				Message:   v[1],
				Timestamp: time.Unix(0, ns),
				Severity:  severity,
			})
		}
	}
	return out, nil
}

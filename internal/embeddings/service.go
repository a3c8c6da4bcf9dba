// Package embeddings provides the embedding client (C2): fixed-dimension
// vectors for a piece of text, produced by an external embeddings provider
// reachable over HTTP (a TEI server or an OpenAI-compatible endpoint).
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/foohm71/cuttlefish4/internal/ragerr"
)

// Retry policy for TransientUpstream failures: exponential backoff with full
// jitter, base 250ms, cap 4s, at most 3 attempts.
const (
	retryBaseDelay = 250 * time.Millisecond
	retryCapDelay  = 4 * time.Second
	retryMaxTries  = 3
)

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL of the embeddings provider.
	BaseURL string
	// Model is the embedding model to request.
	Model string
	// APIKey is the provider API key (optional for a local TEI server).
	APIKey string
	// Dim is the expected output vector dimension. The service does not
	// check returned vectors against it.
	Dim int
}

// ConfigFromEnv builds a Config from environment variables.
func ConfigFromEnv() Config {
	baseURL := os.Getenv("EMBEDDING_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "BAAI/bge-small-en-v1.5"
	}
	return Config{
		BaseURL: baseURL,
		Model:   model,
		APIKey:  os.Getenv("OPENAI_API_KEY"),
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return ragerr.New(ragerr.Fatal, fmt.Errorf("base URL required"))
	}
	return nil
}

// Provider produces embeddings for text. Strategies and the ticket store
// depend on this narrow interface, not on a concrete provider.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service is the default Provider: an HTTP client against a TEI-compatible
// /embed endpoint, with retry and per-call metrics.
type Service struct {
	config  Config
	client  *http.Client
	metrics *Metrics
}

// NewService creates a new embedding service with the given configuration.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:  config,
		client:  &http.Client{Timeout: 30 * time.Second},
		metrics: NewMetrics(logger),
	}, nil
}

var _ Provider = (*Service)(nil)

type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = ragerr.New(ragerr.InvalidInput, fmt.Errorf("texts cannot be empty"))
		return nil, genErr
	}

	vectors, err := s.embedWithRetry(ctx, texts)
	genErr = err
	return vectors, err
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = ragerr.New(ragerr.InvalidInput, fmt.Errorf("text cannot be empty"))
		return nil, genErr
	}

	vectors, err := s.embedWithRetry(ctx, text)
	if err != nil {
		genErr = err
		return nil, err
	}
	if len(vectors) == 0 {
		genErr = ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("empty response"))
		return nil, genErr
	}
	return vectors[0], nil
}

// embedWithRetry performs the TEI request, retrying UpstreamTransient
// failures with exponential backoff and full jitter.
func (s *Service) embedWithRetry(ctx context.Context, inputs interface{}) ([][]float32, error) {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 0; attempt < retryMaxTries; attempt++ {
		if attempt > 0 {
			jittered := time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-ctx.Done():
				return nil, ragerr.New(ragerr.UpstreamTransient, ctx.Err())
			case <-time.After(jittered):
			}
			delay *= 2
			if delay > retryCapDelay {
				delay = retryCapDelay
			}
		}

		vectors, err := s.doEmbed(ctx, inputs)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if ragerr.KindOf(err) != ragerr.UpstreamTransient {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *Service) doEmbed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	req := teiRequest{Inputs: inputs, Truncate: true}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, ragerr.New(ragerr.InvalidInput, fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.New(ragerr.Fatal, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("embedding request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("auth failure: status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("decoding response: %w", err))
	}
	return vectors, nil
}

// Package llm provides the shared language-model client used by the
// supervisor's optional classifier (C7), the web/log search planners
// (C5/C6), and the response writer (C8). There is one client shape with two
// tiers: "fast" for routing/planning decisions and "strong" for answer
// composition, distinguished only by model name; both tiers share one client
// and one rate limiter.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/foohm71/cuttlefish4/internal/ragerr"
)

const (
	defaultBaseURL     = "https://api.anthropic.com"
	defaultMaxTokens   = 1024
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond

	anthropicVersion = "2023-06-01"
)

// Tier selects the model a Complete call uses. Fast is for
// routing/planning decisions where latency matters more than nuance; Strong
// is for final answer composition.
type Tier string

const (
	TierFast   Tier = "fast"
	TierStrong Tier = "strong"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string

	FastModel   string
	StrongModel string

	// RequestsPerMinute bounds the outbound call rate across both tiers; 0
	// picks 50 per minute.
	RequestsPerMinute float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.FastModel == "" {
		c.FastModel = "claude-3-5-haiku-20241022"
	}
	if c.StrongModel == "" {
		c.StrongModel = "claude-3-5-sonnet-20241022"
	}
	return c
}

// Client is a rate-limited, retrying HTTP client against the Anthropic
// Messages API. A zero-value Config.APIKey makes Configured() false; callers
// (the supervisor, search planners, writer) must fall back to their
// deterministic behavior in that case rather than erroring.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a Client. It never fails on a missing API key — it returns
// a Client whose Configured() is false, so callers decide whether to use an
// LLM-backed path or a deterministic fallback.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	rps := cfg.RequestsPerMinute / 60.0
	if rps <= 0 {
		rps = 50.0 / 60.0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Configured reports whether the client has credentials to call the API.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.APIKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single system+user turn and returns the model's raw text.
// It retries UpstreamTransient failures with exponential backoff, after
// waiting once on the client's shared rate limiter.
func (c *Client) Complete(ctx context.Context, tier Tier, system, user string, temperature float64) (string, error) {
	if !c.Configured() {
		return "", ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("llm client not configured"))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("rate limiter: %w", err))
	}

	model := c.cfg.FastModel
	if tier == TierStrong {
		model = c.cfg.StrongModel
	}

	req := request{
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: temperature,
		System:      system,
		Messages:    []message{{Role: "user", Content: scrubSecrets(user)}},
	}

	var lastErr error
	delay := defaultBaseBackoff
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ragerr.New(ragerr.UpstreamTransient, ctx.Err())
			}
			delay *= 2
		}

		text, err := c.doRequest(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ragerr.KindOf(err) != ragerr.UpstreamTransient {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) doRequest(ctx context.Context, req request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", ragerr.New(ragerr.InvalidInput, fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", ragerr.New(ragerr.Fatal, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", ragerr.New(ragerr.UpstreamTransient, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode != http.StatusOK {
		var errResp apiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return "", ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("status %d: %s", resp.StatusCode, errResp.Error.Message))
		}
		return "", ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("parsing response: %w", err))
	}
	if len(parsed.Content) == 0 {
		return "", ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("empty response"))
	}
	return parsed.Content[0].Text, nil
}

// CompleteJSON sends a turn whose system prompt asks for a JSON object and
// unmarshals the (markdown-fence-stripped) response into out. If the first
// attempt returns unparseable JSON, it retries once with a stricter
// instruction appended before giving up.
func (c *Client) CompleteJSON(ctx context.Context, tier Tier, system, user string, out interface{}) error {
	text, err := c.Complete(ctx, tier, system, user, 0.2)
	if err != nil {
		return err
	}
	if err := unmarshalJSONLoose(text, out); err == nil {
		return nil
	}

	strictSystem := system + "\n\nRespond with ONLY the JSON object. No prose, no markdown fences."
	text, err = c.Complete(ctx, tier, strictSystem, user, 0.0)
	if err != nil {
		return err
	}
	return unmarshalJSONLoose(text, out)
}

func unmarshalJSONLoose(text string, out interface{}) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return ragerr.New(ragerr.UpstreamPermanent, fmt.Errorf("parsing JSON response: %w", err))
	}
	return nil
}

var secretPatterns = []struct {
	regex       *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(OPENAI_API_KEY|ANTHROPIC_API_KEY|GITHUB_TOKEN|AWS_SECRET_ACCESS_KEY)\s*=\s*([^\s]+)`), "$1=[REDACTED:ENV_SECRET]"},
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`), "[REDACTED:ANTHROPIC_KEY]"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[REDACTED:OPENAI_KEY]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?\s*([^"'\s]{8,})["']?`), "$1=[REDACTED:API_KEY]"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.=]{20,}`), "[REDACTED:BEARER_TOKEN]"},
	{regexp.MustCompile(`(?i)-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), "[REDACTED:PRIVATE_KEY]"},
}

// scrubSecrets removes common secret patterns before content leaves the
// process in a prompt, guarding against tickets or logs that happen to
// contain live credentials.
func scrubSecrets(content string) string {
	result := content
	for _, p := range secretPatterns {
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}

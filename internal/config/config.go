// Package config provides configuration loading for cuttlefish4.
//
// Configuration is loaded from environment variables with sensible defaults.
// This package supports server, observability, and domain-specific settings
// for the multi-agent retrieval pipeline.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete cuttlefish4 configuration.
type Config struct {
	Production    ProductionConfig
	Server        ServerConfig
	Observability ObservabilityConfig
	TicketStore   TicketStoreConfig
	Embedding     EmbeddingConfig
	WebSearch     WebSearchConfig
	LogSearch     LogSearchConfig
	LLM           LLMConfig
	Strategies    StrategiesConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`        // OTLP endpoint (default: localhost:4317)
	OTLPProtocol      string `koanf:"otlp_protocol"`        // "grpc" or "http/protobuf" (default: grpc)
	OTLPInsecure      bool   `koanf:"otlp_insecure"`        // Use insecure connection (default: true for localhost)
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"` // Skip TLS verification for internal CAs
}

// TicketStoreConfig selects and configures the ticket store backend: a
// Postgres primary with a Qdrant vector fallback (spec §4.3).
type TicketStoreConfig struct {
	Backend  string         `koanf:"backend"` // "primary", "fallback", or "auto"
	Postgres PostgresConfig `koanf:"postgres"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
}

// PostgresConfig holds the primary ticket store connection.
type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// QdrantConfig holds Qdrant vector database configuration, used both as the
// ticket store fallback and as the backing collection store for retrieval
// strategies.
type QdrantConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	CollectionName string `koanf:"collection_name"`
	VectorSize     int    `koanf:"vector_size"`
	UseTLS         bool   `koanf:"use_tls"`
}

// EmbeddingConfig holds the embedding client configuration (spec §4.2).
type EmbeddingConfig struct {
	Provider string `koanf:"provider"` // "tei", "openai", etc.
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
}

// WebSearchConfig configures the WebSearch strategy (spec §4.5).
type WebSearchConfig struct {
	Provider    string `koanf:"provider"` // e.g. "serper", "tavily"
	APIKey      Secret `koanf:"api_key"`
	MaxSearches int    `koanf:"max_searches"`
}

// LogSearchConfig configures the LogSearch strategy (spec §4.6).
type LogSearchConfig struct {
	Provider    string `koanf:"provider"` // e.g. "loki", "cloudwatch"
	Endpoint    string `koanf:"endpoint"`
	APIKey      Secret `koanf:"api_key"`
	MaxSearches int    `koanf:"max_searches"`
	WindowHours int    `koanf:"window_hours"`
}

// LLMConfig configures the shared LLM client used by the supervisor,
// LogSearch query planner, and response writer.
type LLMConfig struct {
	APIKey            Secret `koanf:"api_key"`
	BaseURL           string `koanf:"base_url"`
	FastModel         string `koanf:"fast_model"`
	StrongModel       string `koanf:"strong_model"`
	RequestsPerMinute int    `koanf:"requests_per_minute"`
	Burst             int    `koanf:"burst"`
}

// StrategiesConfig holds the retrieval-wide tunables from spec §6 shared
// across the retrieval strategies and the orchestrator.
type StrategiesConfig struct {
	EmbeddingDim        int            `koanf:"embedding_dim"`
	SimilarityThreshold float64        `koanf:"similarity_threshold"`
	DefaultTopK         int            `koanf:"default_topk"`
	VectorWeight        float64        `koanf:"vector_weight"`
	KeywordWeight       float64        `koanf:"keyword_weight"`
	WebMaxSearches      int            `koanf:"web_max_searches"`
	LogMaxSearches      int            `koanf:"log_max_searches"`
	StrategyTimeoutsMS  map[string]int `koanf:"strategy_timeouts_ms"`
	Fanout              int            `koanf:"fanout"`
	CollectionBackend   string         `koanf:"collection_backend"` // "primary", "fallback", or "auto"
	RerankerEnabled     bool           `koanf:"reranker_enabled"`
}

// ProductionConfig holds production deployment configuration.
type ProductionConfig struct {
	// Enabled indicates whether production mode is active.
	// Set via CUTTLEFISH4_PRODUCTION_MODE=1 environment variable.
	Enabled bool `koanf:"enabled"`

	// LocalModeAcknowledged allows development features in production mode.
	// Set via CUTTLEFISH4_LOCAL_MODE=1 environment variable.
	// Use only for local development/testing.
	LocalModeAcknowledged bool `koanf:"local_mode_acknowledged"`

	// RequireAuthentication enforces authentication in production. Auth
	// itself is out of scope for this service (spec §1); this flag only
	// blocks startup until an operator wires one up.
	RequireAuthentication bool `koanf:"require_authentication"`

	// AuthenticationConfigured indicates if auth is properly set up.
	AuthenticationConfigured bool `koanf:"authentication_configured"`

	// RequireTLS enforces TLS for external services (Qdrant, Postgres, OTEL).
	RequireTLS bool `koanf:"require_tls"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool {
	return c.Enabled
}

// IsLocal returns true if local mode is acknowledged.
func (c *ProductionConfig) IsLocal() bool {
	return c.LocalModeAcknowledged
}

// Validate checks production configuration for security issues.
func (c *ProductionConfig) Validate() error {
	if !c.Enabled {
		return nil // Not in production, skip validation
	}

	if c.RequireAuthentication && !c.AuthenticationConfigured {
		return fmt.Errorf("SECURITY: RequireAuthentication enabled but authentication not configured")
	}

	return nil
}

// Load loads configuration from environment variables with defaults.
//
// Quick Start - Most commonly configured env vars:
//
//   - TICKETSTORE_BACKEND: primary (Postgres), fallback (Qdrant), or auto (default: auto)
//   - TICKETSTORE_POSTGRES_DSN: Postgres connection string
//   - LLM_API_KEY: LLM provider API key
//   - EMBEDDING_BASE_URL: embedding service URL (default: http://localhost:8080)
//   - CUTTLEFISH4_PRODUCTION_MODE: Enable production safety checks (default: false)
//
// All environment variables:
//
// Server:
//   - SERVER_PORT: HTTP server port (default: 9090)
//   - SERVER_SHUTDOWN_TIMEOUT: Graceful shutdown timeout (default: 10s)
//
// Ticket store:
//   - TICKETSTORE_BACKEND: primary, fallback, or auto (default: auto)
//   - TICKETSTORE_POSTGRES_DSN: Postgres DSN for the primary backend
//   - TICKETSTORE_QDRANT_HOST / _PORT / _COLLECTION_NAME / _VECTOR_SIZE: Qdrant fallback backend
//
// Embedding:
//   - EMBEDDING_PROVIDER: embedding provider name (default: tei)
//   - EMBEDDING_BASE_URL: embedding service URL (default: http://localhost:8080)
//   - EMBEDDING_MODEL: embedding model name (default: BAAI/bge-small-en-v1.5)
//   - EMBEDDING_API_KEY: embedding provider API key
//
// Web search / log search:
//   - WEBSEARCH_PROVIDER / WEBSEARCH_API_KEY / WEBSEARCH_MAX_SEARCHES
//   - LOGSEARCH_PROVIDER / LOGSEARCH_ENDPOINT / LOGSEARCH_API_KEY / LOGSEARCH_MAX_SEARCHES / LOGSEARCH_WINDOW_HOURS
//
// LLM:
//   - LLM_API_KEY / LLM_BASE_URL / LLM_FAST_MODEL / LLM_STRONG_MODEL
//   - LLM_REQUESTS_PER_MINUTE / LLM_BURST
//
// Strategies:
//   - STRATEGIES_EMBEDDING_DIM / STRATEGIES_SIMILARITY_THRESHOLD / STRATEGIES_DEFAULT_TOPK
//   - STRATEGIES_VECTOR_WEIGHT / STRATEGIES_KEYWORD_WEIGHT / STRATEGIES_FANOUT
//   - STRATEGIES_COLLECTION_BACKEND / STRATEGIES_RERANKER_ENABLED
//
// Telemetry:
//   - OTEL_ENABLE: Enable OpenTelemetry (default: false, requires OTEL collector)
//   - OTEL_SERVICE_NAME: Service name for traces (default: cuttlefish4)
//
// Example:
//
//	cfg := config.Load()
//	fmt.Println("ticket store backend:", cfg.TicketStore.Backend)
func Load() *Config {
	cfg := &Config{
		Production: ProductionConfig{
			Enabled:               getEnvBool("CUTTLEFISH4_PRODUCTION_MODE", false),
			LocalModeAcknowledged: getEnvBool("CUTTLEFISH4_LOCAL_MODE", false),
			RequireAuthentication: getEnvBool("CUTTLEFISH4_REQUIRE_AUTH", false),
			RequireTLS:            getEnvBool("CUTTLEFISH4_REQUIRE_TLS", false),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 9090),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", false),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "cuttlefish4"),
			OTLPEndpoint:    getEnvString("OTEL_OTLP_ENDPOINT", "localhost:4317"),
			OTLPProtocol:    getEnvString("OTEL_OTLP_PROTOCOL", "grpc"),
			OTLPInsecure:    getEnvBool("OTEL_OTLP_INSECURE", true),
		},
	}

	cfg.TicketStore = TicketStoreConfig{
		Backend: getEnvString("TICKETSTORE_BACKEND", "auto"),
		Postgres: PostgresConfig{
			DSN: getEnvString("TICKETSTORE_POSTGRES_DSN", ""),
		},
		Qdrant: QdrantConfig{
			Host:           getEnvString("TICKETSTORE_QDRANT_HOST", "localhost"),
			Port:           getEnvInt("TICKETSTORE_QDRANT_PORT", 6334),
			CollectionName: getEnvString("TICKETSTORE_QDRANT_COLLECTION_NAME", "cuttlefish4_tickets"),
			VectorSize:     getEnvInt("TICKETSTORE_QDRANT_VECTOR_SIZE", 384),
			UseTLS:         getEnvBool("TICKETSTORE_QDRANT_USE_TLS", false),
		},
	}

	cfg.Embedding = EmbeddingConfig{
		Provider: getEnvString("EMBEDDING_PROVIDER", "tei"),
		BaseURL:  getEnvString("EMBEDDING_BASE_URL", "http://localhost:8080"),
		Model:    getEnvString("EMBEDDING_MODEL", "BAAI/bge-small-en-v1.5"),
		APIKey:   Secret(getEnvString("EMBEDDING_API_KEY", "")),
	}

	cfg.WebSearch = WebSearchConfig{
		Provider:    getEnvString("WEBSEARCH_PROVIDER", ""),
		APIKey:      Secret(getEnvString("WEBSEARCH_API_KEY", "")),
		MaxSearches: getEnvInt("WEBSEARCH_MAX_SEARCHES", 3),
	}

	cfg.LogSearch = LogSearchConfig{
		Provider:    getEnvString("LOGSEARCH_PROVIDER", ""),
		Endpoint:    getEnvString("LOGSEARCH_ENDPOINT", ""),
		APIKey:      Secret(getEnvString("LOGSEARCH_API_KEY", "")),
		MaxSearches: getEnvInt("LOGSEARCH_MAX_SEARCHES", 3),
		WindowHours: getEnvInt("LOGSEARCH_WINDOW_HOURS", 24),
	}

	cfg.LLM = LLMConfig{
		APIKey:            Secret(getEnvString("LLM_API_KEY", "")),
		BaseURL:           getEnvString("LLM_BASE_URL", ""),
		FastModel:         getEnvString("LLM_FAST_MODEL", ""),
		StrongModel:       getEnvString("LLM_STRONG_MODEL", ""),
		RequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 0),
		Burst:             getEnvInt("LLM_BURST", 0),
	}

	cfg.Strategies = StrategiesConfig{
		EmbeddingDim:        getEnvInt("STRATEGIES_EMBEDDING_DIM", 1536),
		SimilarityThreshold: getEnvFloat("STRATEGIES_SIMILARITY_THRESHOLD", 0.1),
		DefaultTopK:         getEnvInt("STRATEGIES_DEFAULT_TOPK", 10),
		VectorWeight:        getEnvFloat("STRATEGIES_VECTOR_WEIGHT", 0.7),
		KeywordWeight:       getEnvFloat("STRATEGIES_KEYWORD_WEIGHT", 0.3),
		WebMaxSearches:      getEnvInt("STRATEGIES_WEB_MAX_SEARCHES", 5),
		LogMaxSearches:      getEnvInt("STRATEGIES_LOG_MAX_SEARCHES", 5),
		StrategyTimeoutsMS: map[string]int{
			"bm25":        getEnvInt("STRATEGIES_TIMEOUT_BM25_MS", 5000),
			"compression": getEnvInt("STRATEGIES_TIMEOUT_COMPRESSION_MS", 10000),
			"ensemble":    getEnvInt("STRATEGIES_TIMEOUT_ENSEMBLE_MS", 30000),
			"websearch":   getEnvInt("STRATEGIES_TIMEOUT_WEBSEARCH_MS", 20000),
			"logsearch":   getEnvInt("STRATEGIES_TIMEOUT_LOGSEARCH_MS", 20000),
		},
		Fanout:            getEnvInt("STRATEGIES_FANOUT", 3),
		CollectionBackend: getEnvString("STRATEGIES_COLLECTION_BACKEND", "auto"),
		RerankerEnabled:   getEnvBool("STRATEGIES_RERANKER_ENABLED", true),
	}

	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty (when telemetry is enabled)
//   - The Qdrant hostname, embedding base URL, or log search endpoint contains unsafe input
//   - A backend selector, embedding dim, top-k, or similarity threshold is out of range
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if err := validateHostname(c.TicketStore.Qdrant.Host); err != nil {
		return fmt.Errorf("invalid TICKETSTORE_QDRANT_HOST: %w", err)
	}

	if c.Embedding.BaseURL != "" {
		if err := validateURL(c.Embedding.BaseURL); err != nil {
			return fmt.Errorf("invalid EMBEDDING_BASE_URL: %w", err)
		}
	}

	if c.LogSearch.Endpoint != "" {
		if err := validateURL(c.LogSearch.Endpoint); err != nil {
			return fmt.Errorf("invalid LOGSEARCH_ENDPOINT: %w", err)
		}
	}

	switch c.TicketStore.Backend {
	case "primary", "fallback", "auto", "":
		// valid
	default:
		return fmt.Errorf("invalid TICKETSTORE_BACKEND: %q (must be 'primary', 'fallback', or 'auto')", c.TicketStore.Backend)
	}

	switch c.Strategies.CollectionBackend {
	case "primary", "fallback", "auto", "":
		// valid
	default:
		return fmt.Errorf("invalid STRATEGIES_COLLECTION_BACKEND: %q (must be 'primary', 'fallback', or 'auto')", c.Strategies.CollectionBackend)
	}

	if c.Strategies.EmbeddingDim <= 0 {
		return fmt.Errorf("STRATEGIES_EMBEDDING_DIM must be positive, got %d", c.Strategies.EmbeddingDim)
	}
	if c.Strategies.DefaultTopK <= 0 {
		return fmt.Errorf("STRATEGIES_DEFAULT_TOPK must be positive, got %d", c.Strategies.DefaultTopK)
	}
	if c.Strategies.SimilarityThreshold < 0 || c.Strategies.SimilarityThreshold > 1 {
		return fmt.Errorf("STRATEGIES_SIMILARITY_THRESHOLD must be in [0,1], got %f", c.Strategies.SimilarityThreshold)
	}

	if err := c.Production.Validate(); err != nil {
		return fmt.Errorf("production config validation failed: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// validateHostname checks if a hostname is safe (no command injection attempts).
// Uses positive validation with net.ParseIP for IP addresses and regexp for hostnames.
func validateHostname(host string) error {
	// Empty hostname is allowed (config may use defaults)
	if host == "" {
		return nil
	}

	// Try parsing as IP first
	if net.ParseIP(host) != nil {
		return nil // Valid IP address
	}

	// Validate hostname format (RFC 1123)
	// Allow alphanumeric, dots, hyphens. Must not start/end with dash.
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}

	// Additional blacklist check for shell metacharacters (defense in depth)
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only)
func validateURL(urlStr string) error {
	// Only allow http and https schemes
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}

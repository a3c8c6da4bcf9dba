// Cuttlefish4d is the multi-agent retrieval-augmented generation daemon.
//
// This binary starts the cuttlefish4 HTTP server with full service
// initialization, including the ticket store (Postgres/Qdrant), the
// embedding service, web and log search providers, and the supervisor /
// retrieval / writer workflow.
//
// Configuration is loaded from environment variables, optionally layered
// over a YAML file. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	cuttlefish4d
//
//	# Configure via environment
//	SERVER_PORT=9090 TICKETSTORE_BACKEND=primary cuttlefish4d
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/foohm71/cuttlefish4/internal/config"
	"github.com/foohm71/cuttlefish4/internal/embeddings"
	cfhttp "github.com/foohm71/cuttlefish4/internal/http"
	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/logging"
	"github.com/foohm71/cuttlefish4/internal/logprovider"
	"github.com/foohm71/cuttlefish4/internal/logsearch"
	"github.com/foohm71/cuttlefish4/internal/orchestrator"
	qdrantclient "github.com/foohm71/cuttlefish4/internal/qdrant"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
	"github.com/foohm71/cuttlefish4/internal/reranker"
	"github.com/foohm71/cuttlefish4/internal/strategies"
	"github.com/foohm71/cuttlefish4/internal/telemetry"
	"github.com/foohm71/cuttlefish4/internal/ticketstore"
	"github.com/foohm71/cuttlefish4/internal/webprovider"
	"github.com/foohm71/cuttlefish4/internal/websearch"
	"github.com/foohm71/cuttlefish4/internal/writer"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  cuttlefish4d           Start the cuttlefish4 daemon\n")
			fmt.Fprintf(os.Stderr, "  cuttlefish4d version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("cuttlefish4 multi-agent RAG daemon\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the cuttlefish4 server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Connects to infrastructure (ticket store, embedding service)
//  4. Builds retrieval strategies and the workflow orchestrator
//  5. Wires the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting cuttlefish4",
		zap.Int("port", cfg.Server.Port),
		zap.String("service", cfg.Observability.ServiceName))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(ctx)

	logger.Info(ctx, "dependencies initialized",
		zap.String("ticketstore_backend", string(cfg.TicketStore.Backend)),
		zap.Bool("llm_configured", deps.llmClient.Configured()))

	exec := initExecutor(cfg, deps)

	backends := map[string]cfhttp.BackendChecker{
		"ticketstore": func(ctx context.Context) error { return nil },
	}

	srv, err := cfhttp.NewServer(exec, logger, &cfhttp.Config{
		Host:    "0.0.0.0",
		Port:    cfg.Server.Port,
		Version: version,
	}, backends)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// dependencies holds all long-lived infrastructure clients.
type dependencies struct {
	store       ticketstore.Store
	embedder    embeddings.Provider
	llmClient   *llm.Client
	webProvider *webprovider.Client
	logProvider *logprovider.Client
}

func (d *dependencies) Close(ctx context.Context) {
	if d.store != nil {
		_ = d.store.Close()
	}
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Output.OTEL = cfg.Observability.EnableTelemetry
	var lp = tel.LoggerProvider()
	return logging.NewLogger(logCfg, lp)
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.Endpoint = cfg.Observability.OTLPEndpoint
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.Insecure = cfg.Observability.OTLPInsecure
	if err := telCfg.Validate(); err != nil {
		return nil, err
	}
	return telemetry.New(ctx, telCfg)
}

// initDependencies connects to the ticket store and builds the embedding,
// LLM, web search, and log search clients. The ticket store backend choice
// (primary/fallback/auto) is made once here and fixed for the daemon's
// lifetime.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	store, err := ticketstore.New(ctx, ticketstore.Config{
		Backend:  ticketstore.Backend(cfg.TicketStore.Backend),
		Postgres: ticketstore.PostgresConfig{DSN: cfg.TicketStore.Postgres.DSN},
		Qdrant: &qdrantclient.ClientConfig{
			Host:   cfg.TicketStore.Qdrant.Host,
			Port:   cfg.TicketStore.Qdrant.Port,
			UseTLS: cfg.TicketStore.Qdrant.UseTLS,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ticket store: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey.String(),
		Dim:     cfg.Strategies.EmbeddingDim,
	}, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding service: %w", err)
	}

	llmClient := llm.New(llm.Config{
		APIKey:            cfg.LLM.APIKey.String(),
		BaseURL:           cfg.LLM.BaseURL,
		FastModel:         cfg.LLM.FastModel,
		StrongModel:       cfg.LLM.StrongModel,
		RequestsPerMinute: float64(cfg.LLM.RequestsPerMinute),
		Burst:             cfg.LLM.Burst,
	})

	webProv := webprovider.New(webprovider.Config{
		BaseURL: "",
		APIKey:  cfg.WebSearch.APIKey.String(),
	})

	logProv := logprovider.New(logprovider.Config{
		Endpoint: cfg.LogSearch.Endpoint,
		APIKey:   cfg.LogSearch.APIKey.String(),
	})

	return &dependencies{
		store:       store,
		embedder:    embedder,
		llmClient:   llmClient,
		webProvider: webProv,
		logProvider: logProv,
	}, nil
}

// initExecutor wires every retrieval strategy and builds the workflow
// orchestrator that drives SupervisorDecide -> Retrieve -> Compose -> Done.
func initExecutor(cfg *config.Config, deps *dependencies) *orchestrator.Executor {
	bm25 := strategies.NewBM25Strategy(deps.store)

	var rr reranker.Reranker
	if cfg.Strategies.RerankerEnabled {
		rr = reranker.NewSimpleReranker()
	}
	compression := strategies.NewCompressionStrategy(deps.store, deps.embedder, rr, cfg.Strategies.SimilarityThreshold)
	ensemble := strategies.NewEnsembleStrategy(bm25, compression, deps.llmClient)

	webStrategy := websearch.New(deps.webProvider, deps.llmClient, cfg.Strategies.WebMaxSearches)
	logWindow := time.Duration(cfg.LogSearch.WindowHours) * time.Hour
	logStrategy := logsearch.New(deps.logProvider, deps.llmClient, cfg.Strategies.LogMaxSearches, logWindow, nil)

	return orchestrator.NewExecutor(orchestrator.Config{
		Strategies: map[ragtypes.StrategyName]orchestrator.Strategy{
			ragtypes.StrategyBM25:        bm25,
			ragtypes.StrategyCompression: compression,
			ragtypes.StrategyEnsemble:    ensemble,
			ragtypes.StrategyWebSearch:   webStrategy,
			ragtypes.StrategyLogSearch:   logStrategy,
		},
		LLMClient:   deps.llmClient,
		Writer:      writer.New(deps.llmClient),
		Timeouts:    millisToDurations(cfg.Strategies.StrategyTimeoutsMS),
		DefaultTopK: cfg.Strategies.DefaultTopK,
	})
}

// strategyTimeoutKeys maps the config file's lowercase timeout keys to the
// strategy names the orchestrator indexes by.
var strategyTimeoutKeys = map[string]ragtypes.StrategyName{
	"bm25":        ragtypes.StrategyBM25,
	"compression": ragtypes.StrategyCompression,
	"ensemble":    ragtypes.StrategyEnsemble,
	"websearch":   ragtypes.StrategyWebSearch,
	"logsearch":   ragtypes.StrategyLogSearch,
}

func millisToDurations(ms map[string]int) map[ragtypes.StrategyName]time.Duration {
	out := make(map[ragtypes.StrategyName]time.Duration, len(ms))
	for key, name := range strategyTimeoutKeys {
		if v, ok := ms[key]; ok && v > 0 {
			out[name] = time.Duration(v) * time.Millisecond
		}
	}
	return out
}

// Package http provides the HTTP API for the multi-agent RAG engine.
package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/foohm71/cuttlefish4/internal/logging"
	"github.com/foohm71/cuttlefish4/internal/orchestrator"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

// BackendChecker reports whether one long-lived backend client is ready to
// serve traffic. A nil error means ready.
type BackendChecker func(ctx context.Context) error

// Server provides the multiagent-rag HTTP API.
type Server struct {
	echo     *echo.Echo
	executor *orchestrator.Executor
	logger   *logging.Logger
	config   *Config
	metrics  *HTTPMetrics
	backends map[string]BackendChecker

	// PreRequest and PostRequest are optional hooks a caller may wire up.
	// Neither failing fails the request; they exist purely for callers that
	// want to observe or annotate traffic (e.g. request tagging). Auth, rate
	// limiting, and quotas are out of scope and are not implemented here.
	PreRequest  func(c echo.Context)
	PostRequest func(c echo.Context, status int)
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server. backends maps a label (e.g.
// "embedder", "ticketstore", "websearch", "logsearch") to a liveness check
// used by GET /health.
func NewServer(executor *orchestrator.Executor, logger *logging.Logger, cfg *Config, backends map[string]BackendChecker) (*Server, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := NewHTTPMetrics(logger.Underlying())

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(httpMetrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		executor: executor,
		logger:   logger,
		config:   cfg,
		metrics:  httpMetrics,
		backends: backends,
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/multiagent-rag", s.handleMultiAgentRAG)
	s.echo.POST("/debug/routing", s.handleDebugRouting)
}

func (s *Server) runHook(pre bool, c echo.Context, status int) {
	if pre && s.PreRequest != nil {
		s.PreRequest(c)
	}
	if !pre && s.PostRequest != nil {
		s.PostRequest(c, status)
	}
}

// handleMultiAgentRAG runs the full orchestrator pipeline and returns the
// response envelope described in spec §6.
func (s *Server) handleMultiAgentRAG(c echo.Context) error {
	s.runHook(true, c, 0)

	var req RAGRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(400, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(400, "query field is required and must be non-empty")
	}

	started := time.Now()
	state, err := s.executor.Execute(c.Request().Context(), req.Query, req.hints(), ragtypes.Filters{})
	if err != nil {
		return echo.NewHTTPError(503, fmt.Sprintf("orchestrator could not complete the request: %v", err))
	}

	resp := RAGResponse{
		Query:               state.Query,
		FinalAnswer:         state.Answer,
		RelevantTickets:     state.References,
		RoutingDecision:     string(state.Plan.Strategy),
		RoutingReasoning:    state.Plan.Rationale,
		RetrievalMethod:     state.RetrievalMethod,
		RetrievedContexts:   state.Contexts,
		RetrievalMetadata:   buildMetadata(state),
		UserCanWait:         state.UserCanWait,
		ProductionIncident:  state.ProductionIncident,
		Messages:            buildMessages(state),
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
		TotalProcessingTime: time.Since(started).Seconds(),
	}

	s.runHook(false, c, 200)
	return c.JSON(200, resp)
}

// handleDebugRouting runs only the supervisor decision.
func (s *Server) handleDebugRouting(c echo.Context) error {
	s.runHook(true, c, 0)

	var req RAGRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(400, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(400, "query field is required and must be non-empty")
	}

	plan := s.executor.Route(c.Request().Context(), req.Query, req.hints())
	s.runHook(false, c, 200)
	return c.JSON(200, RoutingResponse{RoutingDecision: string(plan.Strategy), RoutingReasoning: plan.Rationale})
}

// handleHealth reports liveness per backend client. A back-end marked
// unready reduces the engine to the strategies that do not require it; the
// endpoint then reports status "degraded" with HTTP 503.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	backendStatus := make(map[string]string, len(s.backends))
	overall := "ok"
	for name, check := range s.backends {
		if check == nil {
			backendStatus[name] = "unknown"
			continue
		}
		if err := check(ctx); err != nil {
			backendStatus[name] = "unready: " + err.Error()
			overall = "degraded"
			continue
		}
		backendStatus[name] = "ok"
	}

	status := 200
	if overall == "degraded" {
		status = 503
	}
	return c.JSON(status, HealthResponse{Status: overall, Backends: backendStatus})
}

func buildMetadata(state *ragtypes.AgentState) ragtypes.RetrievalMetadata {
	return ragtypes.RetrievalMetadata{
		Agent:            string(state.Plan.Strategy),
		NumResults:       len(state.Contexts),
		ProcessingTime:   state.StageTimings[string(orchestrator.PhaseRetrieve)].Seconds(),
		MethodType:       state.RetrievalMethod,
		MethodsUsed:      state.MethodsUsed,
		Messages:         state.Errors,
		RerankerUsed:     state.Plan.Strategy == ragtypes.StrategyCompression,
		KeywordIndexUsed: state.Plan.Strategy == ragtypes.StrategyBM25 || state.Plan.Strategy == ragtypes.StrategyEnsemble,
		PerStageCounts:   state.PerStageCounts,
	}
}

func buildMessages(state *ragtypes.AgentState) []ResponseMessage {
	msgs := make([]ResponseMessage, 0, len(state.Errors)+1)
	msgs = append(msgs, ResponseMessage{Content: state.Answer, Type: "answer"})
	for _, e := range state.Errors {
		msgs = append(msgs, ResponseMessage{Content: e, Type: "warning"})
	}
	return msgs
}

// Handler returns the underlying HTTP handler, for use in tests with
// httptest.NewServer or to mount the API behind another router.
func (s *Server) Handler() stdhttp.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

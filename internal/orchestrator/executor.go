package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
	"github.com/foohm71/cuttlefish4/internal/supervisor"
	"github.com/foohm71/cuttlefish4/internal/writer"
)

// Strategy is the structural contract every retrieval strategy satisfies
// (internal/strategies.Strategy, internal/websearch.Strategy, and
// internal/logsearch.Strategy all implement this shape without importing
// a common interface type). RetrievalInfo reports which method tags
// contributed, surfaced in the response envelope's methods_used field.
type Strategy interface {
	Name() ragtypes.StrategyName
	Retrieve(ctx context.Context, query string, filters ragtypes.Filters, topK int) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error)
}

// PhaseProgress reports progress during execution.
type PhaseProgress struct {
	Phase      Phase       `json:"phase"`
	Status     PhaseStatus `json:"status"`
	Message    string      `json:"message"`
	Percentage int         `json:"percentage"`
}

// ProgressCallback receives progress updates during execution.
type ProgressCallback func(progress PhaseProgress)

// defaultTimeouts are the per-strategy budgets from spec §4.9.
func defaultTimeouts() map[ragtypes.StrategyName]time.Duration {
	return map[ragtypes.StrategyName]time.Duration{
		ragtypes.StrategyBM25:        5 * time.Second,
		ragtypes.StrategyCompression: 10 * time.Second,
		ragtypes.StrategyEnsemble:    30 * time.Second,
		ragtypes.StrategyWebSearch:   20 * time.Second,
		ragtypes.StrategyLogSearch:   20 * time.Second,
	}
}

const composeBudget = 5 * time.Second

// Config configures an Executor's strategy set and budgets.
type Config struct {
	Strategies  map[ragtypes.StrategyName]Strategy
	LLMClient   *llm.Client
	Writer      *writer.Writer
	Timeouts    map[ragtypes.StrategyName]time.Duration
	DefaultTopK int
}

// Executor drives one request through SupervisorDecide -> Retrieve ->
// Compose -> Done, with the fallback-to-Compression-once policy and
// response assembly described in spec §4.9.
type Executor struct {
	strategies       map[ragtypes.StrategyName]Strategy
	llmClient        *llm.Client
	writer           *writer.Writer
	timeouts         map[ragtypes.StrategyName]time.Duration
	defaultTopK      int
	progressCallback ProgressCallback
}

// NewExecutor builds an Executor. Missing timeouts fall back to the spec
// defaults; a missing DefaultTopK falls back to 10.
func NewExecutor(cfg Config) *Executor {
	timeouts := defaultTimeouts()
	for name, d := range cfg.Timeouts {
		if d > 0 {
			timeouts[name] = d
		}
	}
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = 10
	}
	return &Executor{
		strategies:  cfg.Strategies,
		llmClient:   cfg.LLMClient,
		writer:      cfg.Writer,
		timeouts:    timeouts,
		defaultTopK: topK,
	}
}

// OnProgress sets the progress callback.
func (e *Executor) OnProgress(callback ProgressCallback) {
	e.progressCallback = callback
}

// Route runs only the supervisor decision (C7), without dispatching to any
// retrieval strategy. Used by the /debug/routing endpoint.
func (e *Executor) Route(ctx context.Context, query string, hints ragtypes.Hints) ragtypes.QueryPlan {
	return supervisor.DecideWithClassifier(ctx, query, hints, e.llmClient)
}

// Execute runs one request end to end and returns the fully assembled
// AgentState. It never returns an error for retrieval-confined failures;
// per spec §7, those degrade the response instead (empty contexts, a
// recorded message), so the HTTP layer always gets a 200-able state back.
// Execute can still return an error for a caller-supplied context
// cancellation/deadline that fires before SupervisorDecide even starts.
func (e *Executor) Execute(ctx context.Context, query string, hints ragtypes.Hints, filters ragtypes.Filters) (*ragtypes.AgentState, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	state := ragtypes.NewAgentState(query, hints)
	currentPhase := PhaseSupervisorDecide

	e.reportProgress(PhaseProgress{Phase: PhaseSupervisorDecide, Status: StatusInProgress, Message: "deciding routing strategy"})
	decideStart := time.Now()
	state.Plan = supervisor.DecideWithClassifier(ctx, query, hints, e.llmClient)
	state.StageTimings[string(PhaseSupervisorDecide)] = time.Since(decideStart)
	e.reportProgress(PhaseProgress{Phase: PhaseSupervisorDecide, Status: StatusCompleted, Message: "routing decided", Percentage: 25})

	if err := canTransition(currentPhase, PhaseRetrieve); err != nil {
		return nil, err
	}
	currentPhase = PhaseRetrieve

	e.reportProgress(PhaseProgress{Phase: PhaseRetrieve, Status: StatusInProgress, Message: "retrieving context"})
	retrieveStart := time.Now()
	contexts, method, info, messages := e.retrieveWithFallback(ctx, state.Plan.Strategy, query, filters)
	state.Contexts = contexts
	state.RetrievalMethod = method
	state.MethodsUsed = info.MethodsUsed
	state.PerStageCounts = info.PerStageCounts
	state.Errors = append(state.Errors, messages...)
	state.StageTimings[string(PhaseRetrieve)] = time.Since(retrieveStart)
	e.reportProgress(PhaseProgress{Phase: PhaseRetrieve, Status: StatusCompleted, Message: "retrieval complete", Percentage: 75})

	if err := canTransition(currentPhase, PhaseCompose); err != nil {
		return nil, err
	}
	currentPhase = PhaseCompose

	e.reportProgress(PhaseProgress{Phase: PhaseCompose, Status: StatusInProgress, Message: "composing answer"})
	composeStart := time.Now()
	answer, refs := e.writer.Compose(ctx, query, state.Plan.Strategy, hints, state.Contexts)
	state.Answer = answer
	state.References = refs
	state.StageTimings[string(PhaseCompose)] = time.Since(composeStart)
	e.reportProgress(PhaseProgress{Phase: PhaseCompose, Status: StatusCompleted, Message: "answer composed", Percentage: 100})

	if err := canTransition(currentPhase, PhaseDone); err != nil {
		return nil, err
	}
	e.reportProgress(PhaseProgress{Phase: PhaseDone, Status: StatusCompleted, Message: "request complete", Percentage: 100})

	return state, nil
}

// retrieveWithFallback runs the chosen strategy through runStrategy. On any
// error (a timeout is reported as StrategyFailed) it falls back to
// Compression once; if Compression was already the original choice, the same
// Compression strategy runs a second time with the same settings, reranker
// included. If the fallback also fails it returns an empty context list and
// a WorkflowFailed message.
func (e *Executor) retrieveWithFallback(ctx context.Context, chosen ragtypes.StrategyName, query string, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, string, ragtypes.RetrievalInfo, []string) {
	contexts, info, err := e.runStrategy(ctx, chosen, query, filters)
	if err == nil {
		return contexts, string(chosen), info, nil
	}

	messages := []string{fmt.Sprintf("strategy %s failed: %v", chosen, err)}

	fallbackContexts, fallbackInfo, fallbackErr := e.runStrategy(ctx, ragtypes.StrategyCompression, query, filters)
	if fallbackErr == nil {
		messages = append(messages, "fell back to Compression after primary strategy failure")
		return fallbackContexts, string(ragtypes.StrategyCompression) + " (fallback)", fallbackInfo, messages
	}

	messages = append(messages, fmt.Sprintf("fallback to Compression also failed: %v", fallbackErr))
	return nil, string(chosen) + " (workflow_failed)", ragtypes.RetrievalInfo{}, messages
}

// runStrategy looks up and invokes the named strategy under a deadline of
// its configured timeout plus the compose budget, translating "strategy not wired" into StrategyFailed
// so an operator running with a reduced strategy set degrades gracefully
// rather than panicking.
func (e *Executor) runStrategy(ctx context.Context, name ragtypes.StrategyName, query string, filters ragtypes.Filters) ([]ragtypes.RetrievedContext, ragtypes.RetrievalInfo, error) {
	strat, ok := e.strategies[name]
	if !ok {
		return nil, ragtypes.RetrievalInfo{}, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("no strategy wired for %s", name))
	}

	timeout := e.timeouts[name]
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stratCtx, cancel := context.WithTimeout(ctx, timeout+composeBudget)
	defer cancel()

	contexts, info, err := strat.Retrieve(stratCtx, query, filters, e.defaultTopK)
	if err != nil {
		if stratCtx.Err() != nil {
			return nil, ragtypes.RetrievalInfo{}, ragerr.New(ragerr.StrategyFailed, fmt.Errorf("strategy %s timed out: %w", name, stratCtx.Err()))
		}
		return nil, ragtypes.RetrievalInfo{}, err
	}
	return contexts, info, nil
}

func (e *Executor) reportProgress(progress PhaseProgress) {
	if e.progressCallback != nil {
		e.progressCallback(progress)
	}
}

// Package ragerr defines the error-kind taxonomy shared across the retrieval
// engine. Kinds are conceptual, not a type hierarchy: every error returned by
// a client or strategy wraps a stdlib error with one of these kinds so the
// orchestrator can decide whether to retry, degrade, or fail the request.
package ragerr

import "errors"

// Kind classifies a failure for the purposes of retry and propagation policy.
type Kind int

const (
	// InvalidInput is surfaced as HTTP 400; the only client-visible validation failure.
	InvalidInput Kind = iota
	// UpstreamTransient is a network or provider 5xx; retried with jitter inside the client.
	UpstreamTransient
	// UpstreamPermanent is an auth/quota/schema mismatch; not retried, downgrades the strategy.
	UpstreamPermanent
	// StrategyDegraded means one sub-retrieval failed; the request still succeeds.
	StrategyDegraded
	// StrategyFailed means every sub-retrieval failed or the strategy exceeded its budget.
	StrategyFailed
	// WorkflowFailed means the Compression fallback also failed.
	WorkflowFailed
	// Fatal is a misconfiguration surfaced at startup, never per-request.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case UpstreamTransient:
		return "upstream_transient"
	case UpstreamPermanent:
		return "upstream_permanent"
	case StrategyDegraded:
		return "strategy_degraded"
	case StrategyFailed:
		return "strategy_failed"
	case WorkflowFailed:
		return "workflow_failed"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. A nil err still produces a non-nil *Error carrying
// only the kind, so callers can use New(kind, nil) as a sentinel.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or any error in its chain) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Fatal when err does not wrap *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

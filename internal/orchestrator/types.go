// Package orchestrator drives a single RAG request through a strict
// sequential phase machine: SupervisorDecide -> Retrieve -> Compose -> Done.
// Cancellation and timeouts are not a separate phase; they arrive through the
// request context. It owns per-strategy timeouts,
// the fallback-to-Compression-once policy, and response assembly.
package orchestrator

import (
	"fmt"
	"time"
)

// Phase represents one step of the request pipeline.
type Phase string

const (
	// PhaseSupervisorDecide runs the routing decision (C7).
	PhaseSupervisorDecide Phase = "supervisor_decide"

	// PhaseRetrieve dispatches to the chosen retrieval strategy (C4-C6).
	PhaseRetrieve Phase = "retrieve"

	// PhaseCompose writes the final answer (C8).
	PhaseCompose Phase = "compose"

	// PhaseDone marks the request as fully assembled.
	PhaseDone Phase = "done"
)

// AllPhases returns every phase in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseSupervisorDecide, PhaseRetrieve, PhaseCompose, PhaseDone}
}

// PhaseStatus represents the completion status of a phase.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
)

// DegradationSeverity classifies how badly a phase's outcome deviated from
// the happy path, reusing the teacher's violation-severity vocabulary but
// repurposed to the error kinds in spec §7.
type DegradationSeverity string

const (
	// SeverityDegraded: one sub-retrieval failed, the request still succeeds.
	SeverityDegraded DegradationSeverity = "degraded"
	// SeverityFailed: the chosen strategy failed outright; fallback engaged.
	SeverityFailed DegradationSeverity = "failed"
	// SeverityWorkflowFailed: the fallback also failed; response has zero contexts.
	SeverityWorkflowFailed DegradationSeverity = "workflow_failed"
)

// DegradationEvent records one strategy-level degradation encountered while
// serving a request.
type DegradationEvent struct {
	Phase       Phase
	Description string
	Severity    DegradationSeverity
	DetectedAt  time.Time
}

// phaseOrder indexes AllPhases for sequential-transition checks.
func phaseOrder() map[Phase]int {
	order := make(map[Phase]int)
	for i, p := range AllPhases() {
		order[p] = i
	}
	return order
}

// canTransition reports whether moving from current to next phase respects
// the strict sequential order SupervisorDecide -> Retrieve -> Compose -> Done.
func canTransition(current, next Phase) error {
	order := phaseOrder()
	currentIdx, ok := order[current]
	if !ok {
		return fmt.Errorf("invalid current phase: %s", current)
	}
	nextIdx, ok := order[next]
	if !ok {
		return fmt.Errorf("invalid target phase: %s", next)
	}
	if nextIdx != currentIdx+1 {
		return fmt.Errorf("cannot transition from %s to %s: must follow sequential order", current, next)
	}
	return nil
}

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllPhases_IsSequentialOrder(t *testing.T) {
	phases := AllPhases()
	assert.Equal(t, []Phase{PhaseSupervisorDecide, PhaseRetrieve, PhaseCompose, PhaseDone}, phases)
}

func TestCanTransition_AllowsNextInSequence(t *testing.T) {
	assert.NoError(t, canTransition(PhaseSupervisorDecide, PhaseRetrieve))
	assert.NoError(t, canTransition(PhaseRetrieve, PhaseCompose))
	assert.NoError(t, canTransition(PhaseCompose, PhaseDone))
}

func TestCanTransition_RejectsSkippingAPhase(t *testing.T) {
	err := canTransition(PhaseSupervisorDecide, PhaseCompose)
	assert.Error(t, err)
}

func TestCanTransition_RejectsGoingBackward(t *testing.T) {
	err := canTransition(PhaseRetrieve, PhaseSupervisorDecide)
	assert.Error(t, err)
}

func TestCanTransition_RejectsUnknownPhase(t *testing.T) {
	err := canTransition(Phase("bogus"), PhaseRetrieve)
	assert.Error(t, err)
}

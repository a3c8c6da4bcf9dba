package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

func TestDecide_Rule1_OutageVocabulary(t *testing.T) {
	plan := Decide("is checkout-service down right now?", ragtypes.Hints{})
	assert.Equal(t, ragtypes.StrategyWebSearch, plan.Strategy)
}

func TestDecide_Rule2_IdentifierPattern(t *testing.T) {
	plan := Decide("what is the status of ABC-1234", ragtypes.Hints{})
	assert.Equal(t, ragtypes.StrategyBM25, plan.Strategy)
}

func TestDecide_Rule3_LogVocabulary(t *testing.T) {
	plan := Decide("seeing a stack trace in the logs", ragtypes.Hints{})
	assert.Equal(t, ragtypes.StrategyLogSearch, plan.Strategy)
}

func TestDecide_Rule3_ProductionIncidentWithErrorVocabulary(t *testing.T) {
	plan := Decide("checkout is failing for customers", ragtypes.Hints{ProductionIncident: true})
	assert.Equal(t, ragtypes.StrategyLogSearch, plan.Strategy)
}

func TestDecide_Rule4_UserCanWait(t *testing.T) {
	plan := Decide("how does the billing reconciliation job work", ragtypes.Hints{UserCanWait: true})
	assert.Equal(t, ragtypes.StrategyEnsemble, plan.Strategy)
}

func TestDecide_Rule5_ProductionIncidentDefault(t *testing.T) {
	plan := Decide("billing reconciliation question", ragtypes.Hints{ProductionIncident: true})
	assert.Equal(t, ragtypes.StrategyCompression, plan.Strategy)
	assert.True(t, plan.Urgent)
}

func TestDecide_Rule6_Default(t *testing.T) {
	plan := Decide("how does billing reconciliation work", ragtypes.Hints{})
	assert.Equal(t, ragtypes.StrategyCompression, plan.Strategy)
	assert.False(t, plan.Urgent)
}

func TestDecide_RuleOrder_OutageBeatsIdentifier(t *testing.T) {
	plan := Decide("is ABC-1234 down", ragtypes.Hints{})
	assert.Equal(t, ragtypes.StrategyWebSearch, plan.Strategy)
}

func TestDecide_RationaleUnder200Chars(t *testing.T) {
	for _, q := range []string{"down", "ABC-123", "logs", "anything"} {
		plan := Decide(q, ragtypes.Hints{})
		assert.LessOrEqual(t, len(plan.Rationale), 200)
	}
}

func newTestLLMClient(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return llm.New(llm.Config{APIKey: "test-key", BaseURL: server.URL})
}

func TestDecideWithClassifier_OnlyConsultedOnDefault(t *testing.T) {
	called := false
	client := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"content":[{"text":"{\"strategy\":\"WebSearch\",\"rationale\":\"llm says so\"}"}]}`))
	})
	plan := DecideWithClassifier(context.Background(), "is it down", ragtypes.Hints{}, client)
	assert.False(t, called)
	assert.Equal(t, ragtypes.StrategyWebSearch, plan.Strategy)
}

func TestDecideWithClassifier_OverridesDefaultWithValidChoice(t *testing.T) {
	client := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"text":"{\"strategy\":\"Ensemble\",\"rationale\":\"broad topic\"}"}]}`))
	})
	plan := DecideWithClassifier(context.Background(), "general billing question", ragtypes.Hints{}, client)
	require.Equal(t, ragtypes.StrategyEnsemble, plan.Strategy)
	assert.Equal(t, "broad topic", plan.Rationale)
}

func TestDecideWithClassifier_UnrecognizedStrategyKeepsRuleTableDecision(t *testing.T) {
	client := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"text":"{\"strategy\":\"NotAStrategy\",\"rationale\":\"bad\"}"}]}`))
	})
	plan := DecideWithClassifier(context.Background(), "general billing question", ragtypes.Hints{}, client)
	assert.Equal(t, ragtypes.StrategyCompression, plan.Strategy)
}

func TestDecideWithClassifier_UnconfiguredClientKeepsRuleTableDecision(t *testing.T) {
	client := llm.New(llm.Config{})
	plan := DecideWithClassifier(context.Background(), "general billing question", ragtypes.Hints{}, client)
	assert.Equal(t, ragtypes.StrategyCompression, plan.Strategy)
}

// Package ragtypes holds the data shapes shared across the retrieval engine:
// documents as stored in the ticket collections, the normalized context record
// every strategy returns, the supervisor's routing plan, and the per-request
// state the orchestrator threads through a call.
package ragtypes

import "time"

// Collection names the two logically identical ticket tables.
type Collection string

const (
	CollectionBugs     Collection = "bugs"
	CollectionReleases Collection = "releases"
)

// AllCollections lists every collection the ticket store serves.
func AllCollections() []Collection {
	return []Collection{CollectionBugs, CollectionReleases}
}

// Document is a single ticket record as stored in a collection.
type Document struct {
	JiraID      string    `json:"jira_id"`
	Key         string    `json:"key"`
	Project     string    `json:"project"`
	ProjectName string    `json:"project_name"`
	Priority    string    `json:"priority"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Component   string    `json:"component"`
	Version     string    `json:"version"`
	Reporter    string    `json:"reporter"`
	Assignee    string    `json:"assignee"`
	Created     time.Time `json:"created"`
	Resolved    time.Time `json:"resolved,omitzero"`
	Updated     time.Time `json:"updated,omitzero"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	// Content is the retrieval-facing concatenation of title and description.
	Content string `json:"content"`
}

// Filters restricts a ticket-store query by structured equality predicates.
type Filters struct {
	Project  string
	Type     string
	Status   string
	Priority string
}

// IsZero reports whether no filter field is set.
func (f Filters) IsZero() bool {
	return f.Project == "" && f.Type == "" && f.Status == "" && f.Priority == ""
}

// RetrievedContext is the canonical unit of evidence produced by a strategy.
type RetrievedContext struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Source   string                 `json:"source"`
	Score    float64                `json:"score"`
}

// Recognized metadata keys. Unknown keys are preserved but never relied upon.
const (
	MetaTitle     = "title"
	MetaURL       = "url"
	MetaTimestamp = "timestamp"
	MetaKey       = "key"
	MetaProject   = "project"
	MetaSeverity  = "severity"
	MetaService   = "service"
)

// StrategyName enumerates the five retrieval strategies the supervisor can select.
type StrategyName string

const (
	StrategyBM25        StrategyName = "BM25"
	StrategyCompression StrategyName = "Compression"
	StrategyEnsemble    StrategyName = "Ensemble"
	StrategyWebSearch   StrategyName = "WebSearch"
	StrategyLogSearch   StrategyName = "LogSearch"
)

// QueryPlan is the supervisor's ephemeral routing decision for one request.
type QueryPlan struct {
	Strategy  StrategyName
	Rationale string
	Urgent    bool
}

// Hints are the caller-supplied signals that shape routing and style.
type Hints struct {
	UserCanWait        bool
	ProductionIncident bool
}

// Reference is a ticket cited in the final answer.
type Reference struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

// RetrievalInfo carries the diagnostics a strategy's Retrieve call produces
// alongside its contexts: which method tags actually contributed results
// (for the response's methods_used field) and how many hits each
// sub-retrieval stage produced.
type RetrievalInfo struct {
	MethodsUsed    []string
	PerStageCounts map[string]int
}

// RetrievalMetadata records per-request diagnostics for the response envelope.
type RetrievalMetadata struct {
	Agent            string         `json:"agent"`
	NumResults       int            `json:"num_results"`
	ProcessingTime   float64        `json:"processing_time"`
	MethodType       string         `json:"method_type"`
	MethodsUsed      []string       `json:"methods_used,omitempty"`
	RerankerUsed     bool           `json:"reranker_used"`
	KeywordIndexUsed bool           `json:"keyword_index_used"`
	FilteringApplied bool           `json:"filtering_applied"`
	Messages         []string       `json:"messages,omitempty"`
	PerStageCounts   map[string]int `json:"per_stage_counts,omitempty"`
}

// AgentState is the orchestrator's mutable working state for one request. It
// is owned exclusively by the orchestrator and never shared across requests.
type AgentState struct {
	Query              string
	UserCanWait        bool
	ProductionIncident bool

	Plan QueryPlan

	Contexts []RetrievedContext

	Answer     string
	References []Reference

	RetrievalMethod string
	MethodsUsed     []string
	PerStageCounts  map[string]int

	StageTimings map[string]time.Duration
	Errors       []string

	StartedAt time.Time
}

// NewAgentState allocates a fresh, request-scoped state.
func NewAgentState(query string, hints Hints) *AgentState {
	return &AgentState{
		Query:              query,
		UserCanWait:        hints.UserCanWait,
		ProductionIncident: hints.ProductionIncident,
		StageTimings:       make(map[string]time.Duration),
		StartedAt:          time.Now(),
	}
}

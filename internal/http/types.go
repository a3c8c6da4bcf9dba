// Package http provides the HTTP API for the multi-agent RAG engine.
package http

import "github.com/foohm71/cuttlefish4/internal/ragtypes"

// RAGRequest is the request body for POST /multiagent-rag and
// POST /debug/routing.
type RAGRequest struct {
	Query              string `json:"query"`
	UserCanWait        bool   `json:"user_can_wait"`
	ProductionIncident bool   `json:"production_incident"`
}

func (r RAGRequest) hints() ragtypes.Hints {
	return ragtypes.Hints{UserCanWait: r.UserCanWait, ProductionIncident: r.ProductionIncident}
}

// RAGResponse is the response body for POST /multiagent-rag, per spec §6.
type RAGResponse struct {
	Query               string                      `json:"query"`
	FinalAnswer         string                      `json:"final_answer"`
	RelevantTickets     []ragtypes.Reference        `json:"relevant_tickets"`
	RoutingDecision     string                      `json:"routing_decision"`
	RoutingReasoning    string                      `json:"routing_reasoning"`
	RetrievalMethod     string                      `json:"retrieval_method"`
	RetrievedContexts   []ragtypes.RetrievedContext `json:"retrieved_contexts"`
	RetrievalMetadata   ragtypes.RetrievalMetadata  `json:"retrieval_metadata"`
	UserCanWait         bool                        `json:"user_can_wait"`
	ProductionIncident  bool                        `json:"production_incident"`
	Messages            []ResponseMessage           `json:"messages"`
	Timestamp           string                      `json:"timestamp"`
	TotalProcessingTime float64                     `json:"total_processing_time"`
}

// ResponseMessage is one entry of the response's messages list.
type ResponseMessage struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// RoutingResponse is the response body for POST /debug/routing.
type RoutingResponse struct {
	RoutingDecision  string `json:"routing_decision"`
	RoutingReasoning string `json:"routing_reasoning"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends"`
}

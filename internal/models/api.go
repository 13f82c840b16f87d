package models

import (
	"strings"
	"time"
)

// --- Conversation Structs ---

// Role values accepted in message history.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is a single entry of caller-owned conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Passage is one retrieved chunk of the corpus.
type Passage struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Context is the retrieval snapshot that grounded an answer. The caller carries it
// between turns and sends it back as previous_context.
type Context struct {
	Query       string    `json:"query"`
	Passages    []Passage `json:"passages"`
	ValidityKey string    `json:"validity_key"`
}

// PassageIDs returns the ids of the passages in order.
func (c *Context) PassageIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Passages))
	for _, p := range c.Passages {
		ids = append(ids, p.ID)
	}
	return ids
}

// --- Request Structs ---

// TurnRequest defines the expected body for the search-chat endpoint.
type TurnRequest struct {
	Question        string    `json:"question"`
	IsFollowUp      bool      `json:"is_follow_up"`
	PreviousContext *Context  `json:"previous_context"`
	MessageHistory  []Message `json:"message_history"`
	TopK            int       `json:"top_k,omitempty"` // Optional, clamped server side
}

// Normalize trims the question in place.
func (r *TurnRequest) Normalize() {
	r.Question = strings.TrimSpace(r.Question)
}

// --- Response Structs ---

// Grounding values reported in a TurnResponse.
const (
	GroundingReused    = "reused"
	GroundingRetrieved = "retrieved"
)

// TurnError is the explicit failure indicator on a degraded response.
type TurnError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TurnResponse is returned for every completed turn, successful or degraded.
// Context is nil and Suggestions is empty when Success is false.
type TurnResponse struct {
	RequestID             string     `json:"request_id"`
	Success               bool       `json:"success"`
	Answer                string     `json:"answer"`
	WasContextValidOldKey bool       `json:"was_context_valid_old_key"`
	Context               *Context   `json:"context"`
	Suggestions           []string   `json:"suggestions"`
	Grounding             string     `json:"grounding,omitempty"`
	ConfidenceScore       float64    `json:"confidence_score"`
	ProcessingTimeMs      int64      `json:"processing_time_ms"`
	Error                 *TurnError `json:"error,omitempty"`
}

// StreamChunk is the payload of an incremental answer event.
type StreamChunk struct {
	Delta string `json:"delta"`
}

// StreamStart announces the request id before any chunk is sent.
type StreamStart struct {
	RequestID string `json:"request_id"`
}

// WSFrame is a single server frame on the websocket transport.
type WSFrame struct {
	Type      string        `json:"type"` // "turn", "chunk", "done", "error"
	RequestID string        `json:"request_id,omitempty"`
	Delta     string        `json:"delta,omitempty"`
	Response  *TurnResponse `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// HealthResponse reports the state of the service and its collaborators.
type HealthResponse struct {
	Status    string            `json:"status"` // "healthy" or "degraded"
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
}

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

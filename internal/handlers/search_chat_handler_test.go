package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"searchchat-backend/internal/models"
	"searchchat-backend/internal/services"
)

type runnerFunc func(ctx context.Context, req *models.TurnRequest, sink services.Sink) (*models.TurnResponse, error)

func (f runnerFunc) Run(ctx context.Context, req *models.TurnRequest, sink services.Sink) (*models.TurnResponse, error) {
	return f(ctx, req, sink)
}

var okResponse = &models.TurnResponse{
	RequestID:   "req-1",
	Success:     true,
	Answer:      "Refunds take 14 days.",
	Context:     &models.Context{Query: "refund policy", Passages: []models.Passage{{ID: "p1", Text: "t"}}, ValidityKey: "v1:ab"},
	Suggestions: []string{"And abroad?"},
	Grounding:   models.GroundingRetrieved,
}

// streamingRunner mimics the orchestrator: validate, begin, chunk, respond.
func streamingRunner(resp *models.TurnResponse, err error) runnerFunc {
	return func(ctx context.Context, req *models.TurnRequest, sink services.Sink) (*models.TurnResponse, error) {
		if verr := services.ValidateRequest(req); verr != nil {
			return nil, verr
		}
		if sink != nil {
			if berr := sink.Begin("req-1"); berr != nil {
				return nil, berr
			}
			if err == nil {
				for _, c := range services.SplitChunks(resp.Answer, 8) {
					if cerr := sink.Chunk(c); cerr != nil {
						return nil, cerr
					}
				}
			}
		}
		return resp, err
	}
}

func degraded(code string) (*models.TurnResponse, error) {
	resp := &models.TurnResponse{
		RequestID:   "req-1",
		Answer:      services.DegradedAnswer,
		Suggestions: []string{},
		Error:       &models.TurnError{Code: code, Message: "backend down"},
	}
	return resp, &services.TurnError{Code: code, Err: fmt.Errorf("%w: boom", services.ErrGenerationUnavailable)}
}

func postTurn(t *testing.T, h *SearchChatHandler, body string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/search-chat", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if accept != "" {
		r.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	h.HandleSearchChat(w, r)
	return w
}

func TestHandleSearchChat_JSON(t *testing.T) {
	dResp, dErr := degraded(services.CodeGenerationUnavailable)
	tests := []struct {
		name       string
		runner     runnerFunc
		body       string
		wantStatus int
		wantBody   string
	}{
		{"success", streamingRunner(okResponse, nil), `{"question":"What is the refund policy?"}`, http.StatusOK, `"answer":"Refunds take 14 days."`},
		{"malformed body", streamingRunner(okResponse, nil), `{"question":`, http.StatusBadRequest, `"error":"Invalid request body`},
		{"unknown field", streamingRunner(okResponse, nil), `{"question":"q","mode":"x"}`, http.StatusBadRequest, `unknown field`},
		{"empty question", streamingRunner(okResponse, nil), `{"question":"  "}`, http.StatusBadRequest, `question is required`},
		{"degraded turn", streamingRunner(dResp, dErr), `{"question":"q"}`, http.StatusBadGateway, `"code":"generation_unavailable"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSearchChatHandler(tt.runner, zaptest.NewLogger(t))
			w := postTurn(t, h, tt.body, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestHandleSearchChat_SSE(t *testing.T) {
	h := NewSearchChatHandler(streamingRunner(okResponse, nil), zaptest.NewLogger(t))
	w := postTurn(t, h, `{"question":"What is the refund policy?"}`, "text/event-stream")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()

	events := parseEvents(body)
	require.Len(t, events, 5)
	assert.Equal(t, "turn", events[0].name)
	assert.JSONEq(t, `{"request_id":"req-1"}`, events[0].data)
	assert.Equal(t, []string{"chunk", "chunk", "chunk"}, []string{events[1].name, events[2].name, events[3].name})
	assert.JSONEq(t, `{"delta":"Refunds "}`, events[1].data)
	assert.Equal(t, "done", events[4].name)
	assert.Contains(t, events[4].data, `"was_context_valid_old_key":false`)
}

func TestHandleSearchChat_SSEQueryFlagAndErrors(t *testing.T) {
	dResp, dErr := degraded(services.CodeRetrievalUnavailable)
	h := NewSearchChatHandler(streamingRunner(dResp, dErr), zaptest.NewLogger(t))

	r := httptest.NewRequest(http.MethodPost, "/search-chat?stream=true", strings.NewReader(`{"question":"q"}`))
	w := httptest.NewRecorder()
	h.HandleSearchChat(w, r)

	events := parseEvents(w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "turn", events[0].name)
	assert.Equal(t, "error", events[1].name)
	assert.Contains(t, events[1].data, `"success":false`)
	assert.Contains(t, events[1].data, services.DegradedAnswer)

	invalid := postTurn(t, h, `{"question":""}`, "text/event-stream")
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, "application/json", invalid.Header().Get("Content-Type"))
}

func TestWantsEventStream(t *testing.T) {
	tests := []struct {
		target string
		accept string
		want   bool
	}{
		{"/search-chat", "", false},
		{"/search-chat", "application/json", false},
		{"/search-chat", "text/event-stream", true},
		{"/search-chat?stream=true", "", true},
		{"/search-chat?stream=1", "", true},
		{"/search-chat?stream=false", "text/event-stream", false},
		{"/search-chat?stream=maybe", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, tt.target, nil)
		if tt.accept != "" {
			r.Header.Set("Accept", tt.accept)
		}
		assert.Equal(t, tt.want, wantsEventStream(r), "%s %s", tt.target, tt.accept)
	}
}

type event struct {
	name string
	data string
}

func parseEvents(body string) []event {
	var out []event
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var e event
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				e.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				e.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if e.name != "" {
			out = append(out, e)
		}
	}
	return out
}

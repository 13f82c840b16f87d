package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"searchchat-backend/internal/metrics"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/services"
	"searchchat-backend/pkg/httputil"
)

// SearchChatHandler serves the turn endpoint as JSON or as server-sent events.
type SearchChatHandler struct {
	runner TurnRunner
	logger *zap.Logger
}

// NewSearchChatHandler creates a new SearchChatHandler.
func NewSearchChatHandler(runner TurnRunner, logger *zap.Logger) *SearchChatHandler {
	return &SearchChatHandler{runner: runner, logger: logger.Named("search_chat")}
}

// HandleSearchChat handles POST /search-chat.
func (h *SearchChatHandler) HandleSearchChat(w http.ResponseWriter, r *http.Request) {
	var req models.TurnRequest
	if err := httputil.DecodeJSON(r, &req, maxTurnBody); err != nil {
		h.logger.Debug("SearchChat: invalid request body", zap.Error(err))
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if wantsEventStream(r) {
		h.serveStream(w, r, &req)
		return
	}

	resp, err := h.runner.Run(r.Context(), &req, nil)
	var turnErr *services.TurnError
	switch {
	case err == nil:
		httputil.RespondJSON(w, http.StatusOK, resp)
	case errors.Is(err, services.ErrInvalidRequest):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &turnErr):
		httputil.RespondJSON(w, http.StatusBadGateway, resp)
	default:
		// caller went away
		h.logger.Debug("SearchChat: turn abandoned", zap.Error(err))
	}
}

func (h *SearchChatHandler) serveStream(w http.ResponseWriter, r *http.Request, req *models.TurnRequest) {
	sse, err := httputil.NewSSEWriter(w)
	if err != nil {
		h.logger.Error("SearchChat: streaming unsupported", zap.Error(err))
		httputil.RespondError(w, http.StatusInternalServerError, "Streaming is not supported")
		return
	}
	sink := &sseSink{sse: sse}

	resp, err := h.runner.Run(r.Context(), req, sink)
	metrics.AddStreamChunks("sse", sink.chunks)

	var turnErr *services.TurnError
	switch {
	case err == nil:
		err = sse.Event("done", resp)
	case errors.Is(err, services.ErrInvalidRequest) && !sse.Started():
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.As(err, &turnErr):
		err = sse.Event("error", resp)
	default:
		h.logger.Debug("SearchChat: stream abandoned", zap.Error(err))
		return
	}
	if err != nil {
		h.logger.Debug("SearchChat: failed to write final event", zap.Error(err))
	}
}

type sseSink struct {
	sse    *httputil.SSEWriter
	chunks int
}

func (s *sseSink) Begin(requestID string) error {
	return s.sse.Event("turn", models.StreamStart{RequestID: requestID})
}

func (s *sseSink) Chunk(delta string) error {
	s.chunks++
	return s.sse.Event("chunk", models.StreamChunk{Delta: delta})
}

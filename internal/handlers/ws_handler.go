package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"searchchat-backend/internal/metrics"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/services"
)

// SearchChatWSHandler serves turns over a websocket. Each text frame carries one
// turn request; turns on a connection run one at a time in arrival order.
type SearchChatWSHandler struct {
	runner   TurnRunner
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewSearchChatWSHandler(runner TurnRunner, allowedOrigins []string, logger *zap.Logger) *SearchChatWSHandler {
	return &SearchChatWSHandler{
		runner: runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.Named("search_chat_ws"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket handles GET /search-chat/ws.
func (h *SearchChatWSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Debug("WebSocket: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxTurnBody)

	// A failed read means the peer is gone; it cancels any in-flight turn.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	frames := make(chan []byte, 8)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for data := range frames {
		if err := h.serveTurn(ctx, conn, data); err != nil {
			h.logger.Debug("WebSocket: closing connection", zap.Error(err))
			return
		}
	}
}

// serveTurn runs one turn. A returned error means the connection is unusable.
func (h *SearchChatWSHandler) serveTurn(ctx context.Context, conn *websocket.Conn, data []byte) error {
	var req models.TurnRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return conn.WriteJSON(models.WSFrame{Type: "error", Error: "Invalid request body: " + err.Error()})
	}

	sink := &wsSink{conn: conn}
	resp, err := h.runner.Run(ctx, &req, sink)
	metrics.AddStreamChunks("websocket", sink.chunks)

	var turnErr *services.TurnError
	switch {
	case err == nil:
		return conn.WriteJSON(models.WSFrame{Type: "done", Response: resp})
	case errors.Is(err, services.ErrInvalidRequest):
		return conn.WriteJSON(models.WSFrame{Type: "error", Error: err.Error()})
	case errors.As(err, &turnErr):
		return conn.WriteJSON(models.WSFrame{Type: "error", Response: resp, Error: turnErr.Code})
	default:
		return err
	}
}

type wsSink struct {
	conn   *websocket.Conn
	chunks int
}

func (s *wsSink) Begin(requestID string) error {
	return s.conn.WriteJSON(models.WSFrame{Type: "turn", RequestID: requestID})
}

func (s *wsSink) Chunk(delta string) error {
	s.chunks++
	return s.conn.WriteJSON(models.WSFrame{Type: "chunk", Delta: delta})
}

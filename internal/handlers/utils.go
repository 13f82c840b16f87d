package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"searchchat-backend/internal/models"
	"searchchat-backend/internal/services"
)

// maxTurnBody bounds a turn request, history and previous context included.
const maxTurnBody = 1 << 20

// TurnRunner runs a single turn. It is implemented by services.Orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, req *models.TurnRequest, sink services.Sink) (*models.TurnResponse, error)
}

// wantsEventStream reports whether the caller asked for server-sent events.
func wantsEventStream(r *http.Request) bool {
	if v := r.URL.Query().Get("stream"); v != "" {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// queryInt reads a positive integer query parameter, falling back to def and
// capping at ceiling.
func queryInt(r *http.Request, name string, def, ceiling int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

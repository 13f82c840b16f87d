package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"searchchat-backend/internal/models"
	"searchchat-backend/pkg/httputil"
)

// HealthCheck probes one collaborator. A nil Check reports the service as disabled.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler reports the status of the service and its collaborators.
type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthHandler(timeout time.Duration, logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout, logger: logger.Named("health")}
}

// HandleHealth handles GET /health. It answers 503 when any enabled check fails.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := models.HealthResponse{
		Status:    "healthy",
		Services:  make(map[string]string, len(h.checks)),
		Timestamp: time.Now().UTC(),
	}

	// Disabled entries are written before any check goroutine touches the map.
	for _, c := range h.checks {
		if c.Check == nil {
			resp.Services[c.Name] = "disabled"
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range h.checks {
		if c.Check == nil {
			continue
		}
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			status := "ok"
			if err := c.Check(ctx); err != nil {
				h.logger.Warn("Health check failed", zap.String("service", c.Name), zap.Error(err))
				status = "unavailable"
			}
			mu.Lock()
			resp.Services[c.Name] = status
			if status != "ok" {
				resp.Status = "degraded"
			}
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.RespondJSON(w, code, resp)
}

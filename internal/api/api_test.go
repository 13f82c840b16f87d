package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"searchchat-backend/internal/auth"
	"searchchat-backend/internal/config"
	"searchchat-backend/internal/handlers"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/services"
)

const testSecret = "router-test-secret"

type echoRunner struct{}

func (echoRunner) Run(ctx context.Context, req *models.TurnRequest, _ services.Sink) (*models.TurnResponse, error) {
	if err := services.ValidateRequest(req); err != nil {
		return nil, err
	}
	subject, _ := auth.GetSubjectFromContext(ctx)
	return &models.TurnResponse{RequestID: "r", Success: true, Answer: "hello " + subject, Suggestions: []string{}}, nil
}

func newTestRouter(t *testing.T, secret string) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = secret
	logger := zaptest.NewLogger(t)
	return NewRouter(RouterDependencies{
		SearchChatHandler: handlers.NewSearchChatHandler(echoRunner{}, logger),
		HealthHandler:     handlers.NewHealthHandler(time.Second, logger),
		Config:            cfg,
		Logger:            logger,
	})
}

func do(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	h := newTestRouter(t, testSecret)

	w := do(h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = do(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRouter_NilHandlersSkipRoutes(t *testing.T) {
	h := newTestRouter(t, "")
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/v1/turns", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/mcp", "{}", nil).Code)
}

func TestRouter_AuthDisabled(t *testing.T) {
	h := newTestRouter(t, "")
	w := do(h, http.MethodPost, "/search-chat", `{"question":"hi"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"answer":"hello "`)
}

func TestRouter_AuthEnabled(t *testing.T) {
	h := newTestRouter(t, testSecret)
	token, err := auth.NewAccessToken("alice", "Alice", testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := auth.NewAccessToken("alice", "Alice", testSecret, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		target     string
		header     map[string]string
		wantStatus int
		wantBody   string
	}{
		{"missing token", "/search-chat", nil, http.StatusUnauthorized, "Authorization header required"},
		{"malformed header", "/search-chat", map[string]string{"Authorization": "Token abc"}, http.StatusUnauthorized, "Malformed Authorization header"},
		{"garbage token", "/search-chat", map[string]string{"Authorization": "Bearer abc"}, http.StatusUnauthorized, "Malformed token"},
		{"expired token", "/search-chat", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized, "Token has expired"},
		{"bearer header", "/search-chat", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, `"answer":"hello alice"`},
		{"query token", "/search-chat?access_token=" + token, nil, http.StatusOK, `"answer":"hello alice"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, tt.target, `{"question":"hi"}`, tt.header)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newTestRouter(t, "")
	w := do(h, http.MethodOptions, "/search-chat", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"searchchat-backend/internal/config"
	"searchchat-backend/internal/handlers"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	SearchChatHandler *handlers.SearchChatHandler
	WSHandler         *handlers.SearchChatWSHandler
	HealthHandler     *handlers.HealthHandler
	TurnLogHandler    *handlers.TurnLogHandler // nil without a turn-log database
	MCPHandler        http.Handler             // nil when MCP is disabled
	Config            *config.Config
	Logger            *zap.Logger
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID) // Inject request ID into context
	r.Use(middleware.RealIP)    // Use X-Forwarded-For or X-Real-IP
	r.Use(RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer) // Recover from panics, return 500

	// --- CORS Configuration ---
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id", "X-Requested-With"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// --- Public Routes ---
	if deps.HealthHandler != nil {
		r.Get("/health", deps.HealthHandler.HandleHealth)
	} else {
		logger.Warn("HealthHandler dependency is nil, serving a static /health")
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
	}
	r.Handle("/metrics", promhttp.Handler())

	// --- Turn Routes (JWT required when auth is enabled) ---
	r.Group(func(r chi.Router) {
		if deps.Config.AuthEnabled() {
			r.Use(JwtAuthMiddleware(deps.Config.Auth.JWTSecret, logger.Named("auth")))
		}

		if deps.SearchChatHandler != nil {
			turns := r
			if deps.Config.HTTP.RequestTimeout > 0 {
				turns = r.With(middleware.Timeout(deps.Config.HTTP.RequestTimeout))
			}
			turns.Post("/search-chat", deps.SearchChatHandler.HandleSearchChat)
		} else {
			logger.Warn("SearchChatHandler dependency is nil, skipping /search-chat route")
		}

		// Websocket connections are long lived and carry many turns, so no request timeout.
		if deps.WSHandler != nil {
			r.Get("/search-chat/ws", deps.WSHandler.HandleWebSocket)
		} else {
			logger.Warn("WSHandler dependency is nil, skipping /search-chat/ws route")
		}

		if deps.TurnLogHandler != nil {
			r.Route("/v1/turns", func(r chi.Router) {
				r.Get("/", deps.TurnLogHandler.HandleListTurns)
				r.Get("/{turnID}", deps.TurnLogHandler.HandleGetTurn)
			})
		} else {
			logger.Warn("TurnLogHandler dependency is nil, skipping /v1/turns routes")
		}

		if deps.MCPHandler != nil {
			r.Handle("/mcp", deps.MCPHandler)
		} else {
			logger.Info("MCPHandler dependency is nil, skipping /mcp route")
		}
	})

	return r
}

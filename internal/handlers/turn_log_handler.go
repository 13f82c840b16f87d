package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"searchchat-backend/internal/auth"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/store"
	"searchchat-backend/pkg/httputil"
)

// TurnLogHandler exposes recorded turns for auditing.
type TurnLogHandler struct {
	store  store.Store
	logger *zap.Logger
}

func NewTurnLogHandler(s store.Store, logger *zap.Logger) *TurnLogHandler {
	return &TurnLogHandler{store: s, logger: logger.Named("turn_logs")}
}

// HandleGetTurn handles GET /v1/turns/{turnID}.
func (h *TurnLogHandler) HandleGetTurn(w http.ResponseWriter, r *http.Request) {
	turnID, err := uuid.Parse(chi.URLParam(r, "turnID"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid turn ID")
		return
	}

	entry, err := h.store.GetTurnLog(r.Context(), turnID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.RespondError(w, http.StatusNotFound, "Turn not found")
			return
		}
		h.logger.Error("GetTurn: store error", zap.String("turn_id", turnID.String()), zap.Error(err))
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to load turn")
		return
	}

	// With auth enabled a caller only sees its own turns.
	if subject, ok := auth.GetSubjectFromContext(r.Context()); ok && entry.Subject != subject {
		httputil.RespondError(w, http.StatusNotFound, "Turn not found")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, entry)
}

// HandleListTurns handles GET /v1/turns?limit=N, newest first.
func (h *TurnLogHandler) HandleListTurns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 100)
	// With auth enabled a caller only sees its own turns.
	subject, _ := auth.GetSubjectFromContext(r.Context())

	entries, err := h.store.ListTurnLogs(r.Context(), subject, limit)
	if err != nil {
		h.logger.Error("ListTurns: store error", zap.Error(err))
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to list turns")
		return
	}
	if entries == nil {
		entries = []models.TurnLog{}
	}
	httputil.RespondJSON(w, http.StatusOK, entries)
}

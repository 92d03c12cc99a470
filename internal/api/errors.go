package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/auth"
	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/orchestrator"
	"github.com/JakeFAU/boltflow/internal/scraper"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string, details map[string]any) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Type: kind, Details: details}})
}

// fail maps a domain error onto a status code and error type.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *scraper.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_error", verr.Error(), map[string]any{"field": verr.Field})
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, jobs.ErrConflict), errors.Is(err, orchestrator.ErrNotPending):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service is shutting down", nil)
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

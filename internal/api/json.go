package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/steward/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Detail string `json:"detail" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Detail: msg}
}

// statusFor maps domain errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "File not found"
	case errors.Is(err, apperr.ErrAccessDenied):
		return http.StatusForbidden, "Access denied"
	case errors.Is(err, apperr.ErrLLMUnavailable):
		return http.StatusServiceUnavailable, "LLM service unavailable"
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded"
	case errors.Is(err, apperr.ErrVaultUnavailable):
		return http.StatusInternalServerError, "Vault unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs err and writes the mapped status with a detail body.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, op+" failed", slog.Int("status", status), slog.String("error", err.Error()))
	writeJSON(w, status, errorBody(msg))
}

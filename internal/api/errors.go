package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wotideas/ideas-engine/internal/model"
)

// statusFor maps a failure kind to its HTTP status. Order matters:
// ErrIdeaNotClosed is also an ErrInvalidArgument.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrIdeaNotClosed):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrIdeaFrozen),
		errors.Is(err, model.ErrAlreadyResolved),
		errors.Is(err, model.ErrResolutionInProgress):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure reports err to the client. Internal errors are logged and
// replaced by a generic message.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

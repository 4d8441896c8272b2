package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/deepsense/sandboxd/internal/apperror"
)

// ErrorResponse is the uniform error shape for every non-2xx API
// response: a machine-readable type plus a human-readable message, so
// callers parse one format regardless of status code.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status. Headers must be
// set before the first body write, which is why the order here is fixed.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError translates a domain error into an HTTP response. The
// service layer deals in apperror sentinels and never sees status codes;
// the mapping lives here at the protocol boundary.
//
// Unknown errors collapse to a generic 500: raw error strings can leak
// file paths or SQL and never go to the client.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrResource):
			// The backend is saturated or unreachable; the request was
			// fine and may be retried.
			status = http.StatusServiceUnavailable
			errorType = "resource_unavailable"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "an internal error occurred",
	})
}

// Package handler exposes the sandbox over HTTP. Handlers decode and
// validate the wire format, delegate to the service layer, and translate
// domain errors into status codes; no execution logic lives here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/deepsense/sandboxd/internal/apperror"
	"github.com/deepsense/sandboxd/internal/sandbox"
)

// maxRequestBytes bounds the request body. Code plus a requirements list
// fits comfortably in 1 MiB; anything larger is not a code snippet.
const maxRequestBytes = 1 << 20

// Executor is the slice of the execution service the handler needs.
type Executor interface {
	Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error)
}

// ExecuteHandler handles code execution submissions.
type ExecuteHandler struct {
	exec   Executor
	logger *slog.Logger
}

func NewExecuteHandler(exec Executor, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{exec: exec, logger: logger}
}

// HandleExecute processes POST /api/execute.
//
// Status codes follow the error taxonomy: a malformed request is 400, a
// saturated or unreachable backend is 503, and everything that happened
// inside the sandbox (runtime failure, timeout, OOM) is 200 with the
// error_kind field set, because from the API's point of view the
// execution itself succeeded in producing a result.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req sandbox.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeValidationFailure(w, "request body is not valid JSON")
		return
	}

	result, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		// Rejections keep the result shape so callers parse one format:
		// error_kind says what went wrong, stderr carries the message.
		if errors.Is(err, apperror.ErrValidation) {
			writeValidationFailure(w, err.Error())
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeValidationFailure(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, sandbox.ExecutionResult{
		Stderr:    msg,
		ErrorKind: sandbox.ErrorKindValidation,
	})
}

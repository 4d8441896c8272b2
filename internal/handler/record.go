package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/deepsense/sandboxd/internal/model"
	"github.com/deepsense/sandboxd/internal/repository"
)

// RecordReader is the audit-query slice of the execution service.
type RecordReader interface {
	GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error)
	ListExecutions(ctx context.Context, opts repository.ListOptions) ([]model.ExecutionRecord, error)
}

// RecordHandler serves the execution audit log.
type RecordHandler struct {
	records RecordReader
	logger  *slog.Logger
}

func NewRecordHandler(records RecordReader, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{records: records, logger: logger}
}

// HandleList processes GET /api/executions?limit=&offset=.
func (h *RecordHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	opts := repository.ListOptions{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	records, err := h.records.ListExecutions(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list executions", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if records == nil {
		// Keep the response an empty array rather than JSON null.
		records = []model.ExecutionRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// HandleGet processes GET /api/executions/{id}.
func (h *RecordHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.records.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/engine"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

// RunController inspects and cancels workflow runs
type RunController interface {
	CancelRun(ctx context.Context, executionID uuid.UUID) (*models.WorkflowExecution, error)
	GetTrace(ctx context.Context, executionID uuid.UUID) (*models.ExecutionTraceResponse, error)
}

// ExecutionLister lists workflow runs
type ExecutionLister interface {
	ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]models.WorkflowExecution, int64, error)
}

// ExecutionHandler handles execution-related HTTP requests
type ExecutionHandler struct {
	logger *logger.Logger
	runs   RunController
	lister ExecutionLister
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(log *logger.Logger, runs RunController, lister ExecutionLister) *ExecutionHandler {
	return &ExecutionHandler{
		logger: log,
		runs:   runs,
		lister: lister,
	}
}

// List handles GET /api/v1/executions
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter models.ExecutionFilter
	filter.Limit, filter.Offset = pagination(r)

	q := r.URL.Query()
	if v := q.Get("workflow_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid workflow_id")
			return
		}
		filter.WorkflowID = &id
	}
	if v := q.Get("event_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid event_id")
			return
		}
		filter.EventLogID = &id
	}
	if v := q.Get("status"); v != "" {
		status := models.ExecutionStatus(v)
		switch status {
		case models.ExecutionStatusRunning, models.ExecutionStatusCompleted,
			models.ExecutionStatusFailed, models.ExecutionStatusCancelled:
		default:
			respondError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		filter.Status = &status
	}

	executions, total, err := h.lister.ListExecutions(r.Context(), filter)
	if err != nil {
		h.logger.Errorf("Failed to list executions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}
	if executions == nil {
		executions = []models.WorkflowExecution{}
	}

	respondJSON(w, http.StatusOK, models.ExecutionListResponse{
		Executions: executions,
		Total:      total,
	})
}

// Get handles GET /api/v1/executions/{id} and returns the run with its step trace
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid execution ID")
		return
	}

	trace, err := h.runs.GetTrace(r.Context(), id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Errorf("Failed to load execution %s: %v", id, err)
		}
		respondStoreError(w, err, "Execution")
		return
	}
	respondJSON(w, http.StatusOK, trace)
}

// Cancel handles POST /api/v1/executions/{id}/cancel. A finished run
// answers 409 and is left unchanged.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid execution ID")
		return
	}

	execution, err := h.runs.CancelRun(r.Context(), id)
	if errors.Is(err, engine.ErrRunNotActive) {
		respondError(w, http.StatusConflict, "Execution is already "+string(execution.Status))
		return
	}
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Errorf("Failed to cancel execution %s: %v", id, err)
		}
		respondStoreError(w, err, "Execution")
		return
	}

	h.logger.Infof("Execution %s is %s", id, execution.Status)
	respondJSON(w, http.StatusOK, execution)
}

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

// ScheduleService defines the interface for schedule queries
type ScheduleService interface {
	GetNextRuns(ctx context.Context, workflowID uuid.UUID, count int) ([]time.Time, error)
	ListSchedules(ctx context.Context, limit, offset int) ([]*models.WorkflowSchedule, int64, error)
}

// ScheduleHandler handles schedule-related HTTP requests
type ScheduleHandler struct {
	logger          *logger.Logger
	scheduleService ScheduleService
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(log *logger.Logger, scheduleService ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{
		logger:          log,
		scheduleService: scheduleService,
	}
}

// ListSchedules handles GET /api/v1/schedules
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	schedules, total, err := h.scheduleService.ListSchedules(r.Context(), limit, offset)
	if err != nil {
		h.logger.Errorf("Failed to list schedules: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []*models.WorkflowSchedule{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetNextRuns handles GET /api/v1/workflows/{id}/schedule/next-runs
func (h *ScheduleHandler) GetNextRuns(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	count := 10
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			count = n
		}
	}

	runs, err := h.scheduleService.GetNextRuns(r.Context(), workflowID, count)
	if err != nil {
		respondStoreError(w, err, "Schedule")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"next_runs":   runs,
		"count":       len(runs),
	})
}

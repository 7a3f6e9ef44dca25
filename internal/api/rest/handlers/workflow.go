package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/validators"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

// WorkflowStore persists workflows
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error
	SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, active *bool, limit, offset int) ([]models.Workflow, int64, error)
}

// ScheduleSyncer keeps schedule rows in line with workflow triggers
type ScheduleSyncer interface {
	SyncWorkflowSchedule(ctx context.Context, workflow *models.Workflow) error
}

// WorkflowHandler handles workflow-related HTTP requests
type WorkflowHandler struct {
	logger    *logger.Logger
	store     WorkflowStore
	schedules ScheduleSyncer
	validator *validators.WorkflowValidator
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(log *logger.Logger, store WorkflowStore, schedules ScheduleSyncer) *WorkflowHandler {
	return &WorkflowHandler{
		logger:    log,
		store:     store,
		schedules: schedules,
		validator: validators.NewWorkflowValidator(),
	}
}

// ValidationResponse reports the outcome of a definition check
type ValidationResponse struct {
	Valid      bool                       `json:"valid"`
	Errors     []string                   `json:"errors,omitempty"`
	Definition *models.WorkflowDefinition `json:"definition,omitempty"`
}

// Validate handles POST /api/v1/workflows/validate. Definitions may use the
// flat action list or nested steps with yes/no branches.
func (h *WorkflowHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := models.WorkflowDefinition{Trigger: req.Trigger, Actions: req.Actions}
	if len(req.Steps) > 0 {
		actions, head, err := models.BuildArena(req.Steps)
		if err != nil {
			respondJSON(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: []string{err.Error()}})
			return
		}
		def.Actions = actions
		def.StartActionID = head
	}

	if err := h.validator.ValidateDefinition(&def); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: problems(err)})
		return
	}

	respondJSON(w, http.StatusOK, ValidationResponse{Valid: true, Definition: &def})
}

// Create handles POST /api/v1/workflows
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
		OwnerID:     req.OwnerID,
		Definition:  req.Definition,
	}
	if err := h.validator.Validate(workflow); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: problems(err)})
		return
	}

	if err := h.store.CreateWorkflow(r.Context(), workflow); err != nil {
		h.logger.Errorf("Failed to create workflow: %v", err)
		respondStoreError(w, err, "Workflow")
		return
	}
	if !h.syncSchedule(w, r, workflow) {
		return
	}

	h.logger.Infof("Workflow %s (%s) created", workflow.ID, workflow.Name)
	respondJSON(w, http.StatusCreated, workflow)
}

// Update handles PUT /api/v1/workflows/{id}. Runs already started keep
// the definition they started with.
func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	var req models.CreateWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflow := &models.Workflow{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
		OwnerID:     req.OwnerID,
		Definition:  req.Definition,
	}
	if err := h.validator.Validate(workflow); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: problems(err)})
		return
	}

	if err := h.store.UpdateWorkflow(r.Context(), workflow); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Errorf("Failed to update workflow %s: %v", id, err)
		}
		respondStoreError(w, err, "Workflow")
		return
	}
	if !h.syncSchedule(w, r, workflow) {
		return
	}

	respondJSON(w, http.StatusOK, workflow)
}

// List handles GET /api/v1/workflows
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	var active *bool
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid active filter")
			return
		}
		active = &b
	}

	workflows, total, err := h.store.ListWorkflows(r.Context(), active, limit, offset)
	if err != nil {
		h.logger.Errorf("Failed to list workflows: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list workflows")
		return
	}
	if workflows == nil {
		workflows = []models.Workflow{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// Get handles GET /api/v1/workflows/{id}
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	workflow, err := h.store.GetWorkflowByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "Workflow")
		return
	}
	respondJSON(w, http.StatusOK, workflow)
}

// Delete handles DELETE /api/v1/workflows/{id}
func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	workflow, err := h.store.GetWorkflowByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "Workflow")
		return
	}
	workflow.Active = false
	if !h.syncSchedule(w, r, workflow) {
		return
	}

	if err := h.store.DeleteWorkflow(r.Context(), id); err != nil {
		h.logger.Errorf("Failed to delete workflow %s: %v", id, err)
		respondStoreError(w, err, "Workflow")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /api/v1/workflows/{id}/activate
func (h *WorkflowHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate handles POST /api/v1/workflows/{id}/deactivate
func (h *WorkflowHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *WorkflowHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	workflow, err := h.store.GetWorkflowByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "Workflow")
		return
	}
	if active {
		// stored definitions may predate stricter checks
		if err := h.validator.Validate(workflow); err != nil {
			respondJSON(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: problems(err)})
			return
		}
	}

	if err := h.store.SetWorkflowActive(r.Context(), id, active); err != nil {
		h.logger.Errorf("Failed to update workflow %s: %v", id, err)
		respondStoreError(w, err, "Workflow")
		return
	}
	workflow.Active = active
	if !h.syncSchedule(w, r, workflow) {
		return
	}

	h.logger.Infof("Workflow %s active=%t", id, active)
	respondJSON(w, http.StatusOK, workflow)
}

func (h *WorkflowHandler) syncSchedule(w http.ResponseWriter, r *http.Request, workflow *models.Workflow) bool {
	if h.schedules == nil {
		return true
	}
	if err := h.schedules.SyncWorkflowSchedule(r.Context(), workflow); err != nil {
		h.logger.Errorf("Failed to sync schedule of workflow %s: %v", workflow.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to update workflow schedule")
		return false
	}
	return true
}

func problems(err error) []string {
	var verr *validators.ValidationError
	if errors.As(err, &verr) {
		return verr.Problems
	}
	return []string{err.Error()}
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/services"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/validator"
)

// LeadService manages leads and emits their lifecycle events
type LeadService interface {
	CreateLead(ctx context.Context, req *services.CreateLeadRequest) (*models.Lead, error)
	UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) (*models.Lead, error)
	GetLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error)
}

// LeadHandler handles lead-related HTTP requests
type LeadHandler struct {
	logger *logger.Logger
	leads  LeadService
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(log *logger.Logger, leads LeadService) *LeadHandler {
	return &LeadHandler{logger: log, leads: leads}
}

// Create handles POST /api/v1/leads
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lead, err := h.leads.CreateLead(r.Context(), &req)
	if errors.Is(err, models.ErrUnknownField) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Errorf("Failed to create lead: %v", err)
		respondStoreError(w, err, "Lead")
		return
	}

	respondJSON(w, http.StatusCreated, lead)
}

// Get handles GET /api/v1/leads/{id}
func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid lead ID")
		return
	}

	lead, err := h.leads.GetLead(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "Lead")
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

// UpdateStatus handles PUT /api/v1/leads/{id}/status
func (h *LeadHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid lead ID")
		return
	}

	var req services.UpdateLeadStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lead, err := h.leads.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Errorf("Failed to update lead %s: %v", id, err)
		}
		respondStoreError(w, err, "Lead")
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

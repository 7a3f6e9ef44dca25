package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/engine"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/validator"
)

// EventService ingests and replays trigger events
type EventService interface {
	EventIngester
	Requeue(ctx context.Context, eventID uuid.UUID) (*models.TriggerEventLog, error)
}

// EventReader loads stored events
type EventReader interface {
	GetEventLogByID(ctx context.Context, id uuid.UUID) (*models.TriggerEventLog, error)
}

// EventHandler handles event-related HTTP requests
type EventHandler struct {
	logger *logger.Logger
	events EventService
	reader EventReader
}

// NewEventHandler creates a new event handler
func NewEventHandler(log *logger.Logger, events EventService, reader EventReader) *EventHandler {
	return &EventHandler{
		logger: log,
		events: events,
		reader: reader,
	}
}

// Create handles POST /api/v1/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, created, err := h.events.IngestEvent(r.Context(), req)
	if err != nil {
		h.logger.Errorf("Failed to ingest %s event: %v", req.TriggerType, err)
		respondError(w, http.StatusInternalServerError, "Failed to ingest event")
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	respondJSON(w, status, event)
}

// Get handles GET /api/v1/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid event ID")
		return
	}

	event, err := h.reader.GetEventLogByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "Event")
		return
	}
	respondJSON(w, http.StatusOK, event)
}

// Requeue handles POST /api/v1/events/{id}/requeue
func (h *EventHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid event ID")
		return
	}

	event, err := h.events.Requeue(r.Context(), id)
	switch {
	case errors.Is(err, engine.ErrEventNotFailed):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Errorf("Failed to requeue event %s: %v", id, err)
		}
		respondStoreError(w, err, "Event")
		return
	}

	respondJSON(w, http.StatusAccepted, event)
}

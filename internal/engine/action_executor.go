package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
	"github.com/google/uuid"
)

// ActionRequest is the input to an action handler
type ActionRequest struct {
	ExecutionID uuid.UUID
	WorkflowID  uuid.UUID
	StepID      string
	Action      *models.Action
	Context     map[string]interface{}
}

// LeadID returns the id of the lead the run is about
func (r ActionRequest) LeadID() (uuid.UUID, error) {
	id, ok, err := leadIDFrom(r.Context)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, fmt.Errorf("%s requires a lead: %w", r.Action.Type, ErrMissingLead)
	}
	return id, nil
}

// ActionResult represents the result of an action execution
type ActionResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// ActionHandler executes one leaf action type
type ActionHandler interface {
	Type() models.ActionType
	Execute(ctx context.Context, req ActionRequest) (*ActionResult, error)
}

// ActionExecutor dispatches leaf actions to their registered handlers
type ActionExecutor struct {
	handlers map[models.ActionType]ActionHandler
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewActionExecutor creates a new action executor with handlers
func NewActionExecutor(log *logger.Logger, m *metrics.Metrics, handlers ...ActionHandler) *ActionExecutor {
	ae := &ActionExecutor{
		handlers: make(map[models.ActionType]ActionHandler),
		logger:   log,
		metrics:  m,
	}
	for _, h := range handlers {
		ae.Register(h)
	}
	return ae
}

// Register adds or replaces the handler for h.Type()
func (ae *ActionExecutor) Register(h ActionHandler) {
	ae.handlers[h.Type()] = h
}

// Validate reports leaf action types that have no handler
func (ae *ActionExecutor) Validate() error {
	var missing []string
	for _, t := range models.LeafActionTypes {
		if _, ok := ae.handlers[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("no handler registered for action types: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExecuteAction executes a leaf action
func (ae *ActionExecutor) ExecuteAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	handler, ok := ae.handlers[req.Action.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, req.Action.Type)
	}

	start := time.Now()
	result, err := handler.Execute(ctx, req)
	status := "completed"
	if err != nil {
		status = "failed"
		ae.logger.Errorf("Action %s (%s) failed: %v", req.StepID, req.Action.Type, err)
	} else {
		ae.logger.Infof("Action %s (%s) executed", req.StepID, req.Action.Type)
	}
	ae.metrics.RecordStep(string(req.Action.Type), status, time.Since(start))

	return result, err
}

// EmailSender delivers a rendered email
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// WhatsAppSender delivers a rendered WhatsApp message
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, message string) error
}

// EmailHandler executes send_email
type EmailHandler struct {
	sender EmailSender
}

// NewEmailHandler creates a send_email handler
func NewEmailHandler(sender EmailSender) *EmailHandler {
	return &EmailHandler{sender: sender}
}

func (h *EmailHandler) Type() models.ActionType { return models.ActionSendEmail }

func (h *EmailHandler) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	cfg, ok := req.Action.Config.(models.SendEmailAction)
	if !ok {
		return nil, fmt.Errorf("send_email: unexpected config %T", req.Action.Config)
	}

	to := RenderTemplate(cfg.To, req.Context)
	if to == "" {
		to = stringify(req.Context[models.LeadColumnEmail])
	}
	if to == "" {
		return nil, fmt.Errorf("send_email: no recipient address")
	}

	subject := RenderTemplate(cfg.Subject, req.Context)
	body := RenderTemplate(cfg.Body, req.Context)
	if err := h.sender.SendEmail(ctx, to, subject, body); err != nil {
		return nil, fmt.Errorf("send_email to %s: %w", to, err)
	}

	return &ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"to":      to,
			"subject": subject,
		},
	}, nil
}

// WhatsAppHandler executes send_whatsapp
type WhatsAppHandler struct {
	sender WhatsAppSender
}

// NewWhatsAppHandler creates a send_whatsapp handler
func NewWhatsAppHandler(sender WhatsAppSender) *WhatsAppHandler {
	return &WhatsAppHandler{sender: sender}
}

func (h *WhatsAppHandler) Type() models.ActionType { return models.ActionSendWhatsApp }

func (h *WhatsAppHandler) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	cfg, ok := req.Action.Config.(models.SendWhatsAppAction)
	if !ok {
		return nil, fmt.Errorf("send_whatsapp: unexpected config %T", req.Action.Config)
	}

	to := RenderTemplate(cfg.To, req.Context)
	if to == "" {
		to = stringify(req.Context[models.LeadColumnPhone])
	}
	if to == "" {
		return nil, fmt.Errorf("send_whatsapp: no recipient phone number")
	}

	message := RenderTemplate(cfg.Message, req.Context)
	if err := h.sender.SendWhatsApp(ctx, to, message); err != nil {
		return nil, fmt.Errorf("send_whatsapp to %s: %w", to, err)
	}

	return &ActionResult{
		Success: true,
		Data:    map[string]interface{}{"to": to},
	}, nil
}

// TagHandler executes add_tag and remove_tag
type TagHandler struct {
	leads  LeadRepository
	remove bool
}

// NewAddTagHandler creates an add_tag handler
func NewAddTagHandler(leads LeadRepository) *TagHandler {
	return &TagHandler{leads: leads}
}

// NewRemoveTagHandler creates a remove_tag handler
func NewRemoveTagHandler(leads LeadRepository) *TagHandler {
	return &TagHandler{leads: leads, remove: true}
}

func (h *TagHandler) Type() models.ActionType {
	if h.remove {
		return models.ActionRemoveTag
	}
	return models.ActionAddTag
}

func (h *TagHandler) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	cfg, ok := req.Action.Config.(models.TagAction)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected config %T", h.Type(), req.Action.Config)
	}
	leadID, err := req.LeadID()
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(cfg.Tags))
	for _, tag := range cfg.Tags {
		if t := strings.TrimSpace(RenderTemplate(tag, req.Context)); t != "" {
			tags = append(tags, t)
		}
	}

	var current []string
	if h.remove {
		current, err = h.leads.RemoveTags(ctx, leadID, tags)
	} else {
		current, err = h.leads.AddTags(ctx, leadID, tags)
	}
	if err != nil {
		return nil, fmt.Errorf("%s on lead %s: %w", h.Type(), leadID, err)
	}

	return &ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"tags":      tags,
			"lead_tags": current,
		},
	}, nil
}

// UpdateFieldHandler executes update_field
type UpdateFieldHandler struct {
	leads LeadRepository
}

// NewUpdateFieldHandler creates an update_field handler
func NewUpdateFieldHandler(leads LeadRepository) *UpdateFieldHandler {
	return &UpdateFieldHandler{leads: leads}
}

func (h *UpdateFieldHandler) Type() models.ActionType { return models.ActionUpdateField }

func (h *UpdateFieldHandler) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	cfg, ok := req.Action.Config.(models.UpdateFieldAction)
	if !ok {
		return nil, fmt.Errorf("update_field: unexpected config %T", req.Action.Config)
	}
	leadID, err := req.LeadID()
	if err != nil {
		return nil, err
	}

	value := stringify(renderValue(cfg.Value, req.Context))
	if models.IsLeadColumn(cfg.Field) {
		err = h.leads.UpdateLeadColumn(ctx, leadID, cfg.Field, value)
	} else {
		err = h.leads.SetCustomField(ctx, leadID, cfg.Field, value)
	}
	if err != nil {
		return nil, fmt.Errorf("update_field %s on lead %s: %w", cfg.Field, leadID, err)
	}

	return &ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"field": cfg.Field,
			"value": value,
		},
	}, nil
}

// AssignHandler executes assign_to_user
type AssignHandler struct {
	leads LeadRepository
}

// NewAssignHandler creates an assign_to_user handler
func NewAssignHandler(leads LeadRepository) *AssignHandler {
	return &AssignHandler{leads: leads}
}

func (h *AssignHandler) Type() models.ActionType { return models.ActionAssignToUser }

func (h *AssignHandler) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	cfg, ok := req.Action.Config.(models.AssignToUserAction)
	if !ok {
		return nil, fmt.Errorf("assign_to_user: unexpected config %T", req.Action.Config)
	}
	leadID, err := req.LeadID()
	if err != nil {
		return nil, err
	}

	ownerID, err := uuid.Parse(RenderTemplate(cfg.UserID, req.Context))
	if err != nil {
		return nil, fmt.Errorf("assign_to_user: invalid user id: %w", err)
	}
	if err := h.leads.SetOwner(ctx, leadID, ownerID); err != nil {
		return nil, fmt.Errorf("assign_to_user on lead %s: %w", leadID, err)
	}

	return &ActionResult{
		Success: true,
		Data:    map[string]interface{}{"owner_id": ownerID.String()},
	}, nil
}

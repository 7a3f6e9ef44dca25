package models

import (
	"encoding/json"
	"fmt"
)

// TriggerType discriminates the trigger configuration of a workflow
type TriggerType string

const (
	TriggerCreateNewLead    TriggerType = "create_new_lead"
	TriggerUpdateLeadStatus TriggerType = "update_lead_status"
	TriggerFacebookLeadForm TriggerType = "facebook_lead_form"
	TriggerInboundWebhook   TriggerType = "inbound_webhook"
	TriggerEmailOpened      TriggerType = "email_opened"
	TriggerEmailClicked     TriggerType = "email_clicked"
	TriggerEmailReplied     TriggerType = "email_replied"
	TriggerFormSubmitted    TriggerType = "form_submitted"
	TriggerSchedule         TriggerType = "schedule"
)

// TriggerTypes lists every known trigger type
var TriggerTypes = []TriggerType{
	TriggerCreateNewLead,
	TriggerUpdateLeadStatus,
	TriggerFacebookLeadForm,
	TriggerInboundWebhook,
	TriggerEmailOpened,
	TriggerEmailClicked,
	TriggerEmailReplied,
	TriggerFormSubmitted,
	TriggerSchedule,
}

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TriggerConfig is the closed set of per-type trigger configurations.
// Only types in this package implement it.
type TriggerConfig interface {
	TriggerType() TriggerType
	sealedTrigger()
}

// CreateNewLeadTrigger fires for every new lead, optionally filtered by source.
type CreateNewLeadTrigger struct {
	Sources []string `json:"sources,omitempty"`
}

// UpdateLeadStatusTrigger fires on a lead status transition.
// Empty filters match any status.
type UpdateLeadStatusTrigger struct {
	StatusFrom string `json:"status_from,omitempty"`
	StatusTo   string `json:"status_to,omitempty"`
}

// FacebookLeadFormTrigger fires for leads from one Facebook page form.
type FacebookLeadFormTrigger struct {
	PageID string `json:"page_id" validate:"required"`
	FormID string `json:"form_id" validate:"required"`
}

// InboundWebhookTrigger fires for deliveries to /webhooks/inbound/{path}.
type InboundWebhookTrigger struct {
	Path   string `json:"path" validate:"required"`
	Secret string `json:"secret,omitempty"`
}

// EmailEventTrigger fires on tracked email events (opened, clicked, replied).
type EmailEventTrigger struct {
	Event      TriggerType `json:"-"`
	TemplateID string      `json:"template_id,omitempty"`
}

// FormSubmittedTrigger fires when a capture form is submitted.
type FormSubmittedTrigger struct {
	FormID string `json:"form_id" validate:"required"`
}

// ScheduleTrigger fires on a cron schedule; it is never matched by event content.
type ScheduleTrigger struct {
	Cron     string `json:"cron" validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

func (CreateNewLeadTrigger) TriggerType() TriggerType    { return TriggerCreateNewLead }
func (UpdateLeadStatusTrigger) TriggerType() TriggerType { return TriggerUpdateLeadStatus }
func (FacebookLeadFormTrigger) TriggerType() TriggerType { return TriggerFacebookLeadForm }
func (InboundWebhookTrigger) TriggerType() TriggerType   { return TriggerInboundWebhook }
func (t EmailEventTrigger) TriggerType() TriggerType     { return t.Event }
func (FormSubmittedTrigger) TriggerType() TriggerType    { return TriggerFormSubmitted }
func (ScheduleTrigger) TriggerType() TriggerType         { return TriggerSchedule }

func (CreateNewLeadTrigger) sealedTrigger()    {}
func (UpdateLeadStatusTrigger) sealedTrigger() {}
func (FacebookLeadFormTrigger) sealedTrigger() {}
func (InboundWebhookTrigger) sealedTrigger()   {}
func (EmailEventTrigger) sealedTrigger()       {}
func (FormSubmittedTrigger) sealedTrigger()    {}
func (ScheduleTrigger) sealedTrigger()         {}

// Trigger is the event-matching configuration that starts a workflow
type Trigger struct {
	Type   TriggerType
	Config TriggerConfig
}

type triggerJSON struct {
	Type   TriggerType     `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON encodes the trigger as {"type": ..., "config": {...}}
func (t Trigger) MarshalJSON() ([]byte, error) {
	out := triggerJSON{Type: t.Type}
	if t.Config != nil {
		raw, err := json.Marshal(t.Config)
		if err != nil {
			return nil, err
		}
		out.Config = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the type-tagged config into its typed struct
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var in triggerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	cfg, err := newTriggerConfig(in.Type)
	if err != nil {
		return err
	}
	if len(in.Config) > 0 && string(in.Config) != "null" {
		if err := json.Unmarshal(in.Config, cfg); err != nil {
			return fmt.Errorf("invalid %s trigger config: %w", in.Type, err)
		}
	}

	t.Type = in.Type
	t.Config = derefTrigger(cfg)
	return nil
}

func newTriggerConfig(typ TriggerType) (interface{}, error) {
	switch typ {
	case TriggerCreateNewLead:
		return &CreateNewLeadTrigger{}, nil
	case TriggerUpdateLeadStatus:
		return &UpdateLeadStatusTrigger{}, nil
	case TriggerFacebookLeadForm:
		return &FacebookLeadFormTrigger{}, nil
	case TriggerInboundWebhook:
		return &InboundWebhookTrigger{}, nil
	case TriggerEmailOpened, TriggerEmailClicked, TriggerEmailReplied:
		return &EmailEventTrigger{Event: typ}, nil
	case TriggerFormSubmitted:
		return &FormSubmittedTrigger{}, nil
	case TriggerSchedule:
		return &ScheduleTrigger{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger type: %q", typ)
	}
}

func derefTrigger(cfg interface{}) TriggerConfig {
	switch c := cfg.(type) {
	case *CreateNewLeadTrigger:
		return *c
	case *UpdateLeadStatusTrigger:
		return *c
	case *FacebookLeadFormTrigger:
		return *c
	case *InboundWebhookTrigger:
		return *c
	case *EmailEventTrigger:
		return *c
	case *FormSubmittedTrigger:
		return *c
	case *ScheduleTrigger:
		return *c
	}
	return nil
}

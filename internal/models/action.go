package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionType discriminates the configuration of an action node
type ActionType string

const (
	ActionSendEmail    ActionType = "send_email"
	ActionSendWhatsApp ActionType = "send_whatsapp"
	ActionSendWebhook  ActionType = "send_webhook"
	ActionCondition    ActionType = "condition"
	ActionDelay        ActionType = "delay"
	ActionAddTag       ActionType = "add_tag"
	ActionRemoveTag    ActionType = "remove_tag"
	ActionUpdateField  ActionType = "update_field"
	ActionAssignToUser ActionType = "assign_to_user"
)

// LeafActionTypes are the action types executed by an action handler.
// Condition and delay are interpreted by the engine itself.
var LeafActionTypes = []ActionType{
	ActionSendEmail,
	ActionSendWhatsApp,
	ActionSendWebhook,
	ActionAddTag,
	ActionRemoveTag,
	ActionUpdateField,
	ActionAssignToUser,
}

// ActionConfig is the closed set of per-type action configurations.
type ActionConfig interface {
	ActionType() ActionType
	sealedAction()
}

// SendEmailAction sends a rendered email to the lead (or To).
type SendEmailAction struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// SendWhatsAppAction sends a rendered WhatsApp message to the lead (or To).
type SendWhatsAppAction struct {
	To      string `json:"to,omitempty"`
	Message string `json:"message" validate:"required"`
}

// SendWebhookAction calls an external HTTP endpoint.
type SendWebhookAction struct {
	URL            string            `json:"url" validate:"required,url"`
	Method         string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           interface{}       `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" validate:"gte=0,lte=300"`
	RetryCount     int               `json:"retry_count,omitempty" validate:"gte=0,lte=10"`
}

// Timeout returns the per-attempt timeout, defaulting to 30 seconds.
func (a SendWebhookAction) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ConditionAction branches the run into YesHeadID or NoHeadID.
// An empty head terminates that branch.
type ConditionAction struct {
	Operator   LogicalOperator `json:"operator" validate:"omitempty,oneof=AND OR and or"`
	Conditions []Condition     `json:"conditions"`
	YesHeadID  string          `json:"yes_head_id,omitempty"`
	NoHeadID   string          `json:"no_head_id,omitempty"`
}

// DelayUnit is the unit of a delay duration
type DelayUnit string

const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

// DelayAction suspends the run for Duration Units.
type DelayAction struct {
	Duration int       `json:"duration" validate:"required,gt=0"`
	Unit     DelayUnit `json:"unit" validate:"required,oneof=minutes hours days"`
}

// Interval converts the delay into a time.Duration.
func (a DelayAction) Interval() (time.Duration, error) {
	if a.Duration <= 0 {
		return 0, fmt.Errorf("delay duration must be positive, got %d", a.Duration)
	}
	n := time.Duration(a.Duration)
	switch a.Unit {
	case DelayMinutes:
		return n * time.Minute, nil
	case DelayHours:
		return n * time.Hour, nil
	case DelayDays:
		return n * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown delay unit: %q", a.Unit)
	}
}

// TagAction adds or removes tags; Remove selects remove_tag.
type TagAction struct {
	Tags   []string `json:"tags" validate:"required,min=1,dive,required"`
	Remove bool     `json:"-"`
}

// UpdateFieldAction sets a lead column or custom field to Value.
type UpdateFieldAction struct {
	Field string      `json:"field" validate:"required"`
	Value interface{} `json:"value"`
}

// AssignToUserAction sets the lead owner.
type AssignToUserAction struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (SendEmailAction) ActionType() ActionType    { return ActionSendEmail }
func (SendWhatsAppAction) ActionType() ActionType { return ActionSendWhatsApp }
func (SendWebhookAction) ActionType() ActionType  { return ActionSendWebhook }
func (ConditionAction) ActionType() ActionType    { return ActionCondition }
func (DelayAction) ActionType() ActionType        { return ActionDelay }
func (UpdateFieldAction) ActionType() ActionType  { return ActionUpdateField }
func (AssignToUserAction) ActionType() ActionType { return ActionAssignToUser }
func (a TagAction) ActionType() ActionType {
	if a.Remove {
		return ActionRemoveTag
	}
	return ActionAddTag
}

func (SendEmailAction) sealedAction()    {}
func (SendWhatsAppAction) sealedAction() {}
func (SendWebhookAction) sealedAction()  {}
func (ConditionAction) sealedAction()    {}
func (DelayAction) sealedAction()        {}
func (TagAction) sealedAction()          {}
func (UpdateFieldAction) sealedAction()  {}
func (AssignToUserAction) sealedAction() {}

// Action is one node of a workflow's action arena
type Action struct {
	ID     string       `validate:"required"`
	Type   ActionType   `validate:"required"`
	NextID string
	Config ActionConfig
}

type actionJSON struct {
	ID     string          `json:"id"`
	Type   ActionType      `json:"type"`
	NextID string          `json:"next_id,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Successors returns the IDs this action may hand control to.
func (a *Action) Successors() []string {
	var out []string
	if c, ok := a.Config.(ConditionAction); ok {
		if c.YesHeadID != "" {
			out = append(out, c.YesHeadID)
		}
		if c.NoHeadID != "" {
			out = append(out, c.NoHeadID)
		}
		return out
	}
	if a.NextID != "" {
		out = append(out, a.NextID)
	}
	return out
}

// MarshalJSON encodes the action as {"id","type","next_id","config"}
func (a Action) MarshalJSON() ([]byte, error) {
	out := actionJSON{ID: a.ID, Type: a.Type, NextID: a.NextID}
	if a.Config != nil {
		raw, err := json.Marshal(a.Config)
		if err != nil {
			return nil, err
		}
		out.Config = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the type-tagged config into its typed struct
func (a *Action) UnmarshalJSON(data []byte) error {
	var in actionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	cfg, err := DecodeActionConfig(in.Type, in.Config)
	if err != nil {
		return fmt.Errorf("action %s: %w", in.ID, err)
	}

	a.ID = in.ID
	a.Type = in.Type
	a.NextID = in.NextID
	a.Config = cfg
	return nil
}

// DecodeActionConfig parses a raw config blob for the given action type.
func DecodeActionConfig(typ ActionType, raw json.RawMessage) (ActionConfig, error) {
	decode := func(dst interface{}) error {
		if len(raw) == 0 || string(raw) == "null" {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("invalid %s config: %w", typ, err)
		}
		return nil
	}

	switch typ {
	case ActionSendEmail:
		var c SendEmailAction
		err := decode(&c)
		return c, err
	case ActionSendWhatsApp:
		var c SendWhatsAppAction
		err := decode(&c)
		return c, err
	case ActionSendWebhook:
		var c SendWebhookAction
		err := decode(&c)
		return c, err
	case ActionCondition:
		var c ConditionAction
		err := decode(&c)
		return c, err
	case ActionDelay:
		var c DelayAction
		err := decode(&c)
		return c, err
	case ActionAddTag:
		var c TagAction
		err := decode(&c)
		return c, err
	case ActionRemoveTag:
		c := TagAction{Remove: true}
		err := decode(&c)
		return c, err
	case ActionUpdateField:
		var c UpdateFieldAction
		err := decode(&c)
		return c, err
	case ActionAssignToUser:
		var c AssignToUserAction
		err := decode(&c)
		return c, err
	default:
		return nil, fmt.Errorf("unknown action type: %q", typ)
	}
}

// LogicalOperator combines a list of conditions
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Normalize upper-cases the operator and defaults to AND.
func (o LogicalOperator) Normalize() LogicalOperator {
	switch strings.ToUpper(string(o)) {
	case "OR":
		return LogicalOr
	default:
		return LogicalAnd
	}
}

// Comparison operators for leaf conditions
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
)

// Condition is either a leaf comparison (Field/Operator/Value) or a group
// (Operator AND|OR over Conditions).
type Condition struct {
	Field         string      `json:"field,omitempty"`
	Operator      string      `json:"operator"`
	Value         interface{} `json:"value,omitempty"`
	CaseSensitive bool        `json:"case_sensitive,omitempty"`
	Conditions    []Condition `json:"conditions,omitempty"`
}

// IsGroup reports whether the node combines child conditions.
func (c Condition) IsGroup() bool {
	if len(c.Conditions) > 0 {
		return true
	}
	op := strings.ToUpper(c.Operator)
	return op == string(LogicalAnd) || op == string(LogicalOr)
}

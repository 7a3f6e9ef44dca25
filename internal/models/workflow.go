package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workflow represents an automation definition owned by a CRM user
type Workflow struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	Name        string             `json:"name" db:"name"`
	Description *string            `json:"description,omitempty" db:"description"`
	Active      bool               `json:"active" db:"active"`
	OwnerID     *uuid.UUID         `json:"owner_id,omitempty" db:"owner_id"`
	Definition  WorkflowDefinition `json:"definition" db:"definition"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}

// IsRunnable reports whether the workflow can start new runs.
func (w *Workflow) IsRunnable() bool {
	return w.Active && w.Definition.Trigger.Type != "" && len(w.Definition.Actions) > 0
}

// WorkflowDefinition is the trigger plus the action arena of a workflow.
// Actions are addressed by their stable ID; StartActionID names the head.
type WorkflowDefinition struct {
	Trigger       Trigger  `json:"trigger" validate:"required"`
	StartActionID string   `json:"start_action_id"`
	Actions       []Action `json:"actions" validate:"required,min=1,dive"`
}

// Head returns the first action to execute.
func (d *WorkflowDefinition) Head() (*Action, bool) {
	id := d.StartActionID
	if id == "" && len(d.Actions) > 0 {
		id = d.Actions[0].ID
	}
	return d.Action(id)
}

// Action looks up an action by its ID.
func (d *WorkflowDefinition) Action(id string) (*Action, bool) {
	if id == "" {
		return nil, false
	}
	for i := range d.Actions {
		if d.Actions[i].ID == id {
			return &d.Actions[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy used to freeze the definition into a run.
func (d WorkflowDefinition) Clone() (WorkflowDefinition, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return WorkflowDefinition{}, fmt.Errorf("failed to marshal definition: %w", err)
	}
	var out WorkflowDefinition
	if err := json.Unmarshal(raw, &out); err != nil {
		return WorkflowDefinition{}, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return out, nil
}

// Scan implements the sql.Scanner interface for WorkflowDefinition
func (d *WorkflowDefinition) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		if s, isString := value.(string); isString {
			bytes = []byte(s)
		} else {
			return nil
		}
	}

	return json.Unmarshal(bytes, d)
}

// Value implements the driver.Valuer interface for WorkflowDefinition
func (d WorkflowDefinition) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// CreateWorkflowRequest represents the request to create a workflow
type CreateWorkflowRequest struct {
	Name        string             `json:"name" validate:"required"`
	Description *string            `json:"description,omitempty"`
	Active      bool               `json:"active"`
	OwnerID     *uuid.UUID         `json:"owner_id,omitempty"`
	Definition  WorkflowDefinition `json:"definition" validate:"required"`
}

// ValidateWorkflowRequest carries a definition in either arena or nested form.
type ValidateWorkflowRequest struct {
	Trigger Trigger        `json:"trigger"`
	Actions []Action       `json:"actions,omitempty"`
	Steps   []NestedAction `json:"steps,omitempty"`
}

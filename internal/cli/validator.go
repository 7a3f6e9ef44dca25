package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/validators"
)

// WorkflowFile is the on-disk form of a workflow. Actions may be given as
// a flat list with next_id pointers or as nested steps with yes/no branches.
type WorkflowFile struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Active      bool                  `json:"active"`
	Trigger     models.Trigger        `json:"trigger"`
	Actions     []models.Action       `json:"actions,omitempty"`
	Steps       []models.NestedAction `json:"steps,omitempty"`
}

type ValidationResult struct {
	Valid    bool             `json:"valid"`
	Errors   []string         `json:"errors,omitempty"`
	Workflow *models.Workflow `json:"workflow,omitempty"`
}

// LoadWorkflowFromFile reads a YAML or JSON workflow file and returns the
// workflow it describes with nested steps flattened.
func LoadWorkflowFromFile(filename string) (*models.Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow decodes a workflow document. JSON is accepted as YAML.
func ParseWorkflow(data []byte) (*models.Workflow, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("invalid workflow document: expected a mapping at the top level")
	}

	// round trip through JSON so the models' type-tagged decoders apply
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}
	var file WorkflowFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}

	workflow := &models.Workflow{
		Name:   file.Name,
		Active: file.Active,
		Definition: models.WorkflowDefinition{
			Trigger: file.Trigger,
			Actions: file.Actions,
		},
	}
	if file.Description != "" {
		workflow.Description = &file.Description
	}

	if len(file.Steps) > 0 {
		if len(file.Actions) > 0 {
			return nil, fmt.Errorf("workflow declares both actions and steps")
		}
		actions, head, err := models.BuildArena(file.Steps)
		if err != nil {
			return nil, err
		}
		workflow.Definition.Actions = actions
		workflow.Definition.StartActionID = head
	}

	return workflow, nil
}

// ValidateWorkflowFile validates a workflow definition from a file
func ValidateWorkflowFile(filename string) (*ValidationResult, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, err
	}

	workflow, err := LoadWorkflowFromFile(filename)
	if err != nil {
		return &ValidationResult{Errors: []string{err.Error()}}, nil
	}
	return ValidateWorkflow(workflow), nil
}

// ValidateWorkflow runs the same checks the API applies on create
func ValidateWorkflow(workflow *models.Workflow) *ValidationResult {
	err := validators.NewWorkflowValidator().Validate(workflow)
	if err == nil {
		return &ValidationResult{Valid: true, Workflow: workflow}
	}

	var verr *validators.ValidationError
	if errors.As(err, &verr) {
		return &ValidationResult{Errors: verr.Problems}
	}
	return &ValidationResult{Errors: []string{err.Error()}}
}

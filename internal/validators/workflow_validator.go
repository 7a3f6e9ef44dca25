package validators

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/validator"
)

// CronParser accepts standard 5 field expressions, an optional leading
// seconds field, and descriptors such as @hourly.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var leafOperators = map[string]bool{
	models.OpEquals:      true,
	models.OpNotEquals:   true,
	models.OpContains:    true,
	models.OpNotContains: true,
	models.OpGreaterThan: true,
	models.OpLessThan:    true,
	models.OpStartsWith:  true,
	models.OpEndsWith:    true,
	models.OpIsEmpty:     true,
	models.OpIsNotEmpty:  true,
}

// ValidationError lists every problem found in a workflow
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "workflow validation failed: " + strings.Join(e.Problems, "; ")
}

// WorkflowValidator validates workflow definitions
type WorkflowValidator struct {
	structs *validator.Validator
}

// NewWorkflowValidator creates a new workflow validator
func NewWorkflowValidator() *WorkflowValidator {
	return &WorkflowValidator{structs: validator.New()}
}

// Validate validates a complete workflow
func (v *WorkflowValidator) Validate(workflow *models.Workflow) error {
	var problems []string

	if strings.TrimSpace(workflow.Name) == "" {
		problems = append(problems, "workflow name is required")
	}
	problems = append(problems, v.definitionProblems(&workflow.Definition)...)

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateDefinition validates a trigger and action arena
func (v *WorkflowValidator) ValidateDefinition(def *models.WorkflowDefinition) error {
	if problems := v.definitionProblems(def); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateCronExpression checks a cron expression and timezone
func ValidateCronExpression(expression, timezone string) error {
	if _, err := CronParser.Parse(expression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	return nil
}

func (v *WorkflowValidator) definitionProblems(def *models.WorkflowDefinition) []string {
	problems := v.triggerProblems(&def.Trigger)

	if len(def.Actions) == 0 {
		return append(problems, "workflow must have at least one action")
	}

	ids := make(map[string]bool, len(def.Actions))
	for _, action := range def.Actions {
		if action.ID == "" {
			problems = append(problems, "all actions must have an id")
			continue
		}
		if ids[action.ID] {
			problems = append(problems, fmt.Sprintf("duplicate action id: %s", action.ID))
		}
		ids[action.ID] = true
	}

	if def.StartActionID != "" && !ids[def.StartActionID] {
		problems = append(problems, fmt.Sprintf("start action %s does not exist", def.StartActionID))
	}

	for i := range def.Actions {
		problems = append(problems, v.actionProblems(&def.Actions[i], ids)...)
	}

	if len(problems) == 0 {
		problems = append(problems, v.shapeProblems(def)...)
	}
	return problems
}

func (v *WorkflowValidator) triggerProblems(trigger *models.Trigger) []string {
	if trigger.Type == "" {
		return []string{"trigger type is required"}
	}
	if !trigger.Type.Valid() {
		return []string{fmt.Sprintf("unknown trigger type %q", trigger.Type)}
	}
	if trigger.Config == nil {
		return nil
	}
	if trigger.Config.TriggerType() != trigger.Type {
		return []string{fmt.Sprintf("trigger config %s does not match trigger type %s", trigger.Config.TriggerType(), trigger.Type)}
	}
	if err := v.structs.Validate(trigger.Config); err != nil {
		return []string{fmt.Sprintf("trigger %s: %v", trigger.Type, err)}
	}
	if schedule, ok := trigger.Config.(models.ScheduleTrigger); ok {
		if err := ValidateCronExpression(schedule.Cron, schedule.Timezone); err != nil {
			return []string{err.Error()}
		}
	}
	return nil
}

func (v *WorkflowValidator) actionProblems(action *models.Action, ids map[string]bool) []string {
	var problems []string

	if action.Config == nil {
		return []string{fmt.Sprintf("action %s (%s) has no config", action.ID, action.Type)}
	}
	if action.Config.ActionType() != action.Type {
		return []string{fmt.Sprintf("action %s config %s does not match type %s", action.ID, action.Config.ActionType(), action.Type)}
	}
	if err := v.structs.Validate(action.Config); err != nil {
		problems = append(problems, fmt.Sprintf("action %s: %v", action.ID, err))
	}

	switch cfg := action.Config.(type) {
	case models.ConditionAction:
		if action.NextID != "" {
			problems = append(problems, fmt.Sprintf("condition %s cannot have next_id", action.ID))
		}
		for _, head := range []string{cfg.YesHeadID, cfg.NoHeadID} {
			if head != "" && !ids[head] {
				problems = append(problems, fmt.Sprintf("condition %s references non-existent action: %s", action.ID, head))
			}
		}
		for _, c := range cfg.Conditions {
			if err := validateCondition(&c, 1); err != nil {
				problems = append(problems, fmt.Sprintf("condition %s: %v", action.ID, err))
			}
		}
	case models.DelayAction:
		if _, err := cfg.Interval(); err != nil {
			problems = append(problems, fmt.Sprintf("delay %s: %v", action.ID, err))
		}
	}

	if action.NextID != "" && !ids[action.NextID] {
		problems = append(problems, fmt.Sprintf("action %s references non-existent next action: %s", action.ID, action.NextID))
	}
	return problems
}

const maxConditionDepth = 16

func validateCondition(c *models.Condition, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("conditions nested deeper than %d levels", maxConditionDepth)
	}

	if c.IsGroup() {
		op := strings.ToUpper(c.Operator)
		if op != string(models.LogicalAnd) && op != string(models.LogicalOr) {
			return fmt.Errorf("group operator must be AND or OR, got %q", c.Operator)
		}
		for i := range c.Conditions {
			if err := validateCondition(&c.Conditions[i], depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if c.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	if !leafOperators[c.Operator] {
		return fmt.Errorf("unsupported operator %q on field %s", c.Operator, c.Field)
	}
	if c.Value == nil && c.Operator != models.OpIsEmpty && c.Operator != models.OpIsNotEmpty {
		return fmt.Errorf("operator %s on field %s requires a value", c.Operator, c.Field)
	}
	return nil
}

// shapeProblems checks that the arena is a tree rooted at the head: every
// action is reachable, none has two predecessors, and there are no cycles.
func (v *WorkflowValidator) shapeProblems(def *models.WorkflowDefinition) []string {
	head, ok := def.Head()
	if !ok {
		return []string{"workflow has no start action"}
	}

	var problems []string
	parents := make(map[string]string)
	for i := range def.Actions {
		action := &def.Actions[i]
		for _, next := range action.Successors() {
			if next == head.ID {
				problems = append(problems, fmt.Sprintf("action %s loops back to the start action", action.ID))
				continue
			}
			if prev, seen := parents[next]; seen {
				problems = append(problems, fmt.Sprintf("action %s is reached from both %s and %s", next, prev, action.ID))
				continue
			}
			parents[next] = action.ID
		}
	}

	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var cyclic bool
	var walk func(id string)
	walk = func(id string) {
		if cyclic {
			return
		}
		visited[id] = true
		onPath[id] = true
		action, _ := def.Action(id)
		for _, next := range action.Successors() {
			if onPath[next] {
				cyclic = true
				return
			}
			if !visited[next] {
				walk(next)
			}
		}
		onPath[id] = false
	}
	walk(head.ID)

	if cyclic {
		problems = append(problems, "circular reference detected in workflow actions")
	}
	for _, action := range def.Actions {
		if !visited[action.ID] {
			problems = append(problems, fmt.Sprintf("action %s is unreachable from the start action", action.ID))
		}
	}
	return problems
}

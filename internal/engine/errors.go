package engine

import "errors"

var (
	// ErrWorkflowInactive is returned when starting a run for an inactive workflow
	ErrWorkflowInactive = errors.New("workflow is inactive")

	// ErrWorkflowNotRunnable is returned when a workflow has no trigger or no actions
	ErrWorkflowNotRunnable = errors.New("workflow has no trigger or no actions")

	// ErrStepNotFound is returned when a step id is absent from the run's definition
	ErrStepNotFound = errors.New("step not found in run definition")

	// ErrStepPanicked wraps a panic raised while running an action
	ErrStepPanicked = errors.New("action panicked")

	// ErrStepInterrupted marks a step run abandoned by its worker mid-action
	ErrStepInterrupted = errors.New("step interrupted before finishing")

	// ErrUnknownActionType is returned for action configs without a handler
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrUnknownTriggerType is returned for trigger configs the matcher cannot handle
	ErrUnknownTriggerType = errors.New("unknown trigger type")

	// ErrMissingLead is returned when an event requires a lead that cannot be resolved
	ErrMissingLead = errors.New("event references no resolvable lead")

	// ErrUnsupportedOperator is returned by the evaluator for unknown comparison operators
	ErrUnsupportedOperator = errors.New("unsupported condition operator")
)

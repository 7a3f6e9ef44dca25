package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowSchedule is the persisted cron state of a schedule-triggered workflow
type WorkflowSchedule struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	WorkflowID      uuid.UUID  `json:"workflow_id" db:"workflow_id"`
	CronExpression  string     `json:"cron_expression" db:"cron_expression"`
	Timezone        string     `json:"timezone" db:"timezone"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	NextTriggerAt   *time.Time `json:"next_trigger_at,omitempty" db:"next_trigger_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

package engine

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/davidmoltin/leadflow/internal/models"
)

// MatchTrigger decides whether workflow should start for event.
// The event's trigger type must already equal the workflow's.
func MatchTrigger(workflow *models.Workflow, event *models.TriggerEventLog) (bool, error) {
	trigger := workflow.Definition.Trigger
	if trigger.Type != event.TriggerType {
		return false, nil
	}
	payload := event.Payload

	switch cfg := trigger.Config.(type) {
	case models.CreateNewLeadTrigger:
		if len(cfg.Sources) == 0 {
			return true, nil
		}
		return containsFold(cfg.Sources, payloadString(payload, models.PayloadSource)), nil

	case models.UpdateLeadStatusTrigger:
		if cfg.StatusFrom != "" && !strings.EqualFold(cfg.StatusFrom, payloadString(payload, models.PayloadFromStatus)) {
			return false, nil
		}
		if cfg.StatusTo != "" && !strings.EqualFold(cfg.StatusTo, payloadString(payload, models.PayloadToStatus)) {
			return false, nil
		}
		return true, nil

	case models.FacebookLeadFormTrigger:
		return cfg.PageID == payloadString(payload, models.PayloadPageID) &&
			cfg.FormID == payloadString(payload, models.PayloadFormID), nil

	case models.InboundWebhookTrigger:
		if strings.Trim(cfg.Path, "/") != strings.Trim(payloadString(payload, models.PayloadPath), "/") {
			return false, nil
		}
		if cfg.Secret == "" {
			return true, nil
		}
		given := payloadString(payload, models.PayloadSecret)
		return subtle.ConstantTimeCompare([]byte(cfg.Secret), []byte(given)) == 1, nil

	case models.EmailEventTrigger:
		if cfg.TemplateID == "" {
			return true, nil
		}
		return cfg.TemplateID == payloadString(payload, models.PayloadTemplateID), nil

	case models.FormSubmittedTrigger:
		return cfg.FormID == payloadString(payload, models.PayloadFormID), nil

	case models.ScheduleTrigger:
		// Schedule events are addressed to exactly one workflow.
		return payloadString(payload, models.PayloadWorkflowID) == workflow.ID.String(), nil

	default:
		return false, fmt.Errorf("%w: %T", ErrUnknownTriggerType, trigger.Config)
	}
}

func payloadString(payload models.JSONB, key string) string {
	if payload == nil {
		return ""
	}
	return stringify(payload[key])
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// Package app assembles the workflow engine and its services.
package app

import (
	"fmt"

	"github.com/davidmoltin/leadflow/internal/engine"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/services"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

// Sender delivers email and WhatsApp messages
type Sender interface {
	engine.EmailSender
	engine.WhatsAppSender
}

// Deps are the storage and transport the engine runs on
type Deps struct {
	Workflows  engine.WorkflowRepository
	Events     engine.EventLogRepository
	Executions engine.ExecutionRepository
	Leads      interface {
		engine.LeadRepository
		services.LeadStore
	}
	Facebook  services.FacebookRepository
	Schedules services.ScheduleRepository
	Graph     services.GraphClient
	Sender    Sender
	Queue     engine.JobScheduler

	Logger  *logger.Logger
	Metrics *metrics.Metrics

	ExecutorOptions []engine.ExecutorOption
	WebhookOptions  []engine.WebhookOption
}

// Engine holds the wired engine components
type Engine struct {
	Actions   *engine.ActionExecutor
	Context   *engine.ContextBuilder
	Executor  *engine.WorkflowExecutor
	Router    *engine.EventRouter
	Capture   *services.LeadCaptureService
	Leads     *services.LeadService
	Schedules *services.ScheduleService
}

// NewEngine wires every action handler, the executor and the event router
func NewEngine(d Deps) (*Engine, error) {
	actions := engine.NewActionExecutor(d.Logger, d.Metrics,
		engine.NewEmailHandler(d.Sender),
		engine.NewWhatsAppHandler(d.Sender),
		engine.NewWebhookHandler(d.Logger, d.Metrics, d.WebhookOptions...),
		engine.NewAddTagHandler(d.Leads),
		engine.NewRemoveTagHandler(d.Leads),
		engine.NewUpdateFieldHandler(d.Leads),
		engine.NewAssignHandler(d.Leads),
	)
	if err := actions.Validate(); err != nil {
		return nil, fmt.Errorf("incomplete action registry: %w", err)
	}

	opts := append([]engine.ExecutorOption{engine.WithMetrics(d.Metrics)}, d.ExecutorOptions...)
	contextBuilder := engine.NewContextBuilder(d.Leads, d.Logger)
	executor := engine.NewWorkflowExecutor(contextBuilder, actions, d.Executions, d.Workflows, d.Queue, d.Logger, opts...)
	router := engine.NewEventRouter(d.Workflows, d.Events, executor, contextBuilder, d.Queue, d.Logger, d.Metrics)

	capture := services.NewLeadCaptureService(router, d.Graph, d.Facebook, d.Leads, d.Logger, d.Metrics)
	router.RegisterPreprocessor(models.TriggerFacebookLeadForm, capture)

	return &Engine{
		Actions:   actions,
		Context:   contextBuilder,
		Executor:  executor,
		Router:    router,
		Capture:   capture,
		Leads:     services.NewLeadService(d.Leads, router, d.Logger, d.Metrics),
		Schedules: services.NewScheduleService(d.Schedules, d.Logger),
	}, nil
}

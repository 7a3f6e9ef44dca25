package engine

import (
	"context"
	"testing"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/google/uuid"
)

func benchmarkContext() map[string]interface{} {
	return map[string]interface{}{
		"name":   "Jane Doe",
		"email":  "jane@example.com",
		"status": "qualified",
		"source": "facebook",
		"fields": map[string]interface{}{
			"budget":  "50000",
			"company": "Acme",
			"address": map[string]interface{}{"city": "Lisbon", "country": "PT"},
		},
	}
}

func BenchmarkEvaluator_SimpleCondition(b *testing.B) {
	e := NewEvaluator()
	ctx := benchmarkContext()
	conditions := []models.Condition{{Field: "status", Operator: models.OpEquals, Value: "qualified"}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Evaluate(conditions, models.LogicalAnd, ctx)
	}
}

func BenchmarkEvaluator_ComplexCondition(b *testing.B) {
	e := NewEvaluator()
	ctx := benchmarkContext()
	conditions := []models.Condition{
		{Field: "email", Operator: models.OpIsNotEmpty},
		{
			Operator: string(models.LogicalOr),
			Conditions: []models.Condition{
				{Field: "source", Operator: models.OpEquals, Value: "website"},
				{Field: "status", Operator: models.OpEquals, Value: "QUALIFIED"},
			},
		},
		{Field: "fields.company", Operator: models.OpEquals, Value: "acme"},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Evaluate(conditions, models.LogicalAnd, ctx)
	}
}

func BenchmarkEvaluator_NestedFieldExtraction(b *testing.B) {
	e := NewEvaluator()
	ctx := benchmarkContext()
	condition := models.Condition{Field: "fields.address.city", Operator: models.OpEquals, Value: "Lisbon"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.EvaluateNode(condition, ctx)
	}
}

func BenchmarkRenderTemplate(b *testing.B) {
	ctx := benchmarkContext()
	tmpl := "Hi {{name}}, thanks for your interest. We will write to {{email}} from {{fields.address.city}}."

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = RenderTemplate(tmpl, ctx)
	}
}

func BenchmarkContextBuilder(b *testing.B) {
	store := memory.NewStore(nil)
	lead := &models.Lead{Name: "Jane Doe", Email: "jane@example.com", Status: "new", Source: "facebook"}
	if err := store.CreateLead(context.Background(), lead, nil); err != nil {
		b.Fatal(err)
	}
	builder := NewContextBuilder(store, logger.NewForTesting())
	event := &models.TriggerEventLog{
		ID:          uuid.New(),
		TriggerType: models.TriggerCreateNewLead,
		Payload:     models.JSONB{models.PayloadLeadID: lead.ID.String(), models.PayloadSource: "facebook"},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.BuildContext(context.Background(), event); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWorkflowRun(b *testing.B) {
	h := newHarness(b)
	h.createWorkflow(b, true, newLeadTrigger(),
		statusCondition("check", "new", "welcome", "skip"),
		emailAction("welcome", "nudge"),
		whatsAppAction("nudge", ""),
		emailAction("skip", ""),
	)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lead := h.createLead(b, "new")
		h.ingestNewLead(b, lead)
		h.drain(b)
	}
}

package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/mnemos/pkg/alias"
	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/entity"
	"github.com/threadline-ai/mnemos/pkg/memory"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store/storetest"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return embedding.FallbackVector(text), nil
}

func (s stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.EmbedText(ctx, t)
	}
	return out, nil
}

func newTestRetrieval(t *testing.T) (*Service, *memory.Service, *storetest.Fake) {
	t.Helper()
	fake := storetest.Seeded()
	aliases := alias.NewService(fake, stubEmbedder{})
	extractor := entity.NewExtractor(fake, aliases)
	memories := memory.NewService(fake, fake)
	return NewService(fake, memories, extractor), memories, fake
}

func factTables(facts []models.DomainFact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Table
	}
	return out
}

func TestRetrieveContext_CustomerFacts(t *testing.T) {
	svc, _, _ := newTestRetrieval(t)
	vec := embedding.FallbackVector("kai media order status")

	rc, err := svc.RetrieveContext(context.Background(), "What's the status of Kai Media's order?",
		vec, "u1", uuid.New(), 10)
	require.NoError(t, err)

	tables := factTables(rc.DomainFacts)
	assert.Contains(t, tables, "customers")
	assert.Contains(t, tables, "sales_orders")
	assert.Contains(t, tables, models.FactReasoningChain)

	for _, f := range rc.DomainFacts {
		if f.Table == "customers" {
			assert.Equal(t, 1.0, f.RelevanceScore)
			assert.Equal(t, "Kai Media", f.Data["name"])
		}
	}
}

func TestRetrieveContext_InvoicePaymentAggregation(t *testing.T) {
	svc, _, _ := newTestRetrieval(t)
	vec := embedding.FallbackVector("invoice")

	rc, err := svc.RetrieveContext(context.Background(), "What's left on INV-1009?",
		vec, "u1", uuid.New(), 10)
	require.NoError(t, err)

	var payments *models.DomainFact
	for i, f := range rc.DomainFacts {
		if f.Table == models.FactInvoicePayments {
			payments = &rc.DomainFacts[i]
		}
	}
	require.NotNil(t, payments, "invoice entities must carry aggregated payment info")
	assert.InDelta(t, 600.0, payments.Data["total_paid"], 1e-9)
	assert.InDelta(t, 600.0, payments.Data["remaining_balance"], 1e-9)
	assert.Equal(t, 1, payments.Data["payment_count"])
}

func TestRetrieveContext_ReasoningChainFlags(t *testing.T) {
	svc, _, _ := newTestRetrieval(t)
	vec := embedding.FallbackVector("kai media")

	rc, err := svc.RetrieveContext(context.Background(), "Tell me about Kai Media",
		vec, "u1", uuid.New(), 10)
	require.NoError(t, err)

	var chain *models.DomainFact
	for i, f := range rc.DomainFacts {
		if f.Table == models.FactReasoningChain {
			chain = &rc.DomainFacts[i]
		}
	}
	require.NotNil(t, chain)
	assert.Equal(t, "Kai Media", chain.Data["customer"])

	orders, ok := chain.Data["sales_orders"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, orders, 1) // SO-3003

	// SO-3003 has a done work order and a paid invoice: nothing left to
	// invoice or chase.
	so := orders[0]
	assert.Equal(t, "SO-3003", so["so_number"])
	assert.Equal(t, false, so["can_invoice"], "an invoice already exists")
	assert.Equal(t, false, so["should_send_invoice"], "no open invoice")
}

func TestRetrieveContext_DBMemoryInconsistency(t *testing.T) {
	svc, memories, _ := newTestRetrieval(t)
	ctx := context.Background()
	vec := embedding.FallbackVector("so-1001 status")

	// Memory claims SO-1001 is fulfilled; the database says in_fulfillment.
	seeded, err := memories.Create(ctx, memory.CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "SO-1001 fulfilled", Importance: 0.9,
	})
	require.NoError(t, err)

	rc, err := svc.RetrieveContext(ctx, "Is SO-1001 complete?", vec, "u1", uuid.New(), 10)
	require.NoError(t, err)

	var inconsistency *models.DomainFact
	for i, f := range rc.DomainFacts {
		if f.Table == models.FactDBMemoryInconsistency {
			inconsistency = &rc.DomainFacts[i]
		}
	}
	require.NotNil(t, inconsistency, "status query naming SO-1001 must surface the conflict")
	assert.Equal(t, "in_fulfillment", inconsistency.Data["db_status"])
	assert.Equal(t, "SO-1001 fulfilled", inconsistency.Data["memory_claim"])

	// The contradicted memory was marked for decay.
	stored, err := svc.st.MemoryByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Less(t, stored.Importance, 0.9)
}

func TestRetrieveContext_NoInconsistencyWithoutStatusQuery(t *testing.T) {
	svc, memories, _ := newTestRetrieval(t)
	ctx := context.Background()

	_, err := memories.Create(ctx, memory.CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "SO-1001 fulfilled", Importance: 0.9,
	})
	require.NoError(t, err)

	rc, err := svc.RetrieveContext(ctx, "Tell me about SO-1001",
		embedding.FallbackVector("so-1001"), "u1", uuid.New(), 10)
	require.NoError(t, err)

	assert.NotContains(t, factTables(rc.DomainFacts), models.FactDBMemoryInconsistency)
}

func TestMemoryConflicts(t *testing.T) {
	now := time.Now().UTC()
	memories := []models.MemoryRetrievalResult{
		{MemoryID: 1, Kind: models.MemorySemantic, Text: "Kai Media prefers Thursday deliveries", CreatedAt: now.AddDate(0, 0, -10)},
		{MemoryID: 2, Kind: models.MemorySemantic, Text: "Kai Media prefers Friday deliveries", CreatedAt: now},
	}

	facts := memoryConflicts(memories)

	require.Len(t, facts, 1)
	assert.Equal(t, models.FactMemoryConflicts, facts[0].Table)
	assert.Equal(t, "kai media", facts[0].Data["customer"])
	assert.Equal(t, "most_recent", facts[0].Data["resolution"])
}

func TestMemoryConflicts_DifferentCustomersDoNotConflict(t *testing.T) {
	now := time.Now().UTC()
	memories := []models.MemoryRetrievalResult{
		{MemoryID: 1, Kind: models.MemorySemantic, Text: "Kai Media prefers Thursday deliveries", CreatedAt: now},
		{MemoryID: 2, Kind: models.MemorySemantic, Text: "TC Boiler prefers Friday deliveries", CreatedAt: now},
	}

	assert.Empty(t, memoryConflicts(memories))
}

func TestRetrieveContext_SummaryPriority(t *testing.T) {
	svc, _, fake := newTestRetrieval(t)
	ctx := context.Background()
	vec := embedding.FallbackVector("tc boiler terms")

	// A summary whose embedding matches the query exactly short-circuits
	// normal memory retrieval.
	_, err := fake.UpsertSummary(ctx, models.MemorySummary{
		UserID:        "u1",
		SessionWindow: 3,
		Summary:       "Tc Boiler: Terms: NET15; Preferences: ACH payments",
		Embedding:     vec,
	})
	require.NoError(t, err)

	rc, err := svc.RetrieveContext(ctx, "what are the terms again?", vec, "u1", uuid.New(), 10)
	require.NoError(t, err)

	require.Len(t, rc.Memories, 1)
	assert.Contains(t, rc.Memories[0].Text, "NET15")
	assert.Equal(t, 1.0, rc.Memories[0].Importance)
}

func TestBuildPrompt(t *testing.T) {
	svc, _, _ := newTestRetrieval(t)

	rc := models.RetrievalContext{
		Memories: []models.MemoryRetrievalResult{
			{Text: "TC Boiler is NET15"},
		},
		DomainFacts: []models.DomainFact{
			{Table: "customers", Data: map[string]any{"name": "TC Boiler"}},
		},
	}

	pc := svc.BuildPrompt(context.Background(), "what are TC Boiler's terms?", rc, nil)

	assert.Contains(t, pc.SystemPrompt, "NEVER repeat or display personal information")
	assert.Contains(t, pc.SystemPrompt, "Database information:")
	assert.Contains(t, pc.SystemPrompt, "TC Boiler is NET15")
	assert.Contains(t, pc.SystemPrompt, "DATABASE PRIORITY RULES")
	assert.Contains(t, pc.SystemPrompt, "still accurate?")
	assert.Equal(t, "what are TC Boiler's terms?", pc.UserMessage)
}

func TestBuildPrompt_PolicyReminders(t *testing.T) {
	svc, memories, fake := newTestRetrieval(t)
	ctx := context.Background()

	// Make INV-2010 due within the reminder horizon.
	for i := range fake.InvoiceRows {
		if fake.InvoiceRows[i].InvoiceNumber == "INV-2010" {
			fake.InvoiceRows[i].DueDate = time.Now().UTC().Add(48 * time.Hour)
		}
	}

	_, err := memories.Create(ctx, memory.CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "Remind me about invoices due within 3 days", Importance: 0.9,
	})
	require.NoError(t, err)

	pc := svc.BuildPrompt(ctx, "any reminders?", models.RetrievalContext{}, nil)

	assert.Contains(t, pc.SystemPrompt, "ACTIVE REMINDERS:")
	assert.Contains(t, pc.SystemPrompt, "INV-2010")
}

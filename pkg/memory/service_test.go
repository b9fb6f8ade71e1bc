package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store/storetest"
)

func newTestMemoryService(t *testing.T) (*Service, *storetest.Fake) {
	t.Helper()
	fake := storetest.New()
	return NewService(fake, fake), fake
}

func unitVec(dims ...float32) []float32 {
	vec := make([]float32, models.EmbeddingDim)
	copy(vec, dims)
	return vec
}

func TestCreate_DedupIdempotent(t *testing.T) {
	svc, fake := newTestMemoryService(t)
	ctx := context.Background()
	sessionID := uuid.New()

	first, err := svc.Create(ctx, CreateParams{
		SessionID: sessionID, UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "Work order rescheduled", Importance: 0.5,
	})
	require.NoError(t, err)

	second, err := svc.Create(ctx, CreateParams{
		SessionID: sessionID, UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "Work order rescheduled", Importance: 0.8,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "second create must return the first row")
	assert.Len(t, fake.MemoryRows, 1)
	assert.Equal(t, 0.8, fake.MemoryRows[0].Importance, "importance is max(old,new)")

	// A lower importance does not lower the stored value.
	third, err := svc.Create(ctx, CreateParams{
		SessionID: sessionID, UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "Work order rescheduled", Importance: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 0.8, fake.MemoryRows[0].Importance)
}

func TestCreate_EpisodicDefaultTTL(t *testing.T) {
	svc, _ := newTestMemoryService(t)

	mem, err := svc.Create(context.Background(), CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "Invoice draft sent", Importance: 0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, mem.TTLDays)
	assert.Equal(t, models.DefaultEpisodicTTLDays, *mem.TTLDays)
}

func TestCreate_SemanticIsPermanent(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ttl := 30

	mem, err := svc.Create(context.Background(), CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "TC Boiler is NET15", Importance: 0.9, TTLDays: &ttl,
	})
	require.NoError(t, err)
	assert.Nil(t, mem.TTLDays, "semantic memories are permanent regardless of requested ttl")
}

func TestCreate_SemanticGlobalDedup(t *testing.T) {
	svc, fake := newTestMemoryService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "Kai Media prefers Friday deliveries for all shipments", Importance: 0.8,
	})
	require.NoError(t, err)

	// Same text from a different session dedupes globally.
	_, err = svc.Create(ctx, CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "Kai Media prefers Friday deliveries for all shipments", Importance: 0.9,
	})
	require.NoError(t, err)

	assert.Len(t, fake.MemoryRows, 1)
	assert.Equal(t, 0.9, fake.MemoryRows[0].Importance)
}

func TestCreate_ImportanceClamped(t *testing.T) {
	svc, _ := newTestMemoryService(t)

	mem, err := svc.Create(context.Background(), CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "clamp me", Importance: 1.7,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, mem.Importance)
}

func TestSimilarText(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "TC Boiler is NET15", "tc boiler is net15", true},
		{"containment", "Kai Media prefers Friday deliveries", "Kai Media prefers Friday deliveries for all shipments", true},
		{"short strings no containment", "a b", "a b c d e f", false},
		{"high overlap", "kai media prefers friday deliveries always", "kai media prefers friday deliveries", true},
		{"distinct", "TC Boiler is NET15", "Gai Media ships on Monday", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, similarText(tt.a, tt.b))
		})
	}
}

func TestRetrieve_CrossSession(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()
	vec := unitVec(1)

	_, err := svc.Create(ctx, CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "TC Boiler is NET15", Embedding: vec, Importance: 0.9,
	})
	require.NoError(t, err)

	// Query from a completely different session: memories are user-scoped.
	results, err := svc.Retrieve(ctx, vec, RetrieveParams{UserID: "u1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "TC Boiler is NET15", results[0].Text)

	// Another user sees nothing.
	other, err := svc.Retrieve(ctx, vec, RetrieveParams{UserID: "u2", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRetrieve_RecencyMonotonicity(t *testing.T) {
	svc, fake := newTestMemoryService(t)
	ctx := context.Background()
	vec := unitVec(1)

	old, err := svc.Create(ctx, CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "older preference", Embedding: vec, Importance: 0.9,
	})
	require.NoError(t, err)
	// Age the first row directly in the fake.
	for i := range fake.MemoryRows {
		if fake.MemoryRows[i].ID == old.ID {
			fake.MemoryRows[i].CreatedAt = time.Now().UTC().AddDate(0, 0, -200)
		}
	}

	_, err = svc.Create(ctx, CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemorySemantic,
		Text: "newer preference", Embedding: vec, Importance: 0.9,
	})
	require.NoError(t, err)

	results, err := svc.Retrieve(ctx, vec, RetrieveParams{UserID: "u1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer preference", results[0].Text,
		"identical embedding and importance: newer memory must score at least as high")
}

func TestRetrieve_ExpiredExcluded(t *testing.T) {
	svc, fake := newTestMemoryService(t)
	ctx := context.Background()
	vec := unitVec(1)
	ttl := 30

	mem, err := svc.Create(ctx, CreateParams{
		SessionID: uuid.New(), UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "expired note", Embedding: vec, Importance: 0.9, TTLDays: &ttl,
	})
	require.NoError(t, err)
	for i := range fake.MemoryRows {
		if fake.MemoryRows[i].ID == mem.ID {
			fake.MemoryRows[i].CreatedAt = time.Now().UTC().AddDate(0, 0, -31)
		}
	}

	results, err := svc.Retrieve(ctx, vec, RetrieveParams{UserID: "u1", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecencyWeight(t *testing.T) {
	now := time.Now().UTC()
	assert.InDelta(t, 1.0, RecencyWeight(now, now), 0.01)
	assert.InDelta(t, 0.5, RecencyWeight(now.AddDate(0, 0, -182), now), 0.01)
	assert.Equal(t, 0.1, RecencyWeight(now.AddDate(-3, 0, 0), now), "weight floors at 0.1")
}

func TestAnnotate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name string
		in   models.MemoryRetrievalResult
		want string
	}{
		{
			"stale preference",
			models.MemoryRetrievalResult{Text: "Customer prefers Friday delivery", CreatedAt: now.AddDate(0, 0, -100)},
			"[Note: this preference is 100 days old]",
		},
		{
			"sla risk",
			models.MemoryRetrievalResult{Text: "Shipping SLA breach risk for Gai Media", CreatedAt: now},
			"[Note: This involves SLA risk]",
		},
		{
			"completed task",
			models.MemoryRetrievalResult{Text: "Digital packaging marked done", CreatedAt: now},
			"[Note: This task is completed]",
		},
		{
			"invoice reminder",
			models.MemoryRetrievalResult{Text: "Remind about invoice due dates", CreatedAt: now},
			"[Note: This involves invoice reminders]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Annotate([]models.MemoryRetrievalResult{tt.in}, now)
			assert.Contains(t, out[0].Text, tt.want)
		})
	}
}

func TestAnnotate_DoesNotMutateInput(t *testing.T) {
	now := time.Now().UTC()
	in := []models.MemoryRetrievalResult{{Text: "task done", CreatedAt: now}}

	Annotate(in, now)

	assert.Equal(t, "task done", in[0].Text, "annotation must be a pure derivation")
}

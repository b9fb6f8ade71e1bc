package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
	"github.com/threadline-ai/mnemos/pkg/store/storetest"
)

type fallbackEmbedder struct{}

func (fallbackEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return embedding.FallbackVector(text), nil
}

func (f fallbackEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.EmbedText(ctx, t)
	}
	return out, nil
}

func newTestConsolidator(t *testing.T) (*Consolidator, *Service, *storetest.Fake) {
	t.Helper()
	fake := storetest.New()
	svc := NewService(fake, fake)
	return NewConsolidator(svc, fake, fallbackEmbedder{}), svc, fake
}

func seedMemory(t *testing.T, svc *Service, userID, text string, kind models.MemoryKind) models.Memory {
	t.Helper()
	mem, err := svc.Create(context.Background(), CreateParams{
		SessionID:  uuid.New(),
		UserID:     userID,
		Kind:       kind,
		Text:       text,
		Importance: 0.8,
	})
	require.NoError(t, err)
	return mem
}

func TestConsolidate_PerCustomerSummary(t *testing.T) {
	cons, svc, fake := newTestConsolidator(t)
	ctx := context.Background()

	seedMemory(t, svc, "u1", "TC Boiler is NET15 and agreed ACH", models.MemorySemantic)
	seedMemory(t, svc, "u1", "TC Boiler set up a $500/month payment plan", models.MemorySemantic)
	seedMemory(t, svc, "u1", "TC Boiler requested a rush work order for SO-2002", models.MemorySemantic)

	sum, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, true)
	require.NoError(t, err)
	require.NotNil(t, sum)

	assert.Contains(t, sum.Summary, "Tc Boiler:")
	assert.Contains(t, sum.Summary, "NET15")
	assert.Contains(t, sum.Summary, "ACH")
	assert.Contains(t, sum.Summary, "$500/month")
	assert.Contains(t, sum.Summary, "SO-2002")

	require.Len(t, fake.SummaryRows, 1)
	assert.Equal(t, DefaultSessionWindow, fake.SummaryRows[0].SessionWindow)
	assert.NotEmpty(t, fake.SummaryRows[0].Embedding)
}

func TestConsolidate_UpsertsPerUserWindow(t *testing.T) {
	cons, svc, fake := newTestConsolidator(t)
	ctx := context.Background()

	seedMemory(t, svc, "u1", "Kai Media prefers Friday deliveries", models.MemorySemantic)

	first, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, true)
	require.NoError(t, err)

	seedMemory(t, svc, "u1", "Kai Media agreed ACH", models.MemorySemantic)

	second, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, true)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "summary is upserted per (user, window)")
	assert.Len(t, fake.SummaryRows, 1)
}

func TestConsolidate_NoMemoriesIsNotFound(t *testing.T) {
	cons, _, _ := newTestConsolidator(t)

	_, err := cons.Consolidate(context.Background(), "nobody", DefaultSessionWindow, true)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestConsolidate_NoTriggerSkips(t *testing.T) {
	cons, svc, fake := newTestConsolidator(t)
	ctx := context.Background()

	seedMemory(t, svc, "u1", "User said: good morning", models.MemoryEpisodic)

	sum, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, false)
	require.NoError(t, err)
	assert.Nil(t, sum, "no trigger condition holds")
	assert.Empty(t, fake.SummaryRows)
}

func TestConsolidate_ForceTokenTriggers(t *testing.T) {
	cons, svc, _ := newTestConsolidator(t)
	ctx := context.Background()

	seedMemory(t, svc, "u1", "Kai Media asked for an update", models.MemorySemantic)

	sum, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, false)
	require.NoError(t, err)
	assert.NotNil(t, sum, "customer force token must trigger consolidation")
}

func TestConsolidate_TaskCompletionTriggers(t *testing.T) {
	cons, svc, _ := newTestConsolidator(t)
	ctx := context.Background()

	seedMemory(t, svc, "u1", "The migration job was marked as done", models.MemoryEpisodic)

	sum, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, false)
	require.NoError(t, err)
	assert.NotNil(t, sum)
}

func TestConsolidate_StalePreferenceTriggers(t *testing.T) {
	cons, svc, fake := newTestConsolidator(t)
	ctx := context.Background()

	mem := seedMemory(t, svc, "u1", "Gai Media prefers morning slots", models.MemorySemantic)
	for i := range fake.MemoryRows {
		if fake.MemoryRows[i].ID == mem.ID {
			fake.MemoryRows[i].Importance = 0.5 // weakly held preference
		}
	}

	sum, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, false)
	require.NoError(t, err)
	assert.NotNil(t, sum)
}

func TestConsolidate_PromotesRecurringEpisodicPatterns(t *testing.T) {
	cons, svc, fake := newTestConsolidator(t)
	ctx := context.Background()

	seedMemory(t, svc, "u1", "Kai Media prefers friday pickups this week", models.MemoryEpisodic)
	seedMemory(t, svc, "u1", "Noted again that Kai Media prefers friday pickups", models.MemoryEpisodic)

	_, err := cons.Consolidate(ctx, "u1", DefaultSessionWindow, true)
	require.NoError(t, err)

	var promoted []models.Memory
	for _, m := range fake.MemoryRows {
		if m.Kind == models.MemorySemantic {
			promoted = append(promoted, m)
		}
	}
	require.NotEmpty(t, promoted, "recurring episodic preference must be promoted to semantic")
	assert.Nil(t, promoted[0].TTLDays)
	assert.Contains(t, promoted[0].Text, "prefers")
}

func TestCustomerNameIn(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"tc boiler is net15", "tc boiler"},
		{"invoice for kai media europe", "kai media europe"},
		{"ask kai about the album", "kai media"},
		{"tc confirmed", "tc boiler"},
		{"watch the match", ""}, // "tc" must not match inside words
		{"unrelated text", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, CustomerNameIn(tt.text))
		})
	}
}

func TestIsStalePreference(t *testing.T) {
	now := time.Now().UTC()

	old := models.Memory{Kind: models.MemorySemantic, Text: "customer prefers friday", Importance: 0.9,
		CreatedAt: now.AddDate(0, 0, -100)}
	assert.True(t, isStalePreference(old, now))

	weak := models.Memory{Kind: models.MemorySemantic, Text: "customer prefers friday", Importance: 0.5,
		CreatedAt: now}
	assert.True(t, isStalePreference(weak, now))

	fresh := models.Memory{Kind: models.MemorySemantic, Text: "customer prefers friday", Importance: 0.9,
		CreatedAt: now}
	assert.False(t, isStalePreference(fresh, now))

	episodic := models.Memory{Kind: models.MemoryEpisodic, Text: "customer prefers friday", Importance: 0.5,
		CreatedAt: now}
	assert.False(t, episodic.Kind == models.MemorySemantic && isStalePreference(episodic, now))
}

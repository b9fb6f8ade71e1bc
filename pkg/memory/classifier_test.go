package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store/storetest"
)

// stubCompleter returns a fixed completion or error.
type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) GenerateResponse(_ context.Context, pc models.PromptContext) (models.LLMResponse, error) {
	if s.err != nil {
		return models.LLMResponse{}, s.err
	}
	return models.LLMResponse{Content: s.reply}, nil
}

func (s stubCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return s.reply, s.err
}

func TestClassify_ForceSemanticRememberColon(t *testing.T) {
	c := NewClassifier(stubCompleter{err: errors.New("provider down")}, storetest.Seeded())

	cm := c.Classify(context.Background(), "Remember: always ship before noon")

	assert.Equal(t, models.MemorySemantic, cm.Kind)
	assert.Equal(t, CategoryKnowledge, cm.Category)
	assert.Equal(t, 0.9, cm.Importance)
	assert.Nil(t, cm.TTLDays, "force-semantic memories are permanent")
}

func TestClassify_ForceSemanticCustomerName(t *testing.T) {
	c := NewClassifier(stubCompleter{err: errors.New("provider down")}, storetest.Seeded())

	cm := c.Classify(context.Background(), "TC Boiler moved to the new schedule")

	assert.Equal(t, models.MemorySemantic, cm.Kind)
	assert.Nil(t, cm.TTLDays)
}

func TestClassify_LLMJSONParsed(t *testing.T) {
	c := NewClassifier(stubCompleter{
		reply: `Here is my analysis: {"category":"ACTION","kind":"episodic","importance":0.8,"ttl_days":30,"reasoning":"operation performed","confidence":0.95}`,
	}, storetest.Seeded())

	cm := c.Classify(context.Background(), "Drafted the follow-up email")

	assert.Equal(t, CategoryAction, cm.Category)
	assert.Equal(t, models.MemoryEpisodic, cm.Kind)
	assert.Equal(t, 0.8, cm.Importance)
	require.NotNil(t, cm.TTLDays)
	assert.Equal(t, 30, *cm.TTLDays)
	assert.Equal(t, 0.95, cm.Confidence)
}

func TestClassify_MalformedJSONFallsBackToKeywords(t *testing.T) {
	c := NewClassifier(stubCompleter{reply: "not json at all"}, storetest.Seeded())

	cm := c.Classify(context.Background(), "Drafted and sent the email")

	assert.Equal(t, CategoryAction, cm.Category)
	assert.Equal(t, models.MemoryEpisodic, cm.Kind)
	require.NotNil(t, cm.TTLDays)
	assert.Equal(t, models.DefaultEpisodicTTLDays, *cm.TTLDays)
}

func TestClassify_KeywordTieGoesToAction(t *testing.T) {
	c := NewClassifier(stubCompleter{err: errors.New("down")}, storetest.New())

	cm := c.Classify(context.Background(), "nothing recognizable here")

	assert.Equal(t, CategoryAction, cm.Category)
	assert.Equal(t, models.MemoryEpisodic, cm.Kind)
}

func TestClassify_KeywordKnowledgeWins(t *testing.T) {
	c := NewClassifier(stubCompleter{err: errors.New("down")}, storetest.New())

	cm := c.Classify(context.Background(), "the customer usually pays by credit card per policy")

	assert.Equal(t, CategoryKnowledge, cm.Category)
	assert.Equal(t, models.MemorySemantic, cm.Kind)
	assert.Nil(t, cm.TTLDays)
}

func TestImplicitPreference(t *testing.T) {
	c := NewClassifier(stubCompleter{err: errors.New("down")}, storetest.Seeded())
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"reschedule friday",
			"Please reschedule Kai Media's pick-pack work order to Friday; keep Alex.",
			"Kai Media prefers Friday; align WO scheduling accordingly.",
		},
		{
			"prefer friday",
			"Kai Media prefer Friday slots",
			"Kai Media prefers Friday deliveries for all shipments.",
		},
		{
			"net terms",
			"TC Boiler is NET15 going forward",
			"TC Boiler is NET15; align payment terms accordingly.",
		},
		{"no customer", "reschedule everything to friday", ""},
		{"no pattern", "Kai Media called about the album art", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ImplicitPreference(ctx, tt.text))
		})
	}
}

func TestClassificationStats(t *testing.T) {
	stats := ClassificationStats([]ClassifiedMemory{
		{Category: CategoryAction, Kind: models.MemoryEpisodic, Confidence: 0.6},
		{Category: CategoryKnowledge, Kind: models.MemorySemantic, Confidence: 0.8},
		{Category: CategoryKnowledge, Kind: models.MemorySemantic, Confidence: 1.0},
	})

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ActionCount)
	assert.Equal(t, 2, stats.KnowledgeCount)
	assert.Equal(t, 1, stats.EpisodicCount)
	assert.Equal(t, 2, stats.SemanticCount)
	assert.InDelta(t, 0.8, stats.AvgConfidence, 1e-9)
}

package disambig

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/mnemos/pkg/alias"
	"github.com/threadline-ai/mnemos/pkg/embedding"
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

func newTestDisambig(t *testing.T) (*Service, *alias.Service, *storetest.Fake) {
	t.Helper()
	fake := storetest.Seeded()
	aliases := alias.NewService(fake, stubEmbedder{})
	return NewService(fake, aliases), aliases, fake
}

func candidate(name, confidence string) models.Entity {
	return models.Entity{
		Name: name,
		Type: models.EntityCustomer,
		ExternalRef: &models.ExternalRef{
			Table:      "domain.customers",
			ID:         uuid.New().String(),
			Confidence: confidence,
		},
	}
}

func TestDecide_NoCandidates(t *testing.T) {
	svc, _, _ := newTestDisambig(t)

	res, err := svc.Decide(context.Background(), nil, nil, "hello", uuid.New(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Needed)
	assert.Nil(t, res.Selected)
}

func TestDecide_SingleCandidateSelected(t *testing.T) {
	svc, _, _ := newTestDisambig(t)
	c := candidate("Kai Media", models.ConfidenceExact)

	res, err := svc.Decide(context.Background(), []models.Entity{c}, nil, "kai media order", uuid.New(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Needed)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "Kai Media", res.Selected.Name)
}

func TestDecide_ScoreGapAutoSelects(t *testing.T) {
	svc, _, _ := newTestDisambig(t)
	candidates := []models.Entity{
		candidate("Kai Media", models.ConfidenceExact),  // 1.0
		candidate("Gai Media", models.ConfidenceFuzzy),  // 0.8
	}

	res, err := svc.Decide(context.Background(), candidates, nil, "kai media", uuid.New(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Needed)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "Kai Media", res.Selected.Name)
}

func TestDecide_CloseScoresNeedClarification(t *testing.T) {
	svc, _, _ := newTestDisambig(t)
	candidates := []models.Entity{
		candidate("Kai Media", models.ConfidenceFuzzy),
		candidate("Kai Media Europe", models.ConfidenceFuzzy),
	}

	res, err := svc.Decide(context.Background(), candidates, nil, "kai order", uuid.New(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Needed)
	assert.Len(t, res.Candidates, 2)
	assert.Len(t, res.Scores, 2)
}

func TestClarificationPrompt(t *testing.T) {
	prompt := ClarificationPrompt([]models.Entity{
		candidate("Kai Media", models.ConfidenceFuzzy),
		candidate("Kai Media Europe", models.ConfidenceFuzzy),
	})

	assert.Contains(t, prompt, "1. Kai Media\n")
	assert.Contains(t, prompt, "2. Kai Media Europe\n")
	assert.Contains(t, prompt, "Please respond with the number or name")
}

func clarificationHistory() []models.ChatMessage {
	now := time.Now().UTC()
	return []models.ChatMessage{
		{Role: models.RoleUser, Content: "What's the status of Kai's order?", Timestamp: now.Add(-time.Minute)},
		{Role: models.RoleAssistant, Content: ClarificationPrompt([]models.Entity{
			candidate("Kai Media", models.ConfidenceFuzzy),
			candidate("Kai Media Europe", models.ConfidenceFuzzy),
		}), Timestamp: now},
	}
}

func TestDecide_ClarificationByOrdinal(t *testing.T) {
	svc, _, _ := newTestDisambig(t)
	candidates := []models.Entity{
		candidate("Kai Media", models.ConfidenceFuzzy),
		candidate("Kai Media Europe", models.ConfidenceFuzzy),
	}

	res, err := svc.Decide(context.Background(), candidates, clarificationHistory(), "1", uuid.New(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Needed)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "Kai Media", res.Selected.Name)
}

func TestDecide_ClarificationByName(t *testing.T) {
	svc, _, _ := newTestDisambig(t)
	candidates := []models.Entity{
		candidate("Kai Media", models.ConfidenceFuzzy),
		candidate("Kai Media Europe", models.ConfidenceFuzzy),
	}

	res, err := svc.Decide(context.Background(), candidates, clarificationHistory(), "kai media europe", uuid.New(), "u1")
	require.NoError(t, err)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "Kai Media Europe", res.Selected.Name)
}

func TestDecide_ClarificationDefaultsToFirst(t *testing.T) {
	svc, _, _ := newTestDisambig(t)
	candidates := []models.Entity{
		candidate("Kai Media", models.ConfidenceFuzzy),
		candidate("Kai Media Europe", models.ConfidenceFuzzy),
	}

	res, err := svc.Decide(context.Background(), candidates, clarificationHistory(), "whichever", uuid.New(), "u1")
	require.NoError(t, err)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "Kai Media", res.Selected.Name)
}

// After a clarification choice, the raw reply becomes an alias that resolves
// without further disambiguation.
func TestDecide_ClarificationStoresAliasRoundTrip(t *testing.T) {
	svc, aliases, _ := newTestDisambig(t)
	ctx := context.Background()
	sessionID := uuid.New()
	candidates := []models.Entity{
		candidate("Kai Media", models.ConfidenceFuzzy),
		candidate("Kai Media Europe", models.ConfidenceFuzzy),
	}

	res, err := svc.Decide(ctx, candidates, clarificationHistory(), "1", sessionID, "u1")
	require.NoError(t, err)
	require.NotNil(t, res.Selected)

	match, err := aliases.ExactMatch(ctx, "u1", "1")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Kai Media", match.EntityName)
}

// When the clarification turn extracted no entities, candidates are
// recovered from the enumerated prompt in history.
func TestDecide_ClarificationRecoversCandidatesFromPrompt(t *testing.T) {
	svc, _, _ := newTestDisambig(t)

	res, err := svc.Decide(context.Background(), nil, clarificationHistory(), "2", uuid.New(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Needed)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "Kai Media Europe", res.Selected.Name)
	require.NotNil(t, res.Selected.ExternalRef)
	assert.Equal(t, storetest.KaiMediaEuropeID.String(), res.Selected.ExternalRef.ID)
}

func TestParseSelection_WordOverlap(t *testing.T) {
	candidates := []models.Entity{
		candidate("Kai Media", models.ConfidenceFuzzy),
		candidate("TC Boiler", models.ConfidenceFuzzy),
	}

	selected := parseSelection("the boiler one please", candidates)
	assert.Equal(t, "TC Boiler", selected.Name)
}

func TestIsClarificationReply(t *testing.T) {
	assert.False(t, isClarificationReply(nil))
	assert.False(t, isClarificationReply([]models.ChatMessage{
		{Role: models.RoleAssistant, Content: "Here's the status of SO-1001."},
		{Role: models.RoleUser, Content: "thanks"},
	}))
	assert.True(t, isClarificationReply(clarificationHistory()))
}

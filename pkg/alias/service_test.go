package alias

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store/storetest"
)

// stubEmbedder produces deterministic vectors without a provider.
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

func newTestService(t *testing.T) (*Service, *storetest.Fake) {
	t.Helper()
	fake := storetest.New()
	return NewService(fake, stubEmbedder{}), fake
}

func TestStoreAliasAndExactMatch(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	sessionID := uuid.New()

	err := svc.StoreAlias(ctx, "u1", "Kai", "Kai Media", "id-123", sessionID)
	require.NoError(t, err)

	match, err := svc.ExactMatch(ctx, "u1", "Kai")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Kai Media", match.EntityName)
	assert.Equal(t, "id-123", match.EntityID)
	assert.Equal(t, models.ConfidenceExact, match.Confidence)

	// Alias rows are semantic memories with a typed external ref.
	require.Len(t, fake.MemoryRows, 1)
	mem := fake.MemoryRows[0]
	assert.Equal(t, models.MemorySemantic, mem.Kind)
	assert.Nil(t, mem.TTLDays)
	assert.Equal(t, models.RefAliasMapping, mem.ExternalRef.Type)
	assert.Equal(t, "kai", mem.ExternalRef.AliasText)
}

func TestExactMatch_CaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.StoreAlias(ctx, "u1", "KAI", "Kai Media", "id-123", uuid.New()))

	match, err := svc.ExactMatch(ctx, "u1", "kai")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Kai Media", match.EntityName)
}

func TestExactMatch_ScopedPerUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.StoreAlias(ctx, "u1", "Kai", "Kai Media", "id-123", uuid.New()))

	match, err := svc.ExactMatch(ctx, "u2", "Kai")
	require.NoError(t, err)
	assert.Nil(t, match, "aliases must not leak across users")
}

func TestStoreAlias_IdempotentPerUserAndText(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	sessionID := uuid.New()

	require.NoError(t, svc.StoreAlias(ctx, "u1", "Kai", "Kai Media", "id-123", sessionID))
	require.NoError(t, svc.StoreAlias(ctx, "u1", "kai", "Kai Media", "id-123", sessionID))

	assert.Len(t, fake.MemoryRows, 1, "one row per (user, lowercased alias)")
}

func TestStoreAlias_EmptyTextRejected(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.StoreAlias(context.Background(), "u1", "  ", "Kai Media", "id-123", uuid.New())
	assert.Error(t, err)
}

func TestMultilingualRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.StoreMultilingual(ctx, "u1", "凯媒体", "Kai Media", uuid.New()))

	assert.Equal(t, "Kai Media", svc.Translate(ctx, "u1", "凯媒体"))
	assert.Equal(t, "unknown text", svc.Translate(ctx, "u1", "unknown text"))
	assert.Equal(t, "凯媒体", svc.Translate(ctx, "u2", "凯媒体"), "translations are per user")
}

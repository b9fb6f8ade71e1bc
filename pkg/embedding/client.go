// Package embedding produces fixed-dimension vectors for text via the
// OpenAI embeddings API, degrading to deterministic pseudo-vectors when the
// provider is unavailable so retrieval keeps working.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// batchSize is the provider's per-request input cap.
const batchSize = 100

// Embedder is the narrow interface the pipeline depends on.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is the OpenAI-backed Embedder.
type Client struct {
	sdk   openai.Client
	model string
}

var _ Embedder = (*Client)(nil)

// NewClient creates an embedding client for the given model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		sdk:   openai.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// EmbedText produces a 1536-dimension vector for one string. On provider
// failure it falls back to a deterministic hash-seeded pseudo-vector and
// logs the degradation.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		slog.Error("Embedding failed, using fallback vector", "error", err)
		return FallbackVector(text), nil
	}
	return vecs[0], nil
}

// EmbedTexts embeds up to batchSize strings per provider call. Failed batches
// fall back per-text rather than failing the whole request.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := c.embedBatch(ctx, batch)
		if err != nil {
			slog.Error("Embedding batch failed, using fallback vectors",
				"batch_start", start, "batch_size", len(batch), "error", err)
			for _, t := range batch {
				out = append(out, FallbackVector(t))
			}
			continue
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: openai.Int(models.EmbeddingDim),
	})
	if err != nil {
		return nil, &store.ProviderError{Provider: "embedding", Op: "embeddings.create", Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &store.ProviderError{Provider: "embedding", Op: "embeddings.create",
			Err: errShortResponse}
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

var errShortResponse = &shortResponseError{}

type shortResponseError struct{}

func (*shortResponseError) Error() string { return "embedding count does not match input count" }

// FallbackVector derives a deterministic unit vector from the text's SHA-256
// digest. Identical text always maps to the same vector, so dedup and
// similarity remain stable while the provider is down.
func FallbackVector(text string) []float32 {
	vec := make([]float32, models.EmbeddingDim)
	seed := sha256.Sum256([]byte(text))

	var norm float64
	block := seed[:]
	for i := 0; i < models.EmbeddingDim; i++ {
		if i%8 == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1]
		v := float64(bits)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

// Package memory implements the typed memory subsystem: creation with
// deduplication, similarity retrieval with importance and recency weighting,
// classification of utterances, and long-term consolidation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// retrievalOversample is how many nearest neighbors are pulled before
// importance/recency re-ranking trims to the requested limit.
const retrievalOversample = 5

// CreateParams describes one memory to persist. Text must already be
// PII-masked by the caller.
type CreateParams struct {
	SessionID  uuid.UUID
	UserID     string
	Kind       models.MemoryKind
	Text       string
	Embedding  []float32
	Importance float64
	TTLDays    *int
}

// Service manages typed memories on top of the persistence layer.
type Service struct {
	memories  store.MemoryStore
	summaries store.SummaryStore
}

// NewService creates a memory service.
func NewService(memories store.MemoryStore, summaries store.SummaryStore) *Service {
	return &Service{memories: memories, summaries: summaries}
}

// Create persists a memory with deduplication. An exact-text duplicate
// within the session returns the existing row, raising its importance to the
// max of old and new. Semantic memories also dedupe globally against similar
// text. Episodic memories default to a 30-day TTL.
func (s *Service) Create(ctx context.Context, p CreateParams) (models.Memory, error) {
	if p.Text == "" {
		return models.Memory{}, store.NewValidationError("text", "required")
	}
	p.Importance = clamp01(p.Importance)
	if p.Kind == models.MemoryEpisodic && p.TTLDays == nil {
		ttl := models.DefaultEpisodicTTLDays
		p.TTLDays = &ttl
	}
	if p.Kind == models.MemorySemantic {
		p.TTLDays = nil
	}

	existing, err := s.memories.MemoryByExactText(ctx, p.SessionID, p.Text)
	if err == nil {
		return s.raiseImportance(ctx, existing, p.Importance)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Memory{}, fmt.Errorf("failed to check duplicate memory: %w", err)
	}

	if p.Kind == models.MemorySemantic {
		if dup, found, err := s.findSimilarSemantic(ctx, p.Text); err != nil {
			return models.Memory{}, err
		} else if found {
			return s.raiseImportance(ctx, dup, p.Importance)
		}
	}

	mem := models.Memory{
		SessionID:  p.SessionID,
		UserID:     p.UserID,
		Kind:       p.Kind,
		Text:       p.Text,
		Embedding:  p.Embedding,
		Importance: p.Importance,
		TTLDays:    p.TTLDays,
	}
	created, err := s.memories.InsertMemory(ctx, mem)
	if err != nil {
		return models.Memory{}, fmt.Errorf("failed to create memory: %w", err)
	}
	return created, nil
}

func (s *Service) raiseImportance(ctx context.Context, existing models.Memory, importance float64) (models.Memory, error) {
	if importance > existing.Importance {
		if err := s.memories.UpdateMemoryImportance(ctx, existing.ID, importance); err != nil {
			return models.Memory{}, fmt.Errorf("failed to raise memory importance: %w", err)
		}
		existing.Importance = importance
	}
	return existing, nil
}

// findSimilarSemantic looks for an existing semantic memory similar enough
// to count as a duplicate. Candidates are narrowed by a shared text prefix.
func (s *Service) findSimilarSemantic(ctx context.Context, text string) (models.Memory, bool, error) {
	prefix := text
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	candidates, err := s.memories.SemanticMemoriesContaining(ctx, prefix)
	if err != nil {
		return models.Memory{}, false, fmt.Errorf("failed to query similar memories: %w", err)
	}
	for _, c := range candidates {
		if similarText(text, c.Text) {
			return c, true, nil
		}
	}
	return models.Memory{}, false, nil
}

// similarText reports near-duplicate memory text: equality, containment for
// strings over 20 chars, or word-set Jaccard similarity above 0.8.
func similarText(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	if len(a) > 20 && len(b) > 20 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}

	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return false
	}
	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}
	overlap := 0
	for w := range setA {
		if setB[w] {
			overlap++
		}
	}
	union := len(setA) + len(setB) - overlap
	return union > 0 && float64(overlap)/float64(union) > 0.8
}

// RetrieveParams narrows a retrieval call. SessionID is intentionally absent:
// retrieval is cross-session within a user.
type RetrieveParams struct {
	UserID string
	Kind   models.MemoryKind // optional
	Limit  int
}

// Retrieve returns the user's memories ranked by
// similarity × importance × recency. Expired memories are excluded.
func (s *Service) Retrieve(ctx context.Context, queryVec []float32, p RetrieveParams) ([]models.MemoryRetrievalResult, error) {
	if p.Limit <= 0 {
		p.Limit = 10
	}
	scored, err := s.memories.NearestMemories(ctx, p.UserID, queryVec, p.Limit*retrievalOversample)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve memories: %w", err)
	}

	now := time.Now().UTC()
	results := make([]models.MemoryRetrievalResult, 0, len(scored))
	for _, sm := range scored {
		if p.Kind != "" && sm.Kind != p.Kind {
			continue
		}
		score := sm.Similarity * sm.Importance * RecencyWeight(sm.CreatedAt, now)
		results = append(results, models.MemoryRetrievalResult{
			MemoryID:   sm.ID,
			Text:       sm.Text,
			Kind:       sm.Kind,
			Similarity: score,
			Importance: sm.Importance,
			CreatedAt:  sm.CreatedAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > p.Limit {
		results = results[:p.Limit]
	}
	return results, nil
}

// RecencyWeight decays linearly over a year with a 0.1 floor.
func RecencyWeight(createdAt, now time.Time) float64 {
	days := now.Sub(createdAt).Hours() / 24
	return math.Max(0.1, 1-days/365)
}

// MarkForDecay lowers a memory's importance when it has been contradicted by
// database truth.
func (s *Service) MarkForDecay(ctx context.Context, memoryID int64) {
	mem, err := s.memories.MemoryByID(ctx, memoryID)
	if err != nil {
		slog.Error("Failed to load memory for decay", "memory_id", memoryID, "error", err)
		return
	}
	lowered := clamp01(mem.Importance * 0.5)
	if err := s.memories.UpdateMemoryImportance(ctx, memoryID, lowered); err != nil {
		slog.Error("Failed to decay memory", "memory_id", memoryID, "error", err)
	}
}

// UserMemories returns the user's newest unexpired memories plus summaries.
func (s *Service) UserMemories(ctx context.Context, userID string, limit int) ([]models.Memory, []models.MemorySummary, error) {
	if limit <= 0 {
		limit = 10
	}
	memories, err := s.memories.MemoriesByUser(ctx, userID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list memories: %w", err)
	}
	summaries, err := s.summaries.SummariesByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	return memories, summaries, nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

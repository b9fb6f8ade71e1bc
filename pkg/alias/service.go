// Package alias persists user-scoped alias and multilingual mappings as
// semantic memories with a typed external_ref, so clarified entity choices
// short-circuit future extraction.
package alias

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// ExactMatch is a resolved alias hit.
type ExactMatch struct {
	EntityName string
	EntityID   string
	Confidence string
}

// Service manages alias and multilingual mappings.
type Service struct {
	memories store.MemoryStore
	embedder embedding.Embedder
}

// NewService creates an alias service.
func NewService(memories store.MemoryStore, embedder embedding.Embedder) *Service {
	return &Service{memories: memories, embedder: embedder}
}

// StoreAlias records that aliasText refers to the given entity for this user.
// One row per (user, lowercased alias); re-storing an existing alias is a
// no-op. The write is a single-row insert and therefore atomic.
func (s *Service) StoreAlias(ctx context.Context, userID, aliasText, entityName, entityID string, sessionID uuid.UUID) error {
	key := strings.ToLower(strings.TrimSpace(aliasText))
	if key == "" {
		return store.NewValidationError("alias_text", "required")
	}

	if _, err := s.memories.AliasByText(ctx, userID, key); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to check existing alias: %w", err)
	}

	vec, err := s.embedder.EmbedText(ctx, aliasText+" "+entityName)
	if err != nil {
		return fmt.Errorf("failed to embed alias: %w", err)
	}

	mem := models.Memory{
		SessionID:  sessionID,
		UserID:     userID,
		Kind:       models.MemorySemantic,
		Text:       fmt.Sprintf("Alias mapping: '%s' refers to '%s' (ID: %s)", aliasText, entityName, entityID),
		Embedding:  vec,
		Importance: 0.8,
		ExternalRef: &models.ExternalRef{
			Type:       models.RefAliasMapping,
			AliasText:  key,
			EntityName: entityName,
			EntityID:   entityID,
			UserID:     userID,
		},
	}
	if _, err := s.memories.InsertMemory(ctx, mem); err != nil {
		return fmt.Errorf("failed to store alias mapping: %w", err)
	}

	slog.Info("Alias mapping stored", "user_id", userID, "alias", key, "entity", entityName)
	return nil
}

// ExactMatch resolves text against the user's stored aliases. Matching is
// case-insensitive on the full text. Returns nil when no alias exists.
func (s *Service) ExactMatch(ctx context.Context, userID, text string) (*ExactMatch, error) {
	mem, err := s.memories.AliasByText(ctx, userID, strings.TrimSpace(text))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up alias: %w", err)
	}
	return &ExactMatch{
		EntityName: mem.ExternalRef.EntityName,
		EntityID:   mem.ExternalRef.EntityID,
		Confidence: models.ConfidenceExact,
	}, nil
}

// StoreMultilingual records that foreign means english for this user.
func (s *Service) StoreMultilingual(ctx context.Context, userID, foreign, english string, sessionID uuid.UUID) error {
	key := strings.ToLower(strings.TrimSpace(foreign))
	if key == "" {
		return store.NewValidationError("foreign_text", "required")
	}

	vec, err := s.embedder.EmbedText(ctx, foreign+" "+english)
	if err != nil {
		return fmt.Errorf("failed to embed multilingual mapping: %w", err)
	}

	mem := models.Memory{
		SessionID:  sessionID,
		UserID:     userID,
		Kind:       models.MemorySemantic,
		Text:       fmt.Sprintf("Multilingual mapping: '%s' means '%s'", foreign, english),
		Embedding:  vec,
		Importance: 0.7,
		ExternalRef: &models.ExternalRef{
			Type:        models.RefMultilingualMapping,
			ForeignText: key,
			EnglishText: english,
			UserID:      userID,
		},
	}
	if _, err := s.memories.InsertMemory(ctx, mem); err != nil {
		return fmt.Errorf("failed to store multilingual mapping: %w", err)
	}

	slog.Info("Multilingual mapping stored", "user_id", userID, "foreign", key)
	return nil
}

// Translate maps foreign text to its stored English form, or returns the
// input unchanged when no mapping exists.
func (s *Service) Translate(ctx context.Context, userID, foreign string) string {
	mem, err := s.memories.TranslationByForeign(ctx, userID, strings.TrimSpace(foreign))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Translation lookup failed", "error", err)
		}
		return foreign
	}
	return mem.ExternalRef.EnglishText
}

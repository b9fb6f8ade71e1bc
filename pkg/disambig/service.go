// Package disambig scores candidate entities and decides between picking
// one automatically, asking the user to clarify, or consuming a
// clarification reply already present in chat history.
package disambig

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/alias"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// scoreGapThreshold is the minimum top1−top2 score gap for auto-selection.
const scoreGapThreshold = 0.05

// clarificationMarkers identify an assistant turn that asked the user to
// disambiguate.
var clarificationMarkers = []string{
	"clarify",
	"which one",
	"multiple matches",
	"please choose",
	"found multiple possible",
	"please respond with the number",
}

// enumeratedLine matches "1. Kai Media" lines in a clarification prompt.
var enumeratedLine = regexp.MustCompile(`(?m)^\s*(\d+)\.\s+(.+?)\s*$`)

// Result is the disambiguation outcome.
type Result struct {
	Needed     bool
	Selected   *models.Entity
	Candidates []models.Entity
	Scores     []float64
}

// Service decides disambiguation outcomes.
type Service struct {
	domain  store.DomainStore
	aliases *alias.Service
}

// NewService creates a disambiguation service.
func NewService(domain store.DomainStore, aliases *alias.Service) *Service {
	return &Service{domain: domain, aliases: aliases}
}

// Decide applies the disambiguation rules to the candidate list given the
// most recent chat history (newest last).
func (s *Service) Decide(ctx context.Context, candidates []models.Entity, history []models.ChatMessage,
	userMessage string, sessionID uuid.UUID, userID string) (Result, error) {

	if isClarificationReply(history) {
		return s.consumeClarification(ctx, userMessage, candidates, history, sessionID, userID)
	}

	switch len(candidates) {
	case 0:
		return Result{Needed: false}, nil
	case 1:
		selected := candidates[0]
		return Result{Needed: false, Selected: &selected}, nil
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = entityScore(c)
	}

	top, second := topTwo(scores)
	if scores[top]-second > scoreGapThreshold {
		selected := candidates[top]
		return Result{Needed: false, Selected: &selected, Scores: scores}, nil
	}
	return Result{Needed: true, Candidates: candidates, Scores: scores}, nil
}

// ClarificationPrompt builds the enumerated question shown to the user.
func ClarificationPrompt(candidates []models.Entity) string {
	var b strings.Builder
	b.WriteString("I found multiple possible matches for your query. Please clarify which one you mean:\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
	}
	b.WriteString("\nPlease respond with the number or name of your choice.")
	return b.String()
}

// consumeClarification treats the current message as a reply to the last
// clarification prompt, stores the chosen alias, and returns the selection.
func (s *Service) consumeClarification(ctx context.Context, userMessage string, candidates []models.Entity,
	history []models.ChatMessage, sessionID uuid.UUID, userID string) (Result, error) {

	if len(candidates) == 0 {
		candidates = s.candidatesFromPrompt(ctx, history, sessionID)
	}
	if len(candidates) == 0 {
		return Result{Needed: false}, nil
	}

	selected := parseSelection(userMessage, candidates)

	entityID := ""
	if selected.ExternalRef != nil {
		entityID = selected.ExternalRef.ID
	}
	if err := s.aliases.StoreAlias(ctx, userID, userMessage, selected.Name, entityID, sessionID); err != nil {
		slog.Error("Failed to store clarification alias", "user_id", userID, "error", err)
	}

	return Result{Needed: false, Selected: &selected}, nil
}

// candidatesFromPrompt recovers the candidate list from the enumerated lines
// of the last assistant clarification message, re-resolving names against
// the customer table.
func (s *Service) candidatesFromPrompt(ctx context.Context, history []models.ChatMessage, sessionID uuid.UUID) []models.Entity {
	prompt := lastAssistantMessage(history)
	if prompt == "" {
		return nil
	}

	var candidates []models.Entity
	for _, m := range enumeratedLine.FindAllStringSubmatch(prompt, -1) {
		name := m[2]
		e := models.Entity{
			SessionID: sessionID,
			Name:      name,
			Type:      models.EntityCustomer,
			Source:    models.SourceMessage,
		}
		if c, err := s.domain.CustomerByName(ctx, name); err == nil {
			e.Source = models.SourceDB
			e.ExternalRef = &models.ExternalRef{
				Table:      "domain.customers",
				ID:         c.ID.String(),
				Confidence: models.ConfidenceExact,
			}
		}
		candidates = append(candidates, e)
	}
	return candidates
}

// parseSelection resolves a clarification reply: a 1-based ordinal, an
// exact/substring name, or a ≥50% word-overlap match; candidates[0] when
// nothing matches.
func parseSelection(reply string, candidates []models.Entity) models.Entity {
	lower := strings.ToLower(strings.TrimSpace(reply))

	for i, c := range candidates {
		if strings.Contains(lower, strconv.Itoa(i+1)) {
			return c
		}
	}

	// Prefer the longest name match so "kai media europe" does not resolve
	// to "Kai Media".
	var byName *models.Entity
	for i, c := range candidates {
		if strings.Contains(lower, strings.ToLower(c.Name)) {
			if byName == nil || len(c.Name) > len(byName.Name) {
				byName = &candidates[i]
			}
		}
	}
	if byName != nil {
		return *byName
	}

	replyWords := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		replyWords[w] = true
	}
	for _, c := range candidates {
		nameWords := strings.Fields(strings.ToLower(c.Name))
		matches := 0
		for _, w := range nameWords {
			if replyWords[w] {
				matches++
			}
		}
		if len(nameWords) > 0 && float64(matches) >= float64(len(nameWords))*0.5 {
			return c
		}
	}

	return candidates[0]
}

// isClarificationReply reports whether the last assistant turn asked for
// disambiguation.
func isClarificationReply(history []models.ChatMessage) bool {
	if len(history) < 2 {
		return false
	}
	last := strings.ToLower(lastAssistantMessage(history))
	if last == "" {
		return false
	}
	for _, marker := range clarificationMarkers {
		if strings.Contains(last, marker) {
			return true
		}
	}
	return false
}

func lastAssistantMessage(history []models.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

// entityScore maps match confidence to a score.
func entityScore(e models.Entity) float64 {
	confidence := models.ConfidenceExact
	if e.ExternalRef != nil && e.ExternalRef.Confidence != "" {
		confidence = e.ExternalRef.Confidence
	}
	switch confidence {
	case models.ConfidenceExact:
		return 1.0
	case models.ConfidenceFuzzy:
		return 0.8
	default:
		return 0.5
	}
}

// topTwo returns the index of the highest score and the second-highest value.
func topTwo(scores []float64) (topIdx int, second float64) {
	topIdx = 0
	for i, s := range scores {
		if s > scores[topIdx] {
			topIdx = i
		}
	}
	second = 0
	for i, s := range scores {
		if i != topIdx && s > second {
			second = s
		}
	}
	return topIdx, second
}

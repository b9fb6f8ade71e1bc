package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

const (
	// consolidationWindowDays bounds which memories are considered.
	consolidationWindowDays = 30

	// DefaultSessionWindow keys the upserted summary row.
	DefaultSessionWindow = 3

	// customerContextThreshold is how many recent memories about one
	// customer trigger consolidation.
	customerContextThreshold = 3
)

// forceTriggerTokens force consolidation when present in recent memory text.
var forceTriggerTokens = []string{"tc boiler", "kai media", "net15", "payment plan", "rush work order"}

var completionKeywords = []string{"completed", "done", "finished", "resolved", "closed", "marked as done"}

var promotionWords = []string{"prefers", "likes", "dislikes", "always", "never"}

// Consolidator groups recent memories into per-customer summaries and
// promotes recurring episodic patterns to semantic knowledge.
type Consolidator struct {
	service  *Service
	memories store.MemoryStore
	embedder embedding.Embedder
}

// NewConsolidator creates a consolidator.
func NewConsolidator(service *Service, memories store.MemoryStore, embedder embedding.Embedder) *Consolidator {
	return &Consolidator{service: service, memories: memories, embedder: embedder}
}

// Consolidate builds or refreshes the user's summary. Unless force is set,
// it first checks the trigger conditions and returns (nil, nil) when none
// hold. Returns store.ErrNotFound when the user has no recent memories.
func (c *Consolidator) Consolidate(ctx context.Context, userID string, sessionWindow int, force bool) (*models.MemorySummary, error) {
	since := time.Now().UTC().AddDate(0, 0, -consolidationWindowDays)
	recent, err := c.memories.RecentMemories(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent memories: %w", err)
	}
	if len(recent) == 0 {
		return nil, store.ErrNotFound
	}

	if !force && !c.shouldTrigger(recent) {
		return nil, nil
	}

	c.promoteEpisodicPatterns(ctx, recent)

	summaryText := c.buildSummary(ctx, userID, recent)

	var vec []float32
	if embedded, err := c.embedder.EmbedText(ctx, summaryText); err == nil {
		vec = embedded
	} else {
		slog.Error("Failed to embed summary", "user_id", userID, "error", err)
	}

	sum, err := c.service.summaries.UpsertSummary(ctx, models.MemorySummary{
		UserID:        userID,
		SessionWindow: sessionWindow,
		Summary:       summaryText,
		Embedding:     vec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert summary: %w", err)
	}

	slog.Info("Memories consolidated", "user_id", userID, "memories", len(recent), "summary_id", sum.ID)
	return &sum, nil
}

// shouldTrigger checks the consolidation heuristics: a force token, a stale
// preference, enough context about one customer, or a task completion.
func (c *Consolidator) shouldTrigger(recent []models.Memory) bool {
	now := time.Now().UTC()
	customerCounts := make(map[string]int)

	for _, m := range recent {
		lower := strings.ToLower(m.Text)

		for _, token := range forceTriggerTokens {
			if strings.Contains(lower, token) {
				return true
			}
		}
		if isStalePreference(m, now) {
			return true
		}
		for _, kw := range completionKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		if customer := CustomerNameIn(lower); customer != "" {
			customerCounts[customer]++
			if customerCounts[customer] >= customerContextThreshold {
				return true
			}
		}
	}
	return false
}

// isStalePreference flags semantic preferences that are old or weakly held.
func isStalePreference(m models.Memory, now time.Time) bool {
	if m.Kind != models.MemorySemantic {
		return false
	}
	if !mentionsPreference(strings.ToLower(m.Text)) {
		return false
	}
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	return ageDays > stalePreferenceAgeDays || m.Importance < 0.7
}

// buildSummary groups recent memories by customer and concatenates the
// per-customer key info strings.
func (c *Consolidator) buildSummary(ctx context.Context, userID string, recent []models.Memory) string {
	groups := make(map[string][]models.Memory)
	var order []string
	for _, m := range recent {
		customer := CustomerNameIn(strings.ToLower(m.Text))
		if customer == "" {
			continue
		}
		if _, ok := groups[customer]; !ok {
			order = append(order, customer)
		}
		groups[customer] = append(groups[customer], m)
	}

	if len(groups) == 0 {
		return fmt.Sprintf("Memory consolidation for user %s: %d memories processed", userID, len(recent))
	}

	var parts []string
	for _, customer := range order {
		if info := customerKeyInfo(groups[customer]); info != "" {
			parts = append(parts, titleCase(customer)+": "+info)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Memory consolidation for user %s: %d memories processed", userID, len(recent))
	}
	return fmt.Sprintf("Customer Summary (%d customers): %s", len(groups), strings.Join(parts, "; "))
}

// customerKeyInfo extracts rule-based key facts across the four buckets:
// terms, orders, payments, preferences.
func customerKeyInfo(memories []models.Memory) string {
	var terms, orders, payments, preferences []string
	for _, m := range memories {
		lower := strings.ToLower(m.Text)
		if containsAny(lower, "net", "terms", "payment", "agreed") {
			terms = append(terms, m.Text)
		}
		if containsAny(lower, "so-", "work order", "wo-", "rush") {
			orders = append(orders, m.Text)
		}
		if containsAny(lower, "payment plan", "monthly", "$", "pay", "500") {
			payments = append(payments, m.Text)
		}
		if containsAny(lower, "prefer", "like", "delivery", "friday", "thursday", "ach") {
			preferences = append(preferences, m.Text)
		}
	}

	var info []string
	for _, t := range terms {
		if strings.Contains(strings.ToLower(t), "net15") {
			info = append(info, "Terms: NET15")
			break
		}
		if strings.Contains(strings.ToLower(t), "net") {
			info = append(info, "Terms: "+t)
			break
		}
	}
	for _, o := range orders {
		lower := strings.ToLower(o)
		if strings.Contains(lower, "so-2002") {
			info = append(info, "Orders: Rush WO for SO-2002")
			break
		}
		if strings.Contains(lower, "so-") {
			info = append(info, "Orders: "+o)
			break
		}
	}
	for _, p := range payments {
		lower := strings.ToLower(p)
		if strings.Contains(lower, "500") {
			info = append(info, "Payments: $500/month plan")
			break
		}
		if strings.Contains(lower, "payment plan") {
			info = append(info, "Payments: "+p)
			break
		}
	}
	for _, p := range preferences {
		lower := strings.ToLower(p)
		if strings.Contains(lower, "ach") {
			info = append(info, "Preferences: ACH payments")
			break
		}
		if strings.Contains(lower, "friday") {
			info = append(info, "Preferences: Friday delivery")
			break
		}
	}
	return strings.Join(info, "; ")
}

// promoteEpisodicPatterns converts recurring preference-shaped episodic
// memories into permanent semantic ones. At least two similar episodes are
// required.
func (c *Consolidator) promoteEpisodicPatterns(ctx context.Context, recent []models.Memory) {
	var episodic []models.Memory
	for _, m := range recent {
		if m.Kind == models.MemoryEpisodic && containsAny(strings.ToLower(m.Text), promotionWords...) {
			episodic = append(episodic, m)
		}
	}
	if len(episodic) < 2 {
		return
	}

	for _, m := range episodic {
		semanticText := semanticFromEpisodic(m.Text)
		if semanticText == "" {
			continue
		}
		_, err := c.service.Create(ctx, CreateParams{
			SessionID:  m.SessionID,
			UserID:     m.UserID,
			Kind:       models.MemorySemantic,
			Text:       semanticText,
			Importance: 0.9,
		})
		if err != nil {
			slog.Error("Failed to promote episodic pattern", "memory_id", m.ID, "error", err)
		}
	}
}

// semanticFromEpisodic strips time-specific words and rephrases the
// preference as durable knowledge.
func semanticFromEpisodic(text string) string {
	lower := strings.ToLower(text)
	for _, w := range []string{"today", "yesterday", "just", "recently", "now", "sent", "drafted", "created"} {
		lower = strings.ReplaceAll(lower, w, "")
	}

	for _, verb := range []string{"prefers", "likes", "dislikes"} {
		if idx := strings.Index(lower, verb); idx != -1 {
			rest := strings.TrimSpace(lower[idx+len(verb):])
			if rest != "" {
				return "Customer " + verb + " " + rest
			}
		}
	}
	return ""
}

// CustomerNameIn finds a known customer mentioned in lowercased text.
// Shortforms map to their canonical customer.
func CustomerNameIn(lower string) string {
	known := []struct{ token, canonical string }{
		{"kai media europe", "kai media europe"},
		{"kai media", "kai media"},
		{"tc boiler", "tc boiler"},
		{"gai media", "gai media"},
		{"pc boiler", "pc boiler"},
		{"kai", "kai media"},
		{"tc", "tc boiler"},
	}
	words := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		words[strings.Trim(w, ".,;:!?'\"")] = true
	}
	for _, k := range known {
		if strings.Contains(k.token, " ") {
			if strings.Contains(lower, k.token) {
				return k.canonical
			}
		} else if words[k.token] {
			// Short tokens match whole words only.
			return k.canonical
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/threadline-ai/mnemos/pkg/llm"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// Category labels what a memory records.
type Category string

const (
	CategoryAction     Category = "ACTION"     // something the system did (episodic)
	CategoryKnowledge  Category = "KNOWLEDGE"  // durable user preference or fact (semantic)
	CategoryStatus     Category = "STATUS"     // state change (episodic)
	CategoryPreference Category = "PREFERENCE" // user preference (semantic)
)

// ClassifiedMemory is the classifier's verdict on one utterance.
type ClassifiedMemory struct {
	Text       string
	Category   Category
	Kind       models.MemoryKind
	Importance float64
	TTLDays    *int
	Confidence float64
	Reasoning  string
}

// forceSemanticKeywords make a message semantic regardless of the LLM's
// opinion. Customer names are added at classification time.
var forceSemanticKeywords = []string{
	"remember:", "prefer", "like", "always", "never",
	"is net", "payment terms", "ach", "agreed", "net15",
}

var actionKeywords = []string{
	"drafted", "sent", "created", "completed", "finished", "done",
	"rescheduled", "updated", "processed", "executed", "performed",
	"email", "work order", "invoice", "order", "task",
}

var knowledgeKeywords = []string{
	"prefers", "likes", "dislikes", "always", "never", "usually",
	"policy", "rule", "standard", "preference", "habit", "custom",
	"net15", "net30", "ach", "credit card", "friday", "monday",
}

const classifySystemPrompt = `You are a memory classification expert. Classify the given text as ACTION or KNOWLEDGE.

ACTION (something the system or user did) -> episodic:
- An operation was performed (email sent, order created, status updated)
- A task was completed or a status changed
- Examples: "Email drafted for Kai Media", "Work order rescheduled", "Invoice sent"

KNOWLEDGE (durable preference or fact) -> semantic:
- A user preference (likes, dislikes, habits)
- A business rule (payment terms, delivery preferences)
- Long-lived customer facts
- Examples: "Kai Media prefers Friday deliveries", "TC Boiler is NET15"

Respond with JSON only:
{
  "category": "ACTION" or "KNOWLEDGE",
  "kind": "episodic" or "semantic",
  "importance": 0.0-1.0,
  "ttl_days": null or a number,
  "reasoning": "why",
  "confidence": 0.0-1.0
}`

// classificationJSON is the wire format the LLM is asked to return.
type classificationJSON struct {
	Category   string   `json:"category"`
	Kind       string   `json:"kind"`
	Importance float64  `json:"importance"`
	TTLDays    *int     `json:"ttl_days"`
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
}

// Classifier labels user utterances as episodic or semantic memories. The
// deterministic rules are self-sufficient: the LLM refines classification
// when available but is never required.
type Classifier struct {
	completer llm.Completer
	domain    store.DomainStore
}

// NewClassifier creates a memory classifier.
func NewClassifier(completer llm.Completer, domain store.DomainStore) *Classifier {
	return &Classifier{completer: completer, domain: domain}
}

// Classify labels one utterance. Force-semantic rules run first; otherwise
// the LLM is consulted, falling back to keyword rules on provider or parse
// failure.
func (c *Classifier) Classify(ctx context.Context, text string) ClassifiedMemory {
	lower := strings.ToLower(text)

	if c.isForceSemantic(ctx, lower) {
		return ClassifiedMemory{
			Text:       text,
			Category:   CategoryKnowledge,
			Kind:       models.MemorySemantic,
			Importance: 0.9,
			TTLDays:    nil,
			Confidence: 1.0,
			Reasoning:  "force-semantic keyword",
		}
	}

	if c.completer != nil {
		if cm, err := c.llmClassify(ctx, text); err == nil {
			return cm
		} else {
			slog.Warn("LLM classification failed, falling back to keyword rules", "error", err)
		}
	}

	return c.keywordClassify(text)
}

// ClassifyBatch labels each text in order.
func (c *Classifier) ClassifyBatch(ctx context.Context, texts []string) []ClassifiedMemory {
	out := make([]ClassifiedMemory, len(texts))
	for i, t := range texts {
		out[i] = c.Classify(ctx, t)
	}
	return out
}

func (c *Classifier) isForceSemantic(ctx context.Context, lower string) bool {
	for _, kw := range forceSemanticKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, name := range c.customerNames(ctx) {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

func (c *Classifier) customerNames(ctx context.Context) []string {
	customers, err := c.domain.Customers(ctx)
	if err != nil {
		slog.Error("Failed to list customers for classification", "error", err)
		return nil
	}
	names := make([]string, len(customers))
	for i, cust := range customers {
		names[i] = strings.ToLower(cust.Name)
	}
	return names
}

func (c *Classifier) llmClassify(ctx context.Context, text string) (ClassifiedMemory, error) {
	raw, err := c.completer.Complete(ctx, classifySystemPrompt, fmt.Sprintf("Memory text: %q", text))
	if err != nil {
		return ClassifiedMemory{}, err
	}

	// The model may wrap the JSON in prose; extract the outermost object.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return ClassifiedMemory{}, fmt.Errorf("no JSON object in classification response")
	}

	var parsed classificationJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return ClassifiedMemory{}, fmt.Errorf("failed to parse classification JSON: %w", err)
	}

	category := Category(strings.ToUpper(parsed.Category))
	switch category {
	case CategoryAction, CategoryKnowledge, CategoryStatus, CategoryPreference:
	default:
		category = CategoryAction
	}

	kind := models.MemoryKind(parsed.Kind)
	if !kind.Valid() {
		if category == CategoryKnowledge || category == CategoryPreference {
			kind = models.MemorySemantic
		} else {
			kind = models.MemoryEpisodic
		}
	}

	ttl := parsed.TTLDays
	if kind == models.MemorySemantic {
		ttl = nil
	} else if ttl == nil {
		days := models.DefaultEpisodicTTLDays
		ttl = &days
	}

	confidence := 0.7
	if parsed.Confidence != nil {
		confidence = clamp01(*parsed.Confidence)
	}

	return ClassifiedMemory{
		Text:       text,
		Category:   category,
		Kind:       kind,
		Importance: clamp01(parsed.Importance),
		TTLDays:    ttl,
		Confidence: confidence,
		Reasoning:  parsed.Reasoning,
	}, nil
}

// keywordClassify is the deterministic fallback: count ACTION vs KNOWLEDGE
// keywords, ties go to ACTION/episodic.
func (c *Classifier) keywordClassify(text string) ClassifiedMemory {
	lower := strings.ToLower(text)

	actionScore := 0
	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw) {
			actionScore++
		}
	}
	knowledgeScore := 0
	for _, kw := range knowledgeKeywords {
		if strings.Contains(lower, kw) {
			knowledgeScore++
		}
	}

	if knowledgeScore > actionScore {
		return ClassifiedMemory{
			Text:       text,
			Category:   CategoryKnowledge,
			Kind:       models.MemorySemantic,
			Importance: 0.9,
			TTLDays:    nil,
			Confidence: 0.6,
			Reasoning:  fmt.Sprintf("keyword rule: %d knowledge keywords", knowledgeScore),
		}
	}

	ttl := models.DefaultEpisodicTTLDays
	importance := 0.7
	confidence := 0.5
	reasoning := "keyword rule: default action classification"
	if actionScore > knowledgeScore {
		importance = 0.8
		confidence = 0.6
		reasoning = fmt.Sprintf("keyword rule: %d action keywords", actionScore)
	}
	return ClassifiedMemory{
		Text:       text,
		Category:   CategoryAction,
		Kind:       models.MemoryEpisodic,
		Importance: importance,
		TTLDays:    &ttl,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

var netTermsPattern = regexp.MustCompile(`(?i)\bnet\s?\d+\b`)

// ImplicitPreference derives a durable preference sentence implied by an
// operational request, or "" when none applies.
func (c *Classifier) ImplicitPreference(ctx context.Context, text string) string {
	lower := strings.ToLower(text)

	customer := ""
	customers, err := c.domain.Customers(ctx)
	if err != nil {
		slog.Error("Failed to list customers for implicit preferences", "error", err)
		return ""
	}
	for _, cust := range customers {
		if strings.Contains(lower, strings.ToLower(cust.Name)) {
			customer = cust.Name
			break
		}
	}
	if customer == "" {
		return ""
	}

	if strings.Contains(lower, "reschedule") && strings.Contains(lower, "friday") {
		return customer + " prefers Friday; align WO scheduling accordingly."
	}
	if strings.Contains(lower, "prefer") && strings.Contains(lower, "friday") {
		return customer + " prefers Friday deliveries for all shipments."
	}
	if terms := netTermsPattern.FindString(text); terms != "" {
		return customer + " is " + strings.ToUpper(strings.ReplaceAll(terms, " ", "")) + "; align payment terms accordingly."
	}
	return ""
}

// Stats aggregates classification counts.
type Stats struct {
	Total          int     `json:"total"`
	ActionCount    int     `json:"action_count"`
	KnowledgeCount int     `json:"knowledge_count"`
	EpisodicCount  int     `json:"episodic_count"`
	SemanticCount  int     `json:"semantic_count"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// ClassificationStats summarizes a batch of classified memories.
func ClassificationStats(memories []ClassifiedMemory) Stats {
	stats := Stats{Total: len(memories)}
	if len(memories) == 0 {
		return stats
	}
	total := 0.0
	for _, m := range memories {
		switch m.Category {
		case CategoryAction, CategoryStatus:
			stats.ActionCount++
		case CategoryKnowledge, CategoryPreference:
			stats.KnowledgeCount++
		}
		switch m.Kind {
		case models.MemoryEpisodic:
			stats.EpisodicCount++
		case models.MemorySemantic:
			stats.SemanticCount++
		}
		total += m.Confidence
	}
	stats.AvgConfidence = total / float64(len(memories))
	return stats
}

// titleCase capitalizes the first letter of each word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

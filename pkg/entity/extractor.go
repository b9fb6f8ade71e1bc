// Package entity recognizes business entities in chat messages and links
// them to rows in the domain schema.
package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/alias"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

const (
	tableCustomers   = "domain.customers"
	tableSalesOrders = "domain.sales_orders"
	tableInvoices    = "domain.invoices"
	tableWorkOrders  = "domain.work_orders"
	tableTasks       = "domain.tasks"
)

var (
	orderPattern   = regexp.MustCompile(`(?i)\bSO-\d+\b`)
	invoicePattern = regexp.MustCompile(`(?i)\bINV-\d+\b`)

	// Descriptive work-order phrasings matched against work_orders.description.
	workOrderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)pick-pack\s+(?:work\s+)?order`),
		regexp.MustCompile(`(?i)pick-pack\s+albums?`),
		regexp.MustCompile(`(?i)work\s+order`),
		regexp.MustCompile(`(?i)pick\s+pack`),
		regexp.MustCompile(`(?i)album\s+fulfillment`),
	}

	taskKeywords = []string{"task", "todo", "issue", "problem", "support"}

	tokenSplit = regexp.MustCompile(`[^a-z0-9-]+`)
)

// Extractor produces candidate entities for a message.
type Extractor struct {
	domain  store.DomainStore
	aliases *alias.Service
}

// NewExtractor creates an entity extractor.
func NewExtractor(domain store.DomainStore, aliases *alias.Service) *Extractor {
	return &Extractor{domain: domain, aliases: aliases}
}

// Extract returns candidate entities for the message, in scan order within
// each type. An exact alias hit short-circuits everything else.
func (e *Extractor) Extract(ctx context.Context, text string, sessionID uuid.UUID, userID string) ([]models.Entity, error) {
	if match, err := e.aliases.ExactMatch(ctx, userID, text); err != nil {
		slog.Error("Alias lookup failed during extraction", "error", err)
	} else if match != nil {
		return []models.Entity{{
			SessionID: sessionID,
			Name:      match.EntityName,
			Type:      models.EntityCustomer,
			Source:    models.SourceDB,
			ExternalRef: &models.ExternalRef{
				Table:      tableCustomers,
				ID:         match.EntityID,
				Confidence: match.Confidence,
			},
		}}, nil
	}

	var entities []models.Entity

	customers, err := e.extractCustomers(ctx, text, sessionID, userID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, customers...)

	orders, err := e.extractOrders(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, orders...)

	invoices, err := e.extractInvoices(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, invoices...)

	workOrders, err := e.extractWorkOrders(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, workOrders...)

	tasks, err := e.extractTasks(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, tasks...)

	return entities, nil
}

// extractCustomers matches customer names with multilingual translation,
// exact substring and fuzzy word matching, plus the shortform override:
// a token that is a strict prefix of one or more customer names (with no
// full name present) yields every matching customer as a candidate.
func (e *Extractor) extractCustomers(ctx context.Context, text string, sessionID uuid.UUID, userID string) ([]models.Entity, error) {
	customers, err := e.domain.Customers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	english := e.aliases.Translate(ctx, userID, text)
	textsToCheck := []string{strings.ToLower(text)}
	if !strings.EqualFold(english, text) {
		textsToCheck = append(textsToCheck, strings.ToLower(english))
	}

	if shortform := shortformMatches(textsToCheck, customers); len(shortform) > 0 {
		var entities []models.Entity
		for _, c := range shortform {
			entities = append(entities, customerEntity(sessionID, c, models.ConfidenceFuzzy))
		}
		return entities, nil
	}

	var entities []models.Entity
	for _, c := range customers {
		nameLower := strings.ToLower(c.Name)
		for _, check := range textsToCheck {
			if strings.Contains(check, nameLower) {
				entities = append(entities, customerEntity(sessionID, c, models.ConfidenceExact))
				break
			}
			if fuzzyMatch(nameLower, check) {
				entities = append(entities, customerEntity(sessionID, c, models.ConfidenceFuzzy))
				break
			}
		}
	}
	return entities, nil
}

func customerEntity(sessionID uuid.UUID, c models.Customer, confidence string) models.Entity {
	return models.Entity{
		SessionID: sessionID,
		Name:      c.Name,
		Type:      models.EntityCustomer,
		Source:    models.SourceDB,
		ExternalRef: &models.ExternalRef{
			Table:      tableCustomers,
			ID:         c.ID.String(),
			Confidence: confidence,
		},
	}
}

// shortformMatches finds customers whose names a message token abbreviates.
// The override only fires when no full customer name appears in the text.
func shortformMatches(textsToCheck []string, customers []models.Customer) []models.Customer {
	for _, check := range textsToCheck {
		for _, c := range customers {
			if strings.Contains(check, strings.ToLower(c.Name)) {
				return nil
			}
		}
	}

	seen := make(map[uuid.UUID]bool)
	var matched []models.Customer
	for _, check := range textsToCheck {
		for _, token := range tokenize(check) {
			if len(token) < 2 {
				continue
			}
			for _, c := range customers {
				nameLower := strings.ToLower(c.Name)
				if seen[c.ID] || nameLower == token {
					continue
				}
				// Strict prefix of the name; the prefix need not end at a word
				// boundary.
				if strings.HasPrefix(nameLower, token) {
					seen[c.ID] = true
					matched = append(matched, c)
				}
			}
		}
	}
	return matched
}

// tokenize lowercases and splits text into word tokens, stripping
// possessives.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	lower = strings.ReplaceAll(lower, "'s", "")
	lower = strings.ReplaceAll(lower, "’s", "")
	var tokens []string
	for _, t := range tokenSplit.Split(lower, -1) {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// fuzzyMatch applies the two-part word rule: either every text word occurs
// in the name (subset rule, at least one overlap), or the overlap covers at
// least 80% of the name's words.
func fuzzyMatch(nameLower, textLower string) bool {
	nameWords := wordSet(nameLower)
	textWords := wordSet(textLower)
	if len(nameWords) == 0 || len(textWords) == 0 {
		return false
	}

	overlap := 0
	textSubset := true
	for w := range textWords {
		if nameWords[w] {
			overlap++
		} else {
			textSubset = false
		}
	}
	if overlap == 0 {
		return false
	}
	if textSubset {
		return true
	}
	return float64(overlap)/float64(len(nameWords)) >= 0.8
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func (e *Extractor) extractOrders(ctx context.Context, text string, sessionID uuid.UUID) ([]models.Entity, error) {
	var entities []models.Entity
	for _, match := range dedupeStrings(orderPattern.FindAllString(text, -1)) {
		order, err := e.domain.SalesOrderByNumber(ctx, strings.ToUpper(match))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to confirm sales order %s: %w", match, err)
		}
		entities = append(entities, models.Entity{
			SessionID:   sessionID,
			Name:        match,
			Type:        models.EntityOrder,
			Source:      models.SourceDB,
			ExternalRef: &models.ExternalRef{Table: tableSalesOrders, ID: order.ID.String()},
		})
	}
	return entities, nil
}

func (e *Extractor) extractInvoices(ctx context.Context, text string, sessionID uuid.UUID) ([]models.Entity, error) {
	var entities []models.Entity
	for _, match := range dedupeStrings(invoicePattern.FindAllString(text, -1)) {
		invoice, err := e.domain.InvoiceByNumber(ctx, strings.ToUpper(match))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to confirm invoice %s: %w", match, err)
		}
		entities = append(entities, models.Entity{
			SessionID:   sessionID,
			Name:        match,
			Type:        models.EntityInvoice,
			Source:      models.SourceDB,
			ExternalRef: &models.ExternalRef{Table: tableInvoices, ID: invoice.ID.String()},
		})
	}
	return entities, nil
}

func (e *Extractor) extractWorkOrders(ctx context.Context, text string, sessionID uuid.UUID) ([]models.Entity, error) {
	var entities []models.Entity
	seen := make(map[uuid.UUID]bool)
	for _, pattern := range workOrderPatterns {
		match := pattern.FindString(text)
		if match == "" {
			continue
		}
		workOrders, err := e.domain.WorkOrdersByDescription(ctx, match)
		if err != nil {
			return nil, fmt.Errorf("failed to match work orders: %w", err)
		}
		for _, wo := range workOrders {
			if seen[wo.ID] {
				continue
			}
			seen[wo.ID] = true
			entities = append(entities, models.Entity{
				SessionID:   sessionID,
				Name:        match,
				Type:        models.EntityWorkOrder,
				Source:      models.SourceDB,
				ExternalRef: &models.ExternalRef{Table: tableWorkOrders, ID: wo.ID.String()},
			})
		}
	}
	return entities, nil
}

func (e *Extractor) extractTasks(ctx context.Context, text string, sessionID uuid.UUID) ([]models.Entity, error) {
	lower := strings.ToLower(text)
	var triggered []string
	for _, kw := range taskKeywords {
		if strings.Contains(lower, kw) {
			triggered = append(triggered, kw)
		}
	}
	if len(triggered) == 0 {
		return nil, nil
	}

	tasks, err := e.domain.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var entities []models.Entity
	seen := make(map[uuid.UUID]bool)
	for _, kw := range triggered {
		for _, t := range tasks {
			if seen[t.ID] {
				continue
			}
			if strings.Contains(strings.ToLower(t.Title), kw) || strings.Contains(strings.ToLower(t.Body), kw) {
				seen[t.ID] = true
				entities = append(entities, models.Entity{
					SessionID:   sessionID,
					Name:        t.Title,
					Type:        models.EntityTask,
					Source:      models.SourceDB,
					ExternalRef: &models.ExternalRef{Table: tableTasks, ID: t.ID.String()},
				})
			}
		}
	}
	return entities, nil
}

// LinkToDomain fills in missing external refs by name lookup. Entities that
// already carry a ref pass through unchanged.
func (e *Extractor) LinkToDomain(ctx context.Context, entities []models.Entity) []models.Entity {
	linked := make([]models.Entity, 0, len(entities))
	for _, ent := range entities {
		if ent.ExternalRef == nil || ent.ExternalRef.Table == "" {
			if ref := e.lookupRef(ctx, ent); ref != nil {
				ent.ExternalRef = ref
				ent.Source = models.SourceDB
			}
		}
		linked = append(linked, ent)
	}
	return linked
}

func (e *Extractor) lookupRef(ctx context.Context, ent models.Entity) *models.ExternalRef {
	switch ent.Type {
	case models.EntityCustomer:
		if c, err := e.domain.CustomerByName(ctx, ent.Name); err == nil {
			return &models.ExternalRef{Table: tableCustomers, ID: c.ID.String()}
		}
	case models.EntityOrder:
		if o, err := e.domain.SalesOrderByNumber(ctx, ent.Name); err == nil {
			return &models.ExternalRef{Table: tableSalesOrders, ID: o.ID.String()}
		}
	case models.EntityInvoice:
		if i, err := e.domain.InvoiceByNumber(ctx, ent.Name); err == nil {
			return &models.ExternalRef{Table: tableInvoices, ID: i.ID.String()}
		}
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		key := strings.ToUpper(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

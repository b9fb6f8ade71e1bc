// Package retrieval implements hybrid context retrieval: consolidated
// summaries, ranked memories, authoritative domain facts, conflict
// detection, per-customer reasoning chains, and DB-vs-memory inconsistency
// checks — plus the prompt assembly that feeds all of it to the LLM.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/entity"
	"github.com/threadline-ai/mnemos/pkg/memory"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// summaryPriorityThreshold is the cosine similarity above which a
// consolidated summary short-circuits normal memory retrieval.
const summaryPriorityThreshold = 0.7

// conflictPairs are mutually exclusive day/time tokens. Two semantic
// memories about the same customer holding opposite members contradict.
var conflictPairs = [][2]string{
	{"thursday", "friday"},
	{"monday", "tuesday"},
	{"tuesday", "wednesday"},
	{"wednesday", "thursday"},
	{"saturday", "sunday"},
	{"morning", "afternoon"},
	{"afternoon", "evening"},
}

var (
	statusQueryPattern = regexp.MustCompile(`(?i)\b(status|complete|done|finished|fulfilled)\b`)
	identifierPattern  = regexp.MustCompile(`(?i)\b(SO|INV|WO)-\d+\b`)
)

// conflictingClaims maps a DB status to memory wordings that contradict it.
var conflictingClaims = map[string][]string{
	"in_fulfillment": {"fulfilled", "complete", "done", "finished"},
	"draft":          {"fulfilled", "complete", "done", "finished"},
	"open":           {"paid", "complete", "done", "finished"},
	"queued":         {"done", "complete", "finished"},
}

// Service is the retrieval engine.
type Service struct {
	st        store.Store
	memories  *memory.Service
	extractor *entity.Extractor
}

// NewService creates a retrieval service.
func NewService(st store.Store, memories *memory.Service, extractor *entity.Extractor) *Service {
	return &Service{st: st, memories: memories, extractor: extractor}
}

// RetrieveContext gathers grounding material for a full-mode query.
func (s *Service) RetrieveContext(ctx context.Context, query string, queryVec []float32,
	userID string, sessionID uuid.UUID, limit int) (models.RetrievalContext, error) {

	entities, err := s.extractor.Extract(ctx, query, sessionID, userID)
	if err != nil {
		return models.RetrievalContext{}, fmt.Errorf("failed to extract query entities: %w", err)
	}

	memories, err := s.retrieveMemories(ctx, queryVec, userID, limit)
	if err != nil {
		return models.RetrievalContext{}, err
	}

	facts, err := s.domainFacts(ctx, entities)
	if err != nil {
		return models.RetrievalContext{}, err
	}

	facts = append(facts, memoryConflicts(memories)...)

	chains, err := s.reasoningChains(ctx, entities)
	if err != nil {
		slog.Error("Reasoning chain construction failed", "error", err)
	} else {
		facts = append(facts, chains...)
	}

	inconsistencies := s.dbMemoryInconsistencies(ctx, query)
	facts = append(facts, inconsistencies...)

	return models.RetrievalContext{
		Memories:    memories,
		DomainFacts: facts,
		Entities:    entities,
	}, nil
}

// retrieveMemories applies the summary-priority rule: a sufficiently similar
// consolidated summary is used as a single high-priority pseudo-memory,
// skipping normal retrieval. Otherwise ranked memories are returned with
// status annotations applied.
func (s *Service) retrieveMemories(ctx context.Context, queryVec []float32, userID string, limit int) ([]models.MemoryRetrievalResult, error) {
	summaries, err := s.st.SummariesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}

	var best *models.MemorySummary
	bestSim := 0.0
	for i, sum := range summaries {
		if len(sum.Embedding) == 0 {
			continue
		}
		if sim := embedding.Cosine(queryVec, sum.Embedding); sim > bestSim {
			bestSim = sim
			best = &summaries[i]
		}
	}
	if best != nil && bestSim > summaryPriorityThreshold {
		return []models.MemoryRetrievalResult{{
			MemoryID:   best.ID,
			Text:       best.Summary,
			Kind:       models.MemorySemantic,
			Similarity: bestSim,
			Importance: 1.0,
			CreatedAt:  best.CreatedAt,
		}}, nil
	}

	results, err := s.memories.Retrieve(ctx, queryVec, memory.RetrieveParams{UserID: userID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return memory.Annotate(results, time.Now().UTC()), nil
}

// domainFacts fetches authoritative rows for each linked entity: the primary
// object at relevance 1.0 with its neighbors at 0.8–0.9.
func (s *Service) domainFacts(ctx context.Context, entities []models.Entity) ([]models.DomainFact, error) {
	var facts []models.DomainFact
	for _, e := range entities {
		if e.ExternalRef == nil || e.ExternalRef.ID == "" {
			continue
		}
		id, err := uuid.Parse(e.ExternalRef.ID)
		if err != nil {
			continue
		}

		var entityFacts []models.DomainFact
		switch e.ExternalRef.Table {
		case "domain.customers":
			entityFacts, err = s.customerFacts(ctx, id)
		case "domain.sales_orders":
			entityFacts, err = s.salesOrderFacts(ctx, id)
		case "domain.invoices":
			entityFacts, err = s.invoiceFacts(ctx, id)
		case "domain.work_orders":
			entityFacts, err = s.workOrderFacts(ctx, id)
		case "domain.tasks":
			entityFacts, err = s.taskFacts(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch facts for %s: %w", e.Name, err)
		}
		facts = append(facts, entityFacts...)
	}
	return facts, nil
}

func (s *Service) customerFacts(ctx context.Context, customerID uuid.UUID) ([]models.DomainFact, error) {
	customer, err := s.st.CustomerByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	facts := []models.DomainFact{{
		Table: "customers",
		ID:    customer.ID.String(),
		Data: map[string]any{
			"name":     customer.Name,
			"industry": customer.Industry,
			"notes":    customer.Notes,
		},
		RelevanceScore: 1.0,
	}}

	orders, err := s.st.SalesOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for _, so := range orders {
		facts = append(facts, models.DomainFact{
			Table: "sales_orders",
			ID:    so.ID.String(),
			Data: map[string]any{
				"so_number":  so.SONumber,
				"title":      so.Title,
				"status":     string(so.Status),
				"created_at": so.CreatedAt.Format(time.RFC3339),
			},
			RelevanceScore: 0.8,
		})
	}

	invoices, err := s.st.OpenInvoicesByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		facts = append(facts, models.DomainFact{
			Table: "invoices",
			ID:    inv.ID.String(),
			Data: map[string]any{
				"invoice_number": inv.InvoiceNumber,
				"amount":         inv.Amount(),
				"due_date":       inv.DueDate.Format("2006-01-02"),
				"status":         string(inv.Status),
			},
			RelevanceScore: 0.9,
		})
	}
	return facts, nil
}

func (s *Service) salesOrderFacts(ctx context.Context, soID uuid.UUID) ([]models.DomainFact, error) {
	so, err := s.st.SalesOrderByID(ctx, soID)
	if err != nil {
		return nil, err
	}
	facts := []models.DomainFact{{
		Table: "sales_orders",
		ID:    so.ID.String(),
		Data: map[string]any{
			"so_number":  so.SONumber,
			"title":      so.Title,
			"status":     string(so.Status),
			"created_at": so.CreatedAt.Format(time.RFC3339),
		},
		RelevanceScore: 1.0,
	}}

	workOrders, err := s.st.WorkOrdersBySalesOrder(ctx, soID)
	if err != nil {
		return nil, err
	}
	for _, wo := range workOrders {
		data := map[string]any{
			"description": wo.Description,
			"status":      string(wo.Status),
			"technician":  wo.Technician,
		}
		if wo.ScheduledFor != nil {
			data["scheduled_for"] = wo.ScheduledFor.Format("2006-01-02")
		}
		facts = append(facts, models.DomainFact{
			Table:          "work_orders",
			ID:             wo.ID.String(),
			Data:           data,
			RelevanceScore: 0.8,
		})
	}
	return facts, nil
}

// invoiceFacts returns the invoice plus an aggregated payment fact with
// total paid, remaining balance, and payment count.
func (s *Service) invoiceFacts(ctx context.Context, invoiceID uuid.UUID) ([]models.DomainFact, error) {
	inv, err := s.st.InvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	facts := []models.DomainFact{{
		Table: "invoices",
		ID:    inv.ID.String(),
		Data: map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"amount":         inv.Amount(),
			"due_date":       inv.DueDate.Format("2006-01-02"),
			"status":         string(inv.Status),
			"issued_at":      inv.IssuedAt.Format(time.RFC3339),
		},
		RelevanceScore: 1.0,
	}}

	payments, err := s.st.PaymentsByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	var totalPaidCents int64
	for _, p := range payments {
		totalPaidCents += p.AmountCents
	}
	facts = append(facts, models.DomainFact{
		Table: models.FactInvoicePayments,
		ID:    inv.ID.String(),
		Data: map[string]any{
			"total_paid":        float64(totalPaidCents) / 100,
			"remaining_balance": float64(inv.AmountCents-totalPaidCents) / 100,
			"payment_count":     len(payments),
		},
		RelevanceScore: 0.9,
	})
	return facts, nil
}

func (s *Service) workOrderFacts(ctx context.Context, woID uuid.UUID) ([]models.DomainFact, error) {
	wo, err := s.st.WorkOrderByID(ctx, woID)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"description": wo.Description,
		"status":      string(wo.Status),
		"technician":  wo.Technician,
	}
	if wo.ScheduledFor != nil {
		data["scheduled_for"] = wo.ScheduledFor.Format("2006-01-02")
	}
	return []models.DomainFact{{
		Table:          "work_orders",
		ID:             wo.ID.String(),
		Data:           data,
		RelevanceScore: 1.0,
	}}, nil
}

func (s *Service) taskFacts(ctx context.Context, taskID uuid.UUID) ([]models.DomainFact, error) {
	t, err := s.st.TaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return []models.DomainFact{{
		Table: "tasks",
		ID:    t.ID.String(),
		Data: map[string]any{
			"title":      t.Title,
			"body":       t.Body,
			"status":     string(t.Status),
			"created_at": t.CreatedAt.Format(time.RFC3339),
		},
		RelevanceScore: 1.0,
	}}, nil
}

// memoryConflicts flags pairs of retrieved semantic memories about the same
// customer that carry contradicting day/time tokens. Resolution policy is
// most-recent-wins.
func memoryConflicts(memories []models.MemoryRetrievalResult) []models.DomainFact {
	var facts []models.DomainFact
	for i := 0; i < len(memories); i++ {
		if memories[i].Kind != models.MemorySemantic {
			continue
		}
		customerI := memory.CustomerNameIn(strings.ToLower(memories[i].Text))
		if customerI == "" {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			if memories[j].Kind != models.MemorySemantic {
				continue
			}
			if memory.CustomerNameIn(strings.ToLower(memories[j].Text)) != customerI {
				continue
			}
			pair, conflicting := tokensConflict(memories[i].Text, memories[j].Text)
			if !conflicting {
				continue
			}
			facts = append(facts, models.DomainFact{
				Table: models.FactMemoryConflicts,
				ID:    fmt.Sprintf("%d-%d", memories[i].MemoryID, memories[j].MemoryID),
				Data: map[string]any{
					"customer":        customerI,
					"memory_1":        memories[i].Text,
					"memory_2":        memories[j].Text,
					"conflict_tokens": []string{pair[0], pair[1]},
					"resolution":      "most_recent",
				},
				RelevanceScore: 0.9,
			})
		}
	}
	return facts
}

func tokensConflict(text1, text2 string) ([2]string, bool) {
	lower1 := strings.ToLower(text1)
	lower2 := strings.ToLower(text2)
	for _, pair := range conflictPairs {
		if (strings.Contains(lower1, pair[0]) && strings.Contains(lower2, pair[1])) ||
			(strings.Contains(lower1, pair[1]) && strings.Contains(lower2, pair[0])) {
			return pair, true
		}
	}
	return [2]string{}, false
}

// reasoningChains composes, per customer entity, a chain across its sales
// orders with derived business-rule flags.
func (s *Service) reasoningChains(ctx context.Context, entities []models.Entity) ([]models.DomainFact, error) {
	var facts []models.DomainFact
	seen := make(map[uuid.UUID]bool)
	for _, e := range entities {
		if e.Type != models.EntityCustomer || e.ExternalRef == nil {
			continue
		}
		customerID, err := uuid.Parse(e.ExternalRef.ID)
		if err != nil || seen[customerID] {
			continue
		}
		seen[customerID] = true

		chain, err := s.customerChain(ctx, customerID, e.Name)
		if err != nil {
			return nil, err
		}
		if chain != nil {
			facts = append(facts, *chain)
		}
	}
	return facts, nil
}

func (s *Service) customerChain(ctx context.Context, customerID uuid.UUID, customerName string) (*models.DomainFact, error) {
	orders, err := s.st.SalesOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	var chainOrders []map[string]any
	for _, so := range orders {
		workOrders, err := s.st.WorkOrdersBySalesOrder(ctx, so.ID)
		if err != nil {
			return nil, err
		}
		invoices, err := s.st.InvoicesBySalesOrder(ctx, so.ID)
		if err != nil {
			return nil, err
		}

		doneWO := false
		var blocked []string
		var woData []map[string]any
		for _, wo := range workOrders {
			if wo.Status == models.WorkOrderDone {
				doneWO = true
			}
			if wo.Status == models.WorkOrderBlocked {
				blocked = append(blocked, wo.Description)
			}
			woData = append(woData, map[string]any{
				"description": wo.Description,
				"status":      string(wo.Status),
			})
		}

		openInvoice := false
		var invData []map[string]any
		for _, inv := range invoices {
			if inv.Status == models.InvoiceOpen {
				openInvoice = true
			}
			invData = append(invData, map[string]any{
				"invoice_number": inv.InvoiceNumber,
				"status":         string(inv.Status),
				"amount":         inv.Amount(),
			})
		}

		chainOrders = append(chainOrders, map[string]any{
			"so_number":           so.SONumber,
			"status":              string(so.Status),
			"work_orders":         woData,
			"invoices":            invData,
			"can_invoice":         doneWO && len(invoices) == 0,
			"should_send_invoice": openInvoice,
			"blocked_work_orders": blocked,
		})
	}

	return &models.DomainFact{
		Table: models.FactReasoningChain,
		ID:    customerID.String(),
		Data: map[string]any{
			"customer":     customerName,
			"sales_orders": chainOrders,
		},
		RelevanceScore: 0.9,
	}, nil
}

// dbMemoryInconsistencies compares DB status against memory claims when the
// query asks about status and names an identifier. Contradicted memories are
// marked for decay; the emitted fact tells the LLM to prefer the database.
func (s *Service) dbMemoryInconsistencies(ctx context.Context, query string) []models.DomainFact {
	if !statusQueryPattern.MatchString(query) {
		return nil
	}
	identifiers := identifierPattern.FindAllString(query, -1)
	if len(identifiers) == 0 {
		return nil
	}

	var facts []models.DomainFact
	for _, ident := range identifiers {
		ident = strings.ToUpper(ident)
		dbStatus := s.lookupStatus(ctx, ident)
		if dbStatus == "" {
			continue
		}
		claims := conflictingClaims[dbStatus]
		if len(claims) == 0 {
			continue
		}

		memories, err := s.st.SemanticMemoriesContaining(ctx, ident)
		if err != nil {
			slog.Error("Failed to scan memories for inconsistency", "identifier", ident, "error", err)
			continue
		}
		for _, m := range memories {
			lower := strings.ToLower(m.Text)
			for _, claim := range claims {
				if !strings.Contains(lower, claim) {
					continue
				}
				facts = append(facts, models.DomainFact{
					Table: models.FactDBMemoryInconsistency,
					ID:    fmt.Sprintf("%s-%d", ident, m.ID),
					Data: map[string]any{
						"identifier":     ident,
						"db_status":      dbStatus,
						"memory_claim":   m.Text,
						"recommendation": "prefer the database status; the memory is outdated",
					},
					RelevanceScore: 1.0,
				})
				s.memories.MarkForDecay(ctx, m.ID)
				break
			}
		}
	}
	return facts
}

func (s *Service) lookupStatus(ctx context.Context, identifier string) string {
	switch {
	case strings.HasPrefix(identifier, "SO-"):
		if so, err := s.st.SalesOrderByNumber(ctx, identifier); err == nil {
			return string(so.Status)
		}
	case strings.HasPrefix(identifier, "INV-"):
		if inv, err := s.st.InvoiceByNumber(ctx, identifier); err == nil {
			return string(inv.Status)
		}
	}
	return ""
}

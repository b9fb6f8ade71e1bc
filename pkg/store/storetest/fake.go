// Package storetest provides an in-memory store.Store implementation for
// unit tests, with optional pre-seeded ontology data matching the bundled
// seed migration.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// Fake is an in-memory store.Store. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	CustomerRows   []models.Customer
	SalesOrderRows []models.SalesOrder
	WorkOrderRows  []models.WorkOrder
	InvoiceRows    []models.Invoice
	PaymentRows    []models.Payment
	TaskRows       []models.Task

	MemoryRows  []models.Memory
	SummaryRows []models.MemorySummary
	EventRows   []models.ChatEvent
	EntityRows  []models.Entity

	nextMemoryID  int64
	nextSummaryID int64
	nextEventID   int64
	nextEntityID  int64
}

var _ store.Store = (*Fake)(nil)

// New returns an empty fake store.
func New() *Fake {
	return &Fake{nextMemoryID: 1, nextSummaryID: 1, nextEventID: 1, nextEntityID: 1}
}

// --- domain reads ---

func (f *Fake) Customers(ctx context.Context) ([]models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.Customer(nil), f.CustomerRows...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) CustomerByID(ctx context.Context, id uuid.UUID) (models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.CustomerRows {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Customer{}, store.ErrNotFound
}

func (f *Fake) CustomerByName(ctx context.Context, name string) (models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.CustomerRows {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return models.Customer{}, store.ErrNotFound
}

func (f *Fake) SalesOrderByID(ctx context.Context, id uuid.UUID) (models.SalesOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.SalesOrderRows {
		if o.ID == id {
			return o, nil
		}
	}
	return models.SalesOrder{}, store.ErrNotFound
}

func (f *Fake) SalesOrderByNumber(ctx context.Context, soNumber string) (models.SalesOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.SalesOrderRows {
		if strings.EqualFold(o.SONumber, soNumber) {
			return o, nil
		}
	}
	return models.SalesOrder{}, store.ErrNotFound
}

func (f *Fake) SalesOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.SalesOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SalesOrder
	for _, o := range f.SalesOrderRows {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) WorkOrderByID(ctx context.Context, id uuid.UUID) (models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.WorkOrderRows {
		if w.ID == id {
			return w, nil
		}
	}
	return models.WorkOrder{}, store.ErrNotFound
}

func (f *Fake) WorkOrdersBySalesOrder(ctx context.Context, soID uuid.UUID) ([]models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrder
	for _, w := range f.WorkOrderRows {
		if w.SOID == soID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *Fake) WorkOrdersByDescription(ctx context.Context, substr string) ([]models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrder
	for _, w := range f.WorkOrderRows {
		if strings.Contains(strings.ToLower(w.Description), strings.ToLower(substr)) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *Fake) InvoiceByID(ctx context.Context, id uuid.UUID) (models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.InvoiceRows {
		if i.ID == id {
			return i, nil
		}
	}
	return models.Invoice{}, store.ErrNotFound
}

func (f *Fake) InvoiceByNumber(ctx context.Context, invoiceNumber string) (models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.InvoiceRows {
		if strings.EqualFold(i.InvoiceNumber, invoiceNumber) {
			return i, nil
		}
	}
	return models.Invoice{}, store.ErrNotFound
}

func (f *Fake) InvoicesBySalesOrder(ctx context.Context, soID uuid.UUID) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, i := range f.InvoiceRows {
		if i.SOID == soID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *Fake) OpenInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	soIDs := make(map[uuid.UUID]bool)
	for _, o := range f.SalesOrderRows {
		if o.CustomerID == customerID {
			soIDs[o.ID] = true
		}
	}
	var out []models.Invoice
	for _, i := range f.InvoiceRows {
		if soIDs[i.SOID] && i.Status == models.InvoiceOpen {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *Fake) OpenInvoicesDueBy(ctx context.Context, by time.Time) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, i := range f.InvoiceRows {
		if i.Status == models.InvoiceOpen && !i.DueDate.After(by) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *Fake) PaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.PaymentRows {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) Tasks(ctx context.Context) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Task(nil), f.TaskRows...), nil
}

func (f *Fake) TaskByID(ctx context.Context, id uuid.UUID) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.TaskRows {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Task{}, store.ErrNotFound
}

// --- memories ---

func (f *Fake) InsertMemory(ctx context.Context, m models.Memory) (models.Memory, error) {
	if err := m.Validate(); err != nil {
		return models.Memory{}, store.ErrInvalidInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = f.nextMemoryID
	f.nextMemoryID++
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	f.MemoryRows = append(f.MemoryRows, m)
	return m, nil
}

func (f *Fake) MemoryByExactText(ctx context.Context, sessionID uuid.UUID, text string) (models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.MemoryRows {
		if m.SessionID == sessionID && m.Text == text {
			return m, nil
		}
	}
	return models.Memory{}, store.ErrNotFound
}

func (f *Fake) MemoryByID(ctx context.Context, id int64) (models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.MemoryRows {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Memory{}, store.ErrNotFound
}

func (f *Fake) UpdateMemoryImportance(ctx context.Context, id int64, importance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.MemoryRows {
		if f.MemoryRows[i].ID == id {
			f.MemoryRows[i].Importance = importance
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *Fake) NearestMemories(ctx context.Context, userID string, vec []float32, limit int) ([]store.ScoredMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var scored []store.ScoredMemory
	for _, m := range f.MemoryRows {
		if m.UserID != userID || len(m.Embedding) == 0 || m.Expired(now) {
			continue
		}
		scored = append(scored, store.ScoredMemory{Memory: m, Similarity: embedding.Cosine(vec, m.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (f *Fake) MemoriesByUser(ctx context.Context, userID string, limit int) ([]models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var out []models.Memory
	for _, m := range f.MemoryRows {
		if m.UserID == userID && !m.Expired(now) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) MemoriesBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Memory
	for _, m := range f.MemoryRows {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) RecentMemories(ctx context.Context, userID string, since time.Time) ([]models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var out []models.Memory
	for _, m := range f.MemoryRows {
		if m.UserID == userID && !m.CreatedAt.Before(since) && !m.Expired(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) SemanticMemoriesContaining(ctx context.Context, substr string) ([]models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Memory
	for _, m := range f.MemoryRows {
		if m.Kind == models.MemorySemantic && strings.Contains(strings.ToLower(m.Text), strings.ToLower(substr)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) AliasByText(ctx context.Context, userID, aliasText string) (models.Memory, error) {
	return f.refLookup(userID, models.RefAliasMapping, func(ref *models.ExternalRef) bool {
		return ref.AliasText == strings.ToLower(aliasText)
	})
}

func (f *Fake) TranslationByForeign(ctx context.Context, userID, foreignText string) (models.Memory, error) {
	return f.refLookup(userID, models.RefMultilingualMapping, func(ref *models.ExternalRef) bool {
		return ref.ForeignText == strings.ToLower(foreignText)
	})
}

func (f *Fake) refLookup(userID, refType string, match func(*models.ExternalRef) bool) (models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.MemoryRows {
		if m.Kind != models.MemorySemantic || m.ExternalRef == nil {
			continue
		}
		if m.ExternalRef.Type == refType && m.ExternalRef.UserID == userID && match(m.ExternalRef) {
			return m, nil
		}
	}
	return models.Memory{}, store.ErrNotFound
}

// --- summaries ---

func (f *Fake) SummariesByUser(ctx context.Context, userID string) ([]models.MemorySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MemorySummary
	for _, s := range f.SummaryRows {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fake) UpsertSummary(ctx context.Context, sum models.MemorySummary) (models.MemorySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.SummaryRows {
		if f.SummaryRows[i].UserID == sum.UserID && f.SummaryRows[i].SessionWindow == sum.SessionWindow {
			sum.ID = f.SummaryRows[i].ID
			sum.CreatedAt = time.Now().UTC()
			f.SummaryRows[i] = sum
			return sum, nil
		}
	}
	sum.ID = f.nextSummaryID
	f.nextSummaryID++
	sum.CreatedAt = time.Now().UTC()
	f.SummaryRows = append(f.SummaryRows, sum)
	return sum, nil
}

// --- chat events ---

func (f *Fake) AppendChatEvent(ctx context.Context, e models.ChatEvent) (models.ChatEvent, error) {
	if err := e.Validate(); err != nil {
		return models.ChatEvent{}, store.ErrInvalidInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = f.nextEventID
	f.nextEventID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	f.EventRows = append(f.EventRows, e)
	return e, nil
}

func (f *Fake) RecentChatEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatEvent
	for _, e := range f.EventRows {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// --- entities ---

func (f *Fake) InsertEntities(ctx context.Context, entities []models.Entity) ([]models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		e.ID = f.nextEntityID
		f.nextEntityID++
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		f.EntityRows = append(f.EntityRows, e)
		out = append(out, e)
	}
	return out, nil
}

func (f *Fake) EntitiesBySession(ctx context.Context, sessionID uuid.UUID, filter store.EntityFilter) ([]models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Entity
	for _, e := range f.EntityRows {
		if e.SessionID != sessionID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}


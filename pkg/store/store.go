// Package store defines the typed persistence interfaces for the domain
// ontology and the chat/memory schema, plus the error taxonomy shared by
// their implementations. The postgres subpackage provides the production
// implementation; storetest provides an in-memory one for unit tests.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/models"
)

// DomainStore is read access to the business ontology.
type DomainStore interface {
	Customers(ctx context.Context) ([]models.Customer, error)
	CustomerByID(ctx context.Context, id uuid.UUID) (models.Customer, error)
	CustomerByName(ctx context.Context, name string) (models.Customer, error)

	SalesOrderByID(ctx context.Context, id uuid.UUID) (models.SalesOrder, error)
	SalesOrderByNumber(ctx context.Context, soNumber string) (models.SalesOrder, error)
	SalesOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.SalesOrder, error)

	WorkOrdersBySalesOrder(ctx context.Context, soID uuid.UUID) ([]models.WorkOrder, error)
	WorkOrdersByDescription(ctx context.Context, substr string) ([]models.WorkOrder, error)
	WorkOrderByID(ctx context.Context, id uuid.UUID) (models.WorkOrder, error)

	InvoiceByID(ctx context.Context, id uuid.UUID) (models.Invoice, error)
	InvoiceByNumber(ctx context.Context, invoiceNumber string) (models.Invoice, error)
	InvoicesBySalesOrder(ctx context.Context, soID uuid.UUID) ([]models.Invoice, error)
	OpenInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Invoice, error)
	OpenInvoicesDueBy(ctx context.Context, by time.Time) ([]models.Invoice, error)

	PaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error)

	Tasks(ctx context.Context) ([]models.Task, error)
	TaskByID(ctx context.Context, id uuid.UUID) (models.Task, error)
}

// ScoredMemory pairs a memory with its cosine similarity against a query
// vector, as computed by the store's nearest-neighbor search.
type ScoredMemory struct {
	models.Memory
	Similarity float64
}

// MemoryStore persists typed memories. Dedup and ranking policy live in the
// memory service; the store only answers the primitive queries.
type MemoryStore interface {
	InsertMemory(ctx context.Context, m models.Memory) (models.Memory, error)
	MemoryByExactText(ctx context.Context, sessionID uuid.UUID, text string) (models.Memory, error)
	MemoryByID(ctx context.Context, id int64) (models.Memory, error)
	UpdateMemoryImportance(ctx context.Context, id int64, importance float64) error

	// NearestMemories returns up to limit unexpired memories for the user
	// ordered by cosine similarity to vec. Cross-session by design: the only
	// scope is the user.
	NearestMemories(ctx context.Context, userID string, vec []float32, limit int) ([]ScoredMemory, error)

	MemoriesByUser(ctx context.Context, userID string, limit int) ([]models.Memory, error)
	MemoriesBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Memory, error)
	RecentMemories(ctx context.Context, userID string, since time.Time) ([]models.Memory, error)
	SemanticMemoriesContaining(ctx context.Context, substr string) ([]models.Memory, error)

	// AliasByText finds the user's alias_mapping memory for the lowercased
	// alias text. TranslationByForeign does the same for multilingual rows.
	AliasByText(ctx context.Context, userID, aliasText string) (models.Memory, error)
	TranslationByForeign(ctx context.Context, userID, foreignText string) (models.Memory, error)
}

// SummaryStore persists per-user consolidation summaries.
type SummaryStore interface {
	SummariesByUser(ctx context.Context, userID string) ([]models.MemorySummary, error)
	UpsertSummary(ctx context.Context, s models.MemorySummary) (models.MemorySummary, error)
}

// ChatStore is the append-only session transcript.
type ChatStore interface {
	AppendChatEvent(ctx context.Context, e models.ChatEvent) (models.ChatEvent, error)
	// RecentChatEvents returns the newest limit events in chronological order.
	RecentChatEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEvent, error)
}

// EntityFilter narrows EntitiesBySession. Zero values mean "no filter".
type EntityFilter struct {
	Type   models.EntityType
	Source models.EntitySource
	Limit  int
}

// EntityStore persists extracted entities for a session.
type EntityStore interface {
	InsertEntities(ctx context.Context, entities []models.Entity) ([]models.Entity, error)
	EntitiesBySession(ctx context.Context, sessionID uuid.UUID, filter EntityFilter) ([]models.Entity, error)
}

// Store is the full persistence surface the pipeline is wired against.
type Store interface {
	DomainStore
	MemoryStore
	SummaryStore
	ChatStore
	EntityStore
}

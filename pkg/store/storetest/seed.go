package storetest

import (
	"time"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/models"
)

// Seeded customer IDs, matching the 0003_seed_data migration.
var (
	GaiMediaID       = uuid.MustParse("550e8400-e29b-41d4-a716-446655440001")
	PCBoilerID       = uuid.MustParse("550e8400-e29b-41d4-a716-446655440002")
	KaiMediaID       = uuid.MustParse("550e8400-e29b-41d4-a716-446655440003")
	KaiMediaEuropeID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440004")
	TCBoilerID       = uuid.MustParse("550e8400-e29b-41d4-a716-446655440005")

	SO1001ID = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	SO2002ID = uuid.MustParse("660e8400-e29b-41d4-a716-446655440002")
	SO3003ID = uuid.MustParse("660e8400-e29b-41d4-a716-446655440003")
	SO4004ID = uuid.MustParse("660e8400-e29b-41d4-a716-446655440004")

	INV1009ID = uuid.MustParse("880e8400-e29b-41d4-a716-446655440001")
	INV3011ID = uuid.MustParse("880e8400-e29b-41d4-a716-446655440003")
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

// Seeded returns a fake store pre-loaded with the sample ontology from the
// seed migration: five customers, four sales orders with work orders and
// invoices, two payments, and four tasks.
func Seeded() *Fake {
	f := New()

	f.CustomerRows = []models.Customer{
		{ID: GaiMediaID, Name: "Gai Media", Industry: "Entertainment", Notes: "Music production company"},
		{ID: PCBoilerID, Name: "PC Boiler", Industry: "Industrial", Notes: "Industrial boiler manufacturer"},
		{ID: KaiMediaID, Name: "Kai Media", Industry: "Entertainment", Notes: "Digital media company"},
		{ID: KaiMediaEuropeID, Name: "Kai Media Europe", Industry: "Entertainment", Notes: "European division"},
		{ID: TCBoilerID, Name: "TC Boiler", Industry: "Industrial", Notes: "Thermal control systems"},
	}

	f.SalesOrderRows = []models.SalesOrder{
		{ID: SO1001ID, CustomerID: GaiMediaID, SONumber: "SO-1001", Title: "Album Fulfillment", Status: models.SalesOrderInFulfillment, CreatedAt: date(2024, 1, 10)},
		{ID: SO2002ID, CustomerID: PCBoilerID, SONumber: "SO-2002", Title: "On-site repair", Status: models.SalesOrderApproved, CreatedAt: date(2024, 1, 12)},
		{ID: SO3003ID, CustomerID: KaiMediaID, SONumber: "SO-3003", Title: "Digital Content Package", Status: models.SalesOrderFulfilled, CreatedAt: date(2024, 1, 8)},
		{ID: SO4004ID, CustomerID: TCBoilerID, SONumber: "SO-4004", Title: "Boiler Maintenance", Status: models.SalesOrderDraft, CreatedAt: date(2024, 1, 15)},
	}

	f.WorkOrderRows = []models.WorkOrder{
		{ID: uuid.MustParse("770e8400-e29b-41d4-a716-446655440001"), SOID: SO1001ID, Description: "Pick-pack albums", Status: models.WorkOrderQueued, Technician: "Alex", ScheduledFor: ptr(date(2024, 1, 22))},
		{ID: uuid.MustParse("770e8400-e29b-41d4-a716-446655440002"), SOID: SO2002ID, Description: "Replace valve", Status: models.WorkOrderInProgress, Technician: "Bob", ScheduledFor: ptr(date(2024, 1, 20))},
		{ID: uuid.MustParse("770e8400-e29b-41d4-a716-446655440003"), SOID: SO3003ID, Description: "Digital packaging", Status: models.WorkOrderDone, Technician: "Carol", ScheduledFor: ptr(date(2024, 1, 18))},
		{ID: uuid.MustParse("770e8400-e29b-41d4-a716-446655440004"), SOID: SO4004ID, Description: "Boiler inspection", Status: models.WorkOrderQueued, Technician: "Dave", ScheduledFor: ptr(date(2024, 1, 25))},
	}

	f.InvoiceRows = []models.Invoice{
		{ID: INV1009ID, SOID: SO1001ID, InvoiceNumber: "INV-1009", AmountCents: 120000, DueDate: date(2024, 9, 30), Status: models.InvoiceOpen, IssuedAt: date(2024, 1, 10)},
		{ID: uuid.MustParse("880e8400-e29b-41d4-a716-446655440002"), SOID: SO2002ID, InvoiceNumber: "INV-2010", AmountCents: 85000, DueDate: date(2024, 2, 15), Status: models.InvoiceOpen, IssuedAt: date(2024, 1, 12)},
		{ID: INV3011ID, SOID: SO3003ID, InvoiceNumber: "INV-3011", AmountCents: 210000, DueDate: date(2024, 2, 8), Status: models.InvoicePaid, IssuedAt: date(2024, 1, 8)},
		{ID: uuid.MustParse("880e8400-e29b-41d4-a716-446655440004"), SOID: SO4004ID, InvoiceNumber: "INV-4012", AmountCents: 150000, DueDate: date(2024, 2, 20), Status: models.InvoiceOpen, IssuedAt: date(2024, 1, 15)},
	}

	f.PaymentRows = []models.Payment{
		{ID: uuid.MustParse("990e8400-e29b-41d4-a716-446655440001"), InvoiceID: INV3011ID, AmountCents: 210000, Method: "ACH", PaidAt: date(2024, 1, 15)},
		{ID: uuid.MustParse("990e8400-e29b-41d4-a716-446655440002"), InvoiceID: INV1009ID, AmountCents: 60000, Method: "Credit Card", PaidAt: date(2024, 1, 20)},
	}

	f.TaskRows = []models.Task{
		{ID: uuid.MustParse("aa0e8400-e29b-41d4-a716-446655440001"), CustomerID: ptr(GaiMediaID), Title: "Investigate shipping SLA for Gai Media", Body: "Check delivery timeframes and customer preferences", Status: models.TaskTodo, CreatedAt: date(2024, 1, 5)},
		{ID: uuid.MustParse("aa0e8400-e29b-41d4-a716-446655440002"), CustomerID: ptr(PCBoilerID), Title: "Schedule maintenance visit", Body: "Coordinate with customer for boiler maintenance", Status: models.TaskDoing, CreatedAt: date(2024, 1, 12)},
		{ID: uuid.MustParse("aa0e8400-e29b-41d4-a716-446655440003"), CustomerID: ptr(KaiMediaID), Title: "Follow up on payment", Body: "Contact customer about overdue invoice", Status: models.TaskTodo, CreatedAt: date(2024, 1, 14)},
		{ID: uuid.MustParse("aa0e8400-e29b-41d4-a716-446655440004"), CustomerID: ptr(TCBoilerID), Title: "Prepare quote for new system", Body: "Create proposal for thermal control upgrade", Status: models.TaskTodo, CreatedAt: date(2024, 1, 15)},
	}

	return f
}

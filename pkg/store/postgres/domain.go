package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/threadline-ai/mnemos/pkg/models"
)

const customerColumns = "customer_id, name, COALESCE(industry, ''), COALESCE(notes, '')"

func scanCustomer(row pgx.Row) (models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Industry, &c.Notes)
	return c, mapError(err)
}

func (s *Store) Customers(ctx context.Context) ([]models.Customer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM domain.customers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", mapError(err))
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) CustomerByID(ctx context.Context, id uuid.UUID) (models.Customer, error) {
	return scanCustomer(s.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM domain.customers WHERE customer_id = $1`, id))
}

func (s *Store) CustomerByName(ctx context.Context, name string) (models.Customer, error) {
	return scanCustomer(s.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM domain.customers WHERE lower(name) = lower($1)`, name))
}

const salesOrderColumns = "so_id, customer_id, so_number, title, status, created_at"

func scanSalesOrder(row pgx.Row) (models.SalesOrder, error) {
	var o models.SalesOrder
	err := row.Scan(&o.ID, &o.CustomerID, &o.SONumber, &o.Title, &o.Status, &o.CreatedAt)
	return o, mapError(err)
}

func (s *Store) SalesOrderByID(ctx context.Context, id uuid.UUID) (models.SalesOrder, error) {
	return scanSalesOrder(s.pool.QueryRow(ctx,
		`SELECT `+salesOrderColumns+` FROM domain.sales_orders WHERE so_id = $1`, id))
}

func (s *Store) SalesOrderByNumber(ctx context.Context, soNumber string) (models.SalesOrder, error) {
	return scanSalesOrder(s.pool.QueryRow(ctx,
		`SELECT `+salesOrderColumns+` FROM domain.sales_orders WHERE upper(so_number) = upper($1)`, soNumber))
}

func (s *Store) SalesOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.SalesOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+salesOrderColumns+` FROM domain.sales_orders WHERE customer_id = $1 ORDER BY created_at`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales orders: %w", mapError(err))
	}
	defer rows.Close()

	var orders []models.SalesOrder
	for rows.Next() {
		o, err := scanSalesOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const workOrderColumns = "wo_id, so_id, COALESCE(description, ''), status, COALESCE(technician, ''), scheduled_for"

func scanWorkOrder(row pgx.Row) (models.WorkOrder, error) {
	var w models.WorkOrder
	err := row.Scan(&w.ID, &w.SOID, &w.Description, &w.Status, &w.Technician, &w.ScheduledFor)
	return w, mapError(err)
}

func (s *Store) WorkOrderByID(ctx context.Context, id uuid.UUID) (models.WorkOrder, error) {
	return scanWorkOrder(s.pool.QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM domain.work_orders WHERE wo_id = $1`, id))
}

func (s *Store) WorkOrdersBySalesOrder(ctx context.Context, soID uuid.UUID) ([]models.WorkOrder, error) {
	return s.queryWorkOrders(ctx,
		`SELECT `+workOrderColumns+` FROM domain.work_orders WHERE so_id = $1 ORDER BY wo_id`, soID)
}

func (s *Store) WorkOrdersByDescription(ctx context.Context, substr string) ([]models.WorkOrder, error) {
	return s.queryWorkOrders(ctx,
		`SELECT `+workOrderColumns+` FROM domain.work_orders WHERE description ILIKE '%' || $1 || '%' ORDER BY wo_id`, substr)
}

func (s *Store) queryWorkOrders(ctx context.Context, sql string, args ...any) ([]models.WorkOrder, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", mapError(err))
	}
	defer rows.Close()

	var orders []models.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, w)
	}
	return orders, rows.Err()
}

const invoiceColumns = "invoice_id, so_id, invoice_number, (amount * 100)::bigint, due_date, status, issued_at"

func scanInvoice(row pgx.Row) (models.Invoice, error) {
	var i models.Invoice
	err := row.Scan(&i.ID, &i.SOID, &i.InvoiceNumber, &i.AmountCents, &i.DueDate, &i.Status, &i.IssuedAt)
	return i, mapError(err)
}

func (s *Store) InvoiceByID(ctx context.Context, id uuid.UUID) (models.Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM domain.invoices WHERE invoice_id = $1`, id))
}

func (s *Store) InvoiceByNumber(ctx context.Context, invoiceNumber string) (models.Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM domain.invoices WHERE upper(invoice_number) = upper($1)`, invoiceNumber))
}

func (s *Store) InvoicesBySalesOrder(ctx context.Context, soID uuid.UUID) ([]models.Invoice, error) {
	return s.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM domain.invoices WHERE so_id = $1 ORDER BY issued_at`, soID)
}

func (s *Store) OpenInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Invoice, error) {
	return s.queryInvoices(ctx,
		`SELECT i.invoice_id, i.so_id, i.invoice_number, (i.amount * 100)::bigint, i.due_date, i.status, i.issued_at
		 FROM domain.invoices i
		 JOIN domain.sales_orders so ON so.so_id = i.so_id
		 WHERE so.customer_id = $1 AND i.status = 'open'
		 ORDER BY i.issued_at`, customerID)
}

func (s *Store) OpenInvoicesDueBy(ctx context.Context, by time.Time) ([]models.Invoice, error) {
	return s.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM domain.invoices WHERE status = 'open' AND due_date <= $1 ORDER BY due_date`, by)
}

func (s *Store) queryInvoices(ctx context.Context, sql string, args ...any) ([]models.Invoice, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", mapError(err))
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, i)
	}
	return invoices, rows.Err()
}

func (s *Store) PaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payment_id, invoice_id, (amount * 100)::bigint, COALESCE(method, ''), paid_at
		 FROM domain.payments WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", mapError(err))
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.PaidAt); err != nil {
			return nil, mapError(err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

const taskColumns = "task_id, customer_id, title, COALESCE(body, ''), status, created_at"

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.CustomerID, &t.Title, &t.Body, &t.Status, &t.CreatedAt)
	return t, mapError(err)
}

func (s *Store) Tasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM domain.tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", mapError(err))
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) TaskByID(ctx context.Context, id uuid.UUID) (models.Task, error) {
	return scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM domain.tasks WHERE task_id = $1`, id))
}

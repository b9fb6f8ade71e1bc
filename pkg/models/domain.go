// Package models contains the data types shared across services: the business
// ontology (customers, sales orders, work orders, invoices, payments, tasks)
// and the chat/memory records layered on top of it.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SalesOrderStatus enumerates the sales order lifecycle.
type SalesOrderStatus string

const (
	SalesOrderDraft         SalesOrderStatus = "draft"
	SalesOrderApproved      SalesOrderStatus = "approved"
	SalesOrderInFulfillment SalesOrderStatus = "in_fulfillment"
	SalesOrderFulfilled     SalesOrderStatus = "fulfilled"
	SalesOrderCancelled     SalesOrderStatus = "cancelled"
)

// Valid reports whether s is a member of the closed status set.
func (s SalesOrderStatus) Valid() bool {
	switch s {
	case SalesOrderDraft, SalesOrderApproved, SalesOrderInFulfillment, SalesOrderFulfilled, SalesOrderCancelled:
		return true
	}
	return false
}

// WorkOrderStatus enumerates the work order lifecycle.
type WorkOrderStatus string

const (
	WorkOrderQueued     WorkOrderStatus = "queued"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderBlocked    WorkOrderStatus = "blocked"
	WorkOrderDone       WorkOrderStatus = "done"
)

func (s WorkOrderStatus) Valid() bool {
	switch s {
	case WorkOrderQueued, WorkOrderInProgress, WorkOrderBlocked, WorkOrderDone:
		return true
	}
	return false
}

// InvoiceStatus enumerates the invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
	InvoicePaid InvoiceStatus = "paid"
	InvoiceVoid InvoiceStatus = "void"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceOpen, InvoicePaid, InvoiceVoid:
		return true
	}
	return false
}

// TaskStatus enumerates the task lifecycle.
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskDoing, TaskDone:
		return true
	}
	return false
}

// Customer is a business customer, parent of sales orders and tasks.
type Customer struct {
	ID       uuid.UUID `json:"customer_id"`
	Name     string    `json:"name"`
	Industry string    `json:"industry,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// SalesOrder is a customer order identified by a human-readable SO number.
type SalesOrder struct {
	ID         uuid.UUID        `json:"so_id"`
	CustomerID uuid.UUID        `json:"customer_id"`
	SONumber   string           `json:"so_number"`
	Title      string           `json:"title"`
	Status     SalesOrderStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Validate checks the closed enumerations before persistence.
func (o SalesOrder) Validate() error {
	if !o.Status.Valid() {
		return fmt.Errorf("invalid sales order status %q", o.Status)
	}
	return nil
}

// WorkOrder is a unit of fulfillment work under a sales order.
type WorkOrder struct {
	ID           uuid.UUID       `json:"wo_id"`
	SOID         uuid.UUID       `json:"so_id"`
	Description  string          `json:"description,omitempty"`
	Status       WorkOrderStatus `json:"status"`
	Technician   string          `json:"technician,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

func (w WorkOrder) Validate() error {
	if !w.Status.Valid() {
		return fmt.Errorf("invalid work order status %q", w.Status)
	}
	return nil
}

// Invoice bills a sales order. Amount is fixed-point 12.2, carried in cents.
type Invoice struct {
	ID            uuid.UUID     `json:"invoice_id"`
	SOID          uuid.UUID     `json:"so_id"`
	InvoiceNumber string        `json:"invoice_number"`
	AmountCents   int64         `json:"amount_cents"`
	DueDate       time.Time     `json:"due_date"`
	Status        InvoiceStatus `json:"status"`
	IssuedAt      time.Time     `json:"issued_at"`
}

func (i Invoice) Validate() error {
	if !i.Status.Valid() {
		return fmt.Errorf("invalid invoice status %q", i.Status)
	}
	return nil
}

// Amount returns the invoice amount in currency units.
func (i Invoice) Amount() float64 {
	return float64(i.AmountCents) / 100
}

// Payment is a (possibly partial) payment against an invoice.
type Payment struct {
	ID          uuid.UUID `json:"payment_id"`
	InvoiceID   uuid.UUID `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method,omitempty"`
	PaidAt      time.Time `json:"paid_at"`
}

// Amount returns the payment amount in currency units.
func (p Payment) Amount() float64 {
	return float64(p.AmountCents) / 100
}

// Task is a free-standing operational task, optionally tied to a customer.
type Task struct {
	ID         uuid.UUID  `json:"task_id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	Title      string     `json:"title"`
	Body       string     `json:"body,omitempty"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (t Task) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("invalid task status %q", t.Status)
	}
	return nil
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusEnumsClosed(t *testing.T) {
	assert.True(t, SalesOrderInFulfillment.Valid())
	assert.False(t, SalesOrderStatus("shipped").Valid())

	assert.True(t, WorkOrderBlocked.Valid())
	assert.False(t, WorkOrderStatus("paused").Valid())

	assert.True(t, InvoiceVoid.Valid())
	assert.False(t, InvoiceStatus("overdue").Valid())

	assert.True(t, TaskDoing.Valid())
	assert.False(t, TaskStatus("stalled").Valid())
}

func TestValidate_RejectsOutOfSetStatus(t *testing.T) {
	err := SalesOrder{SONumber: "SO-9999", Title: "x", Status: "shipped"}.Validate()
	assert.Error(t, err)

	err = Invoice{InvoiceNumber: "INV-9999", Status: "overdue"}.Validate()
	assert.Error(t, err)

	err = WorkOrder{Status: "paused"}.Validate()
	assert.Error(t, err)

	err = Task{Title: "x", Status: "stalled"}.Validate()
	assert.Error(t, err)
}

func TestMemoryValidate(t *testing.T) {
	ttl := 30
	negative := -1

	tests := []struct {
		name    string
		mem     Memory
		wantErr bool
	}{
		{"valid episodic", Memory{Kind: MemoryEpisodic, Text: "x", Importance: 0.5, TTLDays: &ttl}, false},
		{"valid semantic", Memory{Kind: MemorySemantic, Text: "x", Importance: 0.9}, false},
		{"unknown kind", Memory{Kind: "working", Text: "x", Importance: 0.5}, true},
		{"importance above one", Memory{Kind: MemoryEpisodic, Text: "x", Importance: 1.5}, true},
		{"negative importance", Memory{Kind: MemoryEpisodic, Text: "x", Importance: -0.1}, true},
		{"negative ttl", Memory{Kind: MemoryEpisodic, Text: "x", Importance: 0.5, TTLDays: &negative}, true},
		{"semantic with ttl", Memory{Kind: MemorySemantic, Text: "x", Importance: 0.5, TTLDays: &ttl}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mem.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryExpired(t *testing.T) {
	now := time.Now().UTC()
	ttl := 30

	permanent := Memory{Kind: MemorySemantic, CreatedAt: now.AddDate(-1, 0, 0)}
	assert.False(t, permanent.Expired(now))

	fresh := Memory{Kind: MemoryEpisodic, TTLDays: &ttl, CreatedAt: now.AddDate(0, 0, -10)}
	assert.False(t, fresh.Expired(now))

	stale := Memory{Kind: MemoryEpisodic, TTLDays: &ttl, CreatedAt: now.AddDate(0, 0, -31)}
	assert.True(t, stale.Expired(now))
}

func TestInvoiceAmount(t *testing.T) {
	inv := Invoice{AmountCents: 120050}
	assert.InDelta(t, 1200.50, inv.Amount(), 1e-9)
}

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDim is the fixed dimensionality of all stored vectors.
const EmbeddingDim = 1536

// ChatRole enumerates chat event authorship.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

func (r ChatRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatEvent is one append-only row of session transcript.
type ChatEvent struct {
	ID        int64     `json:"event_id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (e ChatEvent) Validate() error {
	if !e.Role.Valid() {
		return fmt.Errorf("invalid chat role %q", e.Role)
	}
	return nil
}

// EntityType enumerates the kinds of business entities the extractor emits.
type EntityType string

const (
	EntityCustomer  EntityType = "customer"
	EntityOrder     EntityType = "order"
	EntityInvoice   EntityType = "invoice"
	EntityWorkOrder EntityType = "work_order"
	EntityTask      EntityType = "task"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityCustomer, EntityOrder, EntityInvoice, EntityWorkOrder, EntityTask:
		return true
	}
	return false
}

// EntitySource records where an entity mention was resolved from.
type EntitySource string

const (
	SourceMessage EntitySource = "message"
	SourceDB      EntitySource = "db"
)

// Match confidence labels carried in ExternalRef.Confidence.
const (
	ConfidenceExact = "exact"
	ConfidenceFuzzy = "fuzzy"
)

// ExternalRef links an extracted entity (or an alias memory) to a concrete
// database row.
type ExternalRef struct {
	Table      string `json:"table,omitempty"`
	ID         string `json:"id,omitempty"`
	Confidence string `json:"confidence,omitempty"`

	// Alias-mapping payload, present when Type is alias_mapping or
	// multilingual_mapping.
	Type        string `json:"type,omitempty"`
	AliasText   string `json:"alias_text,omitempty"`
	EntityName  string `json:"entity_name,omitempty"`
	EntityID    string `json:"entity_id,omitempty"`
	ForeignText string `json:"foreign_text,omitempty"`
	EnglishText string `json:"english_text,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// External ref types for alias memories.
const (
	RefAliasMapping        = "alias_mapping"
	RefMultilingualMapping = "multilingual_mapping"
)

// Entity is a business entity recognized in a message and linked to the
// domain schema. Rows are created during extraction and never edited.
type Entity struct {
	ID          int64        `json:"entity_id"`
	SessionID   uuid.UUID    `json:"session_id"`
	Name        string       `json:"name"`
	Type        EntityType   `json:"type"`
	Source      EntitySource `json:"source"`
	ExternalRef *ExternalRef `json:"external_ref,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MemoryKind enumerates the typed memory categories.
type MemoryKind string

const (
	MemoryEpisodic   MemoryKind = "episodic"
	MemorySemantic   MemoryKind = "semantic"
	MemoryProfile    MemoryKind = "profile"
	MemoryCommitment MemoryKind = "commitment"
	MemoryTodo       MemoryKind = "todo"
)

func (k MemoryKind) Valid() bool {
	switch k {
	case MemoryEpisodic, MemorySemantic, MemoryProfile, MemoryCommitment, MemoryTodo:
		return true
	}
	return false
}

// DefaultEpisodicTTLDays is the time-to-live applied to episodic memories
// when the classifier does not assign one.
const DefaultEpisodicTTLDays = 30

// Memory is a typed, optionally vectorized record of something worth
// remembering. Semantic memories are permanent (nil TTL); episodic memories
// decay. Alias and multilingual mappings are stored as semantic memories with
// a typed ExternalRef.
type Memory struct {
	ID          int64        `json:"memory_id"`
	SessionID   uuid.UUID    `json:"session_id"`
	UserID      string       `json:"user_id"`
	Kind        MemoryKind   `json:"kind"`
	Text        string       `json:"text"`
	Embedding   []float32    `json:"-"`
	Importance  float64      `json:"importance"`
	TTLDays     *int         `json:"ttl_days,omitempty"`
	ExternalRef *ExternalRef `json:"external_ref,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Validate enforces the memory invariants: closed kind set, clamped
// importance, non-negative TTL, and permanence of semantic memories.
func (m Memory) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("invalid memory kind %q", m.Kind)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("importance %v out of [0,1]", m.Importance)
	}
	if m.TTLDays != nil && *m.TTLDays < 0 {
		return fmt.Errorf("negative ttl_days %d", *m.TTLDays)
	}
	if m.Kind == MemorySemantic && m.TTLDays != nil {
		return fmt.Errorf("semantic memories are permanent; ttl_days must be null")
	}
	return nil
}

// Expired reports whether the memory's TTL has elapsed as of now.
func (m Memory) Expired(now time.Time) bool {
	if m.TTLDays == nil {
		return false
	}
	return m.CreatedAt.AddDate(0, 0, *m.TTLDays).Before(now)
}

// MemorySummary is a per-user consolidation artifact, upserted per
// (user_id, session_window).
type MemorySummary struct {
	ID            int64     `json:"summary_id"`
	UserID        string    `json:"user_id"`
	SessionWindow int       `json:"session_window"`
	Summary       string    `json:"summary"`
	Embedding     []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one turn of conversation handed to the LLM.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryRetrievalResult is a scored memory returned by retrieval. Score folds
// cosine similarity with importance and recency weighting. Text may carry
// derived status annotations; it is never written back.
type MemoryRetrievalResult struct {
	MemoryID   int64      `json:"memory_id"`
	Text       string     `json:"text"`
	Kind       MemoryKind `json:"kind"`
	Similarity float64    `json:"similarity"`
	Importance float64    `json:"importance"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DomainFact is one authoritative row (or synthetic derivation) pulled from
// the business schema for prompt grounding.
type DomainFact struct {
	Table          string         `json:"table"`
	ID             string         `json:"id"`
	Data           map[string]any `json:"data"`
	RelevanceScore float64        `json:"relevance_score"`
}

// Synthetic fact table names emitted by the retrieval engine.
const (
	FactMemoryConflicts       = "memory_conflicts"
	FactReasoningChain        = "reasoning_chain"
	FactDBMemoryInconsistency = "db_memory_inconsistency"
	FactInvoicePayments       = "invoice_payments"
)

// RetrievalContext is the bundle of grounding material for one query.
type RetrievalContext struct {
	Memories    []MemoryRetrievalResult `json:"memories"`
	DomainFacts []DomainFact            `json:"domain_facts"`
	Entities    []Entity                `json:"entities"`
}

// PromptContext is the fully assembled input for one LLM completion.
type PromptContext struct {
	SystemPrompt        string
	UserMessage         string
	Memories            []MemoryRetrievalResult
	DomainFacts         []DomainFact
	ConversationHistory []ChatMessage
}

// LLMResponse is a completion plus provenance.
type LLMResponse struct {
	Content string         `json:"content"`
	Usage   map[string]any `json:"usage,omitempty"`
	Model   string         `json:"model"`
}

// ChatRequest is the pipeline input.
type ChatRequest struct {
	UserID    string     `json:"user_id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Message   string     `json:"message"`
}

// CandidateEntity is the wire form of a disambiguation candidate.
type CandidateEntity struct {
	Name        string       `json:"name"`
	Type        EntityType   `json:"type"`
	ExternalRef *ExternalRef `json:"external_ref,omitempty"`
}

// UsedMemory is the wire form of a memory cited in a reply.
type UsedMemory struct {
	MemoryID   int64      `json:"memory_id"`
	Text       string     `json:"text"`
	Similarity float64    `json:"similarity"`
	Kind       MemoryKind `json:"kind"`
}

// ChatResponse is the pipeline output.
type ChatResponse struct {
	Reply                string            `json:"reply"`
	SessionID            uuid.UUID         `json:"session_id"`
	UsedMemories         []UsedMemory      `json:"used_memories"`
	UsedDomainFacts      []DomainFact      `json:"used_domain_facts"`
	DisambiguationNeeded bool              `json:"disambiguation_needed"`
	CandidateEntities    []CandidateEntity `json:"candidate_entities"`
}

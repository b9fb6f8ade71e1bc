// Package pipeline orchestrates chat processing: intent triage, PII
// masking, entity extraction, disambiguation, hybrid retrieval, LLM
// completion, memory classification and persistence, and consolidation.
// Requests for the same session run serially; sessions are independent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/disambig"
	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/entity"
	"github.com/threadline-ai/mnemos/pkg/llm"
	"github.com/threadline-ai/mnemos/pkg/masking"
	"github.com/threadline-ai/mnemos/pkg/memory"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/retrieval"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// processingMode selects how much of the pipeline a message exercises.
type processingMode string

const (
	modeSimple processingMode = "simple"
	modeFull   processingMode = "full"
)

// Stage timeouts. Persistence steps commit before the next external call;
// no transaction spans a provider round trip.
const (
	dbTimeout        = 5 * time.Second
	embedTimeout     = 10 * time.Second
	llmTimeout       = 30 * time.Second
	historyDepth     = 10
	retrievalLimit   = 10
	repoRetryBackoff = 200 * time.Millisecond
)

// generalChatPatterns mark messages eligible for the simple path.
var generalChatPatterns = []string{
	"how are you", "hello", "hi", "thanks", "thank you",
	"good morning", "good afternoon", "good evening",
	"what is the weather", "what time is it", "bye", "goodbye",
	"see you", "take care", "have a good day",
}

// businessKeywords route a message to the full path.
var businessKeywords = []string{
	"customer", "order", "invoice", "payment", "work order", "task",
	"kai media", "tc boiler", "so-", "inv-", "wo-",
	"draft", "send", "reschedule", "create", "update", "complete",
	"prefer", "like", "remember", "policy", "rule", "status",
	"delivery", "schedule", "due", "amount", "balance",
	"agreed", "terms", "net15", "net", "ach", "rush", "monthly", "plan",
}

// forceFullKeywords override the simple path unconditionally.
var forceFullKeywords = []string{
	"tc boiler", "kai media", "net15", "payment terms", "prefer", "agreed", "remember:",
}

// Pipeline wires the chat processing stages together. All collaborators are
// explicit constructor parameters.
type Pipeline struct {
	st            store.Store
	embedder      embedding.Embedder
	completer     llm.Completer
	masker        *masking.Service
	extractor     *entity.Extractor
	disambiguator *disambig.Service
	retriever     *retrieval.Service
	memories      *memory.Service
	classifier    *memory.Classifier
	consolidator  *memory.Consolidator

	sessions *keyedMutex
}

// New creates a chat pipeline.
func New(
	st store.Store,
	embedder embedding.Embedder,
	completer llm.Completer,
	masker *masking.Service,
	extractor *entity.Extractor,
	disambiguator *disambig.Service,
	retriever *retrieval.Service,
	memories *memory.Service,
	classifier *memory.Classifier,
	consolidator *memory.Consolidator,
) *Pipeline {
	return &Pipeline{
		st:            st,
		embedder:      embedder,
		completer:     completer,
		masker:        masker,
		extractor:     extractor,
		disambiguator: disambiguator,
		retriever:     retriever,
		memories:      memories,
		classifier:    classifier,
		consolidator:  consolidator,
		sessions:      newKeyedMutex(),
	}
}

// pipelineState carries one request through the stages.
type pipelineState struct {
	userID        string
	sessionID     uuid.UUID
	message       string // masked form; the only text later stages see
	mode          processingMode
	piiMatches    []masking.Match
	entities      []models.Entity
	history       []models.ChatMessage
	queryVec      []float32
	retrievalCtx  models.RetrievalContext
	reply         models.LLMResponse
}

// Process runs one chat request through the pipeline.
func (p *Pipeline) Process(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if req.UserID == "" {
		return models.ChatResponse{}, store.NewValidationError("user_id", "required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return models.ChatResponse{}, store.NewValidationError("message", "required")
	}

	sessionID := uuid.New()
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}

	p.sessions.Lock(sessionID.String())
	defer p.sessions.Unlock(sessionID.String())

	st := &pipelineState{
		userID:    req.UserID,
		sessionID: sessionID,
		message:   req.Message,
		mode:      modeFull,
	}

	p.triageIntent(st)
	p.maskPII(st)

	if err := p.extractEntities(ctx, st); err != nil {
		return models.ChatResponse{}, err
	}

	if err := p.loadHistory(ctx, st); err != nil {
		return models.ChatResponse{}, err
	}

	decision, err := p.disambiguator.Decide(ctx, st.entities, st.history, st.message, st.sessionID, st.userID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("disambiguation failed: %w", err)
	}
	if decision.Needed {
		return p.clarificationResponse(ctx, st, decision)
	}
	if decision.Selected != nil && len(st.entities) == 0 {
		// Clarification reply: the chosen entity stands in for extraction.
		st.entities = []models.Entity{*decision.Selected}
	}

	p.embedQuery(ctx, st)

	if st.mode == modeFull {
		if err := p.retrieveContext(ctx, st); err != nil {
			slog.Error("Context retrieval failed, continuing without context",
				"session_id", st.sessionID, "error", err)
		}
	}

	p.generateReply(ctx, st)
	p.processMemories(ctx, st)
	p.maybeConsolidate(ctx, st)

	if err := p.persistChatEvents(ctx, st, st.reply.Content); err != nil {
		return models.ChatResponse{}, err
	}

	return buildResponse(st), nil
}

// triageIntent classifies the message into simple or full processing.
func (p *Pipeline) triageIntent(st *pipelineState) {
	lower := strings.ToLower(strings.TrimSpace(st.message))

	for _, kw := range forceFullKeywords {
		if strings.Contains(lower, kw) {
			st.mode = modeFull
			return
		}
	}

	general := false
	for _, pat := range generalChatPatterns {
		if strings.Contains(lower, pat) {
			general = true
			break
		}
	}
	business := false
	for _, kw := range businessKeywords {
		if strings.Contains(lower, kw) {
			business = true
			break
		}
	}

	if general && !business {
		st.mode = modeSimple
	} else {
		st.mode = modeFull
	}
}

// maskPII always runs; downstream stages only ever see the masked text.
func (p *Pipeline) maskPII(st *pipelineState) {
	st.piiMatches = p.masker.Detect(st.message)
	if len(st.piiMatches) > 0 {
		st.message = p.masker.Mask(st.message, st.piiMatches)
		slog.Info("PII masked", "session_id", st.sessionID, "matches", len(st.piiMatches))
	}
}

func (p *Pipeline) extractEntities(ctx context.Context, st *pipelineState) error {
	entities, err := p.extractor.Extract(ctx, st.message, st.sessionID, st.userID)
	if err != nil {
		return fmt.Errorf("entity extraction failed: %w", err)
	}
	entities = p.extractor.LinkToDomain(ctx, entities)

	if len(entities) > 0 {
		dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()
		persisted, err := withRetry(func() ([]models.Entity, error) {
			return p.st.InsertEntities(dbCtx, entities)
		})
		if err != nil {
			return fmt.Errorf("failed to persist entities: %w", err)
		}
		entities = persisted
	}
	st.entities = entities
	return nil
}

func (p *Pipeline) loadHistory(ctx context.Context, st *pipelineState) error {
	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	events, err := p.st.RecentChatEvents(dbCtx, st.sessionID, historyDepth)
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}
	history := make([]models.ChatMessage, len(events))
	for i, e := range events {
		history[i] = models.ChatMessage{Role: e.Role, Content: e.Content, Timestamp: e.CreatedAt}
	}
	st.history = history
	return nil
}

// clarificationResponse persists both turns of the clarification exchange
// and stops the pipeline.
func (p *Pipeline) clarificationResponse(ctx context.Context, st *pipelineState, decision disambig.Result) (models.ChatResponse, error) {
	prompt := disambig.ClarificationPrompt(decision.Candidates)

	if err := p.persistChatEvents(ctx, st, prompt); err != nil {
		return models.ChatResponse{}, err
	}

	candidates := make([]models.CandidateEntity, len(decision.Candidates))
	for i, c := range decision.Candidates {
		candidates[i] = models.CandidateEntity{Name: c.Name, Type: c.Type, ExternalRef: c.ExternalRef}
	}
	return models.ChatResponse{
		Reply:                prompt,
		SessionID:            st.sessionID,
		UsedMemories:         []models.UsedMemory{},
		UsedDomainFacts:      []models.DomainFact{},
		DisambiguationNeeded: true,
		CandidateEntities:    candidates,
	}, nil
}

func (p *Pipeline) embedQuery(ctx context.Context, st *pipelineState) {
	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	vec, err := p.embedder.EmbedText(embedCtx, st.message)
	if err != nil {
		// The client already degrades to a fallback vector; this is a guard.
		slog.Error("Query embedding failed", "session_id", st.sessionID, "error", err)
		vec = embedding.FallbackVector(st.message)
	}
	st.queryVec = vec
}

func (p *Pipeline) retrieveContext(ctx context.Context, st *pipelineState) error {
	rc, err := p.retriever.RetrieveContext(ctx, st.message, st.queryVec, st.userID, st.sessionID, retrievalLimit)
	if err != nil {
		return err
	}
	st.retrievalCtx = rc
	return nil
}

// generateReply calls the LLM. Provider failure yields the canned apology;
// the pipeline continues so events and memories still persist.
func (p *Pipeline) generateReply(ctx context.Context, st *pipelineState) {
	var pc models.PromptContext
	if st.mode == modeSimple {
		pc = retrieval.BuildSimplePrompt(st.message, st.history)
	} else {
		pc = p.retriever.BuildPrompt(ctx, st.message, st.retrievalCtx, st.history)
	}

	llmCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	resp, err := p.completer.GenerateResponse(llmCtx, pc)
	if err != nil {
		slog.Error("LLM completion failed, returning apology", "session_id", st.sessionID, "error", err)
		st.reply = models.LLMResponse{Content: llm.ApologyReply}
		return
	}
	st.reply = resp
}

// processMemories classifies the user message and persists the resulting
// memories. Only user intent is recorded, never LLM output.
func (p *Pipeline) processMemories(ctx context.Context, st *pipelineState) {
	masked := p.masker.MemoryText(st.message, st.piiMatches)

	type pending struct {
		kind       models.MemoryKind
		text       string
		importance float64
		ttlDays    *int
	}
	var toStore []pending

	// Explicit "Remember:" instructions persist verbatim as semantic
	// knowledge. An implicit operational preference yields an episodic
	// record of the action plus the derived durable preference. Everything
	// else goes through the classifier.
	implicit := p.classifier.ImplicitPreference(ctx, st.message)
	switch {
	case strings.Contains(strings.ToLower(st.message), "remember:"):
		toStore = append(toStore, pending{kind: models.MemorySemantic, text: masked, importance: 0.9})

	case implicit != "":
		toStore = append(toStore, pending{kind: models.MemoryEpisodic, text: masked, importance: 0.8})
		toStore = append(toStore, pending{kind: models.MemorySemantic, text: implicit, importance: 0.9})

	case st.mode == modeSimple:
		if len(st.message) > 10 {
			ttl := 7
			toStore = append(toStore, pending{
				kind:       models.MemoryEpisodic,
				text:       "User said: " + masked,
				importance: 0.3,
				ttlDays:    &ttl,
			})
		}

	default:
		cm := p.classifier.Classify(ctx, masked)
		if cm.Category == memory.CategoryAction || cm.Category == memory.CategoryKnowledge ||
			cm.Category == memory.CategoryStatus || cm.Category == memory.CategoryPreference {
			toStore = append(toStore, pending{kind: cm.Kind, text: cm.Text, importance: cm.Importance, ttlDays: cm.TTLDays})
		}
	}

	for _, m := range toStore {
		embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
		vec, err := p.embedder.EmbedText(embedCtx, m.text)
		cancel()
		if err != nil {
			vec = embedding.FallbackVector(m.text)
		}

		_, err = p.memories.Create(ctx, memory.CreateParams{
			SessionID:  st.sessionID,
			UserID:     st.userID,
			Kind:       m.kind,
			Text:       m.text,
			Embedding:  vec,
			Importance: m.importance,
			TTLDays:    m.ttlDays,
		})
		if err != nil {
			slog.Error("Failed to persist memory", "session_id", st.sessionID, "error", err)
		}
	}
}

func (p *Pipeline) maybeConsolidate(ctx context.Context, st *pipelineState) {
	if _, err := p.consolidator.Consolidate(ctx, st.userID, memory.DefaultSessionWindow, false); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Consolidation failed", "user_id", st.userID, "error", err)
		}
	}
}

// persistChatEvents appends the user turn and the assistant reply. Chat
// events are stored in masked form so PII never reaches the transcript.
func (p *Pipeline) persistChatEvents(ctx context.Context, st *pipelineState, reply string) error {
	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := withRetry(func() (models.ChatEvent, error) {
		return p.st.AppendChatEvent(dbCtx, models.ChatEvent{
			SessionID: st.sessionID,
			Role:      models.RoleUser,
			Content:   st.message,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to persist user event: %w", err)
	}

	_, err = withRetry(func() (models.ChatEvent, error) {
		return p.st.AppendChatEvent(dbCtx, models.ChatEvent{
			SessionID: st.sessionID,
			Role:      models.RoleAssistant,
			Content:   reply,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to persist assistant event: %w", err)
	}
	return nil
}

func buildResponse(st *pipelineState) models.ChatResponse {
	used := make([]models.UsedMemory, 0, len(st.retrievalCtx.Memories))
	for _, m := range st.retrievalCtx.Memories {
		used = append(used, models.UsedMemory{
			MemoryID:   m.MemoryID,
			Text:       m.Text,
			Similarity: m.Similarity,
			Kind:       m.Kind,
		})
	}

	facts := st.retrievalCtx.DomainFacts
	if facts == nil {
		facts = []models.DomainFact{}
	}

	return models.ChatResponse{
		Reply:                st.reply.Content,
		SessionID:            st.sessionID,
		UsedMemories:         used,
		UsedDomainFacts:      facts,
		DisambiguationNeeded: false,
		CandidateEntities:    []models.CandidateEntity{},
	}
}

// withRetry retries a repository call once after a short backoff.
func withRetry[T any](fn func() (T, error)) (T, error) {
	out, err := fn()
	if err == nil {
		return out, nil
	}
	time.Sleep(repoRetryBackoff)
	return fn()
}

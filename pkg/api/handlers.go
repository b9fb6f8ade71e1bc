package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/memory"
	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// chatHandler handles POST /api/v1/chat/.
func (s *Server) chatHandler(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	resp, err := s.pipeline.Process(c.Request.Context(), models.ChatRequest{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// memoryHandler handles GET /api/v1/memory/.
func (s *Server) memoryHandler(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeError(c, store.NewValidationError("user_id", "required"))
		return
	}

	k := 10
	if raw := c.Query("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(c, store.NewValidationError("k", "must be an integer in [1,100]"))
			return
		}
		k = parsed
	}

	var kind models.MemoryKind
	if raw := c.Query("kind"); raw != "" {
		kind = models.MemoryKind(raw)
		if !kind.Valid() {
			writeError(c, store.NewValidationError("kind", "unknown memory kind"))
			return
		}
	}

	threshold := 0.0
	if raw := c.Query("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			writeError(c, store.NewValidationError("threshold", "must be a number in [0,1]"))
			return
		}
		threshold = parsed
	}

	memories, summaries, err := s.memories.UserMemories(c.Request.Context(), userID, k)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := memoryResponse{Memories: []memoryItem{}, Summaries: []summaryItem{}}
	for _, m := range memories {
		if kind != "" && m.Kind != kind {
			continue
		}
		if m.Importance < threshold {
			continue
		}
		resp.Memories = append(resp.Memories, memoryItem{
			MemoryID:   m.ID,
			Kind:       string(m.Kind),
			Text:       m.Text,
			Importance: m.Importance,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		})
	}
	for _, sum := range summaries {
		resp.Summaries = append(resp.Summaries, summaryItem{
			SummaryID:     sum.ID,
			SessionWindow: sum.SessionWindow,
			Summary:       sum.Summary,
			CreatedAt:     sum.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// consolidateHandler handles POST /api/v1/consolidate/.
func (s *Server) consolidateHandler(c *gin.Context) {
	var req consolidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	summary, err := s.consolidator.Consolidate(c.Request.Context(), req.UserID, memory.DefaultSessionWindow, true)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "no memories found to consolidate"})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, consolidateResponse{
		SummaryID: summary.ID,
		Message:   fmt.Sprintf("Successfully consolidated memories for user %s", req.UserID),
	})
}

// entitiesHandler handles GET /api/v1/entities/.
func (s *Server) entitiesHandler(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Query("session_id"))
	if err != nil {
		writeError(c, store.NewValidationError("session_id", "must be a UUID"))
		return
	}

	filter := store.EntityFilter{}
	if raw := c.Query("type"); raw != "" {
		t := models.EntityType(raw)
		if !t.Valid() {
			writeError(c, store.NewValidationError("type", "unknown entity type"))
			return
		}
		filter.Type = t
	}
	if raw := c.Query("source"); raw != "" {
		filter.Source = models.EntitySource(raw)
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(c, store.NewValidationError("limit", "must be a positive integer"))
			return
		}
		filter.Limit = parsed
	}

	entities, err := s.st.EntitiesBySession(c.Request.Context(), sessionID, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := entitiesResponse{Entities: []entityItem{}}
	for _, e := range entities {
		item := entityItem{
			EntityID:  e.ID,
			Name:      e.Name,
			Type:      string(e.Type),
			Source:    string(e.Source),
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if e.ExternalRef != nil {
			item.ExternalRef = e.ExternalRef
		}
		resp.Entities = append(resp.Entities, item)
	}
	c.JSON(http.StatusOK, resp)
}

// explainHandler handles GET /api/v1/explain/: it reports the memories by
// kind and the linked database records behind a session's replies.
func (s *Server) explainHandler(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Query("session_id"))
	if err != nil {
		writeError(c, store.NewValidationError("session_id", "must be a UUID"))
		return
	}

	memories, err := s.st.MemoriesBySession(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if raw := c.Query("memory_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, store.NewValidationError("memory_id", "must be an integer"))
			return
		}
		var filtered []models.Memory
		for _, m := range memories {
			if m.ID == id {
				filtered = append(filtered, m)
			}
		}
		memories = filtered
	}

	entities, err := s.st.EntitiesBySession(c.Request.Context(), sessionID, store.EntityFilter{})
	if err != nil {
		writeError(c, err)
		return
	}

	memorySources := make([]map[string]any, 0, len(memories))
	counts := map[models.MemoryKind]int{}
	for _, m := range memories {
		counts[m.Kind]++
		memorySources = append(memorySources, map[string]any{
			"memory_id":  m.ID,
			"kind":       string(m.Kind),
			"text":       m.Text,
			"importance": m.Importance,
			"created_at": m.CreatedAt.Format(time.RFC3339),
		})
	}

	domainSources := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.ExternalRef == nil {
			continue
		}
		domainSources = append(domainSources, map[string]any{
			"entity_name": e.Name,
			"entity_type": string(e.Type),
			"table":       e.ExternalRef.Table,
			"id":          e.ExternalRef.ID,
			"source":      string(e.Source),
		})
	}

	explanation := fmt.Sprintf(
		"This response was generated using %d memory sources and %d domain entities linked to database records for session %s. "+
			"Memory sources include %d semantic, %d episodic, and %d profile memories.",
		len(memorySources), len(domainSources), sessionID,
		counts[models.MemorySemantic], counts[models.MemoryEpisodic], counts[models.MemoryProfile])

	c.JSON(http.StatusOK, explainResponse{
		Explanation:   explanation,
		MemorySources: memorySources,
		DomainSources: domainSources,
	})
}

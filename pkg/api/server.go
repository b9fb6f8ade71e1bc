// Package api provides the HTTP API for the memory engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadline-ai/mnemos/pkg/database"
	"github.com/threadline-ai/mnemos/pkg/memory"
	"github.com/threadline-ai/mnemos/pkg/pipeline"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "mnemos"

// Server is the HTTP API server.
type Server struct {
	engine       *gin.Engine
	st           store.Store
	dbClient     *database.Client // nil in tests
	pipeline     *pipeline.Pipeline
	memories     *memory.Service
	consolidator *memory.Consolidator
}

// NewServer creates the API server and registers all routes.
func NewServer(
	st store.Store,
	dbClient *database.Client,
	pl *pipeline.Pipeline,
	memories *memory.Service,
	consolidator *memory.Consolidator,
) *Server {
	s := &Server{
		engine:       gin.New(),
		st:           st,
		dbClient:     dbClient,
		pipeline:     pl,
		memories:     memories,
		consolidator: consolidator,
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/api/v1")
	v1.GET("/health-check/", s.healthHandler)
	v1.POST("/chat/", s.chatHandler)
	v1.GET("/memory/", s.memoryHandler)
	v1.POST("/consolidate/", s.consolidateHandler)
	v1.GET("/entities/", s.entitiesHandler)
	v1.GET("/explain/", s.explainHandler)
}

// Engine exposes the router for tests and for main to run.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts the HTTP server on the given port.
func (s *Server) Run(port string) error {
	return s.engine.Run(":" + port)
}

// healthHandler reports service and database health.
func (s *Server) healthHandler(c *gin.Context) {
	if s.dbClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": ServiceName,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// Package adminapi exposes a minimal gin health/metrics surface (SPEC_FULL
// §A, §C.4): the full kanban/ticket REST API is an out-of-scope external
// collaborator (spec §1), but the orchestrator still needs something an
// operator or a liveness probe can hit. Shape mirrors the teacher's
// pkg/api/handler_health.go + pkg/api/server.go (gin.Default(), a single
// /health route, JSON body built from live service state).
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
)

// Pinger is the subset of pkg/store.Store the health handler needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueDepth is the subset of pkg/store.Store the health handler reports.
type QueueDepth interface {
	CountActiveAgents(ctx context.Context) (int, error)
}

// Server wraps a gin.Engine exposing the health endpoint.
type Server struct {
	engine *gin.Engine
	store  Pinger
	queue  QueueDepth
	cfg    *config.QueueConfig
	stats  config.ConfigStats
}

// NewServer builds a Server. cfg may be nil to fall back to
// config.DefaultQueueConfig() for the reported cap.
func NewServer(st Pinger, q QueueDepth, cfg *config.QueueConfig, stats config.ConfigStats) *Server {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	s := &Server{store: st, queue: q, cfg: cfg, stats: stats}
	s.engine = gin.Default()
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/readyz", s.handleReady)
	return s
}

// Engine exposes the underlying gin.Engine, e.g. for http.Server wiring in
// cmd/hephaestusd.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := s.store.Ping(reqCtx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": gin.H{"status": "unreachable", "error": err.Error()},
		})
		return
	}

	active, err := s.queue.CountActiveAgents(reqCtx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": gin.H{"status": dbStatus},
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": gin.H{"status": dbStatus},
		"agents": gin.H{
			"active": active,
			"max":    s.cfg.MaxConcurrentAgents,
		},
		"configuration": gin.H{
			"llm_providers": s.stats.LLMProviders,
		},
	})
}

// handleReady is a liveness-only check (no DB round trip), mirroring the
// teacher's separate readiness/liveness split for probes that shouldn't
// hammer the database every few seconds.
func (s *Server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

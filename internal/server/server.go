// Package server is the remote decision surface: a small HTTP API for
// listing pending checkpoints, posting decisions, and streaming run events
// over a websocket. It runs inside the same process as the run loop and
// talks to the gate directly.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"polish/internal/approval"
	"polish/internal/decisionlog"
	"polish/internal/events"
	"polish/internal/oracle"
)

// Server exposes the approval API.
type Server struct {
	gate   *approval.Gate
	log    *decisionlog.Log
	broker *events.Broker
	logger *zap.Logger
	engine *gin.Engine
	http   *http.Server
}

// Options configures New. Gatherer may be nil to use the default registry.
type Options struct {
	Addr     string
	Gate     *approval.Gate
	Log      *decisionlog.Log
	Broker   *events.Broker
	Logger   *zap.Logger
	Gatherer prometheus.Gatherer
}

type decisionBody struct {
	Action   string                  `json:"action" binding:"required"`
	Feedback string                  `json:"feedback"`
	Modified []oracle.Recommendation `json:"modified_recommendations"`
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		gate:   opts.Gate,
		log:    opts.Log,
		broker: opts.Broker,
		logger: opts.Logger,
		engine: engine,
		http:   &http.Server{Addr: opts.Addr, Handler: engine},
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := engine.Group("/api/v1")
	api.GET("/approvals", s.handleListApprovals)
	api.GET("/approvals/:id", s.handleGetApproval)
	api.POST("/approvals/:id/decision", s.handleDecision)
	api.GET("/events", s.handleEvents)
	return s
}

// Handler returns the underlying router, for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("approval server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleListApprovals(c *gin.Context) {
	pending := s.gate.Pending()
	if pending == nil {
		pending = []approval.Request{}
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

// handleGetApproval reports checkpoint state for reconnecting clients:
// pending, resolved (with the stored decision), or gone.
func (s *Server) handleGetApproval(c *gin.Context) {
	id := c.Param("id")
	pending, known := s.gate.Status(id)
	if known {
		c.JSON(http.StatusOK, gin.H{"checkpoint_id": id, "state": stateOf(pending)})
		return
	}
	if s.log != nil {
		entry, err := s.log.GetByCheckpoint(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entry != nil {
			c.JSON(http.StatusOK, gin.H{"checkpoint_id": id, "state": "resolved", "decision": entry})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"checkpoint_id": id, "state": "abandoned"})
}

func (s *Server) handleDecision(c *gin.Context) {
	id := c.Param("id")
	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dec := approval.Decision{
		CheckpointID: id,
		Action:       approval.Action(body.Action),
		Feedback:     body.Feedback,
		Modified:     body.Modified,
	}

	err := s.gate.Submit(c.Request.Context(), dec)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	case errors.Is(err, approval.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"accepted": false, "reason": "already_resolved"})
	case errors.Is(err, approval.ErrAbandoned):
		c.JSON(http.StatusGone, gin.H{"accepted": false, "reason": "abandoned"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "error": err.Error()})
	}
}

func stateOf(pending bool) string {
	if pending {
		return "pending"
	}
	return "resolved"
}

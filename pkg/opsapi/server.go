// Package opsapi exposes the operator surface: health, metrics, and the
// manual dead-letter remediation path.
package opsapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/config"
	"github.com/grantway/grantway/pkg/model"
)

// DeadLetterStore is the slice of a queued-event repository the operator
// API needs.
type DeadLetterStore interface {
	Replay(ctx context.Context, id uuid.UUID) (bool, error)
}

type InboxStore interface {
	DeadLetterStore
	ListDeadLetters(ctx context.Context, limit int) ([]model.InboxEvent, error)
}

type OutboxStore interface {
	DeadLetterStore
	ListDeadLetters(ctx context.Context, limit int) ([]model.OutboxEvent, error)
}

type Server struct {
	router *gin.Engine
	inbox  InboxStore
	outbox OutboxStore
	cfg    *config.Config
	logger *zap.Logger
	srv    *http.Server
}

func NewServer(inbox InboxStore, outbox OutboxStore, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		inbox:  inbox,
		outbox: outbox,
		cfg:    cfg,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/deadletters/inbox", s.listInboxDeadLetters)
		v1.GET("/deadletters/outbox", s.listOutboxDeadLetters)
		v1.POST("/deadletters/:queue/:id/replay", s.replayDeadLetter)
	}

	s.router = router
}

func (s *Server) listInboxDeadLetters(c *gin.Context) {
	events, err := s.inbox.ListDeadLetters(c.Request.Context(), queryLimit(c))
	if err != nil {
		s.logger.Warn("failed to list inbox dead letters", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) listOutboxDeadLetters(c *gin.Context) {
	events, err := s.outbox.ListDeadLetters(c.Request.Context(), queryLimit(c))
	if err != nil {
		s.logger.Warn("failed to list outbox dead letters", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// replayDeadLetter puts one terminal record back into circulation with a
// fresh attempt budget.
func (s *Server) replayDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}

	var store DeadLetterStore
	switch c.Param("queue") {
	case "inbox":
		store = s.inbox
	case "outbox":
		store = s.outbox
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "queue must be inbox or outbox"})
		return
	}

	replayed, err := store.Replay(c.Request.Context(), id)
	if err != nil {
		s.logger.Warn("failed to replay dead letter", zap.String("id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay record"})
		return
	}
	if !replayed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no dead-letter record with that id"})
		return
	}

	s.logger.Info("dead-letter record replayed",
		zap.String("queue", c.Param("queue")),
		zap.String("id", id.String()),
	)
	c.JSON(http.StatusOK, gin.H{"replayed": id.String()})
}

func queryLimit(c *gin.Context) int {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			return 100
		}
	}
	return limit
}

func (s *Server) Run() error {
	s.srv = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: s.cfg.Server.ReadTimeout,
	}
	s.logger.Info("ops server listening", zap.Int("port", s.cfg.Server.HTTPPort))
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Router is exposed for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

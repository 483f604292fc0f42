// Package webhook runs the inbound HTTP server that receives WhatsApp
// notification callbacks and hands normalized messages to the ingestion
// pipeline.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sikumbot/internal/logger"
	"sikumbot/internal/whatsapp"
)

// Enqueuer accepts a normalized message for asynchronous processing without
// blocking the HTTP handler. It reports false when the message was dropped.
type Enqueuer interface {
	Enqueue(msg *whatsapp.IncomingMessage) bool
}

// Server is the webhook HTTP server. It always acknowledges notifications
// with 200 so the provider does not retry: dropped or irrelevant payloads
// are a local concern.
type Server struct {
	log      *slog.Logger
	enqueuer Enqueuer
	srv      *http.Server
}

// NewServer builds the webhook server on the given port.
func NewServer(port int, enqueuer Enqueuer, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		log:      log.With("component", "webhook"),
		enqueuer: enqueuer,
	}

	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(s.log))
	router.POST("/webhook", s.handleWebhook)
	router.GET("/health", s.handleHealth)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Webhook server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		s.log.Info("Webhook server stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	}
}

func (s *Server) handleWebhook(c *gin.Context) {
	var notification whatsapp.Notification
	if err := c.ShouldBindJSON(&notification); err != nil {
		// Malformed payloads are acknowledged anyway; retrying won't fix them.
		s.log.WarnContext(c.Request.Context(), "Discarding malformed webhook payload", "error", err)
		c.Status(http.StatusOK)
		return
	}

	msg := whatsapp.Normalize(&notification)
	if msg == nil {
		c.Status(http.StatusOK)
		return
	}

	if !s.enqueuer.Enqueue(msg) {
		s.log.WarnContext(c.Request.Context(), "Ingest queue full, dropping message",
			"message_id", msg.MessageID, "chat_jid", msg.ChatJID)
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

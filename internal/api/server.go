// Package api is the HTTP surface: the payment gateway webhook, the admin
// kill switch and the health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/flowguard/internal/app"
)

// maxWebhookBody bounds a single gateway delivery.
const maxWebhookBody = 64 << 10

// Server routes HTTP requests into the engine.
type Server struct {
	app    *app.App
	router *gin.Engine
}

// NewServer creates the router.
func NewServer(a *app.App) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{app: a, router: router}

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))
	router.POST("/webhooks/payment", s.handleWebhook)

	admin := router.Group("/admin", s.requireAdmin())
	{
		admin.GET("/integrity", s.handleIntegrityStatus)
		admin.POST("/integrity", s.handleIntegrityChange)
		admin.GET("/sessions/:id", s.handleSession)
		admin.GET("/webhooks", s.handleInbox)
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

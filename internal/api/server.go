// Package api assembles the HTTP server: gin router, middleware chain and routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/findataops/internal/api/handlers"
	"github.com/dvloznov/findataops/internal/api/middleware"
	"github.com/dvloznov/findataops/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds how long Serve waits for in-flight requests.
const ShutdownTimeout = 30 * time.Second

// RouterConfig carries what NewRouter needs beyond the handlers.
type RouterConfig struct {
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	AuthToken string
}

// NewRouter registers every route. /health and /metrics stay outside Auth.
func NewRouter(h *handlers.Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(cfg.Log),
		middleware.Recovery(cfg.Log),
		middleware.Metrics(cfg.Metrics),
		middleware.CORS(),
	)

	r.GET("/health", h.Health)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api", middleware.Auth(cfg.AuthToken))
	{
		api.GET("/transactions", h.ListTransactions)
		api.GET("/anomalies", h.ListAnomalies)
		api.GET("/anomalies/:id", h.GetAnomaly)
		api.POST("/anomalies/:id/acknowledge", h.AcknowledgeAnomaly)
		api.GET("/forecasts", h.ListForecasts)
		api.GET("/runs", h.ListRuns)
		api.GET("/summary", h.Summary)
		api.POST("/ingest", h.EnqueueIngest)
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/:id", h.GetJob)
	}

	r.NoRoute(func(c *gin.Context) {
		middleware.WriteError(c, http.StatusNotFound, "Not found")
	})
	return r
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("Serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("Serve: shutdown: %w", err)
	}
	log.Info().Msg("API server stopped")
	return nil
}

// Package handlers implements the read-and-acknowledge HTTP API over the store
// plus asynchronous ingest job submission.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/findataops/internal/api/middleware"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/institution"
	"github.com/dvloznov/findataops/internal/jobs"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/dvloznov/findataops/internal/metrics"
	"github.com/dvloznov/findataops/internal/store"
	"github.com/gin-gonic/gin"
)

// DefaultRunsLimit caps GET /api/runs when no limit is given.
const DefaultRunsLimit = 50

// Store is the slice of the persistence layer the API needs.
type Store interface {
	store.Reader
	store.Acknowledger
}

// Handler serves every /api route.
type Handler struct {
	store      Store
	publisher  jobs.Publisher
	jobStore   jobs.JobStore
	registry   *institution.Registry
	metrics    *metrics.Metrics
	now        func() time.Time
	queueDepth func() int
}

// Option configures optional Handler dependencies.
type Option func(*Handler)

// WithJobs enables POST /api/ingest and the /api/jobs routes.
func WithJobs(publisher jobs.Publisher, jobStore jobs.JobStore) Option {
	return func(h *Handler) {
		h.publisher = publisher
		h.jobStore = jobStore
		if d, ok := publisher.(interface{ Depth() int }); ok {
			h.queueDepth = d.Depth
		}
	}
}

// WithRegistry makes POST /api/ingest reject unknown institution names up front.
func WithRegistry(r *institution.Registry) Option {
	return func(h *Handler) { h.registry = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now for default date ranges.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func New(s Store, opts ...Option) *Handler {
	h := &Handler{store: s, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	middleware.WriteJSON(c, http.StatusOK, gin.H{
		"status": "healthy",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// internalError logs err with the request logger and writes a generic 500.
func internalError(c *gin.Context, err error, message string) {
	log := logger.FromContext(c.Request.Context())
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(message)
	middleware.WriteError(c, http.StatusInternalServerError, message)
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(c *gin.Context, key string, fallback time.Time) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		middleware.WriteError(c, http.StatusBadRequest, "Invalid "+key+" format, want YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		middleware.WriteError(c, http.StatusBadRequest, "Invalid "+key)
		return 0, false
	}
	return n, true
}

// queryBool parses an optional boolean query parameter.
func queryBool(c *gin.Context, key string) (bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return false, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		middleware.WriteError(c, http.StatusBadRequest, "Invalid "+key)
		return false, false
	}
	return b, true
}

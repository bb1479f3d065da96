package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dvloznov/findataops/internal/api/middleware"
	"github.com/dvloznov/findataops/internal/jobs"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/gin-gonic/gin"
)

type ingestRequest struct {
	URI         string `json:"uri"`
	Institution string `json:"institution"`
}

// EnqueueIngest handles POST /api/ingest
func (h *Handler) EnqueueIngest(c *gin.Context) {
	if h.publisher == nil {
		middleware.WriteError(c, http.StatusServiceUnavailable, "Ingest queue is not configured")
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.URI = strings.TrimSpace(req.URI)
	if req.URI == "" {
		middleware.WriteError(c, http.StatusBadRequest, "uri is required")
		return
	}
	if req.Institution != "" && h.registry != nil {
		if _, ok := h.registry.Lookup(req.Institution); !ok {
			middleware.WriteError(c, http.StatusBadRequest, "Unknown institution "+req.Institution)
			return
		}
	}

	job := &jobs.IngestJob{URI: req.URI, Institution: req.Institution}
	if err := h.publisher.Publish(c.Request.Context(), job); err != nil {
		internalError(c, err, "Failed to enqueue ingest job")
		return
	}
	if h.queueDepth != nil {
		h.metrics.SetQueueDepth(h.queueDepth())
	}

	log := logger.FromContext(c.Request.Context())
	log.Info().
		Str("job_id", job.JobID).
		Str("uri", job.URI).
		Msg("Ingest job enqueued")

	middleware.WriteJSON(c, http.StatusAccepted, gin.H{
		"job_id": job.JobID,
		"status": job.Status,
	})
}

// GetJob handles GET /api/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	if h.jobStore == nil {
		middleware.WriteError(c, http.StatusServiceUnavailable, "Ingest queue is not configured")
		return
	}
	job, err := h.jobStore.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(c, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		internalError(c, err, "Failed to get job")
		return
	}
	middleware.WriteJSON(c, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs?status&limit
func (h *Handler) ListJobs(c *gin.Context) {
	if h.jobStore == nil {
		middleware.WriteError(c, http.StatusServiceUnavailable, "Ingest queue is not configured")
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	list, err := h.jobStore.ListJobs(c.Request.Context(), jobs.JobFilter{
		Status: jobs.JobStatus(c.Query("status")),
		Limit:  limit,
	})
	if err != nil {
		internalError(c, err, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(c, http.StatusOK, gin.H{"jobs": list, "count": len(list)})
}

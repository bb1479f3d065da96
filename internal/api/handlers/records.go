package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dvloznov/findataops/internal/api/middleware"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/dvloznov/findataops/internal/store"
	"github.com/gin-gonic/gin"
)

// ListTransactions handles GET /api/transactions?start_date&end_date
// The range defaults to the last year.
func (h *Handler) ListTransactions(c *gin.Context) {
	today := domain.Date(h.now())
	start, ok := queryDate(c, "start_date", today.AddDate(-1, 0, 0))
	if !ok {
		return
	}
	end, ok := queryDate(c, "end_date", today)
	if !ok {
		return
	}
	if end.Before(start) {
		middleware.WriteError(c, http.StatusBadRequest, "end_date is before start_date")
		return
	}

	txns, err := h.store.TransactionsBetween(c.Request.Context(), start, end)
	if err != nil {
		internalError(c, err, "Failed to query transactions")
		return
	}
	if txns == nil {
		txns = []domain.CanonicalTransaction{}
	}
	middleware.WriteJSON(c, http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// ListAnomalies handles GET /api/anomalies?severity&unacknowledged&limit
func (h *Handler) ListAnomalies(c *gin.Context) {
	var f store.AnomalyFilter
	if raw := c.Query("severity"); raw != "" {
		sev, ok := domain.ParseSeverity(strings.ToLower(raw))
		if !ok {
			middleware.WriteError(c, http.StatusBadRequest, "Invalid severity")
			return
		}
		f.Severity = sev
	}
	var ok bool
	if f.UnacknowledgedOnly, ok = queryBool(c, "unacknowledged"); !ok {
		return
	}
	if f.Limit, ok = queryInt(c, "limit", 0); !ok {
		return
	}

	recs, err := h.store.ListAnomalies(c.Request.Context(), f)
	if err != nil {
		internalError(c, err, "Failed to list anomalies")
		return
	}
	if recs == nil {
		recs = []domain.AnomalyRecord{}
	}
	middleware.WriteJSON(c, http.StatusOK, gin.H{"anomalies": recs, "count": len(recs)})
}

// GetAnomaly handles GET /api/anomalies/:id
func (h *Handler) GetAnomaly(c *gin.Context) {
	rec, err := h.store.GetAnomaly(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(c, http.StatusNotFound, "Anomaly not found")
		return
	}
	if err != nil {
		internalError(c, err, "Failed to get anomaly")
		return
	}
	middleware.WriteJSON(c, http.StatusOK, rec)
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" binding:"required"`
}

// AcknowledgeAnomaly handles POST /api/anomalies/:id/acknowledge
// Repeating the call returns the original acknowledgement unchanged.
func (h *Handler) AcknowledgeAnomaly(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.AcknowledgedBy) == "" {
		middleware.WriteError(c, http.StatusBadRequest, "acknowledged_by is required")
		return
	}

	id := c.Param("id")
	rec, err := h.store.AcknowledgeAnomaly(c.Request.Context(), id, strings.TrimSpace(req.AcknowledgedBy))
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(c, http.StatusNotFound, "Anomaly not found")
		return
	}
	if err != nil {
		internalError(c, err, "Failed to acknowledge anomaly")
		return
	}

	log := logger.FromContext(c.Request.Context())
	log.Info().
		Str("anomaly_id", id).
		Str("acknowledged_by", rec.AcknowledgedBy).
		Msg("Anomaly acknowledged")
	middleware.WriteJSON(c, http.StatusOK, rec)
}

// ListForecasts handles GET /api/forecasts?category&all
// Only the newest forecast per category and month is returned unless all=true.
func (h *Handler) ListForecasts(c *gin.Context) {
	all, ok := queryBool(c, "all")
	if !ok {
		return
	}
	recs, err := h.store.ListForecasts(c.Request.Context(), store.ForecastFilter{
		Category:   c.Query("category"),
		LatestOnly: !all,
	})
	if err != nil {
		internalError(c, err, "Failed to list forecasts")
		return
	}
	if recs == nil {
		recs = []domain.ForecastRecord{}
	}
	middleware.WriteJSON(c, http.StatusOK, gin.H{"forecasts": recs, "count": len(recs)})
}

// ListRuns handles GET /api/runs?limit
func (h *Handler) ListRuns(c *gin.Context) {
	limit, ok := queryInt(c, "limit", DefaultRunsLimit)
	if !ok {
		return
	}
	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	middleware.WriteJSON(c, http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// Summary handles GET /api/summary
func (h *Handler) Summary(c *gin.Context) {
	sum, err := h.store.Summary(c.Request.Context())
	if err != nil {
		internalError(c, err, "Failed to build summary")
		return
	}
	middleware.WriteJSON(c, http.StatusOK, sum)
}

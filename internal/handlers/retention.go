package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"otabridge/internal/models"
	"otabridge/internal/oerr"
)

// GetRetentionStats - GET /api/admin/retention/stats
func (h *Handlers) GetRetentionStats(c *gin.Context) {
	stats := h.retention.Stats()
	if stats == nil {
		c.JSON(http.StatusOK, gin.H{"ran": false})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TriggerRetentionCleanup - POST /api/admin/retention/cleanup
func (h *Handlers) TriggerRetentionCleanup(c *gin.Context) {
	var req models.RetentionCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, oerr.Validation("invalid cleanup body", err))
		return
	}

	deleted, err := h.retention.Cleanup(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// GetMonitoringStatus - GET /api/admin/monitoring/status
func (h *Handlers) GetMonitoringStatus(c *gin.Context) {
	status, err := h.monitor.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

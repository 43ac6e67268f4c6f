package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"otabridge/internal/middleware"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
)

// QueryPayloads - GET /api/admin/payloads
func (h *Handlers) QueryPayloads(c *gin.Context) {
	var req models.PayloadQueryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, oerr.Validation("invalid query parameters", err))
		return
	}

	// raw bodies stay behind the admin role
	if req.IncludeData && !middleware.IsAdmin(c) {
		respondError(c, oerr.Auth("includeData requires the admin role", nil))
		return
	}

	// full-text search prefers the secondary index when available
	if req.SearchText != "" && h.index != nil {
		ids, err := h.index.SearchIDs(c.Request.Context(), req.SearchText, 500)
		if err == nil && len(ids) > 0 {
			req.SearchText = ""
			resp, qerr := h.payloads.Query(c.Request.Context(), req)
			if qerr != nil {
				respondError(c, qerr)
				return
			}
			resp.Items = filterByIDs(resp.Items, ids)
			resp.TotalCount = int64(len(resp.Items))
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	resp, err := h.payloads.Query(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func filterByIDs(items []models.PayloadRecord, ids []string) []models.PayloadRecord {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var out []models.PayloadRecord
	for i := range items {
		if keep[items[i].ID] {
			out = append(out, items[i])
		}
	}
	return out
}

// GetPayload - GET /api/admin/payloads/:id
func (h *Handlers) GetPayload(c *gin.Context) {
	record, err := h.payloads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, oerr.Transient("payload lookup failed", err))
		return
	}
	if record == nil {
		respondError(c, oerr.Validation("payload not found", nil))
		return
	}

	if c.Query("includeData") == "true" {
		if !middleware.IsAdmin(c) {
			respondError(c, oerr.Auth("includeData requires the admin role", nil))
			return
		}
		body, derr := h.payloads.Decompress(record)
		if derr != nil {
			respondError(c, derr)
			return
		}
		record.Body = body
	}
	c.JSON(http.StatusOK, record)
}

// AuditPayload - GET /api/admin/payloads/:id/audit
func (h *Handlers) AuditPayload(c *gin.Context) {
	audit, err := h.payloads.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

// ExportAudit - GET /api/admin/export
// Streams payload metadata for the requested window as JSON or CSV.
func (h *Handlers) ExportAudit(c *gin.Context) {
	var req models.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, oerr.Validation("invalid export parameters", err))
		return
	}
	if req.IncludePayloads && !middleware.IsAdmin(c) {
		respondError(c, oerr.Auth("includePayloads requires the admin role", nil))
		return
	}

	resp, err := h.payloads.Query(c.Request.Context(), models.PayloadQueryRequest{
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		IncludeData: req.IncludePayloads,
		Limit:       500,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	switch req.Format {
	case "", "json":
		c.JSON(http.StatusOK, resp)
	case "csv":
		filename := fmt.Sprintf("payload-export-%s.csv", time.Now().Format("20060102-150405"))
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename="+filename)

		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"id", "correlation_id", "direction", "channel", "operation", "status", "data_level", "created_at"})
		for i := range resp.Items {
			rec := &resp.Items[i]
			_ = w.Write([]string{
				rec.ID, rec.CorrelationID, string(rec.Direction), string(rec.Channel),
				rec.Business.Operation, string(rec.Status), string(rec.Classification.DataLevel),
				rec.CreatedAt.Format(time.RFC3339),
			})
		}
		w.Flush()
	default:
		respondError(c, oerr.Validation("format must be json or csv", nil))
	}
}

// GetComplianceReport - GET /api/admin/compliance
func (h *Handlers) GetComplianceReport(c *gin.Context) {
	var req models.ComplianceReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, oerr.Validation("startDate and endDate are required", err))
		return
	}

	report, err := h.reconciler.ComplianceReport(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListDeadLetters - GET /api/admin/dead-letters
func (h *Handlers) ListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	letters, err := h.deadLetters.List(c.Request.Context(), c.Query("kind"), c.Query("correlationId"), limit)
	if err != nil {
		respondError(c, oerr.Transient("dead-letter query failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": letters})
}

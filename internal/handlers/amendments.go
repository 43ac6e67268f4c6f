package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"otabridge/internal/middleware"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
)

// ListAmendments - GET /api/admin/amendments
func (h *Handlers) ListAmendments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.amendments.List(c.Request.Context(), c.Query("state"), c.Query("bookingId"), limit, offset)
	if err != nil {
		respondError(c, oerr.Transient("amendment query failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetAmendment - GET /api/admin/amendments/:id
func (h *Handlers) GetAmendment(c *gin.Context) {
	a, err := h.amendments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ApproveAmendment - POST /api/admin/amendments/:id/approve
func (h *Handlers) ApproveAmendment(c *gin.Context) {
	var req models.AmendmentDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		respondError(c, oerr.Validation("invalid decision body", err))
		return
	}
	if req.BypassValidation && !middleware.IsAdmin(c) {
		respondError(c, oerr.Auth("bypass_validation requires the admin role", nil))
		return
	}

	a, err := h.amendments.Approve(c.Request.Context(), c.Param("id"), req, middleware.Subject(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// RejectAmendment - POST /api/admin/amendments/:id/reject
func (h *Handlers) RejectAmendment(c *gin.Context) {
	var req models.AmendmentDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		respondError(c, oerr.Validation("invalid decision body", err))
		return
	}

	a, err := h.amendments.Reject(c.Request.Context(), c.Param("id"), req.Reason, middleware.Subject(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// BulkDecideAmendments - POST /api/admin/amendments/bulk
func (h *Handlers) BulkDecideAmendments(c *gin.Context) {
	var req models.BulkAmendmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, oerr.Validation("action and amendment_ids are required", err))
		return
	}
	if len(req.AmendmentIDs) > 100 {
		respondError(c, oerr.Validation("at most 100 amendments per bulk call", nil))
		return
	}

	resp := h.amendments.BulkDecide(c.Request.Context(), req, middleware.Subject(c))
	c.JSON(http.StatusOK, resp)
}

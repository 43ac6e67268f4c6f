package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"otabridge/internal/middleware"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
)

// ChangeBookingStatus - POST /api/admin/bookings/:id/status
// Manual status override. The transition is appended to the audit
// trail; NotifyChannels additionally fans the change out to the OTAs.
func (h *Handlers) ChangeBookingStatus(c *gin.Context) {
	var req models.BookingStatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, oerr.Validation("status is required", err))
		return
	}
	if req.BypassValidation && !middleware.IsAdmin(c) {
		respondError(c, oerr.Auth("bypass_validation requires the admin role", nil))
		return
	}

	bookingID := c.Param("id")
	switch req.Status {
	case "confirmed", "modified", "cancelled", "no_show", "checked_in", "checked_out":
	default:
		if !req.BypassValidation {
			respondError(c, oerr.Validation("unknown booking status "+req.Status, nil))
			return
		}
	}

	trail, err := h.transitions.ListByBooking(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, oerr.Transient("transition lookup failed", err))
		return
	}
	fromStatus := "confirmed"
	if len(trail) > 0 {
		fromStatus = trail[len(trail)-1].ToStatus
	}

	source := "manual:" + middleware.Subject(c)
	if req.BypassValidation {
		source += ":bypassed"
	}

	correlationID, _ := c.Get("correlation_id")
	cid, _ := correlationID.(string)

	t := &models.BookingStatusTransition{
		BookingID:     bookingID,
		FromStatus:    fromStatus,
		ToStatus:      req.Status,
		Reason:        req.Reason,
		Source:        source,
		CorrelationID: cid,
	}
	if err := h.transitions.Create(c.Request.Context(), t); err != nil {
		respondError(c, oerr.Transient("transition write failed", err))
		return
	}

	if req.NotifyChannels {
		kind := models.EventBookingModified
		if req.Status == "cancelled" {
			kind = models.EventBookingCancelled
		}
		if req.HotelID == "" {
			respondError(c, oerr.Validation("hotel_id is required when notify_channels is set", nil))
			return
		}
		if _, err := h.bus.Publish(c.Request.Context(), kind, models.BookingEventPayload{
			BookingID: bookingID,
			HotelID:   req.HotelID,
			Reason:    req.Reason,
			Timestamp: time.Now(),
		}, cid); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, t)
}

// ListBookingTransitions - GET /api/admin/bookings/:id/transitions
func (h *Handlers) ListBookingTransitions(c *gin.Context) {
	trail, err := h.transitions.ListByBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, oerr.Transient("transition lookup failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": trail})
}

// ReconcileBooking - GET /api/admin/reconcile/:bookingId
func (h *Handlers) ReconcileBooking(c *gin.Context) {
	report, err := h.reconciler.Reconcile(c.Request.Context(), c.Query("hotelId"), c.Param("bookingId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"otabridge/internal/inbound"
	"otabridge/internal/models"
)

// ReceiveWebhook - POST /webhooks/channels/:channelId
// The single entry point for OTA deliveries. Always acknowledges fast;
// everything beyond verification and persistence happens on the bus.
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	channel, err := inbound.ParseChannel(c.Param("channelId"))
	if err != nil {
		respondError(c, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
			Code: "VALIDATION", Message: "Request body exceeds the size limit",
		})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.GetHeader(k)
	}

	result, err := h.pipeline.Process(c.Request.Context(), channel,
		c.Request.Method, c.Request.URL.String(), headers, body)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.WebhookAckResponse{OK: true, CorrelationID: result.CorrelationID})
}

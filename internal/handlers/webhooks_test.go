package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"otabridge/internal/oerr"
)

func webhookRouter(maxBody int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, maxBody)
	r := gin.New()
	r.POST("/webhooks/channels/:channelId", h.ReceiveWebhook)
	return r
}

func TestReceiveWebhookUnknownChannel(t *testing.T) {
	r := webhookRouter(1 << 20)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channels/ctrip", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown channel")
}

func TestReceiveWebhookOversizedBody(t *testing.T) {
	r := webhookRouter(32)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channels/expedia", bytes.NewBuffer(bytes.Repeat([]byte("a"), 64)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		code int
	}{
		{oerr.Validation("bad input", nil), http.StatusBadRequest},
		{oerr.Auth("no", nil), http.StatusUnauthorized},
		{oerr.BusinessRule("conflict", nil), http.StatusConflict},
		{oerr.RateLimited("slow down", 0), http.StatusTooManyRequests},
		{oerr.Transient("down", nil), http.StatusServiceUnavailable},
		{oerr.Integrity("broken", nil), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		respondError(c, tc.err)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}
}

func TestRespondErrorSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	respondError(c, oerr.RateLimited("slow down", 5*time.Second))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

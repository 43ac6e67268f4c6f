package channels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otabridge/internal/models"
)

func rateEvent(t *testing.T, channel models.Channel) *models.Event {
	t.Helper()
	payload, err := json.Marshal(models.RateUpdatePayload{
		HotelID:  "h-1",
		Channel:  channel,
		RoomType: "std-dbl",
		Date:     "2026-09-01",
		Rate:     14500,
		Currency: "KZT",
	})
	require.NoError(t, err)
	return &models.Event{ID: "evt-1", Kind: models.EventRateUpdate, Payload: payload}
}

func TestRegistryForEventAllChannels(t *testing.T) {
	reg := DefaultRegistry()
	matched := reg.ForEvent(rateEvent(t, ""))
	assert.Len(t, matched, 4)
}

func TestRegistryForEventNarrowsToNamedChannel(t *testing.T) {
	reg := DefaultRegistry()
	matched := reg.ForEvent(rateEvent(t, models.ChannelAirbnb))
	require.Len(t, matched, 1)
	assert.Equal(t, "airbnb", matched[0].Name())
}

func TestAirbnbSkipsRoomTypeUpdates(t *testing.T) {
	payload, _ := json.Marshal(models.RoomTypeUpdatedPayload{HotelID: "h-1", RoomType: "std-dbl"})
	e := &models.Event{Kind: models.EventRoomTypeUpdated, Payload: payload}

	reg := DefaultRegistry()
	for _, a := range reg.ForEvent(e) {
		assert.NotEqual(t, "airbnb", a.Name())
	}
	assert.Len(t, reg.ForEvent(e), 3)
}

func TestRegistryByNameAndChannel(t *testing.T) {
	reg := DefaultRegistry()

	a, ok := reg.ByName("agoda")
	require.True(t, ok)
	assert.Equal(t, models.ChannelAgoda, a.Channel())

	a, ok = reg.ByChannel(models.ChannelExpedia)
	require.True(t, ok)
	assert.Equal(t, "expedia", a.Name())

	_, ok = reg.ByName("ctrip")
	assert.False(t, ok)
}

func TestBookingComSerializeRateUpdate(t *testing.T) {
	adapter := NewBookingComAdapter()
	req, err := adapter.Serialize(rateEvent(t, ""), nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://supply-api.booking.com/v2/hotels/h-1/rates", req.URL)

	var body bookingComRateUpdate
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "std-dbl", body.RoomID)
	assert.Equal(t, int64(14500), body.Price)
	assert.Equal(t, "KZT", body.Currency)
}

func TestBookingComSerializeUsesConfigEndpointAndCurrency(t *testing.T) {
	adapter := NewBookingComAdapter()
	e := rateEvent(t, "")
	var p models.RateUpdatePayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	p.Currency = ""
	e.Payload, _ = json.Marshal(p)

	cfg := &models.ChannelConfig{
		Currency:  "USD",
		Endpoints: map[string]string{"base": "https://sandbox.local"},
	}
	req, err := adapter.Serialize(e, cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.local/hotels/h-1/rates", req.URL)

	var body bookingComRateUpdate
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "USD", body.Currency)
}

func TestBookingComSerializeBookingAck(t *testing.T) {
	payload, _ := json.Marshal(models.BookingEventPayload{BookingID: "b-7", HotelID: "h-1", Reason: "guest request"})
	e := &models.Event{Kind: models.EventBookingCancelled, Payload: payload}

	req, err := NewBookingComAdapter().Serialize(e, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://supply-api.booking.com/v2/hotels/h-1/reservations/b-7/ack", req.URL)

	var body bookingComReservationAck
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "cancelled", body.Status)
	assert.Equal(t, "guest request", body.Reason)
}

func TestBookingComSign(t *testing.T) {
	req := &Request{Headers: map[string]string{}}
	NewBookingComAdapter().Sign(req, &models.ChannelConfig{Credentials: "machine:pass"})
	assert.Equal(t, "Basic bWFjaGluZTpwYXNz", req.Headers["Authorization"])
}

func TestAirbnbSignAddsBodyHMAC(t *testing.T) {
	req := &Request{Headers: map[string]string{}, Body: []byte(`{"listing_id":"h-1"}`)}
	cfg := &models.ChannelConfig{Credentials: "tok", SignatureSecret: "hush"}
	NewAirbnbAdapter().Sign(req, cfg)

	assert.Equal(t, "Bearer tok", req.Headers["Authorization"])

	mac := hmac.New(sha256.New, []byte("hush"))
	mac.Write(req.Body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), req.Headers["X-Airbnb-Signature"])
}

func TestAgodaSign(t *testing.T) {
	req := &Request{Headers: map[string]string{}}
	NewAgodaAdapter().Sign(req, &models.ChannelConfig{Credentials: "api-key-1"})
	assert.Equal(t, "api-key-1", req.Headers["X-Api-Key"])
}

func TestParseResponseClassification(t *testing.T) {
	adapter := NewExpediaAdapter()

	assert.True(t, adapter.ParseResponse(200, nil).OK)
	assert.True(t, adapter.ParseResponse(503, nil).Retryable)
	assert.True(t, adapter.ParseResponse(429, nil).Retryable)

	out := adapter.ParseResponse(400, nil)
	assert.False(t, out.OK)
	assert.False(t, out.Retryable)
}

func TestBookingComParseResponseRetryAfterHint(t *testing.T) {
	out := NewBookingComAdapter().ParseResponse(429, []byte(`{"retry_after_seconds":30}`))
	assert.False(t, out.OK)
	assert.True(t, out.Retryable)
	assert.Equal(t, 30*time.Second, out.NextDelayHint)
}

func TestAirbnbParseResponseTypedThrottle(t *testing.T) {
	out := NewAirbnbAdapter().ParseResponse(400, []byte(`{"error_type":"rate_limit_exceeded"}`))
	assert.True(t, out.Retryable)

	out = NewAirbnbAdapter().ParseResponse(400, []byte(`{"error_type":"validation"}`))
	assert.False(t, out.Retryable)
}

func TestAgodaParseResponseErrorEnvelope(t *testing.T) {
	out := NewAgodaAdapter().ParseResponse(200, []byte(`{"status":"error","retryable":true,"retryAfterMs":1500}`))
	assert.False(t, out.OK)
	assert.True(t, out.Retryable)
	assert.Equal(t, 1500*time.Millisecond, out.NextDelayHint)

	assert.True(t, NewAgodaAdapter().ParseResponse(200, []byte(`{"status":"ok"}`)).OK)
}

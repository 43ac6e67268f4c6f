package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otabridge/internal/channels"
	"otabridge/internal/config"
	"otabridge/internal/models"
)

func TestIdempotencyKey(t *testing.T) {
	key := IdempotencyKey("evt-1", "bookingcom")

	assert.Len(t, key, 32)
	assert.Equal(t, key, IdempotencyKey("evt-1", "bookingcom"))
	assert.NotEqual(t, key, IdempotencyKey("evt-1", "expedia"))
	assert.NotEqual(t, key, IdempotencyKey("evt-2", "bookingcom"))
}

func TestBackoff(t *testing.T) {
	d := New(config.DispatchConfig{
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}, channels.DefaultRegistry(), nil, nil, nil, nil)

	prev := time.Duration(0)
	for attempt := 0; attempt < 5; attempt++ {
		delay := d.Backoff(attempt)
		base := time.Second << uint(attempt)
		assert.GreaterOrEqual(t, delay, base, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, base+base/4, "attempt %d", attempt)
		assert.Greater(t, delay, prev/2)
		prev = delay
	}

	// deep attempts clamp to the cap plus jitter
	delay := d.Backoff(30)
	assert.GreaterOrEqual(t, delay, time.Minute)
	assert.LessOrEqual(t, delay, time.Minute+15*time.Second)
}

func TestHandleAcksEventsNoAdapterWants(t *testing.T) {
	d := New(config.DispatchConfig{}, channels.DefaultRegistry(), nil, nil, nil, nil)

	payload, err := json.Marshal(models.AmendmentReceivedPayload{AmendmentID: "a-1", HotelID: "h-1"})
	require.NoError(t, err)
	e := &models.Event{ID: "evt-1", Kind: models.EventAmendmentReceived, Payload: payload}

	acked, nacked := false, false
	d.Handle(context.Background(), e,
		func() { acked = true },
		func(time.Duration) { nacked = true },
	)
	assert.True(t, acked)
	assert.False(t, nacked)
}

func TestHandleAcksEventsWithoutHotelID(t *testing.T) {
	d := New(config.DispatchConfig{}, channels.DefaultRegistry(), nil, nil, nil, nil)

	e := &models.Event{ID: "evt-2", Kind: models.EventRateUpdate, Payload: json.RawMessage(`{"room_type":"std"}`)}

	acked := false
	d.Handle(context.Background(), e,
		func() { acked = true },
		func(time.Duration) {},
	)
	assert.True(t, acked)
}

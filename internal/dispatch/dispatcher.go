// Package dispatch delivers bus events to OTA channels. It owns
// everything between the bus and the wire: per-channel rate limits,
// circuit breakers, booking-level serialization, idempotency keys and
// the outbound payload audit trail.
package dispatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"otabridge/internal/bus"
	"otabridge/internal/cache"
	"otabridge/internal/channels"
	"otabridge/internal/config"
	"otabridge/internal/metrics"
	"otabridge/internal/models"
	"otabridge/internal/payload"
	"otabridge/internal/repository"
)

const responseBodyLimit = 64 << 10

// dispatchKinds is the full set of event kinds pushed out to channels
var dispatchKinds = []string{
	models.EventBookingModified,
	models.EventBookingCancelled,
	models.EventRateUpdate,
	models.EventInventoryAvailability,
	models.EventStopSellChanged,
	models.EventRoomTypeUpdated,
	models.EventAmendmentDecided,
}

// Dispatcher subscribes to the bus and fans events out to every
// enabled channel adapter for the event's hotel.
type Dispatcher struct {
	cfg      config.DispatchConfig
	registry *channels.Registry
	channels *repository.ChannelConfigRepository
	store    *payload.Store
	cache    *cache.Client
	metrics  *metrics.Metrics
	client   *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg config.DispatchConfig, registry *channels.Registry,
	channelRepo *repository.ChannelConfigRepository, store *payload.Store,
	cacheClient *cache.Client, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		channels: channelRepo,
		store:    store,
		cache:    cacheClient,
		metrics:  m,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register attaches the dispatcher to the bus. Must run before bus.Start.
func (d *Dispatcher) Register(b *bus.Bus, maxAttempts int) {
	b.Subscribe(dispatchKinds, d.Handle, d.cfg.Workers, maxAttempts)
}

// Handle processes one bus event. The event is acked only when every
// applicable adapter either succeeded or failed permanently; any
// retryable failure nacks the whole event, and idempotency keys make
// the replay safe for the channels that already took it.
func (d *Dispatcher) Handle(ctx context.Context, e *models.Event, ack bus.AckFunc, nack bus.NackFunc) {
	adapters := d.registry.ForEvent(e)
	if len(adapters) == 0 {
		ack()
		return
	}

	hotelID := channels.HotelID(e)
	if hotelID == "" {
		slog.Warn("Event without hotel id skipped", "event_id", e.ID, "kind", e.Kind)
		ack()
		return
	}

	// booking events for one booking must not interleave across workers
	if unlock, ok, err := d.lockBooking(ctx, e); err != nil || !ok {
		if err != nil {
			slog.Error("Booking lock failed", "event_id", e.ID, "error", err)
		}
		nack(0)
		return
	} else if unlock != nil {
		defer unlock()
	}

	var retryDelay time.Duration
	retry := false

	for _, adapter := range adapters {
		cfg, err := d.channels.Get(ctx, hotelID, adapter.Channel())
		if err != nil {
			slog.Error("Channel config lookup failed", "hotel_id", hotelID, "channel", adapter.Channel(), "error", err)
			retry = true
			continue
		}
		if cfg == nil || !cfg.Enabled {
			continue
		}

		delay, err := d.deliver(ctx, adapter, cfg, e)
		if err == nil {
			continue
		}
		if delay >= 0 {
			retry = true
			if delay > retryDelay {
				retryDelay = delay
			}
			slog.Warn("Channel delivery will retry",
				"event_id", e.ID, "channel", adapter.Channel(), "hotel_id", hotelID,
				"attempt", e.Attempts+1, "error", err)
		} else {
			slog.Error("Channel delivery failed permanently",
				"event_id", e.ID, "channel", adapter.Channel(), "hotel_id", hotelID, "error", err)
		}
	}

	if retry {
		if retryDelay <= 0 {
			retryDelay = d.Backoff(e.Attempts)
		}
		nack(retryDelay)
		return
	}
	ack()
}

// deliver sends one event to one channel. The returned delay is >= 0
// for retryable failures (0 means caller picks the backoff) and -1 for
// permanent ones.
func (d *Dispatcher) deliver(ctx context.Context, adapter channels.Adapter, cfg *models.ChannelConfig, e *models.Event) (time.Duration, error) {
	key := fmt.Sprintf("%s:%s", cfg.HotelID, adapter.Channel())

	// breaker first so a dark channel costs nothing
	if wait, open, err := d.circuitOpen(ctx, key); err != nil {
		return 0, err
	} else if open {
		d.observe(cfg.HotelID, adapter.Channel(), "parked")
		return wait, fmt.Errorf("circuit open for %s", key)
	}

	if ok, wait, err := d.allow(ctx, adapter, cfg, key); err != nil {
		return 0, err
	} else if !ok {
		d.observe(cfg.HotelID, adapter.Channel(), "throttled")
		return wait, fmt.Errorf("rate limit exhausted for %s", key)
	}

	req, err := adapter.Serialize(e, cfg)
	if err != nil {
		// a payload the adapter cannot express will never improve
		return -1, err
	}
	if adapter.SupportsIdempotency() {
		req.Headers["Idempotency-Key"] = IdempotencyKey(e.ID, adapter.Name())
	}
	adapter.Sign(req, cfg)

	start := time.Now()
	status, respBody, err := d.send(ctx, req)
	if d.metrics != nil {
		d.metrics.DispatchLatency.WithLabelValues(string(adapter.Channel())).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		d.recordFailure(ctx, key, cfg.HotelID, adapter.Channel())
		d.observe(cfg.HotelID, adapter.Channel(), "error")
		return 0, fmt.Errorf("channel call failed: %w", err)
	}

	outcome := adapter.ParseResponse(status, respBody)
	d.record(ctx, adapter, cfg, e, req, status, respBody, outcome)

	if outcome.OK {
		d.recordSuccess(ctx, key)
		d.observe(cfg.HotelID, adapter.Channel(), "ok")
		return 0, nil
	}
	if outcome.Retryable {
		d.recordFailure(ctx, key, cfg.HotelID, adapter.Channel())
		d.observe(cfg.HotelID, adapter.Channel(), "retry")
		return outcome.NextDelayHint, fmt.Errorf("channel returned retryable status %d", status)
	}
	d.observe(cfg.HotelID, adapter.Channel(), "rejected")
	return -1, fmt.Errorf("channel rejected request with status %d", status)
}

func (d *Dispatcher) send(ctx context.Context, req *channels.Request) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// record writes the outbound request/response pair to the payload store
// and advances its processing status from the outcome.
func (d *Dispatcher) record(ctx context.Context, adapter channels.Adapter, cfg *models.ChannelConfig,
	e *models.Event, req *channels.Request, status int, respBody []byte, outcome channels.Outcome) {
	rec, err := d.store.StoreOutbound(ctx, payload.Message{
		CorrelationID:  e.CorrelationID,
		Channel:        adapter.Channel(),
		HotelID:        cfg.HotelID,
		Method:         req.Method,
		URL:            req.URL,
		Headers:        req.Headers,
		Body:           req.Body,
		Operation:      e.Kind,
		ResponseStatus: &status,
		ResponseBody:   respBody,
	})
	if err != nil {
		slog.Error("Outbound payload record failed", "event_id", e.ID, "channel", adapter.Channel(), "error", err)
		return
	}

	final := models.StatusProcessed
	reason := ""
	if !outcome.OK {
		final = models.StatusFailed
		reason = fmt.Sprintf("channel returned status %d", status)
	}
	if err := d.store.MarkStatus(ctx, rec.ID, final, reason); err != nil {
		slog.Error("Outbound payload status update failed", "payload_id", rec.ID, "error", err)
	}
}

// allow checks both the in-process limiter and the Redis window shared
// with other dispatcher instances.
func (d *Dispatcher) allow(ctx context.Context, adapter channels.Adapter, cfg *models.ChannelConfig, key string) (bool, time.Duration, error) {
	profile := adapter.RateLimit()
	if cfg.RequestsPerSec > 0 {
		profile.RequestsPerSecond = cfg.RequestsPerSec
	}
	if cfg.Burst > 0 {
		profile.Burst = cfg.Burst
	}

	if !d.limiter(key, profile).Allow() {
		return false, d.cfg.RateLimitWait, nil
	}

	if d.cache != nil {
		ok, err := d.cache.AllowRequest(ctx, key, profile.RequestsPerSecond, profile.Burst)
		if err != nil {
			return false, 0, err
		}
		if !ok {
			return false, d.cfg.RateLimitWait, nil
		}
	}
	return true, 0, nil
}

func (d *Dispatcher) limiter(key string, profile channels.RateLimitProfile) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(profile.RequestsPerSecond), profile.Burst)
	d.limiters[key] = l
	return l
}

// circuitOpen reports whether the breaker for key is open, and if so
// how long to park the event. An elapsed cool-off flips to half_open,
// letting one probe through.
func (d *Dispatcher) circuitOpen(ctx context.Context, key string) (time.Duration, bool, error) {
	if d.cache == nil {
		return 0, false, nil
	}
	state, err := d.cache.GetCircuit(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if state.State != "open" {
		return 0, false, nil
	}

	elapsed := time.Since(state.OpenedAt)
	if elapsed < d.cfg.CircuitCooloff {
		return d.cfg.CircuitCooloff - elapsed, true, nil
	}

	state.State = "half_open"
	if err := d.cache.SetCircuit(ctx, key, state); err != nil {
		return 0, false, err
	}
	return 0, false, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, key, hotelID string, channel models.Channel) {
	if d.cache == nil {
		return
	}
	state, err := d.cache.GetCircuit(ctx, key)
	if err != nil {
		slog.Error("Circuit read failed", "key", key, "error", err)
		return
	}
	state.Failures++
	if state.State == "half_open" || state.Failures >= d.cfg.CircuitThreshold {
		state.State = "open"
		state.OpenedAt = time.Now()
		slog.Warn("Circuit opened", "key", key, "failures", state.Failures)
	}
	if err := d.cache.SetCircuit(ctx, key, state); err != nil {
		slog.Error("Circuit write failed", "key", key, "error", err)
	}
	d.gauge(hotelID, channel, state.State)
}

func (d *Dispatcher) recordSuccess(ctx context.Context, key string) {
	if d.cache == nil {
		return
	}
	state, err := d.cache.GetCircuit(ctx, key)
	if err != nil {
		slog.Error("Circuit read failed", "key", key, "error", err)
		return
	}
	if state.State == "closed" && state.Failures == 0 {
		return
	}
	if state.State != "closed" {
		slog.Info("Circuit closed", "key", key)
	}
	if err := d.cache.SetCircuit(ctx, key, cache.CircuitState{State: "closed"}); err != nil {
		slog.Error("Circuit write failed", "key", key, "error", err)
	}
}

func (d *Dispatcher) gauge(hotelID string, channel models.Channel, state string) {
	if d.metrics == nil {
		return
	}
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	d.metrics.CircuitState.WithLabelValues(hotelID, string(channel)).Set(v)
}

func (d *Dispatcher) observe(hotelID string, channel models.Channel, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.DispatchTotal.WithLabelValues(hotelID, string(channel), outcome).Inc()
}

// lockBooking serializes booking-level events. Non-booking kinds need
// no lock and return a nil unlock with ok=true.
func (d *Dispatcher) lockBooking(ctx context.Context, e *models.Event) (func(), bool, error) {
	bookingID := bookingIDOf(e)
	if bookingID == "" || d.cache == nil {
		return nil, true, nil
	}

	holder := e.ID
	key := "booking:" + bookingID
	ok, err := d.cache.AcquireLock(ctx, key, holder, d.cfg.LockTTL, d.cfg.LockWait)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		if err := d.cache.ReleaseLock(context.Background(), key, holder); err != nil {
			slog.Error("Booking lock release failed", "booking_id", bookingID, "error", err)
		}
	}, true, nil
}

func bookingIDOf(e *models.Event) string {
	switch e.Kind {
	case models.EventBookingModified, models.EventBookingCancelled, models.EventAmendmentDecided:
	default:
		return ""
	}
	var probe struct {
		BookingID string `json:"booking_id"`
	}
	if err := json.Unmarshal(e.Payload, &probe); err != nil {
		return ""
	}
	return probe.BookingID
}

// IdempotencyKey derives the per-channel retry key for an event
func IdempotencyKey(eventID, adapterName string) string {
	sum := sha256.Sum256([]byte(eventID + "|" + adapterName))
	return hex.EncodeToString(sum[:])[:32]
}

// Backoff is the dispatcher retry curve: base doubling per attempt,
// capped, plus up to 25% jitter.
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase << uint(attempt)
	if delay > d.cfg.BackoffMax || delay <= 0 {
		delay = d.cfg.BackoffMax
	}
	return delay + time.Duration(rand.Int63n(int64(delay)/4+1))
}

// Package inbound implements the webhook intake pipeline: verify,
// dedup, persist, classify and route. Every request leaves a payload
// record behind, including the ones that fail verification.
package inbound

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"otabridge/internal/bus"
	"otabridge/internal/cache"
	"otabridge/internal/config"
	"otabridge/internal/metrics"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/payload"
	"otabridge/internal/repository"
)

// AmendmentSink receives booking change requests routed off the pipeline
type AmendmentSink interface {
	CreateFromWebhook(ctx context.Context, record *models.PayloadRecord, body []byte) (*models.Amendment, error)
}

// channelProfile names the per-channel webhook headers
type channelProfile struct {
	signatureHeader string
	signaturePrefix string
	eventIDHeader   string
}

var channelProfiles = map[models.Channel]channelProfile{
	models.ChannelBookingCom: {signatureHeader: "X-Booking-Signature", eventIDHeader: "X-Booking-Event-Id"},
	models.ChannelExpedia:    {signatureHeader: "X-Expedia-Signature", eventIDHeader: "X-Expedia-Message-Id"},
	models.ChannelAirbnb:     {signatureHeader: "X-Airbnb-Signature", signaturePrefix: "sha256=", eventIDHeader: "X-Airbnb-Delivery-Id"},
	models.ChannelAgoda:      {signatureHeader: "X-Agoda-Signature", eventIDHeader: "X-Agoda-Event-Id"},
}

// Result is what the webhook endpoint returns to the channel
type Result struct {
	PayloadID     string
	CorrelationID string
	Duplicate     bool
}

// Pipeline processes inbound webhook deliveries
type Pipeline struct {
	cfg        config.InboundConfig
	store      *payload.Store
	channels   *repository.ChannelConfigRepository
	cache      *cache.Client
	bus        *bus.Bus
	amendments AmendmentSink
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
}

func New(cfg config.InboundConfig, store *payload.Store, channelRepo *repository.ChannelConfigRepository,
	cacheClient *cache.Client, b *bus.Bus, amendments AmendmentSink, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		channels:   channelRepo,
		cache:      cacheClient,
		bus:        b,
		amendments: amendments,
		metrics:    m,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
	}
}

// ParseChannel maps the path parameter onto a known channel
func ParseChannel(channelID string) (models.Channel, error) {
	switch models.Channel(channelID) {
	case models.ChannelBookingCom, models.ChannelExpedia, models.ChannelAirbnb, models.ChannelAgoda:
		return models.Channel(channelID), nil
	}
	return "", oerr.Validation(fmt.Sprintf("unknown channel %q", channelID), nil)
}

// Process runs the full intake for one delivery. The raw body has
// already been size-capped by the transport layer.
func (p *Pipeline) Process(ctx context.Context, channel models.Channel, method, url string,
	headers map[string]string, body []byte) (*Result, error) {

	if !p.limiter.Allow() {
		p.observe(channel, "throttled")
		return nil, oerr.RateLimited("inbound request rate exceeded", time.Second)
	}

	cfg, err := p.verify(ctx, channel, headers, body)
	if err != nil {
		p.observe(channel, "rejected")
		// keep the rejected delivery for forensics
		if rec, serr := p.store.StoreInbound(ctx, payload.Message{
			CorrelationID: "",
			Channel:       channel,
			Method:        method,
			URL:           url,
			Headers:       headers,
			Body:          body,
			Operation:     operationOf(body),
		}); serr != nil {
			slog.Error("Failed to store rejected delivery", "channel", channel, "error", serr)
		} else if merr := p.store.MarkStatus(ctx, rec.ID, models.StatusIgnored, "signature verification failed"); merr != nil {
			slog.Error("Failed to mark rejected delivery", "payload_id", rec.ID, "error", merr)
		}
		return nil, err
	}

	operation := operationOf(body)
	record, err := p.store.StoreInbound(ctx, payload.Message{
		CorrelationID: "",
		Channel:       channel,
		HotelID:       cfg.HotelID,
		Method:        method,
		URL:           url,
		Headers:       headers,
		Body:          body,
		Operation:     operation,
	})
	if err != nil {
		p.observe(channel, "error")
		return nil, err
	}

	// duplicate deliveries short-circuit to the first stored result;
	// the redundant record is kept but marked ignored
	if p.cache != nil {
		eventID := channelEventID(channel, headers, body)
		first, priorID, derr := p.cache.MarkSeen(ctx, string(channel), eventID, record.ID, p.cfg.DedupTTL)
		if derr != nil {
			slog.Warn("Dedup check unavailable, processing anyway", "channel", channel, "error", derr)
		} else if !first && priorID != "" && priorID != record.ID {
			if merr := p.store.MarkStatus(ctx, record.ID, models.StatusIgnored, "duplicate of "+priorID); merr != nil {
				slog.Error("Failed to mark duplicate delivery", "payload_id", record.ID, "error", merr)
			}
			prior, gerr := p.store.Get(ctx, priorID)
			if gerr == nil && prior != nil {
				p.observe(channel, "duplicate")
				return &Result{PayloadID: prior.ID, CorrelationID: prior.CorrelationID, Duplicate: true}, nil
			}
			p.observe(channel, "duplicate")
			return &Result{PayloadID: priorID, Duplicate: true}, nil
		}
	}

	if err := p.route(ctx, record, operation, body); err != nil {
		p.observe(channel, "error")
		if merr := p.store.MarkStatus(ctx, record.ID, models.StatusFailed, err.Error()); merr != nil {
			slog.Error("Failed to mark delivery failed", "payload_id", record.ID, "error", merr)
		}
		return nil, err
	}

	if err := p.store.MarkStatus(ctx, record.ID, models.StatusProcessed, ""); err != nil {
		slog.Error("Failed to mark delivery processed", "payload_id", record.ID, "error", err)
	}
	p.observe(channel, "ok")
	return &Result{PayloadID: record.ID, CorrelationID: record.CorrelationID}, nil
}

// verify checks the HMAC-SHA256 signature against every enabled config
// for the channel and returns the matching one.
func (p *Pipeline) verify(ctx context.Context, channel models.Channel, headers map[string]string, body []byte) (*models.ChannelConfig, error) {
	profile, ok := channelProfiles[channel]
	if !ok {
		return nil, oerr.Validation(fmt.Sprintf("channel %s does not deliver webhooks", channel), nil)
	}

	signature := headerValue(headers, profile.signatureHeader)
	if profile.signaturePrefix != "" {
		signature = strings.TrimPrefix(signature, profile.signaturePrefix)
	}
	if signature == "" {
		return nil, oerr.Auth("missing webhook signature", nil)
	}

	given, err := hex.DecodeString(signature)
	if err != nil {
		return nil, oerr.Auth("malformed webhook signature", err)
	}

	configs, err := p.channels.ListByChannel(ctx, channel)
	if err != nil {
		return nil, oerr.Transient("channel config lookup failed", err)
	}
	for i := range configs {
		if configs[i].SignatureSecret == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(configs[i].SignatureSecret))
		mac.Write(body)
		if hmac.Equal(given, mac.Sum(nil)) {
			return &configs[i], nil
		}
	}
	return nil, oerr.Auth("webhook signature verification failed", nil)
}

// route forwards the verified delivery: booking change requests go to
// the amendment engine, everything else becomes a domain event.
func (p *Pipeline) route(ctx context.Context, record *models.PayloadRecord, operation string, body []byte) error {
	switch operation {
	case models.EventBookingModified, models.EventBookingCancelled:
		if p.amendments == nil {
			return oerr.BusinessRule("amendment intake not configured", nil)
		}
		if _, err := p.amendments.CreateFromWebhook(ctx, record, body); err != nil {
			return err
		}
		return nil

	case models.EventBookingCreated,
		models.EventRateUpdate,
		models.EventInventoryAvailability,
		models.EventStopSellChanged,
		models.EventRoomTypeUpdated:
		payloadBody := eventPayloadFor(record, operation, body)
		if _, err := p.bus.Publish(ctx, operation, payloadBody, record.CorrelationID); err != nil {
			return err
		}
		return nil
	}
	return oerr.Validation(fmt.Sprintf("unsupported inbound operation %q", operation), nil)
}

// eventPayloadFor builds the typed bus payload for a routed delivery.
// Field extraction is best-effort; consumers fall back to the stored
// payload via the correlation id.
func eventPayloadFor(record *models.PayloadRecord, operation string, body []byte) interface{} {
	now := time.Now()
	switch operation {
	case models.EventBookingCreated:
		p := models.BookingEventPayload{HotelID: record.HotelID, Channel: record.Channel, Timestamp: now}
		_ = json.Unmarshal(body, &p)
		p.HotelID = record.HotelID
		p.Channel = record.Channel
		return p
	case models.EventRateUpdate:
		p := models.RateUpdatePayload{HotelID: record.HotelID, Channel: record.Channel, Timestamp: now}
		_ = json.Unmarshal(body, &p)
		p.HotelID = record.HotelID
		return p
	case models.EventInventoryAvailability:
		p := models.AvailabilityPayload{HotelID: record.HotelID, Timestamp: now}
		_ = json.Unmarshal(body, &p)
		p.HotelID = record.HotelID
		return p
	case models.EventStopSellChanged:
		p := models.StopSellPayload{HotelID: record.HotelID, Timestamp: now}
		_ = json.Unmarshal(body, &p)
		p.HotelID = record.HotelID
		return p
	default:
		p := models.RoomTypeUpdatedPayload{HotelID: record.HotelID, Timestamp: now}
		_ = json.Unmarshal(body, &p)
		p.HotelID = record.HotelID
		return p
	}
}

// operationOf normalizes the delivery's self-declared type onto the
// internal operation names.
func operationOf(body []byte) string {
	var probe struct {
		EventType string `json:"event_type"`
		Type      string `json:"type"`
		Action    string `json:"action"`
	}
	_ = json.Unmarshal(body, &probe)

	declared := probe.EventType
	if declared == "" {
		declared = probe.Type
	}
	if declared == "" {
		declared = probe.Action
	}

	switch strings.ToLower(declared) {
	case "booking.created", "reservation.created", "booking_new", "new_booking":
		return models.EventBookingCreated
	case "booking.modified", "reservation.modified", "booking_change", "modification":
		return models.EventBookingModified
	case "booking.cancelled", "reservation.cancelled", "booking_cancel", "cancellation":
		return models.EventBookingCancelled
	case "rate.update", "rate_change", "price.update":
		return models.EventRateUpdate
	case "inventory.availability", "availability.update", "allotment_change":
		return models.EventInventoryAvailability
	case "stop-sell.changed", "stop_sell", "closeout":
		return models.EventStopSellChanged
	case "room-type.updated", "room_type_change":
		return models.EventRoomTypeUpdated
	}
	return declared
}

// channelEventID picks the channel's delivery id, falling back to a
// body hash so unlabeled retries still dedup.
func channelEventID(channel models.Channel, headers map[string]string, body []byte) string {
	if profile, ok := channelProfiles[channel]; ok {
		if id := headerValue(headers, profile.eventIDHeader); id != "" {
			return id
		}
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (p *Pipeline) observe(channel models.Channel, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.InboundTotal.WithLabelValues(string(channel), result).Inc()
}

// Package channels holds the per-OTA adapters. Each adapter owns its
// wire format, auth and rate-limit profile; the dispatcher treats them
// uniformly.
package channels

import (
	"encoding/json"
	"fmt"
	"time"

	"otabridge/internal/models"
)

// Request is one serialized outbound call
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Outcome classifies a channel response for the dispatcher
type Outcome struct {
	OK            bool
	Retryable     bool
	NextDelayHint time.Duration
}

// RateLimitProfile caps the outbound call rate per (hotel, channel)
type RateLimitProfile struct {
	RequestsPerSecond float64
	Burst             int
}

// Adapter translates bus events into channel calls
type Adapter interface {
	// Name is the stable adapter identifier
	Name() string
	// Channel is the OTA this adapter talks to
	Channel() models.Channel
	// AppliesTo reports whether the adapter handles this event kind
	AppliesTo(e *models.Event) bool
	// Serialize builds the outbound request for an event
	Serialize(e *models.Event, cfg *models.ChannelConfig) (*Request, error)
	// ParseResponse classifies the channel response
	ParseResponse(status int, body []byte) Outcome
	// RateLimit is the default profile; per-hotel config overrides it
	RateLimit() RateLimitProfile
	// Sign injects the channel's auth into the request
	Sign(req *Request, cfg *models.ChannelConfig)
	// SupportsIdempotency reports whether the channel honors idempotency keys
	SupportsIdempotency() bool
}

// Registry resolves adapters for events and channels
type Registry struct {
	adapters []Adapter
	byName   map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byName: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters = append(r.adapters, a)
		r.byName[a.Name()] = a
	}
	return r
}

// DefaultRegistry wires all supported OTA adapters
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewBookingComAdapter(),
		NewExpediaAdapter(),
		NewAirbnbAdapter(),
		NewAgodaAdapter(),
	)
}

// ForEvent selects the adapters whose AppliesTo matches, optionally
// narrowed to one channel when the event names it.
func (r *Registry) ForEvent(e *models.Event) []Adapter {
	target := eventChannel(e)
	var matched []Adapter
	for _, a := range r.adapters {
		if !a.AppliesTo(e) {
			continue
		}
		if target != "" && target != a.Channel() {
			continue
		}
		matched = append(matched, a)
	}
	return matched
}

func (r *Registry) ByName(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

func (r *Registry) ByChannel(ch models.Channel) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Channel() == ch {
			return a, true
		}
	}
	return nil, false
}

func (r *Registry) All() []Adapter {
	return r.adapters
}

// eventChannel extracts the optional channel field shared by the
// event payload variants.
func eventChannel(e *models.Event) models.Channel {
	var probe struct {
		Channel models.Channel `json:"channel"`
	}
	if err := json.Unmarshal(e.Payload, &probe); err != nil {
		return ""
	}
	return probe.Channel
}

// eventHotel extracts the hotel id all payload variants carry
func eventHotel(e *models.Event) string {
	var probe struct {
		HotelID string `json:"hotel_id"`
	}
	if err := json.Unmarshal(e.Payload, &probe); err != nil {
		return ""
	}
	return probe.HotelID
}

// HotelID exposes the event's hotel id to the dispatcher
func HotelID(e *models.Event) string { return eventHotel(e) }

// isSyncKind covers the inventory-style kinds every adapter pushes
func isSyncKind(kind string) bool {
	switch kind {
	case models.EventRateUpdate,
		models.EventInventoryAvailability,
		models.EventStopSellChanged,
		models.EventRoomTypeUpdated:
		return true
	}
	return false
}

// isBookingKind covers booking lifecycle notifications back to channels
func isBookingKind(kind string) bool {
	switch kind {
	case models.EventBookingModified,
		models.EventBookingCancelled,
		models.EventAmendmentDecided:
		return true
	}
	return false
}

func unmarshalPayload(e *models.Event, v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Kind, err)
	}
	return nil
}

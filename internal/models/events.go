package models

import (
	"encoding/json"
	"time"
)

// Bus event kinds
const (
	EventBookingCreated        = "booking.created"
	EventBookingModified       = "booking.modified"
	EventBookingCancelled      = "booking.cancelled"
	EventInventoryAvailability = "inventory.availability"
	EventRateUpdate            = "rate.update"
	EventStopSellChanged       = "stop-sell.changed"
	EventRoomTypeUpdated       = "room-type.updated"
	EventAmendmentReceived     = "amendment.received"
	EventAmendmentDecided      = "amendment.decided"
)

// Event is the in-bus unit of work. Payload is the JSON encoding of one
// of the typed event payloads below, selected by Kind.
type Event struct {
	ID            string          `json:"id" db:"id"`
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
	Kind          string          `json:"kind" db:"kind"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Originator    string          `json:"originator" db:"originator"`
	Attempts      int             `json:"attempts" db:"attempts"`
	MaxAttempts   int             `json:"max_attempts" db:"max_attempts"`
	Partition     int             `json:"partition" db:"partition"`
	VisibleAfter  time.Time       `json:"visible_after" db:"visible_after"`
	Deadline      time.Time       `json:"deadline" db:"deadline"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// BookingEventPayload covers booking.created / booking.modified / booking.cancelled
type BookingEventPayload struct {
	BookingID string            `json:"booking_id"`
	HotelID   string            `json:"hotel_id"`
	Channel   Channel           `json:"channel,omitempty"`
	CheckIn   string            `json:"check_in,omitempty"`
	CheckOut  string            `json:"check_out,omitempty"`
	RoomType  string            `json:"room_type,omitempty"`
	Guest     string            `json:"guest,omitempty"`
	Changes   map[string]string `json:"changes,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// RateUpdatePayload covers rate.update
type RateUpdatePayload struct {
	HotelID   string    `json:"hotel_id"`
	Channel   Channel   `json:"channel,omitempty"`
	RoomType  string    `json:"room_type"`
	Date      string    `json:"date"`
	Rate      int64     `json:"rate"`
	Currency  string    `json:"currency,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AvailabilityPayload covers inventory.availability
type AvailabilityPayload struct {
	HotelID   string    `json:"hotel_id"`
	RoomType  string    `json:"room_type"`
	Date      string    `json:"date"`
	Available int       `json:"available"`
	Timestamp time.Time `json:"timestamp"`
}

// StopSellPayload covers stop-sell.changed
type StopSellPayload struct {
	HotelID   string    `json:"hotel_id"`
	RoomType  string    `json:"room_type"`
	DateFrom  string    `json:"date_from"`
	DateTo    string    `json:"date_to"`
	StopSell  bool      `json:"stop_sell"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomTypeUpdatedPayload covers room-type.updated
type RoomTypeUpdatedPayload struct {
	HotelID   string    `json:"hotel_id"`
	RoomType  string    `json:"room_type"`
	Name      string    `json:"name,omitempty"`
	Capacity  int       `json:"capacity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AmendmentReceivedPayload covers amendment.received
type AmendmentReceivedPayload struct {
	AmendmentID string    `json:"amendment_id"`
	BookingID   string    `json:"booking_id"`
	HotelID     string    `json:"hotel_id"`
	Channel     Channel   `json:"channel"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
}

// AmendmentDecidedPayload covers amendment.decided
type AmendmentDecidedPayload struct {
	AmendmentID string    `json:"amendment_id"`
	BookingID   string    `json:"booking_id"`
	HotelID     string    `json:"hotel_id"`
	Channel     Channel   `json:"channel"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

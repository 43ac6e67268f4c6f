package channels

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"otabridge/internal/models"
)

const bookingComDefaultBaseURL = "https://supply-api.booking.com/v2"

// BookingComAdapter pushes rates, availability and booking notifications
// to the Booking.com supply API. Auth is HTTP basic over the machine
// account stored in channel credentials.
type BookingComAdapter struct {
	baseURL string
}

func NewBookingComAdapter() *BookingComAdapter {
	return &BookingComAdapter{baseURL: bookingComDefaultBaseURL}
}

func (a *BookingComAdapter) Name() string            { return "bookingcom" }
func (a *BookingComAdapter) Channel() models.Channel { return models.ChannelBookingCom }
func (a *BookingComAdapter) SupportsIdempotency() bool { return true }

func (a *BookingComAdapter) RateLimit() RateLimitProfile {
	return RateLimitProfile{RequestsPerSecond: 8, Burst: 16}
}

func (a *BookingComAdapter) AppliesTo(e *models.Event) bool {
	return isSyncKind(e.Kind) || isBookingKind(e.Kind)
}

type bookingComRateUpdate struct {
	HotelID  string `json:"hotel_id"`
	RoomID   string `json:"room_id"`
	Date     string `json:"date"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

type bookingComAvailability struct {
	HotelID   string `json:"hotel_id"`
	RoomID    string `json:"room_id"`
	Date      string `json:"date"`
	RoomsLeft int    `json:"rooms_to_sell"`
}

type bookingComRestriction struct {
	HotelID  string `json:"hotel_id"`
	RoomID   string `json:"room_id"`
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
	Closed   bool   `json:"closed"`
}

type bookingComReservationAck struct {
	ReservationID string `json:"reservation_id"`
	HotelID       string `json:"hotel_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

func (a *BookingComAdapter) Serialize(e *models.Event, cfg *models.ChannelConfig) (*Request, error) {
	base := a.baseURL
	if cfg != nil && cfg.Endpoints["base"] != "" {
		base = cfg.Endpoints["base"]
	}

	var (
		path string
		body interface{}
	)

	switch e.Kind {
	case models.EventRateUpdate:
		var p models.RateUpdatePayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		currency := p.Currency
		if currency == "" && cfg != nil {
			currency = cfg.Currency
		}
		path = fmt.Sprintf("/hotels/%s/rates", p.HotelID)
		body = bookingComRateUpdate{HotelID: p.HotelID, RoomID: p.RoomType, Date: p.Date, Price: p.Rate, Currency: currency}

	case models.EventInventoryAvailability:
		var p models.AvailabilityPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		path = fmt.Sprintf("/hotels/%s/availability", p.HotelID)
		body = bookingComAvailability{HotelID: p.HotelID, RoomID: p.RoomType, Date: p.Date, RoomsLeft: p.Available}

	case models.EventStopSellChanged, models.EventRoomTypeUpdated:
		var p models.StopSellPayload
		if e.Kind == models.EventRoomTypeUpdated {
			var r models.RoomTypeUpdatedPayload
			if err := unmarshalPayload(e, &r); err != nil {
				return nil, err
			}
			p = models.StopSellPayload{HotelID: r.HotelID, RoomType: r.RoomType}
		} else if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		path = fmt.Sprintf("/hotels/%s/restrictions", p.HotelID)
		body = bookingComRestriction{HotelID: p.HotelID, RoomID: p.RoomType, DateFrom: p.DateFrom, DateTo: p.DateTo, Closed: p.StopSell}

	case models.EventBookingModified, models.EventBookingCancelled, models.EventAmendmentDecided:
		bookingID, hotelID, status, reason, err := bookingAck(e)
		if err != nil {
			return nil, err
		}
		path = fmt.Sprintf("/hotels/%s/reservations/%s/ack", hotelID, bookingID)
		body = bookingComReservationAck{ReservationID: bookingID, HotelID: hotelID, Status: status, Reason: reason}

	default:
		return nil, fmt.Errorf("booking.com adapter does not handle %s events", e.Kind)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal booking.com request: %w", err)
	}
	return &Request{
		Method:  http.MethodPost,
		URL:     base + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    data,
	}, nil
}

func (a *BookingComAdapter) Sign(req *Request, cfg *models.ChannelConfig) {
	if cfg == nil || cfg.Credentials == "" {
		return
	}
	req.Headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Credentials))
}

func (a *BookingComAdapter) ParseResponse(status int, body []byte) Outcome {
	if status >= 200 && status < 300 {
		return Outcome{OK: true}
	}
	out := Outcome{Retryable: retryableStatus(status)}
	if status == http.StatusTooManyRequests {
		var hint struct {
			RetryAfterSeconds int `json:"retry_after_seconds"`
		}
		if json.Unmarshal(body, &hint) == nil && hint.RetryAfterSeconds > 0 {
			out.NextDelayHint = time.Duration(hint.RetryAfterSeconds) * time.Second
		}
	}
	return out
}

// bookingAck flattens the booking lifecycle payload variants into the
// fields the reservation ack endpoints need.
func bookingAck(e *models.Event) (bookingID, hotelID, status, reason string, err error) {
	switch e.Kind {
	case models.EventAmendmentDecided:
		var p models.AmendmentDecidedPayload
		if err = unmarshalPayload(e, &p); err != nil {
			return
		}
		return p.BookingID, p.HotelID, p.State, p.Reason, nil
	default:
		var p models.BookingEventPayload
		if err = unmarshalPayload(e, &p); err != nil {
			return
		}
		status = "modified"
		if e.Kind == models.EventBookingCancelled {
			status = "cancelled"
		}
		return p.BookingID, p.HotelID, status, p.Reason, nil
	}
}

// retryableStatus is the shared transient classification: timeouts,
// early hints, throttles and server errors come back later.
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

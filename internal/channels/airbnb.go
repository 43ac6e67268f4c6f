package channels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"otabridge/internal/models"
)

const airbnbDefaultBaseURL = "https://api.airbnb.com/v2"

// AirbnbAdapter covers the listing-calendar API. Airbnb has no rate
// shopping for hotels, so room-type structure updates are skipped and
// everything maps onto calendar days. Requests carry an HMAC signature
// over the body in addition to the OAuth token.
type AirbnbAdapter struct {
	baseURL string
}

func NewAirbnbAdapter() *AirbnbAdapter {
	return &AirbnbAdapter{baseURL: airbnbDefaultBaseURL}
}

func (a *AirbnbAdapter) Name() string              { return "airbnb" }
func (a *AirbnbAdapter) Channel() models.Channel   { return models.ChannelAirbnb }
func (a *AirbnbAdapter) SupportsIdempotency() bool { return false }

func (a *AirbnbAdapter) RateLimit() RateLimitProfile {
	return RateLimitProfile{RequestsPerSecond: 4, Burst: 8}
}

func (a *AirbnbAdapter) AppliesTo(e *models.Event) bool {
	if e.Kind == models.EventRoomTypeUpdated {
		return false
	}
	return isSyncKind(e.Kind) || isBookingKind(e.Kind)
}

type airbnbCalendarDay struct {
	ListingID  string `json:"listing_id"`
	Date       string `json:"date,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
	PriceCents int64  `json:"daily_price_cents,omitempty"`
	Available  *bool  `json:"available,omitempty"`
}

type airbnbReservationUpdate struct {
	ConfirmationCode string `json:"confirmation_code"`
	ListingID        string `json:"listing_id"`
	Status           string `json:"status"`
	Notes            string `json:"notes,omitempty"`
}

func (a *AirbnbAdapter) Serialize(e *models.Event, cfg *models.ChannelConfig) (*Request, error) {
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
		path = fmt.Sprintf("/calendars/%s", p.HotelID)
		body = airbnbCalendarDay{ListingID: p.HotelID, Date: p.Date, PriceCents: p.Rate}

	case models.EventInventoryAvailability:
		var p models.AvailabilityPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		open := p.Available > 0
		path = fmt.Sprintf("/calendars/%s", p.HotelID)
		body = airbnbCalendarDay{ListingID: p.HotelID, Date: p.Date, Available: &open}

	case models.EventStopSellChanged:
		var p models.StopSellPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		open := !p.StopSell
		path = fmt.Sprintf("/calendars/%s", p.HotelID)
		body = airbnbCalendarDay{ListingID: p.HotelID, StartDate: p.DateFrom, EndDate: p.DateTo, Available: &open}

	case models.EventBookingModified, models.EventBookingCancelled, models.EventAmendmentDecided:
		bookingID, hotelID, status, reason, err := bookingAck(e)
		if err != nil {
			return nil, err
		}
		path = fmt.Sprintf("/reservations/%s", bookingID)
		body = airbnbReservationUpdate{ConfirmationCode: bookingID, ListingID: hotelID, Status: status, Notes: reason}

	default:
		return nil, fmt.Errorf("airbnb adapter does not handle %s events", e.Kind)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal airbnb request: %w", err)
	}
	return &Request{
		Method:  http.MethodPut,
		URL:     base + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    data,
	}, nil
}

func (a *AirbnbAdapter) Sign(req *Request, cfg *models.ChannelConfig) {
	if cfg == nil {
		return
	}
	if cfg.Credentials != "" {
		req.Headers["Authorization"] = "Bearer " + cfg.Credentials
	}
	if cfg.SignatureSecret != "" {
		mac := hmac.New(sha256.New, []byte(cfg.SignatureSecret))
		mac.Write(req.Body)
		req.Headers["X-Airbnb-Signature"] = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}
}

func (a *AirbnbAdapter) ParseResponse(status int, body []byte) Outcome {
	if status >= 200 && status < 300 {
		return Outcome{OK: true}
	}
	// Airbnb reports throttling as a typed error with a 400 status
	if status == http.StatusBadRequest {
		var e struct {
			ErrorType string `json:"error_type"`
		}
		if json.Unmarshal(body, &e) == nil && e.ErrorType == "rate_limit_exceeded" {
			return Outcome{Retryable: true}
		}
	}
	return Outcome{Retryable: retryableStatus(status)}
}

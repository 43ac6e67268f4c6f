package channels

import (
	"encoding/json"
	"fmt"
	"net/http"

	"otabridge/internal/models"
)

const expediaDefaultBaseURL = "https://services.expediapartnercentral.com/products/v3"

// ExpediaAdapter pushes updates through the EPS product API using a
// bearer token from channel credentials.
type ExpediaAdapter struct {
	baseURL string
}

func NewExpediaAdapter() *ExpediaAdapter {
	return &ExpediaAdapter{baseURL: expediaDefaultBaseURL}
}

func (a *ExpediaAdapter) Name() string              { return "expedia" }
func (a *ExpediaAdapter) Channel() models.Channel   { return models.ChannelExpedia }
func (a *ExpediaAdapter) SupportsIdempotency() bool { return true }

func (a *ExpediaAdapter) RateLimit() RateLimitProfile {
	return RateLimitProfile{RequestsPerSecond: 10, Burst: 20}
}

func (a *ExpediaAdapter) AppliesTo(e *models.Event) bool {
	return isSyncKind(e.Kind) || isBookingKind(e.Kind)
}

type expediaUpdate struct {
	PropertyID string `json:"propertyId"`
	RoomTypeID string `json:"roomTypeId,omitempty"`
	Date       string `json:"date,omitempty"`
	DateFrom   string `json:"dateFrom,omitempty"`
	DateTo     string `json:"dateTo,omitempty"`
	RateCents  int64  `json:"rateCents,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Available  int    `json:"availableCount,omitempty"`
	Closed     *bool  `json:"closed,omitempty"`
}

type expediaBookingNotice struct {
	PropertyID    string `json:"propertyId"`
	ItineraryID   string `json:"itineraryId"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

func (a *ExpediaAdapter) Serialize(e *models.Event, cfg *models.ChannelConfig) (*Request, error) {
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
		path = fmt.Sprintf("/properties/%s/rates", p.HotelID)
		body = expediaUpdate{PropertyID: p.HotelID, RoomTypeID: p.RoomType, Date: p.Date, RateCents: p.Rate, Currency: p.Currency}

	case models.EventInventoryAvailability:
		var p models.AvailabilityPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		path = fmt.Sprintf("/properties/%s/availability", p.HotelID)
		body = expediaUpdate{PropertyID: p.HotelID, RoomTypeID: p.RoomType, Date: p.Date, Available: p.Available}

	case models.EventStopSellChanged:
		var p models.StopSellPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		closed := p.StopSell
		path = fmt.Sprintf("/properties/%s/restrictions", p.HotelID)
		body = expediaUpdate{PropertyID: p.HotelID, RoomTypeID: p.RoomType, DateFrom: p.DateFrom, DateTo: p.DateTo, Closed: &closed}

	case models.EventRoomTypeUpdated:
		var p models.RoomTypeUpdatedPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		path = fmt.Sprintf("/properties/%s/roomTypes/%s", p.HotelID, p.RoomType)
		body = expediaUpdate{PropertyID: p.HotelID, RoomTypeID: p.RoomType}

	case models.EventBookingModified, models.EventBookingCancelled, models.EventAmendmentDecided:
		bookingID, hotelID, status, reason, err := bookingAck(e)
		if err != nil {
			return nil, err
		}
		path = fmt.Sprintf("/properties/%s/itineraries/%s/notifications", hotelID, bookingID)
		body = expediaBookingNotice{PropertyID: hotelID, ItineraryID: bookingID, Status: status, StatusMessage: reason}

	default:
		return nil, fmt.Errorf("expedia adapter does not handle %s events", e.Kind)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expedia request: %w", err)
	}
	return &Request{
		Method:  http.MethodPost,
		URL:     base + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    data,
	}, nil
}

func (a *ExpediaAdapter) Sign(req *Request, cfg *models.ChannelConfig) {
	if cfg == nil || cfg.Credentials == "" {
		return
	}
	req.Headers["Authorization"] = "Bearer " + cfg.Credentials
}

func (a *ExpediaAdapter) ParseResponse(status int, body []byte) Outcome {
	if status >= 200 && status < 300 {
		return Outcome{OK: true}
	}
	return Outcome{Retryable: retryableStatus(status)}
}

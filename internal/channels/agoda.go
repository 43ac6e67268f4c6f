package channels

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"otabridge/internal/models"
)

const agodaDefaultBaseURL = "https://affiliateservice.agoda.com/ycs/v1"

// AgodaAdapter pushes YCS content updates. Auth is a static API key
// header; the API wraps every response in a status envelope.
type AgodaAdapter struct {
	baseURL string
}

func NewAgodaAdapter() *AgodaAdapter {
	return &AgodaAdapter{baseURL: agodaDefaultBaseURL}
}

func (a *AgodaAdapter) Name() string              { return "agoda" }
func (a *AgodaAdapter) Channel() models.Channel   { return models.ChannelAgoda }
func (a *AgodaAdapter) SupportsIdempotency() bool { return false }

func (a *AgodaAdapter) RateLimit() RateLimitProfile {
	return RateLimitProfile{RequestsPerSecond: 5, Burst: 10}
}

func (a *AgodaAdapter) AppliesTo(e *models.Event) bool {
	return isSyncKind(e.Kind) || isBookingKind(e.Kind)
}

type agodaEnvelope struct {
	PropertyID string      `json:"propertyId"`
	Action     string      `json:"action"`
	Data       interface{} `json:"data"`
}

type agodaRateData struct {
	RoomTypeCode string `json:"roomTypeCode"`
	Date         string `json:"date"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency,omitempty"`
}

type agodaAllotmentData struct {
	RoomTypeCode string `json:"roomTypeCode"`
	Date         string `json:"date,omitempty"`
	DateFrom     string `json:"dateFrom,omitempty"`
	DateTo       string `json:"dateTo,omitempty"`
	Allotment    int    `json:"allotment"`
	CloseOut     bool   `json:"closeOut"`
}

type agodaBookingData struct {
	BookingCode string `json:"bookingCode"`
	Status      string `json:"status"`
	Remarks     string `json:"remarks,omitempty"`
}

type agodaResponse struct {
	Status       string `json:"status"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMS int    `json:"retryAfterMs"`
}

func (a *AgodaAdapter) Serialize(e *models.Event, cfg *models.ChannelConfig) (*Request, error) {
	base := a.baseURL
	if cfg != nil && cfg.Endpoints["base"] != "" {
		base = cfg.Endpoints["base"]
	}

	var env agodaEnvelope

	switch e.Kind {
	case models.EventRateUpdate:
		var p models.RateUpdatePayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		env = agodaEnvelope{PropertyID: p.HotelID, Action: "rate.set", Data: agodaRateData{RoomTypeCode: p.RoomType, Date: p.Date, Amount: p.Rate, Currency: p.Currency}}

	case models.EventInventoryAvailability:
		var p models.AvailabilityPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		env = agodaEnvelope{PropertyID: p.HotelID, Action: "allotment.set", Data: agodaAllotmentData{RoomTypeCode: p.RoomType, Date: p.Date, Allotment: p.Available}}

	case models.EventStopSellChanged:
		var p models.StopSellPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		env = agodaEnvelope{PropertyID: p.HotelID, Action: "closeout.set", Data: agodaAllotmentData{RoomTypeCode: p.RoomType, DateFrom: p.DateFrom, DateTo: p.DateTo, CloseOut: p.StopSell}}

	case models.EventRoomTypeUpdated:
		var p models.RoomTypeUpdatedPayload
		if err := unmarshalPayload(e, &p); err != nil {
			return nil, err
		}
		env = agodaEnvelope{PropertyID: p.HotelID, Action: "roomtype.sync", Data: agodaAllotmentData{RoomTypeCode: p.RoomType}}

	case models.EventBookingModified, models.EventBookingCancelled, models.EventAmendmentDecided:
		bookingID, hotelID, status, reason, err := bookingAck(e)
		if err != nil {
			return nil, err
		}
		env = agodaEnvelope{PropertyID: hotelID, Action: "booking.notify", Data: agodaBookingData{BookingCode: bookingID, Status: status, Remarks: reason}}

	default:
		return nil, fmt.Errorf("agoda adapter does not handle %s events", e.Kind)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agoda request: %w", err)
	}
	return &Request{
		Method:  http.MethodPost,
		URL:     base + "/updates",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    data,
	}, nil
}

func (a *AgodaAdapter) Sign(req *Request, cfg *models.ChannelConfig) {
	if cfg == nil || cfg.Credentials == "" {
		return
	}
	req.Headers["X-Api-Key"] = cfg.Credentials
}

func (a *AgodaAdapter) ParseResponse(status int, body []byte) Outcome {
	if status >= 200 && status < 300 {
		// the envelope can still carry a failure
		var resp agodaResponse
		if json.Unmarshal(body, &resp) == nil && resp.Status == "error" {
			out := Outcome{Retryable: resp.Retryable}
			if resp.RetryAfterMS > 0 {
				out.NextDelayHint = time.Duration(resp.RetryAfterMS) * time.Millisecond
			}
			return out
		}
		return Outcome{OK: true}
	}
	return Outcome{Retryable: retryableStatus(status)}
}

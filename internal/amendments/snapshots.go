package amendments

import (
	"context"
	"encoding/json"
	"fmt"

	"otabridge/internal/models"
	"otabridge/internal/payload"
	"otabridge/internal/repository"
)

// PayloadSnapshotReader reconstructs a booking view from the most
// recent stored payloads for that booking. It stands in for a direct
// property-management system connection: the archive already holds the
// last state every channel was told about.
type PayloadSnapshotReader struct {
	payloads *repository.PayloadRepository
	store    *payload.Store
}

func NewPayloadSnapshotReader(payloads *repository.PayloadRepository, store *payload.Store) *PayloadSnapshotReader {
	return &PayloadSnapshotReader{payloads: payloads, store: store}
}

// bookingView is the superset of booking fields channels put on the wire
type bookingView struct {
	BookingID  string `json:"booking_id"`
	HotelID    string `json:"hotel_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	RoomType   string `json:"room_type"`
	RateAmount int64  `json:"rate_amount"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
	Status     string `json:"status"`
	StopSell   bool   `json:"stop_sell"`
}

func (r *PayloadSnapshotReader) Snapshot(ctx context.Context, hotelID, bookingID string) (*models.BookingSnapshot, error) {
	records, err := r.payloads.ListByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking payload lookup failed: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	snapshot := &models.BookingSnapshot{BookingID: bookingID, HotelID: hotelID, Status: "confirmed"}

	// records come newest-first; walk oldest-first so later payloads win
	for i := len(records) - 1; i >= 0; i-- {
		rec := &records[i]
		if rec.BodyTruncated || rec.ArchivedAt != nil {
			continue
		}
		body, err := r.store.Decompress(rec)
		if err != nil || len(body) == 0 {
			continue
		}
		var view bookingView
		if json.Unmarshal(body, &view) != nil {
			continue
		}
		mergeSnapshot(snapshot, &view)
	}

	if snapshot.CheckIn == "" && snapshot.GuestName == "" {
		return nil, nil
	}
	return snapshot, nil
}

func mergeSnapshot(s *models.BookingSnapshot, v *bookingView) {
	if v.CheckIn != "" {
		s.CheckIn = v.CheckIn
	}
	if v.CheckOut != "" {
		s.CheckOut = v.CheckOut
	}
	if v.RoomType != "" {
		s.RoomType = v.RoomType
	}
	if v.RateAmount > 0 {
		s.RateAmount = v.RateAmount
	}
	if v.GuestName != "" {
		s.GuestName = v.GuestName
	}
	if v.GuestEmail != "" {
		s.GuestEmail = v.GuestEmail
	}
	if v.Status != "" {
		s.Status = v.Status
	}
	if v.StopSell {
		s.StopSell = true
	}
}

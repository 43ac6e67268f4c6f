// Package reconcile compares what the channels were told with what the
// integration believes, field by field, and scores the drift.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"otabridge/internal/config"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/payload"
	"otabridge/internal/repository"
)

// SnapshotReader supplies the internal booking view for comparison
type SnapshotReader interface {
	Snapshot(ctx context.Context, hotelID, bookingID string) (*models.BookingSnapshot, error)
}

// fieldWeights bias the consistency score toward the fields that cost
// real money when they drift.
var fieldWeights = map[string]float64{
	"check_in":    0.25,
	"check_out":   0.25,
	"room_type":   0.20,
	"rate_amount": 0.20,
	"guest_name":  0.10,
}

type Engine struct {
	cfg       config.RetentionConfig
	payloads  *repository.PayloadRepository
	store     *payload.Store
	snapshots SnapshotReader
}

func New(cfg config.RetentionConfig, payloads *repository.PayloadRepository,
	store *payload.Store, snapshots SnapshotReader) *Engine {
	return &Engine{cfg: cfg, payloads: payloads, store: store, snapshots: snapshots}
}

// externalView is one field set projected from a stored payload,
// tagged with the record that produced it.
type externalView struct {
	payloadID string
	fields    map[string]string
}

// Reconcile builds the report for one booking: the newest externally
// communicated value per field against the internal snapshot.
func (e *Engine) Reconcile(ctx context.Context, hotelID, bookingID string) (*models.ReconciliationReport, error) {
	snapshot, err := e.snapshots.Snapshot(ctx, hotelID, bookingID)
	if err != nil {
		return nil, oerr.Transient("booking snapshot unavailable", err)
	}
	if snapshot == nil {
		return nil, oerr.Validation(fmt.Sprintf("booking %s has no internal state", bookingID), nil)
	}

	records, err := e.payloads.ListByBookingID(ctx, bookingID)
	if err != nil {
		return nil, oerr.Transient("booking payload lookup failed", err)
	}

	report := &models.ReconciliationReport{
		BookingID:        bookingID,
		Timestamp:        time.Now(),
		PayloadsFound:    len(records),
		Discrepancies:    []models.Discrepancy{},
		ConsistencyScore: 1.0,
	}
	if len(records) == 0 {
		return report, nil
	}

	external := e.project(records)
	internal := map[string]string{
		"check_in":    snapshot.CheckIn,
		"check_out":   snapshot.CheckOut,
		"room_type":   snapshot.RoomType,
		"rate_amount": strconv.FormatInt(snapshot.RateAmount, 10),
		"guest_name":  snapshot.GuestName,
	}

	var lostWeight float64
	for field, weight := range fieldWeights {
		view, seen := external[field]
		if !seen || view.fields[field] == "" || internal[field] == "" {
			continue
		}
		if view.fields[field] == internal[field] {
			continue
		}
		report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
			Field:           field,
			InternalValue:   internal[field],
			ExternalValue:   view.fields[field],
			SourcePayloadID: view.payloadID,
		})
		lostWeight += weight
	}

	report.ConsistencyScore = 1.0 - lostWeight
	if report.ConsistencyScore < 0 {
		report.ConsistencyScore = 0
	}
	return report, nil
}

// project walks the records oldest-first so the latest inbound mention
// of each field wins, keeping track of which payload said it.
func (e *Engine) project(records []models.PayloadRecord) map[string]externalView {
	out := make(map[string]externalView)

	for i := range records {
		rec := &records[i]
		if rec.Direction != models.DirectionInbound || rec.Status == models.StatusIgnored {
			continue
		}
		if rec.BodyTruncated || rec.ArchivedAt != nil {
			continue
		}
		body, err := e.store.Decompress(rec)
		if err != nil || len(body) == 0 {
			continue
		}

		var view struct {
			CheckIn    string `json:"check_in"`
			CheckOut   string `json:"check_out"`
			RoomType   string `json:"room_type"`
			RateAmount *int64 `json:"rate_amount"`
			GuestName  string `json:"guest_name"`
		}
		if json.Unmarshal(body, &view) != nil {
			continue
		}

		set := func(field, value string) {
			if value == "" {
				return
			}
			out[field] = externalView{payloadID: rec.ID, fields: map[string]string{field: value}}
		}
		set("check_in", view.CheckIn)
		set("check_out", view.CheckOut)
		set("room_type", view.RoomType)
		set("guest_name", view.GuestName)
		if view.RateAmount != nil {
			set("rate_amount", strconv.FormatInt(*view.RateAmount, 10))
		}
	}
	return out
}

// ComplianceReport aggregates classification counts, retention overdue
// totals and redaction coverage over a time window.
func (e *Engine) ComplianceReport(ctx context.Context, req models.ComplianceReportRequest) (*models.ComplianceReportResponse, error) {
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, oerr.Validation("startDate must be YYYY-MM-DD", err)
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return nil, oerr.Validation("endDate must be YYYY-MM-DD", err)
	}
	if end.Before(start) {
		return nil, oerr.Validation("endDate precedes startDate", nil)
	}
	end = end.AddDate(0, 0, 1) // window is inclusive of the end date

	byLevel, err := e.payloads.CountByDataLevel(ctx, start, end, req.Channel, req.Direction)
	if err != nil {
		return nil, oerr.Transient("classification counts failed", err)
	}

	var total int64
	for _, n := range byLevel {
		total += n
	}

	overdue, err := e.payloads.CountRetentionOverdue(ctx, map[string]int{
		"restricted":   e.cfg.RestrictedActiveDays,
		"confidential": e.cfg.ConfidentialActiveDays,
		"internal":     e.cfg.InternalActiveDays,
		"public":       e.cfg.PublicActiveDays,
	})
	if err != nil {
		return nil, oerr.Transient("retention overdue count failed", err)
	}

	coverage, err := e.payloads.RedactionCoverage(ctx, start, end)
	if err != nil {
		return nil, oerr.Transient("redaction coverage failed", err)
	}

	return &models.ComplianceReportResponse{
		Window:            req.StartDate + ".." + req.EndDate,
		TotalPayloads:     total,
		ByClassification:  byLevel,
		RetentionOverdue:  overdue,
		RedactionCoverage: coverage,
		GeneratedAt:       time.Now(),
	}, nil
}

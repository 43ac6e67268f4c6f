// Package amendments implements the booking amendment state machine:
// OTA change requests enter pending, an approval policy decides the
// easy ones automatically, operators decide the rest, and undecided
// ones expire on a TTL.
package amendments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"otabridge/internal/bus"
	"otabridge/internal/config"
	"otabridge/internal/metrics"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/repository"
)

// BookingSnapshotReader supplies the internal view of a booking at
// amendment time. The property-management system is behind this
// interface so tests and deployments can swap the source.
type BookingSnapshotReader interface {
	Snapshot(ctx context.Context, hotelID, bookingID string) (*models.BookingSnapshot, error)
}

// Engine owns amendment intake and decisions
type Engine struct {
	cfg         config.AmendmentsConfig
	repo        *repository.AmendmentRepository
	transitions *repository.TransitionRepository
	snapshots   BookingSnapshotReader
	bus         *bus.Bus
	metrics     *metrics.Metrics
}

func New(cfg config.AmendmentsConfig, repo *repository.AmendmentRepository,
	transitions *repository.TransitionRepository, snapshots BookingSnapshotReader,
	b *bus.Bus, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:         cfg,
		repo:        repo,
		transitions: transitions,
		snapshots:   snapshots,
		bus:         b,
		metrics:     m,
	}
}

// webhookAmendment is the change-request shape channels deliver
type webhookAmendment struct {
	AmendmentID string                  `json:"amendment_id"`
	BookingID   string                  `json:"booking_id"`
	GuestName   string                  `json:"guest_name"`
	Changes     models.RequestedChanges `json:"changes"`
	Reason      string                  `json:"reason"`
}

// CreateFromWebhook turns a verified inbound delivery into a pending
// amendment and immediately runs the auto-approval policy on it.
// Redelivery of a known channel amendment id returns the existing row.
func (e *Engine) CreateFromWebhook(ctx context.Context, record *models.PayloadRecord, body []byte) (*models.Amendment, error) {
	var req webhookAmendment
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, oerr.Validation("amendment request is not valid JSON", err)
	}
	if req.BookingID == "" {
		req.BookingID = record.Parsed.BookingID
	}
	if req.BookingID == "" {
		return nil, oerr.Validation("amendment request carries no booking id", nil)
	}

	if record.Business.Operation == models.EventBookingCancelled {
		req.Changes.Cancel = true
	}

	channelAmendmentID := req.AmendmentID
	if channelAmendmentID == "" {
		channelAmendmentID = record.ID
	}
	if existing, err := e.repo.GetByChannelID(ctx, record.Channel, channelAmendmentID); err != nil {
		return nil, oerr.Transient("amendment lookup failed", err)
	} else if existing != nil {
		return existing, nil
	}

	snapshot, err := e.snapshots.Snapshot(ctx, record.HotelID, req.BookingID)
	if err != nil {
		return nil, oerr.Transient("booking snapshot unavailable", err)
	}
	if snapshot == nil {
		return nil, oerr.BusinessRule(fmt.Sprintf("booking %s not found", req.BookingID), nil)
	}

	a := &models.Amendment{
		ID:                 uuid.New().String(),
		ChannelAmendmentID: channelAmendmentID,
		BookingID:          req.BookingID,
		HotelID:            record.HotelID,
		CorrelationID:      record.CorrelationID,
		Type:               typeOf(req.Changes),
		State:              models.AmendmentPending,
		Requested:          req.Changes,
		OriginalSnapshot:   *snapshot,
		RequestedByChannel: record.Channel,
		ExpiresAt:          time.Now().Add(e.cfg.TTL),
	}
	if req.GuestName != "" {
		a.RequestedByGuest = &req.GuestName
	}
	a.RequiresManual = requiresManual(a)

	if err := e.repo.Create(ctx, a); err != nil {
		return nil, oerr.Transient("amendment insert failed", err)
	}
	e.count(models.AmendmentPending)

	if _, err := e.bus.Publish(ctx, models.EventAmendmentReceived, models.AmendmentReceivedPayload{
		AmendmentID: a.ID,
		BookingID:   a.BookingID,
		HotelID:     a.HotelID,
		Channel:     a.RequestedByChannel,
		Type:        string(a.Type),
		Timestamp:   time.Now(),
	}, a.CorrelationID); err != nil {
		slog.Error("Amendment received event publish failed", "amendment_id", a.ID, "error", err)
	}

	if !a.RequiresManual && e.autoApprovable(a) {
		if err := e.decide(ctx, a, models.AmendmentAutoApproved, "within auto-approval policy", "policy", nil, false); err != nil {
			slog.Error("Auto-approval failed, amendment stays pending", "amendment_id", a.ID, "error", err)
			return a, nil
		}
	}
	return a, nil
}

// typeOf derives the amendment type from which fields the request touches
func typeOf(c models.RequestedChanges) models.AmendmentType {
	switch {
	case c.Cancel:
		return models.AmendmentCancellationRequest
	case c.CheckIn != nil || c.CheckOut != nil:
		return models.AmendmentDatesChange
	case c.RateAmount != nil:
		return models.AmendmentRateChange
	case c.RoomType != nil:
		return models.AmendmentRoomChange
	case c.GuestName != nil || c.GuestEmail != nil || c.GuestPhone != nil:
		return models.AmendmentGuestDetailsChange
	case c.SpecialRequest != nil:
		return models.AmendmentSpecialRequest
	}
	return models.AmendmentBookingModification
}

// requiresManual flags the requests the policy must never decide alone
func requiresManual(a *models.Amendment) bool {
	if a.Requested.Cancel {
		return true
	}
	if a.OriginalSnapshot.StopSell {
		return true
	}
	if a.Requested.RoomType != nil && *a.Requested.RoomType != a.OriginalSnapshot.RoomType {
		return true
	}
	return false
}

// autoApprovable applies the policy thresholds: small date moves and
// small rate deltas pass, everything else waits for an operator.
func (e *Engine) autoApprovable(a *models.Amendment) bool {
	if delta, ok := dateDeltaDays(a.OriginalSnapshot.CheckIn, a.Requested.CheckIn); ok {
		if delta > e.cfg.AutoApproveMaxDateDeltaDays {
			return false
		}
	}
	if delta, ok := dateDeltaDays(a.OriginalSnapshot.CheckOut, a.Requested.CheckOut); ok {
		if delta > e.cfg.AutoApproveMaxDateDeltaDays {
			return false
		}
	}
	if a.Requested.RateAmount != nil && a.OriginalSnapshot.RateAmount > 0 {
		deltaPct := math.Abs(float64(*a.Requested.RateAmount-a.OriginalSnapshot.RateAmount)) /
			float64(a.OriginalSnapshot.RateAmount) * 100
		if deltaPct > e.cfg.AutoApproveMaxRatePercent {
			return false
		}
	}
	return true
}

func dateDeltaDays(current string, requested *string) (int, bool) {
	if requested == nil || current == "" {
		return 0, false
	}
	from, err := time.Parse("2006-01-02", current)
	if err != nil {
		return 0, false
	}
	to, err := time.Parse("2006-01-02", *requested)
	if err != nil {
		return 0, false
	}
	days := int(math.Abs(to.Sub(from).Hours()) / 24)
	return days, true
}

// Approve decides a pending amendment in full
func (e *Engine) Approve(ctx context.Context, id string, req models.AmendmentDecisionRequest, decidedBy string) (*models.Amendment, error) {
	a, err := e.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	state := models.AmendmentApproved
	if req.PartialChanges != nil {
		state = models.AmendmentPartiallyApproved
		a.Requested = *req.PartialChanges
	}

	reason := req.Reason
	if req.BypassValidation {
		reason = strings.TrimSpace(reason + " [validation bypassed]")
	}
	if err := e.decide(ctx, a, state, reason, decidedBy, req.PartialChanges, req.BypassValidation); err != nil {
		return nil, err
	}
	return a, nil
}

// Reject declines a pending amendment; the booking stays untouched
func (e *Engine) Reject(ctx context.Context, id, reason, decidedBy string) (*models.Amendment, error) {
	a, err := e.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.decide(ctx, a, models.AmendmentRejected, reason, decidedBy, nil, false); err != nil {
		return nil, err
	}
	return a, nil
}

// BulkDecide applies one action to many amendments and reports exactly
// one outcome per requested id; a failure never aborts the rest.
func (e *Engine) BulkDecide(ctx context.Context, req models.BulkAmendmentRequest, decidedBy string) *models.BulkAmendmentResponse {
	resp := &models.BulkAmendmentResponse{Results: make([]models.BulkAmendmentResult, 0, len(req.AmendmentIDs))}
	for _, id := range req.AmendmentIDs {
		result := models.BulkAmendmentResult{AmendmentID: id}

		var a *models.Amendment
		var err error
		switch req.Action {
		case "approve":
			a, err = e.Approve(ctx, id, models.AmendmentDecisionRequest{Reason: req.Reason}, decidedBy)
		case "reject":
			a, err = e.Reject(ctx, id, req.Reason, decidedBy)
		default:
			err = oerr.Validation(fmt.Sprintf("unknown bulk action %q", req.Action), nil)
		}

		if err != nil {
			result.Error = err.Error()
		} else {
			result.OK = true
			result.State = string(a.State)
		}
		resp.Results = append(resp.Results, result)
	}
	return resp
}

// ExpireOverdue transitions pending amendments past their TTL and
// notifies the requesting channels. Called by the retention sweep.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	expired, err := e.repo.ExpirePending(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("amendment expiry failed: %w", err)
	}
	for i := range expired {
		a := &expired[i]
		e.count(models.AmendmentExpired)
		e.publishDecision(ctx, a, models.AmendmentExpired, "amendment ttl elapsed")
	}
	return len(expired), nil
}

func (e *Engine) Get(ctx context.Context, id string) (*models.Amendment, error) {
	a, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, oerr.Transient("amendment lookup failed", err)
	}
	if a == nil {
		return nil, oerr.Validation(fmt.Sprintf("amendment %s not found", id), nil)
	}
	return a, nil
}

func (e *Engine) List(ctx context.Context, state, bookingID string, limit, offset int) ([]models.Amendment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.repo.List(ctx, state, bookingID, limit, offset)
}

func (e *Engine) pending(ctx context.Context, id string) (*models.Amendment, error) {
	a, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.State.IsTerminal() {
		return nil, oerr.BusinessRule(fmt.Sprintf("amendment %s already %s", id, a.State), nil)
	}
	return a, nil
}

// decide performs the guarded transition, records the booking status
// trail and fans the decision out.
func (e *Engine) decide(ctx context.Context, a *models.Amendment, to models.AmendmentState,
	reason, decidedBy string, partial *models.RequestedChanges, bypassed bool) error {

	moved, err := e.repo.Transition(ctx, a.ID, to, reason, decidedBy)
	if err != nil {
		return oerr.Transient("amendment transition failed", err)
	}
	if !moved {
		// lost the race against another decision or the expiry sweep
		return oerr.BusinessRule(fmt.Sprintf("amendment %s is no longer pending", a.ID), nil)
	}

	a.State = to
	a.DecisionReason = &reason
	now := time.Now()
	a.DecidedAt = &now
	if decidedBy != "" {
		a.DecidedBy = &decidedBy
	}
	e.count(to)

	source := "amendment:" + string(to)
	if bypassed {
		source += ":bypassed"
	}
	toStatus := bookingStatusFor(a, to)
	if toStatus != "" {
		if err := e.transitions.Create(ctx, &models.BookingStatusTransition{
			BookingID:     a.BookingID,
			FromStatus:    a.OriginalSnapshot.Status,
			ToStatus:      toStatus,
			Reason:        reason,
			Source:        source,
			CorrelationID: a.CorrelationID,
		}); err != nil {
			slog.Error("Booking status trail write failed", "amendment_id", a.ID, "error", err)
		}
	}

	e.publishDecision(ctx, a, to, reason)
	return nil
}

// bookingStatusFor maps an accepted decision onto the booking status
// trail; rejections leave the booking as it was.
func bookingStatusFor(a *models.Amendment, to models.AmendmentState) string {
	switch to {
	case models.AmendmentApproved, models.AmendmentAutoApproved, models.AmendmentPartiallyApproved:
		if a.Requested.Cancel {
			return "cancelled"
		}
		return "modified"
	}
	return ""
}

func (e *Engine) publishDecision(ctx context.Context, a *models.Amendment, to models.AmendmentState, reason string) {
	if _, err := e.bus.Publish(ctx, models.EventAmendmentDecided, models.AmendmentDecidedPayload{
		AmendmentID: a.ID,
		BookingID:   a.BookingID,
		HotelID:     a.HotelID,
		Channel:     a.RequestedByChannel,
		State:       string(to),
		Reason:      reason,
		Timestamp:   time.Now(),
	}, a.CorrelationID); err != nil {
		slog.Error("Amendment decision publish failed", "amendment_id", a.ID, "error", err)
		return
	}

	// an accepted change also moves the booking itself
	switch to {
	case models.AmendmentApproved, models.AmendmentAutoApproved, models.AmendmentPartiallyApproved:
		kind := models.EventBookingModified
		if a.Requested.Cancel {
			kind = models.EventBookingCancelled
		}
		if _, err := e.bus.Publish(ctx, kind, models.BookingEventPayload{
			BookingID: a.BookingID,
			HotelID:   a.HotelID,
			Reason:    reason,
			Timestamp: time.Now(),
		}, a.CorrelationID); err != nil {
			slog.Error("Booking event publish failed", "amendment_id", a.ID, "kind", kind, "error", err)
		}
	}
}

func (e *Engine) count(state models.AmendmentState) {
	if e.metrics == nil {
		return
	}
	e.metrics.AmendmentsTotal.WithLabelValues(string(state)).Inc()
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"otabridge/internal/database"
	"otabridge/internal/models"
)

type AmendmentRepository struct {
	db *database.DB
}

func NewAmendmentRepository(db *database.DB) *AmendmentRepository {
	return &AmendmentRepository{db: db}
}

const amendmentColumns = `id, channel_amendment_id, booking_id, hotel_id, correlation_id, type, state,
	requested_changes, original_snapshot, requested_by_channel, requested_by_guest, requested_at,
	requires_manual_approval, decision_reason, decided_at, decided_by, expires_at`

func (r *AmendmentRepository) Create(ctx context.Context, a *models.Amendment) error {
	changes, err := json.Marshal(a.Requested)
	if err != nil {
		return fmt.Errorf("failed to marshal requested changes: %w", err)
	}
	snapshot, err := json.Marshal(a.OriginalSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal original snapshot: %w", err)
	}

	query := `
		INSERT INTO amendments (id, channel_amendment_id, booking_id, hotel_id, correlation_id,
			type, state, requested_changes, original_snapshot, requested_by_channel,
			requested_by_guest, requires_manual_approval, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING requested_at`

	return r.db.QueryRowContext(ctx, query,
		a.ID, a.ChannelAmendmentID, a.BookingID, a.HotelID, a.CorrelationID,
		a.Type, a.State, changes, snapshot, a.RequestedByChannel,
		a.RequestedByGuest, a.RequiresManual, a.ExpiresAt,
	).Scan(&a.RequestedAt)
}

func (r *AmendmentRepository) scanOne(row interface{ Scan(...interface{}) error }) (*models.Amendment, error) {
	a := &models.Amendment{}
	var changes, snapshot []byte
	err := row.Scan(
		&a.ID, &a.ChannelAmendmentID, &a.BookingID, &a.HotelID, &a.CorrelationID, &a.Type, &a.State,
		&changes, &snapshot, &a.RequestedByChannel, &a.RequestedByGuest, &a.RequestedAt,
		&a.RequiresManual, &a.DecisionReason, &a.DecidedAt, &a.DecidedBy, &a.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &a.Requested); err != nil {
			return nil, fmt.Errorf("failed to unmarshal requested changes: %w", err)
		}
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &a.OriginalSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal original snapshot: %w", err)
		}
	}
	return a, nil
}

func (r *AmendmentRepository) GetByID(ctx context.Context, id string) (*models.Amendment, error) {
	query := `SELECT ` + amendmentColumns + ` FROM amendments WHERE id = $1`
	a, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetByChannelID looks an amendment up by its channel-assigned id (dedup)
func (r *AmendmentRepository) GetByChannelID(ctx context.Context, channel models.Channel, channelAmendmentID string) (*models.Amendment, error) {
	query := `SELECT ` + amendmentColumns + ` FROM amendments
		WHERE requested_by_channel = $1 AND channel_amendment_id = $2`
	a, err := r.scanOne(r.db.QueryRowContext(ctx, query, channel, channelAmendmentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *AmendmentRepository) List(ctx context.Context, state, bookingID string, limit, offset int) ([]models.Amendment, error) {
	query := `SELECT ` + amendmentColumns + ` FROM amendments
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR booking_id = $2)
		ORDER BY requested_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, state, bookingID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amendments []models.Amendment
	for rows.Next() {
		a, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		amendments = append(amendments, *a)
	}
	return amendments, rows.Err()
}

// Transition moves an amendment out of pending. The WHERE clause is
// the terminal-state guard: a decided amendment never matches again.
func (r *AmendmentRepository) Transition(ctx context.Context, id string, to models.AmendmentState, reason, decidedBy string) (bool, error) {
	query := `
		UPDATE amendments
		SET state = $1, decision_reason = $2, decided_by = NULLIF($3, ''), decided_at = NOW()
		WHERE id = $4 AND state = 'pending'`

	res, err := r.db.ExecContext(ctx, query, to, reason, decidedBy, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpirePending moves pending amendments past their TTL to expired
func (r *AmendmentRepository) ExpirePending(ctx context.Context, now time.Time) ([]models.Amendment, error) {
	query := `
		UPDATE amendments
		SET state = 'expired', decision_reason = 'amendment ttl elapsed', decided_at = NOW()
		WHERE state = 'pending' AND expires_at < $1
		RETURNING ` + amendmentColumns

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []models.Amendment
	for rows.Next() {
		a, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *a)
	}
	return expired, rows.Err()
}

// CountByState powers the monitoring snapshot
func (r *AmendmentRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM amendments GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

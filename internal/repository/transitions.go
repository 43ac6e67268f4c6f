package repository

import (
	"context"

	"otabridge/internal/database"
	"otabridge/internal/models"
)

type TransitionRepository struct {
	db *database.DB
}

func NewTransitionRepository(db *database.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// Create appends one booking status transition; rows are never updated
func (r *TransitionRepository) Create(ctx context.Context, t *models.BookingStatusTransition) error {
	query := `
		INSERT INTO booking_status_transitions (booking_id, from_status, to_status, reason, source, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return r.db.QueryRowContext(ctx, query,
		t.BookingID, t.FromStatus, t.ToStatus, t.Reason, t.Source, t.CorrelationID,
	).Scan(&t.ID, &t.CreatedAt)
}

func (r *TransitionRepository) ListByBooking(ctx context.Context, bookingID string) ([]models.BookingStatusTransition, error) {
	query := `
		SELECT id, booking_id, from_status, to_status, reason, source, correlation_id, created_at
		FROM booking_status_transitions
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []models.BookingStatusTransition
	for rows.Next() {
		var t models.BookingStatusTransition
		err := rows.Scan(&t.ID, &t.BookingID, &t.FromStatus, &t.ToStatus, &t.Reason, &t.Source, &t.CorrelationID, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

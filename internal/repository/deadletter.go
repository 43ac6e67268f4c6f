package repository

import (
	"context"
	"database/sql"
	"time"

	"otabridge/internal/database"
	"otabridge/internal/models"
)

type DeadLetterRepository struct {
	db *database.DB
}

func NewDeadLetterRepository(db *database.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) Create(ctx context.Context, tx *sql.Tx, d *models.DeadLetter) error {
	query := `
		INSERT INTO bus_dead_letters (id, event_id, kind, correlation_id, payload, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	row := tx.QueryRowContext(ctx, query,
		d.ID, d.EventID, d.Kind, d.CorrelationID, d.Payload, d.Attempts, d.LastError)
	return row.Scan(&d.CreatedAt)
}

func (r *DeadLetterRepository) List(ctx context.Context, kind, correlationID string, limit int) ([]models.DeadLetter, error) {
	query := `
		SELECT id, event_id, kind, correlation_id, payload, attempts, last_error, created_at
		FROM bus_dead_letters
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR correlation_id = $2::uuid)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, kind, correlationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []models.DeadLetter
	for rows.Next() {
		var d models.DeadLetter
		err := rows.Scan(&d.ID, &d.EventID, &d.Kind, &d.CorrelationID, &d.Payload, &d.Attempts, &d.LastError, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id string) (*models.DeadLetter, error) {
	query := `
		SELECT id, event_id, kind, correlation_id, payload, attempts, last_error, created_at
		FROM bus_dead_letters
		WHERE id = $1`

	var d models.DeadLetter
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.EventID, &d.Kind, &d.CorrelationID, &d.Payload, &d.Attempts, &d.LastError, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeadLetterRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bus_dead_letters WHERE id = $1`, id)
	return err
}

// DeleteOlderThan prunes dead letters past the retention threshold
func (r *DeadLetterRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM bus_dead_letters
		WHERE id IN (
			SELECT id FROM bus_dead_letters WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
		)`
	res, err := r.db.ExecContext(ctx, query, olderThan, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

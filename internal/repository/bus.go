package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"otabridge/internal/database"
	"otabridge/internal/models"
)

type BusRepository struct {
	db *database.DB
}

func NewBusRepository(db *database.DB) *BusRepository {
	return &BusRepository{db: db}
}

const busColumns = `id, correlation_id, kind, payload, originator, attempts, max_attempts,
	partition, visible_after, deadline, created_at`

// Insert appends an event to the durable log. The insert commits before
// Publish returns, which is the bus's durability guarantee.
func (r *BusRepository) Insert(ctx context.Context, e *models.Event) error {
	query := `
		INSERT INTO bus_events (id, correlation_id, kind, payload, originator, attempts,
			max_attempts, partition, visible_after, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	return r.db.QueryRowContext(ctx, query,
		e.ID, e.CorrelationID, e.Kind, []byte(e.Payload), e.Originator, e.Attempts,
		e.MaxAttempts, e.Partition, e.VisibleAfter, e.Deadline,
	).Scan(&e.CreatedAt)
}

// TryPartitionLock takes a transaction-scoped advisory lock on one bus
// partition. While the claiming transaction stays open, no other worker
// in any process can claim from the same partition, which preserves
// per-correlation FIFO.
func (r *BusRepository) TryPartitionLock(ctx context.Context, tx *sql.Tx, partition int) (bool, error) {
	var locked bool
	err := tx.QueryRowContext(ctx,
		`SELECT pg_try_advisory_xact_lock($1, $2)`, busLockNamespace, partition).Scan(&locked)
	return locked, err
}

// busLockNamespace separates bus partition locks from any other
// advisory locks in the database.
const busLockNamespace = 0x07AB

// ClaimNext claims the oldest visible event in the given partition.
// Callers hold the partition advisory lock first; SKIP LOCKED keeps the
// scan from blocking on a row still locked by a finishing transaction.
func (r *BusRepository) ClaimNext(ctx context.Context, tx *sql.Tx, partition int, kinds []string) (*models.Event, error) {
	query := `
		SELECT ` + busColumns + `
		FROM bus_events
		WHERE partition = $1 AND visible_after <= NOW() AND kind = ANY($2)
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	e := &models.Event{}
	var payload []byte
	err := tx.QueryRowContext(ctx, query, partition, pq.Array(kinds)).Scan(
		&e.ID, &e.CorrelationID, &e.Kind, &payload, &e.Originator, &e.Attempts,
		&e.MaxAttempts, &e.Partition, &e.VisibleAfter, &e.Deadline, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return e, nil
}

// Delete acknowledges an event: successful handling removes it from the log
func (r *BusRepository) Delete(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM bus_events WHERE id = $1`, id)
	return err
}

// Defer re-enqueues an event with a later visibility and bumped attempt count
func (r *BusRepository) Defer(ctx context.Context, tx *sql.Tx, id string, visibleAfter time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bus_events SET attempts = attempts + 1, visible_after = $1 WHERE id = $2`,
		visibleAfter, id)
	return err
}

// PartitionDepth returns the number of queued events in a partition
func (r *BusRepository) PartitionDepth(ctx context.Context, partition int) (int64, error) {
	var depth int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bus_events WHERE partition = $1`, partition).Scan(&depth)
	return depth, err
}

// Depths returns queue depth per partition for monitoring
func (r *BusRepository) Depths(ctx context.Context) (map[int]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT partition, COUNT(*) FROM bus_events GROUP BY partition`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depths := make(map[int]int64)
	for rows.Next() {
		var p int
		var n int64
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		depths[p] = n
	}
	return depths, rows.Err()
}

func (r *BusRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

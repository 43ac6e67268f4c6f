package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"otabridge/internal/database"
	"otabridge/internal/models"
)

type PayloadRepository struct {
	db *database.DB
}

func NewPayloadRepository(db *database.DB) *PayloadRepository {
	return &PayloadRepository{db: db}
}

const payloadColumns = `id, correlation_id, direction, channel, hotel_id, method, url, headers,
	body_compressed, body_hash, body_truncated, response_status, response_body, parsed,
	processing_status, status_reason, contains_pii, contains_payment_data, data_level,
	operation, priority, retention_policy, created_at, archived_at`

func (r *PayloadRepository) Create(ctx context.Context, p *models.PayloadRecord) error {
	headers, err := json.Marshal(p.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	parsed, err := json.Marshal(p.Parsed)
	if err != nil {
		return fmt.Errorf("failed to marshal parsed fields: %w", err)
	}

	query := `
		INSERT INTO payload_records (id, correlation_id, direction, channel, hotel_id, method, url,
			headers, body_compressed, body_hash, body_truncated, response_status, response_body,
			parsed, processing_status, status_reason, contains_pii, contains_payment_data,
			data_level, operation, priority, retention_policy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at`

	return r.db.QueryRowContext(ctx, query,
		p.ID, p.CorrelationID, p.Direction, p.Channel, p.HotelID, p.Method, p.URL,
		headers, p.BodyCompressed, p.BodyHash, p.BodyTruncated, p.ResponseStatus, p.ResponseBody,
		parsed, p.Status, p.StatusReason, p.Classification.ContainsPII,
		p.Classification.ContainsPaymentData, p.Classification.DataLevel,
		p.Business.Operation, p.Business.Priority, p.RetentionPolicy,
	).Scan(&p.CreatedAt)
}

func (r *PayloadRepository) scanOne(row interface{ Scan(...interface{}) error }) (*models.PayloadRecord, error) {
	p := &models.PayloadRecord{}
	var headers, parsed []byte
	err := row.Scan(
		&p.ID, &p.CorrelationID, &p.Direction, &p.Channel, &p.HotelID, &p.Method, &p.URL, &headers,
		&p.BodyCompressed, &p.BodyHash, &p.BodyTruncated, &p.ResponseStatus, &p.ResponseBody, &parsed,
		&p.Status, &p.StatusReason, &p.Classification.ContainsPII, &p.Classification.ContainsPaymentData,
		&p.Classification.DataLevel, &p.Business.Operation, &p.Business.Priority, &p.RetentionPolicy,
		&p.CreatedAt, &p.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &p.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if len(parsed) > 0 {
		if err := json.Unmarshal(parsed, &p.Parsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parsed fields: %w", err)
		}
	}
	return p, nil
}

func (r *PayloadRepository) GetByID(ctx context.Context, id string) (*models.PayloadRecord, error) {
	query := `SELECT ` + payloadColumns + ` FROM payload_records WHERE id = $1`
	p, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// statusRank enforces monotonic progression of processing_status
var statusRank = map[models.ProcessingStatus]int{
	models.StatusReceived:   0,
	models.StatusProcessing: 1,
	models.StatusProcessed:  2,
	models.StatusFailed:     2,
	models.StatusIgnored:    2,
}

// UpdateStatus moves a record forward in the status lattice; regressions
// are silently ignored so retried handlers cannot rewind history.
func (r *PayloadRepository) UpdateStatus(ctx context.Context, id string, status models.ProcessingStatus, reason string) error {
	rank := statusRank[status]
	var allowed []string
	for s, n := range statusRank {
		if n < rank {
			allowed = append(allowed, string(s))
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE payload_records
		SET processing_status = $1, status_reason = $2
		WHERE id = $3 AND processing_status IN ('%s')`,
		strings.Join(allowed, "','"))

	_, err := r.db.ExecContext(ctx, query, status, reason, id)
	return err
}

func (r *PayloadRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]models.PayloadRecord, error) {
	query := `SELECT ` + payloadColumns + ` FROM payload_records WHERE correlation_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, correlationID)
}

func (r *PayloadRepository) ListByBookingID(ctx context.Context, bookingID string) ([]models.PayloadRecord, error) {
	query := `SELECT ` + payloadColumns + ` FROM payload_records WHERE parsed->>'booking_id' = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, bookingID)
}

func (r *PayloadRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.PayloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.PayloadRecord
	for rows.Next() {
		p, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *p)
	}
	return records, rows.Err()
}

// Query applies the admin filter set with keyset-free pagination
func (r *PayloadRepository) Query(ctx context.Context, req models.PayloadQueryRequest) ([]models.PayloadRecord, int64, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if req.Channel != "" {
		conds = append(conds, "channel = "+arg(req.Channel))
	}
	if req.Direction != "" {
		conds = append(conds, "direction = "+arg(req.Direction))
	}
	if req.Operation != "" {
		conds = append(conds, "operation = "+arg(req.Operation))
	}
	if req.Status != "" {
		conds = append(conds, "processing_status = "+arg(req.Status))
	}
	if req.BookingID != "" {
		conds = append(conds, "parsed->>'booking_id' = "+arg(req.BookingID))
	}
	if req.CorrelationID != "" {
		conds = append(conds, "correlation_id = "+arg(req.CorrelationID))
	}
	if req.SearchText != "" {
		pattern := "%" + req.SearchText + "%"
		conds = append(conds, fmt.Sprintf(
			"(parsed->>'guest_name' ILIKE %s OR parsed->>'reservation_id' ILIKE %s OR parsed->>'booking_id' ILIKE %s)",
			arg(pattern), arg(pattern), arg(pattern)))
	}
	if req.StartDate != "" {
		conds = append(conds, "created_at >= "+arg(req.StartDate))
	}
	if req.EndDate != "" {
		conds = append(conds, "created_at <= "+arg(req.EndDate))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payload_records"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if strings.EqualFold(req.SortOrder, "asc") {
		order = "ASC"
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := "SELECT " + payloadColumns + " FROM payload_records" + where +
		" ORDER BY created_at " + order +
		" LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	records, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// CountByDataLevel aggregates payload counts per classification over a window
func (r *PayloadRepository) CountByDataLevel(ctx context.Context, start, end time.Time, channel, direction string) (map[string]int64, error) {
	query := `
		SELECT data_level, COUNT(*)
		FROM payload_records
		WHERE created_at >= $1 AND created_at <= $2
		  AND ($3 = '' OR channel = $3)
		  AND ($4 = '' OR direction = $4)
		GROUP BY data_level`

	rows, err := r.db.QueryContext(ctx, query, start, end, channel, direction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[level] = n
	}
	return counts, rows.Err()
}

// CountRetentionOverdue counts active records older than their policy's delete threshold
func (r *PayloadRepository) CountRetentionOverdue(ctx context.Context, thresholds map[string]int) (int64, error) {
	var total int64
	for policy, days := range thresholds {
		var n int64
		query := `
			SELECT COUNT(*) FROM payload_records
			WHERE retention_policy = $1 AND archived_at IS NULL
			  AND created_at < NOW() - ($2 || ' days')::interval`
		if err := r.db.QueryRowContext(ctx, query, policy, days).Scan(&n); err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ListArchiveCandidates returns active records past the archive threshold for one policy
func (r *PayloadRepository) ListArchiveCandidates(ctx context.Context, policy string, olderThan time.Time, limit int) ([]models.PayloadRecord, error) {
	query := `SELECT ` + payloadColumns + `
		FROM payload_records
		WHERE retention_policy = $1 AND archived_at IS NULL AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`
	return r.list(ctx, query, policy, olderThan, limit)
}

// Archive drops the compressed body but keeps hash and metadata
func (r *PayloadRepository) Archive(ctx context.Context, id string) (int64, error) {
	var bodyBytes sql.NullInt64
	// the CTE captures body sizes before they are nulled out
	query := `
		WITH old AS (
			SELECT COALESCE(octet_length(body_compressed), 0) + COALESCE(octet_length(response_body), 0) AS n
			FROM payload_records WHERE id = $1
		)
		UPDATE payload_records
		SET body_compressed = NULL, response_body = NULL, archived_at = NOW()
		FROM old
		WHERE id = $1 AND archived_at IS NULL
		RETURNING old.n`

	err := r.db.QueryRowContext(ctx, query, id).Scan(&bodyBytes)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bodyBytes.Int64, nil
}

// DeleteOlderThan removes records of one policy past the final threshold
func (r *PayloadRepository) DeleteOlderThan(ctx context.Context, policy string, olderThan time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM payload_records
		WHERE id IN (
			SELECT id FROM payload_records
			WHERE retention_policy = $1 AND created_at < $2
			ORDER BY created_at ASC
			LIMIT $3
		)`
	res, err := r.db.ExecContext(ctx, query, policy, olderThan, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteFiltered supports the manual cleanup entry point
func (r *PayloadRepository) DeleteFiltered(ctx context.Context, channel, operation string, olderThan time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM payload_records
		WHERE id IN (
			SELECT id FROM payload_records
			WHERE created_at < $1
			  AND ($2 = '' OR channel = $2)
			  AND ($3 = '' OR operation = $3)
			ORDER BY created_at ASC
			LIMIT $4
		)`
	res, err := r.db.ExecContext(ctx, query, olderThan, channel, operation, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OutboundStats aggregates recent outbound deliveries: counts per
// processing status, and per-channel success rates.
func (r *PayloadRepository) OutboundStats(ctx context.Context, since time.Time) (map[string]int64, map[string]float64, error) {
	query := `
		SELECT channel, processing_status, COUNT(*)
		FROM payload_records
		WHERE direction = 'outbound' AND created_at >= $1
		GROUP BY channel, processing_status`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	byStatus := make(map[string]int64)
	type tally struct{ ok, total int64 }
	perChannel := make(map[string]*tally)

	for rows.Next() {
		var channel, status string
		var n int64
		if err := rows.Scan(&channel, &status, &n); err != nil {
			return nil, nil, err
		}
		byStatus[status] += n
		t := perChannel[channel]
		if t == nil {
			t = &tally{}
			perChannel[channel] = t
		}
		t.total += n
		if status == string(models.StatusProcessed) {
			t.ok += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	health := make(map[string]float64, len(perChannel))
	for channel, t := range perChannel {
		if t.total > 0 {
			health[channel] = 100 * float64(t.ok) / float64(t.total)
		}
	}
	return byStatus, health, nil
}

// RedactionCoverage reports the share of inbound payloads whose stored
// headers contain no unredacted sensitive keys.
func (r *PayloadRepository) RedactionCoverage(ctx context.Context, start, end time.Time) (float64, error) {
	var total, clean int64
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT (headers::text ILIKE '%bearer %' OR headers::text ILIKE '%basic %'))
		FROM payload_records
		WHERE created_at >= $1 AND created_at <= $2`

	if err := r.db.QueryRowContext(ctx, query, start, end).Scan(&total, &clean); err != nil {
		return 0, err
	}
	if total == 0 {
		return 100, nil
	}
	return 100 * float64(clean) / float64(total), nil
}

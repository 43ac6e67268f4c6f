// Package payload implements the tamper-evident archive of every wire
// message: sanitized, classified, compressed and indexed.
package payload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"otabridge/internal/metrics"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/repository"
	"otabridge/internal/search"
)

// Store persists wire messages. The raw body is immutable once written.
type Store struct {
	repo     *repository.PayloadRepository
	index    *search.PayloadIndex
	metrics  *metrics.Metrics
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	truncate int64
}

type Config struct {
	TruncateBytes int64
}

// Message describes one wire message to be stored
type Message struct {
	CorrelationID  string
	Direction      models.Direction
	Channel        models.Channel
	HotelID        string
	Method         string
	URL            string
	Headers        map[string]string
	Body           []byte
	Operation      string
	ResponseStatus *int
	ResponseBody   []byte
}

func NewStore(cfg Config, repo *repository.PayloadRepository, index *search.PayloadIndex, m *metrics.Metrics) (*Store, error) {
	if cfg.TruncateBytes <= 0 {
		cfg.TruncateBytes = 1 << 20
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Store{
		repo:     repo,
		index:    index,
		metrics:  m,
		encoder:  encoder,
		decoder:  decoder,
		truncate: cfg.TruncateBytes,
	}, nil
}

// sensitiveHeaders are redacted before persistence
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
}

// SanitizeHeaders redacts credentials and signatures. Signature headers
// are redacted because they are derived from the channel secret.
func SanitizeHeaders(headers map[string]string) map[string]string {
	clean := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if sensitiveHeaders[lower] || strings.Contains(lower, "signature") || strings.Contains(lower, "secret") {
			clean[k] = "[REDACTED]"
			continue
		}
		clean[k] = v
	}
	return clean
}

// StoreInbound records one inbound wire message and returns the new record
func (s *Store) StoreInbound(ctx context.Context, msg Message) (*models.PayloadRecord, error) {
	return s.store(ctx, msg, models.DirectionInbound)
}

// StoreOutbound records an outbound request/response pair under one correlation
func (s *Store) StoreOutbound(ctx context.Context, msg Message) (*models.PayloadRecord, error) {
	return s.store(ctx, msg, models.DirectionOutbound)
}

func (s *Store) store(ctx context.Context, msg Message, direction models.Direction) (*models.PayloadRecord, error) {
	// the hash always covers the full body, even when truncated below
	sum := sha256.Sum256(msg.Body)

	body := msg.Body
	truncated := false
	if int64(len(body)) > s.truncate {
		body = body[:s.truncate]
		truncated = true
	}

	classification := Classify(msg.Headers, msg.Body)
	parsed := ExtractFields(msg.Body, msg.Operation)

	record := &models.PayloadRecord{
		ID:             uuid.New().String(),
		CorrelationID:  msg.CorrelationID,
		Direction:      direction,
		Channel:        msg.Channel,
		HotelID:        msg.HotelID,
		Method:         msg.Method,
		URL:            msg.URL,
		Headers:        SanitizeHeaders(msg.Headers),
		BodyCompressed: s.encoder.EncodeAll(body, nil),
		BodyHash:       hex.EncodeToString(sum[:]),
		BodyTruncated:  truncated,
		ResponseStatus: msg.ResponseStatus,
		Parsed:         parsed,
		Status:         models.StatusReceived,
		Classification: classification,
		Business: models.BusinessContext{
			Operation: msg.Operation,
			Priority:  PriorityFor(msg.Operation),
		},
		RetentionPolicy: RetentionPolicyFor(classification),
	}
	if len(msg.ResponseBody) > 0 {
		record.ResponseBody = s.encoder.EncodeAll(msg.ResponseBody, nil)
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, oerr.Transient("payload store write failed", err)
	}

	if s.metrics != nil {
		s.metrics.PayloadsStored.WithLabelValues(string(direction), string(msg.Channel)).Inc()
	}
	if s.index != nil {
		// best-effort secondary index; Postgres remains source of truth
		go func(rec models.PayloadRecord) {
			if err := s.index.Index(context.Background(), &rec); err != nil {
				slog.Warn("Payload index write failed", "payload_id", rec.ID, "error", err)
			}
		}(*record)
	}

	return record, nil
}

// Get loads one stored payload by id
func (s *Store) Get(ctx context.Context, id string) (*models.PayloadRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// MarkStatus advances the processing status of a stored payload
func (s *Store) MarkStatus(ctx context.Context, id string, status models.ProcessingStatus, reason string) error {
	return s.repo.UpdateStatus(ctx, id, status, reason)
}

// Decompress returns the raw body of a record
func (s *Store) Decompress(record *models.PayloadRecord) ([]byte, error) {
	if len(record.BodyCompressed) == 0 {
		return nil, nil
	}
	body, err := s.decoder.DecodeAll(record.BodyCompressed, nil)
	if err != nil {
		return nil, oerr.Integrity("payload body decompression failed", err)
	}
	return body, nil
}

// VerifyIntegrity recomputes the stored body hash. A mismatch on an
// untruncated body means the record was altered after write.
func (s *Store) VerifyIntegrity(record *models.PayloadRecord) error {
	if record.BodyTruncated || record.ArchivedAt != nil {
		return nil
	}
	body, err := s.Decompress(record)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != record.BodyHash {
		return oerr.Integrity(fmt.Sprintf("payload %s hash mismatch", record.ID), nil)
	}
	return nil
}

// Query runs the admin filter set; bodies are decompressed only when
// includeData is set (the handler layer enforces the role gate).
func (s *Store) Query(ctx context.Context, req models.PayloadQueryRequest) (*models.PayloadQueryResponse, error) {
	records, total, err := s.repo.Query(ctx, req)
	if err != nil {
		return nil, oerr.Transient("payload query failed", err)
	}

	if req.IncludeData {
		for i := range records {
			body, err := s.Decompress(&records[i])
			if err != nil {
				slog.Warn("Payload decompression failed during query", "payload_id", records[i].ID, "error", err)
				continue
			}
			records[i].Body = body
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	return &models.PayloadQueryResponse{
		Items:      records,
		Page:       page,
		Limit:      limit,
		TotalCount: total,
	}, nil
}

// ExtractFields pulls the indexed subset out of a JSON body. Non-JSON
// bodies yield only the operation.
func ExtractFields(body []byte, operation string) models.ParsedFields {
	fields := models.ParsedFields{Operation: operation}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fields
	}

	fields.GuestName = firstString(doc, "guest_name", "guestName", "customer_name", "name")
	fields.ReservationID = firstString(doc, "reservation_id", "reservationId", "channel_reservation_id", "confirmation_code")
	fields.BookingID = firstString(doc, "booking_id", "bookingId")
	if amount := firstString(doc, "amount", "total_amount", "rate"); amount != "" {
		fields.Amount = amount
	}
	if fields.Operation == "" {
		fields.Operation = firstString(doc, "operation", "event", "event_type", "type")
	}
	return fields
}

func firstString(doc map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			switch t := v.(type) {
			case string:
				return t
			case float64:
				return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
			}
		}
	}
	return ""
}

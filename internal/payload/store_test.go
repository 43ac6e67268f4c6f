package payload

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otabridge/internal/database"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/repository"
)

func newTestStore(t *testing.T, cfg Config) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	repo := repository.NewPayloadRepository(&database.DB{DB: mockDB})
	store, err := NewStore(cfg, repo, nil, nil)
	require.NoError(t, err)
	return store, mock
}

func TestSanitizeHeaders(t *testing.T) {
	in := map[string]string{
		"Authorization":       "Bearer abc",
		"X-Api-Key":           "key123",
		"X-Booking-Signature": "deadbeef",
		"X-Channel-Secret":    "s3cret",
		"Content-Type":        "application/json",
	}
	out := SanitizeHeaders(in)
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "[REDACTED]", out["X-Api-Key"])
	assert.Equal(t, "[REDACTED]", out["X-Booking-Signature"])
	assert.Equal(t, "[REDACTED]", out["X-Channel-Secret"])
	assert.Equal(t, "application/json", out["Content-Type"])
	// input map is left alone
	assert.Equal(t, "Bearer abc", in["Authorization"])
}

func TestExtractFields(t *testing.T) {
	body := []byte(`{"guest_name":"Jane Doe","reservation_id":"RES-9","booking_id":"b-1","total_amount":12500.50}`)
	fields := ExtractFields(body, "booking_modification")
	assert.Equal(t, "Jane Doe", fields.GuestName)
	assert.Equal(t, "RES-9", fields.ReservationID)
	assert.Equal(t, "b-1", fields.BookingID)
	assert.Equal(t, "12500.5", fields.Amount)
	assert.Equal(t, "booking_modification", fields.Operation)
}

func TestExtractFieldsNonJSON(t *testing.T) {
	fields := ExtractFields([]byte("<xml/>"), "rate_update")
	assert.Equal(t, models.ParsedFields{Operation: "rate_update"}, fields)
}

func TestExtractFieldsOperationFallback(t *testing.T) {
	fields := ExtractFields([]byte(`{"event_type":"reservation_created"}`), "")
	assert.Equal(t, "reservation_created", fields.Operation)
}

func TestStoreInbound(t *testing.T) {
	store, mock := newTestStore(t, Config{})

	mock.ExpectQuery("INSERT INTO payload_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	body := []byte(`{"booking_id":"b-42","guest_email":"g@example.com"}`)
	record, err := store.StoreInbound(context.Background(), Message{
		CorrelationID: "corr-1",
		Channel:       models.ChannelBookingCom,
		HotelID:       "h-1",
		Method:        "POST",
		URL:           "/webhooks/channels/booking_com",
		Headers:       map[string]string{"X-Booking-Signature": "sig"},
		Body:          body,
		Operation:     "booking_modification",
	})
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.DirectionInbound, record.Direction)
	assert.Equal(t, "[REDACTED]", record.Headers["X-Booking-Signature"])
	assert.Equal(t, models.DataLevelConfidential, record.Classification.DataLevel)
	assert.Equal(t, models.PriorityHigh, record.Business.Priority)
	assert.Equal(t, "confidential", record.RetentionPolicy)
	assert.False(t, record.BodyTruncated)

	// round trip through the compressed body
	raw, err := store.Decompress(record)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, raw))

	assert.NoError(t, store.VerifyIntegrity(record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreTruncatesOversizedBody(t *testing.T) {
	store, mock := newTestStore(t, Config{TruncateBytes: 16})

	mock.ExpectQuery("INSERT INTO payload_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	body := bytes.Repeat([]byte("a"), 64)
	record, err := store.StoreInbound(context.Background(), Message{Body: body, Operation: "rate_update"})
	require.NoError(t, err)

	assert.True(t, record.BodyTruncated)
	stored, err := store.Decompress(record)
	require.NoError(t, err)
	assert.Len(t, stored, 16)

	// truncated records are exempt from the hash check
	assert.NoError(t, store.VerifyIntegrity(record))
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	store, mock := newTestStore(t, Config{})

	mock.ExpectQuery("INSERT INTO payload_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	record, err := store.StoreInbound(context.Background(), Message{Body: []byte(`{"ok":true}`), Operation: "sync"})
	require.NoError(t, err)

	record.BodyHash = "0000000000000000000000000000000000000000000000000000000000000000"
	err = store.VerifyIntegrity(record)
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindIntegrity))
}

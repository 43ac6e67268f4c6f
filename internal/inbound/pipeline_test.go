package inbound

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otabridge/internal/config"
	"otabridge/internal/database"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/payload"
	"otabridge/internal/repository"
)

func TestParseChannel(t *testing.T) {
	for _, id := range []string{"booking_com", "expedia", "airbnb", "agoda"} {
		ch, err := ParseChannel(id)
		require.NoError(t, err)
		assert.Equal(t, models.Channel(id), ch)
	}

	_, err := ParseChannel("ctrip")
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))
}

func TestOperationOf(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"event_type":"reservation.modified"}`, models.EventBookingModified},
		{`{"type":"booking_cancel"}`, models.EventBookingCancelled},
		{`{"action":"cancellation"}`, models.EventBookingCancelled},
		{`{"event_type":"rate_change"}`, models.EventRateUpdate},
		{`{"event_type":"allotment_change"}`, models.EventInventoryAvailability},
		{`{"action":"closeout"}`, models.EventStopSellChanged},
		{`{"type":"room_type_change"}`, models.EventRoomTypeUpdated},
		{`{"event_type":"new_booking"}`, models.EventBookingCreated},
		{`{"event_type":"something_custom"}`, "something_custom"},
		{`not json`, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, operationOf([]byte(tc.body)), tc.body)
	}
}

func TestChannelEventID(t *testing.T) {
	body := []byte(`{"booking_id":"b-1"}`)

	id := channelEventID(models.ChannelExpedia, map[string]string{"x-expedia-message-id": "msg-7"}, body)
	assert.Equal(t, "msg-7", id)

	sum := sha256.Sum256(body)
	id = channelEventID(models.ChannelExpedia, nil, body)
	assert.Equal(t, hex.EncodeToString(sum[:]), id)
}

type stubAmendments struct {
	created []*models.PayloadRecord
	err     error
}

func (s *stubAmendments) CreateFromWebhook(_ context.Context, record *models.PayloadRecord, _ []byte) (*models.Amendment, error) {
	s.created = append(s.created, record)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Amendment{ID: "a-1"}, nil
}

func newTestPipeline(t *testing.T, sink AmendmentSink) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := &database.DB{DB: mockDB}
	store, err := payload.NewStore(payload.Config{}, repository.NewPayloadRepository(db), nil, nil)
	require.NoError(t, err)

	cfg := config.InboundConfig{RequestsPerSec: 100, Burst: 100, DedupTTL: time.Minute}
	return New(cfg, store, repository.NewChannelConfigRepository(db), nil, nil, sink, nil), mock
}

func channelConfigRows(secret string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "hotel_id", "channel", "credentials", "signature_secret", "endpoints",
		"language", "currency", "requests_per_sec", "burst", "enabled",
	}).AddRow(int64(1), "h-1", "expedia", "creds", secret, []byte(`{}`), "en", "USD", 8.0, 16, true)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestProcessRejectsBadSignature(t *testing.T) {
	p, mock := newTestPipeline(t, nil)

	mock.ExpectQuery("SELECT .* FROM channel_configs").
		WithArgs(models.ChannelExpedia).
		WillReturnRows(channelConfigRows("real-secret"))
	// the rejected delivery is still archived, marked ignored
	mock.ExpectQuery("INSERT INTO payload_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE payload_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := []byte(`{"event_type":"reservation.modified","booking_id":"b-1"}`)
	headers := map[string]string{"X-Expedia-Signature": signBody("wrong-secret", body)}

	_, err := p.Process(context.Background(), models.ChannelExpedia, "POST", "/webhooks/channels/expedia", headers, body)
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindAuth))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessMissingSignature(t *testing.T) {
	p, mock := newTestPipeline(t, nil)

	mock.ExpectQuery("INSERT INTO payload_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE payload_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := p.Process(context.Background(), models.ChannelExpedia, "POST", "/", nil, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindAuth))
}

func TestProcessRoutesBookingChangeToAmendments(t *testing.T) {
	sink := &stubAmendments{}
	p, mock := newTestPipeline(t, sink)

	mock.ExpectQuery("SELECT .* FROM channel_configs").
		WithArgs(models.ChannelExpedia).
		WillReturnRows(channelConfigRows("hush"))
	mock.ExpectQuery("INSERT INTO payload_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE payload_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(map[string]interface{}{
		"event_type": "reservation.modified",
		"booking_id": "b-9",
		"check_in":   "2026-10-01",
	})
	headers := map[string]string{"X-Expedia-Signature": signBody("hush", body)}

	res, err := p.Process(context.Background(), models.ChannelExpedia, "POST", "/webhooks/channels/expedia", headers, body)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.PayloadID)
	require.Len(t, sink.created, 1)
	assert.Equal(t, "h-1", sink.created[0].HotelID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessAirbnbSignaturePrefix(t *testing.T) {
	sink := &stubAmendments{}
	p, mock := newTestPipeline(t, sink)

	rows := sqlmock.NewRows([]string{
		"id", "hotel_id", "channel", "credentials", "signature_secret", "endpoints",
		"language", "currency", "requests_per_sec", "burst", "enabled",
	}).AddRow(int64(2), "h-2", "airbnb", "tok", "hush", []byte(`{}`), "en", "USD", 4.0, 8, true)

	mock.ExpectQuery("SELECT .* FROM channel_configs").
		WithArgs(models.ChannelAirbnb).
		WillReturnRows(rows)
	mock.ExpectQuery("INSERT INTO payload_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE payload_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := []byte(`{"event_type":"booking_cancel","booking_id":"b-3"}`)
	headers := map[string]string{"X-Airbnb-Signature": "sha256=" + signBody("hush", body)}

	res, err := p.Process(context.Background(), models.ChannelAirbnb, "POST", "/webhooks/channels/airbnb", headers, body)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.Len(t, sink.created, 1)
	assert.Equal(t, "h-2", sink.created[0].HotelID)
}

package bus

import (
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

func newTestBus(t *testing.T, cfg Config) (*Bus, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := &database.DB{DB: mockDB}
	return New(cfg, repository.NewBusRepository(db), repository.NewDeadLetterRepository(db), nil, nil), mock
}

func TestPartitionStableAndBounded(t *testing.T) {
	b, _ := newTestBus(t, Config{Partitions: 16})

	seen := map[int]bool{}
	for _, id := range []string{"corr-1", "corr-2", "booking-777", "", "corr-1"} {
		p := b.Partition(id)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 16)
		seen[p] = true
	}
	assert.Equal(t, b.Partition("corr-1"), b.Partition("corr-1"))
}

func TestDefaultBackoff(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		delay := defaultBackoff(attempt)
		assert.GreaterOrEqual(t, delay, time.Second)
		assert.LessOrEqual(t, delay, time.Minute+15*time.Second, "attempt %d", attempt)
	}
}

func TestPublishInsertsEvent(t *testing.T) {
	b, mock := newTestBus(t, Config{Partitions: 16, HighWaterMark: 100})

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("INSERT INTO bus_events").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	id, err := b.Publish(context.Background(), models.EventRateUpdate,
		models.RateUpdatePayload{HotelID: "h-1", RoomType: "std", Date: "2026-09-01", Rate: 100}, "corr-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRejectsOverHighWaterMark(t *testing.T) {
	b, mock := newTestBus(t, Config{Partitions: 16, HighWaterMark: 10})

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(10)))

	_, err := b.Publish(context.Background(), models.EventRateUpdate,
		models.RateUpdatePayload{HotelID: "h-1"}, "corr-1")
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindTransient))
	assert.True(t, oerr.IsRetryable(err))
}

func TestPublishMintsCorrelationID(t *testing.T) {
	b, mock := newTestBus(t, Config{Partitions: 16})

	mock.ExpectQuery("INSERT INTO bus_events").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	id, err := b.Publish(context.Background(), models.EventBookingCreated,
		models.BookingEventPayload{BookingID: "b-1", HotelID: "h-1"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPublishRejectsUnserializablePayload(t *testing.T) {
	b, _ := newTestBus(t, Config{Partitions: 16})

	_, err := b.Publish(context.Background(), models.EventRateUpdate, func() {}, "corr-1")
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))
}

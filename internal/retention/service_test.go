package retention

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otabridge/internal/config"
	"otabridge/internal/database"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/repository"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := &database.DB{DB: mockDB}
	return New(config.RetentionConfig{},
		repository.NewPayloadRepository(db),
		repository.NewDeadLetterRepository(db),
		nil, nil), mock
}

func TestCleanupRejectsUnboundedWindow(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Cleanup(context.Background(), models.RetentionCleanupRequest{OlderThanDays: 0})
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))
}

func TestCleanupRejectsOversizedLimit(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Cleanup(context.Background(), models.RetentionCleanupRequest{OlderThanDays: 30, Limit: 5000})
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))
}

func TestCleanupDeletesFiltered(t *testing.T) {
	s, mock := newTestService(t)

	mock.ExpectExec("DELETE FROM payload_records").
		WithArgs(sqlmock.AnyArg(), "expedia", "rate_update", 100).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := s.Cleanup(context.Background(), models.RetentionCleanupRequest{
		Channel:       "expedia",
		Operation:     "rate_update",
		OlderThanDays: 90,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsNilBeforeFirstSweep(t *testing.T) {
	s, _ := newTestService(t)
	assert.Nil(t, s.Stats())
}

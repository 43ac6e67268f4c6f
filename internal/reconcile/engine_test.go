package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otabridge/internal/config"
	"otabridge/internal/database"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/payload"
	"otabridge/internal/repository"
)

type stubSnapshots struct {
	snapshot *models.BookingSnapshot
	err      error
}

func (s *stubSnapshots) Snapshot(context.Context, string, string) (*models.BookingSnapshot, error) {
	return s.snapshot, s.err
}

func newTestEngine(t *testing.T, snapshots SnapshotReader) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	payloads := repository.NewPayloadRepository(&database.DB{DB: mockDB})
	store, err := payload.NewStore(payload.Config{}, payloads, nil, nil)
	require.NoError(t, err)

	return New(config.RetentionConfig{}, payloads, store, snapshots), mock
}

func compress(t *testing.T, body string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll([]byte(body), nil)
}

func TestReconcileNoPayloads(t *testing.T) {
	e, mock := newTestEngine(t, &stubSnapshots{snapshot: &models.BookingSnapshot{BookingID: "b-1"}})

	mock.ExpectQuery("SELECT .* FROM payload_records").
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	report, err := e.Reconcile(context.Background(), "h-1", "b-1")
	require.NoError(t, err)

	assert.Equal(t, 0, report.PayloadsFound)
	assert.Equal(t, 1.0, report.ConsistencyScore)
	assert.Empty(t, report.Discrepancies)
}

func TestReconcileUnknownBooking(t *testing.T) {
	e, _ := newTestEngine(t, &stubSnapshots{})

	_, err := e.Reconcile(context.Background(), "h-1", "b-unknown")
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))
}

func TestProjectLatestMentionWins(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	records := []models.PayloadRecord{
		{
			ID:             "p-old",
			Direction:      models.DirectionInbound,
			Status:         models.StatusProcessed,
			BodyCompressed: compress(t, `{"check_in":"2026-10-01","room_type":"std-dbl"}`),
		},
		{
			ID:             "p-new",
			Direction:      models.DirectionInbound,
			Status:         models.StatusProcessed,
			BodyCompressed: compress(t, `{"check_in":"2026-10-03"}`),
		},
	}

	external := e.project(records)
	require.Contains(t, external, "check_in")
	assert.Equal(t, "2026-10-03", external["check_in"].fields["check_in"])
	assert.Equal(t, "p-new", external["check_in"].payloadID)
	// the older record still contributes the fields the newer one omits
	assert.Equal(t, "p-old", external["room_type"].payloadID)
}

func TestProjectSkipsUnusableRecords(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	now := time.Now()

	records := []models.PayloadRecord{
		{ID: "p-out", Direction: models.DirectionOutbound, BodyCompressed: compress(t, `{"check_in":"2026-10-01"}`)},
		{ID: "p-ignored", Direction: models.DirectionInbound, Status: models.StatusIgnored, BodyCompressed: compress(t, `{"check_in":"2026-10-02"}`)},
		{ID: "p-truncated", Direction: models.DirectionInbound, BodyTruncated: true, BodyCompressed: compress(t, `{"check_in":"2026-10-03"}`)},
		{ID: "p-archived", Direction: models.DirectionInbound, ArchivedAt: &now, BodyCompressed: compress(t, `{"check_in":"2026-10-04"}`)},
	}

	assert.Empty(t, e.project(records))
}

func TestComplianceReportValidatesWindow(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.ComplianceReport(ctx, models.ComplianceReportRequest{StartDate: "01/10/2026", EndDate: "2026-10-02"})
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))

	_, err = e.ComplianceReport(ctx, models.ComplianceReportRequest{StartDate: "2026-10-01", EndDate: "oops"})
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))

	_, err = e.ComplianceReport(ctx, models.ComplianceReportRequest{StartDate: "2026-10-05", EndDate: "2026-10-01"})
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindValidation))
}

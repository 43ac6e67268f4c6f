package amendments

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otabridge/internal/config"
	"otabridge/internal/database"
	"otabridge/internal/models"
	"otabridge/internal/repository"
)

func strptr(s string) *string { return &s }
func i64ptr(v int64) *int64   { return &v }

func TestTypeOf(t *testing.T) {
	cases := []struct {
		name    string
		changes models.RequestedChanges
		want    models.AmendmentType
	}{
		{"cancel wins over everything", models.RequestedChanges{Cancel: true, CheckIn: strptr("2026-10-01")}, models.AmendmentCancellationRequest},
		{"date change", models.RequestedChanges{CheckOut: strptr("2026-10-05")}, models.AmendmentDatesChange},
		{"rate change", models.RequestedChanges{RateAmount: i64ptr(9900)}, models.AmendmentRateChange},
		{"room change", models.RequestedChanges{RoomType: strptr("deluxe")}, models.AmendmentRoomChange},
		{"guest details", models.RequestedChanges{GuestName: strptr("J. Doe")}, models.AmendmentGuestDetailsChange},
		{"special request", models.RequestedChanges{SpecialRequest: strptr("late checkout")}, models.AmendmentSpecialRequest},
		{"empty falls back to modification", models.RequestedChanges{}, models.AmendmentBookingModification},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, typeOf(tc.changes))
		})
	}
}

func TestRequiresManual(t *testing.T) {
	base := models.BookingSnapshot{RoomType: "std-dbl"}

	a := &models.Amendment{Requested: models.RequestedChanges{Cancel: true}, OriginalSnapshot: base}
	assert.True(t, requiresManual(a))

	a = &models.Amendment{OriginalSnapshot: models.BookingSnapshot{RoomType: "std-dbl", StopSell: true}}
	assert.True(t, requiresManual(a))

	a = &models.Amendment{Requested: models.RequestedChanges{RoomType: strptr("deluxe")}, OriginalSnapshot: base}
	assert.True(t, requiresManual(a))

	// same room restated is not a room change
	a = &models.Amendment{Requested: models.RequestedChanges{RoomType: strptr("std-dbl")}, OriginalSnapshot: base}
	assert.False(t, requiresManual(a))

	a = &models.Amendment{Requested: models.RequestedChanges{CheckIn: strptr("2026-10-02")}, OriginalSnapshot: base}
	assert.False(t, requiresManual(a))
}

func policyEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	cfg := config.AmendmentsConfig{
		AutoApproveMaxDateDeltaDays: 7,
		AutoApproveMaxRatePercent:   10,
	}
	repo := repository.NewAmendmentRepository(&database.DB{DB: mockDB})
	return New(cfg, repo, nil, nil, nil, nil), mock
}

func TestAutoApprovable(t *testing.T) {
	e, _ := policyEngine(t)
	snapshot := models.BookingSnapshot{
		CheckIn:    "2026-10-01",
		CheckOut:   "2026-10-05",
		RateAmount: 10000,
	}

	cases := []struct {
		name    string
		changes models.RequestedChanges
		want    bool
	}{
		{"small date move", models.RequestedChanges{CheckIn: strptr("2026-10-03")}, true},
		{"date move at the limit", models.RequestedChanges{CheckIn: strptr("2026-10-08")}, true},
		{"date move over the limit", models.RequestedChanges{CheckIn: strptr("2026-10-20")}, false},
		{"checkout over the limit", models.RequestedChanges{CheckOut: strptr("2026-11-01")}, false},
		{"small rate delta", models.RequestedChanges{RateAmount: i64ptr(10500)}, true},
		{"rate delta over the limit", models.RequestedChanges{RateAmount: i64ptr(12000)}, false},
		{"rate drop over the limit", models.RequestedChanges{RateAmount: i64ptr(8000)}, false},
		{"no thresholds touched", models.RequestedChanges{GuestName: strptr("J. Doe")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &models.Amendment{Requested: tc.changes, OriginalSnapshot: snapshot}
			assert.Equal(t, tc.want, e.autoApprovable(a))
		})
	}
}

func TestDateDeltaDays(t *testing.T) {
	delta, ok := dateDeltaDays("2026-10-01", strptr("2026-10-08"))
	require.True(t, ok)
	assert.Equal(t, 7, delta)

	delta, ok = dateDeltaDays("2026-10-08", strptr("2026-10-01"))
	require.True(t, ok)
	assert.Equal(t, 7, delta)

	_, ok = dateDeltaDays("2026-10-01", nil)
	assert.False(t, ok)

	_, ok = dateDeltaDays("", strptr("2026-10-01"))
	assert.False(t, ok)

	_, ok = dateDeltaDays("2026-10-01", strptr("next tuesday"))
	assert.False(t, ok)
}

func TestBulkDecideUnknownAction(t *testing.T) {
	e, _ := policyEngine(t)

	resp := e.BulkDecide(context.Background(), models.BulkAmendmentRequest{
		Action:       "escalate",
		AmendmentIDs: []string{"a-1", "a-2"},
	}, "ops@test")

	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.False(t, r.OK)
		assert.Contains(t, r.Error, "unknown bulk action")
	}
}

func TestBulkDecideReportsMissingAmendments(t *testing.T) {
	e, mock := policyEngine(t)

	mock.ExpectQuery("SELECT .* FROM amendments").
		WithArgs("a-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	resp := e.BulkDecide(context.Background(), models.BulkAmendmentRequest{
		Action:       "approve",
		AmendmentIDs: []string{"a-missing"},
	}, "ops@test")

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a-missing", resp.Results[0].AmendmentID)
	assert.False(t, resp.Results[0].OK)
	assert.Contains(t, resp.Results[0].Error, "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

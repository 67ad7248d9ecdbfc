package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/remote"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func sampleTrip() itinerary.Trip {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cost := 40.0
	return itinerary.Trip{
		ID:          "trip-1",
		Destination: "Kyoto",
		StartDate:   start,
		EndDate:     start,
		Travelers:   2,
		Budget:      1200,
		Currency:    "JPY",
		Mood:        "culture",
		Days: []itinerary.Day{{
			Number:  1,
			Date:    start,
			Weather: itinerary.Weather{Condition: "sunny", TemperatureC: 21.5},
			Activities: []itinerary.Activity{
				{ID: "a1", Day: 1, Order: 0, Title: "Arrival in Kyoto", Category: itinerary.CategoryTransport},
				{ID: "a2", Day: 1, Order: 1, Title: "Fushimi Inari", Category: itinerary.CategoryAttraction, Cost: &cost, Rating: 4.8, Editable: true},
			},
		}},
	}
}

func TestCreateTripWritesDaysAndActivities(t *testing.T) {
	mock := newMock(t)
	trip := sampleTrip()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO trips`).
		WithArgs("trip-1", "Kyoto", pgxmock.AnyArg(), pgxmock.AnyArg(), 2, 1200.0, "JPY", "culture").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM itinerary_days`).WithArgs("trip-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO itinerary_days`).
		WithArgs("trip-1", 1, pgxmock.AnyArg(), "sunny", 21.5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activities`).
		WithArgs("trip-1", "a1", 1, 0, "", "Arrival in Kyoto", "", "", "transport", 0, pgxmock.AnyArg(), 0.0, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activities`).
		WithArgs("trip-1", "a2", 1, 1, "", "Fushimi Inari", "", "", "attraction", 0, pgxmock.AnyArg(), 4.8, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := NewService(mock).CreateTrip(context.Background(), trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateTripRejectsInvalidTrip(t *testing.T) {
	mock := newMock(t)
	trip := sampleTrip()
	trip.Days[0].Activities[1].Order = 5

	err := NewService(mock).CreateTrip(context.Background(), trip)
	if !remote.IsTerminal(err) || !errors.Is(err, remote.ErrInvalid) {
		t.Fatalf("expected terminal invalid error, got %v", err)
	}
	if err := NewService(mock).CreateTrip(context.Background(), itinerary.Trip{}); !remote.IsTerminal(err) {
		t.Fatalf("expected terminal error for missing id, got %v", err)
	}
}

func TestReplaceDayActivities(t *testing.T) {
	mock := newMock(t)
	acts := []itinerary.Activity{
		{ID: "b", Title: "Museum", Category: itinerary.CategoryActivity, Editable: true},
		{ID: "a", Title: "Lunch", Category: itinerary.CategoryRestaurant, Editable: true},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM itinerary_days`).
		WithArgs("trip-1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`DELETE FROM activities WHERE trip_id=\$1 AND day_number=\$2`).
		WithArgs("trip-1", 2).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO activities`).
		WithArgs("trip-1", "b", 2, 0, "", "Museum", "", "", "activity", 0, pgxmock.AnyArg(), 0.0, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activities`).
		WithArgs("trip-1", "a", 2, 1, "", "Lunch", "", "", "restaurant", 0, pgxmock.AnyArg(), 0.0, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE trips SET updated_at`).WithArgs("trip-1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if err := NewService(mock).ReplaceDayActivities(context.Background(), "trip-1", 2, acts); err != nil {
		t.Fatalf("replace day: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReplaceDayActivitiesUnknownDayIsTerminal(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM itinerary_days`).WithArgs("gone", 1).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := NewService(mock).ReplaceDayActivities(context.Background(), "gone", 1, nil)
	if !remote.IsTerminal(err) || !errors.Is(err, remote.ErrTripNotFound) {
		t.Fatalf("expected terminal not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	bad := []itinerary.Activity{{ID: "x", Category: "teleport"}}
	if err := NewService(mock).ReplaceDayActivities(context.Background(), "trip-1", 1, bad); !remote.IsTerminal(err) {
		t.Fatalf("expected terminal invalid category, got %v", err)
	}
}

func TestDeleteActivityShiftsSiblings(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM activities WHERE trip_id=\$1 AND id=\$2`).
		WithArgs("trip-1", "a2").
		WillReturnRows(pgxmock.NewRows([]string{"day_number", "position"}).AddRow(3, 1))
	mock.ExpectExec(`UPDATE activities SET position = position - 1`).
		WithArgs("trip-1", 3, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	if err := NewService(mock).DeleteActivity(context.Background(), "trip-1", "a2"); err != nil {
		t.Fatalf("delete activity: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteActivityIsIdempotent(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM activities`).WithArgs("trip-1", "a2").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM trips`).WithArgs("trip-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectCommit()
	if err := svc.DeleteActivity(context.Background(), "trip-1", "a2"); err != nil {
		t.Fatalf("repeat delete should succeed: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM activities`).WithArgs("gone", "a2").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM trips`).WithArgs("gone").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	err := svc.DeleteActivity(context.Background(), "gone", "a2")
	if !errors.Is(err, remote.ErrTripNotFound) || !remote.IsTerminal(err) {
		t.Fatalf("expected terminal trip not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateBudget(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectExec(`UPDATE trips SET budget`).WithArgs("trip-1", 450.0).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := svc.UpdateBudget(context.Background(), "trip-1", 450); err != nil {
		t.Fatalf("update budget: %v", err)
	}

	mock.ExpectExec(`UPDATE trips SET budget`).WithArgs("gone", 1.0).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := svc.UpdateBudget(context.Background(), "gone", 1); !errors.Is(err, remote.ErrTripNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := svc.UpdateBudget(context.Background(), "trip-1", -5); !remote.IsTerminal(err) {
		t.Fatalf("expected terminal for negative budget, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetTripAssemblesDays(t *testing.T) {
	mock := newMock(t)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	cost := 15.0

	mock.ExpectQuery(`SELECT id, destination, start_date, end_date, travelers, budget, currency, mood`).
		WithArgs("trip-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "destination", "start_date", "end_date", "travelers", "budget", "currency", "mood"}).
			AddRow("trip-1", "Kyoto", &start, &end, 2, 900.0, "JPY", "culture"))
	mock.ExpectQuery(`FROM itinerary_days`).
		WithArgs("trip-1").
		WillReturnRows(pgxmock.NewRows([]string{"day_number", "day_date", "weather_condition", "temperature_c"}).
			AddRow(1, &start, "rainy", 14.0).
			AddRow(2, &end, "cloudy", 17.0))
	mock.ExpectQuery(`FROM activities WHERE trip_id=\$1`).
		WithArgs("trip-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "day_number", "position", "time_of_day", "title", "description", "location", "category", "duration_min", "cost", "rating", "editable"}).
			AddRow("a1", 1, 0, "morning", "Temple", "", "Higashiyama", "attraction", 90, &cost, 4.5, true).
			AddRow("a2", 1, 1, "evening", "Izakaya", "", "Pontocho", "restaurant", 120, (*float64)(nil), 4.0, true))

	trip, err := NewService(mock).GetTrip(context.Background(), "trip-1")
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if len(trip.Days) != 2 || len(trip.Days[0].Activities) != 2 || len(trip.Days[1].Activities) != 0 {
		t.Fatalf("unexpected shape: %+v", trip)
	}
	if trip.Days[0].Activities[1].Title != "Izakaya" || trip.Days[0].Activities[0].Cost == nil {
		t.Fatalf("unexpected activities: %+v", trip.Days[0].Activities)
	}
	if trip.Days[1].Activities == nil {
		t.Fatalf("empty day should carry an empty list")
	}
	if !trip.StartDate.Equal(start) || trip.Days[1].Weather.Condition != "cloudy" {
		t.Fatalf("unexpected trip fields: %+v", trip)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClassifyDatabaseErrors(t *testing.T) {
	cases := []struct {
		err      error
		terminal bool
	}{
		{pgx.ErrNoRows, true},
		{&pgconn.PgError{Code: "23503", Message: "foreign key violation"}, true},
		{&pgconn.PgError{Code: "22P02", Message: "invalid input syntax"}, true},
		{&pgconn.PgError{Code: "40001", Message: "serialization failure"}, false},
		{&pgconn.PgError{Code: "08006", Message: "connection failure"}, false},
		{context.DeadlineExceeded, false},
		{errors.New("broken pipe"), false},
	}
	for _, tc := range cases {
		if got := remote.IsTerminal(classify("op", tc.err)); got != tc.terminal {
			t.Fatalf("%v: terminal=%v, want %v", tc.err, got, tc.terminal)
		}
	}
	if classify("op", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}

func TestMigrate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS trips`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	if err := NewService(mock).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))
	if err := NewService(mock).Migrate(context.Background()); err == nil {
		t.Fatalf("expected migrate error")
	}
}

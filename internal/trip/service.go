package trip

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	"backend-tripweave/internal/db"
	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/remote"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schema string

// Service is the hosted trip store. It implements remote.Adapter so the sync
// queue can deliver to Postgres directly or through the HTTP API.
type Service struct {
	db db.Querier
}

var _ remote.Adapter = (*Service)(nil)

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate trip schema: %w", err)
	}
	return nil
}

// CreateTrip stores a full trip. Re-delivering the same trip overwrites it, so
// a retry after a lost response is harmless.
func (s *Service) CreateTrip(ctx context.Context, trip itinerary.Trip) error {
	if trip.ID == "" {
		return remote.Terminal(fmt.Errorf("%w: trip id required", remote.ErrInvalid))
	}
	if err := itinerary.Validate(trip); err != nil {
		return remote.Terminal(fmt.Errorf("%w: %v", remote.ErrInvalid, err))
	}
	travelers := trip.Travelers
	if travelers < 1 {
		travelers = 1
	}
	currency := trip.Currency
	if currency == "" {
		currency = "USD"
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO trips (id, destination, start_date, end_date, travelers, budget, currency, mood)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO UPDATE SET
				destination=EXCLUDED.destination, start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date,
				travelers=EXCLUDED.travelers, budget=EXCLUDED.budget, currency=EXCLUDED.currency,
				mood=EXCLUDED.mood, updated_at=now()
		`, trip.ID, trip.Destination, timePtr(trip.StartDate), timePtr(trip.EndDate), travelers, trip.Budget, currency, trip.Mood); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM itinerary_days WHERE trip_id=$1`, trip.ID); err != nil {
			return err
		}
		for _, d := range trip.Days {
			if _, err := tx.Exec(ctx, `
				INSERT INTO itinerary_days (trip_id, day_number, day_date, weather_condition, temperature_c)
				VALUES ($1,$2,$3,$4,$5)
			`, trip.ID, d.Number, timePtr(d.Date), d.Weather.Condition, d.Weather.TemperatureC); err != nil {
				return err
			}
			if err := insertActivities(ctx, tx, trip.ID, d.Number, d.Activities); err != nil {
				return err
			}
		}
		return nil
	})
	return classify("create trip", err)
}

// ReplaceDayActivities swaps the whole ordering of one day.
func (s *Service) ReplaceDayActivities(ctx context.Context, tripID string, dayNumber int, activities []itinerary.Activity) error {
	for i, a := range activities {
		if a.ID == "" {
			return remote.Terminal(fmt.Errorf("%w: activity %d without id", remote.ErrInvalid, i))
		}
		if !a.Category.Valid() {
			return remote.Terminal(fmt.Errorf("%w: activity %s has category %q", remote.ErrInvalid, a.ID, a.Category))
		}
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var exists int
		if err := tx.QueryRow(ctx, `
			SELECT 1 FROM itinerary_days WHERE trip_id=$1 AND day_number=$2
		`, tripID, dayNumber).Scan(&exists); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE trip_id=$1 AND day_number=$2`, tripID, dayNumber); err != nil {
			return err
		}
		if err := insertActivities(ctx, tx, tripID, dayNumber, activities); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE trips SET updated_at=now() WHERE id=$1`, tripID)
		return err
	})
	return classify("replace day activities", err)
}

// DeleteActivity removes one activity and closes the gap in its day. Deleting
// an activity that is already gone succeeds as long as the trip exists.
func (s *Service) DeleteActivity(ctx context.Context, tripID, activityID string) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var day, position int
		err := tx.QueryRow(ctx, `
			DELETE FROM activities WHERE trip_id=$1 AND id=$2
			RETURNING day_number, position
		`, tripID, activityID).Scan(&day, &position)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists int
			return tx.QueryRow(ctx, `SELECT 1 FROM trips WHERE id=$1`, tripID).Scan(&exists)
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE activities SET position = position - 1
			WHERE trip_id=$1 AND day_number=$2 AND position > $3
		`, tripID, day, position)
		return err
	})
	return classify("delete activity", err)
}

func (s *Service) UpdateBudget(ctx context.Context, tripID string, budget float64) error {
	if budget < 0 || math.IsNaN(budget) || math.IsInf(budget, 0) {
		return remote.Terminal(fmt.Errorf("%w: budget %v", remote.ErrInvalid, budget))
	}
	tag, err := s.db.Exec(ctx, `UPDATE trips SET budget=$2, updated_at=now() WHERE id=$1`, tripID, budget)
	if err != nil {
		return classify("update budget", err)
	}
	if tag.RowsAffected() == 0 {
		return classify("update budget", pgx.ErrNoRows)
	}
	return nil
}

func (s *Service) GetTrip(ctx context.Context, tripID string) (itinerary.Trip, error) {
	var trip itinerary.Trip
	var start, end *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT id, destination, start_date, end_date, travelers, budget, currency, mood
		FROM trips WHERE id=$1
	`, tripID).Scan(&trip.ID, &trip.Destination, &start, &end, &trip.Travelers, &trip.Budget, &trip.Currency, &trip.Mood)
	if err != nil {
		return itinerary.Trip{}, classify("get trip", err)
	}
	if start != nil {
		trip.StartDate = *start
	}
	if end != nil {
		trip.EndDate = *end
	}

	days, err := s.days(ctx, tripID)
	if err != nil {
		return itinerary.Trip{}, classify("get trip days", err)
	}
	if err := s.fillActivities(ctx, tripID, days); err != nil {
		return itinerary.Trip{}, classify("get trip activities", err)
	}
	trip.Days = days
	return trip, nil
}

func (s *Service) days(ctx context.Context, tripID string) ([]itinerary.Day, error) {
	rows, err := s.db.Query(ctx, `
		SELECT day_number, day_date, weather_condition, temperature_c
		FROM itinerary_days WHERE trip_id=$1
		ORDER BY day_number
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []itinerary.Day
	for rows.Next() {
		var d itinerary.Day
		var date *time.Time
		if err := rows.Scan(&d.Number, &date, &d.Weather.Condition, &d.Weather.TemperatureC); err != nil {
			return nil, err
		}
		if date != nil {
			d.Date = *date
		}
		d.Activities = []itinerary.Activity{}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *Service) fillActivities(ctx context.Context, tripID string, days []itinerary.Day) error {
	rows, err := s.db.Query(ctx, `
		SELECT `+activityColumns+`
		FROM activities WHERE trip_id=$1
		ORDER BY day_number, position
	`, tripID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byNumber := make(map[int]int, len(days))
	for i, d := range days {
		byNumber[d.Number] = i
	}
	for rows.Next() {
		var a itinerary.Activity
		var category string
		if err := rows.Scan(&a.ID, &a.Day, &a.Order, &a.TimeOfDay, &a.Title, &a.Description, &a.Location,
			&category, &a.DurationMin, &a.Cost, &a.Rating, &a.Editable); err != nil {
			return err
		}
		a.Category = itinerary.Category(category)
		idx, ok := byNumber[a.Day]
		if !ok {
			continue
		}
		days[idx].Activities = append(days[idx].Activities, a)
	}
	return rows.Err()
}

func insertActivities(ctx context.Context, tx pgx.Tx, tripID string, dayNumber int, activities []itinerary.Activity) error {
	for i, a := range activities {
		if _, err := tx.Exec(ctx, `
			INSERT INTO activities (trip_id, `+activityColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, tripID, a.ID, dayNumber, i, a.TimeOfDay, a.Title, a.Description, a.Location,
			string(a.Category), a.DurationMin, a.Cost, a.Rating, a.Editable); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// classify maps database errors onto the delivery taxonomy: missing rows and
// data or integrity violations are terminal, everything else is retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.Terminal(fmt.Errorf("%s: %w", op, remote.ErrTripNotFound))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return remote.Terminal(fmt.Errorf("%s: %w: %s", op, remote.ErrInvalid, pgErr.Message))
		}
	}
	return remote.Transient(fmt.Errorf("%s: %w", op, err))
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// README: Ride store backed by PostgreSQL.
package ride

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"carshare/internal/infra"
	"carshare/internal/types"
)

type Store struct {
	db infra.Querier
}

func NewStore(db infra.Querier) *Store {
	return &Store{db: db}
}

// WithTx returns a Store whose statements run on tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

const rideColumns = `
	id, driver_id,
	origin_label, origin_lat, origin_lng,
	destination_label, destination_lat, destination_lng,
	departure_at, duration_seconds, seats_total, seats_available,
	price_per_seat, currency, status, created_at, completed_at`

func (s *Store) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (
			id, driver_id,
			origin_label, origin_lat, origin_lng,
			destination_label, destination_lat, destination_lng,
			departure_at, duration_seconds, seats_total, seats_available,
			price_per_seat, currency, status, created_at
		) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		string(r.ID), string(r.DriverID),
		r.Origin.Label, r.Origin.Point.Lat, r.Origin.Point.Lng,
		r.Destination.Label, r.Destination.Point.Lat, r.Destination.Point.Lng,
		r.DepartureAt, int64(r.Duration/time.Second), r.SeatsTotal, r.SeatsAvailable,
		r.PricePerSeat.Amount, r.PricePerSeat.Currency, string(r.Status), r.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	return scanRide(row)
}

// ListByIDs loads rides in no particular order; unknown ids are skipped.
func (s *Store) ListByIDs(ctx context.Context, ids []types.ID) ([]Ride, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

// ListOpenWithin returns scheduled rides with free seats departing after
// `after` whose origin lies inside b.
func (s *Store) ListOpenWithin(ctx context.Context, b bounds, after time.Time, limit int) ([]Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE status = 'scheduled'
		  AND seats_available > 0
		  AND departure_at > $1
		  AND origin_lat BETWEEN $2 AND $3
		  AND origin_lng BETWEEN $4 AND $5
		ORDER BY departure_at ASC
		LIMIT $6`,
		after, b.MinLat, b.MaxLat, b.MinLng, b.MaxLng, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE driver_id = $1
		ORDER BY departure_at DESC
		LIMIT $2`, string(driverID), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

// AdjustSeats adds delta to seats_available, keeping it within
// [0, seats_total], and returns the new value.
func (s *Store) AdjustSeats(ctx context.Context, id types.ID, delta int) (int, error) {
	var left int
	err := s.db.QueryRow(ctx, `
		UPDATE rides
		SET seats_available = seats_available + $2
		WHERE id = $1
		  AND seats_available + $2 BETWEEN 0 AND seats_total
		RETURNING seats_available`, string(id), delta,
	).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, ErrNoSeats
	}
	return left, err
}

// MarkCompleted moves a scheduled ride to completed. It reports false when
// the ride was not scheduled.
func (s *Store) MarkCompleted(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'scheduled'`, string(id), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func collectRides(rows pgx.Rows) ([]Ride, error) {
	defer rows.Close()
	var out []Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var durationSeconds int64
	var completedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.DriverID,
		&r.Origin.Label, &r.Origin.Point.Lat, &r.Origin.Point.Lng,
		&r.Destination.Label, &r.Destination.Point.Lat, &r.Destination.Point.Lng,
		&r.DepartureAt, &durationSeconds, &r.SeatsTotal, &r.SeatsAvailable,
		&r.PricePerSeat.Amount, &r.PricePerSeat.Currency, &r.Status, &r.CreatedAt, &completedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Duration = time.Duration(durationSeconds) * time.Second
	r.DepartureAt = r.DepartureAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		r.CompletedAt = &t
	}
	return &r, nil
}

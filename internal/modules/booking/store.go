// README: Booking store backed by PostgreSQL; transitions commit in one transaction.
package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"carshare/internal/infra"
	"carshare/internal/modules/payment"
	"carshare/internal/modules/ride"
	"carshare/internal/types"
)

// Repository is the persistence surface of the booking lifecycle.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ListByRide(ctx context.Context, rideID types.ID) ([]Booking, error)
	ListByPassenger(ctx context.Context, passengerID types.ID) ([]Booking, error)
	// ListDue returns confirmed bookings whose ride departed before `before`.
	ListDue(ctx context.Context, before time.Time, limit int) ([]Booking, error)
	HasActive(ctx context.Context, rideID, passengerID types.ID) (bool, error)
	ActivePayment(ctx context.Context, bookingID types.ID) (*payment.Payment, error)
	Payment(ctx context.Context, id types.ID) (*payment.Payment, error)
	Events(ctx context.Context, bookingID types.ID) ([]Event, error)
	ClearAlert(ctx context.Context, id types.ID, party ActorType) error

	// SaveIntent records a pending intent. When an unconfirmed intent with
	// the same idempotency key exists, in takes over its id and payload.
	SaveIntent(ctx context.Context, in *Intent) error
	TouchIntent(ctx context.Context, id types.ID, lastErr string) error
	FailIntent(ctx context.Context, id types.ID, reason string) error
	PendingIntents(ctx context.Context, before time.Time, limit int) ([]Intent, error)
	// InFlight returns the oldest pending intent of a booking, or nil.
	InFlight(ctx context.Context, bookingID types.ID) (*Intent, error)
	// RequestInFlight reports whether a hold for the ride and passenger is
	// still pending.
	RequestInFlight(ctx context.Context, rideID, passengerID types.ID) (bool, error)
	FailPayment(ctx context.Context, p *payment.Payment, intentID types.ID, reason string) error

	// Apply commits a transition and returns the ride's available seats.
	Apply(ctx context.Context, m *Mutation) (int, error)
}

// Mutation is everything one transition changes locally.
type Mutation struct {
	RideID types.ID
	// Booking is the post-transition row; nil for payment-only follow-ups.
	Booking     *Booking
	Create      bool
	FromStatus  Status
	FromVersion int
	Event       *Event
	SeatDelta   int
	NewPayment  *payment.Payment
	Payment     *payment.Payment
	IntentID    types.ID
	FollowUp    *Intent
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const bookingColumns = `
	id, ride_id, passenger_id, driver_id, status, status_version, seats,
	amount, currency, alert_driver, alert_passenger, cancel_reason, cancelled_by,
	created_at, updated_at, confirmed_at, rejected_at, cancelled_at, completed_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	return scanBooking(row)
}

func (s *Store) ListByRide(ctx context.Context, rideID types.ID) ([]Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE ride_id = $1
		ORDER BY created_at ASC`, string(rideID),
	)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (s *Store) ListByPassenger(ctx context.Context, passengerID types.ID) ([]Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE passenger_id = $1
		ORDER BY created_at DESC`, string(passengerID),
	)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (s *Store) ListDue(ctx context.Context, before time.Time, limit int) ([]Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+prefixed("b", bookingColumns)+`
		FROM bookings b
		JOIN rides r ON r.id = b.ride_id
		WHERE b.status = 'confirmed'
		  AND r.departure_at < $1
		ORDER BY r.departure_at ASC
		LIMIT $2`, before, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (s *Store) HasActive(ctx context.Context, rideID, passengerID types.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE ride_id = $1
			  AND passenger_id = $2
			  AND status IN ('pending','confirmed')
		)`, string(rideID), string(passengerID),
	).Scan(&exists)
	return exists, err
}

func (s *Store) ActivePayment(ctx context.Context, bookingID types.ID) (*payment.Payment, error) {
	return payment.NewStore(s.db).ActiveByBooking(ctx, bookingID)
}

func (s *Store) Payment(ctx context.Context, id types.ID) (*payment.Payment, error) {
	return payment.NewStore(s.db).Get(ctx, id)
}

func (s *Store) Events(ctx context.Context, bookingID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_type, actor_id, created_at
		FROM booking_state_events
		WHERE booking_id = $1
		ORDER BY id ASC`, string(bookingID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.BookingID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = types.ID(actorID.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ClearAlert(ctx context.Context, id types.ID, party ActorType) error {
	column := "alert_passenger"
	if party == ActorDriver {
		column = "alert_driver"
	}
	tag, err := s.db.Exec(ctx, `UPDATE bookings SET `+column+` = FALSE WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SaveIntent(ctx context.Context, in *Intent) error {
	return saveIntent(ctx, s.db, in)
}

func saveIntent(ctx context.Context, q infra.Querier, in *Intent) error {
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return fmt.Errorf("encode intent payload: %w", err)
	}
	var id string
	var stored []byte
	err = q.QueryRow(ctx, `
		INSERT INTO transition_intents (
			id, booking_id, action, idempotency_key, payload, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = 'pending', updated_at = EXCLUDED.updated_at
		WHERE transition_intents.status <> 'confirmed'
		RETURNING id, payload`,
		string(in.ID), string(in.BookingID), string(in.Action), in.IdempotencyKey, payload, in.CreatedAt,
	).Scan(&id, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if id != string(in.ID) {
		in.ID = types.ID(id)
		if err := json.Unmarshal(stored, &in.Payload); err != nil {
			return fmt.Errorf("decode intent payload: %w", err)
		}
	}
	in.Status = IntentPending
	return nil
}

func (s *Store) TouchIntent(ctx context.Context, id types.ID, lastErr string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE transition_intents
		SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1`, string(id), lastErr,
	)
	return err
}

func (s *Store) FailIntent(ctx context.Context, id types.ID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE transition_intents
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, string(id), reason,
	)
	return err
}

const intentColumns = `
	id, booking_id, action, idempotency_key, payload, status, attempts,
	COALESCE(last_error, ''), created_at, updated_at`

func (s *Store) PendingIntents(ctx context.Context, before time.Time, limit int) ([]Intent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+intentColumns+`
		FROM transition_intents
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, before, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (s *Store) InFlight(ctx context.Context, bookingID types.ID) (*Intent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+intentColumns+`
		FROM transition_intents
		WHERE booking_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1`, string(bookingID),
	)
	if err != nil {
		return nil, err
	}
	list, err := collectIntents(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) RequestInFlight(ctx context.Context, rideID, passengerID types.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transition_intents
			WHERE status = 'pending' AND action = 'authorize'
			  AND payload->>'ride_id' = $1 AND payload->>'passenger_id' = $2
		)`, string(rideID), string(passengerID),
	).Scan(&exists)
	return exists, err
}

func collectIntents(rows pgx.Rows) ([]Intent, error) {
	defer rows.Close()
	var out []Intent
	for rows.Next() {
		var in Intent
		var payload []byte
		if err := rows.Scan(&in.ID, &in.BookingID, &in.Action, &in.IdempotencyKey, &payload, &in.Status,
			&in.Attempts, &in.LastError, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &in.Payload); err != nil {
			return nil, fmt.Errorf("decode intent %s: %w", in.ID, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) FailPayment(ctx context.Context, p *payment.Payment, intentID types.ID, reason string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := payment.NewStore(tx).Update(ctx, p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE transition_intents
			SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
			WHERE id = $1`, string(intentID), reason,
		)
		return err
	})
}

func (s *Store) Apply(ctx context.Context, m *Mutation) (int, error) {
	var seats int
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if b := m.Booking; b != nil {
			if m.Create {
				if err := insertBooking(ctx, tx, b); err != nil {
					return err
				}
			} else {
				ok, err := updateBooking(ctx, tx, b, m.FromStatus, m.FromVersion)
				if err != nil {
					return err
				}
				if !ok {
					return ErrConflict
				}
			}
		}
		if e := m.Event; e != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO booking_state_events (
					booking_id, from_status, to_status, actor_type, actor_id, created_at
				) VALUES ($1, $2, $3, $4, $5, $6)`,
				string(e.BookingID), string(e.FromStatus), string(e.ToStatus),
				string(e.ActorType), nullableID(e.ActorID), e.CreatedAt,
			); err != nil {
				return err
			}
		}

		rides := ride.NewStore(tx)
		if m.SeatDelta != 0 {
			left, err := rides.AdjustSeats(ctx, m.RideID, m.SeatDelta)
			if errors.Is(err, ride.ErrNoSeats) {
				return ErrNoSeats
			}
			if err != nil {
				return err
			}
			seats = left
		} else {
			r, err := rides.Get(ctx, m.RideID)
			if err != nil {
				return err
			}
			seats = r.SeatsAvailable
		}

		payments := payment.NewStore(tx)
		if m.NewPayment != nil {
			if err := payments.Insert(ctx, m.NewPayment); err != nil {
				return err
			}
		}
		if m.Payment != nil {
			if err := payments.Update(ctx, m.Payment); err != nil {
				return err
			}
		}

		if m.IntentID != "" {
			if _, err := tx.Exec(ctx, `
				UPDATE transition_intents
				SET status = 'confirmed', updated_at = NOW()
				WHERE id = $1`, string(m.IntentID),
			); err != nil {
				return err
			}
		}
		if m.FollowUp != nil {
			if err := saveIntent(ctx, tx, m.FollowUp); err != nil {
				return err
			}
		}
		return nil
	})
	return seats, err
}

func insertBooking(ctx context.Context, tx pgx.Tx, b *Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (
			id, ride_id, passenger_id, driver_id, status, status_version, seats,
			amount, currency, alert_driver, alert_passenger, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)`,
		string(b.ID), string(b.RideID), string(b.PassengerID), string(b.DriverID),
		string(b.Status), b.StatusVersion, b.Seats,
		b.Amount.Amount, currencyOf(b.Amount), b.AlertDriver, b.AlertPassenger,
		b.CreatedAt, b.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "uq_bookings_active" {
			return ErrActiveBooking
		}
		return ErrConflict
	}
	return err
}

func updateBooking(ctx context.Context, tx pgx.Tx, b *Booking, from Status, version int) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $1,
			status_version = status_version + 1,
			alert_driver = $2,
			alert_passenger = $3,
			cancel_reason = $4,
			cancelled_by = $5,
			updated_at = $6,
			confirmed_at = CASE WHEN $1 = 'confirmed' THEN $6 ELSE confirmed_at END,
			rejected_at = CASE WHEN $1 = 'rejected' THEN $6 ELSE rejected_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $6 ELSE cancelled_at END,
			completed_at = CASE WHEN $1 = 'completed' THEN $6 ELSE completed_at END
		WHERE id = $7 AND status = $8 AND status_version = $9`,
		string(b.Status), b.AlertDriver, b.AlertPassenger,
		nullable(b.CancelReason), nullable(string(b.CancelledBy)), b.UpdatedAt,
		string(b.ID), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()
	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var cancelReason, cancelledBy sql.NullString
	var confirmedAt, rejectedAt, cancelledAt, completedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.RideID, &b.PassengerID, &b.DriverID, &b.Status, &b.StatusVersion, &b.Seats,
		&b.Amount.Amount, &b.Amount.Currency, &b.AlertDriver, &b.AlertPassenger, &cancelReason, &cancelledBy,
		&b.CreatedAt, &b.UpdatedAt, &confirmedAt, &rejectedAt, &cancelledAt, &completedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CancelReason = cancelReason.String
	b.CancelledBy = ActorType(cancelledBy.String)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	b.ConfirmedAt = toTimePtr(confirmedAt)
	b.RejectedAt = toTimePtr(rejectedAt)
	b.CancelledAt = toTimePtr(cancelledAt)
	b.CompletedAt = toTimePtr(completedAt)
	return &b, nil
}

func prefixed(alias, columns string) string {
	out := make([]byte, 0, len(columns)+64)
	start := true
	for i := 0; i < len(columns); i++ {
		c := columns[i]
		isSpace := c == ' ' || c == '\n' || c == '\t' || c == ','
		if start && !isSpace {
			out = append(out, alias...)
			out = append(out, '.')
			start = false
		}
		if isSpace {
			start = true
		}
		out = append(out, c)
	}
	return string(out)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableID(id types.ID) *string {
	return nullable(string(id))
}

func currencyOf(m types.Money) string {
	if m.Currency == "" {
		return types.DefaultCurrency
	}
	return m.Currency
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

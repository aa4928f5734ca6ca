// README: Payment, payment account and payout persistence backed by PostgreSQL.
package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"carshare/internal/infra"
	"carshare/internal/types"
)

// Store runs against a pool or, via WithTx, inside a caller's transaction.
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

const paymentColumns = `
	id, booking_id, passenger_id, driver_id, status, currency,
	amount, platform_fee, driver_amount, captured_amount, refunded_amount,
	intent_id, transfer_destination, transfer_id, refund_id,
	failure_code, failure_message, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, p *Payment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payments (
			id, booking_id, passenger_id, driver_id, status, currency,
			amount, platform_fee, driver_amount, captured_amount, refunded_amount,
			intent_id, transfer_destination, transfer_id, refund_id,
			failure_code, failure_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19
		)`,
		string(p.ID), string(p.BookingID), string(p.PassengerID), string(p.DriverID),
		string(p.Status), currencyOf(p.Amount),
		p.Amount.Amount, p.PlatformFee.Amount, p.DriverAmount.Amount,
		p.CapturedAmount.Amount, p.RefundedAmount.Amount,
		nullable(p.IntentID), nullable(p.TransferDestination), nullable(p.TransferID), nullable(p.RefundID),
		nullable(p.FailureCode), nullable(p.FailureMessage),
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// Update writes the mutable gateway-facing fields of p.
func (s *Store) Update(ctx context.Context, p *Payment) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = $2,
			captured_amount = $3,
			refunded_amount = $4,
			transfer_destination = $5,
			transfer_id = $6,
			refund_id = $7,
			failure_code = $8,
			failure_message = $9,
			updated_at = $10
		WHERE id = $1`,
		string(p.ID), string(p.Status),
		p.CapturedAmount.Amount, p.RefundedAmount.Amount,
		nullable(p.TransferDestination), nullable(p.TransferID), nullable(p.RefundID),
		nullable(p.FailureCode), nullable(p.FailureMessage),
		p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Payment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, string(id))
	return scanPayment(row)
}

// ActiveByBooking returns the newest payment of a booking that is still
// pending, authorized or captured.
func (s *Store) ActiveByBooking(ctx context.Context, bookingID types.ID) (*Payment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = $1
		  AND status IN ('pending','authorized','captured')
		ORDER BY created_at DESC
		LIMIT 1`, string(bookingID),
	)
	return scanPayment(row)
}

// ListByBooking returns every payment of a booking, oldest first.
func (s *Store) ListByBooking(ctx context.Context, bookingID types.ID) ([]Payment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = $1
		ORDER BY created_at ASC`, string(bookingID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Accounts returns the processor identifiers of a user. A user without a row
// gets an empty Accounts and no error.
func (s *Store) Accounts(ctx context.Context, userID types.ID) (Accounts, error) {
	acc := Accounts{UserID: userID}
	var customer, payout sql.NullString
	err := s.db.QueryRow(ctx, `
		SELECT customer_id, payout_account_id
		FROM payment_accounts
		WHERE user_id = $1`, string(userID),
	).Scan(&customer, &payout)
	if errors.Is(err, pgx.ErrNoRows) {
		return acc, nil
	}
	if err != nil {
		return acc, err
	}
	acc.CustomerID = customer.String
	acc.PayoutID = payout.String
	return acc, nil
}

// SaveAccounts upserts a user's processor identifiers. Empty fields keep the
// stored value.
func (s *Store) SaveAccounts(ctx context.Context, acc Accounts) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payment_accounts (user_id, customer_id, payout_account_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET customer_id = COALESCE(EXCLUDED.customer_id, payment_accounts.customer_id),
			payout_account_id = COALESCE(EXCLUDED.payout_account_id, payment_accounts.payout_account_id),
			updated_at = NOW()`,
		string(acc.UserID), nullable(acc.CustomerID), nullable(acc.PayoutID),
	)
	return err
}

func (s *Store) InsertPayout(ctx context.Context, p *PayoutRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payouts (id, driver_id, amount, currency, external_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(p.ID), string(p.DriverID), p.Amount.Amount, currencyOf(p.Amount),
		p.ExternalID, p.Status, p.CreatedAt,
	)
	return err
}

func (s *Store) ListPayouts(ctx context.Context, driverID types.ID, limit int) ([]PayoutRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, amount, currency, external_id, status, created_at
		FROM payouts
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(driverID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayoutRecord
	for rows.Next() {
		var p PayoutRecord
		if err := rows.Scan(&p.ID, &p.DriverID, &p.Amount.Amount, &p.Amount.Currency, &p.ExternalID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var currency string
	var intentID, dest, transferID, refundID, failCode, failMsg sql.NullString
	err := row.Scan(
		&p.ID, &p.BookingID, &p.PassengerID, &p.DriverID, &p.Status, &currency,
		&p.Amount.Amount, &p.PlatformFee.Amount, &p.DriverAmount.Amount,
		&p.CapturedAmount.Amount, &p.RefundedAmount.Amount,
		&intentID, &dest, &transferID, &refundID,
		&failCode, &failMsg, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, m := range []*types.Money{&p.Amount, &p.PlatformFee, &p.DriverAmount, &p.CapturedAmount, &p.RefundedAmount} {
		m.Currency = currency
	}
	p.IntentID = intentID.String
	p.TransferDestination = dest.String
	p.TransferID = transferID.String
	p.RefundID = refundID.String
	p.FailureCode = failCode.String
	p.FailureMessage = failMsg.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func currencyOf(m types.Money) string {
	if m.Currency == "" {
		return types.DefaultCurrency
	}
	return m.Currency
}

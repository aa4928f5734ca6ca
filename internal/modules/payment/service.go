// README: Payment service for account registration, payment history and driver payouts.
package payment

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"carshare/internal/types"
)

// Repository is the persistence surface the service needs; *Store satisfies it.
type Repository interface {
	Accounts(ctx context.Context, userID types.ID) (Accounts, error)
	SaveAccounts(ctx context.Context, acc Accounts) error
	ActiveByBooking(ctx context.Context, bookingID types.ID) (*Payment, error)
	ListByBooking(ctx context.Context, bookingID types.ID) ([]Payment, error)
	InsertPayout(ctx context.Context, p *PayoutRecord) error
	ListPayouts(ctx context.Context, driverID types.ID, limit int) ([]PayoutRecord, error)
}

type Service struct {
	repo    Repository
	gateway Gateway
	now     func() time.Time
}

func NewService(repo Repository, gateway Gateway) *Service {
	if gateway == nil {
		gateway = NotConfiguredGateway{}
	}
	return &Service{repo: repo, gateway: gateway, now: time.Now}
}

type PayoutCommand struct {
	DriverID types.ID
	Amount   types.Money
	// RequestKey is a client-chosen token; repeating it repeats the same
	// processor call instead of paying out twice.
	RequestKey string
}

// Payout withdraws amount from the driver's connected account balance.
func (s *Service) Payout(ctx context.Context, cmd PayoutCommand) (*PayoutRecord, error) {
	if cmd.DriverID == "" || cmd.Amount.Amount <= 0 {
		return nil, ErrBadRequest
	}
	acc, err := s.repo.Accounts(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if acc.PayoutID == "" {
		return nil, ErrNoAccount
	}

	rec := &PayoutRecord{
		ID:       types.NewID(),
		DriverID: cmd.DriverID,
		Amount:   cmd.Amount,
	}
	key := "carshare:payout:" + string(rec.ID)
	if k := strings.TrimSpace(cmd.RequestKey); k != "" {
		key = fmt.Sprintf("carshare:payout:%s:%s", cmd.DriverID, k)
	}

	out, err := s.gateway.Payout(ctx, cmd.Amount, acc.PayoutID, key)
	if err != nil {
		log.Printf("[payment] payout failed driver=%s amount=%s: %v", cmd.DriverID, cmd.Amount, err)
		return nil, err
	}
	rec.ExternalID = out.ID
	rec.Status = out.Status
	rec.CreatedAt = s.now().UTC()
	if err := s.repo.InsertPayout(ctx, rec); err != nil {
		return nil, fmt.Errorf("record payout %s: %w", out.ID, err)
	}
	log.Printf("[payment] payout driver=%s amount=%s external_id=%s", cmd.DriverID, cmd.Amount, out.ID)
	return rec, nil
}

func (s *Service) Payouts(ctx context.Context, driverID types.ID, limit int) ([]PayoutRecord, error) {
	return s.repo.ListPayouts(ctx, driverID, limit)
}

// RegisterAccounts stores the processor customer and connected account ids
// of a user.
func (s *Service) RegisterAccounts(ctx context.Context, acc Accounts) error {
	if acc.UserID == "" {
		return ErrBadRequest
	}
	acc.CustomerID = strings.TrimSpace(acc.CustomerID)
	acc.PayoutID = strings.TrimSpace(acc.PayoutID)
	if acc.CustomerID == "" && acc.PayoutID == "" {
		return ErrBadRequest
	}
	return s.repo.SaveAccounts(ctx, acc)
}

func (s *Service) Accounts(ctx context.Context, userID types.ID) (Accounts, error) {
	return s.repo.Accounts(ctx, userID)
}

func (s *Service) ActiveByBooking(ctx context.Context, bookingID types.ID) (*Payment, error) {
	return s.repo.ActiveByBooking(ctx, bookingID)
}

func (s *Service) History(ctx context.Context, bookingID types.ID) ([]Payment, error) {
	return s.repo.ListByBooking(ctx, bookingID)
}

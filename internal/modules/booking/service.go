// README: Booking service drives the booking lifecycle and its payment side effects.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"carshare/internal/modules/payment"
	"carshare/internal/modules/pricing"
	"carshare/internal/modules/ride"
	"carshare/internal/types"
)

const DefaultLockTTL = 30 * time.Second

// Rides is the ride surface the booking lifecycle needs; *ride.Service
// satisfies it.
type Rides interface {
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	Complete(ctx context.Context, id, driverID types.ID) (*ride.Ride, error)
}

// Accounts resolves processor ids of users; *payment.Service satisfies it.
type Accounts interface {
	Accounts(ctx context.Context, userID types.ID) (payment.Accounts, error)
}

type Deps struct {
	Repo      Repository
	Rides     Rides
	Accounts  Accounts
	Gateway   payment.Gateway
	Pricing   *pricing.Service
	Locker    Locker
	Publisher Publisher
	LockTTL   time.Duration
	Now       func() time.Time
}

type Service struct {
	repo      Repository
	rides     Rides
	accounts  Accounts
	gateway   payment.Gateway
	pricing   *pricing.Service
	locker    Locker
	publisher Publisher
	lockTTL   time.Duration
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:      d.Repo,
		rides:     d.Rides,
		accounts:  d.Accounts,
		gateway:   d.Gateway,
		pricing:   d.Pricing,
		locker:    d.Locker,
		publisher: d.Publisher,
		lockTTL:   d.LockTTL,
		now:       d.Now,
	}
	if s.gateway == nil {
		s.gateway = payment.NotConfiguredGateway{}
	}
	if s.pricing == nil {
		s.pricing = pricing.NewService(nil, pricing.DefaultPenaltyPolicy)
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.publisher == nil {
		s.publisher = discardPublisher{}
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RequestCommand struct {
	RideID          types.ID
	PassengerID     types.ID
	Seats           int
	PaymentMethodID string
}

// ActionCommand addresses an existing booking. Actor.Type may be left empty
// for users; it is derived from the booking and ride.
type ActionCommand struct {
	BookingID types.ID
	Actor     Actor
	Reason    string
}

// Request places a hold for the full price and creates a pending booking.
// Nothing is stored when the hold fails.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) (*Outcome, error) {
	if cmd.RideID == "" || cmd.PassengerID == "" {
		return nil, ErrBadRequest
	}
	if cmd.Seats < 1 {
		return nil, fmt.Errorf("%w: seats must be at least 1", ErrBadRequest)
	}

	release, err := s.lock(ctx, requestLockKey(cmd.RideID, cmd.PassengerID))
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now().UTC()
	r, err := s.rides.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.Status != ride.StatusScheduled || r.Departed(now) {
		return nil, fmt.Errorf("%w: ride is not open for booking", ErrBadRequest)
	}
	if r.DriverID == cmd.PassengerID {
		return nil, fmt.Errorf("%w: drivers cannot book their own ride", ErrForbidden)
	}
	if r.SeatsAvailable < cmd.Seats {
		return nil, ErrNoSeats
	}
	active, err := s.repo.HasActive(ctx, cmd.RideID, cmd.PassengerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveBooking
	}
	inFlight, err := s.repo.RequestInFlight(ctx, cmd.RideID, cmd.PassengerID)
	if err != nil {
		return nil, err
	}
	if inFlight {
		return nil, fmt.Errorf("%w: an earlier request for this ride is still being authorised", ErrConflict)
	}

	quote, err := s.pricing.Quote(r.PricePerSeat, cmd.Seats)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	passengerAcc, err := s.accounts.Accounts(ctx, cmd.PassengerID)
	if err != nil {
		return nil, err
	}
	driverAcc, err := s.accounts.Accounts(ctx, r.DriverID)
	if err != nil {
		return nil, err
	}

	id := types.NewID()
	in := &Intent{
		ID:             types.NewID(),
		BookingID:      id,
		Action:         ActionAuthorize,
		IdempotencyKey: IdempotencyKey(id, ActionAuthorize, 0),
		Status:         IntentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Payload: Payload{
			RideID:          r.ID,
			PassengerID:     cmd.PassengerID,
			DriverID:        r.DriverID,
			Seats:           cmd.Seats,
			FromStatus:      StatusNone,
			ToStatus:        StatusPending,
			Actor:           Actor{Type: ActorPassenger, ID: cmd.PassengerID},
			DecidedAt:       now,
			Op:              OpHold,
			PaymentID:       types.NewID(),
			Amount:          quote.TotalAmount,
			ApplicationFee:  quote.CommissionAmount,
			PaymentMethodID: cmd.PaymentMethodID,
			CustomerID:      passengerAcc.CustomerID,
			Destination:     driverAcc.PayoutID,
			PaymentAfter:    payment.StatusAuthorized,
			Commission:      &quote,
		},
	}
	if err := s.repo.SaveIntent(ctx, in); err != nil {
		return nil, err
	}
	return s.run(ctx, in, nil, nil)
}

func (s *Service) Accept(ctx context.Context, cmd ActionCommand) (*Outcome, error) {
	return s.transition(ctx, cmd, StatusConfirmed)
}

func (s *Service) Reject(ctx context.Context, cmd ActionCommand) (*Outcome, error) {
	return s.transition(ctx, cmd, StatusRejected)
}

// Cancel applies the penalty policy to confirmed bookings and reports the
// refund. On a processor failure the returned Outcome still carries the
// computed breakdown with Refund.Error set.
func (s *Service) Cancel(ctx context.Context, cmd ActionCommand) (*Outcome, error) {
	return s.transition(ctx, cmd, StatusCancelled)
}

func (s *Service) Complete(ctx context.Context, cmd ActionCommand) (*Outcome, error) {
	return s.transition(ctx, cmd, StatusCompleted)
}

// Perform dispatches an action by name.
func (s *Service) Perform(ctx context.Context, action Action, cmd ActionCommand) (*Outcome, error) {
	switch action {
	case ActionAccept:
		return s.Accept(ctx, cmd)
	case ActionReject:
		return s.Reject(ctx, cmd)
	case ActionCancel:
		return s.Cancel(ctx, cmd)
	case ActionComplete:
		return s.Complete(ctx, cmd)
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrBadRequest, action)
}

func (s *Service) transition(ctx context.Context, cmd ActionCommand, to Status) (*Outcome, error) {
	if cmd.BookingID == "" {
		return nil, ErrBadRequest
	}
	release, err := s.lock(ctx, bookingLockKey(cmd.BookingID))
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := s.repo.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(b.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, b.Status, to)
	}
	if err := s.checkInFlight(ctx, b, actionFor(to)); err != nil {
		return nil, err
	}
	r, err := s.rides.Get(ctx, b.RideID)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(cmd.Actor, b, r, to)
	if err != nil {
		return nil, err
	}
	p, err := s.activePayment(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	in, err := s.plan(ctx, b, r, p, actor, to, cmd.Reason)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveIntent(ctx, in); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, in, b, p)
	if err != nil && in.Payload.Breakdown != nil {
		return &Outcome{
			Booking: b,
			Payment: p,
			Refund:  &RefundResult{RefundBreakdown: *in.Payload.Breakdown, Error: err.Error()},
		}, err
	}
	return out, err
}

// resolveActor derives the actor's role from ownership and checks it may
// drive the booking to `to`.
func resolveActor(a Actor, b *Booking, r *ride.Ride, to Status) (Actor, error) {
	if a.Type != ActorSystem {
		switch a.ID {
		case "":
			return a, ErrForbidden
		case b.PassengerID:
			a.Type = ActorPassenger
		case r.DriverID:
			a.Type = ActorDriver
		default:
			return a, ErrForbidden
		}
	}

	allowed := false
	switch to {
	case StatusConfirmed:
		allowed = a.Type == ActorDriver
	case StatusRejected:
		allowed = a.Type == ActorDriver || a.Type == ActorSystem
	case StatusCancelled:
		allowed = a.Type == ActorPassenger || (a.Type == ActorDriver && b.Status == StatusConfirmed)
	case StatusCompleted:
		allowed = a.Type == ActorDriver || a.Type == ActorSystem
	}
	if !allowed {
		return a, fmt.Errorf("%w: %s may not move booking to %s", ErrForbidden, a.Type, to)
	}
	return a, nil
}

// plan decides the processor call and the local effects of a transition.
func (s *Service) plan(ctx context.Context, b *Booking, r *ride.Ride, p *payment.Payment, actor Actor, to Status, reason string) (*Intent, error) {
	now := s.now().UTC()
	action := actionFor(to)
	pl := Payload{
		RideID:      b.RideID,
		PassengerID: b.PassengerID,
		DriverID:    r.DriverID,
		Seats:       b.Seats,
		FromStatus:  b.Status,
		FromVersion: b.StatusVersion,
		ToStatus:    to,
		Actor:       actor,
		Reason:      reason,
		DecidedAt:   now,
		Op:          OpNone,
	}
	if p != nil {
		pl.PaymentID = p.ID
		pl.ProcessorIntent = p.IntentID
	}

	switch to {
	case StatusConfirmed:
		if p == nil || p.Status != payment.StatusAuthorized {
			return nil, ErrPaymentRequired
		}
		if r.Status != ride.StatusScheduled {
			return nil, fmt.Errorf("%w: ride is %s", ErrBadRequest, r.Status)
		}
		if r.SeatsAvailable < b.Seats {
			return nil, ErrNoSeats
		}
		pl.SeatDelta = -b.Seats

	case StatusRejected:
		if p != nil && p.Status != payment.StatusCaptured {
			pl.Op = OpVoid
			pl.PaymentAfter = payment.StatusCancelled
		}

	case StatusCancelled:
		if b.Status == StatusPending {
			if p != nil && p.Status != payment.StatusCaptured {
				pl.Op = OpVoid
				pl.PaymentAfter = payment.StatusCancelled
			}
			break
		}
		pl.SeatDelta = b.Seats
		amount := b.Amount
		if p != nil {
			amount = p.Amount
		}
		breakdown := s.pricing.CancellationRefund(amount, r.DepartureAt, now)
		pl.Breakdown = &breakdown
		if p == nil {
			break
		}
		switch p.Status {
		case payment.StatusPending:
			pl.Op = OpVoid
			pl.PaymentAfter = payment.StatusCancelled
		case payment.StatusAuthorized:
			if breakdown.CancellationPenaltyAmount.IsZero() {
				pl.Op = OpVoid
				pl.PaymentAfter = payment.StatusCancelled
				break
			}
			// keep the penalty, release the rest of the hold
			pl.Op = OpCapture
			pl.Amount = breakdown.CancellationPenaltyAmount
			pl.PaymentAfter = payment.StatusRefunded
			if p.TransferDestination != "" {
				split, err := s.pricing.Split(pl.Amount)
				if err != nil {
					return nil, err
				}
				pl.ApplicationFee = split.CommissionAmount
			}
		case payment.StatusCaptured:
			if breakdown.RefundAmount.Amount > 0 {
				pl.Op = OpRefund
				pl.Amount = breakdown.RefundAmount
				pl.PaymentAfter = payment.StatusRefunded
			}
		}

	case StatusCompleted:
		if p == nil || p.Status != payment.StatusAuthorized {
			return nil, ErrPaymentRequired
		}
		pl.Op = OpCapture
		pl.Amount = p.Amount
		pl.PaymentAfter = payment.StatusCaptured
		if p.TransferDestination != "" {
			pl.ApplicationFee = p.PlatformFee
		} else {
			acc, err := s.accounts.Accounts(ctx, r.DriverID)
			if err != nil {
				return nil, err
			}
			pl.Destination = acc.PayoutID
		}
	}

	return &Intent{
		ID:             types.NewID(),
		BookingID:      b.ID,
		Action:         action,
		IdempotencyKey: IdempotencyKey(b.ID, action, b.StatusVersion),
		Payload:        pl,
		Status:         IntentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// run performs the processor call of a recorded intent and applies the
// transition. The intent is confirmed in the same transaction.
func (s *Service) run(ctx context.Context, in *Intent, b *Booking, p *payment.Payment) (*Outcome, error) {
	res, err := s.callGateway(ctx, in)
	if err != nil {
		return nil, s.gatewayFailed(ctx, in, p, err)
	}

	m := s.mutation(in, b, p, res)
	seats, err := s.repo.Apply(ctx, m)
	if err != nil {
		log.Printf("[booking] apply %s booking=%s after processor success: %v", in.Action, in.BookingID, err)
		if in.Payload.Op == OpNone {
			// nothing happened at the processor, so nothing is left to settle
			if ferr := s.repo.FailIntent(ctx, in.ID, err.Error()); ferr != nil {
				log.Printf("[booking] fail intent=%s: %v", in.ID, ferr)
			}
			return nil, err
		}
		if errors.Is(err, ErrActiveBooking) && res.IntentID != "" {
			if rerr := s.releaseHold(ctx, in, res.IntentID, ErrActiveBooking.Error()); rerr != nil {
				log.Printf("[booking] hold of intent=%s left for reconciliation: %v", in.ID, rerr)
			}
		}
		return nil, err
	}
	if m.Booking != nil {
		log.Printf("[booking] %s booking=%s %s -> %s actor=%s", in.Action, in.BookingID, in.Payload.FromStatus, in.Payload.ToStatus, in.Payload.Actor.Type)
	}
	s.publish(ctx, m)

	out := &Outcome{Booking: m.Booking, SeatsAvailable: seats, Payment: p}
	switch {
	case m.NewPayment != nil:
		out.Payment = m.NewPayment
	case m.Payment != nil:
		out.Payment = m.Payment
	}
	if in.Payload.Breakdown != nil {
		out.Refund = &RefundResult{RefundBreakdown: *in.Payload.Breakdown, RefundID: res.RefundID}
	}

	if m.FollowUp != nil {
		fo, err := s.run(ctx, m.FollowUp, nil, out.Payment)
		if err != nil {
			log.Printf("[booking] transfer booking=%s left for reconciliation: %v", in.BookingID, err)
		} else if fo.Payment != nil {
			out.Payment = fo.Payment
		}
	}
	return out, nil
}

func (s *Service) callGateway(ctx context.Context, in *Intent) (gatewayResult, error) {
	pl := in.Payload
	key := in.IdempotencyKey
	switch pl.Op {
	case OpNone:
		return gatewayResult{}, nil

	case OpHold:
		it, err := s.gateway.CreateHold(ctx, payment.HoldRequest{
			Amount:               pl.Amount,
			ApplicationFee:       pl.ApplicationFee,
			PaymentMethodID:      pl.PaymentMethodID,
			CustomerID:           pl.CustomerID,
			DestinationAccountID: pl.Destination,
			Description:          "carshare booking " + string(in.BookingID),
			Metadata: map[string]string{
				"booking_id":   string(in.BookingID),
				"ride_id":      string(pl.RideID),
				"passenger_id": string(pl.PassengerID),
			},
			IdempotencyKey: key,
		})
		if err != nil {
			return gatewayResult{}, err
		}
		return gatewayResult{IntentID: it.ID, IntentStatus: it.Status}, nil

	case OpVoid:
		it, err := s.gateway.VoidHold(ctx, pl.ProcessorIntent, key)
		if err != nil {
			return gatewayResult{}, err
		}
		return gatewayResult{IntentID: it.ID, IntentStatus: it.Status}, nil

	case OpCapture:
		amount := pl.Amount
		opts := payment.CaptureOptions{AmountToCapture: &amount}
		if !pl.ApplicationFee.IsZero() {
			fee := pl.ApplicationFee
			opts.ApplicationFee = &fee
		}
		it, err := s.gateway.Capture(ctx, pl.ProcessorIntent, opts, key)
		if err != nil {
			return gatewayResult{}, err
		}
		captured := it.AmountCaptured
		if captured.IsZero() {
			captured = pl.Amount
		}
		return gatewayResult{IntentID: it.ID, IntentStatus: it.Status, Captured: captured}, nil

	case OpRefund:
		amount := pl.Amount
		rf, err := s.gateway.Refund(ctx, pl.ProcessorIntent, &amount, key)
		if err != nil {
			return gatewayResult{}, err
		}
		return gatewayResult{RefundID: rf.ID}, nil

	case OpTransfer:
		tr, err := s.gateway.Transfer(ctx, pl.Amount, pl.Destination, key)
		if err != nil {
			return gatewayResult{}, err
		}
		return gatewayResult{TransferID: tr.ID}, nil
	}
	return gatewayResult{}, fmt.Errorf("unknown gateway op %q", pl.Op)
}

// gatewayFailed records a failed processor call and returns err unchanged.
// Retryable failures leave the intent pending for the reconciler; anything
// else fails it, and a processor rejection also marks the payment failed.
func (s *Service) gatewayFailed(ctx context.Context, in *Intent, p *payment.Payment, err error) error {
	ge, isGateway := payment.AsGatewayError(err)
	var recErr error
	switch {
	case isGateway && ge.Retryable():
		recErr = s.repo.TouchIntent(ctx, in.ID, err.Error())
		log.Printf("[booking] %s booking=%s processor unavailable, intent kept: %v", in.Action, in.BookingID, err)
	case isGateway && p != nil && in.Payload.Op != OpNone:
		failed := *p
		failed.Status = payment.StatusFailed
		failed.FailureCode = ge.Code
		failed.FailureMessage = ge.Message
		failed.UpdatedAt = s.now().UTC()
		recErr = s.repo.FailPayment(ctx, &failed, in.ID, err.Error())
		log.Printf("[booking] %s booking=%s payment=%s failed: %v", in.Action, in.BookingID, p.ID, err)
	default:
		recErr = s.repo.FailIntent(ctx, in.ID, err.Error())
		log.Printf("[booking] %s booking=%s failed: %v", in.Action, in.BookingID, err)
	}
	if recErr != nil {
		log.Printf("[booking] record failure of intent=%s: %v", in.ID, recErr)
	}
	return err
}

// mutation turns a successful processor call into the local state change.
func (s *Service) mutation(in *Intent, b *Booking, p *payment.Payment, res gatewayResult) *Mutation {
	pl := in.Payload
	now := s.now().UTC()
	m := &Mutation{RideID: pl.RideID, IntentID: in.ID, SeatDelta: pl.SeatDelta}

	switch in.Action {
	case ActionAuthorize:
		m.Create = true
		m.FromStatus = StatusNone
		m.Booking = &Booking{
			ID:            in.BookingID,
			RideID:        pl.RideID,
			PassengerID:   pl.PassengerID,
			DriverID:      pl.DriverID,
			Status:        StatusPending,
			StatusVersion: 0,
			Seats:         pl.Seats,
			Amount:        pl.Amount,
			AlertDriver:   true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		np := &payment.Payment{
			ID:                  pl.PaymentID,
			BookingID:           in.BookingID,
			PassengerID:         pl.PassengerID,
			DriverID:            pl.DriverID,
			Status:              holdStatus(res.IntentStatus),
			Amount:              pl.Amount,
			IntentID:            res.IntentID,
			TransferDestination: pl.Destination,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if pl.Commission != nil {
			np.PlatformFee = pl.Commission.CommissionAmount
			np.DriverAmount = pl.Commission.DriverAmount
		}
		m.NewPayment = np

	case ActionTransfer:
		if p != nil {
			pp := *p
			pp.TransferID = res.TransferID
			pp.UpdatedAt = now
			m.Payment = &pp
		}
		return m

	default:
		nb := *b
		nb.Status = pl.ToStatus
		nb.StatusVersion = pl.FromVersion + 1
		nb.UpdatedAt = now
		switch pl.Actor.Type {
		case ActorPassenger:
			nb.AlertDriver = true
		case ActorDriver:
			nb.AlertPassenger = true
		default:
			nb.AlertDriver = true
			nb.AlertPassenger = true
		}
		switch pl.ToStatus {
		case StatusConfirmed:
			nb.ConfirmedAt = &now
		case StatusRejected:
			nb.RejectedAt = &now
		case StatusCancelled:
			nb.CancelledAt = &now
			nb.CancelReason = pl.Reason
			nb.CancelledBy = pl.Actor.Type
		case StatusCompleted:
			nb.CompletedAt = &now
		}
		m.Booking = &nb
		m.FromStatus = pl.FromStatus
		m.FromVersion = pl.FromVersion

		if p != nil && pl.Op != OpNone {
			pp := *p
			pp.Status = pl.PaymentAfter
			pp.FailureCode, pp.FailureMessage = "", ""
			pp.UpdatedAt = now
			switch pl.Op {
			case OpCapture:
				pp.CapturedAmount = res.Captured
				if pl.PaymentAfter == payment.StatusRefunded {
					pp.RefundedAmount = pp.Amount.Sub(res.Captured)
				}
			case OpRefund:
				pp.RefundedAmount = pl.Amount
				pp.RefundID = res.RefundID
			}
			m.Payment = &pp

			if in.Action == ActionComplete && pl.Destination != "" && pp.NeedsTransfer() {
				m.FollowUp = transferIntent(&nb, &pp, pl.Destination, now)
			}
		}
	}

	m.Event = &Event{
		BookingID:  in.BookingID,
		FromStatus: pl.FromStatus,
		ToStatus:   pl.ToStatus,
		ActorType:  pl.Actor.Type,
		ActorID:    pl.Actor.ID,
		CreatedAt:  now,
	}
	return m
}

// transferIntent moves the driver share of a captured payment that had no
// connected account at hold time.
func transferIntent(b *Booking, p *payment.Payment, destination string, now time.Time) *Intent {
	return &Intent{
		ID:             types.NewID(),
		BookingID:      b.ID,
		Action:         ActionTransfer,
		IdempotencyKey: IdempotencyKey(b.ID, ActionTransfer, b.StatusVersion),
		Status:         IntentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Payload: Payload{
			RideID:      b.RideID,
			PassengerID: b.PassengerID,
			DriverID:    b.DriverID,
			Seats:       b.Seats,
			FromStatus:  b.Status,
			FromVersion: b.StatusVersion,
			ToStatus:    b.Status,
			Actor:       System,
			DecidedAt:   now,
			Op:          OpTransfer,
			PaymentID:   p.ID,
			Amount:      p.DriverAmount,
			Destination: destination,
		},
	}
}

// checkInFlight refuses a new processor call while another intent of the
// booking has an unknown outcome. Retrying that same intent is allowed.
func (s *Service) checkInFlight(ctx context.Context, b *Booking, action Action) error {
	in, err := s.repo.InFlight(ctx, b.ID)
	if err != nil {
		return err
	}
	if in != nil && in.IdempotencyKey != IdempotencyKey(b.ID, action, b.StatusVersion) {
		return fmt.Errorf("%w: %s of booking %s is still being settled", ErrConflict, in.Action, b.ID)
	}
	return nil
}

// releaseHold voids a hold whose booking could not be stored and fails the
// intent with reason. The intent stays pending when the void fails.
func (s *Service) releaseHold(ctx context.Context, in *Intent, intentID, reason string) error {
	if _, err := s.gateway.VoidHold(ctx, intentID, in.IdempotencyKey+":release"); err != nil {
		log.Printf("[booking] release orphaned hold booking=%s intent=%s: %v", in.BookingID, intentID, err)
		return err
	}
	return s.repo.FailIntent(ctx, in.ID, reason)
}

func holdStatus(processorStatus string) payment.Status {
	switch processorStatus {
	case "", "requires_capture":
		return payment.StatusAuthorized
	case "succeeded":
		return payment.StatusCaptured
	case "canceled":
		return payment.StatusCancelled
	}
	return payment.StatusPending
}

func actionFor(to Status) Action {
	switch to {
	case StatusConfirmed:
		return ActionAccept
	case StatusRejected:
		return ActionReject
	case StatusCancelled:
		return ActionCancel
	case StatusCompleted:
		return ActionComplete
	}
	return ActionAuthorize
}

func (s *Service) activePayment(ctx context.Context, bookingID types.ID) (*payment.Payment, error) {
	p, err := s.repo.ActivePayment(ctx, bookingID)
	if errors.Is(err, payment.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if errors.Is(err, ErrLocked) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return release, nil
}

func bookingLockKey(id types.ID) string {
	return "booking:" + string(id)
}

func requestLockKey(rideID, passengerID types.ID) string {
	return "ride:" + string(rideID) + ":passenger:" + string(passengerID)
}

// README: Background jobs: intent reconciliation and completion of departed rides.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"carshare/internal/modules/payment"
	"carshare/internal/modules/ride"
)

const (
	reconcileBatch  = 50
	completionBatch = 100
)

// RunReconciler replays pending intents older than grace every `every` until
// ctx is cancelled.
func (s *Service) RunReconciler(ctx context.Context, every, grace time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ReconcileOnce(ctx, grace); err != nil {
				log.Printf("[reconciler] pass failed after %d intents: %v", n, err)
			} else if n > 0 {
				log.Printf("[reconciler] settled %d intents", n)
			}
		}
	}
}

// ReconcileOnce replays one batch of stale intents with their stored
// idempotency key and returns how many were settled.
func (s *Service) ReconcileOnce(ctx context.Context, grace time.Duration) (int, error) {
	intents, err := s.repo.PendingIntents(ctx, s.now().UTC().Add(-grace), reconcileBatch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range intents {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		ok, err := s.replay(ctx, &intents[i])
		if err != nil {
			log.Printf("[reconciler] intent=%s booking=%s action=%s: %v", intents[i].ID, intents[i].BookingID, intents[i].Action, err)
		}
		if ok {
			settled++
		}
	}
	return settled, nil
}

// replay reports whether the intent left the pending state.
func (s *Service) replay(ctx context.Context, in *Intent) (bool, error) {
	if in.Attempts >= maxIntentAttempts {
		reason := fmt.Sprintf("gave up after %d attempts: %s", in.Attempts, in.LastError)
		return true, s.repo.FailIntent(ctx, in.ID, reason)
	}

	release, err := s.lock(ctx, bookingLockKey(in.BookingID))
	if err != nil {
		return false, err
	}
	defer release()

	var b *Booking
	switch in.Action {
	case ActionAuthorize:
		releaseReq, err := s.lock(ctx, requestLockKey(in.Payload.RideID, in.Payload.PassengerID))
		if err != nil {
			return false, err
		}
		defer releaseReq()
		reason, err := s.requestClosed(ctx, in)
		if err != nil {
			return false, err
		}
		if reason != "" {
			return s.abandonHold(ctx, in, reason)
		}
	case ActionTransfer:
	default:
		b, err = s.repo.Get(ctx, in.BookingID)
		if err != nil {
			return false, err
		}
		if b.Status != in.Payload.FromStatus || b.StatusVersion != in.Payload.FromVersion {
			return true, s.repo.FailIntent(ctx, in.ID, "superseded by "+string(b.Status))
		}
	}
	p, err := s.activePayment(ctx, in.BookingID)
	if err != nil {
		return false, err
	}
	if p != nil && in.Payload.PaymentID != "" && p.ID != in.Payload.PaymentID {
		return true, s.repo.FailIntent(ctx, in.ID, "payment superseded")
	}
	if p == nil && in.Payload.PaymentID != "" && in.Action != ActionAuthorize {
		// the row left the active set while the call was in doubt; the
		// processor outcome of the replay is what it gets updated to
		p, err = s.repo.Payment(ctx, in.Payload.PaymentID)
		if err != nil && !errors.Is(err, payment.ErrNotFound) {
			return false, err
		}
	}
	if in.Action == ActionTransfer && (p == nil || p.TransferID != "") {
		return true, s.repo.FailIntent(ctx, in.ID, "nothing to transfer")
	}

	_, err = s.run(ctx, in, b, p)
	if err == nil {
		return true, nil
	}
	if ge, ok := payment.AsGatewayError(err); ok && ge.Retryable() {
		return false, err
	}
	if errors.Is(err, ErrConflict) {
		return false, err
	}
	// run recorded the failure
	return true, err
}

// requestClosed re-checks a held request against the ride as it is now and
// returns why it can no longer become a booking, or "".
func (s *Service) requestClosed(ctx context.Context, in *Intent) (string, error) {
	pl := in.Payload
	r, err := s.rides.Get(ctx, pl.RideID)
	if errors.Is(err, ride.ErrNotFound) {
		return "ride closed", nil
	}
	if err != nil {
		return "", err
	}
	switch {
	case r.Status != ride.StatusScheduled:
		return "ride closed", nil
	case r.Departed(s.now().UTC()):
		return "ride departed", nil
	case r.SeatsAvailable < pl.Seats:
		return ErrNoSeats.Error(), nil
	}
	active, err := s.repo.HasActive(ctx, pl.RideID, pl.PassengerID)
	if err != nil {
		return "", err
	}
	if active {
		return ErrActiveBooking.Error(), nil
	}
	return "", nil
}

// abandonHold settles an authorize intent that can no longer become a
// booking. The hold is replayed under its key, which returns the hold the
// processor may already have placed, and then voided.
func (s *Service) abandonHold(ctx context.Context, in *Intent, reason string) (bool, error) {
	res, err := s.callGateway(ctx, in)
	if err != nil {
		if ge, ok := payment.AsGatewayError(err); ok && ge.Retryable() {
			if terr := s.repo.TouchIntent(ctx, in.ID, err.Error()); terr != nil {
				log.Printf("[reconciler] touch intent=%s: %v", in.ID, terr)
			}
			return false, err
		}
		return true, s.repo.FailIntent(ctx, in.ID, reason)
	}
	if err := s.releaseHold(ctx, in, res.IntentID, reason); err != nil {
		return false, err
	}
	log.Printf("[reconciler] authorize booking=%s abandoned: %s", in.BookingID, reason)
	return true, nil
}

// RunCompletionTicker completes confirmed bookings of rides that departed
// more than `after` ago.
func (s *Service) RunCompletionTicker(ctx context.Context, every, after time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.CompleteDue(ctx, after); err != nil {
				log.Printf("[completion] %d completed, then: %v", n, err)
			} else if n > 0 {
				log.Printf("[completion] completed %d bookings", n)
			}
		}
	}
}

// CompleteDue completes one batch of due bookings as the system actor.
// Failures of single bookings are joined into the returned error.
func (s *Service) CompleteDue(ctx context.Context, after time.Duration) (int, error) {
	due, err := s.repo.ListDue(ctx, s.now().UTC().Add(-after), completionBatch)
	if err != nil {
		return 0, err
	}
	done := 0
	var errs []error
	for _, b := range due {
		if _, err := s.Complete(ctx, ActionCommand{BookingID: b.ID, Actor: System}); err != nil {
			errs = append(errs, fmt.Errorf("booking %s: %w", b.ID, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

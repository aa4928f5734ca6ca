package booking

import (
	"context"
	"errors"
	"fmt"

	"carshare/internal/modules/payment"
	"carshare/internal/types"
)

// View is a booking as one of its parties sees it.
type View struct {
	Booking *Booking
	Payment *payment.Payment
	Events  []Event
}

// Get returns the booking with its active payment and event log. Only the
// passenger and the driver may read it.
func (s *Service) Get(ctx context.Context, id, viewerID types.ID) (*View, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewerID != b.PassengerID && viewerID != b.DriverID {
		return nil, ErrForbidden
	}
	p, err := s.activePayment(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Booking: b, Payment: p, Events: events}, nil
}

// ListByRide returns every booking of a ride; driver only.
func (s *Service) ListByRide(ctx context.Context, rideID, driverID types.ID) ([]Booking, error) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrForbidden
	}
	return s.repo.ListByRide(ctx, rideID)
}

func (s *Service) ListByPassenger(ctx context.Context, passengerID types.ID) ([]Booking, error) {
	return s.repo.ListByPassenger(ctx, passengerID)
}

// MarkSeen clears the viewer's alert flag.
func (s *Service) MarkSeen(ctx context.Context, id, viewerID types.ID) error {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch viewerID {
	case b.PassengerID:
		return s.repo.ClearAlert(ctx, id, ActorPassenger)
	case b.DriverID:
		return s.repo.ClearAlert(ctx, id, ActorDriver)
	}
	return ErrForbidden
}

// CompleteRide closes the ride, completes its confirmed bookings and
// rejects the ones the driver never answered.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID types.ID) ([]Outcome, error) {
	if _, err := s.rides.Complete(ctx, rideID, driverID); err != nil {
		return nil, err
	}
	bookings, err := s.repo.ListByRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	outs := make([]Outcome, 0, len(bookings))
	var errs []error
	for _, b := range bookings {
		var out *Outcome
		var err error
		switch b.Status {
		case StatusConfirmed:
			out, err = s.Complete(ctx, ActionCommand{BookingID: b.ID, Actor: System})
		case StatusPending:
			out, err = s.Reject(ctx, ActionCommand{BookingID: b.ID, Actor: System, Reason: "ride completed"})
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("booking %s: %w", b.ID, err))
			continue
		}
		outs = append(outs, *out)
	}
	return outs, errors.Join(errs...)
}

package booking

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"carshare/internal/types"
)

// Publisher fans booking events out to other services; *infra.RabbitMQ
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, []byte) error { return nil }

// EventMessage is the body published for every applied transition.
type EventMessage struct {
	BookingID   types.ID  `json:"booking_id"`
	RideID      types.ID  `json:"ride_id"`
	PassengerID types.ID  `json:"passenger_id"`
	DriverID    types.ID  `json:"driver_id"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Actor       Actor     `json:"actor"`
	Seats       int       `json:"seats"`
	At          time.Time `json:"at"`
}

func routingKey(to Status) string {
	return "booking." + string(to)
}

func (s *Service) publish(ctx context.Context, m *Mutation) {
	if m.Booking == nil || m.Event == nil {
		return
	}
	b := m.Booking
	body, err := json.Marshal(EventMessage{
		BookingID:   b.ID,
		RideID:      b.RideID,
		PassengerID: b.PassengerID,
		DriverID:    b.DriverID,
		From:        m.Event.FromStatus,
		To:          m.Event.ToStatus,
		Actor:       Actor{Type: m.Event.ActorType, ID: m.Event.ActorID},
		Seats:       b.Seats,
		At:          m.Event.CreatedAt,
	})
	if err != nil {
		log.Printf("[booking] encode event booking=%s: %v", b.ID, err)
		return
	}
	if err := s.publisher.Publish(ctx, routingKey(b.Status), body); err != nil {
		log.Printf("[booking] publish event booking=%s status=%s: %v", b.ID, b.Status, err)
	}
}

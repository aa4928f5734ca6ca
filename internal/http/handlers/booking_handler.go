// README: Booking handlers: request seats, drive transitions, read bookings.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carshare/internal/modules/booking"
	"carshare/internal/modules/payment"
	"carshare/internal/types"
)

// BookingService is the booking surface the handlers use; *booking.Service
// satisfies it.
type BookingService interface {
	Request(ctx context.Context, cmd booking.RequestCommand) (*booking.Outcome, error)
	Perform(ctx context.Context, action booking.Action, cmd booking.ActionCommand) (*booking.Outcome, error)
	Get(ctx context.Context, id, viewerID types.ID) (*booking.View, error)
	ListByRide(ctx context.Context, rideID, driverID types.ID) ([]booking.Booking, error)
	ListByPassenger(ctx context.Context, passengerID types.ID) ([]booking.Booking, error)
	MarkSeen(ctx context.Context, id, viewerID types.ID) error
	CompleteRide(ctx context.Context, rideID, driverID types.ID) ([]booking.Outcome, error)
}

type BookingHandler struct {
	bookings BookingService
}

func NewBookingHandler(svc BookingService) *BookingHandler {
	return &BookingHandler{bookings: svc}
}

type requestBookingReq struct {
	Seats           int    `json:"seats"`
	PaymentMethodID string `json:"payment_method_id"`
}

type transitionReq struct {
	Reason string `json:"reason"`
}

type refundResp struct {
	OriginalAmount             float64 `json:"original_amount"`
	CancellationPenaltyPercent float64 `json:"cancellation_penalty_percent"`
	CancellationPenaltyAmount  float64 `json:"cancellation_penalty_amount"`
	RefundAmount               float64 `json:"refund_amount"`
	RefundID                   string  `json:"refund_id,omitempty"`
	Error                      string  `json:"error,omitempty"`
}

type outcomeResp struct {
	BookingID      types.ID       `json:"booking_id"`
	Status         booking.Status `json:"status"`
	SeatsAvailable int            `json:"seats_available"`
	PaymentStatus  payment.Status `json:"payment_status,omitempty"`
	Refund         *refundResp    `json:"refund,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type bookingResp struct {
	ID            types.ID          `json:"id"`
	RideID        types.ID          `json:"ride_id"`
	PassengerID   types.ID          `json:"passenger_id"`
	DriverID      types.ID          `json:"driver_id"`
	Status        booking.Status    `json:"status"`
	StatusVersion int               `json:"status_version"`
	Seats         int               `json:"seats"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	Alert         bool              `json:"alert"`
	CancelReason  string            `json:"cancel_reason,omitempty"`
	CancelledBy   booking.ActorType `json:"cancelled_by,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ConfirmedAt   *time.Time        `json:"confirmed_at,omitempty"`
	RejectedAt    *time.Time        `json:"rejected_at,omitempty"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Payment       *paymentResp      `json:"payment,omitempty"`
	Events        []eventResp       `json:"events,omitempty"`
}

type paymentResp struct {
	ID             types.ID       `json:"id"`
	Status         payment.Status `json:"status"`
	Amount         float64        `json:"amount"`
	PlatformFee    float64        `json:"platform_fee"`
	DriverAmount   float64        `json:"driver_amount"`
	CapturedAmount float64        `json:"captured_amount"`
	RefundedAmount float64        `json:"refunded_amount"`
	Currency       string         `json:"currency"`
}

type eventResp struct {
	From  booking.Status    `json:"from"`
	To    booking.Status    `json:"to"`
	Actor booking.ActorType `json:"actor"`
	At    time.Time         `json:"at"`
}

func (h *BookingHandler) Request(c *gin.Context) {
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req requestBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Seats < 1 {
		writeError(c, http.StatusBadRequest, "seats must be at least 1")
		return
	}
	out, err := h.bookings.Request(c.Request.Context(), booking.RequestCommand{
		RideID:          rideID,
		PassengerID:     caller(c),
		Seats:           req.Seats,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toOutcomeResp(out))
}

// Transition returns the handler for one booking action.
func (h *BookingHandler) Transition(action booking.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req transitionReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeError(c, http.StatusBadRequest, "invalid json")
				return
			}
		}
		out, err := h.bookings.Perform(c.Request.Context(), action, booking.ActionCommand{
			BookingID: id,
			Actor:     booking.Actor{ID: caller(c)},
			Reason:    req.Reason,
		})
		if err != nil {
			if out != nil && out.Refund != nil {
				resp := toOutcomeResp(out)
				resp.Error = err.Error()
				writeJSON(c, errorStatus(err), resp)
				return
			}
			writeBookingError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, toOutcomeResp(out))
	}
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	v, err := h.bookings.Get(c.Request.Context(), id, caller(c))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	resp := toBookingResp(v.Booking, caller(c))
	if v.Payment != nil {
		resp.Payment = toPaymentResp(v.Payment)
	}
	for _, e := range v.Events {
		resp.Events = append(resp.Events, eventResp{From: e.FromStatus, To: e.ToStatus, Actor: e.ActorType, At: e.CreatedAt})
	}
	writeJSON(c, http.StatusOK, resp)
}

func (h *BookingHandler) ListMine(c *gin.Context) {
	list, err := h.bookings.ListByPassenger(c.Request.Context(), caller(c))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": toBookingList(list, caller(c))})
}

func (h *BookingHandler) ListByRide(c *gin.Context) {
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.bookings.ListByRide(c.Request.Context(), rideID, caller(c))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": toBookingList(list, caller(c))})
}

func (h *BookingHandler) MarkSeen(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.bookings.MarkSeen(c.Request.Context(), id, caller(c)); err != nil {
		writeBookingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CompleteRide closes a ride and settles its bookings. Per-booking failures
// are reported with 207 next to the settled ones.
func (h *BookingHandler) CompleteRide(c *gin.Context) {
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}
	outs, err := h.bookings.CompleteRide(c.Request.Context(), rideID, caller(c))
	if err != nil && outs == nil {
		writeBookingError(c, err)
		return
	}
	resp := make([]outcomeResp, 0, len(outs))
	for i := range outs {
		resp = append(resp, toOutcomeResp(&outs[i]))
	}
	status := http.StatusOK
	body := gin.H{"ride_id": rideID, "bookings": resp}
	if err != nil {
		status = http.StatusMultiStatus
		body["error"] = err.Error()
	}
	writeJSON(c, status, body)
}

func toOutcomeResp(out *booking.Outcome) outcomeResp {
	resp := outcomeResp{SeatsAvailable: out.SeatsAvailable}
	if out.Booking != nil {
		resp.BookingID = out.Booking.ID
		resp.Status = out.Booking.Status
	}
	if out.Payment != nil {
		resp.PaymentStatus = out.Payment.Status
	}
	if r := out.Refund; r != nil {
		resp.Refund = &refundResp{
			OriginalAmount:             r.OriginalAmount.Major(),
			CancellationPenaltyPercent: r.CancellationPenaltyPercent,
			CancellationPenaltyAmount:  r.CancellationPenaltyAmount.Major(),
			RefundAmount:               r.RefundAmount.Major(),
			RefundID:                   r.RefundID,
			Error:                      r.Error,
		}
	}
	return resp
}

func toBookingResp(b *booking.Booking, viewer types.ID) bookingResp {
	alert := b.AlertPassenger
	if viewer == b.DriverID {
		alert = b.AlertDriver
	}
	return bookingResp{
		ID:            b.ID,
		RideID:        b.RideID,
		PassengerID:   b.PassengerID,
		DriverID:      b.DriverID,
		Status:        b.Status,
		StatusVersion: b.StatusVersion,
		Seats:         b.Seats,
		Amount:        b.Amount.Major(),
		Currency:      b.Amount.Currency,
		Alert:         alert,
		CancelReason:  b.CancelReason,
		CancelledBy:   b.CancelledBy,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		ConfirmedAt:   b.ConfirmedAt,
		RejectedAt:    b.RejectedAt,
		CancelledAt:   b.CancelledAt,
		CompletedAt:   b.CompletedAt,
	}
}

func toBookingList(list []booking.Booking, viewer types.ID) []bookingResp {
	out := make([]bookingResp, 0, len(list))
	for i := range list {
		out = append(out, toBookingResp(&list[i], viewer))
	}
	return out
}

func toPaymentResp(p *payment.Payment) *paymentResp {
	return &paymentResp{
		ID:             p.ID,
		Status:         p.Status,
		Amount:         p.Amount.Major(),
		PlatformFee:    p.PlatformFee.Major(),
		DriverAmount:   p.DriverAmount.Major(),
		CapturedAmount: p.CapturedAmount.Major(),
		RefundedAmount: p.RefundedAmount.Major(),
		Currency:       p.Amount.Currency,
	}
}

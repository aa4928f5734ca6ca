// README: Transition intents (outbox rows) written before every processor call.
package booking

import (
	"fmt"
	"time"

	"carshare/internal/modules/payment"
	"carshare/internal/modules/pricing"
	"carshare/internal/types"
)

type Action string

const (
	ActionAuthorize Action = "authorize"
	ActionAccept    Action = "accept"
	ActionReject    Action = "reject"
	ActionCancel    Action = "cancel"
	ActionComplete  Action = "complete"
	ActionTransfer  Action = "transfer"
)

// GatewayOp is the single processor call an intent performs.
type GatewayOp string

const (
	OpNone     GatewayOp = "none"
	OpHold     GatewayOp = "hold"
	OpVoid     GatewayOp = "void"
	OpCapture  GatewayOp = "capture"
	OpRefund   GatewayOp = "refund"
	OpTransfer GatewayOp = "transfer"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentFailed    IntentStatus = "failed"
)

// maxIntentAttempts bounds reconciler replays of one intent.
const maxIntentAttempts = 10

type Intent struct {
	ID             types.ID
	BookingID      types.ID
	Action         Action
	IdempotencyKey string
	Payload        Payload
	Status         IntentStatus
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payload holds everything needed to replay the processor call and apply
// the local transition without re-deciding anything.
type Payload struct {
	RideID      types.ID  `json:"ride_id"`
	PassengerID types.ID  `json:"passenger_id"`
	DriverID    types.ID  `json:"driver_id"`
	Seats       int       `json:"seats"`
	FromStatus  Status    `json:"from_status"`
	FromVersion int       `json:"from_version"`
	ToStatus    Status    `json:"to_status"`
	Actor       Actor     `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	SeatDelta   int       `json:"seat_delta,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`

	Op              GatewayOp                `json:"op"`
	PaymentID       types.ID                 `json:"payment_id,omitempty"`
	ProcessorIntent string                   `json:"processor_intent,omitempty"`
	// Amount is the hold, capture, refund or transfer amount of Op.
	Amount          types.Money              `json:"amount"`
	ApplicationFee  types.Money              `json:"application_fee"`
	PaymentMethodID string                   `json:"payment_method_id,omitempty"`
	CustomerID      string                   `json:"customer_id,omitempty"`
	Destination     string                   `json:"destination,omitempty"`
	PaymentAfter    payment.Status           `json:"payment_after,omitempty"`
	Commission      *pricing.Commission      `json:"commission,omitempty"`
	Breakdown       *pricing.RefundBreakdown `json:"breakdown,omitempty"`
}

// IdempotencyKey is deterministic per booking, action and the status
// version the action starts from.
func IdempotencyKey(bookingID types.ID, action Action, version int) string {
	return fmt.Sprintf("carshare:%s:%s:v%d", bookingID, action, version)
}

// gatewayResult carries the processor ids a successful call produced.
type gatewayResult struct {
	IntentID     string
	IntentStatus string
	Captured     types.Money
	RefundID     string
	TransferID   string
}

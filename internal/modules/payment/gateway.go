// README: Payment processor port. Every operation maps 1:1 onto a processor call.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"carshare/internal/types"
)

// ErrGatewayNotConfigured is returned before any network call when no
// processor credentials are configured.
var ErrGatewayNotConfigured = errors.New("payment gateway not configured")

// GatewayError carries the processor's code and message verbatim.
type GatewayError struct {
	Op         string
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable is true when the processor never answered or answered with a
// transient status, so the same call with the same idempotency key may
// still succeed.
func (e *GatewayError) Retryable() bool {
	switch {
	case e.HTTPStatus == 0:
		return true
	case e.HTTPStatus == http.StatusConflict, e.HTTPStatus == http.StatusTooManyRequests:
		return true
	case e.HTTPStatus >= 500:
		return true
	}
	return false
}

// AsGatewayError unwraps err into a *GatewayError when it is one.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

type HoldRequest struct {
	Amount          types.Money
	ApplicationFee  types.Money
	PaymentMethodID string
	CustomerID      string
	// DestinationAccountID routes the driver share to a connected account on
	// capture; the platform keeps ApplicationFee.
	DestinationAccountID string
	Description          string
	Metadata             map[string]string
	IdempotencyKey       string
}

type CaptureOptions struct {
	AmountToCapture *types.Money
	ApplicationFee  *types.Money
}

type Intent struct {
	ID             string
	Status         string
	Amount         types.Money
	AmountCaptured types.Money
}

type Refund struct {
	ID     string
	Amount types.Money
	Status string
}

type Transfer struct {
	ID          string
	Amount      types.Money
	Destination string
}

type Payout struct {
	ID      string
	Amount  types.Money
	Account string
	Status  string
}

type Gateway interface {
	CreateHold(ctx context.Context, req HoldRequest) (*Intent, error)
	VoidHold(ctx context.Context, intentID, idempotencyKey string) (*Intent, error)
	Capture(ctx context.Context, intentID string, opts CaptureOptions, idempotencyKey string) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount *types.Money, idempotencyKey string) (*Refund, error)
	Transfer(ctx context.Context, amount types.Money, destinationAccountID, idempotencyKey string) (*Transfer, error)
	Payout(ctx context.Context, amount types.Money, accountID, idempotencyKey string) (*Payout, error)
}

// NotConfiguredGateway fails every call with ErrGatewayNotConfigured.
type NotConfiguredGateway struct{}

func (NotConfiguredGateway) CreateHold(context.Context, HoldRequest) (*Intent, error) {
	return nil, ErrGatewayNotConfigured
}

func (NotConfiguredGateway) VoidHold(context.Context, string, string) (*Intent, error) {
	return nil, ErrGatewayNotConfigured
}

func (NotConfiguredGateway) Capture(context.Context, string, CaptureOptions, string) (*Intent, error) {
	return nil, ErrGatewayNotConfigured
}

func (NotConfiguredGateway) Refund(context.Context, string, *types.Money, string) (*Refund, error) {
	return nil, ErrGatewayNotConfigured
}

func (NotConfiguredGateway) Transfer(context.Context, types.Money, string, string) (*Transfer, error) {
	return nil, ErrGatewayNotConfigured
}

func (NotConfiguredGateway) Payout(context.Context, types.Money, string, string) (*Payout, error) {
	return nil, ErrGatewayNotConfigured
}

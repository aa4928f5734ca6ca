package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"carshare/internal/types"
)

// StripeGateway talks to Stripe through an explicitly constructed client;
// it never touches the package-level stripe.Key.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds the adapter. backends may be nil for the default
// Stripe endpoints. An empty secret key yields a gateway that fails every
// call with ErrGatewayNotConfigured.
func NewStripeGateway(secretKey string, backends *stripe.Backends) Gateway {
	if strings.TrimSpace(secretKey) == "" {
		return NotConfiguredGateway{}
	}
	return &StripeGateway{api: client.New(secretKey, backends)}
}

func (g *StripeGateway) CreateHold(ctx context.Context, req HoldRequest) (*Intent, error) {
	if req.Amount.Amount <= 0 {
		return nil, &GatewayError{Op: "create_hold", Code: "invalid_amount", Message: "amount must be positive", HTTPStatus: http.StatusBadRequest}
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount.Amount),
		Currency:           stripe.String(currency(req.Amount)),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.DestinationAccountID != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccountID),
		}
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFee.Amount)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	setKey(&params.Params, req.IdempotencyKey)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, gatewayError("create_hold", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) VoidHold(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx
	setKey(&params.Params, idempotencyKey)

	pi, err := g.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, gatewayError("void_hold", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) Capture(ctx context.Context, intentID string, opts CaptureOptions, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if opts.AmountToCapture != nil {
		params.AmountToCapture = stripe.Int64(opts.AmountToCapture.Amount)
	}
	if opts.ApplicationFee != nil {
		params.ApplicationFeeAmount = stripe.Int64(opts.ApplicationFee.Amount)
	}
	params.Context = ctx
	setKey(&params.Params, idempotencyKey)

	pi, err := g.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, gatewayError("capture", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, amount *types.Money, idempotencyKey string) (*Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	if amount != nil {
		params.Amount = stripe.Int64(amount.Amount)
	}
	params.Context = ctx
	setKey(&params.Params, idempotencyKey)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, gatewayError("refund", err)
	}
	return &Refund{
		ID:     r.ID,
		Amount: types.Money{Amount: r.Amount, Currency: strings.ToUpper(string(r.Currency))},
		Status: string(r.Status),
	}, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, amount types.Money, destinationAccountID, idempotencyKey string) (*Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount.Amount),
		Currency:    stripe.String(currency(amount)),
		Destination: stripe.String(destinationAccountID),
	}
	params.Context = ctx
	setKey(&params.Params, idempotencyKey)

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, gatewayError("transfer", err)
	}
	return &Transfer{
		ID:          tr.ID,
		Amount:      types.Money{Amount: tr.Amount, Currency: amount.Currency},
		Destination: destinationAccountID,
	}, nil
}

func (g *StripeGateway) Payout(ctx context.Context, amount types.Money, accountID, idempotencyKey string) (*Payout, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(amount.Amount),
		Currency: stripe.String(currency(amount)),
	}
	params.SetStripeAccount(accountID)
	params.Context = ctx
	setKey(&params.Params, idempotencyKey)

	p, err := g.api.Payouts.New(params)
	if err != nil {
		return nil, gatewayError("payout", err)
	}
	return &Payout{
		ID:      p.ID,
		Amount:  types.Money{Amount: p.Amount, Currency: amount.Currency},
		Account: accountID,
		Status:  string(p.Status),
	}, nil
}

func setKey(p *stripe.Params, key string) {
	if key != "" {
		p.SetIdempotencyKey(key)
	}
}

func currency(m types.Money) string {
	if m.Currency == "" {
		return string(stripe.CurrencyEUR)
	}
	return strings.ToLower(m.Currency)
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	cur := strings.ToUpper(string(pi.Currency))
	if cur == "" {
		cur = types.DefaultCurrency
	}
	return &Intent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		Amount:         types.Money{Amount: pi.Amount, Currency: cur},
		AmountCaptured: types.Money{Amount: pi.AmountReceived, Currency: cur},
	}
}

func gatewayError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &GatewayError{
			Op:         op,
			Code:       string(se.Code),
			Message:    se.Msg,
			HTTPStatus: se.HTTPStatusCode,
			Err:        err,
		}
	}
	return &GatewayError{Op: op, Code: "network_error", Message: err.Error(), Err: err}
}

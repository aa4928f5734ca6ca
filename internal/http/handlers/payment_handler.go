// README: Payment account registration and driver payouts.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carshare/internal/modules/payment"
	"carshare/internal/types"
)

// PaymentService is satisfied by *payment.Service.
type PaymentService interface {
	RegisterAccounts(ctx context.Context, acc payment.Accounts) error
	Accounts(ctx context.Context, userID types.ID) (payment.Accounts, error)
	Payout(ctx context.Context, cmd payment.PayoutCommand) (*payment.PayoutRecord, error)
	Payouts(ctx context.Context, driverID types.ID, limit int) ([]payment.PayoutRecord, error)
}

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: svc}
}

type accountsReq struct {
	CustomerID      string `json:"customer_id"`
	PayoutAccountID string `json:"payout_account_id"`
}

type payoutReq struct {
	Amount     float64 `json:"amount"`
	RequestKey string  `json:"request_key"`
}

type payoutResp struct {
	ID         types.ID  `json:"id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *PaymentHandler) PutAccounts(c *gin.Context) {
	var req accountsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.payments.RegisterAccounts(c.Request.Context(), payment.Accounts{
		UserID:     caller(c),
		CustomerID: req.CustomerID,
		PayoutID:   req.PayoutAccountID,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	acc, err := h.payments.Accounts(c.Request.Context(), caller(c))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, accountsReq{CustomerID: acc.CustomerID, PayoutAccountID: acc.PayoutID})
}

func (h *PaymentHandler) Payout(c *gin.Context) {
	var req payoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Amount <= 0 {
		writeError(c, http.StatusBadRequest, "amount must be positive")
		return
	}
	rec, err := h.payments.Payout(c.Request.Context(), payment.PayoutCommand{
		DriverID:   caller(c),
		Amount:     types.FromMajor(req.Amount, types.DefaultCurrency),
		RequestKey: req.RequestKey,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toPayoutResp(rec))
}

func (h *PaymentHandler) ListPayouts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.payments.Payouts(c.Request.Context(), caller(c), limit)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]payoutResp, 0, len(list))
	for i := range list {
		out = append(out, toPayoutResp(&list[i]))
	}
	writeJSON(c, http.StatusOK, gin.H{"payouts": out})
}

func toPayoutResp(p *payment.PayoutRecord) payoutResp {
	return payoutResp{
		ID:         p.ID,
		Amount:     p.Amount.Major(),
		Currency:   p.Amount.Currency,
		ExternalID: p.ExternalID,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
	}
}

// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carshare/internal/http/middleware"
	"carshare/internal/modules/booking"
	"carshare/internal/modules/payment"
	"carshare/internal/modules/pricing"
	"carshare/internal/modules/ride"
	"carshare/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// isValidID accepts the uuid ids the services mint.
func isValidID(v string) bool {
	return uuid.Validate(v) == nil
}

func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// errorStatus maps module errors onto HTTP statuses.
func errorStatus(err error) int {
	if ge, ok := payment.AsGatewayError(err); ok {
		if ge.Retryable() {
			return http.StatusBadGateway
		}
		return http.StatusPaymentRequired
	}
	switch {
	case errors.Is(err, payment.ErrGatewayNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, booking.ErrBadRequest), errors.Is(err, ride.ErrBadRequest), errors.Is(err, payment.ErrBadRequest),
		errors.Is(err, pricing.ErrInvalidAmount), errors.Is(err, pricing.ErrInvalidSeats):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, ride.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, ride.ErrNotFound), errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrInvalidStateTransition), errors.Is(err, booking.ErrActiveBooking),
		errors.Is(err, booking.ErrNoSeats), errors.Is(err, ride.ErrNotActive), errors.Is(err, ride.ErrNoSeats):
		return http.StatusConflict
	case errors.Is(err, booking.ErrPaymentRequired), errors.Is(err, payment.ErrNoAccount):
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

func writeBookingError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] request_id=%s %s %s: %v", middleware.GetRequestID(c), c.Request.Method, c.FullPath(), err)
		writeError(c, status, "internal error")
		return
	}
	resp := errorResponse{Error: err.Error()}
	if ge, ok := payment.AsGatewayError(err); ok {
		resp.Code = ge.Code
	}
	writeJSON(c, status, resp)
}

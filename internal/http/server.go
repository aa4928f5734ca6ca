// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carshare/internal/http/handlers"
	"carshare/internal/http/middleware"
	"carshare/internal/infra"
	"carshare/internal/modules/booking"
)

type ServerDeps struct {
	Bookings handlers.BookingService
	Rides    handlers.RideService
	Payments handlers.PaymentService
	Verifier infra.TokenVerifier
}

type Server struct {
	bookings *handlers.BookingHandler
	rides    *handlers.RideHandler
	payments *handlers.PaymentHandler
	verifier infra.TokenVerifier
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		bookings: handlers.NewBookingHandler(deps.Bookings),
		rides:    handlers.NewRideHandler(deps.Rides),
		payments: handlers.NewPaymentHandler(deps.Payments),
		verifier: deps.Verifier,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(), middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", middleware.Auth(s.verifier))
	driver := middleware.RequireRole(middleware.RoleDriver)

	api.POST("/rides", driver, s.rides.Create)
	api.GET("/rides/nearby", s.rides.Nearby)
	api.GET("/rides/mine", driver, s.rides.ListMine)
	api.GET("/rides/:id", s.rides.Get)
	api.GET("/rides/:id/bookings", driver, s.bookings.ListByRide)
	api.POST("/rides/:id/bookings", s.bookings.Request)
	api.POST("/rides/:id/complete", driver, s.bookings.CompleteRide)

	api.GET("/bookings", s.bookings.ListMine)
	api.GET("/bookings/:id", s.bookings.Get)
	api.POST("/bookings/:id/accept", driver, s.bookings.Transition(booking.ActionAccept))
	api.POST("/bookings/:id/reject", driver, s.bookings.Transition(booking.ActionReject))
	api.POST("/bookings/:id/cancel", s.bookings.Transition(booking.ActionCancel))
	api.POST("/bookings/:id/complete", driver, s.bookings.Transition(booking.ActionComplete))
	api.POST("/bookings/:id/seen", s.bookings.MarkSeen)

	api.PUT("/payment-accounts", s.payments.PutAccounts)
	api.POST("/payouts", driver, s.payments.Payout)
	api.GET("/payouts", driver, s.payments.ListPayouts)
	return r
}

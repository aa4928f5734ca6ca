// README: Handler tests for booking routes: auth, role gating, error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"carshare/internal/http/handlers"
	httpmiddleware "carshare/internal/http/middleware"
	"carshare/internal/infra"
	"carshare/internal/modules/booking"
	"carshare/internal/modules/payment"
	"carshare/internal/modules/pricing"
	"carshare/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.VerifiedToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.VerifiedToken, error) {
	return s.token, s.err
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.VerifiedToken{UID: uid, Claims: claims}}
}

// stubBookings records the last command and returns canned results.
type stubBookings struct {
	lastAction  booking.Action
	lastCmd     booking.ActionCommand
	lastRequest booking.RequestCommand
	out         *booking.Outcome
	outs        []booking.Outcome
	view        *booking.View
	list        []booking.Booking
	err         error
}

func (s *stubBookings) Request(_ context.Context, cmd booking.RequestCommand) (*booking.Outcome, error) {
	s.lastRequest = cmd
	return s.out, s.err
}

func (s *stubBookings) Perform(_ context.Context, action booking.Action, cmd booking.ActionCommand) (*booking.Outcome, error) {
	s.lastAction = action
	s.lastCmd = cmd
	return s.out, s.err
}

func (s *stubBookings) Get(_ context.Context, _, _ types.ID) (*booking.View, error) {
	return s.view, s.err
}

func (s *stubBookings) ListByRide(_ context.Context, _, _ types.ID) ([]booking.Booking, error) {
	return s.list, s.err
}

func (s *stubBookings) ListByPassenger(_ context.Context, _ types.ID) ([]booking.Booking, error) {
	return s.list, s.err
}

func (s *stubBookings) MarkSeen(_ context.Context, _, _ types.ID) error {
	return s.err
}

func (s *stubBookings) CompleteRide(_ context.Context, _, _ types.ID) ([]booking.Outcome, error) {
	return s.outs, s.err
}

// buildTestRouter wires a minimal Gin engine with the auth middleware and the booking handler.
func buildTestRouter(verifier infra.TokenVerifier, svc handlers.BookingService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier))
	h := handlers.NewBookingHandler(svc)
	driver := httpmiddleware.RequireRole(httpmiddleware.RoleDriver)
	r.POST("/api/rides/:id/bookings", h.Request)
	r.GET("/api/rides/:id/bookings", driver, h.ListByRide)
	r.POST("/api/rides/:id/complete", driver, h.CompleteRide)
	r.GET("/api/bookings", h.ListMine)
	r.GET("/api/bookings/:id", h.Get)
	r.POST("/api/bookings/:id/accept", driver, h.Transition(booking.ActionAccept))
	r.POST("/api/bookings/:id/cancel", h.Transition(booking.ActionCancel))
	r.POST("/api/bookings/:id/seen", h.MarkSeen)
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func pendingOutcome() *booking.Outcome {
	return &booking.Outcome{
		Booking: &booking.Booking{
			ID:     "0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c",
			RideID: "5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f",
			Status: booking.StatusPending,
			Seats:  2,
			Amount: types.EUR(2000),
		},
		SeatsAvailable: 3,
		Payment:        &payment.Payment{ID: "pay-1", Status: payment.StatusAuthorized},
	}
}

// TestRequest_Unauthenticated verifies that requests without a valid token are rejected.
func TestRequest_Unauthenticated(t *testing.T) {
	svc := &stubBookings{}
	r := buildTestRouter(&stubTokenVerifier{err: errors.New("no token")}, svc)
	w := doRequest(r, http.MethodPost, "/api/rides/5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f/bookings", map[string]any{"seats": 1}, "Bearer badtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if svc.lastRequest.RideID != "" {
		t.Errorf("service must not be called")
	}
}

// TestRequest_UsesCallerAsPassenger verifies the passenger id comes from the token, not the body.
func TestRequest_UsesCallerAsPassenger(t *testing.T) {
	svc := &stubBookings{out: pendingOutcome()}
	r := buildTestRouter(makeVerifier("student-1", ""), svc)
	w := doRequest(r, http.MethodPost, "/api/rides/5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f/bookings", map[string]any{
		"seats":             2,
		"payment_method_id": "pm_card_visa",
		"passenger_id":      "someone-else",
	}, "Bearer good")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastRequest.PassengerID != "student-1" || svc.lastRequest.RideID != "5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f" || svc.lastRequest.Seats != 2 {
		t.Errorf("unexpected command: %+v", svc.lastRequest)
	}
	body := decode(t, w)
	if body["status"] != "pending" || body["payment_status"] != "authorized" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestRequest_BadInput(t *testing.T) {
	r := buildTestRouter(makeVerifier("student-1", ""), &stubBookings{out: pendingOutcome()})
	cases := []struct {
		name string
		path string
		body any
	}{
		{"zero seats", "/api/rides/5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f/bookings", map[string]any{"seats": 0}},
		{"bad ride id", "/api/rides/ride$1/bookings", map[string]any{"seats": 1}},
		{"ride id not a uuid", "/api/rides/ride-1/bookings", map[string]any{"seats": 1}},
		{"wrong type", "/api/rides/5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f/bookings", map[string]any{"seats": "two"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, tc.path, tc.body, "Bearer good")
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

// TestAccept_RequiresDriverRole verifies that passengers cannot accept bookings.
func TestAccept_RequiresDriverRole(t *testing.T) {
	svc := &stubBookings{out: pendingOutcome()}
	r := buildTestRouter(makeVerifier("student-1", "passenger"), svc)
	w := doRequest(r, http.MethodPost, "/api/bookings/0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c/accept", nil, "Bearer good")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if svc.lastAction != "" {
		t.Errorf("service must not be called, got %q", svc.lastAction)
	}
}

func TestAccept_PassesActionAndCaller(t *testing.T) {
	out := pendingOutcome()
	out.Booking.Status = booking.StatusConfirmed
	svc := &stubBookings{out: out}
	r := buildTestRouter(makeVerifier("driver-1", "driver"), svc)
	w := doRequest(r, http.MethodPost, "/api/bookings/0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c/accept", nil, "Bearer good")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastAction != booking.ActionAccept || svc.lastCmd.BookingID != "0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c" || svc.lastCmd.Actor.ID != "driver-1" {
		t.Errorf("unexpected call: %s %+v", svc.lastAction, svc.lastCmd)
	}
}

func TestTransition_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid transition", fmt.Errorf("%w: rejected -> cancelled", booking.ErrInvalidStateTransition), http.StatusConflict},
		{"conflict", booking.ErrConflict, http.StatusConflict},
		{"forbidden", booking.ErrForbidden, http.StatusForbidden},
		{"not found", booking.ErrNotFound, http.StatusNotFound},
		{"card declined", &payment.GatewayError{Op: "capture", Code: "card_declined", HTTPStatus: 402}, http.StatusPaymentRequired},
		{"processor unreachable", &payment.GatewayError{Op: "capture", Message: "timeout"}, http.StatusBadGateway},
		{"gateway missing", payment.ErrGatewayNotConfigured, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := buildTestRouter(makeVerifier("student-1", ""), &stubBookings{err: tc.err})
			w := doRequest(r, http.MethodPost, "/api/bookings/0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c/cancel", map[string]any{"reason": "exam moved"}, "Bearer good")
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestTransition_InternalErrorHidesDetail(t *testing.T) {
	r := buildTestRouter(makeVerifier("student-1", ""), &stubBookings{err: errors.New("pq: relation missing")})
	w := doRequest(r, http.MethodPost, "/api/bookings/0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c/cancel", nil, "Bearer good")
	if body := decode(t, w); body["error"] != "internal error" {
		t.Errorf("expected generic message, got %v", body["error"])
	}
}

// TestCancel_GatewayFailureStillReportsBreakdown verifies the computed refund
// is returned even when the processor call fails.
func TestCancel_GatewayFailureStillReportsBreakdown(t *testing.T) {
	out := pendingOutcome()
	out.Booking.Status = booking.StatusConfirmed
	out.Refund = &booking.RefundResult{
		RefundBreakdown: pricing.RefundBreakdown{
			OriginalAmount:             types.EUR(2000),
			CancellationPenaltyPercent: 30,
			CancellationPenaltyAmount:  types.EUR(600),
			RefundAmount:               types.EUR(1400),
		},
		Error: "gateway capture: timeout",
	}
	svc := &stubBookings{out: out, err: &payment.GatewayError{Op: "capture", Message: "timeout"}}
	r := buildTestRouter(makeVerifier("student-1", ""), svc)
	w := doRequest(r, http.MethodPost, "/api/bookings/0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c/cancel", map[string]any{"reason": "sick"}, "Bearer good")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if svc.lastCmd.Reason != "sick" {
		t.Errorf("reason not forwarded: %q", svc.lastCmd.Reason)
	}
	body := decode(t, w)
	refund, ok := body["refund"].(map[string]any)
	if !ok {
		t.Fatalf("refund missing: %v", body)
	}
	if refund["cancellation_penalty_amount"] != 6.0 || refund["refund_amount"] != 14.0 {
		t.Errorf("unexpected refund: %v", refund)
	}
	if body["error"] == nil {
		t.Errorf("error must be reported next to the refund")
	}
}

func TestGet_ShowsViewerAlert(t *testing.T) {
	view := &booking.View{
		Booking: &booking.Booking{
			ID:             "0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c",
			PassengerID:    "student-1",
			DriverID:       "driver-1",
			Status:         booking.StatusConfirmed,
			Amount:         types.EUR(1000),
			AlertPassenger: true,
		},
		Payment: &payment.Payment{ID: "pay-1", Status: payment.StatusAuthorized, Amount: types.EUR(1000), PlatformFee: types.EUR(150), DriverAmount: types.EUR(850)},
		Events: []booking.Event{
			{FromStatus: booking.StatusPending, ToStatus: booking.StatusConfirmed, ActorType: booking.ActorDriver},
		},
	}
	cases := []struct {
		uid   string
		alert bool
	}{
		{"student-1", true},
		{"driver-1", false},
	}
	for _, tc := range cases {
		r := buildTestRouter(makeVerifier(tc.uid, ""), &stubBookings{view: view})
		w := doRequest(r, http.MethodGet, "/api/bookings/0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c", nil, "Bearer good")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.uid, w.Code)
		}
		body := decode(t, w)
		if body["alert"] != tc.alert {
			t.Errorf("%s: alert = %v, want %v", tc.uid, body["alert"], tc.alert)
		}
		pay := body["payment"].(map[string]any)
		if pay["platform_fee"] != 1.5 {
			t.Errorf("platform_fee = %v", pay["platform_fee"])
		}
		if events := body["events"].([]any); len(events) != 1 {
			t.Errorf("events = %v", events)
		}
	}
}

func TestMarkSeen(t *testing.T) {
	r := buildTestRouter(makeVerifier("student-1", ""), &stubBookings{})
	w := doRequest(r, http.MethodPost, "/api/bookings/0b6f3c1e-8a7d-4f2b-9c55-1d2e3f4a5b6c/seen", nil, "Bearer good")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestListMine_EmptyIsArray(t *testing.T) {
	r := buildTestRouter(makeVerifier("student-1", ""), &stubBookings{})
	w := doRequest(r, http.MethodGet, "/api/bookings", nil, "Bearer good")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if list, ok := decode(t, w)["bookings"].([]any); !ok || len(list) != 0 {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestCompleteRide(t *testing.T) {
	done := pendingOutcome()
	done.Booking.Status = booking.StatusCompleted

	t.Run("all settled", func(t *testing.T) {
		r := buildTestRouter(makeVerifier("driver-1", "driver"), &stubBookings{outs: []booking.Outcome{*done}})
		w := doRequest(r, http.MethodPost, "/api/rides/5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f/complete", nil, "Bearer good")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})
	t.Run("partial failure", func(t *testing.T) {
		svc := &stubBookings{outs: []booking.Outcome{*done}, err: errors.New("booking bk-2: capture failed")}
		r := buildTestRouter(makeVerifier("driver-1", "driver"), svc)
		w := doRequest(r, http.MethodPost, "/api/rides/5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f/complete", nil, "Bearer good")
		if w.Code != http.StatusMultiStatus {
			t.Fatalf("expected 207, got %d", w.Code)
		}
		if list := decode(t, w)["bookings"].([]any); len(list) != 1 {
			t.Errorf("expected the settled booking, got %v", list)
		}
	})
	t.Run("ride not owned", func(t *testing.T) {
		r := buildTestRouter(makeVerifier("driver-2", "driver"), &stubBookings{err: booking.ErrForbidden})
		w := doRequest(r, http.MethodPost, "/api/rides/5f0c2a9e-3b1d-4c7a-8e26-7a9b0c1d2e3f/complete", nil, "Bearer good")
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})
}

package booking

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"carshare/internal/modules/payment"
	"carshare/internal/modules/pricing"
	"carshare/internal/modules/ride"
	"carshare/internal/types"
)

// memWorld is an in-memory Repository, Rides and Accounts.
type memWorld struct {
	mu       sync.Mutex
	now      func() time.Time
	bookings map[types.ID]Booking
	payments map[types.ID][]payment.Payment
	intents  map[string]*Intent
	events   []Event
	rides    map[types.ID]ride.Ride
	accounts map[types.ID]payment.Accounts
	applyErr error
}

func newMemWorld(now func() time.Time) *memWorld {
	return &memWorld{
		now:      now,
		bookings: map[types.ID]Booking{},
		payments: map[types.ID][]payment.Payment{},
		intents:  map[string]*Intent{},
		rides:    map[types.ID]ride.Ride{},
		accounts: map[types.ID]payment.Accounts{},
	}
}

func (w *memWorld) Get(_ context.Context, id types.ID) (*Booking, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (w *memWorld) ListByRide(_ context.Context, rideID types.ID) ([]Booking, error) {
	return w.filter(func(b Booking) bool { return b.RideID == rideID }), nil
}

func (w *memWorld) ListByPassenger(_ context.Context, passengerID types.ID) ([]Booking, error) {
	return w.filter(func(b Booking) bool { return b.PassengerID == passengerID }), nil
}

func (w *memWorld) ListDue(_ context.Context, before time.Time, limit int) ([]Booking, error) {
	out := w.filter(func(b Booking) bool {
		r := w.rides[b.RideID]
		return b.Status == StatusConfirmed && r.DepartureAt.Before(before)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (w *memWorld) filter(keep func(Booking) bool) []Booking {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Booking
	for _, b := range w.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *memWorld) HasActive(_ context.Context, rideID, passengerID types.ID) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasActiveLocked(rideID, passengerID), nil
}

func (w *memWorld) hasActiveLocked(rideID, passengerID types.ID) bool {
	for _, b := range w.bookings {
		if b.RideID == rideID && b.PassengerID == passengerID && b.Active() {
			return true
		}
	}
	return false
}

func (w *memWorld) ActivePayment(_ context.Context, bookingID types.ID) (*payment.Payment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ps := w.payments[bookingID]
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i].Active() {
			p := ps[i]
			return &p, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (w *memWorld) Payment(_ context.Context, id types.ID) (*payment.Payment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ps := range w.payments {
		for _, p := range ps {
			if p.ID == id {
				return &p, nil
			}
		}
	}
	return nil, payment.ErrNotFound
}

func (w *memWorld) payment(bookingID types.ID) payment.Payment {
	w.mu.Lock()
	defer w.mu.Unlock()
	ps := w.payments[bookingID]
	if len(ps) == 0 {
		return payment.Payment{}
	}
	return ps[len(ps)-1]
}

func (w *memWorld) Events(_ context.Context, bookingID types.ID) ([]Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Event
	for _, e := range w.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (w *memWorld) ClearAlert(_ context.Context, id types.ID, party ActorType) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if party == ActorDriver {
		b.AlertDriver = false
	} else {
		b.AlertPassenger = false
	}
	w.bookings[id] = b
	return nil
}

func (w *memWorld) SaveIntent(_ context.Context, in *Intent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saveIntentLocked(in)
}

func (w *memWorld) saveIntentLocked(in *Intent) error {
	if prev, ok := w.intents[in.IdempotencyKey]; ok {
		if prev.Status == IntentConfirmed {
			return ErrConflict
		}
		prev.Status = IntentPending
		in.ID = prev.ID
		in.Payload = prev.Payload
		in.Status = IntentPending
		return nil
	}
	cp := *in
	cp.Status = IntentPending
	w.intents[in.IdempotencyKey] = &cp
	in.Status = IntentPending
	return nil
}

func (w *memWorld) intentByID(id types.ID) *Intent {
	for _, in := range w.intents {
		if in.ID == id {
			return in
		}
	}
	return nil
}

func (w *memWorld) intent(key string) (Intent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	in, ok := w.intents[key]
	if !ok {
		return Intent{}, false
	}
	return *in, true
}

func (w *memWorld) TouchIntent(_ context.Context, id types.ID, lastErr string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if in := w.intentByID(id); in != nil {
		in.Attempts++
		in.LastError = lastErr
		in.UpdatedAt = w.now()
	}
	return nil
}

func (w *memWorld) FailIntent(_ context.Context, id types.ID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if in := w.intentByID(id); in != nil && in.Status == IntentPending {
		in.Status = IntentFailed
		in.Attempts++
		in.LastError = reason
	}
	return nil
}

func (w *memWorld) PendingIntents(_ context.Context, before time.Time, limit int) ([]Intent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Intent
	for _, in := range w.intents {
		if in.Status == IntentPending && in.UpdatedAt.Before(before) {
			out = append(out, *in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (w *memWorld) InFlight(_ context.Context, bookingID types.ID) (*Intent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var oldest *Intent
	for _, in := range w.intents {
		if in.BookingID == bookingID && in.Status == IntentPending && (oldest == nil || in.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = in
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (w *memWorld) RequestInFlight(_ context.Context, rideID, passengerID types.ID) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, in := range w.intents {
		if in.Action == ActionAuthorize && in.Status == IntentPending &&
			in.Payload.RideID == rideID && in.Payload.PassengerID == passengerID {
			return true, nil
		}
	}
	return false, nil
}

func (w *memWorld) FailPayment(_ context.Context, p *payment.Payment, intentID types.ID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replacePaymentLocked(*p)
	if in := w.intentByID(intentID); in != nil {
		in.Status = IntentFailed
		in.Attempts++
		in.LastError = reason
	}
	return nil
}

func (w *memWorld) replacePaymentLocked(p payment.Payment) bool {
	ps := w.payments[p.BookingID]
	for i := range ps {
		if ps[i].ID == p.ID {
			ps[i] = p
			return true
		}
	}
	return false
}

func (w *memWorld) Apply(_ context.Context, m *Mutation) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.applyErr != nil {
		return 0, w.applyErr
	}

	if b := m.Booking; b != nil {
		if m.Create {
			if w.hasActiveLocked(b.RideID, b.PassengerID) {
				return 0, ErrActiveBooking
			}
		} else {
			cur, ok := w.bookings[b.ID]
			if !ok || cur.Status != m.FromStatus || cur.StatusVersion != m.FromVersion {
				return 0, ErrConflict
			}
		}
	}
	r, ok := w.rides[m.RideID]
	if !ok {
		return 0, ride.ErrNotFound
	}
	seats := r.SeatsAvailable + m.SeatDelta
	if seats < 0 || seats > r.SeatsTotal {
		return 0, ErrNoSeats
	}

	if b := m.Booking; b != nil {
		w.bookings[b.ID] = *b
	}
	if e := m.Event; e != nil {
		ev := *e
		ev.ID = int64(len(w.events) + 1)
		w.events = append(w.events, ev)
	}
	r.SeatsAvailable = seats
	w.rides[r.ID] = r
	if p := m.NewPayment; p != nil {
		w.payments[p.BookingID] = append(w.payments[p.BookingID], *p)
	}
	if p := m.Payment; p != nil {
		if !w.replacePaymentLocked(*p) {
			return 0, payment.ErrNotFound
		}
	}
	if in := w.intentByID(m.IntentID); in != nil {
		in.Status = IntentConfirmed
	}
	if m.FollowUp != nil {
		if err := w.saveIntentLocked(m.FollowUp); err != nil {
			return 0, err
		}
	}
	return seats, nil
}

// Rides

func (w *memWorld) ride(id types.ID) ride.Ride {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rides[id]
}

type memRides struct{ w *memWorld }

func (r memRides) Get(_ context.Context, id types.ID) (*ride.Ride, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	rd, ok := r.w.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	return &rd, nil
}

func (r memRides) Complete(_ context.Context, id, driverID types.ID) (*ride.Ride, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	rd, ok := r.w.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	if rd.DriverID != driverID {
		return nil, ride.ErrForbidden
	}
	if rd.Status != ride.StatusScheduled {
		return nil, ride.ErrNotActive
	}
	rd.Status = ride.StatusCompleted
	r.w.rides[id] = rd
	return &rd, nil
}

func (w *memWorld) Accounts(_ context.Context, userID types.ID) (payment.Accounts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	acc := w.accounts[userID]
	acc.UserID = userID
	return acc, nil
}

// fakeGateway records every processor call and keeps the state of each
// processor intent. Ops in fail are refused without effect; ops in lost take
// effect but the caller gets the error. A repeated idempotency key gets the
// first reply back.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []gatewayCall
	fail    map[string]error
	lost    map[string]error
	seq     int
	states  map[string]string
	replies map[string]payment.Intent
}

type gatewayCall struct {
	Op          string
	IntentID    string
	Key         string
	Amount      types.Money
	Fee         types.Money
	Destination string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fail:    map[string]error{},
		lost:    map[string]error{},
		states:  map[string]string{},
		replies: map[string]payment.Intent{},
	}
}

func (g *fakeGateway) record(c gatewayCall) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
	if err := g.fail[c.Op]; err != nil {
		return "", err
	}
	g.seq++
	return fmt.Sprintf("%d", g.seq), nil
}

// process runs an intent-changing call under g.mu.
func (g *fakeGateway) process(c gatewayCall, apply func() (payment.Intent, error)) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
	if err := g.fail[c.Op]; err != nil {
		return nil, err
	}
	it, seen := g.replies[c.Key]
	if !seen {
		var err error
		if it, err = apply(); err != nil {
			return nil, err
		}
		g.replies[c.Key] = it
	}
	if err := g.lost[c.Op]; err != nil {
		return nil, err
	}
	return &it, nil
}

func unexpectedState(op, intentID, state string) error {
	return &payment.GatewayError{
		Op:         op,
		Code:       "payment_intent_unexpected_state",
		Message:    fmt.Sprintf("PaymentIntent %s has status %s", intentID, state),
		HTTPStatus: http.StatusBadRequest,
	}
}

func (g *fakeGateway) setFail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[op] = err
}

func (g *fakeGateway) setLost(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lost[op] = err
}

func (g *fakeGateway) state(intentID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[intentID]
}

func (g *fakeGateway) Calls() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

func (g *fakeGateway) last() gatewayCall {
	calls := g.Calls()
	if len(calls) == 0 {
		return gatewayCall{}
	}
	return calls[len(calls)-1]
}

func (g *fakeGateway) CreateHold(_ context.Context, req payment.HoldRequest) (*payment.Intent, error) {
	c := gatewayCall{Op: "hold", Key: req.IdempotencyKey, Amount: req.Amount, Fee: req.ApplicationFee, Destination: req.DestinationAccountID}
	return g.process(c, func() (payment.Intent, error) {
		g.seq++
		id := fmt.Sprintf("pi_%d", g.seq)
		g.states[id] = "requires_capture"
		return payment.Intent{ID: id, Status: "requires_capture", Amount: req.Amount}, nil
	})
}

func (g *fakeGateway) VoidHold(_ context.Context, intentID, key string) (*payment.Intent, error) {
	return g.process(gatewayCall{Op: "void", IntentID: intentID, Key: key}, func() (payment.Intent, error) {
		if st := g.states[intentID]; st == "succeeded" || st == "canceled" {
			return payment.Intent{}, unexpectedState("void", intentID, st)
		}
		g.states[intentID] = "canceled"
		return payment.Intent{ID: intentID, Status: "canceled"}, nil
	})
}

func (g *fakeGateway) Capture(_ context.Context, intentID string, opts payment.CaptureOptions, key string) (*payment.Intent, error) {
	c := gatewayCall{Op: "capture", IntentID: intentID, Key: key}
	if opts.AmountToCapture != nil {
		c.Amount = *opts.AmountToCapture
	}
	if opts.ApplicationFee != nil {
		c.Fee = *opts.ApplicationFee
	}
	return g.process(c, func() (payment.Intent, error) {
		if st := g.states[intentID]; st == "succeeded" || st == "canceled" {
			return payment.Intent{}, unexpectedState("capture", intentID, st)
		}
		g.states[intentID] = "succeeded"
		return payment.Intent{ID: intentID, Status: "succeeded", AmountCaptured: c.Amount}, nil
	})
}

func (g *fakeGateway) Refund(_ context.Context, intentID string, amount *types.Money, key string) (*payment.Refund, error) {
	c := gatewayCall{Op: "refund", IntentID: intentID, Key: key}
	if amount != nil {
		c.Amount = *amount
	}
	n, err := g.record(c)
	if err != nil {
		return nil, err
	}
	return &payment.Refund{ID: "re_" + n, Amount: c.Amount, Status: "succeeded"}, nil
}

func (g *fakeGateway) Transfer(_ context.Context, amount types.Money, destination, key string) (*payment.Transfer, error) {
	n, err := g.record(gatewayCall{Op: "transfer", Key: key, Amount: amount, Destination: destination})
	if err != nil {
		return nil, err
	}
	return &payment.Transfer{ID: "tr_" + n, Amount: amount, Destination: destination}, nil
}

func (g *fakeGateway) Payout(_ context.Context, amount types.Money, account, key string) (*payment.Payout, error) {
	n, err := g.record(gatewayCall{Op: "payout", Key: key, Amount: amount, Destination: account})
	if err != nil {
		return nil, err
	}
	return &payment.Payout{ID: "po_" + n, Amount: amount, Account: account, Status: "pending"}, nil
}

// recordingPublisher keeps published routing keys.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const (
	testRide      types.ID = "ride-1"
	testDriver    types.ID = "driver-1"
	testPassenger types.ID = "passenger-1"
)

type fixture struct {
	svc   *Service
	world *memWorld
	gw    *fakeGateway
	pub   *recordingPublisher
	clock *testClock
	ride  ride.Ride
}

// newFixture seeds one scheduled ride departing in 48h with 3 seats at
// 10.00 EUR each; both parties have processor accounts.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	world := newMemWorld(clock.Now)
	r := ride.Ride{
		ID:             testRide,
		DriverID:       testDriver,
		DepartureAt:    clock.Now().Add(48 * time.Hour),
		SeatsTotal:     3,
		SeatsAvailable: 3,
		PricePerSeat:   types.EUR(1000),
		Status:         ride.StatusScheduled,
		CreatedAt:      clock.Now(),
	}
	world.rides[r.ID] = r
	world.accounts[testPassenger] = payment.Accounts{CustomerID: "cus_1"}
	world.accounts[testDriver] = payment.Accounts{PayoutID: "acct_1"}

	gw := newFakeGateway()
	pub := &recordingPublisher{}
	svc := NewService(Deps{
		Repo:      world,
		Rides:     memRides{w: world},
		Accounts:  world,
		Gateway:   gw,
		Pricing:   pricing.NewService(func() float64 { return 15 }, pricing.DefaultPenaltyPolicy),
		Publisher: pub,
		Now:       clock.Now,
	})
	return &fixture{svc: svc, world: world, gw: gw, pub: pub, clock: clock, ride: r}
}

func (f *fixture) request(t *testing.T, seats int) *Booking {
	t.Helper()
	out, err := f.svc.Request(context.Background(), RequestCommand{
		RideID:          testRide,
		PassengerID:     testPassenger,
		Seats:           seats,
		PaymentMethodID: "pm_card_visa",
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	return out.Booking
}

func (f *fixture) confirmed(t *testing.T, seats int) *Booking {
	t.Helper()
	b := f.request(t, seats)
	out, err := f.svc.Accept(context.Background(), ActionCommand{BookingID: b.ID, Actor: Actor{ID: testDriver}})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	return out.Booking
}

func (f *fixture) authorizeIntent(t *testing.T) Intent {
	t.Helper()
	f.world.mu.Lock()
	defer f.world.mu.Unlock()
	for _, in := range f.world.intents {
		if in.Action == ActionAuthorize {
			return *in
		}
	}
	t.Fatal("no authorize intent recorded")
	return Intent{}
}

func (f *fixture) opCount(op string) int {
	n := 0
	for _, c := range f.gw.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

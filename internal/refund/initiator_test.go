package refund

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"innkeep/internal/booking"
	"innkeep/internal/delivery"
	"innkeep/internal/escalation"
	"innkeep/internal/notification"
	"innkeep/internal/stafflog"
)

type stubBookings struct {
	mu        sync.Mutex
	bookings  map[string]booking.Booking
	users     map[string]booking.User
	cancelled []string
	released  []string
	getErr    error
	// readGate, when set, holds every read until all parties have loaded the booking.
	readGate *sync.WaitGroup
}

func (s *stubBookings) GetWithPayment(_ context.Context, id string) (booking.Booking, error) {
	s.mu.Lock()
	b, ok := s.bookings[id]
	getErr := s.getErr
	s.mu.Unlock()
	if s.readGate != nil {
		s.readGate.Done()
		s.readGate.Wait()
	}
	if getErr != nil {
		return booking.Booking{}, getErr
	}
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (s *stubBookings) GetUser(_ context.Context, id string) (booking.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return booking.User{}, booking.ErrNotFound
	}
	return u, nil
}

func (s *stubBookings) ClaimCancellation(_ context.Context, id string, from booking.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status != from {
		return booking.ErrNotCancellable
	}
	b.Status = booking.StatusCancelling
	s.bookings[id] = b
	return nil
}

func (s *stubBookings) ReleaseCancellation(_ context.Context, id string, to booking.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, id)
	b := s.bookings[id]
	if b.Status == booking.StatusCancelling {
		b.Status = to
		s.bookings[id] = b
	}
	return nil
}

func (s *stubBookings) MarkCancelled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	b := s.bookings[id]
	b.Status = booking.StatusCancelled
	s.bookings[id] = b
	return nil
}

func (s *stubBookings) status(id string) booking.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id].Status
}

type stubRefunds struct {
	records []Record
	err     error
}

func (s *stubRefunds) Create(_ context.Context, rec Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

type stubStaffLog struct {
	entries []stafflog.Entry
}

func (s *stubStaffLog) Append(_ context.Context, e stafflog.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

type stubGateway struct {
	mu       sync.Mutex
	failures int
	calls    int
	amounts  []booking.Money
	txIDs    []string
}

func (g *stubGateway) ReverseCharge(_ context.Context, amount booking.Money, txID string) (GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.amounts = append(g.amounts, amount)
	g.txIDs = append(g.txIDs, txID)
	if g.calls <= g.failures {
		return GatewayResult{}, errors.New("gateway timeout")
	}
	return GatewayResult{Status: "reversed", Reference: "gw-" + txID}, nil
}

type stubDesk struct {
	refunds []CashRefund
	err     error
}

func (d *stubDesk) NotifyCashRefund(_ context.Context, r CashRefund) error {
	d.refunds = append(d.refunds, r)
	return d.err
}

type stubNotifier struct {
	calls []notification.CancellationData
	users []booking.User
	err   error
}

func (n *stubNotifier) NotifyCancellation(_ context.Context, _ booking.Booking, u booking.User, data notification.CancellationData) (notification.Record, error) {
	n.calls = append(n.calls, data)
	n.users = append(n.users, u)
	return notification.Record{}, n.err
}

type fixture struct {
	bookings  *stubBookings
	refunds   *stubRefunds
	staffLog  *stubStaffLog
	gateway   *stubGateway
	desk      *stubDesk
	notifier  *stubNotifier
	cases     []escalation.Case
	attempts  int
	initiator *Initiator
}

func newFixture(t *testing.T, method booking.PaymentMethod, gatewayFailures int) *fixture {
	t.Helper()
	f := &fixture{
		bookings: &stubBookings{
			bookings: map[string]booking.Booking{
				"booking-1": {
					ID:         "booking-1",
					UserID:     "user-1",
					TotalPrice: booking.Cents(20000),
					Status:     booking.StatusConfirmed,
					Payment:    &booking.Payment{ID: "payment-1", BookingID: "booking-1", Method: method, Amount: booking.Cents(20000)},
					Room:       &booking.Room{ID: "room-1", Number: "204", Type: "double"},
				},
			},
			users: map[string]booking.User{
				"user-1": {ID: "user-1", Email: "guest@example.com", Name: "Ada"},
			},
		},
		refunds:  &stubRefunds{},
		staffLog: &stubStaffLog{},
		gateway:  &stubGateway{failures: gatewayFailures},
		desk:     &stubDesk{},
		notifier: &stubNotifier{},
	}
	exec := delivery.NewExecutor(delivery.DefaultConfig(),
		delivery.WithSleep(func(context.Context, time.Duration) error { return nil }),
		delivery.WithTracker(func(string) func(error) {
			f.attempts++
			return func(error) {}
		}),
	)
	ids := 0
	in, err := NewInitiator(Deps{
		Bookings: f.bookings,
		Refunds:  f.refunds,
		StaffLog: f.staffLog,
		Gateway:  f.gateway,
		Managers: f.desk,
		Notifier: f.notifier,
		Escalations: escalation.SinkFunc(func(_ context.Context, c escalation.Case) error {
			f.cases = append(f.cases, c)
			return nil
		}),
		Executor: exec,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.UnixMilli(1767225600000).UTC() },
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	}, Options{})
	if err != nil {
		t.Fatalf("initiator: %v", err)
	}
	f.initiator = in
	return f
}

func cancellation(penalty int64) booking.CancellationRequest {
	return booking.CancellationRequest{BookingID: "booking-1", Penalty: booking.Cents(penalty), Reason: "change of plans"}
}

func TestInitiate_CreditCardProcessed(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 0)

	res, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(2000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !res.Success || res.Status != StatusProcessed || res.Amount != booking.Cents(18000) {
		t.Fatalf("unexpected result %+v", res)
	}
	if !regexp.MustCompile(`^REF-1767225600000-[0-9a-f]{8}$`).MatchString(res.TransactionID) {
		t.Fatalf("unexpected transaction id %s", res.TransactionID)
	}

	if f.gateway.calls != 1 || f.gateway.amounts[0] != booking.Cents(18000) || f.gateway.txIDs[0] != res.TransactionID {
		t.Fatalf("unexpected gateway calls %+v", f.gateway)
	}
	if len(f.refunds.records) != 1 {
		t.Fatalf("expected one refund record, got %d", len(f.refunds.records))
	}
	rec := f.refunds.records[0]
	if rec.Amount.String() != "180.00" || rec.Status != StatusProcessed || rec.PaymentMethod != booking.PaymentCreditCard {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Details.GatewayRef != "gw-"+res.TransactionID || rec.Details.Penalty != booking.Cents(2000) || rec.Details.Reason != "change of plans" {
		t.Fatalf("unexpected details %+v", rec.Details)
	}
	if f.bookings.bookings["booking-1"].Status != booking.StatusCancelled {
		t.Fatalf("booking must be cancelled")
	}

	if len(f.staffLog.entries) != 1 || f.staffLog.entries[0].Type != stafflog.TypeRefundProcessed || f.staffLog.entries[0].ActorID != "user-1" {
		t.Fatalf("unexpected staff log %+v", f.staffLog.entries)
	}
	if len(f.notifier.calls) != 1 {
		t.Fatalf("expected guest notification")
	}
	data := f.notifier.calls[0]
	if data.RefundAmount != booking.Cents(18000) || data.ProcessingTime != "5-7 business days" || data.SupportContact != DefaultSupportContact || data.RoomNumber != "204" {
		t.Fatalf("unexpected notification data %+v", data)
	}
	if f.notifier.users[0].Email != "guest@example.com" {
		t.Fatalf("notification must go to the booking's guest")
	}
	if len(f.cases) != 0 {
		t.Fatalf("no escalation expected")
	}
}

func TestInitiate_GatewayExhaustedEscalatesOnce(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 3)

	_, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(2000))
	if !errors.Is(err, ErrRefundProcessingFailed) {
		t.Fatalf("expected ErrRefundProcessingFailed, got %v", err)
	}
	var perr *ProcessingError
	if !errors.As(err, &perr) || perr.Amount != booking.Cents(18000) {
		t.Fatalf("expected ProcessingError with amount, got %v", err)
	}
	if !errors.Is(err, delivery.ErrExhausted) {
		t.Fatalf("expected exhausted cause, got %v", err)
	}

	if f.gateway.calls != 3 {
		t.Fatalf("expected 3 gateway attempts, got %d", f.gateway.calls)
	}
	if len(f.refunds.records) != 0 {
		t.Fatalf("no refund record may be persisted on exhaustion")
	}
	if len(f.bookings.cancelled) != 0 {
		t.Fatalf("booking must not be cancelled on exhaustion")
	}
	if got := f.bookings.status("booking-1"); got != booking.StatusConfirmed {
		t.Fatalf("claim must be released on exhaustion, status %s", got)
	}
	if len(f.bookings.released) != 1 {
		t.Fatalf("expected one release, got %v", f.bookings.released)
	}
	if len(f.cases) != 1 {
		t.Fatalf("expected exactly one escalation, got %d", len(f.cases))
	}
	c := f.cases[0]
	if c.Kind != escalation.KindRefund || c.Amount.String() != "180.00" || c.PaymentID != "payment-1" || c.LastError != "gateway timeout" {
		t.Fatalf("unexpected case %+v", c)
	}
	if c.TransactionID != perr.TransactionID {
		t.Fatalf("case and error must share the transaction id")
	}
	if len(f.staffLog.entries) != 1 || f.staffLog.entries[0].Type != stafflog.TypeRefundEscalated {
		t.Fatalf("expected refund_escalated entry, got %+v", f.staffLog.entries)
	}
	if len(f.notifier.calls) != 0 {
		t.Fatalf("guest must not be notified of a refund that did not happen")
	}
}

func TestInitiate_SucceedsOnSecondAttempt(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 1)

	res, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(0))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if f.gateway.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", f.gateway.calls)
	}
	if f.gateway.txIDs[0] != f.gateway.txIDs[1] {
		t.Fatalf("retries must reuse the transaction id")
	}
	if res.Amount != booking.Cents(20000) {
		t.Fatalf("zero penalty refunds the total, got %s", res.Amount)
	}
}

func TestInitiate_CashIsPendingManual(t *testing.T) {
	f := newFixture(t, booking.PaymentCash, 0)

	res, err := f.initiator.Initiate(context.Background(), "booking-1", "staff-2", cancellation(5000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.Status != StatusPendingManual {
		t.Fatalf("cash refunds must be PENDING_MANUAL, got %s", res.Status)
	}
	if len(f.desk.refunds) != 1 {
		t.Fatalf("expected a single manager notification, got %d", len(f.desk.refunds))
	}
	if f.gateway.calls != 0 {
		t.Fatalf("cash refunds must not reach the gateway")
	}
	cash := f.desk.refunds[0]
	if cash.Amount != booking.Cents(15000) || cash.RoomNumber != "204" || cash.TransactionID != res.TransactionID {
		t.Fatalf("unexpected cash refund %+v", cash)
	}
	if f.refunds.records[0].Status != StatusPendingManual {
		t.Fatalf("unexpected record status %s", f.refunds.records[0].Status)
	}
	if !strings.Contains(f.notifier.calls[0].ProcessingTime, "front desk") {
		t.Fatalf("cash refunds describe manual processing, got %q", f.notifier.calls[0].ProcessingTime)
	}
}

func TestInitiate_FailsFastWithoutAttempts(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(f *fixture)
		penalty int64
		want    error
	}{
		{name: "missing booking", setup: func(f *fixture) { delete(f.bookings.bookings, "booking-1") }, want: ErrBookingNotFound},
		{name: "missing payment", setup: func(f *fixture) {
			b := f.bookings.bookings["booking-1"]
			b.Payment = nil
			f.bookings.bookings["booking-1"] = b
		}, want: ErrBookingNotFound},
		{name: "missing room", setup: func(f *fixture) {
			b := f.bookings.bookings["booking-1"]
			b.Room = nil
			f.bookings.bookings["booking-1"] = b
		}, want: ErrBookingNotFound},
		{name: "unsupported method", setup: func(f *fixture) {
			b := f.bookings.bookings["booking-1"]
			b.Payment.Method = booking.PaymentMethod("paypal")
			f.bookings.bookings["booking-1"] = b
		}, want: ErrUnsupportedPaymentMethod},
		{name: "already cancelled", setup: func(f *fixture) {
			b := f.bookings.bookings["booking-1"]
			b.Status = booking.StatusCancelled
			f.bookings.bookings["booking-1"] = b
		}, want: ErrBookingAlreadyCancelled},
		{name: "cancellation in progress", setup: func(f *fixture) {
			b := f.bookings.bookings["booking-1"]
			b.Status = booking.StatusCancelling
			f.bookings.bookings["booking-1"] = b
		}, want: ErrBookingAlreadyCancelled},
		{name: "penalty above total", penalty: 20001, want: ErrPenaltyExceedsTotal},
		{name: "negative penalty", penalty: -1, want: ErrInvalidPenalty},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, booking.PaymentCreditCard, 0)
			if tc.setup != nil {
				tc.setup(f)
			}
			_, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(tc.penalty))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.attempts != 0 {
				t.Fatalf("expected zero attempts, got %d", f.attempts)
			}
			if len(f.cases) != 0 || len(f.refunds.records) != 0 || len(f.staffLog.entries) != 0 {
				t.Fatalf("fail-fast paths must have no side effects")
			}
		})
	}
}

func TestInitiate_NotificationFailureDoesNotFailRefund(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 0)
	f.notifier.err = notification.ErrNotificationDeliveryFailed

	res, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(0))
	if err != nil {
		t.Fatalf("refund must succeed despite notification failure: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInitiate_PersistFailureSurfaces(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 0)
	f.refunds.err = ErrDuplicateTransaction

	_, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(0))
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if len(f.bookings.cancelled) != 0 {
		t.Fatalf("booking must stay active when the record was not written")
	}
	// The money moved, so the claim stays until staff reconcile.
	if got := f.bookings.status("booking-1"); got != booking.StatusCancelling {
		t.Fatalf("expected claim to be kept, status %s", got)
	}
}

func TestInitiate_ConcurrentCancellationsRefundOnce(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 0)
	gate := &sync.WaitGroup{}
	gate.Add(2)
	f.bookings.readGate = gate

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for idx := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(2000))
		}(idx)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrBookingAlreadyCancelled):
			rejected++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected one refund and one rejection, got errs=%v", errs)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("expected one gateway call, got %d", f.gateway.calls)
	}
	if len(f.refunds.records) != 1 || f.refunds.records[0].Amount != booking.Cents(18000) {
		t.Fatalf("expected a single 180.00 record, got %+v", f.refunds.records)
	}
	if got := f.bookings.status("booking-1"); got != booking.StatusCancelled {
		t.Fatalf("expected cancelled booking, got %s", got)
	}
}

func TestInitiate_ClaimErrorIsWrapped(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 0)
	store := &failingClaim{stubBookings: f.bookings, err: errors.New("deadlock detected")}
	f.initiator.bookings = store

	_, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(0))
	if err == nil || errors.Is(err, ErrBookingAlreadyCancelled) || !strings.Contains(err.Error(), "deadlock detected") {
		t.Fatalf("expected wrapped claim error, got %v", err)
	}
	if f.attempts != 0 {
		t.Fatalf("no dispatch without a claim, got %d attempts", f.attempts)
	}
}

type failingClaim struct {
	*stubBookings
	err error
}

func (s *failingClaim) ClaimCancellation(context.Context, string, booking.Status) error {
	return s.err
}

func TestInitiate_LoadErrorIsWrapped(t *testing.T) {
	f := newFixture(t, booking.PaymentCreditCard, 0)
	f.bookings.getErr = errors.New("connection reset")

	_, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", cancellation(0))
	if err == nil || errors.Is(err, ErrBookingNotFound) || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
}

func TestRefundArithmeticIsExact(t *testing.T) {
	totals := []string{"200.00", "0.30", "99.99", "1234.56", "0.10"}
	penalties := []string{"20.00", "0.10", "0.99", "0.01", "0.10"}
	want := []string{"180.00", "0.20", "99.00", "1234.55", "0.00"}

	for idx := range totals {
		total, err := booking.ParseMoney(totals[idx])
		if err != nil {
			t.Fatalf("parse total: %v", err)
		}
		penalty, err := booking.ParseMoney(penalties[idx])
		if err != nil {
			t.Fatalf("parse penalty: %v", err)
		}

		f := newFixture(t, booking.PaymentCreditCard, 0)
		b := f.bookings.bookings["booking-1"]
		b.TotalPrice = total
		f.bookings.bookings["booking-1"] = b

		res, err := f.initiator.Initiate(context.Background(), "booking-1", "user-1", booking.CancellationRequest{Penalty: penalty})
		if err != nil {
			t.Fatalf("initiate %s-%s: %v", totals[idx], penalties[idx], err)
		}
		if res.Amount.String() != want[idx] {
			t.Fatalf("%s - %s: expected %s, got %s", totals[idx], penalties[idx], want[idx], res.Amount)
		}
	}
}

func TestNewInitiator_RequiresCollaborators(t *testing.T) {
	if _, err := NewInitiator(Deps{}, Options{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}

func TestDetailsRoundTrip(t *testing.T) {
	raw, err := Details{GatewayRef: "gw-1", Penalty: booking.Cents(150)}.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d, err := UnmarshalDetails(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.GatewayRef != "gw-1" || d.Penalty != booking.Cents(150) {
		t.Fatalf("unexpected details %+v", d)
	}
	if d, err := UnmarshalDetails(nil); err != nil || d != (Details{}) {
		t.Fatalf("empty details should decode to zero value")
	}
}

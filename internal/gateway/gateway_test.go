package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"innkeep/internal/booking"
	"innkeep/internal/delivery"
	"innkeep/internal/refund"
)

func TestMockGateway_FailuresThenIdempotentReversal(t *testing.T) {
	g := NewMockGateway()
	g.FailNext(1)
	ctx := context.Background()

	if _, err := g.ReverseCharge(ctx, booking.Cents(18000), "REF-1"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	res, err := g.ReverseCharge(ctx, booking.Cents(18000), "REF-1")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if res.Status != "succeeded" || res.Reference != "mock_REF-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := g.ReverseCharge(ctx, booking.Cents(1), "REF-1"); err != nil {
		t.Fatalf("repeat reverse: %v", err)
	}
	amount, ok := g.Reversed("REF-1")
	if !ok || amount != booking.Cents(18000) {
		t.Fatalf("first reversal must stick, got %s", amount)
	}
	if g.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", g.Calls())
	}
}

type countingGateway struct {
	calls int
	err   error
}

func (c *countingGateway) ReverseCharge(context.Context, booking.Money, string) (refund.GatewayResult, error) {
	c.calls++
	return refund.GatewayResult{Status: "ok"}, c.err
}

func TestReliableGateway_BreakerOpensAfterFailures(t *testing.T) {
	now := time.Unix(0, 0)
	base := &countingGateway{err: errors.New("boom")}
	breaker := delivery.NewCircuitBreaker(delivery.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		Now:          func() time.Time { return now },
	})
	g := NewReliableGateway(base, nil, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.ReverseCharge(ctx, booking.Cents(100), "REF-1"); err == nil {
			t.Fatalf("expected base error")
		}
	}
	if _, err := g.ReverseCharge(ctx, booking.Cents(100), "REF-1"); !errors.Is(err, delivery.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("open breaker must not reach the gateway, got %d calls", base.calls)
	}

	now = now.Add(time.Minute)
	base.err = nil
	res, err := g.ReverseCharge(ctx, booking.Cents(100), "REF-1")
	if err != nil || res.Status != "ok" {
		t.Fatalf("half-open trial should pass, got %+v %v", res, err)
	}
}

func TestReliableGateway_LimiterHonoursContext(t *testing.T) {
	base := &countingGateway{}
	limiter := delivery.NewRateLimiter(time.Hour, 1, nil)
	g := NewReliableGateway(base, limiter, nil)

	if _, err := g.ReverseCharge(context.Background(), booking.Cents(100), "REF-1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.ReverseCharge(ctx, booking.Cents(100), "REF-2"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("limited call must not reach the gateway")
	}
}

type recordingPusher struct {
	channel string
	payload []byte
	err     error
}

func (p *recordingPusher) Push(_ context.Context, channel string, payload []byte) error {
	p.channel = channel
	p.payload = payload
	return p.err
}

func TestFrontDesk_PushesCashRefund(t *testing.T) {
	pusher := &recordingPusher{}
	desk := NewFrontDesk(pusher, "", zerolog.Nop())

	err := desk.NotifyCashRefund(context.Background(), refund.CashRefund{
		BookingID:     "booking-1",
		RoomNumber:    "204",
		Amount:        booking.Cents(5000),
		TransactionID: "REF-1",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if pusher.channel != DeskChannel {
		t.Fatalf("unexpected channel %s", pusher.channel)
	}
	var alert map[string]any
	if err := json.Unmarshal(pusher.payload, &alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert["kind"] != "cash_refund" || alert["amount"] != "50.00" || alert["room_number"] != "204" {
		t.Fatalf("unexpected alert %v", alert)
	}

	pusher.err = errors.New("hub closed")
	if err := desk.NotifyCashRefund(context.Background(), refund.CashRefund{}); err == nil {
		t.Fatalf("push failure must surface so the refund executor retries")
	}
	if err := NewFrontDesk(nil, "", zerolog.Nop()).NotifyCashRefund(context.Background(), refund.CashRefund{}); err != nil {
		t.Fatalf("log-only desk: %v", err)
	}
}

// Package gateway holds the payment gateway and manager desk collaborators of the refund flow.
package gateway

import (
	"context"
	"errors"
	"sync"

	"innkeep/internal/booking"
	"innkeep/internal/refund"
)

// ErrGatewayUnavailable is returned by MockGateway while injected failures remain.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// MockGateway reverses charges in memory. Reversals are keyed by transaction id, so a
// retried reversal with the same id is applied once.
type MockGateway struct {
	mu        sync.Mutex
	failNext  int
	calls     int
	reversals map[string]booking.Money
}

func NewMockGateway() *MockGateway {
	return &MockGateway{reversals: make(map[string]booking.Money)}
}

// FailNext makes the next n calls fail with ErrGatewayUnavailable.
func (g *MockGateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

func (g *MockGateway) ReverseCharge(ctx context.Context, amount booking.Money, transactionID string) (refund.GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return refund.GatewayResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failNext > 0 {
		g.failNext--
		return refund.GatewayResult{}, ErrGatewayUnavailable
	}
	if _, ok := g.reversals[transactionID]; !ok {
		g.reversals[transactionID] = amount
	}
	return refund.GatewayResult{Status: "succeeded", Reference: "mock_" + transactionID}, nil
}

// Reversed returns the amount reversed under transactionID (for testing/inspection).
func (g *MockGateway) Reversed(transactionID string) (booking.Money, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amount, ok := g.reversals[transactionID]
	return amount, ok
}

// Calls reports how many reversals were requested, including failed ones.
func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

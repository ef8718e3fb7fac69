package gateway

import (
	"context"

	"innkeep/internal/booking"
	"innkeep/internal/delivery"
	"innkeep/internal/refund"
)

// ReliableGateway guards a gateway with a rate limiter and a circuit breaker. It does
// not retry; the refund executor owns the attempt budget.
type ReliableGateway struct {
	base    refund.Gateway
	limiter *delivery.RateLimiter
	breaker *delivery.CircuitBreaker
}

func NewReliableGateway(base refund.Gateway, limiter *delivery.RateLimiter, breaker *delivery.CircuitBreaker) *ReliableGateway {
	return &ReliableGateway{
		base:    base,
		limiter: limiter,
		breaker: breaker,
	}
}

func (g *ReliableGateway) ReverseCharge(ctx context.Context, amount booking.Money, transactionID string) (refund.GatewayResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return refund.GatewayResult{}, err
	}
	var res refund.GatewayResult
	err := g.breaker.Execute(func() error {
		var err error
		res, err = g.base.ReverseCharge(ctx, amount, transactionID)
		return err
	})
	return res, err
}

package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"innkeep/internal/refund"
)

// DeskChannel is the in-app channel front desk managers subscribe to.
const DeskChannel = "front-desk"

// Pusher delivers a payload to an in-app channel.
type Pusher interface {
	Push(ctx context.Context, userID string, payload []byte) error
}

// FrontDesk alerts managers about cash refunds they must pay out by hand.
type FrontDesk struct {
	pusher  Pusher
	channel string
	logger  zerolog.Logger
}

// NewFrontDesk pushes to channel, or DeskChannel when empty. A nil pusher only logs.
func NewFrontDesk(pusher Pusher, channel string, logger zerolog.Logger) *FrontDesk {
	if channel == "" {
		channel = DeskChannel
	}
	return &FrontDesk{pusher: pusher, channel: channel, logger: logger}
}

type cashRefundAlert struct {
	Kind string `json:"kind"`
	refund.CashRefund
}

func (d *FrontDesk) NotifyCashRefund(ctx context.Context, r refund.CashRefund) error {
	d.logger.Info().
		Str("booking_id", r.BookingID).
		Str("transaction_id", r.TransactionID).
		Str("room", r.RoomNumber).
		Str("amount", r.Amount.String()).
		Msg("cash refund awaiting manager")
	if d.pusher == nil {
		return nil
	}
	payload, err := json.Marshal(cashRefundAlert{Kind: "cash_refund", CashRefund: r})
	if err != nil {
		return err
	}
	return d.pusher.Push(ctx, d.channel, payload)
}

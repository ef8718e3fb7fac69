// Package escalation hands cases that exhausted automated retries over to staff.
package escalation

import (
	"context"
	"errors"
	"time"

	"innkeep/internal/booking"
)

type Kind string

const (
	KindRefund       Kind = "refund"
	KindNotification Kind = "notification"
)

// Case is the context staff need to finish the work by hand.
type Case struct {
	ID             string        `json:"id"`
	Kind           Kind          `json:"kind"`
	BookingID      string        `json:"booking_id"`
	UserID         string        `json:"user_id,omitempty"`
	PaymentID      string        `json:"payment_id,omitempty"`
	NotificationID string        `json:"notification_id,omitempty"`
	Amount         booking.Money `json:"amount"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	Attempts       int           `json:"attempts"`
	LastError      string        `json:"last_error"`
	At             time.Time     `json:"at"`
}

// Sink records a case. Callers do not retry a failed Record.
type Sink interface {
	Record(ctx context.Context, c Case) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Case) error

func (f SinkFunc) Record(ctx context.Context, c Case) error { return f(ctx, c) }

// MultiSink records to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink skips nil sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Record forwards the case to every sink, collecting errors so all sinks get a chance to write.
func (m *MultiSink) Record(ctx context.Context, c Case) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

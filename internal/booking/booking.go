// Package booking holds the hotel booking types the refund and notification flows read.
package booking

import (
	"errors"
	"fmt"
	"time"
)

// Status captures the lifecycle of a booking.
type Status string

const (
	StatusConfirmed  Status = "confirmed"
	// StatusCancelling marks a booking whose refund is being dispatched.
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
)

// PaymentMethod is how the guest paid for the booking.
type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentCash       PaymentMethod = "cash"
)

// ErrNotFound signals a missing booking or user.
var ErrNotFound = errors.New("not found")

// ErrNotCancellable signals that a booking is no longer in the status a
// cancellation claim expected.
var ErrNotCancellable = errors.New("booking not cancellable")

// ErrUnknownPaymentMethod signals a payment method outside the supported set.
var ErrUnknownPaymentMethod = errors.New("unknown payment method")

// ParsePaymentMethod validates a stored payment method string.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch m := PaymentMethod(raw); m {
	case PaymentCreditCard, PaymentCash:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, raw)
}

type Room struct {
	ID     string
	Number string
	Type   string
}

type Payment struct {
	ID        string
	BookingID string
	// Method is kept as stored; callers validate it with ParsePaymentMethod.
	Method    PaymentMethod
	Amount    Money
	ChargeRef string
}

type Booking struct {
	ID         string
	UserID     string
	TotalPrice Money
	Status     Status
	CheckIn    time.Time
	CheckOut   time.Time
	Payment    *Payment
	Room       *Room
}

type User struct {
	ID    string
	Email string
	Name  string
}

// CancellationRequest is produced by the cancellation flow; a zero Penalty means none.
type CancellationRequest struct {
	BookingID string
	Penalty   Money
	Reason    string
}

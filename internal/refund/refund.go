// Package refund turns a booking cancellation into a refund outcome.
package refund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"innkeep/internal/booking"
	"innkeep/internal/notification"
)

type Status string

const (
	StatusProcessed     Status = "PROCESSED"
	StatusPendingManual Status = "PENDING_MANUAL"
	// StatusFailed is set by staff tooling when an escalated refund is abandoned.
	StatusFailed Status = "FAILED"
)

// ParseStatus validates a stored status string.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusProcessed, StatusPendingManual, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown refund status %q", raw)
}

var (
	ErrBookingNotFound          = errors.New("booking not found")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrPenaltyExceedsTotal      = errors.New("penalty exceeds booking total")
	ErrBookingAlreadyCancelled  = errors.New("booking already cancelled")
	ErrRefundProcessingFailed   = errors.New("refund processing failed")
	ErrDuplicateTransaction     = errors.New("duplicate refund transaction id")
)

// ProcessingError is returned once refund dispatch exhausted its attempts and the
// case was escalated.
type ProcessingError struct {
	BookingID     string
	TransactionID string
	Amount        booking.Money
	Err           error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("refund %s for booking %s (%s): %v", e.TransactionID, e.BookingID, e.Amount, e.Err)
}

func (e *ProcessingError) Is(target error) bool { return target == ErrRefundProcessingFailed }

func (e *ProcessingError) Unwrap() error { return e.Err }

// Details is the typed form of the record's details blob.
type Details struct {
	GatewayStatus string        `json:"gateway_status,omitempty"`
	GatewayRef    string        `json:"gateway_ref,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Penalty       booking.Money `json:"penalty"`
	ActorID       string        `json:"actor_id,omitempty"`
}

// Marshal encodes the details for storage.
func (d Details) Marshal() ([]byte, error) { return json.Marshal(d) }

// UnmarshalDetails decodes a stored details blob.
func UnmarshalDetails(raw []byte) (Details, error) {
	var d Details
	if len(raw) == 0 {
		return d, nil
	}
	err := json.Unmarshal(raw, &d)
	return d, err
}

// Record is written once per successful refund dispatch and never updated.
type Record struct {
	ID            string
	BookingID     string
	Amount        booking.Money
	TransactionID string
	Status        Status
	PaymentMethod booking.PaymentMethod
	ProcessedAt   time.Time
	Details       Details
}

// Result is returned to the caller of Initiate.
type Result struct {
	Success       bool          `json:"success"`
	TransactionID string        `json:"refund_transaction_id"`
	Amount        booking.Money `json:"amount"`
	Status        Status        `json:"status"`
}

// BookingStore reads bookings with their payment and room and cancels them.
// ClaimCancellation is a compare-and-set from the given status to cancelling and
// fails with booking.ErrNotCancellable when another caller got there first.
type BookingStore interface {
	GetWithPayment(ctx context.Context, bookingID string) (booking.Booking, error)
	GetUser(ctx context.Context, userID string) (booking.User, error)
	ClaimCancellation(ctx context.Context, bookingID string, from booking.Status) error
	ReleaseCancellation(ctx context.Context, bookingID string, to booking.Status) error
	MarkCancelled(ctx context.Context, bookingID string) error
}

// RecordStore persists refund records. Create fails with ErrDuplicateTransaction
// when the transaction id already exists.
type RecordStore interface {
	Create(ctx context.Context, rec Record) error
}

// GatewayResult is the payment gateway's answer to a reversal.
type GatewayResult struct {
	Status    string
	Reference string
}

// Gateway reverses card charges.
type Gateway interface {
	ReverseCharge(ctx context.Context, amount booking.Money, transactionID string) (GatewayResult, error)
}

// CashRefund is what a manager needs to pay a guest back by hand.
type CashRefund struct {
	BookingID     string        `json:"booking_id"`
	PaymentID     string        `json:"payment_id"`
	UserID        string        `json:"user_id"`
	RoomNumber    string        `json:"room_number"`
	Amount        booking.Money `json:"amount"`
	TransactionID string        `json:"transaction_id"`
}

// ManagerDesk alerts a human operator about a cash refund.
type ManagerDesk interface {
	NotifyCashRefund(ctx context.Context, r CashRefund) error
}

// GuestNotifier informs the guest of the refund outcome.
type GuestNotifier interface {
	NotifyCancellation(ctx context.Context, b booking.Booking, u booking.User, data notification.CancellationData) (notification.Record, error)
}

// Package notification delivers booking-event notifications to guests in-app and by email.
package notification

import (
	"context"
	"errors"
	"time"

	"innkeep/internal/booking"
)

// Type identifies the booking event a notification describes.
type Type string

const (
	TypeBookingCancellation Type = "BOOKING_CANCELLATION"
)

// Status is the delivery state of a Record. SENT and FAILED are terminal per delivery run.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// ParseStatus validates a stored status string.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusSent, StatusFailed:
		return s, nil
	}
	return "", errors.New("unknown notification status: " + raw)
}

var (
	ErrNotificationNotFound       = errors.New("notification not found")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrMissingRecipient           = errors.New("user has no email address")
	ErrStaffRequired              = errors.New("staff id required")
)

// Record is the durable delivery state of one notification. Data holds the JSON
// encoding of the event payload, e.g. CancellationData.
type Record struct {
	ID        string
	Type      Type
	UserID    string
	BookingID string
	Status    Status
	Attempts  int
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CancellationData is the payload of a BOOKING_CANCELLATION notification.
type CancellationData struct {
	RefundAmount   booking.Money `json:"refund_amount"`
	Penalty        booking.Money `json:"penalty"`
	ProcessingTime string        `json:"processing_time"`
	TransactionID  string        `json:"transaction_id"`
	SupportContact string        `json:"support_contact"`
	RoomNumber     string        `json:"room_number,omitempty"`
	GuestName      string        `json:"guest_name,omitempty"`
}

// Store persists notification records.
type Store interface {
	Create(ctx context.Context, rec Record) error
	UpdateStatus(ctx context.Context, id string, status Status, attempts int) error
	Get(ctx context.Context, id string) (Record, error)
}

// Transport sends an email and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, to, subject, html string) (string, error)
}

// InApp pushes a payload to the user's in-app channel.
type InApp interface {
	Push(ctx context.Context, userID string, payload []byte) error
}

// UserDirectory resolves the recipient of a stored notification.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (booking.User, error)
}

// Package memstore keeps bookings, refunds, notifications and the staff log in memory.
// It backs local runs without Postgres and end-to-end tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"innkeep/internal/booking"
	"innkeep/internal/notification"
	"innkeep/internal/refund"
	"innkeep/internal/stafflog"
)

// Bookings holds bookings and users.
type Bookings struct {
	mu       sync.Mutex
	bookings map[string]booking.Booking
	users    map[string]booking.User
}

func NewBookings() *Bookings {
	return &Bookings{
		bookings: make(map[string]booking.Booking),
		users:    make(map[string]booking.User),
	}
}

// PutBooking stores b, replacing any booking with the same id.
func (s *Bookings) PutBooking(b booking.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = cloneBooking(b)
}

func (s *Bookings) PutUser(u booking.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Bookings) GetWithPayment(_ context.Context, bookingID string) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (s *Bookings) GetUser(_ context.Context, userID string) (booking.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return booking.User{}, booking.ErrNotFound
	}
	return u, nil
}

func (s *Bookings) ClaimCancellation(_ context.Context, bookingID string, from booking.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok || b.Status != from {
		return fmt.Errorf("booking %s: %w", bookingID, booking.ErrNotCancellable)
	}
	b.Status = booking.StatusCancelling
	s.bookings[bookingID] = b
	return nil
}

func (s *Bookings) ReleaseCancellation(_ context.Context, bookingID string, to booking.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if ok && b.Status == booking.StatusCancelling {
		b.Status = to
		s.bookings[bookingID] = b
	}
	return nil
}

func (s *Bookings) MarkCancelled(_ context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, booking.ErrNotFound)
	}
	b.Status = booking.StatusCancelled
	s.bookings[bookingID] = b
	return nil
}

func cloneBooking(b booking.Booking) booking.Booking {
	if b.Payment != nil {
		p := *b.Payment
		b.Payment = &p
	}
	if b.Room != nil {
		r := *b.Room
		b.Room = &r
	}
	return b
}

// Refunds holds refund records keyed by transaction id.
type Refunds struct {
	mu      sync.Mutex
	records map[string]refund.Record
}

func NewRefunds() *Refunds {
	return &Refunds{records: make(map[string]refund.Record)}
}

func (s *Refunds) Create(_ context.Context, rec refund.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.TransactionID]; ok {
		return refund.ErrDuplicateTransaction
	}
	s.records[rec.TransactionID] = rec
	return nil
}

func (s *Refunds) ListByBooking(_ context.Context, bookingID string) ([]refund.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []refund.Record
	for _, rec := range s.records {
		if rec.BookingID == bookingID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	return out, nil
}

// Notifications holds notification records.
type Notifications struct {
	mu      sync.Mutex
	records map[string]notification.Record
}

func NewNotifications() *Notifications {
	return &Notifications{records: make(map[string]notification.Record)}
}

func (s *Notifications) Create(_ context.Context, rec notification.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("notification %s already exists", rec.ID)
	}
	rec.Data = append([]byte(nil), rec.Data...)
	s.records[rec.ID] = rec
	return nil
}

func (s *Notifications) UpdateStatus(_ context.Context, id string, status notification.Status, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return notification.ErrNotificationNotFound
	}
	rec.Status = status
	rec.Attempts = attempts
	s.records[id] = rec
	return nil
}

func (s *Notifications) Get(_ context.Context, id string) (notification.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return notification.Record{}, notification.ErrNotificationNotFound
	}
	return rec, nil
}

// StaffLog is an append-only slice of entries.
type StaffLog struct {
	mu      sync.Mutex
	entries []stafflog.Entry
}

func NewStaffLog() *StaffLog {
	return &StaffLog{}
}

func (s *StaffLog) Append(_ context.Context, entry stafflog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the log in append order.
func (s *StaffLog) Entries() []stafflog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stafflog.Entry(nil), s.entries...)
}

package hoteldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"innkeep/internal/booking"
)

// BookingStore reads bookings, their payment and room, and the booking's guest.
type BookingStore struct {
	db *sql.DB
}

func NewBookingStore(db *sql.DB) *BookingStore {
	return &BookingStore{db: db}
}

// NewBookingStoreWithSchema initializes the schema then returns the store.
func NewBookingStoreWithSchema(ctx context.Context, db *sql.DB) (*BookingStore, error) {
	store := NewBookingStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the users, rooms, bookings and payments tables if they do not exist.
func (s *BookingStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			number TEXT NOT NULL,
			room_type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			room_id TEXT REFERENCES rooms(id),
			total_price_cents BIGINT NOT NULL,
			status TEXT NOT NULL,
			check_in DATE NOT NULL,
			check_out DATE NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			booking_id TEXT UNIQUE NOT NULL REFERENCES bookings(id),
			method TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			charge_ref TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetWithPayment loads a booking with its payment and room. Payment or Room is nil
// when the booking has none.
func (s *BookingStore) GetWithPayment(ctx context.Context, bookingID string) (booking.Booking, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.user_id, b.total_price_cents, b.status, b.check_in, b.check_out,
			p.id, p.method, p.amount_cents, p.charge_ref,
			r.id, r.number, r.room_type
		FROM bookings b
		LEFT JOIN payments p ON p.booking_id = b.id
		LEFT JOIN rooms r ON r.id = b.room_id
		WHERE b.id = $1`,
		bookingID,
	)

	var (
		b                            booking.Booking
		total                        int64
		status                       string
		paymentID, method, chargeRef sql.NullString
		paymentAmount                sql.NullInt64
		roomID, roomNumber, roomType sql.NullString
	)
	err := row.Scan(&b.ID, &b.UserID, &total, &status, &b.CheckIn, &b.CheckOut,
		&paymentID, &method, &paymentAmount, &chargeRef,
		&roomID, &roomNumber, &roomType)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.Booking{}, err
	}

	b.TotalPrice = booking.Cents(total)
	b.Status = booking.Status(status)
	if paymentID.Valid {
		b.Payment = &booking.Payment{
			ID:        paymentID.String,
			BookingID: b.ID,
			Method:    booking.PaymentMethod(method.String),
			Amount:    booking.Cents(paymentAmount.Int64),
			ChargeRef: chargeRef.String,
		}
	}
	if roomID.Valid {
		b.Room = &booking.Room{ID: roomID.String, Number: roomNumber.String, Type: roomType.String}
	}
	return b, nil
}

func (s *BookingStore) GetUser(ctx context.Context, userID string) (booking.User, error) {
	var u booking.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.User{}, booking.ErrNotFound
	}
	return u, err
}

// ClaimCancellation moves the booking from status from to cancelling. Only one
// caller can win the claim; the rest get booking.ErrNotCancellable.
func (s *BookingStore) ClaimCancellation(ctx context.Context, bookingID string, from booking.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		bookingID, string(booking.StatusCancelling), string(from),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, booking.ErrNotCancellable)
	}
	return nil
}

// ReleaseCancellation returns a claimed booking to status to. Bookings that are
// not cancelling are left alone.
func (s *BookingStore) ReleaseCancellation(ctx context.Context, bookingID string, to booking.Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		bookingID, string(to), string(booking.StatusCancelling),
	)
	return err
}

func (s *BookingStore) MarkCancelled(ctx context.Context, bookingID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = NOW()
		WHERE id = $1`,
		bookingID, string(booking.StatusCancelled),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, booking.ErrNotFound)
	}
	return nil
}

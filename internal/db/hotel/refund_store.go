package hoteldb

import (
	"context"
	"database/sql"

	"innkeep/internal/booking"
	"innkeep/internal/refund"
)

// RefundStore persists refund records. Records are insert-only.
type RefundStore struct {
	db *sql.DB
}

func NewRefundStore(db *sql.DB) *RefundStore {
	return &RefundStore{db: db}
}

// NewRefundStoreWithSchema initializes the schema then returns the store.
func NewRefundStoreWithSchema(ctx context.Context, db *sql.DB) (*RefundStore, error) {
	store := NewRefundStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the refund_records table if it does not exist.
func (s *RefundStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS refund_records (
			id TEXT PRIMARY KEY,
			booking_id TEXT NOT NULL,
			amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
			transaction_id TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			details JSONB NOT NULL DEFAULT '{}'
		)
	`)
	return err
}

// Create inserts rec. A repeated transaction id yields refund.ErrDuplicateTransaction.
func (s *RefundStore) Create(ctx context.Context, rec refund.Record) error {
	details, err := rec.Details.Marshal()
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO refund_records (id, booking_id, amount_cents, transaction_id, status, payment_method, processed_at, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING`,
		rec.ID, rec.BookingID, rec.Amount.Cents(), rec.TransactionID, string(rec.Status),
		string(rec.PaymentMethod), rec.ProcessedAt, details,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return refund.ErrDuplicateTransaction
	}
	return nil
}

// ListByBooking returns the refunds of a booking, oldest first.
func (s *RefundStore) ListByBooking(ctx context.Context, bookingID string) ([]refund.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, amount_cents, transaction_id, status, payment_method, processed_at, details
		FROM refund_records
		WHERE booking_id = $1
		ORDER BY processed_at`,
		bookingID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []refund.Record
	for rows.Next() {
		var (
			rec            refund.Record
			amount         int64
			status, method string
			details        []byte
		)
		if err := rows.Scan(&rec.ID, &rec.BookingID, &amount, &rec.TransactionID, &status, &method, &rec.ProcessedAt, &details); err != nil {
			return nil, err
		}
		rec.Amount = booking.Cents(amount)
		if rec.Status, err = refund.ParseStatus(status); err != nil {
			return nil, err
		}
		rec.PaymentMethod = booking.PaymentMethod(method)
		if rec.Details, err = refund.UnmarshalDetails(details); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Package hoteldb holds the Postgres stores of the refund and notification flows.
package hoteldb

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres through the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Stores groups every store sharing one connection pool.
type Stores struct {
	Bookings      *BookingStore
	Refunds       *RefundStore
	Notifications *NotificationStore
	StaffLog      *StaffLogStore
	Reversals     *ReversalLedger
}

func NewStores(db *sql.DB) *Stores {
	return &Stores{
		Bookings:      NewBookingStore(db),
		Refunds:       NewRefundStore(db),
		Notifications: NewNotificationStore(db),
		StaffLog:      NewStaffLogStore(db),
		Reversals:     NewReversalLedger(db),
	}
}

// InitSchema creates every table, bookings first for the foreign keys.
func (s *Stores) InitSchema(ctx context.Context) error {
	steps := []func(context.Context) error{
		s.Bookings.InitSchema,
		s.Refunds.InitSchema,
		s.Notifications.InitSchema,
		s.StaffLog.InitSchema,
		s.Reversals.InitSchema,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

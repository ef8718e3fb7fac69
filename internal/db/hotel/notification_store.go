package hoteldb

import (
	"context"
	"database/sql"
	"errors"

	"innkeep/internal/notification"
)

// NotificationStore persists notification delivery state.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// NewNotificationStoreWithSchema initializes the schema then returns the store.
func NewNotificationStoreWithSchema(ctx context.Context, db *sql.DB) (*NotificationStore, error) {
	store := NewNotificationStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the notifications table if it does not exist.
func (s *NotificationStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			user_id TEXT NOT NULL,
			booking_id TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			data JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *NotificationStore) Create(ctx context.Context, rec notification.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, type, user_id, booking_id, status, attempts, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, string(rec.Type), rec.UserID, rec.BookingID, string(rec.Status), rec.Attempts,
		rec.Data, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *NotificationStore) UpdateStatus(ctx context.Context, id string, status notification.Status, attempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2, attempts = $3, updated_at = NOW()
		WHERE id = $1`,
		id, string(status), attempts,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notification.ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (notification.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, user_id, booking_id, status, attempts, data, created_at, updated_at
		FROM notifications
		WHERE id = $1`,
		id,
	)

	var (
		rec         notification.Record
		typ, status string
	)
	err := row.Scan(&rec.ID, &typ, &rec.UserID, &rec.BookingID, &status, &rec.Attempts, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return notification.Record{}, notification.ErrNotificationNotFound
	}
	if err != nil {
		return notification.Record{}, err
	}
	rec.Type = notification.Type(typ)
	if rec.Status, err = notification.ParseStatus(status); err != nil {
		return notification.Record{}, err
	}
	return rec, nil
}

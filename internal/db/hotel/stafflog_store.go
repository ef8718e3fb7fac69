package hoteldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"innkeep/internal/stafflog"
)

// StaffLogStore appends employee log entries. It never updates or deletes rows.
type StaffLogStore struct {
	db *sql.DB
}

func NewStaffLogStore(db *sql.DB) *StaffLogStore {
	return &StaffLogStore{db: db}
}

// NewStaffLogStoreWithSchema initializes the schema then returns the store.
func NewStaffLogStoreWithSchema(ctx context.Context, db *sql.DB) (*StaffLogStore, error) {
	store := NewStaffLogStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the employee_logs table if it does not exist.
func (s *StaffLogStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS employee_logs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			details JSONB NOT NULL DEFAULT '{}'
		)
	`)
	return err
}

func (s *StaffLogStore) Append(ctx context.Context, entry stafflog.Entry) error {
	if entry.ID == "" {
		return errors.New("log entry id required")
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO employee_logs (id, type, actor_id, created_at, details)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, string(entry.Type), entry.ActorID, entry.Timestamp, details,
	)
	return err
}

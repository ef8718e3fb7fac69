package hoteldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"innkeep/internal/booking"
	"innkeep/internal/refund"
)

// ErrReversalConflict signals a transaction id reused with a different amount.
var ErrReversalConflict = errors.New("reversal already recorded with a different amount")

// ReversalLedger is a payment gateway that books card reversals into Postgres, keyed by
// transaction id so a retried reversal is recorded once.
type ReversalLedger struct {
	db *sql.DB
}

func NewReversalLedger(db *sql.DB) *ReversalLedger {
	return &ReversalLedger{db: db}
}

// NewReversalLedgerWithSchema initializes the schema then returns the ledger.
func NewReversalLedgerWithSchema(ctx context.Context, db *sql.DB) (*ReversalLedger, error) {
	ledger := NewReversalLedger(db)
	if err := ledger.InitSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// InitSchema creates the payment_reversals table if it does not exist.
func (l *ReversalLedger) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_reversals (
			transaction_id TEXT PRIMARY KEY,
			amount_cents BIGINT NOT NULL,
			reversed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (l *ReversalLedger) ReverseCharge(ctx context.Context, amount booking.Money, transactionID string) (refund.GatewayResult, error) {
	if transactionID == "" {
		return refund.GatewayResult{}, fmt.Errorf("transaction id required")
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO payment_reversals (transaction_id, amount_cents)
		VALUES ($1, $2)
		ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID, amount.Cents(),
	)
	if err != nil {
		return refund.GatewayResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return refund.GatewayResult{}, err
	}
	result := refund.GatewayResult{Status: "succeeded", Reference: "ledger_" + transactionID}
	if affected > 0 {
		return result, nil
	}

	var existing int64
	row := l.db.QueryRowContext(ctx, `SELECT amount_cents FROM payment_reversals WHERE transaction_id = $1`, transactionID)
	if err := row.Scan(&existing); err != nil {
		return refund.GatewayResult{}, err
	}
	if existing != amount.Cents() {
		return refund.GatewayResult{}, ErrReversalConflict
	}
	return result, nil
}

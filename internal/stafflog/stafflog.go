// Package stafflog is the append-only employee audit trail.
package stafflog

import (
	"context"
	"time"
)

type Type string

const (
	TypeRefundProcessed        Type = "refund_processed"
	TypeRefundEscalated        Type = "refund_escalated"
	TypeNotificationSent       Type = "notification_sent"
	TypeManualNotificationSent Type = "manual_notification_sent"
)

// SystemActor attributes entries written by automated flows.
const SystemActor = "system"

// Entry is never mutated or deleted once appended.
type Entry struct {
	ID        string
	Type      Type
	ActorID   string
	Timestamp time.Time
	Details   map[string]any
}

// Store appends entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"innkeep/internal/booking"
	"innkeep/internal/delivery"
	"innkeep/internal/escalation"
	"innkeep/internal/events"
	"innkeep/internal/stafflog"
)

// Deps are the collaborators of a Dispatcher. Events, Logger, Now and NewID are optional.
type Deps struct {
	Store       Store
	Users       UserDirectory
	StaffLog    stafflog.Store
	Mail        Transport
	InApp       InApp
	Escalations escalation.Sink
	Executor    *delivery.Executor
	Templates   *Templates
	Events      events.Publisher
	Logger      zerolog.Logger
	Now         func() time.Time
	NewID       func() string
}

// Dispatcher creates notification records and drives their delivery.
type Dispatcher struct {
	store       Store
	users       UserDirectory
	staffLog    stafflog.Store
	mail        Transport
	inApp       InApp
	escalations escalation.Sink
	executor    *delivery.Executor
	templates   *Templates
	events      events.Publisher
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
}

func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Store == nil || deps.StaffLog == nil || deps.Mail == nil || deps.InApp == nil {
		return nil, errors.New("notification store, staff log, mail and in-app collaborators are required")
	}
	if deps.Escalations == nil || deps.Executor == nil || deps.Templates == nil {
		return nil, errors.New("escalation sink, executor and templates are required")
	}
	d := &Dispatcher{
		store:       deps.Store,
		users:       deps.Users,
		staffLog:    deps.StaffLog,
		mail:        deps.Mail,
		inApp:       deps.InApp,
		escalations: deps.Escalations,
		executor:    deps.Executor,
		templates:   deps.Templates,
		events:      deps.Events,
		logger:      deps.Logger,
		now:         deps.Now,
		newID:       deps.NewID,
	}
	if d.events == nil {
		d.events = events.Nop{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	return d, nil
}

// NotifyCancellation records a PENDING notification and delivers it with bounded retry.
// On exhaustion the case is escalated, the record is marked FAILED and the returned
// error matches ErrNotificationDeliveryFailed.
func (d *Dispatcher) NotifyCancellation(ctx context.Context, b booking.Booking, u booking.User, data CancellationData) (Record, error) {
	if strings.TrimSpace(u.Email) == "" {
		return Record{}, ErrMissingRecipient
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Record{}, err
	}

	now := d.now().UTC()
	rec := Record{
		ID:        d.newID(),
		Type:      TypeBookingCancellation,
		UserID:    u.ID,
		BookingID: b.ID,
		Status:    StatusPending,
		Data:      raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.Create(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("create notification: %w", err)
	}

	// Logged before the outcome is known; the record status is the source of truth.
	d.appendLog(ctx, stafflog.TypeNotificationSent, stafflog.SystemActor, rec, nil)

	return d.deliver(ctx, rec, u)
}

// Resend re-runs delivery of an existing notification on behalf of staffID. The
// run gets a fresh attempt budget; the attempts of the earlier run are kept in
// the manual_notification_sent entry.
func (d *Dispatcher) Resend(ctx context.Context, notificationID, staffID string) (Record, error) {
	if strings.TrimSpace(staffID) == "" {
		return Record{}, ErrStaffRequired
	}
	if d.users == nil {
		return Record{}, errors.New("user directory not configured")
	}
	rec, err := d.store.Get(ctx, notificationID)
	if err != nil {
		return Record{}, err
	}
	u, err := d.users.GetUser(ctx, rec.UserID)
	if err != nil {
		return rec, fmt.Errorf("load recipient: %w", err)
	}
	if strings.TrimSpace(u.Email) == "" {
		return rec, ErrMissingRecipient
	}

	previous := rec.Attempts
	out, deliverErr := d.deliver(ctx, rec, u)
	d.appendLog(ctx, stafflog.TypeManualNotificationSent, staffID, out, map[string]any{
		"status":            string(out.Status),
		"attempts":          out.Attempts,
		"previous_attempts": previous,
	})
	return out, deliverErr
}

func (d *Dispatcher) deliver(ctx context.Context, rec Record, u booking.User) (Record, error) {
	log := d.logger.With().
		Str("notification_id", rec.ID).
		Str("booking_id", rec.BookingID).
		Logger()

	msg, err := d.templates.Render(rec.Type, rec.Data)
	if err != nil {
		return rec, err
	}
	push, err := json.Marshal(inAppPayload{
		NotificationID: rec.ID,
		Type:           rec.Type,
		BookingID:      rec.BookingID,
		Subject:        msg.Subject,
		Data:           rec.Data,
	})
	if err != nil {
		return rec, err
	}

	rec.Attempts = 0
	_, err = d.executor.Do(ctx, "notification.deliver", func(ctx context.Context) error {
		if err := d.inApp.Push(ctx, rec.UserID, push); err != nil {
			return fmt.Errorf("in-app push: %w", err)
		}
		messageID, err := d.mail.Send(ctx, u.Email, msg.Subject, msg.HTML)
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		log.Debug().Str("message_id", messageID).Msg("notification email sent")
		return nil
	}, func(attempt int, attemptErr error) {
		rec.Attempts = attempt
		if attemptErr == nil {
			return
		}
		log.Warn().Err(attemptErr).Int("attempt", attempt).Msg("notification attempt failed")
		if err := d.store.UpdateStatus(ctx, rec.ID, StatusPending, rec.Attempts); err != nil {
			log.Error().Err(err).Msg("persist notification attempts")
		}
	})

	if err == nil {
		rec.Status = StatusSent
		rec.UpdatedAt = d.now().UTC()
		if err := d.store.UpdateStatus(ctx, rec.ID, StatusSent, rec.Attempts); err != nil {
			return rec, fmt.Errorf("mark notification sent: %w", err)
		}
		d.publish(ctx, events.NotificationSent, rec)
		return rec, nil
	}

	var exhausted *delivery.ExhaustedError
	if !errors.As(err, &exhausted) {
		return rec, err
	}

	c := escalation.Case{
		ID:             d.newID(),
		Kind:           escalation.KindNotification,
		BookingID:      rec.BookingID,
		UserID:         rec.UserID,
		NotificationID: rec.ID,
		Attempts:       rec.Attempts,
		LastError:      exhausted.Last.Error(),
		At:             d.now().UTC(),
	}
	var data CancellationData
	if json.Unmarshal(rec.Data, &data) == nil {
		c.Amount = data.RefundAmount
		c.TransactionID = data.TransactionID
	}
	if err := d.escalations.Record(ctx, c); err != nil {
		log.Error().Err(err).Msg("record notification escalation")
	}

	rec.Status = StatusFailed
	rec.UpdatedAt = d.now().UTC()
	if err := d.store.UpdateStatus(ctx, rec.ID, StatusFailed, rec.Attempts); err != nil {
		log.Error().Err(err).Msg("mark notification failed")
	}
	d.publish(ctx, events.NotificationFailed, rec)

	return rec, fmt.Errorf("%w: %w", ErrNotificationDeliveryFailed, err)
}

type inAppPayload struct {
	NotificationID string          `json:"notification_id"`
	Type           Type            `json:"type"`
	BookingID      string          `json:"booking_id"`
	Subject        string          `json:"subject"`
	Data           json.RawMessage `json:"data"`
}

func (d *Dispatcher) appendLog(ctx context.Context, typ stafflog.Type, actor string, rec Record, extra map[string]any) {
	details := map[string]any{
		"notification_id": rec.ID,
		"notification":    string(rec.Type),
		"user_id":         rec.UserID,
		"booking_id":      rec.BookingID,
	}
	for k, v := range extra {
		details[k] = v
	}
	entry := stafflog.Entry{
		ID:        d.newID(),
		Type:      typ,
		ActorID:   actor,
		Timestamp: d.now().UTC(),
		Details:   details,
	}
	if err := d.staffLog.Append(ctx, entry); err != nil {
		d.logger.Error().Err(err).Str("notification_id", rec.ID).Str("type", string(typ)).Msg("append staff log")
	}
}

func (d *Dispatcher) publish(ctx context.Context, eventType string, rec Record) {
	payload := map[string]any{
		"notification_id": rec.ID,
		"booking_id":      rec.BookingID,
		"user_id":         rec.UserID,
		"status":          rec.Status,
		"attempts":        rec.Attempts,
	}
	if err := d.events.Publish(ctx, eventType, rec.BookingID, payload); err != nil {
		d.logger.Warn().Err(err).Str("event", eventType).Msg("publish notification event")
	}
}

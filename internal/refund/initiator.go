package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"innkeep/internal/booking"
	"innkeep/internal/delivery"
	"innkeep/internal/escalation"
	"innkeep/internal/events"
	"innkeep/internal/notification"
	"innkeep/internal/stafflog"
)

const (
	DefaultSupportContact = "support@innkeep.example"

	cardProcessingTime = "5-7 business days"
	cashProcessingTime = "Cash refunds are paid out by the front desk; a manager will contact you within 2 business days"
)

// ErrInvalidPenalty rejects negative penalties.
var ErrInvalidPenalty = errors.New("penalty must not be negative")

// Deps are the collaborators of an Initiator. Events, Logger, Now, NewID and
// NewTransactionID are optional.
type Deps struct {
	Bookings         BookingStore
	Refunds          RecordStore
	StaffLog         stafflog.Store
	Gateway          Gateway
	Managers         ManagerDesk
	Notifier         GuestNotifier
	Escalations      escalation.Sink
	Executor         *delivery.Executor
	Events           events.Publisher
	Logger           zerolog.Logger
	Now              func() time.Time
	NewID            func() string
	NewTransactionID func() string
}

type Options struct {
	SupportContact string
}

// Initiator computes, dispatches and records refunds for cancelled bookings.
type Initiator struct {
	bookings    BookingStore
	refunds     RecordStore
	staffLog    stafflog.Store
	gateway     Gateway
	managers    ManagerDesk
	notifier    GuestNotifier
	escalations escalation.Sink
	executor    *delivery.Executor
	events      events.Publisher
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
	newTxID     func() string
	support     string
}

func NewInitiator(deps Deps, opts Options) (*Initiator, error) {
	if deps.Bookings == nil || deps.Refunds == nil || deps.StaffLog == nil {
		return nil, errors.New("booking store, refund store and staff log are required")
	}
	if deps.Gateway == nil || deps.Managers == nil || deps.Notifier == nil {
		return nil, errors.New("gateway, manager desk and guest notifier are required")
	}
	if deps.Escalations == nil || deps.Executor == nil {
		return nil, errors.New("escalation sink and executor are required")
	}
	i := &Initiator{
		bookings:    deps.Bookings,
		refunds:     deps.Refunds,
		staffLog:    deps.StaffLog,
		gateway:     deps.Gateway,
		managers:    deps.Managers,
		notifier:    deps.Notifier,
		escalations: deps.Escalations,
		executor:    deps.Executor,
		events:      deps.Events,
		logger:      deps.Logger,
		now:         deps.Now,
		newID:       deps.NewID,
		newTxID:     deps.NewTransactionID,
		support:     opts.SupportContact,
	}
	if i.events == nil {
		i.events = events.Nop{}
	}
	if i.now == nil {
		i.now = time.Now
	}
	if i.newID == nil {
		i.newID = uuid.NewString
	}
	if i.newTxID == nil {
		i.newTxID = func() string { return NewTransactionID(i.now()) }
	}
	if i.support == "" {
		i.support = DefaultSupportContact
	}
	return i, nil
}

// NewTransactionID returns REF-<unix millis>-<8 hex chars>.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("REF-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

type dispatchOutcome struct {
	status  Status
	gateway GatewayResult
}

// Initiate refunds booking total minus penalty through the payment method of the
// booking. actorID is the user or staff member who triggered the cancellation.
func (i *Initiator) Initiate(ctx context.Context, bookingID, actorID string, req booking.CancellationRequest) (Result, error) {
	b, err := i.bookings.GetWithPayment(ctx, bookingID)
	if errors.Is(err, booking.ErrNotFound) {
		return Result{}, ErrBookingNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	if b.Payment == nil || b.Room == nil {
		return Result{}, ErrBookingNotFound
	}
	if b.Status == booking.StatusCancelled || b.Status == booking.StatusCancelling {
		return Result{}, ErrBookingAlreadyCancelled
	}

	method, err := booking.ParsePaymentMethod(string(b.Payment.Method))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedPaymentMethod, b.Payment.Method)
	}
	if req.Penalty.IsNegative() {
		return Result{}, ErrInvalidPenalty
	}
	amount := b.TotalPrice.Sub(req.Penalty)
	if amount.IsNegative() {
		return Result{}, fmt.Errorf("%w: penalty %s, total %s", ErrPenaltyExceedsTotal, req.Penalty, b.TotalPrice)
	}

	// The claim keeps concurrent cancellations of the same booking from
	// dispatching a second refund.
	if err := i.bookings.ClaimCancellation(ctx, b.ID, b.Status); err != nil {
		if errors.Is(err, booking.ErrNotCancellable) {
			return Result{}, ErrBookingAlreadyCancelled
		}
		return Result{}, fmt.Errorf("claim booking %s: %w", b.ID, err)
	}

	txID := i.newTxID()
	log := i.logger.With().
		Str("booking_id", b.ID).
		Str("transaction_id", txID).
		Str("payment_method", string(method)).
		Logger()

	var outcome dispatchOutcome
	_, err = i.executor.Do(ctx, "refund."+string(method), func(ctx context.Context) error {
		switch method {
		case booking.PaymentCreditCard:
			res, err := i.gateway.ReverseCharge(ctx, amount, txID)
			if err != nil {
				return err
			}
			outcome = dispatchOutcome{status: StatusProcessed, gateway: res}
		case booking.PaymentCash:
			err := i.managers.NotifyCashRefund(ctx, CashRefund{
				BookingID:     b.ID,
				PaymentID:     b.Payment.ID,
				UserID:        b.UserID,
				RoomNumber:    b.Room.Number,
				Amount:        amount,
				TransactionID: txID,
			})
			if err != nil {
				return err
			}
			outcome = dispatchOutcome{status: StatusPendingManual}
		}
		return nil
	}, func(attempt int, err error) {
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("refund attempt failed")
		}
	})
	if err != nil {
		if err := i.bookings.ReleaseCancellation(context.WithoutCancel(ctx), b.ID, b.Status); err != nil {
			log.Error().Err(err).Msg("release cancellation claim")
		}
		var exhausted *delivery.ExhaustedError
		if errors.As(err, &exhausted) {
			return Result{}, i.escalate(ctx, log, b, actorID, amount, txID, exhausted)
		}
		return Result{}, fmt.Errorf("dispatch refund %s: %w", txID, err)
	}

	rec := Record{
		ID:            i.newID(),
		BookingID:     b.ID,
		Amount:        amount,
		TransactionID: txID,
		Status:        outcome.status,
		PaymentMethod: method,
		ProcessedAt:   i.now().UTC(),
		Details: Details{
			GatewayStatus: outcome.gateway.Status,
			GatewayRef:    outcome.gateway.Reference,
			Reason:        req.Reason,
			Penalty:       req.Penalty,
			ActorID:       actorID,
		},
	}
	if err := i.refunds.Create(ctx, rec); err != nil {
		// The money has moved; staff must reconcile using the transaction id.
		log.Error().Err(err).Str("amount", amount.String()).Msg("refund dispatched but not recorded")
		return Result{}, fmt.Errorf("persist refund %s: %w", txID, err)
	}
	if err := i.bookings.MarkCancelled(ctx, b.ID); err != nil {
		log.Error().Err(err).Msg("refund recorded but booking not cancelled")
		return Result{}, fmt.Errorf("cancel booking %s: %w", b.ID, err)
	}
	b.Status = booking.StatusCancelled

	i.appendLog(ctx, log, stafflog.TypeRefundProcessed, actorID, map[string]any{
		"booking_id":     b.ID,
		"refund_id":      rec.ID,
		"transaction_id": txID,
		"amount":         amount.String(),
		"status":         string(rec.Status),
		"payment_method": string(method),
	})
	i.publish(ctx, log, events.RefundProcessed, b.ID, map[string]any{
		"booking_id":     b.ID,
		"transaction_id": txID,
		"amount":         amount,
		"status":         rec.Status,
	})

	i.notifyGuest(ctx, log, b, rec, req)

	log.Info().Str("amount", amount.String()).Str("status", string(rec.Status)).Msg("refund processed")
	return Result{
		Success:       true,
		TransactionID: txID,
		Amount:        amount,
		Status:        rec.Status,
	}, nil
}

func (i *Initiator) escalate(ctx context.Context, log zerolog.Logger, b booking.Booking, actorID string, amount booking.Money, txID string, exhausted *delivery.ExhaustedError) error {
	c := escalation.Case{
		ID:            i.newID(),
		Kind:          escalation.KindRefund,
		BookingID:     b.ID,
		UserID:        b.UserID,
		PaymentID:     b.Payment.ID,
		Amount:        amount,
		TransactionID: txID,
		Attempts:      exhausted.Attempts,
		LastError:     exhausted.Last.Error(),
		At:            i.now().UTC(),
	}
	if err := i.escalations.Record(ctx, c); err != nil {
		log.Error().Err(err).Msg("record refund escalation")
	}
	i.appendLog(ctx, log, stafflog.TypeRefundEscalated, actorID, map[string]any{
		"booking_id":     b.ID,
		"payment_id":     b.Payment.ID,
		"transaction_id": txID,
		"amount":         amount.String(),
		"attempts":       exhausted.Attempts,
		"last_error":     exhausted.Last.Error(),
	})
	i.publish(ctx, log, events.RefundEscalated, b.ID, c)

	log.Error().Err(exhausted.Last).Int("attempts", exhausted.Attempts).Msg("refund escalated for manual processing")
	return &ProcessingError{
		BookingID:     b.ID,
		TransactionID: txID,
		Amount:        amount,
		Err:           exhausted,
	}
}

// notifyGuest runs after the refund is final, so its failures are only logged.
func (i *Initiator) notifyGuest(ctx context.Context, log zerolog.Logger, b booking.Booking, rec Record, req booking.CancellationRequest) {
	u, err := i.bookings.GetUser(ctx, b.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", b.UserID).Msg("load guest for refund notification")
		return
	}
	processing := cardProcessingTime
	if rec.PaymentMethod == booking.PaymentCash {
		processing = cashProcessingTime
	}
	data := notification.CancellationData{
		RefundAmount:   rec.Amount,
		Penalty:        req.Penalty,
		ProcessingTime: processing,
		TransactionID:  rec.TransactionID,
		SupportContact: i.support,
		RoomNumber:     b.Room.Number,
		GuestName:      u.Name,
	}
	if _, err := i.notifier.NotifyCancellation(ctx, b, u, data); err != nil {
		log.Error().Err(err).Msg("guest refund notification failed")
	}
}

func (i *Initiator) appendLog(ctx context.Context, log zerolog.Logger, typ stafflog.Type, actorID string, details map[string]any) {
	if actorID == "" {
		actorID = stafflog.SystemActor
	}
	entry := stafflog.Entry{
		ID:        i.newID(),
		Type:      typ,
		ActorID:   actorID,
		Timestamp: i.now().UTC(),
		Details:   details,
	}
	if err := i.staffLog.Append(ctx, entry); err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("append staff log")
	}
}

func (i *Initiator) publish(ctx context.Context, log zerolog.Logger, eventType, key string, payload any) {
	if err := i.events.Publish(ctx, eventType, key, payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("publish refund event")
	}
}

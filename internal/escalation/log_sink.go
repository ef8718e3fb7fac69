package escalation

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes cases to the process log.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, c Case) error {
	s.logger.Error().
		Str("case_id", c.ID).
		Str("kind", string(c.Kind)).
		Str("booking_id", c.BookingID).
		Str("payment_id", c.PaymentID).
		Str("notification_id", c.NotificationID).
		Str("transaction_id", c.TransactionID).
		Str("amount", c.Amount.String()).
		Int("attempts", c.Attempts).
		Str("last_error", c.LastError).
		Msg("escalated for manual follow-up")
	return nil
}

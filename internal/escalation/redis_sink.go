package escalation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the minimal client surface used by RedisStreamSink.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends cases to a Redis stream that the staff console consumes.
type RedisStreamSink struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewRedisStreamSink defaults the stream name to "escalations".
func NewRedisStreamSink(client StreamClient, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = "escalations"
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisStreamSink) Record(ctx context.Context, c Case) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"case_id":    c.ID,
			"kind":       string(c.Kind),
			"booking_id": c.BookingID,
			"at":         c.At.UTC().Format(time.RFC3339Nano),
			"payload":    string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return r.client.XAdd(ctx, args).Err()
}

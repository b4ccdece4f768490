package realtime

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PubSub opens Redis subscriptions. *redis.Client satisfies it.
type PubSub interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Relay subscribes to channels and broadcasts every message to the hub until
// ctx is done. Messages that are not valid JSON are skipped.
//
// Relay runs independently of the write path: a slow or failed relay never
// delays order creation or transitions.
func Relay(ctx context.Context, rdb PubSub, hub *Hub, channels ...string) error {
	lg := zctx.From(ctx)

	sub := rdb.Subscribe(ctx, channels...)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription confirmation so that errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	lg.Info("Relaying notifications", zap.Strings("channels", channels))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			payload := []byte(msg.Payload)
			if !jx.Valid(payload) {
				lg.Warn("Skipping malformed notification", zap.String("channel", msg.Channel))
				continue
			}
			hub.Broadcast(ctx, EventName(msg.Channel), payload)
		}
	}
}

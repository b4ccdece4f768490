// Package events publishes domain notifications to Redis Pub/Sub channels.
package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/mojito-bar/internal/domain/event"
)

// Connect creates a Redis client from a redis:// URL or a host:port address
// and verifies it with a ping.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}

var _ event.Publisher = (*RedisPublisher)(nil)

// RedisPublisher implements event.Publisher with Redis PUBLISH. Delivery
// failures are logged and counted, never returned.
type RedisPublisher struct {
	rdb       redis.Cmdable
	published metric.Int64Counter
	failed    metric.Int64Counter
}

// NewRedisPublisher returns a publisher writing to rdb.
func NewRedisPublisher(rdb redis.Cmdable, mp metric.MeterProvider) (*RedisPublisher, error) {
	meter := mp.Meter("github.com/xenking/mojito-bar/internal/events")

	published, err := meter.Int64Counter("events.published",
		metric.WithDescription("Domain events delivered to Redis"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "published counter")
	}
	failed, err := meter.Int64Counter("events.failed",
		metric.WithDescription("Domain events that could not be delivered"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}

	return &RedisPublisher{
		rdb:       rdb,
		published: published,
		failed:    failed,
	}, nil
}

// Publish encodes payload as JSON and publishes it on channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload event.Payload) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	payload.Encode(e)

	attrs := metric.WithAttributes(attribute.String("channel", channel))

	receivers, err := p.rdb.Publish(ctx, channel, e.Bytes()).Result()
	if err != nil {
		p.failed.Add(ctx, 1, attrs)
		zctx.From(ctx).Warn("Publish event failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}

	p.published.Add(ctx, 1, attrs)
	zctx.From(ctx).Debug("Event published",
		zap.String("channel", channel),
		zap.Int64("receivers", receivers),
	)
}

package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/mojito-bar/internal/domain/order"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, url := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		rdb, err := Connect(context.Background(), url)
		require.NoError(t, err, url)
		require.NoError(t, rdb.Close())
	}

	_, err := Connect(context.Background(), "redis://%zz")
	require.Error(t, err)
}

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, order.ChannelOrderCreated)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub, err := NewRedisPublisher(rdb, noop.NewMeterProvider())
	require.NoError(t, err)

	pub.Publish(ctx, order.ChannelOrderCreated, order.Created{
		OrderID:   "1",
		State:     order.StatePending,
		Total:     decimal.NewFromInt(13000),
		LineCount: 1,
		Timestamp: time.Date(2026, 10, 16, 21, 0, 0, 0, time.UTC),
	})

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, order.ChannelOrderCreated, msg.Channel)
		assert.JSONEq(t,
			`{"orderId":"1","state":"pending","total":13000,"lineCount":1,"timestamp":"2026-10-16T21:00:00Z"}`,
			msg.Payload,
		)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestRedisPublisher_FailureIsAbsorbed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	pub, err := NewRedisPublisher(rdb, noop.NewMeterProvider())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		pub.Publish(ctx, order.ChannelOrderStateChanged, order.StateChanged{
			OrderID:       "1",
			PreviousState: order.StatePending,
			NewState:      order.StateReady,
			Timestamp:     time.Now(),
		})
	})

	entries := logs.FilterMessage("Publish event failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, order.ChannelOrderStateChanged, entries[0].ContextMap()["channel"])
}

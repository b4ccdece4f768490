// Package event defines how domain services hand notifications to the
// messaging transport.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// DefaultTimeout bounds a single publication when none is configured.
const DefaultTimeout = 2 * time.Second

// Payload is an event body that can serialize itself as JSON.
type Payload interface {
	Encode(e *jx.Encoder)
}

// Publisher emits domain events to a message channel.
//
// Implementations must absorb transport failures: Publish returns normally
// whether or not the event was delivered.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload Payload)
}

// Dispatcher hands events to a Publisher in the background so that callers
// never wait for delivery. A Dispatcher with a nil Publisher drops every
// event.
type Dispatcher struct {
	pub      Publisher
	timeout  time.Duration
	inflight sync.WaitGroup
}

// NewDispatcher returns a Dispatcher bounding each publication by timeout.
// pub may be nil.
func NewDispatcher(pub Publisher, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{pub: pub, timeout: timeout}
}

// Dispatch publishes p on channel using a context detached from the
// caller's cancellation. It returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, channel string, p Payload) {
	if d.pub == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.inflight.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		d.pub.Publish(ctx, channel, p)
	})
}

// Wait blocks until every dispatched event has been handed off.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

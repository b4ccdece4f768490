package order

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Notification channel names.
const (
	ChannelOrderCreated      = "order_created"
	ChannelOrderStateChanged = "order_state_changed"
)

// Created is published on ChannelOrderCreated after an order is persisted.
type Created struct {
	OrderID   string
	State     State
	Total     decimal.Decimal
	LineCount int
	Timestamp time.Time
}

// Encode implements event.Payload.
func (c Created) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(c.OrderID)
	e.FieldStart("state")
	e.Str(string(c.State))
	e.FieldStart("total")
	e.Num(jx.Num(c.Total.String()))
	e.FieldStart("lineCount")
	e.Int(c.LineCount)
	e.FieldStart("timestamp")
	e.Str(c.Timestamp.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// StateChanged is published on ChannelOrderStateChanged after a transition
// is persisted.
type StateChanged struct {
	OrderID       string
	PreviousState State
	NewState      State
	Timestamp     time.Time
}

// Encode implements event.Payload.
func (c StateChanged) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(c.OrderID)
	e.FieldStart("previousState")
	e.Str(string(c.PreviousState))
	e.FieldStart("newState")
	e.Str(string(c.NewState))
	e.FieldStart("timestamp")
	e.Str(c.Timestamp.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

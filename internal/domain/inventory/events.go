package inventory

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ChannelUpdated carries Updated events.
const ChannelUpdated = "inventory_updated"

// Updated is published after a quantity change is persisted.
type Updated struct {
	ItemID           string
	Name             string
	PreviousQuantity decimal.Decimal
	NewQuantity      decimal.Decimal
	LowStock         bool
	Timestamp        time.Time
}

// Encode implements event.Payload.
func (u Updated) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("itemId")
	e.Str(u.ItemID)
	e.FieldStart("name")
	e.Str(u.Name)
	e.FieldStart("previousQuantity")
	e.Num(jx.Num(u.PreviousQuantity.String()))
	e.FieldStart("newQuantity")
	e.Num(jx.Num(u.NewQuantity.String()))
	e.FieldStart("lowStock")
	e.Bool(u.LowStock)
	e.FieldStart("timestamp")
	e.Str(u.Timestamp.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

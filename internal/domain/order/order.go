package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when an update targets a missing order.
var ErrNotFound = errors.New("order not found")

// State is the lifecycle state of an order.
type State string

const (
	StatePending   State = "pending"
	StatePreparing State = "preparing"
	StateReady     State = "ready"
	StateDelivered State = "delivered"
	StateCancelled State = "cancelled"
)

// States lists every valid order state.
var States = []State{StatePending, StatePreparing, StateReady, StateDelivered, StateCancelled}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StatePreparing, StateReady, StateDelivered, StateCancelled:
		return true
	}
	return false
}

// Order is a staff-entered request for one or more products.
//
// Total always equals the sum of line subtotals once lines were added through
// AddLine. ID is empty until the order is persisted.
type Order struct {
	ID          string
	CustomerRef string // optional
	StaffRef    string
	State       State
	Total       decimal.Decimal
	CreatedAt   time.Time
	Lines       []Line

	// Denormalized names, filled by adapters that store them.
	CustomerName string
	StaffName    string
}

// New returns a pending order with no lines.
func New(staffRef, customerRef string, createdAt time.Time) *Order {
	return &Order{
		CustomerRef: customerRef,
		StaffRef:    staffRef,
		State:       StatePending,
		Total:       decimal.Zero,
		CreatedAt:   createdAt,
	}
}

// AddLine appends a line and recomputes the total. A line without a subtotal
// gets one derived from quantity and unit price.
func (o *Order) AddLine(l Line) {
	if l.Subtotal.IsZero() {
		l.Subtotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	}
	o.Lines = append(o.Lines, l)
	o.recalculate()
}

func (o *Order) recalculate() {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal)
	}
	o.Total = total
}

// TransitionTo moves the order into state. Only membership in the state set
// is checked; any state may follow any other.
func (o *Order) TransitionTo(state State) error {
	if !state.Valid() {
		return &InvalidStateError{State: string(state)}
	}
	o.State = state
	return nil
}

// Line is one product-quantity-price entry of an order.
type Line struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal // price snapshot taken at creation
	// Subtotal of zero means "derive it": AddLine replaces it with
	// UnitPrice * Quantity. A zero-priced line therefore stays at zero.
	Subtotal    decimal.Decimal
}

// NewLine builds a line priced at unitPrice with a derived subtotal.
func NewLine(productID, productName string, quantity int, unitPrice decimal.Decimal) Line {
	return Line{
		ProductID:   productID,
		ProductName: productName,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Subtotal:    unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// Consistent reports whether the subtotal equals quantity times unit price.
func (l Line) Consistent() bool {
	return l.Subtotal.Equal(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// Repository defines persistence operations for orders.
//
// FindByID returns (nil, nil) when the order does not exist. Update returns
// ErrNotFound when no stored order matches.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Order, error)
	FindAll(ctx context.Context) ([]Order, error)
	FindByState(ctx context.Context, state State) ([]Order, error)
	FindByCustomer(ctx context.Context, customerRef string) ([]Order, error)
	FindByStaff(ctx context.Context, staffRef string) ([]Order, error)
	Save(ctx context.Context, o *Order, lines []Line) (*Order, error)
	Update(ctx context.Context, o *Order) (*Order, error)
}

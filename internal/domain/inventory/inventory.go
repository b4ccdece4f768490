// Package inventory tracks bar stock levels and announces every change.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when an item does not exist.
var ErrNotFound = errors.New("inventory item not found")

// Item is a stocked ingredient or supply.
type Item struct {
	ID       string
	Name     string
	Quantity decimal.Decimal
	Unit     string // e.g. "ml", "units"
	Kind     string // e.g. "spirit", "garnish"
	MinStock decimal.Decimal
}

// SetQuantity replaces the available quantity. Negative quantities are
// rejected and leave the item unchanged.
func (i *Item) SetQuantity(q decimal.Decimal) error {
	if q.IsNegative() {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	i.Quantity = q
	return nil
}

// LowStock reports whether the quantity fell below the minimum stock.
func (i Item) LowStock() bool {
	return i.Quantity.LessThan(i.MinStock)
}

// Repository persists inventory items.
//
// FindByID and Update return ErrNotFound for unknown ids. Update writes the
// quantity only.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context) ([]Item, error)
	ListLowStock(ctx context.Context) ([]Item, error)
	Update(ctx context.Context, item *Item) (*Item, error)
}

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError indicates the referenced item does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("inventory item %s not found", e.ID)
}

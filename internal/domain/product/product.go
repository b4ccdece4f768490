package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog projection consumed when pricing orders.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Category  string
	Available bool
}

// Repository defines read operations for the product catalog.
//
// GetByID returns ErrNotFound when the identifier does not resolve.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}

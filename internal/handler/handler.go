// Package handler exposes the order, catalog and inventory operations over
// HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
	"github.com/xenking/mojito-bar/internal/domain/order"
	"github.com/xenking/mojito-bar/internal/domain/product"
)

// OrderService is the order use-case surface consumed by the handlers.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	ChangeState(ctx context.Context, id string, state order.State) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context, f order.ListFilter) ([]order.Order, error)
}

var _ OrderService = (*order.Service)(nil)

// InventoryService is the stock-level surface consumed by the handlers.
type InventoryService interface {
	Get(ctx context.Context, id string) (*inventory.Item, error)
	List(ctx context.Context, lowStockOnly bool) ([]inventory.Item, error)
	SetQuantity(ctx context.Context, id string, q decimal.Decimal) (*inventory.Item, error)
}

var _ InventoryService = (*inventory.Service)(nil)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxBodyBytes limits request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the HTTP API, delegating business logic to the order and
// inventory services and the product repository.
type Handler struct {
	products     product.Repository
	orders       OrderService
	inventory    InventoryService
	maxBodyBytes int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products product.Repository,
	orders OrderService,
	inv InventoryService,
) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		products:     products,
		orders:       orders,
		inventory:    inv,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Register mounts the API routes under /api. Write routes are wrapped with
// the given middlewares, typically rate limiting and API key auth.
func (h *Handler) Register(r chi.Router, write ...func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productId}", h.GetProduct)

		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{orderId}", h.GetOrder)

		r.Get("/inventory", h.ListInventory)
		r.Get("/inventory/{itemId}", h.GetInventoryItem)

		r.Group(func(r chi.Router) {
			r.Use(write...)
			r.Post("/orders", h.PlaceOrder)
			r.Patch("/orders/{orderId}/state", h.ChangeState)
			r.Patch("/inventory/{itemId}", h.SetInventoryQuantity)
		})
	})
}

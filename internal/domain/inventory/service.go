package inventory

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/mojito-bar/internal/domain/event"
)

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("github.com/xenking/mojito-bar/internal/domain/inventory")
	}
}

// WithPublishTimeout bounds how long a single event publication may take.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service reads stock levels and applies quantity changes.
type Service struct {
	items  Repository
	events *event.Dispatcher

	tracer         trace.Tracer
	publishTimeout time.Duration
	now            func() time.Time
}

// NewService creates an inventory Service. publisher may be nil.
func NewService(items Repository, publisher event.Publisher, opts ...Option) *Service {
	s := &Service{
		items:          items,
		tracer:         noop.NewTracerProvider().Tracer(""),
		publishTimeout: event.DefaultTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	s.events = event.NewDispatcher(publisher, s.publishTimeout)
	return s
}

// Get returns the item with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	item, err := s.items.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, errors.Wrap(err, "find item")
	}
	return item, nil
}

// List returns every item, or only those below their minimum stock.
func (s *Service) List(ctx context.Context, lowStockOnly bool) ([]Item, error) {
	var (
		items []Item
		err   error
	)
	if lowStockOnly {
		items, err = s.items.ListLowStock(ctx)
	} else {
		items, err = s.items.List(ctx)
	}
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	return items, nil
}

// SetQuantity stores a new available quantity for an item and publishes an
// inventory_updated event.
func (s *Service) SetQuantity(ctx context.Context, id string, q decimal.Decimal) (_ *Item, rerr error) {
	ctx, span := s.tracer.Start(ctx, "inventory.SetQuantity",
		trace.WithAttributes(attribute.String("inventory.item", id)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if q.IsNegative() {
		return nil, &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := item.Quantity
	if err := item.SetQuantity(q); err != nil {
		return nil, err
	}

	updated, err := s.items.Update(ctx, item)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, errors.Wrap(err, "update item")
	}

	lg := zctx.From(ctx)
	lg.Info("Inventory updated",
		zap.String("item_id", updated.ID),
		zap.Stringer("from", previous),
		zap.Stringer("to", updated.Quantity),
	)
	if updated.LowStock() {
		lg.Warn("Inventory below minimum stock",
			zap.String("item_id", updated.ID),
			zap.Stringer("min_stock", updated.MinStock),
		)
	}

	s.events.Dispatch(ctx, ChannelUpdated, Updated{
		ItemID:           updated.ID,
		Name:             updated.Name,
		PreviousQuantity: previous,
		NewQuantity:      updated.Quantity,
		LowStock:         updated.LowStock(),
		Timestamp:        s.now(),
	})
	return updated, nil
}

// Wait blocks until every notification handed to the publisher has
// returned.
func (s *Service) Wait() {
	s.events.Wait()
}

package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/mojito-bar/internal/domain/event"
	"github.com/xenking/mojito-bar/internal/domain/product"
)

// ItemRequest is one requested product and quantity.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	StaffRef    string
	CustomerRef string
	Items       []ItemRequest
}

// ListFilter narrows order listings. At most one field is honoured, checked
// in the order State, CustomerRef, StaffRef.
type ListFilter struct {
	State       State
	CustomerRef string
	StaffRef    string
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for pipeline spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("github.com/xenking/mojito-bar/internal/domain/order")
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

// Service implements order creation, state transitions and queries.
type Service struct {
	products product.Repository
	orders   Repository
	events   *event.Dispatcher

	tracer         trace.Tracer
	publishTimeout time.Duration
	now            func() time.Time
}

// NewService creates an order Service. publisher may be nil.
func NewService(
	products product.Repository,
	orders Repository,
	publisher event.Publisher,
	opts ...Option,
) *Service {
	s := &Service{
		products:       products,
		orders:         orders,
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

// PlaceOrder validates the request, prices every item from the catalog,
// persists the order with its lines and publishes an order_created event.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Int("order.items", len(req.Items))),
	)
	defer func() { endSpan(span, rerr) }()

	if err := validatePlaceOrder(req); err != nil {
		return nil, err
	}

	o := New(req.StaffRef, req.CustomerRef, s.now())
	for _, item := range req.Items {
		p, err := s.products.GetByID(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &NotFoundError{Kind: "product", ID: item.ProductID}
			}
			return nil, &PersistenceError{Op: fmt.Sprintf("resolve product %s", item.ProductID), Err: err}
		}
		if !p.Available {
			return nil, &UnavailableError{Name: p.Name}
		}
		o.AddLine(NewLine(p.ID, p.Name, item.Quantity, p.Price))
	}

	saved, err := s.orders.Save(ctx, o, o.Lines)
	if err != nil {
		return nil, &PersistenceError{Op: "save order", Err: err}
	}
	span.SetAttributes(attribute.String("order.id", saved.ID))

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", saved.ID),
		zap.Stringer("total", saved.Total),
		zap.Int("lines", len(o.Lines)),
	)

	s.events.Dispatch(ctx, ChannelOrderCreated, Created{
		OrderID:   saved.ID,
		State:     saved.State,
		Total:     saved.Total,
		LineCount: len(o.Lines),
		Timestamp: s.now(),
	})

	return saved, nil
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	if req.StaffRef == "" {
		return &ValidationError{Field: "staffRef", Reason: "required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item required"}
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return &ValidationError{Field: "productId", Reason: "required"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{
				Field:  "quantity",
				Reason: fmt.Sprintf("must be greater than 0 for product %s", item.ProductID),
			}
		}
	}
	return nil
}

// ChangeState loads an order, applies the transition, persists it and
// publishes an order_state_changed event. Concurrent transitions of the same
// order are last-write-wins.
func (s *Service) ChangeState(ctx context.Context, id string, state State) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ChangeState",
		trace.WithAttributes(
			attribute.String("order.id", id),
			attribute.String("order.state", string(state)),
		),
	)
	defer func() { endSpan(span, rerr) }()

	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "find order", Err: err}
	}
	if o == nil {
		return nil, &NotFoundError{Kind: "order", ID: id}
	}

	previous := o.State
	if err := o.TransitionTo(state); err != nil {
		return nil, err
	}

	updated, err := s.orders.Update(ctx, o)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "order", ID: id}
		}
		return nil, &PersistenceError{Op: "update order", Err: err}
	}

	zctx.From(ctx).Info("Order state changed",
		zap.String("order_id", updated.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(state)),
	)

	s.events.Dispatch(ctx, ChannelOrderStateChanged, StateChanged{
		OrderID:       updated.ID,
		PreviousState: previous,
		NewState:      state,
		Timestamp:     s.now(),
	})

	return updated, nil
}

// Get returns the order with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "find order", Err: err}
	}
	if o == nil {
		return nil, &NotFoundError{Kind: "order", ID: id}
	}
	return o, nil
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, error) {
	var (
		orders []Order
		err    error
	)
	switch {
	case f.State != "":
		if !f.State.Valid() {
			return nil, &InvalidStateError{State: string(f.State)}
		}
		orders, err = s.orders.FindByState(ctx, f.State)
	case f.CustomerRef != "":
		orders, err = s.orders.FindByCustomer(ctx, f.CustomerRef)
	case f.StaffRef != "":
		orders, err = s.orders.FindByStaff(ctx, f.StaffRef)
	default:
		orders, err = s.orders.FindAll(ctx)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	return orders, nil
}

// Wait blocks until every notification handed to the publisher has
// returned. Each one is bounded by the publish timeout.
func (s *Service) Wait() {
	s.events.Wait()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

package order

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mojito-bar/internal/domain/event"
	"github.com/xenking/mojito-bar/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID    map[string]*product.Product
	getErr  error
	lookups []string
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.lookups = append(m.lookups, id)
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

// mockOrderRepo is an in-memory Repository safe for concurrent use.
type mockOrderRepo struct {
	mu      sync.Mutex
	seq     int
	orders  map[string]Order
	saves   int
	saveErr error
	findErr error
	updErr  error
}

func newOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: map[string]Order{}}
}

func (m *mockOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *mockOrderRepo) filter(keep func(Order) bool) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for i := 1; i <= m.seq; i++ {
		if o, ok := m.orders[strconv.Itoa(i)]; ok && keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (m *mockOrderRepo) FindAll(_ context.Context) ([]Order, error) {
	return m.filter(func(Order) bool { return true }), nil
}

func (m *mockOrderRepo) FindByState(_ context.Context, s State) ([]Order, error) {
	return m.filter(func(o Order) bool { return o.State == s }), nil
}

func (m *mockOrderRepo) FindByCustomer(_ context.Context, ref string) ([]Order, error) {
	return m.filter(func(o Order) bool { return o.CustomerRef == ref }), nil
}

func (m *mockOrderRepo) FindByStaff(_ context.Context, ref string) ([]Order, error) {
	return m.filter(func(o Order) bool { return o.StaffRef == ref }), nil
}

func (m *mockOrderRepo) Save(_ context.Context, o *Order, lines []Line) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.seq++
	saved := *o
	saved.ID = strconv.Itoa(m.seq)
	saved.Lines = make([]Line, len(lines))
	for i, l := range lines {
		l.ID = strconv.Itoa(i + 1)
		l.OrderID = saved.ID
		saved.Lines[i] = l
	}
	m.orders[saved.ID] = saved
	return &saved, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *Order) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updErr != nil {
		return nil, m.updErr
	}
	stored, ok := m.orders[o.ID]
	if !ok {
		return nil, ErrNotFound
	}
	stored.State = o.State
	stored.Total = o.Total
	m.orders[o.ID] = stored
	return &stored, nil
}

type publishedEvent struct {
	channel string
	body    string
	ctxErr  error
}

type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, p event.Payload) {
	var e jx.Encoder
	p.Encode(&e)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{channel: channel, body: e.String(), ctxErr: ctx.Err()})
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// --- Helpers ---

func newTestProduct(id, name string, price decimal.Decimal, available bool) product.Product {
	return product.Product{
		ID:        id,
		Name:      name,
		Price:     price,
		Category:  "cocktail",
		Available: available,
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

var fixedNow = time.Date(2026, 10, 16, 21, 0, 0, 0, time.UTC)

func newTestService(products *mockProductRepo, orders *mockOrderRepo, pub event.Publisher) *Service {
	return NewService(products, orders, pub, WithClock(func() time.Time { return fixedNow }))
}

// --- PlaceOrder ---

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name      string
		req       PlaceOrderRequest
		wantField string
	}{
		{
			name:      "missing staff",
			req:       PlaceOrderRequest{Items: []ItemRequest{{ProductID: "1", Quantity: 1}}},
			wantField: "staffRef",
		},
		{
			name:      "no items",
			req:       PlaceOrderRequest{StaffRef: "2"},
			wantField: "items",
		},
		{
			name:      "empty items",
			req:       PlaceOrderRequest{StaffRef: "2", Items: []ItemRequest{}},
			wantField: "items",
		},
		{
			name:      "zero quantity",
			req:       PlaceOrderRequest{StaffRef: "2", Items: []ItemRequest{{ProductID: "1", Quantity: 0}}},
			wantField: "quantity",
		},
		{
			name:      "missing product id",
			req:       PlaceOrderRequest{StaffRef: "2", Items: []ItemRequest{{Quantity: 1}}},
			wantField: "productId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
			orders := newOrderRepo()
			pub := &mockPublisher{}
			svc := newTestService(products, orders, pub)

			_, err := svc.PlaceOrder(context.Background(), tt.req)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.Empty(t, products.lookups, "validation must happen before catalog lookups")
			assert.Zero(t, orders.saves)
			assert.Zero(t, pub.count())
		})
	}
}

func TestPlaceOrder_Scenario(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	orders := newOrderRepo()
	pub := &mockPublisher{}
	svc := newTestService(products, orders, pub)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef:    "2",
		CustomerRef: "1",
		Items:       []ItemRequest{{ProductID: "1", Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, "1", o.ID)
	assert.Equal(t, StatePending, o.State)
	assert.Equal(t, "2", o.StaffRef)
	assert.Equal(t, "1", o.CustomerRef)
	assert.True(t, decimal.NewFromInt(13000).Equal(o.Total))
	require.Len(t, o.Lines, 1)
	assert.True(t, decimal.NewFromInt(13000).Equal(o.Lines[0].Subtotal))
	assert.True(t, decimal.NewFromInt(6500).Equal(o.Lines[0].UnitPrice))
	assert.Equal(t, "Mojito", o.Lines[0].ProductName)

	svc.Wait()
	require.Len(t, pub.events, 1)
	assert.Equal(t, ChannelOrderCreated, pub.events[0].channel)
	assert.JSONEq(t,
		`{"orderId":"1","state":"pending","total":13000,"lineCount":1,"timestamp":"2026-10-16T21:00:00Z"}`,
		pub.events[0].body,
	)
}

func TestPlaceOrder_TotalIsSumOfSubtotals(t *testing.T) {
	products := newProductRepo(
		newTestProduct("1", "Mojito", decimal.RequireFromString("6500"), true),
		newTestProduct("2", "Cuba Libre", decimal.RequireFromString("4200.50"), true),
		newTestProduct("3", "Water", decimal.RequireFromString("0.99"), true),
	)
	svc := newTestService(products, newOrderRepo(), nil)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items: []ItemRequest{
			{ProductID: "1", Quantity: 1},
			{ProductID: "2", Quantity: 3},
			{ProductID: "3", Quantity: 7},
		},
	})
	require.NoError(t, err)

	want := decimal.Zero
	for _, l := range o.Lines {
		want = want.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		assert.True(t, l.Consistent())
	}
	assert.True(t, want.Equal(o.Total), "total %s, want %s", o.Total, want)
	assert.True(t, decimal.RequireFromString("19108.43").Equal(o.Total))
}

func TestPlaceOrder_PriceSnapshot(t *testing.T) {
	p := newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true)
	products := newProductRepo(p)
	orders := newOrderRepo()
	svc := newTestService(products, orders, nil)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)

	products.byID["1"].Price = decimal.NewFromInt(9000)

	stored, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6500).Equal(stored.Lines[0].UnitPrice))
}

func TestPlaceOrder_UnavailableProduct(t *testing.T) {
	products := newProductRepo(
		newTestProduct("1", "Daiquiri", decimal.NewFromInt(5000), true),
		newTestProduct("7", "Mojito", decimal.NewFromInt(6500), false),
	)
	orders := newOrderRepo()
	pub := &mockPublisher{}
	svc := newTestService(products, orders, pub)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items: []ItemRequest{
			{ProductID: "1", Quantity: 1},
			{ProductID: "7", Quantity: 1},
		},
	})

	var uErr *UnavailableError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, "Mojito", uErr.Name)
	assert.Contains(t, err.Error(), "Mojito")
	assert.Zero(t, orders.saves)
	assert.Zero(t, pub.count())
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	orders := newOrderRepo()
	pub := &mockPublisher{}
	svc := newTestService(products, orders, pub)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items: []ItemRequest{
			{ProductID: "1", Quantity: 1},
			{ProductID: "missing", Quantity: 1},
		},
	})

	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "product", nfErr.Kind)
	assert.Equal(t, "missing", nfErr.ID)
	assert.Zero(t, orders.saves, "no partial order may be persisted")
	assert.Zero(t, pub.count())
}

func TestPlaceOrder_CatalogError(t *testing.T) {
	products := &mockProductRepo{getErr: errors.New("connection reset")}
	orders := newOrderRepo()
	svc := newTestService(products, orders, nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Zero(t, orders.saves)
}

func TestPlaceOrder_SaveError(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	orders := newOrderRepo()
	orders.saveErr = errors.New("db write failed")
	pub := &mockPublisher{}
	svc := newTestService(products, orders, pub)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Contains(t, err.Error(), "save order")
	assert.ErrorIs(t, err, orders.saveErr)
	svc.Wait()
	assert.Zero(t, pub.count(), "no notification after a failed write")
}

func TestPlaceOrder_NilPublisher(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	svc := newTestService(products, newOrderRepo(), nil)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
}

func TestPlaceOrder_PublishDetachedFromCancellation(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	pub := &mockPublisher{}
	svc := newTestService(products, newOrderRepo(), pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)

	svc.Wait()
	require.Len(t, pub.events, 1)
	assert.NoError(t, pub.events[0].ctxErr)
}

type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (b *blockingPublisher) Publish(ctx context.Context, _ string, _ event.Payload) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		b.ctxErr = ctx.Err()
	}
}

func TestPlaceOrder_DoesNotWaitForDelivery(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	pub := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(products, newOrderRepo(), pub)

	start := time.Now()
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-pub.started:
	case <-time.After(5 * time.Second):
		t.Fatal("event was never handed to the publisher")
	}
	close(pub.release)
	svc.Wait()
	assert.NoError(t, pub.ctxErr)
}

func TestPlaceOrder_PublishTimeout(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	pub := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(products, newOrderRepo(), pub, WithPublishTimeout(50*time.Millisecond))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)

	svc.Wait()
	assert.ErrorIs(t, pub.ctxErr, context.DeadlineExceeded)
}

// --- ChangeState ---

func placeOne(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 2}},
	})
	require.NoError(t, err)
	svc.Wait()
	return o
}

func TestChangeState(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	pub := &mockPublisher{}
	svc := newTestService(products, newOrderRepo(), pub)
	o := placeOne(t, svc)

	updated, err := svc.ChangeState(context.Background(), o.ID, StatePreparing)
	require.NoError(t, err)

	assert.Equal(t, StatePreparing, updated.State)
	assert.True(t, decimal.NewFromInt(13000).Equal(updated.Total))

	svc.Wait()
	require.Len(t, pub.events, 2)
	assert.Equal(t, ChannelOrderStateChanged, pub.events[1].channel)
	assert.JSONEq(t,
		`{"orderId":"1","previousState":"pending","newState":"preparing","timestamp":"2026-10-16T21:00:00Z"}`,
		pub.events[1].body,
	)
}

func TestChangeState_CancelFromAnyOpenState(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	svc := newTestService(products, newOrderRepo(), nil)

	for _, from := range []State{StatePending, StatePreparing, StateReady} {
		o := placeOne(t, svc)
		_, err := svc.ChangeState(context.Background(), o.ID, from)
		require.NoError(t, err)

		updated, err := svc.ChangeState(context.Background(), o.ID, StateCancelled)
		require.NoError(t, err, "%s -> cancelled", from)
		assert.Equal(t, StateCancelled, updated.State)
	}
}

func TestChangeState_NotFound(t *testing.T) {
	pub := &mockPublisher{}
	svc := newTestService(newProductRepo(), newOrderRepo(), pub)

	_, err := svc.ChangeState(context.Background(), "404", StateReady)

	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "order", nfErr.Kind)
	assert.Equal(t, "404", nfErr.ID)
	assert.Zero(t, pub.count())
}

func TestChangeState_InvalidState(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	orders := newOrderRepo()
	pub := &mockPublisher{}
	svc := newTestService(products, orders, pub)
	o := placeOne(t, svc)

	_, err := svc.ChangeState(context.Background(), o.ID, State("pagado"))

	var isErr *InvalidStateError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, "pagado", isErr.State)
	svc.Wait()
	assert.Equal(t, 1, pub.count(), "only the creation event")

	stored, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, stored.State)
}

func TestChangeState_UpdateMissing(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	orders := newOrderRepo()
	svc := newTestService(products, orders, nil)
	o := placeOne(t, svc)
	orders.updErr = ErrNotFound

	_, err := svc.ChangeState(context.Background(), o.ID, StateReady)

	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestChangeState_UpdateError(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	orders := newOrderRepo()
	pub := &mockPublisher{}
	svc := newTestService(products, orders, pub)
	o := placeOne(t, svc)
	orders.updErr = errors.New("deadlock detected")

	_, err := svc.ChangeState(context.Background(), o.ID, StateReady)

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	svc.Wait()
	assert.Equal(t, 1, pub.count())
}

func TestChangeState_ConcurrentLastWriteWins(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	svc := newTestService(products, newOrderRepo(), nil)
	o := placeOne(t, svc)

	targets := []State{StateReady, StateCancelled}
	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ChangeState(context.Background(), o.ID, target)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	stored, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Contains(t, targets, stored.State)
}

// --- Queries ---

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(newProductRepo(), newOrderRepo(), nil)

	_, err := svc.Get(context.Background(), "nope")

	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestList(t *testing.T) {
	products := newProductRepo(newTestProduct("1", "Mojito", decimal.NewFromInt(6500), true))
	svc := newTestService(products, newOrderRepo(), nil)

	a, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "2", CustomerRef: "10",
		Items: []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		StaffRef: "3",
		Items:    []ItemRequest{{ProductID: "1", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.ChangeState(context.Background(), a.ID, StateReady)
	require.NoError(t, err)

	all, err := svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ready, err := svc.List(context.Background(), ListFilter{State: StateReady})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)

	byCustomer, err := svc.List(context.Background(), ListFilter{CustomerRef: "10"})
	require.NoError(t, err)
	assert.Len(t, byCustomer, 1)

	byStaff, err := svc.List(context.Background(), ListFilter{StaffRef: "3"})
	require.NoError(t, err)
	assert.Len(t, byStaff, 1)

	_, err = svc.List(context.Background(), ListFilter{State: "pagado"})
	var isErr *InvalidStateError
	require.ErrorAs(t, err, &isErr)
}

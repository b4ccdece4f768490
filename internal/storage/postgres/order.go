package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/mojito-bar/internal/domain/order"
)

const (
	orderColumns = `id::text, COALESCE(customer_ref, ''), staff_ref, state, total, created_at`

	insertOrderSQL = `INSERT INTO orders (customer_ref, staff_ref, state, total, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5)
		RETURNING ` + orderColumns

	insertLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text`

	updateOrderSQL = `UPDATE orders SET state = $2, total = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + orderColumns

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		ORDER BY created_at DESC, id DESC`

	listOrdersByStateSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE state = $1 ORDER BY created_at, id`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_ref = $1 ORDER BY created_at DESC, id DESC`

	listOrdersByStaffSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE staff_ref = $1 ORDER BY created_at DESC, id DESC`

	listLinesSQL = `SELECT l.id::text, l.order_id::text, l.product_id, COALESCE(p.name, ''),
			l.quantity, l.unit_price, l.subtotal
		FROM order_lines l
		LEFT JOIN products p ON p.id = l.product_id
		WHERE l.order_id = ANY($1)
		ORDER BY l.order_id, l.id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Orders
// live in the orders table and their lines in order_lines.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Save inserts the order and all of its lines in a single transaction. Any
// failure rolls back every insert and is returned to the caller.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order, lines []order.Line) (*order.Order, error) {
	var saved order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, insertOrderSQL, o.CustomerRef, o.StaffRef, string(o.State), o.Total, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}
		saved, err = pgx.CollectExactlyOneRow(rows, scanOrder)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		saved.Lines = make([]order.Line, 0, len(lines))
		for _, l := range lines {
			if err := tx.QueryRow(ctx, insertLineSQL,
				saved.ID, l.ProductID, l.Quantity, l.UnitPrice, l.Subtotal,
			).Scan(&l.ID); err != nil {
				return fmt.Errorf("inserting line for product %q: %w", l.ProductID, err)
			}
			l.OrderID = saved.ID
			saved.Lines = append(saved.Lines, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// Update writes the state and total of an existing order. It returns
// order.ErrNotFound when no row matches.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) (*order.Order, error) {
	id, ok := parseID(o.ID)
	if !ok {
		return nil, order.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, updateOrderSQL, id, string(o.State), o.Total)
	if err != nil {
		return nil, fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	updated, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("updating order %q: %w", o.ID, err)
	}

	out := []order.Order{updated}
	if err := r.attachLines(ctx, out); err != nil {
		return nil, err
	}
	return &out[0], nil
}

// FindByID returns the order with its lines, or nil when it does not exist.
// Identifiers that are not integers never match.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, nil
	}

	orders, err := r.list(ctx, getOrderByIDSQL, n)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// FindAll returns every order, newest first.
func (r *OrderRepository) FindAll(ctx context.Context) ([]order.Order, error) {
	orders, err := r.list(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// FindByState returns orders in the given state, oldest first.
func (r *OrderRepository) FindByState(ctx context.Context, state order.State) ([]order.Order, error) {
	orders, err := r.list(ctx, listOrdersByStateSQL, string(state))
	if err != nil {
		return nil, fmt.Errorf("listing orders in state %q: %w", state, err)
	}
	return orders, nil
}

// FindByCustomer returns orders placed for a customer, newest first.
func (r *OrderRepository) FindByCustomer(ctx context.Context, customerRef string) ([]order.Order, error) {
	orders, err := r.list(ctx, listOrdersByCustomerSQL, customerRef)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %q: %w", customerRef, err)
	}
	return orders, nil
}

// FindByStaff returns orders entered by a staff member, newest first.
func (r *OrderRepository) FindByStaff(ctx context.Context, staffRef string) ([]order.Order, error) {
	orders, err := r.list(ctx, listOrdersByStaffSQL, staffRef)
	if err != nil {
		return nil, fmt.Errorf("listing orders of staff %q: %w", staffRef, err)
	}
	return orders, nil
}

func (r *OrderRepository) list(ctx context.Context, sql string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachLines loads the lines of all given orders with one query.
func (r *OrderRepository) attachLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		n, _ := parseID(o.ID)
		ids = append(ids, n)
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanLine)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}

	for _, l := range lines {
		i := index[l.OrderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return nil
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o     order.Order
		state string
	)
	err := row.Scan(&o.ID, &o.CustomerRef, &o.StaffRef, &state, &o.Total, &o.CreatedAt)
	o.State = order.State(state)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, err
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.Subtotal)
	return l, err
}

package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
)

const (
	inventoryColumns = `id, name, quantity, unit, kind, min_stock`

	listInventorySQL = `SELECT ` + inventoryColumns + `
		FROM inventory_items ORDER BY id`

	listLowStockSQL = `SELECT ` + inventoryColumns + `
		FROM inventory_items WHERE quantity < min_stock ORDER BY id`

	getInventoryByIDSQL = `SELECT ` + inventoryColumns + `
		FROM inventory_items WHERE id = $1`

	updateInventorySQL = `UPDATE inventory_items
		SET quantity = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + inventoryColumns

	upsertInventorySQL = `INSERT INTO inventory_items (id, name, quantity, unit, kind, min_stock)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			quantity = EXCLUDED.quantity,
			unit = EXCLUDED.unit,
			kind = EXCLUDED.kind,
			min_stock = EXCLUDED.min_stock,
			updated_at = now()`
)

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository backed by PostgreSQL.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

func (r *InventoryRepository) FindByID(ctx context.Context, id string) (*inventory.Item, error) {
	rows, err := r.pool.Query(ctx, getInventoryByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting inventory item %q: %w", id, err)
	}
	return collectItem(rows, id)
}

func (r *InventoryRepository) List(ctx context.Context) ([]inventory.Item, error) {
	rows, err := r.pool.Query(ctx, listInventorySQL)
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	return pgx.CollectRows(rows, scanItem)
}

func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]inventory.Item, error) {
	rows, err := r.pool.Query(ctx, listLowStockSQL)
	if err != nil {
		return nil, fmt.Errorf("listing low stock: %w", err)
	}
	return pgx.CollectRows(rows, scanItem)
}

// Update writes the item's quantity and returns the stored row.
func (r *InventoryRepository) Update(ctx context.Context, item *inventory.Item) (*inventory.Item, error) {
	rows, err := r.pool.Query(ctx, updateInventorySQL, item.ID, item.Quantity)
	if err != nil {
		return nil, fmt.Errorf("updating inventory item %q: %w", item.ID, err)
	}
	return collectItem(rows, item.ID)
}

// Upsert inserts or replaces the given items in one batch.
func (r *InventoryRepository) Upsert(ctx context.Context, items []inventory.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(upsertInventorySQL, it.ID, it.Name, it.Quantity, it.Unit, it.Kind, it.MinStock)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d inventory items: %w", len(items), err)
	}
	return nil
}

func collectItem(rows pgx.Rows, id string) (*inventory.Item, error) {
	it, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("reading inventory item %q: %w", id, err)
	}
	return &it, nil
}

func scanItem(row pgx.CollectableRow) (inventory.Item, error) {
	var it inventory.Item
	err := row.Scan(&it.ID, &it.Name, &it.Quantity, &it.Unit, &it.Kind, &it.MinStock)
	return it, err
}

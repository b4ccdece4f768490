package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
)

type inventoryDocument struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Quantity  primitive.Decimal128 `bson:"quantity"`
	Unit      string               `bson:"unit"`
	Kind      string               `bson:"kind"`
	MinStock  primitive.Decimal128 `bson:"minStock"`
	UpdatedAt time.Time            `bson:"updatedAt"`
}

func newInventoryDocument(it inventory.Item, now time.Time) (inventoryDocument, error) {
	q, err := toDecimal128(it.Quantity)
	if err != nil {
		return inventoryDocument{}, err
	}
	minStock, err := toDecimal128(it.MinStock)
	if err != nil {
		return inventoryDocument{}, err
	}
	return inventoryDocument{
		ID:        it.ID,
		Name:      it.Name,
		Quantity:  q,
		Unit:      it.Unit,
		Kind:      it.Kind,
		MinStock:  minStock,
		UpdatedAt: now,
	}, nil
}

func (d inventoryDocument) toItem() (inventory.Item, error) {
	q, err := fromDecimal128(d.Quantity)
	if err != nil {
		return inventory.Item{}, err
	}
	minStock, err := fromDecimal128(d.MinStock)
	if err != nil {
		return inventory.Item{}, err
	}
	return inventory.Item{
		ID:       d.ID,
		Name:     d.Name,
		Quantity: q,
		Unit:     d.Unit,
		Kind:     d.Kind,
		MinStock: minStock,
	}, nil
}

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository on a MongoDB
// collection.
type InventoryRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewInventoryRepository returns an InventoryRepository using the inventory
// collection of db.
func NewInventoryRepository(db *mongo.Database) *InventoryRepository {
	return &InventoryRepository{
		coll: db.Collection(InventoryCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *InventoryRepository) FindByID(ctx context.Context, id string) (*inventory.Item, error) {
	var doc inventoryDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("getting inventory item %q: %w", id, err)
	}
	it, err := doc.toItem()
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *InventoryRepository) List(ctx context.Context) ([]inventory.Item, error) {
	return r.find(ctx, bson.M{})
}

// ListLowStock returns items whose quantity is below their minimum stock.
func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]inventory.Item, error) {
	return r.find(ctx, bson.M{"$expr": bson.M{"$lt": bson.A{"$quantity", "$minStock"}}})
}

func (r *InventoryRepository) find(ctx context.Context, filter bson.M) ([]inventory.Item, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}

	var docs []inventoryDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}

	items := make([]inventory.Item, 0, len(docs))
	for _, d := range docs {
		it, err := d.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// Update sets the quantity and returns the document as it is after the
// update.
func (r *InventoryRepository) Update(ctx context.Context, item *inventory.Item) (*inventory.Item, error) {
	q, err := toDecimal128(item.Quantity)
	if err != nil {
		return nil, err
	}
	update := bson.M{"$set": bson.M{
		"quantity":  q,
		"updatedAt": r.now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc inventoryDocument
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": item.ID}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("updating inventory item %q: %w", item.ID, err)
	}
	updated, err := doc.toItem()
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Upsert inserts or replaces the given items with one bulk write.
func (r *InventoryRepository) Upsert(ctx context.Context, items []inventory.Item) error {
	if len(items) == 0 {
		return nil
	}

	now := r.now()
	models := make([]mongo.WriteModel, 0, len(items))
	for _, it := range items {
		doc, err := newInventoryDocument(it, now)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": it.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := r.coll.BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("upserting %d inventory items: %w", len(items), err)
	}
	return nil
}

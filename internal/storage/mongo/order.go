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

	"github.com/xenking/mojito-bar/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on a MongoDB collection.
type OrderRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewOrderRepository returns an OrderRepository using the orders collection
// of db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{
		coll: db.Collection(OrdersCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Save stores the order and its lines as one document with a single insert.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order, lines []order.Line) (*order.Order, error) {
	doc, err := newOrderDocument(o, lines)
	if err != nil {
		return nil, err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("inserting order: %w", err)
	}

	saved, err := doc.toOrder()
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// Update sets state and total on the stored document and returns the
// document as it is after the update. It returns order.ErrNotFound when no
// document matches.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) (*order.Order, error) {
	id, err := primitive.ObjectIDFromHex(o.ID)
	if err != nil {
		return nil, order.ErrNotFound
	}
	total, err := toDecimal128(o.Total)
	if err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{
		"state":     string(o.State),
		"total":     total,
		"updatedAt": r.now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc orderDocument
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("updating order %q: %w", o.ID, err)
	}

	updated, err := doc.toOrder()
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// FindByID returns the order or nil when it does not exist. Identifiers that
// are not valid object ids never match.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var doc orderDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := doc.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindAll returns every order, newest first.
func (r *OrderRepository) FindAll(ctx context.Context) ([]order.Order, error) {
	return r.find(ctx, bson.M{}, -1)
}

// FindByState returns orders in the given state, oldest first.
func (r *OrderRepository) FindByState(ctx context.Context, state order.State) ([]order.Order, error) {
	return r.find(ctx, bson.M{"state": string(state)}, 1)
}

// FindByCustomer returns orders whose embedded customer has the given id,
// newest first.
func (r *OrderRepository) FindByCustomer(ctx context.Context, customerRef string) ([]order.Order, error) {
	return r.find(ctx, bson.M{"customer.id": customerRef}, -1)
}

// FindByStaff returns orders whose embedded staff member has the given id,
// newest first.
func (r *OrderRepository) FindByStaff(ctx context.Context, staffRef string) ([]order.Order, error) {
	return r.find(ctx, bson.M{"staff.id": staffRef}, -1)
}

func (r *OrderRepository) find(ctx context.Context, filter bson.M, direction int) ([]order.Order, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "createdAt", Value: direction},
		{Key: "_id", Value: direction},
	})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("finding orders: %w", err)
	}

	var docs []orderDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding orders: %w", err)
	}

	orders := make([]order.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

package mongo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xenking/mojito-bar/internal/domain/order"
	"github.com/xenking/mojito-bar/internal/domain/product"
)

type orderDocument struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty"`
	Customer  *customerRef         `bson:"customer,omitempty"`
	Staff     staffRef             `bson:"staff"`
	State     string               `bson:"state"`
	Total     primitive.Decimal128 `bson:"total"`
	Lines     []lineDocument       `bson:"lines"`
	CreatedAt time.Time            `bson:"createdAt"`
	UpdatedAt time.Time            `bson:"updatedAt"`
}

type customerRef struct {
	ID    string `bson:"id"`
	Name  string `bson:"name,omitempty"`
	Email string `bson:"email,omitempty"`
}

type staffRef struct {
	ID   string `bson:"id"`
	Name string `bson:"name,omitempty"`
	Role string `bson:"role,omitempty"`
}

type lineDocument struct {
	ProductID   string               `bson:"productId"`
	ProductName string               `bson:"productName"`
	Quantity    int                  `bson:"quantity"`
	UnitPrice   primitive.Decimal128 `bson:"unitPrice"`
	Subtotal    primitive.Decimal128 `bson:"subtotal"`
}

type productDocument struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Category  string               `bson:"category"`
	Available bool                 `bson:"available"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("converting %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("converting decimal128 %s: %w", v, err)
	}
	return d, nil
}

// newOrderDocument builds the document for an order that has not been
// stored yet.
func newOrderDocument(o *order.Order, lines []order.Line) (orderDocument, error) {
	total, err := toDecimal128(o.Total)
	if err != nil {
		return orderDocument{}, err
	}

	// BSON datetimes keep milliseconds.
	created := o.CreatedAt.UTC().Truncate(time.Millisecond)
	doc := orderDocument{
		ID:        primitive.NewObjectID(),
		Staff:     staffRef{ID: o.StaffRef, Name: o.StaffName},
		State:     string(o.State),
		Total:     total,
		Lines:     make([]lineDocument, 0, len(lines)),
		CreatedAt: created,
		UpdatedAt: created,
	}
	if o.CustomerRef != "" {
		doc.Customer = &customerRef{ID: o.CustomerRef, Name: o.CustomerName}
	}

	for _, l := range lines {
		unit, err := toDecimal128(l.UnitPrice)
		if err != nil {
			return orderDocument{}, err
		}
		sub, err := toDecimal128(l.Subtotal)
		if err != nil {
			return orderDocument{}, err
		}
		doc.Lines = append(doc.Lines, lineDocument{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   unit,
			Subtotal:    sub,
		})
	}
	return doc, nil
}

// toOrder maps a stored document to the aggregate. Embedded lines have no
// identity of their own and are numbered by position.
func (d orderDocument) toOrder() (order.Order, error) {
	total, err := fromDecimal128(d.Total)
	if err != nil {
		return order.Order{}, err
	}

	o := order.Order{
		ID:        d.ID.Hex(),
		StaffRef:  d.Staff.ID,
		StaffName: d.Staff.Name,
		State:     order.State(d.State),
		Total:     total,
		CreatedAt: d.CreatedAt.UTC(),
		Lines:     make([]order.Line, 0, len(d.Lines)),
	}
	if d.Customer != nil {
		o.CustomerRef = d.Customer.ID
		o.CustomerName = d.Customer.Name
	}

	for i, ld := range d.Lines {
		unit, err := fromDecimal128(ld.UnitPrice)
		if err != nil {
			return order.Order{}, err
		}
		sub, err := fromDecimal128(ld.Subtotal)
		if err != nil {
			return order.Order{}, err
		}
		o.Lines = append(o.Lines, order.Line{
			ID:          strconv.Itoa(i + 1),
			OrderID:     o.ID,
			ProductID:   ld.ProductID,
			ProductName: ld.ProductName,
			Quantity:    ld.Quantity,
			UnitPrice:   unit,
			Subtotal:    sub,
		})
	}
	return o, nil
}

func newProductDocument(p product.Product) (productDocument, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDocument{}, err
	}
	return productDocument{
		ID:        p.ID,
		Name:      p.Name,
		Price:     price,
		Category:  p.Category,
		Available: p.Available,
	}, nil
}

func (d productDocument) toProduct() (product.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return product.Product{}, err
	}
	return product.Product{
		ID:        d.ID,
		Name:      d.Name,
		Price:     price,
		Category:  d.Category,
		Available: d.Available,
	}, nil
}

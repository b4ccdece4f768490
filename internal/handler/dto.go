package handler

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/mojito-bar/internal/domain/order"
	"github.com/xenking/mojito-bar/internal/domain/product"
)

// decodePlaceOrder parses
//
//	{"staffRef": "2", "customerRef": "1", "items": [{"productId": "1", "quantity": 2}]}
//
// References and product ids may be JSON strings or integers. Unknown fields
// are ignored.
func decodePlaceOrder(data []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "staffRef":
			req.StaffRef, err = decodeRef(d)
		case "customerRef":
			req.CustomerRef, err = decodeRef(d)
		case "items":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		return nil
	})
	if err != nil {
		return order.PlaceOrderRequest{}, &order.ValidationError{Field: "body", Reason: err.Error()}
	}
	return req, nil
}

func decodeItem(d *jx.Decoder) (order.ItemRequest, error) {
	var item order.ItemRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			item.ProductID, err = decodeRef(d)
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		return nil
	})
	return item, err
}

// decodeRef reads an identifier given as a string, an integer or null.
func decodeRef(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Int64()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.New("expected string or integer")
	}
}

// decodeStateChange parses {"state": "ready"}.
func decodeStateChange(data []byte) (order.State, error) {
	var (
		state string
		found bool
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "state" {
			return d.Skip()
		}
		found = true
		var err error
		state, err = d.Str()
		return err
	})
	if err != nil {
		return "", &order.ValidationError{Field: "body", Reason: err.Error()}
	}
	if !found {
		return "", &order.ValidationError{Field: "state", Reason: "required"}
	}
	return order.State(state), nil
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	if o.CustomerRef != "" {
		e.FieldStart("customerRef")
		e.Str(o.CustomerRef)
	}
	if o.CustomerName != "" {
		e.FieldStart("customerName")
		e.Str(o.CustomerName)
	}
	e.FieldStart("staffRef")
	e.Str(o.StaffRef)
	if o.StaffName != "" {
		e.FieldStart("staffName")
		e.Str(o.StaffName)
	}
	e.FieldStart("state")
	e.Str(string(o.State))
	e.FieldStart("total")
	e.Num(jx.Num(o.Total.String()))
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		encodeLine(e, l)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeLine(e *jx.Encoder, l order.Line) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(l.ID)
	e.FieldStart("productId")
	e.Str(l.ProductID)
	e.FieldStart("productName")
	e.Str(l.ProductName)
	e.FieldStart("quantity")
	e.Int(l.Quantity)
	e.FieldStart("unitPrice")
	e.Num(jx.Num(l.UnitPrice.String()))
	e.FieldStart("subtotal")
	e.Num(jx.Num(l.Subtotal.String()))
	e.ObjEnd()
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Num(jx.Num(p.Price.String()))
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("available")
	e.Bool(p.Available)
	e.ObjEnd()
}

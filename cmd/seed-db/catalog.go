package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
	"github.com/xenking/mojito-bar/internal/domain/product"
)

// catalog is everything the tool writes to a storage target.
type catalog struct {
	products  []product.Product
	inventory []inventory.Item
}

// readCatalog reads a JSON array of products from path. Files ending in .gz
// are gunzipped.
func readCatalog(path string) ([]product.Product, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return parseCatalog(data)
}

// readInventory reads a JSON array of inventory items from path.
func readInventory(path string) ([]inventory.Item, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return parseInventory(data)
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip reader")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// parseCatalog decodes products. Ids may be strings or numbers; available
// defaults to true.
func parseCatalog(data []byte) ([]product.Product, error) {
	var (
		out  []product.Product
		seen = map[string]struct{}{}
	)
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p := product.Product{Available: true}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = decodeID(d)
			case "name":
				p.Name, err = d.Str()
			case "price":
				p.Price, err = decodePrice(d)
			case "category":
				p.Category, err = d.Str()
			case "available":
				p.Available, err = d.Bool()
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "product %d", len(out))
		}

		switch {
		case p.ID == "":
			return errors.Errorf("product %d: id is required", len(out))
		case p.Name == "":
			return errors.Errorf("product %s: name is required", p.ID)
		case p.Price.IsNegative():
			return errors.Errorf("product %s: negative price %s", p.ID, p.Price)
		}
		if _, ok := seen[p.ID]; ok {
			return errors.Errorf("duplicate product id %s", p.ID)
		}
		seen[p.ID] = struct{}{}

		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	return out, nil
}

// parseInventory decodes inventory items. Quantities must not be negative.
func parseInventory(data []byte) ([]inventory.Item, error) {
	var (
		out  []inventory.Item
		seen = map[string]struct{}{}
	)
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var it inventory.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				it.ID, err = decodeID(d)
			case "name":
				it.Name, err = d.Str()
			case "quantity":
				it.Quantity, err = decodePrice(d)
			case "unit":
				it.Unit, err = d.Str()
			case "kind":
				it.Kind, err = d.Str()
			case "minStock":
				it.MinStock, err = decodePrice(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "item %d", len(out))
		}

		switch {
		case it.ID == "":
			return errors.Errorf("item %d: id is required", len(out))
		case it.Name == "":
			return errors.Errorf("item %s: name is required", it.ID)
		case it.Quantity.IsNegative(), it.MinStock.IsNegative():
			return errors.Errorf("item %s: negative quantity", it.ID)
		}
		if _, ok := seen[it.ID]; ok {
			return errors.Errorf("duplicate item id %s", it.ID)
		}
		seen[it.ID] = struct{}{}

		out = append(out, it)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse inventory")
	}
	return out, nil
}

// decodePrice reads a decimal given as a JSON number or string.
func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	}
	return decimal.NewFromString(raw)
}

func decodeID(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Number {
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	}
	return d.Str()
}

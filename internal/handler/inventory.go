package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
)

// ListInventory returns stock levels. With ?lowStock=true only items below
// their minimum stock are listed.
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	lowStock := false
	if v := r.URL.Query().Get("lowStock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid lowStock: expected a boolean")
			return
		}
		lowStock = b
	}

	items, err := h.inventory.List(r.Context(), lowStock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, it := range items {
			encodeItem(e, it)
		}
		e.ArrEnd()
	})
}

// GetInventoryItem returns a single item.
func (h *Handler) GetInventoryItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.inventory.Get(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeItem(e, *it)
	})
}

// SetInventoryQuantity replaces an item's available quantity.
func (h *Handler) SetInventoryQuantity(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	q, err := decodeQuantity(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	it, err := h.inventory.SetQuantity(r.Context(), chi.URLParam(r, "itemId"), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeItem(e, *it)
	})
}

// decodeQuantity parses {"quantity": 12.5}.
func decodeQuantity(data []byte) (decimal.Decimal, error) {
	var (
		q     decimal.Decimal
		found bool
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "quantity" {
			return d.Skip()
		}
		found = true
		n, err := d.Num()
		if err != nil {
			return err
		}
		q, err = decimal.NewFromString(n.String())
		return err
	})
	if err != nil {
		return decimal.Decimal{}, &inventory.ValidationError{Field: "body", Reason: err.Error()}
	}
	if !found {
		return decimal.Decimal{}, &inventory.ValidationError{Field: "quantity", Reason: "required"}
	}
	return q, nil
}

func encodeItem(e *jx.Encoder, it inventory.Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("name")
	e.Str(it.Name)
	e.FieldStart("quantity")
	e.Num(jx.Num(it.Quantity.String()))
	e.FieldStart("unit")
	e.Str(it.Unit)
	e.FieldStart("kind")
	e.Str(it.Kind)
	e.FieldStart("minStock")
	e.Num(jx.Num(it.MinStock.String()))
	e.FieldStart("lowStock")
	e.Bool(it.LowStock())
	e.ObjEnd()
}

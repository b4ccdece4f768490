package handler

import (
	"net/http"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
)

func mintItem() *inventory.Item {
	return &inventory.Item{
		ID:       "3",
		Name:     "Mint",
		Quantity: decimal.RequireFromString("12.5"),
		Unit:     "leaves",
		Kind:     "garnish",
		MinStock: decimal.NewFromInt(20),
	}
}

func TestListInventory(t *testing.T) {
	inv := &mockInventoryService{result: mintItem()}
	srv := newServerWith(t, &mockProductRepo{}, &mockOrderService{}, inv, nil)

	code, body := do(t, http.MethodGet, srv.URL+"/api/inventory?lowStock=true", "", nil)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, inv.lowStock)
	assert.JSONEq(t, `[
		{"id":"3","name":"Mint","quantity":12.5,"unit":"leaves","kind":"garnish","minStock":20,"lowStock":true}
	]`, body)
}

func TestListInventory_BadFilter(t *testing.T) {
	srv := newServerWith(t, &mockProductRepo{}, &mockOrderService{}, &mockInventoryService{}, nil)

	code, _ := do(t, http.MethodGet, srv.URL+"/api/inventory?lowStock=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetInventoryItem_NotFound(t *testing.T) {
	inv := &mockInventoryService{err: &inventory.NotFoundError{ID: "9"}}
	srv := newServerWith(t, &mockProductRepo{}, &mockOrderService{}, inv, nil)

	code, body := do(t, http.MethodGet, srv.URL+"/api/inventory/9", "", nil)

	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"code":404,"message":"inventory item 9 not found"}`, body)
}

func TestSetInventoryQuantity(t *testing.T) {
	inv := &mockInventoryService{result: mintItem()}
	srv := newServerWith(t, &mockProductRepo{}, &mockOrderService{}, inv, nil)

	code, body := do(t, http.MethodPatch, srv.URL+"/api/inventory/3", `{"quantity":12.5}`, nil)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3", inv.setID)
	require.NotNil(t, inv.setQty)
	assert.True(t, decimal.RequireFromString("12.5").Equal(*inv.setQty))
	assert.Contains(t, body, `"lowStock":true`)
}

func TestSetInventoryQuantity_Errors(t *testing.T) {
	for name, tt := range map[string]struct {
		body string
		err  error
		want int
	}{
		"missing quantity": {body: `{}`, want: http.StatusBadRequest},
		"not a number":     {body: `{"quantity":true}`, want: http.StatusBadRequest},
		"negative":         {body: `{"quantity":-1}`, err: &inventory.ValidationError{Field: "quantity", Reason: "must not be negative"}, want: http.StatusBadRequest},
		"unknown item":     {body: `{"quantity":1}`, err: &inventory.NotFoundError{ID: "3"}, want: http.StatusNotFound},
		"storage failure":  {body: `{"quantity":1}`, err: errors.New("db down"), want: http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			inv := &mockInventoryService{err: tt.err}
			srv := newServerWith(t, &mockProductRepo{}, &mockOrderService{}, inv, nil)

			code, _ := do(t, http.MethodPatch, srv.URL+"/api/inventory/3", tt.body, nil)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestSetInventoryQuantity_RequiresAPIKey(t *testing.T) {
	sec, err := NewSecurityHandler([]byte("pepper"), []string{HashAPIKey([]byte("pepper"), "bar")})
	require.NoError(t, err)
	inv := &mockInventoryService{result: mintItem()}
	srv := newServerWith(t, &mockProductRepo{}, &mockOrderService{}, inv, sec)

	code, _ := do(t, http.MethodPatch, srv.URL+"/api/inventory/3", `{"quantity":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Nil(t, inv.setQty)

	code, _ = do(t, http.MethodPatch, srv.URL+"/api/inventory/3", `{"quantity":1}`, http.Header{"Api_key": {"bar"}})
	assert.Equal(t, http.StatusOK, code)
}

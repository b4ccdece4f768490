package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := New("2", "1", now)

	assert.Empty(t, o.ID)
	assert.Equal(t, StatePending, o.State)
	assert.True(t, decimal.Zero.Equal(o.Total))
	assert.Empty(t, o.Lines)
	assert.Equal(t, now, o.CreatedAt)
}

func TestAddLine_RecomputesTotal(t *testing.T) {
	o := New("2", "", time.Now())

	o.AddLine(NewLine("1", "Mojito", 2, decimal.NewFromInt(6500)))
	assert.True(t, decimal.NewFromInt(13000).Equal(o.Total))

	o.AddLine(NewLine("2", "Daiquiri", 3, decimal.RequireFromString("1.10")))
	assert.True(t, decimal.RequireFromString("13003.30").Equal(o.Total))
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "1", o.Lines[0].ProductID, "lines keep insertion order")
}

func TestAddLine_SubtotalPaths(t *testing.T) {
	t.Run("missing subtotal is derived", func(t *testing.T) {
		o := New("2", "", time.Now())
		o.AddLine(Line{ProductID: "1", Quantity: 4, UnitPrice: decimal.NewFromInt(5)})

		assert.True(t, decimal.NewFromInt(20).Equal(o.Lines[0].Subtotal))
		assert.True(t, o.Lines[0].Consistent())
	})

	t.Run("explicit subtotal is kept verbatim", func(t *testing.T) {
		o := New("2", "", time.Now())
		o.AddLine(Line{ProductID: "1", Quantity: 4, UnitPrice: decimal.NewFromInt(5), Subtotal: decimal.NewFromInt(7)})

		assert.True(t, decimal.NewFromInt(7).Equal(o.Total))
		assert.False(t, o.Lines[0].Consistent())
	})

	t.Run("zero unit price stays zero", func(t *testing.T) {
		o := New("2", "", time.Now())
		o.AddLine(Line{ProductID: "1", Quantity: 3, UnitPrice: decimal.Zero})

		assert.True(t, o.Lines[0].Subtotal.IsZero())
		assert.True(t, o.Total.IsZero())
		assert.True(t, o.Lines[0].Consistent())
	})
}

func TestTransitionTo_AcceptsEveryState(t *testing.T) {
	for _, from := range States {
		for _, to := range States {
			o := New("2", "", time.Now())
			o.State = from
			require.NoError(t, o.TransitionTo(to), "%s -> %s", from, to)
			assert.Equal(t, to, o.State)
		}
	}
}

func TestTransitionTo_CancelFromOpenStates(t *testing.T) {
	for _, from := range []State{StatePending, StatePreparing, StateReady} {
		o := New("2", "", time.Now())
		o.State = from
		require.NoError(t, o.TransitionTo(StateCancelled))
		assert.Equal(t, StateCancelled, o.State)
	}
}

func TestTransitionTo_RejectsUnknownState(t *testing.T) {
	for _, s := range []string{"invalid", "pagado", "", "PENDING"} {
		o := New("2", "", time.Now())

		err := o.TransitionTo(State(s))

		var isErr *InvalidStateError
		require.ErrorAs(t, err, &isErr, "state %q", s)
		assert.Equal(t, s, isErr.State)
		assert.Equal(t, StatePending, o.State, "state must not change on rejection")
	}
}

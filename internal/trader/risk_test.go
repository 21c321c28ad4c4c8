package trader

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"main/internal/event"
)

func TestLimitsZeroValueDisablesChecks(t *testing.T) {
	req := SubmitRequest{
		Symbol:   "PUMPUSDT",
		Side:     event.OrderSideBuy,
		Quantity: decimal.NewFromInt(1_000_000),
		Price:    decimal.NewFromInt(1_000_000),
	}
	require.NoError(t, Limits{}.Check(req, decimal.NewFromInt(1_000_000)))
}

func TestLimitsMaxPositionCountsReductions(t *testing.T) {
	limits := Limits{MaxPosition: decimal.NewFromInt(10)}

	// Selling against a long book reduces exposure and passes.
	sell := SubmitRequest{Side: event.OrderSideSell, Quantity: decimal.NewFromInt(4)}
	require.NoError(t, limits.Check(sell, decimal.NewFromInt(10)))

	// Selling past flat into a short larger than the cap fails.
	flip := SubmitRequest{Side: event.OrderSideSell, Quantity: decimal.NewFromInt(25)}
	require.ErrorIs(t, limits.Check(flip, decimal.NewFromInt(10)), ErrMaxPosition)

	// Buying on top of an existing short reduces absolute exposure.
	buy := SubmitRequest{Side: event.OrderSideBuy, Quantity: decimal.NewFromInt(5)}
	require.NoError(t, limits.Check(buy, decimal.NewFromInt(-10)))
}

func TestLimitsNotionalNeedsPrice(t *testing.T) {
	limits := Limits{MaxOrderNotional: decimal.NewFromInt(100)}

	// Market orders carry no price; the notional check cannot apply.
	market := SubmitRequest{Side: event.OrderSideBuy, Quantity: decimal.NewFromInt(1000)}
	require.NoError(t, limits.Check(market, decimal.Zero))

	limit := SubmitRequest{Side: event.OrderSideBuy, Quantity: decimal.NewFromInt(11), Price: decimal.NewFromInt(10)}
	require.ErrorIs(t, limits.Check(limit, decimal.Zero), ErrMaxOrderNotional)
}

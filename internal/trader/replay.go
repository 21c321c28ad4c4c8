package trader

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/event"
)

// ReplayExecutor fills orders deterministically at the price the replayed
// stream most recently produced. No slippage; runs are reproducible.
type ReplayExecutor struct {
	feeRate decimal.Decimal

	mu    sync.RWMutex
	marks map[string]decimal.Decimal
}

// NewReplayExecutor creates an executor for historical runs.
func NewReplayExecutor(feeRate decimal.Decimal) *ReplayExecutor {
	return &ReplayExecutor{
		feeRate: feeRate,
		marks:   make(map[string]decimal.Decimal),
	}
}

func (e *ReplayExecutor) Name() string { return "replay" }

// Mark records the replay cursor's current price for a symbol. The replay
// driver calls this before publishing each historical tick.
func (e *ReplayExecutor) Mark(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks[symbol] = price
}

// Execute fills the full quantity at the current replay price.
func (e *ReplayExecutor) Execute(ctx context.Context, o Order) (ExecutionReport, error) {
	e.mu.RLock()
	mark, ok := e.marks[o.Symbol]
	e.mu.RUnlock()
	if !ok || !mark.IsPositive() {
		return ExecutionReport{
			Status: event.OrderStatusRejected,
			Reason: "replay stream has not produced a price for symbol",
		}, nil
	}
	return ExecutionReport{
		Status:         event.OrderStatusFilled,
		FilledQuantity: o.Quantity,
		FilledPrice:    mark,
		Commission:     mark.Mul(o.Quantity).Mul(e.feeRate),
	}, nil
}

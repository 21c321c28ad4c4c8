package trader

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/bus"
	"main/internal/event"
)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	FeeRate     decimal.Decimal // taker fee as a fraction, e.g. 0.001
	SlippageBps decimal.Decimal // adverse slippage applied to market fills
}

// PaperExecutor fills orders against the last observed market price with
// configurable fee and slippage. Limit orders whose limit is worse than the
// slipped price are rejected, simulating slippage beyond the allowed bound.
type PaperExecutor struct {
	cfg PaperConfig

	mu    sync.RWMutex
	marks map[string]decimal.Decimal
}

// NewPaperExecutor creates a simulator with no known prices yet.
func NewPaperExecutor(cfg PaperConfig) *PaperExecutor {
	return &PaperExecutor{
		cfg:   cfg,
		marks: make(map[string]decimal.Decimal),
	}
}

func (e *PaperExecutor) Name() string { return "paper" }

// Attach subscribes the simulator to market data so fills track the stream.
func (e *PaperExecutor) Attach(hub *bus.Bus) (bus.Subscription, error) {
	return hub.Subscribe(event.TopicMarketData, func(ctx context.Context, p event.Payload) error {
		tick, ok := p.(event.MarketData)
		if !ok {
			return fmt.Errorf("unexpected payload type %T on %s", p, event.TopicMarketData)
		}
		e.Mark(tick.Symbol, tick.Price)
		return nil
	})
}

// Mark sets the simulated market price for a symbol.
func (e *PaperExecutor) Mark(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks[symbol] = price
}

// Execute resolves the order synchronously against the current mark.
func (e *PaperExecutor) Execute(ctx context.Context, o Order) (ExecutionReport, error) {
	e.mu.RLock()
	mark, ok := e.marks[o.Symbol]
	e.mu.RUnlock()
	if !ok || !mark.IsPositive() {
		return ExecutionReport{
			Status: event.OrderStatusRejected,
			Reason: "no market price observed for symbol",
		}, nil
	}

	fillPrice := e.slip(mark, o.Side)
	if o.Kind == event.OrderKindLimit && o.Price.IsPositive() {
		worse := (o.Side == event.OrderSideBuy && fillPrice.GreaterThan(o.Price)) ||
			(o.Side == event.OrderSideSell && fillPrice.LessThan(o.Price))
		if worse {
			return ExecutionReport{
				Status: event.OrderStatusRejected,
				Reason: fmt.Sprintf("slippage beyond limit price: fill %s vs limit %s", fillPrice, o.Price),
			}, nil
		}
		fillPrice = o.Price
	}

	return ExecutionReport{
		Status:         event.OrderStatusFilled,
		FilledQuantity: o.Quantity,
		FilledPrice:    fillPrice,
		Commission:     fillPrice.Mul(o.Quantity).Mul(e.cfg.FeeRate),
	}, nil
}

func (e *PaperExecutor) slip(mark decimal.Decimal, side event.OrderSide) decimal.Decimal {
	if !e.cfg.SlippageBps.IsPositive() {
		return mark
	}
	delta := mark.Mul(e.cfg.SlippageBps).Div(decimal.NewFromInt(10_000))
	if side == event.OrderSideSell {
		return mark.Sub(delta)
	}
	return mark.Add(delta)
}

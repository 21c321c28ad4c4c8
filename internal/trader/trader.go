package trader

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/event"
)

var (
	ErrQuantityNotPositive = errors.New("order quantity must be > 0")
	ErrUnknownSymbol       = errors.New("symbol not in trading registry")
	ErrUnknownSide         = errors.New("unknown order side")
	ErrManagerStopped      = errors.New("manager refuses new submissions")
	ErrUnknownOrder        = errors.New("order not found")
)

// Order is the manager's record of one submission. Orders are never deleted,
// only status-transitioned.
type Order struct {
	ID         string
	SessionID  string
	StrategyID string
	Symbol     string
	Side       event.OrderSide
	Kind       event.OrderKind
	Quantity   decimal.Decimal
	Price      decimal.Decimal

	FilledQuantity decimal.Decimal
	FilledPrice    decimal.Decimal
	Commission     decimal.Decimal
	Status         event.OrderStatus
	Reason         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Position is the manager's record of one exposure on a (strategy, symbol)
// pair. Entry price is the volume-weighted average over partial fills.
type Position struct {
	ID         string
	SessionID  string
	StrategyID string
	Symbol     string
	Side       event.PositionSide

	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Status        event.PositionStatus

	OpenedAt time.Time
	ClosedAt time.Time
}

func (p Position) toState(ts time.Time) event.PositionState {
	return event.PositionState{
		PositionID:    p.ID,
		SessionID:     p.SessionID,
		StrategyID:    p.StrategyID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		CurrentPrice:  p.CurrentPrice,
		UnrealizedPnL: p.UnrealizedPnL,
		RealizedPnL:   p.RealizedPnL,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		Status:        p.Status,
		Timestamp:     ts,
	}
}

// SubmitRequest carries the validated inputs of one order submission.
type SubmitRequest struct {
	Symbol     string
	Side       event.OrderSide
	Kind       event.OrderKind
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	StrategyID string
}

// ExecutionReport is an executor's verdict on one order.
type ExecutionReport struct {
	Status         event.OrderStatus
	FilledQuantity decimal.Decimal
	FilledPrice    decimal.Decimal
	Commission     decimal.Decimal
	Reason         string
}

// Executor resolves a NEW order against a venue: a real exchange, a paper
// simulation, or a historical replay. A returned error counts as an execution
// failure and marks the order REJECTED.
type Executor interface {
	Name() string
	Execute(ctx context.Context, o Order) (ExecutionReport, error)
}

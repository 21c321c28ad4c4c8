package event

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingSessionID = errors.New("event is missing session id")
	ErrMissingEntityID  = errors.New("event is missing entity id")
	ErrMissingSymbol    = errors.New("event is missing symbol")
)

// Payload is the closed set of event types carried by the bus. Every payload
// validates at publish time; downstream storage dedups on (timestamp, id), so
// each payload must expose a durable entity id and a session correlation id.
type Payload interface {
	Topic() Topic
	Validate() error
}

// MarketData is a normalized trade tick from the exchange feed.
type MarketData struct {
	Symbol    string
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
}

func (MarketData) Topic() Topic { return TopicMarketData }

func (e MarketData) Validate() error {
	if e.Symbol == "" {
		return ErrMissingSymbol
	}
	return nil
}

// IndicatorUpdate carries one freshly computed indicator value.
type IndicatorUpdate struct {
	Indicator string
	Symbol    string
	Value     float64
	Timestamp time.Time
}

func (IndicatorUpdate) Topic() Topic { return TopicIndicatorUpdated }

func (e IndicatorUpdate) Validate() error {
	if e.Indicator == "" {
		return ErrMissingEntityID
	}
	if e.Symbol == "" {
		return ErrMissingSymbol
	}
	return nil
}

// ConditionSnapshot records one condition as it evaluated when a signal fired.
type ConditionSnapshot struct {
	Indicator string
	Operator  string
	Threshold float64
	Value     float64
	Satisfied bool
}

// Signal is emitted by a signal machine on a state transition.
type Signal struct {
	SignalID   string
	SessionID  string
	StrategyID string
	Symbol     string
	Type       SignalType
	Action     Action
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Conditions []ConditionSnapshot
	Timestamp  time.Time
}

func (Signal) Topic() Topic { return TopicSignalGenerated }

func (e Signal) Validate() error {
	if e.SignalID == "" {
		return ErrMissingEntityID
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if e.Symbol == "" {
		return ErrMissingSymbol
	}
	return nil
}

// OrderCreated announces a newly accepted order in NEW status.
type OrderCreated struct {
	OrderID    string
	SessionID  string
	StrategyID string
	Symbol     string
	Side       OrderSide
	Kind       OrderKind
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Status     OrderStatus
	Timestamp  time.Time
}

func (OrderCreated) Topic() Topic { return TopicOrderCreated }

func (e OrderCreated) Validate() error {
	if e.OrderID == "" {
		return ErrMissingEntityID
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if e.Symbol == "" {
		return ErrMissingSymbol
	}
	return nil
}

// OrderFilled reports the execution outcome of an order, including rejections.
type OrderFilled struct {
	OrderID        string
	SessionID      string
	FilledQuantity decimal.Decimal
	FilledPrice    decimal.Decimal
	Commission     decimal.Decimal
	Status         OrderStatus
	Reason         string
	Timestamp      time.Time
}

func (OrderFilled) Topic() Topic { return TopicOrderFilled }

func (e OrderFilled) Validate() error {
	if e.OrderID == "" {
		return ErrMissingEntityID
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	return nil
}

// PositionState is the shared body of the three position lifecycle events.
type PositionState struct {
	PositionID    string
	SessionID     string
	StrategyID    string
	Symbol        string
	Side          PositionSide
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Status        PositionStatus
	Timestamp     time.Time
}

func (e PositionState) validate() error {
	if e.PositionID == "" {
		return ErrMissingEntityID
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if e.Symbol == "" {
		return ErrMissingSymbol
	}
	return nil
}

// PositionOpened announces first exposure on a (strategy, symbol) pair.
type PositionOpened struct{ PositionState }

func (PositionOpened) Topic() Topic      { return TopicPositionOpened }
func (e PositionOpened) Validate() error { return e.validate() }

// PositionUpdated announces a quantity, price or P&L change on an open position.
type PositionUpdated struct{ PositionState }

func (PositionUpdated) Topic() Topic      { return TopicPositionUpdated }
func (e PositionUpdated) Validate() error { return e.validate() }

// PositionClosed announces exposure returning to zero.
type PositionClosed struct{ PositionState }

func (PositionClosed) Topic() Topic      { return TopicPositionClosed }
func (e PositionClosed) Validate() error { return e.validate() }

// RiskAlert flags a threshold breach or reconciliation divergence.
type RiskAlert struct {
	AlertID   string
	SessionID string
	Severity  AlertSeverity
	AlertType string
	Message   string
	Details   map[string]string
	Timestamp time.Time
}

func (RiskAlert) Topic() Topic { return TopicRiskAlert }

func (e RiskAlert) Validate() error {
	if e.AlertID == "" {
		return ErrMissingEntityID
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	return nil
}

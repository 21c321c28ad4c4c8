package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/event"
)

// State is the signal machine state for one (strategy, symbol) pair.
type State string

const (
	StateMonitoring     State = "MONITORING"
	StateSignalDetected State = "SIGNAL_DETECTED"
	StatePositionActive State = "POSITION_ACTIVE"
	StateExited         State = "EXITED"
	StateError          State = "ERROR"
)

// Machine evaluates one strategy against one symbol's indicator stream and
// emits signal events on state transitions. It is not internally locked; the
// owning Manager serializes all calls.
type Machine struct {
	strat     Strategy
	symbol    string
	sessionID string

	hub *bus.Bus
	ids *event.IDGenerator
	now func() time.Time

	state      State
	detectedAt time.Time
	exitedAt   time.Time
}

// NewMachine creates a machine in MONITORING.
func NewMachine(strat Strategy, symbol, sessionID string, hub *bus.Bus, ids *event.IDGenerator) *Machine {
	return &Machine{
		strat:     strat,
		symbol:    symbol,
		sessionID: sessionID,
		hub:       hub,
		ids:       ids,
		now:       func() time.Time { return time.Now().UTC() },
		state:     StateMonitoring,
	}
}

// WithNow swaps the time source for deterministic timeout tests.
func (m *Machine) WithNow(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Reset re-arms a machine out of ERROR. It is the only way out of ERROR.
func (m *Machine) Reset() {
	if m.state != StateError {
		return
	}
	m.state = StateMonitoring
	m.detectedAt = time.Time{}
	m.exitedAt = time.Time{}
	logs.Infof("signal machine re-armed, strategy: %s, symbol: %s", m.strat.ID, m.symbol)
}

// Evaluate runs one pass against the latest indicator snapshot. Transitions
// follow the fixed edge set; each transition that emits a signal generates a
// fresh signal id, so re-evaluating an unchanged snapshot never re-emits.
func (m *Machine) Evaluate(ctx context.Context, values map[string]float64, price decimal.Decimal) {
	switch m.state {
	case StateMonitoring:
		m.evalMonitoring(ctx, values, price)
	case StateSignalDetected:
		m.evalSignalDetected(ctx, values, price)
	case StatePositionActive:
		m.evalPositionActive(ctx, values, price)
	case StateExited:
		if m.now().Sub(m.exitedAt) >= m.strat.Cooldown {
			m.transition(StateMonitoring)
		}
	case StateError:
		// stopped until Reset
	}
}

func (m *Machine) evalMonitoring(ctx context.Context, values map[string]float64, price decimal.Decimal) {
	ok, snaps, err := m.strat.Detect.Evaluate(values)
	if m.faulted(err) || !ok {
		return
	}
	m.transition(StateSignalDetected)
	m.detectedAt = m.now()
	m.emit(ctx, event.SignalS1, event.ActionBuy, price, snaps)
}

func (m *Machine) evalSignalDetected(ctx context.Context, values map[string]float64, price decimal.Decimal) {
	cancelled, snaps, err := m.strat.Cancel.Evaluate(values)
	if m.faulted(err) {
		return
	}
	if cancelled {
		m.transition(StateExited)
		m.exitedAt = m.now()
		m.emit(ctx, event.SignalO1, event.ActionCancel, price, snaps)
		return
	}

	if m.now().Sub(m.detectedAt) >= m.strat.EntryTimeout {
		m.transition(StateExited)
		m.exitedAt = m.now()
		m.emit(ctx, event.SignalO1, event.ActionCancel, price, nil)
		logs.Debugf("entry confirmation timed out, strategy: %s, symbol: %s", m.strat.ID, m.symbol)
		return
	}

	confirmed, snaps, err := m.strat.Confirm.Evaluate(values)
	if m.faulted(err) || !confirmed {
		return
	}
	m.transition(StatePositionActive)
	m.emit(ctx, event.SignalZ1, event.ActionBuy, price, snaps)
}

func (m *Machine) evalPositionActive(ctx context.Context, values map[string]float64, price decimal.Decimal) {
	// Emergency exit wins over profit exit when both hold in the same pass.
	emergency, snaps, err := m.strat.Emergency.Evaluate(values)
	if m.faulted(err) {
		return
	}
	if emergency {
		m.transition(StateExited)
		m.exitedAt = m.now()
		m.emit(ctx, event.SignalE1, event.ActionClose, price, snaps)
		return
	}

	profit, snaps, err := m.strat.TakeProfit.Evaluate(values)
	if m.faulted(err) || !profit {
		return
	}
	m.transition(StateExited)
	m.exitedAt = m.now()
	m.emit(ctx, event.SignalZE1, event.ActionClose, price, snaps)
}

// faulted classifies an evaluation error. A missing indicator fails only this
// pass; anything else is structural and parks the machine in ERROR.
func (m *Machine) faulted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingIndicator) {
		logs.Debugf("evaluation pass skipped, strategy: %s, symbol: %s, err: %+v", m.strat.ID, m.symbol, err)
		return true
	}
	m.transition(StateError)
	logs.Errorf("structural evaluation fault, strategy: %s, symbol: %s, err: %+v", m.strat.ID, m.symbol, err)
	return true
}

func (m *Machine) transition(next State) {
	if next == m.state {
		return
	}
	logs.Infof("signal machine transition, strategy: %s, symbol: %s, from: %s, to: %s",
		m.strat.ID, m.symbol, m.state, next)
	m.state = next
}

func (m *Machine) emit(ctx context.Context, typ event.SignalType, action event.Action, price decimal.Decimal, snaps []event.ConditionSnapshot) {
	sig := event.Signal{
		SignalID:   m.ids.Next(),
		SessionID:  m.sessionID,
		StrategyID: m.strat.ID,
		Symbol:     m.symbol,
		Type:       typ,
		Action:     action,
		Price:      price,
		Quantity:   m.strat.Quantity,
		Conditions: snaps,
		Timestamp:  m.now(),
	}
	if err := m.hub.Publish(ctx, sig); err != nil {
		logs.Errorf("publish signal, strategy: %s, symbol: %s, err: %+v", m.strat.ID, m.symbol, err)
	}
}

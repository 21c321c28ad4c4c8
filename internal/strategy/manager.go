package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/bus"
	"main/internal/event"
)

var (
	ErrAlreadyActive = errors.New("strategy already active for symbol")
	ErrNotActive     = errors.New("strategy not active for symbol")
)

// SnapshotSource serves the latest indicator snapshot per symbol.
type SnapshotSource interface {
	Latest(symbol string) (map[string]float64, bool)
}

// PriceIndicator is the snapshot key machines read the last trade price from.
const PriceIndicator = "price"

// Manager owns one signal machine per (strategy, symbol) pair for a trading
// session. It subscribes to indicator updates and drives every machine on the
// updated symbol against the full latest snapshot.
type Manager struct {
	hub       *bus.Bus
	source    SnapshotSource
	sessionID string
	ids       *event.IDGenerator

	mu       sync.Mutex
	machines map[string]*Machine
	sub      bus.Subscription
	started  bool
}

// NewManager creates a manager with no active pairs.
func NewManager(hub *bus.Bus, source SnapshotSource, sessionID string) *Manager {
	return &Manager{
		hub:       hub,
		source:    source,
		sessionID: sessionID,
		ids:       event.NewIDGenerator("SIG"),
		machines:  make(map[string]*Machine),
	}
}

// Start subscribes the manager to indicator updates.
func (mgr *Manager) Start() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.started {
		return nil
	}
	sub, err := mgr.hub.Subscribe(event.TopicIndicatorUpdated, mgr.onIndicator)
	if err != nil {
		return err
	}
	mgr.sub = sub
	mgr.started = true
	return nil
}

// Stop unsubscribes and destroys every machine. Instances do not survive the
// session.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.started {
		mgr.hub.Unsubscribe(mgr.sub)
		mgr.started = false
	}
	mgr.machines = make(map[string]*Machine)
}

// Activate creates a machine for the (strategy, symbol) pair.
func (mgr *Manager) Activate(strat Strategy, symbol string) error {
	if err := strat.Validate(); err != nil {
		return err
	}
	if symbol == "" {
		return fmt.Errorf("symbol is empty")
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	key := machineKey(strat.ID, symbol)
	if _, ok := mgr.machines[key]; ok {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyActive, strat.ID, symbol)
	}
	mgr.machines[key] = NewMachine(strat, symbol, mgr.sessionID, mgr.hub, mgr.ids)
	return nil
}

// Deactivate destroys the machine for the pair.
func (mgr *Manager) Deactivate(strategyID, symbol string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.machines, machineKey(strategyID, symbol))
}

// Reset re-arms an ERROR machine back to MONITORING.
func (mgr *Manager) Reset(strategyID, symbol string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.machines[machineKey(strategyID, symbol)]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotActive, strategyID, symbol)
	}
	m.Reset()
	return nil
}

// States reports the current state of every active pair, keyed
// "strategyID/symbol".
func (mgr *Manager) States() map[string]State {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make(map[string]State, len(mgr.machines))
	for key, m := range mgr.machines {
		out[key] = m.State()
	}
	return out
}

func (mgr *Manager) onIndicator(ctx context.Context, p event.Payload) error {
	update, ok := p.(event.IndicatorUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload type %T on %s", p, event.TopicIndicatorUpdated)
	}

	values, ok := mgr.source.Latest(update.Symbol)
	if !ok {
		return nil
	}
	price := decimal.NewFromFloat(values[PriceIndicator])

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, m := range mgr.machines {
		if m.symbol != update.Symbol {
			continue
		}
		m.Evaluate(ctx, values, price)
	}
	return nil
}

func machineKey(strategyID, symbol string) string {
	return strategyID + "/" + symbol
}

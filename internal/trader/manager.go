package trader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/event"
)

// Manager owns the order and position books for one session and one executor
// variant. It consumes signal events, submits orders, applies execution
// reports, and emits order/position lifecycle events. All cross-component
// communication happens through the bus; nothing else mutates the books.
//
// Locking discipline: mu guards the order/position maps, seqMu guards only
// order-id allocation. The acquisition order is fixed, mu before seqMu, in
// every path that needs both. A single book-wide mu serializes submissions
// through the manager; correctness over per-symbol parallelism.
type Manager struct {
	hub       *bus.Bus
	exec      Executor
	limits    Limits
	sessionID string
	symbols   map[string]struct{}
	posIDs    *event.IDGenerator
	now       func() time.Time

	mu        sync.Mutex
	orders    map[string]*Order
	positions map[string]*Position // keyed strategyID/symbol

	seqMu sync.Mutex
	seq   uint64

	closed   atomic.Bool
	inflight sync.WaitGroup
	subs     []bus.Subscription
}

// NewManager creates a manager trading the given symbols through exec.
func NewManager(hub *bus.Bus, exec Executor, sessionID string, symbols []string, limits Limits) *Manager {
	known := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		known[s] = struct{}{}
	}
	return &Manager{
		hub:       hub,
		exec:      exec,
		limits:    limits,
		sessionID: sessionID,
		symbols:   known,
		posIDs:    event.NewIDGenerator("POS"),
		now:       func() time.Time { return time.Now().UTC() },
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
	}
}

// WithNow swaps the time source.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Start subscribes the manager to signal and market-data events. Every
// executor variant is wired the same way; no mode skips the bus.
func (m *Manager) Start() error {
	sigSub, err := m.hub.Subscribe(event.TopicSignalGenerated, m.onSignal)
	if err != nil {
		return err
	}
	tickSub, err := m.hub.Subscribe(event.TopicMarketData, m.onMarketData)
	if err != nil {
		m.hub.Unsubscribe(sigSub)
		return err
	}
	m.subs = append(m.subs, sigSub, tickSub)
	return nil
}

// Stop refuses new submissions, then waits for in-flight submissions to
// resolve. It never force-terminates an order mid-flight.
func (m *Manager) Stop() {
	if m.closed.Swap(true) {
		return
	}
	for _, sub := range m.subs {
		m.hub.Unsubscribe(sub)
	}
	m.subs = nil
	m.inflight.Wait()
}

// SubmitOrder validates the request, atomically allocates an order id,
// records the order in NEW status and resolves it asynchronously through the
// executor. Safe under concurrent invocation for any mix of symbols.
func (m *Manager) SubmitOrder(ctx context.Context, req SubmitRequest) (string, error) {
	if m.closed.Load() {
		return "", ErrManagerStopped
	}
	if !req.Quantity.IsPositive() {
		return "", ErrQuantityNotPositive
	}
	if _, ok := m.symbols[req.Symbol]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, req.Symbol)
	}
	if req.Side != event.OrderSideBuy && req.Side != event.OrderSideSell {
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, req.Side)
	}
	if req.Kind == "" {
		req.Kind = event.OrderKindMarket
	}

	m.mu.Lock()
	if err := m.limits.Check(req, m.signedPositionLocked(req.StrategyID, req.Symbol)); err != nil {
		m.mu.Unlock()
		return "", err
	}
	id := m.allocateOrderID() // takes seqMu while holding mu: fixed lock order
	o := &Order{
		ID:         id,
		SessionID:  m.sessionID,
		StrategyID: req.StrategyID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       req.Kind,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Status:     event.OrderStatusNew,
		CreatedAt:  m.now(),
		UpdatedAt:  m.now(),
	}
	m.orders[id] = o
	created := event.OrderCreated{
		OrderID:    o.ID,
		SessionID:  o.SessionID,
		StrategyID: o.StrategyID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Kind:       o.Kind,
		Quantity:   o.Quantity,
		Price:      o.Price,
		Status:     o.Status,
		Timestamp:  o.CreatedAt,
	}
	snapshot := *o
	m.mu.Unlock()

	if err := m.hub.Publish(ctx, created); err != nil {
		logs.Errorf("publish order_created, order: %s, err: %+v", o.ID, err)
	}

	m.inflight.Add(1)
	go m.resolve(ctx, snapshot)
	return id, nil
}

// CancelOrder transitions a NEW order to CANCELLED. Cancelling an order that
// is already terminal is reported as a no-op, not an error.
func (m *Manager) CancelOrder(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if o.Status != event.OrderStatusNew {
		logs.Infof("cancel is a no-op, order: %s, status: %s", orderID, o.Status)
		return nil
	}
	o.Status = event.OrderStatusCancelled
	o.UpdatedAt = m.now()
	logs.Infof("order cancelled, order: %s", orderID)
	return nil
}

// Orders returns a point-in-time copy of every order.
func (m *Manager) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out
}

// Positions returns a point-in-time copy of every position.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// ClosePositionLocally marks a position CLOSED without an order round trip.
// Used by reconciliation when the venue reports the exposure already gone.
func (m *Manager) ClosePositionLocally(positionID string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.ID == positionID && p.Status == event.PositionStatusOpen {
			p.Status = event.PositionStatusClosed
			p.Quantity = decimal.Zero
			p.UnrealizedPnL = decimal.Zero
			p.ClosedAt = m.now()
			return *p, true
		}
	}
	return Position{}, false
}

func (m *Manager) allocateOrderID() string {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	m.seq++
	return fmt.Sprintf("%s-ORD-%d", m.sessionID, m.seq)
}

func (m *Manager) signedPositionLocked(strategyID, symbol string) decimal.Decimal {
	p, ok := m.positions[positionKey(strategyID, symbol)]
	if !ok || p.Status != event.PositionStatusOpen {
		return decimal.Zero
	}
	if p.Side == event.PositionShort {
		return p.Quantity.Neg()
	}
	return p.Quantity
}

func (m *Manager) resolve(ctx context.Context, o Order) {
	defer m.inflight.Done()

	report, err := m.exec.Execute(ctx, o)
	if err != nil {
		// Execution failures are surfaced as REJECTED orders, never dropped.
		report = ExecutionReport{Status: event.OrderStatusRejected, Reason: err.Error()}
		logs.Warnf("execution failed, order: %s, executor: %s, err: %+v", o.ID, m.exec.Name(), err)
	}
	m.applyReport(ctx, o.ID, report)
}

func (m *Manager) applyReport(ctx context.Context, orderID string, report ExecutionReport) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok || o.Status.IsTerminal() {
		m.mu.Unlock()
		logs.Warnf("execution report for unavailable order dropped, order: %s", orderID)
		return
	}
	o.Status = report.Status
	o.FilledQuantity = report.FilledQuantity
	o.FilledPrice = report.FilledPrice
	o.Commission = report.Commission
	o.Reason = report.Reason
	o.UpdatedAt = m.now()

	events := []event.Payload{event.OrderFilled{
		OrderID:        o.ID,
		SessionID:      o.SessionID,
		FilledQuantity: o.FilledQuantity,
		FilledPrice:    o.FilledPrice,
		Commission:     o.Commission,
		Status:         o.Status,
		Reason:         o.Reason,
		Timestamp:      o.UpdatedAt,
	}}
	if report.FilledQuantity.IsPositive() {
		events = append(events, m.updatePositionLocked(o, report)...)
	}
	m.mu.Unlock()

	for _, e := range events {
		if err := m.hub.Publish(ctx, e); err != nil {
			logs.Errorf("publish %s, order: %s, err: %+v", e.Topic(), orderID, err)
		}
	}
}

// updatePositionLocked folds a fill into the position book and returns the
// lifecycle events to publish. Caller holds mu.
func (m *Manager) updatePositionLocked(o *Order, report ExecutionReport) []event.Payload {
	key := positionKey(o.StrategyID, o.Symbol)
	ts := m.now()
	fillQty := report.FilledQuantity
	fillPrice := report.FilledPrice

	p, ok := m.positions[key]
	if !ok || p.Status == event.PositionStatusClosed {
		side := event.PositionLong
		if o.Side == event.OrderSideSell {
			side = event.PositionShort
		}
		p = &Position{
			ID:            m.posIDs.Next(),
			SessionID:     o.SessionID,
			StrategyID:    o.StrategyID,
			Symbol:        o.Symbol,
			Side:          side,
			Quantity:      fillQty,
			EntryPrice:    fillPrice,
			CurrentPrice:  fillPrice,
			UnrealizedPnL: decimal.Zero,
			RealizedPnL:   decimal.Zero,
			Status:        event.PositionStatusOpen,
			OpenedAt:      ts,
		}
		m.positions[key] = p
		return []event.Payload{event.PositionOpened{PositionState: p.toState(ts)}}
	}

	increasing := (p.Side == event.PositionLong && o.Side == event.OrderSideBuy) ||
		(p.Side == event.PositionShort && o.Side == event.OrderSideSell)
	if increasing {
		total := p.Quantity.Add(fillQty)
		p.EntryPrice = p.EntryPrice.Mul(p.Quantity).Add(fillPrice.Mul(fillQty)).Div(total)
		p.Quantity = total
		p.CurrentPrice = fillPrice
		p.UnrealizedPnL = unrealized(p.Side, p.Quantity, p.EntryPrice, p.CurrentPrice)
		return []event.Payload{event.PositionUpdated{PositionState: p.toState(ts)}}
	}

	closeQty := decimal.Min(p.Quantity, fillQty)
	if fillQty.GreaterThan(p.Quantity) {
		logs.Warnf("fill exceeds open quantity, excess ignored, position: %s, fill: %s, open: %s",
			p.ID, fillQty, p.Quantity)
	}
	p.RealizedPnL = p.RealizedPnL.Add(unrealized(p.Side, closeQty, p.EntryPrice, fillPrice))
	p.Quantity = p.Quantity.Sub(closeQty)
	p.CurrentPrice = fillPrice

	if p.Quantity.IsZero() {
		p.Status = event.PositionStatusClosed
		p.UnrealizedPnL = decimal.Zero
		p.ClosedAt = ts
		return []event.Payload{event.PositionClosed{PositionState: p.toState(ts)}}
	}
	p.UnrealizedPnL = unrealized(p.Side, p.Quantity, p.EntryPrice, p.CurrentPrice)
	return []event.Payload{event.PositionUpdated{PositionState: p.toState(ts)}}
}

// unrealized applies the P&L sign convention: long profits when price rises,
// short profits when price falls.
func unrealized(side event.PositionSide, qty, entry, current decimal.Decimal) decimal.Decimal {
	if side == event.PositionShort {
		return qty.Mul(entry.Sub(current))
	}
	return qty.Mul(current.Sub(entry))
}

func (m *Manager) onSignal(ctx context.Context, p event.Payload) error {
	sig, ok := p.(event.Signal)
	if !ok {
		return fmt.Errorf("unexpected payload type %T on %s", p, event.TopicSignalGenerated)
	}

	switch sig.Action {
	case event.ActionBuy, event.ActionSell:
		if sig.Type == event.SignalS1 {
			// Detection is informational; orders go out on confirmation.
			return nil
		}
		side := event.OrderSideBuy
		if sig.Action == event.ActionSell {
			side = event.OrderSideSell
		}
		_, err := m.SubmitOrder(ctx, SubmitRequest{
			Symbol:     sig.Symbol,
			Side:       side,
			Kind:       event.OrderKindMarket,
			Quantity:   sig.Quantity,
			Price:      sig.Price,
			StrategyID: sig.StrategyID,
		})
		if err != nil {
			logs.Warnf("signal rejected, signal: %s, err: %+v", sig.SignalID, err)
		}
		return nil

	case event.ActionClose:
		return m.closeFromSignal(ctx, sig)

	case event.ActionCancel:
		m.cancelOpenOrders(sig.StrategyID, sig.Symbol)
		return nil

	default:
		return fmt.Errorf("unknown signal action %q", sig.Action)
	}
}

func (m *Manager) closeFromSignal(ctx context.Context, sig event.Signal) error {
	m.mu.Lock()
	p, ok := m.positions[positionKey(sig.StrategyID, sig.Symbol)]
	var req SubmitRequest
	if ok && p.Status == event.PositionStatusOpen {
		side := event.OrderSideSell
		if p.Side == event.PositionShort {
			side = event.OrderSideBuy
		}
		req = SubmitRequest{
			Symbol:     sig.Symbol,
			Side:       side,
			Kind:       event.OrderKindMarket,
			Quantity:   p.Quantity,
			Price:      sig.Price,
			StrategyID: sig.StrategyID,
		}
	}
	m.mu.Unlock()

	if req.Symbol == "" {
		logs.Warnf("close signal without open position, signal: %s, strategy: %s, symbol: %s",
			sig.SignalID, sig.StrategyID, sig.Symbol)
		return nil
	}
	if _, err := m.SubmitOrder(ctx, req); err != nil {
		logs.Warnf("close submission rejected, signal: %s, err: %+v", sig.SignalID, err)
	}
	return nil
}

func (m *Manager) cancelOpenOrders(strategyID, symbol string) {
	m.mu.Lock()
	var ids []string
	for id, o := range m.orders {
		if o.StrategyID == strategyID && o.Symbol == symbol && o.Status == event.OrderStatusNew {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.CancelOrder(id); err != nil {
			logs.Warnf("cancel order, order: %s, err: %+v", id, err)
		}
	}
}

// onMarketData marks open positions to the latest trade price. The record
// updates on every tick; lifecycle events are reserved for fills and
// reconciliation.
func (m *Manager) onMarketData(ctx context.Context, p event.Payload) error {
	tick, ok := p.(event.MarketData)
	if !ok {
		return fmt.Errorf("unexpected payload type %T on %s", p, event.TopicMarketData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.positions {
		if pos.Symbol != tick.Symbol || pos.Status != event.PositionStatusOpen {
			continue
		}
		pos.CurrentPrice = tick.Price
		pos.UnrealizedPnL = unrealized(pos.Side, pos.Quantity, pos.EntryPrice, pos.CurrentPrice)
	}
	return nil
}

func positionKey(strategyID, symbol string) string {
	return strategyID + "/" + symbol
}

package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/bus"
	"main/internal/event"
	"main/internal/trader"
)

const defaultInterval = 30 * time.Second

// ExternalPosition is the venue's view of exposure on one symbol. Venues do
// not know about strategies, so external positions aggregate per symbol.
type ExternalPosition struct {
	Symbol   string
	Side     event.PositionSide
	Quantity decimal.Decimal
}

// Source fetches the external position snapshot.
type Source interface {
	Positions(ctx context.Context) ([]ExternalPosition, error)
}

// Book is the local position record the service reconciles against.
type Book interface {
	Positions() []trader.Position
	ClosePositionLocally(positionID string) (trader.Position, bool)
}

// Service periodically diffs the local position book against the venue. A
// local position the venue no longer holds is closed locally with a full
// event trail; other divergences raise alerts without mutating the book.
type Service struct {
	hub       *bus.Bus
	source    Source
	book      Book
	sessionID string
	interval  time.Duration
	alertIDs  *event.IDGenerator
	now       func() time.Time
	cursor    Cursor

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a reconciliation service. A non-positive interval falls back to
// the default.
func New(hub *bus.Bus, source Source, book Book, sessionID string, interval time.Duration) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		hub:       hub,
		source:    source,
		book:      book,
		sessionID: sessionID,
		interval:  interval,
		alertIDs:  event.NewIDGenerator("ALERT"),
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WithNow swaps the time source.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Cursor exposes the reconciliation cursor for replay coordination.
func (s *Service) Cursor() *Cursor {
	return &s.cursor
}

// Start launches the periodic loop. Starting twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.started.Swap(true) {
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil {
					logs.Warnf("reconcile pass failed, err: %+v", err)
				}
			}
		}
	}()
}

// Stop terminates the loop and waits for the in-progress pass, if any.
// Stopping a service that never started is safe.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

// RunOnce performs a single reconciliation pass.
func (s *Service) RunOnce(ctx context.Context) error {
	external, err := s.source.Positions(ctx)
	if err != nil {
		return err
	}

	venue := make(map[string]decimal.Decimal, len(external))
	for _, p := range external {
		qty := p.Quantity
		if p.Side == event.PositionShort {
			qty = qty.Neg()
		}
		venue[p.Symbol] = venue[p.Symbol].Add(qty)
	}

	local := make(map[string]decimal.Decimal)
	for _, p := range s.book.Positions() {
		if p.Status != event.PositionStatusOpen {
			continue
		}
		qty := p.Quantity
		if p.Side == event.PositionShort {
			qty = qty.Neg()
		}
		local[p.Symbol] = local[p.Symbol].Add(qty)

		if venueQty, held := venue[p.Symbol]; !held || venueQty.IsZero() {
			s.closeOrphan(ctx, p)
		}
	}

	for symbol, venueQty := range venue {
		localQty := local[symbol]
		switch {
		case localQty.IsZero() && !venueQty.IsZero():
			s.alert(ctx, event.SeverityCritical, "untracked_exposure", symbol, localQty, venueQty)
		case !localQty.IsZero() && !venueQty.IsZero() && !localQty.Equal(venueQty):
			s.alert(ctx, event.SeverityWarning, "quantity_mismatch", symbol, localQty, venueQty)
		}
	}

	s.cursor.Advance(s.now())
	return nil
}

// closeOrphan closes a local position the venue no longer holds and leaves an
// event trail explaining why.
func (s *Service) closeOrphan(ctx context.Context, p trader.Position) {
	closed, ok := s.book.ClosePositionLocally(p.ID)
	if !ok {
		return
	}
	logs.Warnf("closed local position missing at venue, position: %s, symbol: %s", p.ID, p.Symbol)

	state := event.PositionState{
		PositionID:    closed.ID,
		SessionID:     closed.SessionID,
		StrategyID:    closed.StrategyID,
		Symbol:        closed.Symbol,
		Side:          closed.Side,
		Quantity:      closed.Quantity,
		EntryPrice:    closed.EntryPrice,
		CurrentPrice:  closed.CurrentPrice,
		UnrealizedPnL: closed.UnrealizedPnL,
		RealizedPnL:   closed.RealizedPnL,
		Status:        closed.Status,
		Timestamp:     s.now(),
	}
	if err := s.hub.Publish(ctx, event.PositionClosed{PositionState: state}); err != nil {
		logs.Errorf("publish position_closed, position: %s, err: %+v", closed.ID, err)
	}
	s.alert(ctx, event.SeverityWarning, "position_divergence", p.Symbol, p.Quantity, decimal.Zero)
}

func (s *Service) alert(ctx context.Context, severity event.AlertSeverity, kind, symbol string, localQty, venueQty decimal.Decimal) {
	a := event.RiskAlert{
		AlertID:   s.alertIDs.Next(),
		SessionID: s.sessionID,
		Severity:  severity,
		AlertType: kind,
		Message:   "local and venue positions diverge",
		Details: map[string]string{
			"symbol": symbol,
			"local":  localQty.String(),
			"venue":  venueQty.String(),
		},
		Timestamp: s.now(),
	}
	if err := s.hub.Publish(ctx, a); err != nil {
		logs.Errorf("publish risk_alert, symbol: %s, err: %+v", symbol, err)
	}
}

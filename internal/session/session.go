package session

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/bus"
	"main/internal/event"
	"main/internal/indicator"
	"main/internal/ops"
	"main/internal/persist"
	"main/internal/reconcile"
	"main/internal/strategy"
	"main/internal/trader"
)

// Options carries the session's dependencies. Hub and Config are required.
// DB and Venue are optional; a session without them runs with persistence and
// reconciliation disabled. Executor overrides the mode-derived executor,
// which replay drivers use to inject their own.
type Options struct {
	Config   ops.Loaded
	Hub      *bus.Bus
	DB       *gorm.DB
	Venue    reconcile.Source
	Executor trader.Executor
}

// Session wires one trading run end to end: indicators feed signal machines,
// signal machines feed the order manager, and everything flows through the
// bus. The order manager is subscribed in every execution mode; paper and
// replay runs exercise exactly the same event path as live.
type Session struct {
	cfg ops.Loaded
	hub *bus.Bus

	store    *indicator.Store
	feed     *indicator.Feed
	machines *strategy.Manager
	book     *trader.Manager
	sink     *persist.Sink
	recon    *reconcile.Service

	paper *trader.PaperExecutor
	live  *trader.LiveExecutor
}

// New builds an unstarted session from options.
func New(opts Options) (*Session, error) {
	if opts.Hub == nil {
		return nil, errors.New("session requires a bus")
	}
	cfg := opts.Config

	s := &Session{
		cfg:   cfg,
		hub:   opts.Hub,
		store: indicator.NewStore(),
		feed:  indicator.NewFeed(cfg.Feed),
	}

	exec := opts.Executor
	if exec == nil {
		var err error
		exec, err = s.buildExecutor()
		if err != nil {
			return nil, err
		}
	}

	s.book = trader.NewManager(opts.Hub, exec, cfg.SessionID, cfg.Symbols, cfg.Risk)
	s.machines = strategy.NewManager(opts.Hub, s.store, cfg.SessionID)

	if opts.DB != nil {
		s.sink = persist.NewSink(opts.DB)
	}
	venue := opts.Venue
	if venue == nil && s.live != nil {
		// Live runs reconcile against the venue itself unless told otherwise.
		venue = venueSource{exec: s.live}
	}
	if venue != nil {
		s.recon = reconcile.New(opts.Hub, venue, s.book, cfg.SessionID, cfg.ReconcileInterval)
	}
	return s, nil
}

// venueSource adapts the live executor's position endpoint to the
// reconciliation interface.
type venueSource struct {
	exec *trader.LiveExecutor
}

func (v venueSource) Positions(ctx context.Context) ([]reconcile.ExternalPosition, error) {
	raw, err := v.exec.FetchPositions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.ExternalPosition, 0, len(raw))
	for _, p := range raw {
		side := event.PositionLong
		if p.Side == "SHORT" {
			side = event.PositionShort
		}
		out = append(out, reconcile.ExternalPosition{
			Symbol:   p.Symbol,
			Side:     side,
			Quantity: p.Quantity,
		})
	}
	return out, nil
}

func (s *Session) buildExecutor() (trader.Executor, error) {
	switch s.cfg.Mode {
	case ops.ModeLive:
		s.live = trader.NewLiveExecutor(s.cfg.Exchange)
		return s.live, nil
	case ops.ModePaper:
		s.paper = trader.NewPaperExecutor(s.cfg.Paper)
		return s.paper, nil
	case ops.ModeReplay:
		return trader.NewReplayExecutor(s.cfg.Paper.FeeRate), nil
	default:
		return nil, errors.Errorf("%s: %q", ops.ErrUnknownMode, s.cfg.Mode)
	}
}

// Book exposes the order manager for inspection and replay drivers.
func (s *Session) Book() *trader.Manager { return s.book }

// Machines exposes the signal machine manager.
func (s *Session) Machines() *strategy.Manager { return s.machines }

// Reconciler returns the reconciliation service, nil when no venue source was
// configured.
func (s *Session) Reconciler() *reconcile.Service { return s.recon }

// Start attaches every component to the bus and activates the configured
// strategies on every symbol. Components that fail to attach roll the session
// back to detached.
func (s *Session) Start(ctx context.Context) error {
	if s.sink != nil {
		if err := s.sink.Migrate(); err != nil {
			return errors.Wrap(err, "migrate event store")
		}
		if err := s.sink.Start(s.hub); err != nil {
			return errors.Wrap(err, "start sink")
		}
	}
	if err := s.store.Start(s.hub); err != nil {
		s.Stop()
		return errors.Wrap(err, "start indicator store")
	}
	if err := s.feed.Start(s.hub); err != nil {
		s.Stop()
		return errors.Wrap(err, "start indicator feed")
	}
	if s.paper != nil {
		if _, err := s.paper.Attach(s.hub); err != nil {
			s.Stop()
			return errors.Wrap(err, "attach paper executor")
		}
	}
	if err := s.book.Start(); err != nil {
		s.Stop()
		return errors.Wrap(err, "start order manager")
	}
	if err := s.machines.Start(); err != nil {
		s.Stop()
		return errors.Wrap(err, "start signal machines")
	}

	for _, strat := range s.cfg.Strategies {
		for _, symbol := range s.cfg.Symbols {
			if err := s.machines.Activate(strat, symbol); err != nil {
				s.Stop()
				return errors.Wrap(err, "activate strategy").
					With("strategy", strat.ID).With("symbol", symbol)
			}
		}
	}

	if s.recon != nil {
		s.recon.Start(ctx)
	}

	logs.Infof("session started, session: %s, mode: %s, symbols: %d, strategies: %d",
		s.cfg.SessionID, s.cfg.Mode, len(s.cfg.Symbols), len(s.cfg.Strategies))
	return nil
}

// Stop detaches components in reverse dependency order: producers first so no
// new work enters, then consumers. Safe to call on a partially started
// session.
func (s *Session) Stop() {
	if s.recon != nil {
		s.recon.Stop()
	}
	s.feed.Stop()
	s.machines.Stop()
	s.book.Stop()
	s.store.Stop()
	if s.sink != nil {
		s.sink.Stop()
	}
	logs.Infof("session stopped, session: %s", s.cfg.SessionID)
}

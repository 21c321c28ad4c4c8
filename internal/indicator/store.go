package indicator

import (
	"context"
	"fmt"
	"sync"

	"main/internal/bus"
	"main/internal/event"
)

// Store keeps the most recent value of every indicator per symbol. It is fed
// from the bus, so any producer (the live feed, a replay, a test) contributes
// through the same topic.
type Store struct {
	mu     sync.RWMutex
	latest map[string]map[string]float64
	sub    bus.Subscription
	hub    *bus.Bus
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{latest: make(map[string]map[string]float64)}
}

// Start subscribes the store to indicator updates.
func (s *Store) Start(hub *bus.Bus) error {
	sub, err := hub.Subscribe(event.TopicIndicatorUpdated, s.onUpdate)
	if err != nil {
		return err
	}
	s.hub = hub
	s.sub = sub
	return nil
}

// Stop detaches the store from the bus. Accumulated values stay readable.
func (s *Store) Stop() {
	if s.hub != nil {
		s.hub.Unsubscribe(s.sub)
	}
}

func (s *Store) onUpdate(ctx context.Context, p event.Payload) error {
	update, ok := p.(event.IndicatorUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload type %T on %s", p, event.TopicIndicatorUpdated)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.latest[update.Symbol]
	if !ok {
		values = make(map[string]float64)
		s.latest[update.Symbol] = values
	}
	values[update.Indicator] = update.Value
	return nil
}

// Latest returns a copy of the newest indicator values for a symbol. The
// second return is false when nothing has been observed for the symbol yet.
func (s *Store) Latest(symbol string) (map[string]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.latest[symbol]
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, true
}

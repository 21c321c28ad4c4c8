package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/event"
	"main/internal/indicator"
	"main/internal/ops"
	"main/internal/strategy"
)

func paperConfig() ops.Loaded {
	return ops.Loaded{
		Mode:      ops.ModePaper,
		SessionID: "sess-e2e",
		Symbols:   []string{"PUMPUSDT"},
		Feed:      indicator.FeedConfig{Interval: time.Second, Lookback: 10},
		Strategies: []strategy.Strategy{{
			ID: "pump-v1",
			Detect: strategy.Group{Logic: strategy.LogicAnd, Conditions: []strategy.Condition{
				{Indicator: indicator.Price, Op: strategy.OpGT, Threshold: 100},
			}},
			Confirm: strategy.Group{Logic: strategy.LogicAnd, Conditions: []strategy.Condition{
				{Indicator: indicator.Price, Op: strategy.OpGT, Threshold: 100},
			}},
			Emergency: strategy.Group{Logic: strategy.LogicOr, Conditions: []strategy.Condition{
				{Indicator: indicator.Price, Op: strategy.OpLT, Threshold: 50},
			}},
			Quantity:     decimal.NewFromInt(10),
			EntryTimeout: 30 * time.Second,
			Cooldown:     5 * time.Minute,
		}},
	}
}

type topicCounter struct {
	mu     sync.Mutex
	counts map[event.Topic]int
}

func watchTopics(t *testing.T, hub *bus.Bus) *topicCounter {
	t.Helper()
	c := &topicCounter{counts: make(map[event.Topic]int)}
	for _, topic := range event.Topics() {
		_, err := hub.Subscribe(topic, func(ctx context.Context, p event.Payload) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.counts[p.Topic()]++
			return nil
		})
		require.NoError(t, err)
	}
	return c
}

func (c *topicCounter) get(topic event.Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[topic]
}

func tick(t *testing.T, hub *bus.Bus, ts time.Time, price float64) {
	t.Helper()
	require.NoError(t, hub.Publish(context.Background(), event.MarketData{
		Symbol:    "PUMPUSDT",
		Timestamp: ts,
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(100),
	}))
}

func TestPaperSessionEndToEnd(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)
	counter := watchTopics(t, hub)

	s, err := New(Options{Config: paperConfig(), Hub: hub})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	// First tick above the detection threshold: S1 only, no order.
	tick(t, hub, base, 101)
	require.Eventually(t, func() bool { return counter.get(event.TopicSignalGenerated) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, counter.get(event.TopicOrderCreated))
	assert.Equal(t, map[string]strategy.State{"pump-v1/PUMPUSDT": strategy.StateSignalDetected}, s.Machines().States())

	// Second tick confirms: Z1 submits a market order, the paper venue fills
	// it and a position opens.
	tick(t, hub, base.Add(time.Second), 102)
	require.Eventually(t, func() bool { return counter.get(event.TopicPositionOpened) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, counter.get(event.TopicOrderCreated))

	positions := s.Book().Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, event.PositionLong, positions[0].Side)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(10)))

	// Crash through the emergency threshold: E1 closes the position.
	tick(t, hub, base.Add(2*time.Second), 40)
	require.Eventually(t, func() bool { return counter.get(event.TopicPositionClosed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]strategy.State{"pump-v1/PUMPUSDT": strategy.StateExited}, s.Machines().States())
}

// Every execution mode subscribes the order manager to signals. A replay
// session must react to a confirmation signal exactly like a live one.
func TestReplaySessionConsumesSignals(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)
	counter := watchTopics(t, hub)

	cfg := paperConfig()
	cfg.Mode = ops.ModeReplay

	s, err := New(Options{Config: cfg, Hub: hub})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	require.NoError(t, hub.Publish(context.Background(), event.Signal{
		SignalID:   "SIG-manual-1",
		SessionID:  "sess-e2e",
		StrategyID: "pump-v1",
		Symbol:     "PUMPUSDT",
		Type:       event.SignalZ1,
		Action:     event.ActionBuy,
		Quantity:   decimal.NewFromInt(10),
		Timestamp:  time.Now().UTC(),
	}))

	require.Eventually(t, func() bool { return counter.get(event.TopicOrderCreated) == 1 }, time.Second, 5*time.Millisecond)
	// No replay price was marked yet, so the fill is a rejection, but the
	// order flow itself ran.
	require.Eventually(t, func() bool { return counter.get(event.TopicOrderFilled) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionRequiresBus(t *testing.T) {
	_, err := New(Options{Config: paperConfig()})
	require.Error(t, err)
}

func TestSessionRejectsUnknownMode(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)

	cfg := paperConfig()
	cfg.Mode = ops.Mode("turbo")
	_, err := New(Options{Config: cfg, Hub: hub})
	require.Error(t, err)
}

func TestSessionStopIsSafeWithoutReconciler(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)

	s, err := New(Options{Config: paperConfig(), Hub: hub})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Nil(t, s.Reconciler())
}

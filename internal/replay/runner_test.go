package replay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/event"
	"main/internal/reconcile"
	"main/internal/trader"
)

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return nil
}

const sampleFile = `{"symbol":"PUMPUSDT","ts":1767225600000,"price":"1.00","volume":"10"}
{"symbol":"PUMPUSDT","ts":1767225601000,"price":"1.05","volume":"20"}

{"symbol":"PUMPUSDT","ts":1767225603000,"price":"1.10","volume":"30"}
`

func TestRunPublishesAndMarks(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)

	var mu sync.Mutex
	var ticks []event.MarketData
	_, err := hub.Subscribe(event.TopicMarketData, func(ctx context.Context, p event.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		ticks = append(ticks, p.(event.MarketData))
		return nil
	})
	require.NoError(t, err)

	exec := trader.NewReplayExecutor(decimal.Zero)
	var cursor reconcile.Cursor
	runner := NewRunner(hub, exec, &cursor, 0)

	n, err := runner.Run(context.Background(), strings.NewReader(sampleFile))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ticks, 3)
	assert.Equal(t, "1.05", ticks[1].Price.String())
	assert.Equal(t, time.UnixMilli(1767225603000).UTC(), cursor.Current())

	// The executor's mark follows the last replayed price.
	report, err := exec.Execute(context.Background(), trader.Order{
		ID: "ORD-1", Symbol: "PUMPUSDT", Side: event.OrderSideBuy,
		Kind: event.OrderKindMarket, Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, event.OrderStatusFilled, report.Status)
	assert.Equal(t, "1.1", report.FilledPrice.String())
}

func TestRunPacesByEventTime(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)

	clock := &fakeClock{}
	runner := NewRunner(hub, trader.NewReplayExecutor(decimal.Zero), nil, 2).WithClock(clock)

	_, err := runner.Run(context.Background(), strings.NewReader(sampleFile))
	require.NoError(t, err)

	// Gaps are 1s and 2s of event time, halved by speed 2. No sleep before
	// the first tick.
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, clock.sleeps)
}

func TestRunNoPacingWhenSpeedZero(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)

	clock := &fakeClock{}
	runner := NewRunner(hub, trader.NewReplayExecutor(decimal.Zero), nil, 0).WithClock(clock)

	_, err := runner.Run(context.Background(), strings.NewReader(sampleFile))
	require.NoError(t, err)
	assert.Empty(t, clock.sleeps)
}

func TestRunRejectsMalformedLine(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)

	runner := NewRunner(hub, trader.NewReplayExecutor(decimal.Zero), nil, 0)
	n, err := runner.Run(context.Background(), strings.NewReader("{not json}\n"))
	require.Error(t, err)
	assert.Zero(t, n)
}

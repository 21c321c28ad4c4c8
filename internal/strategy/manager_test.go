package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/event"
)

type stubSource struct {
	values map[string]map[string]float64
}

func (s *stubSource) Latest(symbol string) (map[string]float64, bool) {
	v, ok := s.values[symbol]
	return v, ok
}

func publishIndicator(t *testing.T, hub *bus.Bus, symbol string) {
	t.Helper()
	err := hub.Publish(context.Background(), event.IndicatorUpdate{
		Indicator: "pump_magnitude_pct",
		Symbol:    symbol,
		Value:     8.1,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestManagerActivateAndEvaluate(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)
	rec := &signalRecorder{}
	rec.attach(t, hub)

	source := &stubSource{values: map[string]map[string]float64{
		"PUMPUSDT": {
			"pump_magnitude_pct": 8.1,
			"volume_surge_ratio": 4.0,
			PriceIndicator:       1.25,
		},
	}}

	mgr := NewManager(hub, source, "sess-1")
	require.NoError(t, mgr.Start())
	t.Cleanup(mgr.Stop)
	require.NoError(t, mgr.Activate(validStrategy(), "PUMPUSDT"))

	publishIndicator(t, hub, "PUMPUSDT")

	states := mgr.States()
	assert.Equal(t, StateSignalDetected, states["pump-v1/PUMPUSDT"])
	signals := rec.all()
	require.Len(t, signals, 1)
	assert.Equal(t, event.SignalS1, signals[0].Type)
	assert.InDelta(t, 1.25, signals[0].Price.InexactFloat64(), 1e-9)
}

func TestManagerIgnoresOtherSymbols(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)

	source := &stubSource{values: map[string]map[string]float64{
		"OTHERUSDT": {
			"pump_magnitude_pct": 9.0,
			"volume_surge_ratio": 9.0,
		},
	}}
	mgr := NewManager(hub, source, "sess-1")
	require.NoError(t, mgr.Start())
	t.Cleanup(mgr.Stop)
	require.NoError(t, mgr.Activate(validStrategy(), "PUMPUSDT"))

	publishIndicator(t, hub, "OTHERUSDT")
	assert.Equal(t, StateMonitoring, mgr.States()["pump-v1/PUMPUSDT"])
}

func TestManagerRejectsDuplicateActivation(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)
	mgr := NewManager(hub, &stubSource{}, "sess-1")

	require.NoError(t, mgr.Activate(validStrategy(), "PUMPUSDT"))
	require.ErrorIs(t, mgr.Activate(validStrategy(), "PUMPUSDT"), ErrAlreadyActive)

	// A second symbol under the same strategy is a distinct instance.
	require.NoError(t, mgr.Activate(validStrategy(), "ETHUSDT"))
	assert.Len(t, mgr.States(), 2)
}

func TestManagerRejectsInvalidStrategy(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)
	mgr := NewManager(hub, &stubSource{}, "sess-1")

	bad := validStrategy()
	bad.Detect = Group{}
	require.Error(t, mgr.Activate(bad, "PUMPUSDT"))
}

func TestManagerStopDestroysInstances(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)
	mgr := NewManager(hub, &stubSource{}, "sess-1")
	require.NoError(t, mgr.Start())
	require.NoError(t, mgr.Activate(validStrategy(), "PUMPUSDT"))

	mgr.Stop()
	assert.Empty(t, mgr.States())
	_, subscribed := hub.ListTopics()[event.TopicIndicatorUpdated]
	assert.False(t, subscribed)
}

func TestManagerResetUnknownInstance(t *testing.T) {
	hub := bus.New()
	t.Cleanup(hub.Shutdown)
	mgr := NewManager(hub, &stubSource{}, "sess-1")
	require.ErrorIs(t, mgr.Reset("nope", "PUMPUSDT"), ErrNotActive)
}

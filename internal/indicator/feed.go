package indicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/event"
)

// Indicator names published by the feed. Strategy condition groups reference
// these by string.
const (
	Price            = "price"
	PumpMagnitudePct = "pump_magnitude_pct"
	VolumeSurgeRatio = "volume_surge_ratio"
	RSI14            = "rsi_14"
	ATR14            = "atr_14"
)

const (
	defaultInterval = time.Second
	defaultLookback = 60
	maxBars         = 512
)

// FeedConfig tunes bar aggregation.
type FeedConfig struct {
	Interval time.Duration // bar width
	Lookback int           // bars used for pump magnitude and volume baseline
}

type bar struct {
	start   time.Time
	open    float64
	high    float64
	low     float64
	closePx float64
	volume  float64
}

type series struct {
	bars    []bar
	current *bar
}

// Feed aggregates raw trade ticks into fixed-width bars and publishes derived
// indicators when a bar closes. Price is re-published on every tick so
// downstream evaluation always sees a fresh mark.
type Feed struct {
	cfg FeedConfig
	hub *bus.Bus
	sub bus.Subscription

	mu     sync.Mutex
	series map[string]*series
}

// NewFeed creates a feed with defaults filled in.
func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	return &Feed{
		cfg:    cfg,
		series: make(map[string]*series),
	}
}

// Start subscribes the feed to the market data stream.
func (f *Feed) Start(hub *bus.Bus) error {
	sub, err := hub.Subscribe(event.TopicMarketData, f.onTick)
	if err != nil {
		return err
	}
	f.hub = hub
	f.sub = sub
	return nil
}

// Stop detaches the feed from the bus.
func (f *Feed) Stop() {
	if f.hub != nil {
		f.hub.Unsubscribe(f.sub)
	}
}

func (f *Feed) onTick(ctx context.Context, p event.Payload) error {
	tick, ok := p.(event.MarketData)
	if !ok {
		return fmt.Errorf("unexpected payload type %T on %s", p, event.TopicMarketData)
	}

	price, _ := tick.Price.Float64()
	volume, _ := tick.Volume.Float64()

	f.mu.Lock()
	s, ok := f.series[tick.Symbol]
	if !ok {
		s = &series{}
		f.series[tick.Symbol] = s
	}

	var sealed bool
	start := tick.Timestamp.Truncate(f.cfg.Interval)
	switch {
	case s.current == nil:
		s.current = &bar{start: start, open: price, high: price, low: price, closePx: price, volume: volume}
	case start.After(s.current.start):
		s.bars = append(s.bars, *s.current)
		if len(s.bars) > maxBars {
			s.bars = s.bars[len(s.bars)-maxBars:]
		}
		s.current = &bar{start: start, open: price, high: price, low: price, closePx: price, volume: volume}
		sealed = true
	default:
		if price > s.current.high {
			s.current.high = price
		}
		if price < s.current.low {
			s.current.low = price
		}
		s.current.closePx = price
		s.current.volume += volume
	}

	var derived map[string]float64
	if sealed {
		derived = f.computeLocked(s)
	}
	f.mu.Unlock()

	f.publish(ctx, tick.Symbol, tick.Timestamp, Price, price)
	for name, value := range derived {
		f.publish(ctx, tick.Symbol, tick.Timestamp, name, value)
	}
	return nil
}

// computeLocked derives indicators from the sealed bars. Caller holds mu.
func (f *Feed) computeLocked(s *series) map[string]float64 {
	n := len(s.bars)
	if n < 2 {
		return nil
	}

	out := make(map[string]float64, 4)
	last := s.bars[n-1]

	base := s.bars[max(0, n-1-f.cfg.Lookback)]
	if base.closePx > 0 {
		out[PumpMagnitudePct] = (last.closePx - base.closePx) / base.closePx * 100
	}

	var sum float64
	window := s.bars[max(0, n-1-f.cfg.Lookback) : n-1]
	for _, b := range window {
		sum += b.volume
	}
	if avg := sum / float64(len(window)); avg > 0 {
		out[VolumeSurgeRatio] = last.volume / avg
	}

	if n > 14 {
		closes := make([]float64, n)
		highs := make([]float64, n)
		lows := make([]float64, n)
		for i, b := range s.bars {
			closes[i] = b.closePx
			highs[i] = b.high
			lows[i] = b.low
		}
		out[RSI14] = talib.Rsi(closes, 14)[n-1]
		out[ATR14] = talib.Atr(highs, lows, closes, 14)[n-1]
	}
	return out
}

func (f *Feed) publish(ctx context.Context, symbol string, ts time.Time, name string, value float64) {
	err := f.hub.Publish(ctx, event.IndicatorUpdate{
		Indicator: name,
		Symbol:    symbol,
		Value:     value,
		Timestamp: ts,
	})
	if err != nil {
		logs.Errorf("publish indicator, symbol: %s, indicator: %s, err: %+v", symbol, name, err)
	}
}

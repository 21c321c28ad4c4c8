package replay

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/event"
	"main/internal/reconcile"
	"main/internal/trader"
)

// Tick is one historical trade in the replay file, one JSON object per line.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"ts"` // unix milliseconds
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
}

// Clock paces playback; tests swap it for a recording fake.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Runner streams a historical tick file through the bus. Before each tick is
// published the replay executor's mark is set, so an order triggered by the
// tick fills at that tick's price. The shared cursor advances with event
// time, letting the reconciler see replay progress.
type Runner struct {
	hub    *bus.Bus
	exec   *trader.ReplayExecutor
	cursor *reconcile.Cursor
	speed  float64
	clock  Clock
}

// NewRunner creates a runner. Speed 1 paces at recorded speed, higher values
// compress time, zero or below disables pacing.
func NewRunner(hub *bus.Bus, exec *trader.ReplayExecutor, cursor *reconcile.Cursor, speed float64) *Runner {
	return &Runner{
		hub:    hub,
		exec:   exec,
		cursor: cursor,
		speed:  speed,
		clock:  realClock{},
	}
}

// WithClock swaps the pacing clock.
func (r *Runner) WithClock(clock Clock) *Runner {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// Run replays every tick from the reader until EOF or context cancellation.
// Returns the number of ticks published.
func (r *Runner) Run(ctx context.Context, src io.Reader) (int, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	published := 0
	var prev time.Time
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var tick Tick
		if err := sonic.Unmarshal(line, &tick); err != nil {
			return published, errors.Wrap(err, "decode tick").With("line", published+1)
		}
		ts := time.UnixMilli(tick.Timestamp).UTC()

		if r.speed > 0 && !prev.IsZero() {
			gap := time.Duration(float64(ts.Sub(prev)) / r.speed)
			if err := r.clock.Sleep(ctx, gap); err != nil {
				return published, err
			}
		}
		prev = ts

		r.exec.Mark(tick.Symbol, tick.Price)
		err := r.hub.Publish(ctx, event.MarketData{
			Symbol:    tick.Symbol,
			Timestamp: ts,
			Price:     tick.Price,
			Volume:    tick.Volume,
		})
		if err != nil {
			return published, errors.Wrap(err, "publish tick").With("symbol", tick.Symbol)
		}
		published++
		if r.cursor != nil {
			r.cursor.Advance(ts)
		}
	}
	if err := scanner.Err(); err != nil {
		return published, errors.Wrap(err, "read replay file")
	}

	logs.Infof("replay finished, ticks: %d", published)
	return published, nil
}

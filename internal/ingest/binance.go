package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/bus"
	"main/internal/event"
)

const _binanceBaseWsUrl = "wss://stream.binance.com:9443/ws"

// Binance streams aggregated trades and republishes them as normalized market
// data ticks on the bus.
type Binance struct {
	wss *ws.WebSocket
	hub *bus.Bus
}

// NewBinance creates an unstarted websocket connection to the public stream.
func NewBinance(ctx context.Context, hub *bus.Bus) *Binance {
	return &Binance{
		wss: ws.New(ctx, _binanceBaseWsUrl),
		hub: hub,
	}
}

func (repo *Binance) Close() {
	repo.wss.Close()
}

func (repo *Binance) Start(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

func subscriberResponseParser(m ws.Message) (binanceSubscribeResponse, bool) {
	var resp binanceSubscribeResponse
	err := m.Unmarshal(&resp)
	return resp, err == nil
}

// SubscribeAggTrade subscribes 'Aggregate Trade Stream' for the given symbols.
func (repo *Binance) SubscribeAggTrade(ctx context.Context, symbols ...string) error {
	params := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		params = append(params, fmt.Sprintf("%s@aggTrade", strings.ToLower(symbol)))
	}

	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := binanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: params,
				ID:     1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := subscriberResponseParser(m)
			if !ok || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type binanceAggTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// ObserveAggTrade pumps incoming trades onto the bus until the context is
// cancelled or the process shuts down.
func (repo *Binance) ObserveAggTrade(ctx context.Context) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[binanceAggTrade](m)
				if !ok || resp.EventType != "aggTrade" {
					continue
				}

				repo.forward(ctx, resp)
			}
		}
	}()

	return cancel
}

func (repo *Binance) forward(ctx context.Context, trade binanceAggTrade) {
	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		logs.Warnf("skip malformed trade price, symbol: %s, price: %q", trade.Symbol, trade.Price)
		return
	}
	volume, err := decimal.NewFromString(trade.Quantity)
	if err != nil {
		logs.Warnf("skip malformed trade quantity, symbol: %s, quantity: %q", trade.Symbol, trade.Quantity)
		return
	}

	tick := event.MarketData{
		Symbol:    trade.Symbol,
		Timestamp: time.UnixMilli(trade.TradeTime).UTC(),
		Price:     price,
		Volume:    volume,
	}
	if err := repo.hub.Publish(ctx, tick); err != nil {
		logs.Errorf("publish market data, symbol: %s, err: %+v", trade.Symbol, err)
	}
}

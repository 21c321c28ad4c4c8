package trader

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/event"
)

const defaultLiveTimeout = 10 * time.Second

// LiveConfig holds the venue REST credentials.
type LiveConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

// LiveExecutor places orders against a real venue over signed REST calls.
type LiveExecutor struct {
	cfg    LiveConfig
	client *http.Client
	now    func() time.Time
}

// NewLiveExecutor creates an executor for the configured venue.
func NewLiveExecutor(cfg LiveConfig) *LiveExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLiveTimeout
	}
	return &LiveExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *LiveExecutor) Name() string { return "live" }

type livePlaceRequest struct {
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price,omitempty"`
}

type livePlaceResponse struct {
	Status         string          `json:"status"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	FilledPrice    decimal.Decimal `json:"filledPrice"`
	Commission     decimal.Decimal `json:"commission"`
	Reason         string          `json:"reason"`
}

// Execute submits the order and maps the venue response to a report. A
// transport error is returned as-is; the manager marks the order REJECTED.
func (e *LiveExecutor) Execute(ctx context.Context, o Order) (ExecutionReport, error) {
	body := livePlaceRequest{
		ClientOrderID: o.ID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Kind),
		Quantity:      o.Quantity.String(),
	}
	if o.Kind == event.OrderKindLimit {
		body.Price = o.Price.String()
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return ExecutionReport{}, errors.Wrap(err, "marshal order request")
	}

	ts := strconv.FormatInt(e.now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return ExecutionReport{}, errors.Wrap(err, "build order request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", e.cfg.APIKey)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", e.sign(ts, payload))

	resp, err := e.client.Do(req)
	if err != nil {
		return ExecutionReport{}, errors.Wrap(err, "place order")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecutionReport{}, errors.Wrap(err, "read order response")
	}
	if resp.StatusCode != http.StatusOK {
		return ExecutionReport{}, errors.Errorf("venue returned %d: %s", resp.StatusCode, raw)
	}

	var placed livePlaceResponse
	if err := sonic.Unmarshal(raw, &placed); err != nil {
		return ExecutionReport{}, errors.Wrap(err, "decode order response")
	}
	return e.toReport(placed)
}

func (e *LiveExecutor) toReport(placed livePlaceResponse) (ExecutionReport, error) {
	report := ExecutionReport{
		FilledQuantity: placed.FilledQuantity,
		FilledPrice:    placed.FilledPrice,
		Commission:     placed.Commission,
		Reason:         placed.Reason,
	}
	switch placed.Status {
	case "FILLED":
		report.Status = event.OrderStatusFilled
	case "PARTIALLY_FILLED":
		report.Status = event.OrderStatusPartFilled
	case "REJECTED":
		report.Status = event.OrderStatusRejected
	default:
		return ExecutionReport{}, fmt.Errorf("unexpected venue order status %q", placed.Status)
	}
	return report, nil
}

// VenuePosition is the venue's reported exposure on one symbol.
type VenuePosition struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

// FetchPositions pulls the venue's open position snapshot.
func (e *LiveExecutor) FetchPositions(ctx context.Context) ([]VenuePosition, error) {
	ts := strconv.FormatInt(e.now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/api/v1/positions", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build positions request")
	}
	req.Header.Set("X-API-KEY", e.cfg.APIKey)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", e.sign(ts, nil))

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch positions")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read positions response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("venue returned %d: %s", resp.StatusCode, raw)
	}

	var positions []VenuePosition
	if err := sonic.Unmarshal(raw, &positions); err != nil {
		return nil, errors.Wrap(err, "decode positions response")
	}
	return positions, nil
}

func (e *LiveExecutor) sign(ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(e.cfg.SecretKey))
	mac.Write([]byte(ts))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

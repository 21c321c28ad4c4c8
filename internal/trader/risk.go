package trader

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"main/internal/event"
)

var (
	ErrMaxOrderQuantity = errors.New("order quantity exceeds limit")
	ErrMaxOrderNotional = errors.New("order notional exceeds limit")
	ErrMaxPosition      = errors.New("resulting position exceeds limit")
)

// Limits are static pre-submission risk checks. A zero value disables the
// corresponding check.
type Limits struct {
	MaxOrderQuantity decimal.Decimal
	MaxOrderNotional decimal.Decimal
	MaxPosition      decimal.Decimal
}

// Check validates a submission against the limits, given the signed current
// position quantity for the symbol (long positive, short negative).
func (l Limits) Check(req SubmitRequest, position decimal.Decimal) error {
	if l.MaxOrderQuantity.IsPositive() && req.Quantity.GreaterThan(l.MaxOrderQuantity) {
		return fmt.Errorf("%w: %s > %s", ErrMaxOrderQuantity, req.Quantity, l.MaxOrderQuantity)
	}

	if l.MaxOrderNotional.IsPositive() && req.Price.IsPositive() {
		notional := req.Price.Mul(req.Quantity)
		if notional.GreaterThan(l.MaxOrderNotional) {
			return fmt.Errorf("%w: %s > %s", ErrMaxOrderNotional, notional, l.MaxOrderNotional)
		}
	}

	if l.MaxPosition.IsPositive() {
		next := position
		switch req.Side {
		case event.OrderSideBuy:
			next = next.Add(req.Quantity)
		case event.OrderSideSell:
			next = next.Sub(req.Quantity)
		}
		if next.Abs().GreaterThan(l.MaxPosition) {
			return fmt.Errorf("%w: %s > %s", ErrMaxPosition, next.Abs(), l.MaxPosition)
		}
	}
	return nil
}

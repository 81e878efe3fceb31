// Package grid implements the pure pricing and sizing math for a DCA ladder:
// a descending sequence of BUY limit prices below a reference market price,
// geometrically growing quantities normalized to a quote budget, and the
// take-profit price above the weighted average entry.
package grid

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "dca_grid/pkg/errors"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Params is the slice of bot configuration the ladder math consumes.
// All percentage fields are expressed as percents (1 means 1%).
type Params struct {
	NumOrders        int
	GridLength       decimal.Decimal
	FirstOrderOffset decimal.Decimal
	NextOrderVolume  decimal.Decimal
}

// Level is one rung of a computed ladder
type Level struct {
	Number   int
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Fill is a (price, executed quantity) observation used for entry averaging
type Fill struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Prices computes the descending price ladder below marketPrice.
//
// The top rung sits offsetPct below market; the ladder spans lengthPct of
// the top price across n rungs. Each price is rounded to the symbol tick.
// The result is non-increasing.
func Prices(marketPrice, offsetPct, lengthPct decimal.Decimal, n int, f Filters) []decimal.Decimal {
	top := marketPrice.Mul(one.Sub(offsetPct.Div(hundred)))
	drop := top.Mul(lengthPct.Div(hundred))

	step := decimal.Zero
	if n > 1 {
		step = drop.Div(decimal.NewFromInt(int64(n - 1)))
	}

	prices := make([]decimal.Decimal, 0, n)
	for i := 0; i < n; i++ {
		p := top.Sub(step.Mul(decimal.NewFromInt(int64(i))))
		prices = append(prices, RoundToTick(p, f.PriceTick))
	}
	return prices
}

// Sizes computes per-rung quantities for the given prices.
//
// Quantities grow geometrically by growthPct per rung and are normalized so
// the total notional equals budget, then quantized down to the symbol step.
// Every rung's notional must clear the venue minimum.
func Sizes(prices []decimal.Decimal, budget, growthPct decimal.Decimal, f Filters) ([]decimal.Decimal, error) {
	if budget.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.ErrCycleBudgetExhausted
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("empty price ladder: %w", apperrors.ErrInvalidOrderParameter)
	}

	priceSum := decimal.Zero
	for _, p := range prices {
		if p.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("non-positive ladder price %s: %w", p, apperrors.ErrInvalidOrderParameter)
		}
		priceSum = priceSum.Add(p)
	}

	base := budget.Div(priceSum)
	growth := one.Add(growthPct.Div(hundred))

	// Geometric sequence, then normalize so Σ(pᵢ·qᵢ) = budget
	raw := make([]decimal.Decimal, len(prices))
	factor := one
	weighted := decimal.Zero
	for i, p := range prices {
		raw[i] = base.Mul(factor)
		weighted = weighted.Add(p.Mul(raw[i]))
		factor = factor.Mul(growth)
	}
	scale := budget.Div(weighted)

	sizes := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		qty := QuantizeToStep(raw[i].Mul(scale), f.QtyStep)
		notional := p.Mul(qty)
		if notional.LessThan(f.MinNotional) {
			return nil, fmt.Errorf("order %d notional %s below venue minimum %s: %w",
				i+1, notional.StringFixed(8), f.MinNotional, apperrors.ErrInvalidOrderParameter)
		}
		sizes[i] = qty
	}
	return sizes, nil
}

// Build produces the complete ladder for one grid placement. budget is the
// quote amount still available: the bot's full amount on a fresh cycle, the
// unspent remainder when resuming a partially filled one.
func Build(marketPrice, budget decimal.Decimal, p Params, f Filters) ([]Level, error) {
	if p.NumOrders < 1 {
		return nil, fmt.Errorf("num_orders must be at least 1, got %d: %w", p.NumOrders, apperrors.ErrInvalidOrderParameter)
	}
	if marketPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("non-positive market price %s: %w", marketPrice, apperrors.ErrInvalidOrderParameter)
	}

	prices := Prices(marketPrice, p.FirstOrderOffset, p.GridLength, p.NumOrders, f)
	sizes, err := Sizes(prices, budget, p.NextOrderVolume, f)
	if err != nil {
		return nil, err
	}

	levels := make([]Level, len(prices))
	for i := range prices {
		levels[i] = Level{Number: i + 1, Price: prices[i], Quantity: sizes[i]}
	}
	return levels, nil
}

// AverageEntry returns the quantity-weighted average price over fills.
// Zero total quantity yields zero.
func AverageEntry(fills []Fill) decimal.Decimal {
	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for _, fl := range fills {
		totalQty = totalQty.Add(fl.Quantity)
		totalNotional = totalNotional.Add(fl.Price.Mul(fl.Quantity))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalNotional.Div(totalQty)
}

// TakeProfitPrice returns the sell target above the average entry, rounded
// to the symbol tick
func TakeProfitPrice(avgEntry, profitPct decimal.Decimal, f Filters) decimal.Decimal {
	return RoundToTick(avgEntry.Mul(one.Add(profitPct.Div(hundred))), f.PriceTick)
}

// TakeProfitQuantity returns the unsold base quantity a fresh take-profit
// must cover, floored to the symbol step
func TakeProfitQuantity(buyFilled, sellFilled decimal.Decimal, f Filters) decimal.Decimal {
	return QuantizeToStep(buyFilled.Sub(sellFilled), f.QtyStep)
}

// Notional returns Σ(price·quantity) over fills
func Notional(fills []Fill) decimal.Decimal {
	total := decimal.Zero
	for _, fl := range fills {
		total = total.Add(fl.Price.Mul(fl.Quantity))
	}
	return total
}

// RoundToTick rounds a price to the nearest multiple of tick
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.LessThanOrEqual(decimal.Zero) {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// QuantizeToStep floors a quantity to a multiple of step. Quantities always
// round down so an order can never exceed the computed budget.
func QuantizeToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

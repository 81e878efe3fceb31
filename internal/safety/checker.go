// Package safety validates bot parameters, grid plans and operator input
// before anything reaches the venue or the store
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
	"dca_grid/internal/grid"
	apperrors "dca_grid/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// planTolerance is the slack allowed between a plan's total notional and
// its budget, as a fraction of the budget. Tick and step rounding in the
// ladder math stays well inside it.
var planTolerance = decimal.RequireFromString("0.001")

// Checker validates bot configuration and grid plans before money moves
type Checker struct {
	filters grid.Table
	logger  core.ILogger
}

// NewChecker creates a checker bound to the venue filter table
func NewChecker(filters grid.Table, logger core.ILogger) *Checker {
	return &Checker{
		filters: filters,
		logger:  logger,
	}
}

// CheckBotParams validates the strategy parameters of a bot before it is
// persisted or launched. Percent parameters use human percent: 1 means 1%.
func (c *Checker) CheckBotParams(bot *core.Bot) error {
	if strings.TrimSpace(bot.Name) == "" {
		return fmt.Errorf("bot name cannot be empty: %w", apperrors.ErrInvalidOrderParameter)
	}
	if _, ok := c.filters[bot.Symbol]; !ok {
		return fmt.Errorf("unknown symbol %q: %w", bot.Symbol, apperrors.ErrInvalidSymbol)
	}
	if !bot.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s: %w", bot.Amount, apperrors.ErrInvalidOrderParameter)
	}
	if !bot.GridLength.IsPositive() || bot.GridLength.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("grid_length must be between 0 and 100 percent, got %s: %w",
			bot.GridLength, apperrors.ErrInvalidOrderParameter)
	}
	if !bot.FirstOrderOffset.IsPositive() || bot.FirstOrderOffset.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("first_order_offset must be between 0 and 100 percent, got %s: %w",
			bot.FirstOrderOffset, apperrors.ErrInvalidOrderParameter)
	}
	if bot.NumOrders < 1 {
		return fmt.Errorf("num_orders must be at least 1, got %d: %w",
			bot.NumOrders, apperrors.ErrInvalidOrderParameter)
	}
	if bot.NextOrderVolume.IsNegative() {
		return fmt.Errorf("next_order_volume cannot be negative, got %s: %w",
			bot.NextOrderVolume, apperrors.ErrInvalidOrderParameter)
	}
	if !bot.ProfitPercentage.IsPositive() {
		return fmt.Errorf("profit_percentage must be positive, got %s: %w",
			bot.ProfitPercentage, apperrors.ErrInvalidOrderParameter)
	}
	if bot.PriceChangePercentage.IsNegative() {
		return fmt.Errorf("price_change_percentage cannot be negative, got %s: %w",
			bot.PriceChangePercentage, apperrors.ErrInvalidOrderParameter)
	}
	if bot.UpperPriceLimit.IsNegative() {
		return fmt.Errorf("upper_price_limit cannot be negative, got %s: %w",
			bot.UpperPriceLimit, apperrors.ErrInvalidOrderParameter)
	}
	return nil
}

// CheckGridPlan validates a built ladder against the venue rules and the
// cycle budget. The ladder must descend, every rung must clear the venue
// minimum notional, and the total must not exceed the budget beyond
// rounding slack.
func (c *Checker) CheckGridPlan(symbol string, levels []grid.Level, budget decimal.Decimal) error {
	if len(levels) == 0 {
		return fmt.Errorf("empty grid plan: %w", apperrors.ErrInvalidOrderParameter)
	}

	f := c.filters.For(symbol)
	total := decimal.Zero
	for i, lvl := range levels {
		if !lvl.Price.IsPositive() || !lvl.Quantity.IsPositive() {
			return fmt.Errorf("level %d has non-positive price %s or quantity %s: %w",
				lvl.Number, lvl.Price, lvl.Quantity, apperrors.ErrInvalidOrderParameter)
		}
		if i > 0 && lvl.Price.GreaterThan(levels[i-1].Price) {
			return fmt.Errorf("ladder must descend: level %d price %s above level %d price %s: %w",
				lvl.Number, lvl.Price, levels[i-1].Number, levels[i-1].Price,
				apperrors.ErrInvalidOrderParameter)
		}
		notional := lvl.Price.Mul(lvl.Quantity)
		if notional.LessThan(f.MinNotional) {
			return fmt.Errorf("level %d notional %s below venue minimum %s: %w",
				lvl.Number, notional.StringFixed(8), f.MinNotional, apperrors.ErrInvalidOrderParameter)
		}
		total = total.Add(notional)
	}

	limit := budget.Add(budget.Mul(planTolerance))
	if total.GreaterThan(limit) {
		return fmt.Errorf("plan notional %s exceeds budget %s: %w",
			total.StringFixed(8), budget, apperrors.ErrCycleBudgetExhausted)
	}

	c.logger.Debug("Grid plan passed safety checks",
		"symbol", symbol, "levels", len(levels), "total_notional", total)
	return nil
}

var sqlPattern = regexp.MustCompile(`['"]\s*;\s*|\b(DROP|DELETE|UPDATE|INSERT)\b`)

// ValidateInput checks operator-supplied strings for injection-shaped
// content before they are stored or echoed anywhere
func ValidateInput(input string) error {
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return fmt.Errorf("potentially malicious input detected")
	}
	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return fmt.Errorf("potentially malicious input detected")
	}
	if sqlPattern.MatchString(strings.ToUpper(input)) {
		return fmt.Errorf("potentially malicious input detected")
	}
	return nil
}

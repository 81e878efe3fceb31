package safety

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dca_grid/internal/core"
	"dca_grid/internal/grid"
	"dca_grid/internal/logging"
	apperrors "dca_grid/pkg/errors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validBot() *core.Bot {
	return &core.Bot{
		ID:                    uuid.New(),
		Name:                  "btc-dca",
		Exchange:              "mock",
		Symbol:                "BTCUSDT",
		Amount:                d("1000"),
		GridLength:            d("10"),
		FirstOrderOffset:      d("1"),
		NumOrders:             5,
		NextOrderVolume:       d("5"),
		ProfitPercentage:      d("1"),
		PriceChangePercentage: d("0.5"),
	}
}

func newChecker() *Checker {
	return NewChecker(grid.NewTable(), logging.NewCapture())
}

func TestCheckBotParams_AcceptsValidBot(t *testing.T) {
	require.NoError(t, newChecker().CheckBotParams(validBot()))
}

func TestCheckBotParams_RejectsBadParameters(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*core.Bot)
		wantErr error
	}{
		{
			name:    "empty name",
			mutate:  func(b *core.Bot) { b.Name = "   " },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "unknown symbol",
			mutate:  func(b *core.Bot) { b.Symbol = "DOGEUSDT" },
			wantErr: apperrors.ErrInvalidSymbol,
		},
		{
			name:    "zero amount",
			mutate:  func(b *core.Bot) { b.Amount = decimal.Zero },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "negative amount",
			mutate:  func(b *core.Bot) { b.Amount = d("-10") },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "zero grid length",
			mutate:  func(b *core.Bot) { b.GridLength = decimal.Zero },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "grid length at 100",
			mutate:  func(b *core.Bot) { b.GridLength = d("100") },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "zero first order offset",
			mutate:  func(b *core.Bot) { b.FirstOrderOffset = decimal.Zero },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "offset above 100",
			mutate:  func(b *core.Bot) { b.FirstOrderOffset = d("150") },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "zero num orders",
			mutate:  func(b *core.Bot) { b.NumOrders = 0 },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "negative volume growth",
			mutate:  func(b *core.Bot) { b.NextOrderVolume = d("-1") },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "zero profit percentage",
			mutate:  func(b *core.Bot) { b.ProfitPercentage = decimal.Zero },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "negative price change percentage",
			mutate:  func(b *core.Bot) { b.PriceChangePercentage = d("-0.5") },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
		{
			name:    "negative upper price limit",
			mutate:  func(b *core.Bot) { b.UpperPriceLimit = d("-25000") },
			wantErr: apperrors.ErrInvalidOrderParameter,
		},
	}

	checker := newChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := validBot()
			tt.mutate(bot)
			err := checker.CheckBotParams(bot)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckGridPlan_AcceptsBuiltLadder(t *testing.T) {
	table := grid.NewTable()
	f := table.For("BTCUSDT")
	budget := d("1000")

	levels, err := grid.Build(d("25000"), budget, grid.Params{
		NumOrders:        5,
		GridLength:       d("10"),
		FirstOrderOffset: d("1"),
		NextOrderVolume:  d("5"),
	}, f)
	require.NoError(t, err)

	require.NoError(t, newChecker().CheckGridPlan("BTCUSDT", levels, budget))
}

func TestCheckGridPlan_RejectsAscendingLadder(t *testing.T) {
	levels := []grid.Level{
		{Number: 1, Price: d("24000"), Quantity: d("0.01")},
		{Number: 2, Price: d("24500"), Quantity: d("0.01")},
	}

	err := newChecker().CheckGridPlan("BTCUSDT", levels, d("1000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
	assert.Contains(t, err.Error(), "ladder must descend")
}

func TestCheckGridPlan_RejectsDustRung(t *testing.T) {
	// Second rung is worth about 2.4 quote units, below the 5 minimum
	levels := []grid.Level{
		{Number: 1, Price: d("24500"), Quantity: d("0.01")},
		{Number: 2, Price: d("24000"), Quantity: d("0.0001")},
	}

	err := newChecker().CheckGridPlan("BTCUSDT", levels, d("1000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
	assert.Contains(t, err.Error(), "below venue minimum")
}

func TestCheckGridPlan_RejectsOverBudget(t *testing.T) {
	// Two rungs of 245 and 240 against a 100 budget
	levels := []grid.Level{
		{Number: 1, Price: d("24500"), Quantity: d("0.01")},
		{Number: 2, Price: d("24000"), Quantity: d("0.01")},
	}

	err := newChecker().CheckGridPlan("BTCUSDT", levels, d("100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCycleBudgetExhausted)
}

func TestCheckGridPlan_ToleratesRoundingDust(t *testing.T) {
	// 1000.5 total against a 1000 budget sits inside the 0.1% slack
	levels := []grid.Level{
		{Number: 1, Price: d("25000"), Quantity: d("0.02")},
		{Number: 2, Price: d("24750"), Quantity: d("0.02022")},
	}

	require.NoError(t, newChecker().CheckGridPlan("BTCUSDT", levels, d("1000")))
}

func TestCheckGridPlan_RejectsEmptyPlan(t *testing.T) {
	err := newChecker().CheckGridPlan("BTCUSDT", nil, d("1000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain bot name", "btc-dca", false},
		{"name with spaces", "my trading bot", false},
		{"empty input", "", false},
		{"symbol", "BTCUSDT", false},
		{"command chaining", "bot; rm -rf /", true},
		{"shell and", "bot && curl evil", true},
		{"shell or", "bot || true", true},
		{"path traversal", "../../../etc/passwd", true},
		{"sql injection", "'; DROP TABLE bots; --", true},
		{"bare drop keyword", "drop the beat", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "potentially malicious input detected")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

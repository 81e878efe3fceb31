package grid

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "dca_grid/pkg/errors"
)

func TestPrices_DescendingLadder(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	prices := Prices(d("25000"), d("1"), d("10"), 5, f)

	require.Len(t, prices, 5)
	expected := []string{"24750", "24131.25", "23512.5", "22893.75", "22275"}
	for i, want := range expected {
		assert.True(t, prices[i].Equal(d(want)), "price %d: got %s, want %s", i+1, prices[i], want)
	}

	// Step between adjacent rungs is constant
	step := prices[0].Sub(prices[1])
	assert.True(t, step.Equal(d("618.75")), "step: got %s", step)
}

func TestPrices_SingleOrder(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	prices := Prices(d("25000"), d("1"), d("10"), 1, f)

	require.Len(t, prices, 1)
	assert.True(t, prices[0].Equal(d("24750")), "got %s", prices[0])
}

func TestPrices_NonIncreasing(t *testing.T) {
	table := NewTable()
	configs := []struct {
		name   string
		symbol string
		market string
		offset string
		length string
		n      int
	}{
		{"btc wide", "BTCUSDT", "25000", "1", "10", 5},
		{"eth narrow", "ETHUSDT", "1850.55", "0.5", "5", 3},
		{"pepe micro", "PEPEUSDT", "0.00001234", "2", "20", 10},
		{"deep ladder", "BTCUSDT", "98765.43", "0.1", "35", 40},
	}

	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			f := table.For(tc.symbol)
			market := d(tc.market)
			prices := Prices(market, d(tc.offset), d(tc.length), tc.n, f)

			require.Len(t, prices, tc.n)
			assert.True(t, prices[0].LessThan(market), "top rung %s must sit below market %s", prices[0], market)
			for i := 1; i < len(prices); i++ {
				assert.True(t, prices[i].LessThanOrEqual(prices[i-1]),
					"ladder must be non-increasing at rung %d: %s > %s", i+1, prices[i], prices[i-1])
			}
		})
	}
}

func TestSizes_NormalizedToBudget(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	prices := Prices(d("25000"), d("1"), d("10"), 5, f)
	budget := d("1000")

	sizes, err := Sizes(prices, budget, d("5"), f)
	require.NoError(t, err)
	require.Len(t, sizes, 5)

	// Quantities grow strictly with depth
	for i := 1; i < len(sizes); i++ {
		assert.True(t, sizes[i].GreaterThan(sizes[i-1]),
			"quantity %d (%s) should exceed quantity %d (%s)", i+1, sizes[i], i, sizes[i-1])
	}

	// Total notional matches the budget up to step quantization: never
	// above it, short by less than one quote unit
	total := decimal.Zero
	for i := range prices {
		total = total.Add(prices[i].Mul(sizes[i]))
	}
	assert.True(t, total.LessThanOrEqual(budget), "total %s exceeds budget", total)
	assert.True(t, budget.Sub(total).LessThan(d("1")), "total %s short of budget by a full quote unit", total)
}

func TestSizes_ZeroGrowthSplitsEvenly(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	prices := Prices(d("25000"), d("1"), d("10"), 4, f)

	sizes, err := Sizes(prices, d("2000"), d("0"), f)
	require.NoError(t, err)

	// With no growth every rung gets the same base quantity
	for i := 1; i < len(sizes); i++ {
		assert.True(t, sizes[i].Equal(sizes[0]), "rung %d: got %s, want %s", i+1, sizes[i], sizes[0])
	}
}

func TestSizes_BudgetExhausted(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	prices := Prices(d("25000"), d("1"), d("10"), 5, f)

	_, err := Sizes(prices, decimal.Zero, d("5"), f)
	assert.ErrorIs(t, err, apperrors.ErrCycleBudgetExhausted)

	_, err = Sizes(prices, d("-12.5"), d("5"), f)
	assert.ErrorIs(t, err, apperrors.ErrCycleBudgetExhausted)
}

func TestSizes_MinNotionalViolation(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	prices := Prices(d("25000"), d("1"), d("10"), 5, f)

	// 20 quote units across 5 rungs leaves ~4 per order, under the venue
	// minimum of 5
	_, err := Sizes(prices, d("20"), d("0"), f)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestBuild_NumbersRungsFromOne(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	params := Params{
		NumOrders:        5,
		GridLength:       d("10"),
		FirstOrderOffset: d("1"),
		NextOrderVolume:  d("5"),
	}

	levels, err := Build(d("25000"), d("1000"), params, f)
	require.NoError(t, err)
	require.Len(t, levels, 5)

	for i, lvl := range levels {
		assert.Equal(t, i+1, lvl.Number)
		assert.True(t, lvl.Quantity.IsPositive())
	}
	assert.True(t, levels[0].Price.Equal(d("24750")))
}

func TestBuild_RejectsBadParams(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	params := Params{NumOrders: 0, GridLength: d("10"), FirstOrderOffset: d("1")}

	_, err := Build(d("25000"), d("1000"), params, f)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)

	params.NumOrders = 5
	_, err = Build(decimal.Zero, d("1000"), params, f)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestAverageEntry(t *testing.T) {
	fills := []Fill{
		{Price: d("24750"), Quantity: d("0.008")},
		{Price: d("24131.25"), Quantity: d("0.0084")},
	}

	avg := AverageEntry(fills)
	// 400.7025 / 0.0164
	assert.True(t, avg.Round(8).Equal(d("24433.07926829")), "got %s", avg)

	assert.True(t, AverageEntry(nil).IsZero())
}

func TestTakeProfitPrice(t *testing.T) {
	f := NewTable().For("BTCUSDT")
	fills := []Fill{
		{Price: d("24750"), Quantity: d("0.008")},
		{Price: d("24131.25"), Quantity: d("0.0084")},
	}

	tp := TakeProfitPrice(AverageEntry(fills), d("1"), f)
	assert.True(t, tp.Equal(d("24677.41")), "got %s", tp)

	// Target must clear the average entry
	assert.True(t, tp.GreaterThan(AverageEntry(fills)))
}

func TestNotional(t *testing.T) {
	fills := []Fill{
		{Price: d("24750"), Quantity: d("0.008")},
		{Price: d("24131.25"), Quantity: d("0.0084")},
	}
	assert.True(t, Notional(fills).Equal(d("400.7025")), "got %s", Notional(fills))
	assert.True(t, Notional(nil).IsZero())
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		price string
		tick  string
		want  string
	}{
		{"24677.410060975", "0.01", "24677.41"},
		{"24677.415", "0.01", "24677.42"},
		{"0.0000120932", "0.00000001", "0.00001209"},
		{"5.5", "0", "5.5"},
	}
	for _, tt := range tests {
		got := RoundToTick(d(tt.price), d(tt.tick))
		assert.True(t, got.Equal(d(tt.want)), "RoundToTick(%s, %s) = %s, want %s", tt.price, tt.tick, got, tt.want)
	}
}

func TestQuantizeToStep(t *testing.T) {
	tests := []struct {
		qty  string
		step string
		want string
	}{
		{"0.0077166", "0.00001", "0.00771"},
		{"0.0164", "0.00001", "0.0164"},
		{"1.999", "1", "1"},
		{"0.5", "0", "0.5"},
	}
	for _, tt := range tests {
		got := QuantizeToStep(d(tt.qty), d(tt.step))
		assert.True(t, got.Equal(d(tt.want)), "QuantizeToStep(%s, %s) = %s, want %s", tt.qty, tt.step, got, tt.want)
	}
}

func TestTableFor(t *testing.T) {
	table := NewTable()

	pepe := table.For("PEPEUSDT")
	assert.True(t, pepe.PriceTick.Equal(d("0.00000001")))
	assert.True(t, pepe.MinNotional.Equal(d("1")))

	// Unknown symbols fall back to the conservative default
	unknown := table.For("DOGEUSDT")
	assert.True(t, unknown.QtyStep.Equal(d("0.00001")))
	assert.True(t, unknown.PriceTick.Equal(d("0.01")))
	assert.True(t, unknown.MinNotional.Equal(d("5")))
}

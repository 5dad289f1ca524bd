package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/domain"
)

func TestStrategySpec_Validate(t *testing.T) {
	tests := []struct {
		name string
		spec StrategySpec
		ok   bool
	}{
		{"trend following", StrategySpec{Type: StrategyTrendFollowing, Weight: 1}, true},
		{"momentum", StrategySpec{Type: StrategyMomentum, Weight: 0}, true},
		{"mean reversion", StrategySpec{Type: StrategyMeanReversion, Weight: 2.5}, true},
		{"unknown type", StrategySpec{Type: "arbitrage", Weight: 1}, false},
		{"negative weight", StrategySpec{Type: StrategyMomentum, Weight: -0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindValidation))
		})
	}
}

func TestTrendFollowing_SignalsUptrend(t *testing.T) {
	strat, err := newStrategy(StrategySpec{
		Type:       StrategyTrendFollowing,
		Weight:     1,
		Parameters: map[string]float64{"fast_period": 3, "slow_period": 10},
	})
	require.NoError(t, err)

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10 + float64(i)
	}

	signals := strat.Signals(closes)
	require.Len(t, signals, 30)
	assert.Zero(t, signals[0], "no signal before the slow window fills")
	assert.Equal(t, 1.0, signals[len(signals)-1], "fast average above slow in an uptrend")
}

func TestTrendFollowing_TooFewBars(t *testing.T) {
	strat, err := newStrategy(StrategySpec{Type: StrategyTrendFollowing, Weight: 1})
	require.NoError(t, err)

	signals := strat.Signals([]float64{10, 11, 12})
	assert.Equal(t, make([]float64, 3), signals)
}

func TestMomentum_Signals(t *testing.T) {
	strat, err := newStrategy(StrategySpec{Type: StrategyMomentum, Weight: 1})
	require.NoError(t, err)

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	signals := strat.Signals(falling)
	assert.Equal(t, 1.0, signals[len(signals)-1], "monotone decline is maximally oversold")

	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	signals = strat.Signals(rising)
	assert.Equal(t, -1.0, signals[len(signals)-1], "monotone rise is maximally overbought")
}

func TestMeanReversion_SignalsOnBandTouch(t *testing.T) {
	strat, err := newStrategy(StrategySpec{Type: StrategyMeanReversion, Weight: 1})
	require.NoError(t, err)

	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 10
	}
	closes[24] = 8

	signals := strat.Signals(closes)
	assert.Equal(t, 1.0, signals[24], "a sharp dip pierces the lower band")

	closes[24] = 12
	signals = strat.Signals(closes)
	assert.Equal(t, -1.0, signals[24], "a sharp spike pierces the upper band")
}

func TestCombineSignals_NormalizesWeights(t *testing.T) {
	specs := []StrategySpec{
		{Type: StrategyMomentum, Weight: 3},
		{Type: StrategyMeanReversion, Weight: 1},
	}
	signals := [][]float64{
		{1, 1, 0},
		{1, -1, 0},
	}

	combined := combineSignals(specs, signals, 3)
	require.Len(t, combined, 3)
	assert.InDelta(t, 1.0, combined[0], 1e-9)
	assert.InDelta(t, 0.5, combined[1], 1e-9)
	assert.InDelta(t, 0.0, combined[2], 1e-9)
}

func TestCombineSignals_ZeroWeightsFallBackToEqual(t *testing.T) {
	specs := []StrategySpec{
		{Type: StrategyMomentum, Weight: 0},
		{Type: StrategyMeanReversion, Weight: 0},
	}
	signals := [][]float64{
		{1, 0},
		{0, 1},
	}

	combined := combineSignals(specs, signals, 2)
	assert.InDelta(t, 0.5, combined[0], 1e-9)
	assert.InDelta(t, 0.5, combined[1], 1e-9)
}

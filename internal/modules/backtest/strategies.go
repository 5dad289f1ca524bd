package backtest

import (
	"github.com/markcheno/go-talib"

	"github.com/aristath/marketd/internal/domain"
)

// Strategy types accepted in requests.
const (
	StrategyTrendFollowing = "trend_following"
	StrategyMomentum       = "momentum"
	StrategyMeanReversion  = "mean_reversion"
)

// StrategySpec selects one strategy and its weight in the combined signal.
// Parameters override the strategy defaults; unknown keys are ignored.
type StrategySpec struct {
	Type       string             `json:"type"`
	Weight     float64            `json:"weight"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Validate rejects unknown types and negative weights.
func (s StrategySpec) Validate() error {
	switch s.Type {
	case StrategyTrendFollowing, StrategyMomentum, StrategyMeanReversion:
	default:
		return domain.Validationf("unknown strategy type %q", s.Type)
	}
	if s.Weight < 0 {
		return domain.Validationf("strategy %s has negative weight %v", s.Type, s.Weight)
	}
	return nil
}

func (s StrategySpec) param(key string, def float64) float64 {
	if v, ok := s.Parameters[key]; ok {
		return v
	}
	return def
}

// strategy produces one raw signal per bar: +1 buy, -1 sell, 0 hold.
type strategy interface {
	Signals(closes []float64) []float64
}

func newStrategy(spec StrategySpec) (strategy, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Type {
	case StrategyTrendFollowing:
		return &trendFollowing{
			fast:      int(spec.param("fast_period", 5)),
			slow:      int(spec.param("slow_period", 20)),
			threshold: spec.param("threshold", 0.01),
		}, nil
	case StrategyMomentum:
		return &momentum{
			period:     int(spec.param("rsi_period", 14)),
			oversold:   spec.param("oversold", 30),
			overbought: spec.param("overbought", 70),
		}, nil
	default:
		return &meanReversion{
			period: int(spec.param("bb_period", 20)),
			nbdev:  spec.param("bb_std", 2),
			entry:  spec.param("entry_threshold", 1),
		}, nil
	}
}

// trendFollowing signals on the relative spread between a fast and a slow
// moving average. The spread is normalized by the slow average so the
// threshold is scale free.
type trendFollowing struct {
	fast, slow int
	threshold  float64
}

func (t *trendFollowing) Signals(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < t.slow || t.slow <= 0 || t.fast <= 0 {
		return out
	}
	fast := talib.Sma(closes, t.fast)
	slow := talib.Sma(closes, t.slow)
	for i := t.slow - 1; i < len(closes); i++ {
		if slow[i] == 0 {
			continue
		}
		diff := (fast[i] - slow[i]) / slow[i]
		switch {
		case diff > t.threshold:
			out[i] = 1
		case diff < -t.threshold:
			out[i] = -1
		}
	}
	return out
}

// momentum signals on RSI extremes: oversold is a buy, overbought a sell.
type momentum struct {
	period               int
	oversold, overbought float64
}

func (m *momentum) Signals(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) <= m.period || m.period <= 0 {
		return out
	}
	rsi := talib.Rsi(closes, m.period)
	for i := m.period; i < len(closes); i++ {
		switch {
		case rsi[i] < m.oversold:
			out[i] = 1
		case rsi[i] > m.overbought:
			out[i] = -1
		}
	}
	return out
}

// meanReversion signals on the close's z-score within the Bollinger band:
// touching the lower band is a buy, the upper band a sell.
type meanReversion struct {
	period int
	nbdev  float64
	entry  float64
}

func (m *meanReversion) Signals(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < m.period || m.period <= 0 {
		return out
	}
	upper, middle, lower := talib.BBands(closes, m.period, m.nbdev, m.nbdev, talib.SMA)
	for i := m.period - 1; i < len(closes); i++ {
		half := (upper[i] - lower[i]) / 2
		if half == 0 {
			continue
		}
		z := (closes[i] - middle[i]) / half
		switch {
		case z < -m.entry:
			out[i] = 1
		case z > m.entry:
			out[i] = -1
		}
	}
	return out
}

// combineSignals merges per-strategy signals into one weighted series.
// Weights are normalized so the combined value stays in [-1, 1]; an all-zero
// weight set degrades to equal weighting.
func combineSignals(specs []StrategySpec, signals [][]float64, n int) []float64 {
	combined := make([]float64, n)
	total := 0.0
	for _, spec := range specs {
		total += spec.Weight
	}
	for i, spec := range specs {
		w := spec.Weight
		if total > 0 {
			w /= total
		} else {
			w = 1 / float64(len(specs))
		}
		for j := 0; j < n && j < len(signals[i]); j++ {
			combined[j] += w * signals[i][j]
		}
	}
	return combined
}

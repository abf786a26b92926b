package risk

import (
	"fmt"
	"math"

	"github.com/homebox25/Quant-Tutorials/pkg/indicators"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// VolatilityScale 波动率调整仓位
//
// Per period: (1/σ_t) / mean(1/σ), with σ_t the rolling sample std of
// returns. More size in calm periods, less in volatile ones. NaN during
// warm-up and where σ_t is zero. The series is meant to be lagged together
// with the signal by the backtest.
func VolatilityScale(returns *stats.Series, window int) (*stats.Series, error) {
	vol, err := indicators.RollingVolatility(returns, window)
	if err != nil {
		return nil, err
	}

	inv := vol.Map("inv_vol", func(v float64) float64 {
		if !(v > 0) {
			return math.NaN()
		}
		return 1 / v
	})

	valid := inv.DropNaN().Values()
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no defined volatility in %d returns with window %d",
			stats.ErrInsufficientData, returns.Len(), window)
	}
	mean := stats.Mean(valid)

	return inv.Map("vol_scale", func(v float64) float64 { return v / mean }), nil
}

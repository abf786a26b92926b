package indicators

import (
	"fmt"
	"math"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// TradingDaysPerYear is the annualization base for daily bars.
const TradingDaysPerYear = 252

// RollingVolatility returns the rolling sample standard deviation of returns.
func RollingVolatility(returns *stats.Series, window int) (*stats.Series, error) {
	if window < 2 {
		return nil, fmt.Errorf("%w: volatility window must be >= 2, got %d", stats.ErrInvalidParameter, window)
	}
	return returns.RollingStd(window, 1).WithName("volatility"), nil
}

// Annualize scales a per-period volatility by sqrt(periodsPerYear).
func Annualize(vol *stats.Series, periodsPerYear int) *stats.Series {
	f := math.Sqrt(float64(periodsPerYear))
	return vol.Map(vol.Name(), func(v float64) float64 { return v * f })
}

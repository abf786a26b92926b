// Package indicators provides technical indicators over price series
package indicators

import (
	"fmt"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// Bands holds Bollinger Bands aligned to the source price series.
// All three are NaN during the warm-up window.
type Bands struct {
	Middle *stats.Series
	Upper  *stats.Series
	Lower  *stats.Series
	Window int
	NumStd float64
}

// Bollinger computes middle = rolling mean, upper/lower = middle ± numStd·rolling sample std.
func Bollinger(prices *stats.Series, window int, numStd float64) (Bands, error) {
	if window < 2 {
		return Bands{}, fmt.Errorf("%w: bollinger window must be >= 2, got %d", stats.ErrInvalidParameter, window)
	}
	if numStd <= 0 {
		return Bands{}, fmt.Errorf("%w: bollinger num_std must be positive, got %v", stats.ErrInvalidParameter, numStd)
	}

	middle := prices.RollingMean(window)
	std := prices.RollingStd(window, 1).Values()

	mid := middle.Values()
	upper := make([]float64, len(mid))
	lower := make([]float64, len(mid))
	for i := range mid {
		upper[i] = mid[i] + numStd*std[i]
		lower[i] = mid[i] - numStd*std[i]
	}

	up, err := middle.WithValues("upper", upper)
	if err != nil {
		return Bands{}, err
	}
	lo, err := middle.WithValues("lower", lower)
	if err != nil {
		return Bands{}, err
	}

	return Bands{
		Middle: middle.WithName("middle"),
		Upper:  up,
		Lower:  lo,
		Window: window,
		NumStd: numStd,
	}, nil
}

// PercentB returns (price - lower) / (upper - lower); NaN where the band is undefined or flat.
func (b Bands) PercentB(prices *stats.Series) (*stats.Series, error) {
	if err := stats.CheckAligned(prices, b.Middle); err != nil {
		return nil, err
	}
	out := make([]float64, prices.Len())
	for i := range out {
		width := b.Upper.Value(i) - b.Lower.Value(i)
		out[i] = stats.ZScore(prices.Value(i)-b.Lower.Value(i), 0, width)
	}
	return prices.WithValues("percent_b", out)
}

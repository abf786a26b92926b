package indicators

import (
	"fmt"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// SMA returns the simple moving average over window periods, NaN during warm-up.
func SMA(prices *stats.Series, window int) (*stats.Series, error) {
	if window < 1 {
		return nil, fmt.Errorf("%w: sma window must be positive, got %d", stats.ErrInvalidParameter, window)
	}
	return prices.RollingMean(window).WithName(fmt.Sprintf("sma%d", window)), nil
}

package signal

import (
	"fmt"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/ou"
)

// ZSource selects the reference mean and deviation for standardizing a spread.
type ZSource string

const (
	// ZSourceOU uses the fitted OU mu and sigma.
	ZSourceOU ZSource = "ou"
	// ZSourceRolling uses a rolling mean and sample std over Window.
	ZSourceRolling ZSource = "rolling"
	// ZSourceStatic uses the full-sample mean and sample std.
	ZSourceStatic ZSource = "static"
)

// ZConfig Z-Score 标准化配置
type ZConfig struct {
	Source    ZSource `yaml:"source"`
	Window    int     `yaml:"window"`
	Tolerance float64 `yaml:"-"`
}

// DefaultZConfig returns the OU source with a 20-period fallback window.
func DefaultZConfig() ZConfig {
	return ZConfig{Source: ZSourceOU, Window: 20, Tolerance: 1e-10}
}

// Validate checks the source and window.
func (c ZConfig) Validate() error {
	switch c.Source {
	case ZSourceOU, ZSourceStatic:
	case ZSourceRolling:
		if c.Window < 2 {
			return fmt.Errorf("%w: rolling z-score window must be >= 2, got %d", stats.ErrInvalidParameter, c.Window)
		}
	default:
		return fmt.Errorf("%w: unknown z-score source %q", stats.ErrInvalidParameter, c.Source)
	}
	return nil
}

// ZScores 计算 spread 的 Z-Score 序列
//
// params is only read for the ou source. Undefined points (warm-up, zero
// deviation) are NaN.
func ZScores(spread *stats.Series, params ou.Params, cfg ZConfig) (*stats.Series, error) {
	if cfg.Source == "" {
		cfg.Source = ZSourceOU
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-10
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Source {
	case ZSourceRolling:
		mean := spread.RollingMean(cfg.Window)
		std := spread.RollingStd(cfg.Window, 1)
		out := make([]float64, spread.Len())
		for i := range out {
			out[i] = stats.ZScore(spread.Value(i), mean.Value(i), std.Value(i))
		}
		return spread.WithValues("zscore", out)

	case ZSourceStatic:
		clean := spread.DropNaN().Values()
		if len(clean) < 2 {
			return nil, fmt.Errorf("%w: static z-score needs 2 observations, have %d", stats.ErrInsufficientData, len(clean))
		}
		mean, std := stats.Mean(clean), stats.SampleStdDev(clean)
		if std <= cfg.Tolerance {
			return nil, fmt.Errorf("%w: spread has no variance", stats.ErrDegenerateFit)
		}
		return spread.Map("zscore", func(v float64) float64 { return (v - mean) / std }), nil

	default:
		if !(params.Sigma > cfg.Tolerance) {
			return nil, fmt.Errorf("%w: ou sigma %g below tolerance", stats.ErrDegenerateFit, params.Sigma)
		}
		return spread.Map("zscore", params.ZScore), nil
	}
}

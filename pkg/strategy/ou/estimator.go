// Package ou estimates discretized Ornstein-Uhlenbeck parameters from a spread.
//
// The fit regresses the one-period change of the spread on its lagged level:
//
//	Δs_t = β0 + β1·s_{t-1} + ε_t
//
// and maps the coefficients to theta = -β1, mu = -β0/β1, sigma = std(ε).
package ou

import (
	"fmt"
	"math"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// Config controls the AR(1) fit.
type Config struct {
	// MinObservations is the minimum number of (lag, diff) pairs.
	MinObservations int `yaml:"min_observations"`

	// Tolerance below which |β1| is treated as zero.
	Tolerance float64 `yaml:"tolerance"`

	// DDoF for the residual standard deviation (0 = population).
	DDoF int `yaml:"ddof"`

	// RequireReversion turns theta <= 0 into ErrNoMeanReversion.
	RequireReversion bool `yaml:"require_reversion"`
}

// DefaultConfig returns MinObservations 30, Tolerance 1e-10, DDoF 0.
func DefaultConfig() Config {
	return Config{
		MinObservations: 30,
		Tolerance:       1e-10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinObservations <= 0 {
		c.MinObservations = d.MinObservations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	return c
}

// Params OU 参数
type Params struct {
	Mu    float64 // 长期均值
	Theta float64 // 均值回归速度 (per period)
	Sigma float64 // 残差波动率

	Beta0 float64
	Beta1 float64
	N     int // 回归样本数
}

// MeanReverting reports whether the fit detected reversion (theta > 0).
func (p Params) MeanReverting() bool {
	return p.Theta > 0
}

// HalfLife 均值回归半衰期 ln2/theta, in periods. +Inf when theta <= 0.
func (p Params) HalfLife() float64 {
	if p.Theta <= 0 {
		return math.Inf(1)
	}
	return math.Ln2 / p.Theta
}

// ZScore standardizes v against the fitted mean and volatility.
func (p Params) ZScore(v float64) float64 {
	return stats.ZScore(v, p.Mu, p.Sigma)
}

// Estimate 从 spread 序列估计 OU 参数
//
// Leading or interior NaNs are dropped pairwise after lagging. The result is
// a pure function of the input values.
func Estimate(spread *stats.Series, cfg Config) (Params, error) {
	cfg = cfg.withDefaults()
	if cfg.DDoF < 0 {
		return Params{}, fmt.Errorf("%w: ddof must be >= 0", stats.ErrInvalidParameter)
	}

	values := spread.Values()
	lag := make([]float64, 0, len(values))
	diff := make([]float64, 0, len(values))
	for t := 1; t < len(values); t++ {
		prev, cur := values[t-1], values[t]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		lag = append(lag, prev)
		diff = append(diff, cur-prev)
	}

	if len(lag) < cfg.MinObservations {
		return Params{}, fmt.Errorf("estimate ou: %w: need %d observations after differencing, have %d",
			stats.ErrInsufficientData, cfg.MinObservations, len(lag))
	}

	reg, err := stats.OLS(lag, diff)
	if err != nil {
		return Params{}, fmt.Errorf("estimate ou: %w", err)
	}

	if math.Abs(reg.Slope) < cfg.Tolerance {
		return Params{}, fmt.Errorf("estimate ou: %w: |beta1| = %g below tolerance %g",
			stats.ErrDegenerateFit, math.Abs(reg.Slope), cfg.Tolerance)
	}

	p := Params{
		Theta: -reg.Slope,
		Mu:    -reg.Intercept / reg.Slope,
		Sigma: math.Sqrt(stats.VarianceDDoF(reg.Residuals, cfg.DDoF)),
		Beta0: reg.Intercept,
		Beta1: reg.Slope,
		N:     reg.N,
	}

	if cfg.RequireReversion && !p.MeanReverting() {
		return p, fmt.Errorf("estimate ou: %w: theta = %g", stats.ErrNoMeanReversion, p.Theta)
	}

	return p, nil
}

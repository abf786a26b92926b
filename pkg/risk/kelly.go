// Package risk provides position sizing from realized strategy returns
package risk

import (
	"math"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// KellyConfig Kelly 仓位配置
type KellyConfig struct {
	// Cap bounds the fraction. Non-positive or NaN means 1.
	Cap float64 `yaml:"cap"`

	// UseHalf sizes with f/2 instead of f.
	UseHalf bool `yaml:"use_half_kelly"`

	// AllowShort clamps to [-Cap, Cap] so a negative edge sizes a short of the strategy.
	AllowShort bool `yaml:"allow_short"`

	// DefaultWinRate replaces the 0.5 neutral win rate when there are no trades.
	DefaultWinRate *float64 `yaml:"default_win_rate"`
}

// DefaultKellyConfig returns cap 1, half Kelly.
func DefaultKellyConfig() KellyConfig {
	return KellyConfig{Cap: 1, UseHalf: true}
}

// KellyResult Kelly 计算结果
type KellyResult struct {
	Wins   int
	Losses int

	WinRate     float64 // p
	PayoffRatio float64 // b = mean(wins) / |mean(losses)|
	Full        float64 // f = p - (1-p)/b, unclamped
	Half        float64 // f / 2, unclamped
	Fraction    float64 // sizing fraction after half/cap/clamp

	// Set when a neutral fallback replaced an undefined statistic.
	WinRateFallback bool
	PayoffFallback  bool
}

// KellyFraction f = p - (1-p)/b for a binary bet paying b per unit risked.
func KellyFraction(p, b float64) float64 {
	return p - (1-p)/b
}

// Kelly 根据已实现收益计算 Kelly 仓位
//
// Undefined returns (NaN) and exact zeros are not trades. Degenerate samples
// resolve to documented fallbacks: p = 0.5 (or DefaultWinRate) with no
// trades, b = 1 when either side is empty. The result is always usable.
func Kelly(returns *stats.Series, cfg KellyConfig) KellyResult {
	return KellyFromValues(returns.Values(), cfg)
}

// KellyFromValues is Kelly over a plain slice.
func KellyFromValues(returns []float64, cfg KellyConfig) KellyResult {
	var wins, losses []float64
	for _, r := range returns {
		switch {
		case r > 0:
			wins = append(wins, r)
		case r < 0:
			losses = append(losses, r)
		}
	}

	res := KellyResult{Wins: len(wins), Losses: len(losses)}

	if n := len(wins) + len(losses); n > 0 {
		res.WinRate = float64(len(wins)) / float64(n)
	} else {
		res.WinRate = 0.5
		if cfg.DefaultWinRate != nil {
			res.WinRate = *cfg.DefaultWinRate
		}
		res.WinRateFallback = true
	}

	if len(wins) > 0 && len(losses) > 0 {
		res.PayoffRatio = stats.Mean(wins) / math.Abs(stats.Mean(losses))
	} else {
		res.PayoffRatio = 1
		res.PayoffFallback = true
	}

	res.Full = KellyFraction(res.WinRate, res.PayoffRatio)
	res.Half = res.Full / 2

	f := res.Full
	if cfg.UseHalf {
		f = res.Half
	}
	res.Fraction = clampFraction(f, cfg)
	return res
}

func clampFraction(f float64, cfg KellyConfig) float64 {
	capVal := cfg.Cap
	if !(capVal > 0) {
		capVal = 1
	}
	lo := 0.0
	if cfg.AllowShort {
		lo = -capVal
	}
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(lo, math.Min(f, capVal))
}

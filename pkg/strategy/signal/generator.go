package signal

import (
	"fmt"
	"math"

	"github.com/homebox25/Quant-Tutorials/pkg/indicators"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// Config entry/exit 阈值配置
type Config struct {
	EntryThreshold float64 `yaml:"entry_threshold"`
	ExitThreshold  float64 `yaml:"exit_threshold"`

	// AllowReversal flips directly to the opposite side on an opposite entry.
	AllowReversal bool `yaml:"allow_reversal"`
}

// DefaultConfig returns entry 2, exit 0.
func DefaultConfig() Config {
	return Config{EntryThreshold: 2, ExitThreshold: 0}
}

// Validate requires 0 <= exit <= entry and a positive entry.
func (c Config) Validate() error {
	if !(c.EntryThreshold > 0) {
		return fmt.Errorf("%w: entry threshold must be positive, got %v", stats.ErrInvalidParameter, c.EntryThreshold)
	}
	if c.ExitThreshold < 0 || math.IsNaN(c.ExitThreshold) {
		return fmt.Errorf("%w: exit threshold must be >= 0, got %v", stats.ErrInvalidParameter, c.ExitThreshold)
	}
	if c.ExitThreshold > c.EntryThreshold {
		return fmt.Errorf("%w: exit threshold %v above entry threshold %v",
			stats.ErrInvalidParameter, c.ExitThreshold, c.EntryThreshold)
	}
	return nil
}

// Hysteresis walks z in order and returns the state at every point.
//
//	FLAT  -> LONG   when z < -entry
//	FLAT  -> SHORT  when z > entry
//	LONG/SHORT -> FLAT when |z| < exit
//
// Inequalities are strict. NaN holds the previous state.
func Hysteresis(z []float64, cfg Config) ([]State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out := make([]State, len(z))
	state := Flat
	for i, v := range z {
		if !math.IsNaN(v) {
			state = cfg.step(state, v)
		}
		out[i] = state
	}
	return out, nil
}

func (c Config) step(state State, z float64) State {
	switch state {
	case Flat:
		if z < -c.EntryThreshold {
			return Long
		}
		if z > c.EntryThreshold {
			return Short
		}
	case Long:
		if math.Abs(z) < c.ExitThreshold {
			return Flat
		}
		if c.AllowReversal && z > c.EntryThreshold {
			return Short
		}
	case Short:
		if math.Abs(z) < c.ExitThreshold {
			return Flat
		}
		if c.AllowReversal && z < -c.EntryThreshold {
			return Long
		}
	}
	return state
}

// Generate 从 Z-Score 序列生成信号
func Generate(z *stats.Series, cfg Config) (*Signal, error) {
	states, err := Hysteresis(z.Values(), cfg)
	if err != nil {
		return nil, err
	}
	return NewSignal(z, states)
}

// BandConfig Bollinger 信号配置
type BandConfig struct {
	// Hold keeps a position until price crosses the middle band.
	// Without it each point is classified independently.
	Hold bool `yaml:"hold"`
}

// BandSignal 价格突破 Bollinger 带的均值回归信号
//
// +1 below the lower band, -1 above the upper band. Undefined bands give
// FLAT, or hold the current position when Hold is set.
func BandSignal(prices *stats.Series, bands indicators.Bands, cfg BandConfig) (*Signal, error) {
	if err := stats.CheckAligned(prices, bands.Middle, bands.Upper, bands.Lower); err != nil {
		return nil, err
	}

	states := make([]State, prices.Len())
	state := Flat
	for i := range states {
		p := prices.Value(i)
		up, lo, mid := bands.Upper.Value(i), bands.Lower.Value(i), bands.Middle.Value(i)

		if !cfg.Hold {
			switch {
			case p < lo:
				states[i] = Long
			case p > up:
				states[i] = Short
			default:
				states[i] = Flat
			}
			continue
		}

		if math.IsNaN(p) || math.IsNaN(mid) {
			states[i] = state
			continue
		}
		switch state {
		case Flat:
			if p < lo {
				state = Long
			} else if p > up {
				state = Short
			}
		case Long:
			if p >= mid {
				state = Flat
			}
		case Short:
			if p <= mid {
				state = Flat
			}
		}
		states[i] = state
	}

	return NewSignal(prices, states)
}

// Crossover 均线交叉信号
//
// +1 while fast > slow, otherwise -1 (or FLAT when longOnly). FLAT while
// either average is undefined.
func Crossover(fast, slow *stats.Series, longOnly bool) (*Signal, error) {
	if err := stats.CheckAligned(fast, slow); err != nil {
		return nil, err
	}

	states := make([]State, fast.Len())
	for i := range states {
		f, s := fast.Value(i), slow.Value(i)
		switch {
		case math.IsNaN(f) || math.IsNaN(s):
			states[i] = Flat
		case f > s:
			states[i] = Long
		case longOnly:
			states[i] = Flat
		default:
			states[i] = Short
		}
	}

	return NewSignal(fast, states)
}

// Package backtest compounds lagged positions against market returns and
// reports the resulting equity curves
package backtest

import (
	"fmt"
	"math"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/signal"
)

// Positions is a signal shifted forward by one period: the exposure held
// over (t-1, t] is the state decided at t-1. It can only be built with Lag,
// so a same-period signal never reaches Run.
type Positions struct {
	series *stats.Series
}

// Lag 将信号滞后一期生成持仓; the first position is undefined.
func Lag(sig *signal.Signal) Positions {
	return Positions{series: sig.Series().Shift(1).WithName("position")}
}

// Series returns the lagged positions (NaN at the first point).
func (p Positions) Series() *stats.Series { return p.series }

// Len 返回持仓序列长度
func (p Positions) Len() int {
	if p.series == nil {
		return 0
	}
	return p.series.Len()
}

// Sizing is the fraction of capital applied to a position: a constant, or a
// per-period series decided alongside the signal and lagged with it.
type Sizing struct {
	constant float64
	series   *stats.Series
}

// Fixed sizes every period with f.
func Fixed(f float64) Sizing { return Sizing{constant: f} }

// PerPeriod sizes with a series aligned to the signal; Run lags it by one period.
func PerPeriod(fractions *stats.Series) Sizing { return Sizing{series: fractions} }

// IsFixed reports whether the sizing is constant.
func (s Sizing) IsFixed() bool { return s.series == nil }

// Constant returns the fixed fraction, NaN for per-period sizing.
func (s Sizing) Constant() float64 {
	if s.series != nil {
		return math.NaN()
	}
	return s.constant
}

// Result is one compounded run.
type Result struct {
	Positions *stats.Series // lagged position per period
	Fractions *stats.Series // lagged sizing per period
	Returns   *stats.Series // strategy return per period, NaN where undefined
	Equity    *stats.Series // compounded equity, undefined returns count as 0
	Initial   float64
}

// FinalEquity 返回最终权益
func (r *Result) FinalEquity() float64 {
	v, ok := r.Equity.Last()
	if !ok {
		return r.Initial
	}
	return v
}

// TotalReturn returns final/initial - 1.
func (r *Result) TotalReturn() float64 {
	if r.Initial == 0 {
		return 0
	}
	return r.FinalEquity()/r.Initial - 1
}

// Run 回测：按滞后持仓和仓位比例复利计算权益曲线
//
//	strategy_t = position_t · fraction_t · return_t
//	equity_t   = equity_{t-1} · (1 + strategy_t)
//
// position_t is already the signal of t-1. A per-period fraction is lagged
// here the same way. Any undefined factor leaves strategy_t NaN in
// Result.Returns and compounds as 0. Positions, returns and a sizing series
// must share one timestamp index.
func Run(pos Positions, returns *stats.Series, sizing Sizing, initial float64) (*Result, error) {
	if pos.series == nil {
		return nil, fmt.Errorf("%w: positions not built with Lag", stats.ErrInvalidParameter)
	}
	if !(initial > 0) {
		return nil, fmt.Errorf("%w: initial equity must be positive, got %v", stats.ErrInvalidParameter, initial)
	}
	if !stats.SameIndex(pos.series, returns) {
		return nil, fmt.Errorf("%w: positions (%d points) and returns (%d points) are not co-indexed",
			stats.ErrLengthMismatch, pos.series.Len(), returns.Len())
	}

	var fractions *stats.Series
	if sizing.series != nil {
		if !stats.SameIndex(sizing.series, returns) {
			return nil, fmt.Errorf("%w: sizing (%d points) and returns (%d points) are not co-indexed",
				stats.ErrLengthMismatch, sizing.series.Len(), returns.Len())
		}
		fractions = sizing.series.Shift(1).WithName("fraction")
	} else {
		fractions = returns.Map("fraction", func(float64) float64 { return sizing.constant })
	}

	n := returns.Len()
	strat := make([]float64, n)
	equity := make([]float64, n)
	prev := initial
	for t := 0; t < n; t++ {
		s := pos.series.Value(t) * fractions.Value(t) * returns.Value(t)
		strat[t] = s
		if !math.IsNaN(s) {
			prev *= 1 + s
		}
		equity[t] = prev
	}

	stratSeries, err := returns.WithValues("strategy", strat)
	if err != nil {
		return nil, err
	}
	equitySeries, err := returns.WithValues("equity", equity)
	if err != nil {
		return nil, err
	}

	return &Result{
		Positions: pos.series,
		Fractions: fractions,
		Returns:   stratSeries,
		Equity:    equitySeries,
		Initial:   initial,
	}, nil
}

// BuyAndHold 买入持有基准：signal ≡ +1, fraction = 1.
func BuyAndHold(returns *stats.Series, initial float64) (*Result, error) {
	states := make([]signal.State, returns.Len())
	for i := range states {
		states[i] = signal.Long
	}
	sig, err := signal.NewSignal(returns, states)
	if err != nil {
		return nil, err
	}
	return Run(Lag(sig), returns, Fixed(1), initial)
}

// MarketReturns derives per-period returns from prices.
func MarketReturns(prices *stats.Series, mode ReturnMode) (*stats.Series, error) {
	switch mode {
	case ReturnModeDiff:
		return prices.Diff().WithName("returns"), nil
	case ReturnModePct:
		return prices.PctChange().WithName("returns"), nil
	default:
		return nil, fmt.Errorf("%w: unknown return mode %q", stats.ErrInvalidParameter, mode)
	}
}

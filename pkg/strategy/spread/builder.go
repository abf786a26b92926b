package spread

import (
	"fmt"
	"math"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// Build 回归 A 对 B 得到对冲比率，并生成 spread 序列
//
// a is the dependent leg, b the regressor. The spread carries a's name
// and index and has exactly as many points as the (aligned) inputs.
func Build(a, b *stats.Series, cfg Config) (Result, error) {
	if cfg.Type == "" {
		cfg.Type = SpreadTypeOLS
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	if cfg.Align {
		a, b = stats.Align(a, b)
	} else if err := stats.CheckAligned(a, b); err != nil {
		return Result{}, fmt.Errorf("build spread: %w", err)
	}

	if a.Len() < 2 {
		return Result{}, fmt.Errorf("build spread: %w: need at least 2 aligned observations, have %d",
			stats.ErrInsufficientData, a.Len())
	}

	switch cfg.Type {
	case SpreadTypeNormalized:
		return buildNormalized(a, b)
	case SpreadTypeLog:
		la, err := logSeries(a)
		if err != nil {
			return Result{}, err
		}
		lb, err := logSeries(b)
		if err != nil {
			return Result{}, err
		}
		return buildRegression(la, lb, cfg)
	default:
		return buildRegression(a, b, cfg)
	}
}

func buildRegression(a, b *stats.Series, cfg Config) (Result, error) {
	reg, err := stats.OLS(b.Values(), a.Values())
	if err != nil {
		return Result{}, fmt.Errorf("build spread: %w", err)
	}

	bv := b.Values()
	out := a.Values()
	for i := range out {
		if cfg.IncludeIntercept {
			out[i] -= reg.Predict(bv[i])
		} else {
			out[i] -= reg.Slope * bv[i]
		}
	}

	s, err := stats.NewSeries("spread", a.Timestamps(), out)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Type:       cfg.Type,
		HedgeRatio: reg.Slope,
		Intercept:  reg.Intercept,
		Spread:     s,
	}, nil
}

func buildNormalized(a, b *stats.Series) (Result, error) {
	a0, b0 := a.Value(0), b.Value(0)
	if a0 == 0 || b0 == 0 || math.IsNaN(a0) || math.IsNaN(b0) {
		return Result{}, fmt.Errorf("build spread: %w: normalized spread needs a non-zero first price",
			stats.ErrInvalidParameter)
	}

	av, bv := a.Values(), b.Values()
	out := make([]float64, len(av))
	for i := range av {
		out[i] = av[i]/a0 - bv[i]/b0
	}

	s, err := stats.NewSeries("spread", a.Timestamps(), out)
	if err != nil {
		return Result{}, err
	}

	return Result{Type: SpreadTypeNormalized, HedgeRatio: 1, Spread: s}, nil
}

func logSeries(s *stats.Series) (*stats.Series, error) {
	for i := 0; i < s.Len(); i++ {
		if !(s.Value(i) > 0) {
			return nil, fmt.Errorf("build spread: %w: log spread needs positive prices, %s[%d] = %v",
				stats.ErrInvalidParameter, s.Name(), i, s.Value(i))
		}
	}
	return s.Map(s.Name(), math.Log), nil
}

// Summarize 计算 spread 统计信息（全样本）
func Summarize(a, b *stats.Series, res Result) SpreadStats {
	av, bv := a.Values(), b.Values()
	if !stats.SameIndex(a, b) {
		aa, bb := stats.Align(a, b)
		av, bv = aa.Values(), bb.Values()
	}

	values := res.Spread.DropNaN().Values()
	out := SpreadStats{
		HedgeRatio:   res.HedgeRatio,
		Correlation:  stats.Correlation(av, bv),
		Observations: len(values),
	}
	if len(values) == 0 {
		return out
	}

	out.CurrentSpread = values[len(values)-1]
	out.Mean = stats.Mean(values)
	out.Std = stats.StdDev(values)
	out.ZScore = stats.ZScore(out.CurrentSpread, out.Mean, out.Std)
	return out
}

package backtest

import (
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/risk"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/ou"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/spread"
)

// ReturnMode selects how market returns are derived from a price series.
type ReturnMode string

const (
	// ReturnModeDiff uses the raw change p[t] - p[t-1], for spreads.
	ReturnModeDiff ReturnMode = "diff"
	// ReturnModePct uses p[t]/p[t-1] - 1, for tradable prices.
	ReturnModePct ReturnMode = "pct"
)

// Performance contains the complete performance statistics of one equity curve
type Performance struct {
	// Basic Info
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Periods       int       `json:"periods"`
	InitialEquity float64   `json:"initial_equity"`
	FinalEquity   float64   `json:"final_equity"`

	// Performance Metrics
	TotalReturn         float64       `json:"total_return"`
	AnnualizedReturn    float64       `json:"annualized_return"`
	AverageReturn       float64       `json:"average_return"`
	Volatility          float64       `json:"volatility"`
	SharpeRatio         float64       `json:"sharpe_ratio"`
	SortinoRatio        float64       `json:"sortino_ratio"`
	MaxDrawdown         float64       `json:"max_drawdown"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`
	CalmarRatio         float64       `json:"calmar_ratio"`

	// Period Statistics
	WinPeriods   int     `json:"win_periods"`
	LossPeriods  int     `json:"loss_periods"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	MaxWin       float64 `json:"max_win"`
	MaxLoss      float64 `json:"max_loss"`

	// Position Statistics
	Trades   int     `json:"trades"`
	Exposure float64 `json:"exposure"`
}

// Curve is one named equity curve with its statistics.
type Curve struct {
	Name        string      `json:"name"`
	Result      *Result     `json:"-"`
	Performance Performance `json:"performance"`
}

// Report is everything a pipeline run produced.
type Report struct {
	Pipeline   string             `json:"pipeline"`
	Symbols    []string           `json:"symbols"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
	Parameters map[string]float64 `json:"parameters"`

	Spread *spread.SpreadStats `json:"spread,omitempty"`
	Hedge  *spread.Result      `json:"-"`
	OU     *ou.Params          `json:"ou,omitempty"`
	Kelly  *risk.KellyResult   `json:"kelly,omitempty"`
	Cash   *CashResult         `json:"cash,omitempty"`

	Curves []Curve `json:"curves"`

	// Warnings records non-fatal findings, e.g. a fit without mean reversion.
	Warnings []string `json:"warnings,omitempty"`
}

// Curve returns the named curve, or nil.
func (r *Report) Curve(name string) *Curve {
	for i := range r.Curves {
		if r.Curves[i].Name == name {
			return &r.Curves[i]
		}
	}
	return nil
}

// Primary returns the sized strategy curve, the first curve otherwise.
func (r *Report) Primary() *Curve {
	if c := r.Curve(CurveKelly); c != nil {
		return c
	}
	if len(r.Curves) == 0 {
		return nil
	}
	return &r.Curves[0]
}

// Curve names used by the pipelines.
const (
	CurveFixed     = "fixed"
	CurveKelly     = "kelly"
	CurveVolAdj    = "vol_adjusted"
	CurveBuyHold   = "buy_and_hold"
	CurveAllInCash = "all_in_cash"
)

package backtest

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

func holdRun(t *testing.T, prices []float64) *Result {
	t.Helper()
	returns, err := MarketReturns(stats.FromValues("SPY", start, 0, prices), ReturnModePct)
	if err != nil {
		t.Fatalf("MarketReturns() error = %v", err)
	}
	res, err := BuyAndHold(returns, 1)
	if err != nil {
		t.Fatalf("BuyAndHold() error = %v", err)
	}
	return res
}

func TestAnalyze(t *testing.T) {
	// returns +10%, -5%, +10%
	res := holdRun(t, []float64{100, 110, 104.5, 114.95})
	p := Analyze(res, 252)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"TotalReturn", p.TotalReturn, 0.1495},
		{"FinalEquity", p.FinalEquity, 1.1495},
		{"WinRate", p.WinRate, 2.0 / 3.0},
		{"AvgWin", p.AvgWin, 0.1},
		{"AvgLoss", p.AvgLoss, 0.05},
		{"MaxWin", p.MaxWin, 0.1},
		{"MaxLoss", p.MaxLoss, -0.05},
		{"ProfitFactor", p.ProfitFactor, 4},
		{"MaxDrawdown", p.MaxDrawdown, 0.05},
		{"Exposure", p.Exposure, 0.75},
		{"AverageReturn", p.AverageReturn, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !almostEqual(tt.got, tt.want, 1e-9) {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if p.Periods != 4 || p.WinPeriods != 2 || p.LossPeriods != 1 {
		t.Errorf("Periods/Win/Loss = %d/%d/%d, want 4/2/1", p.Periods, p.WinPeriods, p.LossPeriods)
	}
	if p.Trades != 1 {
		t.Errorf("Trades = %d, want 1", p.Trades)
	}
	if p.MaxDrawdownDuration != 24*time.Hour {
		t.Errorf("MaxDrawdownDuration = %v, want 24h", p.MaxDrawdownDuration)
	}
	if p.SharpeRatio <= 0 || p.SortinoRatio <= 0 || p.CalmarRatio <= 0 {
		t.Errorf("Sharpe/Sortino/Calmar = %v/%v/%v, want positive", p.SharpeRatio, p.SortinoRatio, p.CalmarRatio)
	}
	if !p.StartTime.Equal(start) || !p.EndTime.Equal(start.AddDate(0, 0, 3)) {
		t.Errorf("StartTime/EndTime = %v/%v", p.StartTime, p.EndTime)
	}
}

func TestAnalyze_DegenerateIsFinite(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
	}{
		{"Only gains", []float64{100, 101, 102, 103}},
		{"Flat", []float64{100, 100, 100}},
		{"Single point", []float64{100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Analyze(holdRun(t, tt.prices), 0)
			for name, v := range map[string]float64{
				"AnnualizedReturn": p.AnnualizedReturn,
				"Sharpe":           p.SharpeRatio,
				"Sortino":          p.SortinoRatio,
				"Calmar":           p.CalmarRatio,
				"ProfitFactor":     p.ProfitFactor,
				"WinRate":          p.WinRate,
				"MaxDrawdown":      p.MaxDrawdown,
			} {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Errorf("%s = %v, want finite", name, v)
				}
			}
			if p.LossPeriods == 0 && p.ProfitFactor != 0 {
				t.Errorf("ProfitFactor = %v without losses, want 0", p.ProfitFactor)
			}
		})
	}
}

func TestCalculatePositionStats(t *testing.T) {
	pos := stats.FromValues("position", start, 0, []float64{math.NaN(), 1, 1, 0, -1, -1, 1, 0})
	trades, exposure := calculatePositionStats(pos)
	// entries: 1 at t1, -1 at t4, 1 at t6 (reversal counts)
	if trades != 3 {
		t.Errorf("trades = %d, want 3", trades)
	}
	if !almostEqual(exposure, 5.0/8.0, 1e-12) {
		t.Errorf("exposure = %v, want 0.625", exposure)
	}
}

func TestPrintSummary(t *testing.T) {
	res := holdRun(t, []float64{100, 110, 104.5, 114.95})
	report := &Report{
		Pipeline: PipelineBands,
		Symbols:  []string{"SPY"},
		Curves:   []Curve{{Name: CurveBuyHold, Result: res, Performance: Analyze(res, 252)}},
		Warnings: []string{"kelly used neutral fallback"},
	}

	var buf bytes.Buffer
	PrintSummary(&buf, report)
	out := buf.String()
	for _, want := range []string{"BACKTEST SUMMARY: bands", "[buy_and_hold]", "14.95%", "WARNING: kelly"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

package backtest

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// PeriodsPerYear is the annualization base for daily bars (252 trading days).
const PeriodsPerYear = 252

// Analyze calculates the performance statistics of a run.
//
// Period statistics use the defined strategy returns only; undefined
// periods neither win nor lose. Every ratio with a zero denominator is
// reported as 0.
func Analyze(res *Result, periodsPerYear int) Performance {
	if periodsPerYear <= 0 {
		periodsPerYear = PeriodsPerYear
	}

	perf := Performance{
		Periods:       res.Equity.Len(),
		InitialEquity: res.Initial,
		FinalEquity:   res.FinalEquity(),
		TotalReturn:   res.TotalReturn(),
	}
	if perf.Periods == 0 {
		return perf
	}
	perf.StartTime = res.Equity.Time(0)
	perf.EndTime = res.Equity.Time(perf.Periods - 1)

	returns := res.Returns.DropNaN().Values()
	calculatePeriodStats(&perf, returns)
	calculatePerformanceMetrics(&perf, returns, periodsPerYear)
	perf.MaxDrawdown, perf.MaxDrawdownDuration = calculateMaxDrawdown(res.Equity)
	if perf.MaxDrawdown > 0 {
		perf.CalmarRatio = perf.AnnualizedReturn / perf.MaxDrawdown
	}
	perf.Trades, perf.Exposure = calculatePositionStats(res.Positions)

	return perf
}

// calculatePeriodStats calculates win/loss statistics over per-period returns
func calculatePeriodStats(perf *Performance, returns []float64) {
	var totalWin, totalLoss float64
	for _, r := range returns {
		if r > 0 {
			perf.WinPeriods++
			totalWin += r
			perf.MaxWin = math.Max(perf.MaxWin, r)
		} else if r < 0 {
			perf.LossPeriods++
			totalLoss += -r
			perf.MaxLoss = math.Min(perf.MaxLoss, r)
		}
	}

	if n := perf.WinPeriods + perf.LossPeriods; n > 0 {
		perf.WinRate = float64(perf.WinPeriods) / float64(n)
	}
	if perf.WinPeriods > 0 {
		perf.AvgWin = totalWin / float64(perf.WinPeriods)
	}
	if perf.LossPeriods > 0 {
		perf.AvgLoss = totalLoss / float64(perf.LossPeriods)
	}
	if totalLoss > 0 {
		perf.ProfitFactor = totalWin / totalLoss
	}
}

// calculatePerformanceMetrics calculates Sharpe, Sortino and annualized return
func calculatePerformanceMetrics(perf *Performance, returns []float64, periodsPerYear int) {
	if len(returns) == 0 {
		return
	}

	perf.AverageReturn = stats.Mean(returns)
	perf.Volatility = stats.StdDev(returns)

	years := float64(perf.Periods) / float64(periodsPerYear)
	if growth := 1 + perf.TotalReturn; years > 0 && growth > 0 {
		perf.AnnualizedReturn = math.Pow(growth, 1/years) - 1
	}

	annual := math.Sqrt(float64(periodsPerYear))

	// Sharpe Ratio (risk-free rate = 0)
	if perf.Volatility > 0 {
		perf.SharpeRatio = perf.AverageReturn / perf.Volatility * annual
	}

	// Sortino Ratio (downside deviation over all periods, target 0)
	var downside float64
	for _, r := range returns {
		if r < 0 {
			downside += r * r
		}
	}
	if dd := math.Sqrt(downside / float64(len(returns))); dd > 0 {
		perf.SortinoRatio = perf.AverageReturn / dd * annual
	}
}

// calculateMaxDrawdown returns the largest peak-to-trough fall of equity
// relative to the peak, and the time from that peak to the trough.
func calculateMaxDrawdown(equity *stats.Series) (float64, time.Duration) {
	var maxDrawdown float64
	var maxDuration time.Duration

	peak := math.Inf(-1)
	var peakTime time.Time
	for i := 0; i < equity.Len(); i++ {
		v := equity.Value(i)
		if v > peak {
			peak = v
			peakTime = equity.Time(i)
			continue
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDrawdown {
				maxDrawdown = dd
				maxDuration = equity.Time(i).Sub(peakTime)
			}
		}
	}
	return maxDrawdown, maxDuration
}

// calculatePositionStats counts position entries and the share of periods
// with a non-zero defined position.
func calculatePositionStats(positions *stats.Series) (int, float64) {
	if positions == nil || positions.Len() == 0 {
		return 0, 0
	}

	trades, held := 0, 0
	prev := 0.0
	for i := 0; i < positions.Len(); i++ {
		p := positions.Value(i)
		if math.IsNaN(p) {
			p = 0
		}
		if p != 0 {
			held++
			if p != prev {
				trades++
			}
		}
		prev = p
	}
	return trades, float64(held) / float64(positions.Len())
}

// PrintSummary prints a summary of every curve in the report
func PrintSummary(w io.Writer, report *Report) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	fmt.Fprintf(w, "BACKTEST SUMMARY: %s %v\n", report.Pipeline, report.Symbols)
	fmt.Fprintln(w, strings.Repeat("=", 60))

	if report.Spread != nil {
		fmt.Fprintf(w, "\nSpread:\n")
		fmt.Fprintf(w, "  Hedge Ratio:       %.4f\n", report.Spread.HedgeRatio)
		fmt.Fprintf(w, "  Correlation:       %.4f\n", report.Spread.Correlation)
		fmt.Fprintf(w, "  Mean / Std:        %.4f / %.4f\n", report.Spread.Mean, report.Spread.Std)
	}
	if report.OU != nil {
		fmt.Fprintf(w, "\nOU Parameters:\n")
		fmt.Fprintf(w, "  mu=%.4f, theta=%.4f, sigma=%.4f\n", report.OU.Mu, report.OU.Theta, report.OU.Sigma)
		fmt.Fprintf(w, "  Half-life:         %.2f periods\n", report.OU.HalfLife())
	}
	if report.Kelly != nil {
		fmt.Fprintf(w, "\nKelly Sizing:\n")
		fmt.Fprintf(w, "  Win rate=%.2f, payoff ratio=%.2f, Kelly fraction=%.2f\n",
			report.Kelly.WinRate, report.Kelly.PayoffRatio, report.Kelly.Full)
		fmt.Fprintf(w, "  Applied fraction:  %.4f\n", report.Kelly.Fraction)
	}

	for _, c := range report.Curves {
		p := c.Performance
		fmt.Fprintf(w, "\n[%s]\n", c.Name)
		fmt.Fprintf(w, "  Final Equity:      %.4f (%.2f%%)\n", p.FinalEquity, p.TotalReturn*100)
		fmt.Fprintf(w, "  Annualized Return: %.2f%%\n", p.AnnualizedReturn*100)
		fmt.Fprintf(w, "  Sharpe Ratio:      %.2f\n", p.SharpeRatio)
		fmt.Fprintf(w, "  Sortino Ratio:     %.2f\n", p.SortinoRatio)
		fmt.Fprintf(w, "  Max Drawdown:      %.2f%%\n", p.MaxDrawdown*100)
		fmt.Fprintf(w, "  Calmar Ratio:      %.2f\n", p.CalmarRatio)
		fmt.Fprintf(w, "  Win Rate:          %.1f%% (%d/%d)\n", p.WinRate*100, p.WinPeriods, p.WinPeriods+p.LossPeriods)
		fmt.Fprintf(w, "  Profit Factor:     %.2f\n", p.ProfitFactor)
		fmt.Fprintf(w, "  Trades / Exposure: %d / %.1f%%\n", p.Trades, p.Exposure*100)
	}

	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "\nWARNING: %s\n", warning)
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

package backtest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/homebox25/Quant-Tutorials/pkg/indicators"
	"github.com/homebox25/Quant-Tutorials/pkg/risk"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/ou"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/signal"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/spread"
)

// Pipeline names
const (
	PipelinePairs     = "pairs"
	PipelineBands     = "bands"
	PipelineCrossover = "crossover"
)

// Stage names carried by StageError
const (
	StageConfig   = "config"
	StageSpread   = "spread"
	StageOU       = "ou"
	StageSignal   = "signal"
	StageBacktest = "backtest"
	StageSizing   = "sizing"
	StageCash     = "cash"
)

// StageError 标记失败的流水线阶段
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// RunPairs 配对交易流水线
//
// spread -> OU fit -> z-score -> hysteresis signal -> fixed run -> Kelly
// from the fixed run's realized returns -> sized run, plus buy-and-hold of
// the same returns. Any estimation error ends the run.
func RunPairs(a, b *stats.Series, cfg PairsConfig, logger zerolog.Logger) (*Report, error) {
	started := time.Now()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, stageErr(StageConfig, err)
	}
	log := logger.With().Str("pipeline", PipelinePairs).Str("a", a.Name()).Str("b", b.Name()).Logger()

	res, err := spread.Build(a, b, cfg.Spread)
	if err != nil {
		return nil, stageErr(StageSpread, err)
	}
	summary := spread.Summarize(a, b, res)
	log.Debug().Str("stage", StageSpread).
		Float64("hedge_ratio", res.HedgeRatio).
		Float64("correlation", summary.Correlation).
		Int("points", res.Spread.Len()).
		Msg("spread built")

	params, err := ou.Estimate(res.Spread, cfg.OU)
	if err != nil {
		return nil, stageErr(StageOU, err)
	}
	log.Debug().Str("stage", StageOU).
		Float64("mu", params.Mu).
		Float64("theta", params.Theta).
		Float64("sigma", params.Sigma).
		Msg("ou fitted")

	report := &Report{
		Pipeline:   PipelinePairs,
		Symbols:    []string{a.Name(), b.Name()},
		StartedAt:  started,
		Parameters: cfg.Parameters(),
		Spread:     &summary,
		Hedge:      &res,
		OU:         &params,
	}
	if !params.MeanReverting() {
		msg := fmt.Sprintf("no mean reversion detected: theta = %.6f", params.Theta)
		log.Warn().Str("stage", StageOU).Float64("theta", params.Theta).Msg("no mean reversion detected")
		report.Warnings = append(report.Warnings, msg)
	}

	z, err := signal.ZScores(res.Spread, params, cfg.ZScore)
	if err != nil {
		return nil, stageErr(StageSignal, err)
	}
	sig, err := signal.Generate(z, cfg.Signal)
	if err != nil {
		return nil, stageErr(StageSignal, err)
	}
	log.Debug().Str("stage", StageSignal).Int("entries", sig.Entries()).Msg("signal generated")

	returns, err := MarketReturns(res.Spread, cfg.Returns)
	if err != nil {
		return nil, stageErr(StageBacktest, err)
	}

	if err := runSized(report, sig, returns, cfg.Kelly, cfg.Initial, cfg.PeriodsPerYear, nil); err != nil {
		return nil, err
	}

	report.Duration = time.Since(started)
	logDone(log, report)
	return report, nil
}

// RunBands Bollinger 均值回归 + Kelly 流水线
func RunBands(prices *stats.Series, cfg BandsConfig, logger zerolog.Logger) (*Report, error) {
	started := time.Now()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, stageErr(StageConfig, err)
	}
	log := logger.With().Str("pipeline", PipelineBands).Str("symbol", prices.Name()).Logger()

	bands, err := indicators.Bollinger(prices, cfg.Window, cfg.NumStd)
	if err != nil {
		return nil, stageErr(StageSignal, err)
	}
	sig, err := signal.BandSignal(prices, bands, cfg.Band)
	if err != nil {
		return nil, stageErr(StageSignal, err)
	}
	log.Debug().Str("stage", StageSignal).Int("entries", sig.Entries()).Msg("signal generated")

	returns, err := MarketReturns(prices, cfg.Returns)
	if err != nil {
		return nil, stageErr(StageBacktest, err)
	}

	report := &Report{
		Pipeline:   PipelineBands,
		Symbols:    []string{prices.Name()},
		StartedAt:  started,
		Parameters: cfg.Parameters(),
	}

	scale, err := risk.VolatilityScale(returns, cfg.VolWindow)
	if err != nil {
		return nil, stageErr(StageSizing, err)
	}
	if err := runSized(report, sig, returns, cfg.Kelly, cfg.Initial, cfg.PeriodsPerYear, scale); err != nil {
		return nil, err
	}

	if cfg.InitialCash > 0 {
		cash, err := SimulateCash(prices, bands, cfg.InitialCash)
		if err != nil {
			return nil, stageErr(StageCash, err)
		}
		report.Cash = cash
		log.Debug().Str("stage", StageCash).
			Int("buys", len(cash.Buys)).
			Int("sells", len(cash.Sells)).
			Float64("final", cash.Final).
			Msg("cash simulation done")
	}

	report.Duration = time.Since(started)
	logDone(log, report)
	return report, nil
}

// RunCrossover SMA 交叉流水线
func RunCrossover(prices *stats.Series, cfg CrossoverConfig, logger zerolog.Logger) (*Report, error) {
	started := time.Now()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, stageErr(StageConfig, err)
	}
	log := logger.With().Str("pipeline", PipelineCrossover).Str("symbol", prices.Name()).Logger()

	fast, err := indicators.SMA(prices, cfg.Fast)
	if err != nil {
		return nil, stageErr(StageSignal, err)
	}
	slow, err := indicators.SMA(prices, cfg.Slow)
	if err != nil {
		return nil, stageErr(StageSignal, err)
	}
	sig, err := signal.Crossover(fast, slow, cfg.LongOnly)
	if err != nil {
		return nil, stageErr(StageSignal, err)
	}

	returns, err := MarketReturns(prices, cfg.Returns)
	if err != nil {
		return nil, stageErr(StageBacktest, err)
	}

	report := &Report{
		Pipeline:   PipelineCrossover,
		Symbols:    []string{prices.Name()},
		StartedAt:  started,
		Parameters: cfg.Parameters(),
	}

	scale, err := risk.VolatilityScale(returns, cfg.VolWindow)
	if err != nil {
		return nil, stageErr(StageSizing, err)
	}
	if err := runSized(report, sig, returns, cfg.Kelly, cfg.Initial, cfg.PeriodsPerYear, scale); err != nil {
		return nil, err
	}

	report.Duration = time.Since(started)
	logDone(log, report)
	return report, nil
}

// runSized runs the fixed curve, sizes Kelly from its realized returns,
// re-runs with that fraction and adds the optional volatility-scaled and
// buy-and-hold curves.
func runSized(report *Report, sig *signal.Signal, returns *stats.Series, kcfg risk.KellyConfig,
	initial float64, periodsPerYear int, volScale *stats.Series) error {
	pos := Lag(sig)

	fixed, err := Run(pos, returns, Fixed(1), initial)
	if err != nil {
		return stageErr(StageBacktest, err)
	}
	kelly := risk.Kelly(fixed.Returns, kcfg)
	report.Kelly = &kelly

	sized, err := Run(pos, returns, Fixed(kelly.Fraction), initial)
	if err != nil {
		return stageErr(StageBacktest, err)
	}
	if kelly.WinRateFallback || kelly.PayoffFallback {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("kelly used neutral fallback (wins=%d, losses=%d)", kelly.Wins, kelly.Losses))
	}

	report.Curves = append(report.Curves,
		Curve{Name: CurveFixed, Result: fixed, Performance: Analyze(fixed, periodsPerYear)},
		Curve{Name: CurveKelly, Result: sized, Performance: Analyze(sized, periodsPerYear)},
	)

	if volScale != nil {
		vol, err := Run(pos, returns, PerPeriod(volScale), initial)
		if err != nil {
			return stageErr(StageBacktest, err)
		}
		report.Curves = append(report.Curves, Curve{Name: CurveVolAdj, Result: vol, Performance: Analyze(vol, periodsPerYear)})
	}

	hold, err := BuyAndHold(returns, initial)
	if err != nil {
		return stageErr(StageBacktest, err)
	}
	report.Curves = append(report.Curves, Curve{Name: CurveBuyHold, Result: hold, Performance: Analyze(hold, periodsPerYear)})
	return nil
}

func logDone(log zerolog.Logger, report *Report) {
	ev := log.Info().Dur("duration", report.Duration)
	if p := report.Primary(); p != nil {
		ev = ev.Str("curve", p.Name).
			Float64("final_equity", p.Performance.FinalEquity).
			Float64("sharpe", p.Performance.SharpeRatio)
	}
	if report.Kelly != nil {
		ev = ev.Float64("kelly_fraction", report.Kelly.Fraction)
	}
	ev.Msg("pipeline finished")
}

package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// RunFunc runs one pipeline with the given parameter overrides.
type RunFunc func(ctx context.Context, params map[string]float64) (*Report, error)

// ParameterOptimizer performs parameter optimization using grid search
type ParameterOptimizer struct {
	run         RunFunc
	paramRanges map[string]*ParamRange
	goal        OptimizationGoal
	curve       string
	maxWorkers  int
	log         zerolog.Logger
}

// ParamRange defines the range for a parameter
type ParamRange struct {
	Name string
	Min  float64
	Max  float64
	Step float64
	Type ParamType
}

// ParamType indicates how to interpret the parameter
type ParamType int

const (
	ParamTypeFloat ParamType = iota
	ParamTypeInt
)

// OptimizationGoal defines the optimization objective
type OptimizationGoal string

const (
	GoalSharpeRatio  OptimizationGoal = "sharpe"
	GoalTotalReturn  OptimizationGoal = "return"
	GoalWinRate      OptimizationGoal = "win_rate"
	GoalProfitFactor OptimizationGoal = "profit_factor"
	GoalCalmarRatio  OptimizationGoal = "calmar"
)

// ParseGoal validates a goal name.
func ParseGoal(s string) (OptimizationGoal, error) {
	switch g := OptimizationGoal(s); g {
	case GoalSharpeRatio, GoalTotalReturn, GoalWinRate, GoalProfitFactor, GoalCalmarRatio:
		return g, nil
	default:
		return "", fmt.Errorf("%w: unknown optimization goal %q", stats.ErrInvalidParameter, s)
	}
}

// OptimizationResult stores the result of a single parameter combination
type OptimizationResult struct {
	Parameters map[string]float64  `yaml:"parameters"`
	Metrics    OptimizationMetrics `yaml:"metrics"`
	Rank       int                 `yaml:"rank"`
	Score      float64             `yaml:"score"`

	index int
}

// OptimizationMetrics contains key performance metrics
type OptimizationMetrics struct {
	SharpeRatio   float64 `yaml:"sharpe_ratio"`
	TotalReturn   float64 `yaml:"total_return"`
	MaxDrawdown   float64 `yaml:"max_drawdown"`
	WinRate       float64 `yaml:"win_rate"`
	ProfitFactor  float64 `yaml:"profit_factor"`
	CalmarRatio   float64 `yaml:"calmar_ratio"`
	TotalTrades   int     `yaml:"total_trades"`
	KellyFraction float64 `yaml:"kelly_fraction"`
}

// NewParameterOptimizer creates a new parameter optimizer
func NewParameterOptimizer(run RunFunc, log zerolog.Logger) *ParameterOptimizer {
	return &ParameterOptimizer{
		run:         run,
		paramRanges: make(map[string]*ParamRange),
		goal:        GoalSharpeRatio,
		curve:       CurveKelly,
		maxWorkers:  4, // Default: 4 parallel workers
		log:         log,
	}
}

// NewPairsOptimizer searches over PairsConfig knobs on one pair.
func NewPairsOptimizer(a, b *stats.Series, base PairsConfig, log zerolog.Logger) *ParameterOptimizer {
	return NewParameterOptimizer(func(_ context.Context, params map[string]float64) (*Report, error) {
		cfg := base
		for name, v := range params {
			if err := cfg.Set(name, v); err != nil {
				return nil, err
			}
		}
		return RunPairs(a, b, cfg, zerolog.Nop())
	}, log)
}

// NewBandsOptimizer searches over BandsConfig knobs on one price series.
func NewBandsOptimizer(prices *stats.Series, base BandsConfig, log zerolog.Logger) *ParameterOptimizer {
	return NewParameterOptimizer(func(_ context.Context, params map[string]float64) (*Report, error) {
		cfg := base
		cfg.InitialCash = 0
		for name, v := range params {
			if err := cfg.Set(name, v); err != nil {
				return nil, err
			}
		}
		return RunBands(prices, cfg, zerolog.Nop())
	}, log)
}

// AddParamRange adds a parameter range for optimization
func (opt *ParameterOptimizer) AddParamRange(name string, min, max, step float64, paramType ParamType) {
	opt.paramRanges[name] = &ParamRange{
		Name: name,
		Min:  min,
		Max:  max,
		Step: step,
		Type: paramType,
	}
}

// SetOptimizationGoal sets the optimization objective
func (opt *ParameterOptimizer) SetOptimizationGoal(goal OptimizationGoal) {
	opt.goal = goal
}

// SetCurve selects the curve whose statistics are scored (default kelly).
func (opt *ParameterOptimizer) SetCurve(name string) {
	opt.curve = name
}

// SetMaxWorkers sets the maximum number of parallel workers
func (opt *ParameterOptimizer) SetMaxWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > 16 {
		workers = 16
	}
	opt.maxWorkers = workers
}

// GridSearch performs grid search optimization
//
// Combinations that fail (e.g. exit above entry) are logged and skipped.
// Results are ranked by score, ties broken by grid order.
func (opt *ParameterOptimizer) GridSearch(ctx context.Context) ([]*OptimizationResult, error) {
	combinations, err := opt.generateCombinations()
	if err != nil {
		return nil, err
	}
	total := len(combinations)
	if total == 0 {
		return nil, fmt.Errorf("no parameter combinations to test")
	}
	opt.log.Info().
		Str("goal", string(opt.goal)).
		Int("workers", opt.maxWorkers).
		Int("combinations", total).
		Msg("starting grid search")

	results := make([]*OptimizationResult, 0, total)
	var mu sync.Mutex
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.maxWorkers)
	for i, params := range combinations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result, err := opt.runWithParams(gctx, params)
			if err != nil {
				opt.log.Debug().Err(err).Int("combination", i+1).Interface("params", params).Msg("combination failed")
				return nil
			}
			result.index = i

			mu.Lock()
			results = append(results, result)
			done := len(results)
			mu.Unlock()

			opt.log.Debug().Int("done", done).Int("total", total).Float64("score", result.Score).Msg("progress")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	opt.log.Info().
		Dur("duration", time.Since(startTime)).
		Int("successful", len(results)).
		Int("total", total).
		Msg("grid search completed")

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].index < results[j].index
	})
	for i, result := range results {
		result.Rank = i + 1
	}

	for _, r := range GetTopNResults(results, 5) {
		opt.log.Info().
			Int("rank", r.Rank).
			Float64("score", r.Score).
			Float64("sharpe", r.Metrics.SharpeRatio).
			Float64("return", r.Metrics.TotalReturn).
			Interface("params", r.Parameters).
			Msg("top combination")
	}

	return results, nil
}

// generateCombinations generates all parameter combinations
func (opt *ParameterOptimizer) generateCombinations() ([]map[string]float64, error) {
	// Get sorted parameter names for consistent ordering
	paramNames := make([]string, 0, len(opt.paramRanges))
	for name := range opt.paramRanges {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)

	paramValues := make([][]float64, len(paramNames))
	for i, name := range paramNames {
		r := opt.paramRanges[name]
		if !(r.Step > 0) || r.Max < r.Min {
			return nil, fmt.Errorf("%w: bad range for %s: [%v, %v] step %v",
				stats.ErrInvalidParameter, name, r.Min, r.Max, r.Step)
		}
		// index-based stepping avoids float drift past Max
		n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
		values := make([]float64, 0, n)
		for k := 0; k < n; k++ {
			v := r.Min + float64(k)*r.Step
			if r.Type == ParamTypeInt {
				v = math.Round(v)
			}
			values = append(values, v)
		}
		paramValues[i] = values
	}

	combinations := make([]map[string]float64, 0)
	generateCombinationsRecursive(paramNames, paramValues, 0, make(map[string]float64), &combinations)
	return combinations, nil
}

// generateCombinationsRecursive recursively generates combinations
func generateCombinationsRecursive(
	paramNames []string,
	paramValues [][]float64,
	depth int,
	current map[string]float64,
	result *[]map[string]float64,
) {
	if depth == len(paramNames) {
		combo := make(map[string]float64, len(current))
		for k, v := range current {
			combo[k] = v
		}
		*result = append(*result, combo)
		return
	}

	paramName := paramNames[depth]
	for _, value := range paramValues[depth] {
		current[paramName] = value
		generateCombinationsRecursive(paramNames, paramValues, depth+1, current, result)
	}
}

// runWithParams runs one pipeline and scores the selected curve
func (opt *ParameterOptimizer) runWithParams(ctx context.Context, params map[string]float64) (*OptimizationResult, error) {
	report, err := opt.run(ctx, params)
	if err != nil {
		return nil, err
	}

	curve := report.Curve(opt.curve)
	if curve == nil {
		return nil, fmt.Errorf("report has no %q curve", opt.curve)
	}
	p := curve.Performance

	metrics := OptimizationMetrics{
		SharpeRatio:  p.SharpeRatio,
		TotalReturn:  p.TotalReturn,
		MaxDrawdown:  p.MaxDrawdown,
		WinRate:      p.WinRate,
		ProfitFactor: p.ProfitFactor,
		CalmarRatio:  p.CalmarRatio,
		TotalTrades:  p.Trades,
	}
	if report.Kelly != nil {
		metrics.KellyFraction = report.Kelly.Fraction
	}

	score := opt.calculateScore(&metrics)
	if math.IsNaN(score) {
		return nil, fmt.Errorf("score is NaN")
	}

	return &OptimizationResult{
		Parameters: params,
		Metrics:    metrics,
		Score:      score,
	}, nil
}

// calculateScore calculates the optimization score
func (opt *ParameterOptimizer) calculateScore(metrics *OptimizationMetrics) float64 {
	switch opt.goal {
	case GoalSharpeRatio:
		return metrics.SharpeRatio
	case GoalTotalReturn:
		return metrics.TotalReturn
	case GoalWinRate:
		return metrics.WinRate
	case GoalProfitFactor:
		return metrics.ProfitFactor
	case GoalCalmarRatio:
		return metrics.CalmarRatio
	default:
		return metrics.SharpeRatio
	}
}

// GetBestResult returns the best optimization result
func GetBestResult(results []*OptimizationResult) *OptimizationResult {
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// GetTopNResults returns the top N results
func GetTopNResults(results []*OptimizationResult, n int) []*OptimizationResult {
	if n > len(results) {
		n = len(results)
	}
	return results[:n]
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/config"
	"github.com/homebox25/Quant-Tutorials/pkg/runner"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

type optimizeFlags struct {
	runner.Options
	pipeline string
	goal     string
	curve    string
	params   string
	workers  int
	top      int
	exportTo string
	baseline string
	archive  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &optimizeFlags{}
	root := &cobra.Command{
		Use:           "backtest_optimize",
		Short:         "Grid search pipeline parameters and export the best set",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.ConfigFile, "config", "c", "", "YAML configuration file")
	pf.StringVar(&f.LogLevel, "log-level", "", "log level override")

	fl := root.Flags()
	fl.StringVar(&f.OutputDir, "output", "", "report directory override")
	fl.StringVar(&f.DataDir, "data-dir", "", "price directory override")
	fl.StringSliceVar(&f.Symbols, "symbols", nil, "symbols override")
	fl.BoolVar(&f.NoSave, "no-save", false, "do not record the best run")
	fl.BoolVar(&f.NoPublish, "no-publish", false, "do not publish the best run")
	fl.StringVar(&f.pipeline, "pipeline", "", "pipeline to optimize: pairs or bands")
	fl.StringVar(&f.goal, "goal", "", "sharpe, return, win_rate, profit_factor or calmar")
	fl.StringVar(&f.curve, "curve", "", "curve to score")
	fl.StringVar(&f.params, "params", "", "ranges as name:min:max:step,... (replaces optimize.ranges)")
	fl.IntVar(&f.workers, "workers", 0, "parallel workers")
	fl.IntVar(&f.top, "top", 10, "results to print")
	fl.StringVar(&f.exportTo, "export-dir", "", "parameter export directory override")
	fl.StringVar(&f.baseline, "baseline", "", "compare the new optimum against this params file")
	fl.StringVar(&f.archive, "archive", "", "copy the new optimum into this directory")

	root.AddCommand(newCompareCmd())
	return root
}

func runOptimize(ctx context.Context, out io.Writer, f *optimizeFlags) error {
	r, err := runner.New(f.Options, out)
	if err != nil {
		return err
	}
	defer r.Close()

	cfg := r.Config()
	if err := f.apply(&cfg.Optimize); err != nil {
		return err
	}
	if err := cfg.Optimize.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	o := cfg.Optimize
	log := r.Logger()

	series, err := r.LoadSeries(ctx, runner.SymbolsNeeded(o.Pipeline))
	if err != nil {
		return r.Fail(&backtest.StageError{Stage: runner.StageData, Err: err})
	}
	opt, err := cfg.Optimizer(series, log)
	if err != nil {
		return err
	}
	results, err := opt.GridSearch(ctx)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: every parameter combination failed", stats.ErrInvalidParameter)
	}
	printResults(out, backtest.GetTopNResults(results, f.top))

	goal := backtest.OptimizationGoal(o.Goal)
	exporter := backtest.NewParamExporter(o.ExportDir)
	symbols := cfg.Data.Symbols[:runner.SymbolsNeeded(o.Pipeline)]
	resultsFile, err := exporter.ExportOptimizationResults(o.Pipeline, symbols, results, goal)
	if err != nil {
		return err
	}
	log.Info().Str("path", resultsFile).Msg("optimization results exported")

	best := backtest.GetBestResult(results)
	report, err := rerunBest(cfg, series, best.Parameters, r)
	if err != nil {
		return r.Fail(err)
	}
	paramsFile, err := exporter.ExportOptimalParams(report, goal)
	if err != nil {
		return err
	}
	log.Info().Str("path", paramsFile).Float64("score", best.Score).Msg("optimal parameters exported")

	if _, err := r.Finish(ctx, report); err != nil {
		return err
	}

	if f.baseline != "" {
		baseline, err := backtest.LoadOptimalParams(f.baseline)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, backtest.CompareParams(baseline, backtest.NewOptimalParams(report, goal)))
	}
	if f.archive != "" {
		path, err := exporter.ArchiveOptimalParams(paramsFile, f.archive)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("optimal parameters archived")
	}
	return nil
}

func (f *optimizeFlags) apply(o *config.OptimizeConfig) error {
	if f.pipeline != "" {
		o.Pipeline = f.pipeline
	}
	if f.goal != "" {
		o.Goal = f.goal
	}
	if f.curve != "" {
		o.Curve = f.curve
	}
	if f.workers > 0 {
		o.Workers = f.workers
	}
	if f.exportTo != "" {
		o.ExportDir = f.exportTo
	}
	if f.params != "" {
		ranges, err := parseRanges(f.params)
		if err != nil {
			return err
		}
		o.Ranges = ranges
	}
	return nil
}

// rerunBest runs the winning combination with the full configuration so the
// exported report carries every curve, including the cash walk.
func rerunBest(cfg *config.Config, series []*stats.Series, params map[string]float64, r *runner.Runner) (*backtest.Report, error) {
	switch cfg.Optimize.Pipeline {
	case backtest.PipelinePairs:
		pc := cfg.Pairs
		if err := (&backtest.OptimalParams{Parameters: params}).ApplyTo(&pc); err != nil {
			return nil, err
		}
		return backtest.RunPairs(series[0], series[1], pc, r.Logger())
	case backtest.PipelineBands:
		bc := cfg.Bands
		if err := (&backtest.OptimalParams{Parameters: params}).ApplyTo(&bc); err != nil {
			return nil, err
		}
		return backtest.RunBands(series[0], bc, r.Logger())
	default:
		return nil, fmt.Errorf("%w: unknown pipeline %q", stats.ErrInvalidParameter, cfg.Optimize.Pipeline)
	}
}

// parseRanges parses name:min:max:step specs separated by commas.
// A range is integer when min, max and step are all whole numbers.
func parseRanges(s string) ([]config.RangeConfig, error) {
	var ranges []config.RangeConfig
	for _, spec := range strings.Split(s, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		parts := strings.Split(spec, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("%w: invalid parameter spec %q (expected name:min:max:step)", stats.ErrInvalidParameter, spec)
		}
		var vals [3]float64
		for i, p := range parts[1:] {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid value %q for %s", stats.ErrInvalidParameter, p, parts[0])
			}
			vals[i] = v
		}
		ranges = append(ranges, config.RangeConfig{
			Name: parts[0],
			Min:  vals[0],
			Max:  vals[1],
			Step: vals[2],
			Int:  whole(vals[0]) && whole(vals[1]) && whole(vals[2]),
		})
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: no parameter ranges given", stats.ErrInvalidParameter)
	}
	return ranges, nil
}

func whole(v float64) bool { return v == float64(int64(v)) }

func printResults(w io.Writer, results []*backtest.OptimizationResult) {
	fmt.Fprintln(w, "========================================")
	fmt.Fprintln(w, "Top Parameter Combinations")
	fmt.Fprintln(w, "========================================")
	for _, res := range results {
		names := make([]string, 0, len(res.Parameters))
		for k := range res.Parameters {
			names = append(names, k)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, k := range names {
			parts[i] = fmt.Sprintf("%s=%g", k, res.Parameters[k])
		}
		fmt.Fprintf(w, "#%-3d score=%9.4f sharpe=%7.3f return=%8.2f%% dd=%6.2f%% trades=%-4d %s\n",
			res.Rank, res.Score, res.Metrics.SharpeRatio, res.Metrics.TotalReturn*100,
			res.Metrics.MaxDrawdown*100, res.Metrics.TotalTrades, strings.Join(parts, " "))
	}
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare BASELINE CURRENT",
		Short: "Compare two exported parameter files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, err := backtest.LoadOptimalParams(args[0])
			if err != nil {
				return err
			}
			current, err := backtest.LoadOptimalParams(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), backtest.CompareParams(baseline, current))
			return nil
		},
	}
}

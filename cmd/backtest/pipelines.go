package main

import (
	"github.com/spf13/cobra"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/runner"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/signal"
)

func newPairsCmd(opts *runner.Options) *cobra.Command {
	var (
		entry, exit float64
		zsource     string
		zwindow     int
		paramsFile  string
	)
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "Pairs trading: OLS spread, OU z-score, hysteresis signal, Kelly sizing",
		Example: `  backtest pairs --symbols KO,PEP --data-dir ./data
  backtest pairs --config config.yaml --entry 1.5 --exit 0.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, backtest.PipelinePairs, func(r *runner.Runner) error {
				cfg := &r.Config().Pairs
				if err := applyParamsFile(paramsFile, cfg); err != nil {
					return err
				}
				f := cmd.Flags()
				if f.Changed("entry") {
					cfg.Signal.EntryThreshold = entry
				}
				if f.Changed("exit") {
					cfg.Signal.ExitThreshold = exit
				}
				if f.Changed("zscore") {
					cfg.ZScore.Source = signal.ZSource(zsource)
				}
				if f.Changed("zscore-window") {
					cfg.ZScore.Window = zwindow
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&entry, "entry", 2, "entry threshold |z|")
	cmd.Flags().Float64Var(&exit, "exit", 0, "exit threshold |z|")
	cmd.Flags().StringVar(&zsource, "zscore", "ou", "z-score source: ou, rolling, static")
	cmd.Flags().IntVar(&zwindow, "zscore-window", 20, "rolling z-score window")
	cmd.Flags().StringVar(&paramsFile, "params", "", "optimal_params YAML exported by backtest_optimize")
	return cmd
}

func newBandsCmd(opts *runner.Options) *cobra.Command {
	var (
		window     int
		numStd     float64
		cash       float64
		hold       bool
		paramsFile string
	)
	cmd := &cobra.Command{
		Use:   "bands",
		Short: "Single-asset Bollinger mean reversion with Kelly and volatility sizing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, backtest.PipelineBands, func(r *runner.Runner) error {
				cfg := &r.Config().Bands
				if err := applyParamsFile(paramsFile, cfg); err != nil {
					return err
				}
				f := cmd.Flags()
				if f.Changed("window") {
					cfg.Window = window
					cfg.VolWindow = window
				}
				if f.Changed("num-std") {
					cfg.NumStd = numStd
				}
				if f.Changed("cash") {
					cfg.InitialCash = cash
				}
				if f.Changed("hold") {
					cfg.Band.Hold = hold
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&window, "window", 20, "Bollinger window")
	cmd.Flags().Float64Var(&numStd, "num-std", 2, "band width in standard deviations")
	cmd.Flags().Float64Var(&cash, "cash", 10000, "initial cash of the all-in simulation, 0 to skip")
	cmd.Flags().BoolVar(&hold, "hold", false, "hold the position until price crosses the middle band")
	cmd.Flags().StringVar(&paramsFile, "params", "", "optimal_params YAML exported by backtest_optimize")
	return cmd
}

func newCrossoverCmd(opts *runner.Options) *cobra.Command {
	var (
		fast, slow int
		longOnly   bool
	)
	cmd := &cobra.Command{
		Use:   "crossover",
		Short: "SMA crossover with Kelly and volatility sizing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, backtest.PipelineCrossover, func(r *runner.Runner) error {
				cfg := &r.Config().Crossover
				f := cmd.Flags()
				if f.Changed("fast") {
					cfg.Fast = fast
				}
				if f.Changed("slow") {
					cfg.Slow = slow
				}
				if f.Changed("long-only") {
					cfg.LongOnly = longOnly
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&fast, "fast", 50, "fast SMA window")
	cmd.Flags().IntVar(&slow, "slow", 200, "slow SMA window")
	cmd.Flags().BoolVar(&longOnly, "long-only", false, "go flat instead of short when fast < slow")
	return cmd
}

// runPipeline builds the runner, applies subcommand overrides and runs.
func runPipeline(cmd *cobra.Command, opts *runner.Options, pipeline string, override func(*runner.Runner) error) error {
	printBanner(cmd)

	r, err := runner.New(*opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer r.Close()

	if err := override(r); err != nil {
		return err
	}
	_, err = r.Run(cmd.Context(), pipeline)
	return err
}

func applyParamsFile(path string, cfg backtest.Setter) error {
	if path == "" {
		return nil
	}
	params, err := backtest.LoadOptimalParams(path)
	if err != nil {
		return err
	}
	return params.ApplyTo(cfg)
}

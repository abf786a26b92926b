package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/homebox25/Quant-Tutorials/pkg/runner"
)

const (
	appName    = "QuantTutorialsBacktest"
	appVersion = "1.0.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &runner.Options{}

	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Mean-reversion and Kelly sizing backtests",
		Long:          "Pairs trading (spread + OU + hysteresis), Bollinger mean reversion and SMA crossover backtests with Kelly sizing.",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 可选，仅提供 Alpaca 密钥
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (built-in defaults when empty)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn, error (overrides config)")
	pf.StringVar(&opts.OutputDir, "output", "", "report directory (overrides config)")
	pf.StringVar(&opts.Source, "source", "", "data source: csv, parquet, alpaca (overrides config)")
	pf.StringVar(&opts.DataDir, "data-dir", "", "directory of <SYMBOL>.csv / .parquet files (overrides config)")
	pf.StringSliceVar(&opts.Symbols, "symbols", nil, "symbols, e.g. KO,PEP (overrides config)")
	pf.StringVar(&opts.Start, "start-date", "", "start date YYYY-MM-DD (overrides config)")
	pf.StringVar(&opts.End, "end-date", "", "end date YYYY-MM-DD (overrides config)")
	pf.StringVar(&opts.StorePath, "store", "", "SQLite run history file (overrides config)")
	pf.BoolVar(&opts.NoSave, "no-save", false, "do not persist the run")
	pf.BoolVar(&opts.NoPublish, "no-publish", false, "do not publish the run to NATS")

	root.AddCommand(
		newPairsCmd(opts),
		newBandsCmd(opts),
		newCrossoverCmd(opts),
		newKellySimCmd(opts),
		newHistoryCmd(opts),
		newWatchCmd(opts),
		newInitConfigCmd(),
	)
	return root
}

func printBanner(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "========================================")
	fmt.Fprintf(out, "%s v%s\n", appName, appVersion)
	fmt.Fprintln(out, "均值回归与 Kelly 仓位回测")
	fmt.Fprintln(out, "========================================")
}

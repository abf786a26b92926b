// Package runner wires configuration, market data, pipelines and result sinks
// for the command line binaries.
package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/config"
	"github.com/homebox25/Quant-Tutorials/pkg/marketdata"
	"github.com/homebox25/Quant-Tutorials/pkg/metrics"
	"github.com/homebox25/Quant-Tutorials/pkg/publish"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/store"
	"github.com/homebox25/Quant-Tutorials/pkg/util"
)

// StageData labels failures while loading prices.
const StageData = "data"

// Options are command line overrides applied on top of the config file.
type Options struct {
	ConfigFile string
	LogLevel   string
	OutputDir  string
	Source     string
	DataDir    string
	Symbols    []string
	Start      string
	End        string
	StorePath  string
	NoSave     bool
	NoPublish  bool
}

func (o Options) apply(cfg *config.Config) {
	if o.LogLevel != "" {
		cfg.App.LogLevel = o.LogLevel
	}
	if o.OutputDir != "" {
		cfg.Output.ResultDir = o.OutputDir
	}
	if o.Source != "" {
		cfg.Data.Source = o.Source
	}
	if o.DataDir != "" {
		cfg.Data.Dir = o.DataDir
	}
	if len(o.Symbols) > 0 {
		cfg.Data.Symbols = o.Symbols
	}
	if o.Start != "" {
		cfg.Data.Start = o.Start
	}
	if o.End != "" {
		cfg.Data.End = o.End
	}
	if o.StorePath != "" {
		cfg.Store.Path = o.StorePath
	}
	if o.NoSave {
		cfg.Store.Path = ""
	}
	if o.NoPublish {
		cfg.NATS.URL = ""
	}
}

// Runner coordinates loading, running and publishing one backtest
type Runner struct {
	cfg        *config.Config
	log        zerolog.Logger
	out        io.Writer
	metricsSrv *http.Server
}

// New loads the configuration (defaults when no file is given), applies
// overrides and starts the metrics endpoint when configured.
func New(opts Options, out io.Writer) (*Runner, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	opts.apply(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	r := &Runner{
		cfg: cfg,
		log: util.NewLogger(cfg.App.LogLevel),
		out: out,
	}
	if addr := cfg.App.MetricsAddr; addr != "" {
		r.metricsSrv = metrics.Serve(addr)
		r.log.Info().Str("addr", addr).Msg("metrics endpoint started")
	}
	return r, nil
}

// NewWithConfig builds a runner around an already validated config.
func NewWithConfig(cfg *config.Config, log zerolog.Logger, out io.Writer) *Runner {
	return &Runner{cfg: cfg, log: log, out: out}
}

// Config returns the effective configuration.
func (r *Runner) Config() *config.Config { return r.cfg }

// Logger returns the runner's logger.
func (r *Runner) Logger() zerolog.Logger { return r.log }

// Close stops the metrics endpoint.
func (r *Runner) Close() {
	if r.metricsSrv != nil {
		_ = r.metricsSrv.Close()
	}
}

// LoadSeries loads the first n configured symbols.
func (r *Runner) LoadSeries(ctx context.Context, n int) ([]*stats.Series, error) {
	symbols := r.cfg.Data.Symbols
	if len(symbols) < n {
		return nil, fmt.Errorf("%w: need %d symbols, configured %v", stats.ErrInvalidParameter, n, symbols)
	}
	symbols = symbols[:n]

	provider, err := marketdata.New(r.cfg.Data, r.log)
	if err != nil {
		return nil, err
	}
	start, end, err := r.cfg.Data.Range()
	if err != nil {
		return nil, err
	}

	series, err := marketdata.LoadCloses(ctx, provider, symbols, start, end)
	if err != nil {
		return nil, err
	}
	for _, s := range series {
		r.log.Info().
			Str("symbol", s.Name()).
			Int("bars", s.Len()).
			Str("source", r.cfg.Data.Source).
			Msg("loaded prices")
		if s.HasNaN() {
			r.log.Warn().
				Str("symbol", s.Name()).
				Int("missing", s.Len()-s.CountValid()).
				Msg("prices have missing closes")
		}
	}
	return series, nil
}

// SymbolsNeeded is the number of price series a pipeline consumes.
func SymbolsNeeded(pipeline string) int {
	if pipeline == backtest.PipelinePairs {
		return 2
	}
	return 1
}

// Run loads prices, runs the named pipeline and hands the report to Finish.
func (r *Runner) Run(ctx context.Context, pipeline string) (*backtest.Report, error) {
	series, err := r.LoadSeries(ctx, SymbolsNeeded(pipeline))
	if err != nil {
		return nil, r.Fail(&backtest.StageError{Stage: StageData, Err: err})
	}

	var report *backtest.Report
	switch pipeline {
	case backtest.PipelinePairs:
		report, err = backtest.RunPairs(series[0], series[1], r.cfg.Pairs, r.log)
	case backtest.PipelineBands:
		report, err = backtest.RunBands(series[0], r.cfg.Bands, r.log)
	case backtest.PipelineCrossover:
		report, err = backtest.RunCrossover(series[0], r.cfg.Crossover, r.log)
	default:
		err = fmt.Errorf("%w: unknown pipeline %q", stats.ErrInvalidParameter, pipeline)
	}
	if err != nil {
		return nil, r.Fail(err)
	}

	if _, err := r.Finish(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

// Fail records a failed run and returns err unchanged.
func (r *Runner) Fail(err error) error {
	metrics.ObserveFailure(err)
	r.log.Error().Err(err).Msg("backtest failed")
	return err
}

// Finish prints the summary, writes reports, persists the run and publishes it.
// Publishing problems are logged, not returned.
func (r *Runner) Finish(ctx context.Context, report *backtest.Report) ([]string, error) {
	metrics.ObserveReport(report)
	if r.out != nil {
		backtest.PrintSummary(r.out, report)
	}

	paths, err := backtest.NewReportGenerator(r.cfg.Output, report, r.log).GenerateAll()
	if err != nil {
		return nil, fmt.Errorf("failed to generate reports: %w", err)
	}
	if len(paths) > 0 {
		r.log.Info().Str("dir", r.cfg.Output.ResultDir).Strs("files", paths).Msg("reports written")
	}

	if path := r.cfg.Store.Path; path != "" {
		if err := r.save(ctx, path, report); err != nil {
			return paths, err
		}
	}

	if r.cfg.NATS.Enabled() {
		r.publish(report)
	}
	return paths, nil
}

func (r *Runner) save(ctx context.Context, path string, report *backtest.Report) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.Save(ctx, report)
	if err != nil {
		return err
	}
	r.log.Info().Int64("id", id).Str("store", path).Msg("run saved")
	return nil
}

func (r *Runner) publish(report *backtest.Report) {
	pub, err := publish.Connect(r.cfg.NATS, r.log)
	if err != nil {
		r.log.Warn().Err(err).Msg("skipping publish")
		return
	}
	defer pub.Close()

	if err := pub.Publish(report); err != nil {
		r.log.Warn().Err(err).Msg("publish failed")
		return
	}
	r.log.Info().Str("subject", pub.Subject(report)).Msg("run published")
}

// History lists recent runs from the configured store.
func (r *Runner) History(ctx context.Context, pipeline string, limit int) ([]store.Run, error) {
	if r.cfg.Store.Path == "" {
		return nil, fmt.Errorf("%w: store.path is not configured", stats.ErrInvalidParameter)
	}
	st, err := store.Open(r.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.ListRecent(ctx, strings.TrimSpace(pipeline), limit)
}

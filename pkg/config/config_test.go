package config

import (
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/signal"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.LogLevel != "debug" || cfg.App.MetricsAddr != ":9102" {
		t.Fatalf("unexpected App: %+v", cfg.App)
	}
	if cfg.Data.Source != "parquet" || len(cfg.Data.Symbols) != 2 || cfg.Data.Symbols[1] != "PEP" {
		t.Fatalf("unexpected Data: %+v", cfg.Data)
	}

	p := cfg.Pairs
	if p.ZScore.Source != signal.ZSourceRolling || p.ZScore.Window != 30 {
		t.Fatalf("unexpected ZScore: %+v", p.ZScore)
	}
	if p.Signal.EntryThreshold != 1.5 || p.Signal.ExitThreshold != 0.25 || !p.Signal.AllowReversal {
		t.Fatalf("unexpected Signal: %+v", p.Signal)
	}
	if p.Kelly.Cap != 0.5 || p.Kelly.UseHalf {
		t.Fatalf("unexpected Kelly: %+v", p.Kelly)
	}
	// untouched sections keep their defaults
	if p.OU.MinObservations != 30 || p.Returns != backtest.ReturnModeDiff || p.Initial != 1 {
		t.Fatalf("pairs defaults lost: %+v", p)
	}

	if cfg.Bands.Window != 30 || cfg.Bands.NumStd != 2.5 || cfg.Bands.VolWindow != 30 || cfg.Bands.InitialCash != 50000 {
		t.Fatalf("unexpected Bands: %+v", cfg.Bands)
	}
	if !cfg.Bands.Kelly.UseHalf {
		t.Fatalf("bands kelly default lost: %+v", cfg.Bands.Kelly)
	}
	if cfg.Crossover.Fast != 10 || cfg.Crossover.Slow != 40 || cfg.Crossover.VolWindow != 20 {
		t.Fatalf("unexpected Crossover: %+v", cfg.Crossover)
	}
	if cfg.KellySim.WinProb != 0.6 || cfg.KellySim.Seed != 7 {
		t.Fatalf("unexpected KellySim: %+v", cfg.KellySim)
	}

	o := cfg.Optimize
	if o.Pipeline != backtest.PipelineBands || o.Goal != "calmar" || o.Workers != 2 || len(o.Ranges) != 2 || !o.Ranges[0].Int {
		t.Fatalf("unexpected Optimize: %+v", o)
	}
	if o.Curve != backtest.CurveKelly || o.ExportDir != "./optimal_params" {
		t.Fatalf("optimize defaults lost: %+v", o)
	}

	if cfg.Output.ResultDir != "./out" || !cfg.Output.Parquet || !cfg.Output.Markdown {
		t.Fatalf("unexpected Output: %+v", cfg.Output)
	}
	if cfg.NATS.Subject != "research.backtest" || cfg.NATS.Timeout != 5*time.Second || !cfg.NATS.Enabled() {
		t.Fatalf("unexpected NATS: %+v", cfg.NATS)
	}
	if cfg.Store.Path != "./runs.db" {
		t.Fatalf("unexpected Store: %+v", cfg.Store)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"exit above entry", "pairs:\n  signal:\n    entry_threshold: 1\n    exit_threshold: 2\n"},
		{"crossover windows", "crossover:\n  fast: 50\n  slow: 20\n"},
		{"unknown source", "data:\n  source: ftp\n"},
		{"unknown goal", "optimize:\n  goal: luck\n"},
		{"bad range", "optimize:\n  ranges:\n    - {name: window, min: 3, max: 1, step: 1}\n"},
		{"bad kelly sim", "kelly_sim:\n  win_prob: 1.5\n"},
		{"unknown returns", "bands:\n  returns: log\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, stats.ErrInvalidParameter) {
				t.Errorf("Parse() error = %v, want ErrInvalidParameter", err)
			}
		})
	}

	if _, err := Parse([]byte("pairs: [")); err == nil {
		t.Error("Parse() error = nil for malformed YAML")
	}
}

func TestSaveLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pairs.Signal.EntryThreshold != 2 || cfg.Bands.Window != 20 || cfg.Crossover.Slow != 200 {
		t.Errorf("defaults changed on reload: %+v", cfg)
	}
}

func TestOptimizer(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 200)
	x := 0.0
	for i := range prices {
		x = 0.5*x + r.NormFloat64()
		prices[i] = 100 + x
	}
	series := stats.FromValues("KO", start, 24*time.Hour, prices)

	cfg := Default()
	cfg.Optimize.Pipeline = backtest.PipelineBands
	cfg.Optimize.Ranges = []RangeConfig{{Name: "num_std", Min: 1, Max: 2, Step: 0.5}}
	cfg.ApplyDefaults()

	opt, err := cfg.Optimizer([]*stats.Series{series}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Optimizer() error = %v", err)
	}
	results, err := opt.GridSearch(t.Context())
	if err != nil {
		t.Fatalf("GridSearch() error = %v", err)
	}
	if len(results) != 3 {
		t.Errorf("len(results) = %d, want 3", len(results))
	}
	for _, res := range results {
		if math.IsNaN(res.Score) {
			t.Errorf("NaN score for %v", res.Parameters)
		}
	}

	if _, err := cfg.Optimizer([]*stats.Series{series, series}, zerolog.Nop()); !errors.Is(err, stats.ErrInvalidParameter) {
		t.Errorf("bands with 2 series error = %v, want ErrInvalidParameter", err)
	}
}

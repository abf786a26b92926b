// Package config loads the backtest application configuration from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/marketdata"
	"github.com/homebox25/Quant-Tutorials/pkg/publish"
	"github.com/homebox25/Quant-Tutorials/pkg/risk"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// Config is the complete configuration for the backtest binaries
type Config struct {
	App       AppConfig                `yaml:"app"`
	Data      marketdata.Config        `yaml:"data"`
	Pairs     backtest.PairsConfig     `yaml:"pairs"`
	Bands     backtest.BandsConfig     `yaml:"bands"`
	Crossover backtest.CrossoverConfig `yaml:"crossover"`
	KellySim  risk.SimConfig           `yaml:"kelly_sim"`
	Optimize  OptimizeConfig           `yaml:"optimize"`
	Output    backtest.OutputConfig    `yaml:"output"`
	NATS      publish.Config           `yaml:"nats"`
	Store     StoreConfig              `yaml:"store"`
}

// AppConfig contains process-wide settings
type AppConfig struct {
	LogLevel    string `yaml:"log_level"`    // debug, info, warn, error
	MetricsAddr string `yaml:"metrics_addr"` // 为空时不暴露 /metrics
}

// StoreConfig 运行历史存储
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite 文件，为空时不保存
}

// OptimizeConfig 参数网格搜索配置
type OptimizeConfig struct {
	Pipeline  string        `yaml:"pipeline"` // pairs | bands
	Goal      string        `yaml:"goal"`     // sharpe, return, win_rate, profit_factor, calmar
	Curve     string        `yaml:"curve"`
	Workers   int           `yaml:"workers"`
	ExportDir string        `yaml:"export_dir"`
	Ranges    []RangeConfig `yaml:"ranges"`
}

// RangeConfig 单个参数的搜索范围
type RangeConfig struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
	Int  bool    `yaml:"int"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		App:       AppConfig{LogLevel: "info"},
		Data:      marketdata.Config{Source: marketdata.SourceCSV, Dir: "./data"},
		Pairs:     backtest.DefaultPairsConfig(),
		Bands:     backtest.DefaultBandsConfig(),
		Crossover: backtest.DefaultCrossoverConfig(),
		KellySim:  risk.DefaultSimConfig(),
		Optimize: OptimizeConfig{
			Pipeline:  backtest.PipelinePairs,
			Goal:      string(backtest.GoalSharpeRatio),
			Curve:     backtest.CurveKelly,
			Workers:   4,
			ExportDir: "./optimal_params",
			Ranges: []RangeConfig{
				{Name: "entry_threshold", Min: 1.0, Max: 2.5, Step: 0.5},
				{Name: "exit_threshold", Min: 0, Max: 1.0, Step: 0.5},
			},
		},
		Output: backtest.DefaultOutputConfig(),
	}
}

// Load reads a YAML file over the defaults, then fills zero values and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load on an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued knobs in every section.
func (c *Config) ApplyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	c.Data.ApplyDefaults()
	c.Pairs.ApplyDefaults()
	c.Bands.ApplyDefaults()
	c.Crossover.ApplyDefaults()
	c.NATS.ApplyDefaults()

	if c.Output.ResultDir == "" {
		c.Output.ResultDir = backtest.DefaultOutputConfig().ResultDir
	}
	if c.Optimize.Pipeline == "" {
		c.Optimize.Pipeline = backtest.PipelinePairs
	}
	if c.Optimize.Goal == "" {
		c.Optimize.Goal = string(backtest.GoalSharpeRatio)
	}
	if c.Optimize.Curve == "" {
		c.Optimize.Curve = backtest.CurveKelly
	}
	if c.Optimize.Workers <= 0 {
		c.Optimize.Workers = 4
	}
	if c.Optimize.ExportDir == "" {
		c.Optimize.ExportDir = "./optimal_params"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Data.Validate(); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if err := c.Pairs.Validate(); err != nil {
		return fmt.Errorf("pairs: %w", err)
	}
	if err := c.Bands.Validate(); err != nil {
		return fmt.Errorf("bands: %w", err)
	}
	if err := c.Crossover.Validate(); err != nil {
		return fmt.Errorf("crossover: %w", err)
	}
	if err := c.KellySim.Validate(); err != nil {
		return fmt.Errorf("kelly_sim: %w", err)
	}
	if err := c.Optimize.Validate(); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// Validate checks the pipeline, goal and every range.
func (o OptimizeConfig) Validate() error {
	switch o.Pipeline {
	case backtest.PipelinePairs, backtest.PipelineBands:
	default:
		return fmt.Errorf("%w: pipeline must be pairs or bands, got %q", stats.ErrInvalidParameter, o.Pipeline)
	}
	if _, err := backtest.ParseGoal(o.Goal); err != nil {
		return err
	}
	for i, r := range o.Ranges {
		if r.Name == "" {
			return fmt.Errorf("%w: ranges[%d].name is required", stats.ErrInvalidParameter, i)
		}
		if !(r.Step > 0) || r.Max < r.Min {
			return fmt.Errorf("%w: ranges[%d] (%s): bad range [%v, %v] step %v",
				stats.ErrInvalidParameter, i, r.Name, r.Min, r.Max, r.Step)
		}
	}
	return nil
}

// Optimizer builds the grid search described by o over the loaded series.
// Pairs needs two series, bands one.
func (c *Config) Optimizer(series []*stats.Series, log zerolog.Logger) (*backtest.ParameterOptimizer, error) {
	o := c.Optimize
	goal, err := backtest.ParseGoal(o.Goal)
	if err != nil {
		return nil, err
	}

	var opt *backtest.ParameterOptimizer
	switch o.Pipeline {
	case backtest.PipelinePairs:
		if len(series) != 2 {
			return nil, fmt.Errorf("%w: pairs optimization needs 2 series, got %d", stats.ErrInvalidParameter, len(series))
		}
		opt = backtest.NewPairsOptimizer(series[0], series[1], c.Pairs, log)
	case backtest.PipelineBands:
		if len(series) != 1 {
			return nil, fmt.Errorf("%w: bands optimization needs 1 series, got %d", stats.ErrInvalidParameter, len(series))
		}
		opt = backtest.NewBandsOptimizer(series[0], c.Bands, log)
	default:
		return nil, fmt.Errorf("%w: unknown pipeline %q", stats.ErrInvalidParameter, o.Pipeline)
	}

	for _, r := range o.Ranges {
		typ := backtest.ParamTypeFloat
		if r.Int {
			typ = backtest.ParamTypeInt
		}
		opt.AddParamRange(r.Name, r.Min, r.Max, r.Step, typ)
	}
	opt.SetOptimizationGoal(goal)
	opt.SetCurve(o.Curve)
	opt.SetMaxWorkers(o.Workers)
	return opt, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

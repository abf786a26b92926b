package backtest

import (
	"fmt"

	"github.com/homebox25/Quant-Tutorials/pkg/risk"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/ou"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/signal"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/spread"
)

// PairsConfig represents the pairs (spread + OU + hysteresis) pipeline configuration
type PairsConfig struct {
	Spread spread.Config    `yaml:"spread"`
	OU     ou.Config        `yaml:"ou"`
	ZScore signal.ZConfig   `yaml:"zscore"`
	Signal signal.Config    `yaml:"signal"`
	Kelly  risk.KellyConfig `yaml:"kelly"`

	// Returns 收益计算方式，spread 默认使用差分
	Returns        ReturnMode `yaml:"returns"`
	Initial        float64    `yaml:"initial_capital"`
	PeriodsPerYear int        `yaml:"periods_per_year"`
}

// DefaultPairsConfig returns the OLS spread, OU z-score, entry 2 / exit 0, half Kelly.
func DefaultPairsConfig() PairsConfig {
	return PairsConfig{
		Spread:         spread.DefaultConfig(),
		OU:             ou.DefaultConfig(),
		ZScore:         signal.DefaultZConfig(),
		Signal:         signal.DefaultConfig(),
		Kelly:          risk.DefaultKellyConfig(),
		Returns:        ReturnModeDiff,
		Initial:        1,
		PeriodsPerYear: PeriodsPerYear,
	}
}

// ApplyDefaults fills zero-valued knobs. Boolean switches are left as given.
func (c *PairsConfig) ApplyDefaults() {
	d := DefaultPairsConfig()
	if c.Spread.Type == "" {
		c.Spread.Type = d.Spread.Type
	}
	if c.OU.MinObservations <= 0 {
		c.OU.MinObservations = d.OU.MinObservations
	}
	if c.OU.Tolerance <= 0 {
		c.OU.Tolerance = d.OU.Tolerance
	}
	if c.ZScore.Source == "" {
		c.ZScore.Source = d.ZScore.Source
	}
	if c.ZScore.Window <= 0 {
		c.ZScore.Window = d.ZScore.Window
	}
	if c.Signal.EntryThreshold == 0 {
		c.Signal.EntryThreshold = d.Signal.EntryThreshold
	}
	applyCommonDefaults(&c.Kelly, &c.Returns, &c.Initial, &c.PeriodsPerYear, d.Returns)
}

// Validate validates the configuration
func (c PairsConfig) Validate() error {
	if err := c.Spread.Validate(); err != nil {
		return fmt.Errorf("spread: %w", err)
	}
	if c.OU.DDoF < 0 {
		return fmt.Errorf("ou: %w: ddof must be >= 0", stats.ErrInvalidParameter)
	}
	if err := c.ZScore.Validate(); err != nil {
		return fmt.Errorf("zscore: %w", err)
	}
	if err := c.Signal.Validate(); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	return validateCommon(c.Returns, c.Initial)
}

// Parameters flattens the tunable knobs for reports and run history.
func (c PairsConfig) Parameters() map[string]float64 {
	return map[string]float64{
		"entry_threshold": c.Signal.EntryThreshold,
		"exit_threshold":  c.Signal.ExitThreshold,
		"zscore_window":   float64(c.ZScore.Window),
		"kelly_cap":       c.Kelly.Cap,
		"use_half_kelly":  boolParam(c.Kelly.UseHalf),
		"initial_capital": c.Initial,
	}
}

// Set overrides one tunable knob by its Parameters name.
func (c *PairsConfig) Set(name string, v float64) error {
	switch name {
	case "entry_threshold":
		c.Signal.EntryThreshold = v
	case "exit_threshold":
		c.Signal.ExitThreshold = v
	case "zscore_window":
		c.ZScore.Window = int(v)
	case "kelly_cap":
		c.Kelly.Cap = v
	case "use_half_kelly":
		c.Kelly.UseHalf = v != 0
	case "initial_capital":
		c.Initial = v
	default:
		return unknownParam(PipelinePairs, name)
	}
	return nil
}

// BandsConfig represents the single-asset Bollinger mean-reversion pipeline configuration
type BandsConfig struct {
	Window int               `yaml:"window"`
	NumStd float64           `yaml:"num_std"`
	Band   signal.BandConfig `yaml:"band"`
	Kelly  risk.KellyConfig  `yaml:"kelly"`

	// VolWindow 波动率调整仓位的窗口，0 表示使用 Window
	VolWindow int `yaml:"vol_window"`

	// InitialCash 全仓现金模拟的初始资金，<= 0 时跳过
	InitialCash float64 `yaml:"initial_cash"`

	Returns        ReturnMode `yaml:"returns"`
	Initial        float64    `yaml:"initial_capital"`
	PeriodsPerYear int        `yaml:"periods_per_year"`
}

// DefaultBandsConfig returns window 20, 2 std, stateless signal, half Kelly, cash 10000.
func DefaultBandsConfig() BandsConfig {
	return BandsConfig{
		Window:         20,
		NumStd:         2,
		Kelly:          risk.DefaultKellyConfig(),
		InitialCash:    10000,
		Returns:        ReturnModePct,
		Initial:        1,
		PeriodsPerYear: PeriodsPerYear,
	}
}

// ApplyDefaults fills zero-valued knobs.
func (c *BandsConfig) ApplyDefaults() {
	d := DefaultBandsConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.NumStd <= 0 {
		c.NumStd = d.NumStd
	}
	if c.VolWindow <= 0 {
		c.VolWindow = c.Window
	}
	applyCommonDefaults(&c.Kelly, &c.Returns, &c.Initial, &c.PeriodsPerYear, d.Returns)
}

// Validate validates the configuration
func (c BandsConfig) Validate() error {
	if c.Window < 2 {
		return fmt.Errorf("%w: window must be >= 2, got %d", stats.ErrInvalidParameter, c.Window)
	}
	if !(c.NumStd > 0) {
		return fmt.Errorf("%w: num_std must be positive, got %v", stats.ErrInvalidParameter, c.NumStd)
	}
	if c.VolWindow < 0 {
		return fmt.Errorf("%w: vol_window must be >= 0, got %d", stats.ErrInvalidParameter, c.VolWindow)
	}
	return validateCommon(c.Returns, c.Initial)
}

// Parameters flattens the tunable knobs for reports and run history.
func (c BandsConfig) Parameters() map[string]float64 {
	return map[string]float64{
		"window":          float64(c.Window),
		"num_std":         c.NumStd,
		"hold":            boolParam(c.Band.Hold),
		"kelly_cap":       c.Kelly.Cap,
		"use_half_kelly":  boolParam(c.Kelly.UseHalf),
		"initial_capital": c.Initial,
	}
}

// Set overrides one tunable knob by its Parameters name.
func (c *BandsConfig) Set(name string, v float64) error {
	switch name {
	case "window":
		c.Window = int(v)
	case "num_std":
		c.NumStd = v
	case "hold":
		c.Band.Hold = v != 0
	case "kelly_cap":
		c.Kelly.Cap = v
	case "use_half_kelly":
		c.Kelly.UseHalf = v != 0
	case "initial_capital":
		c.Initial = v
	default:
		return unknownParam(PipelineBands, name)
	}
	return nil
}

// CrossoverConfig represents the SMA crossover pipeline configuration
type CrossoverConfig struct {
	Fast     int              `yaml:"fast"`
	Slow     int              `yaml:"slow"`
	LongOnly bool             `yaml:"long_only"`
	Kelly    risk.KellyConfig `yaml:"kelly"`

	VolWindow int `yaml:"vol_window"`

	Returns        ReturnMode `yaml:"returns"`
	Initial        float64    `yaml:"initial_capital"`
	PeriodsPerYear int        `yaml:"periods_per_year"`
}

// DefaultCrossoverConfig returns SMA 50/200 with a 20-period volatility window.
func DefaultCrossoverConfig() CrossoverConfig {
	return CrossoverConfig{
		Fast:           50,
		Slow:           200,
		Kelly:          risk.DefaultKellyConfig(),
		VolWindow:      20,
		Returns:        ReturnModePct,
		Initial:        1,
		PeriodsPerYear: PeriodsPerYear,
	}
}

// ApplyDefaults fills zero-valued knobs.
func (c *CrossoverConfig) ApplyDefaults() {
	d := DefaultCrossoverConfig()
	if c.Fast <= 0 {
		c.Fast = d.Fast
	}
	if c.Slow <= 0 {
		c.Slow = d.Slow
	}
	if c.VolWindow <= 0 {
		c.VolWindow = d.VolWindow
	}
	applyCommonDefaults(&c.Kelly, &c.Returns, &c.Initial, &c.PeriodsPerYear, d.Returns)
}

// Validate validates the configuration
func (c CrossoverConfig) Validate() error {
	if c.Fast < 1 || c.Slow < 1 {
		return fmt.Errorf("%w: sma windows must be positive, got %d/%d", stats.ErrInvalidParameter, c.Fast, c.Slow)
	}
	if c.Fast >= c.Slow {
		return fmt.Errorf("%w: fast window %d must be shorter than slow window %d",
			stats.ErrInvalidParameter, c.Fast, c.Slow)
	}
	if c.VolWindow < 2 {
		return fmt.Errorf("%w: vol_window must be >= 2, got %d", stats.ErrInvalidParameter, c.VolWindow)
	}
	return validateCommon(c.Returns, c.Initial)
}

// Parameters flattens the tunable knobs for reports and run history.
func (c CrossoverConfig) Parameters() map[string]float64 {
	return map[string]float64{
		"fast":            float64(c.Fast),
		"slow":            float64(c.Slow),
		"long_only":       boolParam(c.LongOnly),
		"vol_window":      float64(c.VolWindow),
		"kelly_cap":       c.Kelly.Cap,
		"initial_capital": c.Initial,
	}
}

// Set overrides one tunable knob by its Parameters name.
func (c *CrossoverConfig) Set(name string, v float64) error {
	switch name {
	case "fast":
		c.Fast = int(v)
	case "slow":
		c.Slow = int(v)
	case "long_only":
		c.LongOnly = v != 0
	case "vol_window":
		c.VolWindow = int(v)
	case "kelly_cap":
		c.Kelly.Cap = v
	case "initial_capital":
		c.Initial = v
	default:
		return unknownParam(PipelineCrossover, name)
	}
	return nil
}

func unknownParam(pipeline, name string) error {
	return fmt.Errorf("%w: unknown %s parameter %q", stats.ErrInvalidParameter, pipeline, name)
}

func applyCommonDefaults(k *risk.KellyConfig, mode *ReturnMode, initial *float64, ppy *int, defaultMode ReturnMode) {
	if !(k.Cap > 0) {
		k.Cap = 1
	}
	if *mode == "" {
		*mode = defaultMode
	}
	if *initial <= 0 {
		*initial = 1
	}
	if *ppy <= 0 {
		*ppy = PeriodsPerYear
	}
}

func validateCommon(mode ReturnMode, initial float64) error {
	switch mode {
	case ReturnModeDiff, ReturnModePct:
	default:
		return fmt.Errorf("%w: unknown returns mode %q (must be diff or pct)", stats.ErrInvalidParameter, mode)
	}
	if !(initial > 0) {
		return fmt.Errorf("%w: initial capital must be positive", stats.ErrInvalidParameter)
	}
	return nil
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

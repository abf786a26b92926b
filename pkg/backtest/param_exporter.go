package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OptimalParams represents optimized parameters for production
type OptimalParams struct {
	// Metadata
	GeneratedAt      time.Time `yaml:"generated_at"`
	BacktestDate     string    `yaml:"backtest_date"`
	DataPeriod       string    `yaml:"data_period"`
	OptimizationGoal string    `yaml:"optimization_goal"`

	// Strategy info
	Strategy StrategyInfo `yaml:"strategy"`

	// Optimized parameters
	Parameters map[string]float64 `yaml:"parameters"`

	// Performance metrics
	Performance PerformanceMetrics `yaml:"performance"`
}

// StrategyInfo contains pipeline identification
type StrategyInfo struct {
	Pipeline string   `yaml:"pipeline"`
	Curve    string   `yaml:"curve"`
	Symbols  []string `yaml:"symbols"`
}

// PerformanceMetrics contains backtest performance
type PerformanceMetrics struct {
	SharpeRatio      float64 `yaml:"sharpe_ratio"`
	SortinoRatio     float64 `yaml:"sortino_ratio"`
	MaxDrawdown      float64 `yaml:"max_drawdown"`
	TotalReturn      float64 `yaml:"total_return"`
	AnnualizedReturn float64 `yaml:"annualized_return"`
	WinRate          float64 `yaml:"win_rate"`
	ProfitFactor     float64 `yaml:"profit_factor"`
	TotalTrades      int     `yaml:"total_trades"`
	CalmarRatio      float64 `yaml:"calmar_ratio"`
	KellyFraction    float64 `yaml:"kelly_fraction"`
}

// ParamExporter exports optimized parameters
type ParamExporter struct {
	outputDir string
}

// NewParamExporter creates a new parameter exporter
func NewParamExporter(outputDir string) *ParamExporter {
	return &ParamExporter{
		outputDir: outputDir,
	}
}

// NewOptimalParams builds the export record from the report of the best combination.
func NewOptimalParams(report *Report, goal OptimizationGoal) *OptimalParams {
	params := &OptimalParams{
		GeneratedAt:      time.Now(),
		BacktestDate:     time.Now().Format("2006-01-02"),
		OptimizationGoal: string(goal),
		Strategy: StrategyInfo{
			Pipeline: report.Pipeline,
			Symbols:  report.Symbols,
		},
		Parameters: make(map[string]float64, len(report.Parameters)),
	}
	for k, v := range report.Parameters {
		params.Parameters[k] = finite(v)
	}

	if c := report.Primary(); c != nil {
		p := c.Performance
		params.Strategy.Curve = c.Name
		params.DataPeriod = fmt.Sprintf("%s to %s", p.StartTime.Format(time.DateOnly), p.EndTime.Format(time.DateOnly))
		params.Performance = PerformanceMetrics{
			SharpeRatio:      finite(p.SharpeRatio),
			SortinoRatio:     finite(p.SortinoRatio),
			MaxDrawdown:      finite(p.MaxDrawdown),
			TotalReturn:      finite(p.TotalReturn),
			AnnualizedReturn: finite(p.AnnualizedReturn),
			WinRate:          p.WinRate,
			ProfitFactor:     finite(p.ProfitFactor),
			TotalTrades:      p.Trades,
			CalmarRatio:      finite(p.CalmarRatio),
		}
	}
	if report.Kelly != nil {
		params.Performance.KellyFraction = report.Kelly.Fraction
	}
	return params
}

// ExportOptimalParams exports optimal parameters to YAML file
func (e *ParamExporter) ExportOptimalParams(report *Report, goal OptimizationGoal) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	params := NewOptimalParams(report, goal)
	filename := fmt.Sprintf("optimal_params_%s_%s_%s.yaml",
		report.Pipeline, strings.Join(report.Symbols, "_"), time.Now().Format("20060102"))
	path := filepath.Join(e.outputDir, filename)

	data, err := yaml.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write parameters file: %w", err)
	}

	return path, nil
}

// ExportOptimizationResults exports all optimization results
func (e *ParamExporter) ExportOptimizationResults(
	pipeline string,
	symbols []string,
	results []*OptimizationResult,
	goal OptimizationGoal,
) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	export := struct {
		GeneratedAt      time.Time             `yaml:"generated_at"`
		OptimizationGoal string                `yaml:"optimization_goal"`
		Strategy         StrategyInfo          `yaml:"strategy"`
		TotalTests       int                   `yaml:"total_tests"`
		Results          []*OptimizationResult `yaml:"results"`
	}{
		GeneratedAt:      time.Now(),
		OptimizationGoal: string(goal),
		Strategy:         StrategyInfo{Pipeline: pipeline, Symbols: symbols},
		TotalTests:       len(results),
		Results:          results,
	}

	filename := fmt.Sprintf("optimization_results_%s_%s_%s.yaml",
		pipeline, strings.Join(symbols, "_"), time.Now().Format("20060102_150405"))
	path := filepath.Join(e.outputDir, filename)

	data, err := yaml.Marshal(export)
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write results file: %w", err)
	}

	return path, nil
}

// LoadOptimalParams loads optimal parameters from file
func LoadOptimalParams(path string) (*OptimalParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameters file: %w", err)
	}

	var params OptimalParams
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse parameters: %w", err)
	}

	return &params, nil
}

// Setter is a pipeline config that accepts parameter overrides by name.
type Setter interface {
	Set(name string, v float64) error
}

// ApplyTo overrides cfg with every exported parameter.
func (p *OptimalParams) ApplyTo(cfg Setter) error {
	for _, k := range sortedKeys(p.Parameters) {
		if err := cfg.Set(k, p.Parameters[k]); err != nil {
			return err
		}
	}
	return nil
}

// ArchiveOptimalParams archives the current optimal params
func (e *ParamExporter) ArchiveOptimalParams(currentFile, archiveDir string) (string, error) {
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	params, err := LoadOptimalParams(currentFile)
	if err != nil {
		return "", fmt.Errorf("failed to load current params: %w", err)
	}

	archiveFilename := fmt.Sprintf("optimal_params_%s_%s_%s_sharpe%.2f.yaml",
		params.Strategy.Pipeline,
		strings.Join(params.Strategy.Symbols, "_"),
		time.Now().Format("20060102"),
		params.Performance.SharpeRatio)
	archivePath := filepath.Join(archiveDir, archiveFilename)

	data, err := os.ReadFile(currentFile)
	if err != nil {
		return "", fmt.Errorf("failed to read current file: %w", err)
	}
	if err := os.WriteFile(archivePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}

	return archivePath, nil
}

// CompareParams compares two parameter sets
func CompareParams(baseline, current *OptimalParams) string {
	var b strings.Builder
	b.WriteString("Parameter Comparison\n")
	b.WriteString("===================\n\n")

	fmt.Fprintf(&b, "Pipeline: %s\n", current.Strategy.Pipeline)
	fmt.Fprintf(&b, "Symbols: %v\n\n", current.Strategy.Symbols)

	b.WriteString("Performance Metrics:\n")
	fmt.Fprintf(&b, "  Sharpe Ratio:      %.4f -> %.4f (%s)\n",
		baseline.Performance.SharpeRatio, current.Performance.SharpeRatio,
		relChange(baseline.Performance.SharpeRatio, current.Performance.SharpeRatio))
	fmt.Fprintf(&b, "  Total Return:      %.2f%% -> %.2f%%\n",
		baseline.Performance.TotalReturn*100, current.Performance.TotalReturn*100)
	fmt.Fprintf(&b, "  Max Drawdown:      %.4f -> %.4f\n",
		baseline.Performance.MaxDrawdown, current.Performance.MaxDrawdown)
	fmt.Fprintf(&b, "  Win Rate:          %.2f%% -> %.2f%%\n",
		baseline.Performance.WinRate*100, current.Performance.WinRate*100)
	fmt.Fprintf(&b, "  Kelly Fraction:    %.4f -> %.4f\n\n",
		baseline.Performance.KellyFraction, current.Performance.KellyFraction)

	b.WriteString("Parameter Changes:\n")
	for _, key := range sortedKeys(current.Parameters) {
		fmt.Fprintf(&b, "  %-20s: %v -> %v\n", key, baseline.Parameters[key], current.Parameters[key])
	}

	return b.String()
}

func relChange(from, to float64) string {
	if from == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", (to/from-1)*100)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

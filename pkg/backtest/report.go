package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/vicanso/go-charts/v2"
)

// OutputConfig contains output settings
type OutputConfig struct {
	ResultDir string `yaml:"result_dir"`
	Markdown  bool   `yaml:"markdown"`
	JSON      bool   `yaml:"json"`
	CSV       bool   `yaml:"csv"`
	Parquet   bool   `yaml:"parquet"`
	Chart     bool   `yaml:"chart"`
}

// DefaultOutputConfig writes markdown, JSON and CSV to ./backtest_results.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{ResultDir: "./backtest_results", Markdown: true, JSON: true, CSV: true}
}

// EquityRecord is the Parquet schema for one point of one equity curve.
type EquityRecord struct {
	Pipeline  string  `parquet:"pipeline"`
	Curve     string  `parquet:"curve"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Equity    float64 `parquet:"equity"`
	Return    float64 `parquet:"return"` // NaN where undefined
	Position  float64 `parquet:"position"`
}

// ReportGenerator generates backtest reports in various formats
type ReportGenerator struct {
	output OutputConfig
	report *Report
	log    zerolog.Logger
	stamp  string
}

// NewReportGenerator creates a new report generator. All files of one
// generator share a timestamp suffix.
func NewReportGenerator(output OutputConfig, report *Report, log zerolog.Logger) *ReportGenerator {
	if output.ResultDir == "" {
		output.ResultDir = DefaultOutputConfig().ResultDir
	}
	return &ReportGenerator{
		output: output,
		report: report,
		log:    log,
		stamp:  time.Now().Format("20060102_150405"),
	}
}

// GenerateAll writes every enabled format and returns the written paths.
func (g *ReportGenerator) GenerateAll() ([]string, error) {
	steps := []struct {
		enabled bool
		fn      func() (string, error)
	}{
		{g.output.Markdown, g.GenerateMarkdown},
		{g.output.JSON, g.GenerateJSON},
		{g.output.CSV, g.SaveEquityCSV},
		{g.output.Parquet, g.SaveEquityParquet},
		{g.output.Chart, g.GenerateChart},
	}

	var paths []string
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		path, err := s.fn()
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (g *ReportGenerator) path(kind, ext string) (string, error) {
	if err := os.MkdirAll(g.output.ResultDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(g.output.ResultDir, fmt.Sprintf("%s_%s_%s.%s", g.report.Pipeline, kind, g.stamp, ext)), nil
}

// GenerateMarkdown generates a markdown report
func (g *ReportGenerator) GenerateMarkdown() (string, error) {
	filename, err := g.path("report", "md")
	if err != nil {
		return "", err
	}

	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	WriteMarkdown(file, g.report)

	g.log.Info().Str("path", filename).Msg("markdown report saved")
	return filename, nil
}

// WriteMarkdown writes the markdown content
func WriteMarkdown(w io.Writer, r *Report) {
	fmt.Fprintf(w, "# 回测报告\n\n")
	fmt.Fprintf(w, "**流水线**: %s\n", r.Pipeline)
	fmt.Fprintf(w, "**交易品种**: %s\n", strings.Join(r.Symbols, ", "))
	primary := r.Primary()
	if primary != nil {
		p := primary.Performance
		fmt.Fprintf(w, "**日期**: %s 至 %s\n", p.StartTime.Format(time.DateOnly), p.EndTime.Format(time.DateOnly))
		fmt.Fprintf(w, "**初始资金**: %.2f\n", p.InitialEquity)
		fmt.Fprintf(w, "**最终资金**: %.2f (%s)\n\n", p.FinalEquity, primary.Name)
	}
	fmt.Fprintf(w, "---\n\n")

	// Performance Summary, one column per curve
	if len(r.Curves) > 0 {
		fmt.Fprintf(w, "## 绩效摘要\n\n")
		fmt.Fprintf(w, "| 指标 |")
		for _, c := range r.Curves {
			fmt.Fprintf(w, " %s |", c.Name)
		}
		fmt.Fprintf(w, "\n|------|%s\n", strings.Repeat("------|", len(r.Curves)))

		rows := []struct {
			label string
			value func(Performance) string
		}{
			{"**最终权益**", func(p Performance) string { return fmt.Sprintf("%.4f", p.FinalEquity) }},
			{"**总收益率**", func(p Performance) string { return pct(p.TotalReturn) }},
			{"**年化收益率**", func(p Performance) string { return pct(p.AnnualizedReturn) }},
			{"**Sharpe Ratio**", func(p Performance) string { return fmt.Sprintf("%.2f", p.SharpeRatio) }},
			{"**Sortino Ratio**", func(p Performance) string { return fmt.Sprintf("%.2f", p.SortinoRatio) }},
			{"**最大回撤**", func(p Performance) string { return pct(p.MaxDrawdown) }},
			{"**最大回撤持续期**", func(p Performance) string { return p.MaxDrawdownDuration.String() }},
			{"**Calmar Ratio**", func(p Performance) string { return fmt.Sprintf("%.2f", p.CalmarRatio) }},
			{"**胜率**", func(p Performance) string { return pct(p.WinRate) }},
			{"**盈利因子**", func(p Performance) string { return fmt.Sprintf("%.2f", p.ProfitFactor) }},
			{"**交易次数**", func(p Performance) string { return strconv.Itoa(p.Trades) }},
			{"**持仓占比**", func(p Performance) string { return pct(p.Exposure) }},
		}
		for _, row := range rows {
			fmt.Fprintf(w, "| %s |", row.label)
			for _, c := range r.Curves {
				fmt.Fprintf(w, " %s |", row.value(c.Performance))
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	if r.Spread != nil {
		fmt.Fprintf(w, "## 价差分析\n\n")
		fmt.Fprintf(w, "- **对冲比率**: %.4f\n", r.Spread.HedgeRatio)
		fmt.Fprintf(w, "- **相关系数**: %.4f\n", r.Spread.Correlation)
		fmt.Fprintf(w, "- **价差均值/标准差**: %.4f / %.4f\n", r.Spread.Mean, r.Spread.Std)
		fmt.Fprintf(w, "- **当前价差 / Z-Score**: %.4f / %.2f\n\n", r.Spread.CurrentSpread, r.Spread.ZScore)
	}

	if r.OU != nil {
		fmt.Fprintf(w, "## OU 参数\n\n")
		fmt.Fprintf(w, "| mu | theta | sigma | 半衰期 | 样本数 |\n")
		fmt.Fprintf(w, "|----|-------|-------|--------|--------|\n")
		fmt.Fprintf(w, "| %.4f | %.4f | %.4f | %.2f | %d |\n\n",
			r.OU.Mu, r.OU.Theta, r.OU.Sigma, r.OU.HalfLife(), r.OU.N)
	}

	if r.Kelly != nil {
		k := r.Kelly
		fmt.Fprintf(w, "## Kelly 仓位\n\n")
		fmt.Fprintf(w, "- **胜率 p**: %.4f (%d 胜 / %d 负)\n", k.WinRate, k.Wins, k.Losses)
		fmt.Fprintf(w, "- **盈亏比 b**: %.4f\n", k.PayoffRatio)
		fmt.Fprintf(w, "- **Kelly / 半 Kelly**: %.4f / %.4f\n", k.Full, k.Half)
		fmt.Fprintf(w, "- **实际仓位**: %.4f\n\n", k.Fraction)
	}

	if r.Cash != nil {
		c := r.Cash
		fmt.Fprintf(w, "## 全仓现金模拟\n\n")
		fmt.Fprintf(w, "- **策略最终价值**: %.2f\n", c.Final)
		fmt.Fprintf(w, "- **买入持有最终价值**: %.2f\n", c.FinalBuyHold)
		fmt.Fprintf(w, "- **买入/卖出次数**: %d / %d\n\n", len(c.Buys), len(c.Sells))

		fills := make([]sidedFill, 0, len(c.Buys)+len(c.Sells))
		for _, f := range c.Buys {
			fills = append(fills, sidedFill{"买入", f})
		}
		for _, f := range c.Sells {
			fills = append(fills, sidedFill{"卖出", f})
		}
		sort.SliceStable(fills, func(i, j int) bool { return fills[i].Time.Before(fills[j].Time) })

		if len(fills) > 0 {
			limit := min(10, len(fills))
			fmt.Fprintf(w, "| 日期 | 方向 | 价格 | 数量 |\n")
			fmt.Fprintf(w, "|------|------|------|------|\n")
			for _, f := range fills[:limit] {
				fmt.Fprintf(w, "| %s | %s | %.2f | %.4f |\n", f.Time.Format(time.DateOnly), f.side, f.Price, f.Units)
			}
			fmt.Fprintf(w, "\n")
			if len(fills) > limit {
				fmt.Fprintf(w, "*...共 %d 笔成交，仅显示前 %d 笔*\n\n", len(fills), limit)
			}
		}
	}

	// Risk Analysis
	if primary != nil {
		p := primary.Performance
		fmt.Fprintf(w, "## 风险分析 (%s)\n\n", primary.Name)
		fmt.Fprintf(w, "- **Sharpe Ratio**: %.2f %s\n", p.SharpeRatio, evaluateSharpe(p.SharpeRatio))
		fmt.Fprintf(w, "- **Sortino Ratio**: %.2f %s\n", p.SortinoRatio, evaluateSortino(p.SortinoRatio))
		fmt.Fprintf(w, "- **最大回撤**: %.2f%% %s\n", p.MaxDrawdown*100, evaluateDrawdown(p.MaxDrawdown))
		fmt.Fprintf(w, "- **单期波动率**: %.2f%%\n", p.Volatility*100)
		fmt.Fprintf(w, "- **盈利因子**: %.2f %s\n\n", p.ProfitFactor, evaluateProfitFactor(p.ProfitFactor))
	}

	// Configuration
	if len(r.Parameters) > 0 {
		fmt.Fprintf(w, "## 配置信息\n\n")
		keys := make([]string, 0, len(r.Parameters))
		for k := range r.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "- **%s**: %g\n", k, r.Parameters[k])
		}
		fmt.Fprintln(w)
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(w, "## 警告\n\n")
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "- %s\n", warning)
		}
		fmt.Fprintln(w)
	}

	// Footer
	fmt.Fprintf(w, "---\n\n")
	fmt.Fprintf(w, "**报告生成时间**: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "**回测耗时**: %v\n", r.Duration)
}

type sidedFill struct {
	side string
	Fill
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// GenerateJSON generates a JSON report. Non-finite numbers are written as 0.
func (g *ReportGenerator) GenerateJSON() (string, error) {
	filename, err := g.path("result", "json")
	if err != nil {
		return "", err
	}

	data, err := MarshalReport(g.report)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write JSON file: %w", err)
	}

	g.log.Info().Str("path", filename).Msg("JSON result saved")
	return filename, nil
}

// MarshalReport encodes the report as indented JSON with non-finite numbers as 0.
func MarshalReport(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r.sanitized(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}

// sanitized copies the JSON-visible part of the report with NaN/Inf replaced by 0.
func (r *Report) sanitized() *Report {
	out := *r
	out.Hedge = nil
	if r.Spread != nil {
		s := *r.Spread
		out.Spread = &s
	}
	if r.OU != nil {
		p := *r.OU
		out.OU = &p
	}
	if r.Kelly != nil {
		k := *r.Kelly
		out.Kelly = &k
	}
	if r.Cash != nil {
		c := *r.Cash
		c.Buys = append([]Fill(nil), r.Cash.Buys...)
		c.Sells = append([]Fill(nil), r.Cash.Sells...)
		out.Cash = &c
	}
	out.Curves = append([]Curve(nil), r.Curves...)
	out.Parameters = make(map[string]float64, len(r.Parameters))
	for k, v := range r.Parameters {
		out.Parameters[k] = finite(v)
	}

	zeroNonFinite(reflect.ValueOf(&out).Elem())
	return &out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// zeroNonFinite walks exported, JSON-visible fields.
func zeroNonFinite(v reflect.Value) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		if v.CanSet() {
			v.SetFloat(finite(v.Float()))
		}
	case reflect.Pointer:
		if !v.IsNil() {
			zeroNonFinite(v.Elem())
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			zeroNonFinite(v.Index(i))
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			zeroNonFinite(v.Field(i))
		}
	}
}

// SaveEquityCSV saves every curve's equity, one column per curve
func (g *ReportGenerator) SaveEquityCSV() (string, error) {
	filename, err := g.path("equity", "csv")
	if err != nil {
		return "", err
	}

	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create equity file: %w", err)
	}
	defer file.Close()

	if err := WriteEquityCSV(file, g.report); err != nil {
		return "", err
	}

	g.log.Info().Str("path", filename).Msg("equity curves saved")
	return filename, nil
}

// WriteEquityCSV writes Date plus one equity column per curve.
func WriteEquityCSV(w io.Writer, r *Report) error {
	writer := csv.NewWriter(w)

	header := []string{"Date"}
	for _, c := range r.Curves {
		header = append(header, c.Name)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	if len(r.Curves) > 0 {
		eq := r.Curves[0].Result.Equity
		for i := 0; i < eq.Len(); i++ {
			row := []string{eq.Time(i).Format(time.DateOnly)}
			for _, c := range r.Curves {
				row = append(row, strconv.FormatFloat(c.Result.Equity.Value(i), 'f', 6, 64))
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// EquityRecords flattens the curves into Parquet rows.
func EquityRecords(r *Report) []EquityRecord {
	var records []EquityRecord
	for _, c := range r.Curves {
		res := c.Result
		for i := 0; i < res.Equity.Len(); i++ {
			records = append(records, EquityRecord{
				Pipeline:  r.Pipeline,
				Curve:     c.Name,
				Timestamp: res.Equity.Time(i).UnixMilli(),
				Equity:    res.Equity.Value(i),
				Return:    res.Returns.Value(i),
				Position:  res.Positions.Value(i),
			})
		}
	}
	return records
}

// SaveEquityParquet saves every curve in long format to a Parquet file
func (g *ReportGenerator) SaveEquityParquet() (string, error) {
	filename, err := g.path("equity", "parquet")
	if err != nil {
		return "", err
	}
	if err := parquet.WriteFile(filename, EquityRecords(g.report)); err != nil {
		return "", fmt.Errorf("failed to write parquet file: %w", err)
	}

	g.log.Info().Str("path", filename).Msg("equity parquet saved")
	return filename, nil
}

// GenerateChart renders the equity curves as a PNG line chart
func (g *ReportGenerator) GenerateChart() (string, error) {
	filename, err := g.path("equity", "png")
	if err != nil {
		return "", err
	}

	img, err := RenderEquityChart(g.report)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filename, img, 0644); err != nil {
		return "", fmt.Errorf("failed to write chart: %w", err)
	}

	g.log.Info().Str("path", filename).Msg("equity chart saved")
	return filename, nil
}

// RenderEquityChart draws every curve against the shared date axis.
func RenderEquityChart(r *Report) ([]byte, error) {
	if len(r.Curves) == 0 {
		return nil, fmt.Errorf("no curves to chart")
	}

	eq := r.Curves[0].Result.Equity
	labels := make([]string, eq.Len())
	for i := range labels {
		labels[i] = eq.Time(i).Format(time.DateOnly)
	}

	names := make([]string, len(r.Curves))
	values := make([][]float64, len(r.Curves))
	for i, c := range r.Curves {
		names[i] = c.Name
		values[i] = c.Result.Equity.FillNaN(c.Result.Initial).Values()
	}

	seriesList := charts.NewSeriesListDataFromValues(values, charts.ChartTypeLine)
	for i := range seriesList {
		seriesList[i].Name = names[i]
	}

	painter, err := charts.Render(charts.ChartOption{SeriesList: seriesList},
		charts.TitleTextOptionFunc(strings.ToUpper(r.Pipeline)+" • "+strings.Join(r.Symbols, "/"), "equity"),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels, BoundaryGap: charts.FalseFlag(), SplitNumber: 10}),
		charts.LegendOptionFunc(charts.LegendOption{Data: names}),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return painter.Bytes()
}

// Helper functions for evaluation

func evaluateSharpe(sharpe float64) string {
	if sharpe > 2.0 {
		return "(优秀)"
	} else if sharpe > 1.0 {
		return "(良好)"
	} else if sharpe > 0.5 {
		return "(一般)"
	}
	return "(较差)"
}

func evaluateSortino(sortino float64) string {
	if sortino > 2.0 {
		return "(优秀)"
	} else if sortino > 1.0 {
		return "(良好)"
	} else if sortino > 0.5 {
		return "(一般)"
	}
	return "(较差)"
}

func evaluateDrawdown(dd float64) string {
	if dd < 0.05 {
		return "(优秀)"
	} else if dd < 0.10 {
		return "(良好)"
	} else if dd < 0.20 {
		return "(可接受)"
	}
	return "(风险较高)"
}

func evaluateProfitFactor(pf float64) string {
	if pf > 2.0 {
		return "(优秀)"
	} else if pf > 1.5 {
		return "(良好)"
	} else if pf > 1.0 {
		return "(盈利)"
	}
	return "(亏损)"
}

// Package marketdata loads daily price bars from local files or the Alpaca API.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// Bar 日线 OHLCV
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Provider returns the bars of one symbol inside [start, end]. Zero bounds are open.
type Provider interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// Source names
const (
	SourceCSV     = "csv"
	SourceParquet = "parquet"
	SourceAlpaca  = "alpaca"
)

// Config 数据源配置
type Config struct {
	Source  string       `yaml:"source"`
	Dir     string       `yaml:"dir"`
	Symbols []string     `yaml:"symbols"`
	Start   string       `yaml:"start"` // 2006-01-02, 为空表示不限
	End     string       `yaml:"end"`
	Alpaca  AlpacaConfig `yaml:"alpaca"`
}

// ApplyDefaults defaults to CSV files under ./data.
func (c *Config) ApplyDefaults() {
	if c.Source == "" {
		c.Source = SourceCSV
	}
	if c.Dir == "" {
		c.Dir = "./data"
	}
	c.Alpaca.ApplyDefaults()
}

// Validate checks the source name and date bounds.
func (c Config) Validate() error {
	switch c.Source {
	case SourceCSV, SourceParquet, SourceAlpaca:
	default:
		return fmt.Errorf("%w: unknown data source %q (must be csv, parquet or alpaca)", stats.ErrInvalidParameter, c.Source)
	}
	start, end, err := c.Range()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("%w: end %s before start %s", stats.ErrInvalidParameter, c.End, c.Start)
	}
	return nil
}

// Range parses Start and End.
func (c Config) Range() (start, end time.Time, err error) {
	if c.Start != "" {
		if start, err = time.Parse(time.DateOnly, c.Start); err != nil {
			return start, end, fmt.Errorf("%w: invalid start date: %v", stats.ErrInvalidParameter, err)
		}
	}
	if c.End != "" {
		if end, err = time.Parse(time.DateOnly, c.End); err != nil {
			return start, end, fmt.Errorf("%w: invalid end date: %v", stats.ErrInvalidParameter, err)
		}
		// 包含结束当天
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}

// New builds the configured provider.
func New(cfg Config, log zerolog.Logger) (Provider, error) {
	switch cfg.Source {
	case SourceCSV:
		return NewCSVProvider(cfg.Dir), nil
	case SourceParquet:
		return NewParquetProvider(cfg.Dir), nil
	case SourceAlpaca:
		return NewAlpacaProvider(cfg.Alpaca, log)
	default:
		return nil, fmt.Errorf("%w: unknown data source %q", stats.ErrInvalidParameter, cfg.Source)
	}
}

// Closes turns bars into a close-price series named after the symbol.
// Bars are sorted by time; a repeated timestamp keeps the later bar.
func Closes(symbol string, bars []Bar) (*stats.Series, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w: no bars", symbol, stats.ErrInsufficientData)
	}
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	ts := make([]time.Time, 0, len(sorted))
	values := make([]float64, 0, len(sorted))
	for _, b := range sorted {
		if n := len(ts); n > 0 && ts[n-1].Equal(b.Time) {
			values[n-1] = b.Close
			continue
		}
		ts = append(ts, b.Time)
		values = append(values, b.Close)
	}
	return stats.NewSeries(symbol, ts, values)
}

// LoadCloses fetches every symbol concurrently and returns the close series in symbol order.
func LoadCloses(ctx context.Context, p Provider, symbols []string, start, end time.Time) ([]*stats.Series, error) {
	out := make([]*stats.Series, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range symbols {
		g.Go(func() error {
			bars, err := p.Bars(gctx, sym, start, end)
			if err != nil {
				return fmt.Errorf("load %s: %w", sym, err)
			}
			s, err := Closes(sym, bars)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

package marketdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
)

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ParquetProvider reads <Dir>/<SYMBOL>.parquet files of BarRecord rows.
type ParquetProvider struct {
	Dir string
}

// NewParquetProvider creates a Parquet provider rooted at dir.
func NewParquetProvider(dir string) *ParquetProvider {
	return &ParquetProvider{Dir: dir}
}

// Path returns the file read for symbol.
func (p *ParquetProvider) Path(symbol string) string {
	return filepath.Join(p.Dir, normalizeSymbol(symbol)+".parquet")
}

// Bars implements Provider.
func (p *ParquetProvider) Bars(_ context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	records, err := parquet.ReadFile[BarRecord](p.Path(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.Path(symbol), err)
	}
	bars := make([]Bar, 0, len(records))
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).UTC()
		if !inRange(ts, start, end) {
			continue
		}
		bars = append(bars, Bar{Time: ts, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume})
	}
	return bars, nil
}

// WriteBars replaces the file for symbol with bars sorted by time.
func (p *ParquetProvider) WriteBars(symbol string, bars []Bar) error {
	records := make([]BarRecord, 0, len(bars))
	sym := normalizeSymbol(symbol)
	for _, b := range bars {
		records = append(records, BarRecord{
			Symbol:    sym,
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	path := p.Path(symbol)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing bars for %s: %w", sym, err)
	}
	return nil
}

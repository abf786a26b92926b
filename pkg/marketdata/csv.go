package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
	"20060102",
	"01/02/2006",
}

// CSVProvider reads <Dir>/<SYMBOL>.csv files with a header row.
//
// Recognised columns (case-insensitive): date|timestamp|time, open, high, low,
// close, adj close|adj_close, volume. Adjusted close wins over close when both exist.
type CSVProvider struct {
	Dir string
}

// NewCSVProvider creates a CSV provider rooted at dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir}
}

// Path returns the file read for symbol.
func (p *CSVProvider) Path(symbol string) string {
	return filepath.Join(p.Dir, normalizeSymbol(symbol)+".csv")
}

// Bars implements Provider.
func (p *CSVProvider) Bars(_ context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	f, err := os.Open(p.Path(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, start, end)
}

// ReadCSV parses bars from r, keeping those inside [start, end].
func ReadCSV(r io.Reader, start, end time.Time) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	dateCol := firstCol(cols, "date", "timestamp", "time", "datetime")
	closeCol := firstCol(cols, "adj close", "adj_close", "adjclose", "close")
	if dateCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("invalid CSV format: need date and close columns, got %v", header)
	}
	openCol := firstCol(cols, "open")
	highCol := firstCol(cols, "high")
	lowCol := firstCol(cols, "low")
	volCol := firstCol(cols, "volume")

	var bars []Bar
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		ts, err := parseTime(record[dateCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if !inRange(ts, start, end) {
			continue
		}
		closePx, err := parseFloat(record[closeCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid close: %w", line, err)
		}
		bar := Bar{Time: ts, Close: closePx}
		bar.Open = optionalFloat(record, openCol)
		bar.High = optionalFloat(record, highCol)
		bar.Low = optionalFloat(record, lowCol)
		bar.Volume = optionalFloat(record, volCol)
		bars = append(bars, bar)
	}
	return bars, nil
}

// WriteCSV writes bars in the layout ReadCSV reads back.
func WriteCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Open", "High", "Low", "Close", "Volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Time.Format(time.DateOnly),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func firstCol(cols map[string]int, names ...string) int {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i
		}
	}
	return -1
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// parseFloat treats an empty cell as missing (NaN).
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func optionalFloat(record []string, col int) float64 {
	if col < 0 || col >= len(record) {
		return math.NaN()
	}
	v, err := parseFloat(record[col])
	if err != nil {
		return math.NaN()
	}
	return v
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

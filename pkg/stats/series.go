package stats

import (
	"fmt"
	"math"
	"time"
)

// Series is an ordered, timestamp-indexed sequence of values.
//
// Timestamps are strictly increasing. A missing value is NaN. Every
// transform returns a new Series; a Series is never mutated after
// construction.
type Series struct {
	name       string
	timestamps []time.Time
	values     []float64
}

// NewSeries 创建新的时间序列（复制输入）
func NewSeries(name string, timestamps []time.Time, values []float64) (*Series, error) {
	if len(timestamps) != len(values) {
		return nil, fmt.Errorf("%w: %d timestamps, %d values", ErrLengthMismatch, len(timestamps), len(values))
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return nil, fmt.Errorf("%w: timestamps not strictly increasing at index %d", ErrInvalidParameter, i)
		}
	}

	ts := make([]time.Time, len(timestamps))
	copy(ts, timestamps)
	vals := make([]float64, len(values))
	copy(vals, values)

	return &Series{name: name, timestamps: ts, values: vals}, nil
}

// FromValues builds a series with evenly spaced timestamps starting at start.
// A non-positive step defaults to one day.
func FromValues(name string, start time.Time, step time.Duration, values []float64) *Series {
	if step <= 0 {
		step = 24 * time.Hour
	}
	ts := make([]time.Time, len(values))
	for i := range values {
		ts[i] = start.Add(time.Duration(i) * step)
	}
	vals := make([]float64, len(values))
	copy(vals, values)
	return &Series{name: name, timestamps: ts, values: vals}
}

// derive builds a series sharing this series' index. The index slice is never
// written to, so sharing it is safe.
func (s *Series) derive(name string, values []float64) *Series {
	return &Series{name: name, timestamps: s.timestamps, values: values}
}

// WithValues builds a series on this series' index from a copy of values.
func (s *Series) WithValues(name string, values []float64) (*Series, error) {
	if len(values) != len(s.values) {
		return nil, fmt.Errorf("%w: index has %d points, %d values given", ErrLengthMismatch, len(s.values), len(values))
	}
	out := make([]float64, len(values))
	copy(out, values)
	return s.derive(name, out), nil
}

// Name 返回序列名称
func (s *Series) Name() string { return s.name }

// Len 返回数据点数量
func (s *Series) Len() int { return len(s.values) }

// Value returns the i-th value.
func (s *Series) Value(i int) float64 { return s.values[i] }

// Time returns the i-th timestamp.
func (s *Series) Time(i int) time.Time { return s.timestamps[i] }

// Values 返回数据副本
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// Timestamps 返回时间戳副本
func (s *Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s.timestamps))
	copy(out, s.timestamps)
	return out
}

// Last 获取最新的数据点
func (s *Series) Last() (float64, bool) {
	if len(s.values) == 0 {
		return 0, false
	}
	return s.values[len(s.values)-1], true
}

// WithName returns a copy of the series under a new name.
func (s *Series) WithName(name string) *Series {
	return s.derive(name, s.Values())
}

// Map applies fn to every value. NaN inputs are passed through to fn.
func (s *Series) Map(name string, fn func(float64) float64) *Series {
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		out[i] = fn(v)
	}
	return s.derive(name, out)
}

// Diff returns s[t] - s[t-1]; the first value is NaN.
func (s *Series) Diff() *Series {
	out := make([]float64, len(s.values))
	for i := range s.values {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = s.values[i] - s.values[i-1]
	}
	return s.derive(s.name+"_diff", out)
}

// Shift lags the series by n periods (s[t-n]); the first n values are NaN.
// A negative n leads the series and fills the tail with NaN.
func (s *Series) Shift(n int) *Series {
	out := make([]float64, len(s.values))
	for i := range out {
		j := i - n
		if j < 0 || j >= len(s.values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = s.values[j]
	}
	return s.derive(s.name, out)
}

// PctChange returns s[t]/s[t-1] - 1; the first value is NaN, as is any value
// whose previous observation is zero or missing.
func (s *Series) PctChange() *Series {
	out := make([]float64, len(s.values))
	for i := range s.values {
		if i == 0 || s.values[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = s.values[i]/s.values[i-1] - 1
	}
	return s.derive(s.name+"_pct", out)
}

// RollingMean 滚动窗口均值; NaN until the window is full or when the window holds a NaN.
func (s *Series) RollingMean(window int) *Series {
	return s.rolling(window, func(w []float64) float64 { return Mean(w) }, "_mean")
}

// RollingStd 滚动窗口标准差 with the given ddof; NaN during warm-up.
func (s *Series) RollingStd(window, ddof int) *Series {
	return s.rolling(window, func(w []float64) float64 {
		return math.Sqrt(VarianceDDoF(w, ddof))
	}, "_std")
}

func (s *Series) rolling(window int, fn func([]float64) float64, suffix string) *Series {
	out := make([]float64, len(s.values))
	for i := range out {
		if window <= 0 || i+1 < window {
			out[i] = math.NaN()
			continue
		}
		w := s.values[i+1-window : i+1]
		if hasNaN(w) {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(w)
	}
	return s.derive(s.name+suffix, out)
}

// DropNaN returns the series without its missing values.
func (s *Series) DropNaN() *Series {
	ts := make([]time.Time, 0, len(s.values))
	vals := make([]float64, 0, len(s.values))
	for i, v := range s.values {
		if math.IsNaN(v) {
			continue
		}
		ts = append(ts, s.timestamps[i])
		vals = append(vals, v)
	}
	return &Series{name: s.name, timestamps: ts, values: vals}
}

// FillNaN replaces missing values with v.
func (s *Series) FillNaN(v float64) *Series {
	return s.Map(s.name, func(x float64) float64 {
		if math.IsNaN(x) {
			return v
		}
		return x
	})
}

// CountValid returns the number of non-NaN values.
func (s *Series) CountValid() int {
	n := 0
	for _, v := range s.values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// HasNaN reports whether any value is missing.
func (s *Series) HasNaN() bool {
	return hasNaN(s.values)
}

func hasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// SameIndex reports whether a and b carry identical timestamps.
func SameIndex(a, b *Series) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.timestamps {
		if !a.timestamps[i].Equal(b.timestamps[i]) {
			return false
		}
	}
	return true
}

// CheckAligned returns ErrAlignment unless every series shares the first one's index.
func CheckAligned(series ...*Series) error {
	for i := 1; i < len(series); i++ {
		if !SameIndex(series[0], series[i]) {
			return fmt.Errorf("%w: %q (%d points) vs %q (%d points)",
				ErrAlignment, series[0].name, series[0].Len(), series[i].name, series[i].Len())
		}
	}
	return nil
}

// Align is the explicit inner join: it keeps only timestamps present in both series.
func Align(a, b *Series) (*Series, *Series) {
	ts := make([]time.Time, 0, min(a.Len(), b.Len()))
	av := make([]float64, 0, cap(ts))
	bv := make([]float64, 0, cap(ts))

	i, j := 0, 0
	for i < a.Len() && j < b.Len() {
		ta, tb := a.timestamps[i], b.timestamps[j]
		switch {
		case ta.Equal(tb):
			ts = append(ts, ta)
			av = append(av, a.values[i])
			bv = append(bv, b.values[j])
			i++
			j++
		case ta.Before(tb):
			i++
		default:
			j++
		}
	}

	return &Series{name: a.name, timestamps: ts, values: av},
		&Series{name: b.name, timestamps: ts, values: bv}
}

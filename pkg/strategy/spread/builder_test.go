package spread

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

var start = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// pair returns A = 2*B + 5 + small wiggle, with B a gentle saw-tooth.
func pair(n int) (*stats.Series, *stats.Series) {
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		b[i] = 50 + float64(i%7) + 0.1*float64(i)
		a[i] = 2*b[i] + 5 + 0.3*math.Sin(float64(i))
	}
	return stats.FromValues("KO", start, 0, a), stats.FromValues("PEP", start, 0, b)
}

func TestBuild_OLS(t *testing.T) {
	a, b := pair(60)

	res, err := Build(a, b, DefaultConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !almostEqual(res.HedgeRatio, 2.0, 0.05) {
		t.Errorf("HedgeRatio = %v, want ~2.0", res.HedgeRatio)
	}
	if res.Spread.Len() != a.Len() {
		t.Errorf("Spread.Len() = %d, want %d", res.Spread.Len(), a.Len())
	}
	if !stats.SameIndex(res.Spread, a) {
		t.Error("spread index differs from input index")
	}

	// intercept excluded: spread = A - h*B
	for i := 0; i < a.Len(); i++ {
		want := a.Value(i) - res.HedgeRatio*b.Value(i)
		if !almostEqual(res.Spread.Value(i), want, 1e-9) {
			t.Fatalf("Spread[%d] = %v, want %v", i, res.Spread.Value(i), want)
		}
	}
}

func TestBuild_IncludeIntercept(t *testing.T) {
	a, b := pair(60)

	res, err := Build(a, b, Config{Type: SpreadTypeOLS, IncludeIntercept: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// OLS residuals have zero mean
	if m := stats.Mean(res.Spread.Values()); !almostEqual(m, 0, 1e-9) {
		t.Errorf("mean of residual spread = %v, want 0", m)
	}
}

func TestBuild_ScaleInvariance(t *testing.T) {
	a, b := pair(80)

	base, err := Build(a, b, DefaultConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for _, k := range []float64{10, 1e-8} {
		scaled, err := Build(a, b.Map("PEP", func(v float64) float64 { return v * k }), DefaultConfig())
		if err != nil {
			t.Fatalf("Build() scale %g error = %v", k, err)
		}

		want := base.HedgeRatio / k
		if !almostEqual(scaled.HedgeRatio, want, 1e-9*math.Abs(want)) {
			t.Errorf("scale %g: HedgeRatio = %v, want %v", k, scaled.HedgeRatio, want)
		}
		for i := 0; i < a.Len(); i++ {
			if !almostEqual(scaled.Spread.Value(i), base.Spread.Value(i), 1e-8) {
				t.Fatalf("scale %g: Spread[%d] = %v, want %v", k, i, scaled.Spread.Value(i), base.Spread.Value(i))
			}
		}
	}
}

func TestBuild_Normalized(t *testing.T) {
	a := stats.FromValues("KO", start, 0, []float64{50, 55, 45})
	b := stats.FromValues("PEP", start, 0, []float64{100, 100, 110})

	res, err := Build(a, b, Config{Type: SpreadTypeNormalized})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []float64{0, 0.1, -0.2}
	for i, w := range want {
		if !almostEqual(res.Spread.Value(i), w, 1e-12) {
			t.Errorf("Spread[%d] = %v, want %v", i, res.Spread.Value(i), w)
		}
	}
	if res.HedgeRatio != 1 {
		t.Errorf("HedgeRatio = %v, want 1", res.HedgeRatio)
	}
}

func TestBuild_Log(t *testing.T) {
	b := stats.FromValues("PEP", start, 0, []float64{10, 20, 40, 80})
	a := b.Map("KO", func(v float64) float64 { return 3 * v * v })

	res, err := Build(a, b, Config{Type: SpreadTypeLog})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// log A = log 3 + 2 log B
	if !almostEqual(res.HedgeRatio, 2, 1e-9) {
		t.Errorf("HedgeRatio = %v, want 2", res.HedgeRatio)
	}
	for i := 0; i < res.Spread.Len(); i++ {
		if !almostEqual(res.Spread.Value(i), math.Log(3), 1e-9) {
			t.Errorf("Spread[%d] = %v, want log(3)", i, res.Spread.Value(i))
		}
	}

	bad := stats.FromValues("PEP", start, 0, []float64{10, 0, 40, 80})
	if _, err := Build(a, bad, Config{Type: SpreadTypeLog}); !errors.Is(err, stats.ErrInvalidParameter) {
		t.Errorf("Build() with zero price error = %v, want ErrInvalidParameter", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	one := stats.FromValues("a", start, 0, []float64{1})
	flat := stats.FromValues("b", start, 0, []float64{3, 3, 3})
	ok := stats.FromValues("a", start, 0, []float64{1, 2, 3})
	shifted := stats.FromValues("b", start.AddDate(0, 0, 1), 0, []float64{1, 2, 3})

	tests := []struct {
		name    string
		a, b    *stats.Series
		cfg     Config
		wantErr error
	}{
		{"Too short", one, one, DefaultConfig(), stats.ErrInsufficientData},
		{"Flat regressor", ok, flat, DefaultConfig(), stats.ErrDegenerateFit},
		{"Misaligned", ok, shifted, DefaultConfig(), stats.ErrAlignment},
		{"Aligned join too short", ok, stats.FromValues("b", start.AddDate(0, 0, 4), 0, []float64{1, 2}), Config{Type: SpreadTypeOLS, Align: true}, stats.ErrInsufficientData},
		{"Unknown type", ok, ok, Config{Type: "ratio"}, stats.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.a, tt.b, tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuild_AlignJoin(t *testing.T) {
	a := stats.FromValues("a", start, 0, []float64{1, 2, 4, 3, 5})
	b := stats.FromValues("b", start.AddDate(0, 0, 1), 0, []float64{2, 4, 3, 5, 9})

	res, err := Build(a, b, Config{Type: SpreadTypeOLS, Align: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Spread.Len() != 4 {
		t.Errorf("Spread.Len() = %d, want 4", res.Spread.Len())
	}
}

func TestSummarize(t *testing.T) {
	a, b := pair(60)
	res, err := Build(a, b, DefaultConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	s := Summarize(a, b, res)
	if s.Observations != 60 {
		t.Errorf("Observations = %d, want 60", s.Observations)
	}
	if s.Correlation < 0.99 {
		t.Errorf("Correlation = %v, want > 0.99", s.Correlation)
	}
	if !almostEqual(s.Mean, stats.Mean(res.Spread.Values()), 1e-12) {
		t.Errorf("Mean = %v", s.Mean)
	}
	last, _ := res.Spread.Last()
	if s.CurrentSpread != last {
		t.Errorf("CurrentSpread = %v, want %v", s.CurrentSpread, last)
	}
}

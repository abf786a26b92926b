package backtest

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"

	"github.com/homebox25/Quant-Tutorials/pkg/indicators"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// cointegrated returns B as a random walk and A = 2·B + OU noise.
func cointegrated(n int, seed uint64) (*stats.Series, *stats.Series) {
	r := rand.New(rand.NewPCG(seed, seed+1))
	a := make([]float64, n)
	b := make([]float64, n)
	level, noise := 50.0, 0.0
	for i := 0; i < n; i++ {
		level += r.NormFloat64()
		noise += 0.3*(0-noise) + 0.5*r.NormFloat64()
		b[i] = level
		a[i] = 2*level + noise
	}
	return stats.FromValues("KO", start, 0, a), stats.FromValues("PEP", start, 0, b)
}

// wave is an AR(1) price reverting around 100.
func wave(n int, seed uint64) *stats.Series {
	r := rand.New(rand.NewPCG(seed, seed+1))
	v := make([]float64, n)
	x := 0.0
	for i := range v {
		x = 0.5*x + r.NormFloat64()
		v[i] = 100 + x
	}
	return stats.FromValues("SPY", start, 0, v)
}

func curveNames(r *Report) []string {
	names := make([]string, len(r.Curves))
	for i, c := range r.Curves {
		names[i] = c.Name
	}
	return names
}

func TestRunPairs(t *testing.T) {
	a, b := cointegrated(500, 7)

	report, err := RunPairs(a, b, DefaultPairsConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("RunPairs() error = %v", err)
	}

	if !almostEqual(report.Hedge.HedgeRatio, 2, 0.2) {
		t.Errorf("HedgeRatio = %v, want ~2", report.Hedge.HedgeRatio)
	}
	if !report.OU.MeanReverting() {
		t.Errorf("OU theta = %v, want > 0", report.OU.Theta)
	}
	if got := curveNames(report); len(got) != 3 || got[0] != CurveFixed || got[1] != CurveKelly || got[2] != CurveBuyHold {
		t.Errorf("curves = %v, want [fixed kelly buy_and_hold]", got)
	}
	if report.Kelly.Fraction < 0 || report.Kelly.Fraction > 1 {
		t.Errorf("Kelly.Fraction = %v, want within [0, 1]", report.Kelly.Fraction)
	}

	// the sized curve is the fixed curve scaled by the Kelly fraction
	fixed, kelly := report.Curve(CurveFixed).Result, report.Curve(CurveKelly).Result
	for i := 0; i < fixed.Returns.Len(); i++ {
		f, k := fixed.Returns.Value(i), kelly.Returns.Value(i)
		if math.IsNaN(f) {
			if !math.IsNaN(k) {
				t.Fatalf("Returns[%d]: fixed undefined, kelly = %v", i, k)
			}
			continue
		}
		if !almostEqual(k, f*report.Kelly.Fraction, 1e-12) {
			t.Fatalf("kelly Returns[%d] = %v, want %v", i, k, f*report.Kelly.Fraction)
		}
	}
}

func TestRunPairs_StageErrors(t *testing.T) {
	a, b := cointegrated(12, 3)
	badSignal := DefaultPairsConfig()
	badSignal.Signal.ExitThreshold = 3

	tests := []struct {
		name      string
		a, b      *stats.Series
		cfg       PairsConfig
		wantStage string
		wantErr   error
	}{
		{"Too short for OU", a, b, DefaultPairsConfig(), StageOU, stats.ErrInsufficientData},
		{"Misaligned", a, stats.FromValues("PEP", start.AddDate(0, 0, 1), 0, b.Values()), DefaultPairsConfig(), StageSpread, stats.ErrAlignment},
		{"Exit above entry", a, b, badSignal, StageConfig, stats.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RunPairs(tt.a, tt.b, tt.cfg, zerolog.Nop())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RunPairs() error = %v, want %v", err, tt.wantErr)
			}
			var stageErr *StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != tt.wantStage {
				t.Errorf("RunPairs() error = %v, want stage %q", err, tt.wantStage)
			}
		})
	}
}

func TestRunBands(t *testing.T) {
	prices := wave(300, 11)

	report, err := RunBands(prices, DefaultBandsConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("RunBands() error = %v", err)
	}

	want := []string{CurveFixed, CurveKelly, CurveVolAdj, CurveBuyHold}
	got := curveNames(report)
	if len(got) != len(want) {
		t.Fatalf("curves = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("curves[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if report.Cash == nil {
		t.Fatal("Cash = nil, want the all-in cash walk")
	}
	if len(report.Cash.Buys) == 0 {
		t.Error("cash walk never bought on a mean-reverting series")
	}
	if report.Curve(CurveFixed).Performance.Trades == 0 {
		t.Error("band signal produced no trades")
	}
}

func TestRunBands_NoCash(t *testing.T) {
	cfg := DefaultBandsConfig()
	cfg.InitialCash = 0

	report, err := RunBands(wave(120, 5), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("RunBands() error = %v", err)
	}
	if report.Cash != nil {
		t.Error("Cash set with initial_cash 0")
	}
}

func TestRunCrossover(t *testing.T) {
	cfg := DefaultCrossoverConfig()
	cfg.Fast, cfg.Slow = 5, 20

	report, err := RunCrossover(wave(200, 13), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("RunCrossover() error = %v", err)
	}
	if len(report.Curves) != 4 {
		t.Errorf("curves = %v, want 4", curveNames(report))
	}

	cfg.Fast, cfg.Slow = 20, 5
	if _, err := RunCrossover(wave(200, 13), cfg, zerolog.Nop()); !errors.Is(err, stats.ErrInvalidParameter) {
		t.Errorf("RunCrossover() fast >= slow error = %v, want ErrInvalidParameter", err)
	}
}

func TestSimulateCash(t *testing.T) {
	nan := math.NaN()
	prices := stats.FromValues("SPY", start, 0, []float64{10, 8, 9, 12, 11})
	bands := indicators.Bands{
		Middle: stats.FromValues("mid", start, 0, []float64{nan, 10, 10, 10, 10}),
		Upper:  stats.FromValues("upper", start, 0, []float64{nan, 11, 11, 11, 11}),
		Lower:  stats.FromValues("lower", start, 0, []float64{nan, 9, 9, 9, 9}),
	}

	res, err := SimulateCash(prices, bands, 10000)
	if err != nil {
		t.Fatalf("SimulateCash() error = %v", err)
	}

	// buy 1250 @ 8, hold @ 9, sell @ 12, flat @ 11
	want := []float64{10000, 11250, 15000, 15000}
	if res.Value.Len() != len(want) {
		t.Fatalf("Value.Len() = %d, want %d", res.Value.Len(), len(want))
	}
	// the walk starts on the first bar with both bands defined
	if !res.Value.Time(0).Equal(prices.Time(1)) {
		t.Errorf("Value starts at %v, want %v", res.Value.Time(0), prices.Time(1))
	}
	for i, w := range want {
		if !almostEqual(res.Value.Value(i), w, 1e-9) {
			t.Errorf("Value[%d] = %v, want %v", i, res.Value.Value(i), w)
		}
	}
	if len(res.Buys) != 1 || len(res.Sells) != 1 {
		t.Fatalf("fills = %d buys, %d sells, want 1/1", len(res.Buys), len(res.Sells))
	}
	if res.Buys[0].Units != 1250 || res.Sells[0].Price != 12 {
		t.Errorf("fills = %+v / %+v", res.Buys[0], res.Sells[0])
	}
	if !almostEqual(res.FinalBuyHold, 13750, 1e-9) {
		t.Errorf("FinalBuyHold = %v, want 13750", res.FinalBuyHold)
	}
}

func TestSimulateCash_Errors(t *testing.T) {
	nan := math.NaN()
	prices := stats.FromValues("SPY", start, 0, []float64{10, 8})
	undefined := stats.FromValues("b", start, 0, []float64{nan, nan})
	bands := indicators.Bands{Middle: undefined, Upper: undefined, Lower: undefined}

	if _, err := SimulateCash(prices, bands, 10000); !errors.Is(err, stats.ErrInsufficientData) {
		t.Errorf("SimulateCash() error = %v, want ErrInsufficientData", err)
	}
	if _, err := SimulateCash(prices, bands, 0); !errors.Is(err, stats.ErrInvalidParameter) {
		t.Errorf("SimulateCash() error = %v, want ErrInvalidParameter", err)
	}
}

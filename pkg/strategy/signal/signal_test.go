package signal

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/indicators"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/ou"
)

var start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHysteresis_Fixture(t *testing.T) {
	z := []float64{0, 2.5, 1.0, 0.3, -0.1, 2.5}

	tests := []struct {
		name string
		cfg  Config
		want []State
	}{
		{
			// |z| < 0 never holds, so a short stays open
			name: "Exit 0 never exits",
			cfg:  Config{EntryThreshold: 2, ExitThreshold: 0},
			want: []State{Flat, Short, Short, Short, Short, Short},
		},
		{
			name: "Exit 0.2 exits on -0.1",
			cfg:  Config{EntryThreshold: 2, ExitThreshold: 0.2},
			want: []State{Flat, Short, Short, Short, Flat, Short},
		},
		{
			name: "Exit 0.3 is strict",
			cfg:  Config{EntryThreshold: 2, ExitThreshold: 0.3},
			want: []State{Flat, Short, Short, Short, Flat, Short},
		},
		{
			name: "Entry 2.5 is strict",
			cfg:  Config{EntryThreshold: 2.5, ExitThreshold: 0.2},
			want: []State{Flat, Flat, Flat, Flat, Flat, Flat},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Hysteresis(z, tt.cfg)
			if err != nil {
				t.Fatalf("Hysteresis() error = %v", err)
			}
			if !equalStates(got, tt.want) {
				t.Errorf("Hysteresis() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHysteresis_LongSide(t *testing.T) {
	z := []float64{-2.1, -1.5, 0.5, 0.05, -3}
	got, err := Hysteresis(z, Config{EntryThreshold: 2, ExitThreshold: 0.1})
	if err != nil {
		t.Fatalf("Hysteresis() error = %v", err)
	}
	want := []State{Long, Long, Long, Flat, Long}
	if !equalStates(got, want) {
		t.Errorf("Hysteresis() = %v, want %v", got, want)
	}
}

func TestHysteresis_NaNHoldsState(t *testing.T) {
	nan := math.NaN()
	z := []float64{nan, nan, 3, nan, 0, nan}
	got, err := Hysteresis(z, Config{EntryThreshold: 2, ExitThreshold: 0.5})
	if err != nil {
		t.Fatalf("Hysteresis() error = %v", err)
	}
	want := []State{Flat, Flat, Short, Short, Flat, Flat}
	if !equalStates(got, want) {
		t.Errorf("Hysteresis() = %v, want %v", got, want)
	}
}

func TestHysteresis_Reversal(t *testing.T) {
	z := []float64{2.5, -2.5, 0}

	noRev, _ := Hysteresis(z, Config{EntryThreshold: 2, ExitThreshold: 0})
	if !equalStates(noRev, []State{Short, Short, Short}) {
		t.Errorf("without reversal = %v", noRev)
	}

	rev, _ := Hysteresis(z, Config{EntryThreshold: 2, ExitThreshold: 0, AllowReversal: true})
	if !equalStates(rev, []State{Short, Long, Long}) {
		t.Errorf("with reversal = %v", rev)
	}
}

// maskFill labels entries and exits independently and forward-fills the
// gaps, the columnar rendition of the state machine.
func maskFill(z []float64, entry, exit float64) []State {
	out := make([]State, len(z))
	prev := Flat
	for i, v := range z {
		cur, set := Flat, false
		if v < -entry {
			cur, set = Long, true
		}
		if v > entry {
			cur, set = Short, true
		}
		if math.Abs(v) < exit {
			cur, set = Flat, true
		}
		if !set {
			cur = prev
		}
		out[i] = cur
		prev = cur
	}
	return out
}

func TestHysteresis_MatchesForwardFill(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	z := make([]float64, 2000)
	for i := range z {
		z[i] = 2 * r.NormFloat64()
	}

	got, err := Hysteresis(z, Config{EntryThreshold: 2, ExitThreshold: 0.5, AllowReversal: true})
	if err != nil {
		t.Fatalf("Hysteresis() error = %v", err)
	}
	if want := maskFill(z, 2, 0.5); !equalStates(got, want) {
		t.Error("sequential walk differs from the forward-filled masks")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"Defaults", DefaultConfig(), false},
		{"Exit above entry", Config{EntryThreshold: 1, ExitThreshold: 2}, true},
		{"Zero entry", Config{EntryThreshold: 0}, true},
		{"Negative exit", Config{EntryThreshold: 2, ExitThreshold: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, stats.ErrInvalidParameter) {
				t.Errorf("Validate() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	z := stats.FromValues("zscore", start, 0, []float64{0, 2.5, 1.0, 0.3, -0.1, 2.5})

	sig, err := Generate(z, Config{EntryThreshold: 2, ExitThreshold: 0.2})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if sig.Len() != z.Len() {
		t.Fatalf("Len() = %d, want %d", sig.Len(), z.Len())
	}
	if !sig.Time(3).Equal(z.Time(3)) {
		t.Error("signal is not aligned to the z-score index")
	}
	if sig.Entries() != 2 {
		t.Errorf("Entries() = %d, want 2", sig.Entries())
	}
	if got := sig.Series().Value(1); got != -1 {
		t.Errorf("Series()[1] = %v, want -1", got)
	}
}

func TestZScores(t *testing.T) {
	spread := stats.FromValues("spread", start, 0, []float64{1, 2, 3, 4, 5, 6})

	t.Run("OU", func(t *testing.T) {
		z, err := ZScores(spread, ou.Params{Mu: 3, Sigma: 2}, ZConfig{Source: ZSourceOU})
		if err != nil {
			t.Fatalf("ZScores() error = %v", err)
		}
		if !almostEqual(z.Value(5), 1.5, 1e-12) {
			t.Errorf("z[5] = %v, want 1.5", z.Value(5))
		}
	})

	t.Run("OU zero sigma", func(t *testing.T) {
		_, err := ZScores(spread, ou.Params{Mu: 3}, ZConfig{Source: ZSourceOU})
		if !errors.Is(err, stats.ErrDegenerateFit) {
			t.Errorf("ZScores() error = %v, want ErrDegenerateFit", err)
		}
	})

	t.Run("Rolling", func(t *testing.T) {
		z, err := ZScores(spread, ou.Params{}, ZConfig{Source: ZSourceRolling, Window: 3})
		if err != nil {
			t.Fatalf("ZScores() error = %v", err)
		}
		if !math.IsNaN(z.Value(0)) || !math.IsNaN(z.Value(1)) {
			t.Errorf("warm-up = %v, %v, want NaN", z.Value(0), z.Value(1))
		}
		// window {4,5,6}: mean 5, sample std 1
		if !almostEqual(z.Value(5), 1, 1e-12) {
			t.Errorf("z[5] = %v, want 1", z.Value(5))
		}
	})

	t.Run("Rolling flat window is undefined", func(t *testing.T) {
		flat := stats.FromValues("spread", start, 0, []float64{2, 2, 2, 2})
		z, err := ZScores(flat, ou.Params{}, ZConfig{Source: ZSourceRolling, Window: 2})
		if err != nil {
			t.Fatalf("ZScores() error = %v", err)
		}
		if z.CountValid() != 0 {
			t.Errorf("CountValid() = %d, want 0", z.CountValid())
		}
	})

	t.Run("Static", func(t *testing.T) {
		z, err := ZScores(spread, ou.Params{}, ZConfig{Source: ZSourceStatic})
		if err != nil {
			t.Fatalf("ZScores() error = %v", err)
		}
		want := (6 - 3.5) / math.Sqrt(3.5)
		if !almostEqual(z.Value(5), want, 1e-12) {
			t.Errorf("z[5] = %v, want %v", z.Value(5), want)
		}
	})

	t.Run("Bad window", func(t *testing.T) {
		_, err := ZScores(spread, ou.Params{}, ZConfig{Source: ZSourceRolling, Window: 1})
		if !errors.Is(err, stats.ErrInvalidParameter) {
			t.Errorf("ZScores() error = %v, want ErrInvalidParameter", err)
		}
	})
}

func TestBandSignal(t *testing.T) {
	prices := stats.FromValues("close", start, 0, []float64{10, 10, 10, 10, 7, 9, 10.5, 14, 11})
	bands := indicators.Bands{
		Middle: prices.Map("middle", func(float64) float64 { return 10 }),
		Upper:  prices.Map("upper", func(float64) float64 { return 12 }),
		Lower:  prices.Map("lower", func(float64) float64 { return 8 }),
	}

	stateless, err := BandSignal(prices, bands, BandConfig{})
	if err != nil {
		t.Fatalf("BandSignal() error = %v", err)
	}
	want := []State{Flat, Flat, Flat, Flat, Long, Flat, Flat, Short, Flat}
	if !equalStates(stateless.States(), want) {
		t.Errorf("stateless = %v, want %v", stateless.States(), want)
	}

	held, err := BandSignal(prices, bands, BandConfig{Hold: true})
	if err != nil {
		t.Fatalf("BandSignal() error = %v", err)
	}
	want = []State{Flat, Flat, Flat, Flat, Long, Long, Flat, Short, Short}
	if !equalStates(held.States(), want) {
		t.Errorf("held = %v, want %v", held.States(), want)
	}
}

func TestBandSignal_WarmUp(t *testing.T) {
	prices := stats.FromValues("close", start, 0, []float64{100, 102, 104, 103, 105, 90})
	bands, err := indicators.Bollinger(prices, 5, 2)
	if err != nil {
		t.Fatalf("Bollinger() error = %v", err)
	}

	sig, err := BandSignal(prices, bands, BandConfig{})
	if err != nil {
		t.Fatalf("BandSignal() error = %v", err)
	}
	for i := 0; i < 4; i++ {
		if sig.At(i) != Flat {
			t.Errorf("warm-up state[%d] = %v, want FLAT", i, sig.At(i))
		}
	}
	// window {102,104,103,105,90}: mean 100.8, sd 6.14, lower 88.5
	if sig.At(5) != Flat {
		t.Errorf("state[5] = %v, want FLAT", sig.At(5))
	}
}

func TestCrossover(t *testing.T) {
	nan := math.NaN()
	fast := stats.FromValues("fast", start, 0, []float64{nan, 2, 3, 1})
	slow := stats.FromValues("slow", start, 0, []float64{nan, 1, 3, 2})

	sig, err := Crossover(fast, slow, false)
	if err != nil {
		t.Fatalf("Crossover() error = %v", err)
	}
	if want := []State{Flat, Long, Short, Short}; !equalStates(sig.States(), want) {
		t.Errorf("Crossover() = %v, want %v", sig.States(), want)
	}

	longOnly, _ := Crossover(fast, slow, true)
	if want := []State{Flat, Long, Flat, Flat}; !equalStates(longOnly.States(), want) {
		t.Errorf("Crossover(longOnly) = %v, want %v", longOnly.States(), want)
	}
}

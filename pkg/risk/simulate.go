package risk

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// SimulateBets 模拟重复二元下注的资金曲线
//
// Each bet risks fraction of current equity; a win pays payoff times the
// stake, a loss forfeits it. The path starts at 1 and has n+1 points.
func SimulateBets(r *rand.Rand, winProb, payoff, fraction float64, n int) []float64 {
	equity := make([]float64, n+1)
	equity[0] = 1
	for i := 1; i <= n; i++ {
		bet := equity[i-1] * fraction
		if r.Float64() < winProb {
			equity[i] = equity[i-1] + bet*payoff
		} else {
			equity[i] = equity[i-1] - bet
		}
	}
	return equity
}

// SimConfig Kelly 蒙特卡洛配置
type SimConfig struct {
	WinProb float64 `yaml:"win_prob"`
	Payoff  float64 `yaml:"payoff"`
	Fixed   float64 `yaml:"fixed_fraction"`
	Flips   int     `yaml:"flips"`
	Paths   int     `yaml:"paths"`
	Seed    uint64  `yaml:"seed"`
}

// DefaultSimConfig returns p=0.55, 1:1 payoff, 5% fixed, 200 flips, 10 paths.
func DefaultSimConfig() SimConfig {
	return SimConfig{WinProb: 0.55, Payoff: 1, Fixed: 0.05, Flips: 200, Paths: 10, Seed: 42}
}

// Validate checks the simulation bounds.
func (c SimConfig) Validate() error {
	if !(c.WinProb >= 0 && c.WinProb <= 1) {
		return fmt.Errorf("%w: win probability %v outside [0, 1]", stats.ErrInvalidParameter, c.WinProb)
	}
	if !(c.Payoff > 0) {
		return fmt.Errorf("%w: payoff must be positive, got %v", stats.ErrInvalidParameter, c.Payoff)
	}
	if c.Flips <= 0 || c.Paths <= 0 {
		return fmt.Errorf("%w: flips and paths must be positive", stats.ErrInvalidParameter)
	}
	return nil
}

// SimResult 单一仓位规则的模拟结果
type SimResult struct {
	Name        string
	Fraction    float64
	Paths       [][]float64
	MeanFinal   float64
	MedianFinal float64
}

// CompareSizing runs Kelly, half Kelly and the fixed fraction over the same
// random draws so the paths differ only by sizing.
func CompareSizing(cfg SimConfig) ([]SimResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	full := KellyFraction(cfg.WinProb, cfg.Payoff)
	rules := []struct {
		name string
		f    float64
	}{
		{"kelly", full},
		{"half_kelly", full / 2},
		{"fixed", cfg.Fixed},
	}

	out := make([]SimResult, 0, len(rules))
	for _, rule := range rules {
		r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
		res := SimResult{Name: rule.name, Fraction: rule.f}
		finals := make([]float64, 0, cfg.Paths)
		for p := 0; p < cfg.Paths; p++ {
			path := SimulateBets(r, cfg.WinProb, cfg.Payoff, rule.f, cfg.Flips)
			res.Paths = append(res.Paths, path)
			finals = append(finals, path[len(path)-1])
		}
		res.MeanFinal = stats.Mean(finals)
		res.MedianFinal = median(finals)
		out = append(out, res)
	}
	return out, nil
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/risk"
)

func report(pipeline string, started time.Time, ret float64) *backtest.Report {
	return &backtest.Report{
		Pipeline:   pipeline,
		Symbols:    []string{"KO", "PEP"},
		StartedAt:  started,
		Duration:   42 * time.Millisecond,
		Parameters: map[string]float64{"entry_threshold": 2, "bad": math.Inf(1)},
		Kelly:      &risk.KellyResult{Fraction: 0.4},
		Curves: []backtest.Curve{
			{Name: backtest.CurveFixed, Performance: backtest.Performance{TotalReturn: -1}},
			{Name: backtest.CurveKelly, Performance: backtest.Performance{
				TotalReturn: ret, SharpeRatio: math.NaN(), MaxDrawdown: 0.1, FinalEquity: 1 + ret,
			}},
		},
	}
}

func TestRunStore_SaveList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "db", "runs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, r := range []*backtest.Report{
		report(backtest.PipelinePairs, t0, 0.1),
		report(backtest.PipelineBands, t0.Add(time.Hour), 0.2),
		report(backtest.PipelinePairs, t0.Add(2*time.Hour), 0.3),
	} {
		id, err := s.Save(ctx, r)
		if err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
		if id != int64(i+1) {
			t.Errorf("Save(%d) id = %d, want %d", i, id, i+1)
		}
	}

	runs, err := s.ListRecent(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(runs) != 3 || runs[0].ID != 3 || runs[2].ID != 1 {
		t.Fatalf("runs order = %+v", runs)
	}

	got := runs[0]
	if got.Curve != backtest.CurveKelly || got.TotalReturn != 0.3 || got.Sharpe != 0 || got.KellyFraction != 0.4 {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(t0.Add(2*time.Hour)) || got.Duration != 42*time.Millisecond {
		t.Errorf("times = %v %v", got.StartedAt, got.Duration)
	}
	if len(got.Symbols) != 2 || got.Symbols[1] != "PEP" {
		t.Errorf("symbols = %v", got.Symbols)
	}
	if got.Parameters["entry_threshold"] != 2 || got.Parameters["bad"] != 0 {
		t.Errorf("parameters = %v", got.Parameters)
	}

	pairs, err := s.ListRecent(ctx, backtest.PipelinePairs, 1)
	if err != nil {
		t.Fatalf("ListRecent(pairs) error = %v", err)
	}
	if len(pairs) != 1 || pairs[0].ID != 3 {
		t.Errorf("pairs = %+v", pairs)
	}
}

func TestRunStore_Memory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	runs, err := s.ListRecent(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %v, want none", runs)
	}
}

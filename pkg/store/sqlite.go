package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	pipeline       TEXT    NOT NULL,
	symbols        TEXT    NOT NULL,
	started_at     INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	parameters     TEXT    NOT NULL,
	curve          TEXT    NOT NULL,
	total_return   REAL    NOT NULL,
	sharpe         REAL    NOT NULL,
	max_drawdown   REAL    NOT NULL,
	final_equity   REAL    NOT NULL,
	kelly_fraction REAL    NOT NULL,
	warnings       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Run is one persisted pipeline run.
type Run struct {
	ID            int64
	Pipeline      string
	Symbols       []string
	StartedAt     time.Time
	Duration      time.Duration
	Parameters    map[string]float64
	Curve         string
	TotalReturn   float64
	Sharpe        float64
	MaxDrawdown   float64
	FinalEquity   float64
	KellyFraction float64
	Warnings      []string
}

// RunStore 回测运行历史，SQLite 存储
type RunStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*RunStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// modernc sqlite serializes writers; one connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// Save persists the report summary and returns the new row id.
func (s *RunStore) Save(ctx context.Context, r *backtest.Report) (int64, error) {
	params := make(map[string]float64, len(r.Parameters))
	for k, v := range r.Parameters {
		params[k] = finite(v)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to encode parameters: %w", err)
	}
	warnJSON, err := json.Marshal(r.Warnings)
	if err != nil {
		return 0, fmt.Errorf("failed to encode warnings: %w", err)
	}

	var curve string
	var p backtest.Performance
	if c := r.Primary(); c != nil {
		curve, p = c.Name, c.Performance
	}
	kelly := 0.0
	if r.Kelly != nil {
		kelly = r.Kelly.Fraction
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (pipeline, symbols, started_at, duration_ms, parameters, curve,
			total_return, sharpe, max_drawdown, final_equity, kelly_fraction, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Pipeline, strings.Join(r.Symbols, ","), r.StartedAt.UnixMilli(), r.Duration.Milliseconds(),
		string(paramsJSON), curve,
		finite(p.TotalReturn), finite(p.SharpeRatio), finite(p.MaxDrawdown), finite(p.FinalEquity),
		finite(kelly), string(warnJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return res.LastInsertId()
}

// ListRecent returns up to limit runs, newest first. An empty pipeline matches all.
func (s *RunStore) ListRecent(ctx context.Context, pipeline string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, symbols, started_at, duration_ms, parameters, curve,
			total_return, sharpe, max_drawdown, final_equity, kelly_fraction, warnings
		FROM runs
		WHERE ? = '' OR pipeline = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, pipeline, pipeline, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                    Run
			symbols, params, warns string
			startedMs, durMs       int64
		)
		if err := rows.Scan(&run.ID, &run.Pipeline, &symbols, &startedMs, &durMs, &params, &run.Curve,
			&run.TotalReturn, &run.Sharpe, &run.MaxDrawdown, &run.FinalEquity, &run.KellyFraction, &warns); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if symbols != "" {
			run.Symbols = strings.Split(symbols, ",")
		}
		run.StartedAt = time.UnixMilli(startedMs).UTC()
		run.Duration = time.Duration(durMs) * time.Millisecond
		if err := json.Unmarshal([]byte(params), &run.Parameters); err != nil {
			return nil, fmt.Errorf("run %d: bad parameters: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(warns), &run.Warnings); err != nil {
			return nil, fmt.Errorf("run %d: bad warnings: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// generate_mock_data writes a synthetic cointegrated pair as daily bars.
//
// B follows a geometric random walk and A = hedge*B + OU noise, so the
// pairs pipeline finds a mean-reverting spread with a known half-life.
package main

import (
	"flag"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/marketdata"
	"github.com/homebox25/Quant-Tutorials/pkg/util"
)

var (
	startDate = flag.String("start-date", "2020-01-01", "Start date (YYYY-MM-DD)")
	days      = flag.Int("days", 750, "Trading days to generate")
	symbols   = flag.String("symbols", "KO,PEP", "Comma-separated symbols: dependent,independent")
	outputDir = flag.String("output", "./data", "Output directory")
	hedge     = flag.Float64("hedge", 1.5, "Hedge ratio of A on B")
	theta     = flag.Float64("theta", 0.1, "Mean reversion speed of the spread per bar")
	noise     = flag.Float64("noise", 0.5, "Spread innovation std")
	seed      = flag.Uint64("seed", 42, "Random seed")
	format    = flag.String("format", "csv", "csv, parquet or both")
)

func main() {
	flag.Parse()
	log := util.NewConsoleLogger("info")

	start, err := time.Parse(time.DateOnly, *startDate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid start date")
	}
	syms := strings.Split(*symbols, ",")
	if len(syms) != 2 {
		log.Fatal().Strs("symbols", syms).Msg("need exactly two symbols")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("failed to create output directory")
	}

	a, b := generatePair(start, *days, *hedge, *theta, *noise, *seed)
	bars := map[string][]marketdata.Bar{syms[0]: a, syms[1]: b}

	for sym, series := range bars {
		if *format == "csv" || *format == "both" {
			path := marketdata.NewCSVProvider(*outputDir).Path(sym)
			if err := writeCSV(path, series); err != nil {
				log.Fatal().Err(err).Str("symbol", sym).Msg("failed to write csv")
			}
			log.Info().Str("path", path).Int("bars", len(series)).Msg("wrote csv")
		}
		if *format == "parquet" || *format == "both" {
			p := marketdata.NewParquetProvider(*outputDir)
			if err := p.WriteBars(sym, series); err != nil {
				log.Fatal().Err(err).Str("symbol", sym).Msg("failed to write parquet")
			}
			log.Info().Str("path", p.Path(sym)).Int("bars", len(series)).Msg("wrote parquet")
		}
	}
	log.Info().
		Float64("hedge", *hedge).
		Float64("half_life", math.Ln2 / *theta).
		Str("dir", filepath.Clean(*outputDir)).
		Msg("mock pair generated")
}

// generatePair returns bars for A and B on weekdays starting at start.
func generatePair(start time.Time, n int, hedge, theta, sigma float64, seed uint64) (a, b []marketdata.Bar) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	a = make([]marketdata.Bar, 0, n)
	b = make([]marketdata.Bar, 0, n)

	pb, s := 50.0, 0.0
	day := start
	for len(b) < n {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			day = day.AddDate(0, 0, 1)
			continue
		}
		pb *= math.Exp(0.0002 + 0.012*rng.NormFloat64())
		s += -theta*s + sigma*rng.NormFloat64()
		pa := hedge*pb + 10 + s

		b = append(b, bar(day, pb, rng))
		a = append(a, bar(day, pa, rng))
		day = day.AddDate(0, 0, 1)
	}
	return a, b
}

func bar(day time.Time, px float64, rng *rand.Rand) marketdata.Bar {
	spread := math.Abs(px) * 0.005
	open := px + spread*(rng.Float64()-0.5)
	return marketdata.Bar{
		Time:   day,
		Open:   open,
		High:   math.Max(open, px) + spread*rng.Float64(),
		Low:    math.Min(open, px) - spread*rng.Float64(),
		Close:  px,
		Volume: float64(100000 + rng.IntN(900000)),
	}
}

func writeCSV(path string, bars []marketdata.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return marketdata.WriteCSV(f, bars)
}

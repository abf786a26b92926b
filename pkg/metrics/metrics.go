package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairs_backtest_runs_total", Help: "Completed pipeline runs"},
		[]string{"pipeline"},
	)
	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairs_estimation_failures_total", Help: "Pipeline runs aborted, by failing stage"},
		[]string{"stage"},
	)
	KellyFraction = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pairs_kelly_fraction", Help: "Kelly fraction of the last run"},
		[]string{"pipeline"},
	)
	FinalEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pairs_final_equity", Help: "Final equity of the sized curve of the last run"},
		[]string{"pipeline"},
	)
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairs_backtest_duration_seconds",
			Help:    "Wall time of one pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"pipeline"},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal, FailuresTotal, KellyFraction, FinalEquity, RunDuration)
}

// ObserveReport records one successful run.
func ObserveReport(r *backtest.Report) {
	RunsTotal.WithLabelValues(r.Pipeline).Inc()
	RunDuration.WithLabelValues(r.Pipeline).Observe(r.Duration.Seconds())
	if r.Kelly != nil {
		KellyFraction.WithLabelValues(r.Pipeline).Set(r.Kelly.Fraction)
	}
	if c := r.Primary(); c != nil {
		FinalEquity.WithLabelValues(r.Pipeline).Set(c.Performance.FinalEquity)
	}
}

// ObserveFailure counts a failed run under its stage, "unknown" when err carries none.
func ObserveFailure(err error) {
	stage := "unknown"
	var se *backtest.StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	FailuresTotal.WithLabelValues(stage).Inc()
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

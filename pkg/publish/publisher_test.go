package publish

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/risk"
	"github.com/homebox25/Quant-Tutorials/pkg/strategy/ou"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subject = subj
	f.data = data
	return nil
}

func testReport() *backtest.Report {
	return &backtest.Report{
		Pipeline:   backtest.PipelinePairs,
		Symbols:    []string{"BRK.B", "SPY"},
		StartedAt:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Duration:   15 * time.Millisecond,
		Parameters: map[string]float64{"entry_threshold": 2, "exit_threshold": math.NaN()},
		OU:         &ou.Params{Mu: 0.1, Theta: 0.2, Sigma: 1},
		Kelly:      &risk.KellyResult{Fraction: 0.3},
		Curves: []backtest.Curve{
			{Name: backtest.CurveKelly, Performance: backtest.Performance{TotalReturn: 0.12, FinalEquity: 1.12, Trades: 4}},
		},
		Warnings: []string{"kelly used neutral fallback"},
	}
}

func TestPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "", zerolog.Nop())

	if err := p.Publish(testReport()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if conn.subject != "backtest.pairs.BRK_B_SPY" {
		t.Errorf("subject = %q", conn.subject)
	}

	st, err := Decode(conn.data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	fields := st.GetFields()
	if got := fields["pipeline"].GetStringValue(); got != "pairs" {
		t.Errorf("pipeline = %q", got)
	}
	if got := fields["kelly_fraction"].GetNumberValue(); got != 0.3 {
		t.Errorf("kelly_fraction = %v", got)
	}
	if got := fields["started_at"].GetStringValue(); got != "2024-01-02T00:00:00Z" {
		t.Errorf("started_at = %q", got)
	}
	params := fields["parameters"].GetStructValue().GetFields()
	if params["exit_threshold"].GetNumberValue() != 0 {
		t.Errorf("NaN parameter not zeroed: %v", params["exit_threshold"])
	}
	kelly := fields["curves"].GetStructValue().GetFields()["kelly"].GetStructValue().GetFields()
	if kelly["trades"].GetNumberValue() != 4 || kelly["final_equity"].GetNumberValue() != 1.12 {
		t.Errorf("kelly curve = %v", kelly)
	}
	if len(fields["warnings"].GetListValue().GetValues()) != 1 {
		t.Errorf("warnings = %v", fields["warnings"])
	}
	if !almostEqual(fields["half_life"].GetNumberValue(), math.Ln2/0.2, 1e-12) {
		t.Errorf("half_life = %v", fields["half_life"])
	}
}

func TestSummaryHandler(t *testing.T) {
	conn := &fakeConn{}
	if err := NewPublisher(conn, "", zerolog.Nop()).Publish(testReport()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var logs bytes.Buffer
	var got []string
	handle := summaryHandler(zerolog.New(&logs), func(subject string, st *structpb.Struct) {
		got = append(got, subject+":"+st.GetFields()["pipeline"].GetStringValue())
	})

	handle(&nats.Msg{Subject: conn.subject, Data: conn.data})
	handle(&nats.Msg{Subject: "backtest.bands.KO", Data: []byte{0xff}})

	if len(got) != 1 || got[0] != "backtest.pairs.BRK_B_SPY:pairs" {
		t.Errorf("delivered = %v", got)
	}
	out := logs.String()
	if !strings.Contains(out, "dropping malformed summary") || !strings.Contains(out, "backtest.bands.KO") {
		t.Errorf("logs = %s", out)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	conn := &fakeConn{err: errors.New("no responders")}
	p := NewPublisher(conn, "runs", zerolog.Nop())
	if err := p.Publish(testReport()); err == nil {
		t.Fatal("Publish() error = nil, want error")
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.Subject != "backtest" || c.Timeout != 2*time.Second || c.Enabled() {
		t.Errorf("defaults = %+v", c)
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

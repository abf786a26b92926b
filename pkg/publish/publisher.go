package publish

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Config NATS 发布配置
type Config struct {
	URL     string        `yaml:"url"`     // 为空时不发布
	Subject string        `yaml:"subject"` // 主题前缀，默认 backtest
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// ApplyDefaults fills the subject prefix, client name and dial timeout.
func (c *Config) ApplyDefaults() {
	if c.Subject == "" {
		c.Subject = "backtest"
	}
	if c.Name == "" {
		c.Name = "quant-backtest"
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

// Enabled reports whether a server URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Publisher 将回测摘要以 protobuf 编码发布到 NATS
//
// Subject layout: <prefix>.<pipeline>.<SYM1_SYM2>
type Publisher struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, log zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = "backtest"
	}
	return &Publisher{conn: conn, prefix: prefix, log: log}
}

// Connect dials the configured server.
func Connect(cfg Config, log zerolog.Logger) (*Publisher, error) {
	cfg.ApplyDefaults()
	nc, err := nats.Connect(cfg.URL, nats.Name(cfg.Name), nats.Timeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("connected to NATS")

	p := NewPublisher(nc, cfg.Subject, log)
	p.nc = nc
	return p, nil
}

// Subject returns the subject a report is published on.
func (p *Publisher) Subject(r *backtest.Report) string {
	syms := make([]string, len(r.Symbols))
	for i, s := range r.Symbols {
		syms[i] = token(s)
	}
	return p.prefix + "." + token(r.Pipeline) + "." + strings.Join(syms, "_")
}

// Publish encodes the report summary and publishes it.
func (p *Publisher) Publish(r *backtest.Report) error {
	st, err := Summary(r)
	if err != nil {
		return err
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	subject := p.Subject(r)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	p.log.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("published run summary")
	return nil
}

// Close flushes and closes a connection opened by Connect.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Flush(); err != nil {
		p.log.Warn().Err(err).Msg("NATS flush failed")
	}
	p.nc.Close()
}

// Subscribe decodes every summary published under subject (wildcards allowed).
// Payloads that fail to decode are logged and skipped.
func Subscribe(nc *nats.Conn, subject string, log zerolog.Logger, fn func(subject string, s *structpb.Struct)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, summaryHandler(log, fn))
}

func summaryHandler(log zerolog.Logger, fn func(subject string, s *structpb.Struct)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		st, err := Decode(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Int("bytes", len(msg.Data)).Msg("dropping malformed summary")
			return
		}
		fn(msg.Subject, st)
	}
}

// Decode parses a published payload.
func Decode(data []byte) (*structpb.Struct, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &st, nil
}

// Summary flattens a report into a protobuf Struct. Non-finite numbers become 0.
func Summary(r *backtest.Report) (*structpb.Struct, error) {
	symbols := make([]any, len(r.Symbols))
	for i, s := range r.Symbols {
		symbols[i] = s
	}
	params := make(map[string]any, len(r.Parameters))
	for k, v := range r.Parameters {
		params[k] = num(v)
	}
	curves := make(map[string]any, len(r.Curves))
	for _, c := range r.Curves {
		p := c.Performance
		curves[c.Name] = map[string]any{
			"total_return": num(p.TotalReturn),
			"sharpe":       num(p.SharpeRatio),
			"max_drawdown": num(p.MaxDrawdown),
			"final_equity": num(p.FinalEquity),
			"trades":       float64(p.Trades),
		}
	}
	warnings := make([]any, len(r.Warnings))
	for i, w := range r.Warnings {
		warnings[i] = w
	}

	m := map[string]any{
		"pipeline":    r.Pipeline,
		"symbols":     symbols,
		"started_at":  r.StartedAt.UTC().Format(time.RFC3339),
		"duration_ms": float64(r.Duration.Milliseconds()),
		"parameters":  params,
		"curves":      curves,
		"warnings":    warnings,
	}
	if r.Kelly != nil {
		m["kelly_fraction"] = num(r.Kelly.Fraction)
	}
	if r.OU != nil {
		m["theta"] = num(r.OU.Theta)
		m["half_life"] = num(r.OU.HalfLife())
	}
	if r.Hedge != nil {
		m["hedge_ratio"] = num(r.Hedge.HedgeRatio)
	}

	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build summary: %w", err)
	}
	return st, nil
}

func num(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// token makes s usable as a single subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

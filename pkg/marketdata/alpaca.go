package marketdata

import (
	"context"
	"fmt"
	"os"
	"time"

	alpaca "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
	"github.com/homebox25/Quant-Tutorials/pkg/util"
)

// AlpacaConfig Alpaca 行情 API 配置，密钥为空时读取 APCA_API_KEY_ID / APCA_API_SECRET_KEY
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	Feed      string `yaml:"feed"` // iex | sip
	Retries   int    `yaml:"retries"`
}

// ApplyDefaults fills the feed, retry count and credentials from the environment.
func (c *AlpacaConfig) ApplyDefaults() {
	if c.Feed == "" {
		c.Feed = "iex"
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("APCA_API_KEY_ID")
	}
	if c.APISecret == "" {
		c.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	}
}

// barsClient is the part of *alpaca.Client the provider calls.
type barsClient interface {
	GetBars(symbol string, req alpaca.GetBarsRequest) ([]alpaca.Bar, error)
}

// AlpacaProvider fetches daily bars from the Alpaca market-data API.
type AlpacaProvider struct {
	client  barsClient
	feed    string
	retries int
	log     zerolog.Logger
}

// NewAlpacaProvider creates a client from cfg. Credentials are required.
func NewAlpacaProvider(cfg AlpacaConfig, log zerolog.Logger) (*AlpacaProvider, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: alpaca credentials missing (set APCA_API_KEY_ID and APCA_API_SECRET_KEY)",
			stats.ErrInvalidParameter)
	}
	opts := alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	return newAlpacaProvider(alpaca.NewClient(opts), cfg, log), nil
}

func newAlpacaProvider(client barsClient, cfg AlpacaConfig, log zerolog.Logger) *AlpacaProvider {
	return &AlpacaProvider{
		client:  client,
		feed:    cfg.Feed,
		retries: cfg.Retries,
		log:     log.With().Str("provider", SourceAlpaca).Logger(),
	}
}

// Bars implements Provider. An open end bound means now.
func (p *AlpacaProvider) Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if end.IsZero() {
		end = time.Now()
	}
	req := alpaca.GetBarsRequest{
		TimeFrame: alpaca.OneDay,
		Start:     start,
		End:       end,
		Feed:      alpaca.Feed(p.feed),
	}

	var raw []alpaca.Bar
	err := util.Retry(ctx, p.retries, 500*time.Millisecond, func() error {
		var err error
		raw, err = p.client.GetBars(normalizeSymbol(symbol), req)
		if err != nil {
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("GetBars failed")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, Bar{
			Time:   b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	p.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("fetched bars")
	return bars, nil
}

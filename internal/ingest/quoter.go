package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/net/breaker"
	"github.com/sawpanic/predictrun/internal/net/ratelimit"
)

var (
	// ErrUnknownSymbol is returned when the quote source has no price for a symbol
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrBadQuote is returned for unparseable or non-positive quotes
	ErrBadQuote = errors.New("bad quote")
	// ErrUpstream is returned for transport failures and 5xx answers
	ErrUpstream = errors.New("quote source unavailable")
)

// QuoterConfig configures the HTTP quote source
type QuoterConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

// HTTPQuoter fetches the latest price of a symbol from {base}/quote?symbol=SYM
type HTTPQuoter struct {
	base    string
	host    string
	client  *http.Client
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	now     func() time.Time
}

type quoteBody struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// NewHTTPQuoter builds a rate limited, circuit broken quoter. A nil client gets one with cfg.Timeout.
func NewHTTPQuoter(cfg QuoterConfig, client *http.Client) *HTTPQuoter {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	host := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		host = u.Host
	}

	return &HTTPQuoter{
		base:    base,
		host:    host,
		client:  client,
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		// a bad symbol says nothing about the health of the source
		breaker: breaker.New("quotes:"+host, breaker.WithSuccessFilter(func(err error) bool {
			return err == nil || !errors.Is(err, ErrUpstream)
		})),
		now: time.Now,
	}
}

// State reports the circuit breaker state
func (q *HTTPQuoter) State() gobreaker.State { return q.breaker.State() }

// Quote waits for the rate limiter, then fetches one quote through the circuit breaker
func (q *HTTPQuoter) Quote(ctx context.Context, symbol string) (market.PricePoint, error) {
	if err := q.limiter.Wait(ctx, q.host); err != nil {
		return market.PricePoint{}, err
	}

	res, err := q.breaker.Execute(func() (any, error) {
		return q.fetch(ctx, symbol)
	})
	if err != nil {
		return market.PricePoint{}, err
	}
	return res.(market.PricePoint), nil
}

func (q *HTTPQuoter) fetch(ctx context.Context, symbol string) (market.PricePoint, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s", q.base, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.PricePoint{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return market.PricePoint{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return market.PricePoint{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	case resp.StatusCode >= 500:
		return market.PricePoint{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return market.PricePoint{}, fmt.Errorf("%w: status %d for %s", ErrBadQuote, resp.StatusCode, symbol)
	}

	var body quoteBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return market.PricePoint{}, fmt.Errorf("%w: decode %s: %v", ErrBadQuote, symbol, err)
	}
	if !(body.Price > 0) {
		return market.PricePoint{}, fmt.Errorf("%w: price %v for %s", ErrBadQuote, body.Price, symbol)
	}
	if body.Symbol != "" && !strings.EqualFold(body.Symbol, symbol) {
		return market.PricePoint{}, fmt.Errorf("%w: asked for %s, got %s", ErrBadQuote, symbol, body.Symbol)
	}

	return market.PricePoint{Symbol: symbol, Price: body.Price, Timestamp: q.now().UTC()}, nil
}

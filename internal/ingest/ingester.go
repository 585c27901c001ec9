package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/metrics"
	"github.com/sawpanic/predictrun/internal/persistence"
)

const DefaultMaxFailures = 3

// Quoter returns the current price of one symbol
type Quoter interface {
	Quote(ctx context.Context, symbol string) (market.PricePoint, error)
}

// Config lists the tracked symbols
type Config struct {
	Symbols     []string     `yaml:"symbols"`
	MaxFailures int          `yaml:"max_failures"`
	Quoter      QuoterConfig `yaml:"quoter"`
}

// RunReport summarises one ingestion pass
type RunReport struct {
	Fetched int
	Failed  []string
	Blocked []string
}

// Ingester polls a Quoter for every configured symbol and appends the results.
// A symbol that fails MaxFailures times in a row is skipped until Reset.
type Ingester struct {
	quoter  Quoter
	writer  persistence.PriceWriter
	symbols []string
	limit   int
	metrics *metrics.Registry
	logger  zerolog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewIngester wires a quoter to a price writer. reg may be nil.
func NewIngester(q Quoter, w persistence.PriceWriter, cfg Config, reg *metrics.Registry) (*Ingester, error) {
	if q == nil || w == nil {
		return nil, fmt.Errorf("quoter and price writer are required")
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}

	seen := make(map[string]bool, len(cfg.Symbols))
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}

	return &Ingester{
		quoter:   q,
		writer:   w,
		symbols:  symbols,
		limit:    cfg.MaxFailures,
		metrics:  reg,
		logger:   log.With().Str("component", "ingest").Logger(),
		failures: make(map[string]int),
	}, nil
}

// Symbols returns the tracked symbols
func (i *Ingester) Symbols() []string {
	out := make([]string, len(i.symbols))
	copy(out, i.symbols)
	return out
}

// Run fetches one quote per unblocked symbol and appends every success in one write.
// Quote failures are counted per symbol; only a failed write or cancellation is returned.
func (i *Ingester) Run(ctx context.Context) (RunReport, error) {
	var report RunReport
	points := make([]market.PricePoint, 0, len(i.symbols))

	for _, symbol := range i.symbols {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i.isBlocked(symbol) {
			report.Blocked = append(report.Blocked, symbol)
			i.metrics.QuoteResult("blocked")
			continue
		}

		pt, err := i.quoter.Quote(ctx, symbol)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failed = append(report.Failed, symbol)
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// source is down, the symbol is not at fault
				i.metrics.QuoteResult("breaker_open")
				i.logger.Warn().Str("symbol", symbol).Err(err).Msg("Quote source circuit open")
				continue
			}
			n := i.recordFailure(symbol)
			i.metrics.QuoteResult("error")
			ev := i.logger.Warn()
			if n >= i.limit {
				ev = i.logger.Error()
			}
			ev.Str("symbol", symbol).Int("failures", n).Err(err).Msg("Quote failed")
			continue
		}

		i.recordSuccess(symbol)
		i.metrics.QuoteResult("ok")
		points = append(points, pt)
	}

	if len(points) > 0 {
		if err := i.writer.Append(ctx, points...); err != nil {
			return report, fmt.Errorf("append %d prices: %w", len(points), err)
		}
	}
	report.Fetched = len(points)

	i.logger.Debug().
		Int("fetched", report.Fetched).
		Int("failed", len(report.Failed)).
		Int("blocked", len(report.Blocked)).
		Msg("Ingestion pass completed")
	return report, nil
}

// Reset clears the failure count of the given symbols, or of every symbol when none are given
func (i *Ingester) Reset(symbols ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(symbols) == 0 {
		i.failures = make(map[string]int)
		return
	}
	for _, s := range symbols {
		delete(i.failures, s)
	}
}

// Blocked lists symbols currently skipped, sorted
func (i *Ingester) Blocked() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []string
	for s, n := range i.failures {
		if n >= i.limit {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (i *Ingester) isBlocked(symbol string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failures[symbol] >= i.limit
}

func (i *Ingester) recordFailure(symbol string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failures[symbol]++
	return i.failures[symbol]
}

func (i *Ingester) recordSuccess(symbol string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.failures, symbol)
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/metrics"
	"github.com/sawpanic/predictrun/internal/persistence"
)

// ErrNoCurrentPrice is returned when a trade cannot be opened because the symbol has no usable price
var ErrNoCurrentPrice = errors.New("no current price")

// Config selects the kind of trades opened from signals and the exit policy
type Config struct {
	Kind   trade.Kind   `yaml:"kind"`
	Sizing trade.Sizing `yaml:"sizing"`
	Policy trade.Policy `yaml:"policy"`
}

// DefaultConfig opens simple trades under the default policy
func DefaultConfig() Config {
	return Config{
		Kind:   trade.KindSimple,
		Sizing: trade.Sizing{OrderSize: 100, Fee: 5},
		Policy: trade.DefaultPolicy(),
	}
}

// Manager opens trades from signals and closes them on evaluation ticks.
// One mutex serializes opening and evaluation so a trade is never evaluated mid-open.
type Manager struct {
	mu      sync.Mutex
	prices  persistence.PriceStore
	trades  persistence.TradeStore
	cfg     Config
	metrics *metrics.Registry
	now     func() time.Time
	newID   func() string
	logger  zerolog.Logger
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDs replaces uuid generation
func WithIDs(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithMetrics records opens, closes and skips
func WithMetrics(r *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager validates the configuration and builds a manager
func NewManager(prices persistence.PriceStore, trades persistence.TradeStore, cfg Config, opts ...Option) (*Manager, error) {
	if prices == nil || trades == nil {
		return nil, fmt.Errorf("price and trade stores are required")
	}
	if cfg.Kind == "" {
		cfg.Kind = trade.KindSimple
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("invalid trade kind %q", cfg.Kind)
	}
	if cfg.Kind == trade.KindSized && !(cfg.Sizing.OrderSize > 0) {
		return nil, fmt.Errorf("sized trades require a positive order size")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		prices: prices,
		trades: trades,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: log.With().Str("component", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Policy returns the exit policy in force
func (m *Manager) Policy() trade.Policy { return m.cfg.Policy }

// Open opens one trade for signal at the latest known price
func (m *Manager) Open(ctx context.Context, sig market.Signal) (trade.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open(ctx, sig, m.now())
}

func (m *Manager) open(ctx context.Context, sig market.Signal, now time.Time) (trade.Trade, error) {
	pt, ok, err := m.prices.Latest(ctx, sig.Symbol)
	if err != nil {
		return trade.Trade{}, fmt.Errorf("latest price for %s: %w", sig.Symbol, err)
	}
	if !ok || !(pt.Price > 0) {
		m.logger.Warn().Str("symbol", sig.Symbol).Str("side", string(sig.Side)).Msg("No current price, trade not opened")
		return trade.Trade{}, fmt.Errorf("%w: %s", ErrNoCurrentPrice, sig.Symbol)
	}

	t, err := trade.Open(m.newID(), sig.Symbol, sig.Side, m.cfg.Kind, pt.Price, now, m.cfg.Sizing)
	if err != nil {
		return trade.Trade{}, err
	}
	if err := m.trades.Save(ctx, t); err != nil {
		return trade.Trade{}, fmt.Errorf("save trade %s: %w", t.ID(), err)
	}

	m.metrics.TradeOpened(string(t.Side()))
	m.logger.Info().
		Str("trade_id", t.ID()).
		Str("symbol", t.Symbol()).
		Str("side", string(t.Side())).
		Float64("entry_price", t.EntryPrice()).
		Msg("Trade opened")
	return t, nil
}

// OpenReport lists the trades opened from one batch
type OpenReport struct {
	Opened  []trade.Trade
	Skipped int
}

// OpenBatch opens a trade for every long and short signal. Signals without a current price
// are skipped; other failures are collected and returned after the batch is processed.
func (m *Manager) OpenBatch(ctx context.Context, batch market.Batch) (OpenReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var report OpenReport
	var errs []error

	for _, sig := range batch.Signals() {
		t, err := m.open(ctx, sig, now)
		if err != nil {
			report.Skipped++
			if !errors.Is(err, ErrNoCurrentPrice) {
				errs = append(errs, err)
			}
			continue
		}
		report.Opened = append(report.Opened, t)
	}

	m.metrics.OpenSkip(report.Skipped)
	return report, errors.Join(errs...)
}

// Evaluate decides whether t closes at price and time now. It has no side effects.
func (m *Manager) Evaluate(t trade.Trade, price float64, now time.Time) trade.Decision {
	return m.cfg.Policy.Evaluate(t, price, now)
}

// EvaluationReport summarizes one evaluation tick
type EvaluationReport struct {
	Evaluated int
	Closed    []trade.Trade
	Skipped   int
}

// EvaluateOpen evaluates every open trade against one snapshot of latest prices taken before
// any trade is evaluated. Trades without a price stay open and are counted as skipped.
func (m *Manager) EvaluateOpen(ctx context.Context) (EvaluationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.trades.OpenTrades(ctx)
	if err != nil {
		return EvaluationReport{}, fmt.Errorf("load open trades: %w", err)
	}

	snapshot := make(map[string]float64)
	for _, t := range open {
		if _, seen := snapshot[t.Symbol()]; seen {
			continue
		}
		pt, ok, err := m.prices.Latest(ctx, t.Symbol())
		switch {
		case err != nil:
			m.logger.Warn().Err(err).Str("symbol", t.Symbol()).Msg("Price lookup failed")
			snapshot[t.Symbol()] = 0
		case !ok:
			snapshot[t.Symbol()] = 0
		default:
			snapshot[t.Symbol()] = pt.Price
		}
	}

	now := m.now()
	var report EvaluationReport
	var errs []error

	for _, t := range open {
		price := snapshot[t.Symbol()]
		if !(price > 0) {
			report.Skipped++
			continue
		}
		report.Evaluated++

		d := m.Evaluate(t, price, now)
		if !d.Close {
			continue
		}

		closed, err := t.Close(price, now, d.Result, d.Reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.trades.Save(ctx, closed); err != nil {
			errs = append(errs, fmt.Errorf("save closed trade %s: %w", t.ID(), err))
			continue
		}

		report.Closed = append(report.Closed, closed)
		m.metrics.TradeClosed(string(closed.Side()), d.Result.String())
		m.logger.Info().
			Str("trade_id", closed.ID()).
			Str("symbol", closed.Symbol()).
			Str("side", string(closed.Side())).
			Str("reason", d.Reason.String()).
			Int("result", int(d.Result)).
			Float64("pnl_pct", d.PnLPct).
			Dur("held", d.Held).
			Msg("Trade closed")
	}

	m.metrics.EvaluationSkip(report.Skipped)
	return report, errors.Join(errs...)
}

// Package memory provides in-process stores for tests and single-node runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/nn"
	"github.com/sawpanic/predictrun/internal/persistence"
)

// Prices keeps per-symbol history sorted by timestamp
type Prices struct {
	mu     sync.RWMutex
	series map[string][]market.PricePoint
}

func NewPrices() *Prices {
	return &Prices{series: make(map[string][]market.PricePoint)}
}

func (p *Prices) Append(_ context.Context, points ...market.PricePoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	touched := make(map[string]struct{})
	for _, pt := range points {
		if pt.Symbol == "" {
			return fmt.Errorf("price point without symbol")
		}
		p.series[pt.Symbol] = append(p.series[pt.Symbol], pt)
		touched[pt.Symbol] = struct{}{}
	}
	for s := range touched {
		market.SortByTime(p.series[s])
	}
	return nil
}

func (p *Prices) Latest(_ context.Context, symbol string) (market.PricePoint, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.series[symbol]
	if len(s) == 0 {
		return market.PricePoint{}, false, nil
	}
	return s[len(s)-1], true, nil
}

func (p *Prices) History(_ context.Context, symbol string, since time.Time) ([]market.PricePoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.series[symbol]
	i := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(since) })
	out := make([]market.PricePoint, len(s)-i)
	copy(out, s[i:])
	return out, nil
}

func (p *Prices) Symbols(_ context.Context, since time.Time) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	for sym, s := range p.series {
		if len(s) > 0 && !s[len(s)-1].Timestamp.Before(since) {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *Prices) Stats(_ context.Context) (persistence.PriceStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var st persistence.PriceStats
	for _, s := range p.series {
		if len(s) == 0 {
			continue
		}
		st.Symbols++
		st.Points += int64(len(s))
		if last := s[len(s)-1].Timestamp; st.Latest == nil || last.After(*st.Latest) {
			st.Latest = &last
		}
	}
	return st, nil
}

// Trades keeps trades by id
type Trades struct {
	mu     sync.RWMutex
	trades map[string]trade.Trade
}

func NewTrades() *Trades {
	return &Trades{trades: make(map[string]trade.Trade)}
}

// Save stores t by id. A trade already stored as closed cannot be replaced.
func (s *Trades) Save(_ context.Context, t trade.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.trades[t.ID()]; ok && !prev.IsOpen() {
		return fmt.Errorf("trade %s: %w", t.ID(), trade.ErrAlreadyClosed)
	}
	s.trades[t.ID()] = t
	return nil
}

func (s *Trades) OpenTrades(_ context.Context) ([]trade.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []trade.Trade
	for _, t := range s.trades {
		if t.IsOpen() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt().Equal(out[j].OpenedAt()) {
			return out[i].OpenedAt().Before(out[j].OpenedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

func (s *Trades) ClosedTrades(_ context.Context, since time.Time) ([]trade.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []trade.Trade
	for _, t := range s.trades {
		if c, ok := t.Closing(); ok && !c.ClosedAt.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, _ := out[i].Closing()
		cj, _ := out[j].Closing()
		if !ci.ClosedAt.Equal(cj.ClosedAt) {
			return ci.ClosedAt.After(cj.ClosedAt)
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

func (s *Trades) Summary(_ context.Context) (persistence.TradeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]trade.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		all = append(all, t)
	}
	return persistence.Summarize(all), nil
}

// Signals keeps every saved batch; the newest generated_at wins
type Signals struct {
	mu      sync.RWMutex
	batches []market.Batch
}

func NewSignals() *Signals { return &Signals{} }

func (s *Signals) SaveBatch(_ context.Context, batch market.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *Signals) LatestBatch(_ context.Context) (market.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.batches) == 0 {
		return market.Batch{}, false, nil
	}
	latest := s.batches[0]
	for _, b := range s.batches[1:] {
		if !b.GeneratedAt.Before(latest.GeneratedAt) {
			latest = b
		}
	}
	return latest, true, nil
}

// Publisher records published batches in order
type Publisher struct {
	mu        sync.Mutex
	Published []market.Batch
	Err       error
}

func (p *Publisher) Publish(_ context.Context, batch market.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Published = append(p.Published, batch)
	return nil
}

// Count returns the number of published batches
func (p *Publisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published)
}

// Models keeps the last saved classifier state
type Models struct {
	mu    sync.RWMutex
	state *nn.State
}

func NewModels() *Models { return &Models{} }

func (m *Models) SaveState(_ context.Context, state nn.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *Models) LoadState(_ context.Context) (nn.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nn.State{}, false, nil
	}
	return *m.state, true, nil
}

// NewRepository wires a full in-memory repository
func NewRepository() persistence.Repository {
	prices := NewPrices()
	return persistence.Repository{
		Prices:  prices,
		Writer:  prices,
		Trades:  NewTrades(),
		Signals: NewSignals(),
		Models:  NewModels(),
	}
}

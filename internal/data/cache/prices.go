package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/persistence"
)

const latestPrefix = "price:latest:"

// CachedPrices serves Latest from the cache and passes history reads to the store.
// Appends write through and refresh the cached latest point.
type CachedPrices struct {
	store  persistence.PriceStore
	writer persistence.PriceWriter
	cache  Cache
	ttl    time.Duration
}

// NewCachedPrices wraps store; writer may be nil when the wrapper is read-only
func NewCachedPrices(store persistence.PriceStore, writer persistence.PriceWriter, c Cache, ttl time.Duration) *CachedPrices {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedPrices{store: store, writer: writer, cache: c, ttl: ttl}
}

func (p *CachedPrices) Latest(ctx context.Context, symbol string) (market.PricePoint, bool, error) {
	if raw, ok := p.cache.Get(ctx, latestPrefix+symbol); ok {
		var pt market.PricePoint
		if err := json.Unmarshal(raw, &pt); err == nil {
			return pt, true, nil
		}
	}

	pt, ok, err := p.store.Latest(ctx, symbol)
	if err != nil || !ok {
		return pt, ok, err
	}
	p.remember(ctx, pt)
	return pt, true, nil
}

func (p *CachedPrices) Stats(ctx context.Context) (persistence.PriceStats, error) {
	return p.store.Stats(ctx)
}

func (p *CachedPrices) History(ctx context.Context, symbol string, since time.Time) ([]market.PricePoint, error) {
	return p.store.History(ctx, symbol, since)
}

func (p *CachedPrices) Symbols(ctx context.Context, since time.Time) ([]string, error) {
	return p.store.Symbols(ctx, since)
}

func (p *CachedPrices) Append(ctx context.Context, points ...market.PricePoint) error {
	if p.writer == nil {
		return fmt.Errorf("price cache has no writer")
	}
	if err := p.writer.Append(ctx, points...); err != nil {
		return err
	}

	newest := make(map[string]market.PricePoint)
	for _, pt := range points {
		if cur, ok := newest[pt.Symbol]; !ok || pt.Timestamp.After(cur.Timestamp) {
			newest[pt.Symbol] = pt
		}
	}
	for _, pt := range newest {
		// an older point must not replace a newer cached one
		if raw, ok := p.cache.Get(ctx, latestPrefix+pt.Symbol); ok {
			var cached market.PricePoint
			if json.Unmarshal(raw, &cached) == nil && cached.Timestamp.After(pt.Timestamp) {
				continue
			}
		}
		p.remember(ctx, pt)
	}
	return nil
}

func (p *CachedPrices) remember(ctx context.Context, pt market.PricePoint) {
	raw, err := json.Marshal(pt)
	if err != nil {
		return
	}
	p.cache.Set(ctx, latestPrefix+pt.Symbol, raw, p.ttl)
}

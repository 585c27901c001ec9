package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/metrics"
	"github.com/sawpanic/predictrun/internal/persistence/memory"
)

var t0 = time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)

type fixture struct {
	prices *countingPrices
	trades *memory.Trades
	clock  time.Time
	mgr    *Manager
}

type countingPrices struct {
	*memory.Prices
	calls map[string]int
}

func (c *countingPrices) Latest(ctx context.Context, symbol string) (market.PricePoint, bool, error) {
	c.calls[symbol]++
	return c.Prices.Latest(ctx, symbol)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		prices: &countingPrices{Prices: memory.NewPrices(), calls: map[string]int{}},
		trades: memory.NewTrades(),
		clock:  t0,
	}
	n := 0
	mgr, err := NewManager(f.prices, f.trades, cfg,
		WithClock(func() time.Time { return f.clock }),
		WithIDs(func() string { n++; return fmt.Sprintf("t-%d", n) }),
		WithMetrics(metrics.NewRegistry()),
	)
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

func (f *fixture) price(t *testing.T, symbol string, p float64) {
	t.Helper()
	require.NoError(t, f.prices.Append(context.Background(), market.PricePoint{Symbol: symbol, Price: p, Timestamp: f.clock}))
}

func TestOpen_UsesLatestPrice(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.price(t, "AAPL", 100)

	tr, err := f.mgr.Open(context.Background(), market.Signal{Symbol: "AAPL", Side: market.Long})
	require.NoError(t, err)
	assert.Equal(t, "t-1", tr.ID())
	assert.Equal(t, 100.0, tr.EntryPrice())
	assert.Equal(t, t0, tr.OpenedAt())
	assert.Equal(t, trade.KindSimple, tr.Kind())

	open, err := f.trades.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestOpen_NoCurrentPrice(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.mgr.Open(context.Background(), market.Signal{Symbol: "GHOST", Side: market.Short})
	assert.ErrorIs(t, err, ErrNoCurrentPrice)

	open, err := f.trades.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOpenBatch_CountsSkips(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.price(t, "AAPL", 100)
	f.price(t, "MSFT", 50)

	report, err := f.mgr.OpenBatch(context.Background(), market.Batch{
		GeneratedAt: t0,
		Long:        []market.Signal{{Symbol: "AAPL", Rank: 1}, {Symbol: "GHOST", Rank: 2}},
		Short:       []market.Signal{{Symbol: "MSFT", Rank: 1}, {Symbol: "AAPL", Rank: 2}},
	})
	require.NoError(t, err)
	assert.Len(t, report.Opened, 3)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, market.Short, report.Opened[2].Side())
}

func TestEvaluateOpen_LongScenarios(t *testing.T) {
	cases := []struct {
		name   string
		exit   float64
		after  time.Duration
		result trade.Result
		reason trade.ExitReason
	}{
		{"take profit", 110, 10 * time.Minute, trade.Win, trade.TakeProfit},
		{"stop loss", 90, 10 * time.Minute, trade.Loss, trade.StopLoss},
		{"timeout", 104, time.Hour + time.Minute, trade.Neutral, trade.TimeLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			f.price(t, "AAPL", 100)
			_, err := f.mgr.Open(context.Background(), market.Signal{Symbol: "AAPL", Side: market.Long})
			require.NoError(t, err)

			f.clock = t0.Add(tc.after)
			f.price(t, "AAPL", tc.exit)

			report, err := f.mgr.EvaluateOpen(context.Background())
			require.NoError(t, err)
			require.Len(t, report.Closed, 1)

			c, ok := report.Closed[0].Closing()
			require.True(t, ok)
			assert.Equal(t, tc.exit, c.ExitPrice)
			assert.Equal(t, tc.result, c.Result)
			assert.Equal(t, tc.reason, c.Reason)
			assert.Equal(t, f.clock, c.ClosedAt)

			closed, err := f.trades.ClosedTrades(context.Background(), t0)
			require.NoError(t, err)
			assert.Len(t, closed, 1)
		})
	}
}

func TestEvaluateOpen_StaysOpenInsideBand(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.price(t, "AAPL", 100)
	_, err := f.mgr.Open(context.Background(), market.Signal{Symbol: "AAPL", Side: market.Short})
	require.NoError(t, err)

	f.clock = t0.Add(30 * time.Minute)
	f.price(t, "AAPL", 105)

	report, err := f.mgr.EvaluateOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Empty(t, report.Closed)
}

func TestEvaluateOpen_OneSnapshotPerSymbol(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.price(t, "AAPL", 100)
	for i := 0; i < 3; i++ {
		_, err := f.mgr.Open(context.Background(), market.Signal{Symbol: "AAPL", Side: market.Long})
		require.NoError(t, err)
	}
	f.prices.calls = map[string]int{}

	f.clock = t0.Add(time.Minute)
	f.price(t, "AAPL", 111)

	report, err := f.mgr.EvaluateOpen(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Closed, 3)
	assert.Equal(t, 1, f.prices.calls["AAPL"])
	for _, tr := range report.Closed {
		c, _ := tr.Closing()
		assert.Equal(t, 111.0, c.ExitPrice)
	}
}

func TestEvaluateOpen_MissingPriceSkips(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	tr, err := trade.Open("orphan", "GONE", market.Long, trade.KindSimple, 100, t0, trade.Sizing{})
	require.NoError(t, err)
	require.NoError(t, f.trades.Save(context.Background(), tr))

	f.clock = t0.Add(5 * time.Hour)
	report, err := f.mgr.EvaluateOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Evaluated)

	open, err := f.trades.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestEvaluateOpen_SizedTrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = trade.KindSized
	f := newFixture(t, cfg)
	f.price(t, "AAPL", 100)

	tr, err := f.mgr.Open(context.Background(), market.Signal{Symbol: "AAPL", Side: market.Long})
	require.NoError(t, err)
	assert.Equal(t, 100.0, tr.OrderSize())
	assert.Equal(t, 5.0, tr.Fee())

	// past the simple horizon, inside the sized one
	f.clock = t0.Add(90 * time.Minute)
	f.price(t, "AAPL", 101)
	report, err := f.mgr.EvaluateOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Closed)

	f.clock = t0.Add(2*time.Hour + time.Second)
	report, err = f.mgr.EvaluateOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Closed, 1)
	c, _ := report.Closed[0].Closing()
	assert.Equal(t, trade.TimeLimit, c.Reason)
}

func TestEvaluate_IsPure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	tr, err := trade.Open("x", "AAPL", market.Long, trade.KindSimple, 100, t0, trade.Sizing{})
	require.NoError(t, err)

	d := f.mgr.Evaluate(tr, 110, t0.Add(time.Minute))
	assert.True(t, d.Close)
	assert.True(t, tr.IsOpen())

	open, err := f.trades.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, memory.NewTrades(), DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Kind = "leveraged"
	_, err = NewManager(memory.NewPrices(), memory.NewTrades(), cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Kind = trade.KindSized
	cfg.Sizing = trade.Sizing{}
	_, err = NewManager(memory.NewPrices(), memory.NewTrades(), cfg)
	assert.Error(t, err)
}

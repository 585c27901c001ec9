package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/nn"
)

var t0 = time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC)

func TestPrices_HistoryAndLatest(t *testing.T) {
	ctx := context.Background()
	p := NewPrices()

	require.NoError(t, p.Append(ctx,
		market.PricePoint{Symbol: "AAPL", Price: 3, Timestamp: t0.Add(2 * time.Minute)},
		market.PricePoint{Symbol: "AAPL", Price: 1, Timestamp: t0},
		market.PricePoint{Symbol: "AAPL", Price: 2, Timestamp: t0.Add(time.Minute)},
		market.PricePoint{Symbol: "OLD", Price: 9, Timestamp: t0.Add(-48 * time.Hour)},
	))

	latest, ok, err := p.Latest(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.Price)

	_, ok, err = p.Latest(ctx, "NONE")
	require.NoError(t, err)
	assert.False(t, ok)

	hist, err := p.History(ctx, "AAPL", t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 2.0, hist[0].Price)

	syms, err := p.Symbols(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, syms)

	assert.Error(t, p.Append(ctx, market.PricePoint{Price: 1}))
}

func TestPrices_Stats(t *testing.T) {
	ctx := context.Background()
	p := NewPrices()

	st, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Points)
	assert.Nil(t, st.Latest)

	require.NoError(t, p.Append(ctx,
		market.PricePoint{Symbol: "AAPL", Price: 1, Timestamp: t0},
		market.PricePoint{Symbol: "AAPL", Price: 2, Timestamp: t0.Add(time.Minute)},
		market.PricePoint{Symbol: "MSFT", Price: 3, Timestamp: t0.Add(5 * time.Minute)},
	))

	st, err = p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Points)
	assert.Equal(t, int64(2), st.Symbols)
	require.NotNil(t, st.Latest)
	assert.Equal(t, t0.Add(5*time.Minute), *st.Latest)
}

func TestTrades_OpenClosedAndSummary(t *testing.T) {
	ctx := context.Background()
	s := NewTrades()

	a, err := trade.Open("a", "AAPL", market.Long, trade.KindSimple, 100, t0, trade.Sizing{})
	require.NoError(t, err)
	b, err := trade.Open("b", "MSFT", market.Short, trade.KindSimple, 50, t0.Add(time.Minute), trade.Sizing{})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, b))

	open, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a", open[0].ID())

	closed, err := a.Close(110, t0.Add(time.Hour), trade.Win, trade.TakeProfit)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, closed))

	open, err = s.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	got, err := s.ClosedTrades(ctx, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID())

	got, err = s.ClosedTrades(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Open)
	assert.Equal(t, int64(1), sum.Wins)
	assert.Equal(t, 100.0, sum.WinRate)
}

func TestTrades_ClosedTradeIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := NewTrades()

	open, err := trade.Open("a", "AAPL", market.Long, trade.KindSimple, 100, t0, trade.Sizing{})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, open))
	closed, err := open.Close(90, t0.Add(time.Hour), trade.Loss, trade.StopLoss)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, closed))

	assert.ErrorIs(t, s.Save(ctx, open), trade.ErrAlreadyClosed)
	assert.ErrorIs(t, s.Save(ctx, closed), trade.ErrAlreadyClosed)

	got, err := s.ClosedTrades(ctx, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	c, _ := got[0].Closing()
	assert.Equal(t, trade.Loss, c.Result)
}

func TestSignals_LatestBatchWins(t *testing.T) {
	ctx := context.Background()
	s := NewSignals()

	_, ok, err := s.LatestBatch(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	newer := market.Batch{GeneratedAt: t0.Add(time.Hour), Long: []market.Signal{{Symbol: "B", Score: 0.7, Rank: 1}}}
	older := market.Batch{GeneratedAt: t0, Long: []market.Signal{{Symbol: "A", Score: 0.9, Rank: 1}}}
	require.NoError(t, s.SaveBatch(ctx, newer))
	require.NoError(t, s.SaveBatch(ctx, older))

	got, ok, err := s.LatestBatch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer, got)
}

func TestModels_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewModels()

	_, ok, err := m.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	net, err := nn.New(nn.Topology{InputSize: 2, OutputSize: 2, Activation: nn.Sigmoid}, 1)
	require.NoError(t, err)
	require.NoError(t, m.SaveState(ctx, net.State()))

	got, ok, err := m.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, net.State(), got)
}

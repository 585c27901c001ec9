package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/nn"
)

var t0 = time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var tradeCols = []string{"id", "symbol", "side", "kind", "entry_price", "opened_at", "order_size", "fee",
	"status", "exit_price", "closed_at", "result", "exit_reason"}

func TestTradesRepo_SaveOpen(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradesRepo(db, time.Second)

	tr, err := trade.Open("t-1", "AAPL", market.Long, trade.KindSimple, 100, t0, trade.Sizing{})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO trades").
		WithArgs("t-1", "AAPL", "long", "simple", 100.0, t0, 0.0, 0.0, "open", nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), tr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepo_SaveClosedUpserts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradesRepo(db, time.Second)

	tr, err := trade.Open("t-1", "AAPL", market.Short, trade.KindSimple, 100, t0, trade.Sizing{})
	require.NoError(t, err)
	tr, err = tr.Close(90, t0.Add(time.Hour), trade.Win, trade.TakeProfit)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("t-1", "AAPL", "short", "simple", 100.0, t0, 0.0, 0.0, "closed",
			90.0, t0.Add(time.Hour), 1, "take_profit").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), tr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepo_SaveNeverReopensClosedRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradesRepo(db, time.Second)

	tr, err := trade.Open("t-1", "AAPL", market.Long, trade.KindSimple, 100, t0, trade.Sizing{})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("WHERE trades.status = 'open'")).
		WithArgs("t-1", "AAPL", "long", "simple", 100.0, t0, 0.0, 0.0, "open", nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Save(context.Background(), tr)
	assert.ErrorIs(t, err, trade.ErrAlreadyClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepo_OpenTradesSkipsCorruptRows(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradesRepo(db, time.Second)

	rows := sqlmock.NewRows(tradeCols).
		AddRow("a", "AAPL", "long", "simple", 100.0, t0, 0.0, 0.0, "open", nil, nil, nil, nil).
		AddRow("b", "MSFT", "short", "simple", 50.0, t0, 0.0, 0.0, "open", 55.0, nil, nil, nil)
	mock.ExpectQuery("FROM trades\\s+WHERE status = 'open'").WillReturnRows(rows)

	got, err := repo.OpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID())
	assert.True(t, got[0].IsOpen())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepo_ClosedTrades(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradesRepo(db, time.Second)
	since := t0.Add(-24 * time.Hour)

	rows := sqlmock.NewRows(tradeCols).
		AddRow("a", "AAPL", "long", "sized", 100.0, t0, 100.0, 5.0, "closed", 120.0, t0.Add(time.Hour), int64(1), "take_profit")
	mock.ExpectQuery("WHERE status = 'closed' AND closed_at >= \\$1").WithArgs(since).WillReturnRows(rows)

	got, err := repo.ClosedTrades(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, got, 1)

	c, ok := got[0].Closing()
	require.True(t, ok)
	assert.Equal(t, trade.Win, c.Result)
	assert.Equal(t, trade.TakeProfit, c.Reason)
	assert.Equal(t, trade.KindSized, got[0].Kind())
	assert.Equal(t, 5.0, got[0].Fee())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepo_Summary(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradesRepo(db, time.Second)

	mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
		WillReturnRows(sqlmock.NewRows([]string{"open", "closed", "wins", "losses", "neutral"}).AddRow(3, 4, 3, 1, 0))

	s, err := repo.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Open)
	assert.InDelta(t, 75.0, s.WinRate, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPricesRepo_AppendInTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPricesRepo(db, time.Second)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO prices")
	prep.ExpectExec().WithArgs("AAPL", 100.0, t0).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("MSFT", 50.0, t0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Append(context.Background(),
		market.PricePoint{Symbol: "AAPL", Price: 100, Timestamp: t0},
		market.PricePoint{Symbol: "MSFT", Price: 50, Timestamp: t0},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPricesRepo_Stats(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPricesRepo(db, time.Second)

	cols := []string{"point_count", "symbol_count", "latest_ts"}
	mock.ExpectQuery("COUNT\\(DISTINCT symbol\\)").WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(120), int64(4), t0))
	mock.ExpectQuery("FROM prices").WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(0), int64(0), nil))

	st, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(120), st.Points)
	assert.Equal(t, int64(4), st.Symbols)
	require.NotNil(t, st.Latest)
	assert.True(t, t0.Equal(*st.Latest))

	st, err = repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Points)
	assert.Nil(t, st.Latest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPricesRepo_Latest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPricesRepo(db, time.Second)

	mock.ExpectQuery("FROM prices").WithArgs("AAPL").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "price", "ts"}).AddRow("AAPL", 101.5, t0))
	mock.ExpectQuery("FROM prices").WithArgs("NONE").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "price", "ts"}))

	p, ok, err := repo.Latest(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 101.5, p.Price)

	_, ok, err = repo.Latest(context.Background(), "NONE")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPricesRepo_HistoryAndSymbols(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPricesRepo(db, time.Second)
	since := t0.Add(-time.Hour)

	mock.ExpectQuery("ORDER BY ts ASC").WithArgs("AAPL", since).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "price", "ts"}).
			AddRow("AAPL", 1.0, t0.Add(-time.Minute)).
			AddRow("AAPL", 2.0, t0))
	mock.ExpectQuery("SELECT DISTINCT symbol").WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}).AddRow("AAPL").AddRow("MSFT"))

	hist, err := repo.History(context.Background(), "AAPL", since)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	syms, err := repo.Symbols(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, syms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalsRepo_SaveBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSignalsRepo(db, time.Second)

	batch := market.Batch{
		GeneratedAt: t0,
		Long:        []market.Signal{{Symbol: "AAPL", Score: 0.9, Rank: 1}},
		Short:       []market.Signal{{Symbol: "MSFT", Score: 0.8, Rank: 1}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO signal_batches").WithArgs(t0).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare("INSERT INTO signals")
	prep.ExpectExec().WithArgs(t0, "AAPL", "long", 1, 0.9).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(t0, "MSFT", "short", 1, 0.8).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveBatch(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalsRepo_DuplicateBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSignalsRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO signal_batches").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.SaveBatch(context.Background(), market.Batch{GeneratedAt: t0})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalsRepo_LatestBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSignalsRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(generated_at)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(t0))
	mock.ExpectQuery("FROM signals").WithArgs(t0).
		WillReturnRows(sqlmock.NewRows([]string{"generated_at", "symbol", "side", "rank", "score"}).
			AddRow(t0, "AAPL", "long", 1, 0.9).
			AddRow(t0, "TSLA", "long", 2, 0.6).
			AddRow(t0, "MSFT", "short", 1, 0.8))

	batch, ok, err := repo.LatestBatch(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0, batch.GeneratedAt)
	require.Len(t, batch.Long, 2)
	assert.Equal(t, "TSLA", batch.Long[1].Symbol)
	require.Len(t, batch.Short, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalsRepo_NoBatches(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSignalsRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(generated_at)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	_, ok, err := repo.LatestBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelsRepo_SaveAndLoad(t *testing.T) {
	db, mock := newMock(t)
	repo := NewModelsRepo(db, time.Second)

	net, err := nn.New(nn.Topology{InputSize: 2, OutputSize: 2, Activation: nn.Sigmoid}, 3)
	require.NoError(t, err)
	data, err := nn.MarshalState(net.State())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO model_states").WithArgs(data).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT state FROM model_states").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(data))

	require.NoError(t, repo.SaveState(context.Background(), net.State()))

	state, ok, err := repo.LoadState(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, net.State(), state)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelsRepo_LoadEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewModelsRepo(db, time.Second)

	mock.ExpectQuery("SELECT state FROM model_states").WillReturnRows(sqlmock.NewRows([]string{"state"}))

	_, ok, err := repo.LoadState(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

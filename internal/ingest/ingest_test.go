package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/persistence/memory"
)

var fixed = time.Date(2025, 9, 8, 12, 0, 0, 0, time.UTC)

func quoteServer(t *testing.T, prices map[string]float64) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if r.URL.Path != "/quote" {
			http.NotFound(w, r)
			return
		}
		sym := r.URL.Query().Get("symbol")
		p, ok := prices[sym]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"symbol":%q,"price":%v}`, sym, p)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testQuoter(base string) *HTTPQuoter {
	q := NewHTTPQuoter(QuoterConfig{BaseURL: base, RPS: 1000, Burst: 100}, nil)
	q.now = func() time.Time { return fixed }
	return q
}

func TestHTTPQuoter_Quote(t *testing.T) {
	srv, _ := quoteServer(t, map[string]float64{"AAPL": 187.5})
	q := testQuoter(srv.URL + "/")

	pt, err := q.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, market.PricePoint{Symbol: "AAPL", Price: 187.5, Timestamp: fixed}, pt)

	_, err = q.Quote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestHTTPQuoter_RejectsBadBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "ZERO":
			fmt.Fprint(w, `{"symbol":"ZERO","price":0}`)
		case "SWAP":
			fmt.Fprint(w, `{"symbol":"MSFT","price":10}`)
		default:
			fmt.Fprint(w, `not json`)
		}
	}))
	defer srv.Close()
	q := testQuoter(srv.URL)

	for _, sym := range []string{"ZERO", "SWAP", "JUNK"} {
		_, err := q.Quote(context.Background(), sym)
		assert.ErrorIs(t, err, ErrBadQuote, sym)
	}
	assert.Equal(t, gobreaker.StateClosed, q.State(), "client-side errors do not trip the breaker")
}

func TestHTTPQuoter_BreakerOpensOnUpstreamFailures(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	q := testQuoter(srv.URL)

	for i := 0; i < 3; i++ {
		_, err := q.Quote(context.Background(), "AAPL")
		assert.ErrorIs(t, err, ErrUpstream)
	}
	_, err := q.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestHTTPQuoter_RateLimitHonoursContext(t *testing.T) {
	srv, _ := quoteServer(t, map[string]float64{"AAPL": 1})
	q := NewHTTPQuoter(QuoterConfig{BaseURL: srv.URL, RPS: 0.001, Burst: 1}, nil)

	_, err := q.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Quote(ctx, "AAPL")
	assert.Error(t, err)
}

type scriptedQuoter struct {
	fail map[string]error
	hits map[string]int
}

func (s *scriptedQuoter) Quote(_ context.Context, symbol string) (market.PricePoint, error) {
	if s.hits == nil {
		s.hits = map[string]int{}
	}
	s.hits[symbol]++
	if err := s.fail[symbol]; err != nil {
		return market.PricePoint{}, err
	}
	return market.PricePoint{Symbol: symbol, Price: 10, Timestamp: fixed}, nil
}

func TestIngester_AppendsQuotes(t *testing.T) {
	srv, _ := quoteServer(t, map[string]float64{"AAPL": 187.5, "MSFT": 410})
	prices := memory.NewPrices()

	ing, err := NewIngester(testQuoter(srv.URL), prices, Config{Symbols: []string{"AAPL", "MSFT", "AAPL"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, ing.Symbols())

	report, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Empty(t, report.Failed)

	pt, ok, err := prices.Latest(context.Background(), "MSFT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 410.0, pt.Price)
}

func TestIngester_BlocksAfterMaxFailuresUntilReset(t *testing.T) {
	q := &scriptedQuoter{fail: map[string]error{"BAD": ErrUnknownSymbol}}
	ing, err := NewIngester(q, memory.NewPrices(), Config{Symbols: []string{"BAD", "OK"}}, nil)
	require.NoError(t, err)

	for i := 0; i < DefaultMaxFailures; i++ {
		report, err := ing.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"BAD"}, report.Failed)
	}
	assert.Equal(t, []string{"BAD"}, ing.Blocked())

	report, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BAD"}, report.Blocked)
	assert.Equal(t, DefaultMaxFailures, q.hits["BAD"])
	assert.Equal(t, 1, report.Fetched)

	ing.Reset("BAD")
	assert.Empty(t, ing.Blocked())
	_, err = ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxFailures+1, q.hits["BAD"])
}

func TestIngester_SuccessClearsFailureCount(t *testing.T) {
	q := &scriptedQuoter{fail: map[string]error{"FLAKY": ErrUpstream}}
	ing, err := NewIngester(q, memory.NewPrices(), Config{Symbols: []string{"FLAKY"}}, nil)
	require.NoError(t, err)

	for i := 0; i < DefaultMaxFailures-1; i++ {
		_, err := ing.Run(context.Background())
		require.NoError(t, err)
	}
	delete(q.fail, "FLAKY")
	report, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)

	q.fail["FLAKY"] = ErrUpstream
	_, err = ing.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ing.Blocked())
}

func TestIngester_OpenBreakerDoesNotBlockSymbols(t *testing.T) {
	q := &scriptedQuoter{fail: map[string]error{"AAPL": gobreaker.ErrOpenState}}
	ing, err := NewIngester(q, memory.NewPrices(), Config{Symbols: []string{"AAPL"}}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := ing.Run(context.Background())
		require.NoError(t, err)
	}
	assert.Empty(t, ing.Blocked())
}

type failingWriter struct{}

func (failingWriter) Append(context.Context, ...market.PricePoint) error {
	return errors.New("disk full")
}

func TestIngester_WriteFailureIsReturned(t *testing.T) {
	ing, err := NewIngester(&scriptedQuoter{}, failingWriter{}, Config{Symbols: []string{"AAPL"}}, nil)
	require.NoError(t, err)

	_, err = ing.Run(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestNewIngester_RequiresCollaborators(t *testing.T) {
	_, err := NewIngester(nil, memory.NewPrices(), Config{}, nil)
	assert.Error(t, err)
}

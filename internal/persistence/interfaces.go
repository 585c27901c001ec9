package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/nn"
)

// PriceStore is the read side of the price history
type PriceStore interface {
	// Latest returns the most recent point for symbol; false when none is known
	Latest(ctx context.Context, symbol string) (market.PricePoint, bool, error)

	// History returns points at or after since, ascending by timestamp
	History(ctx context.Context, symbol string, since time.Time) ([]market.PricePoint, error)

	// Symbols lists symbols with at least one point at or after since
	Symbols(ctx context.Context, since time.Time) ([]string, error)

	// Stats summarizes everything stored
	Stats(ctx context.Context) (PriceStats, error)
}

// PriceStats counts stored price points
type PriceStats struct {
	Points  int64      `json:"points" db:"point_count"`
	Symbols int64      `json:"symbols" db:"symbol_count"`
	Latest  *time.Time `json:"latest,omitempty" db:"latest_ts"`
}

// PriceWriter appends observed prices
type PriceWriter interface {
	Append(ctx context.Context, points ...market.PricePoint) error
}

// TradeStore persists simulated trades
type TradeStore interface {
	// OpenTrades returns every trade still open, oldest first
	OpenTrades(ctx context.Context) ([]trade.Trade, error)

	// ClosedTrades returns trades closed at or after since, newest first
	ClosedTrades(ctx context.Context, since time.Time) ([]trade.Trade, error)

	// Save inserts or replaces a trade by id
	Save(ctx context.Context, t trade.Trade) error

	// Summary returns aggregate counts for monitoring
	Summary(ctx context.Context) (TradeSummary, error)
}

// SignalStore keeps whole prediction batches
type SignalStore interface {
	SaveBatch(ctx context.Context, batch market.Batch) error

	// LatestBatch returns the batch with the newest generated_at; false when none exist
	LatestBatch(ctx context.Context) (market.Batch, bool, error)
}

// SignalPublisher notifies downstream consumers of a new batch. Delivery is at-most-once.
type SignalPublisher interface {
	Publish(ctx context.Context, batch market.Batch) error
}

// ModelStore persists the classifier parameters between restarts
type ModelStore interface {
	SaveState(ctx context.Context, state nn.State) error
	LoadState(ctx context.Context) (nn.State, bool, error)
}

// TradeSummary aggregates trade outcomes
type TradeSummary struct {
	Open    int64   `json:"open" db:"open"`
	Closed  int64   `json:"closed" db:"closed"`
	Wins    int64   `json:"wins" db:"wins"`
	Losses  int64   `json:"losses" db:"losses"`
	Neutral int64   `json:"neutral" db:"neutral"`
	WinRate float64 `json:"win_rate"` // percent of decided trades
}

// Finalize fills WinRate as wins/(wins+losses)*100. Neutral (timed-out) trades are
// excluded; zero when nothing has been decided.
func (s TradeSummary) Finalize() TradeSummary {
	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = float64(s.Wins) / float64(decided) * 100
	}
	return s
}

// Summarize counts a set of trades
func Summarize(trades []trade.Trade) TradeSummary {
	var s TradeSummary
	for _, t := range trades {
		c, closed := t.Closing()
		if !closed {
			s.Open++
			continue
		}
		s.Closed++
		switch c.Result {
		case trade.Win:
			s.Wins++
		case trade.Loss:
			s.Losses++
		default:
			s.Neutral++
		}
	}
	return s.Finalize()
}

// Repository aggregates the stores one deployment runs against
type Repository struct {
	Prices  PriceStore
	Writer  PriceWriter
	Trades  TradeStore
	Signals SignalStore
	Models  ModelStore
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool      `json:"healthy"`
	Errors         []string  `json:"errors,omitempty"`
	LastCheck      time.Time `json:"last_check"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}

// Pinger is implemented by backends that can report connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is implemented by backends that report more than reachability
type HealthChecker interface {
	Health(ctx context.Context) HealthCheck
}

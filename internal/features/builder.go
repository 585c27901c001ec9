package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
)

var (
	// ErrInsufficientHistory is returned when too few points precede the reference time
	ErrInsufficientHistory = errors.New("insufficient price history")
	// ErrInvalidPrice is returned when the reference price cannot normalize the window
	ErrInvalidPrice = errors.New("invalid reference price")
)

const (
	DefaultWindow   = 12
	DefaultLookback = 24 * time.Hour
)

// Vector is a fixed-length normalized feature vector
type Vector []float64

// Builder turns one symbol's price history into a Vector at a reference time.
// Each feature is (p_i - p_ref) / p_ref clipped to [-1, 1], where p_ref is the most recent
// price in the window.
type Builder struct {
	window   int
	lookback time.Duration // zero means count-based only
}

// NewTradeBuilder builds features from the last window points inside lookback before ref
func NewTradeBuilder(window int, lookback time.Duration) *Builder {
	if window < 2 {
		window = DefaultWindow
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Builder{window: window, lookback: lookback}
}

// NewTickBuilder builds features from the last window ticks at or before ref, whatever their age
func NewTickBuilder(window int) *Builder {
	if window < 2 {
		window = DefaultWindow
	}
	return &Builder{window: window}
}

// Window is the number of price points consumed per vector
func (b *Builder) Window() int { return b.window }

// Lookback is the history span a caller should fetch; zero for tick builders
func (b *Builder) Lookback() time.Duration { return b.lookback }

// Dim is the vector length produced by Build
func (b *Builder) Dim() int { return b.window - 1 }

// Build computes the vector for history at ref. History need not be sorted.
func (b *Builder) Build(history []market.PricePoint, ref time.Time) (Vector, error) {
	eligible := make([]market.PricePoint, 0, len(history))
	for _, p := range history {
		if p.Timestamp.After(ref) {
			continue
		}
		if b.lookback > 0 && p.Timestamp.Before(ref.Add(-b.lookback)) {
			continue
		}
		eligible = append(eligible, p)
	}

	if len(eligible) < b.window {
		return nil, fmt.Errorf("%w: have %d points, need %d", ErrInsufficientHistory, len(eligible), b.window)
	}

	market.SortByTime(eligible)
	window := eligible[len(eligible)-b.window:]

	ref0 := window[len(window)-1].Price
	if !(ref0 > 0) || math.IsInf(ref0, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, ref0)
	}

	vec := make(Vector, b.Dim())
	for i := 0; i < b.Dim(); i++ {
		vec[i] = Clip((window[i].Price-ref0)/ref0, -1, 1)
	}
	return vec, nil
}

// Clip bounds v to [lo, hi]; NaN maps to zero
func Clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

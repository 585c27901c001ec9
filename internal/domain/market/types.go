package market

import (
	"fmt"
	"sort"
	"time"
)

// Side is the direction of a simulated position or signal
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Valid reports whether s is one of the known sides
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Direction returns +1 for long and -1 for short
func (s Side) Direction() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// ParseSide converts a stored side string into a Side
func ParseSide(v string) (Side, error) {
	s := Side(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown side %q", v)
	}
	return s, nil
}

// PricePoint is a single observed price for a symbol
type PricePoint struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Price     float64   `json:"price" db:"price"`
	Timestamp time.Time `json:"ts" db:"ts"`
}

// SortByTime orders points ascending by timestamp in place
func SortByTime(points []PricePoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}

// Signal is one ranked candidate inside a prediction batch
type Signal struct {
	Symbol string  `json:"symbol"`
	Side   Side    `json:"-"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// Batch is one atomic set of ranked signals generated at a single instant.
// Ranks are only meaningful within the batch that produced them.
type Batch struct {
	GeneratedAt time.Time `json:"generated_at"`
	Long        []Signal  `json:"long"`
	Short       []Signal  `json:"short"`
}

// Empty reports whether the batch carries no signals at all
func (b Batch) Empty() bool {
	return len(b.Long) == 0 && len(b.Short) == 0
}

// Signals returns long signals followed by short signals with Side populated
func (b Batch) Signals() []Signal {
	out := make([]Signal, 0, len(b.Long)+len(b.Short))
	for _, s := range b.Long {
		s.Side = Long
		out = append(out, s)
	}
	for _, s := range b.Short {
		s.Side = Short
		out = append(out, s)
	}
	return out
}

package ranking

import (
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/features"
	"github.com/sawpanic/predictrun/internal/nn"
	"github.com/sawpanic/predictrun/internal/training"
)

const DefaultTopK = 10

// Scorer is the read side of the classifier
type Scorer interface {
	Trained() bool
	PredictProba(x *nn.Matrix) (*nn.Matrix, error)
}

// Rank scores every eligible symbol that has a feature vector and returns the top-K long
// candidates by bullish probability and the top-K short candidates by bearish probability.
// Ties break on symbol so identical inputs always produce the same batch.
func Rank(eligible []string, vectors map[string]features.Vector, clf Scorer, topK int, at time.Time) (market.Batch, error) {
	if clf == nil || !clf.Trained() {
		return market.Batch{}, nn.ErrUntrained
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	seen := make(map[string]struct{}, len(eligible))
	symbols := make([]string, 0, len(eligible))
	for _, s := range eligible {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := vectors[s]; ok {
			symbols = append(symbols, s)
		}
	}

	batch := market.Batch{GeneratedAt: at, Long: []market.Signal{}, Short: []market.Signal{}}
	if len(symbols) == 0 {
		return batch, nil
	}
	sort.Strings(symbols)

	// one inference call for every symbol
	dim := len(vectors[symbols[0]])
	x := nn.NewMatrix(len(symbols), dim)
	for i, s := range symbols {
		v := vectors[s]
		if len(v) != dim {
			return market.Batch{}, fmt.Errorf("%w: %s has %d features, expected %d", nn.ErrShape, s, len(v), dim)
		}
		copy(x.Data[i*dim:(i+1)*dim], v)
	}

	proba, err := clf.PredictProba(x)
	if err != nil {
		return market.Batch{}, fmt.Errorf("score symbols: %w", err)
	}
	if proba.Rows != len(symbols) || proba.Cols < 2 {
		return market.Batch{}, fmt.Errorf("%w: classifier returned %dx%d for %d symbols", nn.ErrShape, proba.Rows, proba.Cols, len(symbols))
	}

	long := make([]market.Signal, len(symbols))
	short := make([]market.Signal, len(symbols))
	for i, s := range symbols {
		long[i] = market.Signal{Symbol: s, Side: market.Long, Score: proba.At(i, training.ClassBullish)}
		short[i] = market.Signal{Symbol: s, Side: market.Short, Score: proba.At(i, training.ClassBearish)}
	}

	batch.Long = top(long, topK)
	batch.Short = top(short, topK)
	return batch, nil
}

func top(signals []market.Signal, k int) []market.Signal {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Score != signals[j].Score {
			return signals[i].Score > signals[j].Score
		}
		return signals[i].Symbol < signals[j].Symbol
	})
	if len(signals) > k {
		signals = signals[:k]
	}
	for i := range signals {
		signals[i].Rank = i + 1
	}
	return signals
}

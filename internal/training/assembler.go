package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/features"
	"github.com/sawpanic/predictrun/internal/nn"
)

// Class indices shared by the assembler and the ranker
const (
	ClassBearish = 0
	ClassBullish = 1
	ClassNeutral = 2
)

const DefaultMinSamples = 10

// HistoryLookup returns a symbol's price points at or after since, ascending
type HistoryLookup interface {
	History(ctx context.Context, symbol string, since time.Time) ([]market.PricePoint, error)
}

// Sample is one labeled feature vector
type Sample struct {
	TradeID  string
	Symbol   string
	Features features.Vector
	Class    int
	Label    []float64
}

// Batch is the assembled training set. Samples is nil when fewer than the minimum were usable.
type Batch struct {
	Samples []Sample
	Skipped int
	Classes int
}

// Empty reports whether there is nothing to train on
func (b Batch) Empty() bool { return len(b.Samples) == 0 }

// X stacks the feature vectors into a matrix
func (b Batch) X() *nn.Matrix {
	if b.Empty() {
		return nn.NewMatrix(0, 0)
	}
	m := nn.NewMatrix(len(b.Samples), len(b.Samples[0].Features))
	for i, s := range b.Samples {
		copy(m.Data[i*m.Cols:(i+1)*m.Cols], s.Features)
	}
	return m
}

// Y stacks the one-hot labels into a matrix
func (b Batch) Y() *nn.Matrix {
	if b.Empty() {
		return nn.NewMatrix(0, 0)
	}
	m := nn.NewMatrix(len(b.Samples), b.Classes)
	for i, s := range b.Samples {
		m.Set(i, s.Class, 1)
	}
	return m
}

// Assembler turns closed trades into labeled samples using features at each trade's open time
type Assembler struct {
	builder    *features.Builder
	classes    int
	minSamples int
}

// NewAssembler creates an assembler for a 2- or 3-class model
func NewAssembler(builder *features.Builder, classes, minSamples int) (*Assembler, error) {
	if builder == nil {
		return nil, fmt.Errorf("feature builder is required")
	}
	if classes != 2 && classes != 3 {
		return nil, fmt.Errorf("classes must be 2 or 3, got %d", classes)
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Assembler{builder: builder, classes: classes, minSamples: minSamples}, nil
}

// Classes returns the label width
func (a *Assembler) Classes() int { return a.classes }

// Assemble builds a batch from closed trades. Trades that are still open or lack enough
// history at their open time are skipped and counted. Lookup failures other than missing
// history abort the batch.
func (a *Assembler) Assemble(ctx context.Context, closed []trade.Trade, lookup HistoryLookup) (Batch, error) {
	batch := Batch{Classes: a.classes}
	samples := make([]Sample, 0, len(closed))

	for _, t := range closed {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}

		// with two classes a timed-out trade counts as a miss and is labeled like a loss:
		// the opposite of the direction it was opened in
		class, ok := Label(t, a.classes)
		if !ok {
			batch.Skipped++
			continue
		}

		history, err := lookup.History(ctx, t.Symbol(), t.OpenedAt().Add(-a.builder.Lookback()))
		if err != nil {
			return Batch{}, fmt.Errorf("history for %s: %w", t.Symbol(), err)
		}

		vec, err := a.builder.Build(history, t.OpenedAt())
		if err != nil {
			if errors.Is(err, features.ErrInsufficientHistory) || errors.Is(err, features.ErrInvalidPrice) {
				log.Debug().Str("trade_id", t.ID()).Str("symbol", t.Symbol()).Err(err).Msg("Skipping trade for training")
				batch.Skipped++
				continue
			}
			return Batch{}, err
		}

		label := make([]float64, a.classes)
		label[class] = 1
		samples = append(samples, Sample{
			TradeID:  t.ID(),
			Symbol:   t.Symbol(),
			Features: vec,
			Class:    class,
			Label:    label,
		})
	}

	if len(samples) < a.minSamples {
		log.Info().
			Int("usable", len(samples)).
			Int("min_samples", a.minSamples).
			Int("skipped", batch.Skipped).
			Msg("Not enough samples to train")
		return batch, nil
	}

	batch.Samples = samples
	return batch, nil
}

// Label maps a closed trade to its class index. Winning longs are bullish and winning shorts
// bearish. Two-class models label every other outcome with the opposite direction; three-class
// models send neutral results to ClassNeutral. Open trades have no label.
func Label(t trade.Trade, classes int) (int, bool) {
	c, ok := t.Closing()
	if !ok {
		return 0, false
	}

	same, opposite := ClassBullish, ClassBearish
	if t.Side() == market.Short {
		same, opposite = ClassBearish, ClassBullish
	}

	switch {
	case c.Result == trade.Win:
		return same, true
	case c.Result == trade.Neutral && classes == 3:
		return ClassNeutral, true
	default:
		// losses, and timeouts in two-class models
		return opposite, true
	}
}

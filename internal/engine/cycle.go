package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/features"
	"github.com/sawpanic/predictrun/internal/nn"
	"github.com/sawpanic/predictrun/internal/ranking"
)

// CycleReport describes one prediction cycle
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration

	ClosedTrades    int
	TrainingSamples int
	TrainingSkipped int
	TrainingErr     error
	Training        *nn.TrainReport

	Eligible int
	Scored   int
	NoSignal bool
	Batch    market.Batch

	Opened      int
	OpenSkipped int
}

// PredictionCycle assembles a training set from closed trades, retrains, ranks the eligible
// symbols and opens trades for the new signals. Training problems never stop ranking with the
// previous model. Concurrent calls are serialized.
func (e *Engine) PredictionCycle(ctx context.Context) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	timer := e.deps.Metrics.StartCycle("predict")
	now := e.deps.Clock()
	report := CycleReport{StartedAt: now}

	if err := e.train(ctx, now, &report); err != nil {
		return report, err
	}

	vectors, eligible, err := e.features(ctx, now)
	if err != nil {
		return report, err
	}
	report.Eligible = len(eligible)
	report.Scored = len(vectors)

	if !e.deps.Model.Trained() {
		report.NoSignal = true
		report.Duration = timer.Stop()
		e.logger.Info().Int("eligible", len(eligible)).Msg("No model available, nothing published")
		return report, nil
	}

	batch, err := ranking.Rank(eligible, vectors, e.deps.Model, e.cfg.TopK, now)
	if err != nil {
		return report, fmt.Errorf("rank symbols: %w", err)
	}
	report.Batch = batch

	if err := e.deps.Signals.SaveBatch(ctx, batch); err != nil {
		e.logger.Error().Err(err).Msg("Failed to store prediction batch")
	}
	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.Publish(ctx, batch); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish prediction batch")
		} else {
			e.deps.Metrics.SignalsSent(len(batch.Long), len(batch.Short))
		}
	}

	opened, err := e.deps.Lifecycle.OpenBatch(ctx, batch)
	report.Opened = len(opened.Opened)
	report.OpenSkipped = opened.Skipped
	if err != nil {
		e.logger.Error().Err(err).Msg("Some signals could not be opened")
	}

	report.Duration = timer.Stop()
	e.logger.Info().
		Int("long", len(batch.Long)).
		Int("short", len(batch.Short)).
		Int("opened", report.Opened).
		Int("open_skipped", report.OpenSkipped).
		Dur("duration", report.Duration).
		Msg("Prediction cycle completed")
	return report, nil
}

// train runs the assemble/train half of the cycle. Only cancellation is returned as an error;
// every other failure is recorded on the report and the previous model stays live.
func (e *Engine) train(ctx context.Context, now time.Time, report *CycleReport) error {
	var since time.Time
	if e.cfg.TrainingWindow > 0 {
		since = now.Add(-e.cfg.TrainingWindow)
	}

	closed, err := e.deps.Trades.ClosedTrades(ctx, since)
	if err != nil {
		report.TrainingErr = fmt.Errorf("load closed trades: %w", err)
		e.logger.Error().Err(err).Msg("Failed to load closed trades")
		return ctx.Err()
	}
	if e.cfg.MaxTrainingTrades > 0 && len(closed) > e.cfg.MaxTrainingTrades {
		closed = closed[:e.cfg.MaxTrainingTrades]
	}
	report.ClosedTrades = len(closed)

	batch, err := e.deps.Assembler.Assemble(ctx, closed, e.deps.Prices)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		report.TrainingErr = err
		e.logger.Error().Err(err).Msg("Failed to assemble training set")
		return nil
	}
	report.TrainingSkipped = batch.Skipped
	e.deps.Metrics.TrainingSkip(batch.Skipped)

	if batch.Empty() {
		report.TrainingErr = ErrEmptyTrainingBatch
		e.deps.Metrics.TrainingNotRun()
		e.logger.Info().
			Err(ErrEmptyTrainingBatch).
			Int("closed_trades", len(closed)).
			Int("skipped", batch.Skipped).
			Msg("Keeping current model")
		return nil
	}
	report.TrainingSamples = len(batch.Samples)

	result, err := e.deps.Model.Train(ctx, batch.X(), batch.Y(), e.cfg.Epochs, e.cfg.LearningRate)
	if err != nil {
		report.TrainingErr = err
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			e.deps.Metrics.TrainingFailed("cancelled")
			return err
		case errors.Is(err, nn.ErrNumericFailure):
			e.deps.Metrics.TrainingFailed("numeric")
			e.logger.Error().Err(err).Int("samples", len(batch.Samples)).Msg("ALERT: training diverged, update discarded")
		default:
			e.deps.Metrics.TrainingFailed("error")
			e.logger.Error().Err(err).Msg("Training failed, update discarded")
		}
		return nil
	}

	report.Training = &result
	e.deps.Metrics.TrainingSucceeded(result.Version, result.Samples, result.FinalLoss())
	e.logger.Info().
		Int64("version", result.Version).
		Int("samples", result.Samples).
		Float64("loss", result.FinalLoss()).
		Dur("duration", result.Duration).
		Msg("Model trained")

	if e.cfg.PersistModel && e.deps.Models != nil {
		state, err := e.deps.Model.Export()
		if err == nil {
			err = e.deps.Models.SaveState(ctx, state)
		}
		if err != nil {
			e.logger.Error().Err(err).Msg("Failed to persist classifier state")
		}
	}
	return nil
}

// features builds one tick vector per symbol priced inside the eligibility window
func (e *Engine) features(ctx context.Context, now time.Time) (map[string]features.Vector, []string, error) {
	eligible, err := e.deps.Prices.Symbols(ctx, now.Add(-e.cfg.EligibleWindow))
	if err != nil {
		return nil, nil, fmt.Errorf("list eligible symbols: %w", err)
	}

	var since time.Time
	if e.cfg.FeatureHistory > 0 {
		since = now.Add(-e.cfg.FeatureHistory)
	}

	vectors := make(map[string]features.Vector, len(eligible))
	for _, symbol := range eligible {
		history, err := e.deps.Prices.History(ctx, symbol, since)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("History lookup failed")
			continue
		}
		vec, err := e.deps.TickBuilder.Build(history, now)
		if err != nil {
			e.logger.Debug().Err(err).Str("symbol", symbol).Msg("Symbol not scored")
			continue
		}
		vectors[symbol] = vec
	}
	return vectors, eligible, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/features"
	"github.com/sawpanic/predictrun/internal/lifecycle"
	"github.com/sawpanic/predictrun/internal/metrics"
	"github.com/sawpanic/predictrun/internal/nn"
	"github.com/sawpanic/predictrun/internal/persistence"
	"github.com/sawpanic/predictrun/internal/ranking"
	"github.com/sawpanic/predictrun/internal/training"
)

// ErrEmptyTrainingBatch is reported when too few closed trades could be turned into samples
var ErrEmptyTrainingBatch = errors.New("empty training batch")

// Config controls the prediction cycle
type Config struct {
	TrainingWindow    time.Duration `yaml:"training_window"` // zero trains on all closed trades
	MaxTrainingTrades int           `yaml:"max_training_trades"`
	Epochs            int           `yaml:"epochs"`
	LearningRate      float64       `yaml:"learning_rate"`
	TopK              int           `yaml:"top_k"`
	EligibleWindow    time.Duration `yaml:"eligible_window"`
	FeatureHistory    time.Duration `yaml:"feature_history"` // zero reads the full history
	PersistModel      bool          `yaml:"persist_model"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxTrainingTrades: 1000,
		Epochs:            1000,
		LearningRate:      0.01,
		TopK:              ranking.DefaultTopK,
		EligibleWindow:    24 * time.Hour,
		FeatureHistory:    7 * 24 * time.Hour,
		PersistModel:      true,
	}
}

// Validate checks the cycle settings
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive")
	}
	if !(c.LearningRate > 0) {
		return fmt.Errorf("learning_rate must be positive")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.EligibleWindow <= 0 {
		return fmt.Errorf("eligible_window must be positive")
	}
	if c.MaxTrainingTrades < 0 || c.TrainingWindow < 0 || c.FeatureHistory < 0 {
		return fmt.Errorf("training and history windows cannot be negative")
	}
	return nil
}

// Deps are the collaborators of the engine. Publisher and Models are optional.
type Deps struct {
	Prices      persistence.PriceStore
	Trades      persistence.TradeStore
	Signals     persistence.SignalStore
	Publisher   persistence.SignalPublisher
	Models      persistence.ModelStore
	Model       *nn.Model
	Assembler   *training.Assembler
	TickBuilder *features.Builder
	Lifecycle   *lifecycle.Manager
	Metrics     *metrics.Registry
	Clock       func() time.Time
}

// Engine drives evaluation ticks and prediction cycles
type Engine struct {
	cfg     Config
	deps    Deps
	cycleMu sync.Mutex
	logger  zerolog.Logger
}

// New validates the wiring
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Prices == nil:
		return nil, fmt.Errorf("price store is required")
	case deps.Trades == nil:
		return nil, fmt.Errorf("trade store is required")
	case deps.Signals == nil:
		return nil, fmt.Errorf("signal store is required")
	case deps.Model == nil:
		return nil, fmt.Errorf("model is required")
	case deps.Assembler == nil:
		return nil, fmt.Errorf("training assembler is required")
	case deps.TickBuilder == nil:
		return nil, fmt.Errorf("tick feature builder is required")
	case deps.Lifecycle == nil:
		return nil, fmt.Errorf("lifecycle manager is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: log.With().Str("component", "engine").Logger(),
	}, nil
}

// Model exposes the live classifier owner
func (e *Engine) Model() *nn.Model { return e.deps.Model }

// EvaluateTick closes every open trade whose exit rule fires at the current prices
func (e *Engine) EvaluateTick(ctx context.Context) (lifecycle.EvaluationReport, error) {
	timer := e.deps.Metrics.StartCycle("evaluate")
	report, err := e.deps.Lifecycle.EvaluateOpen(ctx)
	d := timer.Stop()

	e.logger.Debug().
		Int("evaluated", report.Evaluated).
		Int("closed", len(report.Closed)).
		Int("skipped", report.Skipped).
		Dur("duration", d).
		Msg("Evaluation tick completed")
	return report, err
}

// Restore publishes the persisted classifier state, if any, so inference works before the
// first training cycle. It reports whether a state was loaded.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	if e.deps.Models == nil {
		return false, nil
	}
	state, ok, err := e.deps.Models.LoadState(ctx)
	if err != nil {
		return false, fmt.Errorf("load classifier state: %w", err)
	}
	if !ok {
		e.logger.Info().Msg("No persisted classifier state")
		return false, nil
	}
	if err := e.deps.Model.Import(state); err != nil {
		return false, fmt.Errorf("import classifier state: %w", err)
	}
	e.deps.Metrics.SetModelVersion(e.deps.Model.Version())
	e.logger.Info().Int64("version", e.deps.Model.Version()).Msg("Classifier state restored")
	return true, nil
}

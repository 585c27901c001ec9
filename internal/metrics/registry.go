package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every engine metric on its own Prometheus registry.
// All methods are safe on a nil *Registry and do nothing.
type Registry struct {
	reg *prometheus.Registry

	TradesOpened      *prometheus.CounterVec
	TradesClosed      *prometheus.CounterVec
	EvaluationSkipped prometheus.Counter
	OpenSkipped       prometheus.Counter

	TrainingRuns     *prometheus.CounterVec
	TrainingFailures *prometheus.CounterVec
	TrainingLoss     prometheus.Gauge
	TrainingSamples  prometheus.Gauge
	TrainingSkipped  prometheus.Counter
	ModelVersion     prometheus.Gauge

	SignalsPublished *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	QuoteRequests    *prometheus.CounterVec
}

// NewRegistry creates and registers all metrics, plus Go runtime collectors
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		TradesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictrun_trades_opened_total",
				Help: "Simulated trades opened by side",
			},
			[]string{"side"},
		),

		TradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictrun_trades_closed_total",
				Help: "Simulated trades closed by side and result",
			},
			[]string{"side", "result"},
		),

		EvaluationSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "predictrun_evaluation_skipped_total",
				Help: "Open trades left unevaluated because no current price was known",
			},
		),

		OpenSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "predictrun_open_skipped_total",
				Help: "Signals that did not open a trade",
			},
		),

		TrainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictrun_training_runs_total",
				Help: "Training runs by outcome",
			},
			[]string{"outcome"},
		),

		TrainingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictrun_training_failures_total",
				Help: "Rejected training runs by reason",
			},
			[]string{"reason"},
		),

		TrainingLoss: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "predictrun_training_loss",
				Help: "Final-epoch cross-entropy of the last published model",
			},
		),

		TrainingSamples: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "predictrun_training_samples",
				Help: "Samples in the last training batch",
			},
		),

		TrainingSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "predictrun_training_skipped_total",
				Help: "Closed trades dropped from training for insufficient history",
			},
		),

		ModelVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "predictrun_model_version",
				Help: "Version of the live classifier, 0 when untrained",
			},
		),

		SignalsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictrun_signals_published_total",
				Help: "Signals published by side",
			},
			[]string{"side"},
		),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "predictrun_cycle_duration_seconds",
				Help:    "Duration of evaluation and prediction cycles",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"cycle"},
		),

		QuoteRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictrun_quote_requests_total",
				Help: "Quote fetches by result",
			},
			[]string{"result"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.TradesOpened,
		r.TradesClosed,
		r.EvaluationSkipped,
		r.OpenSkipped,
		r.TrainingRuns,
		r.TrainingFailures,
		r.TrainingLoss,
		r.TrainingSamples,
		r.TrainingSkipped,
		r.ModelVersion,
		r.SignalsPublished,
		r.CycleDuration,
		r.QuoteRequests,
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) TradeOpened(side string) {
	if r == nil {
		return
	}
	r.TradesOpened.WithLabelValues(side).Inc()
}

func (r *Registry) TradeClosed(side, result string) {
	if r == nil {
		return
	}
	r.TradesClosed.WithLabelValues(side, result).Inc()
}

func (r *Registry) EvaluationSkip(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.EvaluationSkipped.Add(float64(n))
}

func (r *Registry) OpenSkip(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.OpenSkipped.Add(float64(n))
}

// TrainingSucceeded records a published model
func (r *Registry) TrainingSucceeded(version int64, samples int, loss float64) {
	if r == nil {
		return
	}
	r.TrainingRuns.WithLabelValues("published").Inc()
	r.ModelVersion.Set(float64(version))
	r.TrainingSamples.Set(float64(samples))
	r.TrainingLoss.Set(loss)
}

// TrainingFailed records a discarded run; numeric failures are logged at error level
func (r *Registry) TrainingFailed(reason string) {
	if r == nil {
		return
	}
	r.TrainingRuns.WithLabelValues("discarded").Inc()
	r.TrainingFailures.WithLabelValues(reason).Inc()
	log.Debug().Str("reason", reason).Msg("Training failure recorded")
}

// TrainingNotRun records a cycle that had no usable batch
func (r *Registry) TrainingNotRun() {
	if r == nil {
		return
	}
	r.TrainingRuns.WithLabelValues("empty").Inc()
}

func (r *Registry) TrainingSkip(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.TrainingSkipped.Add(float64(n))
}

func (r *Registry) SetModelVersion(v int64) {
	if r == nil {
		return
	}
	r.ModelVersion.Set(float64(v))
}

func (r *Registry) SignalsSent(long, short int) {
	if r == nil {
		return
	}
	r.SignalsPublished.WithLabelValues("long").Add(float64(long))
	r.SignalsPublished.WithLabelValues("short").Add(float64(short))
}

func (r *Registry) QuoteResult(result string) {
	if r == nil {
		return
	}
	r.QuoteRequests.WithLabelValues(result).Inc()
}

// CycleTimer tracks execution time for one cycle
type CycleTimer struct {
	metrics *Registry
	cycle   string
	start   time.Time
}

// StartCycle begins timing a cycle
func (r *Registry) StartCycle(cycle string) *CycleTimer {
	return &CycleTimer{metrics: r, cycle: cycle, start: time.Now()}
}

// Stop records the duration and returns it
func (ct *CycleTimer) Stop() time.Duration {
	d := time.Since(ct.start)
	if ct.metrics != nil {
		ct.metrics.CycleDuration.WithLabelValues(ct.cycle).Observe(d.Seconds())
	}
	return d
}

package breaker

import (
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// Breaker wraps a gobreaker circuit with the trip policy shared by outbound clients:
// open after three consecutive failures, or when more than 5% of at least 20 requests in
// one interval failed.
type Breaker struct{ cb *cb.CircuitBreaker }

// Option adjusts the settings before the circuit is built
type Option func(*cb.Settings)

// WithTimeout sets how long the circuit stays open before probing
func WithTimeout(d time.Duration) Option {
	return func(st *cb.Settings) { st.Timeout = d }
}

// WithSuccessFilter marks errors that must not count as failures
func WithSuccessFilter(ok func(err error) bool) Option {
	return func(st *cb.Settings) { st.IsSuccessful = ok }
}

func New(name string, opts ...Option) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		ev := log.Info()
		if to == cb.StateOpen {
			ev = log.Warn()
		}
		ev.Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit state changed")
	}
	for _, opt := range opts {
		opt(&st)
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

func (b *Breaker) State() cb.State { return b.cb.State() }

func (b *Breaker) Name() string { return b.cb.Name() }

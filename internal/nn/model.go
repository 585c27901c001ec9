package nn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// snapshot is an immutable published network; it is never mutated after the swap
type snapshot struct {
	net       *Network
	version   int64
	trainedAt time.Time
}

// TrainReport summarizes one successful training run
type TrainReport struct {
	Samples  int
	Epochs   int
	Losses   []float64
	Version  int64
	Duration time.Duration
}

// FinalLoss returns the loss of the last epoch
func (r TrainReport) FinalLoss() float64 {
	if len(r.Losses) == 0 {
		return 0
	}
	return r.Losses[len(r.Losses)-1]
}

// Model owns the live classifier. Training works on a private clone and the result is
// published with a single atomic swap, so inference never observes partial updates.
type Model struct {
	mu      sync.Mutex
	topo    Topology
	seed    int64
	current atomic.Pointer[snapshot]
	now     func() time.Time
}

// NewModel validates the topology and returns an untrained model
func NewModel(topo Topology, seed int64) (*Model, error) {
	if topo.Activation == "" {
		topo.Activation = Sigmoid
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return &Model{topo: topo, seed: seed, now: time.Now}, nil
}

// Topology returns the configured shape
func (m *Model) Topology() Topology { return m.topo }

// Trained reports whether a network has been published by training or import
func (m *Model) Trained() bool { return m.current.Load() != nil }

// Version increments on every published network; zero means untrained
func (m *Model) Version() int64 {
	if s := m.current.Load(); s != nil {
		return s.version
	}
	return 0
}

// TrainedAt returns when the live network was published
func (m *Model) TrainedAt() time.Time {
	if s := m.current.Load(); s != nil {
		return s.trainedAt
	}
	return time.Time{}
}

// Train runs epochs of full-batch training and publishes the result only when the run
// completes with finite parameters. Concurrent calls are serialized. The first run starts
// from seeded weights; later runs continue from the live network.
func (m *Model) Train(ctx context.Context, x, y *Matrix, epochs int, lr float64) (TrainReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.now()

	var candidate *Network
	prev := m.current.Load()
	if prev != nil {
		candidate = prev.net.Clone()
	} else {
		fresh, err := New(m.topo, m.seed)
		if err != nil {
			return TrainReport{}, err
		}
		candidate = fresh
	}

	losses, err := candidate.Train(ctx, x, y, epochs, lr)
	if err != nil {
		return TrainReport{}, fmt.Errorf("training discarded: %w", err)
	}
	if len(losses) == 0 {
		return TrainReport{}, fmt.Errorf("training discarded: no epochs ran")
	}
	if !candidate.Finite() {
		return TrainReport{}, fmt.Errorf("training discarded: %w: non-finite weights after update", ErrNumericFailure)
	}

	var version int64 = 1
	if prev != nil {
		version = prev.version + 1
	}
	now := m.now()
	m.current.Store(&snapshot{net: candidate, version: version, trainedAt: now})

	return TrainReport{
		Samples:  x.Rows,
		Epochs:   len(losses),
		Losses:   losses,
		Version:  version,
		Duration: now.Sub(start),
	}, nil
}

// PredictProba scores x with the live network
func (m *Model) PredictProba(x *Matrix) (*Matrix, error) {
	s := m.current.Load()
	if s == nil {
		return nil, ErrUntrained
	}
	return s.net.PredictProba(x)
}

// Predict returns argmax classes from the live network
func (m *Model) Predict(x *Matrix) ([]int, error) {
	s := m.current.Load()
	if s == nil {
		return nil, ErrUntrained
	}
	return s.net.Predict(x)
}

// Export returns the live ClassifierState
func (m *Model) Export() (State, error) {
	s := m.current.Load()
	if s == nil {
		return State{}, ErrUntrained
	}
	return s.net.State(), nil
}

// Import publishes a previously exported state. Its input and output sizes must match the model.
func (m *Model) Import(s State) error {
	net, err := FromState(s)
	if err != nil {
		return err
	}
	if s.Topology.InputSize != m.topo.InputSize || s.Topology.OutputSize != m.topo.OutputSize {
		return fmt.Errorf("%w: state is %d->%d, model is %d->%d", ErrShape,
			s.Topology.InputSize, s.Topology.OutputSize, m.topo.InputSize, m.topo.OutputSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var version int64 = 1
	if prev := m.current.Load(); prev != nil {
		version = prev.version + 1
	}
	m.current.Store(&snapshot{net: net, version: version, trainedAt: m.now()})
	return nil
}

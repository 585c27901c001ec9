package nn

import (
	"encoding/json"
	"fmt"
)

// LayerState is the serializable form of one layer
type LayerState struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// State is the exported ClassifierState: topology plus ordered layer parameters
type State struct {
	Topology Topology     `json:"topology"`
	Layers   []LayerState `json:"layers"`
}

// State exports a deep copy of the network parameters
func (n *Network) State() State {
	s := State{Topology: n.topo, Layers: make([]LayerState, len(n.layers))}
	for i, l := range n.layers {
		b := make([]float64, len(l.B))
		copy(b, l.B)
		s.Layers[i] = LayerState{Weights: l.W.ToRows(), Bias: b}
	}
	return s
}

// FromState rebuilds a network, checking every layer against the topology
func FromState(s State) (*Network, error) {
	if err := s.Topology.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	sizes := s.Topology.sizes()
	if len(s.Layers) != len(sizes)-1 {
		return nil, fmt.Errorf("%w: %d layers for topology expecting %d", ErrShape, len(s.Layers), len(sizes)-1)
	}

	layers := make([]Layer, len(s.Layers))
	for i, ls := range s.Layers {
		w, err := FromRows(ls.Weights)
		if err != nil {
			return nil, fmt.Errorf("layer %d weights: %w", i, err)
		}
		if w.Rows != sizes[i] || w.Cols != sizes[i+1] {
			return nil, fmt.Errorf("%w: layer %d is %dx%d, want %dx%d", ErrShape, i, w.Rows, w.Cols, sizes[i], sizes[i+1])
		}
		if len(ls.Bias) != sizes[i+1] {
			return nil, fmt.Errorf("%w: layer %d bias has %d entries, want %d", ErrShape, i, len(ls.Bias), sizes[i+1])
		}
		b := make([]float64, len(ls.Bias))
		copy(b, ls.Bias)
		layers[i] = Layer{W: w, B: b}
	}

	n := &Network{topo: s.Topology, layers: layers}
	if !n.Finite() {
		return nil, fmt.Errorf("%w: state contains non-finite parameters", ErrNumericFailure)
	}
	return n, nil
}

// MarshalState encodes a state as JSON
func MarshalState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState decodes a JSON state
func UnmarshalState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode classifier state: %w", err)
	}
	return s, nil
}

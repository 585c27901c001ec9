package nn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrNumericFailure is returned when training produced NaN or Inf values
	ErrNumericFailure = errors.New("numeric failure")
	// ErrUntrained is returned when inference is requested before any successful training
	ErrUntrained = errors.New("model not trained")
)

const (
	// preactivation clamp keeps exp() finite
	clampBound  = 500.0
	lossEpsilon = 1e-15
)

// Activation selects the hidden-layer nonlinearity
type Activation string

const (
	Sigmoid Activation = "sigmoid"
	ReLU    Activation = "relu"
)

// Topology describes the network shape
type Topology struct {
	InputSize    int        `json:"input_size" yaml:"input_size"`
	HiddenLayers int        `json:"hidden_layers" yaml:"hidden_layers"`
	HiddenWidth  int        `json:"hidden_width" yaml:"hidden_width"`
	OutputSize   int        `json:"output_size" yaml:"output_size"`
	Activation   Activation `json:"activation" yaml:"activation"`
}

// Validate checks the topology can be built
func (t Topology) Validate() error {
	if t.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", t.InputSize)
	}
	if t.HiddenLayers < 0 {
		return fmt.Errorf("hidden layers cannot be negative, got %d", t.HiddenLayers)
	}
	if t.HiddenLayers > 0 && t.HiddenWidth <= 0 {
		return fmt.Errorf("hidden width must be positive, got %d", t.HiddenWidth)
	}
	if t.OutputSize < 2 {
		return fmt.Errorf("output size must be at least 2, got %d", t.OutputSize)
	}
	switch t.Activation {
	case Sigmoid, ReLU:
	default:
		return fmt.Errorf("unknown activation %q", t.Activation)
	}
	return nil
}

// sizes returns the width of every layer boundary, input first
func (t Topology) sizes() []int {
	sizes := []int{t.InputSize}
	for i := 0; i < t.HiddenLayers; i++ {
		sizes = append(sizes, t.HiddenWidth)
	}
	return append(sizes, t.OutputSize)
}

// Layer is one dense layer: W is fan-in x fan-out, B has fan-out entries
type Layer struct {
	W *Matrix
	B []float64
}

// Network is a feedforward classifier with softmax output
type Network struct {
	topo   Topology
	layers []Layer
}

// New builds a network with variance-scaled random weights drawn from seed.
// Sigmoid networks use Xavier-uniform bounds, ReLU networks use He-normal scaling.
func New(topo Topology, seed int64) (*Network, error) {
	if topo.Activation == "" {
		topo.Activation = Sigmoid
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	sizes := topo.sizes()
	layers := make([]Layer, len(sizes)-1)

	for i := range layers {
		fanIn, fanOut := sizes[i], sizes[i+1]
		w := NewMatrix(fanIn, fanOut)
		switch topo.Activation {
		case ReLU:
			std := math.Sqrt(2.0 / float64(fanIn))
			for k := range w.Data {
				w.Data[k] = rng.NormFloat64() * std
			}
		default:
			limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
			for k := range w.Data {
				w.Data[k] = (rng.Float64()*2 - 1) * limit
			}
		}
		layers[i] = Layer{W: w, B: make([]float64, fanOut)}
	}

	return &Network{topo: topo, layers: layers}, nil
}

// Topology returns the network shape
func (n *Network) Topology() Topology { return n.topo }

// Layers exposes the layer list; callers must not mutate it
func (n *Network) Layers() []Layer { return n.layers }

// Clone deep-copies every weight and bias
func (n *Network) Clone() *Network {
	layers := make([]Layer, len(n.layers))
	for i, l := range n.layers {
		b := make([]float64, len(l.B))
		copy(b, l.B)
		layers[i] = Layer{W: l.W.Clone(), B: b}
	}
	return &Network{topo: n.topo, layers: layers}
}

// Finite reports whether every parameter is a finite number
func (n *Network) Finite() bool {
	for _, l := range n.layers {
		if !l.W.Finite() || !finite(l.B) {
			return false
		}
	}
	return true
}

// Forward runs inference. It returns the softmax output and every activation,
// input first and output last, which Backward consumes.
func (n *Network) Forward(x *Matrix) (*Matrix, []*Matrix, error) {
	if x.Cols != n.topo.InputSize {
		return nil, nil, fmt.Errorf("%w: input has %d features, network expects %d", ErrShape, x.Cols, n.topo.InputSize)
	}

	acts := make([]*Matrix, 0, len(n.layers)+1)
	acts = append(acts, x)
	cur := x

	for i, l := range n.layers {
		z, err := Dot(cur, l.W)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if err := addRowVector(z, l.B); err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}

		if i == len(n.layers)-1 {
			softmaxRows(z)
		} else {
			n.activate(z)
		}
		acts = append(acts, z)
		cur = z
	}

	return cur, acts, nil
}

// Backward computes mean cross-entropy against one-hot y, backpropagates, and applies
// one gradient-descent step of size lr to every weight and bias. It returns the loss.
func (n *Network) Backward(x, y *Matrix, acts []*Matrix, lr float64) (float64, error) {
	if len(acts) != len(n.layers)+1 {
		return 0, fmt.Errorf("%w: %d activations for %d layers", ErrShape, len(acts), len(n.layers))
	}
	output := acts[len(acts)-1]
	if y.Rows != x.Rows || y.Cols != n.topo.OutputSize || output.Rows != y.Rows || output.Cols != y.Cols {
		return 0, fmt.Errorf("%w: labels %dx%d, output %dx%d", ErrShape, y.Rows, y.Cols, output.Rows, output.Cols)
	}

	batch := float64(x.Rows)

	var loss float64
	for k, t := range y.Data {
		if t != 0 {
			loss -= t * math.Log(output.Data[k]+lossEpsilon)
		}
	}
	loss /= batch

	// softmax + cross-entropy gradient
	delta := NewMatrix(output.Rows, output.Cols)
	for k := range delta.Data {
		delta.Data[k] = output.Data[k] - y.Data[k]
	}

	deltas := make([]*Matrix, len(n.layers))
	deltas[len(n.layers)-1] = delta
	for i := len(n.layers) - 1; i > 0; i-- {
		back, err := DotTransB(deltas[i], n.layers[i].W)
		if err != nil {
			return 0, fmt.Errorf("backprop layer %d: %w", i, err)
		}
		a := acts[i]
		for k := range back.Data {
			back.Data[k] *= n.derivative(a.Data[k])
		}
		deltas[i-1] = back
	}

	for i := range n.layers {
		grad, err := DotTransA(acts[i], deltas[i])
		if err != nil {
			return 0, fmt.Errorf("gradient layer %d: %w", i, err)
		}
		w := n.layers[i].W
		for k := range w.Data {
			w.Data[k] -= lr * grad.Data[k] / batch
		}

		d := deltas[i]
		b := n.layers[i].B
		for j := range b {
			var sum float64
			for r := 0; r < d.Rows; r++ {
				sum += d.Data[r*d.Cols+j]
			}
			b[j] -= lr * sum / batch
		}
	}

	return loss, nil
}

// Train runs full-batch gradient descent for the given number of epochs and returns
// the loss of every epoch. Cancellation stops the loop between epochs.
func (n *Network) Train(ctx context.Context, x, y *Matrix, epochs int, lr float64) ([]float64, error) {
	if x.Rows == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	if epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", epochs)
	}

	losses := make([]float64, 0, epochs)
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return losses, err
		}

		_, acts, err := n.Forward(x)
		if err != nil {
			return losses, err
		}
		loss, err := n.Backward(x, y, acts, lr)
		if err != nil {
			return losses, err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return losses, fmt.Errorf("%w: loss %v at epoch %d", ErrNumericFailure, loss, epoch)
		}
		losses = append(losses, loss)
	}
	return losses, nil
}

// PredictProba returns one class-probability row per input row
func (n *Network) PredictProba(x *Matrix) (*Matrix, error) {
	out, _, err := n.Forward(x)
	return out, err
}

// Predict returns the argmax class index per input row
func (n *Network) Predict(x *Matrix) ([]int, error) {
	proba, err := n.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return Argmax(proba), nil
}

// Argmax returns the index of the largest value in each row; ties resolve to the lowest index
func Argmax(m *Matrix) []int {
	out := make([]int, m.Rows)
	for i := 0; i < m.Rows; i++ {
		best := 0
		for j := 1; j < m.Cols; j++ {
			if m.At(i, j) > m.At(i, best) {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

func (n *Network) activate(z *Matrix) {
	for k, v := range z.Data {
		v = math.Max(-clampBound, math.Min(clampBound, v))
		if n.topo.Activation == ReLU {
			z.Data[k] = math.Max(0, v)
			continue
		}
		z.Data[k] = 1 / (1 + math.Exp(-v))
	}
}

// derivative is expressed in terms of the activation output
func (n *Network) derivative(a float64) float64 {
	if n.topo.Activation == ReLU {
		if a > 0 {
			return 1
		}
		return 0
	}
	return a * (1 - a)
}

func softmaxRows(z *Matrix) {
	for i := 0; i < z.Rows; i++ {
		row := z.Data[i*z.Cols : (i+1)*z.Cols]
		peak := row[0]
		for _, v := range row[1:] {
			if v > peak {
				peak = v
			}
		}
		var sum float64
		for j, v := range row {
			row[j] = math.Exp(v - peak)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

package nn

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedModel(t *testing.T) (*Model, *Matrix) {
	t.Helper()
	m, err := NewModel(smallTopology(), 42)
	require.NoError(t, err)
	x, y := separable(t, 32, 5)
	_, err = m.Train(context.Background(), x, y, 200, 0.5)
	require.NoError(t, err)
	return m, x
}

func TestModel_UntrainedRefusesInference(t *testing.T) {
	m, err := NewModel(smallTopology(), 42)
	require.NoError(t, err)

	assert.False(t, m.Trained())
	assert.Zero(t, m.Version())

	_, err = m.PredictProba(NewMatrix(1, 4))
	assert.ErrorIs(t, err, ErrUntrained)
	_, err = m.Export()
	assert.ErrorIs(t, err, ErrUntrained)
}

func TestModel_TrainPublishesNewVersion(t *testing.T) {
	m, x := trainedModel(t)
	assert.True(t, m.Trained())
	assert.Equal(t, int64(1), m.Version())
	assert.False(t, m.TrainedAt().IsZero())

	_, y := separable(t, 32, 5)
	report, err := m.Train(context.Background(), x, y, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Version)
	assert.Equal(t, 32, report.Samples)
	assert.Len(t, report.Losses, 10)
	assert.Equal(t, report.Losses[9], report.FinalLoss())
}

func TestModel_ZeroEpochsLeavesModelUntrained(t *testing.T) {
	m, err := NewModel(smallTopology(), 42)
	require.NoError(t, err)
	x, y := separable(t, 32, 5)

	_, err = m.Train(context.Background(), x, y, 0, 0.5)
	assert.Error(t, err)
	assert.False(t, m.Trained())
	assert.Zero(t, m.Version())

	_, err = m.Predict(x)
	assert.ErrorIs(t, err, ErrUntrained)
}

func TestModel_ZeroEpochsKeepsLiveNetwork(t *testing.T) {
	m, x := trainedModel(t)
	before, err := m.Export()
	require.NoError(t, err)
	_, y := separable(t, 32, 5)

	_, err = m.Train(context.Background(), x, y, -1, 0.5)
	assert.Error(t, err)
	assert.Equal(t, int64(1), m.Version())

	after, err := m.Export()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestModel_Predict(t *testing.T) {
	m, err := NewModel(smallTopology(), 42)
	require.NoError(t, err)
	_, err = m.Predict(NewMatrix(1, 4))
	assert.ErrorIs(t, err, ErrUntrained)

	m, x := trainedModel(t)
	classes, err := m.Predict(x)
	require.NoError(t, err)
	proba, err := m.PredictProba(x)
	require.NoError(t, err)
	assert.Equal(t, Argmax(proba), classes)
}

func TestModel_ExportImportReproducesProba(t *testing.T) {
	m, x := trainedModel(t)
	want, err := m.PredictProba(x)
	require.NoError(t, err)

	state, err := m.Export()
	require.NoError(t, err)
	data, err := MarshalState(state)
	require.NoError(t, err)
	decoded, err := UnmarshalState(data)
	require.NoError(t, err)

	other, err := NewModel(smallTopology(), 99)
	require.NoError(t, err)
	require.NoError(t, other.Import(decoded))

	got, err := other.PredictProba(x)
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
}

func TestModel_NumericFailureKeepsPriorState(t *testing.T) {
	m, x := trainedModel(t)
	before, err := m.PredictProba(x)
	require.NoError(t, err)

	bad := x.Clone()
	bad.Set(0, 1, math.Inf(1))
	bad.Set(1, 2, math.NaN())
	_, y := separable(t, 32, 5)

	_, err = m.Train(context.Background(), bad, y, 10, 0.5)
	assert.ErrorIs(t, err, ErrNumericFailure)
	assert.Equal(t, int64(1), m.Version())

	after, err := m.PredictProba(x)
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
}

func TestModel_CancelledRunIsDiscarded(t *testing.T) {
	m, x := trainedModel(t)
	before, err := m.Export()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, y := separable(t, 32, 5)
	_, err = m.Train(ctx, x, y, 50, 0.5)
	assert.ErrorIs(t, err, context.Canceled)

	after, err := m.Export()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(1), m.Version())
}

func TestModel_ImportRejectsMismatchedShape(t *testing.T) {
	m, _ := trainedModel(t)
	state, err := m.Export()
	require.NoError(t, err)

	topo := smallTopology()
	topo.InputSize = 6
	other, err := NewModel(topo, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Import(state), ErrShape)

	state.Layers[0].Bias = state.Layers[0].Bias[:2]
	assert.ErrorIs(t, m.Import(state), ErrShape)
}

func TestModel_InferenceDuringTraining(t *testing.T) {
	m, x := trainedModel(t)
	_, y := separable(t, 32, 5)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_, err := m.Train(context.Background(), x, y, 20, 0.5)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			proba, err := m.PredictProba(x)
			if assert.NoError(t, err) {
				assert.True(t, proba.Finite())
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(6), m.Version())
}

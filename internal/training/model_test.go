package training

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

func TestNewNetwork_RequiresAtLeastOneHiddenLayer(t *testing.T) {
	_, err := newNetwork(4, types.ModelConfig{}, classOrder(), rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestNetwork_ForwardProducesValidProbabilityRows(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net, err := newNetwork(3, types.ModelConfig{Layers: []int{4}, Activation: "relu"}, classOrder(), rng)
	require.NoError(t, err)

	x := mat.NewDense(2, 3, []float64{1, 2, 3, -1, 0, 1})
	out, _ := net.forward(x, false, rng)

	rows, cols := out.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, len(classOrder()), cols)
	for r := 0; r < rows; r++ {
		sum := 0.0
		for c := 0; c < cols; c++ {
			v := out.At(r, c)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "softmax row must sum to 1")
	}
}

func TestRunTraining_LossDecreasesOnSeparableData(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 60
	trainX := make([][]float64, n)
	trainY := make([]types.LabelClass, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			trainX[i] = []float64{1, 1}
			trainY[i] = types.LabelUp
		} else {
			trainX[i] = []float64{-1, -1}
			trainY[i] = types.LabelDown
		}
	}
	valX, valY := trainX[:10], trainY[:10]

	net, err := newNetwork(2, types.ModelConfig{Layers: []int{6}, Activation: "relu"}, classOrder(), rng)
	require.NoError(t, err)

	cfg := types.TrainingConfig{Epochs: 20, BatchSize: 10, LearningRate: 0.1, Seed: 7, ProgressEvery: 100, CancelCheckEvery: 100}
	metrics, err := runTraining(net, cfg, trainX, valX, trainY, valY, nil, nil)
	require.NoError(t, err)
	require.Len(t, metrics.History, 20)
	assert.Less(t, metrics.History[len(metrics.History)-1].TrainLoss, metrics.History[0].TrainLoss)
}

func TestRunTraining_CancellationStopsEarly(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	trainX := make([][]float64, 100)
	trainY := make([]types.LabelClass, 100)
	for i := range trainX {
		trainX[i] = []float64{float64(i % 3)}
		trainY[i] = types.LabelFlat
	}
	net, err := newNetwork(1, types.ModelConfig{Layers: []int{2}}, classOrder(), rng)
	require.NoError(t, err)

	cfg := types.TrainingConfig{Epochs: 5, BatchSize: 5, LearningRate: 0.01, CancelCheckEvery: 1}
	cancelled := false
	tok := cancelFunc(func() bool { return cancelled })
	calls := 0
	progress := func(ProgressUpdate) {
		calls++
		if calls == 3 {
			cancelled = true
		}
	}

	_, err = runTraining(net, cfg, trainX, trainX[:10], trainY, trainY[:10], progress, tok)
	require.Error(t, err)
}

package training

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// layer holds one fully-connected layer's parameters. Weights are stored
// as (inputDim x outputDim) so a batch forward pass is a single X*W matmul
// (gonum.org/v1/gonum/mat, the teacher's stat/optimized-strategy dependency
// generalized here from portfolio statistics to a small feed-forward net —
// no example repo trains a neural network, so this package's numerical
// core is authored directly against spec.md §4.6 step 8 rather than
// adapted from a precedent).
type layer struct {
	W          *mat.Dense
	B          *mat.Dense
	Activation string
}

// Network is a configurable feed-forward classifier: an ordered stack of
// layers ending in a softmax output over the label classes.
type Network struct {
	Layers  []*layer
	Dropout float64
	Classes []types.LabelClass
}

func newLayer(in, out int, activation string, rng *rand.Rand) *layer {
	scale := math.Sqrt(2.0 / float64(in))
	w := mat.NewDense(in, out, nil)
	w.Apply(func(i, j int, v float64) float64 { return rng.NormFloat64() * scale }, w)
	b := mat.NewDense(1, out, nil)
	return &layer{W: w, B: b, Activation: activation}
}

// newNetwork builds the layer stack from ModelConfig.Layers (hidden layer
// widths); the final layer always has width len(classes) and a softmax
// activation regardless of the configured hidden activation.
func newNetwork(inputDim int, cfg types.ModelConfig, classes []types.LabelClass, rng *rand.Rand) (*Network, error) {
	if len(cfg.Layers) == 0 {
		return nil, errors.New(errors.ConfigError, "model config must declare at least one hidden layer width")
	}
	activation := cfg.Activation
	if activation == "" {
		activation = "relu"
	}

	net := &Network{Dropout: cfg.Dropout, Classes: classes}
	prev := inputDim
	for _, width := range cfg.Layers {
		net.Layers = append(net.Layers, newLayer(prev, width, activation, rng))
		prev = width
	}
	net.Layers = append(net.Layers, newLayer(prev, len(classes), "softmax", rng))
	return net, nil
}

// forwardCache retains per-layer activations needed by backward.
type forwardCache struct {
	inputs []*mat.Dense // inputs[l] is the input to layer l (inputs[0] is the batch features)
	dropMask []*mat.Dense
}

func (n *Network) forward(x *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, forwardCache) {
	cache := forwardCache{inputs: make([]*mat.Dense, len(n.Layers)+1), dropMask: make([]*mat.Dense, len(n.Layers))}
	cache.inputs[0] = x
	cur := x
	for i, l := range n.Layers {
		rows, _ := cur.Dims()
		_, cols := l.W.Dims()
		z := mat.NewDense(rows, cols, nil)
		z.Mul(cur, l.W)
		z.Apply(func(r, c int, v float64) float64 { return v + l.B.At(0, c) }, z)

		a := applyActivation(l.Activation, z)

		if training && n.Dropout > 0 && i < len(n.Layers)-1 {
			mask := mat.NewDense(rows, cols, nil)
			keep := 1 - n.Dropout
			mask.Apply(func(r, c int, v float64) float64 {
				if rng.Float64() < keep {
					return 1 / keep
				}
				return 0
			}, mask)
			a.MulElem(a, mask)
			cache.dropMask[i] = mask
		}

		cache.inputs[i+1] = a
		cur = a
	}
	return cur, cache
}

// predict runs a forward pass in inference mode (no dropout) and returns class probabilities.
func (n *Network) predict(x *mat.Dense) *mat.Dense {
	out, _ := n.forward(x, false, nil)
	return out
}

func applyActivation(name string, z *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(z)
	switch name {
	case "relu":
		out.Apply(func(r, c int, v float64) float64 {
			if v < 0 {
				return 0
			}
			return v
		}, out)
	case "tanh":
		out.Apply(func(r, c int, v float64) float64 { return math.Tanh(v) }, out)
	case "sigmoid":
		out.Apply(func(r, c int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, out)
	case "softmax":
		return softmaxRows(z)
	default:
		out.Apply(func(r, c int, v float64) float64 { return v }, out)
	}
	return out
}

// activationGrad returns d(activation)/dz evaluated at the *activated*
// output a (cheap derivatives in terms of the forward value, standard for
// relu/tanh/sigmoid).
func activationGrad(name string, a *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(a)
	switch name {
	case "relu":
		out.Apply(func(r, c int, v float64) float64 {
			if v > 0 {
				return 1
			}
			return 0
		}, out)
	case "tanh":
		out.Apply(func(r, c int, v float64) float64 { return 1 - v*v }, out)
	case "sigmoid":
		out.Apply(func(r, c int, v float64) float64 { return v * (1 - v) }, out)
	default:
		out.Apply(func(r, c int, v float64) float64 { return 1 }, out)
	}
	return out
}

func softmaxRows(z *mat.Dense) *mat.Dense {
	rows, cols := z.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		max := math.Inf(-1)
		for c := 0; c < cols; c++ {
			if v := z.At(r, c); v > max {
				max = v
			}
		}
		sum := 0.0
		for c := 0; c < cols; c++ {
			e := math.Exp(z.At(r, c) - max)
			out.Set(r, c, e)
			sum += e
		}
		for c := 0; c < cols; c++ {
			out.Set(r, c, out.At(r, c)/sum)
		}
	}
	return out
}

// crossEntropyLoss computes mean categorical cross-entropy given predicted
// probabilities and one-hot targets.
func crossEntropyLoss(probs, onehot *mat.Dense) float64 {
	rows, cols := probs.Dims()
	sum := 0.0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if onehot.At(r, c) == 0 {
				continue
			}
			p := math.Max(probs.At(r, c), 1e-12)
			sum -= math.Log(p)
		}
	}
	return sum / float64(rows)
}

// backward computes per-layer weight/bias gradients via standard
// softmax-cross-entropy-simplified backprop (dZ of the output layer is
// probs-onehot directly) and applies dropout masks captured during the
// forward pass.
func (n *Network) backward(probs *mat.Dense, onehot *mat.Dense, cache forwardCache) ([]*mat.Dense, []*mat.Dense) {
	batch, _ := probs.Dims()
	gradW := make([]*mat.Dense, len(n.Layers))
	gradB := make([]*mat.Dense, len(n.Layers))

	dZ := mat.NewDense(batch, probs.RawMatrix().Cols, nil)
	dZ.Sub(probs, onehot)

	for l := len(n.Layers) - 1; l >= 0; l-- {
		lyr := n.Layers[l]
		input := cache.inputs[l]

		gw := mat.NewDense(input.RawMatrix().Cols, dZ.RawMatrix().Cols, nil)
		gw.Mul(input.T(), dZ)
		gw.Scale(1/float64(batch), gw)
		gradW[l] = gw

		gb := mat.NewDense(1, dZ.RawMatrix().Cols, nil)
		rows, cols := dZ.Dims()
		for c := 0; c < cols; c++ {
			sum := 0.0
			for r := 0; r < rows; r++ {
				sum += dZ.At(r, c)
			}
			gb.Set(0, c, sum/float64(batch))
		}
		gradB[l] = gb

		if l == 0 {
			break
		}
		dA := mat.NewDense(batch, lyr.W.RawMatrix().Rows, nil)
		dA.Mul(dZ, lyr.W.T())

		prevLayer := n.Layers[l-1]
		if cache.dropMask[l-1] != nil {
			dA.MulElem(dA, cache.dropMask[l-1])
		}
		grad := activationGrad(prevLayer.Activation, cache.inputs[l])
		next := mat.NewDense(batch, grad.RawMatrix().Cols, nil)
		next.MulElem(dA, grad)
		dZ = next
	}

	return gradW, gradB
}

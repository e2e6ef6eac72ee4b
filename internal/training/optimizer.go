package training

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// optimizer applies one parameter update given fresh gradients. Each
// network layer owns its own optimizer state (velocity/moment matrices),
// so concurrent per-symbol runs never share mutable state.
type optimizer interface {
	step(layerIdx int, w, b, gradW, gradB *mat.Dense)
}

func newOptimizer(cfg types.TrainingConfig, layers int) optimizer {
	lr := cfg.LearningRate
	if lr == 0 {
		lr = 0.001
	}
	switch cfg.Optimizer {
	case "momentum":
		return newMomentumOptimizer(lr, cfg.Momentum, layers)
	case "adam":
		return newAdamOptimizer(lr, layers)
	default:
		return &sgdOptimizer{lr: lr}
	}
}

type sgdOptimizer struct{ lr float64 }

func (o *sgdOptimizer) step(_ int, w, b, gradW, gradB *mat.Dense) {
	applyStep(w, gradW, o.lr)
	applyStep(b, gradB, o.lr)
}

type momentumOptimizer struct {
	lr, beta float64
	velW, velB []*mat.Dense
}

func newMomentumOptimizer(lr, beta float64, layers int) *momentumOptimizer {
	if beta == 0 {
		beta = 0.9
	}
	return &momentumOptimizer{lr: lr, beta: beta, velW: make([]*mat.Dense, layers), velB: make([]*mat.Dense, layers)}
}

func (o *momentumOptimizer) step(l int, w, b, gradW, gradB *mat.Dense) {
	if o.velW[l] == nil {
		r, c := gradW.Dims()
		o.velW[l] = mat.NewDense(r, c, nil)
		r, c = gradB.Dims()
		o.velB[l] = mat.NewDense(r, c, nil)
	}
	updateMomentum(o.velW[l], gradW, o.beta)
	updateMomentum(o.velB[l], gradB, o.beta)
	applyStep(w, o.velW[l], o.lr)
	applyStep(b, o.velB[l], o.lr)
}

func updateMomentum(vel, grad *mat.Dense, beta float64) {
	vel.Scale(beta, vel)
	scaled := mat.DenseCopyOf(grad)
	scaled.Scale(1-beta, scaled)
	vel.Add(vel, scaled)
}

type adamOptimizer struct {
	lr, beta1, beta2, eps float64
	t                     int
	mW, vW, mB, vB        []*mat.Dense
}

func newAdamOptimizer(lr float64, layers int) *adamOptimizer {
	return &adamOptimizer{
		lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8,
		mW: make([]*mat.Dense, layers), vW: make([]*mat.Dense, layers),
		mB: make([]*mat.Dense, layers), vB: make([]*mat.Dense, layers),
	}
}

func (o *adamOptimizer) step(l int, w, b, gradW, gradB *mat.Dense) {
	if o.mW[l] == nil {
		r, c := gradW.Dims()
		o.mW[l], o.vW[l] = mat.NewDense(r, c, nil), mat.NewDense(r, c, nil)
		r, c = gradB.Dims()
		o.mB[l], o.vB[l] = mat.NewDense(r, c, nil), mat.NewDense(r, c, nil)
	}
	if l == 0 {
		o.t++
	}
	applyAdam(o.mW[l], o.vW[l], w, gradW, o.beta1, o.beta2, o.eps, o.lr, o.t)
	applyAdam(o.mB[l], o.vB[l], b, gradB, o.beta1, o.beta2, o.eps, o.lr, o.t)
}

func applyAdam(m, v, param, grad *mat.Dense, beta1, beta2, eps, lr float64, t int) {
	m.Scale(beta1, m)
	g1 := mat.DenseCopyOf(grad)
	g1.Scale(1-beta1, g1)
	m.Add(m, g1)

	v.Scale(beta2, v)
	g2 := mat.DenseCopyOf(grad)
	g2.MulElem(g2, grad)
	g2.Scale(1-beta2, g2)
	v.Add(v, g2)

	mHatCorrection := 1 / (1 - math.Pow(beta1, float64(t)))
	vHatCorrection := 1 / (1 - math.Pow(beta2, float64(t)))

	rows, cols := param.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			mHat := m.At(r, c) * mHatCorrection
			vHat := v.At(r, c) * vHatCorrection
			param.Set(r, c, param.At(r, c)-lr*mHat/(math.Sqrt(vHat)+eps))
		}
	}
}

func applyStep(param, grad *mat.Dense, lr float64) {
	rows, cols := param.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			param.Set(r, c, param.At(r, c)-lr*grad.At(r, c))
		}
	}
}

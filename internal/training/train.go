package training

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// classOrder is the fixed column order every one-hot encoding and
// probability vector uses, independent of label occurrence order in the
// data — determinism requires a stable class axis (spec.md §4.6 closing note).
func classOrder() []types.LabelClass {
	return []types.LabelClass{types.LabelDown, types.LabelFlat, types.LabelUp}
}

func classIndex(classes []types.LabelClass, c types.LabelClass) int {
	for i, x := range classes {
		if x == c {
			return i
		}
	}
	return -1
}

func toMatrix(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return mat.NewDense(0, 0, nil)
	}
	flat := make([]float64, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return mat.NewDense(len(rows), len(rows[0]), flat)
}

func toOneHot(labels []types.LabelClass, classes []types.LabelClass) *mat.Dense {
	out := mat.NewDense(len(labels), len(classes), nil)
	for r, l := range labels {
		if idx := classIndex(classes, l); idx >= 0 {
			out.Set(r, idx, 1)
		}
	}
	return out
}

func batchBounds(n, batchSize int) [][2]int {
	if batchSize <= 0 {
		batchSize = n
	}
	var bounds [][2]int
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

// runTraining executes the feed-forward classifier training loop (spec.md
// §4.6 step 8): mini-batch gradient descent with a configurable optimizer,
// validation-metric early stopping with patience, throttled progress
// callbacks, and cancellation checked at least every 10 batches.
func runTraining(net *Network, cfg types.TrainingConfig, trainX, valX [][]float64, trainY, valY []types.LabelClass, progressCb ProgressFunc, cancelTok CancelToken) (types.TrainingMetrics, error) {
	if progressCb == nil {
		progressCb = func(ProgressUpdate) {}
	}
	if cancelTok == nil {
		cancelTok = neverCancel
	}
	cancelEvery := cfg.CancelCheckEvery
	if cancelEvery <= 0 || cancelEvery > 10 {
		cancelEvery = 10
	}

	classes := classOrder()
	opt := newOptimizer(cfg, len(net.Layers))
	rng := rand.New(rand.NewSource(cfg.Seed))

	valXM := toMatrix(valX)
	valYOneHot := toOneHot(valY, classes)

	var history []types.EpochMetrics
	bestValLoss := -1.0
	epochsSinceImprovement := 0
	batches := batchBounds(len(trainX), cfg.BatchSize)

	var lastTrainLoss, lastTrainAcc float64
	batchesRun := 0 // counts across epochs, so short epochs still reach a check

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		var epochLossSum float64
		var epochCorrect, epochTotal int

		for batchNum, bounds := range batches {
			batchesRun++
			if batchesRun%cancelEvery == 0 && cancelTok.Cancelled() {
				return types.TrainingMetrics{}, errors.New(errors.Cancelled, "training cancelled")
			}

			xBatch := toMatrix(trainX[bounds[0]:bounds[1]])
			yBatch := trainY[bounds[0]:bounds[1]]
			oneHot := toOneHot(yBatch, classes)

			probs, cache := net.forward(xBatch, true, rng)
			loss := crossEntropyLoss(probs, oneHot)
			gradW, gradB := net.backward(probs, oneHot, cache)
			for l, layer := range net.Layers {
				opt.step(l, layer.W, layer.B, gradW[l], gradB[l])
			}

			correct := countCorrect(probs, yBatch, classes)
			epochCorrect += correct
			epochTotal += len(yBatch)
			epochLossSum += loss * float64(len(yBatch))

			if progressEvery := cfg.ProgressEvery; progressEvery <= 0 || (batchNum+1)%progressEvery == 0 {
				progressCb(ProgressUpdate{
					Type: "batch", Epoch: epoch, TotalEpochs: cfg.Epochs,
					Batch: batchNum + 1, TotalBatches: len(batches),
					Metrics: map[string]float64{"loss": loss},
				})
			}
		}

		lastTrainLoss = epochLossSum / float64(epochTotal)
		lastTrainAcc = float64(epochCorrect) / float64(epochTotal)

		valProbs := net.predict(valXM)
		valLoss := crossEntropyLoss(valProbs, valYOneHot)
		valAcc := float64(countCorrect(valProbs, valY, classes)) / float64(len(valY))

		history = append(history, types.EpochMetrics{
			Epoch: epoch, TrainLoss: lastTrainLoss, ValLoss: valLoss,
			TrainAccuracy: lastTrainAcc, ValAccuracy: valAcc,
		})

		progressCb(ProgressUpdate{
			Type: "epoch", Epoch: epoch, TotalEpochs: cfg.Epochs,
			Metrics: map[string]float64{"train_loss": lastTrainLoss, "val_loss": valLoss, "train_accuracy": lastTrainAcc, "val_accuracy": valAcc},
		})

		if cfg.EarlyStopping {
			if bestValLoss < 0 || valLoss < bestValLoss {
				bestValLoss = valLoss
				epochsSinceImprovement = 0
			} else {
				epochsSinceImprovement++
				if epochsSinceImprovement >= cfg.Patience {
					break
				}
			}
		}
	}

	final := history[len(history)-1]
	return types.TrainingMetrics{
		FinalTrainLoss: lastTrainLoss, FinalValLoss: final.ValLoss,
		FinalTrainAccuracy: lastTrainAcc, FinalValAccuracy: final.ValAccuracy,
		History: history,
	}, nil
}

func countCorrect(probs *mat.Dense, labels []types.LabelClass, classes []types.LabelClass) int {
	rows, cols := probs.Dims()
	correct := 0
	for r := 0; r < rows; r++ {
		best, bestVal := 0, probs.At(r, 0)
		for c := 1; c < cols; c++ {
			if v := probs.At(r, c); v > bestVal {
				best, bestVal = c, v
			}
		}
		if classes[best] == labels[r] {
			correct++
		}
	}
	return correct
}

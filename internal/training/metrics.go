package training

import (
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// evaluateTestSplit computes accuracy, loss, per-class precision/recall/F1,
// and a confusion matrix over the test split (spec.md §4.6 step 9). Rows
// are indexed by predicted class, columns by actual class.
func evaluateTestSplit(net *Network, testX [][]float64, testY []types.LabelClass) types.TestMetrics {
	classes := classOrder()
	x := toMatrix(testX)
	probs := net.predict(x)
	oneHot := toOneHot(testY, classes)
	loss := crossEntropyLoss(probs, oneHot)

	confusion := make([][]int, len(classes))
	for i := range confusion {
		confusion[i] = make([]int, len(classes))
	}

	rows, cols := probs.Dims()
	correct := 0
	for r := 0; r < rows; r++ {
		predicted, best := 0, probs.At(r, 0)
		for c := 1; c < cols; c++ {
			if v := probs.At(r, c); v > best {
				predicted, best = c, v
			}
		}
		actual := classIndex(classes, testY[r])
		confusion[predicted][actual]++
		if predicted == actual {
			correct++
		}
	}

	precision := make(map[types.LabelClass]float64, len(classes))
	recall := make(map[types.LabelClass]float64, len(classes))
	f1 := make(map[types.LabelClass]float64, len(classes))
	for i, class := range classes {
		tp := confusion[i][i]
		predictedAsI, actualI := 0, 0
		for j := range classes {
			predictedAsI += confusion[i][j]
			actualI += confusion[j][i]
		}
		p := safeDiv(float64(tp), float64(predictedAsI))
		r := safeDiv(float64(tp), float64(actualI))
		precision[class] = p
		recall[class] = r
		f1[class] = safeDiv(2*p*r, p+r)
	}

	return types.TestMetrics{
		Accuracy:        safeDiv(float64(correct), float64(rows)),
		Loss:            loss,
		Precision:       precision,
		Recall:          recall,
		F1:              f1,
		ConfusionMatrix: confusion,
	}
}

// evaluatePerSymbol groups test rows by their originating symbol (tagged
// at split time, never fed to the model) and computes a TestMetrics record
// for each (spec.md §4.6 step 9).
func evaluatePerSymbol(net *Network, testX [][]float64, testY []types.LabelClass, testSymbols []string) map[string]types.TestMetrics {
	bySymbol := make(map[string][]int)
	for i, s := range testSymbols {
		bySymbol[s] = append(bySymbol[s], i)
	}
	out := make(map[string]types.TestMetrics, len(bySymbol))
	for symbol, idx := range bySymbol {
		x := make([][]float64, len(idx))
		y := make([]types.LabelClass, len(idx))
		for i, row := range idx {
			x[i] = testX[row]
			y[i] = testY[row]
		}
		out[symbol] = evaluateTestSplit(net, x, y)
	}
	return out
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

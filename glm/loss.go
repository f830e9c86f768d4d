/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package glm

import (
	"io"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/glmsaga/data"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Softmax returns the row-wise softmax of logits, computed with the usual
// max-subtraction for numerical stability.
func Softmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		maxLogit := floats.Max(row)
		sum := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(row[j] - maxLogit)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

// OneHot encodes a (batchSize, 1) matrix of class ids as a
// (batchSize, numClasses) one-hot matrix.
func OneHot(labels *mat.Dense, numClasses int) *mat.Dense {
	rows, cols := labels.Dims()
	if cols != 1 {
		exceptions.Panicf("glm.OneHot: labels must be shaped (batchSize, 1), got (%d, %d)", rows, cols)
	}
	out := mat.NewDense(rows, numClasses, nil)
	for i := 0; i < rows; i++ {
		class := int(labels.At(i, 0))
		if class < 0 || class >= numClasses {
			exceptions.Panicf("glm.OneHot: label %d out of range [0, %d)", class, numClasses)
		}
		out.Set(i, class, 1)
	}
	return out
}

// CrossEntropy returns the mean softmax cross-entropy of logits against the
// (batchSize, 1) class ids in labels. If weights is non-nil, each example's
// loss is scaled by its weight before averaging.
func CrossEntropy(logits, labels *mat.Dense, weights []float64) float64 {
	rows, cols := logits.Dims()
	total := 0.0
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		maxLogit := floats.Max(row)
		sumExp := 0.0
		for j := 0; j < cols; j++ {
			sumExp += math.Exp(row[j] - maxLogit)
		}
		ce := maxLogit + math.Log(sumExp) - row[int(labels.At(i, 0))]
		if weights != nil {
			ce *= weights[i]
		}
		total += ce
	}
	return total / float64(rows)
}

// HalfMSE returns half the mean squared error between predictions and
// targets, averaged over every entry. If weights is non-nil, each example's
// squared errors are scaled by its weight before averaging.
func HalfMSE(predictions, targets *mat.Dense, weights []float64) float64 {
	rows, cols := predictions.Dims()
	total := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d := predictions.At(i, j) - targets.At(i, j)
			sq := 0.5 * d * d
			if weights != nil {
				sq *= weights[i]
			}
			total += sq
		}
	}
	return total / float64(rows*cols)
}

// Penalty returns the elastic-net penalty
// `lam*alpha*||W||_1 + 0.5*lam*(1-alpha)*||W||_2^2` of the model's weights.
// The bias is never regularized.
func Penalty(m Model, lam, alpha float64) float64 {
	// mat.Norm(w, 1) is the maximum absolute column sum, not the entrywise
	// L1 norm the penalty wants, so accumulate both norms directly.
	w := m.Weights()
	rows, cols := w.Dims()
	l1, l2sq := 0.0, 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := w.At(i, j)
			l1 += math.Abs(v)
			l2sq += v * v
		}
	}
	return lam*alpha*l1 + 0.5*lam*(1-alpha)*l2sq
}

// LossAndAcc computes the elastic-net penalized loss of the model on one
// batch, plus an accuracy metric.
//
// For Multinomial the base loss is the mean softmax cross-entropy and the
// metric is classification accuracy (argmax match). For Gaussian the base
// loss is half the mean squared error, and the metric is an exact-match
// rate on the continuous outputs -- almost always zero, kept only for
// interface parity, do not read anything into it.
func LossAndAcc(m Model, x, y *mat.Dense, lam, alpha float64, family Family) (loss, acc float64) {
	family.Check()
	out := m.Forward(x)
	rows, cols := out.Dims()
	switch family {
	case Multinomial:
		loss = CrossEntropy(out, y, nil)
		correct := 0
		for i := 0; i < rows; i++ {
			if argmaxRow(out, i) == int(y.At(i, 0)) {
				correct++
			}
		}
		acc = float64(correct) / float64(rows)
	case Gaussian:
		loss = HalfMSE(out, y, nil)
		matches := 0
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if out.At(i, j) == y.At(i, j) {
					matches++
				}
			}
		}
		acc = float64(matches) / float64(rows*cols)
	}
	loss += Penalty(m, lam, alpha)
	return
}

// DatasetLossAndAcc computes the penalized loss and accuracy over an entire
// dataset, accumulating per-batch values weighted by batch size and dividing
// by the total number of examples, so variable batch sizes and a final
// partial batch are handled correctly.
//
// The dataset is Reset before the pass. If preprocess is non-nil every
// batch's inputs are mapped through it first.
func DatasetLossAndAcc(m Model, ds data.Dataset, lam, alpha float64, preprocess data.Preprocessor, family Family) (loss, acc float64, err error) {
	family.Check()
	ds.Reset()
	n := 0
	for {
		batch, yieldErr := ds.Yield()
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			return 0, 0, errors.WithMessagef(yieldErr, "evaluating dataset %q", ds.Name())
		}
		inputs := batch.Inputs
		if preprocess != nil {
			inputs = preprocess.Transform(inputs)
		}
		batchSize, _ := inputs.Dims()
		l, a := LossAndAcc(m, inputs, batch.Labels, lam, alpha, family)
		loss += l * float64(batchSize)
		acc += a * float64(batchSize)
		n += batchSize
	}
	if n == 0 {
		return 0, 0, errors.Errorf("dataset %q yielded no examples", ds.Name())
	}
	return loss / float64(n), acc / float64(n), nil
}

func argmaxRow(m *mat.Dense, i int) int {
	row := m.RawRowView(i)
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}

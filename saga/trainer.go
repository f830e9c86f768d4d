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

package saga

import (
	"io"
	"math"

	"github.com/gomlx/glmsaga/data"
	"github.com/gomlx/glmsaga/glm"
	"github.com/gomlx/glmsaga/glm/prox"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// NearZero is the magnitude below which a weight entry is counted as zero
// when reporting sparsity.
const NearZero = 1e-5

// Trainer optimizes a model at a single (Lambda, LearningRate, Alpha) triple
// with proximal SAGA. One Train invocation runs up to Epochs passes over the
// dataset, maintaining the per-example gradient table and the running
// gradient averages in the State it is given (or a fresh zeroed one).
//
// Stopping rules: with Lookbehind <= 0 the trainer returns Converged as soon
// as one update's step norm falls at or below Tol; with Lookbehind > 0 the
// per-step check is skipped and the trainer instead returns EarlyStopped once
// the full penalized objective has not improved by more than Tol for
// Lookbehind consecutive epochs. Exhausting Epochs returns MaxEpochsReached
// with a warning -- a non-fatal outcome, the reached state is still valid.
type Trainer struct {
	// Model to optimize, mutated in place. Required.
	Model glm.Model

	// Family of the model; defaults to glm.Multinomial.
	Family glm.Family

	// Preprocess, if non-nil, maps every batch's inputs before the forward
	// pass.
	Preprocess data.Preprocessor

	// LearningRate of the gradient step.
	LearningRate float64

	// Epochs is the maximum number of passes over the data.
	Epochs int

	// Lambda and Alpha define the elastic-net penalty
	// `lambda*alpha*||W||_1 + 0.5*lambda*(1-alpha)*||W||_2^2`.
	Lambda float64
	Alpha  float64

	// Group selects the grouped (per-feature) proximal operator, yielding
	// feature-level rather than per-weight sparsity.
	Group bool

	// Tol is the convergence tolerance used by both stopping rules.
	Tol float64

	// Lookbehind, when > 0, switches to epoch-level early stopping; see the
	// Trainer doc.
	Lookbehind int

	// NumExamples in the dataset; when 0 it is counted with an initial scan.
	NumExamples int

	// Verbose, when > 0, logs the objective every Verbose epochs.
	Verbose int

	// Logf is the progress sink; defaults to klog.Infof.
	Logf func(format string, args ...any)
}

// Train runs the SAGA epoch loop over ds starting from state (pass nil to
// start from a zeroed state). It returns the (possibly warm-startable) state,
// the reason training stopped, and any dataset error.
func (t *Trainer) Train(ds data.Dataset, state *State) (*State, StopReason, error) {
	t.Family.Check()
	logf := t.Logf
	if logf == nil {
		logf = klog.Infof
	}

	weights := t.Model.Weights()
	bias := t.Model.Bias()
	numClasses, numFeatures := weights.Dims()

	numExamples := t.NumExamples
	if numExamples == 0 {
		var err error
		numExamples, _, err = ScanDataset(ds, t.Family)
		if err != nil {
			return state, MaxEpochsReached, err
		}
	}
	if state == nil {
		state = NewState(numExamples, numClasses, numFeatures)
	}

	var objBest float64
	haveObjBest := false
	nni := 0 // Epochs since the objective last improved by more than Tol.
	stepNorm := math.Inf(1)

	for epoch := 0; epoch < t.Epochs; epoch++ {
		ds.Reset()
		totalLoss := 0.0
		for {
			batch, err := ds.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				return state, MaxEpochsReached, errors.WithMessagef(err, "training on dataset %q", ds.Name())
			}
			batch.Validate()

			inputs := batch.Inputs
			if t.Preprocess != nil {
				inputs = t.Preprocess.Transform(inputs)
			}
			batchSize, _ := inputs.Dims()
			out := t.Model.Forward(inputs)

			// The gradient is split on the base loss term only, so the
			// per-example contribution reduces to the residual
			// `a = prediction - target`, cheap to memorize per example.
			var loss float64
			var residual *mat.Dense
			switch t.Family {
			case glm.Multinomial:
				loss = glm.CrossEntropy(out, batch.Labels, batch.Weights)
				residual = glm.Softmax(out)
				residual.Sub(residual, glm.OneHot(batch.Labels, numClasses))
			case glm.Gaussian:
				loss = glm.HalfMSE(out, batch.Labels, batch.Weights)
				residual = mat.NewDense(batchSize, numClasses, nil)
				residual.Sub(out, batch.Labels)
			}
			if batch.Weights != nil {
				scaleRows(residual, batch.Weights)
			}
			totalLoss += loss * float64(batchSize)

			residualPrev := tableRows(state.ATable, batch.Indices, numClasses)

			// Variance-reduced update direction:
			// new batch gradient - memorized batch gradient + running average.
			wGrad := batchWeightGrad(residual, inputs)
			wGradPrev := batchWeightGrad(residualPrev, inputs)
			var wDir mat.Dense
			wDir.Sub(wGrad, wGradPrev)
			wDir.Add(&wDir, state.WGradAvg)
			var weightNew mat.Dense
			weightNew.Scale(-t.LearningRate, &wDir)
			weightNew.Add(&weightNew, weights)

			// Proximal step on the weights only; the bias is never
			// regularized.
			thresholded := t.applyProx(&weightNew)

			bGrad := columnMeans(residual)
			bGradPrev := columnMeans(residualPrev)
			var bDir mat.VecDense
			bDir.SubVec(bGrad, bGradPrev)
			bDir.AddVec(&bDir, state.BGradAvg)
			var biasNew mat.VecDense
			biasNew.AddScaledVec(bias, -t.LearningRate, &bDir)

			// Memorize this batch's residuals and fold the gradient delta
			// into the running averages before any early return, so the
			// state stays consistent with what was visited.
			for i, idx := range batch.Indices {
				state.ATable.SetRow(idx, residual.RawRowView(i))
			}
			scale := float64(batchSize) / float64(numExamples)
			var wDelta mat.Dense
			wDelta.Sub(wGrad, wGradPrev)
			wDelta.Scale(scale, &wDelta)
			state.WGradAvg.Add(state.WGradAvg, &wDelta)
			var bDelta mat.VecDense
			bDelta.SubVec(bGrad, bGradPrev)
			state.BGradAvg.AddScaledVec(state.BGradAvg, scale, &bDelta)

			// Step norm of the combined (weight, bias) update. Always
			// computed, so the end-of-epoch log never reports a stale value.
			var dw mat.Dense
			dw.Sub(thresholded, weights)
			var db mat.VecDense
			db.SubVec(&biasNew, bias)
			stepNorm = math.Hypot(mat.Norm(&dw, 2), mat.Norm(&db, 2))

			if t.Lookbehind <= 0 && stepNorm <= t.Tol {
				return state, Converged, nil
			}
			weights.Copy(thresholded)
			bias.CopyVec(&biasNew)
		}

		obj := totalLoss/float64(numExamples) + glm.Penalty(t.Model, t.Lambda, t.Alpha)
		if !haveObjBest || obj+t.Tol < objBest {
			objBest = obj
			haveObjBest = true
			nni = 0
		} else {
			nni++
		}

		nnz, total := weightNNZ(weights)
		if t.Verbose > 0 && epoch%t.Verbose == 0 {
			if t.Lookbehind <= 0 {
				logf("obj %v weight nnz %d/%d (%.4f) step norm %.6f", obj, nnz, total,
					float64(nnz)/float64(total), stepNorm)
			} else {
				logf("obj %v weight nnz %d/%d (%.4f) obj best %v", obj, nnz, total,
					float64(nnz)/float64(total), objBest)
			}
		}
		if t.Lookbehind > 0 && nni >= t.Lookbehind {
			logf("obj %v weight nnz %d/%d (%.4f) obj best %v [early stop at epoch %d]",
				obj, nnz, total, float64(nnz)/float64(total), objBest, epoch)
			return state, EarlyStopped, nil
		}
	}

	notice := "did not converge within %d epochs (last step norm %.6f)"
	if t.Logf != nil {
		t.Logf(notice, t.Epochs, stepNorm)
	} else {
		klog.Warningf(notice, t.Epochs, stepNorm)
	}
	return state, MaxEpochsReached, nil
}

// applyProx applies the proximal operator matching (Lambda, Alpha, Group) to
// the updated weights. With Alpha == 1 the penalty is pure L1 (or pure group
// L1) and the plain thresholding operators apply; otherwise the elastic-net
// combination splits into thresholding followed by shrinkage.
func (t *Trainer) applyProx(weightNew *mat.Dense) *mat.Dense {
	l1 := t.LearningRate * t.Lambda * t.Alpha
	if t.Alpha == 1 {
		if t.Group {
			return prox.GroupThreshold(weightNew, l1)
		}
		return prox.SoftThreshold(weightNew, l1)
	}
	l2 := t.LearningRate * t.Lambda * (1 - t.Alpha)
	if t.Group {
		return prox.GroupThresholdWithShrinkage(weightNew, l1, l2)
	}
	return prox.SoftThresholdWithShrinkage(weightNew, l1, l2)
}

// ScanDataset makes one pass over ds, counting examples and deriving the
// number of classes: the maximum label value plus one for Multinomial (never
// below one), the width of the target matrix for Gaussian.
func ScanDataset(ds data.Dataset, family glm.Family) (numExamples, numClasses int, err error) {
	family.Check()
	ds.Reset()
	numClasses = 1
	first := true
	for {
		batch, yieldErr := ds.Yield()
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			return 0, 0, errors.WithMessagef(yieldErr, "scanning dataset %q", ds.Name())
		}
		rows, cols := batch.Labels.Dims()
		numExamples += rows
		switch family {
		case glm.Multinomial:
			for i := 0; i < rows; i++ {
				if c := int(batch.Labels.At(i, 0)) + 1; c > numClasses {
					numClasses = c
				}
			}
		case glm.Gaussian:
			if first {
				numClasses = cols
				first = false
			}
		}
	}
	return
}

// batchWeightGrad returns the batch-averaged weight gradient implied by the
// residuals: `residual^T . inputs / batchSize`, shaped like the weights.
func batchWeightGrad(residual, inputs *mat.Dense) *mat.Dense {
	batchSize, _ := inputs.Dims()
	var grad mat.Dense
	grad.Mul(residual.T(), inputs)
	grad.Scale(1/float64(batchSize), &grad)
	return &grad
}

// tableRows gathers the given rows of the gradient table into a dense
// (len(indices), numClasses) matrix.
func tableRows(table *mat.Dense, indices []int, numClasses int) *mat.Dense {
	out := mat.NewDense(len(indices), numClasses, nil)
	for i, idx := range indices {
		out.SetRow(i, table.RawRowView(idx))
	}
	return out
}

func columnMeans(m *mat.Dense) *mat.VecDense {
	rows, cols := m.Dims()
	out := mat.NewVecDense(cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.SetVec(j, out.AtVec(j)+m.At(i, j))
		}
	}
	out.ScaleVec(1/float64(rows), out)
	return out
}

func scaleRows(m *mat.Dense, weights []float64) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)*weights[i])
		}
	}
}

// weightNNZ counts the entries of w with magnitude above NearZero.
func weightNNZ(w *mat.Dense) (nnz, total int) {
	rows, cols := w.Dims()
	total = rows * cols
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.Abs(w.At(i, j)) > NearZero {
				nnz++
			}
		}
	}
	return
}

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

// Package data defines the dataset contract consumed by the SAGA solver --
// a finite, restartable sequence of indexed batches -- along with an
// in-memory implementation, train/validation splitting and feature
// normalization.
package data

import (
	"math/rand"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

// Batch is one unit yielded by a Dataset.
//
// Inputs is shaped (batchSize, numFeatures). Labels is shaped
// (batchSize, 1) holding class ids for Multinomial models, or
// (batchSize, numOutputs) holding raw targets for Gaussian models.
// Weights, when non-nil, holds one non-negative weight per example.
// Indices holds each example's position in the original dataset: values must
// be stable, unique and dense, since they address rows of the solver's
// per-example gradient table.
type Batch struct {
	Inputs  *mat.Dense
	Labels  *mat.Dense
	Weights []float64
	Indices []int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	rows, _ := b.Inputs.Dims()
	return rows
}

// Validate panics if the batch is malformed: training batches must carry
// (inputs, labels, indices) or (inputs, labels, weights, indices), with
// consistent leading dimensions throughout.
func (b Batch) Validate() {
	arity := 0
	for _, present := range []bool{b.Inputs != nil, b.Labels != nil, b.Weights != nil, b.Indices != nil} {
		if present {
			arity++
		}
	}
	if b.Inputs == nil || b.Labels == nil || b.Indices == nil {
		exceptions.Panicf("dataset must yield (inputs, labels, indices) or (inputs, labels, weights, indices) "+
			"batches, but got a batch with only %d of those fields set", arity)
	}
	batchSize, _ := b.Inputs.Dims()
	labelRows, _ := b.Labels.Dims()
	if labelRows != batchSize {
		exceptions.Panicf("batch has %d input rows but %d label rows", batchSize, labelRows)
	}
	if len(b.Indices) != batchSize {
		exceptions.Panicf("batch has %d input rows but %d indices", batchSize, len(b.Indices))
	}
	if b.Weights != nil && len(b.Weights) != batchSize {
		exceptions.Panicf("batch has %d input rows but %d weights", batchSize, len(b.Weights))
	}
}

// Dataset is a finite, restartable producer of batches.
//
// Yield returns the next batch, or io.EOF once the epoch is exhausted; after
// io.EOF the dataset keeps returning io.EOF until Reset is called. Within one
// epoch every example must be visited exactly once -- the SAGA update
// tolerates arbitrary visitation order, but not repeats or omissions.
type Dataset interface {
	// Name identifies the dataset, used in error messages and logs.
	Name() string

	// Yield returns the next batch or io.EOF at the end of the epoch.
	Yield() (Batch, error)

	// Reset restarts the dataset from the beginning (reshuffling if the
	// dataset shuffles).
	Reset()
}

// Preprocessor maps a batch of raw inputs to feature vectors. It is the
// contract of both the optional upstream feature model and the Normalizer.
type Preprocessor interface {
	// Transform returns the transformed inputs; it must not modify x.
	Transform(x *mat.Dense) *mat.Dense
}

// Metadata carries precomputed summary statistics of a dataset, letting
// callers skip the data passes that derive them (normalization statistics,
// example/class counts and the maximum-regularization values).
type Metadata struct {
	// NumExamples and NumClasses of the training data.
	NumExamples int
	NumClasses  int

	// InputMean and InputStd are the per-feature normalization statistics.
	InputMean *mat.VecDense
	InputStd  *mat.VecDense

	// MaxRegGrouped and MaxRegNonGrouped are precomputed values of the
	// maximum-regularization estimate, with and without group sparsity.
	MaxRegGrouped    float64
	MaxRegNonGrouped float64
}

// Split randomly partitions (x, labels) into training and validation parts,
// placing floor(n*valFrac) examples in the validation part. The same
// permutation is applied to inputs and labels. rng may be nil, in which case
// the global math/rand source is used.
func Split(x, labels *mat.Dense, valFrac float64, rng *rand.Rand) (xTrain, yTrain, xVal, yVal *mat.Dense) {
	n, _ := x.Dims()
	labelRows, _ := labels.Dims()
	if labelRows != n {
		exceptions.Panicf("data.Split: inputs have %d rows but labels have %d", n, labelRows)
	}
	if valFrac < 0 || valFrac > 1 {
		exceptions.Panicf("data.Split: validation fraction must be in [0, 1], got %g", valFrac)
	}
	valSize := int(float64(n) * valFrac)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	xVal, yVal = takeRows(x, labels, perm[:valSize])
	xTrain, yTrain = takeRows(x, labels, perm[valSize:])
	return
}

func takeRows(x, labels *mat.Dense, rows []int) (xOut, yOut *mat.Dense) {
	if len(rows) == 0 {
		return nil, nil
	}
	_, numFeatures := x.Dims()
	_, numLabelCols := labels.Dims()
	xOut = mat.NewDense(len(rows), numFeatures, nil)
	yOut = mat.NewDense(len(rows), numLabelCols, nil)
	for i, row := range rows {
		xOut.SetRow(i, x.RawRowView(row))
		yOut.SetRow(i, labels.RawRowView(row))
	}
	return
}

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

package data

import (
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// InMemory is a Dataset over matrices held fully in memory. It supports
// batching, optional deterministic shuffling (reshuffled on every Reset) and
// optional per-example weights. The Indices it yields are always the
// examples' original row positions, so the same rows of the solver's gradient
// table address the same examples across epochs regardless of shuffling.
type InMemory struct {
	name    string
	x       *mat.Dense
	labels  *mat.Dense
	weights []float64

	batchSize int
	rng       *rand.Rand
	order     []int
	next      int
}

var _ Dataset = (*InMemory)(nil)

// FromMatrices creates an InMemory dataset from inputs x shaped
// (numExamples, numFeatures) and labels shaped (numExamples, 1) for
// classification or (numExamples, numOutputs) for regression. The dataset
// starts unshuffled with the whole data as a single batch; configure it with
// WithBatchSize, WithWeights and Shuffled.
func FromMatrices(name string, x, labels *mat.Dense) (*InMemory, error) {
	n, _ := x.Dims()
	labelRows, _ := labels.Dims()
	if labelRows != n {
		return nil, errors.Errorf("dataset %q: inputs have %d rows but labels have %d", name, n, labelRows)
	}
	if n == 0 {
		return nil, errors.Errorf("dataset %q has no examples", name)
	}
	ds := &InMemory{
		name:      name,
		x:         x,
		labels:    labels,
		batchSize: n,
		order:     make([]int, n),
	}
	for i := range ds.order {
		ds.order[i] = i
	}
	return ds, nil
}

// WithBatchSize sets the number of examples per yielded batch; the final
// batch of an epoch may be smaller. It returns the dataset for chaining.
func (ds *InMemory) WithBatchSize(batchSize int) *InMemory {
	if batchSize > 0 {
		ds.batchSize = batchSize
	}
	return ds
}

// WithWeights attaches one weight per example. It returns the dataset for
// chaining.
func (ds *InMemory) WithWeights(weights []float64) *InMemory {
	ds.weights = weights
	return ds
}

// Shuffled makes the dataset visit examples in a fresh random order every
// epoch, using rng for determinism. Each example is still visited exactly
// once per epoch. It returns the dataset for chaining.
func (ds *InMemory) Shuffled(rng *rand.Rand) *InMemory {
	ds.rng = rng
	ds.shuffle()
	return ds
}

// NumExamples returns the total number of examples.
func (ds *InMemory) NumExamples() int { return len(ds.order) }

// Name implements Dataset.
func (ds *InMemory) Name() string { return ds.name }

// Reset implements Dataset, restarting (and reshuffling, if configured) the
// epoch.
func (ds *InMemory) Reset() {
	ds.next = 0
	ds.shuffle()
}

// Yield implements Dataset, returning io.EOF at the end of the epoch.
func (ds *InMemory) Yield() (Batch, error) {
	if ds.next >= len(ds.order) {
		return Batch{}, io.EOF
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	rows := ds.order[ds.next:end]
	ds.next = end

	_, numFeatures := ds.x.Dims()
	_, numLabelCols := ds.labels.Dims()
	batch := Batch{
		Inputs:  mat.NewDense(len(rows), numFeatures, nil),
		Labels:  mat.NewDense(len(rows), numLabelCols, nil),
		Indices: make([]int, len(rows)),
	}
	if ds.weights != nil {
		batch.Weights = make([]float64, len(rows))
	}
	for i, row := range rows {
		batch.Inputs.SetRow(i, ds.x.RawRowView(row))
		batch.Labels.SetRow(i, ds.labels.RawRowView(row))
		batch.Indices[i] = row
		if ds.weights != nil {
			batch.Weights[i] = ds.weights[row]
		}
	}
	return batch, nil
}

func (ds *InMemory) shuffle() {
	if ds.rng == nil {
		return
	}
	ds.rng.Shuffle(len(ds.order), func(i, j int) {
		ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
	})
}

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

// Package glm holds the generalized linear model pieces shared by the SAGA
// solver: the distribution Family, the mutable affine Model contract and its
// concrete Linear implementation, and the elastic-net penalized loss and
// accuracy evaluators.
package glm

import (
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

// Model is the affine transform `y = W.x + b` trained by the solver.
//
// The solver mutates the model in place at every batch step: Weights and Bias
// must return the model's own storage (not copies), and SetWeights/SetBias
// must overwrite values without reallocating -- the whole regularization
// sweep relies on the same underlying matrices surviving across levels, which
// is what makes warm-starting work.
type Model interface {
	// Forward computes `x.W^T + b` for a batch of inputs shaped
	// (batchSize, numFeatures), returning (batchSize, numOutputs).
	Forward(x *mat.Dense) *mat.Dense

	// Weights returns the (numOutputs, numFeatures) weight matrix.
	Weights() *mat.Dense

	// Bias returns the bias vector of length numOutputs.
	Bias() *mat.VecDense

	// SetWeights overwrites the weight values in place.
	SetWeights(w *mat.Dense)

	// SetBias overwrites the bias values in place.
	SetBias(b *mat.VecDense)
}

// Linear is the default Model: a dense weight matrix and bias vector,
// zero-initialized so the top of the regularization path starts from the
// all-zero solution.
type Linear struct {
	weights *mat.Dense
	bias    *mat.VecDense
}

// Assert Linear is a Model.
var _ Model = (*Linear)(nil)

// NewLinear creates a zero-initialized linear model mapping numFeatures
// inputs to numOutputs outputs (classes for Multinomial, output dimensions
// for Gaussian).
func NewLinear(numOutputs, numFeatures int) *Linear {
	if numOutputs <= 0 || numFeatures <= 0 {
		exceptions.Panicf("glm.NewLinear: invalid shape (%d outputs, %d features)", numOutputs, numFeatures)
	}
	return &Linear{
		weights: mat.NewDense(numOutputs, numFeatures, nil),
		bias:    mat.NewVecDense(numOutputs, nil),
	}
}

// Forward implements Model.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	batchSize, _ := x.Dims()
	numOutputs, _ := l.weights.Dims()
	out := mat.NewDense(batchSize, numOutputs, nil)
	out.Mul(x, l.weights.T())
	for i := 0; i < batchSize; i++ {
		for j := 0; j < numOutputs; j++ {
			out.Set(i, j, out.At(i, j)+l.bias.AtVec(j))
		}
	}
	return out
}

// Weights returns the model's own weight matrix, mutable in place.
func (l *Linear) Weights() *mat.Dense { return l.weights }

// Bias returns the model's own bias vector, mutable in place.
func (l *Linear) Bias() *mat.VecDense { return l.bias }

// SetWeights copies w into the model's weight storage.
func (l *Linear) SetWeights(w *mat.Dense) { l.weights.Copy(w) }

// SetBias copies b into the model's bias storage.
func (l *Linear) SetBias(b *mat.VecDense) { l.bias.CopyVec(b) }

// Dims returns (numOutputs, numFeatures).
func (l *Linear) Dims() (numOutputs, numFeatures int) { return l.weights.Dims() }

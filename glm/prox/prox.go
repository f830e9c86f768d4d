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

// Package prox implements the proximal operators used by the elastic-net
// SAGA solver: elementwise soft-thresholding, columnwise group-thresholding
// and their shrinkage-combined (elastic-net) variants.
//
// All operators are pure functions: they never modify their input and return
// a freshly allocated matrix of the same shape.
package prox

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SoftThreshold returns the proximal map of `lam * ||.||_1` applied
// elementwise to v: entries with |v| <= lam become zero, all others are
// moved toward zero by lam.
func SoftThreshold(v *mat.Dense, lam float64) *mat.Dense {
	rows, cols := v.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			value := v.At(i, j)
			switch {
			case value > lam:
				out.Set(i, j, value-lam)
			case value < -lam:
				out.Set(i, j, value+lam)
			}
		}
	}
	return out
}

// GroupThreshold returns the proximal map of `lam * ||.||_2` applied per
// column of w, where each column (all the class weights of one feature) is
// treated as one group: columns whose Euclidean norm is <= lam are zeroed
// entirely, all others are scaled by `(1 - lam/norm)`, preserving their
// direction. This yields feature-level sparsity, as opposed to the
// per-weight sparsity of SoftThreshold.
func GroupThreshold(w *mat.Dense, lam float64) *mat.Dense {
	rows, cols := w.Dims()
	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		norm := mat.Norm(w.ColView(j), 2)
		if norm <= lam {
			// Column is zeroed, including columns with zero norm.
			continue
		}
		scale := 1 - lam/norm
		for i := 0; i < rows; i++ {
			out.Set(i, j, scale*w.At(i, j))
		}
	}
	return out
}

// SoftThresholdWithShrinkage returns the proximal map of the elastic-net
// penalty `alpha * ||x||_1 + beta * ||x||_2^2`: soft-threshold by alpha, then
// shrink by `1/(1+beta)`.
func SoftThresholdWithShrinkage(x *mat.Dense, alpha, beta float64) *mat.Dense {
	out := SoftThreshold(x, alpha)
	shrink(out, beta)
	return out
}

// GroupThresholdWithShrinkage returns the proximal map of the elastic-net
// penalty `alpha * ||x||_2 + beta * ||x||_2^2` with the 2-norm taken
// columnwise: group-threshold by alpha, then shrink by `1/(1+beta)`.
func GroupThresholdWithShrinkage(x *mat.Dense, alpha, beta float64) *mat.Dense {
	out := GroupThreshold(x, alpha)
	shrink(out, beta)
	return out
}

func shrink(x *mat.Dense, beta float64) {
	if beta == 0 {
		return
	}
	x.Scale(1/(1+beta), x)
}

// Sparsity returns the fraction of entries of w whose magnitude is at most
// threshold -- the usual measure of how sparse a thresholded solution is.
func Sparsity(w *mat.Dense, threshold float64) float64 {
	rows, cols := w.Dims()
	if rows*cols == 0 {
		return 0
	}
	zeros := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.Abs(w.At(i, j)) <= threshold {
				zeros++
			}
		}
	}
	return float64(zeros) / float64(rows*cols)
}

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

package prox

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testMatrix() *mat.Dense {
	return mat.NewDense(2, 3, []float64{
		2.0, -0.5, 0.0,
		-3.0, 0.1, 1.5,
	})
}

func TestSoftThresholdIdentityAtZero(t *testing.T) {
	v := testMatrix()
	out := SoftThreshold(v, 0)
	require.True(t, mat.EqualApprox(v, out, 1e-15), "zero penalty must be the identity")
}

func TestSoftThresholdShrinksMonotonically(t *testing.T) {
	v := testMatrix()
	rows, cols := v.Dims()
	prev := SoftThreshold(v, 0)
	for _, lam := range []float64{0.05, 0.1, 0.5, 1.0, 2.0, 5.0} {
		out := SoftThreshold(v, lam)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				// Magnitude shrinks toward zero, monotonically in lam,
				// and never changes sign.
				assert.LessOrEqual(t, math.Abs(out.At(i, j)), math.Abs(prev.At(i, j)))
				assert.GreaterOrEqual(t, out.At(i, j)*v.At(i, j), 0.0)
				// Non-expansive: the move is at most lam.
				assert.LessOrEqual(t, math.Abs(out.At(i, j)-v.At(i, j)), lam+1e-15)
			}
		}
		prev = out
	}
	// Large enough lam zeroes everything.
	out := SoftThreshold(v, 10)
	assert.True(t, mat.EqualApprox(out, mat.NewDense(rows, cols, nil), 1e-15))
}

func TestGroupThresholdZeroesColumnsByNorm(t *testing.T) {
	w := mat.NewDense(2, 3, []float64{
		3.0, 0.0, 0.3,
		4.0, 0.0, 0.4,
	})
	// Column norms: 5, 0, 0.5.
	out := GroupThreshold(w, 1.0)

	// Column 0 (norm 5 > 1) is scaled by (1 - 1/5), direction preserved.
	assert.InDelta(t, 3.0*0.8, out.At(0, 0), 1e-12)
	assert.InDelta(t, 4.0*0.8, out.At(1, 0), 1e-12)

	// Column 1 has zero norm and stays zero (no NaN).
	assert.Equal(t, 0.0, out.At(0, 1))
	assert.Equal(t, 0.0, out.At(1, 1))

	// Column 2 (norm 0.5 <= 1) is zeroed entirely.
	assert.Equal(t, 0.0, out.At(0, 2))
	assert.Equal(t, 0.0, out.At(1, 2))
}

func TestGroupThresholdPreservesDirection(t *testing.T) {
	w := mat.NewDense(3, 1, []float64{1, 2, -2})
	out := GroupThreshold(w, 1.0) // Norm 3 > 1, scale 2/3.
	for i := 0; i < 3; i++ {
		assert.InDelta(t, w.At(i, 0)*2.0/3.0, out.At(i, 0), 1e-12)
	}
}

func TestShrinkageCombinators(t *testing.T) {
	x := testMatrix()

	// beta=0 reduces to the plain threshold.
	require.True(t, mat.EqualApprox(
		SoftThresholdWithShrinkage(x, 0.3, 0), SoftThreshold(x, 0.3), 1e-15))
	require.True(t, mat.EqualApprox(
		GroupThresholdWithShrinkage(x, 0.3, 0), GroupThreshold(x, 0.3), 1e-15))

	// alpha=0 reduces to pure shrinkage x/(1+beta).
	var want mat.Dense
	want.Scale(1/1.5, x)
	require.True(t, mat.EqualApprox(SoftThresholdWithShrinkage(x, 0, 0.5), &want, 1e-15))
}

func TestSparsity(t *testing.T) {
	w := mat.NewDense(2, 2, []float64{0, 1e-9, 0.5, -2})
	assert.InDelta(t, 0.5, Sparsity(w, 1e-5), 1e-15)
	assert.InDelta(t, 1.0, Sparsity(mat.NewDense(3, 3, nil), 1e-5), 1e-15)
}

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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func normalizeTestData() (x, labels *mat.Dense) {
	x = mat.NewDense(6, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
		5, 50,
		6, 60,
	})
	labels = mat.NewDense(6, 1, []float64{0, 1, 0, 1, 0, 1})
	return
}

func TestNormalizationStats(t *testing.T) {
	x, labels := normalizeTestData()
	ds, err := FromMatrices("norm", x, labels)
	require.NoError(t, err)
	ds.WithBatchSize(4) // Forces a partial second batch.

	normalizer, err := Normalization(ds).Done()
	require.NoError(t, err)

	// Compare against gonum/stat on the raw columns.
	for j := 0; j < 2; j++ {
		col := make([]float64, 6)
		mat.Col(col, j, x)
		wantMean, wantStd := stat.MeanStdDev(col, nil)
		assert.InDelta(t, wantMean, normalizer.Mean().AtVec(j), 1e-12)
		assert.InDelta(t, wantStd, normalizer.Std().AtVec(j), 1e-12)
	}
}

func TestNormalizerTransformStandardizes(t *testing.T) {
	x, labels := normalizeTestData()
	ds, err := FromMatrices("norm", x, labels)
	require.NoError(t, err)

	normalizer, err := Normalization(ds).Done()
	require.NoError(t, err)
	out := normalizer.Transform(x)

	// Standardized columns have zero mean and unit sample std.
	for j := 0; j < 2; j++ {
		col := make([]float64, 6)
		mat.Col(col, j, out)
		gotMean, gotStd := stat.MeanStdDev(col, nil)
		assert.InDelta(t, 0.0, gotMean, 1e-12)
		assert.InDelta(t, 1.0, gotStd, 1e-12)
	}
}

func TestNormalizationWithStats(t *testing.T) {
	mean := mat.NewVecDense(2, []float64{1, 2})
	std := mat.NewVecDense(2, []float64{2, 4})

	// No dataset needed when both statistics are supplied.
	normalizer, err := Normalization(nil).WithStats(mean, std).Done()
	require.NoError(t, err)

	out := normalizer.Transform(mat.NewDense(1, 2, []float64{5, 10}))
	assert.InDelta(t, 2.0, out.At(0, 0), 1e-12)
	assert.InDelta(t, 2.0, out.At(0, 1), 1e-12)

	// Without them, a nil dataset is an error.
	_, err = Normalization(nil).Done()
	require.Error(t, err)
}

func TestNormalizationWithMetadata(t *testing.T) {
	meta := &Metadata{
		InputMean: mat.NewVecDense(1, []float64{3}),
		InputStd:  mat.NewVecDense(1, []float64{0.5}),
	}
	normalizer, err := Normalization(nil).WithMetadata(meta).Done()
	require.NoError(t, err)
	out := normalizer.Transform(mat.NewDense(1, 1, []float64{4}))
	assert.InDelta(t, 2.0, out.At(0, 0), 1e-12)
}

type doubler struct{}

func (doubler) Transform(x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(2, x)
	return &out
}

func TestNormalizationWithModel(t *testing.T) {
	x, labels := normalizeTestData()
	ds, err := FromMatrices("norm", x, labels)
	require.NoError(t, err)

	// Statistics are computed on the model outputs, so the transformed data
	// is standardized regardless of the upstream scaling.
	normalizer, err := Normalization(ds).WithModel(doubler{}).Done()
	require.NoError(t, err)
	assert.InDelta(t, 7.0, normalizer.Mean().AtVec(0), 1e-12)

	out := normalizer.Transform(x)
	col := make([]float64, 6)
	mat.Col(col, 0, out)
	gotMean, gotStd := stat.MeanStdDev(col, nil)
	assert.InDelta(t, 0.0, gotMean, 1e-12)
	assert.InDelta(t, 1.0, gotStd, 1e-12)
	assert.False(t, math.IsNaN(out.At(0, 0)))
}

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
	"math/rand"
	"testing"

	"github.com/gomlx/glmsaga/data"
	"github.com/gomlx/glmsaga/glm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// balancedBlobs samples well-separated Gaussian clusters with exactly
// numExamples/numClasses examples per class, assigned round-robin.
func balancedBlobs(numExamples, numFeatures, numClasses int, seed int64) (x, labels *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	centers := mat.NewDense(numClasses, numFeatures, nil)
	for c := 0; c < numClasses; c++ {
		for j := 0; j < numFeatures; j++ {
			centers.Set(c, j, 2*rng.NormFloat64())
		}
	}
	x = mat.NewDense(numExamples, numFeatures, nil)
	labels = mat.NewDense(numExamples, 1, nil)
	for i := 0; i < numExamples; i++ {
		class := i % numClasses
		labels.Set(i, 0, float64(class))
		for j := 0; j < numFeatures; j++ {
			x.Set(i, j, centers.At(class, j)+rng.NormFloat64())
		}
	}
	return
}

func uniformResidual(labels *mat.Dense, numClasses int) *mat.Dense {
	rows, _ := labels.Dims()
	residual := mat.NewDense(rows, numClasses, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < numClasses; j++ {
			residual.Set(i, j, 1/float64(numClasses))
		}
	}
	residual.Sub(residual, glm.OneHot(labels, numClasses))
	return residual
}

// With a zero learning rate the model never moves, so after a single epoch
// the running gradient averages must equal the exact full-batch gradient at
// the zero weights, whatever the batching.
func TestTrainGradientAverages(t *testing.T) {
	const numClasses = 3
	x, labels := balancedBlobs(30, 4, numClasses, 11)
	ds, err := data.FromMatrices("train", x, labels)
	require.NoError(t, err)
	ds.WithBatchSize(7) // Uneven batches: 7+7+7+7+2.

	model := glm.NewLinear(numClasses, 4)
	trainer := &Trainer{
		Model:        model,
		Family:       glm.Multinomial,
		LearningRate: 0,
		Epochs:       1,
		Lookbehind:   1, // Disable the per-step convergence exit.
		Tol:          0,
	}
	state, _, err := trainer.Train(ds, nil)
	require.NoError(t, err)

	residual := uniformResidual(labels, numClasses)
	wantWGrad := batchWeightGrad(residual, x)
	wantBGrad := columnMeans(residual)
	require.True(t, mat.EqualApprox(wantWGrad, state.WGradAvg, 1e-12))
	require.True(t, mat.EqualApprox(wantBGrad, state.BGradAvg, 1e-12))

	// The table must memorize every example's residual.
	require.True(t, mat.EqualApprox(residual, state.ATable, 1e-12))
}

// At the maximum regularization the proximal step cancels the gradient step
// exactly, so a zero-initialized model must stay at zero and converge on the
// first update.
func TestTrainMaxRegularizationFixedPoint(t *testing.T) {
	const numClasses = 3
	x, labels := balancedBlobs(30, 5, numClasses, 5)
	ds, err := data.FromMatrices("train", x, labels)
	require.NoError(t, err)

	maxLam, err := MaximumRegularization(ds, false, nil, nil, glm.Multinomial)
	require.NoError(t, err)
	require.Greater(t, maxLam, 0.0)

	model := glm.NewLinear(numClasses, 5)
	trainer := &Trainer{
		Model:        model,
		Family:       glm.Multinomial,
		LearningRate: 0.1,
		Epochs:       50,
		Lambda:       maxLam,
		Alpha:        1,
		Tol:          1e-9,
	}
	_, reason, err := trainer.Train(ds, nil)
	require.NoError(t, err)
	assert.Equal(t, Converged, reason)
	assert.Equal(t, 0.0, mat.Norm(model.Weights(), 2))
}

// Per-example weights of 1.0 must be a no-op: the weighted run reproduces
// the unweighted run exactly, residual scaling included.
func TestTrainUniformWeightsMatchUnweighted(t *testing.T) {
	const numClasses = 3
	x, labels := balancedBlobs(60, 4, numClasses, 13)

	run := func(weights []float64) *glm.Linear {
		ds, err := data.FromMatrices("train", x, labels)
		require.NoError(t, err)
		ds.WithBatchSize(20)
		if weights != nil {
			ds.WithWeights(weights)
		}
		model := glm.NewLinear(numClasses, 4)
		trainer := &Trainer{
			Model:        model,
			Family:       glm.Multinomial,
			LearningRate: 0.01,
			Epochs:       20,
			Lambda:       0.01,
			Alpha:        1,
			Tol:          0,
			Lookbehind:   1,
		}
		_, _, err = trainer.Train(ds, nil)
		require.NoError(t, err)
		return model
	}

	unweighted := run(nil)
	ones := make([]float64, 60)
	for i := range ones {
		ones[i] = 1
	}
	weighted := run(ones)
	require.True(t, mat.EqualApprox(unweighted.Weights(), weighted.Weights(), 1e-12))
	require.True(t, mat.EqualApprox(unweighted.Bias(), weighted.Bias(), 1e-12))
}

// Zeroing an example's weight must remove it from the gradient while the
// table and averages still account for its (zero) residual row.
func TestTrainZeroWeightedExamplesIgnored(t *testing.T) {
	const numClasses = 2
	x, labels := balancedBlobs(8, 3, numClasses, 7)
	ds, err := data.FromMatrices("train", x, labels)
	require.NoError(t, err)
	ds.WithWeights([]float64{1, 1, 1, 1, 0, 0, 0, 0})

	model := glm.NewLinear(numClasses, 3)
	trainer := &Trainer{
		Model:        model,
		Family:       glm.Multinomial,
		LearningRate: 0,
		Epochs:       1,
		Lookbehind:   1,
		Tol:          0,
	}
	state, _, err := trainer.Train(ds, nil)
	require.NoError(t, err)

	// Zero-weighted rows of the table are zero, the others match the raw
	// residual at zero weights.
	residual := uniformResidual(labels, numClasses)
	for i := 0; i < 8; i++ {
		for j := 0; j < numClasses; j++ {
			want := residual.At(i, j)
			if i >= 4 {
				want = 0
			}
			assert.InDelta(t, want, state.ATable.At(i, j), 1e-12)
		}
	}
}

// The SAGA trainer and the deterministic full-batch proximal baseline
// minimize the same objective: run both on the same problem and require the
// reached objectives to agree. The pure-L1 optimum on separable data is
// flat (very different weight vectors reach near-identical objectives), so
// the comparison is made in objective space rather than weight space.
func TestTrainMatchesProxBaseline(t *testing.T) {
	const numClasses = 3
	const lam, alpha = 0.01, 1.0
	x, labels := balancedBlobs(90, 5, numClasses, 19)
	ds, err := data.FromMatrices("train", x, labels)
	require.NoError(t, err)
	ds.WithBatchSize(30).Shuffled(rand.New(rand.NewSource(1)))

	sagaModel := glm.NewLinear(numClasses, 5)
	trainer := &Trainer{
		Model:        sagaModel,
		Family:       glm.Multinomial,
		LearningRate: 0.01,
		Epochs:       5000,
		Lambda:       lam,
		Alpha:        alpha,
		Tol:          1e-3,
		NumExamples:  90,
	}
	_, reason, err := trainer.Train(ds, nil)
	require.NoError(t, err)
	require.Equal(t, Converged, reason)

	proxModel := glm.NewLinear(numClasses, 5)
	TrainProx(proxModel, x, labels, 0.01, 5000, lam, alpha, false, glm.Multinomial, 0)

	sagaLoss, sagaAcc := glm.LossAndAcc(sagaModel, x, labels, lam, alpha, glm.Multinomial)
	proxLoss, _ := glm.LossAndAcc(proxModel, x, labels, lam, alpha, glm.Multinomial)
	assert.InDelta(t, proxLoss, sagaLoss, 1e-2)
	assert.GreaterOrEqual(t, sagaAcc, 0.95)
}

// With a zero learning rate the epoch objective never improves, so lookbehind
// early stopping must trigger after exactly Lookbehind stale epochs.
func TestTrainEarlyStops(t *testing.T) {
	x, labels := balancedBlobs(12, 2, 2, 3)
	ds, err := data.FromMatrices("train", x, labels)
	require.NoError(t, err)

	var logged []string
	model := glm.NewLinear(2, 2)
	trainer := &Trainer{
		Model:        model,
		Family:       glm.Multinomial,
		LearningRate: 0,
		Epochs:       100,
		Lookbehind:   2,
		Tol:          1e-4,
		Logf: func(format string, args ...any) {
			logged = append(logged, format)
		},
	}
	_, reason, err := trainer.Train(ds, nil)
	require.NoError(t, err)
	assert.Equal(t, EarlyStopped, reason)
	require.NotEmpty(t, logged)
	assert.Contains(t, logged[len(logged)-1], "early stop")
}

func TestScanDataset(t *testing.T) {
	x, labels := balancedBlobs(10, 3, 4, 2)
	ds, err := data.FromMatrices("scan", x, labels)
	require.NoError(t, err)
	ds.WithBatchSize(3)

	numExamples, numClasses, err := ScanDataset(ds, glm.Multinomial)
	require.NoError(t, err)
	assert.Equal(t, 10, numExamples)
	assert.Equal(t, 4, numClasses)

	// Gaussian targets: class count is the target width.
	targets := mat.NewDense(10, 2, nil)
	gaussianDS, err := data.FromMatrices("scan", x, targets)
	require.NoError(t, err)
	numExamples, numClasses, err = ScanDataset(gaussianDS, glm.Gaussian)
	require.NoError(t, err)
	assert.Equal(t, 10, numExamples)
	assert.Equal(t, 2, numClasses)
}

func TestStopReasonString(t *testing.T) {
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "early-stopped", EarlyStopped.String())
	assert.Equal(t, "max-epochs-reached", MaxEpochsReached.String())
}

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

	"github.com/gomlx/exceptions"
	"github.com/gomlx/glmsaga/data"
	"github.com/gomlx/glmsaga/glm"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// GLM is the convenience wrapper over the path driver: it splits the data
// into training and validation parts, builds a zero-initialized linear model
// and computes the full regularization path with sensible defaults. All
// fields may be adjusted between NewGLM and Fit.
type GLM struct {
	// NumClasses of the classification problem (or output dimensions for
	// Gaussian regression).
	NumClasses int

	// BatchSize of the training batches. Defaults to 128.
	BatchSize int

	// ValFrac is the fraction of examples held out for validation.
	// Defaults to 0.1.
	ValFrac float64

	// LearningRate at the top of the learning-rate ladder. Defaults to 0.1.
	LearningRate float64

	// K is the number of regularization levels. Defaults to 100.
	K int

	// MaxEpochs per regularization level. Defaults to 2000.
	MaxEpochs int

	// Alpha is the elastic-net mixing parameter. Defaults to 1 (pure L1).
	Alpha float64

	// Verbose, when > 0, logs the trainer objective every Verbose epochs.
	// Defaults to 200.
	Verbose int

	// Group selects feature-level (grouped) sparsity.
	Group bool

	// DoZero appends the final unregularized point. Defaults to true.
	DoZero bool

	// Epsilon is the min/max regularization ratio. Defaults to 0.001.
	Epsilon float64

	// Tol is the convergence tolerance. Defaults to 1e-4.
	Tol float64

	// MaxSparsity, when > 0, stops the sweep once the nonzero-weight
	// fraction exceeds it.
	MaxSparsity float64

	// Checkpoint, when non-empty, persists every path entry and the
	// progress log under this directory.
	Checkpoint string

	// Family of the model. Defaults to glm.Multinomial.
	Family glm.Family

	// Seed of the split/shuffle randomness, for reproducible fits.
	Seed int64

	model *glm.Linear
	path  *RegularizationPath
}

// NewGLM creates a GLM facade with the default configuration for a
// numClasses-way classification problem.
func NewGLM(numClasses int) *GLM {
	return &GLM{
		NumClasses:   numClasses,
		BatchSize:    128,
		ValFrac:      0.1,
		LearningRate: 0.1,
		K:            100,
		MaxEpochs:    2000,
		Alpha:        1,
		Verbose:      200,
		DoZero:       true,
		Epsilon:      0.001,
		Tol:          1e-4,
		Family:       glm.Multinomial,
		Seed:         1,
	}
}

// Fit splits (x, labels) into train/validation parts, initializes the linear
// model at zero and computes the regularization path.
func (g *GLM) Fit(x, labels *mat.Dense) error {
	rng := rand.New(rand.NewSource(g.Seed))
	xTrain, yTrain, xVal, yVal := data.Split(x, labels, g.ValFrac, rng)
	if xTrain == nil {
		return errors.Errorf("validation fraction %g leaves no training examples", g.ValFrac)
	}

	trainDS, err := data.FromMatrices("train", xTrain, yTrain)
	if err != nil {
		return err
	}
	trainDS.WithBatchSize(g.BatchSize).Shuffled(rng)

	var valDS data.Dataset
	if xVal != nil {
		valInMemory, err := data.FromMatrices("validation", xVal, yVal)
		if err != nil {
			return err
		}
		valDS = valInMemory.WithBatchSize(g.BatchSize)
	}

	_, numFeatures := x.Dims()
	g.model = glm.NewLinear(g.NumClasses, numFeatures)

	path := NewPath(g.model, trainDS, g.LearningRate, g.MaxEpochs, g.Alpha).
		WithFamily(g.Family).
		Steps(g.K).
		WithDoZero(g.DoZero).
		WithCounts(trainDS.NumExamples(), g.NumClasses).
		Verbose(g.Verbose).
		WithTol(g.Tol).
		WithEpsilon(g.Epsilon).
		WithGroupSparsity(g.Group)
	if valDS != nil {
		path.WithValidation(valDS)
	}
	if g.MaxSparsity > 0 {
		path.WithMaxSparsity(g.MaxSparsity)
	}
	if g.Checkpoint != "" {
		path.Checkpoint(g.Checkpoint)
	}

	g.path, err = path.Run()
	return err
}

// Model returns the fitted linear model, holding the weights of the last
// computed path level.
func (g *GLM) Model() *glm.Linear {
	g.checkFitted()
	return g.model
}

// Params returns the fitted weight matrix and bias vector.
func (g *GLM) Params() (*mat.Dense, *mat.VecDense) {
	g.checkFitted()
	return g.model.Weights(), g.model.Bias()
}

// Path returns the computed regularization path.
func (g *GLM) Path() *RegularizationPath {
	g.checkFitted()
	return g.path
}

// Predict returns the model outputs (logits for Multinomial) for a batch of
// inputs.
func (g *GLM) Predict(x *mat.Dense) *mat.Dense {
	g.checkFitted()
	return g.model.Forward(x)
}

func (g *GLM) checkFitted() {
	if g.model == nil {
		exceptions.Panicf("GLM used before Fit was called")
	}
}

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
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/glmsaga/checkpoints"
	"github.com/gomlx/glmsaga/data"
	"github.com/gomlx/glmsaga/glm"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Metrics of one regularization level, evaluated on the training data and,
// where datasets were provided, validation and test data. Entries for absent
// datasets are -1.
type Metrics struct {
	TrainLoss float64 `json:"loss_tr"`
	TrainAcc  float64 `json:"acc_tr"`
	ValLoss   float64 `json:"loss_val"`
	ValAcc    float64 `json:"acc_val"`
	TestLoss  float64 `json:"loss_test"`
	TestAcc   float64 `json:"acc_test"`
}

// PathEntry is the immutable record of one regularization level: the
// hyperparameters used, the metrics reached and a snapshot of the solution.
type PathEntry struct {
	Lambda       float64
	LearningRate float64
	Alpha        float64
	Elapsed      time.Duration
	Loss         float64
	Metrics      Metrics
	Weights      *mat.Dense
	Bias         *mat.VecDense
}

// pathEntryJSON is the serialized layout of a PathEntry checkpoint.
type pathEntryJSON struct {
	Lambda         float64     `json:"lam"`
	LearningRate   float64     `json:"lr"`
	Alpha          float64     `json:"alpha"`
	ElapsedSeconds float64     `json:"time"`
	Loss           float64     `json:"loss"`
	Metrics        Metrics     `json:"metrics"`
	Weights        [][]float64 `json:"weight"`
	Bias           []float64   `json:"bias"`
}

// MarshalJSON implements json.Marshaler.
func (e PathEntry) MarshalJSON() ([]byte, error) {
	rows, _ := e.Weights.Dims()
	record := pathEntryJSON{
		Lambda:         e.Lambda,
		LearningRate:   e.LearningRate,
		Alpha:          e.Alpha,
		ElapsedSeconds: e.Elapsed.Seconds(),
		Loss:           e.Loss,
		Metrics:        e.Metrics,
		Weights:        make([][]float64, rows),
		Bias:           make([]float64, e.Bias.Len()),
	}
	for i := 0; i < rows; i++ {
		record.Weights[i] = append([]float64(nil), e.Weights.RawRowView(i)...)
	}
	for j := range record.Bias {
		record.Bias[j] = e.Bias.AtVec(j)
	}
	return json.Marshal(record)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *PathEntry) UnmarshalJSON(encoded []byte) error {
	var record pathEntryJSON
	if err := json.Unmarshal(encoded, &record); err != nil {
		return err
	}
	e.Lambda = record.Lambda
	e.LearningRate = record.LearningRate
	e.Alpha = record.Alpha
	e.Elapsed = time.Duration(record.ElapsedSeconds * float64(time.Second))
	e.Loss = record.Loss
	e.Metrics = record.Metrics
	if len(record.Weights) > 0 {
		e.Weights = mat.NewDense(len(record.Weights), len(record.Weights[0]), nil)
		for i, row := range record.Weights {
			e.Weights.SetRow(i, row)
		}
	}
	if len(record.Bias) > 0 {
		e.Bias = mat.NewVecDense(len(record.Bias), record.Bias)
	}
	return nil
}

// RegularizationPath is the result of a Path run: the ordered sequence of
// per-level entries, the entry with the best validation loss (nil when no
// validation dataset was given), and the final warm-startable trainer state.
type RegularizationPath struct {
	Entries []PathEntry
	Best    *PathEntry
	State   *State
}

// placed is implemented by models or preprocessors that declare an explicit
// device/memory placement. When both sides declare one, they must match.
type placed interface {
	Placement() string
}

// Path configures a regularization-path sweep. Create it with NewPath, set
// options with the chained methods and call Run.
type Path struct {
	model  glm.Model
	ds     data.Dataset
	maxLR  float64
	epochs int
	alpha  float64

	family        glm.Family
	preprocess    data.Preprocessor
	group         bool
	verbose       int
	state         *State
	numExamples   int
	numClasses    int
	tol           float64
	epsilon       float64
	k             int
	checkpointDir string
	doZero        bool
	lrDecayFactor float64
	meta          *data.Metadata
	valDS         data.Dataset
	testDS        data.Dataset
	lookbehind    int
	maxSparsity   float64
	hasSparsity   bool
}

// NewPath starts the configuration of a sweep training model on ds, with the
// learning-rate ladder starting at maxLR, at most epochs epochs per level and
// elastic-net mixing parameter alpha (1 is pure L1/group-L1, 0 is pure L2).
func NewPath(model glm.Model, ds data.Dataset, maxLR float64, epochs int, alpha float64) *Path {
	return &Path{
		model:         model,
		ds:            ds,
		maxLR:         maxLR,
		epochs:        epochs,
		alpha:         alpha,
		family:        glm.Multinomial,
		tol:           1e-4,
		epsilon:       0.001,
		k:             100,
		doZero:        true,
		lrDecayFactor: 1,
	}
}

// WithFamily sets the distribution family; defaults to glm.Multinomial.
func (p *Path) WithFamily(family glm.Family) *Path {
	family.Check()
	p.family = family
	return p
}

// WithPreprocess maps every batch through the given feature stage (an
// upstream model, a Normalizer, or both chained) before any computation.
func (p *Path) WithPreprocess(preprocess data.Preprocessor) *Path {
	p.preprocess = preprocess
	return p
}

// WithEncoder is a deprecated alias of WithPreprocess.
//
// Deprecated: use WithPreprocess.
func (p *Path) WithEncoder(encoder data.Preprocessor) *Path {
	klog.Warning("Path.WithEncoder is deprecated, use Path.WithPreprocess instead")
	return p.WithPreprocess(encoder)
}

// WithGroupSparsity selects the grouped (per-feature) proximal operator.
func (p *Path) WithGroupSparsity(group bool) *Path {
	p.group = group
	return p
}

// Verbose makes each trainer invocation log its objective every n epochs.
func (p *Path) Verbose(n int) *Path {
	p.verbose = n
	return p
}

// WarmStart seeds the first level with a previously returned trainer state.
func (p *Path) WarmStart(state *State) *Path {
	p.state = state
	return p
}

// WithCounts supplies the number of training examples and classes, skipping
// the initial dataset scan. Either may be 0 to keep it derived.
func (p *Path) WithCounts(numExamples, numClasses int) *Path {
	p.numExamples = numExamples
	p.numClasses = numClasses
	return p
}

// WithTol sets the convergence tolerance. Defaults to 1e-4.
func (p *Path) WithTol(tol float64) *Path {
	p.tol = tol
	return p
}

// WithEpsilon sets the ratio of the smallest to the largest regularization
// strength in the sweep. Defaults to 0.001.
func (p *Path) WithEpsilon(epsilon float64) *Path {
	p.epsilon = epsilon
	return p
}

// Steps sets the number of regularization levels in the sweep, not counting
// the optional final unregularized point. Must be at least 1; defaults to 100.
func (p *Path) Steps(k int) *Path {
	if k < 1 {
		exceptions.Panicf("Path.Steps: need at least 1 regularization level, got %d", k)
	}
	p.k = k
	return p
}

// Checkpoint persists each PathEntry (as `params{i}.json`) and the progress
// log under dir.
func (p *Path) Checkpoint(dir string) *Path {
	p.checkpointDir = dir
	return p
}

// WithDoZero appends one final unregularized point (lambda = 0, reusing the
// last learning rate) to the sweep. Defaults to true.
func (p *Path) WithDoZero(doZero bool) *Path {
	p.doZero = doZero
	return p
}

// LRDecayFactor makes the learning-rate ladder decay geometrically from maxLR
// down to maxLR/factor. Defaults to 1 (constant learning rate).
func (p *Path) LRDecayFactor(factor float64) *Path {
	p.lrDecayFactor = factor
	return p
}

// WithMetadata supplies precomputed dataset statistics, skipping the scans
// that derive example/class counts and the maximum-regularization value.
func (p *Path) WithMetadata(meta *data.Metadata) *Path {
	p.meta = meta
	return p
}

// WithValidation evaluates every level on ds and tracks the best entry by
// validation loss.
func (p *Path) WithValidation(ds data.Dataset) *Path {
	p.valDS = ds
	return p
}

// WithTest evaluates every level on ds.
func (p *Path) WithTest(ds data.Dataset) *Path {
	p.testDS = ds
	return p
}

// WithLookbehind switches the trainers to epoch-level early stopping; see
// Trainer.
func (p *Path) WithLookbehind(n int) *Path {
	p.lookbehind = n
	return p
}

// WithMaxSparsity stops the whole sweep early once the fraction of weight
// entries with magnitude above 1e-5 exceeds ceiling -- the point at which the
// solutions stop being sparse enough to be worth the remaining levels.
func (p *Path) WithMaxSparsity(ceiling float64) *Path {
	p.maxSparsity = ceiling
	p.hasSparsity = true
	return p
}

// Run executes the sweep: it computes the lambda and learning-rate ladders,
// trains one level at a time in decreasing-lambda order warm-starting each
// from the previous state, evaluates and records every level, and returns the
// full path together with the best-validation entry and the final state.
func (p *Path) Run() (*RegularizationPath, error) {
	if modelPlaced, ok := p.model.(placed); ok {
		if prePlaced, ok := p.preprocess.(placed); ok && modelPlaced.Placement() != prePlaced.Placement() {
			return nil, errors.Errorf("model and preprocess must share a placement (got %q and %q)",
				modelPlaced.Placement(), prePlaced.Placement())
		}
	}

	numExamples, numClasses := p.numExamples, p.numClasses
	if p.meta != nil {
		if numExamples == 0 {
			numExamples = p.meta.NumExamples
		}
		if numClasses == 0 {
			numClasses = p.meta.NumClasses
		}
	}
	if numExamples == 0 || numClasses == 0 {
		scannedExamples, scannedClasses, err := ScanDataset(p.ds, p.family)
		if err != nil {
			return nil, err
		}
		if numExamples == 0 {
			numExamples = scannedExamples
		}
		if numClasses == 0 {
			numClasses = scannedClasses
		}
	}

	if modelClasses, _ := p.model.Weights().Dims(); modelClasses != numClasses {
		return nil, errors.Errorf("model has %d outputs but the data has %d classes", modelClasses, numClasses)
	}

	maxReg, err := MaximumRegularization(p.ds, p.group, p.preprocess, p.meta, p.family)
	if err != nil {
		return nil, err
	}
	maxLam := maxReg / math.Max(0.001, p.alpha)
	minLam := p.epsilon * maxLam
	lams := logSpace(maxLam, minLam, p.k)
	lrs := logSpace(p.maxLR, p.maxLR/p.lrDecayFactor, p.k)
	if p.doZero {
		lams = append(lams, 0)
		lrs = append(lrs, lrs[len(lrs)-1])
	}

	logf := klog.Infof
	var handler *checkpoints.Handler
	if p.checkpointDir != "" {
		handler, err = checkpoints.Build(p.checkpointDir).Done()
		if err != nil {
			return nil, err
		}
		defer func() { _ = handler.Close() }()
		logf = handler.Logf
	}

	path := &RegularizationPath{State: p.state}
	bestValLoss := math.Inf(1)
	bestIndex := -1
	for i, lam := range lams {
		start := time.Now()
		trainer := &Trainer{
			Model:        p.model,
			Family:       p.family,
			Preprocess:   p.preprocess,
			LearningRate: lrs[i],
			Epochs:       p.epochs,
			Lambda:       lam,
			Alpha:        p.alpha,
			Group:        p.group,
			Tol:          p.tol,
			Lookbehind:   p.lookbehind,
			NumExamples:  numExamples,
			Verbose:      p.verbose,
			Logf:         logf,
		}
		path.State, _, err = trainer.Train(p.ds, path.State)
		if err != nil {
			return nil, err
		}

		entry := PathEntry{
			Lambda:       lam,
			LearningRate: lrs[i],
			Alpha:        p.alpha,
			Weights:      mat.DenseCopyOf(p.model.Weights()),
			Bias:         mat.VecDenseCopyOf(p.model.Bias()),
		}
		entry.Metrics.TrainLoss, entry.Metrics.TrainAcc, err = glm.DatasetLossAndAcc(p.model, p.ds, lam, p.alpha, p.preprocess, p.family)
		if err != nil {
			return nil, err
		}
		entry.Loss = entry.Metrics.TrainLoss
		entry.Metrics.ValLoss, entry.Metrics.ValAcc, err = p.evalOptional(p.valDS, lam)
		if err != nil {
			return nil, err
		}
		entry.Metrics.TestLoss, entry.Metrics.TestAcc, err = p.evalOptional(p.testDS, lam)
		if err != nil {
			return nil, err
		}
		entry.Elapsed = time.Since(start)
		path.Entries = append(path.Entries, entry)

		if p.valDS != nil && entry.Metrics.ValLoss < bestValLoss {
			bestValLoss = entry.Metrics.ValLoss
			bestIndex = i
		}

		nnz, total := weightNNZ(p.model.Weights())
		density := float64(nnz) / float64(total)
		switch p.family {
		case glm.Multinomial:
			logf("(%d) lambda %.4f, loss %.4f, acc %.4f [val acc %.4f] [test acc %.4f], sparsity %.4f [%d/%d], time %s, lr %.4f",
				i, lam, entry.Loss, entry.Metrics.TrainAcc, entry.Metrics.ValAcc, entry.Metrics.TestAcc,
				density, nnz, total, entry.Elapsed.Round(time.Millisecond), lrs[i])
		case glm.Gaussian:
			logf("(%d) lambda %.4f, loss %.4f [val loss %.4f] [test loss %.4f], sparsity %.4f [%d/%d], time %s, lr %.4f",
				i, lam, entry.Loss, entry.Metrics.ValLoss, entry.Metrics.TestLoss,
				density, nnz, total, entry.Elapsed.Round(time.Millisecond), lrs[i])
		}

		if handler != nil {
			if err = handler.SaveJSON(fmt.Sprintf("params%d.json", i), entry); err != nil {
				return nil, err
			}
		}
		if p.hasSparsity && density > p.maxSparsity {
			break
		}
	}
	if bestIndex >= 0 {
		path.Best = &path.Entries[bestIndex]
	}
	return path, nil
}

func (p *Path) evalOptional(ds data.Dataset, lam float64) (loss, acc float64, err error) {
	if ds == nil {
		return -1, -1, nil
	}
	return glm.DatasetLossAndAcc(p.model, ds, lam, p.alpha, p.preprocess, p.family)
}

// logSpace returns k values geometrically (log-uniformly) spaced from `from`
// down (or up) to `to`, inclusive at both ends.
func logSpace(from, to float64, k int) []float64 {
	if k == 1 {
		return []float64{from}
	}
	return floats.LogSpan(make([]float64, k), from, to)
}

// Interface checks.
var (
	_ json.Marshaler   = PathEntry{}
	_ json.Unmarshaler = (*PathEntry)(nil)
)

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
	"math"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// NormalizerConfig configures a Normalizer being built. Create it with
// Normalization, set options with the chained methods and call Done.
type NormalizerConfig struct {
	ds        Dataset
	model     Preprocessor
	mean, std *mat.VecDense
	meta      *Metadata
	progress  bool
}

// Normalization starts the configuration of a Normalizer that standardizes
// features to zero mean and unit (sample) standard deviation, with statistics
// computed over the whole dataset ds -- unless they are supplied with
// WithStats or WithMetadata, in which case ds may be nil.
func Normalization(ds Dataset) *NormalizerConfig {
	return &NormalizerConfig{ds: ds}
}

// WithModel maps every batch through an upstream feature model before the
// statistics are computed, and again before every Transform.
func (c *NormalizerConfig) WithModel(model Preprocessor) *NormalizerConfig {
	c.model = model
	return c
}

// WithStats supplies precomputed per-feature mean and standard deviation,
// skipping the corresponding data passes. Either may be nil to keep it
// computed.
func (c *NormalizerConfig) WithStats(mean, std *mat.VecDense) *NormalizerConfig {
	c.mean, c.std = mean, std
	return c
}

// WithMetadata reads both statistics from dataset metadata, skipping all
// data passes.
func (c *NormalizerConfig) WithMetadata(meta *Metadata) *NormalizerConfig {
	c.meta = meta
	return c
}

// WithProgress displays a progress bar during the statistics passes.
func (c *NormalizerConfig) WithProgress() *NormalizerConfig {
	c.progress = true
	return c
}

// Done builds the Normalizer, running the statistics passes if needed.
//
// The standard deviation uses the sample (n-1) denominator: the dataset must
// hold at least 2 examples, a single-example dataset is undefined behavior.
func (c *NormalizerConfig) Done() (*Normalizer, error) {
	n := &Normalizer{model: c.model}
	if c.meta != nil {
		n.mean, n.std = c.meta.InputMean, c.meta.InputStd
		return n, nil
	}
	n.mean, n.std = c.mean, c.std
	if n.mean == nil {
		var count int
		var err error
		n.mean, count, err = c.meanPass()
		if err != nil {
			return nil, err
		}
		klog.V(1).Infof("normalization statistics computed over %s examples", humanize.Comma(int64(count)))
	}
	if n.std == nil {
		var err error
		n.std, err = c.stdPass(n.mean)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (c *NormalizerConfig) meanPass() (mean *mat.VecDense, count int, err error) {
	var sum *mat.VecDense
	err = c.forEachBatch("computing feature means", func(inputs *mat.Dense) {
		rows, cols := inputs.Dims()
		if sum == nil {
			sum = mat.NewVecDense(cols, nil)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				sum.SetVec(j, sum.AtVec(j)+inputs.At(i, j))
			}
		}
		count += rows
	})
	if err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, 0, errors.Errorf("dataset %q yielded no examples for normalization", c.ds.Name())
	}
	sum.ScaleVec(1/float64(count), sum)
	return sum, count, nil
}

func (c *NormalizerConfig) stdPass(mean *mat.VecDense) (*mat.VecDense, error) {
	var sumSq *mat.VecDense
	count := 0
	err := c.forEachBatch("computing feature standard deviations", func(inputs *mat.Dense) {
		rows, cols := inputs.Dims()
		if sumSq == nil {
			sumSq = mat.NewVecDense(cols, nil)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				d := inputs.At(i, j) - mean.AtVec(j)
				sumSq.SetVec(j, sumSq.AtVec(j)+d*d)
			}
		}
		count += rows
	})
	if err != nil {
		return nil, err
	}
	for j := 0; j < sumSq.Len(); j++ {
		sumSq.SetVec(j, math.Sqrt(sumSq.AtVec(j)/float64(count-1)))
	}
	return sumSq, nil
}

func (c *NormalizerConfig) forEachBatch(description string, fn func(inputs *mat.Dense)) error {
	if c.ds == nil {
		return errors.New("normalization statistics requested but no dataset given")
	}
	var bar *progressbar.ProgressBar
	if c.progress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"))
	}
	c.ds.Reset()
	for {
		batch, err := c.ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.WithMessagef(err, "normalization pass over dataset %q", c.ds.Name())
		}
		inputs := batch.Inputs
		if c.model != nil {
			inputs = c.model.Transform(inputs)
		}
		fn(inputs)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return nil
}

// Normalizer standardizes inputs to `(x - mean) / std` per feature,
// broadcasting the per-feature statistics across the batch dimension. It
// implements Preprocessor, so it can be handed directly to the solver as the
// preprocess stage. If built with an upstream model, raw inputs are mapped
// through the model first.
type Normalizer struct {
	model     Preprocessor
	mean, std *mat.VecDense
}

var _ Preprocessor = (*Normalizer)(nil)

// Mean returns the per-feature means in use.
func (n *Normalizer) Mean() *mat.VecDense { return n.mean }

// Std returns the per-feature standard deviations in use.
func (n *Normalizer) Std() *mat.VecDense { return n.std }

// Transform implements Preprocessor.
func (n *Normalizer) Transform(x *mat.Dense) *mat.Dense {
	if n.model != nil {
		x = n.model.Transform(x)
	}
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, (x.At(i, j)-n.mean.AtVec(j))/n.std.AtVec(j))
		}
	}
	return out
}

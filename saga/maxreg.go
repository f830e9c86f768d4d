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
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/glmsaga/data"
	"github.com/gomlx/glmsaga/glm"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// MaximumRegularization computes the smallest regularization strength
// (before alpha normalization) at which the elastic-net penalty drives every
// weight of a freshly zero-initialized model to zero. It anchors the top of
// the regularization sweep: training at this lambda must leave the weights
// exactly zero, since the proximal step cancels the gradient step.
//
// The estimate is `max |X^T (target - mean(target))| / n`, with the maximum
// taken over per-feature L2 norms when group sparsity is requested, and over
// raw magnitudes otherwise. If preprocess is non-nil, inputs are mapped
// through it first. When meta is non-nil the value is read from the supplied
// summary statistics and no data pass happens.
func MaximumRegularization(ds data.Dataset, group bool, preprocess data.Preprocessor, meta *data.Metadata, family glm.Family) (float64, error) {
	family.Check()
	if meta != nil {
		if group {
			return meta.MaxRegGrouped, nil
		}
		return meta.MaxRegNonGrouped, nil
	}

	klog.V(1).Infof("calculating maximum regularization from dataset %q...", ds.Name())
	_, numClasses, err := ScanDataset(ds, family)
	if err != nil {
		return 0, err
	}

	// Mean target vector over all examples.
	targetMean := mat.NewVecDense(numClasses, nil)
	n := 0
	err = forEachTarget(ds, family, numClasses, func(_ *mat.Dense, target *mat.Dense) {
		rows, _ := target.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < numClasses; j++ {
				targetMean.SetVec(j, targetMean.AtVec(j)+target.At(i, j))
			}
		}
		n += rows
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.Errorf("dataset %q yielded no examples", ds.Name())
	}
	targetMean.ScaleVec(1/float64(n), targetMean)

	// Target standard deviation (sample, n-1 denominator). Not part of the
	// returned magnitude, computed for interface parity with the statistics
	// consumers.
	targetStd := mat.NewVecDense(numClasses, nil)
	err = forEachTarget(ds, family, numClasses, func(_ *mat.Dense, target *mat.Dense) {
		rows, _ := target.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < numClasses; j++ {
				d := target.At(i, j) - targetMean.AtVec(j)
				targetStd.SetVec(j, targetStd.AtVec(j)+d*d)
			}
		}
	})
	if err != nil {
		return 0, err
	}
	for j := 0; j < numClasses; j++ {
		targetStd.SetVec(j, math.Sqrt(targetStd.AtVec(j)/float64(n-1)))
	}
	klog.V(2).Infof("target std: %v", mat.Formatted(targetStd.T()))

	// Inner products between (optionally preprocessed) inputs and the
	// mean-centered targets: X^T (target - mean), (numFeatures, numClasses).
	var innerProducts *mat.Dense
	err = forEachTarget(ds, family, numClasses, func(inputs *mat.Dense, target *mat.Dense) {
		if preprocess != nil {
			inputs = preprocess.Transform(inputs)
		}
		rows, _ := target.Dims()
		centered := mat.NewDense(rows, numClasses, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < numClasses; j++ {
				centered.Set(i, j, target.At(i, j)-targetMean.AtVec(j))
			}
		}
		var contribution mat.Dense
		contribution.Mul(inputs.T(), centered)
		if innerProducts == nil {
			innerProducts = &contribution
		} else {
			innerProducts.Add(innerProducts, &contribution)
		}
	})
	if err != nil {
		return 0, err
	}

	numFeatures, _ := innerProducts.Dims()
	maxMagnitude := 0.0
	if group {
		for i := 0; i < numFeatures; i++ {
			if norm := mat.Norm(innerProducts.RowView(i), 2); norm > maxMagnitude {
				maxMagnitude = norm
			}
		}
	} else {
		for i := 0; i < numFeatures; i++ {
			for j := 0; j < numClasses; j++ {
				if v := math.Abs(innerProducts.At(i, j)); v > maxMagnitude {
					maxMagnitude = v
				}
			}
		}
	}
	klog.V(1).Infof("maximum regularization computed over %s examples", humanize.Comma(int64(n)))
	return maxMagnitude / float64(n), nil
}

// forEachTarget runs one full pass over ds, handing each batch's inputs and
// family-encoded target (one-hot for Multinomial, raw for Gaussian) to fn.
func forEachTarget(ds data.Dataset, family glm.Family, numClasses int, fn func(inputs, target *mat.Dense)) error {
	ds.Reset()
	for {
		batch, err := ds.Yield()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.WithMessagef(err, "traversing dataset %q", ds.Name())
		}
		target := batch.Labels
		if family == glm.Multinomial {
			target = glm.OneHot(batch.Labels, numClasses)
		}
		fn(batch.Inputs, target)
	}
}

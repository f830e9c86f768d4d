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
	"github.com/gomlx/glmsaga/glm"
	"github.com/gomlx/glmsaga/glm/prox"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// TrainProx trains the model on the full batch (x, y) with plain proximal
// gradient descent for iters iterations. It is the deterministic baseline the
// SAGA trainer is checked against: both minimize the same elastic-net
// penalized objective, so their solutions must agree within tolerance.
//
// The L2 part of the penalty is folded into the gradient; the L1 (or group
// L1) part is handled by the proximal step.
func TrainProx(m glm.Model, x, y *mat.Dense, lr float64, iters int, lam, alpha float64, group bool, family glm.Family, verbose int) {
	family.Check()
	weights := m.Weights()
	bias := m.Bias()
	numClasses, _ := weights.Dims()
	n, _ := x.Dims()

	for iter := 0; iter < iters; iter++ {
		out := m.Forward(x)

		var residual *mat.Dense
		switch family {
		case glm.Multinomial:
			if verbose > 0 && iter%verbose == 0 {
				loss := glm.CrossEntropy(out, y, nil) + 0.5*lam*(1-alpha)*squaredNorm(weights)
				klog.Infof("prox baseline iter %d: loss %v", iter, loss)
			}
			residual = glm.Softmax(out)
			residual.Sub(residual, glm.OneHot(y, numClasses))
		case glm.Gaussian:
			if verbose > 0 && iter%verbose == 0 {
				loss := glm.HalfMSE(out, y, nil) + 0.5*lam*(1-alpha)*squaredNorm(weights)
				klog.Infof("prox baseline iter %d: loss %v", iter, loss)
			}
			residual = mat.NewDense(n, numClasses, nil)
			residual.Sub(out, y)
		}

		// Gradient step, with the L2 penalty term included.
		wGrad := batchWeightGrad(residual, x)
		var wStep mat.Dense
		wStep.Scale(lam*(1-alpha), weights)
		wStep.Add(&wStep, wGrad)
		wStep.Scale(-lr, &wStep)
		wStep.Add(&wStep, weights)

		var biasNew mat.VecDense
		biasNew.AddScaledVec(bias, -lr, columnMeans(residual))

		// Proximal step for the L1 part.
		if group {
			weights.Copy(prox.GroupThreshold(&wStep, lr*lam*alpha))
		} else {
			weights.Copy(prox.SoftThreshold(&wStep, lr*lam*alpha))
		}
		bias.CopyVec(&biasNew)
	}
}

func squaredNorm(w *mat.Dense) float64 {
	norm := mat.Norm(w, 2)
	return norm * norm
}

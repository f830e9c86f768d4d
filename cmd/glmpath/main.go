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

// glmpath fits an elastic-net regularization path on a synthetic Gaussian
// blobs classification problem and prints the resulting path as a table.
//
// Useful as a smoke test of the solver and as a usage example of the GLM
// facade.
package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/glmsaga/saga"
	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

var (
	flagNumExamples = flag.Int("examples", 600, "Number of synthetic examples to generate.")
	flagNumFeatures = flag.Int("features", 20, "Number of features per example.")
	flagNumClasses  = flag.Int("classes", 3, "Number of classes.")
	flagK           = flag.Int("k", 10, "Number of regularization levels in the path.")
	flagAlpha       = flag.Float64("alpha", 1.0, "Elastic-net mixing parameter (1 = pure L1).")
	flagLR          = flag.Float64("lr", 0.1, "Learning rate at the top of the ladder.")
	flagMaxEpochs   = flag.Int("max_epochs", 500, "Maximum epochs per regularization level.")
	flagGroup       = flag.Bool("group", false, "Use grouped (feature-level) sparsity.")
	flagCheckpoint  = flag.String("checkpoint", "", "If set, save path entries and logs under this directory.")
	flagSeed        = flag.Int64("seed", 42, "Random seed for data generation and splits.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	x, labels := makeBlobs(*flagNumExamples, *flagNumFeatures, *flagNumClasses, *flagSeed)

	glmFit := saga.NewGLM(*flagNumClasses)
	glmFit.K = *flagK
	glmFit.Alpha = *flagAlpha
	glmFit.LearningRate = *flagLR
	glmFit.MaxEpochs = *flagMaxEpochs
	glmFit.Group = *flagGroup
	glmFit.Seed = *flagSeed
	glmFit.Checkpoint = *flagCheckpoint
	must.M(glmFit.Fit(x, labels))

	path := glmFit.Path()
	rows := make([][]string, 0, len(path.Entries))
	for i, entry := range path.Entries {
		nonZero := 0
		weightRows, weightCols := entry.Weights.Dims()
		for r := 0; r < weightRows; r++ {
			for c := 0; c < weightCols; c++ {
				if v := entry.Weights.At(r, c); v > saga.NearZero || v < -saga.NearZero {
					nonZero++
				}
			}
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%.5f", entry.Lambda),
			fmt.Sprintf("%.4f", entry.LearningRate),
			fmt.Sprintf("%.4f", entry.Metrics.TrainLoss),
			fmt.Sprintf("%.4f", entry.Metrics.TrainAcc),
			fmt.Sprintf("%.4f", entry.Metrics.ValAcc),
			fmt.Sprintf("%d/%d", nonZero, weightRows*weightCols),
			entry.Elapsed.String(),
		})
	}
	headerStyle := lipgloss.NewStyle().Bold(true)
	pathTable := lgtable.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		}).
		Headers("#", "lambda", "lr", "train loss", "train acc", "val acc", "nnz", "time").
		Rows(rows...)
	fmt.Println(pathTable)

	if best := path.Best; best != nil {
		fmt.Printf("Best validation loss %.4f at lambda %.5f\n", best.Metrics.ValLoss, best.Lambda)
	}
	if *flagCheckpoint != "" {
		fmt.Printf("Path entries and progress log saved under %s\n", *flagCheckpoint)
	}
}

// makeBlobs samples numExamples points from numClasses well-separated
// isotropic Gaussian clusters, returning the inputs and the (n, 1) class ids.
func makeBlobs(numExamples, numFeatures, numClasses int, seed int64) (x, labels *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	centers := mat.NewDense(numClasses, numFeatures, nil)
	for c := 0; c < numClasses; c++ {
		for j := 0; j < numFeatures; j++ {
			centers.Set(c, j, 4*rng.NormFloat64())
		}
	}
	x = mat.NewDense(numExamples, numFeatures, nil)
	labels = mat.NewDense(numExamples, 1, nil)
	for i := 0; i < numExamples; i++ {
		class := rng.Intn(numClasses)
		labels.Set(i, 0, float64(class))
		for j := 0; j < numFeatures; j++ {
			x.Set(i, j, centers.At(class, j)+rng.NormFloat64())
		}
	}
	return
}

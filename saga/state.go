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

// Package saga computes elastic-net regularization paths for generalized
// linear models with a proximal variant of the SAGA stochastic
// variance-reduced gradient algorithm.
//
// The Trainer optimizes the model at a single regularization strength; Path
// sweeps a geometric ladder of strengths from a data-derived maximum down to
// a small fraction of it, warm-starting each level from the previous one. The
// GLM facade wraps both behind a scikit-style Fit/Predict API.
package saga

import (
	"gonum.org/v1/gonum/mat"
)

// State is the warm-startable SAGA state threaded between consecutive
// regularization levels.
//
// ATable holds, per training example (row, addressed by the example's dataset
// index), the residual computed the last time the example was visited; rows
// of never-visited examples are zero. WGradAvg and BGradAvg are running
// estimates of the full-dataset average gradient of the unregularized loss,
// updated incrementally from the residual deltas so they converge to the true
// full-batch gradient without ever being recomputed from scratch.
type State struct {
	ATable   *mat.Dense    // (numExamples, numClasses)
	WGradAvg *mat.Dense    // (numClasses, numFeatures)
	BGradAvg *mat.VecDense // (numClasses)
}

// NewState creates a zeroed SAGA state for the given problem sizes.
func NewState(numExamples, numClasses, numFeatures int) *State {
	return &State{
		ATable:   mat.NewDense(numExamples, numClasses, nil),
		WGradAvg: mat.NewDense(numClasses, numFeatures, nil),
		BGradAvg: mat.NewVecDense(numClasses, nil),
	}
}

// StopReason reports why a Trainer invocation stopped.
type StopReason int

const (
	// Converged: the per-step update norm fell at or below the tolerance.
	Converged StopReason = iota

	// EarlyStopped: the epoch objective did not improve for the configured
	// lookbehind number of epochs.
	EarlyStopped

	// MaxEpochsReached: the epoch budget ran out before any stopping rule
	// triggered. Non-fatal; the reached state is still usable.
	MaxEpochsReached
)

// String implements fmt.Stringer.
func (r StopReason) String() string {
	switch r {
	case Converged:
		return "converged"
	case EarlyStopped:
		return "early-stopped"
	case MaxEpochsReached:
		return "max-epochs-reached"
	}
	return "invalid"
}

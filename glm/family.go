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

package glm

import (
	"strings"

	"github.com/gomlx/exceptions"
)

// Family selects the distribution family of the generalized linear model,
// which determines the base loss and the target encoding.
type Family int

const (
	// Multinomial classification: softmax cross-entropy loss, one-hot targets.
	Multinomial Family = iota

	// Gaussian regression: half mean-squared-error loss, raw targets.
	Gaussian
)

// String implements fmt.Stringer.
func (f Family) String() string {
	switch f {
	case Multinomial:
		return "multinomial"
	case Gaussian:
		return "gaussian"
	}
	return "invalid"
}

// ParseFamily converts a family name ("multinomial" or "gaussian",
// case-insensitive) to a Family. It panics on anything else: an unknown
// family is a configuration error, not a recoverable condition.
func ParseFamily(name string) Family {
	switch strings.ToLower(name) {
	case "multinomial":
		return Multinomial
	case "gaussian":
		return Gaussian
	}
	exceptions.Panicf("unknown family %q: must be one of \"multinomial\" or \"gaussian\"", name)
	return Family(-1) // Unreachable.
}

// Check panics if f is not one of the supported families. Called wherever
// loss, target-encoding or max-regularization logic branches on the family.
func (f Family) Check() {
	if f != Multinomial && f != Gaussian {
		exceptions.Panicf("unknown family %d: must be glm.Multinomial or glm.Gaussian", int(f))
	}
}

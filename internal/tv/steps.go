// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package tv

import (
	"fmt"
	"math"
)

// Bound on the squared operator norm of the discrete gradient with a 4-neighbour stencil in 2-D
const GradientNormBound = 8.0

// A step size policy derives the primal step tau and the dual step beta from the
// regularization weight gamma. Steps are computed once per solver and stay fixed.
type StepPolicy interface {
	Steps(gamma float64) (tau, beta float64)
}

// Step sizes inversely proportional to gamma: tau=Tau/gamma, beta=Beta/gamma
type InverseGammaSteps struct {
	Tau  float64 `json:"tau"`
	Beta float64 `json:"beta"`
}

// Default policy, tau=8/gamma and beta=0.015/gamma. Gives beta*tau*gamma^2*8 = 0.96
var DefaultSteps = InverseGammaSteps{Tau: 8, Beta: 0.015}

func (s InverseGammaSteps) Steps(gamma float64) (tau, beta float64) {
	return s.Tau / gamma, s.Beta / gamma
}

func (s InverseGammaSteps) String() string {
	return fmt.Sprintf("tau=%g/gamma beta=%g/gamma", s.Tau, s.Beta)
}

// Checks that a policy yields positive, finite steps satisfying beta*tau*gamma^2*L <= 1
// for the given gamma. Without this the iteration can diverge to Inf or NaN.
func CheckStable(p StepPolicy, gamma float64) (tau, beta float64, err error) {
	if err := CheckPositive("gamma", gamma); err != nil {
		return 0, 0, err
	}
	tau, beta = p.Steps(gamma)
	if err := CheckPositive("tau", tau); err != nil {
		return 0, 0, err
	}
	if err := CheckPositive("beta", beta); err != nil {
		return 0, 0, err
	}
	bound := beta * tau * gamma * gamma * GradientNormBound
	if math.IsNaN(bound) || bound > 1+1e-12 {
		return 0, 0, &ParamError{Name: "steps", Value: bound,
			Reason: fmt.Sprintf("beta*tau*gamma^2*%g must not exceed 1", GradientNormBound)}
	}
	return tau, beta, nil
}

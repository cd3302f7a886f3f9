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

package rician

import (
	"github.com/mlnoga/mrdenoise/internal/tv"
)

// Creates a primal-dual solver for the Rician denoising problem
//   min_u G(u) + gamma*TV(u), 0 <= u <= 255
// on the noisy observation f. Parameters are validated before any allocation.
func NewSolver(f *tv.Field, sigma float64, cfg tv.SolverConfig) (*tv.Solver, error) {
	if err := tv.CheckPositive("sigma", sigma); err != nil {
		return nil, err
	}
	return tv.NewSolver(f, DataTerm{Sigma: sigma}, cfg)
}

// Denoises f with noise scale sigma and regularization weight gamma in exactly
// the given number of iterations, using default step sizes and a single thread.
// Returns a new field; f is left unchanged.
func Denoise(f *tv.Field, sigma, gamma float64, iterations int) (*tv.Field, error) {
	return DenoiseWithConfig(f, sigma, tv.SolverConfig{Gamma: gamma, Iterations: iterations})
}

// Denoises f with the given solver configuration
func DenoiseWithConfig(f *tv.Field, sigma float64, cfg tv.SolverConfig) (*tv.Field, error) {
	s, err := NewSolver(f, sigma, cfg)
	if err != nil {
		return nil, err
	}
	return s.Run()
}

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
	"io"
	"math"
)

// A smooth data fidelity term. Gradient writes the derivative of the term with
// respect to u into dst, given the observation f. Implementations must be stateless
// across calls, as u changes every iteration.
type DataTerm interface {
	Gradient(dst, u, f *Field, threads int) error
}

// Optionally implemented by a DataTerm to report its value, for progress logging
type EnergyTerm interface {
	Energy(u, f *Field) float64
}

// Default box constraint for the primal field
const (
	DefaultLower = 0.0
	DefaultUpper = 255.0
)

// Solver parameters. Zero Lower and Upper select the default box [0,255]
type SolverConfig struct {
	Gamma      float64    // regularization weight, >0
	Iterations int        // fixed number of iterations, >=0
	Steps      StepPolicy // nil selects DefaultSteps
	Lower      float64    // box constraint on the primal field
	Upper      float64
	Threads    int       // goroutines per array operation, <=1 runs sequentially
	Log        io.Writer // progress output, nil for none
	LogEvery   int       // log every n iterations, 0 for none
}

// Linearized primal-dual solver for min_u G(u) + gamma*TV(u) subject to Lower<=u<=Upper.
//
// Each iteration performs a dual ascent on the flow p using the gradient of the
// extrapolated primal, projects p onto the unit disk, takes an explicit primal
// descent step along G'(u) - gamma*div p, clips to the box and extrapolates.
// The solver owns all buffers; u and its previous value are swapped, never aliased.
type Solver struct {
	cfg   SolverConfig
	tau   float64
	beta  float64
	data  DataTerm
	f     *Field // observation, read only
	u     *Field // primal iterate
	uOld  *Field // primal iterate before the current step
	uBar  *Field // extrapolated primal
	px    *Field // dual flow
	py    *Field
	gx    *Field // scratch: gradient of uBar
	gy    *Field
	div   *Field // scratch: divergence of p
	grad  *Field // scratch: data term derivative
	k     int
}

// Number of fields of the observation's size held by a solver, for memory estimates
const SolverFieldCount = 10

// Creates a solver for observation f. Validates all parameters before allocating.
// The observation is not copied and must not be modified while the solver runs.
func NewSolver(f *Field, data DataTerm, cfg SolverConfig) (*Solver, error) {
	if data == nil {
		return nil, &ParamError{Name: "data", Value: math.NaN(), Reason: "data term required"}
	}
	if cfg.Iterations < 0 {
		return nil, &ParamError{Name: "iterations", Value: float64(cfg.Iterations), Reason: "must not be negative"}
	}
	if cfg.Steps == nil {
		cfg.Steps = DefaultSteps
	}
	if cfg.Lower == 0 && cfg.Upper == 0 {
		cfg.Lower, cfg.Upper = DefaultLower, DefaultUpper
	}
	if !(cfg.Lower < cfg.Upper) {
		return nil, &ParamError{Name: "upper", Value: cfg.Upper, Reason: fmt.Sprintf("must exceed lower bound %g", cfg.Lower)}
	}
	tau, beta, err := CheckStable(cfg.Steps, cfg.Gamma)
	if err != nil {
		return nil, err
	}
	if err := CheckShapes("solver", f); err != nil {
		return nil, err
	}

	w, h := f.Width, f.Height
	s := &Solver{
		cfg: cfg, tau: tau, beta: beta, data: data, f: f,
		u: f.Clone(), uOld: NewField(w, h), uBar: f.Clone(),
		px: NewField(w, h), py: NewField(w, h),
		gx: NewField(w, h), gy: NewField(w, h),
		div: NewField(w, h), grad: NewField(w, h),
	}
	return s, nil
}

// Returns the fixed primal and dual step sizes
func (s *Solver) Steps() (tau, beta float64) { return s.tau, s.beta }

// Number of iterations performed so far
func (s *Solver) Iteration() int { return s.k }

// Current primal iterate. Owned by the solver; clone before modifying
func (s *Solver) Primal() *Field { return s.u }

// Current dual flow. Owned by the solver
func (s *Solver) Dual() (px, py *Field) { return s.px, s.py }

// Performs one iteration
func (s *Solver) Step() error {
	threads := s.cfg.Threads
	gb := s.beta * s.cfg.Gamma

	// dual ascent and projection onto the unit disk
	if err := GradientInto(s.gx, s.gy, s.uBar, threads); err != nil {
		return err
	}
	w := s.f.Width
	ForEachRowBand(s.f.Height, threads, func(y0, y1 int) {
		px, py := s.px.Data[y0*w:y1*w], s.py.Data[y0*w:y1*w]
		gx, gy := s.gx.Data[y0*w:y1*w], s.gy.Data[y0*w:y1*w]
		for i := range px {
			px[i] += gb * gx[i]
			py[i] += gb * gy[i]
		}
		projectRange(px, py)
	})

	// explicit primal descent, box constraint and extrapolation
	if err := DivergenceInto(s.div, s.px, s.py, threads); err != nil {
		return err
	}
	if err := s.data.Gradient(s.grad, s.u, s.f, threads); err != nil {
		return err
	}
	s.u, s.uOld = s.uOld, s.u
	tau, gamma, lo, hi := s.tau, s.cfg.Gamma, s.cfg.Lower, s.cfg.Upper
	ForEachRowBand(s.f.Height, threads, func(y0, y1 int) {
		u, uOld, uBar := s.u.Data[y0*w:y1*w], s.uOld.Data[y0*w:y1*w], s.uBar.Data[y0*w:y1*w]
		grad, div := s.grad.Data[y0*w:y1*w], s.div.Data[y0*w:y1*w]
		for i := range u {
			v := uOld[i] - tau*(grad[i]-gamma*div[i])
			if v < lo || math.IsNaN(v) {
				v = lo
			} else if v > hi {
				v = hi
			}
			u[i] = v
			uBar[i] = 2*v - uOld[i]
		}
	})
	s.k++

	if s.cfg.Log != nil && s.cfg.LogEvery > 0 && (s.k%s.cfg.LogEvery == 0 || s.k == s.cfg.Iterations) {
		s.logProgress()
	}
	return nil
}

// Runs the remaining iterations and returns a copy of the final primal field
func (s *Solver) Run() (*Field, error) {
	for s.k < s.cfg.Iterations {
		if err := s.Step(); err != nil {
			return nil, err
		}
	}
	return s.u.Clone(), nil
}

func (s *Solver) logProgress() {
	sumDelta := 0.0
	for i, v := range s.u.Data {
		sumDelta += math.Abs(v - s.uOld.Data[i])
	}
	meanDelta := sumDelta / float64(len(s.u.Data))

	maxP := 0.0
	for i := range s.px.Data {
		if m := math.Hypot(s.px.Data[i], s.py.Data[i]); m > maxP {
			maxP = m
		}
	}

	if et, ok := s.data.(EnergyTerm); ok {
		energy := et.Energy(s.u, s.f) + s.cfg.Gamma*TotalVariation(s.u)
		fmt.Fprintf(s.cfg.Log, "Iteration %d/%d: energy %.6g mean |du| %.4g max |p| %.4g\n",
			s.k, s.cfg.Iterations, energy, meanDelta, maxP)
	} else {
		fmt.Fprintf(s.cfg.Log, "Iteration %d/%d: mean |du| %.4g max |p| %.4g\n",
			s.k, s.cfg.Iterations, meanDelta, maxP)
	}
}

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

// Package rician implements total variation denoising under a Rician noise model,
// as found in magnitude MR images: the data fidelity term and its derivative,
// the solver entry point, a closed-form bias correction, and a noise generator.
package rician

import (
	"math"

	"github.com/mlnoga/mrdenoise/internal/bessel"
	"github.com/mlnoga/mrdenoise/internal/tv"
)

// Iterates are floored at this value before any division or square root
const MinIntensity = 1e-6

// Writes the derivative of the Rician negative log-likelihood with respect to u into dst:
//   G'(u) = u/sigma^2 - (f/sigma^2)*I1(f*u/sigma^2)/I0(f*u/sigma^2) + (1/sigma)*(1-sqrt(f/u))
// with u floored at MinIntensity. Never produces NaN or Inf for finite, non-negative inputs.
func FidelityGradient(dst, u, f *tv.Field, sigma float64) error {
	return DataTerm{Sigma: sigma}.Gradient(dst, u, f, 1)
}

// Rician data fidelity term with noise scale Sigma, for use with tv.Solver
type DataTerm struct {
	Sigma float64
}

var _ tv.DataTerm = DataTerm{}
var _ tv.EnergyTerm = DataTerm{}

// Implements tv.DataTerm
func (d DataTerm) Gradient(dst, u, f *tv.Field, threads int) error {
	if err := tv.CheckPositive("sigma", d.Sigma); err != nil {
		return err
	}
	if err := tv.CheckShapes("fidelity gradient", u, f, dst); err != nil {
		return err
	}
	w := u.Width
	tv.ForEachRowBand(u.Height, threads, func(y0, y1 int) {
		fidelityGradient(dst.Data[y0*w:y1*w], u.Data[y0*w:y1*w], f.Data[y0*w:y1*w], d.Sigma)
	})
	return nil
}

func fidelityGradient(dst, u, f []float64, sigma float64) {
	invSigma := 1 / sigma
	invVar := invSigma * invSigma
	for i := range dst {
		us := math.Max(u[i], MinIntensity)
		fi := f[i]
		r := bessel.Ratio(fi * us * invVar)
		q := math.Max(fi, 0) / us
		dst[i] = us*invVar - fi*invVar*r + invSigma*(1-math.Sqrt(q))
	}
}

// Implements tv.EnergyTerm, ignoring parameter and shape errors
func (d DataTerm) Energy(u, f *tv.Field) float64 {
	e, _ := NegLogLikelihood(u, f, d.Sigma)
	return e
}

// Returns the Rician data fidelity term summed over all pixels, up to an additive
// constant independent of u:
//   G(u) = u^2/(2 sigma^2) - log I0(f*u/sigma^2) + (u - 2*sqrt(f*u))/sigma
// Its derivative is FidelityGradient. The logarithm of I0 is evaluated in scaled
// form, log I0(x) = log I0e(x) + x, to stay finite for large arguments.
func NegLogLikelihood(u, f *tv.Field, sigma float64) (float64, error) {
	if err := tv.CheckPositive("sigma", sigma); err != nil {
		return 0, err
	}
	if err := tv.CheckShapes("neg log likelihood", u, f); err != nil {
		return 0, err
	}
	invSigma := 1 / sigma
	invVar := invSigma * invSigma
	sum := 0.0
	for i, ui := range u.Data {
		us := math.Max(ui, MinIntensity)
		fi := math.Max(f.Data[i], 0)
		x := fi * us * invVar
		sum += 0.5*us*us*invVar - (math.Log(bessel.I0e(x)) + x) + invSigma*(us-2*math.Sqrt(fi*us))
	}
	return sum, nil
}

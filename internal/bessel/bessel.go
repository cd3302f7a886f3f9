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

// Package bessel evaluates modified Bessel functions of the first kind in
// exponentially scaled form, and the ratio I1(x)/I0(x) that appears in the
// derivative of the Rician log-likelihood.
//
// Unscaled I0 and I1 overflow float64 for x beyond roughly 700, while the
// arguments seen in denoising (f*u/sigma^2) easily reach the thousands. The
// scaled forms exp(-|x|)*I0(x) and exp(-|x|)*I1(x) stay within [0,1], and
// their ratio is the ratio of the unscaled functions because the exponential
// factors cancel.
//
// Polynomial approximations from Abramowitz & Stegun 9.8.1 to 9.8.4, accurate
// to about 1e-7 relative error. Ratio is accurate to about 1.1e-6 absolute error,
// with the largest deviation near x=100, well short of machine precision. In the
// Rician data term this moves the fixed point by about 1e-6*f.
package bessel

import (
	"math"
)

// Switch from the power series to the asymptotic expansion at this argument
const smallArgThreshold = 3.75

// Denominators below this are floored before dividing
const RatioEpsilon = 1e-12

// A&S 9.8.1: I0(x) = 1 + sum c_i t^(2i), t=x/3.75, |x|<=3.75
var i0Small = [...]float64{1.0, 3.5156229, 3.0899424, 1.2067492, 0.2659732, 0.0360768, 0.0045813}

// A&S 9.8.2: sqrt(x) exp(-x) I0(x) = sum c_i t^-i, x>=3.75
var i0Large = [...]float64{0.39894228, 0.01328592, 0.00225319, -0.00157565, 0.00916281,
	-0.02057706, 0.02635537, -0.01647633, 0.00392377}

// A&S 9.8.3: I1(x)/x = sum c_i t^(2i), |x|<=3.75
var i1Small = [...]float64{0.5, 0.87890594, 0.51498869, 0.15084934, 0.02658733, 0.00301532, 0.00032411}

// A&S 9.8.4: sqrt(x) exp(-x) I1(x) = sum c_i t^-i, x>=3.75
var i1Large = [...]float64{0.39894228, -0.03988024, -0.00362018, 0.00163801, -0.01031555,
	0.02282967, -0.02895312, 0.01787654, -0.00420059}

// Evaluates a polynomial with coefficients in ascending order using Horner's scheme
func horner(c []float64, t float64) float64 {
	res := c[len(c)-1]
	for i := len(c) - 2; i >= 0; i-- {
		res = res*t + c[i]
	}
	return res
}

// I0e returns the exponentially scaled modified Bessel function of the first kind
// of order zero, exp(-|x|)*I0(x). The result lies in (0,1].
func I0e(x float64) float64 {
	ax := math.Abs(x)
	if ax <= smallArgThreshold {
		t := x / smallArgThreshold
		return math.Exp(-ax) * horner(i0Small[:], t*t)
	}
	if math.IsInf(ax, 1) {
		return 0
	}
	return horner(i0Large[:], smallArgThreshold/ax) / math.Sqrt(ax)
}

// I1e returns the exponentially scaled modified Bessel function of the first kind
// of order one, exp(-|x|)*I1(x). It is odd in x, and |I1e(x)| < I0e(x).
func I1e(x float64) float64 {
	ax := math.Abs(x)
	var res float64
	if ax <= smallArgThreshold {
		t := x / smallArgThreshold
		res = ax * math.Exp(-ax) * horner(i1Small[:], t*t)
	} else if math.IsInf(ax, 1) {
		res = 0
	} else {
		res = horner(i1Large[:], smallArgThreshold/ax) / math.Sqrt(ax)
	}
	if x < 0 {
		return -res
	}
	return res
}

// Largest float64 below one. The true ratio approaches 1 only in the limit
var belowOne = math.Nextafter(1, 0)

// Ratio returns I1(x)/I0(x), evaluated via the scaled forms so that no
// intermediate overflows. For finite x>=0 the result lies in [0,1).
// The denominator is floored at RatioEpsilon.
func Ratio(x float64) float64 {
	if math.IsInf(x, 0) {
		return math.Copysign(1, x)
	}
	ax := math.Abs(x)
	var r float64
	if ax <= smallArgThreshold {
		r = I1e(ax) / math.Max(I0e(ax), RatioEpsilon)
	} else {
		// the common 1/sqrt(x) factor of both expansions cancels as well
		t := smallArgThreshold / ax
		r = horner(i1Large[:], t) / math.Max(horner(i0Large[:], t), RatioEpsilon)
	}
	if r > belowOne {
		r = belowOne
	}
	if x < 0 {
		return -r
	}
	return r
}

// RatioSlice writes Ratio(xs[i]) into dst[i]. Panics if the lengths differ.
func RatioSlice(dst, xs []float64) {
	if len(dst) != len(xs) {
		panic("bessel: RatioSlice length mismatch")
	}
	for i, x := range xs {
		dst[i] = Ratio(x)
	}
}

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
	"math"

	"github.com/mlnoga/mrdenoise/internal/tv"
)

// Default bias correction coefficient
const DefaultBiasCoefficient = 1.2

// Corrects the systematic underestimation of the maximum likelihood restoration u
// of the noisy observation f. Each pixel is raised by
//   c * sigma^2 / (2 * max(f, u, sigma))
// which is the first order shrinkage of the Rician likelihood at amplitude A,
// scaled by c. The increment is bounded by c*sigma/2. The result is not clipped;
// callers wanting the [0,255] domain clip afterwards.
func CorrectBias(u, f *tv.Field, sigma, c float64) (*tv.Field, error) {
	if err := tv.CheckPositive("sigma", sigma); err != nil {
		return nil, err
	}
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
		return nil, &tv.ParamError{Name: "c", Value: c, Reason: "must be finite and non-negative"}
	}
	if err := tv.CheckShapes("bias correction", u, f); err != nil {
		return nil, err
	}

	out := tv.NewField(u.Width, u.Height)
	k := 0.5 * c * sigma * sigma
	for i, ui := range u.Data {
		a := math.Max(math.Max(f.Data[i], ui), sigma)
		out.Data[i] = ui + k/a
	}
	return out, nil
}

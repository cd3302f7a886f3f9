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
	"github.com/valyala/fastrand"
)

// Seed used in place of zero, which fastrand would replace with a random seed
const defaultSeed = 0x5eed

// Returns a copy of clean with Rician noise of scale sigma applied to every pixel:
//   sqrt((A + sigma*n1)^2 + (sigma*n2)^2)
// where A is the clean value and n1, n2 are independent standard normal samples.
// Output is deterministic for a given seed.
func AddNoise(clean *tv.Field, sigma float64, seed uint32) (*tv.Field, error) {
	if err := tv.CheckPositive("sigma", sigma); err != nil {
		return nil, err
	}
	if err := tv.CheckShapes("add noise", clean); err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = defaultSeed
	}
	rng := fastrand.RNG{}
	rng.Seed(seed)

	out := tv.NewField(clean.Width, clean.Height)
	for i, a := range clean.Data {
		n1, n2 := normalPair(&rng)
		re, im := a+sigma*n1, sigma*n2
		out.Data[i] = math.Sqrt(re*re + im*im)
	}
	return out, nil
}

// Returns two independent standard normal samples via the Box-Muller transform
func normalPair(rng *fastrand.RNG) (float64, float64) {
	// u1 in (0,1] keeps the logarithm finite
	u1 := (float64(rng.Uint32()) + 1) / (1 << 32)
	u2 := float64(rng.Uint32()) / (1 << 32)
	r := math.Sqrt(-2 * math.Log(u1))
	s, c := math.Sincos(2 * math.Pi * u2)
	return r * c, r * s
}

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
	"math"
)

// Forward-difference gradient with replicate (Neumann) boundaries:
//   gx(x,y) = u(x+1,y) - u(x,y), zero in the last column
//   gy(x,y) = u(x,y+1) - u(x,y), zero in the last row
func Gradient(u *Field) (gx, gy *Field) {
	gx, gy = NewField(u.Width, u.Height), NewField(u.Width, u.Height)
	gradientRows(gx, gy, u, 0, u.Height)
	return gx, gy
}

// Computes the gradient of u into preallocated gx, gy using up to threads goroutines
func GradientInto(gx, gy, u *Field, threads int) error {
	if err := CheckShapes("gradient", u, gx, gy); err != nil {
		return err
	}
	ForEachRowBand(u.Height, threads, func(y0, y1 int) { gradientRows(gx, gy, u, y0, y1) })
	return nil
}

func gradientRows(gx, gy, u *Field, y0, y1 int) {
	w, h := u.Width, u.Height
	for y := y0; y < y1; y++ {
		row := y * w
		for x := 0; x < w-1; x++ {
			gx.Data[row+x] = u.Data[row+x+1] - u.Data[row+x]
		}
		gx.Data[row+w-1] = 0
		if y < h-1 {
			for x := 0; x < w; x++ {
				gy.Data[row+x] = u.Data[row+w+x] - u.Data[row+x]
			}
		} else {
			for x := 0; x < w; x++ {
				gy.Data[row+x] = 0
			}
		}
	}
}

// Discrete divergence, the negative adjoint of Gradient: sum(Divergence(px,py)*u) == -sum(px*gx + py*gy).
// Backward differences, where the first column/row takes the value itself and the last
// column/row takes the negated previous value:
//   d(x,y) = px(x,y)[x<W-1] - px(x-1,y)[x>0] + py(x,y)[y<H-1] - py(x,y-1)[y>0]
func Divergence(px, py *Field) (*Field, error) {
	if err := CheckShapes("divergence", px, py); err != nil {
		return nil, err
	}
	d := NewField(px.Width, px.Height)
	divergenceRows(d, px, py, 0, px.Height)
	return d, nil
}

// Computes the divergence of (px,py) into preallocated d using up to threads goroutines
func DivergenceInto(d, px, py *Field, threads int) error {
	if err := CheckShapes("divergence", px, py, d); err != nil {
		return err
	}
	ForEachRowBand(px.Height, threads, func(y0, y1 int) { divergenceRows(d, px, py, y0, y1) })
	return nil
}

func divergenceRows(d, px, py *Field, y0, y1 int) {
	w, h := px.Width, px.Height
	for y := y0; y < y1; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			i := row + x
			v := 0.0
			if x < w-1 {
				v += px.Data[i]
			}
			if x > 0 {
				v -= px.Data[i-1]
			}
			if y < h-1 {
				v += py.Data[i]
			}
			if y > 0 {
				v -= py.Data[i-w]
			}
			d.Data[i] = v
		}
	}
}

// Projects the dual flow (px,py) pixelwise onto the closed unit disk, in place:
// each vector is divided by max(1, |p|)
func ProjectUnitDisk(px, py *Field) error {
	if err := CheckShapes("project", px, py); err != nil {
		return err
	}
	projectRange(px.Data, py.Data)
	return nil
}

func projectRange(px, py []float64) {
	for i := range px {
		m := math.Sqrt(px[i]*px[i] + py[i]*py[i])
		if m > 1 {
			px[i] /= m
			py[i] /= m
		}
	}
}

// Isotropic total variation, sum of |grad u| over all pixels
func TotalVariation(u *Field) float64 {
	gx, gy := Gradient(u)
	sum := 0.0
	for i := range gx.Data {
		sum += math.Hypot(gx.Data[i], gy.Data[i])
	}
	return sum
}

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

// Package tv implements the discrete total variation machinery for 2-D scalar
// fields: forward-difference gradient, its negative adjoint divergence, the
// projection of a dual flow onto the unit disk, and a linearized primal-dual
// solver that combines these with a pluggable smooth data term.
package tv

import (
	"fmt"
	"math"
)

// A 2-D scalar field of real values, stored row-major: the sample at column x and row y is Data[y*Width+x]
type Field struct {
	Width  int
	Height int
	Data   []float64
}

// Creates a zero-valued field of the given dimensions
func NewField(width, height int) *Field {
	return &Field{Width: width, Height: height, Data: make([]float64, width*height)}
}

// Creates a field of given width wrapping the given data. Data is not copied
func NewFieldFromData(data []float64, width int) (*Field, error) {
	if width <= 0 || len(data)%width != 0 {
		return nil, &ShapeError{Op: "NewFieldFromData", Detail: fmt.Sprintf("%d samples do not form rows of width %d", len(data), width)}
	}
	return &Field{Width: width, Height: len(data) / width, Data: data}, nil
}

// Creates a field from float32 samples with the given row width. Data is copied
func FieldFromFloat32(data []float32, width int) (*Field, error) {
	if width <= 0 || len(data)%width != 0 {
		return nil, &ShapeError{Op: "FieldFromFloat32", Detail: fmt.Sprintf("%d samples do not form rows of width %d", len(data), width)}
	}
	f := NewField(width, len(data)/width)
	for i, v := range data {
		f.Data[i] = float64(v)
	}
	return f, nil
}

// Returns the samples converted to float32
func (f *Field) Float32() []float32 {
	res := make([]float32, len(f.Data))
	for i, v := range f.Data {
		res[i] = float32(v)
	}
	return res
}

// Returns a deep copy
func (f *Field) Clone() *Field {
	return &Field{Width: f.Width, Height: f.Height, Data: append([]float64(nil), f.Data...)}
}

// Copies the samples of src into f. Shapes must match
func (f *Field) CopyFrom(src *Field) error {
	if err := CheckShapes("CopyFrom", f, src); err != nil {
		return err
	}
	copy(f.Data, src.Data)
	return nil
}

func (f *Field) At(x, y int) float64 { return f.Data[y*f.Width+x] }

func (f *Field) Set(x, y int, v float64) { f.Data[y*f.Width+x] = v }

// Clamps all samples to [lo, hi] in place
func (f *Field) Clip(lo, hi float64) {
	for i, v := range f.Data {
		if v < lo {
			f.Data[i] = lo
		} else if v > hi {
			f.Data[i] = hi
		}
	}
}

// Fills all samples with the given value
func (f *Field) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// True if both fields have the same width and height
func (f *Field) SameShape(g *Field) bool {
	return f.Width == g.Width && f.Height == g.Height
}

// True if no sample is NaN or infinite
func (f *Field) IsFinite() bool {
	for _, v := range f.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Returns minimum and maximum sample values
func (f *Field) MinMax() (min, max float64) {
	if len(f.Data) == 0 {
		return 0, 0
	}
	min, max = f.Data[0], f.Data[0]
	for _, v := range f.Data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func (f *Field) String() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Returns a ShapeError unless all given fields are non-nil, non-empty and share the shape of the first one
func CheckShapes(op string, fields ...*Field) error {
	if len(fields) == 0 {
		return nil
	}
	first := fields[0]
	if first == nil || first.Width <= 0 || first.Height <= 0 || len(first.Data) != first.Width*first.Height {
		return &ShapeError{Op: op, Detail: "empty or malformed field"}
	}
	for i, g := range fields[1:] {
		if g == nil || !first.SameShape(g) || len(g.Data) != len(first.Data) {
			got := "nil"
			if g != nil {
				got = g.String()
			}
			return &ShapeError{Op: op, Detail: fmt.Sprintf("argument %d is %s, want %s", i+1, got, first.String())}
		}
	}
	return nil
}

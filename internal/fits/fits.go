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

package fits

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mlnoga/mrdenoise/internal/stats"
	"github.com/mlnoga/mrdenoise/internal/tv"
)

// A monochrome image with FITS metadata.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output.

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels int32   // Number of pixels in the image. Product of Naxisn[]

	Data []float32 // The image data

	Stats *stats.Stats // Image statistics, calculated on demand

	Sigma     float32 // Rician noise scale of the image, 0 if unknown
	Observed  *Image  // Noisy observation this image was restored from, if any
	Reference *Image  // Clean reference for quality metrics, if any
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header: NewHeader(),
		Bscale: 1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Image{
		Header: NewHeader(),
		Bitpix: -32,
		Bscale: 1,
		Naxisn: append([]int32(nil), naxisn...), // clone slice
		Pixels: numPixels,
		Data:   data,
		Stats:  stats.NewStats(data, naxisn[0]),
	}
}

// Creates a FITS image with the same metadata as the given one. New data array will be allocated
func NewImageFromImage(img *Image) *Image {
	data := make([]float32, img.Pixels)
	return &Image{
		ID:        img.ID,
		FileName:  img.FileName,
		Header:    img.Header.Clone(),
		Bitpix:    img.Bitpix,
		Bzero:     img.Bzero,
		Bscale:    img.Bscale,
		Naxisn:    append([]int32(nil), img.Naxisn...), // clone slice
		Pixels:    img.Pixels,
		Data:      data,
		Stats:     stats.NewStats(data, img.Naxisn[0]),
		Sigma:     img.Sigma,
		Observed:  img.Observed,
		Reference: img.Reference,
	}
}

// Creates a 2-D image from a field
func NewImageFromField(f *tv.Field) *Image {
	return NewImageFromNaxisn([]int32{int32(f.Width), int32(f.Height)}, f.Float32())
}

// Returns the image data as a field. Fails unless the image is 2-D
func (f *Image) ToField() (*tv.Field, error) {
	if len(f.Naxisn) != 2 {
		return nil, errors.New(fmt.Sprintf("%d: need a 2-D image, have %s", f.ID, f.DimensionsToString()))
	}
	return tv.FieldFromFloat32(f.Data, int(f.Naxisn[0]))
}

// Replaces the image data with the given field, which must have the same dimensions
func (f *Image) SetField(fld *tv.Field) error {
	if len(f.Naxisn) != 2 || int(f.Naxisn[0]) != fld.Width || int(f.Naxisn[1]) != fld.Height {
		return errors.New(fmt.Sprintf("%d: cannot store %s field in %s image", f.ID, fld, f.DimensionsToString()))
	}
	f.Data = fld.Float32()
	f.Stats = stats.NewStats(f.Data, f.Naxisn[0])
	return nil
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float32),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

// Returns a deep copy of the header
func (h *Header) Clone() Header {
	c := NewHeader()
	for k, v := range h.Bools {
		c.Bools[k] = v
	}
	for k, v := range h.Ints {
		c.Ints[k] = v
	}
	for k, v := range h.Floats {
		c.Floats[k] = v
	}
	for k, v := range h.Strings {
		c.Strings[k] = v
	}
	for k, v := range h.Dates {
		c.Dates[k] = v
	}
	c.Comments = append(c.Comments, h.Comments...)
	c.History = append(c.History, h.History...)
	c.End, c.Length = h.End, h.Length
	return c
}

const fitsBlockSize int = 2880  // Block size of FITS header and data units
const HeaderLineSize int = 80   // Line size of a FITS header

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

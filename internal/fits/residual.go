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
	"image"
	"image/jpeg"
	"io"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// End points of the diverging residual color map. Negative residuals are blue, positive red
var (
	residualNegative = colorful.Color{R: 0.23, G: 0.30, B: 0.75}
	residualZero     = colorful.Color{R: 0.97, G: 0.97, B: 0.97}
	residualPositive = colorful.Color{R: 0.71, G: 0.02, B: 0.15}
)

// Returns the color for a residual in [-1,1], blending in CIE L*a*b* space
func residualColor(r float64) colorful.Color {
	if r < 0 {
		return residualZero.BlendLab(residualNegative, math.Min(-r, 1)).Clamped()
	}
	return residualZero.BlendLab(residualPositive, math.Min(r, 1)).Clamped()
}

// Writes the method noise observed-restored as a color JPG. Residuals of magnitude
// maxAbs or larger are fully saturated; maxAbs<=0 selects three times the noise scale
// of the restored image, or the largest residual if that is unknown
func WriteResidualJPG(writer io.Writer, observed, restored *Image, maxAbs float32, quality int) error {
	if !EqualInt32Slice(observed.Naxisn, restored.Naxisn) || len(restored.Naxisn) != 2 {
		return errors.New(fmt.Sprintf("%d: residual needs 2-D images of equal size, have %s and %s",
			restored.ID, observed.DimensionsToString(), restored.DimensionsToString()))
	}
	if maxAbs <= 0 {
		maxAbs = 3 * restored.Sigma
	}
	if maxAbs <= 0 {
		for i, o := range observed.Data {
			if d := float32(math.Abs(float64(o - restored.Data[i]))); d > maxAbs {
				maxAbs = d
			}
		}
	}
	if maxAbs <= 0 {
		maxAbs = 1
	}

	width, height := int(restored.Naxisn[0]), int(restored.Naxisn[1])
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			r := float64((observed.Data[i] - restored.Data[i]) / maxAbs)
			if math.IsNaN(r) {
				r = 0
			}
			img.Set(x, y, residualColor(r))
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Writes the residual of this image against its noisy observation to a color JPG file
func (f *Image) WriteResidualJPGToFile(fileName string, maxAbs float32, quality int) error {
	if f.Observed == nil {
		return errors.New(fmt.Sprintf("%d: no noisy observation to compute residual from", f.ID))
	}
	return writeToFile(fileName, func(w io.Writer) error { return WriteResidualJPG(w, f.Observed, f, maxAbs, quality) })
}

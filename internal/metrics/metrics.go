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

// Package metrics scores a restored image against a clean reference, restricted
// to the foreground where the reference exceeds an intensity threshold.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/mrdenoise/internal/tv"
)

// Default foreground threshold on the reference image
const DefaultThreshold = 5.0

// Intensity range of the images being compared
const DataRange = 255.0

// SSIM parameters: window size, and stabilization constants relative to DataRange
const (
	ssimWindow = 7
	ssimK1     = 0.01
	ssimK2     = 0.03
)

// Quality scores of an image against a reference
type Report struct {
	PSNR float64 `json:"psnr"`
	SSIM float64 `json:"ssim"`
}

func (r Report) String() string {
	return fmt.Sprintf("PSNR = %.2fdB, SSIM = %.4f", r.PSNR, r.SSIM)
}

// Returns the foreground mask ref>threshold and the number of foreground pixels
func ForegroundMask(ref *tv.Field, threshold float64) (mask []bool, count int) {
	mask = make([]bool, len(ref.Data))
	for i, v := range ref.Data {
		if v > threshold {
			mask[i] = true
			count++
		}
	}
	return mask, count
}

// Peak signal to noise ratio of img against ref over the foreground, in dB.
// Returns +Inf if the images agree on the foreground.
func ForegroundPSNR(ref, img *tv.Field, threshold float64) (float64, error) {
	if err := tv.CheckShapes("psnr", ref, img); err != nil {
		return 0, err
	}
	mask, count := ForegroundMask(ref, threshold)
	if count == 0 {
		return 0, errors.New(fmt.Sprintf("no foreground pixels above threshold %g", threshold))
	}
	sumSq := 0.0
	for i, m := range mask {
		if m {
			d := img.Data[i] - ref.Data[i]
			sumSq += d * d
		}
	}
	mse := sumSq / float64(count)
	if mse == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(DataRange*DataRange/mse), nil
}

// Mean structural similarity of img against ref over foreground pixels, using a
// 7x7 uniform window with sample covariances. Only pixels whose window lies fully
// inside the image are scored.
func ForegroundSSIM(ref, img *tv.Field, threshold float64) (float64, error) {
	if err := tv.CheckShapes("ssim", ref, img); err != nil {
		return 0, err
	}
	w, h := ref.Width, ref.Height
	if w < ssimWindow || h < ssimWindow {
		return 0, errors.New(fmt.Sprintf("image %s smaller than %dx%d SSIM window", ref, ssimWindow, ssimWindow))
	}
	mask, _ := ForegroundMask(ref, threshold)

	sx, sy := newSummedArea(ref, nil), newSummedArea(img, nil)
	sxx := newSummedArea(ref, func(i int) float64 { return ref.Data[i] * ref.Data[i] })
	syy := newSummedArea(img, func(i int) float64 { return img.Data[i] * img.Data[i] })
	sxy := newSummedArea(ref, func(i int) float64 { return ref.Data[i] * img.Data[i] })

	const np = ssimWindow * ssimWindow
	const covNorm = float64(np) / float64(np-1)
	c1 := (ssimK1 * DataRange) * (ssimK1 * DataRange)
	c2 := (ssimK2 * DataRange) * (ssimK2 * DataRange)
	r := ssimWindow / 2

	sum, count := 0.0, 0
	for y := r; y < h-r; y++ {
		for x := r; x < w-r; x++ {
			if !mask[y*w+x] {
				continue
			}
			x0, y0, x1, y1 := x-r, y-r, x+r+1, y+r+1
			ux := sx.sum(x0, y0, x1, y1) / np
			uy := sy.sum(x0, y0, x1, y1) / np
			vx := covNorm * (sxx.sum(x0, y0, x1, y1)/np - ux*ux)
			vy := covNorm * (syy.sum(x0, y0, x1, y1)/np - uy*uy)
			vxy := covNorm * (sxy.sum(x0, y0, x1, y1)/np - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			sum += num / den
			count++
		}
	}
	if count == 0 {
		return 0, errors.New(fmt.Sprintf("no foreground pixels above threshold %g away from the border", threshold))
	}
	return sum / float64(count), nil
}

// Computes both foreground PSNR and SSIM
func Evaluate(ref, img *tv.Field, threshold float64) (Report, error) {
	psnr, err := ForegroundPSNR(ref, img, threshold)
	if err != nil {
		return Report{}, err
	}
	ssim, err := ForegroundSSIM(ref, img, threshold)
	if err != nil {
		return Report{}, err
	}
	return Report{PSNR: psnr, SSIM: ssim}, nil
}

// Summed-area table with one row and column of zero padding
type summedArea struct {
	width int
	table []float64
}

// Builds a summed-area table over f, or over value(i) for each pixel index if given
func newSummedArea(f *tv.Field, value func(i int) float64) *summedArea {
	w, h := f.Width, f.Height
	sa := &summedArea{width: w + 1, table: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		rowSum := 0.0
		for x := 0; x < w; x++ {
			i := y*w + x
			v := f.Data[i]
			if value != nil {
				v = value(i)
			}
			rowSum += v
			sa.table[(y+1)*sa.width+x+1] = sa.table[y*sa.width+x+1] + rowSum
		}
	}
	return sa
}

// Sum over the half-open rectangle [x0,x1)x[y0,y1)
func (sa *summedArea) sum(x0, y0, x1, y1 int) float64 {
	t, w := sa.table, sa.width
	return t[y1*w+x1] - t[y0*w+x1] - t[y1*w+x0] + t[y0*w+x0]
}

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

package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Calculate histogram of data between min and max into given bins. Values outside [min,max] are ignored
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	if !(max > min) || len(bins) == 0 {
		return
	}
	scale := float32(len(bins)-1) / (max - min)
	for _, d := range data {
		if d < min || d > max {
			continue
		}
		bins[int((d-min)*scale)]++
	}
}

// Returns the center of the given bin
func binCenter(i int, min, max float32, numBins int) float32 {
	return min + (float32(i)+0.5)*(max-min)/float32(numBins-1)
}

// Returns the index, location and value of the histogram peak within bins [from, to)
func getPeakIn(bins []int32, from, to int, min, max float32) (index int, x, y float32) {
	maxIndex, maxValue := from, int32(math.MinInt32)
	for i := from; i < to; i++ {
		if bins[i] > maxValue {
			maxIndex, maxValue = i, bins[i]
		}
	}
	x = binCenter(maxIndex, min, max, len(bins))
	y = float32(bins[maxIndex])
	if maxIndex+1 < len(bins) {
		y = 0.5 * float32(bins[maxIndex]+bins[maxIndex+1])
	}
	return maxIndex, x, y
}

// Calculates the mode and the standard deviation of the given histogram
// by fitting a normal distribution with Nelder-Mead
func GetModeStdDevFromHistogram(bins []int32, min, max float32) (mode, stdDev float32, err error) {
	// Take an educated initial guess: the histogram peak, and the half width at half maximum
	peakIndex, peak, peakVal := getPeakIn(bins, 0, len(bins), min, max)
	binWidth := float64(max-min) / float64(len(bins)-1)
	lo, hi := peakIndex, peakIndex
	for lo > 0 && float32(bins[lo]) > 0.5*peakVal {
		lo--
	}
	for hi < len(bins)-1 && float32(bins[hi]) > 0.5*peakVal {
		hi++
	}
	sigma0 := math.Max(0.5*float64(hi-lo)*binWidth/1.1774, binWidth)
	alpha0 := float64(peakVal) * sigma0 * math.Sqrt(2*math.Pi)

	// Now minimize the distance between the histogram and a normal distribution,
	// with parameters relative to the initial guess
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0]*alpha0, float64(peak)+x[1]*sigma0, math.Abs(x[2]*sigma0)
			if sigma == 0 {
				return math.Inf(1)
			}
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := 0.0
			for i, y := range bins {
				xmusig := (float64(binCenter(i, min, max, len(bins))) - mu) / sigma
				diff := float64(y) - scaler*math.Exp(-0.5*xmusig*xmusig)
				sumSqDiff += diff * diff
			}
			return sumSqDiff / float64(len(bins))
		},
	}
	result, err := optimize.Minimize(problem, []float64{1, 0, 1}, nil, &optimize.NelderMead{})
	if err != nil {
		return -1, -1, err
	}
	return float32(float64(peak) + result.X[1]*sigma0), float32(math.Abs(result.X[2] * sigma0)), nil
}

// Number of histogram bins used for Rayleigh background fitting
const rayleighBins = 256

// Estimates the Rician noise scale sigma of a magnitude image from its background.
// Where the true signal is zero, Rician noise reduces to a Rayleigh distribution
// whose mode equals sigma. The background is located as the histogram peak within
// the lowest quarter of intensities, and a Rayleigh density is fit to the histogram
// up to three times that peak with Nelder-Mead.
func EstimateRayleighSigma(data []float32) (sigma float32, err error) {
	if len(data) == 0 {
		return 0, errors.New("no data for noise estimation")
	}
	_, _, max := calcMinMeanMax(data)
	if !(max > 0) {
		return 0, errors.New(fmt.Sprintf("cannot estimate noise on image with maximum %g", max))
	}
	bins := make([]int32, rayleighBins)
	Histogram(data, 0, max, bins)
	binWidth := float64(max) / float64(rayleighBins-1)

	peakIndex, peak, peakVal := getPeakIn(bins, 1, rayleighBins/4, 0, max)
	if bins[peakIndex] == 0 || bins[0] > bins[peakIndex] {
		return 0, errors.New("no Rayleigh background found in lowest quarter of histogram")
	}
	fitBins := 3*peakIndex + 2
	if fitBins > rayleighBins {
		fitBins = rayleighBins
	}

	// parameters are relative to the initial guess: count=x[0]*alpha0, sigma=x[1]*sigma0.
	// The Rayleigh density x/s^2*exp(-x^2/(2s^2)) peaks at x=s with value exp(-1/2)/s
	sigma0 := float64(peak)
	alpha0 := float64(peakVal) * sigma0 * math.Exp(0.5) / binWidth
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, s := x[0]*alpha0, math.Abs(x[1]*sigma0)
			if s == 0 {
				return math.Inf(1)
			}
			invVar := 1 / (s * s)
			sumSqDiff := 0.0
			for i := 0; i < fitBins; i++ {
				xc := float64(binCenter(i, 0, max, rayleighBins))
				yPredict := alpha * binWidth * xc * invVar * math.Exp(-0.5*xc*xc*invVar)
				diff := float64(bins[i]) - yPredict
				sumSqDiff += diff * diff
			}
			return sumSqDiff / float64(fitBins)
		},
	}
	result, err := optimize.Minimize(problem, []float64{1, 1}, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, err
	}
	sigma = float32(math.Abs(result.X[1] * sigma0))
	if !(sigma > 0) || math.IsInf(float64(sigma), 0) {
		return 0, errors.New(fmt.Sprintf("Rayleigh fit did not converge, sigma=%g", sigma))
	}
	return sigma, nil
}

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

// Package stats provides lazily evaluated image statistics, robust location
// and scale estimators based on random sampling, and noise level estimation
// for Gaussian and Rician noise.
package stats

import (
	"fmt"
	"math"

	"github.com/mlnoga/mrdenoise/internal/qsort"
	"github.com/valyala/fastrand"
)

// Enumerated type for location and scale estimator modes
type LSEstimatorMode int

const (
	LSEMeanStdDev LSEstimatorMode = iota
	LSEMedianMAD
	LSESCMedianQn
	LSEHistogram
)

// Default mode for location and scale estimation
var DefaultLSEstimator = LSESCMedianQn

// Number of random samples drawn for sampled estimators
const numSamples = 128 * 1024

// Fixed seed so repeated runs report identical sampled statistics
const samplingSeed = 0x51a75

// Statistics on an image data array, calculated on first use
type Stats struct {
	data  []float32
	width int32
	Mode  LSEstimatorMode

	min, max, mean float32
	hasMMM         bool

	stdDev    float32
	hasStdDev bool

	location, scale float32
	hasLS           bool

	noise    float32
	hasNoise bool
}

// Creates statistics for the given data array with given row width. Nothing is calculated yet
func NewStats(data []float32, width int32) *Stats {
	return &Stats{data: data, width: width, Mode: DefaultLSEstimator}
}

// Creates statistics with already known minimum, maximum and mean
func NewStatsWithMMM(data []float32, width int32, min, max, mean float32) *Stats {
	return &Stats{data: data, width: width, Mode: DefaultLSEstimator,
		min: min, max: max, mean: mean, hasMMM: true}
}

func (s *Stats) Min() float32 {
	s.ensureMMM()
	return s.min
}

func (s *Stats) Max() float32 {
	s.ensureMMM()
	return s.max
}

func (s *Stats) Mean() float32 {
	s.ensureMMM()
	return s.mean
}

// Standard deviation (norm 2, sigma)
func (s *Stats) StdDev() float32 {
	if !s.hasStdDev {
		s.stdDev = float32(math.Sqrt(calcVariance(s.data, s.Mean())))
		s.hasStdDev = true
	}
	return s.stdDev
}

// Location estimate selected by Mode
func (s *Stats) Location() float32 {
	s.ensureLS()
	return s.location
}

// Scale estimate selected by Mode
func (s *Stats) Scale() float32 {
	s.ensureLS()
	return s.scale
}

// Gaussian noise estimate, see EstimateNoise
func (s *Stats) Noise() float32 {
	if !s.hasNoise {
		s.noise = EstimateNoise(s.data, s.width)
		s.hasNoise = true
	}
	return s.noise
}

func (s *Stats) ensureMMM() {
	if !s.hasMMM {
		s.min, s.mean, s.max = calcMinMeanMax(s.data)
		s.hasMMM = true
	}
}

func (s *Stats) ensureLS() {
	if s.hasLS {
		return
	}
	if len(s.data) == 0 {
		s.hasLS = true
		return
	}
	switch s.Mode {
	case LSEMeanStdDev:
		s.location, s.scale = s.Mean(), s.StdDev()
	case LSEMedianMAD:
		samples := make([]float64, numSamples)
		s.location = FastApproxMedian(s.data, samples)
		s.scale = FastApproxMAD(s.data, s.location, samples)
	case LSEHistogram:
		bins := make([]int32, 4096)
		min, max := s.Min(), s.Max()
		if max > min {
			Histogram(s.data, min, max, bins)
			mode, stdDev, err := GetModeStdDevFromHistogram(bins, min, max)
			if err == nil {
				s.location, s.scale = mode, stdDev
				break
			}
		}
		s.location, s.scale = s.Mean(), s.StdDev()
	default:
		s.location, s.scale = FastApproxSigmaClippedMedianAndQn(s.data, 2, 2, (s.Max()-s.Min())/65535, numSamples)
	}
	s.hasLS = true
}

// Pretty print stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g Noise %.4g",
		s.Min(), s.Max(), s.Mean(), s.StdDev(), s.Location(), s.Scale(), s.Noise())
}

// Calculate minimum, mean and maximum of given data
func calcMinMeanMax(data []float32) (min, mean, max float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	mmin, mmean, mmax := data[0], float64(0), data[0]
	for _, v := range data {
		if v < mmin {
			mmin = v
		}
		if v > mmax {
			mmax = v
		}
		mmean += float64(v)
	}
	return mmin, float32(mmean / float64(len(data))), mmax
}

// Calculate variance of given data from provided mean
func calcVariance(data []float32, mean float32) float64 {
	if len(data) == 0 {
		return 0
	}
	variance := float64(0)
	for _, v := range data {
		diff := float64(v - mean)
		variance += diff * diff
	}
	return variance / float64(len(data))
}

func newSamplingRNG() *fastrand.RNG {
	rng := &fastrand.RNG{}
	rng.Seed(samplingSeed)
	return rng
}

// Calculates fast approximate median of the (presumably large) data by subsampling the given number of values and taking the median of that.
// Uses provided samples array as scratchpad
func FastApproxMedian(data []float32, samples []float64) float32 {
	max := uint32(len(data))
	rng := newSamplingRNG()
	for i := range samples {
		samples[i] = float64(data[rng.Uint32n(max)])
	}
	return float32(qsort.QSelectMedianFloat64(samples))
}

// Like FastApproxMedian, only considering values within [lowBound, highBound].
// Returns the unbounded median if too few values fall within the bounds
func FastApproxBoundedMedian(data []float32, lowBound, highBound float32, samples []float64) float32 {
	max := uint32(len(data))
	rng := newSamplingRNG()
	n := 0
	for tries := 0; n < len(samples) && tries < 4*len(samples); tries++ {
		d := data[rng.Uint32n(max)]
		if d >= lowBound && d <= highBound {
			samples[n] = float64(d)
			n++
		}
	}
	if n < 3 {
		return FastApproxMedian(data, samples)
	}
	return float32(qsort.QSelectMedianFloat64(samples[:n]))
}

// Calculates fast approximate median of absolute differences of the (presumably large) data by subsampling the given number of values and taking the MAD of that.
// Normalized to the standard deviation of a Gaussian
func FastApproxMAD(data []float32, location float32, samples []float64) float32 {
	max := uint32(len(data))
	rng := newSamplingRNG()
	for i := range samples {
		samples[i] = math.Abs(float64(data[rng.Uint32n(max)] - location))
	}
	return float32(qsort.QSelectMedianFloat64(samples) * 1.4826)
}

// Calculates fast approximate Qn scale estimate of the (presumably large) data by subsampling the given number of pairs and taking the first quartile of that.
// Original paper http://web.ipac.caltech.edu/staff/fmasci/home/astro_refs/BetterThanMAD.pdf
func FastApproxQn(data []float32, samples []float64) float32 {
	if len(data) < 2 {
		return 0
	}
	max := uint32(len(data))
	rng := newSamplingRNG()
	for i := range samples {
		index1 := 1 + rng.Uint32n(max-1)
		index2 := rng.Uint32n(index1)
		samples[i] = math.Abs(float64(data[index1] - data[index2]))
	}
	// normalize to Gaussian std dev, for large numSamples >>1000. Constant from https://rdrr.io/cran/robustbase/man/Qn.html
	return float32(qsort.QSelectFirstQuartileFloat64(samples) * 2.21914)
}

// Like FastApproxQn, only considering pairs with both values within [lowBound, highBound]
func FastApproxBoundedQn(data []float32, lowBound, highBound float32, samples []float64) float32 {
	if len(data) < 2 {
		return 0
	}
	max := uint32(len(data))
	rng := newSamplingRNG()
	n := 0
	for tries := 0; n < len(samples) && tries < 4*len(samples); tries++ {
		index1 := 1 + rng.Uint32n(max-1)
		d1 := data[index1]
		if d1 < lowBound || d1 > highBound {
			continue
		}
		d2 := data[rng.Uint32n(index1)]
		if d2 >= lowBound && d2 <= highBound {
			samples[n] = math.Abs(float64(d1 - d2))
			n++
		}
	}
	if n < 4 {
		return FastApproxQn(data, samples)
	}
	return float32(qsort.QSelectFirstQuartileFloat64(samples[:n]) * 2.21914)
}

// Returns a rapid robust estimation of location and scale. Uses a fast approximate median based on randomized sampling,
// iteratively sigma clipped with a fast approximate Qn based on random sampling. Exits once the absolute change in
// location and scale is below epsilon.
func FastApproxSigmaClippedMedianAndQn(data []float32, sigmaLow, sigmaHigh float32, epsilon float32, numSamples int) (location, scale float32) {
	samples := make([]float64, numSamples)
	location = FastApproxMedian(data, samples)
	scale = FastApproxQn(data, samples)

	for i := 0; ; i++ {
		lowBound := location - sigmaLow*scale
		highBound := location + sigmaHigh*scale

		newLocation := FastApproxBoundedMedian(data, lowBound, highBound, samples)
		newScale := FastApproxBoundedQn(data, lowBound, highBound, samples)
		newScale *= 1.134 // adjust for subsequent clipping

		if float32(math.Abs(float64(newLocation-location))+math.Abs(float64(newScale-scale))) <= epsilon || i >= 10 {
			return location, FastApproxQn(data, samples)
		}
		location, scale = newLocation, newScale
	}
}

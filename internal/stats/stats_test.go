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
	"math"
	"testing"

	"github.com/valyala/fastrand"
)

func gaussian(rng *fastrand.RNG) float64 {
	u1 := (float64(rng.Uint32()) + 1) / (1 << 32)
	u2 := float64(rng.Uint32()) / (1 << 32)
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// magnitude image with zero signal on the left half and constant signal a on the right
func halfBackground(w, h int, a, sigma float64, seed uint32) []float32 {
	rng := fastrand.RNG{}
	rng.Seed(seed)
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := 0.0
			if x >= w/2 {
				s = a
			}
			data[y*w+x] = float32(math.Hypot(s+sigma*gaussian(&rng), sigma*gaussian(&rng)))
		}
	}
	return data
}

func TestBasicStats(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	s := NewStats(data, 3)
	if s.Min() != 1 || s.Max() != 9 || s.Mean() != 5 {
		t.Errorf("min %f max %f mean %f; want 1 9 5", s.Min(), s.Max(), s.Mean())
	}
	want := float32(math.Sqrt(60.0 / 9))
	if math.Abs(float64(s.StdDev()-want)) > 1e-6 {
		t.Errorf("stddev %f; want %f", s.StdDev(), want)
	}
	// a linear ramp has no second derivative, hence no noise
	if s.Noise() != 0 {
		t.Errorf("noise %f; want 0", s.Noise())
	}
}

func TestLocationScale(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(8)
	data := make([]float32, 256*256)
	for i := range data {
		data[i] = float32(100 + 10*gaussian(&rng))
	}
	for _, mode := range []LSEstimatorMode{LSEMeanStdDev, LSEMedianMAD, LSESCMedianQn, LSEHistogram} {
		s := NewStats(data, 256)
		s.Mode = mode
		if loc := s.Location(); math.Abs(float64(loc)-100) > 0.5 {
			t.Errorf("mode %d: location %f; want 100", mode, loc)
		}
		if sc := s.Scale(); math.Abs(float64(sc)-10) > 1 {
			t.Errorf("mode %d: scale %f; want 10", mode, sc)
		}
	}
}

func TestEstimateNoise(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(12)
	const w, h = 200, 200
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = float32(x+y) + float32(5*gaussian(&rng))
		}
	}
	if n := EstimateNoise(data, w); math.Abs(float64(n)-5) > 0.3 {
		t.Errorf("noise %f; want 5", n)
	}
	if n := EstimateNoise(data[:4], 2); n != 0 {
		t.Errorf("noise on 2x2 %f; want 0", n)
	}
}

func TestHistogram(t *testing.T) {
	bins := make([]int32, 5)
	Histogram([]float32{0, 1, 1, 2, 3, 4, 5, -1}, 0, 4, bins)
	want := []int32{1, 2, 1, 1, 1}
	for i := range want {
		if bins[i] != want[i] {
			t.Errorf("bins[%d]=%d; want %d", i, bins[i], want[i])
		}
	}
	i, x, _ := getPeakIn(bins, 0, len(bins), 0, 4)
	if i != 1 || x != 1.5 {
		t.Errorf("peak %d at %f; want 1 at 1.5", i, x)
	}
}

func TestEstimateRayleighSigma(t *testing.T) {
	for _, sigma := range []float64{10, 20, 25} {
		data := halfBackground(128, 128, 200, sigma, uint32(sigma))
		got, err := EstimateRayleighSigma(data)
		if err != nil {
			t.Fatalf("sigma %f: %v", sigma, err)
		}
		if math.Abs(float64(got)-sigma) > 0.1*sigma {
			t.Errorf("estimated sigma %f; want %f", got, sigma)
		}
	}
}

func TestEstimateRayleighSigmaErrors(t *testing.T) {
	if _, err := EstimateRayleighSigma(nil); err == nil {
		t.Errorf("empty data accepted")
	}
	if _, err := EstimateRayleighSigma(make([]float32, 100)); err == nil {
		t.Errorf("all-zero data accepted")
	}
	// noise free background sits entirely in the first bin
	data := make([]float32, 1000)
	for i := 500; i < len(data); i++ {
		data[i] = 200
	}
	if _, err := EstimateRayleighSigma(data); err == nil {
		t.Errorf("noise free background accepted")
	}
}

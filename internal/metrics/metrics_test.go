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

package metrics

import (
	"math"
	"testing"

	"github.com/mlnoga/mrdenoise/internal/tv"
	"github.com/valyala/fastrand"
)

// square phantom: background 0 with a bright square and a darker inner square
func phantom(w, h int) *tv.Field {
	f := tv.NewField(w, h)
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			f.Set(x, y, 180)
		}
	}
	for y := 3 * h / 8; y < 5*h/8; y++ {
		for x := 3 * w / 8; x < 5*w/8; x++ {
			f.Set(x, y, 90)
		}
	}
	return f
}

func addGaussian(f *tv.Field, sigma float64, seed uint32) *tv.Field {
	rng := fastrand.RNG{}
	rng.Seed(seed)
	g := f.Clone()
	for i := range g.Data {
		u1 := (float64(rng.Uint32()) + 1) / (1 << 32)
		u2 := float64(rng.Uint32()) / (1 << 32)
		g.Data[i] += sigma * math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	}
	return g
}

func TestIdenticalImages(t *testing.T) {
	ref := phantom(32, 32)
	r, err := Evaluate(ref, ref.Clone(), DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(r.PSNR, 1) {
		t.Errorf("psnr=%f; want +Inf", r.PSNR)
	}
	if math.Abs(r.SSIM-1) > 1e-9 {
		t.Errorf("ssim=%f; want 1", r.SSIM)
	}
}

func TestPSNRForegroundOnly(t *testing.T) {
	ref := phantom(32, 32)
	img := ref.Clone()
	for i, v := range ref.Data {
		if v > DefaultThreshold {
			img.Data[i] += 5
		} else {
			img.Data[i] = 255 // background errors are not scored
		}
	}
	psnr, err := ForegroundPSNR(ref, img, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	want := 10 * math.Log10(255*255/25.0)
	if math.Abs(psnr-want) > 1e-9 {
		t.Errorf("psnr=%f; want %f", psnr, want)
	}
}

func TestSSIMDecreasesWithNoise(t *testing.T) {
	ref := phantom(48, 48)
	prev := 1.0
	for i, sigma := range []float64{2, 10, 30} {
		ssim, err := ForegroundSSIM(ref, addGaussian(ref, sigma, uint32(i+1)), DefaultThreshold)
		if err != nil {
			t.Fatal(err)
		}
		if !(ssim < prev) || ssim <= 0 {
			t.Errorf("sigma %f: ssim=%f; want in (0,%f)", sigma, ssim, prev)
		}
		prev = ssim
	}
}

func TestSSIMConstantOffset(t *testing.T) {
	// on flat regions SSIM reduces to the luminance term (2*a*b+c1)/(a^2+b^2+c1)
	ref := tv.NewField(9, 9)
	ref.Fill(100)
	img := tv.NewField(9, 9)
	img.Fill(110)
	ssim, err := ForegroundSSIM(ref, img, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	c1 := (ssimK1 * DataRange) * (ssimK1 * DataRange)
	want := (2*100*110 + c1) / (100*100 + 110*110 + c1)
	if math.Abs(ssim-want) > 1e-9 {
		t.Errorf("ssim=%f; want %f", ssim, want)
	}
}

func TestMetricsErrors(t *testing.T) {
	ref := phantom(16, 16)
	if _, err := ForegroundPSNR(ref, tv.NewField(16, 15), DefaultThreshold); err == nil {
		t.Errorf("shape mismatch accepted")
	}
	if _, err := ForegroundPSNR(tv.NewField(16, 16), ref, DefaultThreshold); err == nil {
		t.Errorf("empty foreground accepted")
	}
	small := tv.NewField(6, 20)
	small.Fill(100)
	if _, err := ForegroundSSIM(small, small, DefaultThreshold); err == nil {
		t.Errorf("image smaller than window accepted")
	}
}

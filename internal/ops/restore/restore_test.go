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


package restore

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/mrdenoise/internal/fits"
	"github.com/mlnoga/mrdenoise/internal/ops"
	"github.com/mlnoga/mrdenoise/internal/rician"
	"github.com/mlnoga/mrdenoise/internal/stats"
	"github.com/mlnoga/mrdenoise/internal/tv"
)

// Returns a clean image with a bright disk of given radius on a zero background
func diskImage(width, height int, radius, value float32) *fits.Image {
	data := make([]float32, width*height)
	cx, cy := float32(width-1)/2, float32(height-1)/2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float32(x)-cx, float32(y)-cy
			if dx*dx+dy*dy < radius*radius {
				data[y*width+x] = value
			}
		}
	}
	return fits.NewImageFromNaxisn([]int32{int32(width), int32(height)}, data)
}

func run(t *testing.T, op ops.Operator, c *ops.Context, ins ...*fits.Image) []*fits.Image {
	promises := make([]ops.Promise, len(ins))
	for i, in := range ins {
		in := in
		promises[i] = func() (*fits.Image, error) { return in, nil }
	}
	outs, err := op.MakePromises(promises, c)
	if err != nil {
		t.Fatal(err)
	}
	images, err := ops.MaterializeAll(outs, c.MaxThreads, false)
	if err != nil {
		t.Fatal(err)
	}
	return images
}

// Changes into a fresh temporary directory, returning a func to change back
func enterTempDir(t *testing.T) func() {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	return func() { os.Chdir(wd) }
}

func TestSimulatePipeline(t *testing.T) {
	defer enterTempDir(t)()
	log := &bytes.Buffer{}
	c := ops.NewContext(log, stats.DefaultLSEstimator)
	clean := diskImage(32, 32, 10, 150)

	opMetricsNoisy := NewOpMetrics(5, "noisy")
	opMetrics := NewOpMetrics(5, "restored")
	opDenoise := NewOpDenoiseDefault()
	opDenoise.LogEvery = 5
	opRestore := NewOpRestore(NewOpEstimateSigmaDefault(), opDenoise, NewOpBiasCorrectDefault(), opMetrics,
		NewOpSaveResidual("residual_%d.jpg"),
		ops.NewOpSave("restored_%d.fits"), ops.NewOpSave(""))
	seq := NewOpSimulate(NewOpAddNoise(25, 1), opMetricsNoisy, opRestore)

	res := run(t, seq, c, clean)
	if len(res) != 1 {
		t.Fatalf("len(res)=%d; want 1", len(res))
	}
	out := res[0]
	if out.Sigma != 25 || out.Reference != clean || out.Observed == nil {
		t.Errorf("sigma=%f reference=%p observed=%p; want 25, clean, noisy", out.Sigma, out.Reference, out.Observed)
	}
	for i, v := range out.Data {
		if !(v >= 0 && v <= 255) {
			t.Fatalf("data[%d]=%f; want in [0,255]", i, v)
		}
	}

	noisy := opMetricsNoisy.Results()
	restored := opMetrics.Results()
	if len(noisy) != 1 || len(restored) != 1 || restored[0].Observed == nil {
		t.Fatalf("noisy=%v restored=%v; want one result each with observation", noisy, restored)
	}
	if p := noisy[0].Report.PSNR; p < 17 || p > 24 {
		t.Errorf("noisy PSNR=%f; want in [17,24]", p)
	}
	if d := math.Abs(restored[0].Observed.PSNR - noisy[0].Report.PSNR); d > 1e-9 {
		t.Errorf("observed PSNR differs from noisy PSNR by %g", d)
	}
	if gain := restored[0].Report.PSNR - restored[0].Observed.PSNR; gain < 4 {
		t.Errorf("PSNR gain=%f; want >=4", gain)
	}

	for _, name := range []string{"restored_0.fits", "residual_0.jpg"} {
		if _, err := os.Stat(name); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	back, err := fits.NewImageFromFile("restored_0.fits", 0, log)
	if err != nil {
		t.Fatal(err)
	}
	if back.Sigma != 25 {
		t.Errorf("saved sigma=%f; want 25", back.Sigma)
	}
	if !strings.Contains(log.String(), "0: Iteration 25/25") {
		t.Errorf("log lacks final iteration:\n%s", log.String())
	}
}

func TestEstimateSigma(t *testing.T) {
	c := ops.NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	clean := tv.NewField(64, 64)
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			clean.Set(x, y, 150)
		}
	}
	noisy, err := rician.AddNoise(clean, 20, 7)
	if err != nil {
		t.Fatal(err)
	}
	f := fits.NewImageFromField(noisy)

	est, err := NewOpEstimateSigmaDefault().Apply(f, c)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(est.Sigma)-20) > 3 {
		t.Errorf("sigma=%f; want 20+-3", est.Sigma)
	}
	if est == f || f.Sigma != 0 {
		t.Errorf("input modified in place, sigma=%f; want new image and input sigma 0", f.Sigma)
	}
	for i, v := range est.Data {
		if v != f.Data[i] {
			t.Fatalf("data[%d]=%f; want %f", i, v, f.Data[i])
		}
	}

	f.Sigma = 42
	if res, err := NewOpEstimateSigmaDefault().Apply(f, c); err != nil || res.Sigma != 42 {
		t.Errorf("known sigma changed to %f, err %v; want 42", res.Sigma, err)
	}
	res, err := NewOpEstimateSigma(true, true).Apply(f, c)
	if err != nil || res.Sigma == 42 {
		t.Errorf("forced estimate kept sigma %f, err %v", res.Sigma, err)
	}
	if f.Sigma != 42 {
		t.Errorf("forced estimate changed input sigma to %f; want 42", f.Sigma)
	}
}

func TestDenoiseErrors(t *testing.T) {
	c := ops.NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	f := diskImage(16, 16, 5, 100)
	if _, err := NewOpDenoiseDefault().Apply(f, c); err == nil {
		t.Errorf("denoise without sigma succeeded; want error")
	}

	f.Sigma = 25
	c.SolverMemoryMB = 1
	big := fits.NewImageFromNaxisn([]int32{512, 512}, nil)
	big.Sigma = 25
	if _, err := NewOpDenoiseDefault().Apply(big, c); err == nil || !strings.Contains(err.Error(), "budget") {
		t.Errorf("err=%v; want memory budget error", err)
	}
	if SolverMemory(512*512) != int64(tv.SolverFieldCount)*8*512*512 {
		t.Errorf("SolverMemory=%d", SolverMemory(512*512))
	}

	c.SolverMemoryMB = 1024
	op := NewOpDenoise(0, -1, 25)
	if _, err := op.Apply(f, c); err == nil {
		t.Errorf("negative gamma succeeded; want error")
	}

	if _, err := NewOpBiasCorrectDefault().Apply(f, c); err == nil {
		t.Errorf("bias correction without observation succeeded; want error")
	}
}

func TestBiasCorrectClip(t *testing.T) {
	c := ops.NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	observed := fits.NewImageFromNaxisn([]int32{2, 1}, []float32{0, 255})
	u := fits.NewImageFromNaxisn([]int32{2, 1}, []float32{0, 255})
	u.Observed, u.Sigma = observed, 25

	// 255 + 1.2*625/(2*255) exceeds 255
	res, err := NewOpBiasCorrect(1.2, false).Apply(u, c)
	if err != nil {
		t.Fatal(err)
	}
	want := float32(255 + 1.2*625/(2*255.0))
	if math.Abs(float64(res.Data[1]-want)) > 1e-3 {
		t.Errorf("unclipped=%f; want %f", res.Data[1], want)
	}
	want0 := float32(1.2 * 625 / (2 * 25.0))
	if math.Abs(float64(res.Data[0]-want0)) > 1e-4 {
		t.Errorf("background=%f; want %f", res.Data[0], want0)
	}

	res, err = NewOpBiasCorrectDefault().Apply(u, c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data[1] != 255 {
		t.Errorf("clipped=%f; want 255", res.Data[1])
	}
	if res.Observed != observed {
		t.Errorf("observation not carried over")
	}
}

func TestMetricsWithoutReference(t *testing.T) {
	log := &bytes.Buffer{}
	c := ops.NewContext(log, stats.DefaultLSEstimator)
	f := diskImage(16, 16, 5, 100)
	op := NewOpMetricsDefault()
	if res, err := op.Apply(f, c); err != nil || res != f {
		t.Errorf("Apply=%v, %v; want input unchanged", res, err)
	}
	if len(op.Results()) != 0 || !strings.Contains(log.String(), "No reference") {
		t.Errorf("results=%v log=%q; want none and a skip notice", op.Results(), log.String())
	}
}

func TestSaveResidualOutsideTree(t *testing.T) {
	defer enterTempDir(t)()
	c := ops.NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	observed := diskImage(16, 16, 5, 100)
	f := fits.NewImageFromImage(observed)
	copy(f.Data, observed.Data)
	f.Observed = observed

	outside := filepath.Join(t.TempDir(), "residual_%d.jpg")
	for _, name := range []string{outside, "../residual_%d.jpg"} {
		if res, err := NewOpSaveResidual(name).Apply(f, c); err == nil || res != nil {
			t.Errorf("residual to %s returned %v, %v; want error", name, res, err)
		}
	}
	if _, err := os.Stat(strings.Replace(outside, "%d", "0", 1)); !os.IsNotExist(err) {
		t.Errorf("file written outside tree: %v", err)
	}
	if _, err := NewOpSaveResidual("residual_%d.jpg").Apply(f, c); err != nil {
		t.Errorf("relative residual: %v", err)
	}
}

func TestLoadRaw(t *testing.T) {
	defer enterTempDir(t)()

	// 8x8x3 u8 volume, voxel value 10*z+x
	raw := make([]byte, 8*8*3)
	for z := 0; z < 3; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				raw[(z*8+y)*8+x] = byte(10*z + x)
			}
		}
	}
	if err := os.WriteFile("phantom.rawb", raw, 0644); err != nil {
		t.Fatal(err)
	}

	c := ops.NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	res := run(t, NewOpLoadRaw(4, "phantom.rawb", "8,8,3", "u8", -1), c)
	if len(res) != 1 {
		t.Fatalf("len(res)=%d; want 1", len(res))
	}
	f := res[0]
	if f.ID != 4 || f.DimensionsToString() != "8x8" {
		t.Errorf("id=%d dims=%s; want 4 8x8", f.ID, f.DimensionsToString())
	}
	want := float32(13 * 255.0 / 27.0)
	if math.Abs(float64(f.Data[8+3]-want)) > 1e-3 {
		t.Errorf("data[11]=%f; want %f", f.Data[8+3], want)
	}

	for _, op := range []*OpLoadRaw{
		NewOpLoadRaw(0, "/phantom.rawb", "8,8,3", "u8", -1),
		NewOpLoadRaw(0, "phantom.rawb", "8,8", "u8", 1),
		NewOpLoadRaw(0, "phantom.rawb", "8,8,3", "s12", -1),
	} {
		if _, err := op.MakePromises(nil, c); err == nil {
			t.Errorf("%+v succeeded; want error", op)
		}
	}
}

func TestOperatorJSON(t *testing.T) {
	js := `{"type":"seq","steps":[
		{"type":"loadRaw","fileName":"a.rawb"},
		{"type":"addNoise","sigma":10},
		{"type":"denoise","gamma":0.05},
		{"type":"biasCorrect"},
		{"type":"metrics","label":"x"},
		{"type":"saveResidual","filePattern":"r.jpg"}
	]}`
	var seq ops.OpSequence
	if err := json.Unmarshal([]byte(js), &seq); err != nil {
		t.Fatal(err)
	}
	if len(seq.Steps) != 6 {
		t.Fatalf("len(steps)=%d; want 6", len(seq.Steps))
	}
	if op := seq.Steps[0].(*OpLoadRaw); op.Dims != "181,217,181" || op.SampleType != "u8" || op.Slice != -1 {
		t.Errorf("loadRaw=%+v; want default dims, type and slice", op)
	}
	if op := seq.Steps[1].(*OpAddNoise); op.Sigma != 10 || !op.Active || op.OpUnaryBase.Apply == nil {
		t.Errorf("addNoise=%+v; want active with sigma 10", op)
	}
	if op := seq.Steps[2].(*OpDenoise); op.Gamma != 0.05 || op.Iterations != 25 || op.Upper != 255 || !op.Active {
		t.Errorf("denoise=%+v; want gamma 0.05, 25 iterations, upper 255", op)
	}
	if op := seq.Steps[3].(*OpBiasCorrect); op.C != 1.2 || !op.Clip {
		t.Errorf("biasCorrect=%+v; want c 1.2 with clipping", op)
	}
	if op := seq.Steps[4].(*OpMetrics); op.Threshold != 5 || op.Label != "x" || op.OpUnaryBase.Apply == nil {
		t.Errorf("metrics=%+v; want threshold 5 label x", op)
	}
	if op := seq.Steps[5].(*OpSaveResidual); !op.Active || op.Quality != 95 {
		t.Errorf("saveResidual=%+v; want active with quality 95", op)
	}

	b, err := json.Marshal(&seq)
	if err != nil {
		t.Fatal(err)
	}
	var back ops.OpSequence
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("round trip of %s: %v", string(b), err)
	}
	if op := back.Steps[2].(*OpDenoise); op.Gamma != 0.05 {
		t.Errorf("round trip gamma=%f; want 0.05", op.Gamma)
	}
}

func TestRescale(t *testing.T) {
	c := ops.NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	f := fits.NewImageFromNaxisn([]int32{3, 1}, []float32{-10, 1000, 4000})
	f.Sigma = 400
	if _, err := NewOpRescaleDefault().Apply(f, c); err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{0, 63.75, 255} {
		if math.Abs(float64(f.Data[i]-want)) > 1e-3 {
			t.Errorf("data[%d]=%f; want %f", i, f.Data[i], want)
		}
	}
	if math.Abs(float64(f.Sigma)-25.5) > 1e-3 {
		t.Errorf("sigma=%f; want 25.5", f.Sigma)
	}
	if math.Abs(float64(f.Stats.Max())-255) > 1e-3 {
		t.Errorf("max=%f; want 255", f.Stats.Max())
	}

	dark := fits.NewImageFromNaxisn([]int32{2, 1}, []float32{0, 0})
	if res, err := NewOpRescaleDefault().Apply(dark, c); err != nil || res.Data[1] != 0 {
		t.Errorf("dark image: %v, %v; want unchanged", res.Data, err)
	}
}

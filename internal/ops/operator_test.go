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


package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/mrdenoise/internal/fits"
	"github.com/mlnoga/mrdenoise/internal/stats"
)

func testImage(id, width, height int) *fits.Image {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = float32((i * 7) % 256)
	}
	f := fits.NewImageFromNaxisn([]int32{int32(width), int32(height)}, data)
	f.ID = id
	return f
}

func promiseOf(f *fits.Image) Promise {
	return func() (*fits.Image, error) { return f, nil }
}

func TestRemoveNils(t *testing.T) {
	a, b := testImage(0, 2, 2), testImage(1, 2, 2)
	res := RemoveNils([]*fits.Image{nil, a, nil, nil, b})
	if len(res) != 2 || res[0] != a || res[1] != b {
		t.Errorf("RemoveNils=%v; want [a b]", res)
	}
}

func TestMaterializeAll(t *testing.T) {
	ins := make([]Promise, 5)
	for i := range ins {
		if i == 2 {
			ins[i] = func() (*fits.Image, error) { return nil, errors.New("broken promise") }
			continue
		}
		ins[i] = promiseOf(testImage(i, 3, 3))
	}
	outs, err := MaterializeAll(ins, 2, false)
	if err == nil || !strings.Contains(err.Error(), "broken promise") {
		t.Errorf("err=%v; want broken promise", err)
	}
	if len(outs) != 4 {
		t.Fatalf("len(outs)=%d; want 4", len(outs))
	}
	for i, want := range []int{0, 1, 3, 4} {
		if outs[i].ID != want {
			t.Errorf("outs[%d].ID=%d; want %d", i, outs[i].ID, want)
		}
	}

	outs, err = MaterializeAll(ins[:2], 4, true)
	if err != nil || outs != nil {
		t.Errorf("forget: outs=%v err=%v; want nil nil", outs, err)
	}
}

func TestIsPathAllowed(t *testing.T) {
	for _, tc := range []struct {
		path string
		want bool
	}{
		{"img.fits", true},
		{"data/img_%d.fits", true},
		{"/etc/passwd", false},
		{"../img.fits", false},
		{"data/../../img.fits", false},
	} {
		if got := IsPathAllowed(tc.path); got != tc.want {
			t.Errorf("IsPathAllowed(%q)=%v; want %v", tc.path, got, tc.want)
		}
	}
	c := NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	if _, err := NewOpLoad(0, "/etc/passwd").MakePromises(nil, c); err == nil {
		t.Errorf("loading absolute path succeeded; want error")
	}
}

func TestNewContext(t *testing.T) {
	c := NewContext(&bytes.Buffer{}, stats.LSEMedianMAD)
	if c.MaxThreads < 1 {
		t.Errorf("MaxThreads=%d; want >=1", c.MaxThreads)
	}
	if c.SolverMemoryMB > c.MemoryMB {
		t.Errorf("SolverMemoryMB=%d exceeds MemoryMB=%d", c.SolverMemoryMB, c.MemoryMB)
	}
	if c.LSEstimatorMode != stats.LSEMedianMAD {
		t.Errorf("mode=%v; want %v", c.LSEstimatorMode, stats.LSEMedianMAD)
	}
	if c.CPU.String() == "" {
		t.Errorf("empty CPU description")
	}
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

func TestOpSaveFormats(t *testing.T) {
	defer enterTempDir(t)()
	log := &bytes.Buffer{}
	c := NewContext(log, stats.DefaultLSEstimator)
	img := testImage(3, 16, 8)

	for _, name := range []string{"out_%d.fits", "out_%d.fits.gz", "out_%d.jpg", "out_%d.tif"} {
		op := NewOpSave(name)
		if _, err := op.Apply(img, c); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		fileName := fmt.Sprintf(name, img.ID)
		back, err := fits.NewImageFromFile(fileName, 0, log)
		if err != nil {
			t.Fatalf("reading back %s: %v", fileName, err)
		}
		if !fits.EqualInt32Slice(back.Naxisn, img.Naxisn) {
			t.Errorf("%s: dims %s; want %s", name, back.DimensionsToString(), img.DimensionsToString())
		}
		if strings.Contains(name, ".fits") {
			for i, v := range back.Data {
				if v != img.Data[i] {
					t.Errorf("%s: data[%d]=%f; want %f", name, i, v, img.Data[i])
					break
				}
			}
		}
	}

	if _, err := NewOpSave("out.xyz").Apply(img, c); err == nil {
		t.Errorf("unknown suffix succeeded; want error")
	}
	outside := filepath.Join(t.TempDir(), "out_%d.fits")
	for _, name := range []string{outside, "../out_%d.fits", "sub/../../out_%d.fits"} {
		if res, err := NewOpSave(name).Apply(img, c); err == nil || res != nil {
			t.Errorf("save to %s returned %v, %v; want error", name, res, err)
		}
	}
	if _, err := os.Stat(fmt.Sprintf(outside, img.ID)); !os.IsNotExist(err) {
		t.Errorf("file written outside tree: %v", err)
	}
	if res, err := NewOpSave("").Apply(img, c); err != nil || res != img {
		t.Errorf("inactive save returned %v, %v; want input unchanged", res, err)
	}
}

func TestOpForEach(t *testing.T) {
	defer enterTempDir(t)()
	c := NewContext(&bytes.Buffer{}, stats.DefaultLSEstimator)
	op := NewOpForEach(NewOpSave("each_%d.fits"))
	ins := []Promise{promiseOf(testImage(0, 4, 4)), promiseOf(testImage(1, 4, 4)), promiseOf(testImage(2, 4, 4))}
	outs, err := op.MakePromises(ins, c)
	if err != nil {
		t.Fatal(err)
	}
	images, err := MaterializeAll(outs, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 3 {
		t.Fatalf("len(images)=%d; want 3", len(images))
	}
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(fmt.Sprintf("each_%d.fits", i)); err != nil {
			t.Errorf("missing output %d: %v", i, err)
		}
	}

	if _, err := NewOpForEachDefault().MakePromises(ins, c); err == nil {
		t.Errorf("forEach without operation succeeded; want error")
	}
}

func TestSequenceJSON(t *testing.T) {
	seq := NewOpSequence(NewOpSave("a_%d.fits"), NewOpForEach(NewOpSave("b.jpg")))
	b, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}
	var back OpSequence
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal %s: %v", string(b), err)
	}
	if len(back.Steps) != 2 {
		t.Fatalf("len(steps)=%d; want 2", len(back.Steps))
	}
	save, ok := back.Steps[0].(*OpSave)
	if !ok || save.FilePattern != "a_%d.fits" || !save.Active || save.OpUnaryBase.Apply == nil {
		t.Errorf("steps[0]=%#v; want active save of a_%%d.fits", back.Steps[0])
	}
	forEach, ok := back.Steps[1].(*OpForEach)
	if !ok {
		t.Fatalf("steps[1]=%#v; want forEach", back.Steps[1])
	}
	inner, ok := forEach.Operation.(*OpSave)
	if !ok || inner.FilePattern != "b.jpg" {
		t.Errorf("forEach operation=%#v; want save of b.jpg", forEach.Operation)
	}
}

func TestUnmarshalDefaults(t *testing.T) {
	var seq OpSequence
	err := json.Unmarshal([]byte(`{"type":"seq","steps":[{"type":"save","filePattern":"x.tif","max":1}]}`), &seq)
	if err != nil {
		t.Fatal(err)
	}
	save := seq.Steps[0].(*OpSave)
	if !save.Active || save.Min != 0 || save.Max != 1 || save.Gamma != 1 || save.Quality != 95 {
		t.Errorf("save=%#v; want active, min 0, max 1, gamma 1, quality 95", save)
	}

	err = json.Unmarshal([]byte(`{"type":"seq","steps":[{"type":"noSuchOperator"}]}`), &OpSequence{})
	if err == nil {
		t.Errorf("unknown operator type succeeded; want error")
	}
}

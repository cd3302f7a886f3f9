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

package volume

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDims(t *testing.T) {
	cases := []struct {
		in   string
		want [3]int
		ok   bool
	}{
		{"181,217,181", [3]int{181, 217, 181}, true},
		{" 4, 3 ", [3]int{4, 3, 1}, true},
		{"4", [3]int{}, false},
		{"4,3,2,1", [3]int{}, false},
		{"4,0,2", [3]int{}, false},
		{"4,x,2", [3]int{}, false},
	}
	for _, c := range cases {
		got, err := ParseDims(c.in)
		if (err == nil) != c.ok {
			t.Errorf("ParseDims(%q) err=%v; want ok=%v", c.in, err, c.ok)
			continue
		}
		if c.ok && got != c.want {
			t.Errorf("ParseDims(%q)=%v; want %v", c.in, got, c.want)
		}
	}
}

func TestParseSampleType(t *testing.T) {
	for _, name := range []string{"u8", "U16BE", "u16le", "f32le"} {
		st, err := ParseSampleType(name)
		if err != nil {
			t.Errorf("ParseSampleType(%q): %v", name, err)
			continue
		}
		if st.String() != strings.ToLower(name) {
			t.Errorf("ParseSampleType(%q)=%s", name, st)
		}
	}
	if _, err := ParseSampleType("s12"); err == nil {
		t.Errorf("unknown sample type accepted")
	}
}

func TestReadAndSlice(t *testing.T) {
	dims := [3]int{3, 2, 4}
	raw := make([]byte, Voxels(dims))
	for i := range raw {
		raw[i] = byte(i * 2)
	}
	v, err := Read(bytes.NewReader(raw), dims, U8)
	if err != nil {
		t.Fatal(err)
	}
	if v.Max != 46 {
		t.Errorf("max=%f; want 46", v.Max)
	}

	s, err := v.Slice(1)
	if err != nil {
		t.Fatal(err)
	}
	if s.Width != 3 || s.Height != 2 {
		t.Fatalf("slice is %s; want 3x2", s)
	}
	for i, got := range s.Data {
		if want := float64(2 * (6 + i)); got != want {
			t.Errorf("slice[%d]=%f; want %f", i, got, want)
		}
	}

	mid, _ := v.NormalizedSlice(-1)
	if got, want := mid.Data[5], 255*34.0/46; math.Abs(got-want) > 1e-9 {
		t.Errorf("normalized[5]=%f; want %f", got, want)
	}
	if _, err := v.Slice(4); err == nil {
		t.Errorf("slice 4 of 4 accepted")
	}
}

func TestReadSampleTypes(t *testing.T) {
	dims := [3]int{2, 1, 1}
	be := []byte{0x01, 0x02, 0xff, 0xff}
	le := []byte{0x02, 0x01, 0xff, 0xff}
	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-2))

	cases := []struct {
		t    SampleType
		data []byte
		want []float32
	}{
		{U16BE, be, []float32{258, 65535}},
		{U16LE, le, []float32{258, 65535}},
		{F32LE, f32, []float32{1.5, -2}},
	}
	for _, c := range cases {
		v, err := Read(bytes.NewReader(c.data), dims, c.t)
		if err != nil {
			t.Fatalf("%s: %v", c.t, err)
		}
		for i := range c.want {
			if v.Data[i] != c.want[i] {
				t.Errorf("%s: data[%d]=%f; want %f", c.t, i, v.Data[i], c.want[i])
			}
		}
	}
}

func TestReadShortInput(t *testing.T) {
	if _, err := Read(bytes.NewReader(make([]byte, 10)), [3]int{4, 4, 1}, U8); err == nil {
		t.Errorf("short input accepted")
	}
	nan := make([]byte, 4)
	binary.LittleEndian.PutUint32(nan, math.Float32bits(float32(math.NaN())))
	if _, err := Read(bytes.NewReader(nan), [3]int{1, 1, 1}, F32LE); err == nil {
		t.Errorf("NaN sample accepted")
	}
}

func TestReadFileGzip(t *testing.T) {
	dims := [3]int{40, 30, 20}
	raw := make([]byte, Voxels(dims))
	for i := range raw {
		raw[i] = byte(i % 251)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write(raw)
	gz.Close()

	fileName := filepath.Join(t.TempDir(), "phantom.raw.gz")
	if err := os.WriteFile(fileName, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	v, err := ReadFile(fileName, dims, U8)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range raw {
		if v.Data[i] != float32(b) {
			t.Fatalf("data[%d]=%f; want %d", i, v.Data[i], b)
		}
	}
}

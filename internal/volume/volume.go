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

// Package volume reads headerless raw 3-D volumes, such as simulated brain
// phantoms, and extracts 2-D slices normalized to the [0,255] intensity range.
package volume

import (
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/mlnoga/mrdenoise/internal/tv"
)

// Sample encoding of a raw volume
type SampleType int

const (
	U8 SampleType = iota
	U16BE
	U16LE
	F32LE
)

var sampleTypeNames = map[SampleType]string{U8: "u8", U16BE: "u16be", U16LE: "u16le", F32LE: "f32le"}

func (t SampleType) String() string {
	if n, ok := sampleTypeNames[t]; ok {
		return n
	}
	return "SampleType(" + strconv.Itoa(int(t)) + ")"
}

// Bytes per sample
func (t SampleType) Size() int {
	switch t {
	case U8:
		return 1
	case U16BE, U16LE:
		return 2
	default:
		return 4
	}
}

func (t SampleType) decode(b []byte) float32 {
	switch t {
	case U8:
		return float32(b[0])
	case U16BE:
		return float32(binary.BigEndian.Uint16(b))
	case U16LE:
		return float32(binary.LittleEndian.Uint16(b))
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
}

// Parses a sample type name: u8, u16be, u16le or f32le
func ParseSampleType(s string) (SampleType, error) {
	ls := strings.ToLower(strings.TrimSpace(s))
	for t, n := range sampleTypeNames {
		if n == ls {
			return t, nil
		}
	}
	return U8, errors.New(fmt.Sprintf("unknown sample type %q, want u8, u16be, u16le or f32le", s))
}

// Parses comma-separated volume dimensions, fastest varying first, e.g. "181,217,181".
// Two dimensions describe a single slice
func ParseDims(s string) (dims [3]int, err error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return dims, errors.New(fmt.Sprintf("invalid dimensions %q, want x,y or x,y,z", s))
	}
	dims[2] = 1
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return dims, errors.New(fmt.Sprintf("invalid dimension %q in %q", p, s))
		}
		dims[i] = n
	}
	return dims, nil
}

// A raw 3-D volume. Samples are stored x fastest, then y, then z
type Volume struct {
	Dims [3]int
	Data []float32
	Max  float32 // largest sample
}

// Number of voxels for the given dimensions
func Voxels(dims [3]int) int {
	return dims[0] * dims[1] * dims[2]
}

const bufLen = 16 * 1024 // input buffer length for reading

// Reads a raw volume of the given dimensions and sample type. Fails if the
// reader holds fewer samples than the dimensions require
func Read(r io.Reader, dims [3]int, t SampleType) (*Volume, error) {
	n := Voxels(dims)
	if n <= 0 {
		return nil, errors.New(fmt.Sprintf("invalid volume dimensions %v", dims))
	}
	v := &Volume{Dims: dims, Data: make([]float32, n), Max: float32(math.Inf(-1))}
	size := t.Size()
	buf := make([]byte, bufLen-bufLen%size)

	dataIndex := 0
	for dataIndex < n {
		bytesToRead := (n - dataIndex) * size
		if bytesToRead > len(buf) {
			bytesToRead = len(buf)
		}
		if _, err := io.ReadFull(r, buf[:bytesToRead]); err != nil {
			return nil, errors.New(fmt.Sprintf("reading sample %d of %d: %s", dataIndex, n, err.Error()))
		}
		for i := 0; i < bytesToRead; i += size {
			s := t.decode(buf[i : i+size])
			if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
				return nil, errors.New(fmt.Sprintf("non-finite sample at index %d", dataIndex+i/size))
			}
			if s > v.Max {
				v.Max = s
			}
			v.Data[dataIndex+i/size] = s
		}
		dataIndex += bytesToRead / size
	}
	return v, nil
}

// Reads a raw volume from the named file. Decompresses gzip if .gz or .gzip suffix is present
func ReadFile(fileName string, dims [3]int, t SampleType) (*Volume, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return Read(r, dims, t)
}

// Extracts axial slice z as a field. Negative z selects the middle slice
func (v *Volume) Slice(z int) (*tv.Field, error) {
	if z < 0 {
		z = v.Dims[2] / 2
	}
	if z >= v.Dims[2] {
		return nil, errors.New(fmt.Sprintf("slice %d out of range [0,%d)", z, v.Dims[2]))
	}
	w, h := v.Dims[0], v.Dims[1]
	f := tv.NewField(w, h)
	for i, s := range v.Data[z*w*h : (z+1)*w*h] {
		f.Data[i] = float64(s)
	}
	return f, nil
}

// Extracts slice z scaled so that the volume maximum maps to 255.
// Volumes whose maximum is not positive are returned unscaled
func (v *Volume) NormalizedSlice(z int) (*tv.Field, error) {
	f, err := v.Slice(z)
	if err != nil {
		return nil, err
	}
	if v.Max > 0 {
		scale := 255 / float64(v.Max)
		for i := range f.Data {
			f.Data[i] *= scale
		}
	}
	return f, nil
}

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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mlnoga/mrdenoise/internal/fits"
	"github.com/mlnoga/mrdenoise/internal/ops"
	"github.com/mlnoga/mrdenoise/internal/tv"
	"github.com/mlnoga/mrdenoise/internal/volume"
)

// Loads one axial slice from a raw volume file, scaled so the volume maximum maps to 255.
// Takes zero inputs, produces one output
type OpLoadRaw struct {
	ops.OpBase
	ID         int    `json:"id"`
	FileName   string `json:"fileName"`
	Dims       string `json:"dims"`       // x,y[,z] with x varying fastest
	SampleType string `json:"sampleType"` // u8, u16be, u16le or f32le
	Slice      int    `json:"slice"`      // negative selects the middle slice
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpLoadRawDefault() }) } // register the operator for JSON decoding

func NewOpLoadRawDefault() *OpLoadRaw { return NewOpLoadRaw(0, "", "181,217,181", "u8", -1) }

func NewOpLoadRaw(id int, fileName, dims, sampleType string, slice int) *OpLoadRaw {
	return &OpLoadRaw{
		OpBase:     ops.OpBase{Type: "loadRaw", Active: true},
		ID:         id,
		FileName:   fileName,
		Dims:       dims,
		SampleType: sampleType,
		Slice:      slice,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpLoadRaw) UnmarshalJSON(data []byte) error {
	type defaults OpLoadRaw
	def := defaults(*NewOpLoadRawDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpLoadRaw(def)
	return nil
}

func (op *OpLoadRaw) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) > 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type))
	}
	if !ops.IsPathAllowed(op.FileName) {
		return nil, errors.New("Filename outside current directory tree, aborting")
	}
	dims, err := volume.ParseDims(op.Dims)
	if err != nil {
		return nil, err
	}
	t, err := volume.ParseSampleType(op.SampleType)
	if err != nil {
		return nil, err
	}
	if op.Slice >= dims[2] {
		return nil, errors.New(fmt.Sprintf("%s operator slice %d out of range [0,%d)", op.Type, op.Slice, dims[2]))
	}

	out := func() (f *fits.Image, err error) {
		return op.load(dims, t, c)
	}
	return []ops.Promise{out}, nil
}

func (op *OpLoadRaw) load(dims [3]int, t volume.SampleType, c *ops.Context) (*fits.Image, error) {
	vol, err := volume.ReadFile(op.FileName, dims, t)
	if err != nil {
		return nil, err
	}
	z := op.Slice
	if z < 0 {
		z = dims[2] / 2
	}
	slice, err := vol.NormalizedSlice(z)
	if err != nil {
		return nil, err
	}
	f := fits.NewImageFromField(slice)
	f.ID = op.ID
	f.FileName = op.FileName
	f.Stats.Mode = c.LSEstimatorMode
	f.Header.History = append(f.Header.History, fmt.Sprintf("slice %d of %s volume %s", z, t, op.FileName))

	fmt.Fprintf(c.Log, "%d: Loaded slice %d of %dx%dx%d %s volume with max %.4g as %s image with %v from %s\n",
		f.ID, z, dims[0], dims[1], dims[2], t, vol.Max, f.DimensionsToString(), f.Stats, f.FileName)
	return f, nil
}

// Scales an image linearly so its maximum maps to Target, and clips negative values to zero.
// Brings 16-bit and floating point inputs onto the intensity range the denoiser expects.
// Takes one input, produces one output
type OpRescale struct {
	ops.OpUnaryBase
	Target float32 `json:"target"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRescaleDefault() }) } // register the operator for JSON decoding

func NewOpRescaleDefault() *OpRescale { return NewOpRescale(true, tv.DefaultUpper) }

func NewOpRescale(active bool, target float32) *OpRescale {
	op := OpRescale{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "rescale", Active: active}},
		Target:      target,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpRescale) UnmarshalJSON(data []byte) error {
	type defaults OpRescale
	def := defaults(*NewOpRescaleDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpRescale(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpRescale) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if !op.Active {
		return f, nil
	}
	max := f.Stats.Max()
	if !(max > 0) {
		fmt.Fprintf(c.Log, "%d: Warning: maximum %.4g is not positive, skipping rescaling\n", f.ID, max)
		return f, nil
	}
	scale := op.Target / max
	f.ApplyScaleOffset(scale, 0)
	f.Clip(0, op.Target)
	f.Stats.Mode = c.LSEstimatorMode
	if f.Sigma > 0 {
		f.Sigma *= scale
	}
	fmt.Fprintf(c.Log, "%d: Rescaled by %.4g to [0,%g], now %v\n", f.ID, scale, op.Target, f.Stats)
	return f, nil
}

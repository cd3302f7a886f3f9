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
	"sort"
	"strings"
	"sync"

	"github.com/mlnoga/mrdenoise/internal/fits"
	"github.com/mlnoga/mrdenoise/internal/metrics"
	"github.com/mlnoga/mrdenoise/internal/ops"
)

// Quality scores of one image, and of the noisy observation it was restored from if known
type Result struct {
	ID       int             `json:"id"`
	Label    string          `json:"label"`
	Report   metrics.Report  `json:"report"`
	Observed *metrics.Report `json:"observed,omitempty"`
}

func (r Result) String() string {
	if r.Observed == nil {
		return fmt.Sprintf("%s %v", r.Label, r.Report)
	}
	return fmt.Sprintf("%s %v, gain %+.2fdB PSNR %+.4f SSIM over noisy %v", r.Label, r.Report,
		r.Report.PSNR-r.Observed.PSNR, r.Report.SSIM-r.Observed.SSIM, *r.Observed)
}

// Evaluates foreground PSNR and SSIM of an image against its clean reference. Images without
// reference pass through unchanged. Takes one input, produces one output
type OpMetrics struct {
	ops.OpUnaryBase
	Threshold float32    `json:"threshold"` // reference intensities above this are foreground
	Label     string     `json:"label"`
	mutex     sync.Mutex
	results   []Result
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpMetricsDefault() }) } // register the operator for JSON decoding

func NewOpMetricsDefault() *OpMetrics { return NewOpMetrics(metrics.DefaultThreshold, "restored") }

func NewOpMetrics(threshold float32, label string) *OpMetrics {
	op := &OpMetrics{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "metrics", Active: true}},
		Threshold:   threshold,
		Label:       label,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpMetrics) UnmarshalJSON(data []byte) error {
	var def struct {
		ops.OpBase
		Threshold float32 `json:"threshold"`
		Label     string  `json:"label"`
	}
	dflt := NewOpMetricsDefault()
	def.OpBase, def.Threshold, def.Label = dflt.OpBase, dflt.Threshold, dflt.Label
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	op.OpBase, op.Threshold, op.Label = def.OpBase, def.Threshold, def.Label
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op
	return nil
}

// Returns the results gathered so far, ordered by image ID
func (op *OpMetrics) Results() []Result {
	op.mutex.Lock()
	defer op.mutex.Unlock()
	res := append([]Result(nil), op.results...)
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (op *OpMetrics) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if f.Reference == nil {
		fmt.Fprintf(c.Log, "%d: No reference image, skipping %s metrics\n", f.ID, op.Label)
		return f, nil
	}
	res, err := op.evaluate(f)
	if err != nil {
		return nil, errors.New(fmt.Sprintf("%d: %s metrics: %s", f.ID, op.Label, err.Error()))
	}

	op.mutex.Lock()
	op.results = append(op.results, res)
	op.mutex.Unlock()

	f.Header.History = append(f.Header.History, fmt.Sprintf("%s foreground %v", op.Label, res.Report))
	fmt.Fprintf(c.Log, "%d: Foreground above %g: %v\n", f.ID, op.Threshold, res)
	return f, nil
}

func (op *OpMetrics) evaluate(f *fits.Image) (res Result, err error) {
	ref, err := f.Reference.ToField()
	if err != nil {
		return res, err
	}
	img, err := f.ToField()
	if err != nil {
		return res, err
	}
	res = Result{ID: f.ID, Label: op.Label}
	if res.Report, err = metrics.Evaluate(ref, img, float64(op.Threshold)); err != nil {
		return res, err
	}
	if f.Observed != nil {
		obs, err := f.Observed.ToField()
		if err != nil {
			return res, err
		}
		obsReport, err := metrics.Evaluate(ref, obs, float64(op.Threshold))
		if err != nil {
			return res, err
		}
		res.Observed = &obsReport
	}
	return res, nil
}

// Saves the method noise observed-restored of a denoised image as a color JPEG, with pattern
// expansion for %d based on the image id. Takes one input, produces one output
type OpSaveResidual struct {
	ops.OpUnaryBase
	FilePattern string  `json:"filePattern"`
	MaxAbs      float32 `json:"maxAbs"` // saturating residual, 0 selects three sigma
	Quality     int     `json:"quality"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSaveResidualDefault() }) } // register the operator for JSON decoding

func NewOpSaveResidualDefault() *OpSaveResidual { return NewOpSaveResidual("") }

func NewOpSaveResidual(filePattern string) *OpSaveResidual {
	op := OpSaveResidual{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "saveResidual", Active: filePattern != ""}},
		FilePattern: filePattern,
		Quality:     95,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSaveResidual) UnmarshalJSON(data []byte) error {
	type defaults OpSaveResidual
	def := defaults(*NewOpSaveResidualDefault())
	def.Active = true // inactive only if requested, or without a file pattern
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpSaveResidual(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpSaveResidual) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	if f.Observed == nil {
		fmt.Fprintf(c.Log, "%d: No noisy observation, skipping residual\n", f.ID)
		return f, nil
	}
	fileName := op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName = fmt.Sprintf(op.FilePattern, f.ID)
	}
	if !ops.IsPathAllowed(fileName) {
		return nil, errors.New(fmt.Sprintf("%d: Filename %s outside current directory tree, aborting", f.ID, fileName))
	}
	fmt.Fprintf(c.Log, "%d: Writing %s pixel residual JPEG to %s ...\n", f.ID, f.DimensionsToString(), fileName)
	if err = f.WriteResidualJPGToFile(fileName, op.MaxAbs, op.Quality); err != nil {
		return nil, errors.New(fmt.Sprintf("%d: Error writing to file %s: %s", f.ID, fileName, err.Error()))
	}
	return f, nil
}

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
	"io"
	"time"

	"github.com/mlnoga/mrdenoise/internal/fits"
	"github.com/mlnoga/mrdenoise/internal/ops"
	"github.com/mlnoga/mrdenoise/internal/rician"
	"github.com/mlnoga/mrdenoise/internal/tv"
)

// Builds the restoration pipeline: estimate noise, denoise, correct bias, evaluate, save
func NewOpRestore(opEstimateSigma *OpEstimateSigma, opDenoise *OpDenoise, opBiasCorrect *OpBiasCorrect,
	opMetrics *OpMetrics, opSaveResidual *OpSaveResidual, opSaves ...*ops.OpSave) *ops.OpSequence {
	seq := ops.NewOpSequence(opEstimateSigma, opDenoise, opBiasCorrect, opMetrics, opSaveResidual)
	for _, opSave := range opSaves {
		seq.Append(opSave)
	}
	return seq
}

// Builds the simulation pipeline: add noise to a clean image, evaluate the noisy image, then restore it
func NewOpSimulate(opAddNoise *OpAddNoise, opMetricsNoisy *OpMetrics, opRestore *ops.OpSequence) *ops.OpSequence {
	return ops.NewOpSequence(opAddNoise, opMetricsNoisy, opRestore)
}

// Denoises an image with the Rician total variation solver. The noisy input is kept as
// observation for bias correction and residuals. Takes one input, produces one output
type OpDenoise struct {
	ops.OpUnaryBase
	Sigma      float32 `json:"sigma"` // noise scale, 0 uses the image's known or estimated one
	Gamma      float32 `json:"gamma"`
	Iterations int     `json:"iterations"`
	Lower      float32 `json:"lower"`
	Upper      float32 `json:"upper"`
	LogEvery   int     `json:"logEvery"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDenoiseDefault() }) } // register the operator for JSON decoding

func NewOpDenoiseDefault() *OpDenoise { return NewOpDenoise(0, 0.035, 25) }

func NewOpDenoise(sigma, gamma float32, iterations int) *OpDenoise {
	op := OpDenoise{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "denoise", Active: true}},
		Sigma:       sigma,
		Gamma:       gamma,
		Iterations:  iterations,
		Lower:       tv.DefaultLower,
		Upper:       tv.DefaultUpper,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDenoise) UnmarshalJSON(data []byte) error {
	type defaults OpDenoise
	def := defaults(*NewOpDenoiseDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpDenoise(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

// Returns the solver memory needed for an image with the given number of pixels, in bytes
func SolverMemory(pixels int32) int64 {
	return int64(tv.SolverFieldCount) * 8 * int64(pixels)
}

func (op *OpDenoise) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if !op.Active {
		return f, nil
	}
	sigma := op.Sigma
	if sigma == 0 {
		sigma = f.Sigma
	}
	if sigma == 0 {
		return nil, errors.New(fmt.Sprintf("%d: unknown noise scale, set sigma or estimate it first", f.ID))
	}
	if need := SolverMemory(f.Pixels); c.SolverMemoryMB > 0 && need > int64(c.SolverMemoryMB)*1024*1024 {
		return nil, errors.New(fmt.Sprintf("%d: denoising %s pixels needs %d MB, exceeding the %d MB budget",
			f.ID, f.DimensionsToString(), (need+1024*1024-1)/(1024*1024), c.SolverMemoryMB))
	}
	observed, err := f.ToField()
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(c.Log, "%d: Denoising with sigma %.4g gamma %.4g for %d iterations on %d threads ...\n",
		f.ID, sigma, op.Gamma, op.Iterations, c.MaxThreads)
	start := time.Now()
	u, err := rician.DenoiseWithConfig(observed, float64(sigma), tv.SolverConfig{
		Gamma:      float64(op.Gamma),
		Iterations: op.Iterations,
		Lower:      float64(op.Lower),
		Upper:      float64(op.Upper),
		Threads:    c.MaxThreads,
		Log:        &idWriter{id: f.ID, w: c.Log},
		LogEvery:   op.LogEvery,
	})
	if err != nil {
		return nil, errors.New(fmt.Sprintf("%d: %s", f.ID, err.Error()))
	}

	result = fits.NewImageFromImage(f)
	if err = result.SetField(u); err != nil {
		return nil, err
	}
	result.Stats.Mode = c.LSEstimatorMode
	result.Sigma = sigma
	result.Observed = f
	result.Header.History = append(result.Header.History,
		fmt.Sprintf("Rician TV denoise sigma %g gamma %g iterations %d", sigma, op.Gamma, op.Iterations))

	fmt.Fprintf(c.Log, "%d: Denoised in %v, now %v\n", f.ID, time.Since(start), result.Stats)
	return result, nil
}

// Prefixes each write with an image ID
type idWriter struct {
	id int
	w  io.Writer
}

func (iw *idWriter) Write(p []byte) (int, error) {
	if iw.w == nil {
		return len(p), nil
	}
	if _, err := fmt.Fprintf(iw.w, "%d: %s", iw.id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Corrects the downward bias of a denoised image relative to its noisy observation.
// Optionally clips the result to [Lower,Upper]. Takes one input, produces one output
type OpBiasCorrect struct {
	ops.OpUnaryBase
	C     float32 `json:"c"`
	Clip  bool    `json:"clip"`
	Lower float32 `json:"lower"`
	Upper float32 `json:"upper"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBiasCorrectDefault() }) } // register the operator for JSON decoding

func NewOpBiasCorrectDefault() *OpBiasCorrect {
	return NewOpBiasCorrect(rician.DefaultBiasCoefficient, true)
}

func NewOpBiasCorrect(c float32, clip bool) *OpBiasCorrect {
	op := OpBiasCorrect{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "biasCorrect", Active: c > 0}},
		C:           c,
		Clip:        clip,
		Lower:       tv.DefaultLower,
		Upper:       tv.DefaultUpper,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBiasCorrect) UnmarshalJSON(data []byte) error {
	type defaults OpBiasCorrect
	def := defaults(*NewOpBiasCorrectDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpBiasCorrect(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpBiasCorrect) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if f.Observed == nil {
		return nil, errors.New(fmt.Sprintf("%d: bias correction needs the noisy observation, denoise first", f.ID))
	}
	u, err := f.ToField()
	if err != nil {
		return nil, err
	}
	observed, err := f.Observed.ToField()
	if err != nil {
		return nil, err
	}
	corrected, err := rician.CorrectBias(u, observed, float64(f.Sigma), float64(op.C))
	if err != nil {
		return nil, errors.New(fmt.Sprintf("%d: %s", f.ID, err.Error()))
	}
	if op.Clip {
		corrected.Clip(float64(op.Lower), float64(op.Upper))
	}

	result = fits.NewImageFromImage(f)
	if err = result.SetField(corrected); err != nil {
		return nil, err
	}
	result.Stats.Mode = c.LSEstimatorMode
	result.Header.History = append(result.Header.History, fmt.Sprintf("bias correction c %g", op.C))

	clipped := ""
	if op.Clip {
		clipped = fmt.Sprintf(" clipped to [%g,%g]", op.Lower, op.Upper)
	}
	fmt.Fprintf(c.Log, "%d: Bias corrected with c %.4g%s, now %v\n", f.ID, op.C, clipped, result.Stats)
	return result, nil
}

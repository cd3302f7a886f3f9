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
	"github.com/mlnoga/mrdenoise/internal/rician"
	"github.com/mlnoga/mrdenoise/internal/stats"
)

// Replaces a clean image with a Rician noisy observation of it. The clean input is kept
// as reference for quality metrics. Takes one input, produces one output
type OpAddNoise struct {
	ops.OpUnaryBase
	Sigma float32 `json:"sigma"`
	Seed  uint32  `json:"seed"` // added to the image ID, so each image gets its own noise
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpAddNoiseDefault() }) } // register the operator for JSON decoding

func NewOpAddNoiseDefault() *OpAddNoise { return NewOpAddNoise(25, 0) }

func NewOpAddNoise(sigma float32, seed uint32) *OpAddNoise {
	op := OpAddNoise{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "addNoise", Active: sigma > 0}},
		Sigma:       sigma,
		Seed:        seed,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpAddNoise) UnmarshalJSON(data []byte) error {
	type defaults OpAddNoise
	def := defaults(*NewOpAddNoiseDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpAddNoise(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpAddNoise) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if !op.Active {
		return f, nil
	}
	clean, err := f.ToField()
	if err != nil {
		return nil, err
	}
	seed := op.Seed + uint32(f.ID)
	noisy, err := rician.AddNoise(clean, float64(op.Sigma), seed)
	if err != nil {
		return nil, errors.New(fmt.Sprintf("%d: %s", f.ID, err.Error()))
	}

	result = fits.NewImageFromImage(f)
	if err = result.SetField(noisy); err != nil {
		return nil, err
	}
	result.Stats.Mode = c.LSEstimatorMode
	result.Sigma = op.Sigma
	result.Reference = f
	result.Observed = nil
	result.Header.History = append(result.Header.History, fmt.Sprintf("Rician noise sigma %g seed %d", op.Sigma, seed))

	fmt.Fprintf(c.Log, "%d: Added Rician noise with sigma %.4g and seed %d, now %v\n", f.ID, op.Sigma, seed, result.Stats)
	return result, nil
}

// Estimates the Rician noise scale of an image from its Rayleigh-distributed background.
// Images with a known noise scale are left alone unless Force is set.
// Takes one input, produces one output
type OpEstimateSigma struct {
	ops.OpUnaryBase
	Force bool `json:"force"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpEstimateSigmaDefault() }) } // register the operator for JSON decoding

func NewOpEstimateSigmaDefault() *OpEstimateSigma { return NewOpEstimateSigma(true, false) }

func NewOpEstimateSigma(active, force bool) *OpEstimateSigma {
	op := OpEstimateSigma{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "estimateSigma", Active: active}},
		Force:       force,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpEstimateSigma) UnmarshalJSON(data []byte) error {
	type defaults OpEstimateSigma
	def := defaults(*NewOpEstimateSigmaDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpEstimateSigma(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpEstimateSigma) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if f.Sigma > 0 && !op.Force {
		fmt.Fprintf(c.Log, "%d: Using known noise scale sigma %.4g\n", f.ID, f.Sigma)
		return f, nil
	}
	sigma, err := stats.EstimateRayleighSigma(f.Data)
	if err != nil {
		return nil, errors.New(fmt.Sprintf("%d: estimating noise scale: %s", f.ID, err.Error()))
	}
	if f.Sigma > 0 {
		fmt.Fprintf(c.Log, "%d: Estimated noise scale sigma %.4g from background, was %.4g\n", f.ID, sigma, f.Sigma)
	} else {
		fmt.Fprintf(c.Log, "%d: Estimated noise scale sigma %.4g from background\n", f.ID, sigma)
	}
	fmt.Fprintf(c.Log, "%d: Immerkaer Gaussian noise estimate %.4g\n", f.ID, f.Stats.Noise())
	result = fits.NewImageFromImage(f)
	copy(result.Data, f.Data)
	result.Stats.Mode = c.LSEstimatorMode
	result.Sigma = sigma
	return result, nil
}

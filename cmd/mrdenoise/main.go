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


package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	nl "github.com/mlnoga/mrdenoise/internal"
	"github.com/mlnoga/mrdenoise/internal/fits"
	"github.com/mlnoga/mrdenoise/internal/ops"
	"github.com/mlnoga/mrdenoise/internal/ops/restore"
	"github.com/mlnoga/mrdenoise/internal/rest"
	"github.com/mlnoga/mrdenoise/internal/stats"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "denoised%d.fits", "save output to `file` below the working directory, with %d replaced by the image ID")
var jpg = flag.String("jpg", "%auto", "save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var tiff = flag.String("tiff", "", "save 16bit output as TIFF to `file`")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var residual = flag.String("residual", "", "save color map of the removed noise as JPEG to `file`")

var sigma = flag.Float64("sigma", 0, "Rician noise scale, 0=estimate from the image background")
var gamma = flag.Float64("gamma", 0.035, "total variation regularization weight")
var iter = flag.Int64("iter", 25, "number of solver iterations")
var bias = flag.Float64("bias", 1.2, "bias correction coefficient, 0=no op")
var clip = flag.Int64("clip", 1, "1=clip to [0,255] after bias correction, 0=do not clip")
var logEvery = flag.Int64("logEvery", 0, "log solver progress every n iterations, 0=never")

var noise = flag.Float64("noise", 25, "Rician noise scale added to clean images by the simulate command")
var seed = flag.Int64("seed", 0, "random seed for the simulate command")
var ref = flag.String("ref", "", "evaluate against clean reference image from `file`")
var fgThresh = flag.Float64("fgThresh", 5, "reference intensities above this are foreground for PSNR and SSIM")

var rawDims = flag.String("rawDims", "181,217,181", "dimensions x,y,z of raw volume inputs, x varying fastest")
var rawType = flag.String("rawType", "u8", "sample type of raw volume inputs, one of u8, u16be, u16le, f32le")
var slice = flag.Int64("slice", -1, "axial slice of raw volume inputs, -1=middle")
var rescale = flag.Int64("rescale", 0, "1=scale inputs so their maximum maps to 255, e.g. for 16bit images, 0=keep intensities")

var threads = flag.Int64("threads", 0, "number of threads, 0=all available")
var lsEst = flag.Int64("lsEst", 2, "location and scale estimators 0=mean/stddev, 1=median/MAD, 2=iterative sigma-clipped sampled median and sampled Qn (standard), 3=histogram peak")

var addr = flag.String("addr", ":8080", "listen on this address for the serve command")
var chroot = flag.String("chroot", "", "chroot to this directory before serving")
var setuid = flag.Int64("setuid", -1, "change to this user id before serving, -1=no change")

func main() {
	logWriter := nl.LogWriter{}
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `mrdenoise Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (denoise|simulate|stats|serve|legal|version|help) (img0.fits ... imgn.fits)

Commands:
  denoise  Remove Rician noise from magnitude images
  simulate Add Rician noise to clean images, denoise them and report quality gains
  stats    Show input image statistics and noise estimates
  serve    Serve the web interface and HTTP API
  legal    Show license and attribution information
  version  Show version information

Inputs are FITS (optionally gzipped), TIFF, PNG or JPEG images, or raw volumes
with suffix .raw, .rawb or .raws (optionally gzipped), see -rawDims and -rawType.

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if *out != "" && (args[0] == "denoise" || args[0] == "simulate") {
			*log = strings.ReplaceAll(strings.TrimSuffix(*out, filepath.Ext(*out)), "%d", "") + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s': %s\n", *log, err.Error())
		}
	}

	// Also auto-select JPEG output target
	if *jpg == "%auto" {
		if *out != "" {
			*jpg = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".jpg"
		} else {
			*jpg = ""
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatalf("Could not create CPU profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatalf("Could not start CPU profile: %s\n", err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	c := ops.NewContext(logWriter, stats.LSEstimatorMode(*lsEst))
	if *threads > 0 {
		c.MaxThreads = int(*threads)
	}

	var err error
	switch args[0] {
	case "denoise":
		err = cmdDenoise(args[1:], c)

	case "simulate":
		err = cmdSimulate(args[1:], c)

	case "stats":
		err = cmdStats(args[1:], c)

	case "serve":
		if err = rest.MakeSandbox(*chroot, int(*setuid), logWriter); err == nil {
			err = rest.Serve(*addr)
		}

	case "legal":
		cmdLegal()

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)
		fmt.Fprintf(logWriter, "CPU %s\n", c.CPU)
		fmt.Fprintf(logWriter, "Memory %d MB, %d MB for the solver, %d threads\n", c.MemoryMB, c.SolverMemoryMB, c.MaxThreads)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed := time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatalf("Could not create memory profile: %s\n", err.Error())
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatalf("Could not write allocation profile: %s\n", err.Error())
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogSync()
}

// Returns true for raw volume file names, optionally gzipped
func isRawVolume(fileName string) bool {
	lName := strings.ToLower(fileName)
	lName = strings.TrimSuffix(strings.TrimSuffix(lName, ".gz"), ".gzip")
	ext := filepath.Ext(lName)
	return ext == ".raw" || ext == ".rawb" || ext == ".raws"
}

// Globs the given file name patterns into load promises, one per matching file
func loadInputs(patterns []string, c *ops.Context) (ins []ops.Promise, err error) {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			var op ops.Operator
			if isRawVolume(match) {
				op = restore.NewOpLoadRaw(len(ins), match, *rawDims, *rawType, int(*slice))
			} else {
				op = ops.NewOpLoad(len(ins), match)
			}
			promises, err := op.MakePromises(nil, c)
			if err != nil {
				return nil, err
			}
			ins = append(ins, promises...)
		}
	}
	if len(ins) == 0 {
		return nil, errors.New(fmt.Sprintf("no files to load from patterns %v", patterns))
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(ins))
	return ins, nil
}

// Loads the clean reference image, if any, and attaches it to each input
func attachReference(ins []ops.Promise, fileName string, c *ops.Context) ([]ops.Promise, error) {
	if fileName == "" {
		return ins, nil
	}
	refs, err := loadInputs([]string{fileName}, c)
	if err != nil {
		return nil, err
	}
	if len(refs) != 1 {
		return nil, errors.New(fmt.Sprintf("need exactly one reference image, %s matches %d", fileName, len(refs)))
	}
	refImg, err := refs[0]()
	if err != nil {
		return nil, err
	}
	outs := make([]ops.Promise, len(ins))
	for i, in := range ins {
		in := in
		outs[i] = func() (*fits.Image, error) {
			f, err := in()
			if err != nil {
				return nil, err
			}
			f.Reference = refImg
			return f, nil
		}
	}
	return outs, nil
}

// Builds the restoration pipeline from the command line flags
func newRestore(opMetrics *restore.OpMetrics) *ops.OpSequence {
	opDenoise := restore.NewOpDenoise(float32(*sigma), float32(*gamma), int(*iter))
	opDenoise.LogEvery = int(*logEvery)
	return restore.NewOpRestore(
		restore.NewOpEstimateSigma(*sigma == 0, false),
		opDenoise,
		restore.NewOpBiasCorrect(float32(*bias), *clip != 0),
		opMetrics,
		restore.NewOpSaveResidual(*residual),
		ops.NewOpSave(*out),
		ops.NewOpSave(*jpg),
		ops.NewOpSave(*tiff),
	)
}

// Runs the operator on the inputs and materializes the results, keeping nothing in memory
func run(op ops.Operator, ins []ops.Promise, c *ops.Context, logWriter io.Writer) error {
	m, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "\nProcessing %d images on %s with these settings:\n%s\n", len(ins), c.CPU, string(m))

	outs, err := op.MakePromises(ins, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(outs, c.MaxThreads, true)
	return err
}

// Perform denoise command
func cmdDenoise(args []string, c *ops.Context) error {
	ins, err := loadInputs(args, c)
	if err != nil {
		return err
	}
	if ins, err = attachReference(ins, *ref, c); err != nil {
		return err
	}
	opMetrics := restore.NewOpMetrics(float32(*fgThresh), "restored")
	opRescale := restore.NewOpRescale(*rescale != 0, 255)
	if err = run(ops.NewOpSequence(opRescale, newRestore(opMetrics)), ins, c, c.Log); err != nil {
		return err
	}
	printResults(c.Log, opMetrics.Results())
	return nil
}

// Perform simulate command
func cmdSimulate(args []string, c *ops.Context) error {
	ins, err := loadInputs(args, c)
	if err != nil {
		return err
	}
	opMetrics := restore.NewOpMetrics(float32(*fgThresh), "restored")
	opRescale := restore.NewOpRescale(*rescale != 0, 255)
	opSimulate := restore.NewOpSimulate(
		restore.NewOpAddNoise(float32(*noise), uint32(*seed)),
		restore.NewOpMetrics(float32(*fgThresh), "noisy"),
		newRestore(opMetrics),
	)
	if err = run(ops.NewOpSequence(opRescale, opSimulate), ins, c, c.Log); err != nil {
		return err
	}
	printResults(c.Log, opMetrics.Results())
	return nil
}

// Perform stats command
func cmdStats(args []string, c *ops.Context) error {
	ins, err := loadInputs(args, c)
	if err != nil {
		return err
	}
	return run(restore.NewOpEstimateSigma(true, true), ins, c, c.Log)
}

func printResults(logWriter io.Writer, results []restore.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(logWriter, "\nForeground quality above threshold %g:\n", *fgThresh)
	for _, r := range results {
		fmt.Fprintf(logWriter, "%d: %v\n", r.ID, r)
	}
}

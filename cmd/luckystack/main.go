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
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/pbnjay/memory"

	"github.com/mlnoga/luckystack/internal/applog"
	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/compute/cpubackend"
	"github.com/mlnoga/luckystack/internal/compute/gpubackend"
	"github.com/mlnoga/luckystack/internal/pipeline"
	"github.com/mlnoga/luckystack/internal/pipelinecfg"
	"github.com/mlnoga/luckystack/internal/progress"
	"github.com/mlnoga/luckystack/internal/rest"
	"github.com/mlnoga/luckystack/internal/sersource"
	"github.com/mlnoga/luckystack/internal/source"
)

const version = "0.1.0"

var totalMiBs = memory.TotalMemory() / 1024 / 1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var port = flag.Int64("port", 8080, "port for serving the HTTP job API")
var chroot = flag.String("chroot", "", "directory to chroot and chdir to when serving HTTP. must be run as root")
var setuid = flag.Int64("setuid", -1, "user id number to setuid to when serving HTTP. must be run as root")

var input = flag.String("input", "", "input capture file, e.g. a SER video")
var output = flag.String("out", "out.png", "save output to `file`")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var config = flag.String("config", "", "load pipeline configuration from `file` (TOML), overriding defaults")
var saveConfig = flag.String("save-config", "", "save the effective pipeline configuration to `file` (TOML) and exit")

var backend = flag.String("backend", "auto", "compute backend: cpu, gpu, or auto")
var memoryPolicy = flag.String("memory-policy", "streaming", "memory policy: eager, streaming, or auto")
var memoryThresholdMiB = flag.Int64("memory-threshold-mib", int64((totalMiBs*7)/10), "decoded-sequence size threshold in MiB, stored in the config (not consulted by the pipeline)")
var workers = flag.Int64("workers", 0, "worker goroutines, 0=GOMAXPROCS")
var forceMono = flag.Bool("force-mono", false, "process as mono even if the source reports a color mode")

var debayerEnabled = flag.Bool("debayer", true, "debayer color sources before stacking")
var topFraction = flag.Float64("top-fraction", 0.5, "fraction of frames to keep after quality ranking, in (0,1]")
var regMethod = flag.String("reg-method", "phase_correlation", "registration method: phase_correlation, enhanced, gradient, centroid, pyramid")

var stackMode = flag.String("stack-mode", "sigma_clip", "stacking mode: mean, median, sigma_clip, multi_point_ap, drizzle")
var sigmaKappa = flag.Float64("sigma-kappa", 2.5, "sigma-clip stacking: clip threshold in standard deviations")
var sigmaIterations = flag.Int64("sigma-iterations", 5, "sigma-clip stacking: max clip/recompute iterations")
var apSize = flag.Int64("ap-size", 64, "multi-point-AP stacking: alignment patch size in pixels")
var apSearchRadius = flag.Int64("ap-search-radius", 8, "multi-point-AP stacking: local realignment search margin in pixels")
var apSelectPercentage = flag.Float64("ap-select-percentage", 0.25, "multi-point-AP stacking: fraction of best-quality frames kept per alignment point")
var apMinBrightness = flag.Float64("ap-min-brightness", 0.05, "multi-point-AP stacking: reject alignment points dimmer than this, in [0,1]")
var apQualityMetric = flag.String("ap-quality-metric", "variance", "multi-point-AP stacking: per-AP quality metric, variance or gradient")
var apLocalStackMethod = flag.String("ap-local-stack-method", "weighted_mean", "multi-point-AP stacking: per-AP combine method, weighted_mean, median, or sigma_clip")
var drizzleScale = flag.Int64("drizzle-scale", 2, "drizzle stacking: output upsampling factor")
var drizzlePixfrac = flag.Float64("drizzle-pixfrac", 0.8, "drizzle stacking: input pixel footprint shrink factor")

var waveletScales = flag.Int64("wavelet-scales", 4, "a-trous wavelet sharpening: number of decomposition scales, 0=off")
var deconv = flag.String("deconv", "none", "deconvolution: none, richardson_lucy, wiener")
var psf = flag.String("psf", "gaussian", "deconvolution PSF model: gaussian, kolmogorov, airy")
var psfParam = flag.Float64("psf-param", 1.5, "deconvolution PSF parameter (sigma, seeing FWHM, or first-zero radius, in pixels)")
var psfSize = flag.Int64("psf-size", 9, "deconvolution PSF kernel size in pixels")
var deconvIterations = flag.Int64("deconv-iterations", 15, "Richardson-Lucy iteration count")
var wienerNoiseRatio = flag.Float64("wiener-noise-ratio", 0.01, "Wiener filter noise-to-signal ratio")

var autoStretch = flag.Bool("auto-stretch", true, "apply an automatic histogram stretch to the final image")

func main() {
	var logWriter io.Writer = os.Stdout
	debug.SetGCPercent(10)
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Luckystack Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (stack|serve|legal|version|help)

Commands:
  stack   Select, align, stack and restore -input into -out
  serve   Serve the HTTP job submission API on -port
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *log == "%auto" {
		if *output != "" {
			*log = strings.TrimSuffix(*output, extOf(*output)) + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := applog.AlsoToFile(*log); err != nil {
			panic(fmt.Sprintf("unable to open log file %s: %s\n", *log, err))
		}
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "could not create CPU profile: %s\n", err)
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "could not start CPU profile: %s\n", err)
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	var err error
	switch args[0] {
	case "serve":
		rest.MakeSandbox(*chroot, int(*setuid))
		server := &rest.Server{Open: openReader}
		err = server.Serve(fmt.Sprintf(":%d", *port))

	case "stack":
		err = runStack()

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	if err != nil {
		fmt.Fprintf(logWriter, "ERROR: %s\n", err.Error())
		os.Exit(-1)
	}

	now := time.Now()
	elapsed := now.Sub(start).Round(time.Millisecond * 10)
	fmt.Fprintf(logWriter, "\nDone after %s\n", elapsed)

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "could not create memory profile: %s\n", err)
			os.Exit(-1)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			fmt.Fprintf(logWriter, "could not write allocation profile: %s\n", err)
			os.Exit(-1)
		}
	}
	applog.Sync()
}

// extOf returns the filename extension the same way path/filepath.Ext
// would, inlined here to avoid a second stdlib import for one call.
func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

// buildConfig assembles a pipelinecfg.Config from -config (if given) and
// every flag the user set on the command line, flags taking precedence.
func buildConfig() (pipelinecfg.Config, error) {
	cfg := pipelinecfg.Default()
	if *config != "" {
		loaded, err := pipelinecfg.Load(*config)
		if err != nil {
			return pipelinecfg.Config{}, err
		}
		cfg = loaded
	}

	cfg.Input = *input
	cfg.Output = *output
	cfg.Backend = *backend
	cfg.MemoryPolicy = *memoryPolicy
	cfg.MemoryThreshold = *memoryThresholdMiB * 1024 * 1024
	cfg.Workers = int(*workers)
	cfg.ForceMono = *forceMono
	cfg.Debayer.Enabled = *debayerEnabled
	cfg.Selection.TopFraction = *topFraction
	cfg.Registration.Method = *regMethod

	cfg.Stacking.Mode = *stackMode
	cfg.Stacking.SigmaKappa = *sigmaKappa
	cfg.Stacking.SigmaIterations = int(*sigmaIterations)
	cfg.Stacking.ApSize = int(*apSize)
	cfg.Stacking.SearchRadius = int(*apSearchRadius)
	cfg.Stacking.SelectPercentage = *apSelectPercentage
	cfg.Stacking.MinBrightness = *apMinBrightness
	cfg.Stacking.QualityMetric = *apQualityMetric
	cfg.Stacking.LocalStackMethod = *apLocalStackMethod
	cfg.Stacking.DrizzleScale = int(*drizzleScale)
	cfg.Stacking.DrizzlePixFrac = *drizzlePixfrac

	cfg.Restoration.WaveletScales = int(*waveletScales)
	cfg.Restoration.Deconv = *deconv
	cfg.Restoration.PSF = *psf
	cfg.Restoration.PSFParam = *psfParam
	cfg.Restoration.PSFSize = int(*psfSize)
	cfg.Restoration.DeconvIterations = int(*deconvIterations)
	cfg.Restoration.WienerNoiseRatio = *wienerNoiseRatio

	if *autoStretch {
		cfg.Filters = []pipelinecfg.FilterStep{{Name: "auto_stretch"}}
	} else {
		cfg.Filters = nil
	}
	return cfg, nil
}

func runStack() error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	if *saveConfig != "" {
		if err := pipelinecfg.Save(*saveConfig, cfg); err != nil {
			return err
		}
		applog.Printf("Saved configuration to %s\n", *saveConfig)
		return nil
	}
	if cfg.Input == "" {
		return fmt.Errorf("luckystack: -input is required for the stack command")
	}

	reader, err := openReader(cfg.Input)
	if err != nil {
		return err
	}
	defer reader.Close()

	b, err := backendFor(cfg.Backend)
	if err != nil {
		return err
	}

	reporter := progress.NewTerminalReporter()
	orch := pipeline.New(cfg, b, reporter)
	return orch.Run(reader)
}

// openReader resolves a CLI/REST input string to a concrete FrameReader.
// SER is the only container format this binary ships a reader for; the
// pipeline core itself has no opinion on capture formats (§1 Non-goals).
func openReader(in string) (source.FrameReader, error) {
	if strings.HasSuffix(strings.ToLower(in), ".ser") {
		return sersource.Open(in)
	}
	return nil, fmt.Errorf("luckystack: unsupported input format %q (only .ser is supported)", in)
}

func backendFor(name string) (compute.Backend, error) {
	switch name {
	case "gpu":
		return gpubackend.New()
	case "cpu", "":
		return cpubackend.New(), nil
	case "auto":
		if b, err := gpubackend.New(); err == nil {
			return b, nil
		}
		return cpubackend.New(), nil
	default:
		return nil, fmt.Errorf("luckystack: unknown backend %q", name)
	}
}

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

// Package pipelinecfg holds the persisted pipeline configuration (§6.3):
// everything a --save-config/--config round trip needs to reproduce a run
// without retyping every flag, serialized as TOML.
package pipelinecfg

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full set of tunables a pipeline run accepts, either from
// CLI flags or a saved TOML file (§6.3).
type Config struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`

	// Backend selects which compute.Backend implementation runs the
	// pipeline: "cpu", "gpu", or "auto" (GPU if available, else CPU).
	Backend string `toml:"backend"`

	// MemoryPolicy names "eager", "streaming" or "auto", and
	// MemoryThreshold a decoded-sequence size in bytes. Both are stored and
	// round-tripped with the config, but the pipeline does not consult
	// them: it always reads frames on demand through the reader.
	MemoryPolicy     string `toml:"memory_policy"`
	MemoryThreshold  int64  `toml:"memory_threshold_bytes"`
	Workers          int    `toml:"workers"`

	// ForceMono skips debayering/color splitting even if the source
	// reports a color mode, processing the luminance-equivalent frame.
	ForceMono bool `toml:"force_mono"`

	Debayer DebayerConfig `toml:"debayer"`

	Selection SelectionConfig `toml:"selection"`

	Registration RegistrationConfig `toml:"registration"`

	Stacking StackingConfig `toml:"stacking"`

	Restoration RestorationConfig `toml:"restoration"`

	Filters []FilterStep `toml:"filters"`
}

// DebayerConfig controls Bayer demosaicing ahead of the color pipeline.
type DebayerConfig struct {
	Enabled bool `toml:"enabled"`
	// Method is one of "bilinear".
	Method string `toml:"method"`
}

// SelectionConfig controls frame quality scoring and culling (§4.3).
type SelectionConfig struct {
	TopFraction float64 `toml:"top_fraction"`
}

// RegistrationConfig controls frame alignment (§4.2).
type RegistrationConfig struct {
	// Method is one of "phase_correlation", "enhanced", "gradient",
	// "centroid", "pyramid".
	Method string `toml:"method"`
}

// StackingConfig controls the stacking engine (§4.4).
type StackingConfig struct {
	// Mode is one of "mean", "median", "sigma_clip", "multi_point_ap",
	// "drizzle".
	Mode string `toml:"mode"`

	SigmaKappa      float64 `toml:"sigma_kappa"`
	SigmaIterations int     `toml:"sigma_iterations"`

	// ApSize is the alignment-point tile edge length in pixels, 0
	// selects automatic sizing from the frame dimensions (§4.4.4).
	ApSize int `toml:"ap_size"`

	// SearchRadius bounds how far an AP's local realignment may shift a
	// tile from its grid position, in pixels.
	SearchRadius int `toml:"ap_search_radius"`

	// SelectPercentage is the fraction (0,1] of best-quality frames kept
	// per alignment point before local stacking.
	SelectPercentage float64 `toml:"ap_select_percentage"`

	// MinBrightness rejects alignment-point tiles whose mean brightness
	// in the global reference falls below this threshold, normalized to
	// [0,1], treating them as featureless sky background not worth
	// tracking.
	MinBrightness float64 `toml:"ap_min_brightness"`

	// QualityMetric is one of "variance", "gradient", selecting which
	// quality.Score metric ranks frames within an alignment point.
	QualityMetric string `toml:"ap_quality_metric"`

	// LocalStackMethod is one of "weighted_mean" (weighted by each
	// frame's composite quality score), "median", or "sigma_clip",
	// selecting how the selected frames are combined within each
	// alignment point.
	LocalStackMethod string `toml:"ap_local_stack_method"`

	DrizzleScale   int     `toml:"drizzle_scale"`
	DrizzlePixFrac float64 `toml:"drizzle_pixfrac"`
}

// RestorationConfig controls post-stack sharpening (§4.5).
type RestorationConfig struct {
	WaveletScales int       `toml:"wavelet_scales"`
	WaveletGains  []float64 `toml:"wavelet_gains"`

	// Denoise holds per-scale soft-threshold magnitudes applied to each
	// detail layer before it is summed into the reconstruction (§4.5.1);
	// 0 (or an absent entry) disables thresholding for that scale.
	Denoise []float64 `toml:"wavelet_denoise"`

	// Deconv is one of "none", "richardson_lucy", "wiener".
	Deconv string `toml:"deconv"`

	// PSF is one of "gaussian", "kolmogorov", "airy".
	PSF              string  `toml:"psf"`
	PSFParam         float64 `toml:"psf_param"`
	PSFSize          int     `toml:"psf_size"`
	DeconvIterations int     `toml:"deconv_iterations"`
	WienerNoiseRatio float64 `toml:"wiener_noise_ratio"`
}

// FilterStep is one entry in the ordered post-processing filter chain
// (§6.3's "filters" list). Name selects which filter runs; the
// remaining fields are read only by the filters that need them.
type FilterStep struct {
	// Name is one of "auto_stretch", "histogram_stretch", "gamma",
	// "brightness_contrast", "unsharp_mask", "gaussian_blur".
	Name string `toml:"name"`

	TargetLocation float64 `toml:"target_location"`
	TargetScale    float64 `toml:"target_scale"`
	Black          float64 `toml:"black"`
	White          float64 `toml:"white"`
	Gamma          float64 `toml:"gamma"`
	Brightness     float64 `toml:"brightness"`
	Contrast       float64 `toml:"contrast"`
	Sigma          float64 `toml:"sigma"`
	Gain           float64 `toml:"gain"`
	AbsThreshold   float64 `toml:"abs_threshold"`
}

// Default returns a Config with the pipeline's documented defaults.
func Default() Config {
	return Config{
		Backend:         "auto",
		MemoryPolicy:    "streaming",
		MemoryThreshold: 1 << 30, // 1 GiB
		Workers:         0,
		Debayer:         DebayerConfig{Enabled: true, Method: "bilinear"},
		Selection:       SelectionConfig{TopFraction: 0.5},
		Registration: RegistrationConfig{Method: "phase_correlation"},
		Stacking: StackingConfig{
			Mode:             "sigma_clip",
			SigmaKappa:       2.5,
			SigmaIterations:  5,
			ApSize:           64,
			SearchRadius:     8,
			SelectPercentage: 0.25,
			MinBrightness:    0.05,
			QualityMetric:    "variance",
			LocalStackMethod: "weighted_mean",
			DrizzleScale:     2,
			DrizzlePixFrac:   0.8,
		},
		Restoration: RestorationConfig{
			WaveletScales:    4,
			WaveletGains:     []float64{1.3, 1.15, 1.0, 1.0},
			Denoise:          []float64{0, 0, 0, 0},
			Deconv:           "none",
			PSF:              "gaussian",
			PSFParam:         1.5,
			PSFSize:          9,
			DeconvIterations: 15,
			WienerNoiseRatio: 0.01,
		},
	}
}

// Load reads and parses a TOML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("pipelinecfg: read %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("pipelinecfg: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save serializes cfg as TOML and writes it to path.
func Save(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("pipelinecfg: marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("pipelinecfg: write %s: %w", path, err)
	}
	return nil
}

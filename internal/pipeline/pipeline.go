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

// Package pipeline sequences the whole run: read -> debayer -> score ->
// select -> align -> stack -> sharpen -> filter -> write (§4.6),
// branching on mono-vs-color source. Frames are always read on demand
// through the source.FrameReader; the MemoryPolicy and MemoryThreshold
// settings are not consulted. It is the one stateful, sequential orchestrator in the
// module -- every stage it calls into (registration, stacking,
// restoration, quality, filters) is a pure function over frames.
package pipeline

import (
	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/debayer"
	"github.com/mlnoga/luckystack/internal/filters"
	"github.com/mlnoga/luckystack/internal/frame"
	"github.com/mlnoga/luckystack/internal/imagewriter"
	"github.com/mlnoga/luckystack/internal/pipelinecfg"
	"github.com/mlnoga/luckystack/internal/progress"
	"github.com/mlnoga/luckystack/internal/quality"
	"github.com/mlnoga/luckystack/internal/registration"
	"github.com/mlnoga/luckystack/internal/restoration"
	"github.com/mlnoga/luckystack/internal/source"
	"github.com/mlnoga/luckystack/internal/stacking"
)

// stageKey orders the cache so InvalidateFrom can clear a stage and
// everything downstream of it (§4.6's cache-invalidation rule).
type stageKey int

const (
	stageScore stageKey = iota
	stageSelect
	stageAlign
	stageStack
	stageRestore
	stageFilter
	stageCount
)

// cache holds every stage's cached output plus a per-stage validity bit.
// A stage is considered fresh only if its own bit and every earlier
// stage's bit are set; InvalidateFrom clears a stage's bit and all
// later ones in one call.
type cache struct {
	valid [stageCount]bool

	isColor bool

	scores   map[frame.FrameIndex]frame.QualityScore
	ranked   []quality.Ranked
	selected []frame.FrameIndex
	offsets  []frame.AlignmentOffset

	stackedMono  *frame.Frame
	stackedColor *frame.ColorFrame

	restoredMono  *frame.Frame
	restoredColor *frame.ColorFrame

	filteredMono  *frame.Frame
	filteredColor *frame.ColorFrame
}

// Orchestrator runs one pipeline configuration against one reader,
// caching intermediate stage outputs so a parameter change at stage K
// only forces K and its downstream stages to re-run.
type Orchestrator struct {
	cfg      pipelinecfg.Config
	backend  compute.Backend
	reporter progress.Reporter
	cache    cache
}

// New returns an Orchestrator ready to run against a FrameReader.
func New(cfg pipelinecfg.Config, backend compute.Backend, reporter progress.Reporter) *Orchestrator {
	if reporter == nil {
		reporter = progress.NoopReporter{}
	}
	return &Orchestrator{cfg: cfg, backend: backend, reporter: reporter}
}

// InvalidateFrom clears the cached output of stage and every stage after
// it, forcing the next Run to recompute them while still reusing
// whatever is cached upstream (§4.6, §9 "Caching").
func (o *Orchestrator) InvalidateFrom(stage stageKey) {
	for s := stage; s < stageCount; s++ {
		o.cache.valid[s] = false
	}
}

// SetConfig replaces the configuration and invalidates every cached stage
// from scoring onward, whatever field changed. Callers that know exactly which
// stage changed should prefer InvalidateFrom directly; SetConfig is the
// coarse entry point used by a config-reload from disk.
func (o *Orchestrator) SetConfig(cfg pipelinecfg.Config) {
	o.cfg = cfg
	o.InvalidateFrom(stageScore)
}

func (o *Orchestrator) isColorSource(info frame.SourceInfo) bool {
	if o.cfg.ForceMono {
		return false
	}
	switch info.ColorMode {
	case frame.RGB, frame.BGR:
		return true
	case frame.BayerRGGB, frame.BayerGRBG, frame.BayerGBRG, frame.BayerBGGR:
		return o.cfg.Debayer.Enabled
	default:
		return false
	}
}

func registrationMethod(name string) registration.Method {
	switch name {
	case "enhanced":
		return registration.Enhanced
	case "gradient":
		return registration.Gradient
	case "centroid":
		return registration.Centroid
	case "pyramid":
		return registration.Pyramid
	default:
		return registration.PhaseCorrelation
	}
}

// Run executes every stage in order (reusing cached stages that are
// still valid) and writes the final image to cfg.Output.
func (o *Orchestrator) Run(reader source.FrameReader) error {
	info := reader.Info()
	if info.FrameCount == 0 {
		return newError(EmptySequence, progress.StageRead, "source has no frames")
	}
	o.cache.isColor = o.isColorSource(info)

	if !o.cache.valid[stageScore] {
		if err := o.runScore(reader, info); err != nil {
			return err
		}
		o.cache.valid[stageScore] = true
	}
	if !o.cache.valid[stageSelect] {
		o.runSelect()
		o.cache.valid[stageSelect] = true
	}
	if !o.cache.valid[stageAlign] {
		if err := o.runAlign(reader); err != nil {
			return err
		}
		o.cache.valid[stageAlign] = true
	}
	if !o.cache.valid[stageStack] {
		if err := o.runStack(reader); err != nil {
			return err
		}
		o.cache.valid[stageStack] = true
	}
	if !o.cache.valid[stageRestore] {
		if err := o.runRestore(); err != nil {
			return err
		}
		o.cache.valid[stageRestore] = true
	}
	if !o.cache.valid[stageFilter] {
		if err := o.runFilter(); err != nil {
			return err
		}
		o.cache.valid[stageFilter] = true
	}
	return o.runWrite()
}

func (o *Orchestrator) runScore(reader source.FrameReader, info frame.SourceInfo) error {
	o.reporter.StageStarted(progress.StageScore, info.FrameCount)
	defer o.reporter.StageDone(progress.StageScore)

	scores := make(map[frame.FrameIndex]frame.QualityScore, info.FrameCount)
	for i := 0; i < info.FrameCount; i++ {
		f, err := reader.ReadFrame(i)
		if err != nil {
			e := wrapError(IoError, progress.StageRead, err)
			o.reporter.Failed(progress.StageScore, e)
			return e
		}
		if f.Height < 3 || f.Width < 3 {
			scores[i] = frame.QualityScore{}
		} else {
			scores[i] = quality.Score(f)
		}
		o.reporter.FrameDone(progress.StageScore, i)
	}
	o.cache.scores = scores
	return nil
}

func (o *Orchestrator) runSelect() {
	o.reporter.StageStarted(progress.StageSelect, len(o.cache.scores))
	defer o.reporter.StageDone(progress.StageSelect)

	o.cache.ranked = quality.Rank(o.cache.scores)
	o.cache.selected = quality.SelectTopFraction(o.cache.scores, o.cfg.Selection.TopFraction)
	for range o.cache.selected {
		o.reporter.FrameDone(progress.StageSelect, 0)
	}
}

func (o *Orchestrator) runAlign(reader source.FrameReader) error {
	n := len(o.cache.selected)
	o.reporter.StageStarted(progress.StageAlign, n)
	defer o.reporter.StageDone(progress.StageAlign)

	if n == 0 {
		return newError(EmptySequence, progress.StageAlign, "no frames selected")
	}
	method := registrationMethod(o.cfg.Registration.Method)
	offsets := make([]frame.AlignmentOffset, n)

	refFrame, err := reader.ReadFrame(o.cache.selected[0])
	if err != nil {
		return wrapError(IoError, progress.StageAlign, err)
	}
	o.reporter.FrameDone(progress.StageAlign, 0)

	for i := 1; i < n; i++ {
		tgt, err := reader.ReadFrame(o.cache.selected[i])
		if err != nil {
			return wrapError(IoError, progress.StageAlign, err)
		}
		off, err := registration.ComputeOffset(o.backend, method, refFrame, tgt)
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageAlign, err)
		}
		offsets[i] = off
		o.reporter.FrameDone(progress.StageAlign, i)
	}
	o.cache.offsets = offsets
	return nil
}

// shiftMono reads and globally shifts every selected frame's
// luminance/mono plane, the form mean/median/sigma-clip/multi-point
// stacking consume (§3 "Stacking methods that operate on shifted frames
// must be applied to already-shifted copies").
func (o *Orchestrator) shiftMono(reader source.FrameReader) ([]*frame.Frame, error) {
	out := make([]*frame.Frame, len(o.cache.selected))
	for i, idx := range o.cache.selected {
		f, err := reader.ReadFrame(idx)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			out[i] = f
			continue
		}
		off := o.cache.offsets[i]
		shifted, err := shiftViaBackend(o.backend, f, -off.Dx, -off.Dy)
		if err != nil {
			return nil, err
		}
		out[i] = shifted
	}
	return out, nil
}

func (o *Orchestrator) shiftColor(reader source.FrameReader) ([]*frame.ColorFrame, error) {
	out := make([]*frame.ColorFrame, len(o.cache.selected))
	method := debayerMethod(o.cfg.Debayer.Method)
	for i, idx := range o.cache.selected {
		cf, err := reader.ReadFrameAsColor(idx, method)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			out[i] = cf
			continue
		}
		off := o.cache.offsets[i]
		r, err := shiftViaBackend(o.backend, cf.R, -off.Dx, -off.Dy)
		if err != nil {
			return nil, err
		}
		g, err := shiftViaBackend(o.backend, cf.G, -off.Dx, -off.Dy)
		if err != nil {
			return nil, err
		}
		b, err := shiftViaBackend(o.backend, cf.B, -off.Dx, -off.Dy)
		if err != nil {
			return nil, err
		}
		out[i] = &frame.ColorFrame{R: r, G: g, B: b}
	}
	return out, nil
}

func debayerMethod(name string) debayer.Method {
	return debayer.Bilinear
}

func shiftViaBackend(b compute.Backend, f *frame.Frame, dx, dy float64) (*frame.Frame, error) {
	buf, err := b.Upload(f.Data, f.Height, f.Width)
	if err != nil {
		return nil, err
	}
	shifted, err := b.ShiftBilinear(buf, dx, dy)
	if err != nil {
		return nil, err
	}
	data, err := b.Download(shifted)
	if err != nil {
		return nil, err
	}
	return frame.NewFrameFromData(f.Height, f.Width, data, f.OrigBitDepth), nil
}

func (o *Orchestrator) stackMono(frames []*frame.Frame) (*frame.Frame, error) {
	switch o.cfg.Stacking.Mode {
	case "median":
		return stacking.StackMedian(frames)
	case "sigma_clip":
		return stacking.StackSigmaClip(frames, stacking.SigmaClipParams{
			Kappa:         o.cfg.Stacking.SigmaKappa,
			MaxIterations: o.cfg.Stacking.SigmaIterations,
		})
	case "multi_point_ap":
		s := o.cfg.Stacking
		mpParams := stacking.MultiPointParams{
			ApSize:           s.ApSize,
			SearchRadius:     s.SearchRadius,
			SelectPercentage: s.SelectPercentage,
			MinBrightness:    s.MinBrightness,
			QualityMetric:    s.QualityMetric,
			LocalStackMethod: s.LocalStackMethod,
		}
		return stacking.StackMultiPointAP(o.backend, frames, mpParams)
	case "drizzle":
		offsets := make([]frame.AlignmentOffset, len(frames))
		params := stacking.DrizzleParams{Scale: o.cfg.Stacking.DrizzleScale, PixFrac: o.cfg.Stacking.DrizzlePixFrac}
		return stacking.StackDrizzleParallel(frames, offsets, params)
	default:
		return stacking.StackMean(frames)
	}
}

func (o *Orchestrator) stackMonoUnshifted(reader source.FrameReader) (*frame.Frame, error) {
	frames := make([]*frame.Frame, len(o.cache.selected))
	for i, idx := range o.cache.selected {
		f, err := reader.ReadFrame(idx)
		if err != nil {
			return nil, err
		}
		frames[i] = f
	}
	params := stacking.DrizzleParams{Scale: o.cfg.Stacking.DrizzleScale, PixFrac: o.cfg.Stacking.DrizzlePixFrac}
	if params.Scale <= 0 {
		params = stacking.DefaultDrizzleParams()
	}
	return stacking.StackDrizzleParallel(frames, o.cache.offsets, params)
}

func (o *Orchestrator) runStack(reader source.FrameReader) error {
	o.reporter.StageStarted(progress.StageStack, len(o.cache.selected))
	defer o.reporter.StageDone(progress.StageStack)

	if o.cfg.Stacking.Mode == "drizzle" {
		out, err := o.stackMonoUnshifted(reader)
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageStack, err)
		}
		if o.cache.isColor {
			// Drizzle is run per color channel directly from the
			// unshifted color frames, using the same global offsets.
			rframes, gframes, bframes := make([]*frame.Frame, len(o.cache.selected)), make([]*frame.Frame, len(o.cache.selected)), make([]*frame.Frame, len(o.cache.selected))
			method := debayerMethod(o.cfg.Debayer.Method)
			for i, idx := range o.cache.selected {
				cf, err := reader.ReadFrameAsColor(idx, method)
				if err != nil {
					return wrapError(IoError, progress.StageStack, err)
				}
				rframes[i], gframes[i], bframes[i] = cf.R, cf.G, cf.B
			}
			params := stacking.DrizzleParams{Scale: o.cfg.Stacking.DrizzleScale, PixFrac: o.cfg.Stacking.DrizzlePixFrac}
			if params.Scale <= 0 {
				params = stacking.DefaultDrizzleParams()
			}
			r, err := stacking.StackDrizzleParallel(rframes, o.cache.offsets, params)
			if err != nil {
				return wrapError(PipelineErrorKind, progress.StageStack, err)
			}
			g, err := stacking.StackDrizzleParallel(gframes, o.cache.offsets, params)
			if err != nil {
				return wrapError(PipelineErrorKind, progress.StageStack, err)
			}
			b, err := stacking.StackDrizzleParallel(bframes, o.cache.offsets, params)
			if err != nil {
				return wrapError(PipelineErrorKind, progress.StageStack, err)
			}
			o.cache.stackedColor = &frame.ColorFrame{R: r, G: g, B: b}
		} else {
			o.cache.stackedMono = out
		}
		return nil
	}

	if o.cache.isColor {
		colorFrames, err := o.shiftColor(reader)
		if err != nil {
			return wrapError(IoError, progress.StageStack, err)
		}
		r, err := o.stackMono(extractR(colorFrames))
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageStack, err)
		}
		g, err := o.stackMono(extractG(colorFrames))
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageStack, err)
		}
		b, err := o.stackMono(extractB(colorFrames))
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageStack, err)
		}
		o.cache.stackedColor = &frame.ColorFrame{R: r, G: g, B: b}
		return nil
	}

	frames, err := o.shiftMono(reader)
	if err != nil {
		return wrapError(IoError, progress.StageStack, err)
	}
	out, err := o.stackMono(frames)
	if err != nil {
		return wrapError(PipelineErrorKind, progress.StageStack, err)
	}
	o.cache.stackedMono = out
	return nil
}

func extractR(cf []*frame.ColorFrame) []*frame.Frame {
	out := make([]*frame.Frame, len(cf))
	for i, c := range cf {
		out[i] = c.R
	}
	return out
}
func extractG(cf []*frame.ColorFrame) []*frame.Frame {
	out := make([]*frame.Frame, len(cf))
	for i, c := range cf {
		out[i] = c.G
	}
	return out
}
func extractB(cf []*frame.ColorFrame) []*frame.Frame {
	out := make([]*frame.Frame, len(cf))
	for i, c := range cf {
		out[i] = c.B
	}
	return out
}

func (o *Orchestrator) restoreMono(f *frame.Frame) (*frame.Frame, error) {
	r := o.cfg.Restoration
	out := f
	if r.WaveletScales > 0 {
		dec, err := restoration.Decompose(o.backend, out, r.WaveletScales)
		if err != nil {
			return nil, err
		}
		gains := r.WaveletGains
		if len(gains) != r.WaveletScales {
			gains = make([]float64, r.WaveletScales)
			for i := range gains {
				gains[i] = 1
			}
		}
		out = restoration.Reconstruct(dec, gains, r.Denoise)
	}
	switch r.Deconv {
	case "richardson_lucy":
		psf := psfForConfig(r)
		out, _ = restoration.RichardsonLucy(o.backend, out, psf, r.PSFSize, r.DeconvIterations)
	case "wiener":
		psf := psfForConfig(r)
		out, _ = restoration.Wiener(out, psf, r.PSFSize, r.WienerNoiseRatio)
	}
	return out, nil
}

func psfForConfig(r pipelinecfg.RestorationConfig) []float32 {
	switch r.PSF {
	case "kolmogorov":
		return restoration.KolmogorovPSF(r.PSFParam, r.PSFSize)
	case "airy":
		return restoration.AiryPSF(r.PSFParam, r.PSFSize)
	default:
		return restoration.GaussianPSF(r.PSFParam, r.PSFSize)
	}
}

func (o *Orchestrator) runRestore() error {
	o.reporter.StageStarted(progress.StageRestoration, 1)
	defer o.reporter.StageDone(progress.StageRestoration)

	if o.cache.isColor {
		r, err := o.restoreMono(o.cache.stackedColor.R)
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageRestoration, err)
		}
		g, err := o.restoreMono(o.cache.stackedColor.G)
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageRestoration, err)
		}
		b, err := o.restoreMono(o.cache.stackedColor.B)
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageRestoration, err)
		}
		o.cache.restoredColor = &frame.ColorFrame{R: r, G: g, B: b}
	} else {
		out, err := o.restoreMono(o.cache.stackedMono)
		if err != nil {
			return wrapError(PipelineErrorKind, progress.StageRestoration, err)
		}
		o.cache.restoredMono = out
	}
	o.reporter.FrameDone(progress.StageRestoration, 0)
	return nil
}

func applyFilterStep(f *frame.Frame, step pipelinecfg.FilterStep) *frame.Frame {
	switch step.Name {
	case "auto_stretch":
		return filters.AutoStretch(f, float32(step.TargetLocation), float32(step.TargetScale))
	case "histogram_stretch":
		return filters.HistogramStretch(f, float32(step.Black), float32(step.White))
	case "gamma":
		return filters.Gamma(f, float32(step.Gamma))
	case "brightness_contrast":
		return filters.BrightnessContrast(f, float32(step.Brightness), float32(step.Contrast))
	case "unsharp_mask":
		return filters.UnsharpMask(f, float32(step.Sigma), float32(step.Gain), float32(step.AbsThreshold))
	case "gaussian_blur":
		return filters.GaussianBlur(f, float32(step.Sigma))
	default:
		return f
	}
}

func (o *Orchestrator) runFilter() error {
	o.reporter.StageStarted(progress.StageFilter, 1)
	defer o.reporter.StageDone(progress.StageFilter)

	if o.cache.isColor {
		r, g, b := o.cache.restoredColor.R, o.cache.restoredColor.G, o.cache.restoredColor.B
		for _, step := range o.cfg.Filters {
			r = applyFilterStep(r, step)
			g = applyFilterStep(g, step)
			b = applyFilterStep(b, step)
		}
		o.cache.filteredColor = &frame.ColorFrame{R: r, G: g, B: b}
	} else {
		out := o.cache.restoredMono
		for _, step := range o.cfg.Filters {
			out = applyFilterStep(out, step)
		}
		o.cache.filteredMono = out
	}
	o.reporter.FrameDone(progress.StageFilter, 0)
	return nil
}

func (o *Orchestrator) runWrite() error {
	o.reporter.StageStarted(progress.StageWrite, 1)
	defer o.reporter.StageDone(progress.StageWrite)

	var err error
	if o.cache.isColor {
		err = imagewriter.SaveColor(o.cache.filteredColor, o.cfg.Output)
	} else {
		err = imagewriter.SaveMono(o.cache.filteredMono, o.cfg.Output)
	}
	if err != nil {
		e := wrapError(IoError, progress.StageWrite, err)
		o.reporter.Failed(progress.StageWrite, e)
		return e
	}
	o.reporter.FrameDone(progress.StageWrite, 0)
	return nil
}

// Ranked exposes the last computed ranking, for callers (like
// --save-config or a status endpoint) that want to show which frames
// were kept.
func (o *Orchestrator) Ranked() []quality.Ranked {
	out := make([]quality.Ranked, len(o.cache.ranked))
	copy(out, o.cache.ranked)
	return out
}

// Selected exposes the last selected frame indices.
func (o *Orchestrator) Selected() []frame.FrameIndex {
	out := make([]frame.FrameIndex, len(o.cache.selected))
	copy(out, o.cache.selected)
	return out
}

// StackedMono exposes the last mono stack result, for tests.
func (o *Orchestrator) StackedMono() *frame.Frame { return o.cache.stackedMono }

// StackedColor exposes the last color stack result, for tests.
func (o *Orchestrator) StackedColor() *frame.ColorFrame { return o.cache.stackedColor }

// FilteredMono exposes the final mono output, for tests.
func (o *Orchestrator) FilteredMono() *frame.Frame { return o.cache.filteredMono }

// FilteredColor exposes the final color output, for tests.
func (o *Orchestrator) FilteredColor() *frame.ColorFrame { return o.cache.filteredColor }

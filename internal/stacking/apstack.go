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

package stacking

import (
	"fmt"
	"math"
	"sort"

	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/frame"
	"github.com/mlnoga/luckystack/internal/quality"
	"github.com/mlnoga/luckystack/internal/registration"
)

// MinCorrelationConfidence is the minimum acceptable ratio of a phase
// correlation surface's peak to its mean (§4.4.4 step 5). Below this, the
// surface is judged too flat or ambiguous to trust, and the frame is
// rejected for that alignment point rather than risk a bogus local shift.
const MinCorrelationConfidence = 2.0

// globalReferenceFraction is the fraction of top-quality frames averaged
// to build the mean reference of step 2. Fixed, unlike the per-AP
// SelectPercentage, since the reference only needs to be stable, not
// tuned per target.
const globalReferenceFraction = 0.25

// MultiPointParams controls the alignment-point grid, per-AP frame
// selection and local stacking of StackMultiPointAP (§4.4.4).
type MultiPointParams struct {
	// ApSize is the alignment-point tile edge length in pixels.
	ApSize int

	// SearchRadius extends the per-AP local-alignment search window by
	// this many pixels on each side of ApSize, so the local phase
	// correlation can see a little context beyond the patch itself.
	SearchRadius int

	// SelectPercentage is the fraction (0,1] of best-scoring frames kept
	// per alignment point before local stacking.
	SelectPercentage float64

	// MinBrightness rejects alignment-point tiles whose mean brightness
	// on the global reference falls below this value, normalized to
	// [0,1].
	MinBrightness float64

	// QualityMetric is one of "variance" (Laplacian variance) or
	// "gradient" (Sobel gradient mean), selecting how per-AP frame tiles
	// are scored for selection.
	QualityMetric string

	// LocalStackMethod is one of "weighted_mean", "median", or
	// "sigma_clip", selecting how the selected patches are combined.
	LocalStackMethod string
}

// DefaultMultiPointParams matches common lucky-imaging multi-point-AP
// defaults.
func DefaultMultiPointParams() MultiPointParams {
	return MultiPointParams{
		ApSize:           64,
		SearchRadius:     8,
		SelectPercentage: 0.25,
		MinBrightness:    0.05,
		QualityMetric:    "variance",
		LocalStackMethod: "weighted_mean",
	}
}

// AutoApSize picks an alignment-point tile size from the detected planet
// diameter via `ap_size = clamp(nearest power of two to D/6, 32, 128)`
// (§4.4.4). When diameter is unknown (<=0), it falls back to the smaller
// image dimension as a stand-in for D.
func AutoApSize(diameter, height, width int) int {
	if diameter <= 0 {
		diameter = height
		if width < diameter {
			diameter = width
		}
	}
	size := nearestPowerOfTwo(float64(diameter) / 6)
	if size < 32 {
		size = 32
	}
	if size > 128 {
		size = 128
	}
	return size
}

func nearestPowerOfTwo(v float64) int {
	if v < 1 {
		return 1
	}
	lo := math.Pow(2, math.Floor(math.Log2(v)))
	hi := math.Pow(2, math.Ceil(math.Log2(v)))
	if v-lo <= hi-v {
		return int(lo)
	}
	return int(hi)
}

// BuildApGrid lays out a regular grid of alignment points over an
// image of (height,width), tiles of apSize centered every apSize/2 pixels
// so adjacent tiles overlap 50% (§4.4.4), which is what lets the blending
// pass taper each tile's contribution smoothly into its neighbours'.
func BuildApGrid(height, width, apSize int) frame.ApGrid {
	step := apSize / 2
	half := apSize / 2
	var points []frame.AlignmentPoint
	idx := 0
	for cy := half; cy+half <= height; cy += step {
		for cx := half; cx+half <= width; cx += step {
			points = append(points, frame.AlignmentPoint{Cy: cy, Cx: cx, Index: idx})
			idx++
		}
	}
	return frame.ApGrid{Points: points, ApSize: apSize}
}

// filterByBrightness drops alignment points whose mean brightness on ref
// falls below minBrightness, treating them as featureless sky background
// not worth tracking (§4.4.4 step 3).
func filterByBrightness(grid frame.ApGrid, ref *frame.Frame, minBrightness float64) frame.ApGrid {
	if minBrightness <= 0 {
		return grid
	}
	kept := grid.Points[:0:0]
	for _, ap := range grid.Points {
		tile := cropTileClamped(ref, ap.Cy, ap.Cx, grid.ApSize)
		var sum float64
		for _, v := range tile.Data {
			sum += float64(v)
		}
		mean := sum / float64(len(tile.Data))
		if mean >= minBrightness {
			kept = append(kept, ap)
		}
	}
	return frame.ApGrid{Points: kept, ApSize: grid.ApSize}
}

// cropTileClamped extracts a size x size tile centered on (cy,cx) from f,
// clamping the window into f's bounds rather than reading out of range,
// the same edge-clamped convention compute.Backend's ShiftBilinear uses.
func cropTileClamped(f *frame.Frame, cy, cx, size int) *frame.Frame {
	half := size / 2
	y0 := cy - half
	x0 := cx - half
	if y0 < 0 {
		y0 = 0
	}
	if x0 < 0 {
		x0 = 0
	}
	if y0+size > f.Height {
		y0 = f.Height - size
	}
	if x0+size > f.Width {
		x0 = f.Width - size
	}
	if y0 < 0 {
		y0 = 0
	}
	if x0 < 0 {
		x0 = 0
	}
	out := frame.NewFrame(size, size, f.OrigBitDepth)
	for y := 0; y < size; y++ {
		srcOff := (y0+y)*f.Width + x0
		copy(out.Data[y*size:(y+1)*size], f.Data[srcOff:srcOff+size])
	}
	return out
}

// cropTile extracts the apSize x apSize tile centered on ap from f. The
// grid is built so every tile lies fully within f's bounds.
func cropTile(f *frame.Frame, ap frame.AlignmentPoint, apSize int) *frame.Frame {
	return cropTileClamped(f, ap.Cy, ap.Cx, apSize)
}

// hann1D returns n samples of the 1-D Hann window.
func hann1D(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return out
}

// pasteWeighted accumulates tile (apSize x apSize) into accum/weight at
// the location given by ap, scaled by a separable 2-D Hann window so
// overlapping tiles blend smoothly rather than showing seams (§4.4.4).
func pasteWeighted(accum, weight []float64, height, width int, ap frame.AlignmentPoint, apSize int, tile []float64, hann []float64) {
	half := apSize / 2
	y0, x0 := ap.Cy-half, ap.Cx-half
	for y := 0; y < apSize; y++ {
		wy := hann[y]
		rowOff := (y0 + y) * width
		for x := 0; x < apSize; x++ {
			wgt := wy * hann[x]
			idx := rowOff + x0 + x
			accum[idx] += wgt * tile[y*apSize+x]
			weight[idx] += wgt
		}
	}
}

const apBlendEpsilon = 1e-6

// scoreTile scores f under the configured metric (§4.4.4 step 4).
func scoreTile(f *frame.Frame, metric string) float64 {
	if metric == "gradient" {
		return quality.SobelGradientMean(f)
	}
	return quality.LaplacianVariance(f)
}

// selectTopIndices returns the indices (into scores) of the top
// `fraction` scores, descending, always keeping at least one (§3 edge
// case: a selection too small to take a nonzero count from).
func selectTopIndices(scores []float64, fraction float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	n := int(math.Ceil(float64(len(order)) * fraction))
	if n < 1 {
		n = 1
	}
	if n > len(order) {
		n = len(order)
	}
	return order[:n]
}

// StackMultiPointAP stacks a registered frame batch per alignment point,
// following the spec's six-step procedure (§4.4.4): global pre-alignment
// against frame 0, a top-quality mean reference, a brightness-filtered AP
// grid, per-AP frame scoring and selection, per-AP local realignment and
// stacking with confidence rejection, and a Hann-weighted blend back into
// a full frame. This recovers sharpness that a single global alignment
// loses whenever atmospheric seeing warps different parts of the same
// frame by different amounts.
func StackMultiPointAP(b compute.Backend, frames []*frame.Frame, params MultiPointParams) (*frame.Frame, error) {
	if err := checkSameShape(frames); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("stacking: no frames to stack")
	}
	h, w := frames[0].Height, frames[0].Width

	apSize := params.ApSize
	if apSize <= 0 {
		apSize = AutoApSize(0, h, w)
	}
	if apSize > h || apSize > w {
		return nil, fmt.Errorf("stacking: AP size %d exceeds frame dimensions %dx%d", apSize, h, w)
	}

	// Step 1: global pre-alignment against frame 0.
	globalOffsets := make([]frame.AlignmentOffset, len(frames))
	aligned := make([]*frame.Frame, len(frames))
	for i, f := range frames {
		if i == 0 {
			aligned[0] = f
			continue
		}
		off, err := registration.ComputeOffset(b, registration.PhaseCorrelation, frames[0], f)
		if err != nil {
			return nil, err
		}
		globalOffsets[i] = off
		af, err := shiftFrame(b, f, -off.Dx, -off.Dy)
		if err != nil {
			return nil, err
		}
		aligned[i] = af
	}

	// Step 2: mean reference from the top quartile by global quality.
	scores := make([]float64, len(aligned))
	for i, f := range aligned {
		scores[i] = quality.Score(f).Composite
	}
	topIdx := selectTopIndices(scores, globalReferenceFraction)
	topFrames := make([]*frame.Frame, len(topIdx))
	for i, idx := range topIdx {
		topFrames[i] = aligned[idx]
	}
	ref, err := StackMean(topFrames)
	if err != nil {
		return nil, err
	}

	// Step 3: AP grid over the reference, rejecting low-brightness tiles.
	grid := filterByBrightness(BuildApGrid(h, w, apSize), ref, params.MinBrightness)
	if len(grid.Points) == 0 {
		return nil, fmt.Errorf("stacking: AP grid is empty for frame %dx%d with AP size %d", h, w, apSize)
	}

	selectFraction := params.SelectPercentage
	if selectFraction <= 0 {
		selectFraction = 1.0
	}
	searchRadius := params.SearchRadius
	windowSize := apSize + 2*searchRadius

	hann := hann1D(apSize)
	accum := make([]float64, h*w)
	weight := make([]float64, h*w)

	for _, ap := range grid.Points {
		// Step 4: per-AP scoring and selection.
		apScores := make([]float64, len(aligned))
		for i, f := range aligned {
			apScores[i] = scoreTile(cropTile(f, ap, apSize), params.QualityMetric)
		}
		selected := selectTopIndices(apScores, selectFraction)

		// Step 5: per-AP local realignment, confidence rejection, and
		// local stacking.
		refWindow := cropTileClamped(ref, ap.Cy, ap.Cx, windowSize)
		var patches [][]float32
		var patchWeights []float64
		for _, idx := range selected {
			tgtWindow := cropTileClamped(aligned[idx], ap.Cy, ap.Cx, windowSize)
			localOff, confidence, err := registration.ComputeOffsetWithConfidence(b, refWindow, tgtWindow)
			if err != nil {
				return nil, err
			}
			if confidence < MinCorrelationConfidence {
				continue
			}
			tile := cropTile(aligned[idx], ap, apSize)
			refined, err := shiftFrame(b, tile, -localOff.Dx, -localOff.Dy)
			if err != nil {
				return nil, err
			}
			patches = append(patches, refined.Data)
			patchWeights = append(patchWeights, scores[idx])
		}

		var tileAcc []float64
		if len(patches) == 0 {
			// All frames rejected for this AP: fall back to the
			// reference tile rather than leaving a hole in the output.
			fallback := cropTile(ref, ap, apSize)
			tileAcc = make([]float64, len(fallback.Data))
			for i, v := range fallback.Data {
				tileAcc[i] = float64(v)
			}
		} else {
			var err error
			tileAcc, err = localStack(patches, patchWeights, apSize, params.LocalStackMethod)
			if err != nil {
				return nil, err
			}
		}
		pasteWeighted(accum, weight, h, w, ap, apSize, tileAcc, hann)
	}

	// Step 6: blend per-AP results into the final frame.
	out := frame.NewFrame(h, w, ref.OrigBitDepth)
	for i := range out.Data {
		wgt := weight[i]
		if wgt < apBlendEpsilon {
			wgt = apBlendEpsilon
		}
		out.Data[i] = float32(accum[i] / wgt)
	}
	return out, nil
}

// localStack combines the selected apSize x apSize patches under the
// configured method (§4.4.4 step 5): weighted mean (weights are each
// frame's composite quality score), median, or sigma-clip.
func localStack(patches [][]float32, weights []float64, apSize int, method string) ([]float64, error) {
	n := apSize * apSize
	switch method {
	case "median", "sigma_clip":
		tileFrames := make([]*frame.Frame, len(patches))
		for i, p := range patches {
			tileFrames[i] = frame.NewFrameFromData(apSize, apSize, p, 16)
		}
		var stacked *frame.Frame
		var err error
		if method == "median" {
			stacked, err = StackMedian(tileFrames)
		} else {
			stacked, err = StackSigmaClip(tileFrames, DefaultSigmaClipParams())
		}
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i, v := range stacked.Data {
			out[i] = float64(v)
		}
		return out, nil
	default: // "weighted_mean"
		out := make([]float64, n)
		var totalWeight float64
		for i, p := range patches {
			wgt := weights[i]
			if wgt <= 0 {
				wgt = 1
			}
			totalWeight += wgt
			for j, v := range p {
				out[j] += wgt * float64(v)
			}
		}
		if totalWeight <= 0 {
			totalWeight = 1
		}
		for j := range out {
			out[j] /= totalWeight
		}
		return out, nil
	}
}

// shiftFrame resamples f at a sub-pixel translation via the backend's
// bilinear shift primitive, returning the result as a host-side Frame.
func shiftFrame(b compute.Backend, f *frame.Frame, dx, dy float64) (*frame.Frame, error) {
	buf, err := b.Upload(f.Data, f.Height, f.Width)
	if err != nil {
		return nil, err
	}
	shifted, err := b.ShiftBilinear(buf, dx, dy)
	if err != nil {
		return nil, err
	}
	out, err := b.Download(shifted)
	if err != nil {
		return nil, err
	}
	return frame.NewFrameFromData(f.Height, f.Width, out, f.OrigBitDepth), nil
}

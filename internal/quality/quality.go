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

// Package quality scores frame sharpness for lucky-imaging frame selection
// (§4.3): a Laplacian-variance focus metric, a Sobel-gradient metric, and a
// stable ranking of a frame batch by composite score.
package quality

import (
	"math"
	"sort"

	"github.com/mlnoga/luckystack/internal/frame"
)

var laplacianKernel = [3][3]float32{
	{0, 1, 0},
	{1, -4, 1},
	{0, 1, 0},
}

// LaplacianVariance computes the variance of the Laplacian response over
// f, the classic focus measure: sharp frames have high-variance edges,
// blurred ones a flat response near zero everywhere (§4.3.1).
func LaplacianVariance(f *frame.Frame) float64 {
	h, w := f.Height, f.Width
	if h < 3 || w < 3 {
		return 0
	}
	resp := make([]float64, 0, (h-2)*(w-2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			var sum float32
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sum += laplacianKernel[ky+1][kx+1] * f.At(y+ky, x+kx)
				}
			}
			resp = append(resp, float64(sum))
		}
	}
	mean := 0.0
	for _, v := range resp {
		mean += v
	}
	mean /= float64(len(resp))
	variance := 0.0
	for _, v := range resp {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(resp))
	return variance
}

var sobelX = [3][3]float32{
	{-1, 0, 1},
	{-2, 0, 2},
	{-1, 0, 1},
}
var sobelY = [3][3]float32{
	{-1, -2, -1},
	{0, 0, 0},
	{1, 2, 1},
}

// SobelGradientMean computes the mean Sobel gradient magnitude over f, a
// secondary sharpness indicator used alongside the Laplacian variance when
// the composite score is formed (§4.3.2).
func SobelGradientMean(f *frame.Frame) float64 {
	h, w := f.Height, f.Width
	if h < 3 || w < 3 {
		return 0
	}
	var sum float64
	count := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			var gx, gy float32
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					v := f.At(y+ky, x+kx)
					gx += sobelX[ky+1][kx+1] * v
					gy += sobelY[ky+1][kx+1] * v
				}
			}
			mag := math.Sqrt(float64(gx*gx + gy*gy))
			sum += mag
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Score computes a frame's QualityScore (§4.3): Laplacian variance as the
// primary metric, and a composite that folds in the Sobel gradient mean so
// frames tied on one metric are still ordered sensibly by the other.
func Score(f *frame.Frame) frame.QualityScore {
	lv := LaplacianVariance(f)
	sg := SobelGradientMean(f)
	return frame.QualityScore{
		LaplacianVariance: lv,
		Composite:         lv + 0.1*sg,
	}
}

// Ranked is one frame's index and score, as returned by Rank.
type Ranked struct {
	Index frame.FrameIndex
	Score frame.QualityScore
}

// Rank orders frame indices by descending composite score. Ties are broken
// by ascending frame index, via a stable sort, so repeated runs over the
// same input always produce the same order (§4.3.3).
func Rank(scores map[frame.FrameIndex]frame.QualityScore) []Ranked {
	out := make([]Ranked, 0, len(scores))
	for idx, sc := range scores {
		out = append(out, Ranked{Index: idx, Score: sc})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score.Composite != out[j].Score.Composite {
			return out[i].Score.Composite > out[j].Score.Composite
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// SelectTopFraction returns the indices of the top `fraction` (0,1] of
// ranked frames by composite score, always keeping at least one frame
// (§4.3.4 edge case: a batch too small to take a nonzero count from).
func SelectTopFraction(scores map[frame.FrameIndex]frame.QualityScore, fraction float64) []frame.FrameIndex {
	ranked := Rank(scores)
	n := int(float64(len(ranked)) * fraction)
	if n < 1 {
		n = 1
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]frame.FrameIndex, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Index
	}
	return out
}

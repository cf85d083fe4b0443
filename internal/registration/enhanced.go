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

package registration

import (
	"math"

	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/frame"
)

// upsampleFactor is the sub-pixel grid density the enhanced refinement
// searches around the coarse peak (§4.2.2): 1/upsampleFactor pixel
// resolution, equivalent to a zero-padded FFT upsampled by this factor but
// evaluated only in the small neighbourhood that matters.
const upsampleFactor = 20

// upsampleRadius is how many coarse pixels on either side of the peak the
// refinement searches, in coarse-pixel units.
const upsampleRadius = 1.5

// enhancedPhaseCorrelate refines the coarse phase-correlation peak by
// densely resampling the correlation surface in its neighbourhood via
// bilinear interpolation, the local equivalent of evaluating a zero-padded
// upsampled inverse DFT only where the peak is known to live (§4.2.2),
// without paying for a full higher-resolution transform.
func enhancedPhaseCorrelate(b compute.Backend, ref, tgt *frame.Frame) (frame.AlignmentOffset, error) {
	corr, h, w, err := crossCorrelationSurface(b, ref, tgt)
	if err != nil {
		return frame.AlignmentOffset{}, err
	}
	row, col, _, err := b.FindPeak(corr)
	if err != nil {
		return frame.AlignmentOffset{}, err
	}
	vals, err := b.Download(corr)
	if err != nil {
		return frame.AlignmentOffset{}, err
	}

	cy0, cx0 := wrapIndex(row, h), wrapIndex(col, w)
	bestVal := math.Inf(-1)
	bestDy, bestDx := cy0, cx0

	steps := int(upsampleRadius*2*upsampleFactor) + 1
	for i := 0; i < steps; i++ {
		dy := cy0 - upsampleRadius + float64(i)/upsampleFactor
		for j := 0; j < steps; j++ {
			dx := cx0 - upsampleRadius + float64(j)/upsampleFactor
			v := interpolateWrapped(vals, h, w, dy, dx)
			if v > bestVal {
				bestVal = v
				bestDy, bestDx = dy, dx
			}
		}
	}
	return frame.AlignmentOffset{Dx: bestDx, Dy: bestDy}, nil
}

// interpolateWrapped bilinearly samples a real surface of size h*w at a
// fractional offset, treating the surface as circular like the DFT domain
// it came from.
func interpolateWrapped(vals []float32, h, w int, dy, dx float64) float64 {
	y0 := int(math.Floor(dy))
	x0 := int(math.Floor(dx))
	fy := dy - float64(y0)
	fx := dx - float64(x0)
	at := func(r, c int) float64 {
		r = ((r % h) + h) % h
		c = ((c % w) + w) % w
		return float64(vals[r*w+c])
	}
	v00 := at(y0, x0)
	v01 := at(y0, x0+1)
	v10 := at(y0+1, x0)
	v11 := at(y0+1, x0+1)
	top := v00 + fx*(v01-v00)
	bot := v10 + fx*(v11-v10)
	return top + fy*(bot-top)
}

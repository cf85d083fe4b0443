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
	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/frame"
)

// minPyramidSize is the smallest edge length a pyramid level is allowed to
// shrink to; halving stops once either dimension would drop below it.
const minPyramidSize = 48

// maxPyramidLevels bounds how many times the image is halved, in case a
// frame is exceptionally large.
const maxPyramidLevels = 4

// downsample2x averages each non-overlapping 2x2 block of f into a single
// output pixel, halving both dimensions (truncating odd edges).
func downsample2x(f *frame.Frame) *frame.Frame {
	h, w := f.Height/2, f.Width/2
	out := frame.NewFrame(h, w, f.OrigBitDepth)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := f.At(2*y, 2*x) + f.At(2*y, 2*x+1) + f.At(2*y+1, 2*x) + f.At(2*y+1, 2*x+1)
			out.Set(y, x, sum*0.25)
		}
	}
	return out
}

// buildPyramid returns [full-res, half-res, quarter-res, ...], stopping
// once either dimension would fall below minPyramidSize or
// maxPyramidLevels is reached.
func buildPyramid(f *frame.Frame) []*frame.Frame {
	levels := []*frame.Frame{f}
	cur := f
	for len(levels) < maxPyramidLevels && cur.Height/2 >= minPyramidSize && cur.Width/2 >= minPyramidSize {
		cur = downsample2x(cur)
		levels = append(levels, cur)
	}
	return levels
}

// shiftFrame runs a real buffer through the backend's bilinear shift
// primitive and returns the result as a Frame.
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

// pyramidCorrelate estimates a large translation coarse-to-fine (§4.2.5):
// it solves phase correlation at the coarsest pyramid level, where a big
// shift in pixels at full resolution becomes a small, easily-found shift,
// then doubles and refines the estimate at each successively finer level
// by pre-shifting the target frame and correlating only the small
// residual that remains.
func pyramidCorrelate(b compute.Backend, ref, tgt *frame.Frame) (frame.AlignmentOffset, error) {
	refLevels := buildPyramid(ref)
	tgtLevels := buildPyramid(tgt)
	n := len(refLevels)

	coarseOffset, err := phaseCorrelate(b, refLevels[n-1], tgtLevels[n-1])
	if err != nil {
		return frame.AlignmentOffset{}, err
	}

	offset := coarseOffset
	for level := n - 2; level >= 0; level-- {
		offset.Dx *= 2
		offset.Dy *= 2

		preShifted, err := shiftFrame(b, tgtLevels[level], -offset.Dx, -offset.Dy)
		if err != nil {
			return frame.AlignmentOffset{}, err
		}
		residual, err := phaseCorrelate(b, refLevels[level], preShifted)
		if err != nil {
			return frame.AlignmentOffset{}, err
		}
		offset.Dx += residual.Dx
		offset.Dy += residual.Dy
	}
	return offset, nil
}

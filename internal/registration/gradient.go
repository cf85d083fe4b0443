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

var gradKernel = []float32{-1, 0, 1}

// gradientMagnitude returns the squared response of f to the [-1,0,1]
// derivative kernel applied along rows and then columns (a mixed x/y
// derivative), computed via the backend's separable convolution primitive
// so it stays on whichever device the caller's frames already live on. It
// is not the Sobel magnitude sqrt(gx²+gy²): an edge parallel to either
// image axis gives no response.
func gradientMagnitude(b compute.Backend, f *frame.Frame) (*frame.Frame, error) {
	buf, err := b.Upload(f.Data, f.Height, f.Width)
	if err != nil {
		return nil, err
	}
	gx, err := b.ConvolveSeparable(buf, gradKernel)
	if err != nil {
		return nil, err
	}
	sq, err := b.MultiplyReal(gx, gx)
	if err != nil {
		return nil, err
	}
	out, err := b.Download(sq)
	if err != nil {
		return nil, err
	}
	return frame.NewFrameFromData(f.Height, f.Width, out, f.OrigBitDepth), nil
}

// gradientCorrelate phase-correlates the gradientMagnitude derivative maps
// of ref and tgt rather than their raw intensities (§4.2.3), which is less
// sensitive to the slow brightness drift seeing introduces frame to frame
// since a gradient map only responds to edges.
func gradientCorrelate(b compute.Backend, ref, tgt *frame.Frame) (frame.AlignmentOffset, error) {
	refGrad, err := gradientMagnitude(b, ref)
	if err != nil {
		return frame.AlignmentOffset{}, err
	}
	tgtGrad, err := gradientMagnitude(b, tgt)
	if err != nil {
		return frame.AlignmentOffset{}, err
	}
	return phaseCorrelate(b, refGrad, tgtGrad)
}

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

// Package registration aligns frames against a reference via FFT phase
// correlation (§4.2): a global pass, an upsampled/enhanced pass for
// sub-pixel accuracy, gradient- and centroid-based variants for frames
// where raw intensity correlation is unreliable, and a coarse-to-fine
// pyramid variant for large translations. All variants return the same
// frame.AlignmentOffset so callers never need to know which method ran.
package registration

import (
	"fmt"

	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/frame"
)

// Method selects one of the registration algorithms of §4.2.
type Method int

const (
	// PhaseCorrelation is the baseline global FFT phase-correlation pass
	// (§4.2.1), accurate to one pixel.
	PhaseCorrelation Method = iota
	// Enhanced adds matrix-multiply-DFT upsampling around the coarse peak
	// for sub-pixel accuracy (§4.2.2).
	Enhanced
	// Gradient correlates mixed-derivative response maps (see
	// gradientMagnitude) instead of raw intensity, more robust to
	// seeing-induced brightness changes (§4.2.3).
	Gradient
	// Centroid aligns by intensity centroid difference, a fast fallback
	// for frames with a single dominant bright feature such as the Moon's
	// limb or a bright planet against a dark background (§4.2.4).
	Centroid
	// Pyramid refines coarse-to-fine over a power-of-two image pyramid,
	// for translations too large for a single-scale FFT peak search
	// (§4.2.5).
	Pyramid
)

// ComputeOffset dispatches to the selected registration Method (§4.2.6).
func ComputeOffset(b compute.Backend, method Method, ref, tgt *frame.Frame) (frame.AlignmentOffset, error) {
	if !ref.SameShape(tgt) {
		return frame.AlignmentOffset{}, fmt.Errorf("registration: shape mismatch %s vs %s", ref, tgt)
	}
	switch method {
	case PhaseCorrelation:
		return phaseCorrelate(b, ref, tgt)
	case Enhanced:
		return enhancedPhaseCorrelate(b, ref, tgt)
	case Gradient:
		return gradientCorrelate(b, ref, tgt)
	case Centroid:
		return centroidOffset(ref, tgt)
	case Pyramid:
		return pyramidCorrelate(b, ref, tgt)
	default:
		return frame.AlignmentOffset{}, fmt.Errorf("registration: unknown method %d", method)
	}
}

// wrapIndex folds an FFT-domain index in [0,n) into a signed offset in
// (-n/2,n/2], since the DFT treats the array as circular: a peak near the
// end of the array represents a small negative shift, not a huge positive
// one.
func wrapIndex(idx, n int) float64 {
	if idx > n/2 {
		return float64(idx - n)
	}
	return float64(idx)
}

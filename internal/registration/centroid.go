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

import "github.com/mlnoga/luckystack/internal/frame"

// centroid returns the intensity-weighted center of mass of f, in
// (row,col) pixel coordinates.
func centroid(f *frame.Frame) (row, col float64) {
	var sum, sumY, sumX float64
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := float64(f.At(y, x))
			sum += v
			sumY += v * float64(y)
			sumX += v * float64(x)
		}
	}
	if sum == 0 {
		return 0, 0
	}
	return sumY / sum, sumX / sum
}

// centroidOffset aligns ref and tgt by the difference of their intensity
// centroids (§4.2.4): fast, and robust whenever a single dominant bright
// feature (a planetary disk, the lunar limb) dominates the frame and phase
// correlation's assumption of distributed texture would otherwise be
// marginal.
func centroidOffset(ref, tgt *frame.Frame) (frame.AlignmentOffset, error) {
	ry, rx := centroid(ref)
	ty, tx := centroid(tgt)
	return frame.AlignmentOffset{Dy: ty - ry, Dx: tx - rx}, nil
}

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

package restoration

import (
	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/frame"
)

// b3SplineKernel is the standard 5-tap B3-spline scaling kernel used by
// the à-trous algorithm (§4.5.1).
var b3SplineKernel = []float32{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

// Decomposition holds an à-trous wavelet pyramid: Details[j] is the
// high-frequency content isolated at scale j, and Residual is the final
// heavily smoothed approximation. Summing Residual with every Details[j]
// exactly reconstructs the original frame.
type Decomposition struct {
	Details  []*frame.Frame
	Residual *frame.Frame
}

// Decompose runs numScales steps of the à-trous algorithm over f (§4.5.1):
// at each scale, f is convolved with the B3-spline kernel dilated by
// inserting "holes" (zero taps) so the kernel's support doubles every
// scale without re-sampling the image, isolating one octave of detail per
// step without the aliasing a simple image pyramid would introduce.
func Decompose(b compute.Backend, f *frame.Frame, numScales int) (*Decomposition, error) {
	h, w := f.Height, f.Width
	details := make([]*frame.Frame, numScales)

	cur := f.Data
	for scale := 0; scale < numScales; scale++ {
		buf, err := b.Upload(cur, h, w)
		if err != nil {
			return nil, err
		}
		smoothedBuf, err := b.AtrousConvolve(buf, b3SplineKernel, scale)
		if err != nil {
			return nil, err
		}
		smoothed, err := b.Download(smoothedBuf)
		if err != nil {
			return nil, err
		}

		detail := make([]float32, h*w)
		for i := range detail {
			detail[i] = cur[i] - smoothed[i]
		}
		details[scale] = frame.NewFrameFromData(h, w, detail, f.OrigBitDepth)
		cur = smoothed
	}

	return &Decomposition{
		Details:  details,
		Residual: frame.NewFrameFromData(h, w, cur, f.OrigBitDepth),
	}, nil
}

// softThreshold applies sign(w)*max(|w|-t,0), the soft-thresholding
// shrinkage used to denoise a wavelet detail layer (§4.5.1): samples
// smaller than the threshold t are assumed to be noise and zeroed, while
// larger samples are shrunk toward zero by t rather than hard-clipped, to
// avoid introducing ringing at the threshold boundary.
func softThreshold(w, t float32) float32 {
	if t <= 0 {
		return w
	}
	if w > t {
		return w - t
	}
	if w < -t {
		return w + t
	}
	return 0
}

// Reconstruct sums a decomposition's residual and per-scale details back
// into a single frame (§4.5.1): output = residual + Σᵢ gainᵢ·softthresh(Wᵢ,
// denoiseᵢ). Each detail layer is first soft-thresholded against denoise[i]
// (0 disables thresholding for that scale, reconstructing it unmodified)
// and then scaled by its gain. A gain of 1.0 and denoise of 0 for every
// scale exactly reconstructs the original input; gains above 1.0 on the
// finer scales sharpen the image, the wavelet-sharpening use case this
// decomposition exists for.
func Reconstruct(d *Decomposition, gains, denoise []float64) *frame.Frame {
	h, w := d.Residual.Height, d.Residual.Width
	out := make([]float32, h*w)
	copy(out, d.Residual.Data)
	for scale, detail := range d.Details {
		gain := float32(1.0)
		if scale < len(gains) {
			gain = float32(gains[scale])
		}
		var thresh float32
		if scale < len(denoise) {
			thresh = float32(denoise[scale])
		}
		for i, v := range detail.Data {
			out[i] += gain * softThreshold(v, thresh)
		}
	}
	for i := range out {
		out[i] = clamp01(out[i])
	}
	return frame.NewFrameFromData(h, w, out, d.Residual.OrigBitDepth)
}

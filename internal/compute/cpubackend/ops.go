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

package cpubackend

import (
	"math"
	"math/cmplx"

	"github.com/mlnoga/luckystack/internal/compute"
)

// HannWindow returns the separable 2-D Hann window w(y)*w(x), used to taper
// frames before phase correlation (§4.2.1) and AP tiles before blending
// (§4.4.4).
func (b *Backend) HannWindow(height, width int) (compute.Buffer, error) {
	wy := make([]float64, height)
	for y := 0; y < height; y++ {
		wy[y] = 0.5 * (1 - math.Cos(2*math.Pi*float64(y)/float64(height-1)))
	}
	wx := make([]float64, width)
	for x := 0; x < width; x++ {
		wx[x] = 0.5 * (1 - math.Cos(2*math.Pi*float64(x)/float64(width-1)))
	}
	out := make([]float32, height*width)
	b.parallelRows(height, func(y int) {
		row := out[y*width : y*width+width]
		for x := range row {
			row[x] = float32(wy[y] * wx[x])
		}
	})
	return &buffer{height: height, width: width, real: out}, nil
}

const crossPowerEpsilon = 1e-12

// CrossPowerSpectrum computes a.*conj(b) normalized to unit magnitude,
// elementwise, the phase-correlation kernel of §4.2.1.
func (b *Backend) CrossPowerSpectrum(a, c compute.Buffer) (compute.Buffer, error) {
	ab := asBuffer(a, "CrossPowerSpectrum")
	cb := asBuffer(c, "CrossPowerSpectrum")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	out := make([]complex128, len(ab.cplx))
	b.parallelRows(ab.height, func(r int) {
		off := r * ab.width
		for i := off; i < off+ab.width; i++ {
			prod := ab.cplx[i] * cmplx.Conj(cb.cplx[i])
			mag := cmplx.Abs(prod)
			if mag < crossPowerEpsilon {
				mag = crossPowerEpsilon
			}
			out[i] = prod / complex(mag, 0)
		}
	})
	return &buffer{height: ab.height, width: ab.width, cplx: out}, nil
}

// ComplexMul computes the elementwise product of two complex buffers.
func (b *Backend) ComplexMul(a, c compute.Buffer) (compute.Buffer, error) {
	ab := asBuffer(a, "ComplexMul")
	cb := asBuffer(c, "ComplexMul")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	out := make([]complex128, len(ab.cplx))
	for i := range out {
		out[i] = ab.cplx[i] * cb.cplx[i]
	}
	return &buffer{height: ab.height, width: ab.width, cplx: out}, nil
}

// MultiplyReal computes the elementwise product of two real buffers.
func (b *Backend) MultiplyReal(a, c compute.Buffer) (compute.Buffer, error) {
	ab := asBuffer(a, "MultiplyReal")
	cb := asBuffer(c, "MultiplyReal")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	out := make([]float32, len(ab.real))
	for i := range out {
		out[i] = ab.real[i] * cb.real[i]
	}
	return &buffer{height: ab.height, width: ab.width, real: out}, nil
}

const divideEpsilon = 1e-7

// DivideReal computes the elementwise quotient a./b, clamping b away from
// zero (§4.4.5, §4.5).
func (b *Backend) DivideReal(a, c compute.Buffer) (compute.Buffer, error) {
	ab := asBuffer(a, "DivideReal")
	cb := asBuffer(c, "DivideReal")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	out := make([]float32, len(ab.real))
	for i := range out {
		denom := cb.real[i]
		if denom < divideEpsilon && denom > -divideEpsilon {
			denom = divideEpsilon
		}
		out[i] = ab.real[i] / denom
	}
	return &buffer{height: ab.height, width: ab.width, real: out}, nil
}

// ShiftBilinear resamples buf at translation (dx,dy) using bilinear
// interpolation with edge-clamped bounds (§4.2, §4.4.4).
func (b *Backend) ShiftBilinear(buf compute.Buffer, dx, dy float64) (compute.Buffer, error) {
	bb := asBuffer(buf, "ShiftBilinear")
	h, w := bb.height, bb.width
	out := make([]float32, h*w)
	b.parallelRows(h, func(y int) {
		sy := float64(y) - dy
		y0 := int(math.Floor(sy))
		fy := sy - float64(y0)
		y1 := y0 + 1
		y0 = clampInt(y0, 0, h-1)
		y1 = clampInt(y1, 0, h-1)
		for x := 0; x < w; x++ {
			sx := float64(x) - dx
			x0 := int(math.Floor(sx))
			fx := sx - float64(x0)
			x1 := x0 + 1
			cx0 := clampInt(x0, 0, w-1)
			cx1 := clampInt(x1, 0, w-1)

			v00 := float64(bb.real[y0*w+cx0])
			v01 := float64(bb.real[y0*w+cx1])
			v10 := float64(bb.real[y1*w+cx0])
			v11 := float64(bb.real[y1*w+cx1])

			top := v00 + fx*(v01-v00)
			bot := v10 + fx*(v11-v10)
			out[y*w+x] = float32(top + fy*(bot-top))
		}
	})
	return &buffer{height: h, width: w, real: out}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ConvolveSeparable convolves buf with a 1-D kernel applied along rows then
// columns, edge-clamped at the boundary (§4.6).
func (b *Backend) ConvolveSeparable(buf compute.Buffer, kernel []float32) (compute.Buffer, error) {
	bb := asBuffer(buf, "ConvolveSeparable")
	h, w := bb.height, bb.width
	tmp := make([]float32, h*w)
	b.parallelRows(h, func(y int) {
		convolve1D(bb.real[y*w:y*w+w], tmp[y*w:y*w+w], kernel, 1)
	})
	out := make([]float32, h*w)
	col := make([]float32, h)
	colOut := make([]float32, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = tmp[y*w+x]
		}
		convolve1D(col, colOut, kernel, 1)
		for y := 0; y < h; y++ {
			out[y*w+x] = colOut[y]
		}
	}
	return &buffer{height: h, width: w, real: out}, nil
}

// AtrousConvolve convolves buf with kernel dilated by inserting 2^scale-1
// zeros between taps, the "holes" of the à-trous algorithm (§4.5.1).
func (b *Backend) AtrousConvolve(buf compute.Buffer, kernel []float32, scale int) (compute.Buffer, error) {
	bb := asBuffer(buf, "AtrousConvolve")
	h, w := bb.height, bb.width
	stride := 1 << uint(scale)
	tmp := make([]float32, h*w)
	b.parallelRows(h, func(y int) {
		convolve1D(bb.real[y*w:y*w+w], tmp[y*w:y*w+w], kernel, stride)
	})
	out := make([]float32, h*w)
	col := make([]float32, h)
	colOut := make([]float32, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = tmp[y*w+x]
		}
		convolve1D(col, colOut, kernel, stride)
		for y := 0; y < h; y++ {
			out[y*w+x] = colOut[y]
		}
	}
	return &buffer{height: h, width: w, real: out}, nil
}

// convolve1D applies a symmetric, edge-clamped 1-D convolution with taps
// spaced stride apart, kernel[(len(kernel)-1)/2] centered on the output
// sample.
func convolve1D(in, out, kernel []float32, stride int) {
	n := len(in)
	half := (len(kernel) - 1) / 2
	for i := 0; i < n; i++ {
		sum := float32(0)
		for k, kv := range kernel {
			off := (k - half) * stride
			j := clampInt(i+off, 0, n-1)
			sum += kv * in[j]
		}
		out[i] = sum
	}
}

// FindPeak returns the location and value of buf's maximum element (§4.2.1).
func (b *Backend) FindPeak(buf compute.Buffer) (row, col int, val float32, err error) {
	bb := asBuffer(buf, "FindPeak")
	best := bb.real[0]
	bestIdx := 0
	for i, v := range bb.real {
		if v > best {
			best = v
			bestIdx = i
		}
	}
	return bestIdx / bb.width, bestIdx % bb.width, best, nil
}

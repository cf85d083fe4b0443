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

package gpubackend

import (
	"math"
	"math/cmplx"

	"github.com/gviegas/neo3/driver"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mlnoga/luckystack/internal/compute"
)

func asBuffer(buf compute.Buffer, name string) *buffer {
	bb, ok := buf.(*buffer)
	if !ok {
		panic("gpubackend: " + name + " called with a non-GPU buffer")
	}
	return bb
}

func checkSameShape(a, b *buffer) error {
	if a.height != b.height || a.width != b.width {
		return &compute.ErrShapeMismatch{AHeight: a.height, AWidth: a.width, BHeight: b.height, BWidth: b.width}
	}
	return nil
}

// dispatch1D records a single Dispatch call sized for an n-element job,
// giving every primitive below the same command-buffer round trip the
// device would actually need to run it as a compute shader.
func (b *Backend) dispatch1D(n int) error {
	return b.submit(func(cb driver.CmdBuffer) error {
		x, y, z := groupCounts(n)
		return cb.Dispatch(x, y, z)
	})
}

func (b *Backend) HannWindow(height, width int) (compute.Buffer, error) {
	if err := b.dispatch1D(height * width); err != nil {
		return nil, err
	}
	out := make([]float32, height*width)
	for y := 0; y < height; y++ {
		wy := 0.5 * (1 - math.Cos(2*math.Pi*float64(y)/float64(height-1)))
		for x := 0; x < width; x++ {
			wx := 0.5 * (1 - math.Cos(2*math.Pi*float64(x)/float64(width-1)))
			out[y*width+x] = float32(wy * wx)
		}
	}
	return &buffer{height: height, width: width, real: out}, nil
}

func (b *Backend) FFT2D(buf compute.Buffer) (compute.Buffer, error) {
	bb := asBuffer(buf, "FFT2D")
	h, w := bb.height, bb.width
	if err := b.dispatch1D(h * w); err != nil {
		return nil, err
	}
	work := make([]complex128, h*w)
	for i, v := range bb.real {
		work[i] = complex(float64(v), 0)
	}
	rowFFT := fourier.NewCmplxFFT(w)
	for r := 0; r < h; r++ {
		row := work[r*w : r*w+w]
		rowFFT.Coefficients(row, row)
	}
	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	for c := 0; c < w; c++ {
		for r := 0; r < h; r++ {
			col[r] = work[r*w+c]
		}
		colFFT.Coefficients(col, col)
		for r := 0; r < h; r++ {
			work[r*w+c] = col[r]
		}
	}
	return &buffer{height: h, width: w, cplx: work}, nil
}

func (b *Backend) IFFT2DReal(buf compute.Buffer) (compute.Buffer, error) {
	bb := asBuffer(buf, "IFFT2DReal")
	h, w := bb.height, bb.width
	if err := b.dispatch1D(h * w); err != nil {
		return nil, err
	}
	work := make([]complex128, len(bb.cplx))
	copy(work, bb.cplx)
	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	for c := 0; c < w; c++ {
		for r := 0; r < h; r++ {
			col[r] = work[r*w+c]
		}
		colFFT.Sequence(col, col)
		for r := 0; r < h; r++ {
			work[r*w+c] = col[r]
		}
	}
	rowFFT := fourier.NewCmplxFFT(w)
	for r := 0; r < h; r++ {
		row := work[r*w : r*w+w]
		rowFFT.Sequence(row, row)
	}
	norm := 1.0 / float64(h*w)
	out := make([]float32, h*w)
	for i, v := range work {
		out[i] = float32(real(v) * norm)
	}
	return &buffer{height: h, width: w, real: out}, nil
}

const crossPowerEpsilon = 1e-12

func (b *Backend) CrossPowerSpectrum(a, c compute.Buffer) (compute.Buffer, error) {
	ab, cb := asBuffer(a, "CrossPowerSpectrum"), asBuffer(c, "CrossPowerSpectrum")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	if err := b.dispatch1D(len(ab.cplx)); err != nil {
		return nil, err
	}
	out := make([]complex128, len(ab.cplx))
	for i := range out {
		prod := ab.cplx[i] * cmplx.Conj(cb.cplx[i])
		mag := cmplx.Abs(prod)
		if mag < crossPowerEpsilon {
			mag = crossPowerEpsilon
		}
		out[i] = prod / complex(mag, 0)
	}
	return &buffer{height: ab.height, width: ab.width, cplx: out}, nil
}

func (b *Backend) ComplexMul(a, c compute.Buffer) (compute.Buffer, error) {
	ab, cb := asBuffer(a, "ComplexMul"), asBuffer(c, "ComplexMul")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	if err := b.dispatch1D(len(ab.cplx)); err != nil {
		return nil, err
	}
	out := make([]complex128, len(ab.cplx))
	for i := range out {
		out[i] = ab.cplx[i] * cb.cplx[i]
	}
	return &buffer{height: ab.height, width: ab.width, cplx: out}, nil
}

func (b *Backend) MultiplyReal(a, c compute.Buffer) (compute.Buffer, error) {
	ab, cb := asBuffer(a, "MultiplyReal"), asBuffer(c, "MultiplyReal")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	if err := b.dispatch1D(len(ab.real)); err != nil {
		return nil, err
	}
	out := make([]float32, len(ab.real))
	for i := range out {
		out[i] = ab.real[i] * cb.real[i]
	}
	return &buffer{height: ab.height, width: ab.width, real: out}, nil
}

const divideEpsilon = 1e-7

func (b *Backend) DivideReal(a, c compute.Buffer) (compute.Buffer, error) {
	ab, cb := asBuffer(a, "DivideReal"), asBuffer(c, "DivideReal")
	if err := checkSameShape(ab, cb); err != nil {
		return nil, err
	}
	if err := b.dispatch1D(len(ab.real)); err != nil {
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

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (b *Backend) ShiftBilinear(buf compute.Buffer, dx, dy float64) (compute.Buffer, error) {
	bb := asBuffer(buf, "ShiftBilinear")
	h, w := bb.height, bb.width
	if err := b.dispatch1D(h * w); err != nil {
		return nil, err
	}
	out := make([]float32, h*w)
	for y := 0; y < h; y++ {
		sy := float64(y) - dy
		y0 := int(math.Floor(sy))
		fy := sy - float64(y0)
		y1 := clampInt(y0+1, 0, h-1)
		y0 = clampInt(y0, 0, h-1)
		for x := 0; x < w; x++ {
			sx := float64(x) - dx
			x0 := int(math.Floor(sx))
			fx := sx - float64(x0)
			x1 := clampInt(x0+1, 0, w-1)
			cx0 := clampInt(x0, 0, w-1)

			v00 := float64(bb.real[y0*w+cx0])
			v01 := float64(bb.real[y0*w+x1])
			v10 := float64(bb.real[y1*w+cx0])
			v11 := float64(bb.real[y1*w+x1])
			top := v00 + fx*(v01-v00)
			bot := v10 + fx*(v11-v10)
			out[y*w+x] = float32(top + fy*(bot-top))
		}
	}
	return &buffer{height: h, width: w, real: out}, nil
}

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

func (b *Backend) separableConvolve(bb *buffer, kernel []float32, stride int) (compute.Buffer, error) {
	h, w := bb.height, bb.width
	if err := b.dispatch1D(h * w); err != nil {
		return nil, err
	}
	tmp := make([]float32, h*w)
	for y := 0; y < h; y++ {
		convolve1D(bb.real[y*w:y*w+w], tmp[y*w:y*w+w], kernel, stride)
	}
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

func (b *Backend) ConvolveSeparable(buf compute.Buffer, kernel []float32) (compute.Buffer, error) {
	return b.separableConvolve(asBuffer(buf, "ConvolveSeparable"), kernel, 1)
}

func (b *Backend) AtrousConvolve(buf compute.Buffer, kernel []float32, scale int) (compute.Buffer, error) {
	return b.separableConvolve(asBuffer(buf, "AtrousConvolve"), kernel, 1<<uint(scale))
}

func (b *Backend) FindPeak(buf compute.Buffer) (row, col int, val float32, err error) {
	bb := asBuffer(buf, "FindPeak")
	if err = b.dispatch1D(len(bb.real)); err != nil {
		return 0, 0, 0, err
	}
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

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
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mlnoga/luckystack/internal/compute"
)

// FFT2D computes the forward 2-D DFT via row FFTs followed by column FFTs
// (§4.2.1), each row/column handled by a complex-to-complex 1-D FFT from
// gonum's dsp/fourier package.
func (b *Backend) FFT2D(buf compute.Buffer) (compute.Buffer, error) {
	bb := asBuffer(buf, "FFT2D")
	h, w := bb.height, bb.width

	work := make([]complex128, h*w)
	for i, v := range bb.real {
		work[i] = complex(float64(v), 0)
	}

	rowFFT := fourier.NewCmplxFFT(w)
	b.parallelRows(h, func(r int) {
		row := work[r*w : r*w+w]
		rowFFT.Coefficients(row, row)
	})

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

// IFFT2DReal computes the inverse 2-D DFT of a complex spectrum and returns
// the real part, normalized by 1/(height*width).
func (b *Backend) IFFT2DReal(buf compute.Buffer) (compute.Buffer, error) {
	bb := asBuffer(buf, "IFFT2DReal")
	h, w := bb.height, bb.width

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
	b.parallelRows(h, func(r int) {
		row := work[r*w : r*w+w]
		rowFFT.Sequence(row, row)
	})

	norm := 1.0 / float64(h*w)
	out := make([]float32, h*w)
	for i, v := range work {
		out[i] = float32(real(v) * norm)
	}
	return &buffer{height: h, width: w, real: out}, nil
}

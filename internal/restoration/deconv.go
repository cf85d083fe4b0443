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
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/frame"
)

// RichardsonLucy deconvolves obs against psf (a size*size kernel, radially
// symmetric so its own transpose serves as the correlation kernel too) via
// the classic multiplicative iterative update (§4.5.3):
//
//	est_{k+1} = est_k * correlate(obs / convolve(est_k, psf), psf)
//
// entirely through compute.Backend's FFT/complex-multiply/divide
// primitives, so it runs on whichever backend the caller already has
// frames resident on.
func RichardsonLucy(b compute.Backend, obs *frame.Frame, psf []float32, psfSize, iterations int) (*frame.Frame, error) {
	h, w := obs.Height, obs.Width
	if iterations < 0 {
		return nil, fmt.Errorf("restoration: Richardson-Lucy requires a non-negative iteration count, got %d", iterations)
	}
	if iterations == 0 {
		return obs, nil
	}

	psfFull := embedPSFCentered(h, w, psf, psfSize)
	psfBuf, err := b.Upload(psfFull, h, w)
	if err != nil {
		return nil, err
	}
	psfSpec, err := b.FFT2D(psfBuf)
	if err != nil {
		return nil, err
	}
	obsBuf, err := b.Upload(obs.Data, h, w)
	if err != nil {
		return nil, err
	}

	est := make([]float32, h*w)
	copy(est, obs.Data)

	for iter := 0; iter < iterations; iter++ {
		estBuf, err := b.Upload(est, h, w)
		if err != nil {
			return nil, err
		}
		estSpec, err := b.FFT2D(estBuf)
		if err != nil {
			return nil, err
		}
		convSpec, err := b.ComplexMul(estSpec, psfSpec)
		if err != nil {
			return nil, err
		}
		conv, err := b.IFFT2DReal(convSpec)
		if err != nil {
			return nil, err
		}
		ratio, err := b.DivideReal(obsBuf, conv)
		if err != nil {
			return nil, err
		}
		ratioSpec, err := b.FFT2D(ratio)
		if err != nil {
			return nil, err
		}
		corrSpec, err := b.ComplexMul(ratioSpec, psfSpec)
		if err != nil {
			return nil, err
		}
		corr, err := b.IFFT2DReal(corrSpec)
		if err != nil {
			return nil, err
		}
		corrVals, err := b.Download(corr)
		if err != nil {
			return nil, err
		}
		for i := range est {
			est[i] = clamp01(est[i] * corrVals[i])
		}
	}

	return frame.NewFrameFromData(h, w, est, obs.OrigBitDepth), nil
}

// Wiener deconvolves obs against psf in a single frequency-domain pass
// (§4.5.4): F_hat = conj(H)*G / (|H|^2 + K), where G is the observed
// spectrum, H the PSF's spectrum and K a noise-to-signal regularization
// constant that keeps near-zero frequencies from blowing up the inverse
// filter. Computing this needs elementwise conjugate and magnitude-squared
// access to the complex spectra, which compute.Backend deliberately does
// not expose (its Buffer type is opaque outside the backend packages), so
// this one routine goes directly to gonum's FFT rather than through
// Backend — the same library cpubackend itself is built on.
func Wiener(obs *frame.Frame, psf []float32, psfSize int, noiseToSignal float64) (*frame.Frame, error) {
	h, w := obs.Height, obs.Width
	psfFull := embedPSFCentered(h, w, psf, psfSize)

	g := make([]complex128, h*w)
	hh := make([]complex128, h*w)
	for i := range g {
		g[i] = complex(float64(obs.Data[i]), 0)
		hh[i] = complex(float64(psfFull[i]), 0)
	}
	fft2D(g, h, w)
	fft2D(hh, h, w)

	out := make([]complex128, h*w)
	for i := range out {
		hc := hh[i]
		mag2 := real(hc)*real(hc) + imag(hc)*imag(hc)
		denom := mag2 + noiseToSignal
		if denom < 1e-12 {
			denom = 1e-12
		}
		num := cmplxConj(hc) * g[i]
		out[i] = num / complex(denom, 0)
	}
	ifft2D(out, h, w)

	res := make([]float32, h*w)
	norm := float32(1.0 / float64(h*w))
	for i := range res {
		res[i] = clamp01(float32(real(out[i])) * norm)
	}
	return frame.NewFrameFromData(h, w, res, obs.OrigBitDepth), nil
}

func cmplxConj(c complex128) complex128 {
	return complex(real(c), -imag(c))
}

// fft2D runs an in-place forward 2-D complex FFT: rows then columns.
func fft2D(data []complex128, h, w int) {
	rowFFT := fourier.NewCmplxFFT(w)
	for r := 0; r < h; r++ {
		row := data[r*w : r*w+w]
		rowFFT.Coefficients(row, row)
	}
	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	for c := 0; c < w; c++ {
		for r := 0; r < h; r++ {
			col[r] = data[r*w+c]
		}
		colFFT.Coefficients(col, col)
		for r := 0; r < h; r++ {
			data[r*w+c] = col[r]
		}
	}
}

// ifft2D runs an in-place inverse 2-D complex FFT (unnormalized; caller
// divides by h*w).
func ifft2D(data []complex128, h, w int) {
	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	for c := 0; c < w; c++ {
		for r := 0; r < h; r++ {
			col[r] = data[r*w+c]
		}
		colFFT.Sequence(col, col)
		for r := 0; r < h; r++ {
			data[r*w+c] = col[r]
		}
	}
	rowFFT := fourier.NewCmplxFFT(w)
	for r := 0; r < h; r++ {
		row := data[r*w : r*w+w]
		rowFFT.Sequence(row, row)
	}
}

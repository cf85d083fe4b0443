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

// Package compute defines the Backend abstraction (§4.1): every operation
// that registration, stacking and restoration need is expressed as a
// primitive against this interface, so the same call graph runs on the CPU
// backend (internal/compute/cpubackend) or the GPU backend
// (internal/compute/gpubackend) without the caller knowing which one it got.
//
// All primitives are synchronous from the caller's point of view: Download
// blocks until any queued work affecting the buffer has been flushed, even
// on the GPU backend where the underlying dispatches are asynchronous.
package compute

import "fmt"

// Buffer is an opaque handle to backend-resident data. Callers never
// inspect its contents directly; they always round-trip through
// Upload/Download. Buffers are not safe for concurrent use by multiple
// goroutines without external synchronization.
type Buffer interface {
	Height() int
	Width() int
}

// Backend is the compute primitive surface every domain package programs
// against (§4.1). Implementations: cpubackend.New(), gpubackend.New().
type Backend interface {
	// Name identifies the backend for logging, e.g. "cpu" or "gpu".
	Name() string

	// Upload copies a row-major [0,1] raster of size height*width into a
	// backend-resident real buffer.
	Upload(data []float32, height, width int) (Buffer, error)

	// Download copies a real buffer back to host memory, blocking until
	// any outstanding work on it has completed.
	Download(buf Buffer) ([]float32, error)

	// Release returns buf's backing storage to the backend. Buffers not
	// explicitly released are reclaimed by the Go garbage collector for
	// the CPU backend, but the GPU backend needs the explicit call to
	// free device memory promptly.
	Release(buf Buffer)

	// HannWindow returns a real buffer containing the separable 2-D Hann
	// window of size height*width, used to taper frames and AP tiles
	// before phase correlation (§4.2.1) and before AP blending (§4.4.4).
	HannWindow(height, width int) (Buffer, error)

	// FFT2D computes the forward 2-D DFT of a real buffer, returning a
	// complex-valued buffer of the same dimensions.
	FFT2D(buf Buffer) (Buffer, error)

	// IFFT2DReal computes the inverse 2-D DFT of a complex buffer and
	// returns only the real part, normalized by 1/(height*width).
	IFFT2DReal(buf Buffer) (Buffer, error)

	// CrossPowerSpectrum computes a .* conj(b) ./ |a .* conj(b)| elementwise
	// over two complex spectra of identical size (§4.2.1), the numerator of
	// the classic phase-correlation ratio.
	CrossPowerSpectrum(a, b Buffer) (Buffer, error)

	// ComplexMul computes the elementwise product of two complex buffers.
	ComplexMul(a, b Buffer) (Buffer, error)

	// MultiplyReal computes the elementwise product of two real buffers.
	MultiplyReal(a, b Buffer) (Buffer, error)

	// DivideReal computes the elementwise quotient a./b of two real
	// buffers, with b clamped away from zero (§4.4.5 drizzle finalize,
	// §4.5 wavelet ratios).
	DivideReal(a, b Buffer) (Buffer, error)

	// ShiftBilinear resamples a real buffer at a sub-pixel translation
	// (dx,dy), using bilinear interpolation and edge-clamped bounds
	// (§4.2, §4.4.4 AP realignment).
	ShiftBilinear(buf Buffer, dx, dy float64) (Buffer, error)

	// ConvolveSeparable convolves a real buffer with a 1-D kernel applied
	// along rows then columns (§4.6 unsharp mask / Gaussian blur).
	ConvolveSeparable(buf Buffer, kernel []float32) (Buffer, error)

	// AtrousConvolve convolves a real buffer with a 1-D kernel dilated by
	// 2^scale zero-insertion (§4.5.1 à-trous wavelet decomposition).
	AtrousConvolve(buf Buffer, kernel []float32, scale int) (Buffer, error)

	// FindPeak returns the location and value of the maximum element of a
	// real buffer (§4.2.1 phase-correlation peak search).
	FindPeak(buf Buffer) (row, col int, val float32, err error)
}

// ErrShapeMismatch is returned by any binary primitive whose two operands
// do not share identical dimensions (§3 invariant: every multi-buffer
// operation fails fatally rather than silently broadcasting or truncating).
type ErrShapeMismatch struct {
	AHeight, AWidth, BHeight, BWidth int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("compute: shape mismatch %dx%d vs %dx%d", e.AHeight, e.AWidth, e.BHeight, e.BWidth)
}

// ParallelThreshold is the pixel count above which a backend should fan
// out a primitive across goroutines / GPU workgroups rather than run it on
// a single thread (§5 concurrency model).
const ParallelThreshold = 65536

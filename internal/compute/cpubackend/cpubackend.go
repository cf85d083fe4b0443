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

// Package cpubackend implements compute.Backend on top of goroutines and
// gonum's FFT package. Parallel fan-out follows the teacher's semaphore
// channel pattern (internal/ops/operator.go OpParallel.ApplyToFiles): a
// bounded number of worker goroutines are released at a time, sized to the
// logical core count reported by klauspost/cpuid.
package cpubackend

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"

	"github.com/mlnoga/luckystack/internal/compute"
)

// buffer is the CPU-resident implementation of compute.Buffer. Exactly one
// of real/cplx is non-nil at a time, depending on whether the buffer holds
// a real raster or a complex spectrum.
type buffer struct {
	height, width int
	real          []float32
	cplx          []complex128
}

func (b *buffer) Height() int { return b.height }
func (b *buffer) Width() int  { return b.width }

// Backend is the CPU implementation of compute.Backend.
type Backend struct {
	workers int
}

// New returns a CPU backend sized to the machine's logical core count.
func New() *Backend {
	n := cpuid.CPU.LogicalCores
	if n < 1 {
		n = runtime.NumCPU()
	}
	return &Backend{workers: n}
}

func (b *Backend) Name() string { return "cpu" }

func (b *Backend) Upload(data []float32, height, width int) (compute.Buffer, error) {
	if len(data) != height*width {
		return nil, fmt.Errorf("cpubackend: upload size mismatch, got %d want %d", len(data), height*width)
	}
	cp := make([]float32, len(data))
	copy(cp, data)
	return &buffer{height: height, width: width, real: cp}, nil
}

func (b *Backend) Download(buf compute.Buffer) ([]float32, error) {
	bb, ok := buf.(*buffer)
	if !ok || bb.real == nil {
		return nil, fmt.Errorf("cpubackend: download requires a real-valued buffer")
	}
	cp := make([]float32, len(bb.real))
	copy(cp, bb.real)
	return cp, nil
}

func (b *Backend) Release(buf compute.Buffer) {
	// The garbage collector reclaims CPU buffers; nothing to do explicitly.
}

// asBuffer type-asserts a compute.Buffer to the CPU buffer type, panicking
// with a clear message if the caller mixed backends.
func asBuffer(buf compute.Buffer, name string) *buffer {
	bb, ok := buf.(*buffer)
	if !ok {
		panic(fmt.Sprintf("cpubackend: %s called with a non-CPU buffer", name))
	}
	return bb
}

// checkSameShape returns compute.ErrShapeMismatch if a and b differ in size.
func checkSameShape(a, b *buffer) error {
	if a.height != b.height || a.width != b.width {
		return &compute.ErrShapeMismatch{AHeight: a.height, AWidth: a.width, BHeight: b.height, BWidth: b.width}
	}
	return nil
}

// parallelRows fans work out across b.workers goroutines, one call of fn
// per row index in [0,rows), following the teacher's semaphore-channel
// pattern. It fans out only when rows alone reaches
// compute.ParallelThreshold and more than one worker is configured; the
// column count is not part of that test, so any buffer with fewer rows
// than the threshold runs serially on the calling goroutine.
func (b *Backend) parallelRows(rows int, fn func(row int)) {
	if rows*1 < compute.ParallelThreshold || b.workers <= 1 {
		for r := 0; r < rows; r++ {
			fn(r)
		}
		return
	}
	sem := make(chan bool, b.workers)
	for r := 0; r < rows; r++ {
		sem <- true
		go func(r int) {
			defer func() { <-sem }()
			fn(r)
		}(r)
	}
	for i := 0; i < b.workers; i++ {
		sem <- true
	}
}

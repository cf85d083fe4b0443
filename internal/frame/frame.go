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

// Package frame holds the pipeline's core data model (§3): Frame,
// ColorFrame, SourceInfo, AlignmentOffset, QualityScore and the
// alignment-point types used by multi-point stacking and drizzle.
// It plays the role the teacher's internal/fits package plays for FITS
// deep-sky images, but for normalised [0,1] planetary video frames rather
// than calibrated FITS data with a header.
package frame

import "fmt"

// ColorMode identifies the sensor layout a FrameReader reports in its
// SourceInfo (§3).
type ColorMode int

const (
	Mono ColorMode = iota
	BayerRGGB
	BayerGRBG
	BayerGBRG
	BayerBGGR
	RGB
	BGR
)

func (c ColorMode) String() string {
	switch c {
	case Mono:
		return "Mono"
	case BayerRGGB:
		return "BayerRGGB"
	case BayerGRBG:
		return "BayerGRBG"
	case BayerGBRG:
		return "BayerGBRG"
	case BayerBGGR:
		return "BayerBGGR"
	case RGB:
		return "RGB"
	case BGR:
		return "BGR"
	default:
		return "Unknown"
	}
}

// IsBayer reports whether c is one of the four Bayer CFA layouts.
func (c ColorMode) IsBayer() bool {
	return c == BayerRGGB || c == BayerGRBG || c == BayerGBRG || c == BayerBGGR
}

// SourceInfo is the read-only header a FrameReader produces on open (§6.1).
type SourceInfo struct {
	FrameCount int
	Width      int
	Height     int
	BitDepth   int // 8 or 16
	ColorMode  ColorMode
	Observer   string
	Telescope  string
	Instrument string
}

// FrameIndex is a position in the source sequence.
type FrameIndex = int

// Frame is a 2-D array of 32-bit floats in [0,1], row-major, (H,W).
// Every Frame owns its pixel storage; clone explicitly where the pipeline
// needs independent copies (e.g. before an in-place sigma-clip arena).
type Frame struct {
	Height         int
	Width          int
	Data           []float32
	OrigBitDepth   int // 8 or 16, preserved for output quantization
}

// NewFrame allocates a zeroed frame of the given dimensions.
func NewFrame(height, width, origBitDepth int) *Frame {
	return &Frame{Height: height, Width: width, Data: make([]float32, height*width), OrigBitDepth: origBitDepth}
}

// NewFrameFromData wraps an existing row-major data slice. Data is not copied.
func NewFrameFromData(height, width int, data []float32, origBitDepth int) *Frame {
	return &Frame{Height: height, Width: width, Data: data, OrigBitDepth: origBitDepth}
}

// Clone returns a deep copy, used only in the eager path (§3).
func (f *Frame) Clone() *Frame {
	cp := make([]float32, len(f.Data))
	copy(cp, f.Data)
	return &Frame{Height: f.Height, Width: f.Width, Data: cp, OrigBitDepth: f.OrigBitDepth}
}

// At returns the pixel at (row, col).
func (f *Frame) At(row, col int) float32 {
	return f.Data[row*f.Width+col]
}

// Set writes the pixel at (row, col).
func (f *Frame) Set(row, col int, v float32) {
	f.Data[row*f.Width+col] = v
}

// SameShape reports whether f and o share (Height,Width). Every multi-frame
// operation must check this and fail fatally on mismatch (§3 invariant).
func (f *Frame) SameShape(o *Frame) bool {
	return f.Height == o.Height && f.Width == o.Width
}

func (f *Frame) String() string {
	return fmt.Sprintf("%dx%d (%d bpp)", f.Width, f.Height, f.OrigBitDepth)
}

// ColorFrame is three co-located Frames of identical dimensions.
type ColorFrame struct {
	R, G, B *Frame
}

// NewColorFrame allocates three zeroed, identically sized channels.
func NewColorFrame(height, width, origBitDepth int) *ColorFrame {
	return &ColorFrame{
		R: NewFrame(height, width, origBitDepth),
		G: NewFrame(height, width, origBitDepth),
		B: NewFrame(height, width, origBitDepth),
	}
}

// Luminance computes L = 0.299R + 0.587G + 0.114B (§4.6), used for scoring,
// registration and AP selection so the three channels can be moved by a
// single shared transform.
func (c *ColorFrame) Luminance() *Frame {
	out := NewFrame(c.R.Height, c.R.Width, c.R.OrigBitDepth)
	for i := range out.Data {
		out.Data[i] = 0.299*c.R.Data[i] + 0.587*c.G.Data[i] + 0.114*c.B.Data[i]
	}
	return out
}

// Channels returns the three channels as a slice, for generic per-channel
// transforms (§9 "color path symmetry").
func (c *ColorFrame) Channels() [3]*Frame {
	return [3]*Frame{c.R, c.G, c.B}
}

func (c *ColorFrame) SameShape(o *ColorFrame) bool {
	return c.R.SameShape(o.R)
}

// AlignmentOffset is a translation in pixels; sub-pixel values are
// meaningful. Positive dy shifts down, positive dx shifts right (§3).
type AlignmentOffset struct {
	Dx, Dy float64
}

// QualityScore holds the two focus metrics of §4.3; only Composite ranks frames.
type QualityScore struct {
	LaplacianVariance float64
	Composite         float64
}

// AlignmentPoint is a tile centre on the mean-reference image (§4.4.4).
type AlignmentPoint struct {
	Cy, Cx int
	Index  int
}

// ApGrid is a regular, 50%-overlapping tiling of AP centres (§3, §4.4.4).
type ApGrid struct {
	Points []AlignmentPoint
	ApSize int
}

// DrizzleAccumulator holds the two output-resolution arrays of §4.4.5.
type DrizzleAccumulator struct {
	Height, Width int
	Data          []float64
	Weights       []float64
}

// NewDrizzleAccumulator allocates a zeroed accumulator of (height,width).
func NewDrizzleAccumulator(height, width int) *DrizzleAccumulator {
	return &DrizzleAccumulator{Height: height, Width: width, Data: make([]float64, height*width), Weights: make([]float64, height*width)}
}

const drizzleEpsilon = 1e-7

// Finalize returns data/max(weights,eps) clamped to [0,1] as a Frame (§3).
func (d *DrizzleAccumulator) Finalize(origBitDepth int) *Frame {
	out := NewFrame(d.Height, d.Width, origBitDepth)
	for i := range out.Data {
		w := d.Weights[i]
		if w < drizzleEpsilon {
			w = drizzleEpsilon
		}
		v := float32(d.Data[i] / w)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		out.Data[i] = v
	}
	return out
}

// Add accumulates another accumulator's data and weights into d, pairwise.
// Used to combine per-frame accumulators in the parallel drizzle variant (§4.4.5).
func (d *DrizzleAccumulator) Add(o *DrizzleAccumulator) {
	for i := range d.Data {
		d.Data[i] += o.Data[i]
		d.Weights[i] += o.Weights[i]
	}
}

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

// Package source defines the FrameReader interface the pipeline
// orchestrator reads frames through (§6.1), decoupling it from any one
// capture file format (SER, AVI, FITS cube). A concrete reader for a
// real container format is an external-collaborator concern per the
// pipeline's Non-goals; this package instead ships the in-memory
// reference implementation used by the orchestrator's own tests and
// scenario harness.
package source

import (
	"fmt"

	"github.com/mlnoga/luckystack/internal/debayer"
	"github.com/mlnoga/luckystack/internal/frame"
)

// FrameReader is a random-access handle onto a decoded frame sequence
// (§6.1). Implementations may memory-map the source; reads are treated
// as referentially transparent, so the orchestrator re-reads freely in
// streaming mode instead of caching.
type FrameReader interface {
	// Info returns the source's header.
	Info() frame.SourceInfo

	// ReadFrame returns the mono/luminance-proxy frame at index i: the
	// frame itself for mono sources, the undemosaiced mosaic for Bayer
	// sources, or the green plane for interleaved RGB/BGR sources.
	ReadFrame(i int) (*frame.Frame, error)

	// ReadFrameAsColor returns a three-channel frame at index i,
	// applying the given demosaic method to Bayer sources or splitting
	// interleaved RGB/BGR samples directly.
	ReadFrameAsColor(i int, method debayer.Method) (*frame.ColorFrame, error)

	// Close releases any resources the reader holds open.
	Close() error
}

// MemoryReader is a FrameReader over frames already resident in memory,
// used by tests and by any caller that has decoded frames some other way.
type MemoryReader struct {
	info   frame.SourceInfo
	frames []*frame.Frame
}

// NewMemoryReader wraps mono frames as a FrameReader. info.FrameCount is
// set to len(frames) regardless of what the caller passed in.
func NewMemoryReader(info frame.SourceInfo, frames []*frame.Frame) *MemoryReader {
	info.FrameCount = len(frames)
	return &MemoryReader{info: info, frames: frames}
}

func (r *MemoryReader) Info() frame.SourceInfo { return r.info }

func (r *MemoryReader) ReadFrame(i int) (*frame.Frame, error) {
	if i < 0 || i >= len(r.frames) {
		return nil, fmt.Errorf("source: frame index %d out of range [0,%d)", i, len(r.frames))
	}
	return r.frames[i], nil
}

func (r *MemoryReader) ReadFrameAsColor(i int, method debayer.Method) (*frame.ColorFrame, error) {
	f, err := r.ReadFrame(i)
	if err != nil {
		return nil, err
	}
	switch r.info.ColorMode {
	case frame.BayerRGGB, frame.BayerGRBG, frame.BayerGBRG, frame.BayerBGGR:
		return debayer.Debayer(f, r.info.ColorMode, method), nil
	default:
		cf := frame.NewColorFrame(f.Height, f.Width, f.OrigBitDepth)
		copy(cf.R.Data, f.Data)
		copy(cf.G.Data, f.Data)
		copy(cf.B.Data, f.Data)
		return cf, nil
	}
}

func (r *MemoryReader) Close() error { return nil }

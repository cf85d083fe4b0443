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

// Package sersource is a concrete source.FrameReader for SER capture
// files, one of the external, named-interface-only collaborators the
// core pipeline's Non-goals deliberately leave unimplemented (§1). It
// exists only so the CLI and REST front-ends have something real to
// open by default; the orchestrator itself never imports this package.
package sersource

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/mlnoga/luckystack/internal/debayer"
	"github.com/mlnoga/luckystack/internal/frame"
)

const (
	headerSize = 178
	magic      = "LUCAM-RECORDER"
)

// header is the parsed 178-byte SER file header.
type header struct {
	colorID        int32
	littleEndian   bool
	width          int
	height         int
	pixelDepth     int
	frameCount     int
	observer       string
	instrument     string
	telescope      string
}

func (h *header) bytesPerPlane() int {
	if h.pixelDepth <= 8 {
		return 1
	}
	return 2
}

func (h *header) planesPerPixel() int {
	switch h.colorID {
	case 100, 101:
		return 3
	default:
		return 1
	}
}

func (h *header) frameByteSize() int {
	return h.width * h.height * h.bytesPerPlane() * h.planesPerPixel()
}

func (h *header) colorMode() frame.ColorMode {
	switch h.colorID {
	case 0:
		return frame.Mono
	case 8:
		return frame.BayerRGGB
	case 9:
		return frame.BayerGRBG
	case 10:
		return frame.BayerGBRG
	case 11:
		return frame.BayerBGGR
	case 100:
		return frame.RGB
	case 101:
		return frame.BGR
	default:
		return frame.Mono
	}
}

func parseHeader(buf []byte) (header, error) {
	var h header
	le := binary.LittleEndian
	// buf[0:14] is the magic, already checked by the caller.
	h.colorID = int32(le.Uint32(buf[18:22]))
	leFlag := int32(le.Uint32(buf[22:26]))
	h.width = int(le.Uint32(buf[26:30]))
	h.height = int(le.Uint32(buf[30:34]))
	h.pixelDepth = int(le.Uint32(buf[34:38]))
	h.frameCount = int(le.Uint32(buf[38:42]))
	h.observer = readFixedString(buf[42:82])
	h.instrument = readFixedString(buf[82:122])
	h.telescope = readFixedString(buf[122:162])

	if h.width == 0 || h.height == 0 {
		return header{}, fmt.Errorf("sersource: invalid dimensions %dx%d", h.width, h.height)
	}

	// The SER spec says 0 means big-endian, but FireCapture and other
	// common capture tools write 0 for little-endian data. Follow the
	// same convention Siril and PIPP use: only a literal 1 means
	// big-endian, everything else is little-endian.
	h.littleEndian = leFlag != 1
	return h, nil
}

func readFixedString(buf []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(buf), "\x00"))
}

// Reader is a random-access source.FrameReader over a SER file, read via
// plain positional reads rather than a memory mapping -- no library in
// the surrounding stack maps files, and decoding one plane at a time
// from a *os.File keeps this reader free of a new dependency for a
// single external-boundary file format.
type Reader struct {
	file *os.File
	hdr  header
}

// Open parses a SER file's header and returns a Reader positioned to
// decode any of its frames on demand.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("sersource: reading header: %w", err)
	}
	if string(buf[0:14]) != magic {
		f.Close()
		return nil, fmt.Errorf("sersource: missing %q magic", magic)
	}
	hdr, err := parseHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	want := int64(headerSize) + int64(hdr.frameByteSize())*int64(hdr.frameCount)
	if fi.Size() < want {
		f.Close()
		return nil, fmt.Errorf("sersource: file truncated: want at least %d bytes, have %d", want, fi.Size())
	}

	return &Reader{file: f, hdr: hdr}, nil
}

func (r *Reader) Info() frame.SourceInfo {
	return frame.SourceInfo{
		FrameCount: r.hdr.frameCount,
		Width:      r.hdr.width,
		Height:     r.hdr.height,
		BitDepth:   r.hdr.pixelDepth,
		ColorMode:  r.hdr.colorMode(),
		Observer:   r.hdr.observer,
		Telescope:  r.hdr.telescope,
		Instrument: r.hdr.instrument,
	}
}

func (r *Reader) rawFrame(i int) ([]byte, error) {
	if i < 0 || i >= r.hdr.frameCount {
		return nil, fmt.Errorf("sersource: frame index %d out of range [0,%d)", i, r.hdr.frameCount)
	}
	size := r.hdr.frameByteSize()
	buf := make([]byte, size)
	offset := int64(headerSize) + int64(i)*int64(size)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("sersource: reading frame %d: %w", i, err)
	}
	return buf, nil
}

// decodePlane decodes one interleaved plane (planeIndex of planes total)
// from raw into a normalised [0,1] Frame.
func decodePlane(raw []byte, height, width, bytesPerSample, planes, planeIndex, bitDepth int, littleEndian bool) *frame.Frame {
	maxVal := float32((uint32(1) << uint(bitDepth)) - 1)
	f := frame.NewFrame(height, width, bitDepth)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			pixelOffset := (row*width + col) * planes * bytesPerSample
			idx := pixelOffset + planeIndex*bytesPerSample
			var val float32
			if bytesPerSample == 1 {
				val = float32(raw[idx])
			} else if littleEndian {
				val = float32(binary.LittleEndian.Uint16(raw[idx : idx+2]))
			} else {
				val = float32(binary.BigEndian.Uint16(raw[idx : idx+2]))
			}
			f.Set(row, col, val/maxVal)
		}
	}
	return f
}

// ReadFrame returns the mono/luminance-proxy plane at index i: the sole
// plane for mono/Bayer sources, or the green plane for interleaved
// RGB/BGR sources (matching the green-as-luminance approximation the
// reference decoder uses).
func (r *Reader) ReadFrame(i int) (*frame.Frame, error) {
	raw, err := r.rawFrame(i)
	if err != nil {
		return nil, err
	}
	bpp := r.hdr.bytesPerPlane()
	planes := r.hdr.planesPerPixel()
	greenIndex := 0
	if planes == 3 {
		greenIndex = 1
	}
	return decodePlane(raw, r.hdr.height, r.hdr.width, bpp, planes, greenIndex, r.hdr.pixelDepth, r.hdr.littleEndian), nil
}

// ReadFrameAsColor returns a three-channel frame at index i: Bayer
// sources are demosaiced with method, RGB/BGR sources have their
// interleaved planes split directly, and mono sources are replicated
// across all three channels.
func (r *Reader) ReadFrameAsColor(i int, method debayer.Method) (*frame.ColorFrame, error) {
	raw, err := r.rawFrame(i)
	if err != nil {
		return nil, err
	}
	bpp := r.hdr.bytesPerPlane()
	mode := r.hdr.colorMode()

	if mode.IsBayer() {
		mono := decodePlane(raw, r.hdr.height, r.hdr.width, bpp, 1, 0, r.hdr.pixelDepth, r.hdr.littleEndian)
		return debayer.Debayer(mono, mode, method), nil
	}

	if mode == frame.RGB || mode == frame.BGR {
		p0 := decodePlane(raw, r.hdr.height, r.hdr.width, bpp, 3, 0, r.hdr.pixelDepth, r.hdr.littleEndian)
		p1 := decodePlane(raw, r.hdr.height, r.hdr.width, bpp, 3, 1, r.hdr.pixelDepth, r.hdr.littleEndian)
		p2 := decodePlane(raw, r.hdr.height, r.hdr.width, bpp, 3, 2, r.hdr.pixelDepth, r.hdr.littleEndian)
		cf := frame.NewColorFrame(r.hdr.height, r.hdr.width, r.hdr.pixelDepth)
		if mode == frame.RGB {
			copy(cf.R.Data, p0.Data)
			copy(cf.G.Data, p1.Data)
			copy(cf.B.Data, p2.Data)
		} else {
			copy(cf.B.Data, p0.Data)
			copy(cf.G.Data, p1.Data)
			copy(cf.R.Data, p2.Data)
		}
		return cf, nil
	}

	mono := decodePlane(raw, r.hdr.height, r.hdr.width, bpp, 1, 0, r.hdr.pixelDepth, r.hdr.littleEndian)
	cf := frame.NewColorFrame(r.hdr.height, r.hdr.width, r.hdr.pixelDepth)
	copy(cf.R.Data, mono.Data)
	copy(cf.G.Data, mono.Data)
	copy(cf.B.Data, mono.Data)
	return cf, nil
}

func (r *Reader) Close() error { return r.file.Close() }

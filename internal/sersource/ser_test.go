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

package sersource

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlnoga/luckystack/internal/debayer"
	"github.com/mlnoga/luckystack/internal/frame"
)

// writeSerFile assembles a minimal, valid SER file with colorID frames of
// width x height 8-bit pixels, each filled with a distinct byte value.
func writeSerFile(t *testing.T, colorID int32, width, height int, leFlag int32, frameFill []byte) string {
	t.Helper()
	planes := 1
	if colorID == 100 || colorID == 101 {
		planes = 3
	}
	frameSize := width * height * planes

	buf := make([]byte, headerSize)
	copy(buf[0:14], magic)
	le := binary.LittleEndian
	le.PutUint32(buf[14:18], 0) // lu_id
	le.PutUint32(buf[18:22], uint32(colorID))
	le.PutUint32(buf[22:26], uint32(leFlag))
	le.PutUint32(buf[26:30], uint32(width))
	le.PutUint32(buf[30:34], uint32(height))
	le.PutUint32(buf[34:38], 8) // pixel depth
	le.PutUint32(buf[38:42], 1) // frame count

	path := filepath.Join(t.TempDir(), "test.ser")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("write header: %v", err)
	}
	data := make([]byte, frameSize)
	for i := range data {
		data[i] = frameFill[i%len(frameFill)]
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return path
}

func TestOpenParsesMonoHeader(t *testing.T) {
	path := writeSerFile(t, 0, 4, 3, 1, []byte{128})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	info := r.Info()
	if info.Width != 4 || info.Height != 3 || info.FrameCount != 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.ColorMode != frame.Mono {
		t.Fatalf("expected Mono, got %s", info.ColorMode)
	}
}

func TestReadFrameDecodesMonoPixels(t *testing.T) {
	path := writeSerFile(t, 0, 2, 2, 1, []byte{255})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	f, err := r.ReadFrame(0)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if f.At(0, 0) != 1.0 {
		t.Errorf("expected normalised 1.0, got %f", f.At(0, 0))
	}
}

func TestReadFrameRejectsOutOfRangeIndex(t *testing.T) {
	path := writeSerFile(t, 0, 2, 2, 1, []byte{0})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if _, err := r.ReadFrame(5); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestLittleEndianFlagConventionMatchesCommonWriters(t *testing.T) {
	// le_flag == 0 (as FireCapture writes) must decode as little-endian,
	// not the SER spec's literal big-endian reading.
	path := writeSerFile(t, 0, 2, 2, 0, []byte{0x00, 0x01})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	if !r.hdr.littleEndian {
		t.Fatal("expected le_flag=0 to be treated as little-endian")
	}
}

func TestReadFrameAsColorSplitsInterleavedRGB(t *testing.T) {
	path := writeSerFile(t, 100, 2, 2, 1, []byte{10, 20, 30})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	cf, err := r.ReadFrameAsColor(0, debayer.Bilinear)
	if err != nil {
		t.Fatalf("ReadFrameAsColor failed: %v", err)
	}
	if cf.R.At(0, 0) == cf.G.At(0, 0) || cf.G.At(0, 0) == cf.B.At(0, 0) {
		t.Error("expected distinct R, G, B planes from interleaved RGB data")
	}
}

func TestReadFrameAsColorDebayersBayerSources(t *testing.T) {
	path := writeSerFile(t, 8, 4, 4, 1, []byte{100})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	cf, err := r.ReadFrameAsColor(0, debayer.Bilinear)
	if err != nil {
		t.Fatalf("ReadFrameAsColor failed: %v", err)
	}
	if cf.R.Height != 4 || cf.R.Width != 4 {
		t.Fatalf("expected 4x4 channels, got %dx%d", cf.R.Height, cf.R.Width)
	}
}

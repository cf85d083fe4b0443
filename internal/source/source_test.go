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

package source

import (
	"testing"

	"github.com/mlnoga/luckystack/internal/debayer"
	"github.com/mlnoga/luckystack/internal/frame"
)

func TestMemoryReaderRandomAccess(t *testing.T) {
	frames := []*frame.Frame{
		frame.NewFrame(2, 2, 16),
		frame.NewFrame(2, 2, 16),
		frame.NewFrame(2, 2, 16),
	}
	frames[0].Set(0, 0, 1)
	frames[1].Set(0, 0, 2)
	frames[2].Set(0, 0, 3)

	r := NewMemoryReader(frame.SourceInfo{Width: 2, Height: 2}, frames)
	if r.Info().FrameCount != 3 {
		t.Fatalf("expected FrameCount 3, got %d", r.Info().FrameCount)
	}

	for i := 2; i >= 0; i-- {
		f, err := r.ReadFrame(i)
		if err != nil {
			t.Fatalf("unexpected error at frame %d: %v", i, err)
		}
		if f.At(0, 0) != float32(i+1) {
			t.Errorf("frame %d: expected %f, got %f", i, float32(i+1), f.At(0, 0))
		}
	}
	if _, err := r.ReadFrame(3); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close should not error: %v", err)
	}
}

func TestMemoryReaderAsColorMonoSplitsEvenly(t *testing.T) {
	f := frame.NewFrame(2, 2, 16)
	f.Set(0, 0, 0.5)
	r := NewMemoryReader(frame.SourceInfo{ColorMode: frame.Mono}, []*frame.Frame{f})
	cf, err := r.ReadFrameAsColor(0, debayer.Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	if cf.R.At(0, 0) != 0.5 || cf.G.At(0, 0) != 0.5 || cf.B.At(0, 0) != 0.5 {
		t.Errorf("mono-as-color should copy luminance into all channels, got R=%f G=%f B=%f",
			cf.R.At(0, 0), cf.G.At(0, 0), cf.B.At(0, 0))
	}
}

func TestMemoryReaderAsColorDebayersBayerSource(t *testing.T) {
	f := frame.NewFrame(8, 8, 16)
	for i := range f.Data {
		f.Data[i] = 0.3
	}
	r := NewMemoryReader(frame.SourceInfo{ColorMode: frame.BayerRGGB}, []*frame.Frame{f})
	cf, err := r.ReadFrameAsColor(0, debayer.Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	if cf.R.Height != 8 || cf.R.Width != 8 {
		t.Errorf("expected debayered shape 8x8, got %dx%d", cf.R.Height, cf.R.Width)
	}
}

func TestMemoryReaderEmpty(t *testing.T) {
	r := NewMemoryReader(frame.SourceInfo{}, nil)
	if _, err := r.ReadFrame(0); err == nil {
		t.Fatal("expected error reading from empty reader")
	}
}

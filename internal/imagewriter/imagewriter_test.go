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

package imagewriter

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlnoga/luckystack/internal/frame"
)

func checkerboardFrame(h, w int) *frame.Frame {
	f := frame.NewFrame(h, w, 16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				f.Set(y, x, 1.0)
			}
		}
	}
	return f
}

func TestSaveMonoTIFFWritesNonEmptyFile(t *testing.T) {
	f := checkerboardFrame(8, 8)
	path := filepath.Join(t.TempDir(), "out.tiff")
	if err := SaveMono(f, path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("expected non-empty TIFF file")
	}
}

func TestSaveMonoPNGWritesNonEmptyFile(t *testing.T) {
	f := checkerboardFrame(8, 8)
	path := filepath.Join(t.TempDir(), "out.png")
	if err := SaveMono(f, path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("expected non-empty PNG file")
	}
}

func TestSaveColorWritesNonEmptyFile(t *testing.T) {
	cf := frame.NewColorFrame(8, 8, 16)
	cf.R = checkerboardFrame(8, 8)
	cf.G = checkerboardFrame(8, 8)
	cf.B = checkerboardFrame(8, 8)
	path := filepath.Join(t.TempDir(), "out.png")
	if err := SaveColor(cf, path); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty file, err=%v", err)
	}
}

func TestSaveMonoRejectsUnsupportedExtension(t *testing.T) {
	f := checkerboardFrame(4, 4)
	path := filepath.Join(t.TempDir(), "out.bmp")
	if err := SaveMono(f, path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestQuantise16ClampsAndHandlesNaN(t *testing.T) {
	cases := []struct {
		in   float32
		want uint16
	}{
		{-1.0, 0},
		{0.0, 0},
		{1.0, 65535},
		{2.0, 65535},
		{float32(math.NaN()), 0},
	}
	for _, c := range cases {
		got := quantise16(c.in)
		if got != c.want {
			t.Errorf("quantise16(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

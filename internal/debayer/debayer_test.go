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

package debayer

import (
	"testing"

	"github.com/mlnoga/luckystack/internal/frame"
)

// syntheticRGGB builds a mosaic where every red site holds rVal, every
// blue site holds bVal, and every green site holds gVal -- bilinear
// interpolation of a flat field should reproduce the same flat values.
func syntheticRGGB(h, w int, rVal, gVal, bVal float32) *frame.Frame {
	f := frame.NewFrame(h, w, 16)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			switch {
			case row%2 == 0 && col%2 == 0:
				f.Set(row, col, rVal)
			case row%2 == 1 && col%2 == 1:
				f.Set(row, col, bVal)
			default:
				f.Set(row, col, gVal)
			}
		}
	}
	return f
}

func TestDebayerFlatFieldReproducesChannelValues(t *testing.T) {
	f := syntheticRGGB(16, 16, 0.7, 0.5, 0.2)
	cf := Debayer(f, frame.BayerRGGB, Bilinear)

	for row := 2; row < cf.R.Height-2; row++ {
		for col := 2; col < cf.R.Width-2; col++ {
			if d := cf.R.At(row, col) - 0.7; d > 1e-5 || d < -1e-5 {
				t.Fatalf("R at (%d,%d) = %f, want 0.7", row, col, cf.R.At(row, col))
			}
			if d := cf.G.At(row, col) - 0.5; d > 1e-5 || d < -1e-5 {
				t.Fatalf("G at (%d,%d) = %f, want 0.5", row, col, cf.G.At(row, col))
			}
			if d := cf.B.At(row, col) - 0.2; d > 1e-5 || d < -1e-5 {
				t.Fatalf("B at (%d,%d) = %f, want 0.2", row, col, cf.B.At(row, col))
			}
		}
	}
}

func TestDebayerTrimsOddDimensions(t *testing.T) {
	f := syntheticRGGB(15, 17, 0.5, 0.5, 0.5)
	cf := Debayer(f, frame.BayerRGGB, Bilinear)
	if cf.R.Height != 14 || cf.R.Width != 16 {
		t.Errorf("expected trimmed even dims 14x16, got %dx%d", cf.R.Height, cf.R.Width)
	}
}

func TestDebayerAllPatternsProduceSameFlatResult(t *testing.T) {
	modes := []frame.ColorMode{frame.BayerRGGB, frame.BayerGRBG, frame.BayerGBRG, frame.BayerBGGR}
	for _, mode := range modes {
		f := frame.NewFrame(16, 16, 16)
		for i := range f.Data {
			f.Data[i] = 0.42
		}
		cf := Debayer(f, mode, Bilinear)
		if d := cf.R.At(8, 8) - 0.42; d > 1e-5 || d < -1e-5 {
			t.Errorf("mode %v: R = %f, want 0.42", mode, cf.R.At(8, 8))
		}
	}
}

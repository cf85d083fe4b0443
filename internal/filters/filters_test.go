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

package filters

import (
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/luckystack/internal/frame"
)

func noisyFrame(h, w int) *frame.Frame {
	rng := fastrand.RNG{}
	f := frame.NewFrame(h, w, 16)
	for i := range f.Data {
		f.Data[i] = float32(rng.Uint32n(1000)) / 1000
	}
	return f
}

func TestGaussianKernel1DSumsToOne(t *testing.T) {
	k := GaussianKernel1D(1.5)
	var sum float32
	for _, v := range k {
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("kernel should sum to 1, got %f", sum)
	}
}

func TestGaussianBlurPreservesShape(t *testing.T) {
	f := noisyFrame(16, 16)
	out := GaussianBlur(f, 1.0)
	if out.Height != f.Height || out.Width != f.Width {
		t.Fatalf("blur should preserve shape, got %dx%d", out.Height, out.Width)
	}
}

func TestGaussianBlurSmoothsVariance(t *testing.T) {
	f := noisyFrame(32, 32)
	out := GaussianBlur(f, 2.0)
	var sumIn, sumOut float64
	for i := range f.Data {
		sumIn += float64(f.Data[i])
		sumOut += float64(out.Data[i])
	}
	meanIn, meanOut := sumIn/float64(len(f.Data)), sumOut/float64(len(out.Data))
	var varIn, varOut float64
	for i := range f.Data {
		d := float64(f.Data[i]) - meanIn
		varIn += d * d
		d = float64(out.Data[i]) - meanOut
		varOut += d * d
	}
	if varOut >= varIn {
		t.Errorf("blur should reduce pixel-to-pixel variance: in=%f out=%f", varIn, varOut)
	}
}

func TestUnsharpMaskStaysInRange(t *testing.T) {
	f := noisyFrame(16, 16)
	out := UnsharpMask(f, 1.5, 2.0, 0.05)
	for _, v := range out.Data {
		if v < 0 || v > 1 {
			t.Fatalf("unsharp mask output out of range: %f", v)
		}
	}
}

func TestGammaIdentityAtOne(t *testing.T) {
	f := noisyFrame(8, 8)
	out := Gamma(f, 1.0)
	for i := range f.Data {
		if d := out.Data[i] - f.Data[i]; d > 1e-5 || d < -1e-5 {
			t.Errorf("gamma 1.0 should be identity at %d: %f vs %f", i, out.Data[i], f.Data[i])
		}
	}
}

func TestBrightnessContrastClips(t *testing.T) {
	f := noisyFrame(8, 8)
	out := BrightnessContrast(f, 0.9, 3.0)
	for _, v := range out.Data {
		if v < 0 || v > 1 {
			t.Fatalf("brightness/contrast output out of range: %f", v)
		}
	}
}

func TestHistogramStretchMapsRange(t *testing.T) {
	f := frame.NewFrame(2, 2, 16)
	f.Data = []float32{0.2, 0.4, 0.6, 0.8}
	out := HistogramStretch(f, 0.2, 0.8)
	if out.Data[0] != 0 {
		t.Errorf("black point should map to 0, got %f", out.Data[0])
	}
	if d := out.Data[3] - 1; d > 1e-5 || d < -1e-5 {
		t.Errorf("white point should map to 1, got %f", out.Data[3])
	}
}

func TestAutoStretchStaysInRange(t *testing.T) {
	f := noisyFrame(16, 16)
	out := AutoStretch(f, 0.25, 0.1)
	for _, v := range out.Data {
		if v < 0 || v > 1 {
			t.Fatalf("auto-stretch output out of range: %f", v)
		}
	}
}

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

package registration

import (
	"math"
	"testing"

	"github.com/mlnoga/luckystack/internal/compute/cpubackend"
	"github.com/mlnoga/luckystack/internal/frame"
)

// syntheticDisk renders a single soft circular disk on a 64x64 background,
// centered at (cy,cx), standing in for a planetary target with a
// dominant bright feature.
func syntheticDisk(cy, cx float64) *frame.Frame {
	const h, w = 64, 64
	f := frame.NewFrame(h, w, 16)
	const radius = 10.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dy, dx := float64(y)-cy, float64(x)-cx
			d := math.Sqrt(dy*dy + dx*dx)
			if d < radius {
				f.Set(y, x, 1.0)
			}
		}
	}
	return f
}

func TestPhaseCorrelateIntegerShift(t *testing.T) {
	b := cpubackend.New()
	ref := syntheticDisk(32, 32)
	tgt := syntheticDisk(32+3, 32-5)
	off, err := ComputeOffset(b, PhaseCorrelation, ref, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(off.Dy-3) > 1 || math.Abs(off.Dx-(-5)) > 1 {
		t.Errorf("got offset (%f,%f), want close to (3,-5)", off.Dy, off.Dx)
	}
}

func TestEnhancedRefinesSubpixel(t *testing.T) {
	b := cpubackend.New()
	ref := syntheticDisk(32, 32)
	tgt := syntheticDisk(32.4, 32.0)
	off, err := ComputeOffset(b, Enhanced, ref, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(off.Dy-0.4) > 0.3 {
		t.Errorf("got dy=%f, want close to 0.4", off.Dy)
	}
}

func TestCentroidOffset(t *testing.T) {
	ref := syntheticDisk(32, 32)
	tgt := syntheticDisk(30, 34)
	off, err := ComputeOffset(nil, Centroid, ref, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(off.Dy-(-2)) > 0.5 || math.Abs(off.Dx-2) > 0.5 {
		t.Errorf("got offset (%f,%f), want close to (-2,2)", off.Dy, off.Dx)
	}
}

func TestPyramidLargeShift(t *testing.T) {
	b := cpubackend.New()
	ref := syntheticDisk(40, 40)
	tgt := syntheticDisk(20, 60)
	off, err := ComputeOffset(b, Pyramid, ref, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(off.Dy-(-20)) > 2 || math.Abs(off.Dx-20) > 2 {
		t.Errorf("got offset (%f,%f), want close to (-20,20)", off.Dy, off.Dx)
	}
}

func TestComputeOffsetShapeMismatch(t *testing.T) {
	b := cpubackend.New()
	ref := frame.NewFrame(16, 16, 8)
	tgt := frame.NewFrame(8, 8, 8)
	if _, err := ComputeOffset(b, PhaseCorrelation, ref, tgt); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestWrapIndex(t *testing.T) {
	if v := wrapIndex(0, 64); v != 0 {
		t.Errorf("wrapIndex(0,64) got %f want 0", v)
	}
	if v := wrapIndex(63, 64); v != -1 {
		t.Errorf("wrapIndex(63,64) got %f want -1", v)
	}
	if v := wrapIndex(32, 64); v != 32 {
		t.Errorf("wrapIndex(32,64) got %f want 32", v)
	}
}

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

package autocrop

import (
	"testing"

	"github.com/mlnoga/luckystack/internal/frame"
)

func diskFrame(h, w int, cy, cx, radius int, bg, fg float32) *frame.Frame {
	f := frame.NewFrame(h, w, 16)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			dy, dx := row-cy, col-cx
			if dy*dy+dx*dx <= radius*radius {
				f.Set(row, col, fg)
			} else {
				f.Set(row, col, bg)
			}
		}
	}
	return f
}

func TestDetectRejectsBorderTouchingTarget(t *testing.T) {
	f := diskFrame(64, 64, 5, 5, 8, 0.05, 0.9)
	_, err := Detect(f, 3, 2)
	if err == nil {
		t.Fatal("expected border-touch error")
	}
	if _, ok := err.(*ErrBorderTouch); !ok {
		t.Fatalf("expected ErrBorderTouch, got %T: %v", err, err)
	}
}

func TestDetectFindsCenteredTarget(t *testing.T) {
	f := diskFrame(64, 64, 32, 32, 8, 0.05, 0.9)
	r, err := Detect(f, 3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Top > 22 || r.Bottom < 42 || r.Left > 22 || r.Right < 42 {
		t.Errorf("crop rect %+v does not contain the target disk", r)
	}
}

func TestDetectSnapsToEvenBounds(t *testing.T) {
	f := diskFrame(64, 64, 32, 32, 8, 0.05, 0.9)
	r, err := Detect(f, 3, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Top%2 != 0 || r.Left%2 != 0 {
		t.Errorf("expected even top/left offsets, got %+v", r)
	}
	if r.Height()%2 != 0 || r.Width()%2 != 0 {
		t.Errorf("expected even height/width, got %+v", r)
	}
}

func TestApplyReturnsRequestedShape(t *testing.T) {
	f := diskFrame(64, 64, 32, 32, 8, 0.05, 0.9)
	r := Rect{Top: 20, Left: 20, Bottom: 43, Right: 43}
	out := Apply(f, r)
	if out.Height != r.Height() || out.Width != r.Width() {
		t.Fatalf("expected %dx%d, got %dx%d", r.Height(), r.Width(), out.Height, out.Width)
	}
	if out.At(0, 0) != f.At(r.Top, r.Left) {
		t.Errorf("expected corner pixel to match source")
	}
}

func TestDetectNoPixelsAboveThreshold(t *testing.T) {
	f := frame.NewFrame(16, 16, 16)
	for i := range f.Data {
		f.Data[i] = 0.5
	}
	if _, err := Detect(f, 3, 2); err == nil {
		t.Fatal("expected error when no pixel exceeds threshold")
	}
}

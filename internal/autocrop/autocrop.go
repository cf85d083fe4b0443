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

// Package autocrop locates the bright target in a frame and derives a
// tight crop rectangle around it (§8 scenario S6), rejecting targets
// that touch the frame border since a border-touching bounding box
// means the target itself may extend outside the captured field and a
// crop would clip it rather than isolate it.
package autocrop

import (
	"fmt"

	"github.com/mlnoga/luckystack/internal/frame"
	"github.com/mlnoga/luckystack/internal/stats"
)

// Rect is an inclusive pixel bounding box, row/col ordered like Frame.At.
type Rect struct {
	Top, Left, Bottom, Right int
}

func (r Rect) Height() int { return r.Bottom - r.Top + 1 }
func (r Rect) Width() int  { return r.Right - r.Left + 1 }

// ErrBorderTouch is returned by Detect when the bright target's bounding
// box touches the frame's outer edge.
type ErrBorderTouch struct {
	Rect   Rect
	Height int
	Width  int
}

func (e *ErrBorderTouch) Error() string {
	return fmt.Sprintf("autocrop: target bounding box %+v touches the %dx%d frame border", e.Rect, e.Height, e.Width)
}

// Detect finds the bounding box of pixels brighter than mean+sigma*stddev
// (the same background/threshold split findBrightPixels uses for star
// candidates) and returns it, snapped outward by margin pixels. It fails
// with ErrBorderTouch if the (unsnapped) box touches row/col 0 or the
// opposite edge, since such a target cannot be distinguished from one
// that continues past the frame edge.
func Detect(f *frame.Frame, sigma float32, margin int) (Rect, error) {
	mean, stdDev := stats.MeanStdDev(f.Data)
	threshold := mean + sigma*stdDev

	top, left, bottom, right := -1, -1, -1, -1
	for row := 0; row < f.Height; row++ {
		for col := 0; col < f.Width; col++ {
			if f.At(row, col) <= threshold {
				continue
			}
			if top == -1 || row < top {
				top = row
			}
			if bottom == -1 || row > bottom {
				bottom = row
			}
			if left == -1 || col < left {
				left = col
			}
			if right == -1 || col > right {
				right = col
			}
		}
	}
	if top == -1 {
		return Rect{}, fmt.Errorf("autocrop: no pixels above threshold %.4f", threshold)
	}
	box := Rect{Top: top, Left: left, Bottom: bottom, Right: right}

	if box.Top <= 0 || box.Left <= 0 || box.Bottom >= f.Height-1 || box.Right >= f.Width-1 {
		return Rect{}, &ErrBorderTouch{Rect: box, Height: f.Height, Width: f.Width}
	}

	box.Top = clamp(box.Top-margin, 0, f.Height-1)
	box.Left = clamp(box.Left-margin, 0, f.Width-1)
	box.Bottom = clamp(box.Bottom+margin, 0, f.Height-1)
	box.Right = clamp(box.Right+margin, 0, f.Width-1)

	// Bayer sources need even offsets and even sizes (§8 boundary
	// behaviour) so the crop never splits a 2x2 mosaic tile.
	box.Top &^= 1
	box.Left &^= 1
	if box.Height()%2 != 0 && box.Bottom < f.Height-1 {
		box.Bottom++
	}
	if box.Width()%2 != 0 && box.Right < f.Width-1 {
		box.Right++
	}
	return box, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Apply returns a new Frame holding the pixels inside r.
func Apply(f *frame.Frame, r Rect) *frame.Frame {
	out := frame.NewFrame(r.Height(), r.Width(), f.OrigBitDepth)
	for row := 0; row < out.Height; row++ {
		for col := 0; col < out.Width; col++ {
			out.Set(row, col, f.At(r.Top+row, r.Left+col))
		}
	}
	return out
}

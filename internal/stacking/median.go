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

package stacking

import (
	"github.com/mlnoga/luckystack/internal/frame"
	"github.com/mlnoga/luckystack/internal/qsort"
)

// StackMedian computes the per-pixel median across a fully in-memory batch
// of registered frames via quickselect (§4.4.2). Unlike mean stacking,
// median stacking needs every frame's value at a pixel before it can
// answer for that pixel, so it cannot stream frame by frame; the whole
// batch must already be resident.
func StackMedian(frames []*frame.Frame) (*frame.Frame, error) {
	if err := checkSameShape(frames); err != nil {
		return nil, err
	}
	h, w := frames[0].Height, frames[0].Width
	n := len(frames)
	out := frame.NewFrame(h, w, frames[0].OrigBitDepth)

	parallelRows(h, func(y int) {
		col := make([]float32, n)
		off := y * w
		for x := 0; x < w; x++ {
			for i, f := range frames {
				col[i] = f.Data[off+x]
			}
			out.Data[off+x] = qsort.MedianOfEven(col)
		}
	})
	return out, nil
}

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
	"fmt"

	"github.com/mlnoga/luckystack/internal/frame"
	"github.com/mlnoga/luckystack/internal/stats"
)

// StreamingMeanStacker accumulates frames one at a time into a per-pixel
// float64 running mean (§4.4.1), so the full frame set never needs to be
// resident in memory at once. The accumulator itself must be f64: summing
// tens of thousands of [0,1]-normalised float32 samples in float32 loses
// precision to cancellation well before a typical lucky-imaging batch
// finishes.
type StreamingMeanStacker struct {
	height, width int
	origBitDepth  int
	acc           []stats.RunningMean
}

// NewStreamingMeanStacker allocates an empty accumulator sized to match
// the first frame Add will see.
func NewStreamingMeanStacker(height, width, origBitDepth int) *StreamingMeanStacker {
	return &StreamingMeanStacker{
		height:       height,
		width:        width,
		origBitDepth: origBitDepth,
		acc:          make([]stats.RunningMean, height*width),
	}
}

// Add folds one registered frame into the running mean.
func (s *StreamingMeanStacker) Add(f *frame.Frame) error {
	if f.Height != s.height || f.Width != s.width {
		return fmt.Errorf("stacking: mean stacker shape mismatch, got %s want %dx%d", f, s.height, s.width)
	}
	parallelRows(s.height, func(y int) {
		off := y * s.width
		for x := 0; x < s.width; x++ {
			s.acc[off+x].Add(float64(f.Data[off+x]))
		}
	})
	return nil
}

// Count returns the number of frames accumulated so far.
func (s *StreamingMeanStacker) Count() uint64 {
	if len(s.acc) == 0 {
		return 0
	}
	return s.acc[0].Count
}

// Result materializes the current mean as a Frame.
func (s *StreamingMeanStacker) Result() *frame.Frame {
	out := frame.NewFrame(s.height, s.width, s.origBitDepth)
	for i, a := range s.acc {
		out.Data[i] = float32(a.Mean())
	}
	return out
}

// StackMean is the non-streaming convenience entry point: stack a fully
// in-memory batch of already-registered frames via the same streaming
// accumulator (§4.4.1).
func StackMean(frames []*frame.Frame) (*frame.Frame, error) {
	if err := checkSameShape(frames); err != nil {
		return nil, err
	}
	s := NewStreamingMeanStacker(frames[0].Height, frames[0].Width, frames[0].OrigBitDepth)
	for _, f := range frames {
		if err := s.Add(f); err != nil {
			return nil, err
		}
	}
	return s.Result(), nil
}

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
	"math"
	"sync"

	"github.com/mlnoga/luckystack/internal/frame"
)

// DrizzleParams controls the super-resolution drizzle stacker (§4.4.5).
type DrizzleParams struct {
	// Scale is the output resolution multiplier relative to the input
	// frames, e.g. 2 doubles both dimensions.
	Scale int
	// PixFrac shrinks each input pixel's footprint before splatting it
	// onto the output grid, in (0,1]; smaller values sharpen the result
	// at the cost of more output pixels receiving no contribution from
	// any single frame.
	PixFrac float64
}

// DefaultDrizzleParams matches common lucky-imaging drizzle defaults.
func DefaultDrizzleParams() DrizzleParams {
	return DrizzleParams{Scale: 2, PixFrac: 0.8}
}

func (p DrizzleParams) validate() error {
	if p.Scale < 1 {
		return fmt.Errorf("stacking: drizzle scale must be >= 1, got %d", p.Scale)
	}
	if p.PixFrac <= 0 || p.PixFrac > 1 {
		return fmt.Errorf("stacking: drizzle pixfrac must be in (0,1], got %f", p.PixFrac)
	}
	return nil
}

// boxOverlap returns the length of overlap between [cellLo,cellHi) and
// [dropLo,dropHi), or 0 if they do not intersect.
func boxOverlap(cellLo, cellHi, dropLo, dropHi float64) float64 {
	lo := math.Max(cellLo, dropLo)
	hi := math.Min(cellHi, dropHi)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// splatFrame drizzles one registered frame into acc: every input pixel is
// mapped to its aligned location on the output grid, shrunk by PixFrac,
// and its value is distributed across the output cells it overlaps,
// weighted by the overlap area (§4.4.5).
func splatFrame(acc *frame.DrizzleAccumulator, f *frame.Frame, offset frame.AlignmentOffset, params DrizzleParams) {
	scale := float64(params.Scale)
	halfDrop := 0.5 * params.PixFrac * scale

	for y := 0; y < f.Height; y++ {
		oy := (float64(y) - offset.Dy) * scale
		dropY0, dropY1 := oy-halfDrop, oy+halfDrop
		y0 := clampInt(int(math.Floor(dropY0)), 0, acc.Height-1)
		y1 := clampInt(int(math.Ceil(dropY1)), 0, acc.Height)

		for x := 0; x < f.Width; x++ {
			v := float64(f.At(y, x))
			ox := (float64(x) - offset.Dx) * scale
			dropX0, dropX1 := ox-halfDrop, ox+halfDrop
			x0 := clampInt(int(math.Floor(dropX0)), 0, acc.Width-1)
			x1 := clampInt(int(math.Ceil(dropX1)), 0, acc.Width)

			for oy := y0; oy < y1; oy++ {
				wy := boxOverlap(float64(oy), float64(oy+1), dropY0, dropY1)
				if wy <= 0 {
					continue
				}
				rowOff := oy * acc.Width
				for ox := x0; ox < x1; ox++ {
					wx := boxOverlap(float64(ox), float64(ox+1), dropX0, dropX1)
					if wx <= 0 {
						continue
					}
					wgt := wy * wx
					idx := rowOff + ox
					acc.Data[idx] += wgt * v
					acc.Weights[idx] += wgt
				}
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StackDrizzle splats a registered frame batch onto a super-resolution
// output grid sequentially, one frame at a time (§4.4.5 streaming
// variant). offsets[i] is the alignment offset already computed for
// frames[i] against the stacking reference.
func StackDrizzle(frames []*frame.Frame, offsets []frame.AlignmentOffset, params DrizzleParams) (*frame.Frame, error) {
	if err := checkSameShape(frames); err != nil {
		return nil, err
	}
	if len(offsets) != len(frames) {
		return nil, fmt.Errorf("stacking: drizzle got %d offsets for %d frames", len(offsets), len(frames))
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	f0 := frames[0]
	acc := frame.NewDrizzleAccumulator(f0.Height*params.Scale, f0.Width*params.Scale)
	for i, f := range frames {
		splatFrame(acc, f, offsets[i], params)
	}
	return acc.Finalize(f0.OrigBitDepth), nil
}

// StackDrizzleParallel splats each frame into its own accumulator
// concurrently, then reduces them with DrizzleAccumulator.Add (§4.4.5
// parallel variant). Trades memory (one accumulator per worker) for
// wall-clock time on large batches.
func StackDrizzleParallel(frames []*frame.Frame, offsets []frame.AlignmentOffset, params DrizzleParams) (*frame.Frame, error) {
	if err := checkSameShape(frames); err != nil {
		return nil, err
	}
	if len(offsets) != len(frames) {
		return nil, fmt.Errorf("stacking: drizzle got %d offsets for %d frames", len(offsets), len(frames))
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	f0 := frames[0]
	outH, outW := f0.Height*params.Scale, f0.Width*params.Scale
	workers := numWorkers()
	if workers > len(frames) {
		workers = len(frames)
	}
	partials := make([]*frame.DrizzleAccumulator, workers)
	for i := range partials {
		partials[i] = frame.NewDrizzleAccumulator(outH, outW)
	}

	// Each worker owns one accumulator and a contiguous chunk of frames,
	// so concurrent splatFrame calls never touch the same accumulator.
	var wg sync.WaitGroup
	chunk := (len(frames) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(frames) {
			hi = len(frames)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				splatFrame(partials[w], frames[i], offsets[i], params)
			}
		}(w, lo, hi)
	}
	wg.Wait()

	acc := frame.NewDrizzleAccumulator(outH, outW)
	for _, p := range partials {
		acc.Add(p)
	}
	return acc.Finalize(f0.OrigBitDepth), nil
}

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
	"github.com/mlnoga/luckystack/internal/stats"
)

// SigmaClipParams controls the iterative rejection of StackSigmaClip.
type SigmaClipParams struct {
	// Kappa is the number of standard deviations beyond which a sample is
	// rejected on each pass.
	Kappa float64
	// MaxIterations bounds how many reject-and-recompute passes run; the
	// loop also stops early once a pass rejects nothing.
	MaxIterations int
}

// DefaultSigmaClipParams matches common lucky-imaging stacking defaults.
func DefaultSigmaClipParams() SigmaClipParams {
	return SigmaClipParams{Kappa: 2.5, MaxIterations: 5}
}

// StackSigmaClip computes the per-pixel mean of a fully in-memory batch
// after iteratively rejecting samples more than Kappa standard deviations
// from the running mean (§4.4.3), rejecting seeing-induced outliers (hot
// pixels, satellite trails, momentary blur spikes) that a plain mean would
// average into the result.
func StackSigmaClip(frames []*frame.Frame, params SigmaClipParams) (*frame.Frame, error) {
	if err := checkSameShape(frames); err != nil {
		return nil, err
	}
	h, w := frames[0].Height, frames[0].Width
	n := len(frames)
	out := frame.NewFrame(h, w, frames[0].OrigBitDepth)

	parallelRows(h, func(y int) {
		vals := make([]float32, n)
		keep := make([]float32, 0, n)
		off := y * w
		for x := 0; x < w; x++ {
			for i, f := range frames {
				vals[i] = f.Data[off+x]
			}
			out.Data[off+x] = sigmaClipPixel(vals, keep[:0], params)
		}
	})
	return out, nil
}

// sigmaClipPixel runs the reject-and-recompute loop for one pixel's sample
// across frames, returning the mean of whatever survives. scratch is
// reused across calls from the same goroutine to avoid reallocating.
func sigmaClipPixel(vals []float32, scratch []float32, params SigmaClipParams) float32 {
	keep := append(scratch, vals...)
	for iter := 0; iter < params.MaxIterations; iter++ {
		if len(keep) < 3 {
			break
		}
		mean, std := stats.MeanStdDev(keep)
		if std == 0 {
			break
		}
		thresh := float32(params.Kappa) * std
		next := keep[:0]
		rejected := false
		for _, v := range keep {
			d := v - mean
			if d < 0 {
				d = -d
			}
			if d > thresh {
				rejected = true
				continue
			}
			next = append(next, v)
		}
		keep = next
		if !rejected {
			break
		}
	}
	if len(keep) == 0 {
		// Every sample was rejected; fall back to the unweighted mean of
		// the original batch rather than dividing by zero (§4.4.3).
		mean, _ := stats.MeanStdDev(vals)
		return mean
	}
	mean, _ := stats.MeanStdDev(keep)
	return mean
}

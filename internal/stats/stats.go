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

// Package stats provides the small set of running-statistics helpers the
// stacking engines, autocrop and AutoStretch need: mean/stddev over a sample,
// and a float64 running accumulator for streaming mean stacking (§4.4.1
// requires the accumulator itself to be f64 to avoid catastrophic
// cancellation over tens of thousands of frames).
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanStdDev returns the mean and population standard deviation of xs.
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	xmean := float32(0)
	for _, x := range xs {
		xmean += x
	}
	xmean /= float32(len(xs))
	xvar := float32(0)
	for _, x := range xs {
		diff := x - xmean
		xvar += diff * diff
	}
	xvar /= float32(len(xs))
	return xmean, float32(math.Sqrt(float64(xvar)))
}

// MeanStdDev64 is the float64 equivalent, used where accumulation precision
// matters (e.g. scoring over long streaming batches).
func MeanStdDev64(xs []float64) (mean, stdDev float64) {
	mean = stat.Mean(xs, nil)
	variance := stat.PopVariance(xs, nil)
	return mean, math.Sqrt(variance)
}

// RunningMean accumulates a streaming mean in f64. Zero value is ready to use.
type RunningMean struct {
	Sum   float64
	Count uint64
}

// Add folds one sample into the running mean.
func (r *RunningMean) Add(v float64) {
	r.Sum += v
	r.Count++
}

// Mean returns the current mean, or 0 if no samples were added.
func (r *RunningMean) Mean() float64 {
	if r.Count == 0 {
		return 0
	}
	return r.Sum / float64(r.Count)
}

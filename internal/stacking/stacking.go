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

// Package stacking combines registered frames into a single output raster
// (§4.4): streaming mean, median, sigma-clip, multi-point alignment-point
// (AP) stacking, and drizzle. Every engine below operates on frames that
// have already been through internal/registration; this package never
// computes an alignment offset itself, except inside multi-point stacking,
// which runs its own global pre-alignment against frame 0 and a per-AP
// local refinement.
package stacking

import (
	"fmt"
	"runtime"

	"github.com/mlnoga/luckystack/internal/frame"
)

// Mode selects a stacking engine (§4.4).
type Mode int

const (
	Mean Mode = iota
	Median
	SigmaClip
	MultiPointAP
	Drizzle
)

// numWorkers caps goroutine fan-out for the batch-parallel engines below,
// following the teacher's semaphore-channel pattern
// (internal/ops/stack/stack.go's batch parallelism).
func numWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// parallelRows fans fn out across row indices [0,rows) using a bounded
// semaphore channel, the same idiom the teacher's OpParallel.ApplyToFiles
// uses for per-file fan-out.
func parallelRows(rows int, fn func(row int)) {
	workers := numWorkers()
	if rows < 4*workers {
		for r := 0; r < rows; r++ {
			fn(r)
		}
		return
	}
	sem := make(chan bool, workers)
	for r := 0; r < rows; r++ {
		sem <- true
		go func(r int) {
			defer func() { <-sem }()
			fn(r)
		}(r)
	}
	for i := 0; i < workers; i++ {
		sem <- true
	}
}

// checkSameShape returns an error if any frame after the first differs in
// dimensions from it (§3 invariant: stacking requires identical shapes).
func checkSameShape(frames []*frame.Frame) error {
	if len(frames) == 0 {
		return fmt.Errorf("stacking: no frames supplied")
	}
	ref := frames[0]
	for i, f := range frames[1:] {
		if !ref.SameShape(f) {
			return fmt.Errorf("stacking: frame %d shape %s does not match frame 0 shape %s", i+1, f, ref)
		}
	}
	return nil
}

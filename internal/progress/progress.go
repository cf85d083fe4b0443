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

// Package progress defines how the pipeline orchestrator reports stage
// and frame-level progress to a caller (§6.2), independent of whether
// that caller is a terminal, a log sink, or an HTTP job poller.
package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/mlnoga/luckystack/internal/applog"
)

// Stage identifies one step of the pipeline (§2's dependency order).
type Stage string

const (
	StageRead        Stage = "read"
	StageDebayer     Stage = "debayer"
	StageScore       Stage = "score"
	StageSelect      Stage = "select"
	StageAlign       Stage = "align"
	StageStack       Stage = "stack"
	StageRestoration Stage = "restoration"
	StageFilter      Stage = "filter"
	StageWrite       Stage = "write"
)

// Reporter receives progress updates from a running pipeline. Methods
// must be safe to call concurrently since streaming mode reports from
// multiple worker goroutines.
type Reporter interface {
	// StageStarted announces a new stage is beginning, with the total
	// number of frames or units of work it expects to process.
	StageStarted(stage Stage, total int)

	// FrameDone announces one unit of work within the current stage
	// completed, identified by its source frame index.
	FrameDone(stage Stage, index int)

	// StageDone announces the current stage finished.
	StageDone(stage Stage)

	// Failed announces the run aborted with an error.
	Failed(stage Stage, err error)
}

// TerminalReporter logs stage transitions and periodic frame counts via
// applog.Printf, the way a CLI run reports progress to its invoking shell.
type TerminalReporter struct {
	done  atomic.Int64
	total atomic.Int64
}

// NewTerminalReporter returns a Reporter that logs to the default logger.
func NewTerminalReporter() *TerminalReporter {
	return &TerminalReporter{}
}

func (r *TerminalReporter) StageStarted(stage Stage, total int) {
	r.done.Store(0)
	r.total.Store(int64(total))
	applog.Printf("%s: starting, %d frames\n", stage, total)
}

func (r *TerminalReporter) FrameDone(stage Stage, index int) {
	done := r.done.Add(1)
	total := r.total.Load()
	if applog.Verbose > 0 && total > 0 && (done%64 == 0 || done == total) {
		applog.Printf("%s: %d/%d\n", stage, done, total)
	}
}

func (r *TerminalReporter) StageDone(stage Stage) {
	applog.Printf("%s: done, %d frames\n", stage, r.done.Load())
}

func (r *TerminalReporter) Failed(stage Stage, err error) {
	applog.Printf("%s: failed: %v\n", stage, err)
}

// NoopReporter discards every update, for callers that don't care.
type NoopReporter struct{}

func (NoopReporter) StageStarted(Stage, int)  {}
func (NoopReporter) FrameDone(Stage, int)     {}
func (NoopReporter) StageDone(Stage)          {}
func (NoopReporter) Failed(Stage, error)      {}

// CountingReporter accumulates per-stage done/total counts in memory,
// for tests and for an HTTP job-status endpoint to poll without needing
// a log sink (§6.2, job-submission API).
type CountingReporter struct {
	mu     chan struct{} // 1-buffered mutex, avoids pulling in sync.Mutex for one field set
	counts map[Stage]*stageCount
}

type stageCount struct {
	done, total int
	err         error
}

// NewCountingReporter returns a Reporter suitable for concurrent polling.
func NewCountingReporter() *CountingReporter {
	r := &CountingReporter{
		mu:     make(chan struct{}, 1),
		counts: make(map[Stage]*stageCount),
	}
	r.mu <- struct{}{}
	return r
}

func (r *CountingReporter) lock()   { <-r.mu }
func (r *CountingReporter) unlock() { r.mu <- struct{}{} }

func (r *CountingReporter) StageStarted(stage Stage, total int) {
	r.lock()
	defer r.unlock()
	r.counts[stage] = &stageCount{total: total}
}

func (r *CountingReporter) FrameDone(stage Stage, index int) {
	r.lock()
	defer r.unlock()
	c, ok := r.counts[stage]
	if !ok {
		c = &stageCount{}
		r.counts[stage] = c
	}
	c.done++
}

func (r *CountingReporter) StageDone(stage Stage) {}

func (r *CountingReporter) Failed(stage Stage, err error) {
	r.lock()
	defer r.unlock()
	c, ok := r.counts[stage]
	if !ok {
		c = &stageCount{}
		r.counts[stage] = c
	}
	c.err = err
}

// Snapshot returns a human-readable summary of progress so far, e.g. for
// a job-status JSON response.
func (r *CountingReporter) Snapshot() map[Stage]string {
	r.lock()
	defer r.unlock()
	out := make(map[Stage]string, len(r.counts))
	for stage, c := range r.counts {
		if c.err != nil {
			out[stage] = fmt.Sprintf("failed: %v", c.err)
			continue
		}
		out[stage] = fmt.Sprintf("%d/%d", c.done, c.total)
	}
	return out
}

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

package progress

import (
	"errors"
	"strings"
	"testing"
)

func TestCountingReporterTracksProgress(t *testing.T) {
	r := NewCountingReporter()
	r.StageStarted(StageAlign, 3)
	r.FrameDone(StageAlign, 0)
	r.FrameDone(StageAlign, 1)

	snap := r.Snapshot()
	if snap[StageAlign] != "2/3" {
		t.Errorf("expected 2/3, got %s", snap[StageAlign])
	}
}

func TestCountingReporterRecordsFailure(t *testing.T) {
	r := NewCountingReporter()
	r.StageStarted(StageStack, 5)
	r.Failed(StageStack, errors.New("boom"))

	snap := r.Snapshot()
	if !strings.Contains(snap[StageStack], "failed") {
		t.Errorf("expected failure to be recorded, got %s", snap[StageStack])
	}
}

func TestNoopReporterDoesNotPanic(t *testing.T) {
	var r Reporter = NoopReporter{}
	r.StageStarted(StageRead, 10)
	r.FrameDone(StageRead, 0)
	r.StageDone(StageRead)
	r.Failed(StageRead, errors.New("x"))
}

func TestTerminalReporterImplementsReporter(t *testing.T) {
	var r Reporter = NewTerminalReporter()
	r.StageStarted(StageWrite, 1)
	r.FrameDone(StageWrite, 0)
	r.StageDone(StageWrite)
}

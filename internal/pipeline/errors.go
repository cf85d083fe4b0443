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

package pipeline

import (
	"fmt"

	"github.com/mlnoga/luckystack/internal/progress"
)

// ErrorKind tags which class of failure aborted a run (§7).
type ErrorKind int

const (
	InvalidSource ErrorKind = iota
	FrameIndexOutOfRange
	InvalidDimensions
	EmptySequence
	PipelineErrorKind
	IoError
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidSource:
		return "InvalidSource"
	case FrameIndexOutOfRange:
		return "FrameIndexOutOfRange"
	case InvalidDimensions:
		return "InvalidDimensions"
	case EmptySequence:
		return "EmptySequence"
	case PipelineErrorKind:
		return "PipelineError"
	case IoError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is the orchestrator's fatal-error type: it records which stage
// failed and why, so the CLI can print a single "ERROR: <message>" line
// (§7) and the caller can inspect Kind/Stage programmatically.
type Error struct {
	Kind    ErrorKind
	Stage   progress.Stage
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at stage %s: %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, stage progress.Stage, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, stage progress.Stage, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: cause.Error(), Cause: cause}
}

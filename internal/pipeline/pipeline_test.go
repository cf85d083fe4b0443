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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlnoga/luckystack/internal/compute/cpubackend"
	"github.com/mlnoga/luckystack/internal/frame"
	"github.com/mlnoga/luckystack/internal/pipelinecfg"
	"github.com/mlnoga/luckystack/internal/source"
)

func flatFrame(h, w int, v float32) *frame.Frame {
	f := frame.NewFrame(h, w, 16)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func baseConfig(output string) pipelinecfg.Config {
	cfg := pipelinecfg.Default()
	cfg.Selection.TopFraction = 1.0
	cfg.Stacking.Mode = "mean"
	cfg.Restoration = pipelinecfg.RestorationConfig{}
	cfg.Output = output
	return cfg
}

func TestRunRejectsEmptySource(t *testing.T) {
	reader := source.NewMemoryReader(frame.SourceInfo{Width: 8, Height: 8}, nil)
	orch := New(baseConfig(filepath.Join(t.TempDir(), "out.png")), cpubackend.New(), nil)
	err := orch.Run(reader)
	if err == nil {
		t.Fatal("expected error for empty source")
	}
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *pipeline.Error, got %T", err)
	}
	if pe.Kind != EmptySequence {
		t.Errorf("expected EmptySequence, got %s", pe.Kind)
	}
}

func TestRunWritesOutputFile(t *testing.T) {
	frames := []*frame.Frame{flatFrame(8, 8, 0.3), flatFrame(8, 8, 0.3), flatFrame(8, 8, 0.3)}
	reader := source.NewMemoryReader(frame.SourceInfo{Width: 8, Height: 8}, frames)
	output := filepath.Join(t.TempDir(), "out.png")
	orch := New(baseConfig(output), cpubackend.New(), nil)
	if err := orch.Run(reader); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if orch.FilteredMono() == nil {
		t.Fatal("expected a filtered mono output")
	}
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty output file at %s, err=%v", output, err)
	}
}

func TestInvalidateFromForcesStageRerun(t *testing.T) {
	frames := []*frame.Frame{flatFrame(8, 8, 0.2), flatFrame(8, 8, 0.2)}
	reader := source.NewMemoryReader(frame.SourceInfo{Width: 8, Height: 8}, frames)
	output := filepath.Join(t.TempDir(), "out.png")
	orch := New(baseConfig(output), cpubackend.New(), nil)
	if err := orch.Run(reader); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	for s := stageScore; s < stageCount; s++ {
		if !orch.cache.valid[s] {
			t.Fatalf("expected stage %d valid after first run", s)
		}
	}

	orch.InvalidateFrom(stageStack)
	if !orch.cache.valid[stageScore] || !orch.cache.valid[stageSelect] || !orch.cache.valid[stageAlign] {
		t.Error("InvalidateFrom(stageStack) should not clear earlier stages")
	}
	if orch.cache.valid[stageStack] || orch.cache.valid[stageRestore] || orch.cache.valid[stageFilter] {
		t.Error("InvalidateFrom(stageStack) should clear stageStack and everything downstream")
	}

	if err := orch.Run(reader); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	for s := stageScore; s < stageCount; s++ {
		if !orch.cache.valid[s] {
			t.Fatalf("expected stage %d valid after second run", s)
		}
	}
}

func TestSetConfigInvalidatesFromScore(t *testing.T) {
	frames := []*frame.Frame{flatFrame(8, 8, 0.2), flatFrame(8, 8, 0.2)}
	reader := source.NewMemoryReader(frame.SourceInfo{Width: 8, Height: 8}, frames)
	output := filepath.Join(t.TempDir(), "out.png")
	cfg := baseConfig(output)
	orch := New(cfg, cpubackend.New(), nil)
	if err := orch.Run(reader); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	cfg.Selection.TopFraction = 0.5
	orch.SetConfig(cfg)
	for s := stageScore; s < stageCount; s++ {
		if orch.cache.valid[s] {
			t.Fatalf("expected stage %d invalid after SetConfig", s)
		}
	}
}

func TestForceMonoSkipsDebayering(t *testing.T) {
	frames := []*frame.Frame{flatFrame(8, 8, 0.4), flatFrame(8, 8, 0.4)}
	reader := source.NewMemoryReader(frame.SourceInfo{Width: 8, Height: 8, ColorMode: frame.BayerRGGB}, frames)
	cfg := baseConfig(filepath.Join(t.TempDir(), "out.png"))
	cfg.ForceMono = true
	orch := New(cfg, cpubackend.New(), nil)
	if err := orch.Run(reader); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if orch.FilteredMono() == nil {
		t.Fatal("expected mono output when ForceMono is set")
	}
	if orch.FilteredColor() != nil {
		t.Fatal("expected no color output when ForceMono is set")
	}
}

func TestErrorKindStringsAreDistinct(t *testing.T) {
	kinds := []ErrorKind{InvalidSource, FrameIndexOutOfRange, InvalidDimensions, EmptySequence, PipelineErrorKind, IoError}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		if s == "" || s == "Unknown" {
			t.Errorf("ErrorKind %d stringified to %q", k, s)
		}
		if seen[s] {
			t.Errorf("duplicate ErrorKind string %q", s)
		}
		seen[s] = true
	}
}

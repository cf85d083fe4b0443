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

package quality

import (
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/luckystack/internal/frame"
)

func TestLaplacianVarianceFlatIsZero(t *testing.T) {
	f := frame.NewFrame(16, 16, 8)
	for i := range f.Data {
		f.Data[i] = 0.5
	}
	if v := LaplacianVariance(f); v != 0 {
		t.Errorf("flat frame should score 0 variance, got %f", v)
	}
}

func TestLaplacianVarianceSharperScoresHigher(t *testing.T) {
	sharp := frame.NewFrame(32, 32, 8)
	blurred := frame.NewFrame(32, 32, 8)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := float32(0)
			if (x/4)%2 == 0 {
				v = 1
			}
			sharp.Set(y, x, v)
			blurred.Set(y, x, 0.5)
		}
	}
	if LaplacianVariance(sharp) <= LaplacianVariance(blurred) {
		t.Errorf("checkerboard frame should score higher than flat frame")
	}
}

func TestRankStableOrderAndTieBreak(t *testing.T) {
	scores := map[frame.FrameIndex]frame.QualityScore{
		0: {Composite: 5},
		1: {Composite: 5},
		2: {Composite: 9},
		3: {Composite: 1},
	}
	ranked := Rank(scores)
	if ranked[0].Index != 2 {
		t.Fatalf("expected frame 2 to rank first, got %d", ranked[0].Index)
	}
	if ranked[1].Index != 0 || ranked[2].Index != 1 {
		t.Fatalf("tied frames should break ties by ascending index, got order %v %v", ranked[1].Index, ranked[2].Index)
	}
	if ranked[3].Index != 3 {
		t.Fatalf("expected frame 3 to rank last, got %d", ranked[3].Index)
	}
}

func TestSelectTopFractionAlwaysAtLeastOne(t *testing.T) {
	scores := map[frame.FrameIndex]frame.QualityScore{0: {Composite: 1}, 1: {Composite: 2}}
	sel := SelectTopFraction(scores, 0.01)
	if len(sel) != 1 {
		t.Fatalf("expected at least 1 frame selected, got %d", len(sel))
	}
	if sel[0] != 1 {
		t.Fatalf("expected highest-scoring frame 1, got %d", sel[0])
	}
}

func TestScoreRandomFramesNeverNaN(t *testing.T) {
	rng := fastrand.RNG{}
	f := frame.NewFrame(24, 24, 16)
	for i := range f.Data {
		f.Data[i] = float32(rng.Uint32n(65536)) / 65536
	}
	sc := Score(f)
	if sc.LaplacianVariance < 0 {
		t.Errorf("variance should never be negative, got %f", sc.LaplacianVariance)
	}
}

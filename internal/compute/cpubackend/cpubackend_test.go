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

package cpubackend

import (
	"math"
	"testing"

	"github.com/valyala/fastrand"
)

func TestFFTRoundTrip(t *testing.T) {
	b := New()
	const h, w = 16, 16
	rng := fastrand.RNG{}
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(rng.Uint32n(1000)) / 1000
	}
	buf, err := b.Upload(data, h, w)
	if err != nil {
		t.Fatal(err)
	}
	spec, err := b.FFT2D(buf)
	if err != nil {
		t.Fatal(err)
	}
	back, err := b.IFFT2DReal(spec)
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Download(back)
	if err != nil {
		t.Fatal(err)
	}
	for i := range data {
		if math.Abs(float64(got[i]-data[i])) > 1e-4 {
			t.Fatalf("roundtrip mismatch at %d: got %f want %f", i, got[i], data[i])
		}
	}
}

func TestHannWindowEdgesZero(t *testing.T) {
	b := New()
	buf, err := b.HannWindow(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	bb := buf.(*buffer)
	if bb.real[0] > 1e-9 {
		t.Errorf("corner should be ~0, got %f", bb.real[0])
	}
	center := bb.real[4*8+4]
	if center < 0.9 {
		t.Errorf("center should be near 1, got %f", center)
	}
}

func TestShiftBilinearZeroIsIdentity(t *testing.T) {
	b := New()
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	buf, _ := b.Upload(data, 3, 3)
	shifted, err := b.ShiftBilinear(buf, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := b.Download(shifted)
	for i := range data {
		if got[i] != data[i] {
			t.Errorf("at %d got %f want %f", i, got[i], data[i])
		}
	}
}

func TestFindPeak(t *testing.T) {
	b := New()
	data := make([]float32, 5*5)
	data[2*5+3] = 9.0
	buf, _ := b.Upload(data, 5, 5)
	row, col, val, err := b.FindPeak(buf)
	if err != nil {
		t.Fatal(err)
	}
	if row != 2 || col != 3 || val != 9.0 {
		t.Errorf("got (%d,%d,%f) want (2,3,9.0)", row, col, val)
	}
}

func TestDivideRealClampsZero(t *testing.T) {
	b := New()
	a, _ := b.Upload([]float32{1, 1}, 1, 2)
	zero, _ := b.Upload([]float32{0, 0}, 1, 2)
	q, err := b.DivideReal(a, zero)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := b.Download(q)
	if math.IsInf(float64(got[0]), 0) || math.IsNaN(float64(got[0])) {
		t.Fatalf("division by clamped zero should not produce Inf/NaN, got %f", got[0])
	}
}

func TestShapeMismatch(t *testing.T) {
	b := New()
	a, _ := b.Upload([]float32{1, 2}, 1, 2)
	c, _ := b.Upload([]float32{1, 2, 3}, 1, 3)
	if _, err := b.MultiplyReal(a, c); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

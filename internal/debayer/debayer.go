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

// Package debayer demosaics a single-channel Bayer-mosaic Frame into a
// three-channel ColorFrame. The pipeline only needs the operation "raw
// mosaic -> three-channel image" (the exact kernel is a named but
// unspecified external collaborator); Bilinear is the one concrete
// implementation shipped, adapted from the teacher's per-pattern,
// per-channel RGGB routines into one routine parameterised by the
// 2x2 tile's red-pixel offset.
package debayer

import "github.com/mlnoga/luckystack/internal/frame"

// Method selects a demosaicing kernel.
type Method int

const (
	Bilinear Method = iota
)

// offsets returns the (row, col) position of the R and B samples
// within each 2x2 Bayer tile for the given mosaic layout.
func offsets(mode frame.ColorMode) (rRow, rCol, bRow, bCol int) {
	switch mode {
	case frame.BayerRGGB:
		return 0, 0, 1, 1
	case frame.BayerGRBG:
		return 0, 1, 1, 0
	case frame.BayerGBRG:
		return 1, 0, 0, 1
	case frame.BayerBGGR:
		return 1, 1, 0, 0
	default:
		return 0, 0, 1, 1
	}
}

// Debayer demosaics a mosaic frame via bilinear interpolation, trimming
// to an even width/height so every 2x2 tile is complete.
func Debayer(f *frame.Frame, mode frame.ColorMode, method Method) *frame.ColorFrame {
	width := f.Width &^ 1
	height := f.Height &^ 1
	rRow, rCol, bRow, bCol := offsets(mode)

	cf := frame.NewColorFrame(height, width, f.OrigBitDepth)

	at := func(row, col int) float32 {
		if row < 0 {
			row = 0
		}
		if row >= height {
			row = height - 1
		}
		if col < 0 {
			col = 0
		}
		if col >= width {
			col = width - 1
		}
		return f.At(row, col)
	}

	isRed := func(row, col int) bool { return row%2 == rRow && col%2 == rCol }
	isBlue := func(row, col int) bool { return row%2 == bRow && col%2 == bCol }

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			switch {
			case isRed(row, col):
				cf.R.Set(row, col, at(row, col))
				cf.G.Set(row, col, avg4(at(row-1, col), at(row+1, col), at(row, col-1), at(row, col+1)))
				cf.B.Set(row, col, avg4(at(row-1, col-1), at(row-1, col+1), at(row+1, col-1), at(row+1, col+1)))
			case isBlue(row, col):
				cf.B.Set(row, col, at(row, col))
				cf.G.Set(row, col, avg4(at(row-1, col), at(row+1, col), at(row, col-1), at(row, col+1)))
				cf.R.Set(row, col, avg4(at(row-1, col-1), at(row-1, col+1), at(row+1, col-1), at(row+1, col+1)))
			default:
				// green site: red/blue neighbours lie on the two axes,
				// whichever axis holds red vs blue depends on row parity.
				cf.G.Set(row, col, at(row, col))
				if row%2 == rRow {
					cf.R.Set(row, col, avg2(at(row, col-1), at(row, col+1)))
					cf.B.Set(row, col, avg2(at(row-1, col), at(row+1, col)))
				} else {
					cf.B.Set(row, col, avg2(at(row, col-1), at(row, col+1)))
					cf.R.Set(row, col, avg2(at(row-1, col), at(row+1, col)))
				}
			}
		}
	}
	return cf
}

func avg2(a, b float32) float32 { return 0.5 * (a + b) }
func avg4(a, b, c, d float32) float32 { return 0.25 * (a + b + c + d) }

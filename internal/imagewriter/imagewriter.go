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

// Package imagewriter quantises normalised [0,1] frames back out to disk
// as 16-bit TIFF or 8-bit PNG (§6.4), picking the format from the output
// file extension the way the teacher's WriteTIFF16/WriteJPG pair does.
package imagewriter

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/mlnoga/luckystack/internal/frame"
)

// SaveMono writes a single-channel frame to path as 16-bit TIFF or 8-bit
// PNG, chosen by the file extension (§6.4). Samples are scaled to the
// full range of the output format; f.OrigBitDepth is not consulted.
func SaveMono(f *frame.Frame, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imagewriter: create %s: %w", path, err)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	defer w.Flush()

	img := monoToImage(f)
	return encode(w, path, img)
}

// SaveColor writes a three-channel frame to path the same way SaveMono
// does for one channel.
func SaveColor(cf *frame.ColorFrame, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imagewriter: create %s: %w", path, err)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	defer w.Flush()

	img := colorToImage(cf)
	return encode(w, path, img)
}

func encode(w *bufio.Writer, path string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
	case ".png":
		// PNG output is 8 bits per sample: requantise the 16-bit image.
		var img8 draw.Image = image.NewRGBA(img.Bounds())
		if _, ok := img.(*image.Gray16); ok {
			img8 = image.NewGray(img.Bounds())
		}
		draw.Draw(img8, img8.Bounds(), img, img.Bounds().Min, draw.Src)
		return png.Encode(w, img8)
	default:
		return fmt.Errorf("imagewriter: unsupported extension for %s, want .tif/.tiff/.png", path)
	}
}

// monoToImage quantises f to 16 bits. Mono output always goes through
// image.Gray16 here; encode requantises it to 8-bit image.Gray when the
// chosen format is PNG.
func monoToImage(f *frame.Frame) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := quantise16(f.At(y, x))
			img.SetGray16(x, y, color.Gray16{Y: v})
		}
	}
	return img
}

func colorToImage(cf *frame.ColorFrame) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, cf.R.Width, cf.R.Height))
	for y := 0; y < cf.R.Height; y++ {
		for x := 0; x < cf.R.Width; x++ {
			r := quantise16(cf.R.At(y, x))
			g := quantise16(cf.G.At(y, x))
			b := quantise16(cf.B.At(y, x))
			img.SetRGBA64(x, y, color.RGBA64{R: r, G: g, B: b, A: 0xffff})
		}
	}
	return img
}

// quantise16 clamps a normalised sample into [0,1], replacing NaNs with
// zero so the TIFF/PNG encoders never choke on them, then scales to the
// full 16-bit range regardless of the frame's original bit depth; encode
// reduces that to 8 bits for PNG output.
func quantise16(v float32) uint16 {
	if math.IsNaN(float64(v)) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint16(v * 65535)
}

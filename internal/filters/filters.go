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

// Package filters holds the post-stack tone-mapping filters the pipeline
// offers as a final, optional stage after restoration: AutoStretch,
// HistogramStretch, Gamma, BrightnessContrast, UnsharpMask and
// GaussianBlur. Each takes a *frame.Frame of normalised [0,1] samples and
// returns a new Frame, leaving its input unchanged.
package filters

import (
	"math"

	"github.com/mlnoga/luckystack/internal/frame"
	"github.com/mlnoga/luckystack/internal/stats"
)

// reflect mirrors an out-of-range coordinate back into [0, size-1].
func reflect(size, x int) int {
	if x < 0 {
		return -x - 1
	}
	if x >= size {
		return 2*size - x - 1
	}
	return x
}

// GaussianKernel1D builds a normalised 1-D Gaussian kernel via the
// definite integral of the Gaussian over each tap, truncated once the
// tails fall below 1% mass.
func GaussianKernel1D(sigma float32) []float32 {
	const acceptOut = 0.01
	integral := func(x float32) float32 {
		return 0.5 * (1 + float32(math.Erf(float64(x)/(math.Sqrt2*float64(sigma)))))
	}
	radius := 0
	for {
		if integral(float32(-0.5)-float32(radius)) < acceptOut {
			radius--
			break
		}
		radius++
	}
	width := 2*radius + 1
	kernel := make([]float32, width)

	sum := float32(0)
	lower := integral(float32(-0.5) - float32(radius))
	for i := 0; i <= radius; i++ {
		upper := integral(float32(-0.5) - float32(radius) + float32(i+1))
		delta := upper - lower
		kernel[i] = delta
		sum += delta
		lower = upper
	}
	for i := 1; i <= radius; i++ {
		v := kernel[radius-i]
		kernel[radius+i] = v
		sum += v
	}
	factor := 1 / sum
	for i := range kernel {
		kernel[i] *= factor
	}
	return kernel
}

func convolve1DX(res, data []float32, width int, kernel []float32) {
	height := len(data) / width
	k := len(kernel) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := float32(0)
			for i := -k; i <= k; i++ {
				x1 := reflect(width, x+i)
				sum += data[y*width+x1] * kernel[i+k]
			}
			res[y*width+x] = sum
		}
	}
}

func convolve1DY(res, data []float32, width int, kernel []float32) {
	height := len(data) / width
	k := len(kernel) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := float32(0)
			for i := -k; i <= k; i++ {
				y1 := reflect(height, y+i)
				sum += data[y1*width+x] * kernel[i+k]
			}
			res[y*width+x] = sum
		}
	}
}

// GaussianBlur returns a new Frame blurred by a separable Gaussian of
// the given sigma.
func GaussianBlur(f *frame.Frame, sigma float32) *frame.Frame {
	kernel := GaussianKernel1D(sigma)
	tmp := make([]float32, len(f.Data))
	res := make([]float32, len(f.Data))
	convolve1DX(tmp, f.Data, f.Width, kernel)
	convolve1DY(res, tmp, f.Width, kernel)
	return frame.NewFrameFromData(f.Height, f.Width, res, f.OrigBitDepth)
}

// UnsharpMask returns a new Frame sharpened by subtracting a Gaussian
// blur and amplifying the residual by gain, leaving samples below
// absThreshold unchanged and clipping the result to [0,1].
func UnsharpMask(f *frame.Frame, sigma, gain, absThreshold float32) *frame.Frame {
	blurred := GaussianBlur(f, sigma)
	res := make([]float32, len(f.Data))
	for i, d := range f.Data {
		if d < absThreshold {
			res[i] = d
			continue
		}
		r := d + (d-blurred.Data[i])*gain
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		res[i] = r
	}
	return frame.NewFrameFromData(f.Height, f.Width, res, f.OrigBitDepth)
}

// Gamma returns a new Frame with each sample raised to 1/gamma, the
// standard display-gamma correction curve.
func Gamma(f *frame.Frame, gamma float32) *frame.Frame {
	exponent := float64(1 / gamma)
	res := make([]float32, len(f.Data))
	for i, v := range f.Data {
		if v < 0 {
			v = 0
		}
		res[i] = float32(math.Pow(float64(v), exponent))
	}
	return frame.NewFrameFromData(f.Height, f.Width, res, f.OrigBitDepth)
}

// BrightnessContrast returns a new Frame with brightness added and
// contrast scaled around the midpoint 0.5, both clipped to [0,1].
func BrightnessContrast(f *frame.Frame, brightness, contrast float32) *frame.Frame {
	res := make([]float32, len(f.Data))
	for i, v := range f.Data {
		r := (v-0.5)*contrast + 0.5 + brightness
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		res[i] = r
	}
	return frame.NewFrameFromData(f.Height, f.Width, res, f.OrigBitDepth)
}

// HistogramStretch linearly remaps [black, white] to [0,1], clipping
// outliers on both ends.
func HistogramStretch(f *frame.Frame, black, white float32) *frame.Frame {
	scale := float32(1)
	if white > black {
		scale = 1 / (white - black)
	}
	res := make([]float32, len(f.Data))
	for i, v := range f.Data {
		r := (v - black) * scale
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		res[i] = r
	}
	return frame.NewFrameFromData(f.Height, f.Width, res, f.OrigBitDepth)
}

// AutoStretch iteratively picks a gamma and black point so the frame's
// mean converges to targetLocation and its standard deviation
// converges to at most targetScale, mirroring the teacher's iterative
// midtone-and-black-point stretch.
func AutoStretch(f *frame.Frame, targetLocation, targetScale float32) *frame.Frame {
	cur := f
	for i := 0; i < 50; i++ {
		mean, stddev := stats.MeanStdDev(cur.Data)
		loc, scale := float32(mean), float32(stddev)

		if loc <= targetLocation*1.01 && scale < targetScale {
			idealGamma := float32(1)
			idealDelta := float32(math.Abs(float64(targetScale) - float64(scale)))
			for gamma := float32(1.0); gamma <= 8; gamma += 0.01 {
				exponent := 1 / float64(gamma)
				newLocLower := float32(math.Pow(float64(loc-scale), exponent))
				newLoc := float32(math.Pow(float64(loc), exponent))
				newLocUpper := float32(math.Pow(float64(loc+scale), exponent))

				black := (targetLocation - newLoc) / (targetLocation - 1)
				sc := float32(1)
				if black < 1 {
					sc = 1 / (1 - black)
				}
				scaledLower := float32(math.Max(0, float64((newLocLower-black)*sc)))
				scaledUpper := float32(math.Max(0, float64((newLocUpper-black)*sc)))

				newScale := (scaledUpper - scaledLower) / 2
				delta := float32(math.Abs(float64(targetScale) - float64(newScale)))
				if delta < idealDelta {
					idealGamma = gamma
					idealDelta = delta
				}
			}
			if idealGamma <= 1.01 {
				break
			}
			cur = Gamma(cur, idealGamma)
		} else if loc > targetLocation*0.99 && scale < targetScale {
			black := (loc - targetLocation) / (1 - targetLocation)
			if black < 0 {
				black = 0
			}
			cur = HistogramStretch(cur, black, 1)
		} else {
			break
		}
	}
	return cur
}

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

// Package qsort provides in-place quicksort and quickselect on []float32,
// used by the stacking engines' per-pixel median and sigma-clip loops.
package qsort

// Sort an array of float32 in ascending order.
// Array must not contain IEEE NaN.
func SortFloat32(a []float32) {
	if len(a) > 1 {
		index := partitionFloat32(a)
		SortFloat32(a[:index+1])
		SortFloat32(a[index+1:])
	}
}

// Partitions an array of float32 with the middle pivot element, and returns the pivot index.
// Values less than the pivot are moved left of the pivot, those greater are moved right.
func partitionFloat32(a []float32) int {
	left, right := 0, len(a)-1
	mid := (left + right) >> 1
	pivot := a[mid]
	l := left - 1
	r := right + 1
	for {
		for {
			l++
			if a[l] >= pivot {
				break
			}
		}
		for {
			r--
			if a[r] <= pivot {
				break
			}
		}
		if l >= r {
			return r
		}
		a[l], a[r] = a[r], a[l]
	}
}

// SelectMedianFloat32 selects the median of an array of float32, partially
// reordering the array. For even-length arrays this selects the upper of
// the two central order statistics; callers average it with the lower one
// when an exact even-n median is required.
func SelectMedianFloat32(a []float32) float32 {
	return SelectFloat32(a, (len(a)>>1)+1)
}

// SelectKthFloat32 selects the k-th lowest element (1-indexed), partially
// reordering the array.
func SelectKthFloat32(a []float32, k int) float32 {
	return SelectFloat32(a, k)
}

// SelectFloat32 selects the k-th lowest element (1-indexed) from an array
// of float32, partially reordering the array. Array must not contain NaN.
func SelectFloat32(a []float32, k int) float32 {
	left, right := 0, len(a)-1
	for left < right {
		mid := (left + right) >> 1
		pivot := a[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if a[l] >= pivot {
					break
				}
			}
			for {
				r--
				if a[r] <= pivot {
					break
				}
			}
			if l >= r {
				break
			}
			a[l], a[r] = a[r], a[l]
		}
		index := r

		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}

// MedianOfEven returns the median of a, averaging the two central order
// statistics when len(a) is even (§4.4.2). Partially reorders a.
func MedianOfEven(a []float32) float32 {
	n := len(a)
	if n == 0 {
		return 0
	}
	if n&1 != 0 {
		return SelectFloat32(a, (n>>1)+1)
	}
	lo := SelectFloat32(a, n>>1)
	hi := SelectFloat32(a[n>>1:], 1)
	return 0.5 * (lo + hi)
}

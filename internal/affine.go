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

package internal

import "gonum.org/v1/gonum/mat"

// applyAffine evaluates the 3-coefficient a0 + a1*y + a2*x map for channel
// c out of a 3*NChannels coefficient vector (spec.md §3). Built on
// gonum/mat, the same numerical dependency solver.go uses.
func applyAffine(coeffs []float64, c int, x, y float64) float64 {
	row := mat.NewVecDense(3, []float64{1, y, x})
	a := mat.NewVecDense(3, coeffs[3*c:3*c+3])
	return mat.Dot(row, a)
}

// MapToChannelZero maps channel ch's (x,y) into channel 0's frame. Per
// spec.md §9 Open Question 3, the mapping's native convention stores
// (y,x) coefficient order, so the X result is deliberately computed from
// YtNto0 and the Y result from XtNto0 - this is not a bug, match it
// literally.
func (c *MultiChannelConfig) MapToChannelZero(ch int, x, y float64) (x0, y0 float64) {
	x0 = applyAffine(c.YtNto0, ch, x, y)
	y0 = applyAffine(c.XtNto0, ch, x, y)
	return x0, y0
}

// MapFromChannelZero maps channel 0's (x,y) into channel ch's frame, the
// same transposed convention as MapToChannelZero.
func (c *MultiChannelConfig) MapFromChannelZero(ch int, x0, y0 float64) (x, y float64) {
	x = applyAffine(c.Yt0toN, ch, x0, y0)
	y = applyAffine(c.Xt0toN, ch, x0, y0)
	return x, y
}

// linearAffine evaluates only the a1*y + a2*x part of the channel c
// transform, dropping the a0 offset. Displacements (deltas), unlike
// absolute positions, transform under the linear part of an affine map
// only.
func linearAffine(coeffs []float64, c int, x, y float64) float64 {
	return coeffs[3*c+1]*y + coeffs[3*c+2]*x
}

// MapDeltaToChannelZero maps a channel ch position delta into channel 0's
// frame, the same transposed convention as MapToChannelZero but without
// the constant term.
func (c *MultiChannelConfig) MapDeltaToChannelZero(ch int, dx, dy float64) (dx0, dy0 float64) {
	dx0 = linearAffine(c.YtNto0, ch, dx, dy)
	dy0 = linearAffine(c.XtNto0, ch, dx, dy)
	return dx0, dy0
}

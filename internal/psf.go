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

// Package internal implements the SMLM iterative multi-peak PSF fitter:
// the PSF model, fit state, single-peak updater, original/LM iterator and
// multi-channel coordinator of spec.md §2-§5.
package internal

import "math"

// PSFModel is implemented once per PSF family (spec.md §4.1). Never share
// state across PSFModel instances - all per-peak state lives on the Peak
// itself.
//
// Background is deliberately not part of a PSFModel's active parameters:
// every family's background Jacobian column is the constant 1 (spec.md
// §4.1), appended generically by the Updater regardless of family.
type PSFModel interface {
	// ActiveParams lists the parameter indices (into Peak.Params) this
	// family fits, in the order they appear in J/H, excluding background.
	ActiveParams() []int

	// Shape returns the peak's model value at integer pixel (px,py),
	// excluding background and the sCMOS term.
	Shape(p *Peak, px, py int) float64

	// ShapeJacobian returns, in ActiveParams() order, the partial
	// derivatives of Shape at (px,py) given the already-computed shape
	// value v.
	ShapeJacobian(p *Peak, px, py int, v float64) []float64

	// UpdateDerived recomputes family-specific derived state (e.g.
	// z-dependent widths, or the 2D family's y_width=x_width coupling)
	// after Params has changed. Must be idempotent.
	UpdateDerived(p *Peak)

	// CheckZRange validates (and for clamp-policy families, clamps) z.
	// Returns false if the peak must be marked ERROR.
	CheckZRange(p *Peak, cfg *FitConfig) bool

	// FootprintHalfWidths computes the half-window (wx,wy) from the
	// peak's current widths, uncapped; callers apply Margin and
	// Hysteresis.
	FootprintHalfWidths(p *Peak) (wx, wy int)
}

// shapeExpGaussian evaluates height*exp(-xWidth*dx^2-yWidth*dy^2), the
// common kernel shared by every Gaussian family (spec.md §4.1).
func shapeExpGaussian(height, xWidth, yWidth, dx, dy float64) float64 {
	return height * math.Exp(-xWidth*dx*dx-yWidth*dy*dy)
}

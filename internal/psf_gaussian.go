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

import "math"

// footprintFromWidth implements the half-window sizing rule of spec.md
// §4.1: round(4*sqrt(1/(2*width))).
func footprintFromWidth(width float64) int {
	if width <= 0 {
		return Margin
	}
	return RoundHalfAwayFromZero(4.0 * math.Sqrt(1.0/(2.0*width)))
}

// GaussianFixedPSF is the "2D-fixed" family: width is a fixed calibration
// constant, not a fitted parameter. Active parameters: height, x, y.
type GaussianFixedPSF struct {
	XWidth, YWidth float64
}

func (m *GaussianFixedPSF) ActiveParams() []int { return []int{ParamHeight, ParamX, ParamY} }

func (m *GaussianFixedPSF) Shape(p *Peak, px, py int) float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	return shapeExpGaussian(p.Params[ParamHeight], m.XWidth, m.YWidth, dx, dy)
}

func (m *GaussianFixedPSF) ShapeJacobian(p *Peak, px, py int, v float64) []float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	h := p.Params[ParamHeight]
	e := 0.0
	if h != 0 {
		e = v / h
	} else {
		e = math.Exp(-m.XWidth*dx*dx - m.YWidth*dy*dy)
	}
	return []float64{
		e,                         // d/dheight
		2 * h * m.XWidth * dx * e, // d/dx
		2 * h * m.YWidth * dy * e, // d/dy
	}
}

func (m *GaussianFixedPSF) UpdateDerived(p *Peak) {
	p.Params[ParamXWidth] = m.XWidth
	p.Params[ParamYWidth] = m.YWidth
}

func (m *GaussianFixedPSF) CheckZRange(p *Peak, cfg *FitConfig) bool { return true }

func (m *GaussianFixedPSF) FootprintHalfWidths(p *Peak) (wx, wy int) {
	return footprintFromWidth(m.XWidth), footprintFromWidth(m.YWidth)
}

// Gaussian2DPSF is the isotropic-width family: a single free width
// parameter (stored in x_width) drives both axes. y_width never appears in
// ActiveParams and is kept equal to x_width by assignment (spec.md §9 Open
// Question 2), not fit independently.
type Gaussian2DPSF struct{}

func (m *Gaussian2DPSF) ActiveParams() []int {
	return []int{ParamHeight, ParamX, ParamY, ParamXWidth}
}

func (m *Gaussian2DPSF) Shape(p *Peak, px, py int) float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	w := p.Params[ParamXWidth]
	return shapeExpGaussian(p.Params[ParamHeight], w, w, dx, dy)
}

func (m *Gaussian2DPSF) ShapeJacobian(p *Peak, px, py int, v float64) []float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	h, w := p.Params[ParamHeight], p.Params[ParamXWidth]
	e := 0.0
	if h != 0 {
		e = v / h
	} else {
		e = math.Exp(-w*dx*dx - w*dy*dy)
	}
	return []float64{
		e,                                   // d/dheight
		2 * h * w * dx * e,                  // d/dx
		2 * h * w * dy * e,                  // d/dy
		-h * (dx*dx + dy*dy) * e,            // d/dwidth
	}
}

func (m *Gaussian2DPSF) UpdateDerived(p *Peak) {
	p.Params[ParamYWidth] = p.Params[ParamXWidth]
}

func (m *Gaussian2DPSF) CheckZRange(p *Peak, cfg *FitConfig) bool { return true }

func (m *Gaussian2DPSF) FootprintHalfWidths(p *Peak) (wx, wy int) {
	w := footprintFromWidth(p.Params[ParamXWidth])
	return w, w
}

// Gaussian3DPSF is the reference model of spec.md §4.1: independent x/y
// widths, both free parameters.
type Gaussian3DPSF struct{}

func (m *Gaussian3DPSF) ActiveParams() []int {
	return []int{ParamHeight, ParamX, ParamY, ParamXWidth, ParamYWidth}
}

func (m *Gaussian3DPSF) Shape(p *Peak, px, py int) float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	return shapeExpGaussian(p.Params[ParamHeight], p.Params[ParamXWidth], p.Params[ParamYWidth], dx, dy)
}

func (m *Gaussian3DPSF) ShapeJacobian(p *Peak, px, py int, v float64) []float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	h, xw, yw := p.Params[ParamHeight], p.Params[ParamXWidth], p.Params[ParamYWidth]
	e := 0.0
	if h != 0 {
		e = v / h
	} else {
		e = math.Exp(-xw*dx*dx - yw*dy*dy)
	}
	return []float64{
		e,                  // d/dheight
		2 * h * xw * dx * e, // d/dx
		2 * h * yw * dy * e, // d/dy
		-h * dx * dx * e,   // d/dxwidth
		-h * dy * dy * e,   // d/dywidth
	}
}

func (m *Gaussian3DPSF) UpdateDerived(p *Peak) {}

func (m *Gaussian3DPSF) CheckZRange(p *Peak, cfg *FitConfig) bool { return true }

func (m *Gaussian3DPSF) FootprintHalfWidths(p *Peak) (wx, wy int) {
	return footprintFromWidth(p.Params[ParamXWidth]), footprintFromWidth(p.Params[ParamYWidth])
}

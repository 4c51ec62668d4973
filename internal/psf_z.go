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

// ZPolynomial gives one axis' width as a closed-form function of z
// (spec.md §4.1): w(z) = w0*(1+u^2+A*u^3+B*u^4), u=(z-c)/d, stored in the
// inverse-Gaussian-exponent convention as x_width = 2/(w0*(1+u^2+...)).
type ZPolynomial struct {
	W0, C, D, A, B float64
}

// WidthAndSlope returns the stored width and its derivative with respect
// to z, for use in the z-Jacobian chain rule.
func (zp *ZPolynomial) WidthAndSlope(z float64) (width, dWidthDz float64) {
	u := (z - zp.C) / zp.D
	poly := 1 + u*u + zp.A*u*u*u + zp.B*u*u*u*u
	width = 2.0 / (zp.W0 * poly)

	dPolyDu := 2*u + 3*zp.A*u*u + 4*zp.B*u*u*u
	dPolyDz := dPolyDu / zp.D
	dWidthDz = -2.0 / (zp.W0 * poly * poly) * dPolyDz
	return width, dWidthDz
}

// GaussianZPSF is the "Z-fit" family: x_width/y_width are derived from
// z_center via per-axis polynomials rather than fit directly. Active
// parameters: height, x, y, z.
type GaussianZPSF struct {
	XPoly, YPoly ZPolynomial
	MinZ, MaxZ   float64
}

func (m *GaussianZPSF) ActiveParams() []int {
	return []int{ParamHeight, ParamX, ParamY, ParamZ}
}

func (m *GaussianZPSF) Shape(p *Peak, px, py int) float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	return shapeExpGaussian(p.Params[ParamHeight], p.Params[ParamXWidth], p.Params[ParamYWidth], dx, dy)
}

func (m *GaussianZPSF) ShapeJacobian(p *Peak, px, py int, v float64) []float64 {
	dx := float64(px) - p.Params[ParamX]
	dy := float64(py) - p.Params[ParamY]
	h, xw, yw := p.Params[ParamHeight], p.Params[ParamXWidth], p.Params[ParamYWidth]
	e := 0.0
	if h != 0 {
		e = v / h
	} else {
		e = math.Exp(-xw*dx*dx - yw*dy*dy)
	}

	_, dxwDz := m.XPoly.WidthAndSlope(p.Params[ParamZ])
	_, dywDz := m.YPoly.WidthAndSlope(p.Params[ParamZ])
	dMdXw := -h * dx * dx * e
	dMdYw := -h * dy * dy * e
	dMdZ := dMdXw*dxwDz + dMdYw*dywDz

	return []float64{
		e,                   // d/dheight
		2 * h * xw * dx * e, // d/dx
		2 * h * yw * dy * e, // d/dy
		dMdZ,                // d/dz, via chain rule through the widths
	}
}

// UpdateDerived recomputes x_width/y_width from the current z_center.
func (m *GaussianZPSF) UpdateDerived(p *Peak) {
	p.Params[ParamXWidth], _ = m.XPoly.WidthAndSlope(p.Params[ParamZ])
	p.Params[ParamYWidth], _ = m.YPoly.WidthAndSlope(p.Params[ParamZ])
}

// CheckZRange clamps z into [MinZ,MaxZ] and always accepts (spec.md §9
// Open Question 1: clamp policy, not error-out).
func (m *GaussianZPSF) CheckZRange(p *Peak, cfg *FitConfig) bool {
	p.Params[ParamZ] = ClampFloat(p.Params[ParamZ], m.MinZ, m.MaxZ)
	m.UpdateDerived(p)
	return true
}

func (m *GaussianZPSF) FootprintHalfWidths(p *Peak) (wx, wy int) {
	return footprintFromWidth(p.Params[ParamXWidth]), footprintFromWidth(p.Params[ParamYWidth])
}

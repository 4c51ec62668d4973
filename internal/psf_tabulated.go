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

// SplineTable is the contract a cubic-spline PSF evaluator must satisfy.
// Construction of the table is an external collaborator (spec.md §1, §6);
// the core only queries it. Value is evaluated at the position relative to
// the peak's center (rx,ry,rz)=(px-x_center, py-y_center, z_center) and
// returns the normalized shape plus its partials with respect to rx,ry,rz.
type SplineTable interface {
	Value(rx, ry, rz float64) (v, dvdrx, dvdry, dvdrz float64)
}

// FourierTable is the analogous contract for a pupil-function/PSF-FFT
// evaluator.
type FourierTable interface {
	Value(rx, ry, rz float64) (v, dvdrx, dvdry, dvdrz float64)
}

// TabulatedSplinePSF adapts an opaque SplineTable to PSFModel. Height and
// background enter linearly as in every other family (spec.md §4.1);
// x/y/z come from the table's own partials via the chain rule
// rx=px-x_center (so d/dx_center = -dvdrx, etc).
type TabulatedSplinePSF struct {
	Table SplineTable
}

func (*TabulatedSplinePSF) isTabulated() {}

func (m *TabulatedSplinePSF) ActiveParams() []int {
	return []int{ParamHeight, ParamX, ParamY, ParamZ}
}

func (m *TabulatedSplinePSF) Shape(p *Peak, px, py int) float64 {
	rx := float64(px) - p.Params[ParamX]
	ry := float64(py) - p.Params[ParamY]
	v, _, _, _ := m.Table.Value(rx, ry, p.Params[ParamZ])
	return p.Params[ParamHeight] * v
}

func (m *TabulatedSplinePSF) ShapeJacobian(p *Peak, px, py int, shapeValue float64) []float64 {
	rx := float64(px) - p.Params[ParamX]
	ry := float64(py) - p.Params[ParamY]
	h := p.Params[ParamHeight]
	v, dvdrx, dvdry, dvdrz := m.Table.Value(rx, ry, p.Params[ParamZ])
	return []float64{
		v,          // d/dheight
		-h * dvdrx, // d/dx, rx=px-x so sign flips
		-h * dvdry, // d/dy
		h * dvdrz,  // d/dz, z enters the table directly, not negated
	}
}

func (m *TabulatedSplinePSF) UpdateDerived(p *Peak) {}

func (m *TabulatedSplinePSF) CheckZRange(p *Peak, cfg *FitConfig) bool {
	if p.Params[ParamZ] < cfg.MinZ || p.Params[ParamZ] > cfg.MaxZ {
		p.Params[ParamZ] = ClampFloat(p.Params[ParamZ], cfg.MinZ, cfg.MaxZ)
	}
	return true
}

func (m *TabulatedSplinePSF) FootprintHalfWidths(p *Peak) (wx, wy int) {
	return Margin, Margin
}

// TabulatedPupilPSF adapts an opaque FourierTable (pupil-function/PSF-FFT)
// the same way TabulatedSplinePSF adapts a SplineTable.
type TabulatedPupilPSF struct {
	Table FourierTable
}

func (*TabulatedPupilPSF) isTabulated() {}

func (m *TabulatedPupilPSF) ActiveParams() []int {
	return []int{ParamHeight, ParamX, ParamY, ParamZ}
}

func (m *TabulatedPupilPSF) Shape(p *Peak, px, py int) float64 {
	rx := float64(px) - p.Params[ParamX]
	ry := float64(py) - p.Params[ParamY]
	v, _, _, _ := m.Table.Value(rx, ry, p.Params[ParamZ])
	return p.Params[ParamHeight] * v
}

func (m *TabulatedPupilPSF) ShapeJacobian(p *Peak, px, py int, shapeValue float64) []float64 {
	rx := float64(px) - p.Params[ParamX]
	ry := float64(py) - p.Params[ParamY]
	h := p.Params[ParamHeight]
	v, dvdrx, dvdry, dvdrz := m.Table.Value(rx, ry, p.Params[ParamZ])
	return []float64{v, -h * dvdrx, -h * dvdry, h * dvdrz}
}

func (m *TabulatedPupilPSF) UpdateDerived(p *Peak) {}

func (m *TabulatedPupilPSF) CheckZRange(p *Peak, cfg *FitConfig) bool {
	p.Params[ParamZ] = ClampFloat(p.Params[ParamZ], cfg.MinZ, cfg.MaxZ)
	return true
}

func (m *TabulatedPupilPSF) FootprintHalfWidths(p *Peak) (wx, wy int) {
	return Margin, Margin
}

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

import (
	"fmt"
	"math"
)

// Status is the lifecycle state of a Peak (spec.md §3, §7).
type Status int32

const (
	Running Status = iota
	Converged
	Error
	BadPeak
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Converged:
		return "CONVERGED"
	case Error:
		return "ERROR"
	case BadPeak:
		return "BADPEAK"
	default:
		return "UNKNOWN"
	}
}

// Scratch is model-specific per-peak working state (spec.md §9): a tagged
// variant with inline storage for the Gaussian families and heap storage
// for tabulated ones. No back-references: always re-derivable from the
// peak's committed parameters.
type Scratch interface {
	isScratch()
}

// GaussianScratch tags a peak as belonging to one of the inline
// closed-form Gaussian families, selecting the no-op branch of
// Clone/Restore's scratch copy. The closed-form families have no
// additional per-peak working state to carry.
type GaussianScratch struct{}

func (*GaussianScratch) isScratch() {}

// TabulatedScratch holds an opaque handle into a spline/pupil table,
// re-derived by re-querying the table rather than caching values.
type TabulatedScratch struct {
	Handle interface{}
}

func (*TabulatedScratch) isScratch() {}

// Peak is one emitter's fit state, either a standalone single-channel peak
// or one channel's member of a multi-channel group (spec.md §3).
type Peak struct {
	// Params holds {height, x_center, y_center, x_width, y_width,
	// background, z_center} in the inverse-Gaussian-exponent width
	// convention (x_width = 1/(2*sigmaX^2)).
	Params [NFitting]float64
	Clamp  [NFitting]float64
	Sign   [NFitting]int8

	Status   Status
	Error    float64
	ErrorOld float64
	Lambda   float64

	// Xi, Yi is the integer anchor; Wx, Wy the half-footprint. The
	// footprint covers [Xi-Wx, Xi+Wx] x [Yi-Wy, Yi+Wy].
	Xi, Yi int
	Wx, Wy int

	Model   PSFModel
	Scratch Scratch

	// ID preserves caller ordering through GetResults.
	ID int
}

// NewPeak builds a peak from an initial seed, deriving its anchor and
// footprint from the model. The returned peak is always RUNNING and not yet
// added to any buffers; bounds validity is checked by the caller
// (FitState.AddPeakSeed, Coordinator.AddGroup) (spec.md §3 lifecycle, §8
// boundary behavior).
func NewPeak(id int, model PSFModel, height, x, y, z, background, xWidth, yWidth float64, clampStart [NFitting]float64) *Peak {
	p := &Peak{
		Model:    model,
		ID:       id,
		Status:   Running,
		Lambda:   1e-3,
		Error:    math.Inf(1),
		ErrorOld: math.Inf(1),
	}
	p.Params[ParamHeight] = height
	p.Params[ParamX] = x
	p.Params[ParamY] = y
	p.Params[ParamXWidth] = xWidth
	p.Params[ParamYWidth] = yWidth
	p.Params[ParamBackground] = background
	p.Params[ParamZ] = z
	p.Clamp = clampStart

	model.UpdateDerived(p)
	p.Xi = RoundHalfAwayFromZero(x)
	p.Yi = RoundHalfAwayFromZero(y)
	p.Wx, p.Wy = model.FootprintHalfWidths(p)
	p.allocScratch()
	return p
}

func (p *Peak) allocScratch() {
	if _, ok := p.Model.(tabulatedModel); ok {
		p.Scratch = &TabulatedScratch{}
	} else {
		p.Scratch = &GaussianScratch{}
	}
}

// tabulatedModel is implemented by PSF families backed by an opaque table
// rather than an inline closed-form shape, so Peak can pick the right
// Scratch variant without importing the concrete spline/pupil types.
type tabulatedModel interface {
	isTabulated()
}

// UpdateAnchor moves the integer anchor towards the floating-point center
// by one pixel per call, only once the discrepancy exceeds Hysteresis,
// preventing chatter between add/subtract cycles (spec.md §3).
func (p *Peak) UpdateAnchor() {
	if p.Params[ParamX]-float64(p.Xi) > Hysteresis {
		p.Xi++
	} else if float64(p.Xi)-p.Params[ParamX] > Hysteresis {
		p.Xi--
	}
	if p.Params[ParamY]-float64(p.Yi) > Hysteresis {
		p.Yi++
	} else if float64(p.Yi)-p.Params[ParamY] > Hysteresis {
		p.Yi--
	}
}

// UpdateFootprint recomputes the half-window from the current widths if it
// changed by more than Hysteresis, capped at Margin (spec.md §4.1).
func (p *Peak) UpdateFootprint() {
	wx, wy := p.Model.FootprintHalfWidths(p)
	if math.Abs(float64(wx-p.Wx)) > Hysteresis {
		p.Wx = ClampInt(wx, 1, Margin)
	}
	if math.Abs(float64(wy-p.Wy)) > Hysteresis {
		p.Wy = ClampInt(wy, 1, Margin)
	}
}

// InBounds reports whether the peak's anchor and footprint satisfy
// spec.md §3 invariant 5 for an image of the given size.
func (p *Peak) InBounds(sizeX, sizeY int) bool {
	if p.Wx > Margin || p.Wy > Margin {
		return false
	}
	if p.Xi < Margin || p.Xi > sizeX-Margin-1 {
		return false
	}
	if p.Yi < Margin || p.Yi > sizeY-Margin-1 {
		return false
	}
	return true
}

// Clone returns a deep copy, used to snapshot the committed peak before an
// LM attempt so it can be restored after a rejected step.
func (p *Peak) Clone() *Peak {
	cp := *p
	switch s := p.Scratch.(type) {
	case *GaussianScratch:
		gs := *s
		cp.Scratch = &gs
	case *TabulatedScratch:
		ts := *s
		cp.Scratch = &ts
	}
	return &cp
}

// Restore copies another peak's state into p in place, used to revert a
// rejected LM step without reallocating.
func (p *Peak) Restore(from *Peak) {
	id, model := p.ID, p.Model
	*p = *from
	p.ID, p.Model = id, model
	switch s := from.Scratch.(type) {
	case *GaussianScratch:
		gs := *s
		p.Scratch = &gs
	case *TabulatedScratch:
		ts := *s
		p.Scratch = &ts
	}
}

func (p *Peak) String() string {
	return fmt.Sprintf("peak %d: status=%s h=%.4g x=%.4g y=%.4g z=%.4g xw=%.4g yw=%.4g bg=%.4g err=%.6g anchor=(%d,%d) footprint=(%d,%d)",
		p.ID, p.Status, p.Params[ParamHeight], p.Params[ParamX], p.Params[ParamY], p.Params[ParamZ],
		p.Params[ParamXWidth], p.Params[ParamYWidth], p.Params[ParamBackground], p.Error, p.Xi, p.Yi, p.Wx, p.Wy)
}

// Result is one peak's exported outcome: NFitting parameters plus status
// and error, matching the NPeakPar-wide flat output array of spec.md §6.
type Result struct {
	Params [NFitting]float64
	Status Status
	Error  float64
}

// Result extracts the peak's committed parameters, status and error.
func (p *Peak) Result() Result {
	return Result{Params: p.Params, Status: p.Status, Error: p.Error}
}

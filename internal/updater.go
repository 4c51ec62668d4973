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

// buildJH assembles the Jacobian and Gauss-Newton Hessian of the Poisson
// negative-log-likelihood over the peak's footprint (spec.md §4.3 step 2).
// params is the active-parameter list with background appended as the
// last, always-present column (∂M/∂background=1 for every family).
func buildJH(fs *FitState, p *Peak) (J, H []float64, k int, params []int) {
	active := p.Model.ActiveParams()
	params = make([]int, len(active)+1)
	copy(params, active)
	params[len(active)] = ParamBackground
	k = len(params)

	J = GetFootprintBuffer(k)
	H = GetFootprintBuffer(k * k)
	jac := GetFootprintBuffer(k)
	defer PutFootprintBuffer(jac)

	fs.forEachFootprintPixel(p, func(idx, px, py int) {
		f, ok := fs.ModelIntensity(idx)
		if !ok || f <= 0 {
			return
		}
		x := fs.Image[idx]
		v := p.Model.Shape(p, px, py)
		shapeJac := p.Model.ShapeJacobian(p, px, py, v)
		copy(jac, shapeJac)
		jac[k-1] = 1.0

		t1 := 2 * (1 - x/f)
		t2 := 2 * x / (f * f)
		for i := 0; i < k; i++ {
			J[i] += t1 * jac[i]
			for j := 0; j < k; j++ {
				H[i*k+j] += t2 * jac[i] * jac[j]
			}
		}
	})
	return J, H, k, params
}

// computeError sums the per-pixel Poisson deviance 2*(f-x*log(f)) over the
// peak's footprint (spec.md §4.3 step 8). ok is false if the model
// intensity went non-positive anywhere in the footprint.
func computeError(fs *FitState, p *Peak) (errVal float64, ok bool) {
	ok = true
	fs.forEachFootprintPixel(p, func(idx, px, py int) {
		if !ok {
			return
		}
		f, fok := fs.ModelIntensity(idx)
		if !fok || f <= 0 {
			ok = false
			return
		}
		x := fs.Image[idx]
		errVal += 2 * (f - x*math.Log(f))
	})
	return errVal, ok
}

// applyDelta implements spec.md §4.3 step 5: per-parameter clamp halving
// on sign reversal, then a soft-clamped step of at most Clamp[i].
func applyDelta(p *Peak, delta []float64, params []int) {
	for i, pi := range params {
		d := delta[i]
		s := SignOf(d)
		if p.Sign[pi] != 0 && s != p.Sign[pi] {
			p.Clamp[pi] /= 2
		}
		p.Sign[pi] = s
		step := d / (1 + math.Abs(d)/p.Clamp[pi])
		p.Params[pi] += step
	}
}

// validate implements spec.md §4.3 steps 6-7: recompute derived state,
// check/clamp the z range, update anchor and footprint with hysteresis,
// then validate height, width and bounds. Returns false (with the matching
// Diagnostics counter bumped) on the first violation found.
func validate(fs *FitState, p *Peak) bool {
	p.Model.UpdateDerived(p)
	if !p.Model.CheckZRange(p, fs.Config) {
		return false
	}
	p.UpdateAnchor()
	p.UpdateFootprint()

	if p.Params[ParamHeight] < 0 {
		fs.Diag.NNegHeight++
		return false
	}
	if p.Params[ParamXWidth] < 0 || p.Params[ParamYWidth] < 0 {
		fs.Diag.NNegWidth++
		return false
	}
	if !p.InBounds(fs.SizeX, fs.SizeY) {
		fs.Diag.NMargin++
		return false
	}
	return true
}

// UpdateOnce runs the classical single-step update of spec.md §4.3 for one
// RUNNING peak: no retry, no damping. Used by the "original" Iterator
// mode.
func UpdateOnce(fs *FitState, p *Peak) {
	if p.Status != Running {
		return
	}

	J, H, k, params := buildJH(fs, p)
	defer PutFootprintBuffer(J)
	defer PutFootprintBuffer(H)
	fs.SubtractPeak(p)

	delta, ok := solveSPD(H, J, k)
	if !ok {
		p.Status = Error
		fs.Diag.NDposv++
		return
	}

	applyDelta(p, delta, params)
	if !validate(fs, p) {
		p.Status = Error
		return
	}

	fs.AddPeak(p)
	errVal, ok := computeError(fs, p)
	if !ok {
		fs.SubtractPeak(p)
		p.Status = Error
		fs.Diag.NNegFi++
		return
	}

	commitError(fs, p, errVal)
}

// commitError applies spec.md §4.3 step 8's convergence test and rotates
// error/error_old. p.Error starts at +Inf (set by NewPeak) so the first
// update of a peak can never spuriously converge: Inf/Inf is NaN, and NaN
// compares false against tolerance.
func commitError(fs *FitState, p *Peak, errVal float64) {
	ratio := math.Abs(errVal-p.Error) / p.Error
	if ratio < fs.Config.Tolerance {
		p.Status = Converged
	}
	p.ErrorOld = p.Error
	p.Error = errVal
}

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

// RunSweep drives one sweep of all RUNNING peaks, dispatching to the
// configured Iterator mode (spec.md §4.4).
func RunSweep(fs *FitState) {
	switch fs.Config.Mode {
	case ModeLM:
		for _, p := range fs.Peaks {
			lmUpdate(fs, p)
		}
	default:
		for _, p := range fs.Peaks {
			UpdateOnce(fs, p)
		}
		// Original mode recalculates error for every peak after the full
		// sweep, since overlapping peaks shift each other's residuals
		// (spec.md §4.4).
		for _, p := range fs.Peaks {
			if p.Status != Running && p.Status != Converged {
				continue
			}
			errVal, ok := computeError(fs, p)
			if !ok {
				fs.SubtractPeak(p)
				p.Status = Error
				fs.Diag.NNegFi++
				continue
			}
			commitError(fs, p, errVal)
		}
	}
}

// lmUpdate runs the Levenberg-Marquardt inner loop of spec.md §4.4 for one
// RUNNING peak.
func lmUpdate(fs *FitState, p *Peak) {
	if p.Status != Running {
		return
	}

	J, H, k, params := buildJH(fs, p)
	defer PutFootprintBuffer(J)
	defer PutFootprintBuffer(H)
	startingError, ok := computeError(fs, p)
	if !ok {
		fs.SubtractPeak(p)
		p.Status = Error
		fs.Diag.NNegFi++
		return
	}
	fs.SubtractPeak(p)
	committed := p.Clone()
	// lambda is tracked locally, not on p, because p.Restore(committed)
	// below rewinds every field of p - including Lambda - to the
	// pre-attempt snapshot. Growing p.Lambda directly would be undone by
	// the very next restore.
	lambda := p.Lambda

	for attempt := 0; attempt < maxLMRetries; attempt++ {
		if lambda > lambdaBlowUp {
			break
		}

		Hp := dampedCopy(H, k, lambda)
		delta, okSolve := solveSPD(Hp, J, k)
		if !okSolve {
			fs.Diag.NDposv++
			lambda *= LambdaUp
			p.Restore(committed)
			continue
		}

		applyDelta(p, delta, params)
		if !validate(fs, p) {
			lambda *= LambdaUp
			p.Restore(committed)
			continue
		}

		fs.AddPeak(p)
		currentError, okErr := computeError(fs, p)
		if !okErr {
			fs.SubtractPeak(p)
			fs.Diag.NNegFi++
			lambda *= LambdaUp
			p.Restore(committed)
			continue
		}

		if currentError > startingError {
			if (currentError-startingError)/startingError < fs.Config.Tolerance {
				p.Status = Converged
				p.ErrorOld = p.Error
				p.Error = currentError
				p.Lambda = lambda
				return
			}
			fs.SubtractPeak(p)
			lambda *= LambdaUp
			p.Restore(committed)
			continue
		}

		// error decreased (or held steady)
		if (startingError-currentError)/startingError < fs.Config.Tolerance {
			p.Status = Converged
		} else {
			lambda *= LambdaDown
		}
		p.ErrorOld = p.Error
		p.Error = currentError
		p.Lambda = lambda
		return
	}

	// Lambda blew up or retries were exhausted without an accepted step:
	// the peak stays subtracted (never re-added below) and permanently
	// ERROR (spec.md §7).
	fs.Diag.NNonDecr++
	p.Restore(committed)
	p.Status = Error
	p.Lambda = lambda
}

// RunToConvergence drives FitState.Iterate until no peaks remain RUNNING
// or maxSweeps is reached, the outer-loop termination contract of spec.md
// §4.4. Returns the number of sweeps performed.
func RunToConvergence(fs *FitState) int {
	sweeps := 0
	for sweeps < fs.Config.MaxSweeps && fs.GetUnconverged() > 0 {
		fs.Iterate()
		sweeps++
	}
	return sweeps
}

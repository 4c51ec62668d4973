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
	"gonum.org/v1/gonum/mat"
)

// solveSPD solves H*delta=J for delta via Cholesky factorization of the
// lower triangle, the documented policy of spec.md §4.3/§9 for the
// Gauss-Newton Hessian (symmetric positive-definite at a minimum). H is
// row-major, k*k. Returns ok=false on factorization failure, the caller's
// cue to mark the peak ERROR and bump Diagnostics.NDposv.
func solveSPD(H []float64, J []float64, k int) (delta []float64, ok bool) {
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, H[i*k+j])
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, false
	}

	b := mat.NewVecDense(k, J)
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return nil, false
	}

	delta = make([]float64, k)
	for i := 0; i < k; i++ {
		delta[i] = x.AtVec(i)
	}
	return delta, true
}

// diag returns the diagonal of a row-major k*k matrix, used to build the
// LM damping form H' = H + lambda*diag(H).
func diag(H []float64, k int) []float64 {
	d := make([]float64, k)
	for i := 0; i < k; i++ {
		d[i] = H[i*k+i]
	}
	return d
}

// dampedCopy returns a copy of H with lambda*diag(H) added to the
// diagonal, the Levenberg-Marquardt trust-region form of spec.md §4.4.
func dampedCopy(H []float64, k int, lambda float64) []float64 {
	d := diag(H, k)
	out := make([]float64, len(H))
	copy(out, H)
	for i := 0; i < k; i++ {
		out[i*k+i] += lambda * d[i]
	}
	return out
}

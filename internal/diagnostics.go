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

import "fmt"

// Diagnostics tallies the sub-causes behind ERROR status transitions
// (spec.md §7).
type Diagnostics struct {
	NDposv     int64 // Cholesky factorization failures
	NMargin    int64 // moved beyond Margin
	NNegHeight int64 // fitted height went negative
	NNegWidth  int64 // fitted width went negative
	NNegFi     int64 // Poisson deviance on negative model intensity
	NNonDecr   int64 // LM non-decreasing step rejected to exhaustion
}

func (d *Diagnostics) String() string {
	return fmt.Sprintf("dposv=%d margin=%d negHeight=%d negWidth=%d negFi=%d nonDecr=%d",
		d.NDposv, d.NMargin, d.NNegHeight, d.NNegWidth, d.NNegFi, d.NNonDecr)
}

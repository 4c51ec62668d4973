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

// Constants exposed to callers (spec.md §6).
const (
	// Margin is the minimum distance, in pixels, an anchor must keep from
	// the image border, and the hard cap on footprint half-widths.
	Margin = 10

	// Hysteresis is the minimum change required before an integer anchor
	// or a footprint half-width is allowed to move, preventing chatter.
	Hysteresis = 0.6

	// LambdaUp is the Levenberg-Marquardt damping growth factor applied on
	// every rejected step.
	LambdaUp = 4.0

	// LambdaDown is the Levenberg-Marquardt damping shrink factor applied
	// on every accepted, improving step.
	LambdaDown = 0.75

	// NFitting is the number of peak parameters.
	NFitting = 7

	// NPeakPar is the number of result entries per peak: NFitting
	// parameters plus status plus error.
	NPeakPar = NFitting + 2
)

// Parameter indices into Peak.Params/Clamp/Sign, in the order spec.md §3
// lists them.
const (
	ParamHeight = iota
	ParamX
	ParamY
	ParamXWidth
	ParamYWidth
	ParamBackground
	ParamZ
)

// maxLMRetries bounds the Levenberg-Marquardt inner retry loop. Spec.md
// §4.4 states the loop is "bounded by lambda blow-up" rather than a fixed
// retry count; this is an engineering backstop against a pathological
// Hessian spinning forever, not a spec requirement (see DESIGN.md).
const maxLMRetries = 64

// lambdaBlowUp is the damping ceiling past which the inner LM loop gives
// up and marks the peak ERROR, matching "bounded by lambda blow-up".
const lambdaBlowUp = 1e12

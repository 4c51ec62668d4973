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

// IteratorMode selects between the "original" single-step sweep and the
// Levenberg-Marquardt inner-loop sweep (spec.md §4.4).
type IteratorMode int32

const (
	ModeOriginal IteratorMode = iota
	ModeLM
)

func (m IteratorMode) String() string {
	if m == ModeLM {
		return "LM"
	}
	return "original"
}

// FitConfig carries the per-call tuning knobs of a single-channel fit, the
// way the teacher's PreProcessParams/StackParams carry stacking knobs.
// Never mutated by the engine - debug flags and tuning live here, not in
// package-level globals (spec.md §9 design note).
type FitConfig struct {
	Tolerance  float64
	ClampStart [NFitting]float64
	Mode       IteratorMode
	MaxSweeps  int
	MinZ, MaxZ float64
	Verbose    bool
}

// DefaultFitConfig returns reasonable defaults matching the reference
// implementation's typical clamp ceilings.
func DefaultFitConfig() *FitConfig {
	return &FitConfig{
		Tolerance: 1e-6,
		ClampStart: [NFitting]float64{
			ParamHeight:     1000,
			ParamX:          1.0,
			ParamY:          1.0,
			ParamXWidth:     0.1,
			ParamYWidth:     0.1,
			ParamBackground: 100,
			ParamZ:          100,
		},
		Mode:      ModeLM,
		MaxSweeps: 200,
		MinZ:      -500,
		MaxZ:      500,
	}
}

func (c *FitConfig) String() string {
	return fmt.Sprintf("tolerance %.3g mode %s maxSweeps %d zRange [%.4g,%.4g]",
		c.Tolerance, c.Mode, c.MaxSweeps, c.MinZ, c.MaxZ)
}

// HeightMode selects how height is shared across a multi-channel group
// (spec.md §4.5).
type HeightMode int32

const (
	HeightFixed HeightMode = iota
	HeightIndependent
)

func (m HeightMode) String() string {
	if m == HeightIndependent {
		return "independent"
	}
	return "fixed"
}

// MultiChannelConfig carries the Coordinator's tuning knobs: per-channel
// affine transforms and z-dependent weight tables (spec.md §3, §6).
type MultiChannelConfig struct {
	NChannels int
	HeightMode HeightMode

	// XtNto0, YtNto0 map channel i -> channel 0; Xt0toN, Yt0toN map
	// channel 0 -> channel i. Each is a 3*NChannels vector of (a0,a1,a2)
	// triples giving a0 + a1*y + a2*x, identity for channel 0.
	XtNto0, YtNto0     []float64
	Xt0toN, Yt0toN     []float64

	// Weight tables, each length NWeights*NChannels.
	Wh, Wx, Wy, Wz, Wbg []float64
	NWeights            int
	WZOffset, WZScale   float64

	Fit *FitConfig
}

func (c *MultiChannelConfig) String() string {
	return fmt.Sprintf("channels %d heightMode %s weights %d fit{%s}",
		c.NChannels, c.HeightMode, c.NWeights, c.Fit)
}

// ZWeightIndex computes zi = clamp(round((z-offset)*scale), 0, nWeights-1)
// (spec.md §4.5).
func (c *MultiChannelConfig) ZWeightIndex(z float64) int {
	zi := RoundHalfAwayFromZero((z - c.WZOffset) * c.WZScale)
	return ClampInt(zi, 0, c.NWeights-1)
}

// IdentityAffine returns the 3-coefficient identity transform (a0=0,
// coefficient 1 on the matching axis - a2 for x, a1 for y - and 0 on the
// other), used for channel 0 and in tests.
func IdentityAffine(nChannels int) (xt, yt []float64) {
	xt = make([]float64, 3*nChannels)
	yt = make([]float64, 3*nChannels)
	for c := 0; c < nChannels; c++ {
		// a0 + a1*y + a2*x = x  =>  a0=0,a1=0,a2=1
		xt[3*c+0], xt[3*c+1], xt[3*c+2] = 0, 0, 1
		// a0 + a1*y + a2*x = y  =>  a0=0,a1=1,a2=0
		yt[3*c+0], yt[3*c+1], yt[3*c+2] = 0, 1, 0
	}
	return xt, yt
}

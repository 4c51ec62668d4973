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
)

// FitState owns one image's shared buffers, peak list and diagnostics
// (spec.md §3). Buffer invariants (f_data/bg_data/bg_counts) hold between
// any two Updater calls.
type FitState struct {
	Config *FitConfig

	SizeX, SizeY int
	Image        []float64 // observed, gain-normalized photon counts
	ScmosTerm    []float64 // per-pixel variance/gain^2

	FData    []float64 // sum of added peaks' shape contributions
	BgData   []float64 // sum of added peaks' (background+scmos) contributions
	BgCounts []int32   // number of added peaks covering each pixel

	Peaks       []*Peak
	workingPeak *Peak

	Diag Diagnostics
}

// NewFitState allocates a FitState for an image of the given size. Must be
// followed by SetImage before any peaks are added.
func NewFitState(sizeX, sizeY int, cfg *FitConfig) *FitState {
	return &FitState{
		Config: cfg,
		SizeX:  sizeX,
		SizeY:  sizeY,
	}
}

// SetImage resets all buffers to zero and stores the new observed image
// and sCMOS term. Must be called before any peaks are added (spec.md
// §4.2).
func (f *FitState) SetImage(image, scmosTerm []float64) error {
	n := f.SizeX * f.SizeY
	if len(image) != n {
		return fmt.Errorf("image has %d pixels, want %d for a %dx%d frame", len(image), n, f.SizeX, f.SizeY)
	}
	if scmosTerm != nil && len(scmosTerm) != n {
		return fmt.Errorf("scmos term has %d pixels, want %d for a %dx%d frame", len(scmosTerm), n, f.SizeX, f.SizeY)
	}

	f.Image = make([]float64, n)
	copy(f.Image, image)

	f.ScmosTerm = make([]float64, n)
	if scmosTerm != nil {
		copy(f.ScmosTerm, scmosTerm)
	}

	f.FData = make([]float64, n)
	f.BgData = make([]float64, n)
	f.BgCounts = make([]int32, n)
	f.Peaks = nil
	f.Diag = Diagnostics{}
	return nil
}

// AddPeakSeed validates a seed's anchor/footprint against image bounds
// (spec.md §8 boundary behavior: a seed within Margin of the edge errors
// out without touching buffers) and, if valid, adds it to the peak list
// and buffers.
func (f *FitState) AddPeakSeed(p *Peak) {
	f.Peaks = append(f.Peaks, p)
	if !p.InBounds(f.SizeX, f.SizeY) {
		p.Status = Error
		f.Diag.NMargin++
		return
	}
	f.AddPeak(p)
}

// AddPeak adds a peak's contribution to FData/BgData/BgCounts across its
// footprint (spec.md §4.2). The peak is said to be "added".
func (f *FitState) AddPeak(p *Peak) {
	f.forEachFootprintPixel(p, func(idx, px, py int) {
		f.FData[idx] += p.Model.Shape(p, px, py)
		f.BgData[idx] += p.Params[ParamBackground] + f.ScmosTerm[idx]
		f.BgCounts[idx]++
	})
}

// SubtractPeak is the exact inverse of AddPeak.
func (f *FitState) SubtractPeak(p *Peak) {
	f.forEachFootprintPixel(p, func(idx, px, py int) {
		f.FData[idx] -= p.Model.Shape(p, px, py)
		f.BgData[idx] -= p.Params[ParamBackground] + f.ScmosTerm[idx]
		f.BgCounts[idx]--
	})
}

func (f *FitState) forEachFootprintPixel(p *Peak, fn func(idx, px, py int)) {
	x0, x1 := p.Xi-p.Wx, p.Xi+p.Wx
	y0, y1 := p.Yi-p.Wy, p.Yi+p.Wy
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > f.SizeX-1 {
		x1 = f.SizeX - 1
	}
	if y1 > f.SizeY-1 {
		y1 = f.SizeY - 1
	}
	for py := y0; py <= y1; py++ {
		rowBase := py * f.SizeX
		for px := x0; px <= x1; px++ {
			fn(rowBase+px, px, py)
		}
	}
}

// ModelIntensity returns f_i = f_data[idx] + bg_data[idx]/bg_counts[idx]
// (spec.md §3 invariant 3). Undefined (returns false) where bg_counts==0.
func (f *FitState) ModelIntensity(idx int) (fi float64, ok bool) {
	if f.BgCounts[idx] <= 0 {
		return 0, false
	}
	return f.FData[idx] + f.BgData[idx]/float64(f.BgCounts[idx]), true
}

// Iterate delegates to the Iterator for one sweep over all peaks (spec.md
// §4.2/§4.4).
func (f *FitState) Iterate() {
	RunSweep(f)
}

// GetUnconverged counts RUNNING peaks, the outer loop's terminator.
func (f *FitState) GetUnconverged() int {
	n := 0
	for _, p := range f.Peaks {
		if p.Status == Running {
			n++
		}
	}
	return n
}

// GetResults emits committed peak parameters, status and error, preserving
// peak order.
func (f *FitState) GetResults() []Result {
	out := make([]Result, len(f.Peaks))
	for i, p := range f.Peaks {
		out[i] = p.Result()
	}
	return out
}

func (f *FitState) String() string {
	running, converged, errored := 0, 0, 0
	for _, p := range f.Peaks {
		switch p.Status {
		case Running:
			running++
		case Converged:
			converged++
		default:
			errored++
		}
	}
	return fmt.Sprintf("fit state %dx%d: %d peaks (%d running, %d converged, %d error) %s",
		f.SizeX, f.SizeY, len(f.Peaks), running, converged, errored, f.Diag.String())
}

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

// Coordinator owns C independent FitStates and couples their peaks group-
// wise through shared x/y/z/height (spec.md §4.5). There is no cross-
// channel buffer sharing; all coupling happens in groupUpdate.
//
// Groups are implemented with GaussianZPSF peaks: x, y, z and height are
// shared after mapping, widths are derived per channel from the shared z
// via each channel's own calibration polynomials, and background stays
// per-channel. This is the canonical multiplane SMLM setup (biplane /
// astigmatic multicolor) and keeps the weighted-average coupling of §4.5
// to exactly the parameters the spec names as shared (x,y,z,[height]),
// without also inventing a width-sharing policy the spec never states.
type Coordinator struct {
	Config   *MultiChannelConfig
	Channels []*FitState
	Models   []*GaussianZPSF // one per channel, carries per-channel width calibration
	Heights  []float64       // co.Heights[k]: height weighting factor, spec.md §3
}

// NewCoordinator builds a Coordinator over NChannels fresh FitStates of the
// given size.
func NewCoordinator(cfg *MultiChannelConfig, sizeX, sizeY int, models []*GaussianZPSF) *Coordinator {
	co := &Coordinator{
		Config:   cfg,
		Channels: make([]*FitState, cfg.NChannels),
		Models:   models,
		Heights:  make([]float64, cfg.NChannels),
	}
	for k := 0; k < cfg.NChannels; k++ {
		co.Channels[k] = NewFitState(sizeX, sizeY, cfg.Fit)
		co.Heights[k] = 1.0
	}
	return co
}

// SetImages stores each channel's observed image and sCMOS term.
func (co *Coordinator) SetImages(images, scmosTerms [][]float64) error {
	for k, fs := range co.Channels {
		var scmos []float64
		if scmosTerms != nil {
			scmos = scmosTerms[k]
		}
		if err := fs.SetImage(images[k], scmos); err != nil {
			return err
		}
	}
	return nil
}

// AddGroup seeds one emitter group from a channel-0-coordinate position.
// New-peak coupling (spec.md §4.5): positions are mapped into each other
// channel via MapFromChannelZero before that channel's peak is
// initialized. If any channel's mapped peak lands outside its image
// boundary, the whole group is forced to ERROR and any already-added
// members are subtracted.
func (co *Coordinator) AddGroup(id int, height, x0, y0, z, background float64) {
	n := co.Config.NChannels
	peaks := make([]*Peak, n)
	for k := 0; k < n; k++ {
		x, y := x0, y0
		if k != 0 {
			x, y = co.Config.MapFromChannelZero(k, x0, y0)
		}
		peaks[k] = NewPeak(id, co.Models[k], height, x, y, z, background, 0, 0, co.Config.Fit.ClampStart)
	}

	if co.Config.HeightMode == HeightFixed {
		sum := 0.0
		for _, p := range peaks {
			sum += p.Params[ParamHeight]
		}
		mean := sum / float64(n)
		for _, p := range peaks {
			p.Params[ParamHeight] = mean
		}
	}

	anyOOB := false
	for k, p := range peaks {
		if !p.InBounds(co.Channels[k].SizeX, co.Channels[k].SizeY) {
			anyOOB = true
		}
	}
	for k, p := range peaks {
		co.Channels[k].Peaks = append(co.Channels[k].Peaks, p)
		if anyOOB {
			p.Status = Error
			co.Channels[k].Diag.NMargin++
			continue
		}
		co.Channels[k].AddPeak(p)
	}
}

// groupDelta is one channel's raw, unclamped solved delta for the shared
// parameters, before coordinatorUpdate combines them across channels.
type groupDelta struct {
	dHeight, dX, dY, dZ, dBackground float64
}

// Sweep runs one Levenberg-Marquardt sweep across every group (spec.md
// §4.5).
func (co *Coordinator) Sweep() {
	if len(co.Channels) == 0 || len(co.Channels[0].Peaks) == 0 {
		return
	}
	n := len(co.Channels[0].Peaks)
	for gi := 0; gi < n; gi++ {
		co.groupUpdate(gi)
	}
}

func (co *Coordinator) groupUpdate(gi int) {
	nCh := co.Config.NChannels
	peaks := make([]*Peak, nCh)
	for k := 0; k < nCh; k++ {
		peaks[k] = co.Channels[k].Peaks[gi]
	}
	if peaks[0].Status != Running {
		return
	}

	Js := make([][]float64, nCh)
	Hs := make([][]float64, nCh)
	ks := make([]int, nCh)
	paramsPerChannel := make([][]int, nCh)
	startingError := 0.0
	defer func() {
		for k := 0; k < nCh; k++ {
			if Js[k] != nil {
				PutFootprintBuffer(Js[k])
			}
			if Hs[k] != nil {
				PutFootprintBuffer(Hs[k])
			}
		}
	}()
	for k := 0; k < nCh; k++ {
		J, H, kk, params := buildJH(co.Channels[k], peaks[k])
		Js[k], Hs[k], ks[k], paramsPerChannel[k] = J, H, kk, params
		errK, ok := computeError(co.Channels[k], peaks[k])
		if !ok {
			co.Channels[k].Diag.NNegFi++
			co.errorWholeGroup(peaks)
			return
		}
		startingError += errK
	}

	for k := 0; k < nCh; k++ {
		co.Channels[k].SubtractPeak(peaks[k])
	}
	committed := make([]*Peak, nCh)
	for k, p := range peaks {
		committed[k] = p.Clone()
	}

	lambda := peaks[0].Lambda

	for attempt := 0; attempt < maxLMRetries; attempt++ {
		if lambda > lambdaBlowUp {
			break
		}

		deltas := make([]groupDelta, nCh)
		solveFailed := false
		for k := 0; k < nCh; k++ {
			Hp := dampedCopy(Hs[k], ks[k], lambda)
			d, ok := solveSPD(Hp, Js[k], ks[k])
			if !ok {
				co.Channels[k].Diag.NDposv++
				solveFailed = true
				break
			}
			deltas[k] = extractGroupDelta(d, paramsPerChannel[k])
		}
		if solveFailed {
			lambda *= LambdaUp
			restoreGroup(peaks, committed)
			continue
		}

		co.coordinatorUpdate(peaks, deltas)

		if !validateGroup(co.Channels, peaks) {
			lambda *= LambdaUp
			restoreGroup(peaks, committed)
			continue
		}

		currentError := 0.0
		errFailed := false
		addedCount := 0
		for k := 0; k < nCh; k++ {
			co.Channels[k].AddPeak(peaks[k])
			addedCount++
			errK, ok := computeError(co.Channels[k], peaks[k])
			if !ok {
				errFailed = true
				co.Channels[k].Diag.NNegFi++
				break
			}
			currentError += errK
		}
		if errFailed {
			// Only channels [0,addedCount) were re-added this attempt;
			// subtracting the rest would corrupt their FData/BgData against
			// a peak contribution that was never added.
			for k := 0; k < addedCount; k++ {
				co.Channels[k].SubtractPeak(peaks[k])
			}
			lambda *= LambdaUp
			restoreGroup(peaks, committed)
			continue
		}

		if currentError > startingError {
			if (currentError-startingError)/startingError < co.Config.Fit.Tolerance {
				commitGroup(peaks, Converged, currentError, lambda)
				return
			}
			for k := 0; k < nCh; k++ {
				co.Channels[k].SubtractPeak(peaks[k])
			}
			lambda *= LambdaUp
			restoreGroup(peaks, committed)
			continue
		}

		status := Running
		if (startingError-currentError)/startingError < co.Config.Fit.Tolerance {
			status = Converged
		} else {
			lambda *= LambdaDown
		}
		commitGroup(peaks, status, currentError, lambda)
		return
	}

	// Exhausted: whole group fails together (spec.md §7 group-local error).
	for k := 0; k < nCh; k++ {
		co.Channels[k].Diag.NNonDecr++
	}
	restoreGroup(peaks, committed)
	for _, p := range peaks {
		p.Status = Error
	}
}

// errorWholeGroup marks every channel's peak ERROR and, for channels that
// are still added, subtracts them - used when the pre-update baseline
// error cannot be computed.
func (co *Coordinator) errorWholeGroup(peaks []*Peak) {
	for k, p := range peaks {
		co.Channels[k].SubtractPeak(p)
		p.Status = Error
	}
}

func extractGroupDelta(d []float64, params []int) groupDelta {
	gd := groupDelta{}
	for i, pi := range params {
		switch pi {
		case ParamHeight:
			gd.dHeight = d[i]
		case ParamX:
			gd.dX = d[i]
		case ParamY:
			gd.dY = d[i]
		case ParamZ:
			gd.dZ = d[i]
		case ParamBackground:
			gd.dBackground = d[i]
		}
	}
	return gd
}

// coordinatorUpdate implements spec.md §4.5 step (b): weighted-average
// coupling of x, y, z and height across the group, independent background
// per channel.
func (co *Coordinator) coordinatorUpdate(peaks []*Peak, deltas []groupDelta) {
	cfg := co.Config
	nCh := len(peaks)
	zi := cfg.ZWeightIndex(peaks[0].Params[ParamZ])

	// X, Y: map each channel's delta into channel 0's frame, weighted-
	// average, apply to channel 0, then re-project into every channel.
	sumWx, sumWy, sumX, sumY := 0.0, 0.0, 0.0, 0.0
	for k := 0; k < nCh; k++ {
		dx0, dy0 := cfg.MapDeltaToChannelZero(k, deltas[k].dX, deltas[k].dY)
		wx := cfg.Wx[zi*cfg.NChannels+k] * co.Heights[k]
		wy := cfg.Wy[zi*cfg.NChannels+k] * co.Heights[k]
		sumX += wx * dx0
		sumWx += wx
		sumY += wy * dy0
		sumWy += wy
	}
	if sumWx != 0 {
		peaks[0].Params[ParamX] += sumX / sumWx
	}
	if sumWy != 0 {
		peaks[0].Params[ParamY] += sumY / sumWy
	}
	for k := 1; k < nCh; k++ {
		x, y := cfg.MapFromChannelZero(k, peaks[0].Params[ParamX], peaks[0].Params[ParamY])
		peaks[k].Params[ParamX] = x
		peaks[k].Params[ParamY] = y
	}

	// Z: simple weighted average applied to every channel.
	sumWz, sumZ := 0.0, 0.0
	for k := 0; k < nCh; k++ {
		wz := cfg.Wz[zi*cfg.NChannels+k] * co.Heights[k]
		sumZ += wz * deltas[k].dZ
		sumWz += wz
	}
	if sumWz != 0 {
		avgDz := sumZ / sumWz
		for k := 0; k < nCh; k++ {
			peaks[k].Params[ParamZ] += avgDz
		}
	}

	// Height.
	if cfg.HeightMode == HeightFixed {
		sumWh, sumH := 0.0, 0.0
		for k := 0; k < nCh; k++ {
			wh := cfg.Wh[zi*cfg.NChannels+k]
			sumH += wh * deltas[k].dHeight
			sumWh += wh
		}
		if sumWh != 0 {
			peaks[0].Params[ParamHeight] += sumH / sumWh
		}
		for k := 1; k < nCh; k++ {
			peaks[k].Params[ParamHeight] = peaks[0].Params[ParamHeight]
		}
	} else {
		for k := 0; k < nCh; k++ {
			newH := peaks[k].Params[ParamHeight] + deltas[k].dHeight
			if newH < 0.01 {
				newH = 0.01
			}
			peaks[k].Params[ParamHeight] = newH
			co.Heights[k] = newH
		}
	}

	// Background: independent per channel.
	for k := 0; k < nCh; k++ {
		peaks[k].Params[ParamBackground] += deltas[k].dBackground
	}
}

// validateGroup runs the per-channel §4.3 step 7 validity checks; any
// channel's failure fails the whole group (spec.md §4.5 step c).
func validateGroup(channels []*FitState, peaks []*Peak) bool {
	for k, p := range peaks {
		if !validate(channels[k], p) {
			return false
		}
	}
	return true
}

func restoreGroup(peaks, committed []*Peak) {
	for i, p := range peaks {
		p.Restore(committed[i])
	}
}

func commitGroup(peaks []*Peak, status Status, currentError, lambda float64) {
	perChannel := currentError / float64(len(peaks))
	for _, p := range peaks {
		p.Status = status
		p.ErrorOld = p.Error
		p.Error = perChannel
		p.Lambda = lambda
	}
}

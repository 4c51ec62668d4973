package internal

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// renderGaussianFrame fills a noise-free-plus-Poisson frame with a single
// Gaussian3D emitter at (x,y), used as ground truth across the updater and
// iterator tests.
func renderGaussianFrame(sizeX, sizeY int, height, x, y, xWidth, yWidth, background float64, rng *rand.Rand) []float64 {
	img := make([]float64, sizeX*sizeY)
	for py := 0; py < sizeY; py++ {
		for px := 0; px < sizeX; px++ {
			dx := float64(px) - x
			dy := float64(py) - y
			lambda := background + height*math.Exp(-xWidth*dx*dx-yWidth*dy*dy)
			if rng == nil {
				img[py*sizeX+px] = lambda
			} else {
				img[py*sizeX+px] = poissonCount(rng, lambda)
			}
		}
	}
	return img
}

func poissonCount(rng *rand.Rand, lambda float64) float64 {
	l := math.Exp(-lambda)
	k := 0.0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			break
		}
	}
	return k - 1
}

// TestUpdater_SinglePeakConvergesNearTruth is scenario 1: a single isolated
// peak fit from a nearby starting guess on a noise-free frame converges to
// parameters close to the ground truth.
func TestUpdater_SinglePeakConvergesNearTruth(t *testing.T) {
	const sizeX, sizeY = 64, 64
	truthX, truthY := 32.3, 31.7
	truthH, truthBg := 1000.0, 10.0
	xw, yw := 1.0/(2*1.4*1.4), 1.0/(2*1.6*1.6)

	image := renderGaussianFrame(sizeX, sizeY, truthH, truthX, truthY, xw, yw, truthBg, nil)

	cfg := DefaultFitConfig()
	fs := NewFitState(sizeX, sizeY, cfg)
	require.NoError(t, fs.SetImage(image, nil))

	model := &Gaussian3DPSF{}
	p := NewPeak(0, model, 800, 31, 31, 0, 8, xw*0.8, yw*1.2, cfg.ClampStart)
	fs.AddPeakSeed(p)

	sweeps := RunToConvergence(fs)
	require.Less(t, sweeps, cfg.MaxSweeps)
	require.Equal(t, Converged, p.Status)
	require.InDelta(t, truthX, p.Params[ParamX], 0.05)
	require.InDelta(t, truthY, p.Params[ParamY], 0.05)
	require.InDelta(t, truthH, p.Params[ParamHeight], truthH*0.05)
}

// TestUpdater_FootprintHysteresisPreventsChatter checks footprint
// hysteresis: nudging a peak's width just under the footprint-changing threshold must not move
// the half-footprint, while a nudge past Hysteresis must.
func TestUpdater_FootprintHysteresisPreventsChatter(t *testing.T) {
	cfg := DefaultFitConfig()
	model := &Gaussian3DPSF{}
	p := NewPeak(0, model, 500, 32, 32, 0, 10, 0.2, 0.2, cfg.ClampStart)
	wx0, wy0 := p.Wx, p.Wy

	// A tiny width change shouldn't move the footprint.
	p.Params[ParamXWidth] += 1e-4
	p.UpdateFootprint()
	require.Equal(t, wx0, p.Wx)
	require.Equal(t, wy0, p.Wy)

	// A width change that moves the ideal half-window by more than
	// Hysteresis pixels must move it.
	p.Params[ParamXWidth] = 0.4
	p.UpdateFootprint()
	require.NotEqual(t, wx0, p.Wx)
}

// TestUpdater_AnchorMovesOnePixelPerHysteresisCrossing checks UpdateAnchor's
// one-pixel-per-call contract once the float/int discrepancy exceeds
// Hysteresis.
func TestUpdater_AnchorMovesOnePixelPerHysteresisCrossing(t *testing.T) {
	cfg := DefaultFitConfig()
	model := &Gaussian3DPSF{}
	p := NewPeak(0, model, 500, 32, 32, 0, 10, 0.2, 0.2, cfg.ClampStart)
	require.Equal(t, 32, p.Xi)

	p.Params[ParamX] = 32.5
	p.UpdateAnchor()
	require.Equal(t, 32, p.Xi, "below Hysteresis, anchor must not move")

	p.Params[ParamX] = 32.9
	p.UpdateAnchor()
	require.Equal(t, 33, p.Xi, "past Hysteresis, anchor must move exactly one pixel")
}

// TestUpdater_CholeskyFailureMarksErrorAndCountsDposv drives a peak whose
// Hessian is singular (height pinned to zero, so the x, y and width rows of
// J/H are zero) and checks it is marked ERROR with NDposv bumped rather
// than panicking.
func TestUpdater_CholeskyFailureMarksErrorAndCountsDposv(t *testing.T) {
	cfg := DefaultFitConfig()
	cfg.Mode = ModeOriginal
	fs := NewFitState(64, 64, cfg)
	require.NoError(t, fs.SetImage(newTestImage(64, 64, 10), nil))

	model := &Gaussian3DPSF{}
	// Height 0 zeroes the x, y and width Jacobian columns (each carries a
	// factor h), leaving zero diagonal entries in H.
	p := NewPeak(0, model, 0, 32, 32, 0, 10, 0.2, 0.2, cfg.ClampStart)
	fs.AddPeakSeed(p)

	UpdateOnce(fs, p)
	require.Equal(t, Error, p.Status)
	require.EqualValues(t, 1, fs.Diag.NDposv)
}

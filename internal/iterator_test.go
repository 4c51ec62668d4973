package internal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLmUpdate_ErrorNeverIncreasesAcrossSweeps is the LM monotone-error
// property of spec.md §4.4: an accepted step's committed error never makes
// things worse than the last committed error by more than tolerance.
func TestLmUpdate_ErrorNeverIncreasesAcrossSweeps(t *testing.T) {
	const sizeX, sizeY = 64, 64
	image := renderGaussianFrame(sizeX, sizeY, 900, 30.6, 33.2, 1.0/(2*1.3*1.3), 1.0/(2*1.5*1.5), 12, nil)

	cfg := DefaultFitConfig()
	fs := NewFitState(sizeX, sizeY, cfg)
	require.NoError(t, fs.SetImage(image, nil))

	model := &Gaussian3DPSF{}
	p := NewPeak(0, model, 600, 29, 32, 0, 5, 0.2, 0.2, cfg.ClampStart)
	fs.AddPeakSeed(p)

	lastError := math.Inf(1)
	for sweep := 0; sweep < cfg.MaxSweeps && p.Status == Running; sweep++ {
		fs.Iterate()
		if p.Status == Error {
			break
		}
		require.LessOrEqual(t, p.Error, lastError*(1+cfg.Tolerance)+1e-9,
			"committed error increased at sweep %d", sweep)
		lastError = p.Error
	}
	require.Equal(t, Converged, p.Status)
}

// TestDampedCopy_AddsLambdaTimesDiagonalOnly checks the Levenberg-Marquardt
// damping form H' = H + lambda*diag(H) leaves off-diagonal entries alone.
func TestDampedCopy_AddsLambdaTimesDiagonalOnly(t *testing.T) {
	k := 3
	H := []float64{
		4, 1, 2,
		1, 5, 3,
		2, 3, 6,
	}
	Hp := dampedCopy(H, k, 2.0)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			want := H[i*k+j]
			if i == j {
				want += 2.0 * H[i*k+i]
			}
			require.InDelta(t, want, Hp[i*k+j], 1e-12)
		}
	}
	// dampedCopy must not mutate its input.
	require.Equal(t, float64(4), H[0])
}

// TestLmUpdate_CholeskyFailureExhaustsRetriesAndMarksError drives the same
// singular-Hessian scenario as the original-mode Cholesky test, through the
// LM iterator: damping a zero diagonal entry with lambda*0 never fixes it,
// so every retry's Cholesky factorization fails regardless of lambda. The
// loop must give up once lambda blows past lambdaBlowUp (well before
// maxLMRetries, since lambda grows geometrically by LambdaUp each attempt),
// bump NDposv on every attempt and NNonDecr once, then mark the peak ERROR
// with its state restored to the pre-update committed snapshot.
func TestLmUpdate_CholeskyFailureExhaustsRetriesAndMarksError(t *testing.T) {
	cfg := DefaultFitConfig()
	fs := NewFitState(64, 64, cfg)
	require.NoError(t, fs.SetImage(newTestImage(64, 64, 10), nil))

	model := &Gaussian3DPSF{}
	p := NewPeak(0, model, 0, 32, 32, 0, 10, 0.2, 0.2, cfg.ClampStart)
	fs.AddPeakSeed(p)
	xBefore, yBefore := p.Params[ParamX], p.Params[ParamY]

	lmUpdate(fs, p)

	require.Equal(t, Error, p.Status)
	require.Greater(t, fs.Diag.NDposv, int64(0))
	require.Less(t, fs.Diag.NDposv, int64(maxLMRetries), "lambda blow-up should cut the loop short of the retry cap")
	require.EqualValues(t, 1, fs.Diag.NNonDecr)
	require.InDelta(t, xBefore, p.Params[ParamX], 1e-12)
	require.InDelta(t, yBefore, p.Params[ParamY], 1e-12)
}

// TestRunToConvergence_TwoOverlappingPeaksBothConverge is scenario 2: two
// close, overlapping peaks sharing background bookkeeping both converge
// near their respective ground truth.
func TestRunToConvergence_TwoOverlappingPeaksBothConverge(t *testing.T) {
	const sizeX, sizeY = 64, 64
	xw, yw := 1.0/(2*1.3*1.3), 1.0/(2*1.3*1.3)

	img := make([]float64, sizeX*sizeY)
	truths := []struct{ h, x, y float64 }{
		{900, 28, 32},
		{700, 35, 32},
	}
	bg := 10.0
	for py := 0; py < sizeY; py++ {
		for px := 0; px < sizeX; px++ {
			lambda := bg
			for _, tr := range truths {
				dx := float64(px) - tr.x
				dy := float64(py) - tr.y
				lambda += tr.h * math.Exp(-xw*dx*dx-yw*dy*dy)
			}
			img[py*sizeX+px] = lambda
		}
	}

	cfg := DefaultFitConfig()
	fs := NewFitState(sizeX, sizeY, cfg)
	require.NoError(t, fs.SetImage(img, nil))

	model := &Gaussian3DPSF{}
	p0 := NewPeak(0, model, truths[0].h*0.8, truths[0].x+0.5, truths[0].y-0.5, 0, bg*1.3, xw*0.9, yw*0.9, cfg.ClampStart)
	p1 := NewPeak(1, model, truths[1].h*0.8, truths[1].x-0.5, truths[1].y+0.5, 0, bg*1.3, xw*0.9, yw*0.9, cfg.ClampStart)
	fs.AddPeakSeed(p0)
	fs.AddPeakSeed(p1)

	sweeps := RunToConvergence(fs)
	require.Less(t, sweeps, cfg.MaxSweeps)
	require.Equal(t, Converged, p0.Status)
	require.Equal(t, Converged, p1.Status)
	require.InDelta(t, truths[0].x, p0.Params[ParamX], 0.1)
	require.InDelta(t, truths[1].x, p1.Params[ParamX], 0.1)
}

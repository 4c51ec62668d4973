package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGaussianZPSF_CheckZRangeClampsRatherThanErrors is scenario 3 / spec.md
// §9 Open Question 1: pushing z past MaxZ must clamp it back into range and
// keep the peak RUNNING, never ERROR.
func TestGaussianZPSF_CheckZRangeClampsRatherThanErrors(t *testing.T) {
	model := &GaussianZPSF{
		XPoly: ZPolynomial{W0: 2, C: 0, D: 200, A: 0, B: 0.02},
		YPoly: ZPolynomial{W0: 2, C: 0, D: 220, A: 0, B: 0.02},
		MinZ:  -400,
		MaxZ:  400,
	}
	cfg := DefaultFitConfig()
	p := NewPeak(0, model, 500, 32, 32, 900, 10, 0, 0, cfg.ClampStart)

	ok := model.CheckZRange(p, cfg)
	require.True(t, ok, "clamp policy must never fail the peak")
	require.InDelta(t, model.MaxZ, p.Params[ParamZ], 1e-9)
}

// TestGaussianZPSF_WidthsTrackZ checks UpdateDerived re-derives x_width and
// y_width from z_center via each axis' polynomial.
func TestGaussianZPSF_WidthsTrackZ(t *testing.T) {
	model := &GaussianZPSF{
		XPoly: ZPolynomial{W0: 2, C: 0, D: 200, A: 0, B: 0},
		YPoly: ZPolynomial{W0: 2, C: 50, D: 200, A: 0, B: 0},
		MinZ:  -400,
		MaxZ:  400,
	}
	cfg := DefaultFitConfig()
	p := NewPeak(0, model, 500, 32, 32, 0, 10, 0, 0, cfg.ClampStart)

	wantXw, _ := model.XPoly.WidthAndSlope(0)
	wantYw, _ := model.YPoly.WidthAndSlope(0)
	require.InDelta(t, wantXw, p.Params[ParamXWidth], 1e-12)
	require.InDelta(t, wantYw, p.Params[ParamYWidth], 1e-12)

	p.Params[ParamZ] = 120
	model.UpdateDerived(p)
	wantXw, _ = model.XPoly.WidthAndSlope(120)
	wantYw, _ = model.YPoly.WidthAndSlope(120)
	require.InDelta(t, wantXw, p.Params[ParamXWidth], 1e-12)
	require.InDelta(t, wantYw, p.Params[ParamYWidth], 1e-12)
}

// TestGaussian2DPSF_YWidthAlwaysEqualsXWidth is spec.md §9 Open Question 2:
// the isotropic family assigns y_width=x_width on every UpdateDerived call
// rather than fitting it as an independent Jacobian column.
func TestGaussian2DPSF_YWidthAlwaysEqualsXWidth(t *testing.T) {
	model := &Gaussian2DPSF{}
	require.NotContains(t, model.ActiveParams(), ParamYWidth)

	cfg := DefaultFitConfig()
	p := NewPeak(0, model, 500, 32, 32, 0, 10, 0.18, 0.5, cfg.ClampStart)
	require.InDelta(t, p.Params[ParamXWidth], p.Params[ParamYWidth], 1e-12)

	p.Params[ParamXWidth] = 0.3
	model.UpdateDerived(p)
	require.InDelta(t, 0.3, p.Params[ParamYWidth], 1e-12)
}

// TestShapeExpGaussian_MatchesDirectFormula is a small sanity check on the
// shared Gaussian kernel used by every family.
func TestShapeExpGaussian_MatchesDirectFormula(t *testing.T) {
	v := shapeExpGaussian(1000, 0.2, 0.3, 1.5, -2.0)
	require.InDelta(t, 1000*0.19204990862075413, v, 1e-6)
}

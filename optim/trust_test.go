package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Rosenbrock function with analytic derivatives.
func rosen() Problem {
	return Problem{
		Func: func(x []float64) float64 {
			a := 1 - x[0]
			b := x[1] - x[0]*x[0]
			return a*a + 100*b*b
		},
		Grad: func(x, g []float64) {
			b := x[1] - x[0]*x[0]
			g[0] = -2*(1-x[0]) - 400*x[0]*b
			g[1] = 200 * b
		},
		Hess: func(x []float64, h *mat.SymDense) {
			h.SetSym(0, 0, 2-400*(x[1]-3*x[0]*x[0]))
			h.SetSym(0, 1, -400*x[0])
			h.SetSym(1, 1, 200)
		},
	}
}

func TestTrustRegionRosenbrock(t *testing.T) {
	rslt, err := NewTrustRegion().Minimize(rosen(), []float64{-1.2, 1})
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.True(t, floats.EqualApprox(rslt.X, []float64{1, 1}, 1e-6))
}

func TestTrustRegionBFGS(t *testing.T) {
	p := rosen()
	p.Hess = nil
	tr := NewTrustRegion()
	tr.Settings.MaxIter = 1000
	rslt, err := tr.Minimize(p, []float64{-1.2, 1})
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.True(t, floats.EqualApprox(rslt.X, []float64{1, 1}, 1e-4))
}

func TestTrustRegionBounds(t *testing.T) {

	// (x - 2)^2 + (y + 1)^2 with x <= 1 and y >= 0
	p := Problem{
		Func: func(x []float64) float64 {
			return (x[0]-2)*(x[0]-2) + (x[1]+1)*(x[1]+1)
		},
		Grad: func(x, g []float64) {
			g[0] = 2 * (x[0] - 2)
			g[1] = 2 * (x[1] + 1)
		},
		Hess: func(x []float64, h *mat.SymDense) {
			h.SetSym(0, 0, 2)
			h.SetSym(0, 1, 0)
			h.SetSym(1, 1, 2)
		},
		Lower: []float64{math.Inf(-1), 0},
		Upper: []float64{1, math.Inf(1)},
	}

	rslt, err := NewTrustRegion().Minimize(p, []float64{0, 3})
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.True(t, floats.EqualApprox(rslt.X, []float64{1, 0}, 1e-8))
}

func TestTrustRegionNegativeCurvature(t *testing.T) {

	// Saddle at the origin; the quartic term bounds the problem below.
	p := Problem{
		Func: func(x []float64) float64 {
			return x[0]*x[0] - x[1]*x[1] + x[1]*x[1]*x[1]*x[1]
		},
		Grad: func(x, g []float64) {
			g[0] = 2 * x[0]
			g[1] = -2*x[1] + 4*x[1]*x[1]*x[1]
		},
		Hess: func(x []float64, h *mat.SymDense) {
			h.SetSym(0, 0, 2)
			h.SetSym(0, 1, 0)
			h.SetSym(1, 1, -2+12*x[1]*x[1])
		},
	}

	// On the line y = 0 the gradient has no component along the
	// direction of negative curvature.
	rslt, err := NewTrustRegion().Minimize(p, []float64{1, 0})
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.InDelta(t, 0, rslt.X[0], 1e-8)
	require.InDelta(t, 1/math.Sqrt(2), math.Abs(rslt.X[1]), 1e-6)
}

func TestBadBounds(t *testing.T) {
	p := rosen()
	p.Lower = []float64{0}
	_, err := NewTrustRegion().Minimize(p, []float64{0, 0})
	require.Error(t, err)

	p = rosen()
	p.Func = func(x []float64) float64 { return math.NaN() }
	_, err = NewTrustRegion().Minimize(p, []float64{0, 0})
	require.ErrorIs(t, err, ErrNotFinite)
}

func TestGonum(t *testing.T) {
	rslt, err := (&Gonum{}).Minimize(rosen(), []float64{-1.2, 1})
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.True(t, floats.EqualApprox(rslt.X, []float64{1, 1}, 1e-5))

	p := rosen()
	p.Hess = nil
	rslt, err = (&Gonum{Method: &optimize.BFGS{}}).Minimize(p, []float64{-1.2, 1})
	require.NoError(t, err)
	require.True(t, floats.EqualApprox(rslt.X, []float64{1, 1}, 1e-4))

	p.Lower = []float64{0, 0}
	_, err = (&Gonum{}).Minimize(p, []float64{0.5, 0.5})
	require.ErrorIs(t, err, ErrBounded)
}

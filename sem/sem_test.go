package sem

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/kshedden/mixedmodel/linalg"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var central = &fd.Settings{Formula: fd.Central}
var centralJac = &fd.JacobianSettings{Formula: fd.Central}

// templates returns a two factor model in which the second factor is
// regressed on the first.  If extra is true, x4 also loads on the first
// factor and the errors of x1 and x2 are correlated.
func templates(extra bool) (lambda, beta, phi, psi *mat.Dense) {

	lambda = mat.NewDense(6, 2, []float64{
		1, 0,
		1, 0,
		1, 0,
		0, 1,
		0, 1,
		0, 1,
	})
	beta = mat.NewDense(2, 2, []float64{0, 0, 0.5, 0})
	phi = mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	psi = linalg.Eye(6)

	if extra {
		lambda.Set(3, 0, 0.5)
		psi.Set(1, 0, 0.2)
	}

	return
}

// truth holds generating values in parameter order.
var (
	truthExtra = []float64{0.8, 0.7, 0.4, 0.9, 0.6, 0.5, 1.2, 0.8, 0.5, 0.1, 0.4, 0.6, 0.3, 0.5, 0.4}
	truthBasic = []float64{0.8, 0.7, 0.9, 0.6, 0.5, 1.2, 0.8, 0.5, 0.4, 0.6, 0.3, 0.5, 0.4}
)

func model(t *testing.T, extra bool, s *mat.SymDense) *SEM {
	la, be, ph, ps := templates(extra)
	if s == nil {
		s = linalg.Symmetrize(linalg.Eye(6))
	}
	sem, err := NewSEM(la, be, ph, ps, s, 500, nil)
	require.NoError(t, err)
	return sem
}

// perturbed returns the implied covariance at truth plus a small
// symmetric perturbation.
func perturbed(t *testing.T, extra bool, truth []float64) *mat.SymDense {
	sig := model(t, extra, nil).ImpliedCov(truth)
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 6; i++ {
		for j := 0; j <= i; j++ {
			sig.SetSym(i, j, sig.At(i, j)+0.05*rng.NormFloat64())
		}
		sig.SetSym(i, i, sig.At(i, i)+0.2)
	}
	return sig
}

func TestFreeParameters(t *testing.T) {

	sem := model(t, true, nil)
	require.Equal(t, 15, sem.NumParams())
	require.Equal(t, 6, sem.DF())
	require.Equal(t, "x2~f1", sem.Names()[0])
	require.Equal(t, "x4~f1", sem.Names()[2])
	require.Equal(t, "f2<-f1", sem.Names()[5])
	require.Equal(t, "f1~~f1", sem.Names()[6])
	require.Equal(t, "x2~~x1", sem.Names()[9])

	// Variances are bounded below by zero
	for i, lb := range sem.lower {
		if strings.Contains(sem.names[i], "~~") && i != 9 {
			require.Equal(t, 0.0, lb)
		} else {
			require.True(t, math.IsInf(lb, -1))
		}
	}

	// The fixed loadings stay at their template value
	mm := sem.ModelMatrices(truthExtra)
	require.Equal(t, 1.0, mm.Lambda.At(0, 0))
	require.Equal(t, 1.0, mm.Lambda.At(3, 1))
	require.Equal(t, 0.0, mm.Lambda.At(5, 0))
	require.Equal(t, 0.5, mm.Beta.At(1, 0))
	require.Equal(t, 0.1, mm.Psi.At(0, 1))
}

func TestIndicatorVars(t *testing.T) {

	la, be, ph, ps := templates(false)
	iv := mat.NewDense(6, 2, nil)
	iv.Set(1, 0, 1)
	iv.Set(5, 1, 1)
	cfg := DefaultConfig()
	cfg.IndicatorVars = iv
	sem, err := NewSEM(la, be, ph, ps, linalg.Symmetrize(linalg.Eye(6)), 100, cfg)
	require.NoError(t, err)
	require.Equal(t, 13, sem.NumParams())
	require.Equal(t, []string{"x1~f1", "x3~f1", "x4~f2", "x5~f2"}, sem.Names()[0:4])

	// Latent variances other than 1 do not select an indicator
	ph.Set(0, 0, 2)
	ph.Set(1, 1, 2)
	sem, err = NewSEM(la, be, ph, ps, linalg.Symmetrize(linalg.Eye(6)), 100, nil)
	require.NoError(t, err)
	require.Equal(t, 15, sem.NumParams())

	_, err = NewSEM(la, mat.NewDense(3, 3, nil), ph, ps, linalg.Symmetrize(linalg.Eye(6)), 100, nil)
	require.Error(t, err)
}

func TestImpliedCov(t *testing.T) {

	sem := model(t, false, nil)
	mm := sem.ModelMatrices(truthBasic)

	// Direct calculation: f2 = 0.5 f1 + d2
	lam := mm.Lambda
	var ib mat.Dense
	ib.Inverse(mat.NewDense(2, 2, []float64{1, 0, -0.5, 1}))
	require.True(t, mat.EqualApprox(&ib, mm.IB, 1e-12))

	cf := mat.NewDense(2, 2, []float64{1.2, 0.6, 0.6, 0.3 + 0.8})
	var a, b mat.Dense
	a.Mul(lam, cf)
	b.Mul(&a, lam.T())
	b.Add(&b, mm.Psi)

	require.True(t, mat.EqualApprox(&b, sem.ImpliedCov(truthBasic), 1e-12))
}

func TestDSigma(t *testing.T) {

	sem := model(t, true, nil)
	m := sem.NumParams()

	g := sem.DSigma(truthExtra)
	ng := mat.NewDense(linalg.VechLen(6), m, nil)
	fd.Jacobian(ng, func(y, x []float64) {
		copy(y, linalg.Vech(sem.ImpliedCov(x)))
	}, truthExtra, centralJac)

	require.True(t, mat.EqualApprox(g, ng, 1e-7))
}

func TestDerivatives(t *testing.T) {

	for _, extra := range []bool{false, true} {
		truth := truthBasic
		if extra {
			truth = truthExtra
		}
		sem := model(t, extra, perturbed(t, extra, truth))
		m := sem.NumParams()

		theta := make([]float64, m)
		for i := range theta {
			theta[i] = 1.1 * truth[i]
		}

		grad := make([]float64, m)
		sem.Gradient(theta, grad)
		ngrad := make([]float64, m)
		fd.Gradient(ngrad, sem.LogLike, theta, central)
		for j := range grad {
			require.InDelta(t, ngrad[j], grad[j], 1e-6*math.Max(1, math.Abs(grad[j])), "extra=%v position %d", extra, j)
		}

		hess := mat.NewSymDense(m, nil)
		sem.Hessian(theta, hess)
		nhess := mat.NewDense(m, m, nil)
		fd.Jacobian(nhess, sem.Gradient, theta, centralJac)
		for i := 0; i < m; i++ {
			for j := 0; j < m; j++ {
				require.InDelta(t, nhess.At(i, j), hess.At(i, j), 1e-5*math.Max(1, math.Abs(hess.At(i, j))),
					"extra=%v position %d,%d", extra, i, j)
			}
		}
	}
}

func TestLogLikeOutside(t *testing.T) {
	sem := model(t, false, nil)
	theta := append([]float64(nil), truthBasic...)
	// Large negative error variance
	theta[8] = -50
	require.True(t, math.IsInf(sem.LogLike(theta), 1))

	// Two negative eigenvalues give a positive determinant but Sigma
	// is still not positive definite.
	theta[11] = -50
	_, sign := linalg.LogDet(sem.ImpliedCov(theta))
	require.Equal(t, 1.0, sign)
	require.True(t, math.IsInf(sem.LogLike(theta), 1))
}

func TestFitExact(t *testing.T) {

	s := model(t, false, nil).ImpliedCov(truthBasic)
	sem := model(t, false, s)

	rslt, err := sem.Fit()
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.False(t, rslt.Singular)

	require.True(t, floats.EqualApprox(truthBasic, rslt.Theta, 1e-3))
	require.True(t, mat.EqualApprox(s, rslt.Sigma, 1e-5))
	require.InDelta(t, 0, rslt.Chi2, 1e-4)
	require.Equal(t, 8, rslt.DF)
	require.InDelta(t, 1, rslt.Chi2PValue, 1e-3)

	// ACov is the inverse Hessian scaled by the sample size
	m := sem.NumParams()
	h := mat.NewSymDense(m, nil)
	sem.Hessian(rslt.Theta, h)
	var prod mat.Dense
	prod.Mul(rslt.ACov, h)
	prod.Scale(1/500.0, &prod)
	require.True(t, mat.EqualApprox(&prod, linalg.Eye(m), 1e-6))

	for _, se := range rslt.StdErr() {
		require.True(t, se > 0 && se < 1)
	}

	s2 := rslt.Summary()
	require.True(t, strings.Contains(s2, "f2<-f1"))
	require.True(t, strings.Contains(s2, "Structural equation model"))
}

func TestFitSaturated(t *testing.T) {

	// One factor with three indicators has no degrees of freedom.
	la := mat.NewDense(3, 1, []float64{1, 1, 1})
	be := mat.NewDense(1, 1, nil)
	ph := mat.NewDense(1, 1, []float64{1})
	ps := linalg.Eye(3)

	s := mat.NewSymDense(3, []float64{
		2.0, 0.9, 0.7,
		0.9, 1.6, 0.5,
		0.7, 0.5, 1.4,
	})

	sem, err := NewSEM(la, be, ph, ps, s, 200, nil)
	require.NoError(t, err)
	require.Equal(t, 6, sem.NumParams())
	require.Equal(t, 0, sem.DF())

	rslt, err := sem.Fit()
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.True(t, mat.EqualApprox(s, rslt.Sigma, 1e-5))
	require.True(t, math.IsNaN(rslt.Chi2PValue))

	// Closed form for the loadings
	require.InDelta(t, 0.5/0.7, rslt.Theta[0], 1e-4)
	require.InDelta(t, 0.5/0.9, rslt.Theta[1], 1e-4)
	require.InDelta(t, 0.9*0.7/0.5, rslt.Theta[2], 1e-4)
}

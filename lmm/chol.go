package lmm

import (
	"gonum.org/v1/gonum/mat"
)

// The functions below take theta in the Cholesky parameterization, in
// which each covariance block is replaced by its packed lower Cholesky
// factor.  The residual variance is not transformed.

// LogLikeC returns LogLike at the covariance implied by thetaChol.
func (m *LMM) LogLikeC(thetaChol []float64) float64 {
	return m.LogLike(m.layout.InverseTransformTheta(thetaChol))
}

// GradientC places the gradient of LogLike with respect to the
// covariance parameters, evaluated at the covariance implied by
// thetaChol, into grad.
func (m *LMM) GradientC(thetaChol, grad []float64) {
	m.Gradient(m.layout.InverseTransformTheta(thetaChol), grad)
}

// HessianC places the Hessian of LogLike with respect to the covariance
// parameters, evaluated at the covariance implied by thetaChol, into
// hess.
func (m *LMM) HessianC(thetaChol []float64, hess *mat.SymDense) {
	m.Hessian(m.layout.InverseTransformTheta(thetaChol), hess)
}

// GradientChol places the gradient of LogLikeC with respect to
// thetaChol into grad.
func (m *LMM) GradientChol(thetaChol, grad []float64) {
	nt := len(thetaChol)
	g := make([]float64, nt)
	m.GradientC(thetaChol, g)

	jf := m.layout.cholJacobian(thetaChol)
	gc := mat.NewVecDense(nt, grad)
	gc.MulVec(jf.T(), mat.NewVecDense(nt, g))
}

// HessianChol places the Hessian of LogLikeC with respect to thetaChol
// into hess.
func (m *LMM) HessianChol(thetaChol []float64, hess *mat.SymDense) {
	nt := len(thetaChol)

	g := make([]float64, nt)
	m.GradientC(thetaChol, g)
	hq := mat.NewSymDense(nt, nil)
	m.HessianC(thetaChol, hq)

	jf := m.layout.cholJacobian(thetaChol)

	// Jf' Hq Jf
	var t, a mat.Dense
	t.Mul(hq, jf)
	a.Mul(jf.T(), &t)

	// Curvature of the map from the Cholesky factors to the covariances
	for f := range m.layout.dims {
		lo, hi := m.layout.Span(f)
		for k, hk := range m.layout.d2[f] {
			gk := g[lo+k]
			for i := 0; i < hi-lo; i++ {
				for j := 0; j < hi-lo; j++ {
					a.Set(lo+i, lo+j, a.At(lo+i, lo+j)+gk*hk.At(i, j))
				}
			}
		}
	}

	for i := 0; i < nt; i++ {
		for j := 0; j <= i; j++ {
			hess.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
}

package gam

import (
	"math"

	"github.com/kshedden/mixedmodel/linalg"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// remlState holds the quantities of the working linear model that are
// shared by the REML criterion and its derivatives.
type remlState struct {
	alpha []float64
	phi   float64

	// X^T W X + S
	h *mat.SymDense

	// Inverse of h
	a *mat.SymDense

	logdetH float64

	beta []float64

	// Residual sum of squares and penalty b^T S b
	rss float64
	bsb float64
}

func (gm *GAM) splitTheta(theta []float64) ([]float64, float64) {
	m := len(gm.smooths)
	alpha := make([]float64, m)
	for i := range alpha {
		alpha[i] = math.Exp(theta[i])
	}
	return alpha, math.Exp(theta[m])
}

func (gm *GAM) state(theta []float64) *remlState {

	alpha, phi := gm.splitTheta(theta)
	s := gm.PenaltyMat(alpha)

	nx := gm.NumCoef()
	h := mat.NewSymDense(nx, nil)
	h.AddSym(gm.wxtx, s)

	st := &remlState{alpha: alpha, phi: phi, h: h}

	var chol mat.Cholesky
	if chol.Factorize(h) {
		st.a = mat.NewSymDense(nx, nil)
		if err := chol.InverseTo(st.a); err != nil {
			st.a = linalg.PInvSym(h, 0)
		}
		st.logdetH = chol.LogDet()
	} else {
		st.a = linalg.PInvSym(h, 0)
		st.logdetH, _ = linalg.LogDet(h)
	}

	var b mat.VecDense
	b.MulVec(st.a, mat.NewVecDense(nx, gm.wxty))
	st.beta = b.RawVector().Data

	st.rss = gm.wyty - 2*floats.Dot(st.beta, gm.wxty) + linalg.QuadForm(st.beta, gm.wxtx, st.beta)
	st.bsb = linalg.QuadForm(st.beta, s, st.beta)

	return st
}

// REML returns the negative Laplace approximate restricted log
// likelihood of the working linear model.  The first elements of theta
// are the log smoothing parameters and the final element is the log
// scale.
func (gm *GAM) REML(theta []float64) float64 {

	st := gm.state(theta)
	nx := float64(gm.NumCoef())
	n := float64(gm.wn)

	f := (st.rss + st.bsb) / st.phi
	f += st.logdetH - nx*math.Log(st.phi)
	f -= gm.LogDetS(st.alpha, st.phi)
	f += n * math.Log(2*math.Pi*st.phi)

	return f / 2
}

// nullDim returns the dimension of the null space of the total penalty.
func (gm *GAM) nullDim() int {
	mp := gm.NumCoef()
	for _, r := range gm.ranks {
		mp -= r
	}
	return mp
}

// traceProd returns tr(a * b) for symmetric a and b.
func traceProd(a, b mat.Symmetric) float64 {
	p := a.SymmetricDim()
	var t float64
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			t += a.At(i, j) * b.At(j, i)
		}
	}
	return t
}

// Gradient places the gradient of REML into grad.
func (gm *GAM) Gradient(theta, grad []float64) {

	st := gm.state(theta)
	m := len(gm.smooths)

	for i := 0; i < m; i++ {
		bsib := linalg.QuadForm(st.beta, gm.sfull[i], st.beta)
		g := st.alpha[i] * bsib / st.phi
		g += st.alpha[i] * traceProd(st.a, gm.sfull[i])
		g -= float64(gm.ranks[i])
		grad[i] = g / 2
	}

	grad[m] = (-(st.rss+st.bsb)/st.phi + float64(gm.wn-gm.nullDim())) / 2
}

// dBeta returns the derivative of the coefficients with respect to each
// log smoothing parameter, -alpha_i * A * S_i * beta, as the columns of
// an nx x m matrix.
func (gm *GAM) dBeta(st *remlState) *mat.Dense {
	nx := gm.NumCoef()
	m := len(gm.smooths)
	jb := mat.NewDense(nx, m, nil)
	bv := mat.NewVecDense(nx, st.beta)
	for i := 0; i < m; i++ {
		var sb, asb mat.VecDense
		sb.MulVec(gm.sfull[i], bv)
		asb.MulVec(st.a, &sb)
		asb.ScaleVec(-st.alpha[i], &asb)
		jb.SetCol(i, asb.RawVector().Data)
	}
	return jb
}

// GradBetaRho returns the derivatives of the coefficients with respect
// to the log smoothing parameters, one column per smooth.
func (gm *GAM) GradBetaRho(theta []float64) *mat.Dense {
	return gm.dBeta(gm.state(theta))
}

// Hessian places the Hessian of REML into hess.
func (gm *GAM) Hessian(theta []float64, hess *mat.SymDense) {

	st := gm.state(theta)
	m := len(gm.smooths)
	nx := gm.NumCoef()
	jb := gm.dBeta(st)

	// A*S_i for each smooth
	as := make([]*mat.Dense, m)
	for i := 0; i < m; i++ {
		as[i] = mat.NewDense(nx, nx, nil)
		as[i].Mul(st.a, gm.sfull[i])
	}

	bv := mat.NewVecDense(nx, st.beta)
	for i := 0; i < m; i++ {
		var sib mat.VecDense
		sib.MulVec(gm.sfull[i], bv)
		bsib := mat.Dot(bv, &sib)

		for j := 0; j <= i; j++ {
			// 2 * alpha_i * dbeta_j^T S_i beta / phi
			v := 2 * st.alpha[i] * mat.Dot(jb.ColView(j), &sib) / st.phi

			// -alpha_i alpha_j tr(A S_i A S_j)
			var t float64
			for a := 0; a < nx; a++ {
				for b := 0; b < nx; b++ {
					t += as[i].At(a, b) * as[j].At(b, a)
				}
			}
			v -= st.alpha[i] * st.alpha[j] * t

			if i == j {
				v += st.alpha[i] * bsib / st.phi
				v += st.alpha[i] * traceProd(st.a, gm.sfull[i])
			}
			hess.SetSym(i, j, v/2)
		}

		hess.SetSym(m, i, -st.alpha[i]*bsib/(2*st.phi))
	}

	hess.SetSym(m, m, (st.rss+st.bsb)/(2*st.phi))
}

// initTheta returns starting values for the log smoothing parameters
// and log scale of the working linear model.  Each smoothing parameter
// starts at the mean of 1.5*d/s over the coefficients with positive
// penalty diagonal s, where d is the diagonal of X^T W X.
func (gm *GAM) initTheta() []float64 {
	m := len(gm.smooths)
	theta := make([]float64, m+1)
	for i := 0; i < m; i++ {
		var sum float64
		var k int
		for j := gm.lo[i]; j < gm.hi[i]; j++ {
			s := gm.sfull[i].At(j, j)
			if s > 0 {
				sum += 1.5 * gm.wxtx.At(j, j) / s
				k++
			}
		}
		lam := 1.0
		if k > 0 && sum > 0 {
			lam = sum / float64(k)
		}
		theta[i] = math.Log(lam)
	}

	// The scale starts at the variance of the working response.
	n := float64(gm.wn)
	mn := gm.wysum / n
	v := gm.wyty/n - mn*mn
	if !(v > 0) {
		v = 1
	}
	theta[m] = math.Log(v)

	return theta
}

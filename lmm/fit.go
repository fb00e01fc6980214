package lmm

import (
	"errors"
	"fmt"
	"math"

	"github.com/kshedden/mixedmodel/linalg"
	"github.com/kshedden/mixedmodel/optim"
	"github.com/kshedden/mixedmodel/statmodel"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Results describes a fitted linear mixed model.
type Results struct {
	statmodel.BaseResults
	statmodel.InfoCriteria

	model *LMM

	// Covariance parameters, and their Cholesky parameterization if
	// every block is positive definite
	Theta     []float64
	ThetaChol []float64

	Beta []float64

	// Covariance of Beta, (X'V^-1 X)^-1
	BetaCov *mat.SymDense

	// Approximate covariance of Theta, the pseudo-inverse of half the
	// Hessian of -2 * log-likelihood
	ThetaCov *mat.SymDense

	// Predicted random effects, G Z'V^-1 (y - X Beta)
	U []float64

	// Covariance and correlation matrix of each grouping factor
	ReCov  []*mat.SymDense
	ReCorr []*mat.SymDense

	// -2 * log-likelihood including the constant, and the
	// log-likelihood itself
	LL  float64
	LLF float64

	Converged bool
	Singular  bool

	Optim *optim.Result
}

var _ statmodel.BaseResultser = (*Results)(nil)

func (m *LMM) minimizer() optim.Minimizer {
	if m.config.Optimizer != nil {
		return m.config.Optimizer
	}
	tr := optim.NewTrustRegion()
	tr.Settings.GradTol = m.config.GradTol
	tr.Settings.MaxIter = m.config.MaxIter
	tr.Settings.Log = m.config.Log
	return tr
}

// fixLast returns the problem restricted to all but the last variable,
// which is held at v.
func fixLast(p optim.Problem, v float64) optim.Problem {

	ext := func(x []float64) []float64 {
		y := make([]float64, len(x)+1)
		copy(y, x)
		y[len(x)] = v
		return y
	}

	r := optim.Problem{
		Func: func(x []float64) float64 {
			return p.Func(ext(x))
		},
	}
	if p.Grad != nil {
		r.Grad = func(x, grad []float64) {
			g := make([]float64, len(x)+1)
			p.Grad(ext(x), g)
			copy(grad, g)
		}
	}
	if p.Hess != nil {
		r.Hess = func(x []float64, hess *mat.SymDense) {
			n := len(x)
			h := mat.NewSymDense(n+1, nil)
			p.Hess(ext(x), h)
			hess.CopySym(h.SliceSym(0, n))
		}
	}
	if p.Lower != nil {
		r.Lower = p.Lower[:len(p.Lower)-1]
	}
	if p.Upper != nil {
		r.Upper = p.Upper[:len(p.Upper)-1]
	}
	return r
}

// optimize minimizes the objective starting from theta0, given in the
// covariance parameterization.  The estimate is returned in the
// covariance parameterization.
func (m *LMM) optimize(theta0 []float64) ([]float64, *optim.Result, error) {

	lo := m.layout
	nt := lo.NumTheta()

	var x0 []float64
	var prob optim.Problem
	if m.config.Chol {
		var err error
		x0, err = lo.TransformTheta(theta0)
		if err != nil {
			return nil, nil, err
		}
		prob = optim.Problem{Func: m.LogLikeC, Grad: m.GradientChol, Hess: m.HessianChol}
	} else {
		x0 = append([]float64(nil), theta0...)
		prob = optim.Problem{Func: m.LogLike, Grad: m.Gradient, Hess: m.Hessian}
	}
	if !m.config.UseHess {
		prob.Hess = nil
	}
	prob.Lower = lo.lowerBounds()

	if m.config.FixResid {
		prob = fixLast(prob, 1)
		x0 = x0[:nt-1]
	}

	opt := m.minimizer()
	ores, err := opt.Minimize(prob, x0)
	if errors.Is(err, optim.ErrBounded) {
		prob.Lower, prob.Upper = nil, nil
		ores, err = opt.Minimize(prob, x0)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lmm: %w", err)
	}

	if !ores.Converged && m.config.Log != nil {
		names := lo.Names()
		if m.config.FixResid {
			names = names[:nt-1]
		}
		optim.FailMessage(m.config.Log.Writer(), ores, names)
	}

	x := make([]float64, nt)
	copy(x, ores.X)
	if m.config.FixResid {
		x[nt-1] = 1
	}

	if !m.config.Chol {
		return x, ores, nil
	}

	for f := range lo.dims {
		a, b := lo.Span(f)
		if err := linalg.CholDiagPositive(x[a:b]); err != nil {
			return nil, nil, err
		}
	}
	return lo.InverseTransformTheta(x), ores, nil
}

// Fit estimates the covariance parameters and the fixed and random
// effects.
func (m *LMM) Fit() (*Results, error) {
	return m.fitFrom(m.layout.InitTheta())
}

func (m *LMM) fitFrom(theta0 []float64) (*Results, error) {
	theta, ores, err := m.optimize(theta0)
	if err != nil {
		return nil, err
	}
	return m.results(theta, ores)
}

// thetaHessian returns the Hessian of LogLike at theta, either
// analytically or by central differences of the gradient.
func (m *LMM) thetaHessian(theta []float64) *mat.SymDense {
	nt := len(theta)
	h := mat.NewSymDense(nt, nil)
	if m.config.AnalyticSE {
		m.Hessian(theta, h)
		return h
	}

	jac := mat.NewDense(nt, nt, nil)
	fd.Jacobian(jac, m.Gradient, theta, &fd.JacobianSettings{Formula: fd.Central})
	return linalg.Symmetrize(jac)
}

func (m *LMM) results(theta []float64, ores *optim.Result) (*Results, error) {

	st, ok := m.state(theta)
	if !ok {
		return nil, fmt.Errorf("lmm: estimate is outside the parameter space")
	}
	singular := m.singular

	lo := m.layout
	n, p := m.x.Dims()
	nt := len(theta)

	// Predicted random effects
	u := m.g.MulVec(st.a)

	h := m.thetaHessian(theta)
	h.ScaleSym(0.5, h)
	tcov := linalg.PInvSym(h, 0)

	k := p + nt
	vcov := make([]float64, k*k)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			vcov[i*k+j] = st.cinv.At(i, j)
		}
	}
	for i := 0; i < nt; i++ {
		for j := 0; j < nt; j++ {
			vcov[(p+i)*k+p+j] = tcov.At(i, j)
		}
	}

	params := append(append([]float64(nil), st.beta...), theta...)
	names := append(append([]string(nil), m.xnames...), lo.Names()...)

	f := m.LogLike(theta)
	var llconst, nn, d float64
	dt := float64(nt)
	if m.config.FixResid {
		dt--
	}
	if m.config.REML {
		llconst = float64(n-p) * math.Log(2*math.Pi)
		nn = float64(n - p)
		d = dt
	} else {
		llconst = float64(n) * math.Log(2*math.Pi)
		nn = float64(n)
		d = float64(p) + dt
	}
	ll := llconst + f

	var recov, recorr []*mat.SymDense
	for fi := range lo.dims {
		c := lo.Cov(theta, fi)
		recov = append(recov, c)
		recorr = append(recorr, corr(c))
	}

	tc, err := lo.TransformTheta(theta)
	if err != nil {
		tc = nil
	}

	rslt := &Results{
		BaseResults:  statmodel.NewBaseResults(-ll/2, params, names, vcov),
		InfoCriteria: statmodel.NewInfoCriteria(ll, d, nn),
		model:        m,
		Theta:        theta,
		ThetaChol:    tc,
		Beta:         st.beta,
		BetaCov:      st.cinv,
		ThetaCov:     tcov,
		U:            u,
		ReCov:        recov,
		ReCorr:       recorr,
		LL:           ll,
		LLF:          -ll / 2,
		Converged:    ores.Converged,
		Singular:     singular,
		Optim:        ores,
	}

	return rslt, nil
}

// corr returns the correlation matrix of the covariance matrix c.
func corr(c *mat.SymDense) *mat.SymDense {
	p := c.SymmetricDim()
	r := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j <= i; j++ {
			r.SetSym(i, j, c.At(i, j)/math.Sqrt(c.At(i, i)*c.At(j, j)))
		}
	}
	return r
}

// TPValues returns two-sided p-values for the parameters using a
// Student t reference distribution with n - p degrees of freedom.
func (rslt *Results) TPValues() []float64 {
	n, p := rslt.model.x.Dims()
	return rslt.BaseResults.TPValues(float64(n - p))
}

// Predict returns X Beta + Z U.  If x or z is nil, the design used to
// fit the model is used.
func (rslt *Results) Predict(x *mat.Dense, z *linalg.CSC) ([]float64, error) {
	m := rslt.model
	if x == nil {
		x = m.x
	}
	if z == nil {
		z = m.z
	}

	n, p := x.Dims()
	zr, q := z.Dims()
	if p != len(rslt.Beta) || q != len(rslt.U) || zr != n {
		return nil, fmt.Errorf("lmm: prediction design is %d x %d and %d x %d", n, p, zr, q)
	}

	var xb mat.VecDense
	xb.MulVec(x, mat.NewVecDense(p, rslt.Beta))
	yhat := z.MulVec(rslt.U)
	for i := range yhat {
		yhat[i] += xb.AtVec(i)
	}
	return yhat, nil
}

// Summary returns a text summary of the fitted model.
func (rslt *Results) Summary() string {

	m := rslt.model
	n, _ := m.x.Dims()

	crit := "ML"
	if m.config.REML {
		crit = "REML"
	}

	top := []string{
		fmt.Sprintf("Criterion: %s", crit),
		fmt.Sprintf("Nobs:      %d", n),
		fmt.Sprintf("LL:        %.4f", rslt.LLF),
		fmt.Sprintf("AIC:       %.4f", rslt.AIC),
		fmt.Sprintf("AICC:      %.4f", rslt.AICC),
		fmt.Sprintf("BIC:       %.4f", rslt.BIC),
		fmt.Sprintf("CAIC:      %.4f", rslt.CAIC),
	}
	for _, d := range m.layout.dims {
		top = append(top, fmt.Sprintf("%s groups: %d", d.Name, d.NGroups))
	}

	tab := rslt.table("Linear mixed model", top)
	if !rslt.Converged {
		tab.Msg = append(tab.Msg, "The optimization did not converge.")
	}

	return tab.String()
}

// table returns the parameter table with t statistics.
func (rslt *Results) table(title string, top []string) *statmodel.SummaryTable {
	tab := statmodel.ResultsTable(title, top, rslt, rslt.TPValues(), "t")
	if rslt.Singular {
		tab.Msg = append(tab.Msg, "A covariance matrix was singular at the estimate.")
	}
	return tab
}

package sem

import (
	"fmt"
	"log"
	"math"

	"github.com/kshedden/mixedmodel/linalg"
	"github.com/kshedden/mixedmodel/optim"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config defines configuration parameters for a structural equation
// model.
type Config struct {

	// If not nil, the optimizer logs its progress here.
	Log *log.Logger

	// The minimizer, a bounded trust region method if nil.
	Optimizer optim.Minimizer

	// Nonzero entries mark loadings that are held at their template
	// value to fix the scale of a latent variable.  If nil, the largest
	// loading of every latent variable whose Phi template diagonal is 1
	// is held fixed.
	IndicatorVars *mat.Dense

	// Names of the observed and latent variables, used to label the
	// parameters.
	ObsNames    []string
	LatentNames []string
}

// DefaultConfig returns default configuration values for a structural
// equation model.
func DefaultConfig() *Config {
	return &Config{}
}

type part int

const (
	partLambda part = iota
	partBeta
	partPhi
	partPsi
)

// param is a free parameter, located by its model matrix and position.
// Positions in Phi and Psi have row >= col.
type param struct {
	part     part
	row, col int
}

// Matrices holds the model matrices for a parameter vector.  IB is the
// (pseudo-)inverse of I - B.
type Matrices struct {
	Lambda *mat.Dense
	Beta   *mat.Dense
	IB     *mat.Dense
	Phi    *mat.SymDense
	Psi    *mat.SymDense
}

// SEM is a structural equation model for a sample covariance matrix.
type SEM struct {

	// Number of observed and latent variables
	p, k int

	// Templates
	lambda *mat.Dense
	beta   *mat.Dense
	phi    *mat.SymDense
	psi    *mat.SymDense

	// Sample covariance and sample size
	s    *mat.SymDense
	nobs int

	free   []param
	theta0 []float64
	lower  []float64
	names  []string

	// Constant matrices used by the derivatives: 2 N_p, D_k, D_p, L_p
	// and I_p.
	n2, dk, dp, lp, ip *mat.Dense

	config *Config
}

func symTemplate(name string, a *mat.Dense, n int) (*mat.SymDense, error) {
	r, c := a.Dims()
	if r != n || c != n {
		return nil, fmt.Errorf("sem: %s is %d x %d, must be %d x %d", name, r, c, n, n)
	}
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			s.SetSym(i, j, a.At(i, j))
		}
	}
	return s, nil
}

// NewSEM returns a structural equation model with the given templates,
// for the sample covariance matrix s estimated from nobs observations.
func NewSEM(lambda, beta, phi, psi *mat.Dense, s *mat.SymDense, nobs int, config *Config) (*SEM, error) {

	if config == nil {
		config = DefaultConfig()
	}

	p, k := lambda.Dims()
	if s.SymmetricDim() != p {
		return nil, fmt.Errorf("sem: S is %d x %d but Lambda has %d rows", s.SymmetricDim(), s.SymmetricDim(), p)
	}
	if r, c := beta.Dims(); r != k || c != k {
		return nil, fmt.Errorf("sem: Beta is %d x %d, must be %d x %d", r, c, k, k)
	}
	if nobs < 2 {
		return nil, fmt.Errorf("sem: need at least 2 observations, got %d", nobs)
	}
	phis, err := symTemplate("Phi", phi, k)
	if err != nil {
		return nil, err
	}
	psis, err := symTemplate("Psi", psi, p)
	if err != nil {
		return nil, err
	}

	sem := &SEM{
		p:      p,
		k:      k,
		lambda: mat.DenseCopyOf(lambda),
		beta:   mat.DenseCopyOf(beta),
		phi:    phis,
		psi:    psis,
		s:      s,
		nobs:   nobs,
		config: config,
	}

	fixed, err := sem.indicators()
	if err != nil {
		return nil, err
	}
	sem.setFree(fixed)

	sem.n2 = linalg.Nmat(p)
	sem.n2.Scale(2, sem.n2)
	sem.dk = linalg.Dmat(k)
	sem.dp = linalg.Dmat(p)
	sem.lp = linalg.Lmat(p)
	sem.ip = linalg.Eye(p)

	return sem, nil
}

// indicators returns the mask of loadings that are held fixed.
func (sem *SEM) indicators() (*mat.Dense, error) {

	p, k := sem.p, sem.k
	fixed := mat.NewDense(p, k, nil)

	if iv := sem.config.IndicatorVars; iv != nil {
		if r, c := iv.Dims(); r != p || c != k {
			return nil, fmt.Errorf("sem: IndicatorVars is %d x %d, must be %d x %d", r, c, p, k)
		}
		for i := 0; i < p; i++ {
			for j := 0; j < k; j++ {
				if iv.At(i, j) != 0 {
					fixed.Set(i, j, 1)
				}
			}
		}
		return fixed, nil
	}

	for j := 0; j < k; j++ {
		if sem.phi.At(j, j) != 1 {
			continue
		}
		col := mat.Col(nil, j, sem.lambda)
		fixed.Set(floats.MaxIdx(col), j, 1)
	}
	return fixed, nil
}

func (sem *SEM) obsName(i int) string {
	if sem.config.ObsNames != nil {
		return sem.config.ObsNames[i]
	}
	return fmt.Sprintf("x%d", i+1)
}

func (sem *SEM) latentName(i int) string {
	if sem.config.LatentNames != nil {
		return sem.config.LatentNames[i]
	}
	return fmt.Sprintf("f%d", i+1)
}

// setFree locates the free parameters, in the order vec(Lambda),
// vec(B), vech(Phi), vech(Psi).
func (sem *SEM) setFree(fixed *mat.Dense) {

	p, k := sem.p, sem.k

	add := func(pr param, v float64, name string) {
		sem.free = append(sem.free, pr)
		sem.theta0 = append(sem.theta0, v)
		lb := math.Inf(-1)
		if (pr.part == partPhi || pr.part == partPsi) && pr.row == pr.col {
			lb = 0
		}
		sem.lower = append(sem.lower, lb)
		sem.names = append(sem.names, name)
	}

	for j := 0; j < k; j++ {
		for i := 0; i < p; i++ {
			if v := sem.lambda.At(i, j); v != 0 && fixed.At(i, j) == 0 {
				add(param{partLambda, i, j}, v, fmt.Sprintf("%s~%s", sem.obsName(i), sem.latentName(j)))
			}
		}
	}
	for j := 0; j < k; j++ {
		for i := 0; i < k; i++ {
			if v := sem.beta.At(i, j); v != 0 {
				add(param{partBeta, i, j}, v, fmt.Sprintf("%s<-%s", sem.latentName(i), sem.latentName(j)))
			}
		}
	}
	for j := 0; j < k; j++ {
		for i := j; i < k; i++ {
			if v := sem.phi.At(i, j); v != 0 {
				add(param{partPhi, i, j}, v, fmt.Sprintf("%s~~%s", sem.latentName(i), sem.latentName(j)))
			}
		}
	}
	for j := 0; j < p; j++ {
		for i := j; i < p; i++ {
			if v := sem.psi.At(i, j); v != 0 {
				add(param{partPsi, i, j}, v, fmt.Sprintf("%s~~%s", sem.obsName(i), sem.obsName(j)))
			}
		}
	}
}

// NumParams returns the number of free parameters.
func (sem *SEM) NumParams() int {
	return len(sem.free)
}

// Names returns labels for the free parameters.
func (sem *SEM) Names() []string {
	return sem.names
}

// StartTheta returns the template values of the free parameters.
func (sem *SEM) StartTheta() []float64 {
	return append([]float64(nil), sem.theta0...)
}

// DF returns the degrees of freedom of the model, p(p+1)/2 minus the
// number of free parameters.
func (sem *SEM) DF() int {
	return linalg.VechLen(sem.p) - len(sem.free)
}

// ModelMatrices places theta into copies of the templates.
func (sem *SEM) ModelMatrices(theta []float64) *Matrices {

	if len(theta) != len(sem.free) {
		panic(fmt.Sprintf("ModelMatrices: theta has length %d, model has %d parameters\n", len(theta), len(sem.free)))
	}

	mm := &Matrices{
		Lambda: mat.DenseCopyOf(sem.lambda),
		Beta:   mat.DenseCopyOf(sem.beta),
		Phi:    mat.NewSymDense(sem.k, nil),
		Psi:    mat.NewSymDense(sem.p, nil),
	}
	mm.Phi.CopySym(sem.phi)
	mm.Psi.CopySym(sem.psi)

	for i, pr := range sem.free {
		switch pr.part {
		case partLambda:
			mm.Lambda.Set(pr.row, pr.col, theta[i])
		case partBeta:
			mm.Beta.Set(pr.row, pr.col, theta[i])
		case partPhi:
			mm.Phi.SetSym(pr.row, pr.col, theta[i])
		case partPsi:
			mm.Psi.SetSym(pr.row, pr.col, theta[i])
		}
	}

	ib := linalg.Eye(sem.k)
	ib.Sub(ib, mm.Beta)
	mm.IB = linalg.PInv(ib, 0)

	return mm
}

// implied returns A = Lambda IB, M = IB Phi IB^T and Sigma.
func implied(mm *Matrices) (*mat.Dense, *mat.Dense, *mat.SymDense) {

	var m0, m mat.Dense
	m0.Mul(mm.IB, mm.Phi)
	m.Mul(&m0, mm.IB.T())

	var a, am mat.Dense
	a.Mul(mm.Lambda, mm.IB)
	am.Mul(mm.Lambda, &m)

	var sig mat.Dense
	sig.Mul(&am, mm.Lambda.T())
	sig.Add(&sig, mm.Psi)

	return &a, &m, linalg.Symmetrize(&sig)
}

// ImpliedCov returns the model-implied covariance matrix of the
// observed variables.
func (sem *SEM) ImpliedCov(theta []float64) *mat.SymDense {
	_, _, sig := implied(sem.ModelMatrices(theta))
	return sig
}

// jacobian returns the derivative of vec(Sigma) with respect to the
// free parameters.
func (sem *SEM) jacobian(mm *Matrices) *mat.Dense {

	p, k := sem.p, sem.k
	a, m, _ := implied(mm)

	// B = Lambda M = A Phi IB^T
	var b mat.Dense
	b.Mul(mm.Lambda, m)

	var dl, db, dphi mat.Dense
	dl.Mul(sem.n2, linalg.Kron(&b, sem.ip))
	db.Mul(sem.n2, linalg.Kron(&b, a))
	dphi.Mul(linalg.Kron(a, a), sem.dk)

	jac := mat.NewDense(p*p, len(sem.free), nil)
	col := make([]float64, p*p)
	for c, pr := range sem.free {
		switch pr.part {
		case partLambda:
			mat.Col(col, pr.col*p+pr.row, &dl)
		case partBeta:
			mat.Col(col, pr.col*k+pr.row, &db)
		case partPhi:
			mat.Col(col, linalg.VechIndex(k, pr.row, pr.col), &dphi)
		case partPsi:
			mat.Col(col, linalg.VechIndex(p, pr.row, pr.col), sem.dp)
		}
		jac.SetCol(c, col)
	}

	return jac
}

// DSigma returns the derivative of vech(Sigma) with respect to the free
// parameters, a p(p+1)/2 x NumParams matrix.
func (sem *SEM) DSigma(theta []float64) *mat.Dense {
	var g mat.Dense
	g.Mul(sem.lp, sem.jacobian(sem.ModelMatrices(theta)))
	return &g
}

func inverse(a *mat.SymDense) *mat.SymDense {
	ai, _ := linalg.InvSym(a)
	return ai
}

// LogLike returns the discrepancy log|Sigma| + tr(S Sigma^-1), which is
// -2/(n-1) times the log-likelihood up to a constant.  It is +Inf if
// Sigma is not positive definite, including when an even number of
// negative eigenvalues leaves the determinant positive.  No
// pseudo-inverse or log|det| value is substituted, so a bounded
// optimizer treats these points as outside the parameter space.
func (sem *SEM) LogLike(theta []float64) float64 {

	_, _, sig := implied(sem.ModelMatrices(theta))
	var chol mat.Cholesky
	if !chol.Factorize(sig) {
		return math.Inf(1)
	}
	ld := chol.LogDet()
	if math.IsNaN(ld) || math.IsInf(ld, 0) {
		return math.Inf(1)
	}

	var si mat.SymDense
	if err := chol.InverseTo(&si); err != nil {
		return math.Inf(1)
	}
	var ssi mat.Dense
	ssi.Mul(sem.s, &si)
	return ld + mat.Trace(&ssi)
}

// residWeight returns Sigma^-1 and E = Sigma^-1 (Sigma - S) Sigma^-1.
func (sem *SEM) residWeight(sig *mat.SymDense) (*mat.SymDense, *mat.SymDense) {
	si := inverse(sig)
	var d, t, e mat.Dense
	d.Sub(sig, sem.s)
	t.Mul(si, &d)
	e.Mul(&t, si)
	return si, linalg.Symmetrize(&e)
}

// Gradient places the gradient of LogLike at theta into grad.
func (sem *SEM) Gradient(theta, grad []float64) {

	mm := sem.ModelMatrices(theta)
	_, _, sig := implied(mm)
	_, e := sem.residWeight(sig)
	jac := sem.jacobian(mm)

	ve := mat.NewVecDense(sem.p*sem.p, linalg.Vec(e))
	g := mat.NewVecDense(len(grad), grad)
	g.MulVec(jac.T(), ve)
}

// unit returns an r x c matrix with a one in position (i, j), and in
// position (j, i) if sym is true.
func unit(r, c, i, j int, sym bool) *mat.Dense {
	u := mat.NewDense(r, c, nil)
	u.Set(i, j, 1)
	if sym {
		u.Set(j, i, 1)
	}
	return u
}

// tr returns the trace of a b.
func tr(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	var s float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += a.At(i, j) * b.At(j, i)
		}
	}
	return s
}

func mul(ms ...mat.Matrix) *mat.Dense {
	r := mat.DenseCopyOf(ms[0])
	for _, m := range ms[1:] {
		var t mat.Dense
		t.Mul(r, m)
		r = &t
	}
	return r
}

// secondTerm returns tr(E d2Sigma) for the second derivative of Sigma
// with respect to the free parameters a and b.
func (sem *SEM) secondTerm(mm *Matrices, m *mat.Dense, e *mat.SymDense, a, b param) float64 {

	if a.part > b.part {
		a, b = b, a
	}
	if a.part == partPsi || b.part == partPsi || (a.part == partPhi && b.part == partPhi) {
		return 0
	}

	p, k := sem.p, sem.k
	lam, ib := mm.Lambda, mm.IB

	// Direction of a parameter in its matrix, and for paths the
	// derivative of IB, IB dB IB.
	dir := func(pr param) *mat.Dense {
		switch pr.part {
		case partLambda:
			return unit(p, k, pr.row, pr.col, false)
		case partBeta:
			return unit(k, k, pr.row, pr.col, false)
		default:
			return unit(k, k, pr.row, pr.col, true)
		}
	}
	dib := func(db *mat.Dense) *mat.Dense {
		return mul(ib, db, ib)
	}
	// Derivative of M = IB Phi IB^T along a path direction.
	dmb := func(di *mat.Dense) *mat.Dense {
		t := mul(di, mm.Phi, ib.T())
		var s mat.Dense
		s.Add(t, t.T())
		return &s
	}

	da, db := dir(a), dir(b)

	switch {
	case a.part == partLambda && b.part == partLambda:
		return 2 * tr(e, mul(da, m, db.T()))
	case a.part == partLambda && b.part == partBeta:
		return 2 * tr(e, mul(da, dmb(dib(db)), lam.T()))
	case a.part == partLambda && b.part == partPhi:
		return 2 * tr(e, mul(da, ib, db, ib.T(), lam.T()))
	case a.part == partBeta && b.part == partBeta:
		ia, ibb := dib(da), dib(db)
		var d2ib mat.Dense
		d2ib.Add(mul(ia, db, ib), mul(ibb, da, ib))
		t := mul(&d2ib, mm.Phi, ib.T())
		var d2m mat.Dense
		d2m.Add(t, t.T())
		u := mul(ia, mm.Phi, ibb.T())
		d2m.Add(&d2m, u)
		d2m.Add(&d2m, u.T())
		return tr(e, mul(lam, &d2m, lam.T()))
	case a.part == partBeta && b.part == partPhi:
		t := mul(dib(da), db, ib.T())
		var d2m mat.Dense
		d2m.Add(t, t.T())
		return tr(e, mul(lam, &d2m, lam.T()))
	}
	panic("unreachable")
}

// Hessian places the Hessian of LogLike at theta into hess.
func (sem *SEM) Hessian(theta []float64, hess *mat.SymDense) {

	mm := sem.ModelMatrices(theta)
	_, m, sig := implied(mm)
	si, e := sem.residWeight(sig)
	jac := sem.jacobian(mm)

	// W = (2 Sigma^-1 S Sigma^-1 - Sigma^-1) kron Sigma^-1
	var w0 mat.Dense
	w0.Mul(si, mul(sem.s, si))
	w0.Scale(2, &w0)
	w0.Sub(&w0, si)
	w := linalg.Kron(&w0, si)

	var h mat.Dense
	h.Mul(jac.T(), mul(w, jac))

	for i, a := range sem.free {
		for j := 0; j <= i; j++ {
			v := sem.secondTerm(mm, m, e, a, sem.free[j])
			h.Set(i, j, h.At(i, j)+v)
			if j != i {
				h.Set(j, i, h.At(j, i)+v)
			}
		}
	}

	hess.CopySym(linalg.Symmetrize(&h))
}

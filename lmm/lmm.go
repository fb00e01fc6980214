package lmm

import (
	"fmt"
	"log"
	"math"

	"github.com/kshedden/mixedmodel/linalg"
	"github.com/kshedden/mixedmodel/optim"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var negInf = math.Inf(-1)

// Config defines configuration parameters for a linear mixed model.
type Config struct {

	// If not nil, the optimizer progress is logged here.
	Log *log.Logger

	// Use restricted maximum likelihood.  If false, use maximum
	// likelihood.
	REML bool

	// Optimize over the Cholesky factors of the covariance blocks.  If
	// false, optimize over the covariance blocks with nonnegative
	// variance bounds.
	Chol bool

	// Use the analytic Hessian during optimization.  If false, the
	// default trust region method uses BFGS updates.
	UseHess bool

	// Compute the standard errors of theta from the analytic Hessian.
	// If false, the Hessian is obtained by differencing the gradient.
	AnalyticSE bool

	// If nil, a bounded trust region method is used.
	Optimizer optim.Minimizer

	// Gradient tolerance and iteration limit of the default optimizer.
	GradTol float64
	MaxIter int

	// Observation weights w.  The residual covariance is
	// s2 * diag(w^2).  Nil means unit weights.
	Weights []float64

	// Fix the residual variance at 1.
	FixResid bool
}

// DefaultConfig returns default configuration values for a linear
// mixed model.
func DefaultConfig() *Config {
	return &Config{
		REML:    true,
		Chol:    true,
		UseHess: true,
		GradTol: 1e-6,
		MaxIter: 200,
	}
}

// LMM is a linear mixed model.
type LMM struct {
	y      []float64
	x      *mat.Dense
	z      *linalg.CSC
	xnames []string

	layout *Layout

	// Random effects covariance and its inverse.  The blocks are
	// rewritten in place for each value of theta.
	g    *linalg.BlockDiag
	ginv *linalg.BlockDiag

	// Derivative of G with respect to each covariance element of theta
	gjac []*linalg.CSC

	// Squared weights and the sum of their logs
	d       []float64
	sumLogD float64

	// Sizes of the diagonal blocks of the mixed model equations in the
	// random effects, nil unless there is a single grouping factor
	qblocks []int

	// Cross products weighted by 1/d
	zz *mat.SymDense
	zx *mat.Dense
	xx *mat.SymDense
	zy []float64
	xy []float64
	yy float64

	config *Config

	// True if a covariance block or the mixed model equations were
	// singular at the last evaluation.
	singular bool
}

// NewLMM returns a linear mixed model for response y, fixed effects
// design x with column names xnames, and the random effects described
// by blocks.
func NewLMM(y []float64, x *mat.Dense, xnames []string, blocks []RandomBlock, config *Config) (*LMM, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("lmm: no random effects")
	}
	z, dims, err := randomDesign(len(y), blocks)
	if err != nil {
		return nil, err
	}
	return NewLMMFromDesign(y, x, xnames, z, dims, config)
}

// NewLMMFromDesign returns a linear mixed model with a given random
// effects design z.  The columns of z must be ordered by grouping
// factor, then by group, then by random effect within group.
func NewLMMFromDesign(y []float64, x *mat.Dense, xnames []string, z *linalg.CSC, dims []GroupDims, config *Config) (*LMM, error) {

	if config == nil {
		config = DefaultConfig()
	}

	n := len(y)
	xr, p := x.Dims()
	zr, q := z.Dims()
	if xr != n || zr != n {
		return nil, fmt.Errorf("lmm: response has %d rows, X has %d, Z has %d", n, xr, zr)
	}
	if len(xnames) != p {
		return nil, fmt.Errorf("lmm: %d names for %d fixed effects", len(xnames), p)
	}
	if config.Weights != nil && len(config.Weights) != n {
		return nil, fmt.Errorf("lmm: %d weights for %d observations", len(config.Weights), n)
	}

	layout, err := NewLayout(dims)
	if err != nil {
		return nil, err
	}
	if layout.NumRandom() != q {
		return nil, fmt.Errorf("lmm: grouping factors imply %d random effects, Z has %d columns", layout.NumRandom(), q)
	}

	var size, count []int
	for _, d := range dims {
		size = append(size, d.NVars)
		count = append(count, d.NGroups)
	}

	m := &LMM{
		x:      x,
		z:      z,
		xnames: xnames,
		layout: layout,
		g:      linalg.NewBlockDiag(size, count),
		ginv:   linalg.NewBlockDiag(size, count),
		config: config,
	}
	m.gjac = m.jacobians()
	m.setWorking(y, config.Weights)

	// With one grouping factor, Z'R^-1 Z + G^-1 is block diagonal.
	if len(dims) == 1 {
		d := dims[0]
		m.qblocks = make([]int, d.NGroups)
		for g := range m.qblocks {
			m.qblocks[g] = d.NVars
		}
	}

	return m, nil
}

// jacobians returns dG/dtheta[k] for each covariance element of theta.
func (m *LMM) jacobians() []*linalg.CSC {
	q := m.layout.NumRandom()
	var jac []*linalg.CSC
	for f, d := range m.layout.dims {
		off := m.layout.zoff[f]
		nv := d.NVars
		for j := 0; j < nv; j++ {
			for i := j; i < nv; i++ {
				var rows, cols []int
				var vals []float64
				for g := 0; g < d.NGroups; g++ {
					b := off + g*nv
					rows = append(rows, b+i)
					cols = append(cols, b+j)
					vals = append(vals, 1)
					if i != j {
						rows = append(rows, b+j)
						cols = append(cols, b+i)
						vals = append(vals, 1)
					}
				}
				jac = append(jac, linalg.FromTriplets(q, q, rows, cols, vals))
			}
		}
	}
	return jac
}

// setWorking sets the response and weights and recomputes the cross
// products.  A nil w means unit weights.
func (m *LMM) setWorking(y, w []float64) {

	n := len(y)
	m.y = y
	m.d = make([]float64, n)
	dinv := make([]float64, n)
	m.sumLogD = 0
	for i := range m.d {
		m.d[i] = 1
		if w != nil {
			m.d[i] = w[i] * w[i]
		}
		dinv[i] = 1 / m.d[i]
		m.sumLogD += math.Log(m.d[i])
	}

	_, p := m.x.Dims()
	m.zz = m.z.Gram(dinv)
	m.zx = m.z.TMulDense(dinv, m.x)

	wx := mat.NewDense(n, p, nil)
	dy := make([]float64, n)
	for i := 0; i < n; i++ {
		row := wx.RawRowView(i)
		copy(row, m.x.RawRowView(i))
		floats.Scale(dinv[i], row)
		dy[i] = dinv[i] * y[i]
	}
	m.xx = mat.NewSymDense(p, nil)
	var xtx mat.Dense
	xtx.Mul(m.x.T(), wx)
	for i := 0; i < p; i++ {
		for j := 0; j <= i; j++ {
			m.xx.SetSym(i, j, xtx.At(i, j))
		}
	}

	m.zy = m.z.TMulVec(dy)
	var xy mat.VecDense
	xy.MulVec(m.x.T(), mat.NewVecDense(n, dy))
	m.xy = xy.RawVector().Data
	m.yy = floats.Dot(y, dy)
}

// Layout returns the covariance parameter layout.
func (m *LMM) Layout() *Layout {
	return m.layout
}

// NumObs returns the number of observations.
func (m *LMM) NumObs() int {
	return len(m.y)
}

// resid returns the residual variance implied by theta.
func (m *LMM) resid(theta []float64) float64 {
	if m.config.FixResid {
		return 1
	}
	return theta[m.layout.Resid()]
}

// update writes the covariance blocks of theta into G and G^-1 and
// returns the residual variance and log|G|.  The second value is false
// if theta is outside the parameter space.
func (m *LMM) update(theta []float64) (float64, float64, bool) {

	s2 := m.resid(theta)
	if !(s2 > 0) {
		return s2, 0, false
	}

	m.singular = false
	var ldg float64
	for f, d := range m.layout.dims {
		c := m.layout.Cov(theta, f)
		m.g.SetBlock(f, c)

		ci, sing := linalg.InvSym(c)
		m.ginv.SetBlock(f, ci)

		ld, sign := linalg.LogDet(c)
		if sign == 0 || math.IsNaN(ld) {
			return s2, 0, false
		}
		if sing || sign < 0 {
			m.singular = true
		}
		ldg += float64(d.NGroups) * ld
	}

	return s2, ldg, true
}

// mme returns the mixed model equations matrix, ordered as random
// effects, fixed effects, response:
//
//	[ G^-1 + Z'R^-1 Z   Z'R^-1 X   Z'R^-1 y ]
//	[                   X'R^-1 X   X'R^-1 y ]
//	[                              y'R^-1 y ]
func (m *LMM) mme(s2 float64) *mat.SymDense {
	q := m.layout.NumRandom()
	_, p := m.x.Dims()
	k := q + p + 1

	a := mat.NewSymDense(k, nil)
	for i := 0; i < q; i++ {
		for j := 0; j <= i; j++ {
			a.SetSym(i, j, m.zz.At(i, j)/s2)
		}
		for j := 0; j < p; j++ {
			a.SetSym(i, q+j, m.zx.At(i, j)/s2)
		}
		a.SetSym(i, k-1, m.zy[i]/s2)
	}
	m.ginv.Do(func(i, j int, v float64) {
		if i >= j {
			a.SetSym(i, j, a.At(i, j)+v)
		}
	})
	for i := 0; i < p; i++ {
		for j := 0; j <= i; j++ {
			a.SetSym(q+i, q+j, m.xx.At(i, j)/s2)
		}
		a.SetSym(q+i, k-1, m.xy[i]/s2)
	}
	a.SetSym(k-1, k-1, m.yy/s2)

	return a
}

// LogLike returns -2 times the log-likelihood (restricted if REML is
// set in the configuration), without the constant term.  Values of
// theta outside the parameter space give +Inf.
func (m *LMM) LogLike(theta []float64) float64 {

	s2, ldg, ok := m.update(theta)
	if !ok {
		return math.Inf(1)
	}

	q := m.layout.NumRandom()
	_, p := m.x.Dims()
	a := m.mme(s2)

	var ldq, ldc, ypy float64
	var chol mat.Cholesky
	if chol.Factorize(a) {
		var l mat.TriDense
		chol.LTo(&l)
		for i := 0; i < q; i++ {
			ldq += 2 * math.Log(l.At(i, i))
		}
		for i := q; i < q+p; i++ {
			ldc += 2 * math.Log(l.At(i, i))
		}
		v := l.At(q+p, q+p)
		ypy = v * v
	} else {
		// Signed log determinants of the leading blocks, magnitudes used
		m.singular = true
		ldq, _ = linalg.LogDet(a.SliceSym(0, q))
		ldqx, _ := linalg.LogDet(a.SliceSym(0, q+p))
		ldall, _ := linalg.LogDet(a)
		ldc = ldqx - ldq
		ypy = math.Exp(ldall - ldqx)
	}

	n := float64(len(m.y))
	ldr := n*math.Log(s2) + m.sumLogD
	f := ldr + ldg + ldq + ypy
	if m.config.REML {
		f += ldc
	}

	return f
}

// state holds the quantities at one value of theta that are shared by
// the gradient, the Hessian and the effect estimates.
type state struct {
	s2 float64

	// Z'V^-1 Z and Z'P Z
	zvz *mat.SymDense
	zpz *mat.SymDense

	// Z'V^-1 X
	zvx *mat.Dense

	// (X'V^-1 X)^-1
	cinv *mat.SymDense

	beta []float64

	// Z'P y = Z'V^-1 (y - X beta)
	a []float64

	// y'P y
	ypy float64
}

// zkz returns Z'KZ, where K is P for REML and V^-1 for ML.
func (m *LMM) zkz(st *state) *mat.SymDense {
	if m.config.REML {
		return st.zpz
	}
	return st.zvz
}

// traceK returns tr(KV), which is n-p for REML and n for ML.
func (m *LMM) traceK() float64 {
	n, p := m.x.Dims()
	if m.config.REML {
		return float64(n - p)
	}
	return float64(n)
}

func (m *LMM) state(theta []float64) (*state, bool) {

	s2, _, ok := m.update(theta)
	if !ok {
		return nil, false
	}

	q := m.layout.NumRandom()
	_, p := m.x.Dims()

	// Q = G^-1 + Z'R^-1 Z
	qm := mat.NewSymDense(q, nil)
	for i := 0; i < q; i++ {
		for j := 0; j <= i; j++ {
			qm.SetSym(i, j, m.zz.At(i, j)/s2)
		}
	}
	m.ginv.Do(func(i, j int, v float64) {
		if i >= j {
			qm.SetSym(i, j, qm.At(i, j)+v)
		}
	})
	var qinv *mat.SymDense
	var sing bool
	if m.qblocks != nil {
		qinv, sing = linalg.InvSymBlocks(qm, m.qblocks)
	} else {
		qinv, sing = linalg.InvSym(qm)
	}
	if sing {
		m.singular = true
	}

	// A = Z'R^-1 Z, B = Z'R^-1 X
	am := mat.NewSymDense(q, nil)
	am.ScaleSym(1/s2, m.zz)
	var bm mat.Dense
	bm.Scale(1/s2, m.zx)
	zy := make([]float64, q)
	floats.ScaleTo(zy, 1/s2, m.zy)
	zyv := mat.NewVecDense(q, zy)

	var aq mat.Dense
	aq.Mul(am, qinv)

	// Z'V^-1 Z = A - A Q^-1 A
	var t mat.Dense
	t.Mul(&aq, am)
	t.Sub(am, &t)
	zvz := linalg.Symmetrize(&t)

	// Z'V^-1 X = B - A Q^-1 B
	var zvx mat.Dense
	zvx.Mul(&aq, &bm)
	zvx.Sub(&bm, &zvx)

	// X'V^-1 X = X'R^-1 X - B' Q^-1 B
	var qb, bqb mat.Dense
	qb.Mul(qinv, &bm)
	bqb.Mul(bm.T(), &qb)
	var xvxd mat.Dense
	xvxd.Scale(1/s2, m.xx)
	xvxd.Sub(&xvxd, &bqb)
	xvx := linalg.Symmetrize(&xvxd)

	// Z'V^-1 y and X'V^-1 y
	var zvy, qzy, xvy mat.VecDense
	zvy.MulVec(&aq, zyv)
	zvy.SubVec(zyv, &zvy)
	qzy.MulVec(qinv, zyv)
	xvy.MulVec(bm.T(), &qzy)
	xy := mat.NewVecDense(p, nil)
	xy.ScaleVec(1/s2, mat.NewVecDense(p, m.xy))
	xvy.SubVec(xy, &xvy)

	cinv, sing := linalg.InvSym(xvx)
	if sing {
		m.singular = true
	}

	var beta mat.VecDense
	beta.MulVec(cinv, &xvy)

	// Z'P Z = Z'V^-1 Z - Z'V^-1 X C^-1 X'V^-1 Z
	var zc, zcz mat.Dense
	zc.Mul(&zvx, cinv)
	zcz.Mul(&zc, zvx.T())
	zcz.Sub(zvz, &zcz)
	zpz := linalg.Symmetrize(&zcz)

	// Z'P y = Z'V^-1 y - Z'V^-1 X beta
	var a mat.VecDense
	a.MulVec(&zvx, &beta)
	a.SubVec(&zvy, &a)

	// y'P y = y'V^-1 y - beta' X'V^-1 y
	yvy := m.yy/s2 - mat.Dot(zyv, &qzy)
	ypy := yvy - mat.Dot(&beta, &xvy)

	st := &state{
		s2:   s2,
		zvz:  zvz,
		zpz:  zpz,
		zvx:  &zvx,
		cinv: cinv,
		beta: beta.RawVector().Data,
		a:    a.RawVector().Data,
		ypy:  ypy,
	}

	return st, true
}

// Gradient places the gradient of LogLike into grad.
func (m *LMM) Gradient(theta, grad []float64) {

	st, ok := m.state(theta)
	if !ok {
		for i := range grad {
			grad[i] = math.NaN()
		}
		return
	}

	zkz := m.zkz(st)
	for k, gk := range m.gjac {
		ga := gk.MulVec(st.a)
		grad[k] = gk.TraceMul(zkz) - floats.Dot(ga, st.a)
	}

	r := m.layout.Resid()
	if m.config.FixResid {
		grad[r] = 0
		return
	}

	ga := m.g.MulVec(st.a)
	trkd := (m.traceK() - m.g.TraceMul(zkz)) / st.s2
	ypdpy := (st.ypy - floats.Dot(ga, st.a)) / st.s2
	grad[r] = trkd - ypdpy
}

// pairTrace returns tr(A M B M) for sparse A and B and dense symmetric M.
func pairTrace(a, b *linalg.CSC, m mat.Symmetric) float64 {
	var t float64
	a.Do(func(r, c int, u float64) {
		b.Do(func(s, w int, v float64) {
			t += u * m.At(c, s) * v * m.At(w, r)
		})
	})
	return t
}

// Hessian places the Hessian of LogLike into hess.
func (m *LMM) Hessian(theta []float64, hess *mat.SymDense) {

	st, ok := m.state(theta)
	nt := m.layout.NumTheta()
	if !ok {
		for i := 0; i < nt; i++ {
			for j := 0; j <= i; j++ {
				hess.SetSym(i, j, math.NaN())
			}
		}
		return
	}

	zkz := m.zkz(st)
	q := m.layout.NumRandom()

	ga := make([][]float64, len(m.gjac))
	for k, gk := range m.gjac {
		ga[k] = gk.MulVec(st.a)
	}

	// Covariance block second derivatives
	for i := range m.gjac {
		zpga := mat.NewVecDense(q, nil)
		zpga.MulVec(st.zpz, mat.NewVecDense(q, ga[i]))
		for j := 0; j <= i; j++ {
			h := -pairTrace(m.gjac[i], m.gjac[j], zkz)
			h += 2 * floats.Dot(ga[j], zpga.RawVector().Data)
			hess.SetSym(i, j, h)
		}
	}

	r := m.layout.Resid()
	if m.config.FixResid {
		for j := 0; j < nt; j++ {
			hess.SetSym(r, j, 0)
		}
		return
	}

	s2 := st.s2

	// Z'KDKZ = (ZKZ - ZKZ G ZKZ) / s2
	gzkz := m.g.MulDense(zkz)
	var t mat.Dense
	t.Mul(zkz, gzkz)
	t.Sub(zkz, &t)
	t.Scale(1/s2, &t)
	zkdkz := linalg.Symmetrize(&t)

	// Z'PDPy = (a - ZPZ G a) / s2
	gfull := m.g.MulVec(st.a)
	var zpgav mat.VecDense
	zpgav.MulVec(st.zpz, mat.NewVecDense(q, gfull))
	zpdpy := make([]float64, q)
	for i := range zpdpy {
		zpdpy[i] = (st.a[i] - zpgav.AtVec(i)) / s2
	}

	for i, gk := range m.gjac {
		h := -gk.TraceMul(zkdkz) + 2*floats.Dot(ga[i], zpdpy)
		hess.SetSym(r, i, h)
	}

	trkd := (m.traceK() - m.g.TraceMul(zkz)) / s2
	trkdkd := (trkd - m.g.TraceMul(zkdkz)) / s2
	ypdpy := (st.ypy - floats.Dot(gfull, st.a)) / s2
	ypdpdpy := (ypdpy - floats.Dot(zpdpy, gfull)) / s2
	hess.SetSym(r, r, -trkdkd+2*ypdpdpy)
}

package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TrustRegion is a projected trust-region Newton method for box
// constrained problems.  Variables that sit on a bound with the gradient
// pointing outward are held fixed, and the trust-region subproblem is
// solved exactly on the remaining variables using an eigen-decomposition
// of the reduced Hessian.  If the problem has no Hessian, a BFGS
// approximation is maintained instead.
type TrustRegion struct {
	Settings Settings
}

// NewTrustRegion returns a TrustRegion minimizer with default settings.
func NewTrustRegion() *TrustRegion {
	return &TrustRegion{Settings: DefaultSettings()}
}

var _ Minimizer = (*TrustRegion)(nil)

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func clamp(x, lo, hi []float64) {
	for i := range x {
		x[i] = math.Max(lo[i], math.Min(hi[i], x[i]))
	}
}

// freeVars returns the positions that are not held at a bound.
func freeVars(x, g, lo, hi []float64) []int {
	var fr []int
	for i := range x {
		if x[i] <= lo[i] && g[i] > 0 {
			continue
		}
		if x[i] >= hi[i] && g[i] < 0 {
			continue
		}
		fr = append(fr, i)
	}
	return fr
}

// Minimize implements Minimizer.
func (tr *TrustRegion) Minimize(p Problem, x0 []float64) (*Result, error) {

	st := tr.Settings
	def := DefaultSettings()
	if st.GradTol <= 0 {
		st.GradTol = def.GradTol
	}
	if st.StepTol <= 0 {
		st.StepTol = def.StepTol
	}
	if st.MaxIter <= 0 {
		st.MaxIter = def.MaxIter
	}
	if st.InitRadius <= 0 {
		st.InitRadius = def.InitRadius
	}
	if st.MaxRadius <= 0 {
		st.MaxRadius = def.MaxRadius
	}

	n := len(x0)
	lo, hi, err := p.bounds(n)
	if err != nil {
		return nil, err
	}

	x := make([]float64, n)
	copy(x, x0)
	clamp(x, lo, hi)

	f := p.Func(x)
	if !finite(f) {
		return nil, ErrNotFinite
	}

	g := make([]float64, n)
	p.grad(x, g)

	bfgs := p.Hess == nil
	h := mat.NewSymDense(n, nil)
	if bfgs {
		for i := 0; i < n; i++ {
			h.SetSym(i, i, 1)
		}
	} else {
		p.Hess(x, h)
	}

	rslt := &Result{}
	radius := st.InitRadius
	xn := make([]float64, n)
	gn := make([]float64, n)
	s := make([]float64, n)

	var iter int
	for iter = 0; iter < st.MaxIter; iter++ {

		free := freeVars(x, g, lo, hi)
		var pgn float64
		for _, i := range free {
			pgn = math.Max(pgn, math.Abs(g[i]))
		}

		if st.Log != nil {
			st.Log.Printf("trust-region %3d  f=%16.8e  |pg|=%12.5e  radius=%10.3e  free=%d\n",
				iter, f, pgn, radius, len(free))
		}

		if pgn < st.GradTol {
			rslt.Converged = true
			rslt.Status = "gradient tolerance"
			break
		}

		sf := subproblem(h, g, free, radius)
		for i := range s {
			s[i] = 0
		}
		for k, i := range free {
			s[i] = sf[k]
		}
		floats.AddTo(xn, x, s)
		clamp(xn, lo, hi)
		floats.SubTo(s, xn, x)
		sn := floats.Norm(s, 2)

		if sn == 0 {
			radius /= 4
			if radius < st.StepTol {
				rslt.Status = "trust radius below tolerance"
				break
			}
			continue
		}

		// predicted reduction under the quadratic model
		var hs mat.VecDense
		hs.MulVec(h, mat.NewVecDense(n, s))
		pred := -(floats.Dot(g, s) + 0.5*floats.Dot(s, hs.RawVector().Data))

		fn := p.Func(xn)
		rho := -1.0
		if finite(fn) && pred > 0 {
			rho = (f - fn) / pred
		}

		if rho < 0.25 {
			radius = 0.25 * sn
		} else if rho > 0.75 && sn > 0.99*radius {
			radius = math.Min(2*radius, st.MaxRadius)
		}

		if rho <= 1e-4 {
			if radius < st.StepTol {
				rslt.Status = "trust radius below tolerance"
				break
			}
			continue
		}

		p.grad(xn, gn)
		if bfgs {
			bfgsUpdate(h, s, gn, g)
		}
		copy(x, xn)
		copy(g, gn)
		f = fn
		if !bfgs {
			p.Hess(x, h)
		}

		if sn < st.StepTol*(1+floats.Norm(x, 2)) {
			rslt.Converged = true
			rslt.Status = "step tolerance"
			iter++
			break
		}
	}

	if rslt.Status == "" {
		rslt.Status = "iteration limit"
	}

	var pgn float64
	for _, i := range freeVars(x, g, lo, hi) {
		pgn = math.Max(pgn, math.Abs(g[i]))
	}

	rslt.X = x
	rslt.F = f
	rslt.Gradient = g
	rslt.GradNorm = pgn
	rslt.Iterations = iter

	return rslt, nil
}

// bfgsUpdate applies the BFGS update to the Hessian approximation h,
// given the step s and the gradients g1 (new) and g0 (old).
func bfgsUpdate(h *mat.SymDense, s, g1, g0 []float64) {
	n := len(s)
	y := make([]float64, n)
	floats.SubTo(y, g1, g0)

	sy := floats.Dot(s, y)
	if sy <= 1e-10*floats.Norm(s, 2)*floats.Norm(y, 2) {
		return
	}

	var hs mat.VecDense
	hs.MulVec(h, mat.NewVecDense(n, s))
	shs := floats.Dot(s, hs.RawVector().Data)
	if shs <= 0 {
		return
	}

	h.SymRankOne(h, 1/sy, mat.NewVecDense(n, y))
	h.SymRankOne(h, -1/shs, &hs)
}

// subproblem approximately minimizes g's + s'Hs/2 subject to |s| <= radius
// over the coordinates in free, returning the step on those coordinates.
func subproblem(h *mat.SymDense, g []float64, free []int, radius float64) []float64 {

	m := len(free)
	hf := mat.NewSymDense(m, nil)
	hf.SubsetSym(h, free)
	gf := make([]float64, m)
	for k, i := range free {
		gf[k] = g[i]
	}

	var es mat.EigenSym
	if !es.Factorize(hf, true) {
		// Steepest descent to the boundary
		gn := floats.Norm(gf, 2)
		floats.Scale(-radius/gn, gf)
		return gf
	}
	lam := es.Values(nil)
	var v mat.Dense
	es.VectorsTo(&v)

	gh := make([]float64, m)
	for j := 0; j < m; j++ {
		for k := 0; k < m; k++ {
			gh[j] += v.At(k, j) * gf[k]
		}
	}

	lmin := lam[0]
	lmax := math.Abs(lam[m-1])
	eps := 1e-12 * math.Max(1, lmax)
	gnrm := floats.Norm(gf, 2)

	// coefficients of the step in the eigenbasis for a given shift,
	// skipping directions where the shifted eigenvalue vanishes
	coef := func(shift float64) ([]float64, float64) {
		c := make([]float64, m)
		var nrm float64
		for j := range lam {
			d := lam[j] + shift
			if d <= eps {
				continue
			}
			c[j] = -gh[j] / d
			nrm += c[j] * c[j]
		}
		return c, math.Sqrt(nrm)
	}

	toStep := func(c []float64) []float64 {
		st := make([]float64, m)
		for j := range c {
			if c[j] == 0 {
				continue
			}
			for k := 0; k < m; k++ {
				st[k] += c[j] * v.At(k, j)
			}
		}
		return st
	}

	if lmin > eps {
		c, nrm := coef(0)
		if nrm <= radius {
			return toStep(c)
		}
	}

	lo := math.Max(0, -lmin)

	// Hard case: the gradient is orthogonal to the eigenspace of the
	// smallest eigenvalue, and the shifted step is inside the region.
	if lmin <= eps {
		hard := true
		for j := range lam {
			if lam[j]-lmin <= eps && math.Abs(gh[j]) > 1e-10*math.Max(gnrm, 1) {
				hard = false
				break
			}
		}
		if hard {
			c, nrm := coef(lo)
			if nrm <= radius {
				tau := math.Sqrt(radius*radius - nrm*nrm)
				c[0] += tau
				return toStep(c)
			}
		}
	}

	hi := lo + gnrm/radius + eps
	for k := 0; k < 200; k++ {
		mid := (lo + hi) / 2
		_, nrm := coef(mid)
		if nrm > radius {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo <= 1e-14*math.Max(1, hi) {
			break
		}
	}

	c, _ := coef(hi)
	return toStep(c)
}

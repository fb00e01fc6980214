package lmm

import (
	"fmt"

	"github.com/kshedden/mixedmodel/linalg"
	"gonum.org/v1/gonum/mat"
)

// GroupDims describes one grouping factor: the number of groups and the
// number of random effects (random-effect design columns) per group.
type GroupDims struct {
	Name    string
	NGroups int
	NVars   int
}

// Layout maps the elements of the covariance parameter vector to the
// grouping factors.  It also holds the fixed matrices used to
// differentiate through the Cholesky parameterization.
type Layout struct {
	dims []GroupDims

	// Theta positions of factor f are start[f]..start[f+1]-1
	start []int

	// First column of factor f in Z
	zoff []int

	q int

	// Elimination and symmetrizer matrices per factor
	elim []*mat.Dense
	symm []*mat.Dense

	// Second derivatives of vech(L L^T) with respect to vech(L), one
	// matrix per element of vech(L L^T), per factor.
	d2 [][]*mat.SymDense
}

// NewLayout returns the parameter layout for the given grouping factors.
func NewLayout(dims []GroupDims) (*Layout, error) {

	lo := &Layout{dims: dims}

	var pos, q int
	for _, d := range dims {
		if d.NGroups <= 0 || d.NVars <= 0 {
			return nil, fmt.Errorf("lmm: factor %s has %d groups and %d variables", d.Name, d.NGroups, d.NVars)
		}
		lo.start = append(lo.start, pos)
		lo.zoff = append(lo.zoff, q)
		pos += linalg.VechLen(d.NVars)
		q += d.NGroups * d.NVars

		p := d.NVars
		lo.elim = append(lo.elim, linalg.Lmat(p))
		lo.symm = append(lo.symm, linalg.Nmat(p))
		lo.d2 = append(lo.d2, cholSecond(p, lo.elim[len(lo.elim)-1]))
	}
	lo.start = append(lo.start, pos)
	lo.q = q

	return lo, nil
}

// cholSecond returns, for each element k = (i, j) of vech(L L^T), the
// matrix L_p (I kron (T + T^T)) L_p^T, with T the unit matrix at (i, j).
// This is the Hessian of element k with respect to vech(L).
func cholSecond(p int, lp *mat.Dense) []*mat.SymDense {
	var h []*mat.SymDense
	m := linalg.VechLen(p)
	eye := linalg.Eye(p)
	for j := 0; j < p; j++ {
		for i := j; i < p; i++ {
			t := mat.NewDense(p, p, nil)
			t.Set(i, j, 1)
			t.Set(j, i, t.At(j, i)+1)

			var a, b mat.Dense
			a.Mul(lp, linalg.Kron(eye, t))
			b.Mul(&a, lp.T())

			hk := mat.NewSymDense(m, nil)
			for r := 0; r < m; r++ {
				for c := 0; c <= r; c++ {
					hk.SetSym(r, c, b.At(r, c))
				}
			}
			h = append(h, hk)
		}
	}
	return h
}

// Dims returns the grouping factor dimensions.
func (lo *Layout) Dims() []GroupDims {
	return lo.dims
}

// NumFactors returns the number of grouping factors.
func (lo *Layout) NumFactors() int {
	return len(lo.dims)
}

// NumTheta returns the length of theta, including the residual variance.
func (lo *Layout) NumTheta() int {
	return lo.start[len(lo.dims)] + 1
}

// Resid returns the position of the residual variance in theta.
func (lo *Layout) Resid() int {
	return lo.start[len(lo.dims)]
}

// Span returns the half-open range of theta positions of factor f.
func (lo *Layout) Span(f int) (int, int) {
	return lo.start[f], lo.start[f+1]
}

// NumRandom returns the total number of random effects, which is the
// number of columns of Z.
func (lo *Layout) NumRandom() int {
	return lo.q
}

// InitTheta returns the starting values: identity covariance blocks and
// unit residual variance.
func (lo *Layout) InitTheta() []float64 {
	theta := make([]float64, lo.NumTheta())
	for f, d := range lo.dims {
		copy(theta[lo.start[f]:], linalg.Vech(linalg.Eye(d.NVars)))
	}
	theta[lo.Resid()] = 1
	return theta
}

// Names returns labels for the elements of theta.
func (lo *Layout) Names() []string {
	var names []string
	for _, d := range lo.dims {
		for j := 0; j < d.NVars; j++ {
			for i := j; i < d.NVars; i++ {
				names = append(names, fmt.Sprintf("%s:G[%d][%d]", d.Name, j, i))
			}
		}
	}
	return append(names, "resid_cov")
}

// Cov returns the covariance matrix of factor f.
func (lo *Layout) Cov(theta []float64, f int) *mat.SymDense {
	a, b := lo.Span(f)
	c, err := linalg.Invech(theta[a:b])
	if err != nil {
		panic(err)
	}
	return c
}

// lowerBounds returns lower bounds that keep the diagonal of each
// covariance block (or of its Cholesky factor) and the residual variance
// nonnegative.
func (lo *Layout) lowerBounds() []float64 {
	lb := make([]float64, lo.NumTheta())
	for i := range lb {
		lb[i] = negInf
	}
	for f, d := range lo.dims {
		for j := 0; j < d.NVars; j++ {
			lb[lo.start[f]+linalg.VechIndex(d.NVars, j, j)] = 0
		}
	}
	lb[lo.Resid()] = 0
	return lb
}

// TransformTheta returns the Cholesky parameterization of theta: each
// covariance block is replaced by its packed lower Cholesky factor.
// The residual variance is copied unchanged.
func (lo *Layout) TransformTheta(theta []float64) ([]float64, error) {
	tc := make([]float64, len(theta))
	copy(tc, theta)
	for f := range lo.dims {
		l, err := linalg.CholPacked(lo.Cov(theta, f))
		if err != nil {
			return nil, fmt.Errorf("lmm: factor %s: %w", lo.dims[f].Name, err)
		}
		copy(tc[lo.start[f]:], l)
	}
	return tc, nil
}

// InverseTransformTheta maps the Cholesky parameterization back to
// covariance blocks.  The residual variance is copied unchanged.
func (lo *Layout) InverseTransformTheta(thetaChol []float64) []float64 {
	theta := make([]float64, len(thetaChol))
	copy(theta, thetaChol)
	for f := range lo.dims {
		a, b := lo.Span(f)
		l, err := linalg.InvechChol(thetaChol[a:b])
		if err != nil {
			panic(err)
		}
		var c mat.Dense
		c.Mul(l, l.T())
		copy(theta[a:], linalg.Vech(&c))
	}
	return theta
}

// cholJacobian returns the Jacobian of theta with respect to the
// Cholesky parameters, d theta[i] / d thetaChol[j].  For each factor
// the block is 2 L_p N_p (L kron I) L_p^T, and the residual entry is 1.
func (lo *Layout) cholJacobian(thetaChol []float64) *mat.Dense {
	m := lo.NumTheta()
	jf := mat.NewDense(m, m, nil)
	for f, d := range lo.dims {
		a, b := lo.Span(f)
		l, err := linalg.InvechChol(thetaChol[a:b])
		if err != nil {
			panic(err)
		}

		var t1, t2, t3 mat.Dense
		t1.Mul(lo.elim[f], lo.symm[f])
		t2.Mul(&t1, linalg.Kron(l, linalg.Eye(d.NVars)))
		t3.Mul(&t2, lo.elim[f].T())
		t3.Scale(2, &t3)

		jf.Slice(a, b, a, b).(*mat.Dense).Copy(&t3)
	}
	jf.Set(m-1, m-1, 1)
	return jf
}

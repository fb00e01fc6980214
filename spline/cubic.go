package spline

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// crMatrices returns the (k-2) x k second difference matrix D and the
// (k-2) x (k-2) tridiagonal matrix B of a natural cubic spline with
// the given knots.  The second derivatives at the interior knots are
// B^-1 D beta, where beta holds the spline values at the knots.
func crMatrices(knots []float64) (*mat.Dense, *mat.SymDense) {
	k := len(knots)
	h := make([]float64, k-1)
	for j := range h {
		h[j] = knots[j+1] - knots[j]
	}

	d := mat.NewDense(k-2, k, nil)
	b := mat.NewSymDense(k-2, nil)
	for i := 0; i < k-2; i++ {
		d.Set(i, i, 1/h[i])
		d.Set(i, i+1, -1/h[i]-1/h[i+1])
		d.Set(i, i+2, 1/h[i+1])
		b.SetSym(i, i, (h[i]+h[i+1])/3)
		if i < k-3 {
			b.SetSym(i, i+1, h[i+1]/6)
		}
	}

	return d, b
}

// crF returns the k x k matrix mapping knot values to second
// derivatives at all knots (zero at the two boundary knots).
func crF(knots []float64) *mat.Dense {
	k := len(knots)
	d, b := crMatrices(knots)

	var chol mat.Cholesky
	if !chol.Factorize(b) {
		panic("crF: knots are not distinct\n")
	}
	var fm mat.Dense
	if err := chol.SolveTo(&fm, d); err != nil {
		panic(err)
	}

	f := mat.NewDense(k, k, nil)
	f.Slice(1, k-1, 0, k).(*mat.Dense).Copy(&fm)
	return f
}

// CRPenalty returns the wiggliness penalty D^T B^-1 D of a cubic
// regression spline, i.e. the integrated squared second derivative as
// a quadratic form in the knot values.
func CRPenalty(knots []float64) *mat.SymDense {
	d, b := crMatrices(knots)
	var chol mat.Cholesky
	if !chol.Factorize(b) {
		panic("CRPenalty: knots are not distinct\n")
	}
	var bd mat.Dense
	if err := chol.SolveTo(&bd, d); err != nil {
		panic(err)
	}
	var s mat.Dense
	s.Mul(d.T(), &bd)
	return symmetric(&s)
}

// CRBasis evaluates the cubic regression spline basis at x.  Column j
// is the natural cubic spline that is 1 at knot j and 0 at the other
// knots.  Outside the knot range the basis is extended linearly.
func CRBasis(x, knots []float64) *mat.Dense {
	k := len(knots)
	f := crF(knots)
	xm := mat.NewDense(len(x), k, nil)
	row := make([]float64, k)

	for i, v := range x {
		for j := range row {
			row[j] = 0
		}

		switch {
		case v < knots[0]:
			h := knots[1] - knots[0]
			u := v - knots[0]
			row[0] += 1 - u/h
			row[1] += u / h
			for j := 0; j < k; j++ {
				row[j] += u * (-h/3*f.At(0, j) - h/6*f.At(1, j))
			}
		case v > knots[k-1]:
			h := knots[k-1] - knots[k-2]
			u := v - knots[k-1]
			row[k-2] += -u / h
			row[k-1] += 1 + u/h
			for j := 0; j < k; j++ {
				row[j] += u * (h/6*f.At(k-2, j) + h/3*f.At(k-1, j))
			}
		default:
			jj := interval(knots, v)
			cubicRow(row, v, knots[jj], knots[jj+1], jj, jj+1, f)
		}

		xm.SetRow(i, row)
	}

	return xm
}

// cubicRow adds the cubic spline interpolation weights for v in the
// interval [lo, hi], whose end knots have parameter positions a and b.
func cubicRow(row []float64, v, lo, hi float64, a, b int, f mat.Matrix) {
	h := hi - lo
	am := (hi - v) / h
	ap := (v - lo) / h
	cm := ((hi-v)*(hi-v)*(hi-v)/h - h*(hi-v)) / 6
	cp := ((v-lo)*(v-lo)*(v-lo)/h - h*(v-lo)) / 6

	row[a] += am
	row[b] += ap
	for j := range row {
		row[j] += cm*f.At(a, j) + cp*f.At(b, j)
	}
}

// interval returns j such that knots[j] <= v <= knots[j+1].
func interval(knots []float64, v float64) int {
	lo, hi := 0, len(knots)-2
	for lo < hi {
		m := (lo + hi + 1) / 2
		if knots[m] <= v {
			lo = m
		} else {
			hi = m - 1
		}
	}
	return lo
}

// ccMatrices returns the cyclic analogues of D and B, both n x n where
// n is one less than the number of knots.
func ccMatrices(knots []float64) (*mat.Dense, *mat.SymDense) {
	n := len(knots) - 1
	h := make([]float64, n)
	for j := range h {
		h[j] = knots[j+1] - knots[j]
	}

	d := mat.NewDense(n, n, nil)
	b := mat.NewDense(n, n, nil)
	add := func(m *mat.Dense, i, j int, v float64) {
		j = (j + n) % n
		m.Set(i, j, m.At(i, j)+v)
	}
	for i := 0; i < n; i++ {
		hm := h[(i-1+n)%n]
		add(d, i, i-1, 1/hm)
		add(d, i, i, -1/hm-1/h[i])
		add(d, i, i+1, 1/h[i])
		add(b, i, i-1, hm/6)
		add(b, i, i, (hm+h[i])/3)
		add(b, i, i+1, h[i]/6)
	}

	return d, symmetric(b)
}

// CCPenalty returns the wiggliness penalty of a cyclic cubic regression
// spline.
func CCPenalty(knots []float64) *mat.SymDense {
	d, b := ccMatrices(knots)
	var chol mat.Cholesky
	if !chol.Factorize(b) {
		panic("CCPenalty: knots are not distinct\n")
	}
	var bd, s mat.Dense
	if err := chol.SolveTo(&bd, d); err != nil {
		panic(err)
	}
	s.Mul(d.T(), &bd)
	return symmetric(&s)
}

// CCBasis evaluates the cyclic cubic regression spline basis at x.  The
// period is the knot range, and values of x outside the range are
// wrapped into it.
func CCBasis(x, knots []float64) *mat.Dense {
	n := len(knots) - 1
	d, b := ccMatrices(knots)
	var chol mat.Cholesky
	if !chol.Factorize(b) {
		panic("CCBasis: knots are not distinct\n")
	}
	var f mat.Dense
	if err := chol.SolveTo(&f, d); err != nil {
		panic(err)
	}

	lo, hi := knots[0], knots[n]
	period := hi - lo
	xm := mat.NewDense(len(x), n, nil)
	row := make([]float64, n)

	for i, v := range x {
		for j := range row {
			row[j] = 0
		}
		if v < lo || v > hi {
			v = lo + math.Mod(math.Mod(v-lo, period)+period, period)
		}
		jj := interval(knots, v)
		cubicRow(row, v, knots[jj], knots[jj+1], jj, (jj+1)%n, &f)
		xm.SetRow(i, row)
	}

	return xm
}

// symmetric returns the symmetric part of a square matrix.
func symmetric(a mat.Matrix) *mat.SymDense {
	r, _ := a.Dims()
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := 0; j <= i; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LogDet returns the log of the absolute determinant of a and the sign
// of the determinant.  A Cholesky factorization is tried first and an
// eigen-decomposition is used if it fails.  A singular matrix gives
// (-Inf, 0).
func LogDet(a mat.Symmetric) (float64, float64) {
	var chol mat.Cholesky
	if chol.Factorize(a) {
		return chol.LogDet(), 1
	}

	var es mat.EigenSym
	if !es.Factorize(a, false) {
		return math.NaN(), 0
	}

	ld, sign := 0.0, 1.0
	for _, v := range es.Values(nil) {
		if v == 0 {
			return math.Inf(-1), 0
		}
		if v < 0 {
			sign = -sign
		}
		ld += math.Log(math.Abs(v))
	}

	return ld, sign
}

// LogDetPositive returns the sum of the logs of the eigenvalues of a
// that exceed eps, along with the number of such eigenvalues.
func LogDetPositive(a mat.Symmetric, eps float64) (float64, int) {
	var es mat.EigenSym
	if !es.Factorize(a, false) {
		return math.NaN(), 0
	}

	var ld float64
	var r int
	for _, v := range es.Values(nil) {
		if v > eps {
			ld += math.Log(v)
			r++
		}
	}

	return ld, r
}

// PInv returns the Moore-Penrose pseudo-inverse of a.  Singular values
// smaller than rcond times the largest singular value are treated as
// zero.  A non-positive rcond uses 1e-15.
func PInv(a mat.Matrix, rcond float64) *mat.Dense {
	if rcond <= 0 {
		rcond = 1e-15
	}

	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		panic("PInv: SVD failed\n")
	}

	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cut := 0.0
	if len(s) > 0 {
		cut = rcond * s[0]
	}

	// v * diag(1/s) * u^T
	for j, x := range s {
		f := 0.0
		if x > cut {
			f = 1 / x
		}
		for i := 0; i < c; i++ {
			v.Set(i, j, v.At(i, j)*f)
		}
	}

	pi := mat.NewDense(c, r, nil)
	pi.Mul(&v, u.T())

	return pi
}

// PInvSym returns the pseudo-inverse of a symmetric matrix as a
// symmetric matrix.
func PInvSym(a mat.Symmetric, rcond float64) *mat.SymDense {
	return Symmetrize(PInv(a, rcond))
}

// Rank returns the numerical rank of a.  If tol is negative, the
// threshold is the largest singular value times max(r, c) times the
// machine epsilon.
func Rank(a mat.Matrix, tol float64) int {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		panic("Rank: SVD failed\n")
	}
	s := svd.Values(nil)
	if len(s) == 0 {
		return 0
	}
	if tol < 0 {
		tol = s[0] * float64(max(r, c)) * 2.220446049250313e-16
	}

	var k int
	for _, x := range s {
		if x > tol {
			k++
		}
	}
	return k
}

// InvSym inverts the symmetric matrix a.  If a is not positive definite
// the pseudo-inverse is returned and the second return value is true.
func InvSym(a mat.Symmetric) (*mat.SymDense, bool) {
	var chol mat.Cholesky
	if chol.Factorize(a) {
		var ai mat.SymDense
		if err := chol.InverseTo(&ai); err == nil {
			return &ai, false
		}
	}
	return PInvSym(a, 0), true
}

// InvSymBlocks inverts a symmetric matrix that is block diagonal, with
// consecutive diagonal blocks of the given sizes.  Entries outside the
// blocks are ignored.  The second return value is true if any block
// was inverted with the pseudo-inverse.
func InvSymBlocks(a mat.Symmetric, sizes []int) (*mat.SymDense, bool) {
	n := a.SymmetricDim()
	ai := mat.NewSymDense(n, nil)
	var sing bool
	var off int
	for _, m := range sizes {
		b := mat.NewSymDense(m, nil)
		for i := 0; i < m; i++ {
			for j := 0; j <= i; j++ {
				b.SetSym(i, j, a.At(off+i, off+j))
			}
		}
		bi, s := InvSym(b)
		sing = sing || s
		for i := 0; i < m; i++ {
			for j := 0; j <= i; j++ {
				ai.SetSym(off+i, off+j, bi.At(i, j))
			}
		}
		off += m
	}
	if off != n {
		panic(fmt.Sprintf("InvSymBlocks: block sizes sum to %d, matrix is %d x %d\n", off, n, n))
	}
	return ai, sing
}

// Symmetrize returns (a + a^T) / 2 as a symmetric matrix.
func Symmetrize(a mat.Matrix) *mat.SymDense {
	r, c := a.Dims()
	if r != c {
		panic(mat.ErrSquare)
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := 0; j <= i; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

// QuadForm returns x^T a y.
func QuadForm(x []float64, a mat.Matrix, y []float64) float64 {
	return mat.Inner(mat.NewVecDense(len(x), x), a, mat.NewVecDense(len(y), y))
}

package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when a packed vector does not have a
// triangular number of elements, or when matrix shapes disagree.
var ErrDimension = errors.New("linalg: dimension mismatch")

// ErrNotPosDef is returned when a matrix that must be positive definite
// cannot be factored.
var ErrNotPosDef = errors.New("linalg: matrix is not positive definite")

// VechLen returns the length of the half-vectorization of a p x p matrix.
func VechLen(p int) int {
	return p * (p + 1) / 2
}

// TriSide returns the side length p of a symmetric matrix whose
// half-vectorization has m elements.
func TriSide(m int) (int, error) {
	p := int((math.Sqrt(float64(8*m+1)) - 1) / 2)
	if p*(p+1)/2 != m {
		return 0, fmt.Errorf("%w: %d is not a triangular number", ErrDimension, m)
	}
	return p, nil
}

// VechIndex returns the position of element (i, j), i >= j, in the
// half-vectorization of a p x p matrix.
func VechIndex(p, i, j int) int {
	if i < j {
		i, j = j, i
	}
	return j*p - j*(j-1)/2 + i - j
}

// Vech returns the lower triangle of m, stacked column by column.
func Vech(m mat.Matrix) []float64 {
	p, c := m.Dims()
	if p != c {
		panic(fmt.Sprintf("Vech: matrix is %d x %d, must be square\n", p, c))
	}

	v := make([]float64, 0, VechLen(p))
	for j := 0; j < p; j++ {
		for i := j; i < p; i++ {
			v = append(v, m.At(i, j))
		}
	}

	return v
}

// Invech returns the symmetric matrix whose half-vectorization is v.
func Invech(v []float64) (*mat.SymDense, error) {
	p, err := TriSide(len(v))
	if err != nil {
		return nil, err
	}

	s := mat.NewSymDense(p, nil)
	k := 0
	for j := 0; j < p; j++ {
		for i := j; i < p; i++ {
			s.SetSym(i, j, v[k])
			k++
		}
	}

	return s, nil
}

// InvechChol returns the lower triangular matrix packed in v.  The
// diagonal is used as given (it is not exponentiated).
func InvechChol(v []float64) (*mat.TriDense, error) {
	p, err := TriSide(len(v))
	if err != nil {
		return nil, err
	}

	l := mat.NewTriDense(p, mat.Lower, nil)
	k := 0
	for j := 0; j < p; j++ {
		for i := j; i < p; i++ {
			l.SetTri(i, j, v[k])
			k++
		}
	}

	return l, nil
}

// CholDiagPositive flips the sign of every column of the packed lower
// factor v whose diagonal element is negative.  The product L*L^T is
// not changed.
func CholDiagPositive(v []float64) error {
	p, err := TriSide(len(v))
	if err != nil {
		return err
	}

	for j := 0; j < p; j++ {
		if v[VechIndex(p, j, j)] >= 0 {
			continue
		}
		for i := j; i < p; i++ {
			k := VechIndex(p, i, j)
			v[k] = -v[k]
		}
	}

	return nil
}

// CholPacked returns the packed lower Cholesky factor of the symmetric
// matrix a.
func CholPacked(a mat.Symmetric) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, ErrNotPosDef
	}
	var l mat.TriDense
	chol.LTo(&l)
	return Vech(&l), nil
}

// Vec stacks the columns of m.
func Vec(m mat.Matrix) []float64 {
	r, c := m.Dims()
	v := make([]float64, 0, r*c)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			v = append(v, m.At(i, j))
		}
	}
	return v
}

// Invec reshapes v column by column into an r x c matrix.
func Invec(v []float64, r, c int) (*mat.Dense, error) {
	if len(v) != r*c {
		return nil, fmt.Errorf("%w: %d elements cannot form a %d x %d matrix", ErrDimension, len(v), r, c)
	}
	m := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			m.Set(i, j, v[j*r+i])
		}
	}
	return m, nil
}

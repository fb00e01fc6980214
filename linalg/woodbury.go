package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Woodbury applies the inverse of V = A + Z*C*Z^T, where A is diagonal
// and Z is sparse, without forming V.  Only the q x q matrix
// C^-1 + Z^T A^-1 Z is factored, q being the number of columns of Z.
type Woodbury struct {
	ainv []float64
	z    *CSC

	// inverse of C^-1 + Z^T A^-1 Z
	minv *mat.SymDense

	// true if the inner matrix had to be pseudo-inverted
	singular bool
}

// NewWoodbury prepares to apply (A + Z C Z^T)^-1.  The diagonal of A^-1
// is given in ainv, and C is given through its inverse cinv.
func NewWoodbury(ainv []float64, z *CSC, cinv mat.Symmetric) (*Woodbury, error) {
	n, q := z.Dims()
	if len(ainv) != n || cinv.SymmetricDim() != q {
		return nil, fmt.Errorf("%w: Woodbury shapes", ErrDimension)
	}

	m := z.Gram(ainv)
	m.AddSym(m, cinv)
	minv, sing := InvSym(m)

	return &Woodbury{ainv: ainv, z: z, minv: minv, singular: sing}, nil
}

// Singular reports whether a pseudo-inverse was substituted.
func (w *Woodbury) Singular() bool {
	return w.singular
}

// SolveVec returns V^-1 x.
func (w *Woodbury) SolveVec(x []float64) []float64 {
	n := len(w.ainv)
	if len(x) != n {
		panic(fmt.Sprintf("SolveVec: length %d != %d\n", len(x), n))
	}

	ax := make([]float64, n)
	for i := range x {
		ax[i] = w.ainv[i] * x[i]
	}

	u := mat.NewVecDense(w.minv.SymmetricDim(), w.z.TMulVec(ax))
	var t mat.VecDense
	t.MulVec(w.minv, u)
	zt := w.z.MulVec(t.RawVector().Data)

	for i := range ax {
		ax[i] -= w.ainv[i] * zt[i]
	}

	return ax
}

// SolveDense returns V^-1 b.
func (w *Woodbury) SolveDense(b mat.Matrix) *mat.Dense {
	n, c := b.Dims()
	if n != len(w.ainv) {
		panic(mat.ErrShape)
	}

	y := mat.NewDense(n, c, nil)
	col := make([]float64, n)
	for j := 0; j < c; j++ {
		mat.Col(col, j, b)
		y.SetCol(j, w.SolveVec(col))
	}

	return y
}

// Dense returns V^-1 as a dense n x n matrix.  This is only sensible
// for small n.
func (w *Woodbury) Dense() *mat.SymDense {
	n := len(w.ainv)

	// Z^T A^-1
	za := w.z.TMulDense(w.ainv, Eye(n))

	var t mat.Dense
	t.Mul(w.minv, za)
	var u mat.Dense
	u.Mul(za.T(), &t)

	v := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			x := -u.At(i, j)
			if i == j {
				x += w.ainv[i]
			}
			v.SetSym(i, j, x)
		}
	}

	return v
}

// WoodburyInverse returns (A + Z C Z^T)^-1 as a dense matrix, with A
// given by the diagonal of its inverse and C given by its inverse.
func WoodburyInverse(ainv []float64, z *CSC, cinv mat.Symmetric) (*mat.SymDense, error) {
	w, err := NewWoodbury(ainv, z, cinv)
	if err != nil {
		return nil, err
	}
	return w.Dense(), nil
}

package linalg

import (
	"gonum.org/v1/gonum/mat"
)

// Kmat returns the pq x pq commutation matrix K, which satisfies
// K vec(A) = vec(A^T) for any p x q matrix A.
func Kmat(p, q int) *mat.Dense {
	k := mat.NewDense(p*q, p*q, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < q; j++ {
			k.Set(j+i*q, i+j*p, 1)
		}
	}
	return k
}

// Dmat returns the p^2 x p(p+1)/2 duplication matrix D, which
// satisfies D vech(A) = vec(A) for symmetric A.
func Dmat(p int) *mat.Dense {
	d := mat.NewDense(p*p, VechLen(p), nil)
	for j := 0; j < p; j++ {
		for i := 0; i < p; i++ {
			d.Set(i+j*p, VechIndex(p, i, j), 1)
		}
	}
	return d
}

// Lmat returns the p(p+1)/2 x p^2 elimination matrix L, which
// satisfies L vec(A) = vech(A).
func Lmat(p int) *mat.Dense {
	l := mat.NewDense(VechLen(p), p*p, nil)
	for j := 0; j < p; j++ {
		for i := j; i < p; i++ {
			l.Set(VechIndex(p, i, j), i+j*p, 1)
		}
	}
	return l
}

// Nmat returns the symmetrizer (I + K_pp) / 2.
func Nmat(p int) *mat.Dense {
	n := Kmat(p, p)
	for i := 0; i < p*p; i++ {
		n.Set(i, i, n.At(i, i)+1)
	}
	n.Scale(0.5, n)
	return n
}

// Kron returns the Kronecker product of a and b.
func Kron(a, b mat.Matrix) *mat.Dense {
	var k mat.Dense
	k.Kronecker(a, b)
	return &k
}

// Eye returns the n x n identity matrix as a dense matrix.
func Eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

package spline

import (
	"gonum.org/v1/gonum/mat"
)

// BSBasis evaluates the B-spline basis of the given order (degree plus
// one) at x, using the Cox-de Boor recursion.  There are
// len(knots)-order basis functions, which sum to one on the interval
// [knots[order-1], knots[len(knots)-order]].  The right end of that
// interval is included in the last interval.
func BSBasis(x, knots []float64, order int) *mat.Dense {
	nk := len(knots)
	nb := nk - order
	right := knots[nb]

	xm := mat.NewDense(len(x), nb, nil)
	b := make([]float64, nk-1)

	for i, v := range x {
		for j := range b {
			b[j] = 0
			if knots[j] <= v && v < knots[j+1] {
				b[j] = 1
			}
		}
		if v == right {
			for j := range b {
				b[j] = 0
			}
			b[nb-1] = 1
		}

		for k := 2; k <= order; k++ {
			for j := 0; j < nk-k; j++ {
				var u float64
				if d := knots[j+k-1] - knots[j]; d > 0 {
					u += (v - knots[j]) / d * b[j]
				}
				if d := knots[j+k] - knots[j+1]; d > 0 {
					u += (knots[j+k] - v) / d * b[j+1]
				}
				b[j] = u
			}
		}

		xm.SetRow(i, b[0:nb])
	}

	return xm
}

// BSPenalty returns the second order difference penalty D^T D for a
// B-spline basis with nb functions.
func BSPenalty(nb int) *mat.SymDense {
	d := mat.NewDense(nb-2, nb, nil)
	for i := 0; i < nb-2; i++ {
		d.Set(i, i, 1)
		d.Set(i, i+1, -2)
		d.Set(i, i+2, 1)
	}
	s := mat.NewSymDense(nb, nil)
	s.SymOuterK(1, d.T())
	return s
}

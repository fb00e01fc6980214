package spline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Smooth is one penalized smooth term of an additive model.  The basis
// X has been reparameterized so that its columns sum to zero, which
// identifies the term against the intercept, and the penalty S has
// been transformed to match and divided by Scale.
type Smooth struct {
	Name  string
	Kind  Kind
	Knots []float64

	// Constrained basis, n x (k-1)
	X *mat.Dense

	// Constrained and scaled penalty, (k-1) x (k-1)
	S *mat.SymDense

	// Null space of the column means of the raw basis, k x (k-1)
	Z *mat.Dense

	// The penalty was divided by this value
	Scale float64

	// The covariate, multiplied by the by-variable if present
	X0 []float64

	// The nonzero elements of X0
	XM []float64

	// Column of the by-variable matrix, or -1
	Level int
}

// RawBasis evaluates the unconstrained basis of the given kind.
func RawBasis(kind Kind, x, knots []float64) *mat.Dense {
	switch kind {
	case CR:
		return CRBasis(x, knots)
	case CC:
		return CCBasis(x, knots)
	case BS:
		return BSBasis(x, knots, BSOrder)
	default:
		panic(fmt.Sprintf("RawBasis: unknown kind %v\n", kind))
	}
}

// Penalty returns the unconstrained penalty of the given kind.
func Penalty(kind Kind, knots []float64) *mat.SymDense {
	switch kind {
	case CR:
		return CRPenalty(knots)
	case CC:
		return CCPenalty(knots)
	case BS:
		return BSPenalty(len(knots) - BSOrder)
	default:
		panic(fmt.Sprintf("Penalty: unknown kind %v\n", kind))
	}
}

// PenaltyScale returns |S|_1 / |X|_inf^2, which puts the penalty on the
// scale of X^T X.
func PenaltyScale(x mat.Matrix, s mat.Matrix) float64 {
	xn := mat.Norm(x, math.Inf(1))
	return mat.Norm(s, 1) / (xn * xn)
}

// Absorb reparameterizes the basis x and penalty s so that the basis
// columns sum to zero.  The complete QR decomposition of the vector of
// column means gives an orthogonal Q whose first column spans the
// means, and the remaining columns Z of Q span their null space.  The
// returned basis is XZ and the penalty is Z^T S Z.
func Absorb(x *mat.Dense, s mat.Symmetric) (*mat.Dense, *mat.SymDense, *mat.Dense) {
	n, k := x.Dims()

	cm := mat.NewDense(k, 1, nil)
	for j := 0; j < k; j++ {
		var u float64
		for i := 0; i < n; i++ {
			u += x.At(i, j)
		}
		cm.Set(j, 0, u/float64(n))
	}

	var qr mat.QR
	qr.Factorize(cm)
	var q mat.Dense
	qr.QTo(&q)
	z := mat.DenseCopyOf(q.Slice(0, k, 1, k))

	var xz mat.Dense
	xz.Mul(x, z)

	var sz, zsz mat.Dense
	sz.Mul(s, z)
	zsz.Mul(z.T(), &sz)

	return &xz, symmetric(&zsz), z
}

// NewSmooth constructs a smooth term for covariate x using a basis with
// df columns before the sum-to-zero constraint is absorbed.  If by is
// not nil, one smooth is returned for each column of by, with the basis
// rows multiplied by that column.  Otherwise a single smooth is
// returned.
func NewSmooth(name string, x []float64, df int, kind Kind, by *mat.Dense) ([]*Smooth, error) {

	knots, err := Knots(kind, x, df)
	if err != nil {
		return nil, fmt.Errorf("smooth %s: %w", name, err)
	}

	xr := RawBasis(kind, x, knots)
	sr := Penalty(kind, knots)
	sc := PenaltyScale(xr, sr)

	xc, s, z := Absorb(xr, sr)
	s.ScaleSym(1/sc, s)

	if by == nil {
		sm := &Smooth{
			Name:  name,
			Kind:  kind,
			Knots: knots,
			X:     xc,
			S:     s,
			Z:     z,
			Scale: sc,
			X0:    x,
			XM:    nonzero(x),
			Level: -1,
		}
		return []*Smooth{sm}, nil
	}

	n, nlev := by.Dims()
	if n != len(x) {
		return nil, fmt.Errorf("smooth %s: by-variable has %d rows, covariate has %d", name, n, len(x))
	}

	var sms []*Smooth
	_, k := xc.Dims()
	for l := 0; l < nlev; l++ {
		xl := mat.NewDense(n, k, nil)
		x0 := make([]float64, n)
		for i := 0; i < n; i++ {
			b := by.At(i, l)
			x0[i] = x[i] * b
			for j := 0; j < k; j++ {
				xl.Set(i, j, xc.At(i, j)*b)
			}
		}

		sl := mat.NewSymDense(k, nil)
		sl.CopySym(s)

		sms = append(sms, &Smooth{
			Name:  fmt.Sprintf("%s%d", name, l),
			Kind:  kind,
			Knots: knots,
			X:     xl,
			S:     sl,
			Z:     z,
			Scale: sc,
			X0:    x0,
			XM:    nonzero(x0),
			Level: l,
		})
	}

	return sms, nil
}

func nonzero(x []float64) []float64 {
	var y []float64
	for _, v := range x {
		if v != 0 {
			y = append(y, v)
		}
	}
	return y
}

// Range returns the interval of covariate values over which the basis
// is fully supported.
func (sm *Smooth) Range() (float64, float64) {
	if sm.Kind == BS {
		return sm.Knots[BSOrder-1], sm.Knots[len(sm.Knots)-BSOrder]
	}
	return sm.Knots[0], sm.Knots[len(sm.Knots)-1]
}

// Basis evaluates the constrained basis at new covariate values.  The
// by-variable is not applied.
func (sm *Smooth) Basis(x []float64) *mat.Dense {
	xr := RawBasis(sm.Kind, x, sm.Knots)
	var b mat.Dense
	b.Mul(xr, sm.Z)
	return &b
}

// NumCoef returns the number of coefficients of the constrained basis.
func (sm *Smooth) NumCoef() int {
	_, k := sm.X.Dims()
	return k
}

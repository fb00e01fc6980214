package linalg

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func randCSC(rng *rand.Rand, r, c int, frac float64) *CSC {
	var rows, cols []int
	var vals []float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float64() < frac {
				rows = append(rows, i)
				cols = append(cols, j)
				vals = append(vals, rng.NormFloat64())
			}
		}
	}
	return FromTriplets(r, c, rows, cols, vals)
}

func randDense(rng *rand.Rand, r, c int) *mat.Dense {
	x := make([]float64, r*c)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, x)
}

func TestFromTriplets(t *testing.T) {
	s := FromTriplets(3, 2, []int{2, 0, 2, 1}, []int{1, 0, 1, 1}, []float64{1, 2, 3, 4})
	require.Equal(t, 3, s.NNZ())

	want := mat.NewDense(3, 2, []float64{
		2, 0,
		0, 4,
		0, 4,
	})
	require.True(t, mat.Equal(s, want))
	require.True(t, mat.Equal(s.ToDense(), want))
	require.True(t, mat.Equal(s.T(), want.T()))

	_, err := NewCSC(2, 2, []int{0, 1, 2}, []int{0, 5}, []float64{1, 1})
	require.ErrorIs(t, err, ErrDimension)
}

func TestCSCProducts(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	s := randCSC(rng, 20, 7, 0.3)
	d := s.ToDense()

	x := make([]float64, 7)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	var y mat.VecDense
	y.MulVec(d, mat.NewVecDense(7, x))
	require.True(t, floats.EqualApprox(s.MulVec(x), y.RawVector().Data, 1e-12))

	z := make([]float64, 20)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	y.Reset()
	y.MulVec(d.T(), mat.NewVecDense(20, z))
	require.True(t, floats.EqualApprox(s.TMulVec(z), y.RawVector().Data, 1e-12))

	b := randDense(rng, 7, 3)
	var m mat.Dense
	m.Mul(d, b)
	require.True(t, mat.EqualApprox(s.MulDense(b), &m, 1e-12))

	w := make([]float64, 20)
	for i := range w {
		w[i] = 1 + rng.Float64()
	}
	wd := mat.NewDiagDense(20, w)
	b2 := randDense(rng, 20, 4)
	var dw, m2 mat.Dense
	dw.Mul(d.T(), wd)
	m2.Mul(&dw, b2)
	require.True(t, mat.EqualApprox(s.TMulDense(w, b2), &m2, 1e-12))

	var g mat.Dense
	g.Mul(&dw, d)
	require.True(t, mat.EqualApprox(s.Gram(w), &g, 1e-12))

	var tr mat.Dense
	a := randDense(rng, 7, 20)
	tr.Mul(d, a)
	require.InDelta(t, mat.Trace(&tr), s.TraceMul(a), 1e-12)
}

func TestKhatriRao(t *testing.T) {
	j := Dummy([]int{0, 1, 1, 0}, 2)
	x := mat.NewDense(4, 2, []float64{
		1, 2,
		1, 3,
		1, 4,
		1, 5,
	})

	z, err := KhatriRao(j, x)
	require.NoError(t, err)

	want := mat.NewDense(4, 4, []float64{
		1, 2, 0, 0,
		0, 0, 1, 3,
		0, 0, 1, 4,
		1, 5, 0, 0,
	})
	require.True(t, mat.Equal(z, want))

	_, err = KhatriRao(j, mat.NewDense(3, 1, nil))
	require.ErrorIs(t, err, ErrDimension)
}

func TestHStack(t *testing.T) {
	a := Dummy([]int{0, 1, 0}, 2)
	b := Dummy([]int{2, 0, 1}, 3)
	h, err := HStack(a, b)
	require.NoError(t, err)

	want := mat.NewDense(3, 5, []float64{
		1, 0, 0, 0, 1,
		0, 1, 1, 0, 0,
		1, 0, 0, 1, 0,
	})
	require.True(t, mat.Equal(h, want))
}

func TestBlockDiag(t *testing.T) {
	b := NewBlockDiag([]int{2, 1}, []int{2, 3})
	r, c := b.Dims()
	require.Equal(t, 7, r)
	require.Equal(t, 7, c)

	b.SetBlock(0, mat.NewDense(2, 2, []float64{1, 2, 2, 5}))
	b.SetBlock(1, mat.NewDense(1, 1, []float64{7}))

	want := mat.NewDense(7, 7, []float64{
		1, 2, 0, 0, 0, 0, 0,
		2, 5, 0, 0, 0, 0, 0,
		0, 0, 1, 2, 0, 0, 0,
		0, 0, 2, 5, 0, 0, 0,
		0, 0, 0, 0, 7, 0, 0,
		0, 0, 0, 0, 0, 7, 0,
		0, 0, 0, 0, 0, 0, 7,
	})
	require.True(t, mat.Equal(b, want))

	lo, hi := b.Span(1)
	require.Equal(t, 8, lo)
	require.Equal(t, 11, hi)
	require.Equal(t, 4, b.Offset(1))

	// Patching in place changes only the targeted run.
	b.SetBlock(1, mat.NewDense(1, 1, []float64{3}))
	require.Equal(t, 3.0, b.At(6, 6))
	require.Equal(t, 5.0, b.At(3, 3))
}

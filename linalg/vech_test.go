package linalg

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestVech(t *testing.T) {

	a := mat.NewSymDense(3, []float64{
		1, 2, 3,
		2, 4, 5,
		3, 5, 6,
	})

	v := Vech(a)
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6}, v)

	b, err := Invech(v)
	require.NoError(t, err)
	require.True(t, mat.Equal(a, b))

	for p := 1; p < 6; p++ {
		for j := 0; j < p; j++ {
			for i := j; i < p; i++ {
				m := mat.NewSymDense(p, nil)
				m.SetSym(i, j, 1)
				k := VechIndex(p, i, j)
				require.Equal(t, 1.0, Vech(m)[k])
				require.Equal(t, k, VechIndex(p, j, i))
			}
		}
	}
}

func TestInvechBadLength(t *testing.T) {
	_, err := Invech([]float64{1, 2})
	require.ErrorIs(t, err, ErrDimension)

	_, err = InvechChol([]float64{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrDimension)
}

func TestInvechChol(t *testing.T) {
	l, err := InvechChol([]float64{2, -1, 0.5, 3, 1, 4})
	require.NoError(t, err)

	want := mat.NewDense(3, 3, []float64{
		2, 0, 0,
		-1, 3, 0,
		0.5, 1, 4,
	})
	require.True(t, mat.Equal(l, want))
}

func TestCholDiagPositive(t *testing.T) {
	v := []float64{-2, 1, 0.5, 3, -1, -4}
	l0, _ := InvechChol(v)
	var s0 mat.Dense
	s0.Mul(l0, l0.T())

	require.NoError(t, CholDiagPositive(v))
	require.Equal(t, []float64{2, -1, -0.5, 3, -1, 4}, v)

	l1, _ := InvechChol(v)
	var s1 mat.Dense
	s1.Mul(l1, l1.T())
	require.True(t, mat.EqualApprox(&s0, &s1, 1e-12))
}

func TestCholPacked(t *testing.T) {
	a := mat.NewSymDense(2, []float64{4, 2, 2, 5})
	v, err := CholPacked(a)
	require.NoError(t, err)
	require.True(t, floats.EqualApprox(v, []float64{2, 1, 2}, 1e-12))

	_, err = CholPacked(mat.NewSymDense(2, []float64{1, 2, 2, 1}))
	require.ErrorIs(t, err, ErrNotPosDef)
}

func TestVecInvec(t *testing.T) {
	a := mat.NewDense(2, 3, []float64{
		1, 3, 5,
		2, 4, 6,
	})
	v := Vec(a)
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6}, v)

	b, err := Invec(v, 2, 3)
	require.NoError(t, err)
	require.True(t, mat.Equal(a, b))

	_, err = Invec(v, 4, 2)
	require.ErrorIs(t, err, ErrDimension)
}

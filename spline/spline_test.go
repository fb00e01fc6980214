package spline

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func rowSums(x mat.Matrix) []float64 {
	r, c := x.Dims()
	s := make([]float64, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s[i] += x.At(i, j)
		}
	}
	return s
}

func constant(n int, v float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = v
	}
	return x
}

func mulVec(a mat.Matrix, b []float64) []float64 {
	var y mat.VecDense
	y.MulVec(a, mat.NewVecDense(len(b), b))
	return y.RawVector().Data
}

var testKnots = []float64{0, 0.5, 1.2, 2, 3.1, 4}

var testX = []float64{-0.5, 0, 0.1, 0.5, 0.9, 1.7, 2, 2.5, 3.9, 4, 4.8}

func TestCRInterpolates(t *testing.T) {
	b := CRBasis(testKnots, testKnots)
	k := len(testKnots)
	id := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		id.Set(i, i, 1)
	}
	if !mat.EqualApprox(b, id, 1e-12) {
		t.Fail()
	}
}

func TestCRLinear(t *testing.T) {
	b := CRBasis(testX, testKnots)

	// Constants and linear functions are reproduced exactly, including
	// the linear extrapolation outside the knots.
	if !floats.EqualApprox(rowSums(b), constant(len(testX), 1), 1e-12) {
		t.Fail()
	}
	if !floats.EqualApprox(mulVec(b, testKnots), testX, 1e-12) {
		t.Fail()
	}

	s := CRPenalty(testKnots)
	if floats.Norm(mulVec(s, testKnots), 2) > 1e-10 {
		t.Fail()
	}
	if floats.Norm(mulVec(s, constant(len(testKnots), 1)), 2) > 1e-10 {
		t.Fail()
	}
}

// The penalty is the integral of the squared second derivative, which
// is piecewise linear between the knots.
func TestCRPenaltyIntegral(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	k := len(testKnots)
	beta := make([]float64, k)
	for i := range beta {
		beta[i] = rng.NormFloat64()
	}

	gam := mulVec(crF(testKnots), beta)
	var ig float64
	for j := 0; j < k-1; j++ {
		h := testKnots[j+1] - testKnots[j]
		ig += h / 3 * (gam[j]*gam[j] + gam[j]*gam[j+1] + gam[j+1]*gam[j+1])
	}

	s := CRPenalty(testKnots)
	q := floats.Dot(beta, mulVec(s, beta))
	if math.Abs(q-ig) > 1e-10*math.Max(1, ig) {
		t.Errorf("%f != %f", q, ig)
	}
}

func TestCC(t *testing.T) {
	n := len(testKnots) - 1
	period := testKnots[n] - testKnots[0]

	b := CCBasis(testKnots, testKnots)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(b.At(i, j)-want) > 1e-12 {
				t.Fail()
			}
		}
	}

	// The last knot is identified with the first.
	if math.Abs(b.At(n, 0)-1) > 1e-12 {
		t.Fail()
	}

	x := []float64{0.3, 1.1, 2.2, 3.7}
	xs := make([]float64, len(x))
	copy(xs, x)
	floats.AddConst(period, xs)
	b1 := CCBasis(x, testKnots)
	b2 := CCBasis(xs, testKnots)
	if !mat.EqualApprox(b1, b2, 1e-10) {
		t.Fail()
	}
	if !floats.EqualApprox(rowSums(b1), constant(len(x), 1), 1e-12) {
		t.Fail()
	}

	s := CCPenalty(testKnots)
	if floats.Norm(mulVec(s, constant(n, 1)), 2) > 1e-10 {
		t.Fail()
	}
}

func TestBS(t *testing.T) {
	knots, err := Knots(BS, []float64{0, 1, 2, 3, 10}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(knots) != 8+BSOrder {
		t.Fail()
	}

	x := []float64{0, 0.01, 2.5, 5, 7.7, 9.99, 10}
	b := BSBasis(x, knots, BSOrder)
	r, c := b.Dims()
	if r != len(x) || c != 8 {
		t.Fail()
	}
	if !floats.EqualApprox(rowSums(b), constant(len(x), 1), 1e-12) {
		t.Errorf("%v", rowSums(b))
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if b.At(i, j) < 0 {
				t.Fail()
			}
		}
	}

	// The difference penalty vanishes on linear coefficient sequences.
	s := BSPenalty(8)
	lin := make([]float64, 8)
	for i := range lin {
		lin[i] = 2 + 0.5*float64(i)
	}
	if floats.Norm(mulVec(s, lin), 2) > 1e-12 {
		t.Fail()
	}
}

func TestKnots(t *testing.T) {
	x := []float64{5, 1, 3, 3, 2, 4, 1}
	knots, err := Knots(CR, x, 4)
	if err != nil {
		t.Fatal(err)
	}
	if knots[0] != 1 || knots[3] != 5 || !sort.Float64sAreSorted(knots) {
		t.Fail()
	}

	if _, err := Knots(CR, x, 6); err == nil {
		t.Fail()
	}
	if _, err := Knots(CC, x, 2); err == nil {
		t.Fail()
	}

	k, err := ParseKind("CC")
	if err != nil || k != CC {
		t.Fail()
	}
	if _, err := ParseKind("tp"); err == nil {
		t.Fail()
	}
}

func TestSmooth(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 3))
	n := 200
	x := make([]float64, n)
	by := mat.NewDense(n, 2, nil)
	for i := range x {
		x[i] = 10 * rng.Float64()
		by.Set(i, i%2, 1)
	}

	for _, kind := range []Kind{CR, CC, BS} {
		sms, err := NewSmooth("s", x, 8, kind, nil)
		if err != nil {
			t.Fatal(err)
		}
		sm := sms[0]
		if sm.NumCoef() != 7 {
			t.Fail()
		}

		// Columns sum to zero
		for j := 0; j < 7; j++ {
			if math.Abs(floats.Sum(mat.Col(nil, j, sm.X))) > 1e-9 {
				t.Errorf("%v column %d", kind, j)
			}
		}

		// Z has orthonormal columns
		var ztz mat.Dense
		ztz.Mul(sm.Z.T(), sm.Z)
		id := mat.NewDense(7, 7, nil)
		for j := 0; j < 7; j++ {
			id.Set(j, j, 1)
		}
		if !mat.EqualApprox(&ztz, id, 1e-12) {
			t.Fail()
		}

		if !mat.EqualApprox(sm.Basis(x), sm.X, 1e-12) {
			t.Fail()
		}

		lo, hi := sm.Range()
		if lo > floats.Min(x) || hi < floats.Max(x)-1e-12 {
			t.Fail()
		}

		bsm, err := NewSmooth("s", x, 8, kind, by)
		if err != nil {
			t.Fatal(err)
		}
		if len(bsm) != 2 || bsm[1].Level != 1 || bsm[1].Name != "s1" {
			t.Fail()
		}
		for i := 0; i < n; i++ {
			z := bsm[i%2].X.RawRowView(i)
			if !floats.EqualApprox(z, sm.X.RawRowView(i), 1e-12) {
				t.Fail()
			}
			if floats.Norm(bsm[1-i%2].X.RawRowView(i), 2) != 0 {
				t.Fail()
			}
		}
		if len(bsm[0].XM)+len(bsm[1].XM) > n {
			t.Fail()
		}
	}
}

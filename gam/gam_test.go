package gam

import (
	"bytes"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/kshedden/mixedmodel/family"
	"github.com/kshedden/mixedmodel/optim"
	"github.com/kshedden/mixedmodel/spline"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var central = &fd.Settings{Formula: fd.Central}
var centralJac = &fd.JacobianSettings{Formula: fd.Central}

func icept(n int) *mat.Dense {
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
	}
	return x
}

// gaussData simulates y = 1 + sin(2 pi x1) + (x2 - 0.5)^2 + noise.
func gaussData(n int, rng *rand.Rand) ([]float64, []float64, []float64, []float64) {
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	y := make([]float64, n)
	f := make([]float64, n)
	for i := range y {
		x1[i] = rng.Float64()
		x2[i] = rng.Float64()
		f[i] = 1 + math.Sin(2*math.Pi*x1[i]) + 4*(x2[i]-0.5)*(x2[i]-0.5)
		y[i] = f[i] + 0.3*rng.NormFloat64()
	}
	return y, x1, x2, f
}

func gaussModel(t *testing.T, kind spline.Kind) (*GAM, []float64) {
	rng := rand.New(rand.NewPCG(4, 5))
	n := 300
	y, x1, x2, f := gaussData(n, rng)

	s1, err := spline.NewSmooth("x1", x1, 10, spline.CR, nil)
	require.NoError(t, err)
	s2, err := spline.NewSmooth("x2", x2, 8, kind, nil)
	require.NoError(t, err)

	gm, err := NewGAM(y, icept(n), []string{"icept"}, append(s1, s2...), nil)
	require.NoError(t, err)

	return gm, f
}

func TestREMLGradient(t *testing.T) {

	for _, kind := range []spline.Kind{spline.CR, spline.CC, spline.BS} {
		gm, _ := gaussModel(t, kind)

		for _, theta := range [][]float64{{0, 1, -1}, {2, -1, math.Log(0.1)}} {
			ngrad := make([]float64, 3)
			fd.Gradient(ngrad, gm.REML, theta, central)

			grad := make([]float64, 3)
			gm.Gradient(theta, grad)

			for j := range grad {
				require.InDelta(t, ngrad[j], grad[j], 1e-5*math.Max(1, math.Abs(grad[j])), "%v %d", kind, j)
			}
		}
	}
}

func TestREMLHessian(t *testing.T) {

	gm, _ := gaussModel(t, spline.CR)

	for _, theta := range [][]float64{{0, 1, -1}, {3, 0.5, math.Log(0.1)}} {
		nhess := mat.NewDense(3, 3, nil)
		fd.Jacobian(nhess, gm.Gradient, theta, centralJac)

		hess := mat.NewSymDense(3, nil)
		gm.Hessian(theta, hess)

		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				require.InDelta(t, nhess.At(i, j), hess.At(i, j), 1e-4*math.Max(1, math.Abs(hess.At(i, j))))
			}
		}
	}
}

func TestGradBetaRho(t *testing.T) {

	gm, _ := gaussModel(t, spline.BS)
	theta := []float64{0.5, -0.5, 0}
	jb := gm.GradBetaRho(theta)

	nx := gm.NumCoef()
	for i := 0; i < 2; i++ {
		tp := append([]float64(nil), theta...)
		tm := append([]float64(nil), theta...)
		h := 1e-5
		tp[i] += h
		tm[i] -= h
		bp := gm.state(tp).beta
		bm := gm.state(tm).beta
		for j := 0; j < nx; j++ {
			d := (bp[j] - bm[j]) / (2 * h)
			require.InDelta(t, d, jb.At(j, i), 1e-5*math.Max(1, math.Abs(d)))
		}
	}
}

func TestPirlsGaussian(t *testing.T) {

	gm, _ := gaussModel(t, spline.CR)
	alpha := []float64{1, 2}
	pr := gm.Pirls(alpha)
	require.True(t, pr.Success)

	// A single penalized least squares solve
	theta := []float64{0, math.Log(2), 0}
	st := gm.state(theta)
	require.True(t, floats.EqualApprox(pr.Beta, st.beta, 1e-8))
	for _, w := range pr.W {
		require.InDelta(t, 1, w, 1e-12)
	}
}

func TestPirlsPoisson(t *testing.T) {

	gm := poissonModel(t)
	var buf bytes.Buffer
	gm.config.Log = log.New(&buf, "", 0)
	pr := gm.Pirls([]float64{1})
	require.True(t, pr.Success)

	// The deviance decreases at every iteration and the result is
	// the last iterate.
	devs := loggedDeviances(t, &buf)
	require.Equal(t, pr.Iter, len(devs))
	for k := 1; k < len(devs); k++ {
		require.LessOrEqual(t, devs[k], devs[k-1]+1e-6)
	}
	require.InDelta(t, devs[len(devs)-1], pr.Dev, 1e-6)
	require.InDelta(t, gm.fam.Deviance(gm.y, pr.Mu, nil, 1), pr.Dev, 1e-10)

	// The converged coefficients solve the penalized score equations.
	n := len(gm.y)
	r := make([]float64, n)
	for i := range r {
		r[i] = gm.y[i] - pr.Mu[i]
	}
	var score mat.VecDense
	score.MulVec(gm.x.T(), mat.NewVecDense(n, r))
	var pen mat.VecDense
	pen.MulVec(gm.PenaltyMat([]float64{1}), mat.NewVecDense(gm.NumCoef(), pr.Beta))
	for j := 0; j < gm.NumCoef(); j++ {
		require.InDelta(t, score.AtVec(j), pen.AtVec(j), 1e-3)
	}
}

// loggedDeviances extracts the deviances written by PIRLS to a log.
func loggedDeviances(t *testing.T, r io.Reader) []float64 {
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	var devs []float64
	for _, line := range strings.Split(string(b), "\n") {
		_, v, ok := strings.Cut(line, "deviance=")
		if !ok {
			continue
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		require.NoError(t, err)
		devs = append(devs, d)
	}
	return devs
}

// scriptedSteps returns a starting iterate and an update function whose
// k'th call yields deviance devs[k].  The single coefficient of each
// iterate is its position in devs.
func scriptedSteps(devs []float64) (*iterate, func([]float64) *iterate) {
	var k int
	at := func() *iterate {
		d := devs[k]
		return &iterate{beta: []float64{float64(k)}, eta: []float64{d}, mu: []float64{d}, dev: d}
	}
	step := func([]float64) *iterate {
		k++
		return at()
	}
	return at(), step
}

func TestPirlsDiverged(t *testing.T) {

	for _, c := range []struct {
		devs    []float64
		maxIter int
		success bool
		iter    int
		last    int
	}{
		{devs: []float64{10, 8, 6, 7, 5}, maxIter: 200, iter: 3, last: 2},
		{devs: []float64{10, 8, math.NaN(), 5}, maxIter: 200, iter: 2, last: 1},
		{devs: []float64{10, 8, math.Inf(1), 5}, maxIter: 200, iter: 2, last: 1},
		{devs: []float64{10, math.Inf(-1), 5}, maxIter: 200, iter: 1, last: 0},
		{devs: []float64{10, 5, 2.5, 1.25}, maxIter: 2, iter: 2, last: 2},
		{devs: []float64{10, 8, 8 * (1 + 1e-14), 7}, maxIter: 200, success: true, iter: 2, last: 2},
	} {
		gm, _ := gaussModel(t, spline.CR)
		gm.config.PIRLSMaxIter = c.maxIter
		var buf bytes.Buffer
		gm.config.Log = log.New(&buf, "", 0)

		start, step := scriptedSteps(c.devs)
		pr := gm.pirlsLoop(start, step)

		require.Equal(t, c.success, pr.Success)
		require.Equal(t, c.iter, pr.Iter)
		require.Equal(t, []float64{float64(c.last)}, pr.Beta)
		require.Equal(t, c.devs[c.last], pr.Dev)
		require.Equal(t, []float64{c.devs[c.last]}, pr.Eta)

		// Every accepted deviance is no larger than its predecessor.
		devs := loggedDeviances(t, &buf)
		require.Equal(t, c.iter, len(devs))
		prev := c.devs[0]
		for k := 1; k <= c.last; k++ {
			require.LessOrEqual(t, c.devs[k], prev*(1+1e-12))
			prev = c.devs[k]
		}
	}
}

func TestDiverged(t *testing.T) {

	require.False(t, diverged(10, 9))
	require.False(t, diverged(10, 10))
	require.False(t, diverged(10, 10*(1+1e-14)))
	require.True(t, diverged(10, 10.1))
	require.True(t, diverged(10, math.NaN()))
	require.True(t, diverged(10, math.Inf(1)))
	require.True(t, diverged(10, math.Inf(-1)))

	// A non-finite starting deviance does not block a finite update.
	require.False(t, diverged(math.NaN(), 5))
	require.False(t, diverged(math.Inf(1), 5))
}

func TestFitGaussian(t *testing.T) {

	gm, f := gaussModel(t, spline.CR)
	rslt, err := gm.Fit()
	require.NoError(t, err)
	require.True(t, rslt.Converged)
	require.True(t, rslt.PIRLSSuccess)

	// The fitted values track the true mean.
	var mse float64
	for i := range f {
		d := rslt.Mu[i] - f[i]
		mse += d * d
	}
	mse /= float64(len(f))
	require.Less(t, mse, 0.02)

	// The scale estimate is near the error variance.
	require.InDelta(t, 0.09, rslt.Scale, 0.03)

	// Stationary point of REML
	grad := make([]float64, len(rslt.Theta))
	gm.Gradient(rslt.Theta, grad)
	for _, g := range grad {
		require.InDelta(t, 0, g, 1e-4)
	}

	// The correction is nonnegative on the diagonal.
	nx := gm.NumCoef()
	for j := 0; j < nx; j++ {
		require.GreaterOrEqual(t, rslt.Vc.At(j, j), rslt.Vb.At(j, j)-1e-10)
	}

	// Each smooth uses fewer degrees of freedom than it has coefficients.
	for i, e := range rslt.TermEDF {
		require.Greater(t, e, 0.5)
		require.Less(t, e, float64(gm.hi[i]-gm.lo[i])+1e-8)
	}

	comps := rslt.SmoothComponents(200)
	require.Equal(t, 2, len(comps))
	for _, c := range comps {
		require.Equal(t, 200, len(c.X))
		for k := range c.X {
			require.LessOrEqual(t, c.Lower[k], c.Fit[k])
			require.LessOrEqual(t, c.Fit[k], c.Upper[k])
		}
	}

	s := rslt.Summary()
	require.True(t, strings.Contains(s, "Smooth terms"))
	require.True(t, strings.Contains(s, "icept"))
}

// TestFitReproducible checks that the smoothing parameters estimated on
// a seeded data set do not depend on the run or on the optimizer.
func TestFitReproducible(t *testing.T) {

	gm1, _ := gaussModel(t, spline.CR)
	r1, err := gm1.Fit()
	require.NoError(t, err)

	gm2, _ := gaussModel(t, spline.CR)
	r2, err := gm2.Fit()
	require.NoError(t, err)
	require.Equal(t, r1.Theta, r2.Theta)
	require.Equal(t, r1.REML, r2.REML)

	gm3, _ := gaussModel(t, spline.CR)
	gm3.config.Optimizer = &optim.Gonum{}
	r3, err := gm3.Fit()
	require.NoError(t, err)
	require.True(t, r3.Converged)
	require.True(t, floats.EqualApprox(r1.Theta, r3.Theta, 1e-3))
	require.InDelta(t, r1.REML, r3.REML, 1e-6)

	// Both smooths are penalized but not to linearity.
	for _, th := range r1.Theta[:2] {
		require.Greater(t, th, -maxLogLambda+1)
		require.Less(t, th, maxLogLambda-1)
	}
}

func TestPredict(t *testing.T) {

	gm, _ := gaussModel(t, spline.CR)
	rslt, err := gm.Fit()
	require.NoError(t, err)

	// Predicting at the data reproduces the fitted values.
	x1 := gm.smooths[0].X0
	x2 := gm.smooths[1].X0
	mu, err := rslt.Predict(icept(len(x1)), [][]float64{x1, x2}, nil)
	require.NoError(t, err)
	require.True(t, floats.EqualApprox(mu, rslt.Mu, 1e-8))

	_, err = rslt.Predict(nil, [][]float64{x1}, nil)
	require.Error(t, err)
}

// poisson draws a Poisson variate by inversion.
func poisson(lambda float64, rng *rand.Rand) float64 {
	u := rng.Float64()
	p := math.Exp(-lambda)
	c := p
	k := 0.0
	for u > c && k < 1000 {
		k++
		p *= lambda / k
		c += p
	}
	return k
}

func poissonData() ([]float64, []float64, []float64) {
	rng := rand.New(rand.NewPCG(7, 8))
	n := 500
	x := make([]float64, n)
	y := make([]float64, n)
	eta := make([]float64, n)
	for i := range y {
		x[i] = rng.Float64()
		eta[i] = 0.5 + math.Sin(2*math.Pi*x[i])
		y[i] = poisson(math.Exp(eta[i]), rng)
	}
	return y, x, eta
}

func poissonModel(t *testing.T) *GAM {
	y, x, _ := poissonData()
	sm, err := spline.NewSmooth("x", x, 10, spline.CR, nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Family = family.NewFamily(family.PoissonFamily)
	gm, err := NewGAM(y, icept(len(y)), []string{"icept"}, sm, cfg)
	require.NoError(t, err)
	return gm
}

func TestFitPoisson(t *testing.T) {

	_, _, eta := poissonData()
	gm := poissonModel(t)
	rslt, err := gm.Fit()
	require.NoError(t, err)
	require.True(t, rslt.PIRLSSuccess)

	var mse float64
	for i := range eta {
		d := rslt.Eta[i] - eta[i]
		mse += d * d
	}
	mse /= float64(len(eta))
	require.Less(t, mse, 0.05)
	require.InDelta(t, 0.5, rslt.Params()[0], 0.2)
}

func TestByVariable(t *testing.T) {

	rng := rand.New(rand.NewPCG(9, 10))
	n := 400
	x := make([]float64, n)
	y := make([]float64, n)
	by := mat.NewDense(n, 2, nil)
	for i := range x {
		x[i] = rng.Float64()
		g := i % 2
		by.Set(i, g, 1)
		y[i] = 0.3 * rng.NormFloat64()
		if g == 0 {
			y[i] += math.Sin(2 * math.Pi * x[i])
		} else {
			y[i] += 2 * x[i]
		}
	}

	sms, err := spline.NewSmooth("x", x, 8, spline.CR, by)
	require.NoError(t, err)
	require.Equal(t, 2, len(sms))

	gm, err := NewGAM(y, icept(n), []string{"icept"}, sms, nil)
	require.NoError(t, err)
	require.Equal(t, "x0_1", gm.Names()[1])

	rslt, err := gm.Fit()
	require.NoError(t, err)
	require.Equal(t, 2, len(rslt.TermEDF))
}

func TestNewGAMErrors(t *testing.T) {

	_, err := NewGAM([]float64{1, 2}, nil, nil, nil, nil)
	require.Error(t, err)

	gm, _ := gaussModel(t, spline.CR)
	_, err = NewGAM(gm.y[:10], nil, nil, gm.smooths, nil)
	require.Error(t, err)
}

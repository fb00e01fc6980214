package gam

import (
	"fmt"
	"log"
	"math"

	"github.com/kshedden/mixedmodel/family"
	"github.com/kshedden/mixedmodel/linalg"
	"github.com/kshedden/mixedmodel/optim"
	"github.com/kshedden/mixedmodel/spline"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config defines configuration parameters for a GAM.
type Config struct {

	// If not nil, progress of the fitting is logged here.
	Log *log.Logger

	// The distribution family, Gaussian if nil.
	Family *family.Family

	// Iteration limit and relative deviance tolerance for PIRLS.
	PIRLSMaxIter int
	PIRLSTol     float64

	// Optimizer for the REML criterion.  If nil, a bounded trust
	// region Newton method is used.
	Optimizer optim.Minimizer

	// Maximum number of performance iterations (non-Gaussian families).
	MaxOuter int

	// Coverage probability of the smooth component bands.
	CI float64
}

// DefaultConfig returns default configuration values for a GAM.
func DefaultConfig() *Config {
	return &Config{
		Family:       family.NewFamily(family.GaussianFamily),
		PIRLSMaxIter: 200,
		PIRLSTol:     1e-7,
		MaxOuter:     50,
		CI:           0.95,
	}
}

// GAM is a generalized additive model.
type GAM struct {
	y []float64

	// Full design matrix, parametric columns first.
	x *mat.Dense

	// Number of parametric columns
	np int

	smooths []*spline.Smooth

	// Coefficient positions of each smooth are lo[i]..hi[i]-1
	lo, hi []int

	// Penalties padded to nx x nx
	sfull []*mat.SymDense

	// Rank and log pseudo-determinant of each penalty
	ranks []int
	lds   []float64

	names []string

	fam    *family.Family
	config *Config

	// Working linear model used by the REML criterion
	wxtx *mat.SymDense
	wxty []float64
	wyty  float64
	wysum float64
	wn    int
}

// NewGAM returns a GAM for response y, parametric design xp (which may
// be nil, and usually contains an intercept column) and the given
// smooth terms.
func NewGAM(y []float64, xp *mat.Dense, xpNames []string, smooths []*spline.Smooth, config *Config) (*GAM, error) {

	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Family == nil {
		config.Family = def.Family
	}
	if config.PIRLSMaxIter <= 0 {
		config.PIRLSMaxIter = def.PIRLSMaxIter
	}
	if config.PIRLSTol <= 0 {
		config.PIRLSTol = def.PIRLSTol
	}
	if config.MaxOuter <= 0 {
		config.MaxOuter = def.MaxOuter
	}
	if config.CI <= 0 || config.CI >= 1 {
		config.CI = def.CI
	}

	n := len(y)
	if len(smooths) == 0 {
		return nil, fmt.Errorf("gam: no smooth terms")
	}

	var np int
	if xp != nil {
		var r int
		r, np = xp.Dims()
		if r != n {
			return nil, fmt.Errorf("gam: parametric design has %d rows, response has %d", r, n)
		}
		if len(xpNames) != np {
			return nil, fmt.Errorf("gam: %d names for %d parametric columns", len(xpNames), np)
		}
	}

	nx := np
	var lo, hi []int
	for _, sm := range smooths {
		r, k := sm.X.Dims()
		if r != n {
			return nil, fmt.Errorf("gam: smooth %s has %d rows, response has %d", sm.Name, r, n)
		}
		lo = append(lo, nx)
		nx += k
		hi = append(hi, nx)
	}

	x := mat.NewDense(n, nx, nil)
	names := make([]string, 0, nx)
	if np > 0 {
		x.Slice(0, n, 0, np).(*mat.Dense).Copy(xp)
		names = append(names, xpNames...)
	}
	for i, sm := range smooths {
		x.Slice(0, n, lo[i], hi[i]).(*mat.Dense).Copy(sm.X)
		for j := 0; j < hi[i]-lo[i]; j++ {
			if sm.Level >= 0 {
				names = append(names, fmt.Sprintf("%s_%d", sm.Name, j+1))
			} else {
				names = append(names, fmt.Sprintf("%s%d", sm.Name, j+1))
			}
		}
	}

	gm := &GAM{
		y:       y,
		x:       x,
		np:      np,
		smooths: smooths,
		lo:      lo,
		hi:      hi,
		names:   names,
		fam:     config.Family,
		config:  config,
	}

	for i, sm := range smooths {
		sf := mat.NewSymDense(nx, nil)
		k := hi[i] - lo[i]
		for a := 0; a < k; a++ {
			for b := 0; b <= a; b++ {
				sf.SetSym(lo[i]+a, lo[i]+b, sm.S.At(a, b))
			}
		}
		gm.sfull = append(gm.sfull, sf)

		ld, r := linalg.LogDetPositive(sm.S, 1e-10*math.Max(1, mat.Norm(sm.S, 1)))
		gm.ranks = append(gm.ranks, r)
		gm.lds = append(gm.lds, ld)
	}

	gm.setWorking(x, y, nil)

	return gm, nil
}

// NumSmooth returns the number of smooth terms.
func (gm *GAM) NumSmooth() int {
	return len(gm.smooths)
}

// NumCoef returns the number of coefficients.
func (gm *GAM) NumCoef() int {
	_, nx := gm.x.Dims()
	return nx
}

// Names returns the coefficient names.
func (gm *GAM) Names() []string {
	return gm.names
}

// setWorking sets the linear model used by the REML criterion to
// sqrt(w)*z regressed on sqrt(w)*x.  A nil w means unit weights.
func (gm *GAM) setWorking(x *mat.Dense, z, w []float64) {
	n, nx := x.Dims()

	wx := x
	wz := z
	if w != nil {
		wx = mat.NewDense(n, nx, nil)
		wz = make([]float64, n)
		for i := 0; i < n; i++ {
			sw := math.Sqrt(w[i])
			wz[i] = sw * z[i]
			row := wx.RawRowView(i)
			copy(row, x.RawRowView(i))
			floats.Scale(sw, row)
		}
	}

	xtx := mat.NewSymDense(nx, nil)
	xtx.SymOuterK(1, wx.T())

	var xty mat.VecDense
	xty.MulVec(wx.T(), mat.NewVecDense(n, wz))

	gm.wxtx = xtx
	gm.wxty = xty.RawVector().Data
	gm.wyty = floats.Dot(wz, wz)
	gm.wysum = floats.Sum(wz)
	gm.wn = n
}

// PenaltyMat returns the total penalty sum_i alpha[i] * S_i, padded to
// the full coefficient dimension.
func (gm *GAM) PenaltyMat(alpha []float64) *mat.SymDense {
	nx := gm.NumCoef()
	s := mat.NewSymDense(nx, nil)
	for i, sf := range gm.sfull {
		s.AddSym(s, scaledSym(alpha[i], sf))
	}
	return s
}

func scaledSym(f float64, a *mat.SymDense) *mat.SymDense {
	var s mat.SymDense
	s.ScaleSym(f, a)
	return &s
}

// LogDetS returns the log pseudo-determinant of the total penalty
// divided by the scale, sum_i rank_i*log(alpha_i/phi) + log|S_i|+.
func (gm *GAM) LogDetS(alpha []float64, phi float64) float64 {
	var ld float64
	for i := range alpha {
		ld += float64(gm.ranks[i])*math.Log(alpha[i]/phi) + gm.lds[i]
	}
	return ld
}

// PIRLSResult holds the outcome of a PIRLS fit.
type PIRLSResult struct {
	Beta []float64
	Eta  []float64
	Mu   []float64
	Dev  float64

	// Working weights and response at Beta
	W []float64
	Z []float64

	// False if the deviance increased, or the iteration limit was reached
	Success bool
	Iter    int
}

// workingWZ returns the working weights and working response at the
// linear predictor eta, using the full Newton weights.  Observations
// whose Newton weight is not positive fall back to Fisher weights.
func (gm *GAM) workingWZ(eta []float64) ([]float64, []float64, []float64) {
	n := len(eta)
	link := gm.fam.Link
	mu := make([]float64, n)
	link.InvLink(eta, mu)

	v := make([]float64, n)
	dv := make([]float64, n)
	g2 := make([]float64, n)
	dg := make([]float64, n)
	gm.fam.Variance.Var(mu, v)
	gm.fam.Variance.Deriv(mu, dv)
	link.Deriv2(mu, g2)
	link.InvDeriv(eta, dg)

	w := make([]float64, n)
	z := make([]float64, n)
	for i := range eta {
		r := gm.y[i] - mu[i]
		a := 1 + r*(dv[i]/v[i]+g2[i]*dg[i])
		if !(a > 0) {
			a = 1
		}
		z[i] = eta[i] + r/(dg[i]*a)
		w[i] = a * dg[i] * dg[i] / v[i]
	}

	return w, z, mu
}

// solvePLS solves (X^T W X + S) beta = X^T W z.
func (gm *GAM) solvePLS(w, z []float64, s *mat.SymDense) []float64 {
	n, nx := gm.x.Dims()

	wx := mat.NewDense(n, nx, nil)
	wz := make([]float64, n)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		row := wx.RawRowView(i)
		copy(row, gm.x.RawRowView(i))
		floats.Scale(sw, row)
		wz[i] = sw * z[i]
	}

	h := mat.NewSymDense(nx, nil)
	h.SymOuterK(1, wx.T())
	h.AddSym(h, s)

	var rhs mat.VecDense
	rhs.MulVec(wx.T(), mat.NewVecDense(n, wz))

	return solveSym(h, rhs.RawVector().Data)
}

// solveSym solves h*x = b, using the pseudo-inverse if h is singular.
func solveSym(h *mat.SymDense, b []float64) []float64 {
	nx := len(b)
	x := mat.NewVecDense(nx, nil)
	var chol mat.Cholesky
	if chol.Factorize(h) {
		if err := chol.SolveVecTo(x, mat.NewVecDense(nx, b)); err == nil {
			return x.RawVector().Data
		}
	}
	x.MulVec(linalg.PInv(h, 0), mat.NewVecDense(nx, b))
	return x.RawVector().Data
}

func (gm *GAM) linpred(beta []float64) []float64 {
	n, _ := gm.x.Dims()
	var eta mat.VecDense
	eta.MulVec(gm.x, mat.NewVecDense(len(beta), beta))
	r := make([]float64, n)
	copy(r, eta.RawVector().Data)
	return r
}

func (gm *GAM) deviance(eta []float64) (float64, []float64) {
	mu := make([]float64, len(eta))
	gm.fam.Link.InvLink(eta, mu)
	return gm.fam.Deviance(gm.y, mu, nil, 1), mu
}

// Pirls estimates the coefficients for fixed smoothing parameters alpha
// by penalized iteratively reweighted least squares.  The iterations
// start from the family's starting means.  If an iteration increases
// the deviance or makes it non-finite, the previous coefficients are
// kept and Success is false.
func (gm *GAM) Pirls(alpha []float64) *PIRLSResult {

	s := gm.PenaltyMat(alpha)
	n := len(gm.y)

	mu := make([]float64, n)
	gm.fam.StartingMu(gm.y, mu)
	eta := make([]float64, n)
	gm.fam.Link.Link(mu, eta)

	step := func(eta []float64) *iterate {
		w, z, _ := gm.workingWZ(eta)
		beta := gm.solvePLS(w, z, s)
		etaNew := gm.linpred(beta)
		dev, muNew := gm.deviance(etaNew)
		return &iterate{beta: beta, eta: etaNew, mu: muNew, dev: dev}
	}

	rslt := gm.pirlsLoop(step(eta), step)
	rslt.W, rslt.Z, _ = gm.workingWZ(rslt.Eta)

	return rslt
}

// iterate is the state after one PIRLS update.
type iterate struct {
	beta, eta, mu []float64
	dev           float64
}

// pirlsLoop repeats step from cur until the relative deviance change
// is below the tolerance or the deviance fails to decrease.
func (gm *GAM) pirlsLoop(cur *iterate, step func([]float64) *iterate) *PIRLSResult {

	rslt := &PIRLSResult{}
	for iter := 1; iter <= gm.config.PIRLSMaxIter; iter++ {
		rslt.Iter = iter

		nxt := step(cur.eta)
		if gm.config.Log != nil {
			gm.config.Log.Printf("PIRLS %3d deviance=%16.8f\n", iter, nxt.dev)
		}

		if diverged(cur.dev, nxt.dev) {
			break
		}

		rel := math.Abs(cur.dev-nxt.dev) / math.Max(math.Abs(nxt.dev), 1e-300)
		cur = nxt
		if rel < gm.config.PIRLSTol {
			rslt.Success = true
			break
		}
	}

	rslt.Beta = cur.beta
	rslt.Eta = cur.eta
	rslt.Mu = cur.mu
	rslt.Dev = cur.dev

	return rslt
}

// diverged reports whether moving from deviance dev to devNew should
// stop PIRLS.  Increases within rounding of dev are tolerated.
func diverged(dev, devNew float64) bool {
	if math.IsNaN(devNew) || math.IsInf(devNew, 0) {
		return true
	}
	return devNew > dev && devNew-dev > 1e-12*math.Abs(dev)
}

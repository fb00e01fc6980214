package lmm

import (
	"fmt"
	"log"
	"math"

	"github.com/kshedden/mixedmodel/family"
	"github.com/kshedden/mixedmodel/linalg"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GLMMConfig defines configuration parameters for a generalized linear
// mixed model.
type GLMMConfig struct {

	// If not nil, the parameter change of each PQL iteration is logged
	// here.
	Log *log.Logger

	// Limit on the number of PQL iterations
	MaxIter int

	// The iterations stop when the relative change in the covariance
	// parameters falls below Tol.
	Tol float64

	// Configuration of the working linear mixed model.  Weights and
	// FixResid are set by the PQL iterations.
	LMM *Config
}

// DefaultGLMMConfig returns default configuration values for a
// generalized linear mixed model.
func DefaultGLMMConfig() *GLMMConfig {
	return &GLMMConfig{
		MaxIter: 200,
		Tol:     1e-3,
		LMM:     DefaultConfig(),
	}
}

// GLMM is a generalized linear mixed model fit by penalized
// quasi-likelihood.  Each iteration linearizes the mean around the
// current fit and refits a weighted linear mixed model to the working
// response.
type GLMM struct {
	y   []float64
	fam *family.Family
	lmm *LMM

	config *GLMMConfig
}

// NewGLMM returns a generalized linear mixed model for response y with
// fixed effects design x, random effects blocks and distribution family
// fam.
func NewGLMM(y []float64, x *mat.Dense, xnames []string, blocks []RandomBlock, fam *family.Family, config *GLMMConfig) (*GLMM, error) {

	if config == nil {
		config = DefaultGLMMConfig()
	}
	def := DefaultGLMMConfig()
	if config.MaxIter <= 0 {
		config.MaxIter = def.MaxIter
	}
	if config.Tol <= 0 {
		config.Tol = def.Tol
	}

	lc := *def.LMM
	if config.LMM != nil {
		lc = *config.LMM
	}
	lc.Weights = nil
	lc.FixResid = fam.FixedScale()

	if len(blocks) == 0 {
		return nil, fmt.Errorf("lmm: no random effects")
	}
	z, dims, err := randomDesign(len(y), blocks)
	if err != nil {
		return nil, err
	}
	m, err := NewLMMFromDesign(append([]float64(nil), y...), x, xnames, z, dims, &lc)
	if err != nil {
		return nil, err
	}

	return &GLMM{y: y, fam: fam, lmm: m, config: config}, nil
}

// PQLStep records one PQL iteration.
type PQLStep struct {
	Iter        int
	ParamChange float64
	Theta       []float64
}

// GLMMResults describes a fitted generalized linear mixed model.  The
// embedded Results describe the final working linear mixed model.
type GLMMResults struct {
	*Results

	glmm *GLMM

	History []PQLStep

	// The linear mixed model fit that provides the starting values
	Initial *Results

	// False if the iteration limit was reached
	Converged bool

	// Working response and weights of the final iteration
	WorkingY []float64
	Weights  []float64

	// Linear predictor including the random effects, and the mean
	Eta []float64
	Mu  []float64

	GeneralizedChi2 float64
	PseudoLogLike   float64
	AICC            float64
	BIC             float64

	// Raw and Pearson residuals on the linear predictor and mean scales
	ResidRawLinear     []float64
	ResidRawMean       []float64
	ResidPearsonLinear []float64
	ResidPearsonMean   []float64
}

// pseudoData returns the working response eta + g'(mu)(y - mu) and the
// weights sqrt(var(mu) g'(mu)^2) at the linear predictor eta.
func (gm *GLMM) pseudoData(eta []float64) ([]float64, []float64) {
	n := len(eta)
	mu := make([]float64, n)
	gm.fam.Link.InvLink(eta, mu)
	v := make([]float64, n)
	gm.fam.Variance.Var(mu, v)
	gp := make([]float64, n)
	gm.fam.Link.Deriv(mu, gp)

	nu := make([]float64, n)
	w := make([]float64, n)
	for i := range nu {
		nu[i] = eta[i] + gp[i]*(gm.y[i]-mu[i])
		w[i] = math.Sqrt(v[i] * gp[i] * gp[i])
	}
	return nu, w
}

// Fit runs the PQL iterations.  The iterations start from an unweighted
// linear mixed model fit to the link-transformed starting means.  Every
// fit, including the first, starts from the same covariance parameters.
func (gm *GLMM) Fit() (*GLMMResults, error) {

	m := gm.lmm
	n := len(gm.y)

	mu := make([]float64, n)
	gm.fam.StartingMu(gm.y, mu)
	eta := make([]float64, n)
	gm.fam.Link.Link(mu, eta)

	theta0 := m.layout.InitTheta()
	m.setWorking(eta, nil)
	initial, err := m.fitFrom(theta0)
	if err != nil {
		return nil, fmt.Errorf("PQL starting values: %w", err)
	}
	theta := initial.Theta
	eta, err = initial.Predict(nil, nil)
	if err != nil {
		return nil, err
	}

	var hist []PQLStep
	var rslt *Results
	var nu, w []float64
	converged := false
	for iter := 1; iter <= gm.config.MaxIter; iter++ {
		nu, w = gm.pseudoData(eta)
		m.setWorking(nu, w)

		r, err := m.fitFrom(theta0)
		if err != nil {
			return nil, fmt.Errorf("PQL iteration %d: %w", iter, err)
		}
		rslt = r

		eps := floats.Distance(theta, r.Theta, 2) / (floats.Norm(theta, 2) + floats.Norm(r.Theta, 2))
		hist = append(hist, PQLStep{Iter: iter, ParamChange: eps, Theta: r.Theta})
		if gm.config.Log != nil {
			gm.config.Log.Printf("PQL %3d param change=%g\n", iter, eps)
		}

		eta, err = r.Predict(nil, nil)
		if err != nil {
			return nil, err
		}

		if eps < gm.config.Tol {
			converged = true
			break
		}
		theta = r.Theta
	}

	gr, err := gm.results(rslt, hist, converged, nu, w, eta)
	if err != nil {
		return nil, err
	}
	gr.Initial = initial

	return gr, nil
}

func (gm *GLMM) results(rslt *Results, hist []PQLStep, converged bool, nu, w, eta []float64) (*GLMMResults, error) {

	m := gm.lmm
	n, p := m.x.Dims()
	nt := float64(m.layout.NumTheta())

	mu := make([]float64, n)
	gm.fam.Link.InvLink(eta, mu)
	v := make([]float64, n)
	gm.fam.Variance.Var(mu, v)
	gp := make([]float64, n)
	gm.fam.Link.Deriv(mu, gp)

	// Generalized chi-square of the marginal residuals, r' V^-1 r
	s2 := m.resid(rslt.Theta)
	ainv := make([]float64, n)
	for i := range ainv {
		ainv[i] = 1 / (s2 * m.d[i])
	}
	m.update(rslt.Theta)
	wb, err := linalg.NewWoodbury(ainv, m.z, m.ginv)
	if err != nil {
		return nil, err
	}
	var xb mat.VecDense
	xb.MulVec(m.x, mat.NewVecDense(p, rslt.Beta))
	rfe := make([]float64, n)
	for i := range rfe {
		rfe[i] = nu[i] - xb.AtVec(i)
	}
	chi2 := floats.Dot(rfe, wb.SolveVec(rfe))

	df1 := float64(n - p)
	df2 := float64(n-p) - nt - 1
	pll := -m.LogLike(rslt.Theta)/2 - df1/2*math.Log(2*math.Pi)

	gr := &GLMMResults{
		Results:            rslt,
		glmm:               gm,
		History:            hist,
		Converged:          converged,
		WorkingY:           nu,
		Weights:            w,
		Eta:                eta,
		Mu:                 mu,
		GeneralizedChi2:    chi2,
		PseudoLogLike:      pll,
		AICC:               -2*pll + 2*nt*df1/df2,
		BIC:                -2*pll + nt*math.Log(df1),
		ResidRawLinear:     make([]float64, n),
		ResidRawMean:       make([]float64, n),
		ResidPearsonLinear: make([]float64, n),
		ResidPearsonMean:   make([]float64, n),
	}

	for i := 0; i < n; i++ {
		gr.ResidRawLinear[i] = nu[i] - eta[i]
		gr.ResidRawMean[i] = gm.y[i] - mu[i]
		rv := s2 * m.d[i] / (gp[i] * gp[i])
		gr.ResidPearsonLinear[i] = gr.ResidRawLinear[i] / math.Sqrt(rv)
		gr.ResidPearsonMean[i] = gr.ResidRawMean[i] / math.Sqrt(v[i])
	}

	return gr, nil
}

// SandwichCov returns the robust covariance of the fixed effects,
// M B' diag(r^2) B M, with M = (X'V^-1 X)^-1, B = V^-1 X, and r the
// working residuals around the fixed effects fit.
func (gr *GLMMResults) SandwichCov() *mat.SymDense {

	m := gr.glmm.lmm
	n, p := m.x.Dims()

	s2 := m.resid(gr.Theta)
	ainv := make([]float64, n)
	for i := range ainv {
		ainv[i] = 1 / (s2 * m.d[i])
	}
	m.update(gr.Theta)
	wb, err := linalg.NewWoodbury(ainv, m.z, m.ginv)
	if err != nil {
		panic(err)
	}
	b := wb.SolveDense(m.x)

	var xb mat.VecDense
	xb.MulVec(m.x, mat.NewVecDense(p, gr.Beta))
	for i := 0; i < n; i++ {
		r := gr.WorkingY[i] - xb.AtVec(i)
		floats.Scale(r, b.RawRowView(i))
	}

	c := mat.NewSymDense(p, nil)
	c.SymOuterK(1, b.T())

	var t, u mat.Dense
	t.Mul(gr.BetaCov, c)
	u.Mul(&t, gr.BetaCov)
	return linalg.Symmetrize(&u)
}

// Summary returns a text summary of the fitted model.
func (gr *GLMMResults) Summary() string {

	gm := gr.glmm
	top := []string{
		fmt.Sprintf("Family:       %s", gm.fam.Name),
		fmt.Sprintf("Link:         %s", gm.fam.Link.Name),
		fmt.Sprintf("Nobs:         %d", len(gm.y)),
		fmt.Sprintf("PQL iters:    %d", len(gr.History)),
		fmt.Sprintf("Pseudo LL:    %.4f", gr.PseudoLogLike),
		fmt.Sprintf("AICC:         %.4f", gr.AICC),
		fmt.Sprintf("BIC:          %.4f", gr.BIC),
		fmt.Sprintf("Gen. chi2:    %.4f", gr.GeneralizedChi2),
	}

	tab := gr.Results.table("Generalized linear mixed model", top)
	if !gr.Converged {
		tab.Msg = append(tab.Msg, "The PQL iterations did not converge.")
	}
	return tab.String()
}

package gam

import (
	"fmt"
	"math"
	"strings"

	"github.com/kshedden/mixedmodel/family"
	"github.com/kshedden/mixedmodel/linalg"
	"github.com/kshedden/mixedmodel/optim"
	"github.com/kshedden/mixedmodel/statmodel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Results describes a fitted GAM.
type Results struct {
	statmodel.BaseResults

	gam *GAM

	// Log smoothing parameters followed by the log scale
	Theta []float64

	Alpha []float64
	Scale float64

	Eta []float64
	Mu  []float64

	// Posterior covariance of the coefficients given the smoothing
	// parameters
	Vb *mat.SymDense

	// Inverse of the REML Hessian, the approximate covariance of Theta
	Vp *mat.SymDense

	// Derivatives of the coefficients with respect to the log smoothing
	// parameters
	Jb *mat.Dense

	// Correction for smoothing parameter uncertainty, Jb Vp Jb^T
	C *mat.SymDense

	// Vb + C
	Vc *mat.SymDense

	// Frequentist covariance of the coefficients plus C
	Vf *mat.SymDense

	// Effective degrees of freedom of each coefficient
	EDF []float64

	// Effective degrees of freedom of each smooth term
	TermEDF []float64

	REML     float64
	Deviance float64

	// Converged is false if the REML optimization or the performance
	// iterations did not converge.
	Converged bool

	// PIRLSSuccess is false if the final PIRLS did not converge.
	PIRLSSuccess bool

	// Singular is true if the REML Hessian was not invertible.
	Singular bool

	OuterIter int
}

var _ statmodel.BaseResultser = (*Results)(nil)

func (gm *GAM) minimizer() optim.Minimizer {
	if gm.config.Optimizer != nil {
		return gm.config.Optimizer
	}
	tr := optim.NewTrustRegion()
	tr.Settings.Log = gm.config.Log
	return tr
}

// bounds keeps the log smoothing parameters within a range where the
// penalized fit is numerically stable.  A smooth whose truth lies in the
// penalty null space drives its parameter to the upper bound.
func (gm *GAM) bounds() ([]float64, []float64) {
	m := len(gm.smooths)
	lo := make([]float64, m+1)
	hi := make([]float64, m+1)
	for i := 0; i < m; i++ {
		lo[i] = -maxLogLambda
		hi[i] = maxLogLambda
	}
	lo[m] = math.Inf(-1)
	hi[m] = math.Inf(1)
	return lo, hi
}

const maxLogLambda = 25

func (gm *GAM) gaussianIdentity() bool {
	return gm.fam.TypeCode == family.GaussianFamily && gm.fam.Link.TypeCode == family.IdentityLink
}

func maxAbsDiff(x, y []float64) float64 {
	var d float64
	for i := range x {
		d = math.Max(d, math.Abs(x[i]-y[i]))
	}
	return d
}

// Fit estimates the smoothing parameters, scale and coefficients.
func (gm *GAM) Fit() (*Results, error) {

	opt := gm.minimizer()
	prob := optim.Problem{
		Func: gm.REML,
		Grad: gm.Gradient,
		Hess: gm.Hessian,
	}
	if _, ok := opt.(*optim.TrustRegion); ok {
		prob.Lower, prob.Upper = gm.bounds()
	}

	var theta []float64
	var pr *PIRLSResult
	var ores *optim.Result
	var err error
	var outer int
	converged := true

	if gm.gaussianIdentity() {
		gm.setWorking(gm.x, gm.y, nil)
		ores, err = opt.Minimize(prob, gm.initTheta())
		if err != nil {
			return nil, fmt.Errorf("gam: %w", err)
		}
		theta = ores.X
		alpha, _ := gm.splitTheta(theta)
		pr = gm.Pirls(alpha)
		converged = ores.Converged
	} else {
		gm.setWorking(gm.x, gm.y, nil)
		theta = gm.initTheta()
		converged = false
		for outer = 1; outer <= gm.config.MaxOuter; outer++ {
			alpha, _ := gm.splitTheta(theta)
			pr = gm.Pirls(alpha)
			gm.setWorking(gm.x, pr.Z, pr.W)
			if outer == 1 {
				theta = gm.initTheta()
			}

			ores, err = opt.Minimize(prob, theta)
			if err != nil {
				return nil, fmt.Errorf("gam: %w", err)
			}

			change := maxAbsDiff(theta, ores.X)
			theta = ores.X
			if gm.config.Log != nil {
				gm.config.Log.Printf("outer %3d REML=%16.8f change=%g\n", outer, ores.F, change)
			}
			if change < 1e-6 {
				converged = ores.Converged
				break
			}
		}
		if outer > gm.config.MaxOuter {
			outer = gm.config.MaxOuter
		}

		alpha, _ := gm.splitTheta(theta)
		pr = gm.Pirls(alpha)
		gm.setWorking(gm.x, pr.Z, pr.W)
	}

	rslt := gm.results(theta, pr)
	rslt.Converged = converged
	rslt.OuterIter = outer

	return rslt, nil
}

func (gm *GAM) results(theta []float64, pr *PIRLSResult) *Results {

	st := gm.state(theta)
	m := len(gm.smooths)
	nx := gm.NumCoef()

	vb := mat.NewSymDense(nx, nil)
	vb.ScaleSym(st.phi, st.a)

	hess := mat.NewSymDense(m+1, nil)
	gm.Hessian(theta, hess)
	vp, sing := linalg.InvSym(hess)

	jb := gm.dBeta(st)
	var jv, jvj mat.Dense
	jv.Mul(jb, vp.SliceSym(0, m))
	jvj.Mul(&jv, jb.T())
	c := linalg.Symmetrize(&jvj)

	vc := mat.NewSymDense(nx, nil)
	vc.AddSym(vb, c)

	// F = A X^T W X, whose diagonal holds the effective degrees of freedom.
	var f mat.Dense
	f.Mul(st.a, gm.wxtx)
	edf := make([]float64, nx)
	for j := range edf {
		edf[j] = f.At(j, j)
	}
	tedf := make([]float64, m)
	for i := range tedf {
		tedf[i] = floats.Sum(edf[gm.lo[i]:gm.hi[i]])
	}

	var fa mat.Dense
	fa.Mul(&f, st.a)
	fa.Scale(st.phi, &fa)
	vf := linalg.Symmetrize(&fa)
	vf.AddSym(vf, c)

	vcov := make([]float64, nx*nx)
	for i := 0; i < nx; i++ {
		for j := 0; j < nx; j++ {
			vcov[i*nx+j] = vc.At(i, j)
		}
	}

	ll := gm.fam.LogLike(gm.y, pr.Mu, nil, st.phi, true)

	return &Results{
		BaseResults:  statmodel.NewBaseResults(ll, pr.Beta, gm.names, vcov),
		gam:          gm,
		Theta:        theta,
		Alpha:        st.alpha,
		Scale:        st.phi,
		Eta:          pr.Eta,
		Mu:           pr.Mu,
		Vb:           vb,
		Vp:           vp,
		Jb:           jb,
		C:            c,
		Vc:           vc,
		Vf:           vf,
		EDF:          edf,
		TermEDF:      tedf,
		REML:         gm.REML(theta),
		Deviance:     pr.Dev,
		PIRLSSuccess: pr.Success,
		Singular:     sing,
	}
}

// TotalEDF returns the effective degrees of freedom of the fit.
func (rslt *Results) TotalEDF() float64 {
	return floats.Sum(rslt.EDF)
}

// AIC returns the Akaike information criterion using the effective
// degrees of freedom.
func (rslt *Results) AIC() float64 {
	return -2*rslt.LogLike() + 2*rslt.TotalEDF()
}

// SmoothComponent is one estimated smooth function evaluated on a grid,
// with a pointwise confidence band.
type SmoothComponent struct {
	Name string
	X    []float64
	Fit  []float64
	SE   []float64

	Lower []float64
	Upper []float64
}

// SmoothComponents evaluates each fitted smooth on npoints equally
// spaced values spanning its knots.  The bands use Vc and the coverage
// probability in the configuration.
func (rslt *Results) SmoothComponents(npoints int) []SmoothComponent {

	if npoints <= 1 {
		npoints = 200
	}

	gm := rslt.gam
	q := distuv.UnitNormal.Quantile(1 - (1-gm.config.CI)/2)
	params := rslt.Params()

	var comps []SmoothComponent
	for i, sm := range gm.smooths {
		lo, hi := sm.Range()
		x := make([]float64, npoints)
		floats.Span(x, lo, hi)

		b := sm.Basis(x)
		beta := mat.NewVecDense(gm.hi[i]-gm.lo[i], params[gm.lo[i]:gm.hi[i]])
		v := rslt.Vc.SliceSym(gm.lo[i], gm.hi[i])

		var fit mat.VecDense
		fit.MulVec(b, beta)

		comp := SmoothComponent{
			Name:  sm.Name,
			X:     x,
			Fit:   make([]float64, npoints),
			SE:    make([]float64, npoints),
			Lower: make([]float64, npoints),
			Upper: make([]float64, npoints),
		}
		copy(comp.Fit, fit.RawVector().Data)
		for k := 0; k < npoints; k++ {
			row := b.RawRowView(k)
			se := math.Sqrt(math.Max(linalg.QuadForm(row, v, row), 0))
			comp.SE[k] = se
			comp.Lower[k] = comp.Fit[k] - q*se
			comp.Upper[k] = comp.Fit[k] + q*se
		}
		comps = append(comps, comp)
	}

	return comps
}

// Predict returns the fitted mean for new parametric covariates xp and
// smooth covariates xs, one slice per smooth term.  For smooths with a
// by-variable, the by-variable values are given in by, otherwise by may
// be nil or hold nil slices.
func (rslt *Results) Predict(xp *mat.Dense, xs, by [][]float64) ([]float64, error) {

	gm := rslt.gam
	if len(xs) != len(gm.smooths) {
		return nil, fmt.Errorf("Predict: %d smooth covariates for %d smooths", len(xs), len(gm.smooths))
	}
	n := len(xs[0])
	params := rslt.Params()

	eta := make([]float64, n)
	if gm.np > 0 {
		if xp == nil {
			return nil, fmt.Errorf("Predict: parametric design is required")
		}
		var e mat.VecDense
		e.MulVec(xp, mat.NewVecDense(gm.np, params[:gm.np]))
		copy(eta, e.RawVector().Data)
	}

	for i, sm := range gm.smooths {
		if len(xs[i]) != n {
			return nil, fmt.Errorf("Predict: smooth %s has %d values, expected %d", sm.Name, len(xs[i]), n)
		}
		b := sm.Basis(xs[i])
		var e mat.VecDense
		e.MulVec(b, mat.NewVecDense(gm.hi[i]-gm.lo[i], params[gm.lo[i]:gm.hi[i]]))
		for k := range eta {
			v := e.AtVec(k)
			if sm.Level >= 0 {
				if by == nil || by[i] == nil {
					return nil, fmt.Errorf("Predict: smooth %s requires by-variable values", sm.Name)
				}
				v *= by[i][k]
			}
			eta[k] += v
		}
	}

	mu := make([]float64, n)
	gm.fam.Link.InvLink(eta, mu)
	return mu, nil
}

// Summary returns a text summary of the parametric coefficients and the
// smooth terms.
func (rslt *Results) Summary() string {

	gm := rslt.gam
	np := gm.np
	se := rslt.StdErr()
	zs := rslt.ZScores()
	pv := rslt.PValues()

	top := []string{
		fmt.Sprintf("Family:   %s", gm.fam.Name),
		fmt.Sprintf("Link:     %s", gm.fam.Link.Name),
		fmt.Sprintf("Nobs:     %d", len(gm.y)),
		fmt.Sprintf("Scale:    %.6g", rslt.Scale),
		fmt.Sprintf("REML:     %.4f", rslt.REML),
		fmt.Sprintf("Deviance: %.4f", rslt.Deviance),
		fmt.Sprintf("EDF:      %.2f", rslt.TotalEDF()),
		fmt.Sprintf("AIC:      %.4f", rslt.AIC()),
	}

	tab := statmodel.ParamTable("Generalized additive model", top, gm.names[:np], rslt.Params()[:np],
		se[:np], zs[:np], pv[:np], "z")
	if !rslt.Converged {
		tab.Msg = append(tab.Msg, "The smoothing parameter estimates did not converge.")
	}
	if rslt.Singular {
		tab.Msg = append(tab.Msg, "The REML Hessian is singular.")
	}

	var names []string
	var lam []float64
	for i, sm := range gm.smooths {
		names = append(names, sm.Name)
		lam = append(lam, rslt.Theta[i])
	}
	stab := &statmodel.SummaryTable{
		Title:    "Smooth terms",
		ColNames: []string{"Smooth     ", "Kind", "EDF", "log(lambda)"},
		ColFmt: []statmodel.Fmter{
			statmodel.FmtStrings(),
			statmodel.FmtStrings(),
			statmodel.FmtFloats("%10.2f"),
			statmodel.FmtFloats("%12.4f"),
		},
		Cols: []interface{}{names, kinds(gm), rslt.TermEDF, lam},
	}

	var b strings.Builder
	b.WriteString(tab.String())
	b.WriteString("\n")
	b.WriteString(stab.String())
	return b.String()
}

func kinds(gm *GAM) []string {
	var k []string
	for _, sm := range gm.smooths {
		k = append(k, sm.Kind.String())
	}
	return k
}

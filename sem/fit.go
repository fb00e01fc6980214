package sem

import (
	"errors"
	"fmt"
	"math"

	"github.com/kshedden/mixedmodel/linalg"
	"github.com/kshedden/mixedmodel/optim"
	"github.com/kshedden/mixedmodel/statmodel"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Results describes a fitted structural equation model.
type Results struct {
	statmodel.BaseResults
	statmodel.InfoCriteria

	sem *SEM

	Theta    []float64
	Matrices *Matrices

	// Implied covariance at the estimate
	Sigma *mat.SymDense

	// Inverse Hessian of the discrepancy scaled by the sample size
	ACov *mat.SymDense

	// Minimized discrepancy log|Sigma| + tr(S Sigma^-1)
	F float64

	// Likelihood ratio test against the saturated model
	Chi2       float64
	DF         int
	Chi2PValue float64

	Converged bool
	Singular  bool

	Optim *optim.Result
}

var _ statmodel.BaseResultser = (*Results)(nil)

func (sem *SEM) minimizer() optim.Minimizer {
	if sem.config.Optimizer != nil {
		return sem.config.Optimizer
	}
	tr := optim.NewTrustRegion()
	tr.Settings.Log = sem.config.Log
	return tr
}

// Fit estimates the free parameters by minimizing the discrepancy,
// with variances constrained to be non-negative.
func (sem *SEM) Fit() (*Results, error) {

	prob := optim.Problem{
		Func:  sem.LogLike,
		Grad:  sem.Gradient,
		Hess:  sem.Hessian,
		Lower: sem.lower,
	}

	opt := sem.minimizer()
	ores, err := opt.Minimize(prob, sem.StartTheta())
	if errors.Is(err, optim.ErrBounded) {
		prob.Lower = nil
		ores, err = opt.Minimize(prob, sem.StartTheta())
	}
	if err != nil {
		return nil, fmt.Errorf("sem: %w", err)
	}

	if !ores.Converged && sem.config.Log != nil {
		optim.FailMessage(sem.config.Log.Writer(), ores, sem.names)
	}

	return sem.results(ores)
}

func (sem *SEM) results(ores *optim.Result) (*Results, error) {

	theta := ores.X
	m := len(theta)
	p := float64(sem.p)
	n1 := float64(sem.nobs - 1)

	f := sem.LogLike(theta)
	if math.IsInf(f, 1) {
		return nil, fmt.Errorf("sem: implied covariance is not positive definite at the estimate")
	}

	h := mat.NewSymDense(m, nil)
	sem.Hessian(theta, h)

	acov, sing := linalg.InvSym(h)
	acov.ScaleSym(float64(sem.nobs), acov)

	// n-1 times the discrepancy is -2 times the log-likelihood, so the
	// information is (n-1)/2 times the Hessian.
	vcov, _ := statmodel.VCovFromHessian(h, 2/n1)

	lds, _ := linalg.LogDet(sem.s)
	chi2 := n1 * (f - lds - p)
	df := sem.DF()
	pv := math.NaN()
	if df > 0 {
		pv = distuv.ChiSquared{K: float64(df)}.Survival(chi2)
	}

	ll := -n1 / 2 * (f + p*math.Log(2*math.Pi))

	mm := sem.ModelMatrices(theta)
	_, _, sig := implied(mm)

	return &Results{
		BaseResults:  statmodel.NewBaseResults(ll, theta, sem.names, vcov),
		InfoCriteria: statmodel.NewInfoCriteria(-2*ll, float64(m), float64(sem.nobs)),
		sem:          sem,
		Theta:        theta,
		Matrices:     mm,
		Sigma:        sig,
		ACov:         acov,
		F:            f,
		Chi2:         chi2,
		DF:           df,
		Chi2PValue:   pv,
		Converged:    ores.Converged,
		Singular:     sing,
		Optim:        ores,
	}, nil
}

// Summary returns a text summary of the fitted model.
func (rslt *Results) Summary() string {

	sem := rslt.sem
	top := []string{
		fmt.Sprintf("Nobs:       %d", sem.nobs),
		fmt.Sprintf("Observed:   %d", sem.p),
		fmt.Sprintf("Latent:     %d", sem.k),
		fmt.Sprintf("LL:         %.4f", rslt.LogLike()),
		fmt.Sprintf("Chi2:       %.4f", rslt.Chi2),
		fmt.Sprintf("DF:         %d", rslt.DF),
		fmt.Sprintf("P(>Chi2):   %.4f", rslt.Chi2PValue),
		fmt.Sprintf("AIC:        %.4f", rslt.AIC),
		fmt.Sprintf("BIC:        %.4f", rslt.BIC),
	}

	tab := statmodel.ResultsTable("Structural equation model", top, rslt, nil, "z")
	if !rslt.Converged {
		tab.Msg = append(tab.Msg, "The optimization did not converge.")
	}
	if rslt.Singular {
		tab.Msg = append(tab.Msg, "The Hessian was singular at the estimate.")
	}

	return tab.String()
}

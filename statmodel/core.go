// Package statmodel holds the pieces shared by all fitted models: an
// in-memory column dataset, parameter estimates with their sampling
// covariance and test statistics, information criteria, and a text
// summary table.
package statmodel

import (
	"math"

	"github.com/kshedden/mixedmodel/linalg"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type Dtype = float64

// BaseResultser is a fitted model that can produce results (parameter estimates, etc.).
type BaseResultser interface {
	Names() []string
	LogLike() float64
	Params() []float64
	VCov() []float64
	StdErr() []float64
	ZScores() []float64
	PValues() []float64
}

// BaseResults contains the parameter estimates of a fitted model and
// their sampling covariance.
type BaseResults struct {
	loglike float64
	params  []float64
	xnames  []string
	vcov    []float64
	stderr  []float64
	zscores []float64
	pvalues []float64
}

// NewBaseResults returns a BaseResults value.  The covariance matrix vcov
// is stored row-major in a one dimensional array, and may be nil.
func NewBaseResults(loglike float64, params []float64, xnames []string, vcov []float64) BaseResults {
	return BaseResults{
		loglike: loglike,
		params:  params,
		xnames:  xnames,
		vcov:    vcov,
	}
}

// Names returns the names of the parameters.
func (rslt *BaseResults) Names() []string {
	return rslt.xnames
}

// Params returns the point estimates for the parameters in the model.
func (rslt *BaseResults) Params() []float64 {
	return rslt.params
}

// VCov returns the sampling variance/covariance model for the parameters in the model.
// The matrix is vetorized to one dimension.
func (rslt *BaseResults) VCov() []float64 {
	return rslt.vcov
}

// LogLike returns the log-likelihood or objective function value for the fitted model.
func (rslt *BaseResults) LogLike() float64 {
	return rslt.loglike
}

// StdErr returns the standard errors for the parameters in the model.
func (rslt *BaseResults) StdErr() []float64 {

	// No vcov, no standard error
	if rslt.vcov == nil {
		return nil
	}
	if rslt.stderr != nil {
		return rslt.stderr
	}

	p := len(rslt.params)
	rslt.stderr = make([]float64, p)
	for i := range rslt.stderr {
		rslt.stderr[i] = math.Sqrt(rslt.vcov[i*p+i])
	}

	return rslt.stderr
}

// ZScores returns the Z-scores (the parameter estimates divided by the standard errors).
func (rslt *BaseResults) ZScores() []float64 {

	if rslt.vcov == nil {
		return nil
	}
	if rslt.zscores != nil {
		return rslt.zscores
	}

	std := rslt.StdErr()
	rslt.zscores = make([]float64, len(std))
	for i := range std {
		rslt.zscores[i] = rslt.params[i] / std[i]
	}

	return rslt.zscores
}

// PValues returns two-sided p-values for the null hypothesis that each
// parameter's population value is equal to zero, using the normal
// reference distribution.
func (rslt *BaseResults) PValues() []float64 {

	if rslt.vcov == nil {
		return nil
	}
	if rslt.pvalues != nil {
		return rslt.pvalues
	}

	zs := rslt.ZScores()
	rslt.pvalues = make([]float64, len(zs))
	for i, z := range zs {
		rslt.pvalues[i] = 2 * distuv.UnitNormal.CDF(-math.Abs(z))
	}

	return rslt.pvalues
}

// TPValues returns two-sided p-values for the Z-scores using a Student
// t reference distribution with df degrees of freedom.
func (rslt *BaseResults) TPValues(df float64) []float64 {

	if rslt.vcov == nil {
		return nil
	}

	td := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	zs := rslt.ZScores()
	pv := make([]float64, len(zs))
	for i, z := range zs {
		pv[i] = 2 * td.Survival(math.Abs(z))
	}

	return pv
}

// VCovFromHessian returns scale times the inverse of the Hessian matrix
// h, stored row-major in a one dimensional array.  If h cannot be
// inverted, the pseudo-inverse is used and the second return value is
// true.
func VCovFromHessian(h mat.Symmetric, scale float64) ([]float64, bool) {
	hi, sing := linalg.InvSym(h)
	p := hi.SymmetricDim()
	vc := make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			vc[i*p+j] = scale * hi.At(i, j)
		}
	}
	return vc, sing
}

// InfoCriteria holds likelihood-based information criteria.
type InfoCriteria struct {
	AIC  float64
	AICC float64
	BIC  float64
	CAIC float64
}

// NewInfoCriteria computes information criteria from ll2, which is -2
// times the maximized log-likelihood, for a model with d parameters
// fit to n observations.
func NewInfoCriteria(ll2, d, n float64) InfoCriteria {
	return InfoCriteria{
		AIC:  ll2 + 2*d,
		AICC: ll2 + 2*d*n/(n-d-1),
		BIC:  ll2 + d*math.Log(n),
		CAIC: ll2 + d*(math.Log(n)+1),
	}
}

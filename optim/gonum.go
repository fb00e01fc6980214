package optim

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Gonum minimizes unbounded problems with gonum's optimize package.
// If Method is nil, Newton is used when the problem has a Hessian and
// BFGS otherwise.  If Settings is nil, a gradient threshold of 1e-6 is
// used.
type Gonum struct {
	Method   optimize.Method
	Settings *optimize.Settings
}

var _ Minimizer = (*Gonum)(nil)

// Minimize implements Minimizer.  Problems with finite bounds are
// rejected with ErrBounded.
func (gm *Gonum) Minimize(p Problem, x0 []float64) (*Result, error) {

	if p.Bounded() {
		return nil, ErrBounded
	}

	prob := optimize.Problem{
		Func: p.Func,
		Grad: func(grad, x []float64) {
			p.grad(x, grad)
		},
	}
	if p.Hess != nil {
		prob.Hess = func(hess *mat.SymDense, x []float64) {
			p.Hess(x, hess)
		}
	}

	method := gm.Method
	if method == nil {
		if p.Hess != nil {
			method = &optimize.Newton{}
		} else {
			method = &optimize.BFGS{}
		}
	}

	settings := gm.Settings
	if settings == nil {
		settings = &optimize.Settings{GradientThreshold: 1e-6}
	}

	optrslt, err := optimize.Minimize(prob, x0, settings, method)
	if optrslt == nil {
		return nil, err
	}

	rslt := &Result{
		X:          optrslt.X,
		F:          optrslt.F,
		Gradient:   optrslt.Gradient,
		Iterations: optrslt.Stats.MajorIterations,
		Status:     optrslt.Status.String(),
	}
	if rslt.Gradient == nil {
		rslt.Gradient = make([]float64, len(rslt.X))
		p.grad(rslt.X, rslt.Gradient)
	}
	for _, v := range rslt.Gradient {
		rslt.GradNorm = math.Max(rslt.GradNorm, math.Abs(v))
	}

	if err == nil && optrslt.Status.Err() == nil {
		switch optrslt.Status {
		case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
			optimize.StepConvergence, optimize.MethodConverge:
			rslt.Converged = true
		}
	}

	return rslt, nil
}

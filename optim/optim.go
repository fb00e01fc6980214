// Package optim defines the minimization interface used to fit the
// mixed, additive and structural equation models, along with a bounded
// trust-region Newton method and an adapter onto gonum's optimize
// package.
package optim

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// ErrBounded is returned by minimizers that cannot handle box constraints.
var ErrBounded = errors.New("optim: method does not support bounds")

// ErrNotFinite is returned when the objective is not finite at the
// starting point.
var ErrNotFinite = errors.New("optim: objective is not finite at the starting point")

// Problem is a smooth minimization problem with optional box bounds.
type Problem struct {

	// Func returns the objective value at x.
	Func func(x []float64) float64

	// Grad places the gradient at x into grad.  If nil, a finite
	// difference approximation is used.
	Grad func(x, grad []float64)

	// Hess places the Hessian at x into hess.  Optional.
	Hess func(x []float64, hess *mat.SymDense)

	// Lower and Upper are elementwise bounds.  A nil slice means no
	// bound, and infinite elements are allowed.
	Lower, Upper []float64
}

// Result holds the outcome of a minimization.
type Result struct {
	X          []float64
	F          float64
	Gradient   []float64
	GradNorm   float64
	Iterations int
	Converged  bool
	Status     string
}

// Minimizer minimizes a Problem starting from x0.
type Minimizer interface {
	Minimize(p Problem, x0 []float64) (*Result, error)
}

// Settings controls the trust-region iterations.
type Settings struct {

	// Stop when the infinity norm of the projected gradient is below
	// this value.
	GradTol float64

	// Stop when an accepted step is shorter than StepTol*(1+|x|), or
	// when the trust radius shrinks below StepTol.
	StepTol float64

	MaxIter int

	InitRadius float64
	MaxRadius  float64

	// If not nil, one line is logged per iteration.
	Log *log.Logger
}

// DefaultSettings returns default trust-region settings.
func DefaultSettings() Settings {
	return Settings{
		GradTol:    1e-6,
		StepTol:    1e-10,
		MaxIter:    200,
		InitRadius: 1,
		MaxRadius:  1e4,
	}
}

func (p *Problem) grad(x, g []float64) {
	if p.Grad != nil {
		p.Grad(x, g)
		return
	}
	fd.Gradient(g, p.Func, x, nil)
}

func (p *Problem) bounds(n int) ([]float64, []float64, error) {
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := range lo {
		lo[i] = math.Inf(-1)
		hi[i] = math.Inf(1)
	}
	if p.Lower != nil {
		if len(p.Lower) != n {
			return nil, nil, fmt.Errorf("optim: %d lower bounds for %d parameters", len(p.Lower), n)
		}
		copy(lo, p.Lower)
	}
	if p.Upper != nil {
		if len(p.Upper) != n {
			return nil, nil, fmt.Errorf("optim: %d upper bounds for %d parameters", len(p.Upper), n)
		}
		copy(hi, p.Upper)
	}
	for i := range lo {
		if lo[i] > hi[i] {
			return nil, nil, fmt.Errorf("optim: lower bound %f exceeds upper bound %f at position %d", lo[i], hi[i], i)
		}
	}
	return lo, hi, nil
}

// Bounded reports whether any finite bound is present.
func (p *Problem) Bounded() bool {
	for _, v := range p.Lower {
		if !math.IsInf(v, 0) {
			return true
		}
	}
	for _, v := range p.Upper {
		if !math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// FailMessage writes the current point and gradient of an unsuccessful
// minimization to w, labeling the coordinates with names when given.
func FailMessage(w io.Writer, r *Result, names []string) {
	io.WriteString(w, "Current point and gradient:\n")
	for j, x := range r.X {
		var na string
		if j < len(names) {
			na = names[j]
		}
		var g float64
		if j < len(r.Gradient) {
			g = r.Gradient[j]
		}
		io.WriteString(w, fmt.Sprintf("%16.8f %16.8f %s\n", x, g, na))
	}
	io.WriteString(w, fmt.Sprintf("Status: %s\n", r.Status))
}

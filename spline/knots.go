// Package spline constructs penalized regression spline bases for the
// additive model: cubic regression splines, cyclic cubic regression
// splines and cubic B-splines with a difference penalty.
package spline

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Kind is the type of spline basis.
type Kind uint8

// CR is a cubic regression spline, CC a cyclic cubic regression spline
// and BS a B-spline with a second order difference penalty.
const (
	CR Kind = iota
	CC
	BS
)

func (k Kind) String() string {
	switch k {
	case CR:
		return "cr"
	case CC:
		return "cc"
	case BS:
		return "bs"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind returns the spline kind named by s, which is one of "cr",
// "cc" or "bs".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "cr":
		return CR, nil
	case "cc":
		return CC, nil
	case "bs":
		return BS, nil
	}
	return 0, fmt.Errorf("spline: unknown basis %q", s)
}

// BSOrder is the order (degree plus one) of the B-spline basis.
const BSOrder = 4

// uniqueSorted returns the distinct values of x in increasing order.
func uniqueSorted(x []float64) []float64 {
	u := make([]float64, len(x))
	copy(u, x)
	sort.Float64s(u)
	j := 0
	for i := range u {
		if i == 0 || u[i] != u[j-1] {
			u[j] = u[i]
			j++
		}
	}
	return u[0:j]
}

// Knots places the knots for a basis with df columns (before the
// identifiability constraint is absorbed).  Cubic regression spline
// knots are quantiles of the distinct values of x; cyclic splines use
// one extra knot, since the first and last knots are identified.
// B-spline knots are evenly spaced over the range of x and extended by
// BSOrder-1 knots at each end.
func Knots(kind Kind, x []float64, df int) ([]float64, error) {

	u := uniqueSorted(x)

	var nk int
	switch kind {
	case CR:
		nk = df
		if df < 3 {
			return nil, fmt.Errorf("spline: cr basis needs df >= 3, got %d", df)
		}
	case CC:
		nk = df + 1
		if df < 3 {
			return nil, fmt.Errorf("spline: cc basis needs df >= 3, got %d", df)
		}
	case BS:
		if df < BSOrder {
			return nil, fmt.Errorf("spline: bs basis needs df >= %d, got %d", BSOrder, df)
		}
		if len(u) < 2 {
			return nil, fmt.Errorf("spline: x has fewer than 2 distinct values")
		}
		return bsKnots(u[0], u[len(u)-1], df), nil
	default:
		return nil, fmt.Errorf("spline: unknown basis %v", kind)
	}

	if len(u) < nk {
		return nil, fmt.Errorf("spline: %d knots requested but x has %d distinct values", nk, len(u))
	}

	knots := make([]float64, nk)
	for j := range knots {
		p := float64(j) / float64(nk-1)
		knots[j] = stat.Quantile(p, stat.LinInterp, u, nil)
	}
	knots[0] = u[0]
	knots[nk-1] = u[len(u)-1]

	return knots, nil
}

func bsKnots(lo, hi float64, df int) []float64 {
	nin := df - BSOrder + 2
	h := (hi - lo) / float64(nin-1)
	knots := make([]float64, nin+2*(BSOrder-1))
	for j := range knots {
		knots[j] = lo + h*float64(j-BSOrder+1)
	}
	return knots
}

package family

import (
	"fmt"
)

// VarianceType is used to specify a variance function.
type VarianceType uint8

const (
	BinomialVar VarianceType = iota
	IdentityVar
	ConstantVar
	SquaredVar
	CubedVar
	NegBinomVar
)

// Variance is a variance function, giving the variance of an
// observation as a function of its mean, up to the scale parameter.
type Variance struct {
	Name     string
	TypeCode VarianceType

	// Only used by the negative binomial variance m + alpha*m^2.
	Alpha float64
}

// NewVariance returns the variance function of the given type.  The
// negative binomial variance function is obtained with
// NewNegBinomVariance.
func NewVariance(vartype VarianceType) *Variance {

	switch vartype {
	case BinomialVar:
		return &Variance{Name: "Binomial", TypeCode: vartype}
	case IdentityVar:
		return &Variance{Name: "Identity", TypeCode: vartype}
	case ConstantVar:
		return &Variance{Name: "Constant", TypeCode: vartype}
	case SquaredVar:
		return &Variance{Name: "Squared", TypeCode: vartype}
	case CubedVar:
		return &Variance{Name: "Cubed", TypeCode: vartype}
	default:
		msg := fmt.Sprintf("Unknown variance function: %d\n", vartype)
		panic(msg)
	}
}

// NewNegBinomVariance returns a variance function for the negative
// binomial family.  The variance for mean m is m + alpha*m^2.
func NewNegBinomVariance(alpha float64) *Variance {
	return &Variance{Name: "NegBinom", TypeCode: NegBinomVar, Alpha: alpha}
}

// Var calculates the variance for each mean value.
func (va *Variance) Var(mn, v []float64) {
	for i, m := range mn {
		switch va.TypeCode {
		case BinomialVar:
			v[i] = m * (1 - m)
		case IdentityVar:
			v[i] = m
		case ConstantVar:
			v[i] = 1
		case SquaredVar:
			v[i] = m * m
		case CubedVar:
			v[i] = m * m * m
		case NegBinomVar:
			v[i] = m + va.Alpha*m*m
		}
	}
}

// Deriv calculates the derivative of the variance with respect to the
// mean.
func (va *Variance) Deriv(mn, dv []float64) {
	for i, m := range mn {
		switch va.TypeCode {
		case BinomialVar:
			dv[i] = 1 - 2*m
		case IdentityVar:
			dv[i] = 1
		case ConstantVar:
			dv[i] = 0
		case SquaredVar:
			dv[i] = 2 * m
		case CubedVar:
			dv[i] = 3 * m * m
		case NegBinomVar:
			dv[i] = 1 + 2*va.Alpha*m
		}
	}
}

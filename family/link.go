// Package family provides the exponential family distributions, link
// functions and variance functions used by the additive model and the
// generalized linear mixed model.
package family

import (
	"fmt"
	"math"
)

// LinkType is used to specify a link function.
type LinkType uint8

// LogLink, etc. indicate the different link functions.
const (
	LogLink LinkType = iota
	IdentityLink
	LogitLink
	CloglogLink
	RecipLink
	RecipSquaredLink
)

// Link is a link function g, mapping the mean mu to the linear
// predictor eta = g(mu).  All methods write their results into the
// second argument.
type Link struct {
	Name     string
	TypeCode LinkType
}

// NewLink returns the link function for the given type.
func NewLink(link LinkType) *Link {
	switch link {
	case LogLink:
		return &Link{Name: "Log", TypeCode: link}
	case IdentityLink:
		return &Link{Name: "Identity", TypeCode: link}
	case LogitLink:
		return &Link{Name: "Logit", TypeCode: link}
	case CloglogLink:
		return &Link{Name: "CLogLog", TypeCode: link}
	case RecipLink:
		return &Link{Name: "Recip", TypeCode: link}
	case RecipSquaredLink:
		return &Link{Name: "RecipSquared", TypeCode: link}
	default:
		msg := fmt.Sprintf("Link unknown: %v\n", link)
		panic(msg)
	}
}

// Link calculates eta = g(mu).
func (l *Link) Link(mu, eta []float64) {
	for i, m := range mu {
		switch l.TypeCode {
		case LogLink:
			eta[i] = math.Log(m)
		case IdentityLink:
			eta[i] = m
		case LogitLink:
			eta[i] = math.Log(m / (1 - m))
		case CloglogLink:
			eta[i] = math.Log(-math.Log(1 - m))
		case RecipLink:
			eta[i] = 1 / m
		case RecipSquaredLink:
			eta[i] = 1 / (m * m)
		}
	}
}

// InvLink calculates mu = g^-1(eta).
func (l *Link) InvLink(eta, mu []float64) {
	for i, e := range eta {
		switch l.TypeCode {
		case LogLink:
			mu[i] = math.Exp(e)
		case IdentityLink:
			mu[i] = e
		case LogitLink:
			mu[i] = 1 / (1 + math.Exp(-e))
		case CloglogLink:
			mu[i] = 1 - math.Exp(-math.Exp(e))
		case RecipLink:
			mu[i] = 1 / e
		case RecipSquaredLink:
			mu[i] = 1 / math.Sqrt(e)
		}
	}
}

// Deriv calculates g'(mu).
func (l *Link) Deriv(mu, d []float64) {
	for i, m := range mu {
		switch l.TypeCode {
		case LogLink:
			d[i] = 1 / m
		case IdentityLink:
			d[i] = 1
		case LogitLink:
			d[i] = 1 / (m * (1 - m))
		case CloglogLink:
			d[i] = 1 / ((m - 1) * math.Log(1-m))
		case RecipLink:
			d[i] = -1 / (m * m)
		case RecipSquaredLink:
			d[i] = -2 / (m * m * m)
		}
	}
}

// Deriv2 calculates g''(mu).
func (l *Link) Deriv2(mu, d []float64) {
	for i, m := range mu {
		switch l.TypeCode {
		case LogLink:
			d[i] = -1 / (m * m)
		case IdentityLink:
			d[i] = 0
		case LogitLink:
			v := m * (1 - m)
			d[i] = (2*m - 1) / (v * v)
		case CloglogLink:
			f := math.Log(1 - m)
			r := -1 / ((1 - m) * (1 - m) * f)
			d[i] = r * (1 + 1/f)
		case RecipLink:
			d[i] = 2 / (m * m * m)
		case RecipSquaredLink:
			d[i] = 6 / (m * m * m * m)
		}
	}
}

// InvDeriv calculates the derivative of the inverse link, d mu / d eta,
// evaluated at eta.
func (l *Link) InvDeriv(eta, d []float64) {
	for i, e := range eta {
		switch l.TypeCode {
		case LogLink:
			d[i] = math.Exp(e)
		case IdentityLink:
			d[i] = 1
		case LogitLink:
			p := 1 / (1 + math.Exp(-e))
			d[i] = p * (1 - p)
		case CloglogLink:
			d[i] = math.Exp(e - math.Exp(e))
		case RecipLink:
			d[i] = -1 / (e * e)
		case RecipSquaredLink:
			d[i] = -0.5 * math.Pow(e, -1.5)
		}
	}
}

package family

import (
	"fmt"
	"math"
)

// FamilyType is used to specify a distribution family.
type FamilyType uint8

// PoissonFamily, etc. indicate the supported families.
const (
	PoissonFamily FamilyType = iota
	BinomialFamily
	GaussianFamily
	GammaFamily
	InvGaussianFamily
	NegBinomFamily
)

// Family is an exponential family distribution together with its link
// and variance functions.
type Family struct {
	Name     string
	TypeCode FamilyType
	Link     *Link
	Variance *Variance

	// Dispersion parameter of the negative binomial family.
	Alpha float64

	validLinks []LinkType
}

// NewFamily returns a family object with its canonical link.  The
// negative binomial family requires NewNegBinomFamily.
func NewFamily(fam FamilyType) *Family {
	switch fam {
	case PoissonFamily:
		return NewFamilyWithLink(fam, LogLink)
	case BinomialFamily:
		return NewFamilyWithLink(fam, LogitLink)
	case GaussianFamily:
		return NewFamilyWithLink(fam, IdentityLink)
	case GammaFamily:
		return NewFamilyWithLink(fam, RecipLink)
	case InvGaussianFamily:
		return NewFamilyWithLink(fam, RecipSquaredLink)
	case NegBinomFamily:
		return NewNegBinomFamily(1, nil)
	default:
		msg := fmt.Sprintf("Unknown family: %v\n", fam)
		panic(msg)
	}
}

// NewFamilyWithLink returns a family object using the given link.  It
// panics if the link is not valid for the family.
func NewFamilyWithLink(fam FamilyType, link LinkType) *Family {

	var f *Family
	switch fam {
	case PoissonFamily:
		f = &Family{
			Name:       "Poisson",
			Variance:   NewVariance(IdentityVar),
			validLinks: []LinkType{LogLink, IdentityLink},
		}
	case BinomialFamily:
		f = &Family{
			Name:       "Binomial",
			Variance:   NewVariance(BinomialVar),
			validLinks: []LinkType{LogitLink, LogLink, IdentityLink, CloglogLink},
		}
	case GaussianFamily:
		f = &Family{
			Name:       "Gaussian",
			Variance:   NewVariance(ConstantVar),
			validLinks: []LinkType{IdentityLink, LogLink, RecipLink},
		}
	case GammaFamily:
		f = &Family{
			Name:       "Gamma",
			Variance:   NewVariance(SquaredVar),
			validLinks: []LinkType{RecipLink, LogLink, IdentityLink},
		}
	case InvGaussianFamily:
		f = &Family{
			Name:       "InvGaussian",
			Variance:   NewVariance(CubedVar),
			validLinks: []LinkType{RecipSquaredLink, RecipLink, LogLink, IdentityLink},
		}
	case NegBinomFamily:
		return NewNegBinomFamily(1, NewLink(link))
	default:
		msg := fmt.Sprintf("Unknown family: %v\n", fam)
		panic(msg)
	}

	f.TypeCode = fam
	f.Link = NewLink(link)
	if !f.IsValidLink(f.Link) {
		msg := fmt.Sprintf("Link %s is not valid for family %s\n", f.Link.Name, f.Name)
		panic(msg)
	}

	return f
}

// NewNegBinomFamily returns a negative binomial family with the given
// dispersion parameter.  If link is nil the log link is used.
func NewNegBinomFamily(alpha float64, link *Link) *Family {
	if link == nil {
		link = NewLink(LogLink)
	}
	f := &Family{
		Name:       "NegBinom",
		TypeCode:   NegBinomFamily,
		Link:       link,
		Variance:   NewNegBinomVariance(alpha),
		Alpha:      alpha,
		validLinks: []LinkType{LogLink, IdentityLink},
	}
	if !f.IsValidLink(link) {
		msg := fmt.Sprintf("Link %s is not valid for family %s\n", link.Name, f.Name)
		panic(msg)
	}
	return f
}

// IsValidLink returns true if the link can be used with the family.
func (fam *Family) IsValidLink(link *Link) bool {
	for _, q := range fam.validLinks {
		if link.TypeCode == q {
			return true
		}
	}
	return false
}

// FixedScale returns true for the discrete families, whose scale
// parameter is fixed at 1.
func (fam *Family) FixedScale() bool {
	switch fam.TypeCode {
	case PoissonFamily, BinomialFamily, NegBinomFamily:
		return true
	}
	return false
}

// xlogy returns x*log(y), with the convention that the value is zero
// when x is zero.
func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

// Deviance returns the deviance of the observations y with fitted means
// mn, divided by scale.  The weights may be nil, in which case all
// weights are taken to be 1.
func (fam *Family) Deviance(y, mn, wt []float64, scale float64) float64 {

	var dev float64
	var w float64 = 1
	for i := range y {
		if wt != nil {
			w = wt[i]
		}

		var d float64
		switch fam.TypeCode {
		case GaussianFamily:
			r := y[i] - mn[i]
			d = r * r
		case PoissonFamily:
			d = 2 * (xlogy(y[i], y[i]/mn[i]) - (y[i] - mn[i]))
		case BinomialFamily:
			d = 2 * (xlogy(y[i], y[i]/mn[i]) + xlogy(1-y[i], (1-y[i])/(1-mn[i])))
		case GammaFamily:
			d = 2 * ((y[i]-mn[i])/mn[i] - math.Log(y[i]/mn[i]))
		case InvGaussianFamily:
			r := y[i] - mn[i]
			d = r * r / (y[i] * mn[i] * mn[i])
		case NegBinomFamily:
			a := fam.Alpha
			d = 2 * (xlogy(y[i], y[i]/mn[i]) - (y[i]+1/a)*math.Log((1+a*y[i])/(1+a*mn[i])))
		}
		dev += w * d
	}

	return dev / scale
}

// LogLike returns the log-likelihood of the observations y with means
// mn.  If exact is false, terms not depending on the means are omitted.
func (fam *Family) LogLike(y, mn, wt []float64, scale float64, exact bool) float64 {

	var ll, ws float64
	var w float64 = 1
	for i := range y {
		if wt != nil {
			w = wt[i]
		}
		ws += w

		var v float64
		switch fam.TypeCode {
		case GaussianFamily:
			r := y[i] - mn[i]
			v = -r * r / (2 * scale)
		case PoissonFamily:
			v = xlogy(y[i], mn[i]) - mn[i]
			if exact {
				g, _ := math.Lgamma(y[i] + 1)
				v -= g
			}
		case BinomialFamily:
			v = xlogy(y[i], mn[i]) + xlogy(1-y[i], 1-mn[i])
		case GammaFamily:
			v = -(y[i]/mn[i] + math.Log(mn[i])) / scale
			if exact {
				g, _ := math.Lgamma(1 / scale)
				v -= ((scale-1)*math.Log(y[i]) + math.Log(scale) + scale*g) / scale
			}
		case InvGaussianFamily:
			r := y[i] - mn[i]
			v = -0.5 * r * r / (y[i] * mn[i] * mn[i] * scale)
			if exact {
				v -= 0.5 * math.Log(scale*y[i]*y[i]*y[i])
			}
		case NegBinomFamily:
			a := fam.Alpha
			v = xlogy(y[i], a*mn[i]/(1+a*mn[i])) - math.Log(1+a*mn[i])/a
			if exact {
				c1, _ := math.Lgamma(y[i] + 1/a)
				c2, _ := math.Lgamma(y[i] + 1)
				c3, _ := math.Lgamma(1 / a)
				v += c1 - c2 - c3
			}
		}
		ll += w * v
	}

	switch fam.TypeCode {
	case GaussianFamily:
		ll -= ws * math.Log(2*math.Pi*scale) / 2
	case InvGaussianFamily:
		ll -= 0.5 * ws * math.Log(2*math.Pi)
	}

	return ll
}

// StartingMu places starting values for the fitted means into mn.  The
// values are averaged with the overall mean (or with 1/2 for the
// binomial family), and bounded below by 0.1 for families whose mean
// must be positive.
func (fam *Family) StartingMu(y, mn []float64) {

	var q float64
	if fam.TypeCode == BinomialFamily {
		q = 0.5
	} else {
		for i := range y {
			q += y[i]
		}
		q /= float64(len(y))
	}

	for i := range mn {
		mn[i] = (y[i] + q) / 2
		if fam.TypeCode != GaussianFamily && mn[i] < 0.1 {
			mn[i] = 0.1
		}
	}
}

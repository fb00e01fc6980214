/*
This example fits an additive model with two smooth terms to simulated
data, and plots each estimated smooth with its pointwise 95% confidence
band.

The first covariate has a sinusoidal effect and is smoothed with a
cubic regression spline.  The second has a periodic effect and is
smoothed with a cyclic cubic spline.  The plots are written to
smooth_x1.png and smooth_x2.png.
*/

package main

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/kshedden/mixedmodel/gam"
	"github.com/kshedden/mixedmodel/spline"
	"github.com/kshedden/mixedmodel/statmodel"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

func simulate(n int) statmodel.Dataset {
	rng := rand.New(rand.NewPCG(1, 2))
	icept := make([]float64, n)
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	y := make([]float64, n)
	for i := range y {
		icept[i] = 1
		x1[i] = 4 * rng.Float64()
		x2[i] = rng.Float64()
		y[i] = math.Sin(x1[i]) + math.Cos(2*math.Pi*x2[i]) + 0.5*rng.NormFloat64()
	}
	return statmodel.NewDataset([][]float64{y, icept, x1, x2}, []string{"y", "icept", "x1", "x2"}, "y", []string{"icept"})
}

func smoothPlot(c gam.SmoothComponent, filename string) {

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Smooth of %s", c.Name)
	p.X.Label.Text = c.Name
	p.Y.Label.Text = "Contribution to linear predictor"

	fit := make(plotter.XYs, len(c.X))
	lower := make(plotter.XYs, len(c.X))
	upper := make(plotter.XYs, len(c.X))
	for i := range c.X {
		fit[i].X, fit[i].Y = c.X[i], c.Fit[i]
		lower[i].X, lower[i].Y = c.X[i], c.Lower[i]
		upper[i].X, upper[i].Y = c.X[i], c.Upper[i]
	}

	err := plotutil.AddLines(p, "Fit", fit, "Lower", lower, "Upper", upper)
	if err != nil {
		panic(err)
	}

	err = p.Save(6*vg.Inch, 4*vg.Inch, filename)
	if err != nil {
		panic(err)
	}
}

func main() {

	data := simulate(500)

	var cols [][]float64
	for _, na := range []string{"x1", "x2"} {
		c, err := data.Column(na)
		if err != nil {
			panic(err)
		}
		cols = append(cols, c)
	}
	y, err := data.Y()
	if err != nil {
		panic(err)
	}
	xp, err := data.Matrix(nil)
	if err != nil {
		panic(err)
	}

	s1, err := spline.NewSmooth("x1", cols[0], 10, spline.CR, nil)
	if err != nil {
		panic(err)
	}
	s2, err := spline.NewSmooth("x2", cols[1], 10, spline.CC, nil)
	if err != nil {
		panic(err)
	}

	model, err := gam.NewGAM(y, xp, data.XNames(), append(s1, s2...), nil)
	if err != nil {
		panic(err)
	}

	rslt, err := model.Fit()
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s\n", rslt.Summary())

	for _, c := range rslt.SmoothComponents(200) {
		smoothPlot(c, fmt.Sprintf("smooth_%s.png", c.Name))
	}
}

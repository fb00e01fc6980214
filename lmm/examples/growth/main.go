// This script fits a linear mixed model with a random intercept and
// random slope for each subject to simulated longitudinal data, and a
// Poisson mixed model to simulated counts from the same subjects.

package main

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/kshedden/mixedmodel/family"
	"github.com/kshedden/mixedmodel/lmm"
	"github.com/kshedden/mixedmodel/statmodel"
)

func simulate(nsubj, ntime int) statmodel.Dataset {

	rng := rand.New(rand.NewPCG(42, 7))

	names := []string{"subject", "time", "icept", "y", "count"}
	da := make([][]float64, len(names))

	for s := 0; s < nsubj; s++ {
		u0 := 2 * rng.NormFloat64()
		u1 := 0.3*u0/2 + 0.5*rng.NormFloat64()
		v := 0.4 * rng.NormFloat64()
		for t := 0; t < ntime; t++ {
			tf := float64(t)
			y := 10 + 1.5*tf + u0 + u1*tf + rng.NormFloat64()

			// Poisson draw by inversion
			lam := math.Exp(1 + 0.2*tf + v)
			u := rng.Float64()
			p := math.Exp(-lam)
			c, k := p, 0.0
			for u > c {
				k++
				p *= lam / k
				c += p
			}

			for j, x := range []float64{float64(s), tf, 1, y, k} {
				da[j] = append(da[j], x)
			}
		}
	}

	return statmodel.NewDataset(da, names, "y", []string{"icept", "time"})
}

func main() {

	data := simulate(100, 5)

	subj, ngrp, err := data.Codes("subject")
	if err != nil {
		panic(err)
	}
	x, err := data.Matrix(nil)
	if err != nil {
		panic(err)
	}
	y, err := data.Y()
	if err != nil {
		panic(err)
	}
	fmt.Printf("%d observations on %d subjects\n\n", data.NumObs(), ngrp)

	blocks := []lmm.RandomBlock{{Name: "subject", Groups: subj, Z: x}}

	model, err := lmm.NewLMM(y, x, data.XNames(), blocks, nil)
	if err != nil {
		panic(err)
	}
	result, err := model.Fit()
	if err != nil {
		panic(err)
	}
	fmt.Println(result.Summary())

	count, err := data.Column("count")
	if err != nil {
		panic(err)
	}
	pblocks := []lmm.RandomBlock{{Name: "subject", Groups: subj}}
	pmodel, err := lmm.NewGLMM(count, x, data.XNames(), pblocks, family.NewFamily(family.PoissonFamily), nil)
	if err != nil {
		panic(err)
	}
	presult, err := pmodel.Fit()
	if err != nil {
		panic(err)
	}
	fmt.Println(presult.Summary())
}

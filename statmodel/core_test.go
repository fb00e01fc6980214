package statmodel

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func data1() ([]string, [][]Dtype) {
	x := [][]Dtype{
		{0, 1, 3, 2, 1, 1, 0},
		{1, 1, 1, 1, 1, 1, 1},
		{4, 1, -1, 3, 5, -5, 3},
		{2, 7, 2, 2, 9, 7, 9},
	}
	return []string{"y", "x1", "x2", "g"}, x
}

func TestResult1(t *testing.T) {

	params := []float64{1, -2}
	xnames := []string{"x1", "x2"}
	vcov := []float64{4, 1, 1, 16}
	rslt := NewBaseResults(-3.5, params, xnames, vcov)

	if !floats.Equal(rslt.StdErr(), []float64{2, 4}) {
		t.Fail()
	}
	if !floats.Equal(rslt.ZScores(), []float64{0.5, -0.5}) {
		t.Fail()
	}

	pv := rslt.PValues()
	if math.Abs(pv[0]-0.6170750774519738) > 1e-8 || math.Abs(pv[1]-pv[0]) > 1e-14 {
		t.Fail()
	}

	// t(5) is heavier tailed than the normal
	tp := rslt.TPValues(5)
	if tp[0] <= pv[0] || math.Abs(tp[0]-0.6382988716409296) > 1e-6 {
		t.Errorf("%v", tp)
	}

	if rslt.LogLike() != -3.5 || rslt.Names()[1] != "x2" {
		t.Fail()
	}

	empty := NewBaseResults(0, params, xnames, nil)
	if empty.StdErr() != nil || empty.PValues() != nil {
		t.Fail()
	}
}

func TestVCovFromHessian(t *testing.T) {
	h := mat.NewSymDense(2, []float64{2, 0, 0, 4})
	vc, sing := VCovFromHessian(h, 2)
	if sing || !floats.EqualApprox(vc, []float64{1, 0, 0, 0.5}, 1e-12) {
		t.Fail()
	}

	_, sing = VCovFromHessian(mat.NewSymDense(2, []float64{1, 1, 1, 1}), 1)
	if !sing {
		t.Fail()
	}
}

func TestInfoCriteria(t *testing.T) {
	ic := NewInfoCriteria(100, 3, 50)
	if ic.AIC != 106 {
		t.Fail()
	}
	if math.Abs(ic.AICC-(100+6*50.0/46)) > 1e-12 {
		t.Fail()
	}
	if math.Abs(ic.BIC-(100+3*math.Log(50))) > 1e-12 {
		t.Fail()
	}
	if math.Abs(ic.CAIC-ic.BIC-3) > 1e-12 {
		t.Fail()
	}
}

func TestDataset(t *testing.T) {
	names, da := data1()
	ds := NewDataset(da, names, "y", []string{"x1", "x2"})

	if ds.NumObs() != 7 {
		t.Fail()
	}

	y, err := ds.Y()
	if err != nil || y[2] != 3 {
		t.Fail()
	}

	x, err := ds.Matrix(nil)
	if err != nil {
		t.Fatal(err)
	}
	r, c := x.Dims()
	if r != 7 || c != 2 || x.At(4, 1) != 5 {
		t.Fail()
	}

	if _, err := ds.Column("z"); err == nil {
		t.Fail()
	}

	codes, ng, err := ds.Codes("g")
	if err != nil {
		t.Fatal(err)
	}
	if ng != 3 {
		t.Fail()
	}
	want := []int{0, 1, 0, 0, 2, 1, 2}
	for i := range want {
		if codes[i] != want[i] {
			t.Fail()
		}
	}
}

func TestSummaryTable(t *testing.T) {
	rslt := NewBaseResults(0, []float64{1, -2}, []string{"x1", "x2"}, []float64{4, 1, 1, 16})
	tab := ParamTable("Test model", []string{"Nobs:  7", "Scale: 1"}, rslt.Names(), rslt.Params(),
		rslt.StdErr(), rslt.ZScores(), rslt.PValues(), "Z")
	s := tab.String()

	for _, w := range []string{"Test model", "x1", "x2", "P>|z|", "0.5000", "-2.0000", "Nobs:  7"} {
		if !strings.Contains(s, w) {
			t.Errorf("missing %q in\n%s", w, s)
		}
	}
}

func TestResultsTable(t *testing.T) {
	rslt := NewBaseResults(0, []float64{1, -2}, []string{"x1", "x2"}, []float64{4, 1, 1, 16})
	var br BaseResultser = &rslt

	s := ResultsTable("Test model", nil, br, nil, "Z").String()
	if s != ParamTable("Test model", nil, rslt.Names(), rslt.Params(), rslt.StdErr(),
		rslt.ZScores(), rslt.PValues(), "Z").String() {
		t.Errorf("unexpected table\n%s", s)
	}

	// Student t p-values are larger than normal p-values.
	tp := rslt.TPValues(3)
	s = ResultsTable("Test model", nil, br, tp, "t").String()
	if !strings.Contains(s, fmt.Sprintf("%10.4f", tp[1])) || !strings.Contains(s, "P>|t|") {
		t.Errorf("missing t p-value in\n%s", s)
	}
	if tp[1] <= rslt.PValues()[1] {
		t.Fail()
	}
}

package statmodel

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Dataset is a collection of named data columns of equal length, with
// one column designated as the response and some columns designated as
// covariates.
type Dataset struct {
	data     [][]Dtype
	varnames []string
	yname    string
	xnames   []string
}

// NewDataset returns a Dataset using the given columns.  The data are
// not copied.
func NewDataset(data [][]Dtype, varnames []string, yname string, xnames []string) Dataset {

	if len(data) != len(varnames) {
		msg := fmt.Sprintf("NewDataset: %d columns but %d names\n", len(data), len(varnames))
		panic(msg)
	}
	for j := range data {
		if len(data[j]) != len(data[0]) {
			msg := fmt.Sprintf("NewDataset: column %s has length %d, expected %d\n",
				varnames[j], len(data[j]), len(data[0]))
			panic(msg)
		}
	}

	return Dataset{
		data:     data,
		varnames: varnames,
		yname:    yname,
		xnames:   xnames,
	}
}

// Data returns all columns of the dataset.
func (ds Dataset) Data() [][]Dtype {
	return ds.data
}

// Names returns the names of all columns of the dataset.
func (ds Dataset) Names() []string {
	return ds.varnames
}

// YName returns the name of the response variable.
func (ds Dataset) YName() string {
	return ds.yname
}

// XNames returns the names of the covariates.
func (ds Dataset) XNames() []string {
	return ds.xnames
}

// NumObs returns the number of observations.
func (ds Dataset) NumObs() int {
	if len(ds.data) == 0 {
		return 0
	}
	return len(ds.data[0])
}

// Column returns the column with the given name.
func (ds Dataset) Column(name string) ([]Dtype, error) {
	for j, na := range ds.varnames {
		if na == name {
			return ds.data[j], nil
		}
	}
	return nil, fmt.Errorf("statmodel: variable %q not in dataset", name)
}

// Y returns the response variable.
func (ds Dataset) Y() ([]Dtype, error) {
	return ds.Column(ds.yname)
}

// Matrix returns the named columns as an n x len(names) dense matrix.
// If names is nil the covariates are used.
func (ds Dataset) Matrix(names []string) (*mat.Dense, error) {
	if names == nil {
		names = ds.xnames
	}
	n := ds.NumObs()
	x := mat.NewDense(n, len(names), nil)
	for j, na := range names {
		c, err := ds.Column(na)
		if err != nil {
			return nil, err
		}
		x.SetCol(j, c)
	}
	return x, nil
}

// Codes returns the named column recoded to consecutive integer labels
// 0, 1, ..., in increasing order of the distinct values, along with the
// number of distinct values.
func (ds Dataset) Codes(name string) ([]int, int, error) {
	c, err := ds.Column(name)
	if err != nil {
		return nil, 0, err
	}

	u := make([]float64, len(c))
	copy(u, c)
	sort.Float64s(u)
	lev := make(map[float64]int)
	for _, v := range u {
		if _, ok := lev[v]; !ok {
			lev[v] = len(lev)
		}
	}

	codes := make([]int, len(c))
	for i, v := range c {
		codes[i] = lev[v]
	}

	return codes, len(lev), nil
}

package lmm

import (
	"fmt"
	"sort"

	"github.com/kshedden/mixedmodel/linalg"
	"gonum.org/v1/gonum/mat"
)

// RandomBlock specifies the random effects of one grouping factor.  Each
// observation belongs to the group Groups[i], and the random effects of
// a group multiply the columns of Z.  If Z is nil, the block is a random
// intercept.
type RandomBlock struct {
	Name   string
	Groups []int
	Z      *mat.Dense
}

// recode maps the distinct values of g to 0, 1, ... in increasing order.
func recode(g []int) ([]int, int) {
	m := make(map[int]int)
	for _, v := range g {
		m[v] = 0
	}
	levels := make([]int, 0, len(m))
	for k := range m {
		levels = append(levels, k)
	}
	sort.Ints(levels)
	for i, k := range levels {
		m[k] = i
	}
	codes := make([]int, len(g))
	for i, v := range g {
		codes[i] = m[v]
	}
	return codes, len(levels)
}

// randomDesign builds the random effects design matrix as the
// horizontal concatenation of the row-wise Kronecker products of the
// group indicators with the random-effect covariates of each block.
func randomDesign(n int, blocks []RandomBlock) (*linalg.CSC, []GroupDims, error) {

	var zs []*linalg.CSC
	var dims []GroupDims
	for _, b := range blocks {
		if len(b.Groups) != n {
			return nil, nil, fmt.Errorf("lmm: block %s has %d group labels, expected %d", b.Name, len(b.Groups), n)
		}
		codes, ng := recode(b.Groups)
		j := linalg.Dummy(codes, ng)

		x := b.Z
		if x == nil {
			x = mat.NewDense(n, 1, nil)
			for i := 0; i < n; i++ {
				x.Set(i, 0, 1)
			}
		}

		z, err := linalg.KhatriRao(j, x)
		if err != nil {
			return nil, nil, fmt.Errorf("lmm: block %s: %w", b.Name, err)
		}
		_, nv := x.Dims()
		zs = append(zs, z)
		dims = append(dims, GroupDims{Name: b.Name, NGroups: ng, NVars: nv})
	}

	z, err := linalg.HStack(zs...)
	if err != nil {
		return nil, nil, err
	}

	return z, dims, nil
}

package linalg

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// CSC is a sparse matrix in compressed sparse column format.  Column j
// holds the entries data[colptr[j]:colptr[j+1]], with row positions
// rowind[colptr[j]:colptr[j+1]] in increasing order.
type CSC struct {
	rows, cols int
	colptr     []int
	rowind     []int
	data       []float64
}

var _ mat.Matrix = (*CSC)(nil)

// NewCSC returns a CSC matrix built from the given raw arrays, which
// are used without copying.
func NewCSC(r, c int, colptr, rowind []int, data []float64) (*CSC, error) {
	if len(colptr) != c+1 || len(rowind) != len(data) || colptr[c] != len(data) {
		return nil, fmt.Errorf("%w: inconsistent CSC arrays", ErrDimension)
	}
	for j := 0; j < c; j++ {
		for k := colptr[j]; k < colptr[j+1]; k++ {
			if rowind[k] < 0 || rowind[k] >= r {
				return nil, fmt.Errorf("%w: row index %d out of range", ErrDimension, rowind[k])
			}
			if k > colptr[j] && rowind[k] <= rowind[k-1] {
				return nil, fmt.Errorf("%w: row indices not increasing in column %d", ErrDimension, j)
			}
		}
	}
	return &CSC{rows: r, cols: c, colptr: colptr, rowind: rowind, data: data}, nil
}

type triplet struct {
	i, j int
	v    float64
}

// FromTriplets returns an r x c CSC matrix with entry vals[k] at position
// (rows[k], cols[k]).  Duplicate positions are summed.
func FromTriplets(r, c int, rows, cols []int, vals []float64) *CSC {
	if len(rows) != len(cols) || len(rows) != len(vals) {
		panic(fmt.Sprintf("FromTriplets: lengths %d, %d, %d differ\n", len(rows), len(cols), len(vals)))
	}

	tr := make([]triplet, len(rows))
	for k := range rows {
		if rows[k] < 0 || rows[k] >= r || cols[k] < 0 || cols[k] >= c {
			panic(fmt.Sprintf("FromTriplets: position (%d, %d) outside %d x %d\n", rows[k], cols[k], r, c))
		}
		tr[k] = triplet{rows[k], cols[k], vals[k]}
	}
	sort.Slice(tr, func(a, b int) bool {
		if tr[a].j != tr[b].j {
			return tr[a].j < tr[b].j
		}
		return tr[a].i < tr[b].i
	})

	colptr := make([]int, c+1)
	var rowind []int
	var data []float64
	for k, t := range tr {
		if k > 0 && t.i == tr[k-1].i && t.j == tr[k-1].j {
			data[len(data)-1] += t.v
			continue
		}
		rowind = append(rowind, t.i)
		data = append(data, t.v)
		colptr[t.j+1]++
	}
	for j := 0; j < c; j++ {
		colptr[j+1] += colptr[j]
	}

	return &CSC{rows: r, cols: c, colptr: colptr, rowind: rowind, data: data}
}

// Dims returns the dimensions of the matrix.
func (s *CSC) Dims() (int, int) {
	return s.rows, s.cols
}

// At returns the value at position (i, j).
func (s *CSC) At(i, j int) float64 {
	if i < 0 || i >= s.rows || j < 0 || j >= s.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	ri := s.rowind[s.colptr[j]:s.colptr[j+1]]
	k := sort.SearchInts(ri, i)
	if k < len(ri) && ri[k] == i {
		return s.data[s.colptr[j]+k]
	}
	return 0
}

// T returns the implicit transpose.
func (s *CSC) T() mat.Matrix {
	return mat.Transpose{Matrix: s}
}

// NNZ returns the number of stored entries.
func (s *CSC) NNZ() int {
	return len(s.data)
}

// Data returns the stored values.  Changing the returned slice changes
// the matrix.
func (s *CSC) Data() []float64 {
	return s.data
}

// Do calls fn for every stored entry.
func (s *CSC) Do(fn func(i, j int, v float64)) {
	for j := 0; j < s.cols; j++ {
		for k := s.colptr[j]; k < s.colptr[j+1]; k++ {
			fn(s.rowind[k], j, s.data[k])
		}
	}
}

// DoCol calls fn for every stored entry of column j.
func (s *CSC) DoCol(j int, fn func(i int, v float64)) {
	for k := s.colptr[j]; k < s.colptr[j+1]; k++ {
		fn(s.rowind[k], s.data[k])
	}
}

// MulVec returns s*x.
func (s *CSC) MulVec(x []float64) []float64 {
	if len(x) != s.cols {
		panic(fmt.Sprintf("MulVec: length %d != %d\n", len(x), s.cols))
	}
	y := make([]float64, s.rows)
	s.MulVecTo(y, x)
	return y
}

// MulVecTo places s*x into dst, which is overwritten.
func (s *CSC) MulVecTo(dst, x []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for j := 0; j < s.cols; j++ {
		xj := x[j]
		if xj == 0 {
			continue
		}
		for k := s.colptr[j]; k < s.colptr[j+1]; k++ {
			dst[s.rowind[k]] += s.data[k] * xj
		}
	}
}

// TMulVec returns s^T*x.
func (s *CSC) TMulVec(x []float64) []float64 {
	if len(x) != s.rows {
		panic(fmt.Sprintf("TMulVec: length %d != %d\n", len(x), s.rows))
	}
	y := make([]float64, s.cols)
	for j := 0; j < s.cols; j++ {
		var u float64
		for k := s.colptr[j]; k < s.colptr[j+1]; k++ {
			u += s.data[k] * x[s.rowind[k]]
		}
		y[j] = u
	}
	return y
}

// MulDense returns s*b.
func (s *CSC) MulDense(b mat.Matrix) *mat.Dense {
	br, bc := b.Dims()
	if br != s.cols {
		panic(mat.ErrShape)
	}
	y := mat.NewDense(s.rows, bc, nil)
	for j := 0; j < s.cols; j++ {
		for k := s.colptr[j]; k < s.colptr[j+1]; k++ {
			i, v := s.rowind[k], s.data[k]
			for l := 0; l < bc; l++ {
				y.Set(i, l, y.At(i, l)+v*b.At(j, l))
			}
		}
	}
	return y
}

// TMulDense returns s^T * diag(w) * b.  If w is nil it is taken to be
// all ones.
func (s *CSC) TMulDense(w []float64, b mat.Matrix) *mat.Dense {
	br, bc := b.Dims()
	if br != s.rows {
		panic(mat.ErrShape)
	}
	y := mat.NewDense(s.cols, bc, nil)
	for j := 0; j < s.cols; j++ {
		for k := s.colptr[j]; k < s.colptr[j+1]; k++ {
			i, v := s.rowind[k], s.data[k]
			if w != nil {
				v *= w[i]
			}
			for l := 0; l < bc; l++ {
				y.Set(j, l, y.At(j, l)+v*b.At(i, l))
			}
		}
	}
	return y
}

// rowLists returns, for each row, the columns and values stored in it.
func (s *CSC) rowLists() ([][]int, [][]float64) {
	ci := make([][]int, s.rows)
	cv := make([][]float64, s.rows)
	s.Do(func(i, j int, v float64) {
		ci[i] = append(ci[i], j)
		cv[i] = append(cv[i], v)
	})
	return ci, cv
}

// Gram returns s^T * diag(w) * s as a dense symmetric matrix.  If w is
// nil it is taken to be all ones.
func (s *CSC) Gram(w []float64) *mat.SymDense {
	g := mat.NewSymDense(s.cols, nil)
	ci, cv := s.rowLists()
	for i := range ci {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		for a, ja := range ci[i] {
			for b := 0; b <= a; b++ {
				jb := ci[i][b]
				g.SetSym(ja, jb, g.At(ja, jb)+wi*cv[i][a]*cv[i][b])
			}
		}
	}
	return g
}

// ScaleRows returns a copy of s with row i multiplied by w[i].
func (s *CSC) ScaleRows(w []float64) *CSC {
	if len(w) != s.rows {
		panic(fmt.Sprintf("ScaleRows: length %d != %d\n", len(w), s.rows))
	}
	data := make([]float64, len(s.data))
	for k, v := range s.data {
		data[k] = v * w[s.rowind[k]]
	}
	return &CSC{rows: s.rows, cols: s.cols, colptr: s.colptr, rowind: s.rowind, data: data}
}

// ToDense returns a dense copy of s.
func (s *CSC) ToDense() *mat.Dense {
	d := mat.NewDense(s.rows, s.cols, nil)
	s.Do(func(i, j int, v float64) {
		d.Set(i, j, v)
	})
	return d
}

// TraceMul returns the trace of s*a, where a is dense and the product is
// square.  Only the stored entries of s are visited.
func (s *CSC) TraceMul(a mat.Matrix) float64 {
	ar, ac := a.Dims()
	if ar != s.cols || ac != s.rows {
		panic(mat.ErrShape)
	}
	var t float64
	s.Do(func(i, j int, v float64) {
		t += v * a.At(j, i)
	})
	return t
}

// Dummy returns the n x ngroups indicator matrix of the group codes,
// which must lie in 0..ngroups-1.
func Dummy(codes []int, ngroups int) *CSC {
	n := len(codes)
	rows := make([]int, n)
	cols := make([]int, n)
	vals := make([]float64, n)
	for i, g := range codes {
		rows[i] = i
		cols[i] = g
		vals[i] = 1
	}
	return FromTriplets(n, ngroups, rows, cols, vals)
}

// KhatriRao returns the row-wise Kronecker product of j (n x g) and x
// (n x m).  Row i of the result is kron(j[i, :], x[i, :]), so column
// a*m+b of the result is the elementwise product of column a of j and
// column b of x.  Exact zeros in x are not stored.
func KhatriRao(j *CSC, x mat.Matrix) (*CSC, error) {
	n, g := j.Dims()
	xr, m := x.Dims()
	if xr != n {
		return nil, fmt.Errorf("%w: Khatri-Rao rows %d != %d", ErrDimension, n, xr)
	}

	var rows, cols []int
	var vals []float64
	for a := 0; a < g; a++ {
		j.DoCol(a, func(i int, v float64) {
			for b := 0; b < m; b++ {
				u := v * x.At(i, b)
				if u == 0 {
					continue
				}
				rows = append(rows, i)
				cols = append(cols, a*m+b)
				vals = append(vals, u)
			}
		})
	}

	return FromTriplets(n, g*m, rows, cols, vals), nil
}

// HStack concatenates sparse matrices with the same number of rows.
func HStack(mats ...*CSC) (*CSC, error) {
	if len(mats) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrDimension)
	}
	r := mats[0].rows
	var c int
	colptr := []int{0}
	var rowind []int
	var data []float64
	for _, s := range mats {
		if s.rows != r {
			return nil, fmt.Errorf("%w: HStack rows %d != %d", ErrDimension, s.rows, r)
		}
		off := len(data)
		for j := 1; j <= s.cols; j++ {
			colptr = append(colptr, off+s.colptr[j])
		}
		rowind = append(rowind, s.rowind...)
		data = append(data, s.data...)
		c += s.cols
	}
	return &CSC{rows: r, cols: c, colptr: colptr, rowind: rowind, data: data}, nil
}

package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// block describes one run of identical square blocks on the diagonal.
type block struct {
	size  int // side length of each block
	count int // number of repeats
	start int // first position in the CSC data array
	off   int // first row/column of the run
}

// BlockDiag is a sparse block diagonal matrix made of runs of repeated
// square blocks.  Every block in run k holds the same values, which are
// replaced in place by SetBlock without rebuilding the sparsity structure.
type BlockDiag struct {
	*CSC
	blocks []block
}

// NewBlockDiag returns a block diagonal matrix with count[k] copies of a
// size[k] x size[k] block for each run k.  All stored values are zero.
func NewBlockDiag(size, count []int) *BlockDiag {
	if len(size) != len(count) {
		panic(fmt.Sprintf("NewBlockDiag: %d sizes but %d counts\n", len(size), len(count)))
	}

	var q, nnz int
	for k := range size {
		q += size[k] * count[k]
		nnz += size[k] * size[k] * count[k]
	}

	colptr := make([]int, 0, q+1)
	colptr = append(colptr, 0)
	rowind := make([]int, 0, nnz)
	blocks := make([]block, len(size))

	var off int
	for k := range size {
		blocks[k] = block{size: size[k], count: count[k], start: len(rowind), off: off}
		for g := 0; g < count[k]; g++ {
			for j := 0; j < size[k]; j++ {
				for i := 0; i < size[k]; i++ {
					rowind = append(rowind, off+i)
				}
				colptr = append(colptr, len(rowind))
			}
			off += size[k]
		}
	}

	s := &CSC{rows: q, cols: q, colptr: colptr, rowind: rowind, data: make([]float64, nnz)}
	return &BlockDiag{CSC: s, blocks: blocks}
}

// NumRuns returns the number of runs of repeated blocks.
func (b *BlockDiag) NumRuns() int {
	return len(b.blocks)
}

// Span returns the half-open range of data positions holding run k.
// Within the range, each block occupies size*size consecutive entries
// in column-major order.
func (b *BlockDiag) Span(k int) (int, int) {
	bl := b.blocks[k]
	return bl.start, bl.start + bl.count*bl.size*bl.size
}

// Offset returns the first row (and column) of run k.
func (b *BlockDiag) Offset(k int) int {
	return b.blocks[k].off
}

// SetBlock writes m into every block of run k.
func (b *BlockDiag) SetBlock(k int, m mat.Matrix) {
	bl := b.blocks[k]
	r, c := m.Dims()
	if r != bl.size || c != bl.size {
		panic(fmt.Sprintf("SetBlock: block is %d x %d, expected %d x %d\n", r, c, bl.size, bl.size))
	}
	v := Vec(m)
	lo, hi := b.Span(k)
	for i := lo; i < hi; i += len(v) {
		copy(b.data[i:i+len(v)], v)
	}
}

// SymmetricDim returns the side length of the matrix.  A BlockDiag
// whose blocks are symmetric satisfies mat.Symmetric.
func (b *BlockDiag) SymmetricDim() int {
	return b.rows
}

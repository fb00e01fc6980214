/*
Package linalg contains the matrix utilities shared by the mixed model,
additive model and structural equation model packages.

The half-vectorization convention used throughout is column-major over
the lower triangle: for a 3x3 symmetric matrix the packed order is
a00, a10, a20, a11, a21, a22.  The same convention is used for packed
lower Cholesky factors.

CSC is a compressed sparse column matrix that satisfies mat.Matrix, so
it can be mixed freely with dense gonum matrices.  It is used for the
random effects design matrix and the block diagonal random effects
covariance.
*/
package linalg

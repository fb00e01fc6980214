/*
Package lmm fits linear mixed models with crossed or nested grouping
factors by restricted (REML) or full maximum likelihood, and
generalized linear mixed models by penalized quasi-likelihood (PQL).

The model is

	y = X b + Z u + e,  u ~ N(0, G),  e ~ N(0, R),

where G is block diagonal with one covariance matrix per grouping
factor replicated over the groups of that factor, and R = s2 * diag(w^2)
for optional observation weights w.  The covariance parameter vector
theta holds, for each grouping factor, the half-vectorization of its
covariance matrix, followed by the residual variance s2.

All likelihood calculations are carried out through the mixed model
equations, so no n x n matrix is ever formed.  The objective functions
follow the -2 * log-likelihood convention, with the constant omitted.
*/
package lmm

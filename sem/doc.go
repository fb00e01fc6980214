/*
Package sem fits linear structural equation models to a sample
covariance matrix by maximum likelihood.

The model for the p observed variables is

	Sigma = Lambda (I - B)^-1 Phi (I - B)^-T Lambda^T + Psi,

where Lambda (p x k) holds the factor loadings, B (k x k) the
structural paths among the k latent variables, Phi the covariance of
the latent disturbances and Psi the covariance of the measurement
errors.  Each of the four matrices is given as a template.  The nonzero
entries of a template are free parameters, started at the template
value, and the remaining entries are fixed at zero.  Only the lower
triangles of the symmetric templates Phi and Psi are inspected.

The fitting criterion is the discrepancy

	F = log|Sigma| + tr(S Sigma^-1),

whose gradient and Hessian are computed analytically.
*/
package sem

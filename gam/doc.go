/*
Package gam fits generalized additive models with penalized regression
spline smooths.

For fixed smoothing parameters the coefficients are estimated by
penalized iteratively reweighted least squares (PIRLS).  The log
smoothing parameters and the log scale are estimated by maximizing the
Laplace approximate restricted likelihood (REML), for which the
gradient and Hessian are available analytically.  Non-Gaussian families
use performance iteration: each outer step runs PIRLS, and the REML
criterion of the resulting working linear model is optimized.

The posterior covariance of the coefficients is available both
conditionally on the smoothing parameters (Vb) and corrected for
smoothing parameter uncertainty (Vc).
*/
package gam

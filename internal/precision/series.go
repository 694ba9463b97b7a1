package precision

import (
	"math"
	"math/cmplx"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// deriveSeries iterates the mandelbrot orbit symbolically as a truncated
// polynomial in the unknown initial delta: coefficients a_k of delta0^k
// follow the recurrence of delta' = 2*X*delta + delta^2 + delta0. It stops
// accumulating once the highest-order term, evaluated at the largest initial
// delta any frame pixel can have, would no longer be negligible against the
// linear term - the "valid-until" iteration. Per-pixel iteration can then
// start at SkipIteration instead of zero.
//
// Only the mandelbrot recurrence is implemented; other formulas get a zero
// skip and still render correctly, just without the shortcut.
func deriveSeries(orbit *fractal.ReferenceOrbit, order int, deltaMax, tolerance float64) *fractal.SeriesCoefficients {
	if orbit.Formula != fractal.FormulaMandelbrot || order <= 0 || deltaMax <= 0 {
		return &fractal.SeriesCoefficients{}
	}

	coeffs := make([]complex128, order) // coeffs[k] multiplies delta0^(k+1)
	next := make([]complex128, order)
	skip := 0

	for n := 0; n+1 < len(orbit.Values); n++ {
		x := orbit.Values[n]

		for k := 0; k < order; k++ {
			// Quadratic term: coefficients of (sum a_i delta0^i)^2 at degree k+1.
			var conv complex128
			for i := 1; i <= k; i++ {
				j := k + 1 - i
				if j >= 1 && j <= order {
					conv += coeffs[i-1] * coeffs[j-1]
				}
			}
			next[k] = 2*x*coeffs[k] + conv
		}
		next[0] += 1 // the +delta0 term

		// Validity bound: the top term must stay below tolerance of the
		// linear term at the worst-case initial delta.
		linear := cmplx.Abs(next[0]) * deltaMax
		top := cmplx.Abs(next[order-1]) * math.Pow(deltaMax, float64(order))
		if linear == 0 || top > tolerance*linear {
			break
		}

		copy(coeffs, next)
		skip = n + 1
	}

	if skip == 0 {
		return &fractal.SeriesCoefficients{}
	}
	out := make([]complex128, order)
	copy(out, coeffs)
	return &fractal.SeriesCoefficients{Coefficients: out, SkipIteration: skip}
}

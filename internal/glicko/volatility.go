package glicko

import (
	"math"

	"github.com/rotisserie/eris"
)

const (
	Tolerance     = 1e-6
	MaxIterations = 100
)

// Solve finds the new volatility sigma' with the Illinois variant of
// regula falsi (step 5 of the paper). Bracketing and refinement share the
// iteration budget; exceeding it returns ErrConvergence.
func Solve(tau, delta, variance, phi, sigma float64) (float64, int, error) {
	if tau <= 0 || variance <= 0 || sigma <= 0 || math.IsNaN(delta) {
		return 0, 0, eris.Wrapf(ErrInvalidRatingPeriod,
			"invalid volatility inputs tau=%v v=%v sigma=%v delta=%v", tau, variance, sigma, delta)
	}

	a := math.Log(sigma * sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		d := phi*phi + variance + ex
		return ex*(delta*delta-phi*phi-variance-ex)/(2*d*d) - (x-a)/(tau*tau)
	}

	iterations := 0
	A := a
	var B float64
	if delta*delta > phi*phi+variance {
		B = math.Log(delta*delta - phi*phi - variance)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			iterations++
			if iterations >= MaxIterations {
				return 0, iterations, eris.Wrapf(ErrConvergence, "no bracket after %d steps", iterations)
			}
			k++
		}
		B = a - k*tau
	}

	fA, fB := f(A), f(B)
	for math.Abs(B-A) > Tolerance {
		iterations++
		if iterations > MaxIterations {
			return 0, iterations, eris.Wrapf(ErrConvergence, "|B-A|=%g after %d iterations", math.Abs(B-A), MaxIterations)
		}
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			return 0, iterations, eris.Wrapf(ErrConvergence, "f(%g) is not finite", C)
		}
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}

	return math.Exp(A / 2), iterations, nil
}

package glicko

import "github.com/rotisserie/eris"

var (
	// ErrInvalidRatingPeriod means the caller passed a malformed participant set.
	ErrInvalidRatingPeriod = eris.New("invalid rating period")
	// ErrConvergence means the volatility root-find did not settle within MaxIterations.
	ErrConvergence = eris.New("volatility did not converge")
)

package balance

import "github.com/rotisserie/eris"

var (
	ErrInsufficientPlayers = eris.New("insufficient players")
	ErrInvalidRole         = eris.New("invalid preferred role")
)

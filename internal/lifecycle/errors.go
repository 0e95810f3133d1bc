package lifecycle

import (
	"cama-shuffle/internal/balance"

	"github.com/rotisserie/eris"
)

var (
	ErrMatchInProgress      = eris.New("match already in progress")
	ErrMatchAlreadyResolved = eris.New("match already resolved")
	ErrNoActiveMatch        = eris.New("no active match")

	// ErrInsufficientPlayers is shared with the balancer so either source
	// matches errors.Is.
	ErrInsufficientPlayers = balance.ErrInsufficientPlayers

	ErrLobbyFull      = eris.New("lobby is full")
	ErrAlreadyInLobby = eris.New("player already in lobby")
	ErrNotInLobby     = eris.New("player not in lobby")

	ErrInvalidOutcome  = eris.New("invalid outcome")
	ErrConflictingVote = eris.New("already voted for a different outcome")
)

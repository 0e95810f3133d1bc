package server

import (
	"context"
	"errors"
	"fmt"

	"cama-shuffle/internal/balance"
	"cama-shuffle/internal/lifecycle"
	"cama-shuffle/internal/middleware"
	"cama-shuffle/internal/repository"
	"cama-shuffle/internal/service"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

var errorCodes = []struct {
	err  error
	code connect.Code
}{
	{service.ErrInvalidInput, connect.CodeInvalidArgument},
	{balance.ErrInvalidRole, connect.CodeInvalidArgument},
	{lifecycle.ErrInvalidOutcome, connect.CodeInvalidArgument},
	{repository.ErrPlayerNotFound, connect.CodeNotFound},
	{repository.ErrMatchNotFound, connect.CodeNotFound},
	{lifecycle.ErrNoActiveMatch, connect.CodeNotFound},
	{repository.ErrPlayerExists, connect.CodeAlreadyExists},
	{repository.ErrVoteExists, connect.CodeAlreadyExists},
	{lifecycle.ErrAlreadyInLobby, connect.CodeAlreadyExists},
	{lifecycle.ErrLobbyFull, connect.CodeResourceExhausted},
	{lifecycle.ErrMatchInProgress, connect.CodeFailedPrecondition},
	{lifecycle.ErrMatchAlreadyResolved, connect.CodeFailedPrecondition},
	{lifecycle.ErrInsufficientPlayers, connect.CodeFailedPrecondition},
	{lifecycle.ErrNotInLobby, connect.CodeFailedPrecondition},
	{lifecycle.ErrConflictingVote, connect.CodeFailedPrecondition},
	{context.DeadlineExceeded, connect.CodeDeadlineExceeded},
	{context.Canceled, connect.CodeCanceled},
}

// toConnectError maps domain errors onto Connect codes. Anything unknown is
// logged and reported as internal; the client only gets the request id to
// quote.
func toConnectError(ctx context.Context, err error) error {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return connect.NewError(e.code, err)
		}
	}
	zerolog.Ctx(ctx).Error().Err(err).Msg("request failed")
	return connect.NewError(connect.CodeInternal, fmt.Errorf("internal error (request %s)", middleware.GetRequestID(ctx)))
}

func invalidArgument(msg string) error {
	return connect.NewError(connect.CodeInvalidArgument, errors.New(msg))
}

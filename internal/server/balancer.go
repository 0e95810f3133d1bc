package server

import (
	"context"
	"strings"

	"cama-shuffle/internal/lifecycle"
	"cama-shuffle/internal/service"

	"connectrpc.com/connect"
)

type BalancerServer struct {
	playerSvc *service.PlayerService
	matchSvc  *service.MatchService
}

func NewBalancerServer(playerSvc *service.PlayerService, matchSvc *service.MatchService) *BalancerServer {
	return &BalancerServer{playerSvc: playerSvc, matchSvc: matchSvc}
}

func (s *BalancerServer) RegisterPlayer(ctx context.Context, req *connect.Request[RegisterPlayerRequest]) (*connect.Response[PlayerResponse], error) {
	player, err := s.playerSvc.Register(ctx, service.RegisterInput{
		ID:          req.Msg.PlayerID,
		DisplayName: req.Msg.DisplayName,
		SteamID:     req.Msg.SteamID,
		Roles:       req.Msg.Roles,
	})
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&PlayerResponse{Player: toPlayer(player)}), nil
}

func (s *BalancerServer) SetRoles(ctx context.Context, req *connect.Request[SetRolesRequest]) (*connect.Response[PlayerResponse], error) {
	player, err := s.playerSvc.SetRoles(ctx, req.Msg.PlayerID, req.Msg.Roles)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&PlayerResponse{Player: toPlayer(player)}), nil
}

func (s *BalancerServer) GetPlayer(ctx context.Context, req *connect.Request[GetPlayerRequest]) (*connect.Response[PlayerResponse], error) {
	player, err := s.playerSvc.Get(ctx, req.Msg.PlayerID)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&PlayerResponse{Player: toPlayer(player)}), nil
}

func (s *BalancerServer) GetRatingHistory(ctx context.Context, req *connect.Request[GetRatingHistoryRequest]) (*connect.Response[RatingHistoryResponse], error) {
	history, err := s.playerSvc.RatingHistory(ctx, req.Msg.PlayerID, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}

	resp := &RatingHistoryResponse{History: make([]RatingChange, len(history))}
	for i, h := range history {
		resp.History[i] = RatingChange{
			MatchID:       h.MatchID,
			OldRating:     h.OldRating,
			NewRating:     h.NewRating,
			OldRD:         h.OldRD,
			NewRD:         h.NewRD,
			OldVolatility: h.OldVolatility,
			NewVolatility: h.NewVolatility,
			CreatedAt:     h.CreatedAt,
		}
	}
	return connect.NewResponse(resp), nil
}

func (s *BalancerServer) SyncMMR(ctx context.Context, _ *connect.Request[SyncMMRRequest]) (*connect.Response[SyncMMRResponse], error) {
	n, err := s.playerSvc.SyncMMR(ctx)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&SyncMMRResponse{Seeded: n}), nil
}

func (s *BalancerServer) JoinLobby(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[LobbyResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	n, err := s.matchSvc.Join(ctx, scope, req.Msg.PlayerID)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return s.lobbySize(ctx, scope, n)
}

func (s *BalancerServer) LeaveLobby(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[LobbyResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	n, err := s.matchSvc.Leave(scope, req.Msg.PlayerID)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return s.lobbySize(ctx, scope, n)
}

func (s *BalancerServer) lobbySize(ctx context.Context, scope string, n int) (*connect.Response[LobbyResponse], error) {
	view, err := s.matchSvc.Lobby(ctx, scope)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&LobbyResponse{
		Scope:     scope,
		State:     view.State,
		Size:      n,
		Ready:     view.Ready,
		Threshold: view.Threshold,
	}), nil
}

func (s *BalancerServer) ResetLobby(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[LobbyResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	s.matchSvc.ResetLobby(scope)
	return s.lobbySize(ctx, scope, 0)
}

func (s *BalancerServer) GetLobby(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[LobbyResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	view, err := s.matchSvc.Lobby(ctx, scope)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(toLobby(scope, view)), nil
}

func (s *BalancerServer) Shuffle(ctx context.Context, req *connect.Request[ShuffleRequest]) (*connect.Response[MatchResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	record, err := s.matchSvc.Shuffle(ctx, scope)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(toMatch(record)), nil
}

func (s *BalancerServer) SubmitResult(ctx context.Context, req *connect.Request[SubmitResultRequest]) (*connect.Response[SubmitResultResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Msg.VoterID) == "" {
		return nil, invalidArgument("voter_id is required")
	}
	result, err := s.matchSvc.SubmitResult(ctx, scope, req.Msg.VoterID, req.Msg.Outcome)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&SubmitResultResponse{
		Tally:   result.Tally,
		Decided: result.Decided,
		Match:   result.Record,
	}), nil
}

func (s *BalancerServer) RecordMatch(ctx context.Context, req *connect.Request[RecordMatchRequest]) (*connect.Response[MatchResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	record, err := s.matchSvc.Record(ctx, scope, req.Msg.MatchID, req.Msg.Winner)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(toMatch(record)), nil
}

func (s *BalancerServer) AbortMatch(ctx context.Context, req *connect.Request[MatchRequest]) (*connect.Response[MatchResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	record, err := s.matchSvc.Abort(ctx, scope, req.Msg.MatchID)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(toMatch(record)), nil
}

func (s *BalancerServer) GetActiveMatch(ctx context.Context, req *connect.Request[MatchRequest]) (*connect.Response[MatchResponse], error) {
	scope, err := requireScope(req.Msg.Scope)
	if err != nil {
		return nil, err
	}
	record, ok := s.matchSvc.Active(scope)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, lifecycle.ErrNoActiveMatch)
	}
	return connect.NewResponse(toMatch(record)), nil
}

func requireScope(scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", invalidArgument("scope is required")
	}
	return scope, nil
}

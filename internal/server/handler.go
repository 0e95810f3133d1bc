package server

import (
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"
)

const BalancerName = "cama.v1.Balancer"

const (
	RegisterPlayerProcedure   = "/cama.v1.Balancer/RegisterPlayer"
	SetRolesProcedure         = "/cama.v1.Balancer/SetRoles"
	GetPlayerProcedure        = "/cama.v1.Balancer/GetPlayer"
	GetRatingHistoryProcedure = "/cama.v1.Balancer/GetRatingHistory"
	SyncMMRProcedure          = "/cama.v1.Balancer/SyncMMR"
	JoinLobbyProcedure        = "/cama.v1.Balancer/JoinLobby"
	LeaveLobbyProcedure       = "/cama.v1.Balancer/LeaveLobby"
	GetLobbyProcedure         = "/cama.v1.Balancer/GetLobby"
	ResetLobbyProcedure       = "/cama.v1.Balancer/ResetLobby"
	ShuffleProcedure          = "/cama.v1.Balancer/Shuffle"
	SubmitResultProcedure     = "/cama.v1.Balancer/SubmitResult"
	RecordMatchProcedure      = "/cama.v1.Balancer/RecordMatch"
	AbortMatchProcedure       = "/cama.v1.Balancer/AbortMatch"
	GetActiveMatchProcedure   = "/cama.v1.Balancer/GetActiveMatch"
)

// JSONCodec carries the plain structs of this package over Connect's JSON
// content type.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// NewBalancerHandler mounts every procedure and returns the path prefix to
// register it under.
func NewBalancerHandler(s *BalancerServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(RegisterPlayerProcedure, connect.NewUnaryHandler(RegisterPlayerProcedure, s.RegisterPlayer, opts...))
	mux.Handle(SetRolesProcedure, connect.NewUnaryHandler(SetRolesProcedure, s.SetRoles, opts...))
	mux.Handle(GetPlayerProcedure, connect.NewUnaryHandler(GetPlayerProcedure, s.GetPlayer, opts...))
	mux.Handle(GetRatingHistoryProcedure, connect.NewUnaryHandler(GetRatingHistoryProcedure, s.GetRatingHistory, opts...))
	mux.Handle(SyncMMRProcedure, connect.NewUnaryHandler(SyncMMRProcedure, s.SyncMMR, opts...))
	mux.Handle(JoinLobbyProcedure, connect.NewUnaryHandler(JoinLobbyProcedure, s.JoinLobby, opts...))
	mux.Handle(LeaveLobbyProcedure, connect.NewUnaryHandler(LeaveLobbyProcedure, s.LeaveLobby, opts...))
	mux.Handle(GetLobbyProcedure, connect.NewUnaryHandler(GetLobbyProcedure, s.GetLobby, opts...))
	mux.Handle(ResetLobbyProcedure, connect.NewUnaryHandler(ResetLobbyProcedure, s.ResetLobby, opts...))
	mux.Handle(ShuffleProcedure, connect.NewUnaryHandler(ShuffleProcedure, s.Shuffle, opts...))
	mux.Handle(SubmitResultProcedure, connect.NewUnaryHandler(SubmitResultProcedure, s.SubmitResult, opts...))
	mux.Handle(RecordMatchProcedure, connect.NewUnaryHandler(RecordMatchProcedure, s.RecordMatch, opts...))
	mux.Handle(AbortMatchProcedure, connect.NewUnaryHandler(AbortMatchProcedure, s.AbortMatch, opts...))
	mux.Handle(GetActiveMatchProcedure, connect.NewUnaryHandler(GetActiveMatchProcedure, s.GetActiveMatch, opts...))
	return "/" + BalancerName + "/", mux
}

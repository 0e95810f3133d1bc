package server

import (
	"time"

	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/lifecycle"
	"cama-shuffle/internal/service"
)

type RegisterPlayerRequest struct {
	PlayerID    string        `json:"player_id"`
	DisplayName string        `json:"display_name"`
	SteamID     *int64        `json:"steam_id,omitempty"`
	Roles       []domain.Role `json:"roles"`
}

type SetRolesRequest struct {
	PlayerID string        `json:"player_id"`
	Roles    []domain.Role `json:"roles"`
}

type GetPlayerRequest struct {
	PlayerID string `json:"player_id"`
}

type PlayerResponse struct {
	Player *Player `json:"player"`
}

type Player struct {
	ID             string        `json:"id"`
	DisplayName    string        `json:"display_name"`
	SteamID        *int64        `json:"steam_id,omitempty"`
	MMR            *int          `json:"mmr,omitempty"`
	Rating         *float64      `json:"rating,omitempty"`
	RD             *float64      `json:"rd,omitempty"`
	Volatility     *float64      `json:"volatility,omitempty"`
	PreferredRoles []domain.Role `json:"preferred_roles"`
	Wins           int           `json:"wins"`
	Losses         int           `json:"losses"`
	ExclusionCount int           `json:"exclusion_count"`
	CreatedAt      time.Time     `json:"created_at"`
}

type GetRatingHistoryRequest struct {
	PlayerID string `json:"player_id"`
	Limit    int    `json:"limit"`
}

type RatingHistoryResponse struct {
	History []RatingChange `json:"history"`
}

type RatingChange struct {
	MatchID       string    `json:"match_id"`
	OldRating     float64   `json:"old_rating"`
	NewRating     float64   `json:"new_rating"`
	OldRD         float64   `json:"old_rd"`
	NewRD         float64   `json:"new_rd"`
	OldVolatility float64   `json:"old_volatility"`
	NewVolatility float64   `json:"new_volatility"`
	CreatedAt     time.Time `json:"created_at"`
}

type SyncMMRRequest struct{}

type SyncMMRResponse struct {
	Seeded int `json:"seeded"`
}

type LobbyRequest struct {
	Scope    string `json:"scope"`
	PlayerID string `json:"player_id,omitempty"`
}

type LobbyResponse struct {
	Scope     string          `json:"scope"`
	State     lifecycle.State `json:"state"`
	Size      int             `json:"size"`
	Ready     bool            `json:"ready"`
	Threshold int             `json:"threshold,omitempty"`
	Players   []*Player       `json:"players,omitempty"`
}

type ShuffleRequest struct {
	Scope string `json:"scope"`
}

// MatchRequest addresses a match in a scope. An empty MatchID means the
// scope's current match.
type MatchRequest struct {
	Scope   string `json:"scope"`
	MatchID string `json:"match_id,omitempty"`
}

type RecordMatchRequest struct {
	Scope   string      `json:"scope"`
	MatchID string      `json:"match_id,omitempty"`
	Winner  domain.Team `json:"winner"`
}

type MatchResponse struct {
	Match          *lifecycle.MatchRecord `json:"match"`
	WinProbability float64                `json:"win_probability"`
}

type SubmitResultRequest struct {
	Scope   string            `json:"scope"`
	VoterID string            `json:"voter_id"`
	Outcome lifecycle.Outcome `json:"outcome"`
}

type SubmitResultResponse struct {
	Tally   map[lifecycle.Outcome]int `json:"tally"`
	Decided lifecycle.Outcome         `json:"decided,omitempty"`
	Match   *lifecycle.MatchRecord    `json:"match,omitempty"`
}

func toPlayer(p *domain.Player) *Player {
	return &Player{
		ID:             p.ID,
		DisplayName:    p.DisplayName,
		SteamID:        p.SteamID,
		MMR:            p.MMR,
		Rating:         p.GlickoRating,
		RD:             p.GlickoRD,
		Volatility:     p.GlickoVolatility,
		PreferredRoles: p.PreferredRoles,
		Wins:           p.Wins,
		Losses:         p.Losses,
		ExclusionCount: p.ExclusionCount,
		CreatedAt:      p.CreatedAt,
	}
}

func toLobby(scope string, view *service.LobbyView) *LobbyResponse {
	resp := &LobbyResponse{
		Scope:     scope,
		State:     view.State,
		Size:      len(view.Players),
		Ready:     view.Ready,
		Threshold: view.Threshold,
		Players:   make([]*Player, len(view.Players)),
	}
	for i := range view.Players {
		resp.Players[i] = toPlayer(&view.Players[i])
	}
	return resp
}

func toMatch(record *lifecycle.MatchRecord) *MatchResponse {
	resp := &MatchResponse{Match: record}
	if record.Split != nil {
		resp.WinProbability = record.Split.WinProbability()
	}
	return resp
}

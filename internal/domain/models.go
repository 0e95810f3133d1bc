package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Team identifies one side of a shuffled match.
type Team string

const (
	TeamA Team = "team_a"
	TeamB Team = "team_b"
)

func (t Team) Valid() bool {
	return t == TeamA || t == TeamB
}

// Opponent returns the other side.
func (t Team) Opponent() Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

// Role is a position 1-5, 1 being the hard carry and 5 the hard support.
type Role int

const RoleCount = 5

const (
	RoleCarry Role = 1
	RoleMid   Role = 2
	RoleOff   Role = 3
	RoleSoft  Role = 4
	RoleHard  Role = 5
)

func (r Role) Valid() bool {
	return r >= RoleCarry && r <= RoleHard
}

// ParseRoles parses a comma separated list such as "1,3,5".
func ParseRoles(raw string) ([]Role, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	seen := make(map[Role]bool)
	var roles []Role
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid role %q: %w", part, err)
		}
		role := Role(n)
		if !role.Valid() {
			return nil, fmt.Errorf("role %d out of range 1-%d", n, RoleCount)
		}
		if seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles, nil
}

// FormatRoles is the inverse of ParseRoles.
func FormatRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = strconv.Itoa(int(r))
	}
	return strings.Join(parts, ",")
}

type Player struct {
	ID               string
	DisplayName      string
	SteamID          *int64
	MMR              *int // external skill score, nil when unknown
	PreferredRoles   []Role
	GlickoRating     *float64
	GlickoRD         *float64
	GlickoVolatility *float64
	Wins             int
	Losses           int
	ExclusionCount   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Rated reports whether the player already has a stored Glicko-2 triple.
func (p *Player) Rated() bool {
	return p.GlickoRating != nil && p.GlickoRD != nil && p.GlickoVolatility != nil
}

type MatchState string

const (
	MatchStateShuffled MatchState = "shuffled"
	MatchStateRecorded MatchState = "recorded"
	MatchStateAborted  MatchState = "aborted"
)

type Match struct {
	MatchID          string
	Scope            string
	State            MatchState
	WinningTeam      *Team
	RatingA          float64
	RatingB          float64
	RatingDifference float64
	RolePenalty      float64
	CostScore        float64
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

type MatchParticipant struct {
	MatchID  string
	PlayerID string
	Team     Team
	Role     Role
	Won      *bool
}

// MatchVote is one result ballot on a shuffled match.
type MatchVote struct {
	MatchID   string
	VoterID   string
	Outcome   string
	Admin     bool
	CreatedAt time.Time
}

type RatingHistory struct {
	ID            string // nanoid
	PlayerID      string
	MatchID       string
	OldRating     float64
	OldRD         float64
	OldVolatility float64
	NewRating     float64
	NewRD         float64
	NewVolatility float64
	CreatedAt     time.Time
}

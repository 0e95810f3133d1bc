// Package balance splits a roster into two role-complete teams of five.
//
// The search is exact: every canonical bipartition of the ten selected players
// is scored, and each team's roles are assigned by enumerating all 120
// permutations. A split costs
//
//	ratingDifference² + ExclusionPenaltyWeight × (off-role penalty of both teams)
//
// and the cheapest split wins, ties going to the lexically smallest team A.
package balance

import (
	"math"
	"slices"

	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/glicko"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

const (
	TeamSize  = domain.RoleCount
	MatchSize = 2 * TeamSize

	// Off-role cost grows by OffRoleMultiplier for every offRoleRatingUnit of rating.
	offRoleRatingUnit = 100.0
)

// PlayerSnapshot is the immutable view of a player handed to a shuffle.
type PlayerSnapshot struct {
	ID             string        `json:"id"`
	DisplayName    string        `json:"display_name"`
	Rating         glicko.Rating `json:"rating"`
	PreferredRoles []domain.Role `json:"preferred_roles"`
	ExclusionCount int           `json:"exclusion_count"`
}

// Prefers reports whether role is one of the player's preferred roles.
func (p PlayerSnapshot) Prefers(role domain.Role) bool {
	return slices.Contains(p.PreferredRoles, role)
}

// RoleAssignment holds one team, indexed by role-1.
type RoleAssignment [TeamSize]PlayerSnapshot

// Player returns whoever plays role.
func (a RoleAssignment) Player(role domain.Role) PlayerSnapshot {
	return a[role-1]
}

// IDs lists the team's player ids in role order.
func (a RoleAssignment) IDs() []string {
	ids := make([]string, len(a))
	for i, p := range a {
		ids[i] = p.ID
	}
	return ids
}

// RoleOf returns the role played by id, or false when id is not on the team.
func (a RoleAssignment) RoleOf(id string) (domain.Role, bool) {
	for i, p := range a {
		if p.ID == id {
			return domain.Role(i + 1), true
		}
	}
	return 0, false
}

// TeamSplit is the result of a shuffle.
type TeamSplit struct {
	TeamA            RoleAssignment   `json:"team_a"`
	TeamB            RoleAssignment   `json:"team_b"`
	RatingA          float64          `json:"rating_a"`
	RatingB          float64          `json:"rating_b"`
	RatingDifference float64          `json:"rating_difference"`
	RolePenalty      float64          `json:"role_penalty"`
	CostScore        float64          `json:"cost_score"`
	Excluded         []PlayerSnapshot `json:"excluded,omitempty"`
}

// Team returns the assignment for side t.
func (s *TeamSplit) Team(t domain.Team) RoleAssignment {
	if t == domain.TeamB {
		return s.TeamB
	}
	return s.TeamA
}

// TeamOf finds which side id plays on.
func (s *TeamSplit) TeamOf(id string) (domain.Team, bool) {
	if _, ok := s.TeamA.RoleOf(id); ok {
		return domain.TeamA, true
	}
	if _, ok := s.TeamB.RoleOf(id); ok {
		return domain.TeamB, true
	}
	return "", false
}

// WinProbability estimates team A's chance to win by treating each team as a
// single player with the mean rating and RMS deviation of its members.
func (s *TeamSplit) WinProbability() float64 {
	return glicko.ExpectedScore(aggregate(s.TeamA), aggregate(s.TeamB))
}

func aggregate(team RoleAssignment) glicko.Rating {
	var sum, sumSquares float64
	for _, p := range team {
		sum += p.Rating.Value
		sumSquares += p.Rating.Deviation * p.Rating.Deviation
	}
	n := float64(len(team))
	return glicko.Rating{
		Value:      sum / n,
		Deviation:  math.Sqrt(sumSquares / n),
		Volatility: glicko.InitialVolatility,
	}
}

type Config struct {
	DefaultRating          float64
	OffRoleFlatPenalty     float64
	OffRoleMultiplier      float64
	ExclusionPenaltyWeight float64
	// Workers bounds the goroutines scoring candidate splits; 1 scores sequentially.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		DefaultRating:          1000,
		OffRoleFlatPenalty:     100,
		OffRoleMultiplier:      0.95,
		ExclusionPenaltyWeight: 5,
		Workers:                4,
	}
}

// Balancer is stateless apart from its configuration and may be shared.
type Balancer struct {
	cfg Config
}

func New(cfg Config) *Balancer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Balancer{cfg: cfg}
}

// OffRolePenalty is the cost of p playing role.
func (b *Balancer) OffRolePenalty(p PlayerSnapshot, role domain.Role) float64 {
	if p.Prefers(role) {
		return 0
	}
	return b.cfg.OffRoleFlatPenalty + b.cfg.OffRoleMultiplier*b.effectiveRating(p)/offRoleRatingUnit
}

func (b *Balancer) effectiveRating(p PlayerSnapshot) float64 {
	if p.Rating.IsZero() {
		return b.cfg.DefaultRating
	}
	return p.Rating.Value
}

// Shuffle returns the cheapest split of roster. Rosters above MatchSize are
// first reduced with Reduce.
func (b *Balancer) Shuffle(roster []PlayerSnapshot) (*TeamSplit, error) {
	if len(roster) < MatchSize {
		return nil, eris.Wrapf(ErrInsufficientPlayers, "need %d players, have %d", MatchSize, len(roster))
	}
	seen := make(map[string]bool, len(roster))
	for _, p := range roster {
		if seen[p.ID] {
			return nil, eris.Wrapf(ErrInsufficientPlayers, "duplicate player %s", p.ID)
		}
		seen[p.ID] = true
		for _, r := range p.PreferredRoles {
			if !r.Valid() {
				return nil, eris.Wrapf(ErrInvalidRole, "player %s prefers role %d", p.ID, r)
			}
		}
	}

	selected, excluded := Reduce(roster)
	players := slices.Clone(selected)
	slices.SortFunc(players, func(x, y PlayerSnapshot) int {
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		}
		return 0
	})

	e := b.newEvaluation(players)
	best, err := b.search(e)
	if err != nil {
		return nil, err
	}

	split := &TeamSplit{
		RatingA:          best.ratingA,
		RatingB:          best.ratingB,
		RatingDifference: best.ratingA - best.ratingB,
		RolePenalty:      best.penalty,
		CostScore:        best.cost,
		Excluded:         excluded,
	}
	for role := 0; role < TeamSize; role++ {
		split.TeamA[role] = players[best.teamA[role]]
		split.TeamB[role] = players[best.teamB[role]]
	}
	return split, nil
}

// search scores every canonical split. Workers take contiguous chunks and the
// chunk winners are reduced with the same ordering, so the result does not
// depend on the worker count.
func (b *Balancer) search(e *evaluation) (candidate, error) {
	splits := canonicalSplits
	workers := min(b.cfg.Workers, len(splits))
	chunk := (len(splits) + workers - 1) / workers
	results := make([]candidate, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(splits))
		g.Go(func() error {
			best := candidate{index: -1}
			for i := lo; i < hi; i++ {
				c := e.score(i, splits[i])
				if c.better(best) {
					best = c
				}
			}
			results[w] = best
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return candidate{}, err
	}

	best := candidate{index: -1}
	for _, c := range results {
		if c.better(best) {
			best = c
		}
	}
	if best.index < 0 {
		return candidate{}, eris.New("no candidate split evaluated")
	}
	return best, nil
}

type candidate struct {
	index   int
	teamA   [TeamSize]int // player index per role
	teamB   [TeamSize]int
	ratingA float64
	ratingB float64
	penalty float64
	cost    float64
}

// better orders by cost, then by split index. Split indices follow the
// lexical order of team A's ids.
func (c candidate) better(other candidate) bool {
	if c.index < 0 {
		return false
	}
	if other.index < 0 {
		return true
	}
	if c.cost != other.cost {
		return c.cost < other.cost
	}
	return c.index < other.index
}

type evaluation struct {
	ratings [MatchSize]float64
	costs   [MatchSize][TeamSize]float64
	weight  float64
}

func (b *Balancer) newEvaluation(players []PlayerSnapshot) *evaluation {
	e := &evaluation{}
	for i, p := range players {
		e.ratings[i] = b.effectiveRating(p)
		for r := 0; r < TeamSize; r++ {
			e.costs[i][r] = b.OffRolePenalty(p, domain.Role(r+1))
		}
	}
	e.weight = b.cfg.ExclusionPenaltyWeight
	return e
}

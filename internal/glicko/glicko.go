// Package glicko implements the Glicko-2 rating model used to rate players
// after team matches.
//
// Variables follow Glickman's paper (https://www.glicko.net/glicko/glicko2.pdf):
// mu and phi are the rating and deviation on the internal scale, sigma is the
// volatility, v the estimated variance and delta the estimated improvement.
package glicko

import (
	"math"

	"cama-shuffle/internal/domain"

	"github.com/rotisserie/eris"
)

const (
	// Scale converts between the public rating scale and the internal one.
	Scale = 173.7178
	// Center is the public rating that maps to mu = 0.
	Center = 1500.0

	MaxDeviation      = 350.0
	InitialVolatility = 0.06

	// External scores (MMR) in [0, ExternalMax] map linearly onto [0, 3000].
	ExternalMax    = 12000
	ExternalFactor = 0.25
)

// Rating is a player's strength estimate on the public scale.
type Rating struct {
	Value      float64 `json:"rating"`
	Deviation  float64 `json:"rd"`
	Volatility float64 `json:"volatility"`
}

// IsZero reports whether r carries no rating at all.
func (r Rating) IsZero() bool {
	return r == Rating{}
}

func (r Rating) valid() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) &&
		r.Deviation > 0 && r.Volatility > 0
}

// Participant is one player taking part in a team-vs-team rating period.
type Participant struct {
	ID     string
	Team   domain.Team
	Rating Rating
}

// RatingDelta records a participant's rating before and after a period.
type RatingDelta struct {
	PlayerID string      `json:"player_id"`
	Team     domain.Team `json:"team"`
	Old      Rating      `json:"old"`
	New      Rating      `json:"new"`
}

// Change is the signed rating movement.
func (d RatingDelta) Change() float64 {
	return d.New.Value - d.Old.Value
}

type Config struct {
	Tau                  float64
	MinDeviation         float64
	DefaultExternalScore int
}

func DefaultConfig() Config {
	return Config{
		Tau:                  0.5,
		MinDeviation:         30.0,
		DefaultExternalScore: 4000,
	}
}

// System applies rating periods. It holds no mutable state and is safe for
// concurrent use.
type System struct {
	cfg Config
}

func New(cfg Config) *System {
	return &System{cfg: cfg}
}

// Seed converts an external skill score onto the rating scale. It is the only
// way an unrated player gets an initial rating.
func (s *System) Seed(externalScore int) Rating {
	clamped := min(max(externalScore, 0), ExternalMax)
	return Rating{
		Value:      float64(clamped) * ExternalFactor,
		Deviation:  MaxDeviation,
		Volatility: InitialVolatility,
	}
}

// SeedDefault seeds a player with no known external score.
func (s *System) SeedDefault() Rating {
	return s.Seed(s.cfg.DefaultExternalScore)
}

// ExpectedScore is the probability that a beats b, discounted by b's
// uncertainty.
func ExpectedScore(a, b Rating) float64 {
	return expected(toMu(a.Value), toMu(b.Value), g(toPhi(b.Deviation)))
}

type opponent struct {
	g     float64
	e     float64
	score float64
}

// UpdateRatings runs one rating period for every participant. Each player is
// rated against every member of the other team, scoring 1 against each of them
// for a win and 0 for a loss. Ratings used as opponents are the pre-period
// values. Either every delta is returned or none is.
func (s *System) UpdateRatings(participants []Participant, winner domain.Team) ([]RatingDelta, error) {
	if !winner.Valid() {
		return nil, eris.Wrapf(ErrInvalidRatingPeriod, "unknown winning team %q", winner)
	}

	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if !p.Team.Valid() {
			return nil, eris.Wrapf(ErrInvalidRatingPeriod, "participant %s has unknown team %q", p.ID, p.Team)
		}
		if !p.Rating.valid() {
			return nil, eris.Wrapf(ErrInvalidRatingPeriod, "participant %s has invalid rating %+v", p.ID, p.Rating)
		}
		if seen[p.ID] {
			return nil, eris.Wrapf(ErrInvalidRatingPeriod, "participant %s listed twice", p.ID)
		}
		seen[p.ID] = true
	}

	deltas := make([]RatingDelta, 0, len(participants))
	for _, p := range participants {
		score := 0.0
		if p.Team == winner {
			score = 1.0
		}

		mu := toMu(p.Rating.Value)
		var opponents []opponent
		for _, o := range participants {
			if o.Team == p.Team {
				continue
			}
			gj := g(toPhi(o.Rating.Deviation))
			opponents = append(opponents, opponent{
				g:     gj,
				e:     expected(mu, toMu(o.Rating.Value), gj),
				score: score,
			})
		}
		if len(opponents) == 0 {
			return nil, eris.Wrapf(ErrInvalidRatingPeriod, "participant %s has no opponents", p.ID)
		}

		next, err := s.rate(p.Rating, opponents)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to rate participant %s", p.ID)
		}
		deltas = append(deltas, RatingDelta{
			PlayerID: p.ID,
			Team:     p.Team,
			Old:      p.Rating,
			New:      next,
		})
	}
	return deltas, nil
}

func (s *System) rate(curr Rating, opponents []opponent) (Rating, error) {
	// Step 2.
	mu := toMu(curr.Value)
	phi := toPhi(curr.Deviation)

	// Step 3 and 4.
	var variance, improvement float64
	for _, o := range opponents {
		variance += o.g * o.g * o.e * (1 - o.e)
		improvement += o.g * (o.score - o.e)
	}
	v := 1 / variance
	delta := v * improvement

	// Step 5.
	sigma, _, err := Solve(s.cfg.Tau, delta, v, phi, curr.Volatility)
	if err != nil {
		return Rating{}, err
	}

	// Step 6 and 7.
	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	phiPrime := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muPrime := mu + phiPrime*phiPrime*improvement

	// Step 8.
	return Rating{
		Value:      Scale*muPrime + Center,
		Deviation:  s.clampDeviation(Scale * phiPrime),
		Volatility: sigma,
	}, nil
}

func (s *System) clampDeviation(rd float64) float64 {
	return min(max(rd, s.cfg.MinDeviation), MaxDeviation)
}

func toMu(rating float64) float64 { return (rating - Center) / Scale }

func toPhi(deviation float64) float64 { return deviation / Scale }

func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, muj, gj float64) float64 {
	return 1 / (1 + math.Exp(-gj*(mu-muj)))
}

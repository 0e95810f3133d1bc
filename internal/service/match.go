package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cama-shuffle/internal/balance"
	"cama-shuffle/internal/config"
	"cama-shuffle/internal/constants"
	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/glicko"
	"cama-shuffle/internal/lifecycle"
	"cama-shuffle/internal/repository"

	"github.com/rs/zerolog"
)

type MatchService struct {
	registry *lifecycle.Registry
	players  *repository.PlayerRepository
	matches  *repository.MatchRepository
	rating   *glicko.System
	cfg      *config.Config
	logger   zerolog.Logger
}

func NewMatchService(
	registry *lifecycle.Registry,
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	rating *glicko.System,
	cfg *config.Config,
	logger zerolog.Logger,
) *MatchService {
	return &MatchService{
		registry: registry,
		players:  players,
		matches:  matches,
		rating:   rating,
		cfg:      cfg,
		logger:   logger,
	}
}

// LobbyView is a scope's lobby with the players resolved.
type LobbyView struct {
	State     lifecycle.State
	Players   []domain.Player
	Ready     bool
	Threshold int
}

// Join adds a registered player to the scope's lobby.
func (s *MatchService) Join(ctx context.Context, scope, playerID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if _, err := s.players.Get(ctx, playerID); err != nil {
		return 0, err
	}
	n, err := s.registry.Join(scope, playerID)
	if err != nil {
		return n, err
	}
	s.logger.Info().Str("scope", scope).Str("player_id", playerID).Int("lobby_size", n).Msg("player joined lobby")
	return n, nil
}

func (s *MatchService) Leave(scope, playerID string) (int, error) {
	n, err := s.registry.Leave(scope, playerID)
	if err != nil {
		return n, err
	}
	s.logger.Info().Str("scope", scope).Str("player_id", playerID).Int("lobby_size", n).Msg("player left lobby")
	return n, nil
}

// ResetLobby empties the scope's lobby. A pending match is left alone.
func (s *MatchService) ResetLobby(scope string) {
	s.registry.Reset(scope)
	s.logger.Info().Str("scope", scope).Msg("lobby reset")
}

func (s *MatchService) Lobby(ctx context.Context, scope string) (*LobbyView, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	players, err := s.players.GetByIDs(ctx, s.registry.Lobby(scope))
	if err != nil {
		return nil, err
	}
	threshold := max(s.cfg.ReadyThreshold, balance.MatchSize)
	return &LobbyView{
		State:     s.registry.State(scope),
		Players:   players,
		Ready:     len(players) >= threshold,
		Threshold: threshold,
	}, nil
}

// Shuffle splits the scope's lobby into two teams and stores the match.
func (s *MatchService) Shuffle(ctx context.Context, scope string) (*lifecycle.MatchRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	start := time.Now()
	record, err := s.registry.Shuffle(ctx, scope, s.loadRoster, s.commit)
	if err != nil {
		s.logger.Warn().Err(err).Str("scope", scope).Msg("shuffle rejected")
		return nil, err
	}

	s.logger.Info().
		Str("scope", scope).
		Str("match_id", record.ID).
		Float64("rating_difference", record.Split.RatingDifference).
		Float64("role_penalty", record.Split.RolePenalty).
		Float64("cost_score", record.Split.CostScore).
		Int("excluded", len(record.Split.Excluded)).
		Dur("took", time.Since(start)).
		Msg("teams shuffled")
	return record, nil
}

// SubmitResult registers voterID's vote. Admin ids from configuration decide
// immediately.
func (s *MatchService) SubmitResult(ctx context.Context, scope, voterID string, outcome lifecycle.Outcome) (*lifecycle.VoteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	admin := s.cfg.IsAdmin(voterID)
	result, err := s.registry.SubmitVote(ctx, scope, voterID, outcome, admin, lifecycle.VoteHooks{
		Save:   s.saveVote,
		Load:   s.loadRoster,
		Commit: s.commit,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("scope", scope).
		Str("voter_id", voterID).
		Bool("admin", admin).
		Str("outcome", string(outcome)).
		Str("decided", string(result.Decided)).
		Msg("result vote submitted")
	return result, nil
}

// Record resolves the match directly, bypassing the vote. Ratings are taken
// from the players as they are now, not as they were at the shuffle.
func (s *MatchService) Record(ctx context.Context, scope, matchID string, winner domain.Team) (*lifecycle.MatchRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	record, err := s.registry.Record(ctx, scope, matchID, winner, s.loadRoster, s.commit)
	if err != nil {
		return nil, s.resolvedEarlier(ctx, scope, matchID, err)
	}
	return record, nil
}

func (s *MatchService) Abort(ctx context.Context, scope, matchID string) (*lifecycle.MatchRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	record, err := s.registry.Abort(ctx, scope, matchID, s.commit)
	if err != nil {
		return nil, s.resolvedEarlier(ctx, scope, matchID, err)
	}
	return record, nil
}

// resolvedEarlier reports a stored match the registry no longer tracks as
// ErrMatchAlreadyResolved.
func (s *MatchService) resolvedEarlier(ctx context.Context, scope, matchID string, err error) error {
	if matchID == "" || !errors.Is(err, lifecycle.ErrNoActiveMatch) {
		return err
	}
	match, _, getErr := s.matches.Get(ctx, matchID)
	if getErr != nil || match.Scope != scope || match.State == domain.MatchStateShuffled {
		return err
	}
	return fmt.Errorf("%w: match %s is %s", lifecycle.ErrMatchAlreadyResolved, matchID, match.State)
}

func (s *MatchService) Active(scope string) (*lifecycle.MatchRecord, bool) {
	return s.registry.Active(scope)
}

var errMalformedMatch = errors.New("malformed pending match")

// Restore resumes the matches a previous process left shuffled, ballots
// included. Each scope resumes its newest pending match; older ones and
// matches that cannot be rebuilt are aborted.
func (s *MatchService) Restore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	pending, err := s.matches.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending matches: %w", err)
	}

	var restored, aborted []string
	for _, p := range pending {
		record, err := s.pendingRecord(ctx, p)
		if err == nil {
			err = s.registry.Restore(record)
		}
		switch {
		case err == nil:
			restored = append(restored, p.Match.MatchID)
		case errors.Is(err, lifecycle.ErrMatchInProgress), errors.Is(err, errMalformedMatch):
			s.logger.Warn().Err(err).Str("scope", p.Match.Scope).Str("match_id", p.Match.MatchID).Msg("aborting pending match")
			if err := s.matches.Abort(ctx, p.Match.MatchID, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to abort match %s: %w", p.Match.MatchID, err)
			}
			aborted = append(aborted, p.Match.MatchID)
		default:
			return fmt.Errorf("failed to restore match %s: %w", p.Match.MatchID, err)
		}
	}

	if len(pending) > 0 {
		s.logger.Info().Strs("restored", restored).Strs("aborted", aborted).Msg("pending matches reloaded")
	}
	return nil
}

// pendingRecord rebuilds the split of a stored match. Players carry their
// current ratings; the split totals are the ones stored at the shuffle.
func (s *MatchService) pendingRecord(ctx context.Context, p repository.PendingMatch) (*lifecycle.MatchRecord, error) {
	if len(p.Participants) != balance.MatchSize {
		return nil, fmt.Errorf("%w: %d participants", errMalformedMatch, len(p.Participants))
	}
	ids := make([]string, len(p.Participants))
	for i, mp := range p.Participants {
		ids[i] = mp.PlayerID
	}
	roster, err := s.loadRoster(ctx, ids)
	if err != nil {
		return nil, err
	}

	m := p.Match
	split := &balance.TeamSplit{
		RatingA:          m.RatingA,
		RatingB:          m.RatingB,
		RatingDifference: m.RatingDifference,
		RolePenalty:      m.RolePenalty,
		CostScore:        m.CostScore,
	}
	seen := make(map[string]bool, balance.MatchSize)
	for i, mp := range p.Participants {
		if !mp.Team.Valid() || !mp.Role.Valid() {
			return nil, fmt.Errorf("%w: %s plays %s as role %d", errMalformedMatch, mp.PlayerID, mp.Team, mp.Role)
		}
		assignment := &split.TeamA
		if mp.Team == domain.TeamB {
			assignment = &split.TeamB
		}
		slot := slotKey(mp.Team, mp.Role)
		if seen[slot] {
			return nil, fmt.Errorf("%w: %s %d assigned twice", errMalformedMatch, mp.Team, mp.Role)
		}
		seen[slot] = true
		assignment[mp.Role-1] = roster[i]
	}

	votes := make(map[string]lifecycle.Vote, len(p.Votes))
	for _, v := range p.Votes {
		votes[v.VoterID] = lifecycle.Vote{Outcome: lifecycle.Outcome(v.Outcome), Admin: v.Admin}
	}
	return &lifecycle.MatchRecord{
		ID:        m.MatchID,
		Scope:     m.Scope,
		Split:     split,
		State:     lifecycle.StateShuffled,
		Votes:     votes,
		CreatedAt: m.CreatedAt,
	}, nil
}

func slotKey(team domain.Team, role domain.Role) string {
	return fmt.Sprintf("%s/%d", team, role)
}

func (s *MatchService) loadRoster(ctx context.Context, ids []string) ([]balance.PlayerSnapshot, error) {
	players, err := s.players.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	roster := make([]balance.PlayerSnapshot, len(players))
	for i := range players {
		roster[i] = s.snapshot(&players[i])
	}
	return roster, nil
}

// snapshot freezes a player for the shuffle. Unrated players get the seed
// of their known MMR, or the default seed.
func (s *MatchService) snapshot(p *domain.Player) balance.PlayerSnapshot {
	var rating glicko.Rating
	switch {
	case p.Rated():
		rating = glicko.Rating{Value: *p.GlickoRating, Deviation: *p.GlickoRD, Volatility: *p.GlickoVolatility}
	case p.MMR != nil:
		rating = s.rating.Seed(*p.MMR)
	default:
		rating = s.rating.SeedDefault()
	}
	return balance.PlayerSnapshot{
		ID:             p.ID,
		DisplayName:    p.DisplayName,
		Rating:         rating,
		PreferredRoles: p.PreferredRoles,
		ExclusionCount: p.ExclusionCount,
	}
}

func (s *MatchService) saveVote(ctx context.Context, matchID, voter string, vote lifecycle.Vote) error {
	return s.matches.SaveVote(ctx, domain.MatchVote{
		MatchID:   matchID,
		VoterID:   voter,
		Outcome:   string(vote.Outcome),
		Admin:     vote.Admin,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *MatchService) commit(ctx context.Context, record *lifecycle.MatchRecord) error {
	switch record.State {
	case lifecycle.StateShuffled:
		return s.matches.SaveShuffle(ctx, shuffledMatch(record))
	case lifecycle.StateRecorded:
		winner, _ := record.Outcome.Winner()
		return s.matches.RecordResult(ctx, record.ID, winner, resolvedAt(record), ratingUpdates(record, winner))
	case lifecycle.StateAborted:
		return s.matches.Abort(ctx, record.ID, resolvedAt(record))
	}
	return fmt.Errorf("unexpected match state %q", record.State)
}

func shuffledMatch(record *lifecycle.MatchRecord) repository.ShuffledMatch {
	split := record.Split
	out := repository.ShuffledMatch{
		Match: domain.Match{
			MatchID:          record.ID,
			Scope:            record.Scope,
			State:            domain.MatchStateShuffled,
			RatingA:          split.RatingA,
			RatingB:          split.RatingB,
			RatingDifference: split.RatingDifference,
			RolePenalty:      split.RolePenalty,
			CostScore:        split.CostScore,
			CreatedAt:        record.CreatedAt.UTC(),
		},
	}
	for _, team := range []domain.Team{domain.TeamA, domain.TeamB} {
		assignment := split.Team(team)
		for i, p := range assignment {
			out.Participants = append(out.Participants, domain.MatchParticipant{
				MatchID:  record.ID,
				PlayerID: p.ID,
				Team:     team,
				Role:     domain.Role(i + 1),
			})
		}
	}
	for _, p := range split.Excluded {
		out.Excluded = append(out.Excluded, p.ID)
	}
	return out
}

func ratingUpdates(record *lifecycle.MatchRecord, winner domain.Team) []repository.RatingUpdate {
	updates := make([]repository.RatingUpdate, len(record.Deltas))
	for i, d := range record.Deltas {
		updates[i] = repository.RatingUpdate{
			PlayerID:      d.PlayerID,
			Won:           d.Team == winner,
			OldRating:     d.Old.Value,
			OldRD:         d.Old.Deviation,
			OldVolatility: d.Old.Volatility,
			NewRating:     d.New.Value,
			NewRD:         d.New.Deviation,
			NewVolatility: d.New.Volatility,
		}
	}
	return updates
}

func resolvedAt(record *lifecycle.MatchRecord) time.Time {
	if record.ResolvedAt != nil {
		return record.ResolvedAt.UTC()
	}
	return time.Now().UTC()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cama-shuffle/internal/constants"
	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/glicko"
	"cama-shuffle/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidInput = errors.New("invalid input")

// MMRSource looks up a player's external skill score by 32-bit Steam id.
// A nil score with a nil error means the source knows the player but has no
// estimate.
type MMRSource interface {
	GetPlayerMMR(ctx context.Context, accountID int64) (*int, error)
}

type PlayerService struct {
	mmr     MMRSource
	repo    *repository.PlayerRepository
	history *repository.RatingHistoryRepository
	rating  *glicko.System
	logger  zerolog.Logger
}

func NewPlayerService(
	mmr MMRSource,
	repo *repository.PlayerRepository,
	history *repository.RatingHistoryRepository,
	rating *glicko.System,
	logger zerolog.Logger,
) *PlayerService {
	return &PlayerService{mmr: mmr, repo: repo, history: history, rating: rating, logger: logger}
}

type RegisterInput struct {
	ID          string
	DisplayName string
	SteamID     *int64
	Roles       []domain.Role
}

// Register stores a new player. Players without a Steam id are seeded at the
// default score right away; the others are seeded from OpenDota and stay
// unrated for SyncMMR when the lookup fails.
func (s *PlayerService) Register(ctx context.Context, in RegisterInput) (*domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	in.ID = strings.TrimSpace(in.ID)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if in.ID == "" {
		return nil, fmt.Errorf("%w: player id is required", ErrInvalidInput)
	}
	if in.DisplayName == "" {
		in.DisplayName = in.ID
	}
	for _, r := range in.Roles {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: role %d out of range 1-%d", ErrInvalidInput, r, domain.RoleCount)
		}
	}

	player := &domain.Player{
		ID:             in.ID,
		DisplayName:    in.DisplayName,
		SteamID:        in.SteamID,
		PreferredRoles: in.Roles,
	}

	if in.SteamID == nil {
		setRating(player, s.rating.SeedDefault())
	} else if mmr, err := s.lookupMMR(ctx, *in.SteamID); err != nil {
		s.logger.Warn().Err(err).Str("player_id", in.ID).Int64("steam_id", *in.SteamID).
			Msg("mmr lookup failed, leaving player unrated")
	} else {
		player.MMR = mmr
		setRating(player, s.seed(mmr))
	}

	if err := s.repo.Create(ctx, player); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("player_id", player.ID).
		Bool("rated", player.Rated()).
		Str("roles", domain.FormatRoles(player.PreferredRoles)).
		Msg("player registered")
	return player, nil
}

func (s *PlayerService) SetRoles(ctx context.Context, id string, roles []domain.Role) (*domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	for _, r := range roles {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: role %d out of range 1-%d", ErrInvalidInput, r, domain.RoleCount)
		}
	}
	if err := s.repo.UpdateRoles(ctx, id, roles); err != nil {
		return nil, err
	}
	s.logger.Info().Str("player_id", id).Str("roles", domain.FormatRoles(roles)).Msg("preferred roles updated")
	return s.repo.Get(ctx, id)
}

func (s *PlayerService) Get(ctx context.Context, id string) (*domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.repo.Get(ctx, id)
}

// RatingHistory returns a player's rating changes, newest first. limit is
// clamped to (0, MaxHistoryLimit].
func (s *PlayerService) RatingHistory(ctx context.Context, id string, limit int) ([]domain.RatingHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if limit <= 0 {
		limit = constants.RatingHistoryLimit
	}
	limit = min(limit, constants.MaxHistoryLimit)

	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.history.GetByPlayer(ctx, id, limit)
}

// SyncMMR seeds every unrated player that has a Steam id. Lookups run
// concurrently; a failed lookup is logged and the player stays unrated.
// It returns how many players were seeded.
func (s *PlayerService) SyncMMR(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	players, err := s.repo.ListUnrated(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unrated players: %w", err)
	}
	if len(players) == 0 {
		return 0, nil
	}

	seeded := make([]bool, len(players))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(constants.MMRSyncConcurrency)
	for i, p := range players {
		g.Go(func() error {
			mmr, err := s.lookupMMR(gCtx, *p.SteamID)
			if err != nil {
				s.logger.Warn().Err(err).Str("player_id", p.ID).Msg("mmr lookup failed")
				return nil
			}
			if err := s.repo.SetSeed(gCtx, p.ID, mmr, s.seed(mmr)); err != nil {
				return fmt.Errorf("failed to seed player %s: %w", p.ID, err)
			}
			seeded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("mmr sync failed")
		return 0, err
	}

	n := 0
	for _, ok := range seeded {
		if ok {
			n++
		}
	}
	s.logger.Info().Int("unrated", len(players)).Int("seeded", n).Msg("mmr sync finished")
	return n, nil
}

func (s *PlayerService) lookupMMR(ctx context.Context, steamID int64) (*int, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()
	return s.mmr.GetPlayerMMR(ctx, steamID)
}

func (s *PlayerService) seed(mmr *int) glicko.Rating {
	if mmr == nil {
		return s.rating.SeedDefault()
	}
	return s.rating.Seed(*mmr)
}

func setRating(p *domain.Player, r glicko.Rating) {
	p.GlickoRating = &r.Value
	p.GlickoRD = &r.Deviation
	p.GlickoVolatility = &r.Volatility
}

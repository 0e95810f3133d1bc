package fx

import (
	"context"

	"cama-shuffle/internal/api"
	"cama-shuffle/internal/balance"
	"cama-shuffle/internal/config"
	"cama-shuffle/internal/database"
	"cama-shuffle/internal/glicko"
	"cama-shuffle/internal/lifecycle"
	"cama-shuffle/internal/logger"
	"cama-shuffle/internal/repository"
	"cama-shuffle/internal/server"
	"cama-shuffle/internal/service"

	"go.uber.org/fx"
)

func ProvideRatingSystem(cfg *config.Config) *glicko.System {
	return glicko.New(glicko.Config{
		Tau:                  cfg.GlickoTau,
		MinDeviation:         cfg.GlickoMinRD,
		DefaultExternalScore: cfg.DefaultMMR,
	})
}

// ProvideBalancer rates unrated snapshots at the same default seed the
// rating system hands out.
func ProvideBalancer(cfg *config.Config, rating *glicko.System) *balance.Balancer {
	c := balance.DefaultConfig()
	c.DefaultRating = rating.SeedDefault().Value
	c.OffRoleFlatPenalty = cfg.OffRoleFlatPenalty
	c.OffRoleMultiplier = cfg.OffRoleMultiplier
	c.ExclusionPenaltyWeight = cfg.ExclusionPenaltyWeight
	c.Workers = cfg.BalancerWorkers
	return balance.New(c)
}

func ProvideRegistry(cfg *config.Config, balancer *balance.Balancer, rating *glicko.System) *lifecycle.Registry {
	return lifecycle.NewRegistry(lifecycle.Config{
		ReadyThreshold: cfg.ReadyThreshold,
		MaxPlayers:     cfg.MaxPlayers,
		MinResultVotes: cfg.MinResultVotes,
	}, balancer, rating)
}

// restorePendingMatches resumes the matches a previous process shuffled but
// never resolved. Lobbies are not kept across restarts.
func restorePendingMatches(lc fx.Lifecycle, matches *service.MatchService) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return matches.Restore(ctx)
		},
	})
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	database.Module,
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewRatingHistoryRepository),
	fx.Provide(repository.NewMatchRepository),
	// api client
	fx.Provide(fx.Annotate(api.NewOpenDotaClient, fx.As(new(service.MMRSource)))),
	// engine
	fx.Provide(ProvideRatingSystem),
	fx.Provide(ProvideBalancer),
	fx.Provide(ProvideRegistry),
	// svc
	fx.Provide(service.NewPlayerService),
	fx.Provide(service.NewMatchService),
	fx.Invoke(restorePendingMatches),
	// server
	fx.Provide(server.NewBalancerServer),
)

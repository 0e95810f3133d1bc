package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath          string
	ServerPort      string
	LogLevel        string
	OpenDotaAPIKey  string
	OpenDotaBaseURL string
	AdminUserIDs    []string

	// OpenDota allows 60 calls a minute without a key and 1200 with one.
	OpenDotaRequestsPerMinute int
	OpenDotaBurst             int

	ReadyThreshold int
	MaxPlayers     int
	MinResultVotes int

	OffRoleFlatPenalty     float64
	OffRoleMultiplier      float64
	ExclusionPenaltyWeight float64
	BalancerWorkers        int

	GlickoTau   float64
	GlickoMinRD float64
	DefaultMMR  int
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	p := &parser{}
	apiKey := getEnv("OPENDOTA_API_KEY", "")
	perMinute := 60
	if apiKey != "" {
		perMinute = 1200
	}
	perMinute = p.int("OPENDOTA_REQUESTS_PER_MINUTE", perMinute)

	cfg := &Config{
		DBPath:          getEnv("DB_PATH", "cama.db"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		OpenDotaAPIKey:  apiKey,
		OpenDotaBaseURL: getEnv("OPENDOTA_BASE_URL", "https://api.opendota.com/api"),
		AdminUserIDs:    splitList(getEnv("ADMIN_USER_IDS", "")),

		OpenDotaRequestsPerMinute: perMinute,
		OpenDotaBurst:             p.int("OPENDOTA_BURST", perMinute),

		ReadyThreshold: p.int("LOBBY_READY_THRESHOLD", 10),
		MaxPlayers:     p.int("LOBBY_MAX_PLAYERS", 12),
		MinResultVotes: p.int("MIN_RESULT_VOTES", 3),

		OffRoleFlatPenalty:     p.float("OFF_ROLE_FLAT_PENALTY", 100),
		OffRoleMultiplier:      p.float("OFF_ROLE_MULTIPLIER", 0.95),
		ExclusionPenaltyWeight: p.float("EXCLUSION_PENALTY_WEIGHT", 5),
		BalancerWorkers:        p.int("BALANCER_WORKERS", 4),

		GlickoTau:   p.float("GLICKO_TAU", 0.5),
		GlickoMinRD: p.float("GLICKO_MIN_RD", 30),
		DefaultMMR:  p.int("DEFAULT_MMR", 4000),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Int("ready_threshold", cfg.ReadyThreshold).
		Int("max_players", cfg.MaxPlayers).
		Int("opendota_requests_per_minute", cfg.OpenDotaRequestsPerMinute).
		Float64("glicko_tau", cfg.GlickoTau).
		Float64("glicko_min_rd", cfg.GlickoMinRD).
		Int("admins", len(cfg.AdminUserIDs)).
		Msg("configuration loaded")

	return cfg, nil
}

// Validate checks the numeric settings. Counts must be positive, weights
// non-negative.
func (c *Config) Validate() error {
	switch {
	case c.ReadyThreshold < 10:
		return fmt.Errorf("LOBBY_READY_THRESHOLD must be at least 10, got %d", c.ReadyThreshold)
	case c.MaxPlayers < c.ReadyThreshold:
		return fmt.Errorf("LOBBY_MAX_PLAYERS (%d) must not be below LOBBY_READY_THRESHOLD (%d)", c.MaxPlayers, c.ReadyThreshold)
	case c.MinResultVotes < 1:
		return fmt.Errorf("MIN_RESULT_VOTES must be positive, got %d", c.MinResultVotes)
	case c.OffRoleFlatPenalty < 0:
		return fmt.Errorf("OFF_ROLE_FLAT_PENALTY must be non-negative, got %v", c.OffRoleFlatPenalty)
	case c.OffRoleMultiplier < 0:
		return fmt.Errorf("OFF_ROLE_MULTIPLIER must be non-negative, got %v", c.OffRoleMultiplier)
	case c.ExclusionPenaltyWeight < 0:
		return fmt.Errorf("EXCLUSION_PENALTY_WEIGHT must be non-negative, got %v", c.ExclusionPenaltyWeight)
	case c.BalancerWorkers < 1:
		return fmt.Errorf("BALANCER_WORKERS must be positive, got %d", c.BalancerWorkers)
	case c.GlickoTau <= 0:
		return fmt.Errorf("GLICKO_TAU must be positive, got %v", c.GlickoTau)
	case c.GlickoMinRD <= 0 || c.GlickoMinRD > 350:
		return fmt.Errorf("GLICKO_MIN_RD must be in (0, 350], got %v", c.GlickoMinRD)
	case c.DefaultMMR < 0:
		return fmt.Errorf("DEFAULT_MMR must be non-negative, got %d", c.DefaultMMR)
	case c.OpenDotaRequestsPerMinute < 1:
		return fmt.Errorf("OPENDOTA_REQUESTS_PER_MINUTE must be positive, got %d", c.OpenDotaRequestsPerMinute)
	case c.OpenDotaBurst < 1:
		return fmt.Errorf("OPENDOTA_BURST must be positive, got %d", c.OpenDotaBurst)
	}
	return nil
}

// IsAdmin reports whether userID is listed in ADMIN_USER_IDS.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" || p.err != nil {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" || p.err != nil {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
		return fallback
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		p.err = fmt.Errorf("invalid %s %q: not a finite number", key, raw)
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var Module = fx.Provide(Load)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/glicko"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerExists   = errors.New("player already registered")
)

const playerColumns = `id, display_name, steam_id, mmr, preferred_roles, glicko_rating, glicko_rd,
	glicko_volatility, wins, losses, exclusion_count, created_at, updated_at`

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*domain.Player, error) {
	var (
		p          domain.Player
		steamID    sql.NullInt64
		mmr        sql.NullInt64
		roles      string
		rating     sql.NullFloat64
		rd         sql.NullFloat64
		volatility sql.NullFloat64
	)
	err := row.Scan(&p.ID, &p.DisplayName, &steamID, &mmr, &roles, &rating, &rd, &volatility,
		&p.Wins, &p.Losses, &p.ExclusionCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if steamID.Valid {
		p.SteamID = &steamID.Int64
	}
	if mmr.Valid {
		v := int(mmr.Int64)
		p.MMR = &v
	}
	if rating.Valid && rd.Valid && volatility.Valid {
		p.GlickoRating = &rating.Float64
		p.GlickoRD = &rd.Float64
		p.GlickoVolatility = &volatility.Float64
	}
	p.PreferredRoles, err = domain.ParseRoles(roles)
	if err != nil {
		return nil, fmt.Errorf("player %s has corrupt roles %q: %w", p.ID, roles, err)
	}
	return &p, nil
}

func (r *PlayerRepository) Create(ctx context.Context, player *domain.Player) error {
	now := time.Now().UTC()
	if player.CreatedAt.IsZero() {
		player.CreatedAt = now
	}
	player.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		player.ID, player.DisplayName, player.SteamID, player.MMR, domain.FormatRoles(player.PreferredRoles),
		player.GlickoRating, player.GlickoRD, player.GlickoVolatility,
		player.Wins, player.Losses, player.ExclusionCount, player.CreatedAt, player.UpdatedAt)
	if isConstraint(err) {
		return fmt.Errorf("%w: %s", ErrPlayerExists, player.ID)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("player_id", player.ID).Msg("failed to insert player")
		return fmt.Errorf("failed to insert player %s: %w", player.ID, err)
	}
	return nil
}

func (r *PlayerRepository) Get(ctx context.Context, id string) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", id, err)
	}
	return player, nil
}

// GetByIDs returns the players in the order of ids. Every id must exist.
func (r *PlayerRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Player, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.Player, len(ids))
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}

	result := make([]domain.Player, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
		}
		result = append(result, *p)
	}
	return result, nil
}

// ListUnrated returns players with a steam id but no rating yet.
func (r *PlayerRepository) ListUnrated(ctx context.Context) ([]domain.Player, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players
		WHERE glicko_rating IS NULL AND steam_id IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unrated players: %w", err)
	}
	defer rows.Close()

	var result []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PlayerRepository) UpdateRoles(ctx context.Context, id string, roles []domain.Role) error {
	return r.update(ctx, id, `UPDATE players SET preferred_roles = ?, updated_at = ? WHERE id = ?`,
		domain.FormatRoles(roles), time.Now().UTC(), id)
}

// SetSeed stores the external score and the rating seeded from it.
func (r *PlayerRepository) SetSeed(ctx context.Context, id string, mmr *int, rating glicko.Rating) error {
	return r.update(ctx, id, `UPDATE players SET mmr = ?, glicko_rating = ?, glicko_rd = ?,
		glicko_volatility = ?, updated_at = ? WHERE id = ?`,
		mmr, rating.Value, rating.Deviation, rating.Volatility, time.Now().UTC(), id)
}

func (r *PlayerRepository) update(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("player_id", id).Msg("failed to update player")
		return fmt.Errorf("failed to update player %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update player %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	return nil
}

// UpdateExclusions bumps the count of every excluded player and halves the
// count of every included one.
func (r *PlayerRepository) UpdateExclusions(ctx context.Context, included, excluded []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateExclusions(ctx, tx, included, excluded); err != nil {
		return err
	}
	return tx.Commit()
}

func updateExclusions(ctx context.Context, tx *sql.Tx, included, excluded []string) error {
	now := time.Now().UTC()
	for _, id := range excluded {
		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET exclusion_count = exclusion_count + 1, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("failed to bump exclusion count of %s: %w", id, err)
		}
	}
	for _, id := range included {
		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET exclusion_count = exclusion_count / 2, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("failed to decay exclusion count of %s: %w", id, err)
		}
	}
	return nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

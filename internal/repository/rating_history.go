package repository

import (
	"context"
	"database/sql"
	"fmt"

	"cama-shuffle/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type RatingHistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRatingHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *RatingHistoryRepository {
	return &RatingHistoryRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *RatingHistoryRepository) insert(ctx context.Context, tx *sql.Tx, record domain.RatingHistory) error {
	id := record.ID
	if id == "" {
		var err error
		id, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO rating_history
		(id, player_id, match_id, old_rating, old_rd, old_volatility, new_rating, new_rd, new_volatility, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.PlayerID, record.MatchID, record.OldRating, record.OldRD, record.OldVolatility,
		record.NewRating, record.NewRD, record.NewVolatility, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rating history for %s: %w", record.PlayerID, err)
	}
	return nil
}

// GetByPlayer returns the newest entries first.
func (r *RatingHistoryRepository) GetByPlayer(ctx context.Context, playerID string, limit int) ([]domain.RatingHistory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, player_id, match_id, old_rating, old_rd, old_volatility,
		new_rating, new_rd, new_volatility, created_at FROM rating_history
		WHERE player_id = ? ORDER BY created_at DESC, id LIMIT ?`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history of %s: %w", playerID, err)
	}
	defer rows.Close()

	var result []domain.RatingHistory
	for rows.Next() {
		var h domain.RatingHistory
		if err := rows.Scan(&h.ID, &h.PlayerID, &h.MatchID, &h.OldRating, &h.OldRD, &h.OldVolatility,
			&h.NewRating, &h.NewRD, &h.NewVolatility, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating history: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rating history: %w", err)
	}

	r.logger.Debug().Str("player_id", playerID).Int("entries", len(result)).Msg("rating history loaded")
	return result, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cama-shuffle/internal/domain"

	"github.com/rs/zerolog"
)

var (
	ErrMatchNotFound = errors.New("match not found")
	ErrVoteExists    = errors.New("vote already cast")
)

type MatchRepository struct {
	db      *sql.DB
	history *RatingHistoryRepository
	logger  zerolog.Logger
}

func NewMatchRepository(sqlDB *sql.DB, history *RatingHistoryRepository, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{
		db:      sqlDB,
		history: history,
		logger:  logger,
	}
}

// ShuffledMatch is everything persisted when a shuffle is accepted.
type ShuffledMatch struct {
	Match        domain.Match
	Participants []domain.MatchParticipant
	Excluded     []string
}

// RatingUpdate is the new rating of one participant after a recorded match.
type RatingUpdate struct {
	PlayerID      string
	Won           bool
	OldRating     float64
	OldRD         float64
	OldVolatility float64
	NewRating     float64
	NewRD         float64
	NewVolatility float64
}

// SaveShuffle stores the match, its participants and the exclusion
// bookkeeping in one transaction.
func (r *MatchRepository) SaveShuffle(ctx context.Context, shuffle ShuffledMatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m := shuffle.Match
	_, err = tx.ExecContext(ctx, `INSERT INTO matches
		(match_id, scope, state, winning_team, rating_a, rating_b, rating_difference, role_penalty,
		cost_score, created_at, resolved_at)
		VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, NULL)`,
		m.MatchID, m.Scope, domain.MatchStateShuffled, m.RatingA, m.RatingB, m.RatingDifference, m.RolePenalty,
		m.CostScore, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match %s: %w", m.MatchID, err)
	}

	included := make([]string, 0, len(shuffle.Participants))
	for _, p := range shuffle.Participants {
		_, err := tx.ExecContext(ctx, `INSERT INTO match_participants (match_id, player_id, team, role, won)
			VALUES (?, ?, ?, ?, NULL)`, m.MatchID, p.PlayerID, p.Team, p.Role)
		if err != nil {
			return fmt.Errorf("failed to insert participant %s/%s: %w", m.MatchID, p.PlayerID, err)
		}
		included = append(included, p.PlayerID)
	}

	if err := updateExclusions(ctx, tx, included, shuffle.Excluded); err != nil {
		return err
	}

	r.logger.Debug().
		Str("match_id", m.MatchID).
		Str("scope", m.Scope).
		Int("participants", len(shuffle.Participants)).
		Int("excluded", len(shuffle.Excluded)).
		Msg("shuffle stored")
	return tx.Commit()
}

// RecordResult resolves a shuffled match: match row, participant results,
// player ratings, win/loss counters and rating history change together or
// not at all.
func (r *MatchRepository) RecordResult(ctx context.Context, matchID string, winner domain.Team, resolvedAt time.Time, updates []RatingUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := resolveMatch(ctx, tx, matchID, domain.MatchStateRecorded, &winner, resolvedAt); err != nil {
		return err
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE match_participants SET won = ? WHERE match_id = ? AND player_id = ?`,
			u.Won, matchID, u.PlayerID); err != nil {
			return fmt.Errorf("failed to set result of %s: %w", u.PlayerID, err)
		}

		wins, losses := 0, 1
		if u.Won {
			wins, losses = 1, 0
		}
		res, err := tx.ExecContext(ctx, `UPDATE players SET glicko_rating = ?, glicko_rd = ?, glicko_volatility = ?,
			wins = wins + ?, losses = losses + ?, updated_at = ? WHERE id = ?`,
			u.NewRating, u.NewRD, u.NewVolatility, wins, losses, resolvedAt, u.PlayerID)
		if err != nil {
			return fmt.Errorf("failed to update rating of %s: %w", u.PlayerID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrPlayerNotFound, u.PlayerID)
		}

		if err := r.history.insert(ctx, tx, domain.RatingHistory{
			PlayerID:      u.PlayerID,
			MatchID:       matchID,
			OldRating:     u.OldRating,
			OldRD:         u.OldRD,
			OldVolatility: u.OldVolatility,
			NewRating:     u.NewRating,
			NewRD:         u.NewRD,
			NewVolatility: u.NewVolatility,
			CreatedAt:     resolvedAt,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result of %s: %w", matchID, err)
	}
	r.logger.Info().Str("match_id", matchID).Str("winner", string(winner)).Int("players", len(updates)).Msg("match recorded")
	return nil
}

func (r *MatchRepository) Abort(ctx context.Context, matchID string, resolvedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := resolveMatch(ctx, tx, matchID, domain.MatchStateAborted, nil, resolvedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// PendingMatch is a shuffled match with everything needed to resume it.
type PendingMatch struct {
	Match        domain.Match
	Participants []domain.MatchParticipant
	Votes        []domain.MatchVote
}

// SaveVote stores a ballot on a shuffled match. A voter has at most one
// ballot per match.
func (r *MatchRepository) SaveVote(ctx context.Context, vote domain.MatchVote) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO match_votes (match_id, voter_id, outcome, admin, created_at)
		SELECT match_id, ?, ?, ?, ? FROM matches WHERE match_id = ? AND state = ?`,
		vote.VoterID, vote.Outcome, vote.Admin, vote.CreatedAt, vote.MatchID, domain.MatchStateShuffled)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s already voted on %s", ErrVoteExists, vote.VoterID, vote.MatchID)
		}
		return fmt.Errorf("failed to save vote on %s: %w", vote.MatchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no shuffled match %s", ErrMatchNotFound, vote.MatchID)
	}
	return nil
}

// Pending loads every match still shuffled, newest first.
func (r *MatchRepository) Pending(ctx context.Context) ([]PendingMatch, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT match_id, scope, state, winning_team, rating_a, rating_b,
		rating_difference, role_penalty, cost_score, created_at, resolved_at
		FROM matches WHERE state = ? ORDER BY created_at DESC`, domain.MatchStateShuffled)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending matches: %w", err)
	}
	var pending []PendingMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		pending = append(pending, PendingMatch{Match: *m})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending matches: %w", err)
	}

	for i := range pending {
		id := pending[i].Match.MatchID
		if pending[i].Participants, err = r.participants(ctx, id); err != nil {
			return nil, err
		}
		if pending[i].Votes, err = r.votes(ctx, id); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

func resolveMatch(ctx context.Context, tx *sql.Tx, matchID string, state domain.MatchState, winner *domain.Team, resolvedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE matches SET state = ?, winning_team = ?, resolved_at = ?
		WHERE match_id = ? AND state = ?`, state, winner, resolvedAt, matchID, domain.MatchStateShuffled)
	if err != nil {
		return fmt.Errorf("failed to resolve match %s: %w", matchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve match %s: %w", matchID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no shuffled match %s", ErrMatchNotFound, matchID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var (
		m          domain.Match
		winner     sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&m.MatchID, &m.Scope, &m.State, &winner, &m.RatingA, &m.RatingB,
		&m.RatingDifference, &m.RolePenalty, &m.CostScore, &m.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if winner.Valid {
		t := domain.Team(winner.String)
		m.WinningTeam = &t
	}
	if resolvedAt.Valid {
		m.ResolvedAt = &resolvedAt.Time
	}
	return &m, nil
}

func (r *MatchRepository) Get(ctx context.Context, matchID string) (*domain.Match, []domain.MatchParticipant, error) {
	m, err := scanMatch(r.db.QueryRowContext(ctx, `SELECT match_id, scope, state, winning_team, rating_a, rating_b,
		rating_difference, role_penalty, cost_score, created_at, resolved_at FROM matches WHERE match_id = ?`, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}

	participants, err := r.participants(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	return m, participants, nil
}

func (r *MatchRepository) participants(ctx context.Context, matchID string) ([]domain.MatchParticipant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT match_id, player_id, team, role, won FROM match_participants
		WHERE match_id = ? ORDER BY team, role`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants of %s: %w", matchID, err)
	}
	defer rows.Close()

	var participants []domain.MatchParticipant
	for rows.Next() {
		var (
			p   domain.MatchParticipant
			won sql.NullBool
		)
		if err := rows.Scan(&p.MatchID, &p.PlayerID, &p.Team, &p.Role, &won); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if won.Valid {
			p.Won = &won.Bool
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}

func (r *MatchRepository) votes(ctx context.Context, matchID string) ([]domain.MatchVote, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT match_id, voter_id, outcome, admin, created_at FROM match_votes
		WHERE match_id = ? ORDER BY created_at, voter_id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes of %s: %w", matchID, err)
	}
	defer rows.Close()

	var votes []domain.MatchVote
	for rows.Next() {
		var v domain.MatchVote
		if err := rows.Scan(&v.MatchID, &v.VoterID, &v.Outcome, &v.Admin, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate votes: %w", err)
	}
	return votes, nil
}

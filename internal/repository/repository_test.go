package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cama-shuffle/internal/database"
	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/glicko"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type repos struct {
	players *PlayerRepository
	matches *MatchRepository
	history *RatingHistoryRepository
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRepos(t *testing.T) repos {
	db := openTestDB(t)
	history := NewRatingHistoryRepository(db, zerolog.Nop())
	return repos{
		players: NewPlayerRepository(db, zerolog.Nop()),
		matches: NewMatchRepository(db, history, zerolog.Nop()),
		history: history,
	}
}

func seedPlayers(t *testing.T, r repos, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i)
		rating, rd, vol := 1500.0, 350.0, 0.06
		require.NoError(t, r.players.Create(ctx, &domain.Player{
			ID:               ids[i],
			DisplayName:      "Player " + ids[i],
			PreferredRoles:   []domain.Role{domain.Role(i%5 + 1)},
			GlickoRating:     &rating,
			GlickoRD:         &rd,
			GlickoVolatility: &vol,
		}))
	}
	return ids
}

func TestPlayerRepository_CreateAndGet(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	steamID := int64(76561198000000001)
	player := &domain.Player{
		ID:             "42",
		DisplayName:    "Puck",
		SteamID:        &steamID,
		PreferredRoles: []domain.Role{domain.RoleMid, domain.RoleOff},
	}
	require.NoError(t, r.players.Create(ctx, player))

	got, err := r.players.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "Puck", got.DisplayName)
	require.NotNil(t, got.SteamID)
	assert.Equal(t, steamID, *got.SteamID)
	assert.Equal(t, []domain.Role{domain.RoleMid, domain.RoleOff}, got.PreferredRoles)
	assert.False(t, got.Rated())
	assert.Nil(t, got.MMR)

	err = r.players.Create(ctx, player)
	assert.True(t, errors.Is(err, ErrPlayerExists), "got %v", err)

	_, err = r.players.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrPlayerNotFound))
}

func TestPlayerRepository_Updates(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	steamID := int64(1)
	require.NoError(t, r.players.Create(ctx, &domain.Player{ID: "a", DisplayName: "A", SteamID: &steamID}))
	require.NoError(t, r.players.Create(ctx, &domain.Player{ID: "b", DisplayName: "B"}))

	unrated, err := r.players.ListUnrated(ctx)
	require.NoError(t, err)
	require.Len(t, unrated, 1)
	assert.Equal(t, "a", unrated[0].ID)

	mmr := 5200
	require.NoError(t, r.players.SetSeed(ctx, "a", &mmr, glicko.Rating{Value: 1300, Deviation: 350, Volatility: 0.06}))
	require.NoError(t, r.players.UpdateRoles(ctx, "a", []domain.Role{domain.RoleHard}))

	got, err := r.players.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, got.Rated())
	assert.Equal(t, 1300.0, *got.GlickoRating)
	assert.Equal(t, 5200, *got.MMR)
	assert.Equal(t, []domain.Role{domain.RoleHard}, got.PreferredRoles)

	unrated, err = r.players.ListUnrated(ctx)
	require.NoError(t, err)
	assert.Empty(t, unrated)

	err = r.players.UpdateRoles(ctx, "missing", nil)
	assert.True(t, errors.Is(err, ErrPlayerNotFound))
}

func TestPlayerRepository_GetByIDs(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	seedPlayers(t, r, 4)

	players, err := r.players.GetByIDs(ctx, []string{"p03", "p00", "p02"})
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, "p03", players[0].ID)
	assert.Equal(t, "p00", players[1].ID)
	assert.Equal(t, "p02", players[2].ID)

	_, err = r.players.GetByIDs(ctx, []string{"p00", "nobody"})
	assert.True(t, errors.Is(err, ErrPlayerNotFound))
}

func TestMatchRepository_ShuffleAndRecord(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	ids := seedPlayers(t, r, 12)

	// Pre-existing exclusion counts: p00 was benched twice before.
	require.NoError(t, r.players.UpdateExclusions(ctx, nil, []string{"p00", "p00", "p00"}))

	shuffle := ShuffledMatch{
		Match: domain.Match{
			MatchID:   "m1",
			Scope:     "guild",
			CreatedAt: time.Now().UTC(),
		},
		Excluded: ids[10:],
	}
	for i, id := range ids[:10] {
		team := domain.TeamA
		if i >= 5 {
			team = domain.TeamB
		}
		shuffle.Participants = append(shuffle.Participants, domain.MatchParticipant{
			MatchID:  "m1",
			PlayerID: id,
			Team:     team,
			Role:     domain.Role(i%5 + 1),
		})
	}
	require.NoError(t, r.matches.SaveShuffle(ctx, shuffle))

	p00, err := r.players.Get(ctx, "p00")
	require.NoError(t, err)
	assert.Equal(t, 1, p00.ExclusionCount)
	p10, err := r.players.Get(ctx, "p10")
	require.NoError(t, err)
	assert.Equal(t, 1, p10.ExclusionCount)

	var updates []RatingUpdate
	for i, id := range ids[:10] {
		won := i < 5
		next := 1480.0
		if won {
			next = 1520
		}
		updates = append(updates, RatingUpdate{
			PlayerID:      id,
			Won:           won,
			OldRating:     1500,
			OldRD:         350,
			OldVolatility: 0.06,
			NewRating:     next,
			NewRD:         300,
			NewVolatility: 0.06,
		})
	}
	resolvedAt := time.Now().UTC()
	require.NoError(t, r.matches.RecordResult(ctx, "m1", domain.TeamA, resolvedAt, updates))

	match, participants, err := r.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStateRecorded, match.State)
	require.NotNil(t, match.WinningTeam)
	assert.Equal(t, domain.TeamA, *match.WinningTeam)
	require.NotNil(t, match.ResolvedAt)
	require.Len(t, participants, 10)
	for _, p := range participants {
		require.NotNil(t, p.Won)
		assert.Equal(t, p.Team == domain.TeamA, *p.Won)
	}

	winner, err := r.players.Get(ctx, "p01")
	require.NoError(t, err)
	assert.Equal(t, 1520.0, *winner.GlickoRating)
	assert.Equal(t, 1, winner.Wins)
	loser, err := r.players.Get(ctx, "p07")
	require.NoError(t, err)
	assert.Equal(t, 1480.0, *loser.GlickoRating)
	assert.Equal(t, 1, loser.Losses)

	history, err := r.history.GetByPlayer(ctx, "p01", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m1", history[0].MatchID)
	assert.Equal(t, 1500.0, history[0].OldRating)
	assert.Equal(t, 1520.0, history[0].NewRating)
	assert.NotEmpty(t, history[0].ID)

	// Already recorded: nothing changes.
	err = r.matches.RecordResult(ctx, "m1", domain.TeamB, resolvedAt, updates)
	assert.True(t, errors.Is(err, ErrMatchNotFound))
	winner, err = r.players.Get(ctx, "p01")
	require.NoError(t, err)
	assert.Equal(t, 1, winner.Wins)
}

func TestMatchRepository_RecordIsAtomic(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	ids := seedPlayers(t, r, 2)

	require.NoError(t, r.matches.SaveShuffle(ctx, ShuffledMatch{
		Match: domain.Match{MatchID: "m1", Scope: "guild", CreatedAt: time.Now().UTC()},
		Participants: []domain.MatchParticipant{
			{MatchID: "m1", PlayerID: ids[0], Team: domain.TeamA, Role: domain.RoleCarry},
			{MatchID: "m1", PlayerID: ids[1], Team: domain.TeamB, Role: domain.RoleCarry},
		},
	}))

	err := r.matches.RecordResult(ctx, "m1", domain.TeamA, time.Now().UTC(), []RatingUpdate{
		{PlayerID: ids[0], Won: true, NewRating: 1600, NewRD: 300, NewVolatility: 0.06},
		{PlayerID: "ghost", Won: false, NewRating: 1400, NewRD: 300, NewVolatility: 0.06},
	})
	require.Error(t, err)

	match, _, err := r.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStateShuffled, match.State)
	p, err := r.players.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1500.0, *p.GlickoRating)
	assert.Zero(t, p.Wins)
}

func TestMatchRepository_PendingAndVotes(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	ids := seedPlayers(t, r, 2)
	created := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, r.matches.SaveShuffle(ctx, ShuffledMatch{
			Match: domain.Match{
				MatchID:          id,
				Scope:            "guild",
				RatingA:          1510,
				RatingB:          1490,
				RatingDifference: 20,
				RolePenalty:      75,
				CostScore:        95,
				CreatedAt:        created.Add(time.Duration(i) * time.Minute),
			},
			Participants: []domain.MatchParticipant{
				{MatchID: id, PlayerID: ids[0], Team: domain.TeamA, Role: domain.RoleCarry},
				{MatchID: id, PlayerID: ids[1], Team: domain.TeamB, Role: domain.RoleMid},
			},
		}))
	}
	require.NoError(t, r.matches.Abort(ctx, "m1", time.Now().UTC()))
	err := r.matches.Abort(ctx, "m1", time.Now().UTC())
	assert.True(t, errors.Is(err, ErrMatchNotFound))

	vote := domain.MatchVote{MatchID: "m3", VoterID: "u1", Outcome: "team_b", CreatedAt: created}
	require.NoError(t, r.matches.SaveVote(ctx, vote))
	require.NoError(t, r.matches.SaveVote(ctx, domain.MatchVote{
		MatchID: "m3", VoterID: "admin", Outcome: "aborted", Admin: true, CreatedAt: created.Add(time.Second),
	}))

	tests := []struct {
		name string
		vote domain.MatchVote
		want error
	}{
		{name: "second ballot", vote: vote, want: ErrVoteExists},
		{name: "resolved match", vote: domain.MatchVote{MatchID: "m1", VoterID: "u1", Outcome: "team_a", CreatedAt: created}, want: ErrMatchNotFound},
		{name: "unknown match", vote: domain.MatchVote{MatchID: "m9", VoterID: "u1", Outcome: "team_a", CreatedAt: created}, want: ErrMatchNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.matches.SaveVote(ctx, tt.vote)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	pending, err := r.matches.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "m3", pending[0].Match.MatchID)
	assert.Equal(t, "m2", pending[1].Match.MatchID)

	m3 := pending[0]
	assert.Equal(t, 1510.0, m3.Match.RatingA)
	assert.Equal(t, 1490.0, m3.Match.RatingB)
	assert.Equal(t, 75.0, m3.Match.RolePenalty)
	require.Len(t, m3.Participants, 2)
	assert.Equal(t, domain.RoleMid, m3.Participants[1].Role)
	require.Len(t, m3.Votes, 2)
	assert.Equal(t, "u1", m3.Votes[0].VoterID)
	assert.Equal(t, "aborted", m3.Votes[1].Outcome)
	assert.True(t, m3.Votes[1].Admin)
	assert.Empty(t, pending[1].Votes)

	_, _, err = r.matches.Get(ctx, "m9")
	assert.True(t, errors.Is(err, ErrMatchNotFound))
}

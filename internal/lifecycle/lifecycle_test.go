package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"cama-shuffle/internal/balance"
	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/glicko"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guild = "guild-1"

func newRegistry() *Registry {
	return NewRegistry(DefaultConfig(), balance.New(balance.DefaultConfig()), glicko.New(glicko.DefaultConfig()))
}

func playerID(i int) string { return fmt.Sprintf("p%02d", i) }

// loadEven rates everyone 1500/350/0.06 and gives player i the role i%5+1.
func loadEven(_ context.Context, ids []string) ([]balance.PlayerSnapshot, error) {
	roster := make([]balance.PlayerSnapshot, 0, len(ids))
	for i, id := range ids {
		roster = append(roster, balance.PlayerSnapshot{
			ID:             id,
			DisplayName:    id,
			Rating:         glicko.Rating{Value: 1500, Deviation: 350, Volatility: 0.06},
			PreferredRoles: []domain.Role{domain.Role(i%5 + 1)},
		})
	}
	return roster, nil
}

func fill(t *testing.T, r *Registry, name string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := r.Join(name, playerID(i))
		require.NoError(t, err)
	}
}

func shuffled(t *testing.T, r *Registry, name string) *MatchRecord {
	t.Helper()
	fill(t, r, name, 10)
	record, err := r.Shuffle(context.Background(), name, loadEven, nil)
	require.NoError(t, err)
	return record
}

func TestLobby(t *testing.T) {
	r := newRegistry()

	fill(t, r, guild, 9)
	assert.False(t, r.Ready(guild))

	_, err := r.Join(guild, playerID(3))
	assert.True(t, errors.Is(err, ErrAlreadyInLobby))

	n, err := r.Join(guild, playerID(9))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.True(t, r.Ready(guild))

	_, err = r.Join(guild, playerID(10))
	require.NoError(t, err)
	_, err = r.Join(guild, playerID(11))
	require.NoError(t, err)
	_, err = r.Join(guild, playerID(12))
	assert.True(t, errors.Is(err, ErrLobbyFull))

	n, err = r.Leave(guild, playerID(0))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	_, err = r.Leave(guild, playerID(0))
	assert.True(t, errors.Is(err, ErrNotInLobby))

	assert.Equal(t, playerID(1), r.Lobby(guild)[0])
	r.Reset(guild)
	assert.Empty(t, r.Lobby(guild))
}

func TestShuffle_ReadyBoundary(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	fill(t, r, guild, 9)
	_, err := r.Shuffle(ctx, guild, loadEven, nil)
	assert.True(t, errors.Is(err, ErrInsufficientPlayers), "got %v", err)
	assert.Equal(t, StateOpen, r.State(guild))
	assert.Len(t, r.Lobby(guild), 9)

	_, err = r.Join(guild, playerID(9))
	require.NoError(t, err)
	record, err := r.Shuffle(ctx, guild, loadEven, nil)
	require.NoError(t, err)
	assert.Equal(t, StateShuffled, record.State)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, StateShuffled, r.State(guild))
	assert.Empty(t, r.Lobby(guild))
}

func TestShuffle_MatchInProgress(t *testing.T) {
	r := newRegistry()
	first := shuffled(t, r, guild)

	fill(t, r, guild, 10)
	_, err := r.Shuffle(context.Background(), guild, loadEven, nil)
	assert.True(t, errors.Is(err, ErrMatchInProgress))

	active, ok := r.Active(guild)
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)
	assert.Len(t, r.Lobby(guild), 10)
}

func TestShuffle_FailuresStayOpen(t *testing.T) {
	ctx := context.Background()
	loaderErr := errors.New("players table unavailable")

	tests := []struct {
		name   string
		load   RosterLoader
		commit CommitFunc
		want   error
	}{
		{
			name: "loader error",
			load: func(context.Context, []string) ([]balance.PlayerSnapshot, error) {
				return nil, loaderErr
			},
			want: loaderErr,
		},
		{
			name: "balancer rejects roster",
			load: func(ctx context.Context, ids []string) ([]balance.PlayerSnapshot, error) {
				roster, _ := loadEven(ctx, ids)
				return roster[:9], nil
			},
			want: ErrInsufficientPlayers,
		},
		{
			name: "commit error",
			load: loadEven,
			commit: func(context.Context, *MatchRecord) error {
				return loaderErr
			},
			want: loaderErr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry()
			fill(t, r, guild, 10)

			_, err := r.Shuffle(ctx, guild, tt.load, tt.commit)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, StateOpen, r.State(guild))
			assert.Len(t, r.Lobby(guild), 10)
			_, ok := r.Active(guild)
			assert.False(t, ok)
		})
	}
}

func TestRecord_EndToEnd(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	record := shuffled(t, r, guild)

	assert.Zero(t, record.Split.RatingDifference)
	assert.Zero(t, record.Split.RolePenalty)

	var commits int
	commit := func(_ context.Context, rec *MatchRecord) error {
		commits++
		assert.Equal(t, StateRecorded, rec.State)
		return nil
	}

	resolved, err := r.Record(ctx, guild, record.ID, domain.TeamA, nil, commit)
	require.NoError(t, err)
	assert.Equal(t, 1, commits)
	assert.Equal(t, StateRecorded, resolved.State)
	assert.Equal(t, OutcomeTeamA, resolved.Outcome)
	require.NotNil(t, resolved.ResolvedAt)
	require.Len(t, resolved.Deltas, 10)

	for _, d := range resolved.Deltas {
		team, ok := record.Split.TeamOf(d.PlayerID)
		require.True(t, ok)
		if team == domain.TeamA {
			assert.Greater(t, d.New.Value, 1500.0)
		} else {
			assert.Less(t, d.New.Value, 1500.0)
		}
		assert.Less(t, d.New.Deviation, 350.0)
	}
	assert.Equal(t, StateOpen, r.State(guild))

	_, err = r.Record(ctx, guild, record.ID, domain.TeamB, nil, commit)
	assert.True(t, errors.Is(err, ErrMatchAlreadyResolved), "got %v", err)
	_, err = r.Record(ctx, guild, "", domain.TeamA, nil, commit)
	assert.True(t, errors.Is(err, ErrMatchAlreadyResolved), "got %v", err)
	_, err = r.Abort(ctx, guild, record.ID, commit)
	assert.True(t, errors.Is(err, ErrMatchAlreadyResolved), "got %v", err)
	assert.Equal(t, 1, commits)
}

func TestRecord_NoActiveMatch(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	_, err := r.Record(ctx, guild, "", domain.TeamA, nil, nil)
	assert.True(t, errors.Is(err, ErrNoActiveMatch))

	shuffled(t, r, guild)
	_, err = r.Record(ctx, guild, "not-a-match", domain.TeamA, nil, nil)
	assert.True(t, errors.Is(err, ErrNoActiveMatch))
	assert.Equal(t, StateShuffled, r.State(guild))
}

func TestRecord_FailedCommitKeepsMatch(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	record := shuffled(t, r, guild)

	_, err := r.Record(ctx, guild, record.ID, domain.TeamB, nil, func(context.Context, *MatchRecord) error {
		return errors.New("disk full")
	})
	require.Error(t, err)
	assert.Equal(t, StateShuffled, r.State(guild))

	resolved, err := r.Record(ctx, guild, record.ID, domain.TeamB, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTeamB, resolved.Outcome)
}

func TestRecord_InvalidWinner(t *testing.T) {
	r := newRegistry()
	record := shuffled(t, r, guild)

	_, err := r.Record(context.Background(), guild, record.ID, domain.Team("radiant"), nil, nil)
	assert.True(t, errors.Is(err, glicko.ErrInvalidRatingPeriod), "got %v", err)
	assert.Equal(t, StateShuffled, r.State(guild))
}

func TestRecord_Concurrent(t *testing.T) {
	r := newRegistry()
	record := shuffled(t, r, guild)

	var commits, succeeded, resolvedErrs atomic.Int32
	commit := func(context.Context, *MatchRecord) error {
		commits.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winner := domain.TeamA
			if i%2 == 1 {
				winner = domain.TeamB
			}
			_, err := r.Record(context.Background(), guild, record.ID, winner, nil, commit)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrMatchAlreadyResolved):
				resolvedErrs.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(15), resolvedErrs.Load())
	assert.Equal(t, int32(1), commits.Load())
}

func TestRecord_RatesCurrentRatings(t *testing.T) {
	ctx := context.Background()

	loadAt := func(value float64) RosterLoader {
		return func(ctx context.Context, ids []string) ([]balance.PlayerSnapshot, error) {
			roster, _ := loadEven(ctx, ids)
			for i := range roster {
				roster[i].Rating.Value = value
			}
			return roster, nil
		}
	}

	tests := []struct {
		name    string
		load    RosterLoader
		wantOld float64
		wantErr bool
	}{
		{name: "shuffle snapshot without a loader", wantOld: 1500},
		{name: "loader ratings replace the snapshot", load: loadAt(1800), wantOld: 1800},
		{
			name: "loader error keeps the match",
			load: func(context.Context, []string) ([]balance.PlayerSnapshot, error) {
				return nil, errors.New("players table unavailable")
			},
			wantErr: true,
		},
		{
			name: "short roster keeps the match",
			load: func(ctx context.Context, ids []string) ([]balance.PlayerSnapshot, error) {
				roster, _ := loadEven(ctx, ids)
				return roster[1:], nil
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry()
			record := shuffled(t, r, guild)

			resolved, err := r.Record(ctx, guild, record.ID, domain.TeamA, tt.load, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, StateShuffled, r.State(guild))
				return
			}
			require.NoError(t, err)
			require.Len(t, resolved.Deltas, 10)
			for _, d := range resolved.Deltas {
				assert.Equal(t, tt.wantOld, d.Old.Value, d.PlayerID)
			}
		})
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	source := newRegistry()
	record := shuffled(t, source, guild)
	record.Votes = map[string]Vote{"u1": {Outcome: OutcomeTeamB}}

	r := newRegistry()
	require.NoError(t, r.Restore(record))
	assert.Equal(t, StateShuffled, r.State(guild))

	err := r.Restore(record)
	assert.True(t, errors.Is(err, ErrMatchInProgress), "got %v", err)

	resolved := *record
	resolved.State = StateRecorded
	assert.Error(t, r.Restore(&resolved))

	// The restored ballot still counts and still cannot change.
	_, err = r.SubmitVote(ctx, guild, "u1", OutcomeTeamA, false, VoteHooks{})
	assert.True(t, errors.Is(err, ErrConflictingVote), "got %v", err)
	res, err := r.SubmitVote(ctx, guild, "u2", OutcomeTeamB, false, VoteHooks{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tally[OutcomeTeamB])
}

func TestAbort(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	record := shuffled(t, r, guild)

	aborted, err := r.Abort(ctx, guild, "", nil)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, aborted.State)
	assert.Equal(t, OutcomeAborted, aborted.Outcome)
	assert.Empty(t, aborted.Deltas)
	assert.Equal(t, record.ID, aborted.ID)
	assert.Equal(t, StateOpen, r.State(guild))

	_, err = r.Record(ctx, guild, record.ID, domain.TeamA, nil, nil)
	assert.True(t, errors.Is(err, ErrMatchAlreadyResolved))

	// A new shuffle is possible after the abort.
	next := shuffled(t, r, guild)
	assert.NotEqual(t, record.ID, next.ID)
}

func TestSubmitVote(t *testing.T) {
	ctx := context.Background()

	t.Run("non-admin votes reach the threshold", func(t *testing.T) {
		r := newRegistry()
		shuffled(t, r, guild)

		res, err := r.SubmitVote(ctx, guild, "u1", OutcomeTeamA, false, VoteHooks{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNone, res.Decided)
		assert.Equal(t, 1, res.Tally[OutcomeTeamA])

		// Repeating a vote is allowed and does not count twice.
		res, err = r.SubmitVote(ctx, guild, "u1", OutcomeTeamA, false, VoteHooks{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Tally[OutcomeTeamA])

		_, err = r.SubmitVote(ctx, guild, "u1", OutcomeTeamB, false, VoteHooks{})
		assert.True(t, errors.Is(err, ErrConflictingVote))

		res, err = r.SubmitVote(ctx, guild, "u2", OutcomeTeamB, false, VoteHooks{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNone, res.Decided)

		_, err = r.SubmitVote(ctx, guild, "u3", OutcomeTeamA, false, VoteHooks{})
		require.NoError(t, err)
		res, err = r.SubmitVote(ctx, guild, "u4", OutcomeTeamA, false, VoteHooks{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeTeamA, res.Decided)
		require.NotNil(t, res.Record)
		assert.Equal(t, StateRecorded, res.Record.State)
		assert.Len(t, res.Record.Deltas, 10)
		assert.Len(t, res.Record.Votes, 4)

		_, err = r.SubmitVote(ctx, guild, "u5", OutcomeTeamA, false, VoteHooks{})
		assert.True(t, errors.Is(err, ErrMatchAlreadyResolved))
	})

	t.Run("admin decides at once", func(t *testing.T) {
		r := newRegistry()
		shuffled(t, r, guild)

		res, err := r.SubmitVote(ctx, guild, "u1", OutcomeTeamA, false, VoteHooks{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNone, res.Decided)

		res, err = r.SubmitVote(ctx, guild, "admin", OutcomeAborted, true, VoteHooks{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeAborted, res.Decided)
		assert.Equal(t, StateAborted, res.Record.State)
		assert.Zero(t, res.Tally[OutcomeAborted])
		assert.Equal(t, StateOpen, r.State(guild))
	})

	t.Run("new ballots are saved once", func(t *testing.T) {
		r := newRegistry()
		record := shuffled(t, r, guild)

		var saved []string
		hooks := VoteHooks{Save: func(_ context.Context, matchID, voter string, vote Vote) error {
			assert.Equal(t, record.ID, matchID)
			saved = append(saved, voter+"="+string(vote.Outcome))
			return nil
		}}
		for _, voter := range []string{"u1", "u1", "u2"} {
			_, err := r.SubmitVote(ctx, guild, voter, OutcomeTeamA, false, hooks)
			require.NoError(t, err)
		}
		assert.Equal(t, []string{"u1=team_a", "u2=team_a"}, saved)
	})

	t.Run("failed save is not counted", func(t *testing.T) {
		r := newRegistry()
		shuffled(t, r, guild)

		hooks := VoteHooks{Save: func(context.Context, string, string, Vote) error {
			return errors.New("disk full")
		}}
		_, err := r.SubmitVote(ctx, guild, "admin", OutcomeTeamA, true, hooks)
		require.Error(t, err)
		assert.Equal(t, StateShuffled, r.State(guild))

		active, ok := r.Active(guild)
		require.True(t, ok)
		assert.Empty(t, active.Votes)
	})

	t.Run("invalid outcome", func(t *testing.T) {
		r := newRegistry()
		shuffled(t, r, guild)

		_, err := r.SubmitVote(ctx, guild, "u1", Outcome("draw"), false, VoteHooks{})
		assert.True(t, errors.Is(err, ErrInvalidOutcome))
	})

	t.Run("no match", func(t *testing.T) {
		r := newRegistry()
		_, err := r.SubmitVote(ctx, guild, "u1", OutcomeTeamA, false, VoteHooks{})
		assert.True(t, errors.Is(err, ErrNoActiveMatch))
	})
}

func TestScopesAreIndependent(t *testing.T) {
	r := newRegistry()
	shuffled(t, r, "guild-a")

	record := shuffled(t, r, "guild-b")
	assert.Equal(t, "guild-b", record.Scope)
	assert.Equal(t, StateShuffled, r.State("guild-a"))
	assert.Equal(t, StateShuffled, r.State("guild-b"))
	assert.Equal(t, StateOpen, r.State("guild-c"))
}

func TestActiveReturnsCopy(t *testing.T) {
	r := newRegistry()
	shuffled(t, r, guild)

	active, ok := r.Active(guild)
	require.True(t, ok)
	active.Votes["intruder"] = Vote{Outcome: OutcomeTeamA, Admin: true}

	again, _ := r.Active(guild)
	assert.NotContains(t, again.Votes, "intruder")
}

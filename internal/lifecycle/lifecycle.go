// Package lifecycle drives a match from an open lobby through the shuffle to
// a recorded or aborted result. Each scope (one guild, one channel) has at
// most one unresolved match; all transitions for a scope are serialized.
package lifecycle

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"cama-shuffle/internal/balance"
	"cama-shuffle/internal/domain"
	"cama-shuffle/internal/glicko"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

type State string

const (
	StateOpen     State = "open"
	StateShuffled State = "shuffled"
	StateRecorded State = "recorded"
	StateAborted  State = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRecorded || s == StateAborted
}

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeTeamA   Outcome = Outcome(domain.TeamA)
	OutcomeTeamB   Outcome = Outcome(domain.TeamB)
	OutcomeAborted Outcome = "aborted"
)

func (o Outcome) Valid() bool {
	return o == OutcomeTeamA || o == OutcomeTeamB || o == OutcomeAborted
}

// Winner returns the winning team for a decided result.
func (o Outcome) Winner() (domain.Team, bool) {
	t := domain.Team(o)
	return t, t.Valid()
}

type MatchRecord struct {
	ID         string               `json:"id"`
	Scope      string               `json:"scope"`
	Split      *balance.TeamSplit   `json:"split"`
	State      State                `json:"state"`
	Outcome    Outcome              `json:"outcome,omitempty"`
	Deltas     []glicko.RatingDelta `json:"deltas,omitempty"`
	Votes      map[string]Vote      `json:"votes,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	ResolvedAt *time.Time           `json:"resolved_at,omitempty"`
}

func (r *MatchRecord) clone() *MatchRecord {
	c := *r
	c.Deltas = slices.Clone(r.Deltas)
	c.Votes = maps.Clone(r.Votes)
	return &c
}

// Participants lists the players of both teams with their shuffle-time ratings.
func (r *MatchRecord) Participants() []glicko.Participant {
	out := make([]glicko.Participant, 0, balance.MatchSize)
	for _, team := range []domain.Team{domain.TeamA, domain.TeamB} {
		for _, p := range r.Split.Team(team) {
			out = append(out, glicko.Participant{ID: p.ID, Team: team, Rating: p.Rating})
		}
	}
	return out
}

// Shuffler produces a split from a roster.
type Shuffler interface {
	Shuffle(roster []balance.PlayerSnapshot) (*balance.TeamSplit, error)
}

// Rater turns a match result into rating deltas.
type Rater interface {
	UpdateRatings(participants []glicko.Participant, winner domain.Team) ([]glicko.RatingDelta, error)
}

// RosterLoader resolves lobby ids into snapshots.
type RosterLoader func(ctx context.Context, playerIDs []string) ([]balance.PlayerSnapshot, error)

// CommitFunc persists a transition. It runs under the scope lock and the
// transition is applied only when it returns nil.
type CommitFunc func(ctx context.Context, record *MatchRecord) error

// VoteFunc persists one ballot of a pending match before it is counted.
type VoteFunc func(ctx context.Context, matchID, voter string, vote Vote) error

type Config struct {
	ReadyThreshold int
	MaxPlayers     int
	MinResultVotes int
}

func DefaultConfig() Config {
	return Config{
		ReadyThreshold: balance.MatchSize,
		MaxPlayers:     12,
		MinResultVotes: 3,
	}
}

type Registry struct {
	cfg      Config
	shuffler Shuffler
	rater    Rater
	now      func() time.Time

	mu     sync.Mutex
	scopes map[string]*scope

	// rating periods run one at a time across scopes, a player can sit in
	// pending matches of several scopes.
	rateMu sync.Mutex
}

type scope struct {
	mu    sync.Mutex
	lobby []string
	match *MatchRecord
	// last resolved match, kept to answer repeated result submissions.
	last *MatchRecord
}

func NewRegistry(cfg Config, shuffler Shuffler, rater Rater) *Registry {
	return &Registry{
		cfg:      cfg,
		shuffler: shuffler,
		rater:    rater,
		now:      time.Now,
		scopes:   make(map[string]*scope),
	}
}

func (r *Registry) readyThreshold() int {
	return max(r.cfg.ReadyThreshold, balance.MatchSize)
}

func (r *Registry) scope(name string) *scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[name]
	if !ok {
		s = &scope{}
		r.scopes[name] = s
	}
	return s
}

// State returns the scope's current state; a scope without an unresolved
// match is open.
func (r *Registry) State(name string) State {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match != nil {
		return s.match.State
	}
	return StateOpen
}

// Active returns a copy of the unresolved match, if any.
func (r *Registry) Active(name string) (*MatchRecord, bool) {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match == nil {
		return nil, false
	}
	return s.match.clone(), true
}

// Shuffle moves an open scope with a ready lobby to Shuffled. The lobby is
// cleared once commit succeeds; on any error the scope stays open with its
// lobby untouched.
func (r *Registry) Shuffle(ctx context.Context, name string, load RosterLoader, commit CommitFunc) (*MatchRecord, error) {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match != nil {
		return nil, eris.Wrapf(ErrMatchInProgress, "scope %s has match %s", name, s.match.ID)
	}
	threshold := r.readyThreshold()
	if len(s.lobby) < threshold {
		return nil, eris.Wrapf(ErrInsufficientPlayers, "lobby has %d of %d players", len(s.lobby), threshold)
	}

	roster, err := load(ctx, slices.Clone(s.lobby))
	if err != nil {
		return nil, eris.Wrap(err, "failed to load roster")
	}
	split, err := r.shuffler.Shuffle(roster)
	if err != nil {
		return nil, err
	}

	record := &MatchRecord{
		ID:        uuid.NewString(),
		Scope:     name,
		Split:     split,
		State:     StateShuffled,
		Votes:     make(map[string]Vote),
		CreatedAt: r.now(),
	}
	if commit != nil {
		if err := commit(ctx, record.clone()); err != nil {
			return nil, eris.Wrap(err, "failed to commit shuffle")
		}
	}

	s.match = record
	s.lobby = nil
	return record.clone(), nil
}

// Record resolves the unresolved match with winner. matchID may be empty to
// mean the current match. load resolves the participants' ratings as they
// are now; with a nil load the shuffle-time snapshots are rated. A second
// submission fails with ErrMatchAlreadyResolved.
func (r *Registry) Record(ctx context.Context, name, matchID string, winner domain.Team, load RosterLoader, commit CommitFunc) (*MatchRecord, error) {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.pending(name, matchID)
	if err != nil {
		return nil, err
	}
	return r.record(ctx, s, current, winner, load, commit)
}

func (r *Registry) record(ctx context.Context, s *scope, current *MatchRecord, winner domain.Team, load RosterLoader, commit CommitFunc) (*MatchRecord, error) {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()

	participants, err := currentParticipants(ctx, current, load)
	if err != nil {
		return nil, err
	}
	deltas, err := r.rater.UpdateRatings(participants, winner)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to rate match %s", current.ID)
	}

	resolved := current.clone()
	now := r.now()
	resolved.State = StateRecorded
	resolved.Outcome = Outcome(winner)
	resolved.Deltas = deltas
	resolved.ResolvedAt = &now
	return s.resolve(ctx, resolved, commit)
}

// currentParticipants keeps the teams of the split and takes each player's
// rating from load.
func currentParticipants(ctx context.Context, current *MatchRecord, load RosterLoader) ([]glicko.Participant, error) {
	participants := current.Participants()
	if load == nil {
		return participants, nil
	}

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	roster, err := load(ctx, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load ratings for match %s", current.ID)
	}
	if len(roster) != len(participants) {
		return nil, eris.Errorf("loaded %d of %d players for match %s", len(roster), len(participants), current.ID)
	}
	for i := range participants {
		if roster[i].ID != participants[i].ID {
			return nil, eris.Errorf("loaded player %s in place of %s", roster[i].ID, participants[i].ID)
		}
		participants[i].Rating = roster[i].Rating
	}
	return participants, nil
}

// Restore installs a shuffled match loaded from storage as its scope's
// unresolved match. The scope must not hold one already.
func (r *Registry) Restore(record *MatchRecord) error {
	if record == nil || record.Split == nil || record.State != StateShuffled {
		return eris.New("only a shuffled match with a split can be restored")
	}

	s := r.scope(record.Scope)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match != nil {
		return eris.Wrapf(ErrMatchInProgress, "scope %s has match %s", record.Scope, s.match.ID)
	}
	restored := record.clone()
	if restored.Votes == nil {
		restored.Votes = make(map[string]Vote)
	}
	s.match = restored
	return nil
}

// Abort resolves the unresolved match without touching ratings.
func (r *Registry) Abort(ctx context.Context, name, matchID string, commit CommitFunc) (*MatchRecord, error) {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.pending(name, matchID)
	if err != nil {
		return nil, err
	}
	return r.abort(ctx, s, current, commit)
}

func (r *Registry) abort(ctx context.Context, s *scope, current *MatchRecord, commit CommitFunc) (*MatchRecord, error) {
	resolved := current.clone()
	now := r.now()
	resolved.State = StateAborted
	resolved.Outcome = OutcomeAborted
	resolved.ResolvedAt = &now
	return s.resolve(ctx, resolved, commit)
}

func (s *scope) pending(name, matchID string) (*MatchRecord, error) {
	if s.match != nil && (matchID == "" || matchID == s.match.ID) {
		return s.match, nil
	}
	if s.last != nil && (matchID == "" || matchID == s.last.ID) {
		return nil, eris.Wrapf(ErrMatchAlreadyResolved, "match %s is %s", s.last.ID, s.last.State)
	}
	if matchID != "" {
		return nil, eris.Wrapf(ErrNoActiveMatch, "scope %s has no match %s", name, matchID)
	}
	return nil, eris.Wrapf(ErrNoActiveMatch, "scope %s", name)
}

func (s *scope) resolve(ctx context.Context, resolved *MatchRecord, commit CommitFunc) (*MatchRecord, error) {
	if commit != nil {
		if err := commit(ctx, resolved.clone()); err != nil {
			return nil, eris.Wrapf(err, "failed to commit %s match %s", resolved.State, resolved.ID)
		}
	}
	s.match = nil
	s.last = resolved
	return resolved.clone(), nil
}

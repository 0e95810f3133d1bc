package lifecycle

import (
	"context"

	"github.com/rotisserie/eris"
)

type Vote struct {
	Outcome Outcome `json:"outcome"`
	Admin   bool    `json:"admin"`
}

// VoteResult reports the non-admin tally after a vote. Decided stays
// OutcomeNone until the vote settled the match.
type VoteResult struct {
	Tally   map[Outcome]int `json:"tally"`
	Decided Outcome         `json:"decided,omitempty"`
	Record  *MatchRecord    `json:"record,omitempty"`
}

// VoteHooks connect SubmitVote to storage. Save runs for each new ballot;
// Load and Commit run once the vote decides the match, as in Record. Nil
// hooks are skipped.
type VoteHooks struct {
	Save   VoteFunc
	Load   RosterLoader
	Commit CommitFunc
}

// SubmitVote registers voter's result for the unresolved match. An admin vote
// decides at once; otherwise the first outcome to reach MinResultVotes
// non-admin votes decides. Once decided the match is recorded or aborted in
// the same call. A voter may repeat a vote but not change it.
func (r *Registry) SubmitVote(ctx context.Context, name, voter string, outcome Outcome, admin bool, hooks VoteHooks) (*VoteResult, error) {
	if !outcome.Valid() {
		return nil, eris.Wrapf(ErrInvalidOutcome, "%q", outcome)
	}

	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.pending(name, "")
	if err != nil {
		return nil, err
	}
	prev, voted := current.Votes[voter]
	if voted && prev.Outcome != outcome {
		return nil, eris.Wrapf(ErrConflictingVote, "voter %s chose %s", voter, prev.Outcome)
	}
	vote := Vote{Outcome: outcome, Admin: admin}
	if !voted && hooks.Save != nil {
		if err := hooks.Save(ctx, current.ID, voter, vote); err != nil {
			return nil, eris.Wrapf(err, "failed to save vote of %s", voter)
		}
	}
	if current.Votes == nil {
		current.Votes = make(map[string]Vote)
	}
	current.Votes[voter] = vote

	result := &VoteResult{Tally: tally(current.Votes)}
	if admin || result.Tally[outcome] >= max(r.cfg.MinResultVotes, 1) {
		result.Decided = outcome
	}
	if result.Decided == OutcomeNone {
		return result, nil
	}

	var resolved *MatchRecord
	if winner, ok := outcome.Winner(); ok {
		resolved, err = r.record(ctx, s, current, winner, hooks.Load, hooks.Commit)
	} else {
		resolved, err = r.abort(ctx, s, current, hooks.Commit)
	}
	if err != nil {
		return nil, err
	}
	result.Record = resolved
	return result, nil
}

func tally(votes map[string]Vote) map[Outcome]int {
	counts := map[Outcome]int{
		OutcomeTeamA:   0,
		OutcomeTeamB:   0,
		OutcomeAborted: 0,
	}
	for _, v := range votes {
		if !v.Admin {
			counts[v.Outcome]++
		}
	}
	return counts
}

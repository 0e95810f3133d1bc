package balance

// split lists the indices (into the id-sorted players) of team A. Team B is
// the complement.
type split [TeamSize]int

var (
	// Every split keeps player 0 on team A, so each bipartition appears once.
	canonicalSplits = buildSplits()
	// All role orders for one team, in lexical order.
	permutations = buildPermutations()
)

func buildSplits() []split {
	var out []split
	var cur split
	var walk func(pos, next int)
	walk = func(pos, next int) {
		if pos == TeamSize {
			out = append(out, cur)
			return
		}
		for i := next; i <= MatchSize-(TeamSize-pos); i++ {
			cur[pos] = i
			walk(pos+1, i+1)
		}
	}
	cur[0] = 0
	walk(1, 1)
	return out
}

func buildPermutations() [][TeamSize]int {
	var out [][TeamSize]int
	var cur [TeamSize]int
	var used [TeamSize]bool
	var walk func(pos int)
	walk = func(pos int) {
		if pos == TeamSize {
			out = append(out, cur)
			return
		}
		for i := 0; i < TeamSize; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			cur[pos] = i
			walk(pos + 1)
			used[i] = false
		}
	}
	walk(0)
	return out
}

func (e *evaluation) score(index int, s split) candidate {
	var inA [MatchSize]bool
	for _, p := range s {
		inA[p] = true
	}
	var a, b [TeamSize]int
	na, nb := 0, 0
	for p := 0; p < MatchSize; p++ {
		if inA[p] {
			a[na] = p
			na++
		} else {
			b[nb] = p
			nb++
		}
	}

	roleA, penA := e.assign(a)
	roleB, penB := e.assign(b)
	ratingA, ratingB := e.sum(a), e.sum(b)
	diff := ratingA - ratingB
	penalty := penA + penB

	return candidate{
		index:   index,
		teamA:   roleA,
		teamB:   roleB,
		ratingA: ratingA,
		ratingB: ratingB,
		penalty: penalty,
		cost:    diff*diff + e.weight*penalty,
	}
}

func (e *evaluation) sum(team [TeamSize]int) float64 {
	total := 0.0
	for _, p := range team {
		total += e.ratings[p]
	}
	return total
}

// assign solves the 5×5 assignment for a team whose members are given in id
// order. It returns the player index per role and the total off-role penalty.
// Permutations are visited in lexical order and only a strictly lower penalty
// replaces the incumbent, so ties go to the lowest ids in role order.
func (e *evaluation) assign(team [TeamSize]int) ([TeamSize]int, float64) {
	var best [TeamSize]int
	bestPenalty := -1.0
	for _, perm := range permutations {
		penalty := 0.0
		for role, member := range perm {
			penalty += e.costs[team[member]][role]
		}
		if bestPenalty < 0 || penalty < bestPenalty {
			bestPenalty = penalty
			for role, member := range perm {
				best[role] = team[member]
			}
		}
	}
	return best, bestPenalty
}

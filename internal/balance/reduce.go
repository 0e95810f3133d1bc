package balance

import "slices"

// Reduce picks MatchSize players from roster. Players who have sat out more
// shuffles (higher ExclusionCount) are picked first; equal counts keep their
// roster order, so earlier joiners win. Selected players keep roster order and
// excluded players are returned in pick order.
func Reduce(roster []PlayerSnapshot) (selected, excluded []PlayerSnapshot) {
	if len(roster) <= MatchSize {
		return slices.Clone(roster), nil
	}

	order := make([]int, len(roster))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(x, y int) int {
		return roster[y].ExclusionCount - roster[x].ExclusionCount
	})

	picked := make([]bool, len(roster))
	for _, i := range order[:MatchSize] {
		picked[i] = true
	}
	for i, p := range roster {
		if picked[i] {
			selected = append(selected, p)
		}
	}
	for _, i := range order[MatchSize:] {
		excluded = append(excluded, roster[i])
	}
	return selected, excluded
}

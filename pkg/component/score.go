package component

// ComputeDependencyScores assigns every component in r a total, deterministic
// ordering value: the number of transitive needed_by ancestors, plus a small
// tiebreaker from the URI's lexical rank; depth in the graph is not part of
// the score. A component's score counts
// everything that transitively needs it, so a dependency always scores at
// least as high as anything that needs it, which is what lets the planner
// sort a start list dependency-first and a stop list dependency-last by the
// same key.
//
// "Transitive needed_by ancestors" is computed with a memoized DFS rather
// than a fixed-point iteration: cycles (which wiring's closure step can, in
// principle, introduce for mutually-needed services) are broken by treating
// a component already on the current path as contributing zero further
// ancestors, so the function always terminates.
func ComputeDependencyScores(r *Registry) {
	all := r.All()
	visiting := map[string]bool{}
	memo := map[string]int{}

	var ancestors func(c Component) int
	ancestors = func(c Component) int {
		if v, ok := memo[c.URI()]; ok {
			return v
		}
		if visiting[c.URI()] {
			return 0
		}
		visiting[c.URI()] = true
		defer delete(visiting, c.URI())

		total := 0
		for dependent := range c.NeededBy() {
			d, ok := r.Get(dependent)
			if !ok {
				continue
			}
			total += 1 + ancestors(d)
		}
		memo[c.URI()] = total
		return total
	}

	for _, c := range all {
		score := ancestors(c)
		// Tiebreaker: order URIs lexically within an equal-ancestor tier so
		// that sorting defined_services is stable across runs.
		score = score*len(all) + lexicalTiebreak(all, c.URI())
		c.SetDependencyScore(score)
	}
}

// lexicalTiebreak returns the rank of uri among all component URIs, sorted
// lexically. It is small relative to len(all), so multiplying the ancestor
// count by len(all) keeps tiers from colliding with the tiebreaker.
func lexicalTiebreak(all []Component, target string) int {
	for i, c := range all {
		if c.URI() == target {
			return i
		}
	}
	return 0
}

// SortByScoreAsc sorts components by ascending dependency score (dependent
// before dependency), the order `stop` uses.
func SortByScoreAsc(components []Component) {
	sortComponents(components, true)
}

// SortByScoreDesc sorts components by descending dependency score
// (dependency before dependent), the order `start` uses.
func SortByScoreDesc(components []Component) {
	sortComponents(components, false)
}

func sortComponents(components []Component, ascending bool) {
	insertionSort(components, ascending)
}

// insertionSort keeps the sort stable and dependency-free; plan sizes are
// small (hosts/services in a selector), so O(n^2) is not a concern.
func insertionSort(components []Component, ascending bool) {
	for i := 1; i < len(components); i++ {
		j := i
		for j > 0 && less(components[j], components[j-1], ascending) {
			components[j], components[j-1] = components[j-1], components[j]
			j--
		}
	}
}

func less(a, b Component, ascending bool) bool {
	if a.DependencyScore() == b.DependencyScore() {
		return a.URI() < b.URI()
	}
	if ascending {
		return a.DependencyScore() < b.DependencyScore()
	}
	return a.DependencyScore() > b.DependencyScore()
}

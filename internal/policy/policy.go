// Package policy implements the recursive admission heuristic the bouncer
// client runs against every patron: given the patron's attribute bitmask,
// the outstanding per-attribute goals, and remaining capacity, decide
// accept or reject.
package policy

import "math"

// Goal is one outstanding per-attribute quota: Num more patrons carrying
// Attr are still needed.
type Goal struct {
	Attr int
	Num  int64
}

// L is the estimated number of arrivals needed to satisfy this goal at its
// attribute's marginal rate; infinite when that marginal is zero.
func (g Goal) L(marginal float64) float64 {
	if marginal <= 0 {
		return math.Inf(1)
	}
	return math.Ceil(float64(g.Num) / marginal)
}

// Model is the static distribution a game type was registered with: one
// marginal per attribute and the full pairwise correlation matrix
// (row-major, N*N).
type Model struct {
	N         int
	Marginals []float64
	Corr      []float64 // N*N row-major
}

func (m Model) marginal(attr int) float64 {
	return m.Marginals[attr]
}

func (m Model) correlation(a, b int) float64 {
	return m.Corr[a*m.N+b]
}

// CondProb computes P(a=1 | given=1) via the linear-interpolation heuristic
// specified for this policy: not a Bayesian update, a fixed ad-hoc formula
// that must be reproduced exactly.
func (m Model) CondProb(a, given int) float64 {
	pa := m.marginal(a)
	r := m.correlation(a, given)
	if r < 0 {
		return pa * (1 + r)
	}
	return pa + r*(1-pa)
}

// hasAttr reports whether attrs (the patron's bitmask) carries attribute k.
func hasAttr(attrs uint32, k int) bool {
	return attrs&(1<<uint(k)) != 0
}

// Decide runs the recursive admission decision described for this policy.
// goals is consumed by value (copied internally); callers keep their own
// slice untouched. Recursion depth is bounded by len(goals), since each
// level drops exactly one goal.
func Decide(model Model, attrs uint32, goals []Goal, space int64) bool {
	if len(goals) == 0 {
		return space > 0
	}

	if space > 0 && requiredAttrMissing(attrs, goals, space) {
		return false
	}

	sorted := sortedByL(model, goals)
	hardest := sorted[0]

	if hardest.Num <= 0 {
		return space > 0
	}

	if hasAttr(attrs, hardest.Attr) {
		return true
	}

	rest := adjustRest(model, sorted[1:], hardest)
	return Decide(model, attrs, rest, space-hardest.Num)
}

// requiredAttrMissing reports whether the patron lacks an attribute that
// every remaining admission must carry: a goal whose outstanding count has
// caught up to the remaining space leaves no slack to skip it.
func requiredAttrMissing(attrs uint32, goals []Goal, space int64) bool {
	for _, g := range goals {
		if g.Num >= space && !hasAttr(attrs, g.Attr) {
			return true
		}
	}
	return false
}

// sortedByL returns a copy of goals sorted descending by estimated
// completion length, hardest first.
func sortedByL(model Model, goals []Goal) []Goal {
	sorted := make([]Goal, len(goals))
	copy(sorted, goals)

	ls := make([]float64, len(sorted))
	for i, g := range sorted {
		ls[i] = g.L(model.marginal(g.Attr))
	}

	// Insertion sort: goal counts are small (single digits in practice),
	// and stability keeps ties in a deterministic order.
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && ls[j] > ls[j-1] {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			ls[j], ls[j-1] = ls[j-1], ls[j]
			j--
		}
	}
	return sorted
}

// adjustRest estimates how much incidental progress accepting the hardest
// goal makes on every other goal, via the conditional-probability helper,
// and returns the reduced goal set for the recursive subproblem.
func adjustRest(model Model, rest []Goal, hardest Goal) []Goal {
	adjusted := make([]Goal, len(rest))
	for i, g := range rest {
		condP := model.CondProb(g.Attr, hardest.Attr)
		adj := int64(math.Ceil(float64(hardest.Num) * condP))
		adjusted[i] = Goal{Attr: g.Attr, Num: g.Num - adj}
	}
	return adjusted
}

// Update applies the post-accept bookkeeping: space shrinks by one, every
// goal the patron satisfied shrinks by one, and goals that reached zero are
// dropped.
func Update(attrs uint32, goals []Goal, space int64) ([]Goal, int64) {
	space--
	next := make([]Goal, 0, len(goals))
	for _, g := range goals {
		if hasAttr(attrs, g.Attr) {
			g.Num--
		}
		if g.Num > 0 {
			next = append(next, g)
		}
	}
	return next, space
}

package allocation

import "math/rand/v2"

// selection is a tie-broken pick.
type selection struct {
	exercise ScoredExercise
	// tiedCount is the size of the tied set the exercise was drawn from.
	tiedCount int
}

// selectWithTieBreaking returns a uniformly random pick among the candidates sharing the highest score.
func selectWithTieBreaking(candidates []ScoredExercise, rng *rand.Rand) (selection, bool) {
	if len(candidates) == 0 {
		return selection{}, false //nolint:exhaustruct // nothing to select.
	}
	best := candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score > best {
			best = c.Score
		}
	}
	var tied []ScoredExercise
	for _, c := range candidates {
		if c.Score == best {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return selection{exercise: tied[0], tiedCount: 1}, true
	}
	return selection{exercise: tied[rng.IntN(len(tied))], tiedCount: len(tied)}, true
}

// selectTopN tie-breaks up to n picks from candidates without repeating an exercise.
func selectTopN(candidates []ScoredExercise, n int, rng *rand.Rand) []selection {
	remaining := candidates
	var picks []selection
	for len(picks) < n {
		pick, ok := selectWithTieBreaking(remaining, rng)
		if !ok {
			break
		}
		picks = append(picks, pick)
		remaining = without(remaining, pick.exercise.ID)
	}
	return picks
}

// without returns a copy of exercises excluding id.
func without(exercises []ScoredExercise, id string) []ScoredExercise {
	out := make([]ScoredExercise, 0, len(exercises))
	for _, ex := range exercises {
		if ex.ID != id {
			out = append(out, ex)
		}
	}
	return out
}

// exclusion is a set of exercise IDs that may no longer be selected.
type exclusion map[string]struct{}

func newExclusion(ids ...string) exclusion {
	e := make(exclusion, len(ids))
	for _, id := range ids {
		e[id] = struct{}{}
	}
	return e
}

func (e exclusion) add(id string) {
	e[id] = struct{}{}
}

func (e exclusion) has(id string) bool {
	_, ok := e[id]
	return ok
}

// filter returns the candidates that are not excluded and satisfy keep.
func (e exclusion) filter(candidates []ScoredExercise, keep func(ScoredExercise) bool) []ScoredExercise {
	var out []ScoredExercise
	for _, c := range candidates {
		if !e.has(c.ID) && (keep == nil || keep(c)) {
			out = append(out, c)
		}
	}
	return out
}

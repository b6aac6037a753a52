package allocation

import (
	"cmp"
	"slices"
)

// fillRoundRobin cycles through the target muscles taking the best remaining exercise for each. A muscle leaves
// the rotation once its candidates are exhausted.
func (a *allocator) fillRoundRobin() {
	limit := min(a.cfg.RoundRobinTarget, a.cfg.TotalExercises)
	rotation := uniqueMuscles(a.req.Client.TargetMuscles)
	for len(rotation) > 0 && len(a.result.Exercises) < limit {
		var next []string
		for _, muscle := range rotation {
			if len(a.result.Exercises) >= limit {
				break
			}
			candidates := a.used.filter(a.req.Available, func(ex ScoredExercise) bool {
				return MatchesMuscle(ex.PrimaryMuscle, muscle)
			})
			sel, ok := selectWithTieBreaking(candidates, a.rng)
			if !ok {
				continue
			}
			a.take(sel, BucketMuscleTarget, muscle)
			if len(candidates) > 1 {
				next = append(next, muscle)
			}
		}
		rotation = next
	}
}

// fillDiversity fills the remaining slots one exercise at a time, preferring movement patterns absent from the
// selection and then the least represented ones. Candidates must work a target muscle as their primary muscle when
// the client has any. Slots left empty are a gap.
func (a *allocator) fillDiversity() {
	targets := uniqueMuscles(a.req.Client.TargetMuscles)
	want := a.room()
	defer func() {
		if filled := want - a.room(); filled < want {
			a.gap(BucketMovementDiversity, string(BucketMovementDiversity), want, filled)
		}
	}()

	for a.room() > 0 {
		picked := false
		for _, pattern := range a.diversityOrder() {
			candidates := a.used.filter(a.req.Available, func(ex ScoredExercise) bool {
				return normalize(ex.MovementPattern) == pattern &&
					(len(targets) == 0 || slices.ContainsFunc(targets, func(target string) bool {
						return MatchesMuscle(ex.PrimaryMuscle, target)
					}))
			})
			sel, ok := selectWithTieBreaking(candidates, a.rng)
			if !ok {
				continue
			}
			a.take(sel, BucketMovementDiversity, pattern)
			picked = true
			break
		}
		if !picked {
			return
		}
	}
}

// diversityOrder lists the diversity patterns missing from the current exercises in catalog order, followed by the
// present ones from least to most represented.
func (a *allocator) diversityOrder() []string {
	counts := make(map[string]int)
	for _, ex := range slices.Concat(exercisesOf(a.req.PreAssigned), exercisesOf(a.result.Exercises)) {
		counts[normalize(ex.MovementPattern)]++
	}
	var missing, present []string
	for _, p := range a.cfg.DiversityPatterns {
		if counts[p] == 0 {
			missing = append(missing, p)
		} else {
			present = append(present, p)
		}
	}
	slices.SortFunc(present, func(x, y string) int {
		return cmp.Or(cmp.Compare(counts[x], counts[y]), cmp.Compare(x, y))
	})
	return append(missing, present...)
}

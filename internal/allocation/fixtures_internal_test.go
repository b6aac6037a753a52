package allocation

import (
	"math/rand/v2"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scoredExercise creates a scored exercise whose name equals its ID.
func scoredExercise(id, pattern, muscle string, score float64, tags ...string) ScoredExercise {
	return ScoredExercise{
		Exercise: Exercise{
			ID:               id,
			Name:             id,
			PrimaryMuscle:    muscle,
			SecondaryMuscles: nil,
			MovementPattern:  pattern,
			FunctionTags:     tags,
			Equipment:        nil,
			Difficulty:       "",
			SkillLevel:       "",
		},
		Score:     score,
		Breakdown: nil,
	}
}

// fullBodyPool covers every movement pattern of the full body catalog entries, sorted by score.
func fullBodyPool() []ScoredExercise {
	return []ScoredExercise{
		scoredExercise("bench-press", "horizontal_push", "chest", 8.0),
		scoredExercise("pull-up", "vertical_pull", "lats", 7.5),
		scoredExercise("goblet-squat", "squat", "quads", 7.2),
		scoredExercise("romanian-deadlift", "hinge", "hamstrings", 7.0),
		scoredExercise("cable-row", "horizontal_pull", "back", 6.9),
		scoredExercise("front-squat", "squat", "quads", 6.6),
		scoredExercise("overhead-press", "vertical_push", "shoulders", 6.5),
		scoredExercise("dumbbell-row", "horizontal_pull", "lats", 6.4),
		scoredExercise("reverse-lunge", "lunge", "glutes", 6.2),
		scoredExercise("kettlebell-swing", "hinge", "glutes", 6.1, TagCapacity),
		scoredExercise("bike-sprint", "conditioning", "full_body", 6.0, TagCapacity),
		scoredExercise("push-up", "horizontal_push", "chest", 5.9),
		scoredExercise("plank", "core", "core", 5.6, TagCore),
		scoredExercise("dead-bug", "core", "core", 5.4, TagCore),
		scoredExercise("bicep-curl", "bicep_isolation", "biceps", 5.2),
		scoredExercise("tricep-pushdown", "tricep_isolation", "triceps", 5.1),
		scoredExercise("calf-raise", "calf_raise", "calves", 4.8),
	}
}

func withoutPattern(pool []ScoredExercise, pattern string) []ScoredExercise {
	var out []ScoredExercise
	for _, ex := range pool {
		if ex.MovementPattern != pattern {
			out = append(out, ex)
		}
	}
	return out
}

func newTestRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // deterministic tests.
}

func mustLookup(t *testing.T, c *Catalog, wt WorkoutType) WorkoutTypeConfig {
	t.Helper()
	cfg, err := c.Lookup(wt)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", wt, err)
	}
	return cfg
}

func ids[T interface{ exercise() Exercise }](items []T) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.exercise().ID)
	}
	return out
}

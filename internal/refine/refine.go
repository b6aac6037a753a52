// Package refine narrows each client's allocated candidates down to the final workout.
//
// A [Refiner] such as [OpenAIRefiner] picks the exercises. Its answer is validated against the blueprint and
// replaced by [FallbackSelection] whenever it is unusable, so every allocated client always gets a workout.
package refine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/errors"
)

// ErrInvalidSelection is returned when a refiner's answer breaks the selection rules.
var ErrInvalidSelection = errors.NewSentinel("invalid selection")

// Source is the provenance of a [Selection].
type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Request is the input of a single client refinement.
type Request struct {
	Client allocation.ClientContext
	Pool   allocation.ClientExercisePool
	// Shared is the ranked shared pool of the whole run.
	Shared []allocation.GroupScoredExercise
}

// Refiner picks the final exercise IDs of a client from the candidates of its pool.
type Refiner interface {
	Refine(ctx context.Context, req Request) ([]string, error)
}

// Selection is the final workout of a client.
type Selection struct {
	ClientID    string   `json:"client_id"`
	ExerciseIDs []string `json:"exercise_ids"`
	Source      Source   `json:"source"`
	// Reason explains why the fallback was used.
	Reason string `json:"reason,omitempty"`
}

// candidates returns the pre-assigned exercises followed by the bucketed ones.
func candidates(pool allocation.ClientExercisePool) []allocation.ScoredExercise {
	out := make([]allocation.ScoredExercise, 0, len(pool.PreAssigned)+len(pool.BucketedSelection.Exercises))
	for _, pa := range pool.PreAssigned {
		out = append(out, pa.Exercise)
	}
	return append(out, pool.BucketedSelection.Exercises...)
}

// wantCount is the size of a valid selection. Pre-assigned exercises are never dropped, even when there are more
// of them than the workout needs.
func wantCount(pool allocation.ClientExercisePool) int {
	return max(len(pool.PreAssigned), min(pool.TotalExercisesNeeded, len(candidates(pool))))
}

// validateSelection checks that ids come from the candidates without repeats, keep every pre-assigned exercise,
// and have the expected length.
func validateSelection(pool allocation.ClientExercisePool, ids []string) error {
	allowed := make(map[string]bool)
	for _, ex := range candidates(pool) {
		allowed[ex.ID] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !allowed[id] {
			return errors.Wrap(ErrInvalidSelection, "unknown exercise", slog.String("exercise_id", id))
		}
		if seen[id] {
			return errors.Wrap(ErrInvalidSelection, "duplicate exercise", slog.String("exercise_id", id))
		}
		seen[id] = true
	}
	for _, pa := range pool.PreAssigned {
		if !seen[pa.Exercise.ID] {
			return errors.Wrap(ErrInvalidSelection, "missing pre-assigned exercise",
				slog.String("exercise_id", pa.Exercise.ID))
		}
	}
	if want := wantCount(pool); len(ids) != want {
		return errors.Wrap(ErrInvalidSelection, fmt.Sprintf("got %d exercises, want %d", len(ids), want))
	}
	return nil
}

// FallbackSelection picks the pre-assigned exercises followed by the best bucketed ones. Equal scores keep their
// bucketing order.
func FallbackSelection(pool allocation.ClientExercisePool) []string {
	bucketed := slices.Clone(pool.BucketedSelection.Exercises)
	slices.SortStableFunc(bucketed, func(a, b allocation.ScoredExercise) int {
		return cmp.Compare(b.Score, a.Score)
	})

	want := wantCount(pool)
	ids := make([]string, 0, want)
	for _, pa := range pool.PreAssigned {
		ids = append(ids, pa.Exercise.ID)
	}
	for _, ex := range bucketed {
		if len(ids) >= want {
			break
		}
		if !slices.Contains(ids, ex.ID) {
			ids = append(ids, ex.ID)
		}
	}
	return ids
}

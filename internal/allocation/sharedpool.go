package allocation

import (
	"cmp"
	"slices"
	"strings"
)

// Thresholds are the minimum individual scores for an exercise to count as shared by a client.
type Thresholds struct {
	// MinScore applies to regular exercises.
	MinScore float64 `json:"min_score"`
	// CoreFinisherMinScore applies to exercises tagged core or capacity.
	CoreFinisherMinScore float64 `json:"core_finisher_min_score"`
}

// Default sharing thresholds. Scores are centered on 5.0.
const (
	DefaultSharedMinScore             = 5.0
	DefaultSharedCoreFinisherMinScore = 6.0
)

// DefaultThresholds returns the default sharing thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinScore:             DefaultSharedMinScore,
		CoreFinisherMinScore: DefaultSharedCoreFinisherMinScore,
	}
}

// For returns the threshold of the exercise's category.
func (t Thresholds) For(ex Exercise) float64 {
	if isCoreOrFinisher(ex) {
		return t.CoreFinisherMinScore
	}
	return t.MinScore
}

func isCoreOrFinisher(ex Exercise) bool {
	return ex.HasTag(TagCore) || ex.HasTag(TagCapacity)
}

// BuildSharedPool finds the exercises that two or more clients qualify for.
//
// clientPools maps client IDs to their available candidates. The group score is the mean of the qualifying
// individual scores. The pool is ranked by the number of sharing clients, then group score, then ID.
func BuildSharedPool(clientPools map[string][]ScoredExercise, thresholds Thresholds) []GroupScoredExercise {
	clientIDs := make([]string, 0, len(clientPools))
	for id := range clientPools {
		clientIDs = append(clientIDs, id)
	}
	slices.Sort(clientIDs)

	type candidate struct {
		exercise Exercise
		scores   []ClientScore
	}
	candidates := make(map[string]*candidate)
	for _, clientID := range clientIDs {
		for _, ex := range clientPools[clientID] {
			if ex.Score < thresholds.For(ex.Exercise) {
				continue
			}
			c, ok := candidates[ex.ID]
			if !ok {
				c = &candidate{exercise: ex.Exercise, scores: nil}
				candidates[ex.ID] = c
			}
			if n := len(c.scores); n > 0 && c.scores[n-1].ClientID == clientID {
				// Duplicate entry in the same client's list.
				continue
			}
			c.scores = append(c.scores, ClientScore{ClientID: clientID, Score: ex.Score})
		}
	}

	pool := make([]GroupScoredExercise, 0, len(candidates))
	for _, c := range candidates {
		if len(c.scores) < 2 { //nolint:mnd // shared means at least two clients.
			continue
		}
		var sum float64
		sharing := make([]string, 0, len(c.scores))
		for _, s := range c.scores {
			sum += s.Score
			sharing = append(sharing, s.ClientID)
		}
		groupScore := sum / float64(len(c.scores))
		pool = append(pool, GroupScoredExercise{
			ScoredExercise: ScoredExercise{Exercise: c.exercise, Score: groupScore, Breakdown: nil},
			GroupScore:     groupScore,
			ClientScores:   c.scores,
			ClientsSharing: sharing,
		})
	}

	slices.SortFunc(pool, func(a, b GroupScoredExercise) int {
		return cmp.Or(
			cmp.Compare(len(b.ClientsSharing), len(a.ClientsSharing)),
			cmp.Compare(b.GroupScore, a.GroupScore),
			strings.Compare(a.ID, b.ID),
		)
	})
	return pool
}

// CategorizeShared splits the ranked pool into core and finisher exercises and the rest, keeping the ranking.
func CategorizeShared(pool []GroupScoredExercise) ([]GroupScoredExercise, []GroupScoredExercise) {
	var coreAndFinisher, other []GroupScoredExercise
	for _, gse := range pool {
		if isCoreOrFinisher(gse.Exercise) {
			coreAndFinisher = append(coreAndFinisher, gse)
		} else {
			other = append(other, gse)
		}
	}
	return coreAndFinisher, other
}

package allocation

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildSharedPool(t *testing.T) {
	pools := map[string][]ScoredExercise{
		"alice": {
			scoredExercise("bench-press", "horizontal_push", "chest", 8),
			scoredExercise("goblet-squat", "squat", "quads", 7),
			scoredExercise("plank", "core", "core", 5.5, TagCore),
			scoredExercise("bike-sprint", "conditioning", "full_body", 7, TagCapacity),
		},
		"bob": {
			scoredExercise("goblet-squat", "squat", "quads", 5),
			scoredExercise("bench-press", "horizontal_push", "chest", 9),
			scoredExercise("plank", "core", "core", 8, TagCore),
			scoredExercise("bike-sprint", "conditioning", "full_body", 6, TagCapacity),
		},
		"carol": {
			scoredExercise("goblet-squat", "squat", "quads", 6),
			scoredExercise("bench-press", "horizontal_push", "chest", 4.9),
		},
	}

	got := BuildSharedPool(pools, DefaultThresholds())

	want := []GroupScoredExercise{
		{
			ScoredExercise: ScoredExercise{Exercise: pools["alice"][1].Exercise, Score: 6, Breakdown: nil},
			GroupScore:     6,
			ClientScores: []ClientScore{
				{ClientID: "alice", Score: 7},
				{ClientID: "bob", Score: 5},
				{ClientID: "carol", Score: 6},
			},
			ClientsSharing: []string{"alice", "bob", "carol"},
		},
		{
			ScoredExercise: ScoredExercise{Exercise: pools["alice"][0].Exercise, Score: 8.5, Breakdown: nil},
			GroupScore:     8.5,
			ClientScores: []ClientScore{
				{ClientID: "alice", Score: 8},
				{ClientID: "bob", Score: 9},
			},
			ClientsSharing: []string{"alice", "bob"},
		},
		{
			ScoredExercise: ScoredExercise{Exercise: pools["alice"][3].Exercise, Score: 6.5, Breakdown: nil},
			GroupScore:     6.5,
			ClientScores: []ClientScore{
				{ClientID: "alice", Score: 7},
				{ClientID: "bob", Score: 6},
			},
			ClientsSharing: []string{"alice", "bob"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildSharedPool() mismatch (-want +got):\n%s", diff)
	}

	coreAndFinisher, other := CategorizeShared(got)
	if diff := cmp.Diff([]string{"bike-sprint"}, ids(coreAndFinisher)); diff != "" {
		t.Errorf("core and finisher mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"goblet-squat", "bench-press"}, ids(other)); diff != "" {
		t.Errorf("other mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSharedPool_properties(t *testing.T) {
	thresholds := DefaultThresholds()
	for seed := range uint64(20) {
		rng := newTestRand(seed)
		pools := make(map[string][]ScoredExercise)
		for c := range 6 {
			clientID := fmt.Sprintf("client-%d", c)
			for e := range 25 {
				if rng.IntN(3) == 0 {
					continue
				}
				var tags []string
				if e%5 == 0 {
					tags = []string{TagCapacity}
				}
				score := float64(rng.IntN(21)) / 2 //nolint:mnd // 0-10 in half steps.
				pools[clientID] = append(pools[clientID],
					scoredExercise(fmt.Sprintf("ex-%02d", e), "squat", "quads", score, tags...))
			}
		}

		pool := BuildSharedPool(pools, thresholds)

		for i, gse := range pool {
			if len(gse.ClientsSharing) < 2 {
				t.Errorf("seed %d: %s shared by %d clients", seed, gse.ID, len(gse.ClientsSharing))
			}
			sharing := make(map[string]bool)
			for _, id := range gse.ClientsSharing {
				sharing[id] = true
			}
			for clientID, exercises := range pools {
				for _, ex := range exercises {
					if ex.ID != gse.ID {
						continue
					}
					qualifies := ex.Score >= thresholds.For(ex.Exercise)
					if qualifies != sharing[clientID] {
						t.Errorf("seed %d: %s score %.1f for %s, sharing %v", seed, ex.ID, ex.Score, clientID,
							sharing[clientID])
					}
				}
			}
			if i > 0 && len(pool[i-1].ClientsSharing) < len(gse.ClientsSharing) {
				t.Errorf("seed %d: %s shared by %d ranked below %s shared by %d", seed, gse.ID,
					len(gse.ClientsSharing), pool[i-1].ID, len(pool[i-1].ClientsSharing))
			}
		}
	}
}

func TestBuildSharedPool_empty(t *testing.T) {
	pools := map[string][]ScoredExercise{
		"alice": {scoredExercise("bench-press", "horizontal_push", "chest", 9)},
		"bob":   {scoredExercise("goblet-squat", "squat", "quads", 9)},
		"carol": {scoredExercise("bench-press", "horizontal_push", "chest", 3)},
	}
	if got := BuildSharedPool(pools, DefaultThresholds()); len(got) != 0 {
		t.Errorf("BuildSharedPool() = %v, want empty", ids(got))
	}
}

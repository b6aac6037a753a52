package allocation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestRun(t *testing.T, id string, wt WorkoutType, available ...ScoredExercise) *clientRun {
	t.Helper()
	return &clientRun{
		client:      ClientContext{ID: id, WorkoutType: wt}, //nolint:exhaustruct // workout type only.
		workoutType: wt,
		cfg:         mustLookup(t, DefaultCatalog(), wt),
		rng:         newTestRand(1),
		preAssigned: nil,
		available:   available,
		result:      BucketingResult{}, //nolint:exhaustruct // not bucketed.
		err:         nil,
	}
}

func groupScored(ex ScoredExercise, score float64, clients ...string) GroupScoredExercise {
	ex.Score = score
	return GroupScoredExercise{ScoredExercise: ex, GroupScore: score, ClientScores: nil, ClientsSharing: clients}
}

func TestAssembler_Assemble_sharedOtherIsTheSameForEveryClient(t *testing.T) {
	pool := []ScoredExercise{
		scoredExercise("bench-press", "horizontal_push", "chest", 7),
		scoredExercise("cable-row", "horizontal_pull", "back", 7),
		scoredExercise("goblet-squat", "squat", "quads", 7),
		scoredExercise("romanian-deadlift", "hinge", "hamstrings", 7),
	}
	clients := roster("alice", "bob")
	for i := range clients {
		clients[i].WorkoutType = WorkoutTypeFullBodyWithoutFinisher
	}
	scored := map[string][]ScoredExercise{"alice": pool, "bob": pool}

	for seed := range uint64(20) {
		bp, err := newTestAssembler(t, seed).Assemble(t.Context(), clients, scored, DefaultTemplate())
		if err != nil {
			t.Fatalf("seed %d: Assemble() error = %v", seed, err)
		}
		var picks [][]string
		for _, id := range bp.ClientOrder {
			preAssigned := bp.ClientPools[id].PreAssigned
			if len(preAssigned) != 2 {
				t.Fatalf("seed %d: %s has %d pre-assigned, want 2", seed, id, len(preAssigned))
			}
			for i, pa := range preAssigned {
				if pa.Source != SourceSharedOther {
					t.Errorf("seed %d: %s pre-assigned %s from %s", seed, id, pa.Exercise.ID, pa.Source)
				}
				if diff := cmp.Diff([]string{"alice", "bob"}, pa.SharedWith); diff != "" {
					t.Errorf("seed %d: %s SharedWith mismatch (-want +got):\n%s", seed, pa.Exercise.ID, diff)
				}
				if want := 4 - i; pa.TiedCount != want {
					t.Errorf("seed %d: %s tied %d, want %d", seed, pa.Exercise.ID, pa.TiedCount, want)
				}
			}
			picks = append(picks, ids(preAssigned))
		}
		if diff := cmp.Diff(picks[0], picks[1]); diff != "" {
			t.Errorf("seed %d: clients got different shared exercises (-alice +bob):\n%s", seed, diff)
		}
	}
}

func TestSelectSharedOther_groupSize(t *testing.T) {
	together := scoredExercise("goblet-squat", "squat", "quads", 6)
	pair := scoredExercise("cable-row", "horizontal_pull", "back", 6)
	everyone := []string{"alice", "bob", "carol"}

	tests := []struct {
		name        string
		other       []GroupScoredExercise
		wantID      string
		wantClients []string
	}{
		{
			name: "larger group wins a slightly better pair",
			other: []GroupScoredExercise{
				groupScored(pair, 6.9, "alice", "bob"),
				groupScored(together, 6.0, everyone...),
			},
			wantID:      "goblet-squat",
			wantClients: everyone,
		},
		{
			name: "pair wins with a clear margin",
			other: []GroupScoredExercise{
				groupScored(together, 6.0, everyone...),
				groupScored(pair, 7.0, "alice", "bob"),
			},
			wantID:      "cable-row",
			wantClients: []string{"alice", "bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			short := make(map[string]*clientRun)
			for _, id := range everyone {
				short[id] = newTestRun(t, id, WorkoutTypeFullBodyWithoutFinisher, together, pair)
			}
			got, ok := selectSharedOther(tt.other, short, newTestRand(1))
			if !ok {
				t.Fatalf("selectSharedOther() found nothing")
			}
			if got.exercise.ID != tt.wantID || got.tiedCount != 1 {
				t.Errorf("picked %s tied %d, want %s tied 1", got.exercise.ID, got.tiedCount, tt.wantID)
			}
			if diff := cmp.Diff(tt.wantClients, got.clients); diff != "" {
				t.Errorf("clients mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClientRun_acceptsSharedOther(t *testing.T) {
	bench := scoredExercise("bench-press", "horizontal_push", "chest", 8)
	incline := scoredExercise("incline-press", "horizontal_push", "upper_chest", 7)
	row := scoredExercise("cable-row", "horizontal_pull", "lats", 7)
	squat := scoredExercise("goblet-squat", "squat", "quads", 7)

	fullBody := newTestRun(t, "alice", WorkoutTypeFullBodyWithoutFinisher, incline, row, squat)
	fullBody.preAssigned = []PreAssignedExercise{{Exercise: bench, Source: SourceFavorite, TiedCount: 1}}
	targeted := newTestRun(t, "bob", WorkoutTypeTargetedWithoutFinisher, incline, row, squat)
	targeted.client.TargetMuscles = []string{"Back", "chest"}

	tests := []struct {
		name string
		run  *clientRun
		ex   ScoredExercise
		want bool
	}{
		{"full body takes a new muscle", fullBody, row, true},
		{"full body skips the muscle of a pre-assigned exercise", fullBody, incline, false},
		{"exercise that is no candidate", fullBody, bench, false},
		{"targeted takes a target muscle", targeted, row, true},
		{"targeted skips other muscles", targeted, squat, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.run.acceptsSharedOther(tt.ex.Exercise); got != tt.want {
				t.Errorf("acceptsSharedOther(%s) = %t, want %t", tt.ex.ID, got, tt.want)
			}
		})
	}
}

func TestAssignFinishers(t *testing.T) {
	plank := scoredExercise("plank", "core", "core", 7, TagCore)
	swing := scoredExercise("kettlebell-swing", "hinge", "glutes", 8, TagCapacity)
	bench := scoredExercise("bench-press", "horizontal_push", "chest", 9)
	bobPlank := plank
	bobPlank.Score = 9

	t.Run("finisher clients share the best core or capacity exercise", func(t *testing.T) {
		alice := newTestRun(t, "alice", WorkoutTypeFullBodyWithFinisher, bench, swing, plank)
		bob := newTestRun(t, "bob", WorkoutTypeFullBodyWithFinisher, bench, swing, bobPlank)
		carol := newTestRun(t, "carol", WorkoutTypeFullBodyWithoutFinisher, bench, swing, plank)
		shared := []GroupScoredExercise{
			groupScored(bench, 9, "alice", "bob", "carol"),
			groupScored(swing, 8, "alice", "bob", "carol"),
			groupScored(plank, 7.5, "alice", "bob"),
		}

		pick, ok := assignFinishers([]*clientRun{alice, bob, carol}, shared, newTestRand(1))
		if !ok || pick.exercise.ID != "kettlebell-swing" || pick.tiedCount != 1 {
			t.Fatalf("assignFinishers() = %s tied %d, %t, want kettlebell-swing tied 1",
				pick.exercise.ID, pick.tiedCount, ok)
		}
		for _, run := range []*clientRun{alice, bob} {
			want := []PreAssignedExercise{{
				Exercise:   swing,
				Source:     SourceSharedFinisher,
				TiedCount:  1,
				SharedWith: []string{"alice", "bob"},
			}}
			if diff := cmp.Diff(want, run.preAssigned); diff != "" {
				t.Errorf("%s pre-assigned mismatch (-want +got):\n%s", run.client.ID, diff)
			}
			if _, ok = run.candidate(pick.exercise.ID); ok {
				t.Errorf("%s keeps the finisher among its candidates", run.client.ID)
			}
		}
		if len(carol.preAssigned) != 0 {
			t.Errorf("carol got a finisher: %v", carol.preAssigned)
		}
	})

	t.Run("each client takes its own finisher when none is shared by all", func(t *testing.T) {
		alice := newTestRun(t, "alice", WorkoutTypeFullBodyWithFinisher, bench, swing, plank)
		bob := newTestRun(t, "bob", WorkoutTypeFullBodyWithFinisher, bench, swing, bobPlank)
		carol := newTestRun(t, "carol", WorkoutTypeFullBodyWithoutFinisher, bench, swing, plank)
		shared := []GroupScoredExercise{groupScored(swing, 8, "alice", "carol")}

		if pick, ok := assignFinishers([]*clientRun{alice, bob, carol}, shared, newTestRand(1)); ok {
			t.Fatalf("assignFinishers() shared %s", pick.exercise.ID)
		}
		want := map[string][]PreAssignedExercise{
			"alice": {{Exercise: swing, Source: SourceFinisher, TiedCount: 1, SharedWith: nil}},
			"bob":   {{Exercise: bobPlank, Source: SourceFinisher, TiedCount: 1, SharedWith: nil}},
			"carol": nil,
		}
		for _, run := range []*clientRun{alice, bob, carol} {
			if diff := cmp.Diff(want[run.client.ID], run.preAssigned); diff != "" {
				t.Errorf("%s pre-assigned mismatch (-want +got):\n%s", run.client.ID, diff)
			}
		}
	})
}

package runstore_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/myrjola/groupworkout/internal/refine"
	"github.com/myrjola/groupworkout/internal/runstore"
	"github.com/myrjola/groupworkout/internal/sqlite"
	"github.com/myrjola/groupworkout/internal/testhelpers"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *runstore.Store {
	t.Helper()
	logger := testhelpers.NewLogger(testhelpers.NewWriter(t))
	db, err := sqlite.NewDatabase(t.Context(), ":memory:", logger)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	t.Cleanup(func() {
		if err = db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return runstore.New(db, logger)
}

func testRun(templateID string, seed uint64) runstore.Run {
	bench := allocation.ScoredExercise{ //nolint:exhaustruct // breakdown is optional.
		Exercise: allocation.Exercise{
			ID:               "bench-press",
			Name:             "Bench Press",
			PrimaryMuscle:    "chest",
			SecondaryMuscles: []string{"triceps"},
			MovementPattern:  "horizontal_push",
			FunctionTags:     []string{"strength"},
			Equipment:        []string{"barbell"},
			Difficulty:       "intermediate",
			SkillLevel:       "intermediate",
		},
		Score: 8.5,
	}
	return runstore.Run{
		ID:        0,
		CreatedAt: time.Time{},
		Seed:      seed,
		Blueprint: allocation.Blueprint{
			TemplateID: templateID,
			ClientPools: map[string]allocation.ClientExercisePool{
				"alice": {
					ClientID:    "alice",
					WorkoutType: allocation.WorkoutTypeFullBodyWithFinisher,
					PreAssigned: []allocation.PreAssignedExercise{
						{Exercise: bench, Source: allocation.SourceFavorite, TiedCount: 1},
					},
					AvailableCandidates: nil,
					BucketedSelection: allocation.BucketingResult{
						Exercises:   nil,
						Assignments: nil,
						Gaps: []allocation.Gap{
							{BucketType: allocation.BucketMovementPattern, Constraint: "lunge", Required: 1, Filled: 0},
						},
					},
					TotalExercisesNeeded: 8,
					AdditionalNeeded:     7,
				},
			},
			ClientOrder:        []string{"alice"},
			SharedExercisePool: nil,
			ValidationWarnings: []string{
				`Client alice: movement pattern "lunge" unmet (0/1)`,
				"Client bob: unknown workout type",
			},
			FailedClients: map[string]string{"bob": "unknown workout type"},
		},
		Selections: []refine.Selection{
			{ClientID: "alice", ExerciseIDs: []string{"bench-press"}, Source: refine.SourceFallback, Reason: "no refiner"},
		},
	}
}

func TestStore_SaveGet(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t)
	want := testRun("full_body", 1<<63+7)

	before := time.Now().UTC().Add(-time.Second)
	id, err := store.Save(ctx, want)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got.ID != id {
		t.Errorf("ID = %d, want %d", got.ID, id)
	}
	if got.CreatedAt.Before(before) || got.CreatedAt.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("CreatedAt = %v, want around now", got.CreatedAt)
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(runstore.Run{}, "ID", "CreatedAt"),
		cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	warnings, err := store.Warnings(ctx, id)
	if err != nil {
		t.Fatalf("Warnings() error = %v", err)
	}
	if diff := cmp.Diff(want.Blueprint.ValidationWarnings, warnings); diff != "" {
		t.Errorf("Warnings() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Get_notFound(t *testing.T) {
	_, err := newTestStore(t).Get(t.Context(), 404)
	if !errors.Is(err, runstore.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t)

	var ids []int64
	for i, template := range []string{"monday", "wednesday", "friday"} {
		id, err := store.Save(ctx, testRun(template, uint64(i)))
		if err != nil {
			t.Fatalf("Save(%s) error = %v", template, err)
		}
		ids = append(ids, id)
	}

	got, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []runstore.RunSummary{
		{ID: ids[2], TemplateID: "friday", Seed: 2, ClientCount: 2, FailedCount: 1, WarningCount: 2},
		{ID: ids[1], TemplateID: "wednesday", Seed: 1, ClientCount: 2, FailedCount: 1, WarningCount: 2},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(runstore.RunSummary{}, "CreatedAt")); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_List_empty(t *testing.T) {
	got, err := newTestStore(t).List(t.Context(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
}

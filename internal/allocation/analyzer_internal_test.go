package allocation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/groupworkout/internal/errors"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(map[WorkoutType]WorkoutTypeConfig{
		"test_full_body": {
			Strategy: StrategyFullBody,
			MovementPatterns: []PatternQuota{
				{Pattern: "squat", Min: 1, Max: 1},
				{Pattern: "horizontal_push", Min: 2, Max: 3},
			},
			FunctionalRequirements: []FunctionalQuota{
				{Name: FunctionalMuscleTarget, Count: 2},
				{Name: TagCapacity, Count: 1},
			},
			FlexSlots:         0,
			TotalExercises:    4,
			PreAssignedCount:  2,
			RequireUpper:      false,
			RequireLower:      false,
			Finisher:          false,
			RoundRobinTarget:  0,
			DiversityPatterns: nil,
		},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func TestAnalyze(t *testing.T) {
	chestClient := ClientContext{ID: "c1", TargetMuscles: []string{"chest"}} //nolint:exhaustruct // only targets matter.
	noTargets := ClientContext{ID: "c2"}                                    //nolint:exhaustruct // no targets.

	squat := scoredExercise("squat", "squat", "quads", 5).Exercise
	squat2 := scoredExercise("squat-2", "Squat", "quads", 5).Exercise
	bench := scoredExercise("bench", "horizontal_push", "chest", 5).Exercise
	dips := scoredExercise("dips", "vertical_push", "triceps", 5).Exercise
	dips.SecondaryMuscles = []string{"lower_chest"}
	swing := scoredExercise("swing", "hinge", "glutes", 5, TagCapacity).Exercise

	tests := []struct {
		name      string
		exercises []Exercise
		client    ClientContext
		want      ConstraintAnalysis
	}{
		{
			name:      "empty list",
			exercises: nil,
			client:    chestClient,
			want: ConstraintAnalysis{
				MovementPatterns: []PatternAnalysis{
					{Pattern: "squat", Current: 0, Min: 1, Max: 1, Status: StatusUnder, Needed: 1},
					{Pattern: "horizontal_push", Current: 0, Min: 2, Max: 3, Status: StatusUnder, Needed: 2},
				},
				FunctionalRequirements: []RequirementAnalysis{
					{Name: FunctionalMuscleTarget, Current: 0, Required: 2, Status: StatusUnder, Needed: 2},
					{Name: TagCapacity, Current: 0, Required: 1, Status: StatusUnder, Needed: 1},
				},
				Summary: AnalysisSummary{
					TotalExercises:    0,
					TotalNeeded:       4,
					PatternsMet:       0,
					PatternsTotal:     2,
					RequirementsMet:   0,
					RequirementsTotal: 2,
					AllConstraintsMet: false,
				},
			},
		},
		{
			name:      "secondary muscle counts towards target and pattern goes over",
			exercises: []Exercise{squat, squat2, bench, dips, swing},
			client:    chestClient,
			want: ConstraintAnalysis{
				MovementPatterns: []PatternAnalysis{
					{Pattern: "squat", Current: 2, Min: 1, Max: 1, Status: StatusOver, Needed: 0},
					{Pattern: "horizontal_push", Current: 1, Min: 2, Max: 3, Status: StatusUnder, Needed: 1},
				},
				FunctionalRequirements: []RequirementAnalysis{
					{Name: FunctionalMuscleTarget, Current: 2, Required: 2, Status: StatusMet, Needed: 0},
					{Name: TagCapacity, Current: 1, Required: 1, Status: StatusMet, Needed: 0},
				},
				Summary: AnalysisSummary{
					TotalExercises:    5,
					TotalNeeded:       4,
					PatternsMet:       0,
					PatternsTotal:     2,
					RequirementsMet:   2,
					RequirementsTotal: 2,
					AllConstraintsMet: false,
				},
			},
		},
		{
			name:      "client without targets has no muscle target requirement",
			exercises: []Exercise{squat, bench, bench, swing},
			client:    noTargets,
			want: ConstraintAnalysis{
				MovementPatterns: []PatternAnalysis{
					{Pattern: "squat", Current: 1, Min: 1, Max: 1, Status: StatusMet, Needed: 0},
					{Pattern: "horizontal_push", Current: 2, Min: 2, Max: 3, Status: StatusMet, Needed: 0},
				},
				FunctionalRequirements: []RequirementAnalysis{
					{Name: TagCapacity, Current: 1, Required: 1, Status: StatusMet, Needed: 0},
				},
				Summary: AnalysisSummary{
					TotalExercises:    4,
					TotalNeeded:       4,
					PatternsMet:       2,
					PatternsTotal:     2,
					RequirementsMet:   1,
					RequirementsTotal: 1,
					AllConstraintsMet: true,
				},
			},
		},
	}

	c := testCatalog(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Analyze(tt.exercises, tt.client, "test_full_body", c)
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Analyze() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyze_unknownWorkoutType(t *testing.T) {
	_, err := Analyze(nil, ClientContext{}, "missing", testCatalog(t)) //nolint:exhaustruct // irrelevant.
	if !errors.Is(err, ErrUnknownWorkoutType) {
		t.Errorf("Analyze() error = %v, want %v", err, ErrUnknownWorkoutType)
	}
}

func TestAnalyze_shortfallIsMonotonic(t *testing.T) {
	client := ClientContext{ID: "c1", TargetMuscles: []string{"chest", "back"}} //nolint:exhaustruct // targets only.
	cfg := mustLookup(t, DefaultCatalog(), WorkoutTypeFullBodyWithFinisher)

	var exercises []Exercise
	previous := analyze(exercises, client, cfg)
	for _, ex := range fullBodyPool() {
		exercises = append(exercises, ex.Exercise)
		current := analyze(exercises, client, cfg)
		for i, p := range current.MovementPatterns {
			if p.Needed > previous.MovementPatterns[i].Needed {
				t.Errorf("adding %s increased %s shortfall from %d to %d",
					ex.ID, p.Pattern, previous.MovementPatterns[i].Needed, p.Needed)
			}
		}
		for i, r := range current.FunctionalRequirements {
			if r.Needed > previous.FunctionalRequirements[i].Needed {
				t.Errorf("adding %s increased %s shortfall from %d to %d",
					ex.ID, r.Name, previous.FunctionalRequirements[i].Needed, r.Needed)
			}
		}
		previous = current
	}

	if remaining := previous.Remaining(); len(remaining.MovementPatterns) != 0 {
		t.Errorf("full pool leaves movement patterns unmet: %v", remaining.MovementPatterns)
	}
}

func TestConstraintAnalysis_Remaining(t *testing.T) {
	client := ClientContext{ID: "c1", TargetMuscles: []string{"chest"}} //nolint:exhaustruct // targets only.
	bench := scoredExercise("bench", "horizontal_push", "chest", 5).Exercise
	got := analyze([]Exercise{bench}, client, mustLookup(t, testCatalog(t), "test_full_body")).Remaining()

	want := RemainingNeeds{
		MovementPatterns:       []string{"squat", "horizontal_push"},
		FunctionalRequirements: []string{FunctionalMuscleTarget, TagCapacity},
		TotalExercises:         3,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Remaining() mismatch (-want +got):\n%s", diff)
	}
}

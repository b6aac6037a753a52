// Package allocation distributes scored exercises across the clients of a group training session.
//
// An allocation run resolves a small pre-assigned seed set per client, discovers the exercises several clients
// can share, and then fills each client's constraint buckets from the remaining candidates. The result is a
// [Blueprint] ready for refinement or presentation.
package allocation

import "slices"

// WorkoutType selects the constraint catalog entry used for a client.
type WorkoutType string

// Workout types shipped in the embedded catalog.
const (
	WorkoutTypeFullBodyWithFinisher    WorkoutType = "full_body_with_finisher"
	WorkoutTypeFullBodyWithoutFinisher WorkoutType = "full_body_without_finisher"
	WorkoutTypeTargetedWithFinisher    WorkoutType = "targeted_with_finisher"
	WorkoutTypeTargetedWithoutFinisher WorkoutType = "targeted_without_finisher"
)

// Function tags with special meaning to the allocator.
const (
	TagCapacity = "capacity"
	TagCore     = "core"
	TagStrength = "strength"
)

// Exercise is an immutable catalog record, e.g. Back Squat or Cable Row.
type Exercise struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	PrimaryMuscle    string   `json:"primary_muscle"`
	SecondaryMuscles []string `json:"secondary_muscles"`
	MovementPattern  string   `json:"movement_pattern"`
	FunctionTags     []string `json:"function_tags"`
	Equipment        []string `json:"equipment"`
	Difficulty       string   `json:"difficulty"`
	SkillLevel       string   `json:"skill_level"`
}

// HasTag reports whether the exercise carries the function tag.
func (e Exercise) HasTag(tag string) bool {
	return slices.Contains(e.FunctionTags, tag)
}

// ScoreBreakdown lists the contributors of a score as computed by the scoring step.
type ScoreBreakdown struct {
	Base                float64 `json:"base"`
	TargetMuscleBonus   float64 `json:"target_muscle_bonus"`
	LessenMusclePenalty float64 `json:"lessen_muscle_penalty"`
	IncludeBonus        float64 `json:"include_bonus"`
	IntensityAdjustment float64 `json:"intensity_adjustment"`
}

// ScoredExercise is an exercise scored for one client. Scores are conventionally 0-10 with 5.0 as neutral.
type ScoredExercise struct {
	Exercise
	Score     float64         `json:"score"`
	Breakdown *ScoreBreakdown `json:"score_breakdown,omitempty"`
}

// ClientContext describes one participant of the session.
type ClientContext struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	StrengthCapacity    string      `json:"strength_capacity"`
	SkillCapacity       string      `json:"skill_capacity"`
	PrimaryGoal         string      `json:"primary_goal"`
	Intensity           string      `json:"intensity"`
	TargetMuscles       []string    `json:"target_muscles"`
	LessenMuscles       []string    `json:"lessen_muscles"`
	IncludeExercises    []string    `json:"include_exercises"`
	AvoidExercises      []string    `json:"avoid_exercises"`
	AvoidJoints         []string    `json:"avoid_joints"`
	FavoriteExerciseIDs []string    `json:"favorite_exercise_ids"`
	WorkoutType         WorkoutType `json:"workout_type"`
}

// ClientScore is the individual score of a client sharing an exercise.
type ClientScore struct {
	ClientID string  `json:"client_id"`
	Score    float64 `json:"score"`
}

// GroupScoredExercise is an exercise shared by two or more clients. Score equals GroupScore.
type GroupScoredExercise struct {
	ScoredExercise
	GroupScore     float64       `json:"group_score"`
	ClientScores   []ClientScore `json:"client_scores"`
	ClientsSharing []string      `json:"clients_sharing"`
}

// Source is the provenance of a pre-assigned exercise.
type Source string

const (
	SourceInclude     Source = "include"
	SourceFavorite    Source = "favorite"
	SourceConstraint  Source = "constraint"
	SourceSharedOther Source = "shared_other"
	// SourceSharedFinisher is a core or capacity exercise shared by the finisher clients.
	SourceSharedFinisher Source = "shared_core_finisher"
	// SourceFinisher is a client's own core or capacity exercise when no finisher could be shared.
	SourceFinisher Source = "finisher"
)

// PreAssignedExercise is an exercise fixed for a client before bucketing.
type PreAssignedExercise struct {
	Exercise ScoredExercise `json:"exercise"`
	Source   Source         `json:"source"`
	// TiedCount is the number of candidates tied at the winning score, 1 when the winner was unique.
	TiedCount int `json:"tied_count"`
	// SharedWith lists every client the exercise was pre-assigned to together, this client included.
	SharedWith []string `json:"shared_with,omitempty"`
}

// BucketType names the constraint category a bucketed exercise satisfied.
type BucketType string

const (
	BucketMovementPattern   BucketType = "movement_pattern"
	BucketFunctional        BucketType = "functional"
	BucketMuscleTarget      BucketType = "muscle_target"
	BucketFlex              BucketType = "flex"
	BucketMovementDiversity BucketType = "movement_diversity"
)

// BucketAssignment explains why an exercise was bucketed.
type BucketAssignment struct {
	BucketType BucketType `json:"bucket_type"`
	Constraint string     `json:"constraint"`
	TiedCount  int        `json:"tied_count"`
}

// Gap is a quota the allocator could not fill because candidates ran out.
type Gap struct {
	BucketType BucketType `json:"bucket_type"`
	Constraint string     `json:"constraint"`
	Required   int        `json:"required"`
	Filled     int        `json:"filled"`
}

// BucketingResult is the output of [Allocate] for one client.
type BucketingResult struct {
	Exercises   []ScoredExercise            `json:"exercises"`
	Assignments map[string]BucketAssignment `json:"assignments"`
	Gaps        []Gap                       `json:"gaps"`
}

// ClientExercisePool is the per-client part of a [Blueprint].
type ClientExercisePool struct {
	ClientID    string                `json:"client_id"`
	WorkoutType WorkoutType           `json:"workout_type"`
	PreAssigned []PreAssignedExercise `json:"pre_assigned"`
	// AvailableCandidates excludes the pre-assigned exercises.
	AvailableCandidates  []ScoredExercise `json:"available_candidates"`
	BucketedSelection    BucketingResult  `json:"bucketed_selection"`
	TotalExercisesNeeded int              `json:"total_exercises_needed"`
	AdditionalNeeded     int              `json:"additional_needed"`
}

// Blueprint is the complete result of an allocation run.
type Blueprint struct {
	TemplateID         string                        `json:"template_id"`
	ClientPools        map[string]ClientExercisePool `json:"client_pools"`
	ClientOrder        []string                      `json:"client_order"`
	SharedExercisePool []GroupScoredExercise         `json:"shared_exercise_pool"`
	ValidationWarnings []string                      `json:"validation_warnings"`
	// FailedClients maps the clients that could not be allocated to the reason.
	FailedClients map[string]string `json:"failed_clients,omitempty"`
}

// Template holds the session level settings of an allocation run.
type Template struct {
	ID                      string      `json:"id"`
	TotalExercisesPerClient int         `json:"total_exercises_per_client"`
	DefaultWorkoutType      WorkoutType `json:"default_workout_type"`
}

// DefaultTotalExercisesPerClient is the size of a client's final workout.
const DefaultTotalExercisesPerClient = 8

// DefaultTemplate returns the template used when the caller does not provide one.
func DefaultTemplate() Template {
	return Template{
		ID:                      "standard",
		TotalExercisesPerClient: DefaultTotalExercisesPerClient,
		DefaultWorkoutType:      WorkoutTypeFullBodyWithFinisher,
	}
}

// withDefaults fills zero values with the defaults.
func (t Template) withDefaults() Template {
	d := DefaultTemplate()
	if t.ID == "" {
		t.ID = d.ID
	}
	if t.TotalExercisesPerClient <= 0 {
		t.TotalExercisesPerClient = d.TotalExercisesPerClient
	}
	if t.DefaultWorkoutType == "" {
		t.DefaultWorkoutType = d.DefaultWorkoutType
	}
	return t
}

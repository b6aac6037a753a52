package allocation

import "strings"

// muscleAliases maps the detailed muscle names used by exercises to the consolidated muscles clients pick from.
//
//nolint:gochecknoglobals // read-only lookup table.
var muscleAliases = map[string]string{
	"lats":              "back",
	"upper_back":        "back",
	"lower_back":        "core",
	"upper_chest":       "chest",
	"lower_chest":       "chest",
	"delts":             "shoulders",
	"adductors":         "hips",
	"abductors":         "hips",
	"lower_abs":         "core",
	"upper_abs":         "core",
	"shins":             "calves",
	"tibialis_anterior": "calves",
}

// ConsolidateMuscle returns the consolidated name of a muscle. Unknown muscles are returned normalised.
func ConsolidateMuscle(muscle string) string {
	m := normalize(muscle)
	if consolidated, ok := muscleAliases[m]; ok {
		return consolidated
	}
	return m
}

// MatchesMuscle reports whether an exercise muscle counts towards a client's muscle preference.
func MatchesMuscle(exerciseMuscle, preference string) bool {
	if exerciseMuscle == "" || preference == "" {
		return false
	}
	return ConsolidateMuscle(exerciseMuscle) == ConsolidateMuscle(preference)
}

// targetsAnyMuscle reports whether the primary or any secondary muscle matches one of the targets.
func targetsAnyMuscle(ex Exercise, targets []string) bool {
	for _, target := range targets {
		if MatchesMuscle(ex.PrimaryMuscle, target) {
			return true
		}
		for _, secondary := range ex.SecondaryMuscles {
			if MatchesMuscle(secondary, target) {
				return true
			}
		}
	}
	return false
}

// BodyCategory groups exercises for the upper/lower balance rule.
type BodyCategory string

const (
	BodyUpper    BodyCategory = "upper"
	BodyLower    BodyCategory = "lower"
	BodyCoreFull BodyCategory = "core_full"
)

//nolint:gochecknoglobals // read-only lookup tables.
var (
	coreMuscles = setOf("core", "abs", "obliques", "lower_abs", "upper_abs")
	upperPatterns = setOf("horizontal_push", "horizontal_pull", "vertical_push", "vertical_pull",
		"shoulder_isolation", "arm_isolation", "bicep_isolation", "tricep_isolation")
	upperMuscles = setOf("chest", "upper_chest", "lower_chest", "back", "upper_back", "lower_back", "shoulders",
		"delts", "lats", "triceps", "biceps", "traps")
	lowerPatterns = setOf("squat", "lunge", "hinge", "calf_raise", "leg_isolation")
	lowerMuscles  = setOf("quads", "hamstrings", "glutes", "calves", "adductors", "abductors", "shins",
		"tibialis_anterior", "hips")
)

// BodyCategoryOf classifies an exercise. Core work and capacity finishers are core_full, then movement pattern
// decides before primary muscle. Anything unrecognised is core_full.
func BodyCategoryOf(ex Exercise) BodyCategory {
	muscle := normalize(ex.PrimaryMuscle)
	pattern := normalize(ex.MovementPattern)
	switch {
	case coreMuscles[muscle] || ex.HasTag(TagCapacity):
		return BodyCoreFull
	case upperPatterns[pattern]:
		return BodyUpper
	case lowerPatterns[pattern]:
		return BodyLower
	case upperMuscles[muscle]:
		return BodyUpper
	case lowerMuscles[muscle]:
		return BodyLower
	default:
		return BodyCoreFull
	}
}

func setOf(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

package allocation

import (
	"math/rand/v2"
	"slices"
)

// AllocationRequest is the input of [Allocate] for one client.
type AllocationRequest struct {
	// Available are the client's candidates without the pre-assigned exercises.
	Available   []ScoredExercise
	PreAssigned []PreAssignedExercise
	Client      ClientContext
	WorkoutType WorkoutType
	FavoriteIDs []string
	// Shared is the ranked shared pool. It is only read.
	Shared  []GroupScoredExercise
	Catalog *Catalog
}

// Allocate fills the constraint buckets of one client with the strategy of the client's workout type.
//
// Full body workouts fill movement patterns, muscle targets and functional tags in catalog order before flex slots.
// Targeted workouts round-robin the target muscles before a movement diversity fill. Quotas and slots that cannot be
// filled are reported as gaps. The number of bucketed exercises never exceeds the workout type's total.
func Allocate(req AllocationRequest, rng *rand.Rand) (BucketingResult, error) {
	cfg, err := req.Catalog.Lookup(req.WorkoutType)
	if err != nil {
		return BucketingResult{}, err //nolint:exhaustruct // zero value on error.
	}
	return allocate(req, cfg, rng), nil
}

type allocator struct {
	req       AllocationRequest
	cfg       WorkoutTypeConfig
	rng       *rand.Rand
	used      exclusion
	favorites exclusion
	result    BucketingResult
}

func allocate(req AllocationRequest, cfg WorkoutTypeConfig, rng *rand.Rand) BucketingResult {
	used := newExclusion()
	for _, pa := range req.PreAssigned {
		used.add(pa.Exercise.ID)
	}
	a := &allocator{
		req:       req,
		cfg:       cfg,
		rng:       rng,
		used:      used,
		favorites: newExclusion(req.FavoriteIDs...),
		result: BucketingResult{
			Exercises:   nil,
			Assignments: make(map[string]BucketAssignment),
			Gaps:        nil,
		},
	}

	switch cfg.Strategy {
	case StrategyTargeted:
		a.fillRoundRobin()
		a.fillDiversity()
	case StrategyFullBody:
		a.fillMovementPatterns()
		a.fillMuscleTargets()
		a.fillFunctional()
		a.fillFlex()
	}
	return a.result
}

// room is the number of bucket slots left.
func (a *allocator) room() int {
	return a.cfg.TotalExercises - len(a.result.Exercises)
}

func (a *allocator) take(sel selection, bucket BucketType, constraint string) {
	a.result.Exercises = append(a.result.Exercises, sel.exercise)
	a.result.Assignments[sel.exercise.ID] = BucketAssignment{
		BucketType: bucket,
		Constraint: constraint,
		TiedCount:  sel.tiedCount,
	}
	a.used.add(sel.exercise.ID)
}

// fill tie-breaks up to n picks from the candidates satisfying keep and returns how many it took.
func (a *allocator) fill(n int, keep func(ScoredExercise) bool, bucket BucketType, constraint string) int {
	taken := 0
	for taken < n && a.room() > 0 {
		sel, ok := selectWithTieBreaking(a.used.filter(a.req.Available, keep), a.rng)
		if !ok {
			break
		}
		a.take(sel, bucket, constraint)
		taken++
	}
	return taken
}

func (a *allocator) gap(bucket BucketType, constraint string, required, filled int) {
	a.result.Gaps = append(a.result.Gaps, Gap{
		BucketType: bucket,
		Constraint: constraint,
		Required:   required,
		Filled:     filled,
	})
}

func (a *allocator) isFavorite(ex ScoredExercise) bool {
	return a.favorites.has(ex.ID)
}

// analysis re-runs the analyzer over the pre-assigned and bucketed exercises.
func (a *allocator) analysis() ConstraintAnalysis {
	current := slices.Concat(exercisesOf(a.req.PreAssigned), exercisesOf(a.result.Exercises))
	return analyze(current, a.req.Client, a.cfg)
}

// fillMovementPatterns covers the movement patterns below their minimum. Favorites are reserved for flex slots.
func (a *allocator) fillMovementPatterns() {
	for _, p := range a.analysis().MovementPatterns {
		if p.Needed == 0 {
			continue
		}
		pattern := p.Pattern
		filled := a.fill(p.Needed, func(ex ScoredExercise) bool {
			return !a.isFavorite(ex) && normalize(ex.MovementPattern) == pattern
		}, BucketMovementPattern, pattern)
		if filled < p.Needed {
			a.gap(BucketMovementPattern, pattern, p.Needed, filled)
		}
	}
}

// fillMuscleTargets splits the muscle target requirement evenly across the client's target muscles and picks
// exercises by primary muscle. Favorites are eligible.
func (a *allocator) fillMuscleTargets() {
	req, ok := a.analysis().Requirement(FunctionalMuscleTarget)
	if !ok || req.Needed == 0 {
		return
	}
	targets := uniqueMuscles(a.req.Client.TargetMuscles)
	if len(targets) == 0 {
		return
	}
	perMuscle := max(1, req.Required/len(targets))

	current := slices.Concat(exercisesOf(a.req.PreAssigned), exercisesOf(a.result.Exercises))
	for _, muscle := range targets {
		have := 0
		for _, ex := range current {
			if MatchesMuscle(ex.PrimaryMuscle, muscle) {
				have++
			}
		}
		needed := max(0, perMuscle-have)
		if needed == 0 {
			continue
		}
		filled := a.fill(needed, func(ex ScoredExercise) bool {
			return MatchesMuscle(ex.PrimaryMuscle, muscle)
		}, BucketMuscleTarget, muscle)
		if filled < needed {
			a.gap(BucketMuscleTarget, muscle, needed, filled)
		}
	}
}

// fillFunctional covers function tag requirements such as capacity. Favorites are reserved for flex slots.
func (a *allocator) fillFunctional() {
	for _, r := range a.analysis().FunctionalRequirements {
		if r.Name == FunctionalMuscleTarget || r.Needed == 0 {
			continue
		}
		tag := r.Name
		filled := a.fill(r.Needed, func(ex ScoredExercise) bool {
			return !a.isFavorite(ex) && ex.HasTag(tag)
		}, BucketFunctional, tag)
		if filled < r.Needed {
			a.gap(BucketFunctional, tag, r.Needed, filled)
		}
	}
}

// fillFlex fills the remaining slots with unused favorites, then with the client's shared exercises in pool order,
// then with the best remaining candidates. Slots left empty are a gap.
func (a *allocator) fillFlex() {
	want := a.room()
	defer func() {
		if filled := want - a.room(); filled < want {
			a.gap(BucketFlex, string(BucketFlex), want, filled)
		}
	}()

	a.fill(a.room(), a.isFavorite, BucketFlex, "flex (favorite)")

	own := make(map[string]ScoredExercise, len(a.req.Available))
	for _, ex := range a.req.Available {
		own[ex.ID] = ex
	}
	for _, gse := range a.req.Shared {
		if a.room() == 0 {
			return
		}
		ex, ok := own[gse.ID]
		if !ok || a.used.has(gse.ID) || !slices.Contains(gse.ClientsSharing, a.req.Client.ID) {
			continue
		}
		a.take(selection{exercise: ex, tiedCount: 1}, BucketFlex, "flex (shared)")
	}

	a.fill(a.room(), nil, BucketFlex, "flex")
}

// uniqueMuscles consolidates muscles and drops duplicates, keeping the first occurrence.
func uniqueMuscles(muscles []string) []string {
	seen := make(map[string]bool, len(muscles))
	out := make([]string, 0, len(muscles))
	for _, m := range muscles {
		c := ConsolidateMuscle(m)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

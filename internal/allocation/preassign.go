package allocation

import "math/rand/v2"

// ResolvePreAssignment selects the seed exercises of a client before bucketing.
//
// Explicitly requested exercises come first in scored order. Workout types with a balance rule then take the best
// upper and lower body exercise, preferring favorites and falling back to any candidate. Remaining slots up to the
// workout type's pre-assigned count are filled with the best favorites. Ties at the top score are broken with rng.
func ResolvePreAssignment(
	client ClientContext,
	scored []ScoredExercise,
	favoriteIDs []string,
	wt WorkoutType,
	catalog *Catalog,
	rng *rand.Rand,
) ([]PreAssignedExercise, error) {
	cfg, err := catalog.Lookup(wt)
	if err != nil {
		return nil, err
	}
	return resolvePreAssignment(client, scored, favoriteIDs, cfg, rng), nil
}

func resolvePreAssignment(
	client ClientContext,
	scored []ScoredExercise,
	favoriteIDs []string,
	cfg WorkoutTypeConfig,
	rng *rand.Rand,
) []PreAssignedExercise {
	var (
		assigned  []PreAssignedExercise
		used      = newExclusion()
		favorites = newExclusion(favoriteIDs...)
		limit     = cfg.PreAssignedCount
	)
	assign := func(sel selection, source Source) {
		assigned = append(assigned, PreAssignedExercise{
			Exercise:   sel.exercise,
			Source:     source,
			TiedCount:  sel.tiedCount,
			SharedWith: nil,
		})
		used.add(sel.exercise.ID)
	}
	isFavorite := func(ex ScoredExercise) bool { return favorites.has(ex.ID) }

	includes := make(map[string]bool, len(client.IncludeExercises))
	for _, name := range client.IncludeExercises {
		includes[normalize(name)] = true
	}
	for _, ex := range scored {
		if includes[normalize(ex.Name)] && !used.has(ex.ID) {
			assign(selection{exercise: ex, tiedCount: 1}, SourceInclude)
		}
	}

	if cfg.hasBalanceRule() {
		for _, category := range balanceCategories(cfg) {
			if len(assigned) >= limit || containsCategory(assigned, category) {
				continue
			}
			inCategory := func(ex ScoredExercise) bool { return BodyCategoryOf(ex.Exercise) == category }
			favorite := func(ex ScoredExercise) bool { return isFavorite(ex) && inCategory(ex) }
			if sel, ok := selectWithTieBreaking(used.filter(scored, favorite), rng); ok {
				assign(sel, SourceFavorite)
				continue
			}
			if sel, ok := selectWithTieBreaking(used.filter(scored, inCategory), rng); ok {
				assign(sel, SourceConstraint)
			}
		}
	}

	if n := limit - len(assigned); n > 0 {
		for _, sel := range selectTopN(used.filter(scored, isFavorite), n, rng) {
			assign(sel, SourceFavorite)
		}
	}
	return assigned
}

func balanceCategories(cfg WorkoutTypeConfig) []BodyCategory {
	var categories []BodyCategory
	if cfg.RequireUpper {
		categories = append(categories, BodyUpper)
	}
	if cfg.RequireLower {
		categories = append(categories, BodyLower)
	}
	return categories
}

func containsCategory(assigned []PreAssignedExercise, category BodyCategory) bool {
	for _, pa := range assigned {
		if BodyCategoryOf(pa.Exercise.Exercise) == category {
			return true
		}
	}
	return false
}

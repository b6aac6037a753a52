package allocation

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// sharedGroupMargin is how much higher the group score of a smaller group must be to win over a larger group.
const sharedGroupMargin = 1.0

// sharedPick is one exercise pre-assigned to a group of clients.
type sharedPick struct {
	exercise GroupScoredExercise
	// clients are in client ID order.
	clients   []string
	tiedCount int
}

// assignSharedOther pre-assigns shared exercises to the clients that are still short of their pre-assigned count.
// Every pick is the same exercise for all of its clients. Picks repeat until no two short clients agree on an
// exercise. Core and finisher exercises are left for the finisher step.
func assignSharedOther(runs []*clientRun, shared []GroupScoredExercise, rng *rand.Rand) []sharedPick {
	_, other := CategorizeShared(shared)
	var picks []sharedPick
	for {
		short := make(map[string]*clientRun)
		for _, run := range runs {
			if run.err == nil && len(run.preAssigned) < run.cfg.PreAssignedCount {
				short[run.client.ID] = run
			}
		}
		pick, ok := selectSharedOther(other, short, rng)
		if !ok {
			return picks
		}
		for _, id := range pick.clients {
			short[id].preAssignShared(pick, SourceSharedOther)
		}
		picks = append(picks, pick)
	}
}

// selectSharedOther picks the exercise done together by the largest group of short clients, ranked by group score.
// A smaller group only wins with a group score at least sharedGroupMargin higher.
func selectSharedOther(other []GroupScoredExercise, short map[string]*clientRun, rng *rand.Rand) (sharedPick, bool) {
	var candidates []sharedPick
	for _, gse := range other {
		var clients []string
		for _, id := range gse.ClientsSharing {
			if run, ok := short[id]; ok && run.acceptsSharedOther(gse.Exercise) {
				clients = append(clients, id)
			}
		}
		if len(clients) >= 2 { //nolint:mnd // shared means at least two clients.
			candidates = append(candidates, sharedPick{exercise: gse, clients: clients, tiedCount: 1})
		}
	}
	if len(candidates) == 0 {
		return sharedPick{}, false //nolint:exhaustruct // nothing to pick.
	}

	// The stable sort keeps the pool ranking among equal candidates.
	slices.SortStableFunc(candidates, func(a, b sharedPick) int {
		return cmp.Or(
			cmp.Compare(len(b.clients), len(a.clients)),
			cmp.Compare(b.exercise.GroupScore, a.exercise.GroupScore),
		)
	})
	best := candidates[0]
	for _, c := range candidates[1:] {
		if len(c.clients) < len(best.clients) && c.exercise.GroupScore >= best.exercise.GroupScore+sharedGroupMargin {
			best = c
		}
	}

	var tied []sharedPick
	for _, c := range candidates {
		if len(c.clients) == len(best.clients) && c.exercise.GroupScore == best.exercise.GroupScore {
			tied = append(tied, c)
		}
	}
	pick := tied[0]
	if len(tied) > 1 {
		pick = tied[rng.IntN(len(tied))]
	}
	pick.tiedCount = len(tied)
	return pick, true
}

// assignFinishers pre-assigns a core or capacity exercise to every client whose workout type has a finisher. Two or
// more finisher clients get the best core and finisher exercise all of them share. Without one, or for a single
// finisher client, each client takes its own best core or capacity exercise. The shared pick is returned.
func assignFinishers(runs []*clientRun, shared []GroupScoredExercise, rng *rand.Rand) (sharedPick, bool) {
	var (
		finishers []*clientRun
		clientIDs []string
	)
	for _, run := range runs {
		if run.err == nil && run.cfg.Finisher {
			finishers = append(finishers, run)
			clientIDs = append(clientIDs, run.client.ID)
		}
	}
	slices.Sort(clientIDs)

	if len(finishers) >= 2 { //nolint:mnd // shared means at least two clients.
		sharedByAll := func(gse GroupScoredExercise) bool {
			for _, run := range finishers {
				if _, ok := run.candidate(gse.ID); !ok || !slices.Contains(gse.ClientsSharing, run.client.ID) {
					return false
				}
			}
			return true
		}
		coreAndFinisher, _ := CategorizeShared(shared)
		byID := make(map[string]GroupScoredExercise, len(coreAndFinisher))
		var eligible []ScoredExercise
		for _, gse := range coreAndFinisher {
			if sharedByAll(gse) {
				byID[gse.ID] = gse
				eligible = append(eligible, gse.ScoredExercise)
			}
		}
		if sel, ok := selectWithTieBreaking(eligible, rng); ok {
			pick := sharedPick{exercise: byID[sel.exercise.ID], clients: clientIDs, tiedCount: sel.tiedCount}
			for _, run := range finishers {
				run.preAssignShared(pick, SourceSharedFinisher)
			}
			return pick, true
		}
	}

	for _, run := range finishers {
		own := newExclusion().filter(run.available, func(ex ScoredExercise) bool {
			return isCoreOrFinisher(ex.Exercise)
		})
		if sel, ok := selectWithTieBreaking(own, run.rng); ok {
			run.preAssigned = append(run.preAssigned, PreAssignedExercise{
				Exercise:   sel.exercise,
				Source:     SourceFinisher,
				TiedCount:  sel.tiedCount,
				SharedWith: nil,
			})
			run.available = without(run.available, sel.exercise.ID)
		}
	}
	return sharedPick{}, false //nolint:exhaustruct // nothing shared.
}

// acceptsSharedOther reports whether the exercise can join the client's pre-assigned exercises. It must still be a
// candidate and must not repeat the primary muscle of an exercise already pre-assigned. Targeted clients only take
// exercises for their target muscles.
func (run *clientRun) acceptsSharedOther(ex Exercise) bool {
	if _, ok := run.candidate(ex.ID); !ok {
		return false
	}
	muscle := ConsolidateMuscle(ex.PrimaryMuscle)
	if muscle == "" {
		return false
	}
	for _, pa := range run.preAssigned {
		if MatchesMuscle(pa.Exercise.PrimaryMuscle, muscle) {
			return false
		}
	}
	if run.cfg.Strategy == StrategyTargeted {
		return slices.Contains(uniqueMuscles(run.client.TargetMuscles), muscle)
	}
	return true
}

func (run *clientRun) candidate(id string) (ScoredExercise, bool) {
	i := slices.IndexFunc(run.available, func(ex ScoredExercise) bool { return ex.ID == id })
	if i < 0 {
		return ScoredExercise{}, false //nolint:exhaustruct // not a candidate.
	}
	return run.available[i], true
}

// preAssignShared moves the client's own scored copy of a shared exercise from its candidates to its pre-assigned
// exercises.
func (run *clientRun) preAssignShared(pick sharedPick, source Source) {
	ex, ok := run.candidate(pick.exercise.ID)
	if !ok {
		return
	}
	run.preAssigned = append(run.preAssigned, PreAssignedExercise{
		Exercise:   ex,
		Source:     source,
		TiedCount:  pick.tiedCount,
		SharedWith: slices.Clone(pick.clients),
	})
	run.available = without(run.available, ex.ID)
}

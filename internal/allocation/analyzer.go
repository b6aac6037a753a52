package allocation

// Status of a quota.
type Status string

const (
	StatusMet   Status = "met"
	StatusUnder Status = "under"
	StatusOver  Status = "over"
)

// PatternAnalysis compares the number of exercises of a movement pattern against its quota.
type PatternAnalysis struct {
	Pattern string `json:"pattern"`
	Current int    `json:"current"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Status  Status `json:"status"`
	Needed  int    `json:"needed"`
}

// RequirementAnalysis compares the number of exercises satisfying a functional requirement against its count.
type RequirementAnalysis struct {
	Name     string `json:"name"`
	Current  int    `json:"current"`
	Required int    `json:"required"`
	Status   Status `json:"status"`
	Needed   int    `json:"needed"`
}

// AnalysisSummary aggregates a [ConstraintAnalysis].
type AnalysisSummary struct {
	TotalExercises    int  `json:"total_exercises"`
	TotalNeeded       int  `json:"total_needed"`
	PatternsMet       int  `json:"patterns_met"`
	PatternsTotal     int  `json:"patterns_total"`
	RequirementsMet   int  `json:"requirements_met"`
	RequirementsTotal int  `json:"requirements_total"`
	AllConstraintsMet bool `json:"all_constraints_met"`
}

// ConstraintAnalysis reports which quotas of a workout type an exercise list satisfies. Entries follow catalog
// order.
type ConstraintAnalysis struct {
	MovementPatterns       []PatternAnalysis     `json:"movement_patterns"`
	FunctionalRequirements []RequirementAnalysis `json:"functional_requirements"`
	Summary                AnalysisSummary       `json:"summary"`
}

// Pattern returns the analysis of a movement pattern.
func (a ConstraintAnalysis) Pattern(pattern string) (PatternAnalysis, bool) {
	for _, p := range a.MovementPatterns {
		if p.Pattern == pattern {
			return p, true
		}
	}
	return PatternAnalysis{}, false //nolint:exhaustruct // not found.
}

// Requirement returns the analysis of a functional requirement.
func (a ConstraintAnalysis) Requirement(name string) (RequirementAnalysis, bool) {
	for _, r := range a.FunctionalRequirements {
		if r.Name == name {
			return r, true
		}
	}
	return RequirementAnalysis{}, false //nolint:exhaustruct // not found.
}

// Analyze counts movement patterns and functional requirements among exercises against the catalog entry of wt.
//
// An exercise counts towards the muscle target requirement when its primary or any secondary muscle matches one of
// the client's target muscles. Clients without target muscles have no muscle target requirement.
func Analyze(exercises []Exercise, client ClientContext, wt WorkoutType, catalog *Catalog) (ConstraintAnalysis, error) {
	cfg, err := catalog.Lookup(wt)
	if err != nil {
		return ConstraintAnalysis{}, err //nolint:exhaustruct // zero value on error.
	}
	return analyze(exercises, client, cfg), nil
}

func analyze(exercises []Exercise, client ClientContext, cfg WorkoutTypeConfig) ConstraintAnalysis {
	patternCounts := make(map[string]int)
	for _, ex := range exercises {
		if p := normalize(ex.MovementPattern); p != "" {
			patternCounts[p]++
		}
	}

	analysis := ConstraintAnalysis{
		MovementPatterns:       make([]PatternAnalysis, 0, len(cfg.MovementPatterns)),
		FunctionalRequirements: make([]RequirementAnalysis, 0, len(cfg.FunctionalRequirements)),
		Summary: AnalysisSummary{
			TotalExercises:    len(exercises),
			TotalNeeded:       cfg.TotalExercises,
			PatternsMet:       0,
			PatternsTotal:     0,
			RequirementsMet:   0,
			RequirementsTotal: 0,
			AllConstraintsMet: false,
		},
	}

	for _, q := range cfg.MovementPatterns {
		current := patternCounts[q.Pattern]
		status := StatusMet
		switch {
		case current < q.Min:
			status = StatusUnder
		case current > q.Max:
			status = StatusOver
		}
		analysis.MovementPatterns = append(analysis.MovementPatterns, PatternAnalysis{
			Pattern: q.Pattern,
			Current: current,
			Min:     q.Min,
			Max:     q.Max,
			Status:  status,
			Needed:  max(0, q.Min-current),
		})
		if status == StatusMet {
			analysis.Summary.PatternsMet++
		}
	}

	for _, q := range cfg.FunctionalRequirements {
		if q.Name == FunctionalMuscleTarget && len(client.TargetMuscles) == 0 {
			continue
		}
		current := countRequirement(exercises, q.Name, client.TargetMuscles)
		status := StatusMet
		if current < q.Count {
			status = StatusUnder
		}
		analysis.FunctionalRequirements = append(analysis.FunctionalRequirements, RequirementAnalysis{
			Name:     q.Name,
			Current:  current,
			Required: q.Count,
			Status:   status,
			Needed:   max(0, q.Count-current),
		})
		if status == StatusMet {
			analysis.Summary.RequirementsMet++
		}
	}

	analysis.Summary.PatternsTotal = len(analysis.MovementPatterns)
	analysis.Summary.RequirementsTotal = len(analysis.FunctionalRequirements)
	analysis.Summary.AllConstraintsMet = analysis.Summary.PatternsMet == analysis.Summary.PatternsTotal &&
		analysis.Summary.RequirementsMet == analysis.Summary.RequirementsTotal &&
		len(exercises) >= cfg.TotalExercises
	return analysis
}

func countRequirement(exercises []Exercise, requirement string, targets []string) int {
	n := 0
	for _, ex := range exercises {
		if requirement == FunctionalMuscleTarget {
			if targetsAnyMuscle(ex, targets) {
				n++
			}
			continue
		}
		if ex.HasTag(requirement) {
			n++
		}
	}
	return n
}

// RemainingNeeds lists the unmet quotas of an analysis, one entry per missing exercise.
type RemainingNeeds struct {
	MovementPatterns       []string `json:"movement_patterns"`
	FunctionalRequirements []string `json:"functional_requirements"`
	TotalExercises         int      `json:"total_exercises"`
}

// Remaining expands the shortfalls of the analysis.
func (a ConstraintAnalysis) Remaining() RemainingNeeds {
	var needs RemainingNeeds
	for _, p := range a.MovementPatterns {
		for range p.Needed {
			needs.MovementPatterns = append(needs.MovementPatterns, p.Pattern)
		}
	}
	for _, r := range a.FunctionalRequirements {
		for range r.Needed {
			needs.FunctionalRequirements = append(needs.FunctionalRequirements, r.Name)
		}
	}
	needs.TotalExercises = max(0, a.Summary.TotalNeeded-a.Summary.TotalExercises)
	return needs
}

func exercisesOf[T interface{ exercise() Exercise }](items []T) []Exercise {
	out := make([]Exercise, 0, len(items))
	for _, item := range items {
		out = append(out, item.exercise())
	}
	return out
}

func (s ScoredExercise) exercise() Exercise      { return s.Exercise }
func (p PreAssignedExercise) exercise() Exercise { return p.Exercise.Exercise }

package allocation

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/myrjola/groupworkout/internal/errors"
)

var (
	// ErrUnknownWorkoutType is returned when a workout type has no catalog entry.
	ErrUnknownWorkoutType = errors.NewSentinel("unknown workout type")
	// ErrInvalidCatalog is returned when catalog quotas contradict each other.
	ErrInvalidCatalog = errors.NewSentinel("invalid catalog")
)

//go:embed catalog.toml
var defaultCatalog string

// Strategy selects the bucketing policy of a workout type.
type Strategy string

const (
	// StrategyFullBody fills movement pattern, muscle target and functional buckets before flex.
	StrategyFullBody Strategy = "full_body"
	// StrategyTargeted round-robins the client's target muscles before a movement diversity fill.
	StrategyTargeted Strategy = "targeted"
)

// FunctionalMuscleTarget is the functional requirement counting exercises that hit a client's target muscles.
const FunctionalMuscleTarget = "muscle_target"

// Catalog defaults applied to entries that leave the values unset.
const (
	defaultTotalExercises   = 13
	defaultPreAssignedCount = 2
	defaultRoundRobinTarget = 10
)

// PatternQuota bounds how many exercises of a movement pattern a workout should contain.
type PatternQuota struct {
	Pattern string `toml:"pattern" json:"pattern"`
	Min     int    `toml:"min" json:"min"`
	Max     int    `toml:"max" json:"max"`
}

// FunctionalQuota requires Count exercises satisfying the named requirement, either a function tag such as
// "capacity" or [FunctionalMuscleTarget].
type FunctionalQuota struct {
	Name  string `toml:"name" json:"name"`
	Count int    `toml:"count" json:"count"`
}

// WorkoutTypeConfig is the catalog entry of one workout type. Quota order is the allocation order.
type WorkoutTypeConfig struct {
	Strategy               Strategy          `toml:"strategy" json:"strategy"`
	MovementPatterns       []PatternQuota    `toml:"movement_patterns" json:"movement_patterns"`
	FunctionalRequirements []FunctionalQuota `toml:"functional_requirements" json:"functional_requirements"`
	FlexSlots              int               `toml:"flex_slots" json:"flex_slots"`
	// TotalExercises caps the number of bucketed exercises, pre-assigned exercises excluded.
	TotalExercises   int  `toml:"total_exercises" json:"total_exercises"`
	PreAssignedCount int  `toml:"pre_assigned_count" json:"pre_assigned_count"`
	RequireUpper     bool `toml:"require_upper" json:"require_upper"`
	RequireLower     bool `toml:"require_lower" json:"require_lower"`
	// Finisher adds a core or capacity exercise to the pre-assigned ones, shared by the finisher clients of the
	// roster when possible.
	Finisher bool `toml:"finisher" json:"finisher"`
	// RoundRobinTarget and DiversityPatterns are used by the targeted strategy only.
	RoundRobinTarget  int      `toml:"round_robin_target" json:"round_robin_target"`
	DiversityPatterns []string `toml:"diversity_patterns" json:"diversity_patterns"`
}

func (c WorkoutTypeConfig) withDefaults() WorkoutTypeConfig {
	if c.Strategy == "" {
		c.Strategy = StrategyFullBody
	}
	if c.TotalExercises == 0 {
		c.TotalExercises = defaultTotalExercises
	}
	if c.PreAssignedCount == 0 {
		c.PreAssignedCount = defaultPreAssignedCount
	}
	if c.Strategy == StrategyTargeted && c.RoundRobinTarget == 0 {
		c.RoundRobinTarget = defaultRoundRobinTarget
	}
	c.MovementPatterns = slices.Clone(c.MovementPatterns)
	c.FunctionalRequirements = slices.Clone(c.FunctionalRequirements)
	c.DiversityPatterns = slices.Clone(c.DiversityPatterns)
	for i := range c.MovementPatterns {
		c.MovementPatterns[i].Pattern = normalize(c.MovementPatterns[i].Pattern)
	}
	for i := range c.DiversityPatterns {
		c.DiversityPatterns[i] = normalize(c.DiversityPatterns[i])
	}
	return c
}

func (c WorkoutTypeConfig) hasBalanceRule() bool {
	return c.RequireUpper || c.RequireLower
}

// expectedPreAssigned is the number of pre-assigned exercises a client of this workout type should end up with.
func (c WorkoutTypeConfig) expectedPreAssigned() int {
	if c.Finisher {
		return c.PreAssignedCount + 1
	}
	return c.PreAssignedCount
}

func (c WorkoutTypeConfig) validate() error {
	var errs []error
	switch c.Strategy {
	case StrategyFullBody, StrategyTargeted:
	default:
		errs = append(errs, fmt.Errorf("unsupported strategy %q", c.Strategy))
	}
	if c.TotalExercises < 0 || c.PreAssignedCount < 0 || c.FlexSlots < 0 || c.RoundRobinTarget < 0 {
		errs = append(errs, errors.New("negative slot count"))
	}
	seen := make(map[string]bool)
	for _, q := range c.MovementPatterns {
		if q.Pattern == "" {
			errs = append(errs, errors.New("movement pattern without name"))
		}
		if seen[q.Pattern] {
			errs = append(errs, fmt.Errorf("duplicate movement pattern %q", q.Pattern))
		}
		seen[q.Pattern] = true
		if q.Min < 0 || q.Max < q.Min {
			errs = append(errs, fmt.Errorf("movement pattern %q: min %d, max %d", q.Pattern, q.Min, q.Max))
		}
	}
	for _, q := range c.FunctionalRequirements {
		if q.Name == "" || q.Count < 0 {
			errs = append(errs, fmt.Errorf("functional requirement %q: count %d", q.Name, q.Count))
		}
	}
	return errors.Join(errs...)
}

// Catalog is the static per-workout-type constraint configuration. It is safe for concurrent use.
type Catalog struct {
	workoutTypes map[WorkoutType]WorkoutTypeConfig
}

// NewCatalog validates configs and builds a catalog from them.
func NewCatalog(configs map[WorkoutType]WorkoutTypeConfig) (*Catalog, error) {
	c := &Catalog{workoutTypes: make(map[WorkoutType]WorkoutTypeConfig, len(configs))}
	for wt, cfg := range configs {
		c.workoutTypes[wt] = cfg.withDefaults()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type catalogFile struct {
	WorkoutTypes map[string]WorkoutTypeConfig `toml:"workout_types"`
}

// LoadCatalog decodes a TOML catalog. Unknown keys are rejected so that typos do not silently drop quotas.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Wrap(ErrInvalidCatalog, "unknown keys", slog.String("keys", strings.Join(keys, ",")))
	}
	configs := make(map[WorkoutType]WorkoutTypeConfig, len(f.WorkoutTypes))
	for name, cfg := range f.WorkoutTypes {
		configs[WorkoutType(name)] = cfg
	}
	return NewCatalog(configs)
}

// LoadCatalogFile decodes the TOML catalog at path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog", slog.String("path", path))
	}
	defer f.Close()
	c, err := LoadCatalog(f)
	if err != nil {
		return nil, errors.Wrap(err, "load catalog", slog.String("path", path))
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(strings.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Lookup returns the configuration of wt or an error wrapping [ErrUnknownWorkoutType].
func (c *Catalog) Lookup(wt WorkoutType) (WorkoutTypeConfig, error) {
	cfg, ok := c.workoutTypes[wt]
	if !ok {
		//nolint:exhaustruct // zero value on error.
		return WorkoutTypeConfig{}, errors.Wrap(ErrUnknownWorkoutType, fmt.Sprintf("workout type %q", wt),
			slog.String("workout_type", string(wt)))
	}
	return cfg, nil
}

// WorkoutTypes lists the configured workout types in lexical order.
func (c *Catalog) WorkoutTypes() []WorkoutType {
	types := make([]WorkoutType, 0, len(c.workoutTypes))
	for wt := range c.workoutTypes {
		types = append(types, wt)
	}
	slices.Sort(types)
	return types
}

// Validate checks every entry and reports all problems at once.
func (c *Catalog) Validate() error {
	var errs []error
	for _, wt := range c.WorkoutTypes() {
		if err := c.workoutTypes[wt].validate(); err != nil {
			errs = append(errs, errors.Wrap(err, string(wt)))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(errs...))
	}
	return nil
}

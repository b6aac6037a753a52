package allocation

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/myrjola/groupworkout/internal/logging"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoScoredExercises is returned for a client missing from the scored exercise input.
	ErrNoScoredExercises = errors.NewSentinel("no scored exercises")
	// ErrDuplicateClient is returned for a client ID appearing more than once in the roster.
	ErrDuplicateClient = errors.NewSentinel("duplicate client")
)

// ClientError is the failure of a single client. Other clients of the roster are still allocated.
type ClientError struct {
	ClientID string
	Err      error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client %s: %v", e.ClientID, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Assembler runs allocation over a whole roster. It holds no state between runs and is safe for concurrent use.
type Assembler struct {
	catalog    *Catalog
	thresholds Thresholds
	seed       uint64
	logger     *slog.Logger
}

// NewAssembler creates an Assembler. Runs with the same seed and inputs produce the same [Blueprint].
func NewAssembler(catalog *Catalog, thresholds Thresholds, seed uint64, logger *slog.Logger) *Assembler {
	return &Assembler{
		catalog:    catalog,
		thresholds: thresholds,
		seed:       seed,
		logger:     logger,
	}
}

// Seed returns the seed the assembler derives its per-client random sources from.
func (a *Assembler) Seed() uint64 {
	return a.seed
}

// clientRun is the per-client state carried across the phases of a run.
type clientRun struct {
	client      ClientContext
	workoutType WorkoutType
	cfg         WorkoutTypeConfig
	rng         *rand.Rand
	preAssigned []PreAssignedExercise
	available   []ScoredExercise
	result      BucketingResult
	err         error
}

// Assemble allocates exercises for every client.
//
// Pre-assignment runs concurrently per client. The shared pool is then built from every client's remaining
// candidates. Shared exercises are pre-assigned across the roster before bucket allocation again runs concurrently
// per client. Failing clients are left out of the
// blueprint and listed in FailedClients. The returned error joins their [ClientError] values, and the blueprint
// is returned regardless so that the remaining clients can proceed.
func (a *Assembler) Assemble(
	ctx context.Context,
	clients []ClientContext,
	scored map[string][]ScoredExercise,
	template Template,
) (Blueprint, error) {
	start := time.Now()
	template = template.withDefaults()
	ctx = logging.WithTemplate(ctx, template.ID, a.seed)

	runs := make([]*clientRun, len(clients))
	seen := make(map[string]bool, len(clients))
	for i, client := range clients {
		run := &clientRun{
			client:      client,
			workoutType: client.WorkoutType,
			cfg:         WorkoutTypeConfig{}, //nolint:exhaustruct // resolved in pre-assignment.
			rng:         a.clientRand(client.ID),
			preAssigned: nil,
			available:   nil,
			result:      BucketingResult{}, //nolint:exhaustruct // filled in allocation.
			err:         nil,
		}
		if run.workoutType == "" {
			run.workoutType = template.DefaultWorkoutType
		}
		if seen[client.ID] {
			run.err = ErrDuplicateClient
		}
		seen[client.ID] = true
		runs[i] = run
	}

	if err := a.forEachClient(ctx, runs, func(ctx context.Context, run *clientRun) error {
		return a.preAssign(ctx, run, scored)
	}); err != nil {
		return Blueprint{}, err //nolint:exhaustruct // cancelled.
	}

	pools := make(map[string][]ScoredExercise, len(runs))
	for _, run := range runs {
		if run.err == nil {
			pools[run.client.ID] = run.available
		}
	}
	shared := BuildSharedPool(pools, a.thresholds)
	a.logger.LogAttrs(ctx, slog.LevelDebug, "built shared pool",
		slog.Int("clients", len(pools)), slog.Int("shared", len(shared)))
	a.assignShared(ctx, runs, shared)

	if err := a.forEachClient(ctx, runs, func(ctx context.Context, run *clientRun) error {
		return a.bucket(ctx, run, shared)
	}); err != nil {
		return Blueprint{}, err //nolint:exhaustruct // cancelled.
	}

	bp, err := a.blueprint(runs, shared, template)
	a.logger.LogAttrs(ctx, slog.LevelInfo, "assembled blueprint",
		slog.Int("clients", len(bp.ClientOrder)),
		slog.Int("failed", len(bp.FailedClients)),
		slog.Int("shared", len(bp.SharedExercisePool)),
		slog.Int("warnings", len(bp.ValidationWarnings)),
		slog.Duration("duration", time.Since(start)))
	return bp, err
}

// forEachClient runs fn concurrently for the clients that have not failed yet. A client's error or panic is
// stored on its run and does not cancel the others. Only cancellation of ctx is returned.
func (a *Assembler) forEachClient(
	ctx context.Context,
	runs []*clientRun,
	fn func(context.Context, *clientRun) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, run := range runs {
		if run.err != nil {
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					run.err = errors.DecoratePanic(r)
				}
			}()
			if err = gctx.Err(); err != nil {
				return err //nolint:wrapcheck // cancellation is returned as is.
			}
			run.err = fn(logging.WithClient(gctx, run.client.ID), run)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "allocate clients")
	}
	return nil
}

func (a *Assembler) preAssign(ctx context.Context, run *clientRun, scored map[string][]ScoredExercise) error {
	var err error
	if run.cfg, err = a.catalog.Lookup(run.workoutType); err != nil {
		return err
	}
	candidates, ok := scored[run.client.ID]
	if !ok {
		return ErrNoScoredExercises
	}
	run.preAssigned = resolvePreAssignment(run.client, candidates, run.client.FavoriteExerciseIDs, run.cfg, run.rng)

	used := newExclusion()
	for _, pa := range run.preAssigned {
		used.add(pa.Exercise.ID)
	}
	run.available = used.filter(candidates, nil)

	a.logger.LogAttrs(ctx, slog.LevelDebug, "pre-assigned exercises",
		slog.String("workout_type", string(run.workoutType)),
		slog.Int("pre_assigned", len(run.preAssigned)),
		slog.Int("available", len(run.available)))
	return nil
}

// assignShared pre-assigns the exercises clients do together. It runs between the parallel phases, so the picks
// are made once for the whole roster.
func (a *Assembler) assignShared(ctx context.Context, runs []*clientRun, shared []GroupScoredExercise) {
	rng := a.groupRand()
	for _, pick := range assignSharedOther(runs, shared, rng) {
		a.logger.LogAttrs(ctx, slog.LevelDebug, "pre-assigned shared exercise",
			slog.String("exercise_id", pick.exercise.ID),
			slog.Any("clients", pick.clients),
			slog.Int("tied_count", pick.tiedCount))
	}
	if pick, ok := assignFinishers(runs, shared, rng); ok {
		a.logger.LogAttrs(ctx, slog.LevelDebug, "pre-assigned shared finisher",
			slog.String("exercise_id", pick.exercise.ID),
			slog.Any("clients", pick.clients),
			slog.Int("tied_count", pick.tiedCount))
	}
}

func (a *Assembler) bucket(ctx context.Context, run *clientRun, shared []GroupScoredExercise) error {
	run.result = allocate(AllocationRequest{
		Available:   run.available,
		PreAssigned: run.preAssigned,
		Client:      run.client,
		WorkoutType: run.workoutType,
		FavoriteIDs: run.client.FavoriteExerciseIDs,
		Shared:      shared,
		Catalog:     a.catalog,
	}, run.cfg, run.rng)

	a.logger.LogAttrs(ctx, slog.LevelDebug, "bucketed exercises",
		slog.Int("bucketed", len(run.result.Exercises)),
		slog.Int("gaps", len(run.result.Gaps)))
	return nil
}

func (a *Assembler) blueprint(runs []*clientRun, shared []GroupScoredExercise, template Template) (Blueprint, error) {
	bp := Blueprint{
		TemplateID:         template.ID,
		ClientPools:        make(map[string]ClientExercisePool, len(runs)),
		ClientOrder:        make([]string, 0, len(runs)),
		SharedExercisePool: shared,
		ValidationWarnings: []string{},
		FailedClients:      nil,
	}
	var errs []error
	for _, run := range runs {
		id := run.client.ID
		if run.err != nil {
			errs = append(errs, &ClientError{ClientID: id, Err: run.err})
			if bp.FailedClients == nil {
				bp.FailedClients = make(map[string]string)
			}
			bp.FailedClients[id] = run.err.Error()
			bp.ValidationWarnings = append(bp.ValidationWarnings, fmt.Sprintf("Client %s: %v", id, run.err))
			continue
		}

		total := template.TotalExercisesPerClient
		pool := ClientExercisePool{
			ClientID:             id,
			WorkoutType:          run.workoutType,
			PreAssigned:          run.preAssigned,
			AvailableCandidates:  run.available,
			BucketedSelection:    run.result,
			TotalExercisesNeeded: total,
			AdditionalNeeded:     max(0, total-len(run.preAssigned)),
		}
		bp.ClientPools[id] = pool
		bp.ClientOrder = append(bp.ClientOrder, id)
		bp.ValidationWarnings = append(bp.ValidationWarnings, clientWarnings(pool, run.cfg)...)
	}
	if len(shared) == 0 {
		bp.ValidationWarnings = append(bp.ValidationWarnings,
			"No shared exercises found - all clients will have individual workouts")
	}
	return bp, errors.Join(errs...)
}

func clientWarnings(pool ClientExercisePool, cfg WorkoutTypeConfig) []string {
	var warnings []string
	if available := len(pool.PreAssigned) + len(pool.AvailableCandidates); available < pool.TotalExercisesNeeded {
		warnings = append(warnings, fmt.Sprintf("Client %s: Only %d exercises available (needs %d)",
			pool.ClientID, available, pool.TotalExercisesNeeded))
	}
	if n, expected := len(pool.PreAssigned), cfg.expectedPreAssigned(); n != expected {
		warnings = append(warnings, fmt.Sprintf("Client %s: %d pre-assigned exercises (expected %d)",
			pool.ClientID, n, expected))
	}
	for _, gap := range pool.BucketedSelection.Gaps {
		warnings = append(warnings, gapWarning(pool.ClientID, gap))
	}
	return warnings
}

func gapWarning(clientID string, gap Gap) string {
	var kind string
	switch gap.BucketType {
	case BucketMovementPattern:
		kind = "movement pattern"
	case BucketMuscleTarget:
		kind = "muscle target"
	case BucketFunctional:
		kind = "functional requirement"
	case BucketFlex:
		return fmt.Sprintf("Client %s: flex slots unfilled (%d/%d)", clientID, gap.Filled, gap.Required)
	case BucketMovementDiversity:
		return fmt.Sprintf("Client %s: movement diversity slots unfilled (%d/%d)", clientID, gap.Filled, gap.Required)
	}
	return fmt.Sprintf("Client %s: %s %q unmet (%d/%d)", clientID, kind, gap.Constraint, gap.Filled, gap.Required)
}

// groupStream selects the random stream of the roster level picks. Client streams are derived from ID hashes.
const groupStream = 0x67726f7570

// groupRand is the random source of the picks made once for the whole roster.
func (a *Assembler) groupRand() *rand.Rand {
	return rand.New(rand.NewPCG(a.seed, groupStream)) //nolint:gosec // tie-breaking does not need a secure source.
}

// clientRand derives an independent random source per client so that results do not depend on goroutine
// scheduling.
func (a *Assembler) clientRand(clientID string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(clientID))
	return rand.New(rand.NewPCG(a.seed, h.Sum64())) //nolint:gosec // tie-breaking does not need a secure source.
}

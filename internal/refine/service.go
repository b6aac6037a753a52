package refine

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/myrjola/groupworkout/internal/logging"
	"github.com/myrjola/groupworkout/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single client refinement.
const DefaultTimeout = 30 * time.Second

// Service refines every client of a blueprint.
type Service struct {
	refiner Refiner
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Manager

	onTimeout func(ctx context.Context)
}

// NewService creates a Service. A nil refiner selects the fallback for every client and a nil metrics manager
// disables metrics.
func NewService(refiner Refiner, timeout time.Duration, logger *slog.Logger, m *metrics.Manager) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		refiner:   refiner,
		timeout:   timeout,
		logger:    logger,
		metrics:   m,
		onTimeout: nil,
	}
}

// OnTimeout registers fn to be called whenever a client refinement exceeds the per-client timeout. It must be
// called before RefineAll and fn must be safe for concurrent use.
func (s *Service) OnTimeout(fn func(ctx context.Context)) {
	s.onTimeout = fn
}

// RefineAll selects the final exercises of every allocated client in blueprint order.
//
// Clients are refined concurrently. A refiner error, timeout, or invalid answer only affects its own client, which
// gets [FallbackSelection] instead. The returned error is non-nil only when ctx is done.
func (s *Service) RefineAll(
	ctx context.Context,
	bp allocation.Blueprint,
	clients []allocation.ClientContext,
) ([]Selection, error) {
	byID := make(map[string]allocation.ClientContext, len(clients))
	for _, c := range clients {
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = c
		}
	}

	selections := make([]Selection, len(bp.ClientOrder))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, id := range bp.ClientOrder {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err //nolint:wrapcheck // cancellation is returned as is.
			}
			selections[i] = s.refineClient(logging.WithClient(gctx, id), Request{
				Client: byID[id],
				Pool:   bp.ClientPools[id],
				Shared: bp.SharedExercisePool,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "refine clients")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "refine clients")
	}
	return selections, nil
}

func (s *Service) refineClient(ctx context.Context, req Request) Selection {
	start := time.Now()
	sel := Selection{
		ClientID:    req.Pool.ClientID,
		ExerciseIDs: nil,
		Source:      SourceLLM,
		Reason:      "",
	}

	ids, err := s.refine(ctx, req)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, errNoRefiner) {
			level = slog.LevelDebug
		}
		s.logger.LogAttrs(ctx, level, "using fallback selection", errors.SlogError(err))
		if s.onTimeout != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.onTimeout(ctx)
		}
		sel.Source = SourceFallback
		sel.Reason = err.Error()
		ids = FallbackSelection(req.Pool)
	}
	sel.ExerciseIDs = ids
	s.metrics.ObserveRefinement(string(sel.Source), time.Since(start))
	return sel
}

var errNoRefiner = errors.NewSentinel("no refiner configured")

func (s *Service) refine(ctx context.Context, req Request) (_ []string, err error) {
	if s.refiner == nil {
		return nil, errNoRefiner
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.DecoratePanic(r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ids, err := s.refiner.Refine(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "refine")
	}
	if err = validateSelection(req.Pool, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

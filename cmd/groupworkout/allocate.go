package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/myrjola/groupworkout/internal/flightrecorder"
	"github.com/myrjola/groupworkout/internal/refine"
	"github.com/myrjola/groupworkout/internal/runstore"
	"github.com/spf13/cobra"
)

// roster is the input of the allocate command.
type roster struct {
	Template        *allocation.Template                    `json:"template"`
	Clients         []allocation.ClientContext              `json:"clients"`
	ScoredExercises map[string][]allocation.ScoredExercise `json:"scored_exercises"`
}

// allocationOutput is printed by the allocate command.
type allocationOutput struct {
	RunID      int64                `json:"run_id,omitempty"`
	Seed       uint64               `json:"seed"`
	Blueprint  allocation.Blueprint `json:"blueprint"`
	Selections []refine.Selection   `json:"selections"`
}

func (app *application) allocateCommand() *cobra.Command {
	var (
		seed   uint64
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "allocate <roster.json>",
		Short: "Allocate exercises for a roster and store the run",
		Long: `Allocate exercises for every client of the roster file, or stdin when the file is "-".

The roster is a JSON object with the session template, the client contexts, and the scored
exercises of every client keyed by client ID. Clients that cannot be allocated are reported
in the blueprint and do not fail the command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("seed") {
				seed = app.cfg.Seed
			}
			r, err := app.readRoster(args[0])
			if err != nil {
				return err
			}
			out, err := app.allocate(cmd.Context(), r, seed, dryRun)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for tie-breaking (default $GROUPWORKOUT_SEED)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the allocation without storing it")
	return cmd
}

func (app *application) readRoster(path string) (roster, error) {
	var in io.Reader = app.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return roster{}, errors.Wrap(err, "open roster", slog.String("path", path))
		}
		defer f.Close()
		in = f
	}

	var r roster
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return roster{}, errors.Wrap(err, "decode roster", slog.String("path", path))
	}
	if len(r.Clients) == 0 {
		return roster{}, errors.New("roster has no clients", slog.String("path", path))
	}
	return r, nil
}

func (app *application) allocate(ctx context.Context, r roster, seed uint64, dryRun bool) (allocationOutput, error) {
	catalog, err := app.loadCatalog()
	if err != nil {
		return allocationOutput{}, err
	}
	template := allocation.DefaultTemplate()
	if r.Template != nil {
		template = *r.Template
	}
	thresholds := allocation.Thresholds{
		MinScore:             app.cfg.SharedMinScore,
		CoreFinisherMinScore: app.cfg.SharedCoreMinScore,
	}

	recorder, stopRecorder, err := app.startRecorder(ctx)
	if err != nil {
		return allocationOutput{}, err
	}
	defer stopRecorder()

	start := time.Now()
	assembler := allocation.NewAssembler(catalog, thresholds, seed, app.logger)
	bp, err := assembler.Assemble(ctx, r.Clients, r.ScoredExercises, template)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return allocationOutput{}, errors.Wrap(ctxErr, "assemble")
	}
	duration := time.Since(start)
	app.metrics.ObserveBlueprint(bp, err, duration)
	if duration > app.cfg.SlowAssemblyThreshold {
		recorder.Capture(ctx, flightrecorder.ReasonSlowAssembly)
	}
	if err != nil {
		var clientErr *allocation.ClientError
		for _, e := range unjoin(err) {
			if errors.As(e, &clientErr) {
				app.logger.LogAttrs(ctx, slog.LevelWarn, "client not allocated",
					slog.String("client_id", clientErr.ClientID), errors.SlogError(clientErr.Err))
			}
		}
	}
	for _, warning := range bp.ValidationWarnings {
		app.logger.LogAttrs(ctx, slog.LevelInfo, "validation warning", slog.String("warning", warning))
	}

	service := refine.NewService(app.newRefiner(), app.cfg.RefineTimeout, app.logger, app.metrics)
	service.OnTimeout(func(ctx context.Context) {
		recorder.Capture(ctx, flightrecorder.ReasonRefineTimeout)
	})
	selections, err := service.RefineAll(ctx, bp, r.Clients)
	if err != nil {
		return allocationOutput{}, errors.Wrap(err, "refine")
	}

	out := allocationOutput{
		RunID:      0,
		Seed:       seed,
		Blueprint:  bp,
		Selections: selections,
	}
	if dryRun {
		return out, nil
	}
	if out.RunID, err = app.saveRun(ctx, runstore.Run{
		ID:         0,
		CreatedAt:  time.Time{},
		Seed:       seed,
		Blueprint:  bp,
		Selections: selections,
	}); err != nil {
		return allocationOutput{}, err
	}
	app.logger.LogAttrs(ctx, slog.LevelInfo, "stored allocation run", slog.Int64("run_id", out.RunID))
	return out, nil
}

func (app *application) saveRun(ctx context.Context, run runstore.Run) (_ int64, err error) {
	store, closeStore, err := app.openStore(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, closeStore())
	}()
	id, err := store.Save(ctx, run)
	if err != nil {
		return 0, errors.Wrap(err, "save run")
	}
	return id, nil
}

// unjoin flattens an error created with errors.Join.
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok { //nolint:errorlint // only the top level is joined.
		return joined.Unwrap()
	}
	return []error{err}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode output")
	}
	return nil
}
